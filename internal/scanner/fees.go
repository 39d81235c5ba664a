package scanner

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/polyarb/internal/domain"
)

var (
	one  = decimal.NewFromInt(1)
	half = decimal.NewFromFloat(0.5)

	kalshiFeeNumerator = decimal.RequireFromString("0.02")
	cryptoTakerFeeRate = decimal.RequireFromString("0.0312")
)

var cryptoKeywords = []string{
	"bitcoin", "btc", "ethereum", "eth", "solana", "sol", "xrp", "dogecoin", "doge", "crypto",
}

var (
	fifteenMinPattern = regexp.MustCompile(`(?i)\b15[\s-]?(m|min|mins|minute|minutes)\b`)
	timeRangePattern  = regexp.MustCompile(`(?i)(\d{1,2}):(\d{2})\s*(am|pm)?\s*[-–]\s*(\d{1,2}):(\d{2})\s*(am|pm)?`)
	wordPattern       = regexp.MustCompile(`[a-z]+`)
)

// FeeRate returns the taker fee rate charged when buying at price on market.
// Kalshi charges 0.02/price on every market, 15-minute crypto markets charge
// 0.0312*(0.5-|price-0.5|) and everything else is fee-free.
func FeeRate(m domain.Market, price decimal.Decimal) decimal.Decimal {
	if m.VenueOf() == domain.VenueKalshi {
		return KalshiFee(price)
	}
	if IsFifteenMinuteCrypto(m.Title) {
		return CryptoFee(price)
	}
	return decimal.Zero
}

// KalshiFee approximates the Kalshi fee as 0.02/price for 0 < price < 1.
func KalshiFee(price decimal.Decimal) decimal.Decimal {
	if !price.IsPositive() || price.GreaterThanOrEqual(one) {
		return decimal.Zero
	}
	return kalshiFeeNumerator.DivRound(price, 8)
}

// CryptoFee is the 15-minute crypto taker fee, maximal at 0.5 and zero at the
// extremes.
func CryptoFee(price decimal.Decimal) decimal.Decimal {
	if price.IsNegative() || price.GreaterThan(one) {
		return decimal.Zero
	}
	return cryptoTakerFeeRate.Mul(half.Sub(price.Sub(half).Abs()))
}

// IsFifteenMinuteCrypto matches a crypto keyword plus a 15 minute duration,
// either spelled out or as a clock range ("3:00PM-3:15PM").
func IsFifteenMinuteCrypto(title string) bool {
	if !hasCryptoKeyword(title) {
		return false
	}
	if fifteenMinPattern.MatchString(title) {
		return true
	}
	m := timeRangePattern.FindStringSubmatch(title)
	if m == nil {
		return false
	}
	start, ok1 := clockMinutes(m[1], m[2], m[3])
	end, ok2 := clockMinutes(m[4], m[5], firstNonEmpty(m[6], m[3]))
	if !ok1 || !ok2 {
		return false
	}
	diff := end - start
	if diff < 0 {
		diff += 24 * 60
	}
	return diff == 15
}

func hasCryptoKeyword(title string) bool {
	for _, w := range wordPattern.FindAllString(strings.ToLower(title), -1) {
		for _, k := range cryptoKeywords {
			if w == k {
				return true
			}
		}
	}
	return false
}

func clockMinutes(h, m, meridiem string) (int, bool) {
	hour, err := strconv.Atoi(h)
	if err != nil || hour > 23 {
		return 0, false
	}
	minute, err := strconv.Atoi(m)
	if err != nil || minute > 59 {
		return 0, false
	}
	switch strings.ToLower(meridiem) {
	case "am":
		if hour == 12 {
			hour = 0
		}
	case "pm":
		if hour < 12 {
			hour += 12
		}
	}
	return hour*60 + minute, true
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}
