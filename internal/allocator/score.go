package allocator

import (
	"sort"

	"github.com/shopspring/decimal"
)

var (
	one        = decimal.NewFromInt(1)
	hundred    = decimal.NewFromInt(100)
	floorScore = decimal.RequireFromString("0.1")
	winBonus   = decimal.RequireFromString("0.5")
)

// Performance is the running record of one strategy's filled trades.
type Performance struct {
	TotalPnL    decimal.Decimal `json:"total_pnl"`
	Trades      int             `json:"trades"`
	Wins        int             `json:"wins"`
	Losses      int             `json:"losses"`
	LargestWin  decimal.Decimal `json:"largest_win"`
	LargestLoss decimal.Decimal `json:"largest_loss"`
}

// Record adds one filled trade's P&L.
func (p *Performance) Record(pnl decimal.Decimal) {
	p.Trades++
	p.TotalPnL = p.TotalPnL.Add(pnl)
	switch {
	case pnl.IsPositive():
		p.Wins++
		if pnl.GreaterThan(p.LargestWin) {
			p.LargestWin = pnl
		}
	case pnl.IsNegative():
		p.Losses++
		if pnl.LessThan(p.LargestLoss) {
			p.LargestLoss = pnl
		}
	}
}

// WinRate is wins / trades, zero without trades.
func (p Performance) WinRate() decimal.Decimal {
	if p.Trades == 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(int64(p.Wins)).Div(decimal.NewFromInt(int64(p.Trades)))
}

// Score is max(0.1, max(0, pnl/100 + 1) + win_rate * 0.5). Strategies without
// trades score the 0.1 floor so they still receive capital.
func Score(p Performance) decimal.Decimal {
	if p.Trades == 0 {
		return floorScore
	}
	pnlScore := decimal.Max(decimal.Zero, p.TotalPnL.Div(hundred).Add(one))
	return decimal.Max(floorScore, pnlScore.Add(p.WinRate().Mul(winBonus)))
}

// Allocate splits capital proportionally to scores, clamps each share to
// [minPct, maxPct] and renormalizes so shares sum to exactly 1. Non-positive
// totals fall back to an equal split.
func Allocate(scores map[string]decimal.Decimal, minPct, maxPct decimal.Decimal) map[string]decimal.Decimal {
	names := make([]string, 0, len(scores))
	total := decimal.Zero
	for name, s := range scores {
		names = append(names, name)
		if s.IsPositive() {
			total = total.Add(s)
		}
	}
	sort.Strings(names)
	out := make(map[string]decimal.Decimal, len(names))
	if len(names) == 0 {
		return out
	}
	if !total.IsPositive() {
		for _, n := range names {
			out[n] = one
		}
		return normalize(names, out, decimal.NewFromInt(int64(len(names))))
	}

	clampedSum := decimal.Zero
	for _, n := range names {
		share := decimal.Max(decimal.Zero, scores[n]).Div(total)
		if minPct.IsPositive() && share.LessThan(minPct) {
			share = minPct
		}
		if maxPct.IsPositive() && share.GreaterThan(maxPct) {
			share = maxPct
		}
		out[n] = share
		clampedSum = clampedSum.Add(share)
	}
	return normalize(names, out, clampedSum)
}

// shareDigits is the precision of allocation shares.
const shareDigits = 16

// normalize divides every weight by sum. All shares but the last are
// truncated and the last takes the remainder, so the shares sum to exactly 1.
func normalize(names []string, weights map[string]decimal.Decimal, sum decimal.Decimal) map[string]decimal.Decimal {
	rest := one
	for i, n := range names {
		if i == len(names)-1 {
			weights[n] = rest
			break
		}
		share := weights[n].DivRound(sum, shareDigits+2).Truncate(shareDigits)
		weights[n] = share
		rest = rest.Sub(share)
	}
	return weights
}
