package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Well-known venue identifiers. Venue strings are the prefix of every market ID.
const (
	VenuePolymarket = "polymarket"
	VenueKalshi     = "kalshi"
)

// Market is the latest price snapshot of a binary prediction market. Prices are
// probabilities in [0,1] but are not validated here; detection code filters
// out-of-range values itself.
type Market struct {
	ID          string          `json:"id"` // "{venue}:{external_id}"
	Venue       string          `json:"venue"`
	Title       string          `json:"title"`
	YesPrice    decimal.Decimal `json:"yes_price"`
	NoPrice     decimal.Decimal `json:"no_price"`
	Volume24h   decimal.Decimal `json:"volume_24h"`
	Liquidity   decimal.Decimal `json:"liquidity"`
	EventID     string          `json:"event_id,omitempty"` // cross-platform grouping key
	LastUpdated time.Time       `json:"last_updated"`
}

// MarketID builds the canonical "{venue}:{external_id}" identifier.
func MarketID(venue, externalID string) string {
	return venue + ":" + externalID
}

// SplitMarketID splits a market ID on its first colon. A malformed ID yields an
// empty venue and the whole string as the external ID.
func SplitMarketID(id string) (venue, externalID string) {
	venue, externalID, ok := strings.Cut(id, ":")
	if !ok {
		return "", id
	}
	return venue, externalID
}

// VenueOf returns the venue recorded on the market, falling back to the ID prefix.
func (m Market) VenueOf() string {
	if m.Venue != "" {
		return m.Venue
	}
	v, _ := SplitMarketID(m.ID)
	return v
}

// PriceSum returns yes + no.
func (m Market) PriceSum() decimal.Decimal {
	return m.YesPrice.Add(m.NoPrice)
}

// Outcome is one leg of a multi-outcome market.
type Outcome struct {
	Name  string          `json:"name"`
	Price decimal.Decimal `json:"price"`
}

// MultiOutcomeMarket is a market with N mutually exclusive outcomes.
type MultiOutcomeMarket struct {
	ID          string    `json:"id"`
	Venue       string    `json:"venue"`
	Title       string    `json:"title"`
	Outcomes    []Outcome `json:"outcomes"`
	LastUpdated time.Time `json:"last_updated"`
}

// PriceSum returns the sum of all outcome prices. Addition is exact, so the
// result does not depend on outcome order.
func (m MultiOutcomeMarket) PriceSum() decimal.Decimal {
	sum := decimal.Zero
	for _, o := range m.Outcomes {
		sum = sum.Add(o.Price)
	}
	return sum
}

// ArbitrageEdge returns max(0, 1 - PriceSum()).
func (m MultiOutcomeMarket) ArbitrageEdge() decimal.Decimal {
	edge := decimal.NewFromInt(1).Sub(m.PriceSum())
	if edge.IsNegative() {
		return decimal.Zero
	}
	return edge
}

// OracleData is a single real-world measurement (price, rate, temperature).
type OracleData struct {
	Source    string            `json:"source"`
	Symbol    string            `json:"symbol"`
	Value     decimal.Decimal   `json:"value"`
	Timestamp time.Time         `json:"timestamp"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}
