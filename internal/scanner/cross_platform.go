package scanner

import (
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/polyarb/internal/domain"
)

// detectCrossPlatform compares YES prices of one event across venues and
// proposes the venue pair with the best edge net of the buy leg's fee.
// Callers hold mu.
func (s *Scanner) detectCrossPlatform(eventID string) *candidate {
	var usable []domain.Market
	for _, m := range s.st.eventMarkets(eventID) {
		if s.priceFilter(m) == "" {
			usable = append(usable, m)
		}
	}
	if len(usable) < 2 {
		return nil
	}

	var buy, sell domain.Market
	var gross, fee, net decimal.Decimal
	found := false
	for i := range usable {
		for j := range usable {
			lo, hi := usable[i], usable[j]
			if lo.Venue == hi.Venue || !hi.YesPrice.GreaterThan(lo.YesPrice) {
				continue
			}
			g := hi.YesPrice.Sub(lo.YesPrice)
			f := FeeRate(lo, lo.YesPrice)
			if n := g.Sub(f); !found || n.GreaterThan(net) {
				buy, sell, gross, fee, net, found = lo, hi, g, f, n, true
			}
		}
	}
	if !found {
		return nil
	}

	if net.LessThan(s.cfg.MinEdge) {
		s.suppress(reasonBelowMinEdge, buy.ID)
		return nil
	}
	return &candidate{
		key: buy.ID,
		opp: domain.Opportunity{
			Type:           domain.OppCrossPlatform,
			Markets:        []domain.Market{buy, sell},
			ExpectedEdge:   net,
			SignalStrength: strength(net, 5),
			Metadata: domain.CrossPlatformMetadata{
				EventID:      eventID,
				BuyVenue:     buy.Venue,
				BuyMarketID:  buy.ID,
				BuyPrice:     buy.YesPrice,
				SellVenue:    sell.Venue,
				SellMarketID: sell.ID,
				SellPrice:    sell.YesPrice,
				GrossEdge:    gross,
				FeeRate:      fee,
			},
		},
	}
}
