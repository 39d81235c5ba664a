package scanner

import (
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/polyarb/internal/domain"
)

// FairPriceFunc maps a signed distance from an oracle threshold (positive when
// the market's condition is satisfied) to a fair YES price. The curve is a
// heuristic and may be replaced through Config.FairPrice.
type FairPriceFunc func(distance decimal.Decimal) decimal.Decimal

// LinearFairPrice saturates at high/low once |distance| reaches buffer and
// interpolates linearly through 0.5 at the threshold.
func LinearFairPrice(buffer, high, low decimal.Decimal) FairPriceFunc {
	return func(distance decimal.Decimal) decimal.Decimal {
		switch {
		case distance.GreaterThanOrEqual(buffer):
			return high
		case distance.LessThanOrEqual(buffer.Neg()):
			return low
		case distance.IsNegative():
			return half.Sub(half.Sub(low).Mul(distance.Abs()).Div(buffer))
		default:
			return half.Add(high.Sub(half).Mul(distance).Div(buffer))
		}
	}
}

// ThresholdDistance returns the relative distance of value past threshold in
// the direction the market asks about: (v-t)/t for above, (t-v)/t for below.
func ThresholdDistance(value, threshold decimal.Decimal, dir domain.Direction) (decimal.Decimal, bool) {
	if threshold.IsZero() {
		return decimal.Zero, false
	}
	diff := value.Sub(threshold)
	if dir == domain.DirectionBelow {
		diff = diff.Neg()
	}
	return diff.DivRound(threshold.Abs(), 8), true
}

// detectOracleLag compares a registered market against its oracle. Callers
// hold mu.
func (s *Scanner) detectOracleLag(r Registration) *candidate {
	m, ok := s.st.markets[r.MarketID]
	if !ok {
		return nil
	}
	o, ok := s.st.oracles[r.Symbol]
	if !ok {
		return nil
	}
	if reason := s.priceFilter(m); reason != "" {
		s.suppress(reason, m.ID)
		return nil
	}
	distance, ok := ThresholdDistance(o.Value, r.Threshold, r.Direction)
	if !ok {
		return nil
	}

	fair := s.cfg.FairPrice(distance)
	side := domain.OutcomeYes
	current := m.YesPrice
	gross := fair.Sub(current)
	if !gross.IsPositive() {
		side = domain.OutcomeNo
		current = m.NoPrice
		if current.IsZero() {
			current = one.Sub(m.YesPrice)
		}
		gross = one.Sub(fair).Sub(current)
	}
	if !gross.IsPositive() {
		return nil
	}

	fee := FeeRate(m, current)
	net := gross.Sub(fee)
	if net.LessThan(s.cfg.MinEdge) {
		s.suppress(reasonBelowMinEdge, m.ID)
		return nil
	}
	if net.GreaterThan(s.cfg.MaxCredibleEdge) {
		s.suppress(reasonIncredible, m.ID)
		return nil
	}

	value := o.Value
	return &candidate{
		key: m.ID,
		opp: domain.Opportunity{
			Type:           domain.OppOracleLag,
			Markets:        []domain.Market{m},
			OracleSource:   o.Source,
			OracleValue:    &value,
			ExpectedEdge:   net,
			SignalStrength: strength(distance, 10),
			Metadata: domain.OracleLagMetadata{
				Symbol:       r.Symbol,
				Threshold:    r.Threshold,
				Direction:    r.Direction,
				OracleValue:  o.Value,
				Distance:     distance,
				FairPrice:    fair,
				CurrentPrice: current,
				Side:         side,
				GrossEdge:    gross,
				FeeRate:      fee,
			},
		},
	}
}
