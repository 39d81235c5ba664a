package scanner

import "github.com/alanyoungcy/polyarb/internal/domain"

// detectMispricing checks yes + no < 1 on a binary market. Callers hold mu.
func (s *Scanner) detectMispricing(m domain.Market) *candidate {
	if reason := s.priceFilter(m); reason != "" {
		s.suppress(reason, m.ID)
		return nil
	}
	sum := m.PriceSum()
	edge := one.Sub(sum)
	if !edge.IsPositive() {
		return nil
	}
	if edge.LessThan(s.cfg.MinEdge) {
		s.suppress(reasonBelowMinEdge, m.ID)
		return nil
	}
	return &candidate{
		key: m.ID,
		opp: domain.Opportunity{
			Type:           domain.OppMispricing,
			Markets:        []domain.Market{m},
			ExpectedEdge:   edge,
			SignalStrength: strength(edge, 5),
			Metadata: domain.MispricingMetadata{
				Kind:     "binary",
				YesPrice: m.YesPrice,
				NoPrice:  m.NoPrice,
				PriceSum: sum,
			},
		},
	}
}

// detectMultiOutcome checks sum(prices) < 1 over N outcomes. Callers hold mu.
func (s *Scanner) detectMultiOutcome(m domain.MultiOutcomeMarket) *candidate {
	if len(m.Outcomes) < 2 {
		return nil
	}
	allStale := true
	for _, o := range m.Outcomes {
		if outOfRange(o.Price) {
			s.suppress(reasonInvalidPrice, m.ID)
			return nil
		}
		if o.Price.GreaterThanOrEqual(one.Sub(s.cfg.ResolvedBand)) {
			s.suppress(reasonResolved, m.ID)
			return nil
		}
		if o.Price.GreaterThanOrEqual(s.cfg.StalePriceThreshold) {
			allStale = false
		}
	}
	if allStale {
		s.suppress(reasonStale, m.ID)
		return nil
	}
	if s.cfg.MaxSnapshotAge > 0 && !m.LastUpdated.IsZero() && s.now().Sub(m.LastUpdated) > s.cfg.MaxSnapshotAge {
		s.suppress(reasonStaleSnapshot, m.ID)
		return nil
	}

	edge := m.ArbitrageEdge()
	if !edge.IsPositive() {
		return nil
	}
	if edge.LessThan(s.cfg.MinEdge) {
		s.suppress(reasonBelowMinEdge, m.ID)
		return nil
	}
	outcomes := make([]domain.Outcome, len(m.Outcomes))
	copy(outcomes, m.Outcomes)
	return &candidate{
		key: m.ID,
		opp: domain.Opportunity{
			Type: domain.OppMispricing,
			Markets: []domain.Market{{
				ID:          m.ID,
				Venue:       m.Venue,
				Title:       m.Title,
				LastUpdated: m.LastUpdated,
			}},
			ExpectedEdge:   edge,
			SignalStrength: strength(edge, 5),
			Metadata: domain.MispricingMetadata{
				Kind:     "multi_outcome",
				Outcomes: outcomes,
				PriceSum: m.PriceSum(),
			},
		},
	}
}

