package scanner

import (
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/polyarb/internal/domain"
)

// Registration links a binary market to an oracle threshold condition.
type Registration struct {
	MarketID  string
	Symbol    string
	Threshold decimal.Decimal
	Direction domain.Direction
}

// state is the scanner's latest-snapshot view of the world. No history is kept.
type state struct {
	markets map[string]domain.Market
	multi   map[string]domain.MultiOutcomeMarket
	oracles map[string]domain.OracleData

	bySymbol map[string][]Registration // oracle symbol -> registrations
	byMarket map[string][]Registration // market id -> registrations

	events      map[string][]string // event id -> market ids
	marketEvent map[string]string   // market id -> event id
}

func newState() *state {
	return &state{
		markets:     make(map[string]domain.Market),
		multi:       make(map[string]domain.MultiOutcomeMarket),
		oracles:     make(map[string]domain.OracleData),
		bySymbol:    make(map[string][]Registration),
		byMarket:    make(map[string][]Registration),
		events:      make(map[string][]string),
		marketEvent: make(map[string]string),
	}
}

func (s *state) register(r Registration) {
	for _, existing := range s.byMarket[r.MarketID] {
		if existing.Symbol == r.Symbol && existing.Threshold.Equal(r.Threshold) && existing.Direction == r.Direction {
			return
		}
	}
	s.bySymbol[r.Symbol] = append(s.bySymbol[r.Symbol], r)
	s.byMarket[r.MarketID] = append(s.byMarket[r.MarketID], r)
}

// linkEvent groups marketID under eventID. A market belongs to one event.
func (s *state) linkEvent(eventID, marketID string) {
	if eventID == "" {
		return
	}
	if prev, ok := s.marketEvent[marketID]; ok {
		if prev == eventID {
			return
		}
		ids := s.events[prev]
		for i, id := range ids {
			if id == marketID {
				s.events[prev] = append(ids[:i:i], ids[i+1:]...)
				break
			}
		}
	}
	s.marketEvent[marketID] = eventID
	s.events[eventID] = append(s.events[eventID], marketID)
}

func (s *state) eventMarkets(eventID string) []domain.Market {
	ids := s.events[eventID]
	out := make([]domain.Market, 0, len(ids))
	for _, id := range ids {
		if m, ok := s.markets[id]; ok {
			out = append(out, m)
		}
	}
	return out
}

func (s *state) registrations() int {
	n := 0
	for _, rs := range s.byMarket {
		n += len(rs)
	}
	return n
}
