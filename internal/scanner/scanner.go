// Package scanner detects arbitrage opportunities from venue price and oracle
// updates and publishes them to opportunities.detected.
package scanner

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/polyarb/internal/agent"
	"github.com/alanyoungcy/polyarb/internal/bus"
	"github.com/alanyoungcy/polyarb/internal/domain"
	"github.com/alanyoungcy/polyarb/internal/metrics"
)

// Suppression reasons. Counted and logged at debug, never treated as errors.
const (
	reasonInvalidPrice  = "invalid_price"
	reasonStale         = "stale"
	reasonStaleSnapshot = "stale_snapshot"
	reasonResolved      = "resolved"
	reasonBelowMinEdge  = "below_min_edge"
	reasonIncredible    = "incredible_edge"
	reasonWeakSignal    = "weak_signal"
	reasonCooldown      = "cooldown"
	reasonHalted        = "halted"
)

// Config tunes detection.
type Config struct {
	Loop   agent.Config
	Topics []string

	MinEdge             decimal.Decimal
	MinSignalStrength   decimal.Decimal
	StalePriceThreshold decimal.Decimal // both prices below this: dead market
	ResolvedBand        decimal.Decimal // a price within this of 0 or 1: resolved
	SaturationBuffer    decimal.Decimal // oracle distance where fair price saturates
	MaxCredibleEdge     decimal.Decimal
	Cooldown            time.Duration
	MaxSnapshotAge      time.Duration // zero disables

	Registrations []Registration
	Events        map[string][]string // event id -> market ids
	FairPrice     FairPriceFunc
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Loop:                agent.Config{Name: "scanner", Kind: "scanner"},
		MinEdge:             decimal.RequireFromString("0.02"),
		MinSignalStrength:   decimal.RequireFromString("0.1"),
		StalePriceThreshold: decimal.RequireFromString("0.01"),
		ResolvedBand:        decimal.RequireFromString("0.02"),
		SaturationBuffer:    decimal.RequireFromString("0.05"),
		MaxCredibleEdge:     decimal.RequireFromString("0.30"),
		Cooldown:            60 * time.Second,
	}
}

// candidate is an opportunity that passed its strategy's filters but not yet
// the shared signal-strength, cooldown and halt gates.
type candidate struct {
	key string
	opp domain.Opportunity
}

// Scanner is the opportunity detection agent.
type Scanner struct {
	cfg    Config
	bus    domain.Bus
	runner *agent.Runner
	logger *slog.Logger
	now    func() time.Time

	mu         sync.Mutex
	st         *state
	cool       *cooldown
	emitted    map[domain.OpportunityType]int64
	suppressed map[string]int64
}

// New creates a Scanner subscribed to cfg.Topics.
func New(b domain.Bus, cfg Config, logger *slog.Logger) *Scanner {
	def := DefaultConfig()
	if cfg.Loop.Name == "" {
		cfg.Loop.Name = def.Loop.Name
	}
	if cfg.Loop.Kind == "" {
		cfg.Loop.Kind = def.Loop.Kind
	}
	orDefault(&cfg.MinEdge, def.MinEdge)
	orDefault(&cfg.MinSignalStrength, def.MinSignalStrength)
	orDefault(&cfg.StalePriceThreshold, def.StalePriceThreshold)
	orDefault(&cfg.ResolvedBand, def.ResolvedBand)
	orDefault(&cfg.SaturationBuffer, def.SaturationBuffer)
	orDefault(&cfg.MaxCredibleEdge, def.MaxCredibleEdge)
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = def.Cooldown
	}
	if cfg.FairPrice == nil {
		cfg.FairPrice = LinearFairPrice(cfg.SaturationBuffer, decimal.RequireFromString("0.95"), decimal.RequireFromString("0.05"))
	}

	s := &Scanner{
		cfg:        cfg,
		bus:        b,
		logger:     logger.With(slog.String("component", "scanner")),
		now:        time.Now,
		st:         newState(),
		cool:       newCooldown(cfg.Cooldown),
		emitted:    make(map[domain.OpportunityType]int64),
		suppressed: make(map[string]int64),
	}
	for _, r := range cfg.Registrations {
		s.st.register(r)
	}
	for eventID, ids := range cfg.Events {
		for _, id := range ids {
			s.st.linkEvent(eventID, id)
		}
	}

	s.runner = agent.NewRunner(b, cfg.Loop, logger)
	for _, topic := range cfg.Topics {
		s.runner.Subscribe(topic, s.handle)
	}
	s.runner.OnCycle(func(context.Context) {
		s.mu.Lock()
		s.cool.prune(s.now())
		s.mu.Unlock()
	})
	return s
}

func orDefault(v *decimal.Decimal, def decimal.Decimal) {
	if v.IsZero() {
		*v = def
	}
}

// WithClock replaces the time source used for cooldowns and timestamps.
func (s *Scanner) WithClock(now func() time.Time) *Scanner {
	s.now = now
	return s
}

// Runner exposes the polling loop.
func (s *Scanner) Runner() *agent.Runner { return s.runner }

// Run polls until ctx is cancelled.
func (s *Scanner) Run(ctx context.Context) error { return s.runner.Run(ctx) }

// Register adds an oracle threshold registration at runtime.
func (s *Scanner) Register(r Registration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.register(r)
}

// LinkEvent groups a market under a cross-platform event id at runtime.
func (s *Scanner) LinkEvent(eventID, marketID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.linkEvent(eventID, marketID)
}

func (s *Scanner) handle(ctx context.Context, msg domain.Message) error {
	switch bus.Classify(msg.Topic) {
	case bus.KindPrices:
		var m domain.Market
		if err := bus.Decode(msg.Payload, &m); err != nil {
			return fmt.Errorf("scanner: decode market: %w", err)
		}
		return s.OnMarket(ctx, m)
	case bus.KindMulti:
		var m domain.MultiOutcomeMarket
		if err := bus.Decode(msg.Payload, &m); err != nil {
			return fmt.Errorf("scanner: decode multi-outcome market: %w", err)
		}
		return s.OnMultiOutcome(ctx, m)
	case bus.KindOracle:
		var o domain.OracleData
		if err := bus.Decode(msg.Payload, &o); err != nil {
			return fmt.Errorf("scanner: decode oracle: %w", err)
		}
		if o.Symbol == "" || o.Source == "" {
			src, sym, _ := bus.ParseOracleTopic(msg.Topic)
			if o.Source == "" {
				o.Source = src
			}
			if o.Symbol == "" {
				o.Symbol = sym
			}
		}
		return s.OnOracle(ctx, o)
	}
	return fmt.Errorf("scanner: unsupported topic %q", msg.Topic)
}

// OnMarket records a binary market snapshot and runs every strategy that
// depends on it.
func (s *Scanner) OnMarket(ctx context.Context, m domain.Market) error {
	if m.ID == "" {
		return fmt.Errorf("scanner: market without id: %w", domain.ErrInvalidPayload)
	}
	if m.Venue == "" {
		m.Venue = m.VenueOf()
	}

	s.mu.Lock()
	s.st.markets[m.ID] = m
	if m.EventID != "" {
		s.st.linkEvent(m.EventID, m.ID)
	}
	var cands []candidate
	if c := s.detectMispricing(m); c != nil {
		cands = append(cands, *c)
	}
	for _, r := range s.st.byMarket[m.ID] {
		if c := s.detectOracleLag(r); c != nil {
			cands = append(cands, *c)
		}
	}
	if eventID := s.st.marketEvent[m.ID]; eventID != "" {
		if c := s.detectCrossPlatform(eventID); c != nil {
			cands = append(cands, *c)
		}
	}
	accepted := s.gate(cands)
	s.mu.Unlock()

	return s.publish(ctx, accepted)
}

// OnMultiOutcome records a multi-outcome snapshot and checks its price sum.
func (s *Scanner) OnMultiOutcome(ctx context.Context, m domain.MultiOutcomeMarket) error {
	if m.ID == "" {
		return fmt.Errorf("scanner: multi-outcome market without id: %w", domain.ErrInvalidPayload)
	}
	s.mu.Lock()
	s.st.multi[m.ID] = m
	var cands []candidate
	if c := s.detectMultiOutcome(m); c != nil {
		cands = append(cands, *c)
	}
	accepted := s.gate(cands)
	s.mu.Unlock()

	return s.publish(ctx, accepted)
}

// OnOracle records the latest value for a symbol and re-evaluates every market
// registered against it.
func (s *Scanner) OnOracle(ctx context.Context, o domain.OracleData) error {
	if o.Symbol == "" {
		return fmt.Errorf("scanner: oracle update without symbol: %w", domain.ErrInvalidPayload)
	}
	s.mu.Lock()
	s.st.oracles[o.Symbol] = o
	var cands []candidate
	for _, r := range s.st.bySymbol[o.Symbol] {
		if c := s.detectOracleLag(r); c != nil {
			cands = append(cands, *c)
		}
	}
	accepted := s.gate(cands)
	s.mu.Unlock()

	return s.publish(ctx, accepted)
}

// gate applies signal strength, halt and cooldown to candidates. Callers hold mu.
func (s *Scanner) gate(cands []candidate) []domain.Opportunity {
	if len(cands) == 0 {
		return nil
	}
	now := s.now()
	var out []domain.Opportunity
	for _, c := range cands {
		if c.opp.SignalStrength.LessThan(s.cfg.MinSignalStrength) {
			s.suppress(reasonWeakSignal, c.key)
			continue
		}
		if s.runner.Halted() {
			s.suppress(reasonHalted, c.key)
			continue
		}
		if s.cool.recentlyEmitted(c.key, now) {
			s.suppress(reasonCooldown, c.key)
			continue
		}
		s.cool.markEmitted(c.key, now)

		opp := c.opp
		opp.ID = uuid.NewString()
		opp.DetectedAt = now.UTC()
		s.emitted[opp.Type]++
		out = append(out, opp)
	}
	return out
}

func (s *Scanner) publish(ctx context.Context, opps []domain.Opportunity) error {
	for _, opp := range opps {
		if _, err := bus.PublishJSON(ctx, s.bus, bus.TopicOpportunities, opp); err != nil {
			return fmt.Errorf("scanner: publish opportunity %s: %w", opp.ID, err)
		}
		metrics.OpportunitiesDetected.WithLabelValues(string(opp.Type)).Inc()
		metrics.OpportunityEdgeBPS.WithLabelValues(string(opp.Type)).Observe(opp.ExpectedEdge.Mul(decimal.NewFromInt(10_000)).InexactFloat64())
		s.logger.InfoContext(ctx, "opportunity detected",
			slog.String("id", opp.ID),
			slog.String("type", string(opp.Type)),
			slog.String("market_id", opp.PrimaryMarketID()),
			slog.String("edge", opp.ExpectedEdge.String()),
			slog.String("strength", opp.SignalStrength.String()),
		)
	}
	return nil
}

// suppress counts a dropped candidate. Callers hold mu.
func (s *Scanner) suppress(reason, marketID string) {
	s.suppressed[reason]++
	metrics.OpportunitiesSuppressed.WithLabelValues(reason).Inc()
	s.logger.Debug("candidate suppressed", slog.String("reason", reason), slog.String("market_id", marketID))
}

// priceFilter rejects markets that are dead, effectively resolved, out of range
// or too old. It returns "" when the market is usable.
func (s *Scanner) priceFilter(m domain.Market) string {
	if outOfRange(m.YesPrice) || outOfRange(m.NoPrice) {
		return reasonInvalidPrice
	}
	if m.YesPrice.LessThan(s.cfg.StalePriceThreshold) && m.NoPrice.LessThan(s.cfg.StalePriceThreshold) {
		return reasonStale
	}
	if s.nearResolved(m.YesPrice) || s.nearResolved(m.NoPrice) {
		return reasonResolved
	}
	if s.cfg.MaxSnapshotAge > 0 && !m.LastUpdated.IsZero() && s.now().Sub(m.LastUpdated) > s.cfg.MaxSnapshotAge {
		return reasonStaleSnapshot
	}
	return ""
}

func (s *Scanner) nearResolved(p decimal.Decimal) bool {
	return p.LessThanOrEqual(s.cfg.ResolvedBand) || p.GreaterThanOrEqual(one.Sub(s.cfg.ResolvedBand))
}

func outOfRange(p decimal.Decimal) bool {
	return p.IsNegative() || p.GreaterThan(one)
}

// strength returns min(1, x*factor) for non-negative x.
func strength(x decimal.Decimal, factor int64) decimal.Decimal {
	v := x.Abs().Mul(decimal.NewFromInt(factor))
	return decimal.Min(v, one)
}

// Snapshot returns a read-only copy of the scanner's state.
func (s *Scanner) Snapshot() domain.AgentSnapshot {
	snap := s.runner.Snapshot()
	s.mu.Lock()
	defer s.mu.Unlock()

	oracles := make(map[string]string, len(s.st.oracles))
	for sym, o := range s.st.oracles {
		oracles[sym] = o.Value.String()
	}
	emitted := make(map[string]int64, len(s.emitted))
	for t, n := range s.emitted {
		emitted[string(t)] = n
	}
	suppressed := make(map[string]int64, len(s.suppressed))
	for r, n := range s.suppressed {
		suppressed[r] = n
	}
	snap.Details = map[string]any{
		"markets":               len(s.st.markets),
		"multi_outcome_markets": len(s.st.multi),
		"oracles":               oracles,
		"registrations":         s.st.registrations(),
		"events":                len(s.st.events),
		"emitted":               emitted,
		"suppressed":            suppressed,
		"cooldown_seconds":      s.cfg.Cooldown.Seconds(),
	}
	return snap
}

var _ domain.SnapshotProvider = (*Scanner)(nil)
