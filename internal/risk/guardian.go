// Package risk implements the risk guardian: an ordered rule chain that turns
// every trade request into exactly one approve or reject decision.
package risk

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/polyarb/internal/agent"
	"github.com/alanyoungcy/polyarb/internal/bus"
	"github.com/alanyoungcy/polyarb/internal/domain"
	"github.com/alanyoungcy/polyarb/internal/metrics"
)

// Config holds the guardian's limits. Fractions are of Bankroll.
type Config struct {
	Loop        agent.Config
	BookTopics  []string
	DedupWindow time.Duration

	Bankroll          decimal.Decimal
	PositionLimitPct  decimal.Decimal
	PlatformLimitPct  decimal.Decimal
	DailyLossLimitPct decimal.Decimal // zero disables
	MaxDrawdownPct    decimal.Decimal // zero disables
	KillSwitchLossPct decimal.Decimal // zero disables
	MinProfit         decimal.Decimal // absolute USD, zero disables
	MaxSlippage       decimal.Decimal // fraction of max_price, zero disables
	BookMaxAge        time.Duration
}

// DefaultConfig returns conservative paper-trading limits.
func DefaultConfig() Config {
	return Config{
		Loop:              agent.Config{Name: "risk_guardian", Kind: "guardian"},
		DedupWindow:       time.Hour,
		Bankroll:          decimal.NewFromInt(1000),
		PositionLimitPct:  decimal.RequireFromString("0.10"),
		PlatformLimitPct:  decimal.RequireFromString("0.50"),
		DailyLossLimitPct: decimal.RequireFromString("0.05"),
		MaxDrawdownPct:    decimal.RequireFromString("0.20"),
		KillSwitchLossPct: decimal.RequireFromString("0.10"),
		MaxSlippage:       decimal.RequireFromString("0.02"),
		BookMaxAge:        30 * time.Second,
	}
}

// Guardian is the risk gate between strategy agents and executors.
type Guardian struct {
	cfg    Config
	bus    domain.Bus
	alerts domain.AlertSink
	runner *agent.Runner
	logger *slog.Logger
	now    func() time.Time

	requests *agent.Dedup
	results  *agent.Dedup

	mu       sync.Mutex
	exp      *exposure
	books    map[string]domain.OrderBook
	killed   bool
	approved int64
	rejected map[string]int64
}

// New creates a Guardian. alerts may be nil.
func New(b domain.Bus, cfg Config, alerts domain.AlertSink, logger *slog.Logger) *Guardian {
	def := DefaultConfig()
	if cfg.Loop.Name == "" {
		cfg.Loop.Name = def.Loop.Name
	}
	if cfg.Loop.Kind == "" {
		cfg.Loop.Kind = def.Loop.Kind
	}
	if cfg.DedupWindow <= 0 {
		cfg.DedupWindow = def.DedupWindow
	}
	if !cfg.Bankroll.IsPositive() {
		cfg.Bankroll = def.Bankroll
	}
	if !cfg.PositionLimitPct.IsPositive() {
		cfg.PositionLimitPct = def.PositionLimitPct
	}
	if !cfg.PlatformLimitPct.IsPositive() {
		cfg.PlatformLimitPct = def.PlatformLimitPct
	}

	g := &Guardian{
		cfg:      cfg,
		bus:      b,
		alerts:   alerts,
		logger:   logger.With(slog.String("component", "risk_guardian")),
		now:      time.Now,
		requests: agent.NewDedup(cfg.DedupWindow),
		results:  agent.NewDedup(cfg.DedupWindow),
		exp:      newExposure(cfg.Bankroll),
		books:    make(map[string]domain.OrderBook),
		rejected: make(map[string]int64),
	}

	g.runner = agent.NewRunner(b, cfg.Loop, logger)
	g.runner.Subscribe(bus.TopicTradeRequests, g.handleRequest)
	g.runner.Subscribe(bus.TopicResults, g.handleResult)
	for _, topic := range cfg.BookTopics {
		g.runner.Subscribe(topic, g.handleBook)
	}
	g.runner.OnResume(func(context.Context, domain.Command) {
		g.mu.Lock()
		g.killed = false
		g.mu.Unlock()
	})
	g.runner.OnCycle(func(context.Context) {
		g.requests.Cleanup()
		g.results.Cleanup()
	})
	return g
}

// WithClock replaces the time source.
func (g *Guardian) WithClock(now func() time.Time) *Guardian {
	g.now = now
	g.requests.WithClock(now)
	g.results.WithClock(now)
	return g
}

// Runner exposes the polling loop.
func (g *Guardian) Runner() *agent.Runner { return g.runner }

// Run polls until ctx is cancelled.
func (g *Guardian) Run(ctx context.Context) error { return g.runner.Run(ctx) }

func (g *Guardian) handleRequest(ctx context.Context, msg domain.Message) error {
	var req domain.TradeRequest
	if err := bus.Decode(msg.Payload, &req); err != nil {
		return fmt.Errorf("risk: decode trade request: %w", err)
	}
	if req.ID == "" {
		return fmt.Errorf("risk: trade request without id: %w", domain.ErrInvalidPayload)
	}
	if g.requests.IsDuplicate(req.ID) {
		g.logger.Debug("duplicate trade request ignored", slog.String("request_id", req.ID))
		return nil
	}

	dec := g.Evaluate(req)
	if _, err := bus.PublishJSON(ctx, g.bus, bus.TopicDecisions, dec); err != nil {
		if dec.Approved {
			g.mu.Lock()
			g.exp.release(req.ID, decimal.Zero)
			g.mu.Unlock()
		}
		return fmt.Errorf("risk: publish decision %s: %w", req.ID, err)
	}
	return nil
}

// Evaluate runs the rule chain against req. On approval the request's amount
// is reserved against its market and venue in the same critical section.
func (g *Guardian) Evaluate(req domain.TradeRequest) domain.RiskDecision {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	g.exp.rollDay(now)
	dec := domain.RiskDecision{RequestID: req.ID, DecidedAt: now.UTC()}

	for _, r := range g.rules() {
		if reason := r.check(req); reason != "" {
			dec.Reason = reason
			dec.RuleTriggered = r.name
			g.rejected[r.name]++
			metrics.RiskDecisions.WithLabelValues("rejected", r.name).Inc()
			g.logger.Info("trade request rejected",
				slog.String("request_id", req.ID),
				slog.String("strategy", req.Strategy),
				slog.String("market_id", req.MarketID),
				slog.String("amount", req.Amount.String()),
				slog.String("rule", r.name),
				slog.String("reason", reason),
			)
			return dec
		}
	}

	venue := req.Venue()
	g.exp.reserve(req.ID, req.MarketID, venue, req.Amount)
	g.approved++
	metrics.RiskDecisions.WithLabelValues("approved", "").Inc()
	metrics.Exposure.WithLabelValues(venue).Set(g.exp.venue(venue).InexactFloat64())

	dec.Approved = true
	dec.Reason = "all risk checks passed"
	g.logger.Info("trade request approved",
		slog.String("request_id", req.ID),
		slog.String("strategy", req.Strategy),
		slog.String("market_id", req.MarketID),
		slog.String("amount", req.Amount.String()),
	)
	return dec
}

func (g *Guardian) handleResult(ctx context.Context, msg domain.Message) error {
	var res domain.TradeResult
	if err := bus.Decode(msg.Payload, &res); err != nil {
		return fmt.Errorf("risk: decode trade result: %w", err)
	}
	key := res.ID
	if key == "" {
		key = res.RequestID + ":" + string(res.Status)
	}
	if g.results.IsDuplicate(key) {
		return nil
	}
	return g.ApplyResult(ctx, res)
}

// ApplyResult books realized P&L and frees capital that a request reserved
// but did not use. It fires the kill switch when today's loss crosses its bound.
func (g *Guardian) ApplyResult(ctx context.Context, res domain.TradeResult) error {
	g.mu.Lock()
	switch {
	case res.Status.ReleasesExposure():
		g.exp.release(res.RequestID, decimal.Zero)
	case res.Status == domain.TradePartial:
		if r, ok := g.exp.reserved[res.RequestID]; ok {
			if unfilled := r.amount.Sub(res.Amount); unfilled.IsPositive() {
				g.exp.release(res.RequestID, unfilled)
			}
		}
		g.exp.settle(res.RequestID)
		g.exp.book(res.PnL, g.now())
	case res.Status == domain.TradeFilled:
		g.exp.settle(res.RequestID)
		g.exp.book(res.PnL, g.now())
	}
	if venue := res.Venue; venue != "" {
		metrics.Exposure.WithLabelValues(venue).Set(g.exp.venue(venue).InexactFloat64())
	}

	fire := false
	var loss, limit decimal.Decimal
	if g.cfg.KillSwitchLossPct.IsPositive() && !g.killed {
		limit = g.cfg.Bankroll.Mul(g.cfg.KillSwitchLossPct)
		loss = g.exp.dailyLoss()
		if loss.GreaterThanOrEqual(limit) {
			g.killed = true
			fire = true
		}
	}
	g.mu.Unlock()

	if !fire {
		return nil
	}
	return g.killSwitch(ctx, loss, limit)
}

func (g *Guardian) killSwitch(ctx context.Context, loss, limit decimal.Decimal) error {
	reason := fmt.Sprintf("daily loss %s reached kill switch %s", loss.StringFixed(2), limit.StringFixed(2))
	g.logger.Warn("kill switch triggered", slog.String("reason", reason))
	cmd := domain.Command{Command: domain.CommandHaltAll, Reason: reason, IssuedBy: g.cfg.Loop.Name, IssuedAt: g.now().UTC()}
	if _, err := bus.PublishJSON(ctx, g.bus, bus.TopicCommands, cmd); err != nil {
		return fmt.Errorf("risk: publish kill switch: %w", err)
	}
	if g.alerts != nil {
		if err := g.alerts.Notify(ctx, domain.Alert{Event: "kill_switch", Title: "Kill switch triggered", Message: reason}); err != nil {
			g.logger.Warn("kill switch notification failed", slog.String("error", err.Error()))
		}
	}
	return nil
}

func (g *Guardian) handleBook(_ context.Context, msg domain.Message) error {
	var book domain.OrderBook
	if err := bus.Decode(msg.Payload, &book); err != nil {
		return fmt.Errorf("risk: decode order book: %w", err)
	}
	if book.MarketID == "" {
		return fmt.Errorf("risk: order book without market id: %w", domain.ErrInvalidPayload)
	}
	g.mu.Lock()
	g.books[book.MarketID] = book
	g.mu.Unlock()
	return nil
}

// Snapshot returns exposure and decision counters.
func (g *Guardian) Snapshot() domain.AgentSnapshot {
	snap := g.runner.Snapshot()
	g.mu.Lock()
	defer g.mu.Unlock()

	byMarket := make(map[string]string, len(g.exp.byMarket))
	for k, v := range g.exp.byMarket {
		byMarket[k] = v.String()
	}
	byVenue := make(map[string]string, len(g.exp.byVenue))
	for k, v := range g.exp.byVenue {
		byVenue[k] = v.String()
	}
	rejected := make(map[string]int64, len(g.rejected))
	for k, v := range g.rejected {
		rejected[k] = v
	}
	snap.Details = map[string]any{
		"bankroll":           g.cfg.Bankroll.String(),
		"equity":             g.exp.equity().String(),
		"high_water_mark":    g.exp.highWater.String(),
		"daily_pnl":          g.exp.dailyPnL.String(),
		"drawdown":           g.exp.drawdown().StringFixed(4),
		"exposure_by_market": byMarket,
		"exposure_by_venue":  byVenue,
		"open_reservations":  len(g.exp.reserved),
		"approved":           g.approved,
		"rejected":           rejected,
		"kill_switch":        g.killed,
		"books":              len(g.books),
	}
	return snap
}

var _ domain.SnapshotProvider = (*Guardian)(nil)
