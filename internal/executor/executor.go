// Package executor turns approved trade requests into trades. It joins each
// request with the guardian's decision and emits exactly one result per
// request, filling against a paper book or a live OrderPlacer.
package executor

import (
	"context"
	"errors"
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

// Mode selects how approved requests are filled.
type Mode string

const (
	ModePaper Mode = "paper"
	ModeLive  Mode = "live"
)

// Config holds executor settings.
type Config struct {
	Loop         agent.Config
	Mode         Mode
	PaperFeeRate decimal.Decimal // fraction of amount charged per paper fill
	PendingTTL   time.Duration   // how long half of a request/decision pair waits
	DedupWindow  time.Duration
}

// DefaultConfig returns a paper executor.
func DefaultConfig() Config {
	return Config{
		Loop:         agent.Config{Name: "executor", Kind: "executor"},
		Mode:         ModePaper,
		PaperFeeRate: decimal.RequireFromString("0.01"),
		PendingTTL:   5 * time.Minute,
		DedupWindow:  time.Hour,
	}
}

// Executor consumes trade.requests and trade.decisions and publishes
// trade.results.
type Executor struct {
	cfg     Config
	bus     domain.Bus
	placer  domain.OrderPlacer
	journal domain.TradeJournal
	alerts  domain.AlertSink
	runner  *agent.Runner
	logger  *slog.Logger
	now     func() time.Time

	done *agent.Dedup

	mu       sync.Mutex
	joins    *joinBook
	byStatus map[domain.TradeStatus]int64
	expired  int64
	pnl      decimal.Decimal
}

// Option configures optional collaborators.
type Option func(*Executor)

// WithOrderPlacer sets the venue adapter used in live mode.
func WithOrderPlacer(p domain.OrderPlacer) Option {
	return func(e *Executor) { e.placer = p }
}

// WithJournal records every result.
func WithJournal(j domain.TradeJournal) Option {
	return func(e *Executor) { e.journal = j }
}

// WithAlerts notifies fills.
func WithAlerts(a domain.AlertSink) Option {
	return func(e *Executor) { e.alerts = a }
}

// New creates an Executor. Live mode without an OrderPlacer is an error.
func New(b domain.Bus, cfg Config, logger *slog.Logger, opts ...Option) (*Executor, error) {
	def := DefaultConfig()
	if cfg.Loop.Name == "" {
		cfg.Loop.Name = def.Loop.Name
	}
	if cfg.Loop.Kind == "" {
		cfg.Loop.Kind = def.Loop.Kind
	}
	if cfg.Mode == "" {
		cfg.Mode = def.Mode
	}
	if cfg.PendingTTL <= 0 {
		cfg.PendingTTL = def.PendingTTL
	}
	if cfg.DedupWindow <= 0 {
		cfg.DedupWindow = def.DedupWindow
	}
	if cfg.PaperFeeRate.IsNegative() {
		return nil, fmt.Errorf("executor: negative paper fee rate %s", cfg.PaperFeeRate)
	}

	e := &Executor{
		cfg:      cfg,
		bus:      b,
		logger:   logger.With(slog.String("component", "executor"), slog.String("mode", string(cfg.Mode))),
		now:      time.Now,
		done:     agent.NewDedup(cfg.DedupWindow),
		joins:    newJoinBook(cfg.PendingTTL),
		byStatus: make(map[domain.TradeStatus]int64),
	}
	for _, opt := range opts {
		opt(e)
	}

	switch cfg.Mode {
	case ModePaper:
	case ModeLive:
		if e.placer == nil {
			return nil, fmt.Errorf("executor: live mode: %w", domain.ErrNoOrderPlacer)
		}
	default:
		return nil, fmt.Errorf("executor: unknown mode %q", cfg.Mode)
	}

	e.runner = agent.NewRunner(b, cfg.Loop, logger)
	e.runner.Subscribe(bus.TopicTradeRequests, e.handleRequest)
	e.runner.Subscribe(bus.TopicDecisions, e.handleDecision)
	e.runner.OnCycle(func(ctx context.Context) {
		e.Expire(ctx)
		e.done.Cleanup()
	})
	return e, nil
}

// WithClock replaces the time source.
func (e *Executor) WithClock(now func() time.Time) *Executor {
	e.now = now
	e.done.WithClock(now)
	return e
}

// Runner exposes the polling loop.
func (e *Executor) Runner() *agent.Runner { return e.runner }

// Run polls until ctx is cancelled.
func (e *Executor) Run(ctx context.Context) error { return e.runner.Run(ctx) }

func (e *Executor) handleRequest(ctx context.Context, msg domain.Message) error {
	var req domain.TradeRequest
	if err := bus.Decode(msg.Payload, &req); err != nil {
		return fmt.Errorf("executor: decode trade request: %w", err)
	}
	if req.ID == "" {
		return fmt.Errorf("executor: trade request without id: %w", domain.ErrInvalidPayload)
	}
	if e.done.Seen(req.ID) {
		return nil
	}
	e.mu.Lock()
	r, d, ok := e.joins.addRequest(req, e.now())
	e.mu.Unlock()
	if !ok {
		return nil
	}
	return e.execute(ctx, *r, *d)
}

func (e *Executor) handleDecision(ctx context.Context, msg domain.Message) error {
	var dec domain.RiskDecision
	if err := bus.Decode(msg.Payload, &dec); err != nil {
		return fmt.Errorf("executor: decode risk decision: %w", err)
	}
	if dec.RequestID == "" {
		return fmt.Errorf("executor: decision without request id: %w", domain.ErrInvalidPayload)
	}
	if e.done.Seen(dec.RequestID) {
		return nil
	}
	e.mu.Lock()
	r, d, ok := e.joins.addDecision(dec, e.now())
	e.mu.Unlock()
	if !ok {
		return nil
	}
	return e.execute(ctx, *r, *d)
}

// execute settles one joined pair and publishes its result.
func (e *Executor) execute(ctx context.Context, req domain.TradeRequest, dec domain.RiskDecision) error {
	if e.done.IsDuplicate(req.ID) {
		return nil
	}

	var res domain.TradeResult
	switch {
	case !dec.Approved:
		res = e.unfilled(req, domain.TradeRejected)
	case e.runner.Halted():
		res = e.unfilled(req, domain.TradeCancelled)
	case e.cfg.Mode == ModeLive:
		res = e.fillLive(ctx, req)
	default:
		res = e.fillPaper(req)
	}
	return e.emit(ctx, res)
}

func (e *Executor) unfilled(req domain.TradeRequest, status domain.TradeStatus) domain.TradeResult {
	return domain.TradeResult{
		Trade: domain.Trade{
			ID:         uuid.NewString(),
			RequestID:  req.ID,
			MarketID:   req.MarketID,
			Venue:      req.Venue(),
			Side:       req.Side,
			Outcome:    req.Outcome,
			Amount:     decimal.Zero,
			Price:      decimal.Zero,
			Fees:       decimal.Zero,
			Status:     status,
			ExecutedAt: e.now().UTC(),
		},
		Strategy: req.Strategy,
		PnL:      decimal.Zero,
	}
}

// fillPaper fills the whole amount at the request's price cap.
func (e *Executor) fillPaper(req domain.TradeRequest) domain.TradeResult {
	fee := req.Amount.Mul(e.cfg.PaperFeeRate)
	return domain.TradeResult{
		Trade: domain.Trade{
			ID:         uuid.NewString(),
			RequestID:  req.ID,
			MarketID:   req.MarketID,
			Venue:      req.Venue(),
			Side:       req.Side,
			Outcome:    req.Outcome,
			Amount:     req.Amount,
			Price:      req.MaxPrice,
			Fees:       fee,
			Status:     domain.TradeFilled,
			ExternalID: "paper-" + req.ID,
			ExecutedAt: e.now().UTC(),
		},
		Strategy: req.Strategy,
		PnL:      req.Amount.Mul(req.ExpectedEdge).Sub(fee),
	}
}

func (e *Executor) fillLive(ctx context.Context, req domain.TradeRequest) domain.TradeResult {
	trade, err := e.placer.PlaceOrder(ctx, req)
	if err != nil {
		e.logger.Error("order placement failed",
			slog.String("request_id", req.ID),
			slog.String("market_id", req.MarketID),
			slog.String("error", err.Error()),
		)
		return e.unfilled(req, domain.TradeFailed)
	}

	if trade.ID == "" {
		trade.ID = uuid.NewString()
	}
	trade.RequestID = req.ID
	if trade.MarketID == "" {
		trade.MarketID = req.MarketID
	}
	if trade.Venue == "" {
		trade.Venue = req.Venue()
	}
	if trade.Side == "" {
		trade.Side = req.Side
	}
	if trade.Outcome == "" {
		trade.Outcome = req.Outcome
	}
	if trade.ExecutedAt.IsZero() {
		trade.ExecutedAt = e.now().UTC()
	}
	switch {
	case trade.Status == "" || trade.Status == domain.TradePending || trade.Status == domain.TradeSubmitted:
		// The adapter reported an accepted order without a terminal state.
		if trade.Amount.LessThan(req.Amount) {
			trade.Status = domain.TradePartial
		} else {
			trade.Status = domain.TradeFilled
		}
	case trade.Status == domain.TradeFilled && trade.Amount.LessThan(req.Amount):
		trade.Status = domain.TradePartial
	}

	res := domain.TradeResult{Trade: trade, Strategy: req.Strategy, PnL: decimal.Zero}
	if trade.Status == domain.TradeFilled || trade.Status == domain.TradePartial {
		res.PnL = trade.Amount.Mul(req.ExpectedEdge).Sub(trade.Fees)
	}
	return res
}

func (e *Executor) emit(ctx context.Context, res domain.TradeResult) error {
	if _, err := bus.PublishJSON(ctx, e.bus, bus.TopicResults, res); err != nil {
		return fmt.Errorf("executor: publish result %s: %w", res.RequestID, err)
	}

	e.mu.Lock()
	e.byStatus[res.Status]++
	e.pnl = e.pnl.Add(res.PnL)
	e.mu.Unlock()
	metrics.Trades.WithLabelValues(string(res.Status), string(e.cfg.Mode)).Inc()

	e.logger.Info("trade result",
		slog.String("request_id", res.RequestID),
		slog.String("trade_id", res.ID),
		slog.String("strategy", res.Strategy),
		slog.String("market_id", res.MarketID),
		slog.String("status", string(res.Status)),
		slog.String("amount", res.Amount.String()),
		slog.String("price", res.Price.String()),
		slog.String("pnl", res.PnL.String()),
	)

	if e.journal != nil {
		if err := e.journal.Record(ctx, res); err != nil && !errors.Is(err, context.Canceled) {
			e.logger.Warn("journal write failed", slog.String("trade_id", res.ID), slog.String("error", err.Error()))
		}
	}
	if e.alerts != nil && (res.Status == domain.TradeFilled || res.Status == domain.TradePartial) {
		alert := domain.Alert{
			Event: "fill",
			Title: fmt.Sprintf("%s %s %s", res.Status, res.Side, res.MarketID),
			Message: fmt.Sprintf("strategy=%s outcome=%s amount=%s price=%s pnl=%s",
				res.Strategy, res.Outcome, res.Amount.StringFixed(2), res.Price.String(), res.PnL.StringFixed(4)),
		}
		if err := e.alerts.Notify(ctx, alert); err != nil {
			e.logger.Warn("fill notification failed", slog.String("error", err.Error()))
		}
	}
	return nil
}

// Expire drops pairs whose other half never arrived within PendingTTL. A
// request left without a decision is closed out as cancelled so that every
// request still yields one result.
func (e *Executor) Expire(ctx context.Context) {
	e.mu.Lock()
	stale := e.joins.expire(e.now())
	e.expired += int64(len(stale))
	e.mu.Unlock()

	for _, p := range stale {
		if p.req == nil {
			e.logger.Warn("decision expired without request", slog.String("request_id", p.dec.RequestID))
			continue
		}
		e.logger.Warn("request expired without decision", slog.String("request_id", p.req.ID))
		if e.done.IsDuplicate(p.req.ID) {
			continue
		}
		if err := e.emit(ctx, e.unfilled(*p.req, domain.TradeCancelled)); err != nil {
			e.logger.Error("publish expired request", slog.String("request_id", p.req.ID), slog.String("error", err.Error()))
		}
	}
}

// Snapshot returns result counters and the number of half-joined requests.
func (e *Executor) Snapshot() domain.AgentSnapshot {
	snap := e.runner.Snapshot()
	e.mu.Lock()
	defer e.mu.Unlock()

	byStatus := make(map[string]int64, len(e.byStatus))
	for k, v := range e.byStatus {
		byStatus[string(k)] = v
	}
	snap.Details = map[string]any{
		"mode":         string(e.cfg.Mode),
		"results":      byStatus,
		"pending_join": e.joins.len(),
		"expired":      e.expired,
		"total_pnl":    e.pnl.String(),
	}
	return snap
}

var _ domain.SnapshotProvider = (*Executor)(nil)
