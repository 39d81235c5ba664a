// Package strategy turns detected opportunities into sized trade requests.
package strategy

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
)

// Config configures one strategy agent.
type Config struct {
	Loop              agent.Config
	Name              string                   // strategy name carried on requests and results
	Types             []domain.OpportunityType // empty accepts every type
	MinEdge           decimal.Decimal
	MinSignalStrength decimal.Decimal
	DedupWindow       time.Duration
}

// Agent is a strategy agent: it filters opportunities, delegates sizing to an
// Evaluator and caps the result at its capital allocation.
type Agent struct {
	cfg    Config
	eval   Evaluator
	bus    domain.Bus
	runner *agent.Runner
	logger *slog.Logger
	seen   *agent.Dedup
	now    func() time.Time

	mu         sync.Mutex
	allocation *domain.AllocationUpdate
	requested  int64
	dropped    map[string]int64
}

// NewAgent creates a strategy agent around eval.
func NewAgent(b domain.Bus, cfg Config, eval Evaluator, logger *slog.Logger) *Agent {
	if cfg.Name == "" {
		cfg.Name = eval.Name()
	}
	if cfg.Loop.Name == "" {
		cfg.Loop.Name = "strategy_" + cfg.Name
	}
	if cfg.Loop.Kind == "" {
		cfg.Loop.Kind = "strategy"
	}
	if cfg.DedupWindow <= 0 {
		cfg.DedupWindow = time.Hour
	}
	a := &Agent{
		cfg:     cfg,
		eval:    eval,
		bus:     b,
		logger:  logger.With(slog.String("component", "strategy"), slog.String("strategy", cfg.Name)),
		seen:    agent.NewDedup(cfg.DedupWindow),
		now:     time.Now,
		dropped: make(map[string]int64),
	}
	a.runner = agent.NewRunner(b, cfg.Loop, logger)
	a.runner.Subscribe(bus.TopicAllocations, a.handleAllocation)
	a.runner.Subscribe(bus.TopicOpportunities, a.handleOpportunity)
	a.runner.OnCycle(func(context.Context) { a.seen.Cleanup() })
	return a
}

// Runner exposes the polling loop.
func (a *Agent) Runner() *agent.Runner { return a.runner }

// Run polls until ctx is cancelled.
func (a *Agent) Run(ctx context.Context) error { return a.runner.Run(ctx) }

func (a *Agent) handleAllocation(_ context.Context, msg domain.Message) error {
	var upd domain.AllocationUpdate
	if err := bus.Decode(msg.Payload, &upd); err != nil {
		return fmt.Errorf("strategy: decode allocation: %w", err)
	}
	if upd.Strategy != a.cfg.Name {
		return nil
	}
	a.mu.Lock()
	a.allocation = &upd
	a.mu.Unlock()
	a.logger.Info("allocation updated",
		slog.String("allocation_pct", upd.AllocationPct.String()),
		slog.String("capital", upd.Capital().StringFixed(2)),
	)
	return nil
}

func (a *Agent) handleOpportunity(ctx context.Context, msg domain.Message) error {
	var opp domain.Opportunity
	if err := bus.Decode(msg.Payload, &opp); err != nil {
		return fmt.Errorf("strategy: decode opportunity: %w", err)
	}
	if opp.ID != "" && a.seen.IsDuplicate(opp.ID) {
		return nil
	}
	req, reason, err := a.Consider(opp)
	if err != nil {
		return err
	}
	if req == nil {
		a.drop(reason, opp)
		return nil
	}
	if _, err := bus.PublishJSON(ctx, a.bus, bus.TopicTradeRequests, req); err != nil {
		return fmt.Errorf("strategy: publish trade request: %w", err)
	}
	a.mu.Lock()
	a.requested++
	a.mu.Unlock()
	a.logger.Info("trade requested",
		slog.String("request_id", req.ID),
		slog.String("opportunity_id", opp.ID),
		slog.String("market_id", req.MarketID),
		slog.String("outcome", string(req.Outcome)),
		slog.String("amount", req.Amount.String()),
		slog.String("max_price", req.MaxPrice.String()),
	)
	return nil
}

// Consider applies the agent's floors, the evaluator and the allocation cap.
// It returns nil and a reason when the opportunity is not traded.
func (a *Agent) Consider(opp domain.Opportunity) (*domain.TradeRequest, string, error) {
	if a.runner.Halted() {
		return nil, "halted", nil
	}
	if !a.accepts(opp.Type) {
		return nil, "type_filtered", nil
	}
	if opp.ExpectedEdge.LessThan(a.cfg.MinEdge) {
		return nil, "below_min_edge", nil
	}
	if opp.SignalStrength.LessThan(a.cfg.MinSignalStrength) {
		return nil, "weak_signal", nil
	}
	params, err := a.eval.Evaluate(opp)
	if err != nil {
		return nil, "", fmt.Errorf("strategy %s: evaluate %s: %w", a.cfg.Name, opp.ID, err)
	}
	if params == nil {
		return nil, "no_trade", nil
	}

	amount := params.Amount
	a.mu.Lock()
	if a.allocation != nil {
		limit := a.allocation.Capital()
		if limit.LessThan(amount) {
			amount = limit.Round(2)
		}
	}
	a.mu.Unlock()
	if !amount.IsPositive() {
		return nil, "no_capital", nil
	}

	return &domain.TradeRequest{
		ID:            uuid.NewString(),
		OpportunityID: opp.ID,
		Strategy:      a.cfg.Name,
		MarketID:      params.MarketID,
		Side:          params.Side,
		Outcome:       params.Outcome,
		Amount:        amount,
		MaxPrice:      params.MaxPrice,
		ExpectedEdge:  opp.ExpectedEdge,
		CreatedAt:     a.now().UTC(),
	}, "", nil
}

func (a *Agent) accepts(t domain.OpportunityType) bool {
	if len(a.cfg.Types) == 0 {
		return true
	}
	for _, allowed := range a.cfg.Types {
		if allowed == t {
			return true
		}
	}
	return false
}

func (a *Agent) drop(reason string, opp domain.Opportunity) {
	a.mu.Lock()
	a.dropped[reason]++
	a.mu.Unlock()
	a.logger.Debug("opportunity dropped", slog.String("reason", reason), slog.String("opportunity_id", opp.ID))
}

// Snapshot returns the allocation and request counters.
func (a *Agent) Snapshot() domain.AgentSnapshot {
	snap := a.runner.Snapshot()
	a.mu.Lock()
	defer a.mu.Unlock()
	dropped := make(map[string]int64, len(a.dropped))
	for k, v := range a.dropped {
		dropped[k] = v
	}
	details := map[string]any{
		"strategy":  a.cfg.Name,
		"evaluator": a.eval.Name(),
		"requested": a.requested,
		"dropped":   dropped,
	}
	if a.allocation != nil {
		details["allocation_pct"] = a.allocation.AllocationPct.String()
		details["capital"] = a.allocation.Capital().String()
	}
	snap.Details = details
	return snap
}

var _ domain.SnapshotProvider = (*Agent)(nil)
