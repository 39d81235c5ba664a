// Package allocator scores strategies on realized performance and
// periodically rebalances their share of capital.
package allocator

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/polyarb/internal/agent"
	"github.com/alanyoungcy/polyarb/internal/bus"
	"github.com/alanyoungcy/polyarb/internal/domain"
	"github.com/alanyoungcy/polyarb/internal/metrics"
)

// Config tunes rebalancing.
type Config struct {
	Loop             agent.Config
	Strategies       []string
	TotalCapital     decimal.Decimal
	MinAllocationPct decimal.Decimal
	MaxAllocationPct decimal.Decimal
	RebalanceEvery   int // filled trades between rebalances
	DedupWindow      time.Duration
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Loop:             agent.Config{Name: "capital_allocator", Kind: "allocator"},
		TotalCapital:     decimal.NewFromInt(1000),
		MinAllocationPct: decimal.RequireFromString("0.05"),
		MaxAllocationPct: decimal.RequireFromString("0.50"),
		RebalanceEvery:   10,
		DedupWindow:      time.Hour,
	}
}

// Allocator is the capital allocation agent.
type Allocator struct {
	cfg    Config
	bus    domain.Bus
	runner *agent.Runner
	logger *slog.Logger
	seen   *agent.Dedup

	mu          sync.Mutex
	perf        map[string]*Performance
	allocations map[string]decimal.Decimal
	sinceLast   int
	rebalances  int
}

// New creates an Allocator with an equal split across cfg.Strategies.
func New(b domain.Bus, cfg Config, logger *slog.Logger) *Allocator {
	def := DefaultConfig()
	if cfg.Loop.Name == "" {
		cfg.Loop.Name = def.Loop.Name
	}
	if cfg.Loop.Kind == "" {
		cfg.Loop.Kind = def.Loop.Kind
	}
	if !cfg.TotalCapital.IsPositive() {
		cfg.TotalCapital = def.TotalCapital
	}
	if cfg.RebalanceEvery <= 0 {
		cfg.RebalanceEvery = def.RebalanceEvery
	}
	if cfg.DedupWindow <= 0 {
		cfg.DedupWindow = def.DedupWindow
	}

	a := &Allocator{
		cfg:         cfg,
		bus:         b,
		logger:      logger.With(slog.String("component", "capital_allocator")),
		seen:        agent.NewDedup(cfg.DedupWindow),
		perf:        make(map[string]*Performance),
		allocations: make(map[string]decimal.Decimal),
	}
	for _, s := range cfg.Strategies {
		a.perf[s] = &Performance{}
	}
	a.allocations = Allocate(a.scoresLocked(), decimal.Zero, decimal.Zero)

	a.runner = agent.NewRunner(b, cfg.Loop, logger)
	a.runner.Subscribe(bus.TopicResults, a.handleResult)
	a.runner.OnCycle(func(context.Context) { a.seen.Cleanup() })
	return a
}

// Runner exposes the polling loop.
func (a *Allocator) Runner() *agent.Runner { return a.runner }

// Run publishes the initial allocation and polls until ctx is cancelled.
func (a *Allocator) Run(ctx context.Context) error {
	if err := a.runner.Setup(ctx); err != nil {
		return err
	}
	if err := a.Publish(ctx); err != nil {
		return err
	}
	return a.runner.Run(ctx)
}

func (a *Allocator) handleResult(ctx context.Context, msg domain.Message) error {
	var res domain.TradeResult
	if err := bus.Decode(msg.Payload, &res); err != nil {
		return fmt.Errorf("allocator: decode trade result: %w", err)
	}
	key := res.ID
	if key == "" {
		key = msg.ID
	}
	if a.seen.IsDuplicate(key) {
		return nil
	}
	return a.Record(ctx, res)
}

// Record books a trade result. Only filled results tagged with a strategy
// count; every RebalanceEvery of them triggers a rebalance.
func (a *Allocator) Record(ctx context.Context, res domain.TradeResult) error {
	if res.Status != domain.TradeFilled || res.Strategy == "" {
		return nil
	}
	a.mu.Lock()
	p, ok := a.perf[res.Strategy]
	if !ok {
		p = &Performance{}
		a.perf[res.Strategy] = p
		a.logger.Info("registered strategy from trade result", slog.String("strategy", res.Strategy))
	}
	p.Record(res.PnL)
	a.sinceLast++
	due := a.sinceLast >= a.cfg.RebalanceEvery
	a.mu.Unlock()

	if !due {
		return nil
	}
	return a.Rebalance(ctx)
}

// Rebalance recomputes allocations and publishes one update per strategy.
func (a *Allocator) Rebalance(ctx context.Context) error {
	a.mu.Lock()
	a.allocations = Allocate(a.scoresLocked(), a.cfg.MinAllocationPct, a.cfg.MaxAllocationPct)
	a.sinceLast = 0
	a.rebalances++
	a.mu.Unlock()

	a.logger.Info("capital rebalanced", slog.Any("allocations", a.Allocations()))
	return a.Publish(ctx)
}

// Publish emits the current allocation of every strategy.
func (a *Allocator) Publish(ctx context.Context) error {
	allocs := a.Allocations()
	names := make([]string, 0, len(allocs))
	for n := range allocs {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		pct := allocs[n]
		upd := domain.AllocationUpdate{Strategy: n, AllocationPct: pct, TotalCapital: a.cfg.TotalCapital}
		if _, err := bus.PublishJSON(ctx, a.bus, bus.TopicAllocations, upd); err != nil {
			return fmt.Errorf("allocator: publish allocation for %s: %w", n, err)
		}
		metrics.Allocation.WithLabelValues(n).Set(pct.InexactFloat64())
	}
	return nil
}

// Allocations returns a copy of the current allocation fractions.
func (a *Allocator) Allocations() map[string]decimal.Decimal {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[string]decimal.Decimal, len(a.allocations))
	for n, v := range a.allocations {
		out[n] = v
	}
	return out
}

func (a *Allocator) scoresLocked() map[string]decimal.Decimal {
	scores := make(map[string]decimal.Decimal, len(a.perf))
	for n, p := range a.perf {
		scores[n] = Score(*p)
	}
	return scores
}

// Snapshot returns per-strategy performance and allocation.
func (a *Allocator) Snapshot() domain.AgentSnapshot {
	snap := a.runner.Snapshot()
	allocs := a.Allocations()
	a.mu.Lock()
	defer a.mu.Unlock()
	perf := make(map[string]Performance, len(a.perf))
	for n, p := range a.perf {
		perf[n] = *p
	}
	snap.Details = map[string]any{
		"total_capital":          a.cfg.TotalCapital.String(),
		"allocations":            allocs,
		"performance":            perf,
		"trades_since_rebalance": a.sinceLast,
		"rebalance_every":        a.cfg.RebalanceEvery,
		"rebalances":             a.rebalances,
	}
	return snap
}

var _ domain.SnapshotProvider = (*Allocator)(nil)
