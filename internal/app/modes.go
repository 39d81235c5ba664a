package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/polyarb/internal/agent"
	"github.com/alanyoungcy/polyarb/internal/allocator"
	s3blob "github.com/alanyoungcy/polyarb/internal/blob/s3"
	"github.com/alanyoungcy/polyarb/internal/bus"
	"github.com/alanyoungcy/polyarb/internal/domain"
	"github.com/alanyoungcy/polyarb/internal/executor"
	"github.com/alanyoungcy/polyarb/internal/oracle"
	"github.com/alanyoungcy/polyarb/internal/platform"
	"github.com/alanyoungcy/polyarb/internal/platform/kalshi"
	"github.com/alanyoungcy/polyarb/internal/platform/polymarket"
	"github.com/alanyoungcy/polyarb/internal/risk"
	"github.com/alanyoungcy/polyarb/internal/scanner"
	"github.com/alanyoungcy/polyarb/internal/server"
	"github.com/alanyoungcy/polyarb/internal/server/handler"
	"github.com/alanyoungcy/polyarb/internal/strategy"
)

// unit is one supervised agent.
type unit interface {
	Run(ctx context.Context) error
	Runner() *agent.Runner
	Snapshot() domain.AgentSnapshot
}

// member is a unit plus how it is supervised. Exclusive members keep state
// that must not be split across processes sharing one bus.
type member struct {
	unit      unit
	exclusive bool
}

// buildAgents constructs the agents of mode. scan runs the oracle and the
// scanner only; paper and live run the whole pipeline.
func (a *App) buildAgents(mode string, deps *Dependencies) ([]member, error) {
	cfg := a.cfg
	var out []member

	// --- Oracle producers ---
	if cfg.Oracle.Binance.Enabled {
		ocfg := oracle.Config{
			Loop:             a.loop("", "oracle"),
			PollInterval:     cfg.Oracle.PollInterval.Duration,
			RateLimit:        cfg.Oracle.RateLimit,
			ReconnectFloor:   cfg.Oracle.ReconnectFloor.Duration,
			ReconnectCeiling: cfg.Oracle.ReconnectCeiling.Duration,
		}
		b := cfg.Oracle.Binance
		if b.Transport == "poll" {
			out = append(out, member{unit: oracle.NewPolling(deps.Bus, ocfg, oracle.NewBinancePoller(b.RESTURL, b.Symbols), a.logger)})
		} else {
			out = append(out, member{unit: oracle.NewStreaming(deps.Bus, ocfg, oracle.NewBinanceStreamer(b.StreamURL, b.Symbols), a.logger)})
		}
	}

	// --- Venue pollers ---
	venues, err := a.buildVenues(deps)
	if err != nil {
		return nil, err
	}
	out = append(out, venues...)

	// --- Scanner ---
	out = append(out, member{unit: scanner.New(deps.Bus, a.scannerConfig(), a.logger), exclusive: true})
	if mode == "scan" {
		return out, nil
	}

	// --- Risk guardian ---
	rc := cfg.Risk
	bookTopics := make([]string, 0, len(cfg.Scanner.Venues))
	for _, v := range cfg.Scanner.Venues {
		bookTopics = append(bookTopics, bus.BooksTopic(v))
	}
	guardian := risk.New(deps.Bus, risk.Config{
		Loop:              a.loop("risk_guardian", "guardian"),
		BookTopics:        bookTopics,
		Bankroll:          dec(rc.Bankroll),
		PositionLimitPct:  dec(rc.PositionLimitPct),
		PlatformLimitPct:  dec(rc.PlatformLimitPct),
		DailyLossLimitPct: dec(rc.DailyLossLimitPct),
		MaxDrawdownPct:    dec(rc.MaxDrawdownPct),
		KillSwitchLossPct: dec(rc.KillSwitchLossPct),
		MinProfit:         dec(rc.MinProfit),
		MaxSlippage:       dec(rc.MaxSlippage),
		BookMaxAge:        rc.BookMaxAge.Duration,
	}, deps.Notifier, a.logger)
	out = append(out, member{unit: guardian, exclusive: true})

	// --- Strategies ---
	reg := strategy.NewDefaultRegistry()
	names := make([]string, 0, len(cfg.Strategies))
	for _, sc := range cfg.Strategies {
		evalName := sc.Evaluator
		if evalName == "" {
			evalName = sc.Name
		}
		eval, err := reg.Build(evalName, strategy.Params{BaseSize: dec(sc.BaseSize), Extra: sc.Params})
		if err != nil {
			return nil, fmt.Errorf("app: strategy %s: %w", sc.Name, err)
		}
		types := make([]domain.OpportunityType, len(sc.Types))
		for i, t := range sc.Types {
			types[i] = domain.OpportunityType(t)
		}
		out = append(out, member{unit: strategy.NewAgent(deps.Bus, strategy.Config{
			Loop:              a.loop("", "strategy"),
			Name:              sc.Name,
			Types:             types,
			MinEdge:           dec(sc.MinEdge),
			MinSignalStrength: dec(sc.MinSignalStrength),
		}, eval, a.logger), exclusive: true})
		names = append(names, sc.Name)
	}

	// --- Capital allocator ---
	ac := cfg.Allocator
	out = append(out, member{unit: allocator.New(deps.Bus, allocator.Config{
		Loop:             a.loop("capital_allocator", "allocator"),
		Strategies:       names,
		TotalCapital:     dec(ac.TotalCapital),
		MinAllocationPct: dec(ac.MinAllocationPct),
		MaxAllocationPct: dec(ac.MaxAllocationPct),
		RebalanceEvery:   ac.RebalanceEvery,
	}, a.logger), exclusive: true})

	// --- Executor ---
	opts := []executor.Option{executor.WithJournal(deps.Journal), executor.WithAlerts(deps.Notifier)}
	if a.placer != nil {
		opts = append(opts, executor.WithOrderPlacer(a.placer))
	}
	exec, err := executor.New(deps.Bus, executor.Config{
		Loop:         a.loop("executor", "executor"),
		Mode:         executor.Mode(mode),
		PaperFeeRate: dec(cfg.Executor.PaperFeeRate),
		PendingTTL:   cfg.Executor.PendingTTL.Duration,
	}, a.logger, opts...)
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	out = append(out, member{unit: exec, exclusive: true})

	// --- Journal archive ---
	if cfg.Archive.Enabled && deps.Blob != nil {
		out = append(out, member{unit: s3blob.NewArchiver(deps.Bus, s3blob.ArchiverConfig{
			Loop:     a.loop("journal_archiver", "archiver"),
			Interval: cfg.Archive.Interval.Duration,
			Prefix:   cfg.Archive.Prefix,
			PageSize: cfg.Archive.PageSize,
		}, deps.Journal, deps.Blob, deps.Audit, a.logger), exclusive: true})
	}

	return out, nil
}

// buildVenues creates one watcher per enabled venue. Watchers hold no state
// worth sharing, so they are not exclusive.
func (a *App) buildVenues(deps *Dependencies) ([]member, error) {
	vc := a.cfg.Venues
	wcfg := platform.Config{
		Loop:         a.loop("", "venue"),
		PollInterval: vc.PollInterval.Duration,
		RateLimit:    vc.RateLimit,
	}

	var out []member
	if pm := vc.Polymarket; pm.Enabled {
		src := polymarket.NewGammaClient(pm.BaseURL, pm.Limit, pm.Events)
		out = append(out, member{unit: platform.NewWatcher(deps.Bus, wcfg, src, a.logger)})
	}
	if kc := vc.Kalshi; kc.Enabled {
		src := kalshi.NewClient(kc.BaseURL, kc.Limit, kc.BookTickers)
		if kc.PrivateKeyPath != "" {
			pemBytes, err := os.ReadFile(kc.PrivateKeyPath)
			if err != nil {
				return nil, fmt.Errorf("app: kalshi private key: %w", err)
			}
			if err := src.SetCredentials(kc.APIKey, pemBytes); err != nil {
				return nil, fmt.Errorf("app: %w", err)
			}
		}
		out = append(out, member{unit: platform.NewWatcher(deps.Bus, wcfg, src, a.logger)})
	}
	return out, nil
}

func (a *App) loop(name, kind string) agent.Config {
	return agent.Config{
		Name:         name,
		Kind:         kind,
		BatchSize:    a.cfg.Bus.BatchSize,
		FetchTimeout: a.cfg.Bus.FetchTimeout.Duration,
		PollInterval: a.cfg.Bus.PollInterval.Duration,
	}
}

func (a *App) scannerConfig() scanner.Config {
	sc := a.cfg.Scanner
	topics := make([]string, 0, len(sc.Venues)+len(sc.MultiTopics)+len(sc.Thresholds))
	seen := make(map[string]bool)
	add := func(t string) {
		if !seen[t] {
			seen[t] = true
			topics = append(topics, t)
		}
	}
	for _, v := range sc.Venues {
		add(bus.PricesTopic(v))
	}
	for _, t := range sc.MultiTopics {
		add(t)
	}
	if pm := a.cfg.Venues.Polymarket; pm.Enabled && pm.Events {
		add(bus.MultiTopic(polymarket.Venue, platform.MultiName))
	}

	regs := make([]scanner.Registration, 0, len(sc.Thresholds))
	for _, th := range sc.Thresholds {
		source := th.Source
		if source == "" {
			source = "binance"
		}
		add(bus.OracleTopic(source, th.Symbol))
		regs = append(regs, scanner.Registration{
			MarketID:  th.MarketID,
			Symbol:    th.Symbol,
			Threshold: dec(th.Threshold),
			Direction: domain.Direction(th.Direction),
		})
	}

	return scanner.Config{
		Loop:                a.loop("scanner", "scanner"),
		Topics:              topics,
		MinEdge:             dec(sc.MinEdge),
		MinSignalStrength:   dec(sc.MinSignalStrength),
		StalePriceThreshold: dec(sc.StalePriceThreshold),
		ResolvedBand:        dec(sc.ResolvedBand),
		SaturationBuffer:    dec(sc.SaturationBuffer),
		MaxCredibleEdge:     dec(sc.MaxCredibleEdge),
		Cooldown:            sc.Cooldown.Duration,
		MaxSnapshotAge:      sc.MaxSnapshotAge.Duration,
		Registrations:       regs,
		Events:              sc.Events,
	}
}

// dec converts a configured float. Config floats are short literals, so the
// shortest decimal representation is exact enough.
func dec(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }

// runMembers starts every member and, when enabled, the HTTP server under one
// errgroup and blocks until ctx is cancelled or one of them fails.
func (a *App) runMembers(ctx context.Context, deps *Dependencies, members []member) error {
	g, ctx := errgroup.WithContext(ctx)

	for _, m := range members {
		g.Go(func() error { return a.supervise(ctx, deps, m) })
	}

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, members)
	}

	return g.Wait()
}

// supervise runs one member. Exclusive members on a shared bus first take a
// lock named after the agent and stop when the lock is lost.
func (a *App) supervise(ctx context.Context, deps *Dependencies, m member) error {
	name := m.unit.Runner().Name()
	if !m.exclusive || deps.Locks == nil {
		return m.unit.Run(ctx)
	}

	ttl := a.cfg.Bus.LockTTL.Duration
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	lock, err := deps.Locks.Acquire(ctx, "polyarb:agent:"+name, ttl)
	if err != nil {
		return fmt.Errorf("app: agent %s: %w", name, err)
	}
	a.logger.InfoContext(ctx, "agent lock acquired", slog.String("agent", name))

	holdCtx, stopHold := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(holdCtx)
	g.Go(func() error {
		if err := lock.Hold(gctx, ttl); err != nil {
			return fmt.Errorf("app: agent %s: %w", name, err)
		}
		return nil
	})
	g.Go(func() error {
		defer stopHold()
		return m.unit.Run(gctx)
	})
	return g.Wait()
}

// startHTTPServer adds the operator API to g. The server is shut down
// gracefully when the context is cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, members []member) {
	providers := make([]domain.SnapshotProvider, len(members))
	for i, m := range members {
		providers[i] = m.unit
	}

	var auditHandler *handler.AuditHandler
	if deps.Audit != nil {
		auditHandler = handler.NewAuditHandler(deps.Audit, a.logger)
	}

	sc := a.cfg.Server
	srv := server.NewServer(server.Config{
		Port:        sc.Port,
		CORSOrigins: sc.CORSOrigins,
		APIKey:      sc.APIKey,
		RateLimit:   sc.RateLimit,
		RateWindow:  sc.RateWindow.Duration,
	}, server.Handlers{
		Health:   handler.NewHealthHandler(a.cfg.Mode, deps.Checks, a.logger),
		Agents:   handler.NewAgentsHandler(providers, a.logger),
		Commands: handler.NewCommandHandler(deps.Bus, deps.Notifier, deps.Audit, a.logger),
		Trades:   handler.NewTradeHandler(deps.Journal, a.logger),
		Audit:    auditHandler,
	}, deps.RateLimiter, a.logger)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}
