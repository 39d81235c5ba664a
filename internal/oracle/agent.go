package oracle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/alanyoungcy/polyarb/internal/agent"
	"github.com/alanyoungcy/polyarb/internal/bus"
	"github.com/alanyoungcy/polyarb/internal/domain"
	"github.com/alanyoungcy/polyarb/internal/metrics"
)

// Config holds the producer settings of one oracle agent.
type Config struct {
	Loop             agent.Config
	PollInterval     time.Duration
	RateLimit        float64 // max polls per second
	Burst            int
	ReconnectFloor   time.Duration
	ReconnectCeiling time.Duration
}

// DefaultConfig returns the settings used when a field is left zero.
func DefaultConfig() Config {
	return Config{
		Loop:             agent.Config{Kind: "oracle"},
		PollInterval:     5 * time.Second,
		RateLimit:        1,
		Burst:            1,
		ReconnectFloor:   time.Second,
		ReconnectCeiling: time.Minute,
	}
}

// Agent publishes the readings of one source. It owns the source's
// reconnect or polling loop and observes system commands through its
// runner: while halted, readings are dropped.
type Agent struct {
	cfg      Config
	bus      domain.Bus
	streamer Streamer
	poller   Poller
	source   string
	runner   *agent.Runner
	logger   *slog.Logger
	sleep    func(ctx context.Context, d time.Duration) error

	state      atomic.Value // State
	published  atomic.Int64
	dropped    atomic.Int64
	reconnects atomic.Int64

	mu   sync.Mutex
	last map[string]domain.OracleData
}

// NewStreaming creates an agent around a push-based source.
func NewStreaming(b domain.Bus, cfg Config, s Streamer, logger *slog.Logger) *Agent {
	a := newAgent(b, cfg, s.Name(), logger)
	a.streamer = s
	return a
}

// NewPolling creates an agent around a pull-based source.
func NewPolling(b domain.Bus, cfg Config, p Poller, logger *slog.Logger) *Agent {
	a := newAgent(b, cfg, p.Name(), logger)
	a.poller = p
	return a
}

func newAgent(b domain.Bus, cfg Config, source string, logger *slog.Logger) *Agent {
	def := DefaultConfig()
	if cfg.Loop.Name == "" {
		cfg.Loop.Name = "oracle_" + source
	}
	if cfg.Loop.Kind == "" {
		cfg.Loop.Kind = def.Loop.Kind
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = def.RateLimit
	}
	if cfg.Burst <= 0 {
		cfg.Burst = def.Burst
	}
	if cfg.ReconnectFloor <= 0 {
		cfg.ReconnectFloor = def.ReconnectFloor
	}
	if cfg.ReconnectCeiling <= 0 {
		cfg.ReconnectCeiling = def.ReconnectCeiling
	}

	a := &Agent{
		cfg:    cfg,
		bus:    b,
		source: source,
		runner: agent.NewRunner(b, cfg.Loop, logger),
		logger: logger.With(slog.String("component", "oracle"), slog.String("source", source)),
		sleep:  sleepCtx,
		last:   make(map[string]domain.OracleData),
	}
	a.state.Store(StateDisconnected)
	return a
}

// Runner exposes the command loop.
func (a *Agent) Runner() *agent.Runner { return a.runner }

// State reports the streaming connection state. Polling agents stay
// disconnected.
func (a *Agent) State() State { return a.state.Load().(State) }

// Run drives the source and the command loop until ctx is cancelled.
func (a *Agent) Run(ctx context.Context) error {
	if err := a.runner.Setup(ctx); err != nil {
		return fmt.Errorf("oracle: %s: %w", a.source, err)
	}
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.runner.Run(ctx) })
	g.Go(func() error {
		if a.streamer != nil {
			return a.runStream(ctx)
		}
		return a.runPoll(ctx)
	})
	return g.Wait()
}

// runStream cycles disconnected → connecting → streaming → disconnected.
// The backoff resets only after a read succeeds, so a source that accepts
// connections and immediately drops them still backs off.
func (a *Agent) runStream(ctx context.Context) error {
	bo := NewBackoff(a.cfg.ReconnectFloor, a.cfg.ReconnectCeiling)
	for ctx.Err() == nil {
		a.state.Store(StateConnecting)
		stream, err := a.streamer.Connect(ctx)
		if err != nil {
			a.state.Store(StateDisconnected)
			if ctx.Err() != nil {
				return nil
			}
			if err := a.wait(ctx, bo, "connect failed", err); err != nil {
				return nil
			}
			continue
		}

		a.state.Store(StateStreaming)
		a.logger.Info("oracle stream connected")
		err = a.consume(ctx, stream, bo)
		if cerr := stream.Close(); cerr != nil {
			a.logger.Debug("close stream", slog.String("error", cerr.Error()))
		}
		a.state.Store(StateDisconnected)
		if ctx.Err() != nil {
			return nil
		}
		if err := a.wait(ctx, bo, "stream ended", err); err != nil {
			return nil
		}
	}
	return nil
}

func (a *Agent) consume(ctx context.Context, stream Stream, bo *Backoff) error {
	for {
		data, err := stream.Recv(ctx)
		if err != nil {
			return err
		}
		bo.Reset()
		a.publish(ctx, data)
	}
}

func (a *Agent) wait(ctx context.Context, bo *Backoff, msg string, cause error) error {
	delay := bo.Next()
	a.reconnects.Add(1)
	metrics.OracleReconnects.WithLabelValues(a.source).Inc()
	attrs := []any{slog.Duration("retry_in", delay)}
	if cause != nil {
		attrs = append(attrs, slog.String("error", cause.Error()))
	}
	a.logger.Warn(msg, attrs...)
	return a.sleep(ctx, delay)
}

func (a *Agent) runPoll(ctx context.Context) error {
	limiter := rate.NewLimiter(rate.Limit(a.cfg.RateLimit), a.cfg.Burst)
	for {
		if err := limiter.Wait(ctx); err != nil {
			return nil
		}
		if err := a.PollOnce(ctx); err != nil && ctx.Err() == nil {
			a.logger.Warn("oracle poll failed", slog.String("error", err.Error()))
		}
		if err := a.sleep(ctx, a.cfg.PollInterval); err != nil {
			return nil
		}
	}
}

// PollOnce fetches and publishes one round of readings.
func (a *Agent) PollOnce(ctx context.Context) error {
	if a.poller == nil {
		return fmt.Errorf("oracle: %s is not a polling source", a.source)
	}
	data, err := a.poller.Poll(ctx)
	if err != nil {
		return fmt.Errorf("oracle: poll %s: %w", a.source, err)
	}
	a.publish(ctx, data)
	return nil
}

func (a *Agent) publish(ctx context.Context, data []domain.OracleData) {
	for _, d := range data {
		if d.Source == "" {
			d.Source = a.source
		}
		if d.Symbol == "" {
			continue
		}
		if a.runner.Halted() {
			a.dropped.Add(1)
			continue
		}
		if _, err := bus.PublishJSON(ctx, a.bus, bus.OracleTopic(d.Source, d.Symbol), d); err != nil {
			if !errors.Is(err, context.Canceled) {
				a.logger.Error("publish oracle reading", slog.String("symbol", d.Symbol), slog.String("error", err.Error()))
			}
			continue
		}
		a.published.Add(1)
		a.mu.Lock()
		a.last[d.Symbol] = d
		a.mu.Unlock()
	}
}

// Snapshot reports the connection state and the last reading per symbol.
func (a *Agent) Snapshot() domain.AgentSnapshot {
	snap := a.runner.Snapshot()
	a.mu.Lock()
	last := make(map[string]string, len(a.last))
	for sym, d := range a.last {
		last[sym] = d.Value.String()
	}
	a.mu.Unlock()

	mode := "poll"
	if a.streamer != nil {
		mode = "stream"
	}
	snap.Details = map[string]any{
		"source":     a.source,
		"mode":       mode,
		"state":      string(a.State()),
		"published":  a.published.Load(),
		"dropped":    a.dropped.Load(),
		"reconnects": a.reconnects.Load(),
		"last":       last,
	}
	return snap
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

var _ domain.SnapshotProvider = (*Agent)(nil)
