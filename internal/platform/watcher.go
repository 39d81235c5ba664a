// Package platform publishes venue market data onto the bus. Venue clients
// live in subpackages and implement Source; a Watcher polls one of them.
package platform

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/alanyoungcy/polyarb/internal/agent"
	"github.com/alanyoungcy/polyarb/internal/bus"
	"github.com/alanyoungcy/polyarb/internal/domain"
	"github.com/alanyoungcy/polyarb/internal/metrics"
)

// MultiName is the topic name segment of multi-outcome snapshots, as in
// venue.<venue>.events.multi.
const MultiName = "events"

// Update is one poll's worth of venue data.
type Update struct {
	Markets []domain.Market
	Multi   []domain.MultiOutcomeMarket
	Books   []domain.OrderBook
}

// Source is a pull-based venue client.
type Source interface {
	Venue() string
	Poll(ctx context.Context) (Update, error)
}

// Config holds the polling settings of one watcher.
type Config struct {
	Loop         agent.Config
	PollInterval time.Duration
	RateLimit    float64 // max polls per second
	Burst        int
}

// Watcher polls a Source and publishes market snapshots, multi-outcome
// snapshots and order books to the venue's topics. While halted it keeps
// polling but drops what it reads.
type Watcher struct {
	cfg    Config
	bus    domain.Bus
	src    Source
	runner *agent.Runner
	logger *slog.Logger
	sleep  func(ctx context.Context, d time.Duration) error

	polls     atomic.Int64
	failures  atomic.Int64
	published atomic.Int64
	dropped   atomic.Int64
	lastPoll  atomic.Int64 // unix nanos
}

// NewWatcher creates a watcher for src.
func NewWatcher(b domain.Bus, cfg Config, src Source, logger *slog.Logger) *Watcher {
	if cfg.Loop.Name == "" {
		cfg.Loop.Name = "venue_" + src.Venue()
	}
	if cfg.Loop.Kind == "" {
		cfg.Loop.Kind = "venue"
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 10 * time.Second
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 1
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	return &Watcher{
		cfg:    cfg,
		bus:    b,
		src:    src,
		runner: agent.NewRunner(b, cfg.Loop, logger),
		logger: logger.With(slog.String("component", "venue"), slog.String("venue", src.Venue())),
		sleep:  sleepCtx,
	}
}

// Runner exposes the command loop.
func (w *Watcher) Runner() *agent.Runner { return w.runner }

// Run drives the poll loop and the command loop until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	if err := w.runner.Setup(ctx); err != nil {
		return fmt.Errorf("platform: %s: %w", w.src.Venue(), err)
	}
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return w.runner.Run(ctx) })
	g.Go(func() error { return w.loop(ctx) })
	return g.Wait()
}

func (w *Watcher) loop(ctx context.Context) error {
	limiter := rate.NewLimiter(rate.Limit(w.cfg.RateLimit), w.cfg.Burst)
	for {
		if err := limiter.Wait(ctx); err != nil {
			return nil
		}
		if err := w.PollOnce(ctx); err != nil && ctx.Err() == nil {
			w.logger.Warn("venue poll failed", slog.String("error", err.Error()))
		}
		if err := w.sleep(ctx, w.cfg.PollInterval); err != nil {
			return nil
		}
	}
}

// PollOnce fetches and publishes one round of venue data. A failed poll
// publishes nothing; the next round retries.
func (w *Watcher) PollOnce(ctx context.Context) error {
	venue := w.src.Venue()
	w.polls.Add(1)
	w.lastPoll.Store(time.Now().UnixNano())

	up, err := w.src.Poll(ctx)
	if err != nil {
		w.failures.Add(1)
		metrics.VenuePolls.WithLabelValues(venue, "error").Inc()
		return fmt.Errorf("platform: poll %s: %w", venue, err)
	}
	metrics.VenuePolls.WithLabelValues(venue, "ok").Inc()

	for _, m := range up.Markets {
		w.publish(ctx, bus.PricesTopic(venue), m.ID, m)
	}
	for _, m := range up.Multi {
		w.publish(ctx, bus.MultiTopic(venue, MultiName), m.ID, m)
	}
	for _, b := range up.Books {
		w.publish(ctx, bus.BooksTopic(venue), b.MarketID, b)
	}
	return nil
}

func (w *Watcher) publish(ctx context.Context, topic, id string, v any) {
	if w.runner.Halted() {
		w.dropped.Add(1)
		return
	}
	if _, err := bus.PublishJSON(ctx, w.bus, topic, v); err != nil {
		if !errors.Is(err, context.Canceled) {
			w.logger.Error("publish venue update", slog.String("topic", topic), slog.String("id", id), slog.String("error", err.Error()))
		}
		return
	}
	w.published.Add(1)
}

// Snapshot reports poll and publish counters.
func (w *Watcher) Snapshot() domain.AgentSnapshot {
	snap := w.runner.Snapshot()
	var last string
	if ns := w.lastPoll.Load(); ns > 0 {
		last = time.Unix(0, ns).UTC().Format(time.RFC3339)
	}
	snap.Details = map[string]any{
		"venue":     w.src.Venue(),
		"polls":     w.polls.Load(),
		"failures":  w.failures.Load(),
		"published": w.published.Load(),
		"dropped":   w.dropped.Load(),
		"last_poll": last,
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

var _ domain.SnapshotProvider = (*Watcher)(nil)
