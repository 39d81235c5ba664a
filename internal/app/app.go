// Package app provides the top-level application lifecycle for the arbitrage
// pipeline. It wires the bus, the trade journal and notifications, builds the
// agents of the configured mode and supervises them until shutdown.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/polyarb/internal/config"
	"github.com/alanyoungcy/polyarb/internal/domain"
)

// App runs one pipeline mode. Resources opened by Wire are released by Close
// in reverse order.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	placer  domain.OrderPlacer
	closers []func()
}

// Option configures an App.
type Option func(*App)

// WithOrderPlacer injects the venue adapter used by live mode.
func WithOrderPlacer(p domain.OrderPlacer) Option {
	return func(a *App) { a.placer = p }
}

// New creates an App. Nothing is connected until Run.
func New(cfg *config.Config, logger *slog.Logger, opts ...Option) *App {
	a := &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Run wires the dependencies, builds the agents of the configured mode and
// blocks until ctx is cancelled or an agent fails.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting application",
		slog.String("mode", a.cfg.Mode),
		slog.String("log_level", a.cfg.LogLevel),
		slog.String("bus", a.cfg.Bus.Backend),
	)

	mode := strings.ToLower(a.cfg.Mode)
	switch mode {
	case "paper", "scan":
	case "live":
		if a.placer == nil {
			return fmt.Errorf("app: live mode: %w", domain.ErrNoOrderPlacer)
		}
	default:
		return fmt.Errorf("app: unsupported mode %q", a.cfg.Mode)
	}

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	members, err := a.buildAgents(mode, deps)
	if err != nil {
		return err
	}
	a.logger.InfoContext(ctx, "agents built", slog.Int("count", len(members)))
	return a.runMembers(ctx, deps, members)
}

// Close releases everything Run opened. Repeated calls do nothing.
func (a *App) Close() {
	if len(a.closers) > 0 {
		a.logger.Info("releasing resources", slog.Int("count", len(a.closers)))
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
