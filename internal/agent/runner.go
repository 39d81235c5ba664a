// Package agent implements the polling loop shared by every pipeline agent.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alanyoungcy/polyarb/internal/bus"
	"github.com/alanyoungcy/polyarb/internal/domain"
	"github.com/alanyoungcy/polyarb/internal/metrics"
)

// Handler processes one message. A returned error is logged and the message
// is acknowledged anyway.
type Handler func(ctx context.Context, msg domain.Message) error

// CommandHook runs when the agent observes a control command.
type CommandHook func(ctx context.Context, cmd domain.Command)

// Config holds the loop tunables of one agent.
type Config struct {
	Name     string
	Kind     string
	Group    string // consumer group for data topics, defaults to Name
	Consumer string // consumer id within Group, defaults to Name

	BatchSize    int           // max messages fetched per topic per cycle
	FetchTimeout time.Duration // max wait of one Consume call
	PollInterval time.Duration // sleep between cycles
}

func (c *Config) applyDefaults() {
	if c.Group == "" {
		c.Group = c.Name
	}
	if c.Consumer == "" {
		c.Consumer = c.Name
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 10
	}
	if c.FetchTimeout < 0 {
		c.FetchTimeout = 0
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 100 * time.Millisecond
	}
}

type subscription struct {
	topic  string
	handle Handler
}

// Runner drives one agent: it polls system.commands ahead of its data
// subscriptions every cycle and dispatches messages one at a time.
type Runner struct {
	cfg    Config
	bus    domain.Bus
	logger *slog.Logger

	subs     []subscription
	onHalt   []CommandHook
	onResume []CommandHook
	onCycle  []func(ctx context.Context)

	setupOnce sync.Once
	setupErr  error

	halted    atomic.Bool
	running   atomic.Bool
	stopped   atomic.Bool
	processed atomic.Int64
	failed    atomic.Int64
	lastMsgAt atomic.Int64

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewRunner creates a Runner. Subscriptions and hooks are registered before Run.
func NewRunner(b domain.Bus, cfg Config, logger *slog.Logger) *Runner {
	cfg.applyDefaults()
	return &Runner{
		cfg:    cfg,
		bus:    b,
		logger: logger.With(slog.String("agent", cfg.Name)),
	}
}

// Subscribe registers h for topic.
func (r *Runner) Subscribe(topic string, h Handler) {
	r.subs = append(r.subs, subscription{topic: topic, handle: h})
}

// OnHalt registers a hook fired when HALT_ALL is observed.
func (r *Runner) OnHalt(h CommandHook) { r.onHalt = append(r.onHalt, h) }

// OnResume registers a hook fired when RESUME_ALL is observed.
func (r *Runner) OnResume(h CommandHook) { r.onResume = append(r.onResume, h) }

// OnCycle registers a function run at the end of every cycle.
func (r *Runner) OnCycle(fn func(ctx context.Context)) { r.onCycle = append(r.onCycle, fn) }

// Name returns the agent name.
func (r *Runner) Name() string { return r.cfg.Name }

// Halted reports whether HALT_ALL is in effect for this agent.
func (r *Runner) Halted() bool { return r.halted.Load() }

// Topics returns the subscribed data topics in registration order.
func (r *Runner) Topics() []string {
	out := make([]string, len(r.subs))
	for i, s := range r.subs {
		out[i] = s.topic
	}
	return out
}

// Setup creates the consumer groups. The command group is named after the
// agent so every agent receives every command.
func (r *Runner) Setup(ctx context.Context) error {
	r.setupOnce.Do(func() {
		if err := r.bus.CreateGroup(ctx, bus.TopicCommands, r.cfg.Name); err != nil {
			r.setupErr = fmt.Errorf("agent %s: create command group: %w", r.cfg.Name, err)
			return
		}
		for _, s := range r.subs {
			if err := r.bus.CreateGroup(ctx, s.topic, r.cfg.Group); err != nil {
				r.setupErr = fmt.Errorf("agent %s: create group on %s: %w", r.cfg.Name, s.topic, err)
				return
			}
		}
	})
	return r.setupErr
}

// Run loops until ctx is cancelled or Stop is called.
func (r *Runner) Run(ctx context.Context) error {
	if err := r.Setup(ctx); err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	r.mu.Lock()
	r.cancel = cancel
	r.mu.Unlock()

	r.running.Store(true)
	defer r.running.Store(false)
	r.logger.Info("agent started", slog.String("kind", r.cfg.Kind), slog.Any("topics", r.Topics()))

	for {
		if r.stopped.Load() || ctx.Err() != nil {
			r.logger.Info("agent stopped")
			return nil
		}
		if err := r.cycle(ctx); err != nil && ctx.Err() == nil {
			r.logger.Error("agent cycle failed", slog.String("error", err.Error()))
		}
		select {
		case <-ctx.Done():
		case <-time.After(r.cfg.PollInterval):
		}
	}
}

// RunOnce executes a single cycle.
func (r *Runner) RunOnce(ctx context.Context) error {
	if err := r.Setup(ctx); err != nil {
		return err
	}
	return r.cycle(ctx)
}

// Stop ends Run after the current message and interrupts an in-flight read.
func (r *Runner) Stop() {
	r.stopped.Store(true)
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		r.cancel()
	}
}

func (r *Runner) cycle(ctx context.Context) error {
	var errs []error
	if err := r.pollCommands(ctx); err != nil {
		errs = append(errs, err)
	}
	for _, s := range r.subs {
		if r.stopped.Load() || ctx.Err() != nil {
			break
		}
		msgs, err := r.bus.Consume(ctx, s.topic, r.cfg.Group, r.cfg.Consumer, r.cfg.BatchSize, r.cfg.FetchTimeout)
		if err != nil {
			errs = append(errs, fmt.Errorf("consume %s: %w", s.topic, err))
			continue
		}
		for _, msg := range msgs {
			r.dispatch(ctx, s.handle, msg)
			if err := r.bus.Ack(ctx, s.topic, r.cfg.Group, msg.ID); err != nil {
				errs = append(errs, fmt.Errorf("ack %s %s: %w", s.topic, msg.ID, err))
			}
		}
	}
	for _, fn := range r.onCycle {
		fn(ctx)
	}
	return errors.Join(errs...)
}

func (r *Runner) pollCommands(ctx context.Context) error {
	msgs, err := r.bus.Consume(ctx, bus.TopicCommands, r.cfg.Name, r.cfg.Consumer, r.cfg.BatchSize, 0)
	if err != nil {
		return fmt.Errorf("consume commands: %w", err)
	}
	for _, msg := range msgs {
		r.dispatch(ctx, r.handleCommand, msg)
		if err := r.bus.Ack(ctx, bus.TopicCommands, r.cfg.Name, msg.ID); err != nil {
			return fmt.Errorf("ack command %s: %w", msg.ID, err)
		}
	}
	return nil
}

func (r *Runner) handleCommand(ctx context.Context, msg domain.Message) error {
	var cmd domain.Command
	if err := bus.Decode(msg.Payload, &cmd); err != nil {
		return err
	}
	switch cmd.Command {
	case domain.CommandHaltAll:
		r.halted.Store(true)
		metrics.Halted.WithLabelValues(r.cfg.Name).Set(1)
		r.logger.Warn("halt observed", slog.String("reason", cmd.Reason), slog.String("issued_by", cmd.IssuedBy))
		for _, h := range r.onHalt {
			h(ctx, cmd)
		}
	case domain.CommandResumeAll:
		r.halted.Store(false)
		metrics.Halted.WithLabelValues(r.cfg.Name).Set(0)
		r.logger.Info("resume observed", slog.String("issued_by", cmd.IssuedBy))
		for _, h := range r.onResume {
			h(ctx, cmd)
		}
	default:
		r.logger.Debug("ignoring unknown command", slog.String("command", cmd.Command))
	}
	return nil
}

// dispatch runs h, converting a panic into a logged failure.
func (r *Runner) dispatch(ctx context.Context, h Handler, msg domain.Message) {
	err := func() (err error) {
		defer func() {
			if p := recover(); p != nil {
				err = fmt.Errorf("panic: %v", p)
			}
		}()
		return h(ctx, msg)
	}()

	r.lastMsgAt.Store(time.Now().UnixNano())
	if err != nil {
		r.failed.Add(1)
		metrics.HandlerFailures.WithLabelValues(r.cfg.Name, msg.Topic).Inc()
		r.logger.Error("message handler failed",
			slog.String("channel", msg.Topic),
			slog.String("message_id", msg.ID),
			slog.String("error", err.Error()),
		)
		return
	}
	r.processed.Add(1)
}

// Snapshot returns the runtime counters. Agents add their own Details.
func (r *Runner) Snapshot() domain.AgentSnapshot {
	s := domain.AgentSnapshot{
		Name:      r.cfg.Name,
		Kind:      r.cfg.Kind,
		Running:   r.running.Load(),
		Halted:    r.halted.Load(),
		Processed: r.processed.Load(),
		Failed:    r.failed.Load(),
	}
	if ns := r.lastMsgAt.Load(); ns > 0 {
		s.LastMessageAt = time.Unix(0, ns).UTC()
	}
	return s
}
