package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/alanyoungcy/polyarb/internal/blob/s3"
	"github.com/alanyoungcy/polyarb/internal/bus"
	"github.com/alanyoungcy/polyarb/internal/cache/redis"
	"github.com/alanyoungcy/polyarb/internal/config"
	"github.com/alanyoungcy/polyarb/internal/domain"
	"github.com/alanyoungcy/polyarb/internal/notify"
	"github.com/alanyoungcy/polyarb/internal/server/handler"
	"github.com/alanyoungcy/polyarb/internal/server/middleware"
	"github.com/alanyoungcy/polyarb/internal/store/memory"
	"github.com/alanyoungcy/polyarb/internal/store/postgres"
)

// Dependencies bundles the infrastructure the modes share. It is constructed
// by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	Bus         domain.Bus
	Journal     domain.TradeJournal
	Audit       domain.AuditLog
	Notifier    *notify.Notifier
	RateLimiter domain.RateLimiter

	// Locks is nil on the in-memory bus, where a single process owns every
	// agent anyway.
	Locks *redis.LockManager

	// Blob is nil unless the journal archive is enabled.
	Blob domain.BlobWriter

	// Checks feed GET /api/health.
	Checks map[string]handler.Check
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{Checks: make(map[string]handler.Check)}

	// --- Bus ---
	switch cfg.Bus.Backend {
	case "redis":
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		sb := redis.NewStreamBus(redisClient, redis.StreamBusConfig{
			MaxLen:    cfg.Bus.MaxLen,
			ClaimIdle: cfg.Bus.ClaimIdle.Duration,
		})
		deps.Bus = sb
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.Locks = redis.NewLockManager(redisClient)
		deps.Checks["redis"] = redisClient.Ping
	default:
		mb := bus.NewMemoryBus(bus.MemoryConfig{
			MaxLen:    int(cfg.Bus.MaxLen),
			ClaimIdle: cfg.Bus.ClaimIdle.Duration,
		})
		closers = append(closers, func() { _ = mb.Close() })
		deps.Bus = mb
		deps.RateLimiter = middleware.NewLocalLimiter()
	}

	// --- Trade journal and audit log ---
	if cfg.Postgres.Enabled {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}
		deps.Journal = postgres.NewJournal(pgClient.Pool())
		deps.Audit = postgres.NewAuditStore(pgClient.Pool())
		deps.Checks["postgres"] = pgClient.Ping
	} else {
		deps.Journal = memory.NewJournal(0)
		deps.Audit = memory.NewAuditLog(0)
	}

	// --- Journal archive ---
	if cfg.Archive.Enabled {
		sc := cfg.Archive.S3
		blobClient, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       sc.Endpoint,
			Region:         sc.Region,
			Bucket:         sc.Bucket,
			AccessKey:      sc.AccessKey,
			SecretKey:      sc.SecretKey,
			UseSSL:         sc.UseSSL,
			ForcePathStyle: sc.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		deps.Blob = s3blob.NewWriter(blobClient)
		deps.Checks["s3"] = blobClient.Health
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}
