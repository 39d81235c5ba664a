package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies POLYARB_* environment variable overrides, and
// returns the final Config. An empty path skips the file. The returned Config
// has NOT been validated; the caller should invoke Config.Validate() after
// Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// Parse decodes TOML text over the defaults without consulting the
// environment.
func Parse(data string) (*Config, error) {
	cfg := Defaults()
	if _, err := toml.Decode(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	return &cfg, nil
}

// applyEnvOverrides reads well-known POLYARB_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Bus ──
	setStr(&cfg.Bus.Backend, "POLYARB_BUS_BACKEND")
	setInt64(&cfg.Bus.MaxLen, "POLYARB_BUS_MAX_LEN")
	setDuration(&cfg.Bus.ClaimIdle, "POLYARB_BUS_CLAIM_IDLE")
	setInt(&cfg.Bus.BatchSize, "POLYARB_BUS_BATCH_SIZE")
	setDuration(&cfg.Bus.PollInterval, "POLYARB_BUS_POLL_INTERVAL")
	setDuration(&cfg.Bus.LockTTL, "POLYARB_BUS_LOCK_TTL")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "POLYARB_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "POLYARB_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "POLYARB_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "POLYARB_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "POLYARB_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "POLYARB_REDIS_TLS_ENABLED")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "POLYARB_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "POLYARB_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "POLYARB_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "POLYARB_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "POLYARB_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "POLYARB_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "POLYARB_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "POLYARB_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "POLYARB_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "POLYARB_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "POLYARB_POSTGRES_RUN_MIGRATIONS")

	// ── Venues ──
	setDuration(&cfg.Venues.PollInterval, "POLYARB_VENUES_POLL_INTERVAL")
	setFloat64(&cfg.Venues.RateLimit, "POLYARB_VENUES_RATE_LIMIT")
	setBool(&cfg.Venues.Polymarket.Enabled, "POLYARB_VENUES_POLYMARKET_ENABLED")
	setStr(&cfg.Venues.Polymarket.BaseURL, "POLYARB_VENUES_POLYMARKET_BASE_URL")
	setBool(&cfg.Venues.Polymarket.Events, "POLYARB_VENUES_POLYMARKET_EVENTS")
	setBool(&cfg.Venues.Kalshi.Enabled, "POLYARB_VENUES_KALSHI_ENABLED")
	setStr(&cfg.Venues.Kalshi.BaseURL, "POLYARB_VENUES_KALSHI_BASE_URL")
	setStr(&cfg.Venues.Kalshi.APIKey, "POLYARB_VENUES_KALSHI_API_KEY")
	setStr(&cfg.Venues.Kalshi.PrivateKeyPath, "POLYARB_VENUES_KALSHI_PRIVATE_KEY_PATH")
	setStringSlice(&cfg.Venues.Kalshi.BookTickers, "POLYARB_VENUES_KALSHI_BOOK_TICKERS")

	// ── Scanner ──
	setStringSlice(&cfg.Scanner.Venues, "POLYARB_SCANNER_VENUES")
	setStringSlice(&cfg.Scanner.MultiTopics, "POLYARB_SCANNER_MULTI_TOPICS")
	setFloat64(&cfg.Scanner.MinEdge, "POLYARB_SCANNER_MIN_EDGE")
	setFloat64(&cfg.Scanner.MinSignalStrength, "POLYARB_SCANNER_MIN_SIGNAL_STRENGTH")
	setDuration(&cfg.Scanner.Cooldown, "POLYARB_SCANNER_COOLDOWN")

	// ── Risk ──
	setFloat64(&cfg.Risk.Bankroll, "POLYARB_RISK_BANKROLL")
	setFloat64(&cfg.Risk.PositionLimitPct, "POLYARB_RISK_POSITION_LIMIT_PCT")
	setFloat64(&cfg.Risk.PlatformLimitPct, "POLYARB_RISK_PLATFORM_LIMIT_PCT")
	setFloat64(&cfg.Risk.DailyLossLimitPct, "POLYARB_RISK_DAILY_LOSS_LIMIT_PCT")
	setFloat64(&cfg.Risk.MaxDrawdownPct, "POLYARB_RISK_MAX_DRAWDOWN_PCT")
	setFloat64(&cfg.Risk.KillSwitchLossPct, "POLYARB_RISK_KILL_SWITCH_LOSS_PCT")

	// ── Allocator ──
	setFloat64(&cfg.Allocator.TotalCapital, "POLYARB_ALLOCATOR_TOTAL_CAPITAL")
	setInt(&cfg.Allocator.RebalanceEvery, "POLYARB_ALLOCATOR_REBALANCE_EVERY")

	// ── Executor ──
	setFloat64(&cfg.Executor.PaperFeeRate, "POLYARB_EXECUTOR_PAPER_FEE_RATE")
	setDuration(&cfg.Executor.PendingTTL, "POLYARB_EXECUTOR_PENDING_TTL")

	// ── Oracle ──
	setBool(&cfg.Oracle.Binance.Enabled, "POLYARB_ORACLE_BINANCE_ENABLED")
	setStr(&cfg.Oracle.Binance.Transport, "POLYARB_ORACLE_BINANCE_TRANSPORT")
	setStringSlice(&cfg.Oracle.Binance.Symbols, "POLYARB_ORACLE_BINANCE_SYMBOLS")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "POLYARB_ARCHIVE_ENABLED")
	setDuration(&cfg.Archive.Interval, "POLYARB_ARCHIVE_INTERVAL")
	setStr(&cfg.Archive.Prefix, "POLYARB_ARCHIVE_PREFIX")
	setStr(&cfg.Archive.S3.Endpoint, "POLYARB_ARCHIVE_S3_ENDPOINT")
	setStr(&cfg.Archive.S3.Region, "POLYARB_ARCHIVE_S3_REGION")
	setStr(&cfg.Archive.S3.Bucket, "POLYARB_ARCHIVE_S3_BUCKET")
	setStr(&cfg.Archive.S3.AccessKey, "POLYARB_ARCHIVE_S3_ACCESS_KEY")
	setStr(&cfg.Archive.S3.SecretKey, "POLYARB_ARCHIVE_S3_SECRET_KEY")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "POLYARB_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "POLYARB_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "POLYARB_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "POLYARB_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "POLYARB_SERVER_RATE_LIMIT")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "POLYARB_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "POLYARB_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "POLYARB_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "POLYARB_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "POLYARB_MODE")
	setStr(&cfg.LogLevel, "POLYARB_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
