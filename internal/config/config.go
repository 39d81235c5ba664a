// Package config defines the top-level configuration for the arbitrage
// pipeline and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by POLYARB_* environment variables.
type Config struct {
	Mode       string           `toml:"mode"`
	LogLevel   string           `toml:"log_level"`
	Bus        BusConfig        `toml:"bus"`
	Redis      RedisConfig      `toml:"redis"`
	Postgres   PostgresConfig   `toml:"postgres"`
	Venues     VenuesConfig     `toml:"venues"`
	Scanner    ScannerConfig    `toml:"scanner"`
	Risk       RiskConfig       `toml:"risk"`
	Allocator  AllocatorConfig  `toml:"allocator"`
	Strategies []StrategyConfig `toml:"strategies"`
	Executor   ExecutorConfig   `toml:"executor"`
	Oracle     OracleConfig     `toml:"oracle"`
	Archive    ArchiveConfig    `toml:"archive"`
	Server     ServerConfig     `toml:"server"`
	Notify     NotifyConfig     `toml:"notify"`
}

// BusConfig selects the message bus and the polling tunables shared by every
// agent.
type BusConfig struct {
	Backend      string   `toml:"backend"` // memory | redis
	MaxLen       int64    `toml:"max_len"`
	ClaimIdle    duration `toml:"claim_idle"`
	BatchSize    int      `toml:"batch_size"`
	FetchTimeout duration `toml:"fetch_timeout"`
	PollInterval duration `toml:"poll_interval"`
	LockTTL      duration `toml:"lock_ttl"` // single-instance lock for stateful agents, redis only
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// PostgresConfig holds the trade journal database parameters.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// VenuesConfig holds the venue pollers that feed market snapshots onto the
// bus.
type VenuesConfig struct {
	PollInterval duration         `toml:"poll_interval"`
	RateLimit    float64          `toml:"rate_limit"` // polls per second per venue
	Polymarket   PolymarketConfig `toml:"polymarket"`
	Kalshi       KalshiConfig     `toml:"kalshi"`
}

// PolymarketConfig configures the Gamma API poller.
type PolymarketConfig struct {
	Enabled bool   `toml:"enabled"`
	BaseURL string `toml:"base_url"`
	Limit   int    `toml:"limit"`
	Events  bool   `toml:"events"` // neg-risk events as multi-outcome snapshots
}

// KalshiConfig configures the Kalshi trade API poller.
type KalshiConfig struct {
	Enabled        bool     `toml:"enabled"`
	BaseURL        string   `toml:"base_url"`
	Limit          int      `toml:"limit"`
	APIKey         string   `toml:"api_key"`
	PrivateKeyPath string   `toml:"private_key_path"`
	BookTickers    []string `toml:"book_tickers"`
}

// ScannerConfig holds detection thresholds and the market wiring the scanner
// needs up front.
type ScannerConfig struct {
	Venues              []string            `toml:"venues"`
	MultiTopics         []string            `toml:"multi_topics"`
	MinEdge             float64             `toml:"min_edge"`
	MinSignalStrength   float64             `toml:"min_signal_strength"`
	StalePriceThreshold float64             `toml:"stale_price_threshold"`
	ResolvedBand        float64             `toml:"resolved_band"`
	SaturationBuffer    float64             `toml:"saturation_buffer"`
	MaxCredibleEdge     float64             `toml:"max_credible_edge"`
	Cooldown            duration            `toml:"cooldown"`
	MaxSnapshotAge      duration            `toml:"max_snapshot_age"`
	Thresholds          []ThresholdConfig   `toml:"thresholds"`
	Events              map[string][]string `toml:"events"`
}

// ThresholdConfig registers a market against an oracle condition.
type ThresholdConfig struct {
	MarketID  string  `toml:"market_id"`
	Source    string  `toml:"source"`
	Symbol    string  `toml:"symbol"`
	Threshold float64 `toml:"threshold"`
	Direction string  `toml:"direction"` // above | below
}

// RiskConfig holds the guardian's limits. Percentages are fractions of
// bankroll.
type RiskConfig struct {
	Bankroll          float64  `toml:"bankroll"`
	PositionLimitPct  float64  `toml:"position_limit_pct"`
	PlatformLimitPct  float64  `toml:"platform_limit_pct"`
	DailyLossLimitPct float64  `toml:"daily_loss_limit_pct"`
	MaxDrawdownPct    float64  `toml:"max_drawdown_pct"`
	KillSwitchLossPct float64  `toml:"kill_switch_loss_pct"`
	MinProfit         float64  `toml:"min_profit"`
	MaxSlippage       float64  `toml:"max_slippage"`
	BookMaxAge        duration `toml:"book_max_age"`
}

// AllocatorConfig holds the capital allocator's bounds.
type AllocatorConfig struct {
	TotalCapital     float64 `toml:"total_capital"`
	MinAllocationPct float64 `toml:"min_allocation_pct"`
	MaxAllocationPct float64 `toml:"max_allocation_pct"`
	RebalanceEvery   int     `toml:"rebalance_every"`
}

// StrategyConfig declares one strategy agent.
type StrategyConfig struct {
	Name              string            `toml:"name"`
	Evaluator         string            `toml:"evaluator"`
	Types             []string          `toml:"types"`
	BaseSize          float64           `toml:"base_size"`
	MinEdge           float64           `toml:"min_edge"`
	MinSignalStrength float64           `toml:"min_signal_strength"`
	Params            map[string]string `toml:"params"`
}

// ExecutorConfig holds executor settings.
type ExecutorConfig struct {
	PaperFeeRate float64  `toml:"paper_fee_rate"`
	PendingTTL   duration `toml:"pending_ttl"`
}

// OracleConfig holds the oracle producers.
type OracleConfig struct {
	PollInterval     duration      `toml:"poll_interval"`
	RateLimit        float64       `toml:"rate_limit"`
	ReconnectFloor   duration      `toml:"reconnect_floor"`
	ReconnectCeiling duration      `toml:"reconnect_ceiling"`
	Binance          BinanceConfig `toml:"binance"`
}

// BinanceConfig selects the Binance source and the symbols it follows.
type BinanceConfig struct {
	Enabled   bool     `toml:"enabled"`
	Transport string   `toml:"transport"` // stream | poll
	StreamURL string   `toml:"stream_url"`
	RESTURL   string   `toml:"rest_url"`
	Symbols   []string `toml:"symbols"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ArchiveConfig schedules trade journal uploads to S3-compatible storage.
type ArchiveConfig struct {
	Enabled  bool     `toml:"enabled"`
	Interval duration `toml:"interval"`
	Prefix   string   `toml:"prefix"`
	PageSize int      `toml:"page_size"`
	S3       S3Config `toml:"s3"`
}

// S3Config holds S3-compatible storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"` // empty for AWS
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
	RateLimit   int      `toml:"rate_limit"`
	RateWindow  duration `toml:"rate_window"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with paper-trading defaults.
func Defaults() Config {
	return Config{
		Mode:     "paper",
		LogLevel: "info",
		Bus: BusConfig{
			Backend:      "memory",
			MaxLen:       100_000,
			ClaimIdle:    duration{time.Minute},
			BatchSize:    10,
			FetchTimeout: duration{250 * time.Millisecond},
			PollInterval: duration{50 * time.Millisecond},
			LockTTL:      duration{30 * time.Second},
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "polyarb",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Venues: VenuesConfig{
			PollInterval: duration{10 * time.Second},
			RateLimit:    1,
			Polymarket:   PolymarketConfig{Limit: 100, Events: true},
			Kalshi:       KalshiConfig{Limit: 100},
		},
		Scanner: ScannerConfig{
			Venues:              []string{"polymarket", "kalshi"},
			MinEdge:             0.02,
			MinSignalStrength:   0.1,
			StalePriceThreshold: 0.01,
			ResolvedBand:        0.02,
			SaturationBuffer:    0.05,
			MaxCredibleEdge:     0.30,
			Cooldown:            duration{60 * time.Second},
			Events:              map[string][]string{},
		},
		Risk: RiskConfig{
			Bankroll:          1000,
			PositionLimitPct:  0.10,
			PlatformLimitPct:  0.50,
			DailyLossLimitPct: 0.05,
			MaxDrawdownPct:    0.20,
			KillSwitchLossPct: 0.10,
			MaxSlippage:       0.02,
			BookMaxAge:        duration{30 * time.Second},
		},
		Allocator: AllocatorConfig{
			TotalCapital:     1000,
			MinAllocationPct: 0.05,
			MaxAllocationPct: 0.50,
			RebalanceEvery:   10,
		},
		Strategies: []StrategyConfig{
			{Name: "arb", Evaluator: "arb", BaseSize: 100},
		},
		Executor: ExecutorConfig{
			PaperFeeRate: 0.01,
			PendingTTL:   duration{5 * time.Minute},
		},
		Oracle: OracleConfig{
			PollInterval:     duration{5 * time.Second},
			RateLimit:        1,
			ReconnectFloor:   duration{time.Second},
			ReconnectCeiling: duration{time.Minute},
			Binance: BinanceConfig{
				Transport: "stream",
				Symbols:   []string{"BTCUSDT", "ETHUSDT"},
			},
		},
		Archive: ArchiveConfig{
			Interval: duration{time.Hour},
			Prefix:   "archive/trades",
			PageSize: 500,
			S3: S3Config{
				Region:         "us-east-1",
				UseSSL:         true,
				ForcePathStyle: true,
			},
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:   20,
			RateWindow:  duration{time.Second},
		},
		Notify: NotifyConfig{
			Events: []string{"halt", "kill_switch", "fill"},
		},
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"paper": true,
	"live":  true,
	"scan":  true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validOpportunityTypes = map[string]bool{
	"cross_platform": true,
	"oracle_lag":     true,
	"temporal":       true,
	"mispricing":     true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: paper, live, scan)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Bus
	switch c.Bus.Backend {
	case "memory":
	case "redis":
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty when bus.backend is redis")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	default:
		errs = append(errs, fmt.Sprintf("bus: unknown backend %q (valid: memory, redis)", c.Bus.Backend))
	}
	if c.Bus.BatchSize < 1 {
		errs = append(errs, "bus: batch_size must be >= 1")
	}

	// Postgres
	if c.Postgres.Enabled {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	}

	// Venues
	if c.Venues.Polymarket.Enabled || c.Venues.Kalshi.Enabled {
		if c.Venues.PollInterval.Duration <= 0 {
			errs = append(errs, "venues: poll_interval must be > 0")
		}
		if c.Venues.RateLimit <= 0 {
			errs = append(errs, "venues: rate_limit must be > 0")
		}
	}
	if c.Venues.Kalshi.PrivateKeyPath != "" && c.Venues.Kalshi.APIKey == "" {
		errs = append(errs, "venues: kalshi.api_key is required with kalshi.private_key_path")
	}

	// Scanner
	if c.Scanner.MinEdge < 0 {
		errs = append(errs, "scanner: min_edge must be >= 0")
	}
	if c.Scanner.MinSignalStrength < 0 || c.Scanner.MinSignalStrength > 1 {
		errs = append(errs, "scanner: min_signal_strength must be within [0, 1]")
	}
	if c.Scanner.MaxCredibleEdge <= c.Scanner.MinEdge {
		errs = append(errs, "scanner: max_credible_edge must exceed min_edge")
	}
	for i, th := range c.Scanner.Thresholds {
		if th.MarketID == "" || th.Symbol == "" {
			errs = append(errs, fmt.Sprintf("scanner: thresholds[%d]: market_id and symbol are required", i))
		}
		if th.Threshold <= 0 {
			errs = append(errs, fmt.Sprintf("scanner: thresholds[%d]: threshold must be > 0", i))
		}
		if th.Direction != "above" && th.Direction != "below" {
			errs = append(errs, fmt.Sprintf("scanner: thresholds[%d]: direction must be above or below, got %q", i, th.Direction))
		}
	}

	// Risk
	if c.Risk.Bankroll <= 0 {
		errs = append(errs, "risk: bankroll must be > 0")
	}
	for name, v := range map[string]float64{
		"position_limit_pct":   c.Risk.PositionLimitPct,
		"platform_limit_pct":   c.Risk.PlatformLimitPct,
		"daily_loss_limit_pct": c.Risk.DailyLossLimitPct,
		"max_drawdown_pct":     c.Risk.MaxDrawdownPct,
		"kill_switch_loss_pct": c.Risk.KillSwitchLossPct,
	} {
		if v < 0 || v > 1 {
			errs = append(errs, fmt.Sprintf("risk: %s must be within [0, 1], got %g", name, v))
		}
	}

	// Allocator
	if c.Allocator.TotalCapital <= 0 {
		errs = append(errs, "allocator: total_capital must be > 0")
	}
	if c.Allocator.MinAllocationPct > c.Allocator.MaxAllocationPct {
		errs = append(errs, "allocator: min_allocation_pct must not exceed max_allocation_pct")
	}

	// Strategies
	if c.Mode != "scan" && len(c.Strategies) == 0 {
		errs = append(errs, "strategies: at least one strategy is required outside scan mode")
	}
	seen := make(map[string]bool, len(c.Strategies))
	for i, s := range c.Strategies {
		if s.Name == "" {
			errs = append(errs, fmt.Sprintf("strategies[%d]: name must not be empty", i))
		}
		if seen[s.Name] {
			errs = append(errs, fmt.Sprintf("strategies[%d]: duplicate name %q", i, s.Name))
		}
		seen[s.Name] = true
		if s.BaseSize <= 0 {
			errs = append(errs, fmt.Sprintf("strategies[%d]: base_size must be > 0", i))
		}
		for _, t := range s.Types {
			if !validOpportunityTypes[t] {
				errs = append(errs, fmt.Sprintf("strategies[%d]: unknown opportunity type %q", i, t))
			}
		}
	}

	// Executor
	if c.Executor.PaperFeeRate < 0 {
		errs = append(errs, "executor: paper_fee_rate must be >= 0")
	}

	// Oracle
	if c.Oracle.Binance.Enabled {
		if len(c.Oracle.Binance.Symbols) == 0 {
			errs = append(errs, "oracle: binance.symbols must not be empty when enabled")
		}
		if t := c.Oracle.Binance.Transport; t != "stream" && t != "poll" {
			errs = append(errs, fmt.Sprintf("oracle: binance.transport must be stream or poll, got %q", t))
		}
	}
	if c.Oracle.ReconnectCeiling.Duration < c.Oracle.ReconnectFloor.Duration {
		errs = append(errs, "oracle: reconnect_ceiling must not be below reconnect_floor")
	}

	// Archive
	if c.Archive.Enabled {
		if c.Archive.S3.Bucket == "" {
			errs = append(errs, "archive: s3.bucket must not be empty when enabled")
		}
		if c.Archive.S3.Region == "" {
			errs = append(errs, "archive: s3.region must not be empty when enabled")
		}
		if c.Archive.Interval.Duration <= 0 {
			errs = append(errs, "archive: interval must be > 0")
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
