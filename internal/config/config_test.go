package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "paper", cfg.Mode)
	assert.Equal(t, "memory", cfg.Bus.Backend)
	assert.Equal(t, 5*time.Minute, cfg.Executor.PendingTTL.Duration)
}

const sample = `
mode = "live"
log_level = "debug"

[bus]
backend = "redis"
claim_idle = "45s"

[redis]
addr = "redis:6379"
password = "hunter2"

[scanner]
min_edge = 0.03
cooldown = "2m"

[[scanner.thresholds]]
market_id = "btc-100k"
source = "binance"
symbol = "BTCUSDT"
threshold = 100000
direction = "above"

[scanner.events]
election = ["cand-a", "cand-b", "cand-c"]

[[strategies]]
name = "arb"
evaluator = "arb"
types = ["mispricing", "cross_platform"]
base_size = 50

[[strategies]]
name = "lag"
evaluator = "oracle_lag"
types = ["oracle_lag"]
base_size = 25
[strategies.params]
scale = "2"

[oracle.binance]
enabled = true
transport = "poll"
symbols = ["BTCUSDT"]

[venues]
poll_interval = "15s"

[venues.polymarket]
enabled = true

[venues.kalshi]
enabled = true
api_key = "kalshi-key"
private_key_path = "/etc/polyarb/kalshi.pem"
book_tickers = ["KXBTC-100K"]
`

func TestParseOverDefaults(t *testing.T) {
	cfg, err := Parse(sample)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "live", cfg.Mode)
	assert.Equal(t, 45*time.Second, cfg.Bus.ClaimIdle.Duration)
	assert.Equal(t, 2*time.Minute, cfg.Scanner.Cooldown.Duration)
	assert.InDelta(t, 0.03, cfg.Scanner.MinEdge, 1e-9)
	assert.InDelta(t, 0.30, cfg.Scanner.MaxCredibleEdge, 1e-9, "untouched fields keep defaults")
	require.Len(t, cfg.Scanner.Thresholds, 1)
	assert.Equal(t, "above", cfg.Scanner.Thresholds[0].Direction)
	assert.Equal(t, []string{"cand-a", "cand-b", "cand-c"}, cfg.Scanner.Events["election"])
	require.Len(t, cfg.Strategies, 2)
	assert.Equal(t, "2", cfg.Strategies[1].Params["scale"])
	assert.Equal(t, "poll", cfg.Oracle.Binance.Transport)
	assert.Equal(t, 15*time.Second, cfg.Venues.PollInterval.Duration)
	assert.True(t, cfg.Venues.Polymarket.Events, "untouched venue fields keep defaults")
	assert.Equal(t, 100, cfg.Venues.Polymarket.Limit)
	assert.Equal(t, []string{"KXBTC-100K"}, cfg.Venues.Kalshi.BookTickers)
}

func TestArchiveNeedsBucket(t *testing.T) {
	cfg := Defaults()
	cfg.Archive.Enabled = true
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "s3.bucket must not be empty")

	cfg.Archive.S3.Bucket = "polyarb-archive"
	assert.NoError(t, cfg.Validate())
}

func TestKalshiKeyPathNeedsAPIKey(t *testing.T) {
	cfg := Defaults()
	cfg.Venues.Kalshi.Enabled = true
	cfg.Venues.Kalshi.PrivateKeyPath = "/tmp/k.pem"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kalshi.api_key is required")
}

func TestValidateCollectsErrors(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "yolo"
	cfg.Bus.Backend = "kafka"
	cfg.Risk.Bankroll = 0
	cfg.Strategies = append(cfg.Strategies, StrategyConfig{Name: "arb", BaseSize: 1, Types: []string{"weird"}})
	cfg.Scanner.Thresholds = []ThresholdConfig{{MarketID: "m", Symbol: "X", Threshold: 1, Direction: "sideways"}}

	err := cfg.Validate()
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, `unknown mode "yolo"`)
	assert.Contains(t, msg, `unknown backend "kafka"`)
	assert.Contains(t, msg, "bankroll must be > 0")
	assert.Contains(t, msg, `duplicate name "arb"`)
	assert.Contains(t, msg, `unknown opportunity type "weird"`)
	assert.Contains(t, msg, "direction must be above or below")
}

func TestScanModeNeedsNoStrategies(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "scan"
	cfg.Strategies = nil
	assert.NoError(t, cfg.Validate())

	cfg.Mode = "paper"
	assert.Error(t, cfg.Validate())
}

func TestLoadAppliesEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "polyarb.toml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o600))

	t.Setenv("POLYARB_MODE", "paper")
	t.Setenv("POLYARB_REDIS_ADDR", "10.0.0.5:6379")
	t.Setenv("POLYARB_SCANNER_MIN_EDGE", "0.05")
	t.Setenv("POLYARB_EXECUTOR_PENDING_TTL", "90s")
	t.Setenv("POLYARB_SERVER_CORS_ORIGINS", " https://a.example , ,https://b.example")
	t.Setenv("POLYARB_SERVER_PORT", "not-a-number")
	t.Setenv("POLYARB_VENUES_POLYMARKET_EVENTS", "false")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "paper", cfg.Mode)
	assert.Equal(t, "10.0.0.5:6379", cfg.Redis.Addr)
	assert.InDelta(t, 0.05, cfg.Scanner.MinEdge, 1e-9)
	assert.Equal(t, 90*time.Second, cfg.Executor.PendingTTL.Duration)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSOrigins)
	assert.Equal(t, 8000, cfg.Server.Port, "unparseable values are ignored")
	assert.False(t, cfg.Venues.Polymarket.Events)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}

func TestRedactedConfig(t *testing.T) {
	cfg, err := Parse(sample)
	require.NoError(t, err)
	cfg.Server.APIKey = "k"
	cfg.Postgres.DSN = "postgres://u:p@h/db"
	cfg.Archive.S3.SecretKey = "s3-secret"

	out := RedactedConfig(cfg)
	assert.Equal(t, "***", out.Redis.Password)
	assert.Equal(t, "***", out.Server.APIKey)
	assert.Equal(t, "***", out.Postgres.DSN)
	assert.Equal(t, "***", out.Venues.Kalshi.APIKey)
	assert.Equal(t, "kalshi-key", cfg.Venues.Kalshi.APIKey)
	assert.Equal(t, "***", out.Archive.S3.SecretKey)
	assert.Empty(t, out.Archive.S3.AccessKey)
	assert.Empty(t, out.Notify.TelegramToken, "empty secrets stay empty")
	assert.Equal(t, "hunter2", cfg.Redis.Password)

	out.Strategies[1].Params["scale"] = "9"
	assert.Equal(t, "2", cfg.Strategies[1].Params["scale"])
}
