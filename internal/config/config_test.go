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
	assert.Equal(t, 2*time.Minute, cfg.Engine.OrderDedupTTL.Duration)
	assert.Equal(t, "@hourly", cfg.Engine.ProtectionFeeCron)
}

func TestValidateCollectsEveryProblem(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "full"
	cfg.Engine.ExecutionMode = "binance"
	cfg.Engine.HistoryLimit = 0
	cfg.Storage.Backend = "sqlite"
	cfg.Server.Port = 0

	err := cfg.Validate()
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, `unknown mode "full"`)
	assert.Contains(t, msg, `unknown execution_mode "binance"`)
	assert.Contains(t, msg, "history_limit")
	assert.Contains(t, msg, `unknown backend "sqlite"`)
	assert.Contains(t, msg, "server: port")
}

func TestValidateLiveModeNeedsService(t *testing.T) {
	cfg := Defaults()
	cfg.Engine.ExecutionMode = "hyperliquid"
	require.ErrorContains(t, cfg.Validate(), "service_url")

	cfg.Engine.Fallback = "simulate"
	require.NoError(t, cfg.Validate())

	cfg.Engine.Fallback = "abort"
	cfg.Execution.ServiceURL = "http://exec:8080"
	require.NoError(t, cfg.Validate())
}

func TestValidateBackends(t *testing.T) {
	cfg := Defaults()
	cfg.Storage.Backend = "redis"
	cfg.Redis.Addr = ""
	require.ErrorContains(t, cfg.Validate(), "redis: addr")
	assert.True(t, cfg.UsesRedis())

	cfg = Defaults()
	cfg.Storage.Backend = "postgres"
	cfg.Postgres.Host = ""
	require.ErrorContains(t, cfg.Validate(), "postgres: host")

	cfg.Postgres.DSN = "postgres://u:p@db:5432/perpbot"
	require.NoError(t, cfg.Validate())
}

func TestValidatePairs(t *testing.T) {
	cfg := Defaults()
	cfg.Engine.Pairs = []PairConfig{{Symbol: "JUP/USDC", MaxLeverage: 0, TickSize: 0.0001, MinSize: 1}}
	require.ErrorContains(t, cfg.Validate(), "pairs[0]: max_leverage")
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "perpbot.toml")
	content := `
mode = "engine"

[engine]
default_account = "desk"
history_limit = 50
order_dedup_ttl = "90s"

[[engine.pairs]]
symbol = "JUP/USDC"
max_leverage = 20
tick_size = 0.0001
min_size = 1

[storage]
backend = "postgres"

[server]
port = 9090
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	t.Setenv("PERPBOT_SERVER_PORT", "9191")
	t.Setenv("PERPBOT_SERVER_CORS_ORIGINS", " https://a.example.com , ,https://b.example.com")
	t.Setenv("PERPBOT_FEED_FUNDING_INTERVAL", "30s")
	t.Setenv("PERPBOT_ENGINE_PAPER_BALANCE", "not-a-number")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "engine", cfg.Mode)
	assert.Equal(t, "desk", cfg.Engine.DefaultAccount)
	assert.Equal(t, 50, cfg.Engine.HistoryLimit)
	assert.Equal(t, 90*time.Second, cfg.Engine.OrderDedupTTL.Duration)
	require.Len(t, cfg.Engine.Pairs, 1)
	assert.Equal(t, 20, cfg.Engine.Pairs[0].MaxLeverage)
	assert.Equal(t, "postgres", cfg.Storage.Backend)
	assert.Equal(t, 9191, cfg.Server.Port)
	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, cfg.Server.CORSOrigins)
	assert.Equal(t, 30*time.Second, cfg.Feed.FundingInterval.Duration)
	// unparsable overrides leave the value alone
	assert.Equal(t, 10000.0, cfg.Engine.PaperBalance)
	// untouched sections keep their defaults
	assert.Equal(t, 5432, cfg.Postgres.Port)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	require.Error(t, err)
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Execution.APISecret = "s3cret"
	cfg.Postgres.Password = "pw"
	cfg.Server.APIKey = "key"
	cfg.Notify.Events = []string{"error"}

	out := RedactedConfig(&cfg)
	assert.Equal(t, "***", out.Execution.APISecret)
	assert.Equal(t, "***", out.Postgres.Password)
	assert.Equal(t, "***", out.Server.APIKey)
	assert.Empty(t, out.Execution.APIKey)

	out.Notify.Events[0] = "changed"
	assert.Equal(t, "error", cfg.Notify.Events[0])
	assert.Equal(t, "s3cret", cfg.Execution.APISecret)
}
