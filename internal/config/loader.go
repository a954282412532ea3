package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies PERPBOT_* environment variable overrides, and
// returns the final Config. An empty path skips the file. The returned Config
// has NOT been validated; the caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known PERPBOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Engine ──
	setStr(&cfg.Engine.DefaultAccount, "PERPBOT_ENGINE_DEFAULT_ACCOUNT")
	setStr(&cfg.Engine.ExecutionMode, "PERPBOT_ENGINE_EXECUTION_MODE")
	setFloat64(&cfg.Engine.PaperBalance, "PERPBOT_ENGINE_PAPER_BALANCE")
	setFloat64(&cfg.Engine.MaintenanceMarginRate, "PERPBOT_ENGINE_MAINTENANCE_MARGIN_RATE")
	setFloat64(&cfg.Engine.PaperSlippage, "PERPBOT_ENGINE_PAPER_SLIPPAGE")
	setInt(&cfg.Engine.HistoryLimit, "PERPBOT_ENGINE_HISTORY_LIMIT")
	setStr(&cfg.Engine.Fallback, "PERPBOT_ENGINE_FALLBACK")
	setStr(&cfg.Engine.ProtectionFeeCron, "PERPBOT_ENGINE_PROTECTION_FEE_CRON")
	setStr(&cfg.Engine.SnapshotCron, "PERPBOT_ENGINE_SNAPSHOT_CRON")
	setStr(&cfg.Engine.OrderStream, "PERPBOT_ENGINE_ORDER_STREAM")
	setDuration(&cfg.Engine.OrderDedupTTL, "PERPBOT_ENGINE_ORDER_DEDUP_TTL")

	// ── Execution ──
	setStr(&cfg.Execution.ServiceURL, "PERPBOT_EXECUTION_SERVICE_URL")
	setStr(&cfg.Execution.APIKey, "PERPBOT_EXECUTION_API_KEY")
	setStr(&cfg.Execution.APISecret, "PERPBOT_EXECUTION_API_SECRET")
	setDuration(&cfg.Execution.Timeout, "PERPBOT_EXECUTION_TIMEOUT")
	setStr(&cfg.Execution.Source, "PERPBOT_EXECUTION_SOURCE")

	// ── Feed ──
	setStr(&cfg.Feed.PriceWSURL, "PERPBOT_FEED_PRICE_WS_URL")
	setStr(&cfg.Feed.FundingURL, "PERPBOT_FEED_FUNDING_URL")
	setDuration(&cfg.Feed.FundingInterval, "PERPBOT_FEED_FUNDING_INTERVAL")

	// ── Storage ──
	setStr(&cfg.Storage.Backend, "PERPBOT_STORAGE_BACKEND")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "PERPBOT_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "PERPBOT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "PERPBOT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "PERPBOT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "PERPBOT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "PERPBOT_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "PERPBOT_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "PERPBOT_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "PERPBOT_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "PERPBOT_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "PERPBOT_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "PERPBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "PERPBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "PERPBOT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "PERPBOT_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "PERPBOT_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "PERPBOT_REDIS_TLS_ENABLED")
	setDuration(&cfg.Redis.PriceTTL, "PERPBOT_REDIS_PRICE_TTL")
	setDuration(&cfg.Redis.LockWait, "PERPBOT_REDIS_LOCK_WAIT")
	setDuration(&cfg.Redis.StreamBlock, "PERPBOT_REDIS_STREAM_BLOCK")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "PERPBOT_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "PERPBOT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "PERPBOT_S3_REGION")
	setStr(&cfg.S3.Bucket, "PERPBOT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "PERPBOT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "PERPBOT_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "PERPBOT_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "PERPBOT_S3_FORCE_PATH_STYLE")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "PERPBOT_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "PERPBOT_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "PERPBOT_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "PERPBOT_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "PERPBOT_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "PERPBOT_SERVER_RATE_WINDOW")
	setInt(&cfg.Server.OrderRateLimit, "PERPBOT_SERVER_ORDER_RATE_LIMIT")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "PERPBOT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "PERPBOT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "PERPBOT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "PERPBOT_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "PERPBOT_MODE")
	setStr(&cfg.LogLevel, "PERPBOT_LOG_LEVEL")
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
