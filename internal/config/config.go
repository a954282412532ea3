// Package config defines the top-level configuration for the position engine
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/alanyoungcy/perpbot/internal/domain"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by PERPBOT_* environment variables.
type Config struct {
	Engine    EngineConfig    `toml:"engine"`
	Execution ExecutionConfig `toml:"execution"`
	Feed      FeedConfig      `toml:"feed"`
	Storage   StorageConfig   `toml:"storage"`
	Postgres  PostgresConfig  `toml:"postgres"`
	Redis     RedisConfig     `toml:"redis"`
	S3        S3Config        `toml:"s3"`
	Server    ServerConfig    `toml:"server"`
	Notify    NotifyConfig    `toml:"notify"`
	Mode      string          `toml:"mode"`
	LogLevel  string          `toml:"log_level"`
}

// EngineConfig holds the ledger and monitoring parameters.
type EngineConfig struct {
	DefaultAccount        string  `toml:"default_account"`
	ExecutionMode         string  `toml:"execution_mode"`
	PaperBalance          float64 `toml:"paper_balance"`
	MaintenanceMarginRate float64 `toml:"maintenance_margin_rate"`
	PaperSlippage         float64 `toml:"paper_slippage"`
	HistoryLimit          int     `toml:"history_limit"`

	// Fallback is "abort" or "simulate": what happens when a remote route fails.
	Fallback string `toml:"fallback"`

	ProtectionFeeCron string `toml:"protection_fee_cron"`
	SnapshotCron      string `toml:"snapshot_cron"`

	OrderStream   string   `toml:"order_stream"`
	OrderDedupTTL duration `toml:"order_dedup_ttl"`

	Pairs []PairConfig `toml:"pairs"`
}

// PairConfig adds a tradable pair on top of the seeded registry.
type PairConfig struct {
	Symbol      string  `toml:"symbol"`
	MaxLeverage int     `toml:"max_leverage"`
	TickSize    float64 `toml:"tick_size"`
	MinSize     float64 `toml:"min_size"`
}

// ExecutionConfig holds the remote execution service settings.
type ExecutionConfig struct {
	ServiceURL string   `toml:"service_url"`
	APIKey     string   `toml:"api_key"`
	APISecret  string   `toml:"api_secret"`
	Timeout    duration `toml:"timeout"`
	Source     string   `toml:"source"`
}

// FeedConfig holds the market data endpoints.
type FeedConfig struct {
	PriceWSURL      string   `toml:"price_ws_url"`
	FundingURL      string   `toml:"funding_url"`
	FundingInterval duration `toml:"funding_interval"`
}

// StorageConfig selects where account state lives.
type StorageConfig struct {
	// Backend is "memory", "redis" or "postgres".
	Backend string `toml:"backend"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
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

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled    bool     `toml:"enabled"`
	Addr       string   `toml:"addr"`
	Password   string   `toml:"password"`
	DB         int      `toml:"db"`
	PoolSize   int      `toml:"pool_size"`
	MaxRetries int      `toml:"max_retries"`
	TLSEnabled bool     `toml:"tls_enabled"`
	PriceTTL   duration `toml:"price_ttl"`
	LockWait   duration `toml:"lock_wait"`
	// StreamBlock is how long a stream read waits for new order intents.
	StreamBlock duration `toml:"stream_block"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
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

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`

	// RateLimit is requests per RateWindow per client IP; 0 disables it.
	RateLimit  int      `toml:"rate_limit"`
	RateWindow duration `toml:"rate_window"`

	// OrderRateLimit is order submissions per RateWindow per account.
	OrderRateLimit int `toml:"order_rate_limit"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Engine: EngineConfig{
			DefaultAccount:        "default",
			ExecutionMode:         "paper",
			PaperBalance:          10000,
			MaintenanceMarginRate: 0.005,
			PaperSlippage:         0.0001,
			HistoryLimit:          100,
			Fallback:              "abort",
			ProtectionFeeCron:     "@hourly",
			SnapshotCron:          "0 0 * * *",
			OrderStream:           "orders",
			OrderDedupTTL:         duration{2 * time.Minute},
		},
		Execution: ExecutionConfig{
			Timeout: duration{10 * time.Second},
			Source:  "PERPBOT",
		},
		Feed: FeedConfig{
			FundingInterval: duration{60 * time.Second},
		},
		Storage: StorageConfig{
			Backend: "memory",
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "perpbot",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:        "localhost:6379",
			PoolSize:    20,
			MaxRetries:  3,
			PriceTTL:    duration{5 * time.Minute},
			LockWait:    duration{2 * time.Second},
			StreamBlock: duration{time.Second},
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "perpbot-archive",
			ForcePathStyle: true,
		},
		Server: ServerConfig{
			Enabled:        true,
			Port:           8000,
			CORSOrigins:    []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:      120,
			RateWindow:     duration{time.Minute},
			OrderRateLimit: 30,
		},
		Notify: NotifyConfig{
			Events: []string{"position_liquidated", "protection_alert", "protection_margin_added", "error"},
		},
		Mode:     "paper",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"paper":  true,
	"engine": true,
	"server": true,
}

// validBackends enumerates the accepted values for StorageConfig.Backend.
var validBackends = map[string]bool{
	"memory":   true,
	"redis":    true,
	"postgres": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// UsesRedis reports whether any component needs the Redis client.
func (c *Config) UsesRedis() bool {
	return c.Redis.Enabled || strings.EqualFold(c.Storage.Backend, "redis")
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: paper, engine, server)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Engine
	if strings.TrimSpace(c.Engine.DefaultAccount) == "" {
		errs = append(errs, "engine: default_account must not be empty")
	}
	if !domain.ExecutionMode(c.Engine.ExecutionMode).Valid() {
		errs = append(errs, fmt.Sprintf("engine: unknown execution_mode %q", c.Engine.ExecutionMode))
	}
	if c.Engine.PaperBalance <= 0 {
		errs = append(errs, "engine: paper_balance must be > 0")
	}
	if c.Engine.MaintenanceMarginRate <= 0 || c.Engine.MaintenanceMarginRate >= 1 {
		errs = append(errs, "engine: maintenance_margin_rate must be in (0, 1)")
	}
	if c.Engine.PaperSlippage < 0 {
		errs = append(errs, "engine: paper_slippage must be >= 0")
	}
	if c.Engine.HistoryLimit < 1 {
		errs = append(errs, "engine: history_limit must be >= 1")
	}
	if c.Engine.Fallback != "abort" && c.Engine.Fallback != "simulate" {
		errs = append(errs, fmt.Sprintf("engine: fallback must be abort or simulate, got %q", c.Engine.Fallback))
	}
	for i, p := range c.Engine.Pairs {
		if strings.TrimSpace(p.Symbol) == "" {
			errs = append(errs, fmt.Sprintf("engine: pairs[%d]: symbol must not be empty", i))
		}
		if p.MaxLeverage < 1 {
			errs = append(errs, fmt.Sprintf("engine: pairs[%d]: max_leverage must be >= 1", i))
		}
		if p.TickSize <= 0 || p.MinSize <= 0 {
			errs = append(errs, fmt.Sprintf("engine: pairs[%d]: tick_size and min_size must be > 0", i))
		}
	}

	// Execution: a live default mode needs somewhere to send orders unless
	// failed routes fall back to paper fills.
	if c.Engine.ExecutionMode != "paper" && c.Execution.ServiceURL == "" && c.Engine.Fallback != "simulate" {
		errs = append(errs, "execution: service_url is required when execution_mode is not paper")
	}
	if c.Execution.APIKey != "" && c.Execution.APISecret == "" {
		errs = append(errs, "execution: api_secret is required when api_key is set")
	}

	// Storage
	backend := strings.ToLower(c.Storage.Backend)
	if !validBackends[backend] {
		errs = append(errs, fmt.Sprintf("storage: unknown backend %q (valid: memory, redis, postgres)", c.Storage.Backend))
	}
	if backend == "postgres" {
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

	// Redis
	if c.UsesRedis() {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// S3
	if c.S3.Enabled && c.S3.Bucket == "" {
		errs = append(errs, "s3: bucket must not be empty")
	}

	// Server
	if c.Server.Enabled || strings.EqualFold(c.Mode, "server") {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit > 0 && c.Server.RateWindow.Duration <= 0 {
			errs = append(errs, "server: rate_window must be > 0 when rate_limit is set")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
