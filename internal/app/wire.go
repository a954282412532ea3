package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	s3blob "github.com/alanyoungcy/perpbot/internal/blob/s3"
	"github.com/alanyoungcy/perpbot/internal/cache/memory"
	"github.com/alanyoungcy/perpbot/internal/cache/redis"
	"github.com/alanyoungcy/perpbot/internal/config"
	"github.com/alanyoungcy/perpbot/internal/domain"
	"github.com/alanyoungcy/perpbot/internal/notify"
	"github.com/alanyoungcy/perpbot/internal/server/handler"
	memstore "github.com/alanyoungcy/perpbot/internal/store/memory"
	"github.com/alanyoungcy/perpbot/internal/store/postgres"
)

// Dependencies bundles every domain-level dependency that the application modes
// need to operate. It is constructed by Wire and torn down by the returned
// cleanup function.
type Dependencies struct {
	// Stores
	AccountStore domain.AccountStore
	AuditStore   domain.AuditStore

	// Caches
	PriceCache  domain.PriceCache
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager // nil when one process owns the store
	SignalBus   domain.SignalBus

	// SharedBus is set when SignalBus reaches other processes.
	SharedBus bool

	// Archiver is nil unless S3 is enabled.
	Archiver *s3blob.Archiver

	// Notifications
	Notifier *notify.Notifier

	// HealthChecks probe every external dependency.
	HealthChecks map[string]handler.HealthCheck
}

// backendFor returns the storage backend for mode. Paper mode always keeps
// state in memory.
func backendFor(cfg *config.Config) string {
	if strings.EqualFold(cfg.Mode, "paper") {
		return "memory"
	}
	return strings.ToLower(cfg.Storage.Backend)
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

	deps := &Dependencies{HealthChecks: map[string]handler.HealthCheck{}}
	backend := backendFor(cfg)

	// --- In-memory defaults, replaced below by whatever is configured ---
	deps.AccountStore = memstore.NewAccountStore()
	deps.AuditStore = memstore.NewAuditStore()
	deps.PriceCache = memory.NewPriceCache()
	deps.RateLimiter = memory.NewRateLimiter()
	deps.SignalBus = memory.NewBus()

	// --- Redis ---
	if backend == "redis" || (backend != "memory" && cfg.UsesRedis()) {
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

		deps.PriceCache = redis.NewPriceCache(redisClient, cfg.Redis.PriceTTL.Duration)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.LockManager = redis.NewLockManager(redisClient, cfg.Redis.LockWait.Duration)
		deps.SignalBus = redis.NewSignalBus(redisClient, cfg.Redis.StreamBlock.Duration)
		deps.SharedBus = true
		deps.HealthChecks["redis"] = redisClient.Ping

		if backend == "redis" {
			deps.AccountStore = redis.NewAccountStore(redisClient)
		}
	}

	// --- PostgreSQL ---
	if backend == "postgres" {
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

		pool := pgClient.Pool()
		deps.AccountStore = postgres.NewAccountStore(pool)
		deps.AuditStore = postgres.NewAuditStore(pool)
		deps.HealthChecks["postgres"] = pool.Ping
	}

	// --- S3 history archive ---
	if cfg.S3.Enabled && !strings.EqualFold(cfg.Mode, "paper") {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		deps.Archiver = s3blob.NewArchiver(s3blob.NewWriter(s3Client), s3blob.NewReader(s3Client), deps.AuditStore)
		deps.HealthChecks["s3"] = s3Client.Health
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

	logger.InfoContext(ctx, "app: dependencies wired",
		slog.String("backend", backend),
		slog.Bool("shared_bus", deps.SharedBus),
		slog.Bool("archive", deps.Archiver != nil),
		slog.Int("notify_senders", len(senders)),
	)

	return deps, cleanup, nil
}
