package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/alanyoungcy/creatormarket/internal/blob/s3"
	"github.com/alanyoungcy/creatormarket/internal/broker/kafka"
	"github.com/alanyoungcy/creatormarket/internal/cache/redis"
	"github.com/alanyoungcy/creatormarket/internal/config"
	"github.com/alanyoungcy/creatormarket/internal/domain"
	"github.com/alanyoungcy/creatormarket/internal/notify"
	"github.com/alanyoungcy/creatormarket/internal/observability"
	"github.com/alanyoungcy/creatormarket/internal/server/handler"
	"github.com/alanyoungcy/creatormarket/internal/store/postgres"
)

// Dependencies bundles every infrastructure dependency that the application
// modes need. Interface fields are left nil when the backing service is
// disabled in the configuration. It is constructed by Wire and torn down by
// the returned cleanup function.
type Dependencies struct {
	// Stores
	EventStore    *postgres.EventStore
	SnapshotStore domain.SnapshotStore
	AuditStore    domain.AuditStore

	// Caches
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	SignalBus   domain.SignalBus
	Nonces      domain.NonceStore

	// Blob storage
	BlobWriter domain.BlobWriter
	BlobReader domain.BlobReader
	Archiver   domain.Archiver

	// Downstream feeds
	Kafka    *kafka.Publisher
	Notifier *notify.Notifier

	Metrics *observability.Metrics

	// HealthChecks probe every connected backend.
	HealthChecks map[string]handler.HealthCheck
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

	deps := &Dependencies{
		Metrics:      observability.NewMetrics(cfg.Server.MetricsNamespace),
		HealthChecks: make(map[string]handler.HealthCheck),
	}

	// --- PostgreSQL ---
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

		pool := pgClient.Pool()
		deps.EventStore = postgres.NewEventStore(pool)
		deps.SnapshotStore = postgres.NewSnapshotStore(pool)
		deps.AuditStore = postgres.NewAuditStore(pool)
		deps.HealthChecks["postgres"] = pgClient.Health
	}

	// --- Redis ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			KeyPrefix:  cfg.Redis.KeyPrefix,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.LockManager = redis.NewLockManager(redisClient)
		deps.SignalBus = redis.NewSignalBus(redisClient)
		deps.Nonces = redis.NewNonceStore(redisClient)
		deps.HealthChecks["redis"] = redisClient.Ping
	}

	// --- S3 blob storage ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			KeyPrefix:      cfg.S3.KeyPrefix,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}

		store := s3blob.NewStore(s3Client)
		deps.BlobWriter = store
		deps.BlobReader = store
		deps.HealthChecks["s3"] = s3Client.Health
		// Archiving needs the event table to read from.
		if deps.EventStore != nil {
			deps.Archiver = deps.Metrics.InstrumentArchiver(
				s3blob.NewEventArchiver(store, deps.EventStore, deps.AuditStore, cfg.Archive.Prune),
			)
		}
	}

	// --- Kafka ---
	if cfg.Kafka.Enabled {
		pub, err := kafka.NewPublisher(kafka.Config{
			Brokers:       cfg.Kafka.Brokers,
			Topic:         cfg.Kafka.Topic,
			TopicByPrefix: cfg.Kafka.Topics,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: kafka: %w", err)
		}
		closers = append(closers, func() {
			if err := pub.Close(); err != nil {
				logger.Warn("kafka publisher close failed", slog.String("error", err.Error()))
			}
		})
		deps.Kafka = pub
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
	if len(senders) > 0 {
		deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)
	}

	logger.Info("dependencies wired",
		slog.Bool("postgres", cfg.Postgres.Enabled),
		slog.Bool("redis", cfg.Redis.Enabled),
		slog.Bool("s3", cfg.S3.Enabled),
		slog.Bool("kafka", cfg.Kafka.Enabled),
		slog.Int("notify_senders", len(senders)),
	)

	return deps, cleanup, nil
}
