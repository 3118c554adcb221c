package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	s3blob "github.com/alanyoungcy/arenarelay/internal/blob/s3"
	"github.com/alanyoungcy/arenarelay/internal/cache/redis"
	"github.com/alanyoungcy/arenarelay/internal/config"
	"github.com/alanyoungcy/arenarelay/internal/dispatch"
	"github.com/alanyoungcy/arenarelay/internal/domain"
	"github.com/alanyoungcy/arenarelay/internal/notify"
	"github.com/alanyoungcy/arenarelay/internal/platform/arena"
	"github.com/alanyoungcy/arenarelay/internal/store/memory"
	"github.com/alanyoungcy/arenarelay/internal/store/postgres"
)

// Dependencies bundles the concrete implementations selected by Wire. Bus,
// RateLimiter, Audit, Positions, Decisions and Archiver are nil when their
// backend is disabled.
type Dependencies struct {
	TriggerStore domain.TriggerStore
	Directory    domain.RecipientDirectory
	Results      domain.ResultStore
	Triggerer    domain.Triggerer

	Bus         domain.SignalBus
	RateLimiter domain.RateLimiter

	Audit     domain.AuditStore
	Positions *postgres.PositionStore
	Decisions *postgres.DecisionStore

	Archiver *s3blob.Archiver
	Notifier *notify.Notifier
}

// Wire constructs the dependencies for cfg and returns them with a cleanup
// function that releases connections in reverse order.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, err
	}

	deps := &Dependencies{}

	arenaClient := arena.NewClient(arena.Config{
		StartURL:          cfg.Dispatch.StartURL,
		ResultsURL:        cfg.Poller.ResultsURL,
		Secret:            cfg.Dispatch.Secret,
		SigningSecret:     cfg.Dispatch.SigningSecret,
		Timeout:           cfg.Dispatch.CallTimeout.Duration,
		RequestsPerSecond: cfg.Dispatch.RequestsPerSecond,
		Burst:             cfg.Dispatch.Burst,
	})
	deps.Triggerer = arenaClient
	deps.Results = arenaClient
	deps.Directory = dispatch.NewStaticDirectory(cfg.Dispatch.Recipients, cfg.Dispatch.TickerRecipients)

	// --- PostgreSQL ---
	if cfg.Supabase.Enabled {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Supabase.DSN,
			Host:     cfg.Supabase.Host,
			Port:     cfg.Supabase.Port,
			Database: cfg.Supabase.Database,
			User:     cfg.Supabase.User,
			Password: cfg.Supabase.Password,
			SSLMode:  cfg.Supabase.SSLMode,
			MaxConns: cfg.Supabase.PoolMaxConns,
			MinConns: cfg.Supabase.PoolMinConns,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: postgres: %w", err))
		}
		closers = append(closers, pgClient.Close)

		if cfg.Supabase.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				return fail(fmt.Errorf("wire: postgres migrations: %w", err))
			}
		}

		pool := pgClient.Pool()
		deps.Positions = postgres.NewPositionStore(pool)
		deps.Decisions = postgres.NewDecisionStore(pool)
		deps.Audit = postgres.NewAuditStore(pool)
		deps.Directory = deps.Positions
		if cfg.Poller.ResultSource == "postgres" {
			deps.Results = deps.Decisions
		}
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
		})
		if err != nil {
			return fail(fmt.Errorf("wire: redis: %w", err))
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.Bus = redis.NewSignalBus(redisClient, cfg.Redis.StreamMaxLen)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		if cfg.TriggerStore.Backend == "redis" {
			deps.TriggerStore = redis.NewTriggerStore(redisClient, triggerTTL(cfg))
		}
	}
	if deps.TriggerStore == nil {
		deps.TriggerStore = memory.NewTriggerStore()
	}

	// --- S3 archive ---
	if cfg.S3.Enabled {
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
			return fail(fmt.Errorf("wire: s3: %w", err))
		}
		if err := s3Client.Ping(ctx); err != nil {
			logger.Warn("s3 bucket check failed, archive uploads may fail",
				slog.String("bucket", cfg.S3.Bucket),
				slog.String("error", err.Error()),
			)
		}
		writer := s3blob.NewWriter(s3Client, int64(cfg.S3.PartSizeMB)<<20)
		deps.Archiver = s3blob.NewArchiver(writer, cfg.S3.FlushInterval.Duration, cfg.S3.MaxBuffer, logger)
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}

// triggerTTL outlives the poller timeout so a record is never evicted before
// the poller can fail it.
func triggerTTL(cfg *config.Config) time.Duration {
	return cfg.Poller.Timeout.Duration + cfg.TriggerStore.Grace.Duration
}
