package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/alanyoungcy/bookimbalance/internal/blob/s3"
	"github.com/alanyoungcy/bookimbalance/internal/bus/kafka"
	"github.com/alanyoungcy/bookimbalance/internal/cache/redis"
	"github.com/alanyoungcy/bookimbalance/internal/config"
	"github.com/alanyoungcy/bookimbalance/internal/domain"
	"github.com/alanyoungcy/bookimbalance/internal/metrics"
	"github.com/alanyoungcy/bookimbalance/internal/notify"
	"github.com/alanyoungcy/bookimbalance/internal/server/handler"
	"github.com/alanyoungcy/bookimbalance/internal/store/postgres"
)

// Dependencies bundles the optional infrastructure. A nil field means the
// backing service is not configured.
type Dependencies struct {
	// Postgres
	DecisionStore domain.DecisionStore
	MetricsStore  domain.MetricsStore
	AuditStore    domain.AuditStore

	// Redis
	BookCache     domain.BookCache
	PositionCache domain.PositionCache
	SignalBus     domain.SignalBus
	LockManager   domain.LockManager
	RateLimiter   domain.RateLimiter

	// S3
	BlobReader domain.BlobReader
	Archiver   *s3blob.Archiver

	// Kafka
	Producer *kafka.Producer

	Notifier *notify.Notifier
	Metrics  *metrics.Metrics

	// Pingers feeds /api/health.
	Pingers map[string]handler.Pinger
}

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

// Wire connects every configured backend and returns the dependencies with a
// cleanup func that releases them in reverse order.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(what string, err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, fmt.Errorf("wire: %s: %w", what, err)
	}

	deps := &Dependencies{
		Metrics: metrics.New(),
		Pingers: map[string]handler.Pinger{},
	}

	if cfg.Postgres.Enabled() {
		pg, err := postgres.New(ctx, postgres.ClientConfig{
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
			return fail("postgres", err)
		}
		closers = append(closers, pg.Close)

		if cfg.Postgres.RunMigrations {
			if err := pg.RunMigrations(ctx); err != nil {
				return fail("postgres migrations", err)
			}
		}
		pool := pg.Pool()
		deps.DecisionStore = postgres.NewDecisionStore(pool)
		deps.MetricsStore = postgres.NewMetricsStore(pool)
		deps.AuditStore = postgres.NewAuditStore(pool)
		deps.Pingers["postgres"] = pg
	}

	if cfg.Redis.Addr != "" {
		rc, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			Namespace:  cfg.Redis.Namespace,
		})
		if err != nil {
			return fail("redis", err)
		}
		closers = append(closers, func() { _ = rc.Close() })

		deps.BookCache = redis.NewBookCache(rc, cfg.Redis.BookTTL.Duration)
		deps.PositionCache = redis.NewPositionCache(rc)
		deps.SignalBus = redis.NewSignalBus(rc, cfg.Redis.StreamMaxLen)
		deps.LockManager = redis.NewLockManager(rc)
		deps.RateLimiter = redis.NewRateLimiter(rc)
		deps.Pingers["redis"] = rc
	}

	if cfg.S3.Bucket != "" {
		sc, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return fail("s3", err)
		}
		deps.BlobReader = s3blob.NewReader(sc)
		deps.Archiver = s3blob.NewArchiver(s3blob.NewWriter(sc), deps.MetricsStore, cfg.S3.Prefix)
		deps.Pingers["s3"] = pingFunc(sc.Health)
	}

	if len(cfg.Kafka.Brokers) > 0 {
		p := kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		closers = append(closers, func() {
			if err := p.Close(); err != nil {
				logger.Warn("kafka producer close failed", slog.String("error", err.Error()))
			}
		})
		deps.Producer = p
	}

	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" {
		senders = append(senders, notify.NewTelegramSender("", cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}
