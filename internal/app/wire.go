package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/alanyoungcy/polysniper/internal/blob/s3"
	"github.com/alanyoungcy/polysniper/internal/cache/redis"
	"github.com/alanyoungcy/polysniper/internal/config"
	"github.com/alanyoungcy/polysniper/internal/domain"
	"github.com/alanyoungcy/polysniper/internal/notify"
	"github.com/alanyoungcy/polysniper/internal/server/handler"
	"github.com/alanyoungcy/polysniper/internal/service"
	"github.com/alanyoungcy/polysniper/internal/store/postgres"
)

// localStreamLen caps the in-process trade stream when Redis is disabled.
const localStreamLen = 10_000

// Dependencies bundles the backends the modes run against. Every backend is
// optional; a nil field means it is disabled. Bus is never nil: without Redis
// it is an in-process bus.
type Dependencies struct {
	Journal   domain.TradeJournal
	Bus       domain.SignalBus
	BookCache domain.OrderbookCache
	Locker    *redis.Locker
	Blob      domain.BlobWriter
	Notifier  *notify.Notifier

	// Probes are reported by /api/health.
	Probes []handler.Probe
}

// Wire constructs the enabled backends and returns them together with a
// cleanup function that releases them in reverse order.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- PostgreSQL trade journal ---
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
				return nil, nil, fmt.Errorf("wire: migrations: %w", err)
			}
		}
		deps.Journal = postgres.NewTradeStore(pgClient.Pool())
		deps.Probes = append(deps.Probes, handler.Probe{Name: "postgres", Check: pgClient.Ping})
		logger.InfoContext(ctx, "postgres journal enabled")
	}

	// --- Redis signal bus, orderbook mirror and instance lock ---
	if cfg.Redis.Enabled {
		rc, err := redis.New(ctx, redis.ClientConfig{
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
		closers = append(closers, func() { _ = rc.Close() })

		deps.Bus = redis.NewSignalBus(rc)
		deps.BookCache = redis.NewOrderbookCache(rc)
		deps.Locker = redis.NewLocker(rc)
		deps.Probes = append(deps.Probes, handler.Probe{Name: "redis", Check: rc.Ping})
		logger.InfoContext(ctx, "redis enabled", slog.String("addr", cfg.Redis.Addr))
	} else {
		deps.Bus = service.NewLocalBus(localStreamLen)
	}

	// --- S3 journal archive ---
	if cfg.S3.Enabled {
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
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		deps.Blob = s3blob.NewWriter(sc)
		deps.Probes = append(deps.Probes, handler.Probe{Name: "s3", Check: sc.Health})
		logger.InfoContext(ctx, "s3 archive enabled", slog.String("bucket", sc.Bucket()))
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	if len(senders) > 0 {
		deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)
	}

	return deps, cleanup, nil
}
