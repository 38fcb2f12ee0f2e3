package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	s3blob "github.com/alanyoungcy/easybet/internal/blob/s3"
	"github.com/alanyoungcy/easybet/internal/cache/redis"
	"github.com/alanyoungcy/easybet/internal/config"
	"github.com/alanyoungcy/easybet/internal/domain"
	"github.com/alanyoungcy/easybet/internal/notify"
	"github.com/alanyoungcy/easybet/internal/server/handler"
	"github.com/alanyoungcy/easybet/internal/store/postgres"
	"github.com/alanyoungcy/easybet/internal/store/sqlite"
)

// Dependencies bundles the infrastructure a mode runs on. Fields a mode does
// not need are nil.
type Dependencies struct {
	Postgres *postgres.Client
	SQLite   *sql.DB

	// EventStore is the ledger event journal: postgres in server mode,
	// sqlite in local mode.
	EventStore domain.EventStore

	SignalBus   domain.SignalBus
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager

	// Blobs holds ledger snapshots; nil unless snapshots are enabled.
	Blobs *s3blob.Store

	Notifier *notify.Notifier

	// Checks backs GET /api/health.
	Checks map[string]handler.Check
}

func needsPostgres(mode string) bool {
	return mode == "server" || mode == "migrate"
}

func needsRedis(mode string) bool {
	return mode == "server"
}

func needsSQLite(mode string) bool {
	return mode == "local"
}

func needsS3(cfg *config.Config) bool {
	return strings.ToLower(cfg.Mode) == "server" && cfg.Snapshot.Enabled
}

// Wire constructs the concrete dependencies for cfg.Mode and returns them
// together with a cleanup function that releases them in reverse order.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	if logger == nil {
		logger = slog.Default()
	}
	mode := strings.ToLower(cfg.Mode)

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{Checks: make(map[string]handler.Check)}

	// --- PostgreSQL ---
	if needsPostgres(mode) {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:             cfg.Postgres.DSN,
			Host:            cfg.Postgres.Host,
			Port:            cfg.Postgres.Port,
			Database:        cfg.Postgres.Database,
			User:            cfg.Postgres.User,
			Password:        cfg.Postgres.Password,
			SSLMode:         cfg.Postgres.SSLMode,
			MaxConns:        cfg.Postgres.PoolMaxConns,
			MinConns:        cfg.Postgres.PoolMinConns,
			MaxConnLifetime: cfg.Postgres.MaxConnLifetime.Duration,
		}, logger)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		// migrate mode applies the schema itself.
		if cfg.Postgres.RunMigrations && mode != "migrate" {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		deps.Postgres = pgClient
		deps.EventStore = postgres.NewEventStore(pgClient.Pool())
		deps.Checks["postgres"] = pgClient.Ping
	}

	// --- SQLite ---
	if needsSQLite(mode) {
		db, err := sqlite.Open(cfg.SQLite.Path)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: %w", err)
		}
		closers = append(closers, func() { _ = db.Close() })
		if err := sqlite.Migrate(db); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: %w", err)
		}
		deps.SQLite = db
		deps.EventStore = sqlite.NewEventStore(db)
		deps.Checks["sqlite"] = db.PingContext
	}

	// --- Redis ---
	if needsRedis(mode) {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			URL:          cfg.Redis.URL,
			Addr:         cfg.Redis.Addr,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			PoolSize:     cfg.Redis.PoolSize,
			MaxRetries:   cfg.Redis.MaxRetries,
			TLSEnabled:   cfg.Redis.TLSEnabled,
			StreamMaxLen: cfg.Redis.StreamMaxLen,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.SignalBus = redis.NewSignalBus(redisClient)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.LockManager = redis.NewLockManager(redisClient, logger)
		deps.Checks["redis"] = redisClient.Ping
	}

	// --- S3 snapshot archive ---
	if needsS3(cfg) {
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
		deps.Blobs = s3blob.NewStore(s3Client)
		deps.Checks["s3"] = s3Client.Health
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

	return deps, cleanup, nil
}
