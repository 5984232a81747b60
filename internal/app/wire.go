package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	s3blob "github.com/kordes/polymirror/internal/blob/s3"
	"github.com/kordes/polymirror/internal/cache/redis"
	"github.com/kordes/polymirror/internal/config"
	"github.com/kordes/polymirror/internal/domain"
	"github.com/kordes/polymirror/internal/notify"
	"github.com/kordes/polymirror/internal/registry"
	"github.com/kordes/polymirror/internal/store/file"
	"github.com/kordes/polymirror/internal/store/postgres"
)

// Dependencies bundles every domain-level dependency the application modes
// need to operate. It is constructed by Wire and torn down by the returned
// cleanup function.
type Dependencies struct {
	// Ledger persistence
	LedgerStore domain.LedgerStore
	AuditStore  domain.AuditStore // nil on the file backend
	Registry    *registry.Registry

	// Caches
	PriceCache  domain.PriceCache
	MarketCache domain.MarketCache
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	SignalBus   domain.SignalBus

	// Blob storage, nil unless S3 is enabled. Archiver is also nil in
	// serve mode, which browses archives without writing them.
	BlobWriter domain.BlobWriter
	BlobReader domain.BlobReader
	Archiver   *s3blob.ArchiveImpl

	// Notifications
	Notifier *notify.Notifier
}

// writesLedger returns true for modes that mutate ledgers. Serve mode is
// read-only: it browses archives but never runs the archive sweep.
func writesLedger(mode string) bool {
	switch mode {
	case "copy", "monitor", "full":
		return true
	default:
		return false
	}
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	logger := slog.Default()
	mode := strings.ToLower(cfg.Mode)

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- Ledger store (backend per config) ---
	switch strings.ToLower(cfg.Storage.Backend) {
	case "postgres":
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
		deps.LedgerStore = postgres.NewLedgerStore(pool)
		deps.AuditStore = postgres.NewAuditStore(pool)

	default: // "file"
		st, err := file.New(cfg.Storage.FileDir)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: file store: %w", err)
		}
		deps.LedgerStore = st
	}

	deps.Registry = registry.New(deps.LedgerStore, logger)

	// --- Redis ---
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

	deps.PriceCache = redis.NewPriceCache(redisClient, cfg.Redis.CacheTTL.Duration)
	deps.MarketCache = redis.NewMarketCache(redisClient)
	deps.RateLimiter = redis.NewRateLimiter(redisClient)
	deps.LockManager = redis.NewLockManager(redisClient)
	deps.SignalBus = redis.NewSignalBus(redisClient)

	// --- Object storage ---
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
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })

		deps.BlobWriter = s3blob.NewWriter(s3Client)
		deps.BlobReader = s3blob.NewReader(s3Client)

		// The archive sweep only runs where the ledger is written.
		if writesLedger(mode) {
			deps.Archiver = s3blob.NewArchiver(
				deps.BlobWriter,
				deps.Registry,
				deps.AuditStore,
				s3blob.Config{
					MaxAge: time.Duration(cfg.S3.ArchiveAfterDays) * 24 * time.Hour,
				},
				logger,
			)
		}
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
	closers = append(closers, deps.Notifier.Close)

	return deps, cleanup, nil
}
