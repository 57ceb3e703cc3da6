package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	s3blob "github.com/foldmarkets/settld/internal/blob/s3"
	"github.com/foldmarkets/settld/internal/cache/redis"
	"github.com/foldmarkets/settld/internal/config"
	"github.com/foldmarkets/settld/internal/domain"
	"github.com/foldmarkets/settld/internal/store/postgres"
)

// migrationLockTTL bounds how long one instance may hold the migration lock.
const migrationLockTTL = 2 * time.Minute

// Dependencies bundles every domain-level dependency the operating modes
// need. It is constructed by Wire and torn down by the returned cleanup
// function.
type Dependencies struct {
	// Stores
	LedgerStore  domain.LedgerStore
	MarketStore  domain.MarketStore
	AccountStore domain.AccountStore
	OrderStore   domain.OrderStore
	TradeStore   domain.TradeStore

	// Caches
	ProbCache   domain.ProbabilityCache
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	SignalBus   domain.SignalBus

	// Blob storage
	BlobWriter *s3blob.Writer
	Archiver   *s3blob.Archiver

	// Clients, kept for health checks
	PG    *postgres.Client
	Redis *redis.Client
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that
// should be called on shutdown to release resources. Paper mode does not go
// through Wire; it runs on the in-memory store with no external backends.
func Wire(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	logger := slog.Default()

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- Redis first: the migration lock lives there ---
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

	deps.Redis = redisClient
	deps.ProbCache = redis.NewProbabilityCache(redisClient)
	deps.RateLimiter = redis.NewRateLimiter(redisClient)
	deps.LockManager = redis.NewLockManager(redisClient)
	deps.SignalBus = redis.NewSignalBus(redisClient)

	// --- PostgreSQL ---
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
	deps.PG = pgClient

	if cfg.Postgres.RunMigrations {
		if err := migrateUnderLock(ctx, deps.LockManager, pgClient, logger); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}

	pool := pgClient.Pool()
	deps.LedgerStore = postgres.NewLedgerStore(pool)
	deps.MarketStore = postgres.NewMarketStore(pool)
	deps.AccountStore = postgres.NewAccountStore(pool)
	deps.OrderStore = postgres.NewOrderStore(pool)
	deps.TradeStore = postgres.NewTradeStore(pool)

	// --- S3 blob storage (only when archival is enabled) ---
	if cfg.Archive.Enabled {
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

		deps.BlobWriter = s3blob.NewWriter(s3Client)
		deps.Archiver = s3blob.NewArchiver(deps.BlobWriter, deps.TradeStore, logger).
			WithInterval(cfg.Archive.Interval.Duration).
			WithRetention(cfg.Archive.Retention.Duration)
	}

	return deps, cleanup, nil
}

// migrateUnderLock runs schema migrations while holding a distributed lock
// so that concurrently starting instances do not race on DDL.
func migrateUnderLock(ctx context.Context, locks domain.LockManager, pg *postgres.Client, logger *slog.Logger) error {
	unlock, err := locks.Acquire(ctx, "migrations", migrationLockTTL)
	if err != nil {
		// Another instance is migrating; assume it finishes and move on.
		logger.WarnContext(ctx, "migration lock held elsewhere, skipping",
			slog.String("error", err.Error()),
		)
		return nil
	}
	defer unlock()

	return pg.RunMigrations(ctx)
}
