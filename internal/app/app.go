// Package app wires configuration, storage, cache and services for the binaries.
package app

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"inventory-engine/internal/api"
	"inventory-engine/internal/config"
	"inventory-engine/internal/interfaces"
	redisCache "inventory-engine/internal/redis"
	"inventory-engine/internal/repository"
	"inventory-engine/internal/repository/memory"
	"inventory-engine/internal/service"
)

// Backend is the persistence selected by STORE_DRIVER
type Backend struct {
	Store   interfaces.Store
	Kits    interfaces.KitRepository
	Catalog interfaces.CatalogService
	Outbox  interfaces.OutboxStore

	db *sqlx.DB
}

// Services are the engine's domain services
type Services struct {
	Ledger       *service.Ledger
	Availability *service.AvailabilityService
	Reservations *service.ReservationService
	Kits         *service.KitService
	Counts       *service.CountService
}

// SetupLogging configures structured logging
func SetupLogging(cfg *config.Config) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if !cfg.IsProduction() {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
	log.Logger = log.With().Str("service", cfg.ServiceName).Str("instance", cfg.InstanceID).Logger()

	level, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil || cfg.LogLevel == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
}

// OpenBackend connects the configured store and applies migrations when asked
func OpenBackend(ctx context.Context, cfg *config.Config) (*Backend, error) {
	if cfg.StoreDriver == config.StoreDriverMemory {
		log.Warn().Msg("Using in-memory store, data is lost on restart")
		store := memory.NewStore(cfg.LockTimeout)
		return &Backend{Store: store, Kits: store, Catalog: store, Outbox: store}, nil
	}

	db, err := sqlx.Connect("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	db.SetMaxOpenConns(cfg.DatabaseMaxConns)
	db.SetMaxIdleConns(cfg.DatabaseMaxIdleConns)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	log.Info().Int("max_conns", cfg.DatabaseMaxConns).Msg("Database connection established")

	if cfg.RunMigrations {
		if err := repository.Migrate(ctx, db); err != nil {
			db.Close()
			return nil, err
		}
	}

	store := repository.NewStore(db, cfg.LockTimeout)
	return &Backend{
		Store:   store,
		Kits:    store,
		Catalog: store,
		Outbox:  repository.NewOutboxRepository(db),
		db:      db,
	}, nil
}

// HealthChecks returns the dependency health checks of the backend
func (b *Backend) HealthChecks() map[string]api.HealthChecker {
	checks := map[string]api.HealthChecker{}
	if b.db != nil {
		checks["database"] = b.db.PingContext
	}
	return checks
}

// Close releases the database pool, if any
func (b *Backend) Close() error {
	if b.db == nil {
		return nil
	}
	return b.db.Close()
}

// OpenCache connects Redis. It returns nil when caching is disabled.
func OpenCache(ctx context.Context, cfg *config.Config) (*redisCache.CacheClient, error) {
	if !cfg.CacheEnabled {
		log.Info().Msg("Availability cache disabled")
		return nil, nil
	}

	cache := redisCache.NewCacheClient(
		cfg.RedisAddrs,
		cfg.RedisPassword,
		cfg.RedisClusterMode,
		cfg.RedisTTL,
		cfg.RedisKeyPrefix,
	)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := cache.Ping(pingCtx); err != nil {
		cache.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	log.Info().Strs("addrs", cfg.RedisAddrs).Bool("cluster", cfg.RedisClusterMode).Msg("Redis connection established")
	return cache, nil
}

// ServiceConfig derives the service tuning from the process configuration
func ServiceConfig(cfg *config.Config) service.ServiceConfig {
	serviceConfig := service.DefaultServiceConfig()
	serviceConfig.MaxRetries = cfg.ContentionMaxRetries
	serviceConfig.RetryBackoff = cfg.ContentionBackoff
	serviceConfig.CacheTimeout = cfg.CacheTimeout
	return serviceConfig
}

// NewServices builds every domain service over one backend. cache may be nil.
// The cache only receives invalidations here; engine reads go to the store.
func NewServices(backend *Backend, cache *redisCache.CacheClient, cfg service.ServiceConfig) (*Services, error) {
	// keep a nil *CacheClient from becoming a non-nil interface
	var cacheRepo interfaces.CacheRepository
	if cache != nil {
		cacheRepo = cache
	}

	ledger, err := service.NewLedger(backend.Store, cacheRepo, cfg)
	if err != nil {
		return nil, err
	}
	availability, err := service.NewAvailabilityService(backend.Store, nil, cfg)
	if err != nil {
		return nil, err
	}
	reservations, err := service.NewReservationService(backend.Store, cacheRepo, cfg)
	if err != nil {
		return nil, err
	}
	counts, err := service.NewCountService(backend.Store, ledger, backend.Catalog, cacheRepo, cfg)
	if err != nil {
		return nil, err
	}

	return &Services{
		Ledger:       ledger,
		Availability: availability,
		Reservations: reservations,
		Kits:         service.NewKitService(backend.Kits, availability, reservations),
		Counts:       counts,
	}, nil
}

// NewCachedAvailability builds the read-through availability query used by
// the reader process.
func NewCachedAvailability(backend *Backend, cache *redisCache.CacheClient, cfg service.ServiceConfig) (*service.AvailabilityService, error) {
	if cache == nil {
		return service.NewAvailabilityService(backend.Store, nil, cfg)
	}
	return service.NewAvailabilityService(backend.Store, cache, cfg)
}
