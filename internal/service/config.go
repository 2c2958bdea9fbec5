package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sethvargo/go-retry"

	"inventory-engine/internal/interfaces"
	"inventory-engine/internal/metrics"
	"inventory-engine/internal/models"
)

// ServiceConfig holds service configuration
type ServiceConfig struct {
	MaxRetries   int           // Retries after a ContentionError before it is returned
	RetryBackoff time.Duration // Base of the exponential backoff between retries
	CacheTimeout time.Duration // Timeout for cache fills and invalidations
}

// DefaultServiceConfig returns the configuration used when nothing is set
func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		MaxRetries:   3,
		RetryBackoff: 50 * time.Millisecond,
		CacheTimeout: 5 * time.Second,
	}
}

// Validate validates the service configuration
func (c ServiceConfig) Validate() error {
	if c.MaxRetries < 0 || c.MaxRetries > 10 {
		return fmt.Errorf("max retries must be between 0 and 10, got %d", c.MaxRetries)
	}
	if c.RetryBackoff < time.Millisecond {
		return fmt.Errorf("retry backoff must be at least 1ms, got %v", c.RetryBackoff)
	}
	if c.CacheTimeout < time.Millisecond {
		return fmt.Errorf("cache timeout must be at least 1ms, got %v", c.CacheTimeout)
	}
	return nil
}

// withContentionRetry runs fn again after a ContentionError, up to MaxRetries times.
// Any other error is returned as is.
func withContentionRetry(ctx context.Context, cfg ServiceConfig, operation string, fn func(ctx context.Context) error) error {
	start := time.Now()
	defer func() {
		metrics.OperationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	}()

	backoff := retry.WithMaxRetries(uint64(cfg.MaxRetries), retry.NewExponential(cfg.RetryBackoff))
	attempt := 0
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		err := fn(ctx)
		if err != nil && models.IsContention(err) {
			metrics.ContentionRetries.WithLabelValues(operation).Inc()
			log.Warn().Err(err).Str("operation", operation).Int("attempt", attempt).Msg("Contention detected, retrying")
			return retry.RetryableError(err)
		}
		return err
	})
}

// invalidator marks cached availability stale after a committed change.
// It runs before the write returns, so a read that follows never sees the old value.
type invalidator struct {
	cache   interfaces.CacheRepository
	timeout time.Duration
}

func (i invalidator) invalidate(ctx context.Context, positions ...*models.StockPosition) {
	if i.cache == nil || len(positions) == 0 {
		return
	}
	// the change is committed, a cancelled request must not skip this
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), i.timeout)
	defer cancel()

	for _, position := range positions {
		key := position.Key()
		if err := i.cache.InvalidateAvailability(ctx, key, position.Version); err != nil {
			log.Error().Err(err).Str("key", key.String()).Msg("Failed to invalidate availability cache")
			continue
		}
		log.Debug().Str("key", key.String()).Int64("version", position.Version).Msg("Availability cache invalidated")
	}
}

func requireKey(key models.PositionKey) error {
	switch {
	case key.TenantID == "":
		return models.NewValidationError("tenant_id", "tenant is required", nil)
	case key.ProductID == "":
		return models.NewValidationError("product_id", "product is required", nil)
	case key.WarehouseID == "":
		return models.NewValidationError("warehouse_id", "warehouse is required", nil)
	}
	return nil
}
