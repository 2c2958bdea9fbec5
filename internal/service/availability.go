package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"inventory-engine/internal/interfaces"
	"inventory-engine/internal/metrics"
	"inventory-engine/internal/models"
)

// AvailabilityService computes available = on hand - outstanding reservations.
// With a cache it serves the read side; the engine itself runs without one.
type AvailabilityService struct {
	store  interfaces.Reader
	cache  interfaces.CacheRepository
	config ServiceConfig
}

var _ interfaces.AvailabilityQuery = (*AvailabilityService)(nil)

// NewAvailabilityService creates a new availability query. cache may be nil.
func NewAvailabilityService(store interfaces.Reader, cache interfaces.CacheRepository, config ServiceConfig) (*AvailabilityService, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid service configuration: %w", err)
	}
	return &AvailabilityService{store: store, cache: cache, config: config}, nil
}

// GetAvailability returns the availability of one position
func (s *AvailabilityService) GetAvailability(ctx context.Context, key models.PositionKey) (*models.Availability, error) {
	if err := requireKey(key); err != nil {
		return nil, err
	}

	if s.cache != nil {
		cached, err := s.cache.GetAvailability(ctx, key)
		switch {
		case err != nil:
			metrics.CacheLookups.WithLabelValues("error").Inc()
			log.Debug().Err(err).Str("key", key.String()).Msg("Cache error, falling back to store")
		case cached != nil:
			metrics.CacheLookups.WithLabelValues("hit").Inc()
			cached.CacheHit = true
			return cached, nil
		default:
			metrics.CacheLookups.WithLabelValues("miss").Inc()
		}
	}

	availability, err := s.compute(ctx, key)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		// fills computed at an older version than the cached entry are dropped by the cache
		toCache := *availability
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), s.config.CacheTimeout)
			defer cancel()
			if err := s.cache.SetAvailability(ctx, &toCache); err != nil {
				log.Error().Err(err).Str("key", key.String()).Msg("Failed to update availability cache")
			}
		}()
	}
	return availability, nil
}

// compute reads the position before the reservations. Both change under the
// position version, so figures are never older than the version they carry.
func (s *AvailabilityService) compute(ctx context.Context, key models.PositionKey) (*models.Availability, error) {
	position, err := s.store.GetPosition(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to get stock position: %w", err)
	}
	outstanding, err := s.store.SumOutstanding(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to sum outstanding reservations: %w", err)
	}

	var onHand, version int64
	if position != nil {
		onHand, version = position.QuantityOnHand, position.Version
	}
	return &models.Availability{
		Key:         key,
		OnHand:      onHand,
		Outstanding: outstanding,
		Available:   onHand - outstanding,
		Version:     version,
		ComputedAt:  time.Now().UTC(),
	}, nil
}

// availableTx is the locked variant used by reserve. The caller holds the
// position lock for the rest of the transaction.
func availableTx(ctx context.Context, tx interfaces.Tx, key models.PositionKey) (*models.StockPosition, int64, error) {
	position, err := tx.LockPosition(ctx, key)
	if err != nil {
		return nil, 0, err
	}
	outstanding, err := tx.SumOutstanding(ctx, key)
	if err != nil {
		return nil, 0, err
	}
	return position, position.QuantityOnHand - outstanding, nil
}
