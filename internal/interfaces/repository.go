package interfaces

import (
	"context"

	"github.com/google/uuid"

	"inventory-engine/internal/models"
)

// Store is the persistence contract of the engine.
type Store interface {
	Reader

	// InTx runs fn inside one transaction. Locks taken through the Tx are held
	// until fn returns; writes become visible only if fn returns nil.
	// A lock wait that exceeds the store's budget fails with *models.ContentionError.
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Reader holds the non-locking reads used by queries and reports.
type Reader interface {
	GetPosition(ctx context.Context, key models.PositionKey) (*models.StockPosition, error)
	ListPositions(ctx context.Context, tenantID, warehouseID string, productIDs []string) ([]models.StockPosition, error)
	ListMovements(ctx context.Context, key models.PositionKey, limit int) ([]models.Movement, error)
	SumOutstanding(ctx context.Context, key models.PositionKey) (int64, error)

	GetReservation(ctx context.Context, tenantID string, id uuid.UUID) (*models.Reservation, error)
	ListReservations(ctx context.Context, filter models.ReservationFilter) ([]models.Reservation, error)

	GetCountSession(ctx context.Context, tenantID string, id uuid.UUID) (*models.CountSession, error)
	ListCountLines(ctx context.Context, tenantID string, sessionID uuid.UUID) ([]models.CountLine, error)
}

// Tx is the transactional view of the store.
type Tx interface {
	// LockPosition returns the position holding an exclusive lock on its key.
	// A position that was never created is returned with zero quantity.
	LockPosition(ctx context.Context, key models.PositionKey) (*models.StockPosition, error)
	SavePosition(ctx context.Context, position *models.StockPosition) error
	InsertMovement(ctx context.Context, movement *models.Movement) error
	SumOutstanding(ctx context.Context, key models.PositionKey) (int64, error)
	ListPositions(ctx context.Context, tenantID, warehouseID string, productIDs []string) ([]models.StockPosition, error)

	InsertReservation(ctx context.Context, reservation *models.Reservation) error
	GetReservationForUpdate(ctx context.Context, tenantID string, id uuid.UUID) (*models.Reservation, error)
	UpdateReservation(ctx context.Context, reservation *models.Reservation) error

	InsertCountSession(ctx context.Context, session *models.CountSession) error
	GetCountSessionForUpdate(ctx context.Context, tenantID string, id uuid.UUID) (*models.CountSession, error)
	UpdateCountSession(ctx context.Context, session *models.CountSession) error
	InsertCountLines(ctx context.Context, lines []models.CountLine) error
	GetCountLineForUpdate(ctx context.Context, tenantID string, lineID uuid.UUID) (*models.CountLine, error)
	UpdateCountLine(ctx context.Context, line *models.CountLine) error
	ListCountLines(ctx context.Context, tenantID string, sessionID uuid.UUID) ([]models.CountLine, error)

	CreateOutboxEvent(ctx context.Context, eventType, key string, payload interface{}) error
}

// KitRepository reads kit templates owned by the catalog.
type KitRepository interface {
	GetKit(ctx context.Context, tenantID, kitID string) (*models.Kit, error)
}

// CatalogService reads products and warehouses owned by the catalog.
type CatalogService interface {
	GetProduct(ctx context.Context, tenantID, productID string) (*models.Product, error)
	GetWarehouse(ctx context.Context, tenantID, warehouseID string) (*models.Warehouse, error)
}

// CacheRepository defines the contract for caching operations
type CacheRepository interface {
	GetAvailability(ctx context.Context, key models.PositionKey) (*models.Availability, error)
	SetAvailability(ctx context.Context, availability *models.Availability) error
	// InvalidateAvailability marks key stale as of version. A later
	// SetAvailability computed at an older version is ignored.
	InvalidateAvailability(ctx context.Context, key models.PositionKey, version int64) error
	GetProduct(ctx context.Context, tenantID, productID string) (*models.Product, error)
	SetProduct(ctx context.Context, product *models.Product) error
	Close() error
}
