// Package memory is an in-process implementation of the engine's persistence
// contracts. Locks are exclusive per key and bounded by a wait timeout, and
// transactional writes are staged until the transaction function succeeds.
package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"inventory-engine/internal/interfaces"
	"inventory-engine/internal/models"
)

var errLockTimeout = errors.New("lock wait timeout")

// DefaultLockTimeout bounds how long a transaction waits for a key.
const DefaultLockTimeout = 2 * time.Second

// Store keeps every record in maps guarded by one RWMutex. The mutex only
// protects map access; row-level serialization is done by the keyed locks.
type Store struct {
	mu sync.RWMutex

	positions    map[models.PositionKey]models.StockPosition
	movements    []models.Movement
	reservations map[uuid.UUID]models.Reservation
	sessions     map[uuid.UUID]models.CountSession
	lines        map[uuid.UUID]models.CountLine
	sessionLines map[uuid.UUID][]uuid.UUID
	kits         map[string]models.Kit
	products     map[string]models.Product
	warehouses   map[string]models.Warehouse
	outbox       []models.OutboxEvent

	nextMovementID int64
	nextOutboxID   int64

	locks       *keyedLocks
	lockTimeout time.Duration
	outboxLock  sync.Mutex
	now         func() time.Time
}

var (
	_ interfaces.Store          = (*Store)(nil)
	_ interfaces.KitRepository  = (*Store)(nil)
	_ interfaces.CatalogService = (*Store)(nil)
	_ interfaces.OutboxStore    = (*Store)(nil)
)

// NewStore creates an empty store. A non-positive lockTimeout uses DefaultLockTimeout.
func NewStore(lockTimeout time.Duration) *Store {
	if lockTimeout <= 0 {
		lockTimeout = DefaultLockTimeout
	}
	return &Store{
		positions:    make(map[models.PositionKey]models.StockPosition),
		reservations: make(map[uuid.UUID]models.Reservation),
		sessions:     make(map[uuid.UUID]models.CountSession),
		lines:        make(map[uuid.UUID]models.CountLine),
		sessionLines: make(map[uuid.UUID][]uuid.UUID),
		kits:         make(map[string]models.Kit),
		products:     make(map[string]models.Product),
		warehouses:   make(map[string]models.Warehouse),
		locks:        newKeyedLocks(),
		lockTimeout:  lockTimeout,
		now:          time.Now,
	}
}

// InTx runs fn with a fresh staged transaction and commits it when fn succeeds.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx interfaces.Tx) error) error {
	tx := newTx(s)
	defer tx.releaseLocks()

	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	tx.commit()
	return nil
}

// Reader

func (s *Store) GetPosition(_ context.Context, key models.PositionKey) (*models.StockPosition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.positions[key]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (s *Store) ListPositions(_ context.Context, tenantID, warehouseID string, productIDs []string) ([]models.StockPosition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.filterPositions(nil, tenantID, warehouseID, productIDs), nil
}

func (s *Store) filterPositions(overlay map[models.PositionKey]models.StockPosition, tenantID, warehouseID string, productIDs []string) []models.StockPosition {
	wanted := make(map[string]bool, len(productIDs))
	for _, id := range productIDs {
		wanted[id] = true
	}
	match := func(p models.StockPosition) bool {
		if p.TenantID != tenantID {
			return false
		}
		if warehouseID != models.AllWarehouses && p.WarehouseID != warehouseID {
			return false
		}
		return len(wanted) == 0 || wanted[p.ProductID]
	}

	var out []models.StockPosition
	for key, p := range s.positions {
		if o, ok := overlay[key]; ok {
			p = o
		}
		if match(p) {
			out = append(out, p)
		}
	}
	for key, p := range overlay {
		if _, ok := s.positions[key]; !ok && match(p) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].WarehouseID != out[j].WarehouseID {
			return out[i].WarehouseID < out[j].WarehouseID
		}
		return out[i].ProductID < out[j].ProductID
	})
	return out
}

func (s *Store) ListMovements(_ context.Context, key models.PositionKey, limit int) ([]models.Movement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Movement
	for i := len(s.movements) - 1; i >= 0; i-- {
		m := s.movements[i]
		if m.TenantID == key.TenantID && m.ProductID == key.ProductID && m.WarehouseID == key.WarehouseID {
			out = append(out, m)
			if limit > 0 && len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (s *Store) SumOutstanding(_ context.Context, key models.PositionKey) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sumOutstanding(nil, key), nil
}

func (s *Store) sumOutstanding(overlay map[uuid.UUID]models.Reservation, key models.PositionKey) int64 {
	var total int64
	for id, r := range s.reservations {
		if o, ok := overlay[id]; ok {
			r = o
		}
		if r.Key() == key {
			total += r.Outstanding()
		}
	}
	for id, r := range overlay {
		if _, ok := s.reservations[id]; !ok && r.Key() == key {
			total += r.Outstanding()
		}
	}
	return total
}

func (s *Store) GetReservation(_ context.Context, tenantID string, id uuid.UUID) (*models.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.reservations[id]
	if !ok || r.TenantID != tenantID {
		return nil, nil
	}
	return &r, nil
}

func (s *Store) ListReservations(_ context.Context, f models.ReservationFilter) ([]models.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	states := make(map[models.ReservationState]bool, len(f.States))
	for _, st := range f.States {
		states[st] = true
	}
	var out []models.Reservation
	for _, r := range s.reservations {
		switch {
		case r.TenantID != f.TenantID:
		case f.EventID != "" && r.EventID != f.EventID:
		case f.ProductID != "" && r.ProductID != f.ProductID:
		case f.WarehouseID != "" && r.WarehouseID != f.WarehouseID:
		case len(states) > 0 && !states[r.State]:
		default:
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) GetCountSession(_ context.Context, tenantID string, id uuid.UUID) (*models.CountSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cs, ok := s.sessions[id]
	if !ok || cs.TenantID != tenantID {
		return nil, nil
	}
	return &cs, nil
}

func (s *Store) ListCountLines(_ context.Context, tenantID string, sessionID uuid.UUID) ([]models.CountLine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessionLineList(nil, nil, tenantID, sessionID), nil
}

func (s *Store) sessionLineList(overlay map[uuid.UUID]models.CountLine, added []uuid.UUID, tenantID string, sessionID uuid.UUID) []models.CountLine {
	var out []models.CountLine
	appendLine := func(l models.CountLine) {
		if l.TenantID == tenantID && l.SessionID == sessionID {
			out = append(out, l)
		}
	}
	for _, id := range s.sessionLines[sessionID] {
		l := s.lines[id]
		if o, ok := overlay[id]; ok {
			l = o
		}
		appendLine(l)
	}
	for _, id := range added {
		appendLine(overlay[id])
	}
	return out
}

// KitRepository

func (s *Store) GetKit(_ context.Context, tenantID, kitID string) (*models.Kit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	k, ok := s.kits[tenantID+"/"+kitID]
	if !ok {
		return nil, nil
	}
	k.Lines = append([]models.KitLineItem(nil), k.Lines...)
	return &k, nil
}

// PutKit registers a kit template.
func (s *Store) PutKit(kit models.Kit) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kit.Lines = append([]models.KitLineItem(nil), kit.Lines...)
	s.kits[kit.TenantID+"/"+kit.ID] = kit
}

// CatalogService

func (s *Store) GetProduct(_ context.Context, tenantID, productID string) (*models.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.products[tenantID+"/"+productID]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (s *Store) GetWarehouse(_ context.Context, tenantID, warehouseID string) (*models.Warehouse, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.warehouses[tenantID+"/"+warehouseID]
	if !ok {
		return nil, nil
	}
	return &w, nil
}

// PutProduct registers a catalog product.
func (s *Store) PutProduct(p models.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[p.TenantID+"/"+p.ID] = p
}

// PutWarehouse registers a catalog warehouse.
func (s *Store) PutWarehouse(w models.Warehouse) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.warehouses[w.TenantID+"/"+w.ID] = w
}

// OutboxStore

func (s *Store) TryLockRelay(_ context.Context, _ int64) (bool, error) {
	return s.outboxLock.TryLock(), nil
}

func (s *Store) UnlockRelay(_ context.Context, _ int64) error {
	s.outboxLock.Unlock()
	return nil
}

func (s *Store) PendingEvents(_ context.Context, limit int) ([]models.OutboxEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.OutboxEvent
	for _, e := range s.outbox {
		if e.Published {
			continue
		}
		out = append(out, e)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *Store) MarkPublished(_ context.Context, ids []int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	done := make(map[int64]bool, len(ids))
	for _, id := range ids {
		done[id] = true
	}
	now := s.now()
	for i := range s.outbox {
		if done[s.outbox[i].ID] {
			s.outbox[i].Published = true
			s.outbox[i].PublishedAt = &now
		}
	}
	return nil
}

func (s *Store) RecordPublishFailure(_ context.Context, id int64, lastError string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.outbox {
		if s.outbox[i].ID == id {
			s.outbox[i].PublishAttempts++
			msg := lastError
			s.outbox[i].LastError = &msg
		}
	}
	return nil
}

// OutboxEvents returns a copy of every outbox row, published or not.
func (s *Store) OutboxEvents() []models.OutboxEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.OutboxEvent(nil), s.outbox...)
}
