package memory

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"inventory-engine/internal/interfaces"
	"inventory-engine/internal/models"
)

// tx stages writes in overlays that shadow the committed maps.
type tx struct {
	s    *Store
	held map[string]bool
	// order of acquisition, released in reverse
	heldOrder []string

	positions    map[models.PositionKey]models.StockPosition
	movements    []models.Movement
	reservations map[uuid.UUID]models.Reservation
	sessions     map[uuid.UUID]models.CountSession
	lines        map[uuid.UUID]models.CountLine
	addedLines   map[uuid.UUID][]uuid.UUID
	outbox       []models.OutboxEvent
}

var _ interfaces.Tx = (*tx)(nil)

func newTx(s *Store) *tx {
	return &tx{
		s:            s,
		held:         make(map[string]bool),
		positions:    make(map[models.PositionKey]models.StockPosition),
		reservations: make(map[uuid.UUID]models.Reservation),
		sessions:     make(map[uuid.UUID]models.CountSession),
		lines:        make(map[uuid.UUID]models.CountLine),
		addedLines:   make(map[uuid.UUID][]uuid.UUID),
	}
}

func (t *tx) lock(ctx context.Context, key string) error {
	if t.held[key] {
		return nil
	}
	if err := t.s.locks.acquire(ctx, key, t.s.lockTimeout); err != nil {
		return err
	}
	t.held[key] = true
	t.heldOrder = append(t.heldOrder, key)
	return nil
}

func (t *tx) releaseLocks() {
	for i := len(t.heldOrder) - 1; i >= 0; i-- {
		t.s.locks.release(t.heldOrder[i])
	}
	t.heldOrder = nil
	t.held = map[string]bool{}
}

func (t *tx) commit() {
	s := t.s
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, p := range t.positions {
		s.positions[key] = p
	}
	for _, m := range t.movements {
		s.nextMovementID++
		m.ID = s.nextMovementID
		s.movements = append(s.movements, m)
	}
	for id, r := range t.reservations {
		s.reservations[id] = r
	}
	for id, cs := range t.sessions {
		s.sessions[id] = cs
	}
	for id, l := range t.lines {
		s.lines[id] = l
	}
	for sessionID, ids := range t.addedLines {
		s.sessionLines[sessionID] = append(s.sessionLines[sessionID], ids...)
	}
	for _, e := range t.outbox {
		s.nextOutboxID++
		e.ID = s.nextOutboxID
		s.outbox = append(s.outbox, e)
	}
}

func (t *tx) LockPosition(ctx context.Context, key models.PositionKey) (*models.StockPosition, error) {
	if err := t.lock(ctx, "position:"+key.String()); err != nil {
		return nil, err
	}
	if p, ok := t.positions[key]; ok {
		return &p, nil
	}
	t.s.mu.RLock()
	p, ok := t.s.positions[key]
	t.s.mu.RUnlock()
	if !ok {
		p = models.StockPosition{TenantID: key.TenantID, ProductID: key.ProductID, WarehouseID: key.WarehouseID}
	}
	return &p, nil
}

func (t *tx) SavePosition(_ context.Context, position *models.StockPosition) error {
	key := position.Key()
	if !t.held["position:"+key.String()] {
		return fmt.Errorf("position %s saved without holding its lock", key)
	}
	p := *position
	p.Version++
	p.UpdatedAt = t.s.now()
	t.positions[key] = p
	position.Version = p.Version
	position.UpdatedAt = p.UpdatedAt
	return nil
}

func (t *tx) InsertMovement(_ context.Context, movement *models.Movement) error {
	m := *movement
	if m.CreatedAt.IsZero() {
		m.CreatedAt = t.s.now()
	}
	t.movements = append(t.movements, m)
	movement.CreatedAt = m.CreatedAt
	return nil
}

func (t *tx) SumOutstanding(_ context.Context, key models.PositionKey) (int64, error) {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	return t.s.sumOutstanding(t.reservations, key), nil
}

func (t *tx) ListPositions(_ context.Context, tenantID, warehouseID string, productIDs []string) ([]models.StockPosition, error) {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	return t.s.filterPositions(t.positions, tenantID, warehouseID, productIDs), nil
}

func (t *tx) InsertReservation(ctx context.Context, reservation *models.Reservation) error {
	if err := t.lock(ctx, "reservation:"+reservation.ID.String()); err != nil {
		return err
	}
	now := t.s.now()
	reservation.CreatedAt = now
	reservation.UpdatedAt = now
	t.reservations[reservation.ID] = *reservation
	return nil
}

func (t *tx) GetReservationForUpdate(ctx context.Context, tenantID string, id uuid.UUID) (*models.Reservation, error) {
	if err := t.lock(ctx, "reservation:"+id.String()); err != nil {
		return nil, err
	}
	if r, ok := t.reservations[id]; ok {
		return &r, nil
	}
	t.s.mu.RLock()
	r, ok := t.s.reservations[id]
	t.s.mu.RUnlock()
	if !ok || r.TenantID != tenantID {
		return nil, nil
	}
	return &r, nil
}

func (t *tx) UpdateReservation(_ context.Context, reservation *models.Reservation) error {
	if !t.held["reservation:"+reservation.ID.String()] {
		return fmt.Errorf("reservation %s updated without holding its lock", reservation.ID)
	}
	reservation.UpdatedAt = t.s.now()
	t.reservations[reservation.ID] = *reservation
	return nil
}

func (t *tx) InsertCountSession(ctx context.Context, session *models.CountSession) error {
	if err := t.lock(ctx, "session:"+session.ID.String()); err != nil {
		return err
	}
	session.CreatedAt = t.s.now()
	cs := *session
	cs.ProductFilter = append([]string(nil), session.ProductFilter...)
	t.sessions[session.ID] = cs
	return nil
}

func (t *tx) GetCountSessionForUpdate(ctx context.Context, tenantID string, id uuid.UUID) (*models.CountSession, error) {
	if err := t.lock(ctx, "session:"+id.String()); err != nil {
		return nil, err
	}
	if cs, ok := t.sessions[id]; ok {
		return &cs, nil
	}
	t.s.mu.RLock()
	cs, ok := t.s.sessions[id]
	t.s.mu.RUnlock()
	if !ok || cs.TenantID != tenantID {
		return nil, nil
	}
	return &cs, nil
}

func (t *tx) UpdateCountSession(_ context.Context, session *models.CountSession) error {
	if !t.held["session:"+session.ID.String()] {
		return fmt.Errorf("count session %s updated without holding its lock", session.ID)
	}
	t.sessions[session.ID] = *session
	return nil
}

func (t *tx) InsertCountLines(_ context.Context, lines []models.CountLine) error {
	for _, l := range lines {
		if !t.held["session:"+l.SessionID.String()] {
			return fmt.Errorf("count lines inserted without holding session %s", l.SessionID)
		}
		t.lines[l.ID] = l
		t.addedLines[l.SessionID] = append(t.addedLines[l.SessionID], l.ID)
	}
	return nil
}

func (t *tx) GetCountLineForUpdate(ctx context.Context, tenantID string, lineID uuid.UUID) (*models.CountLine, error) {
	if err := t.lock(ctx, "line:"+lineID.String()); err != nil {
		return nil, err
	}
	if l, ok := t.lines[lineID]; ok {
		return &l, nil
	}
	t.s.mu.RLock()
	l, ok := t.s.lines[lineID]
	t.s.mu.RUnlock()
	if !ok || l.TenantID != tenantID {
		return nil, nil
	}
	return &l, nil
}

func (t *tx) UpdateCountLine(_ context.Context, line *models.CountLine) error {
	if !t.held["line:"+line.ID.String()] {
		return fmt.Errorf("count line %s updated without holding its lock", line.ID)
	}
	t.lines[line.ID] = *line
	return nil
}

func (t *tx) ListCountLines(_ context.Context, tenantID string, sessionID uuid.UUID) ([]models.CountLine, error) {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	return t.s.sessionLineList(t.lines, t.addedLines[sessionID], tenantID, sessionID), nil
}

func (t *tx) CreateOutboxEvent(_ context.Context, eventType, key string, payload interface{}) error {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}
	t.outbox = append(t.outbox, models.OutboxEvent{
		EventType: eventType,
		Key:       key,
		Payload:   string(payloadJSON),
		CreatedAt: t.s.now(),
	})
	return nil
}
