package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"inventory-engine/internal/interfaces"
	"inventory-engine/internal/models"
)

// HealthChecker reports whether a dependency is reachable
type HealthChecker func(ctx context.Context) error

// EngineHandler exposes the ledger, reservations, kits and counts over HTTP
type EngineHandler struct {
	ledger       interfaces.StockLedger
	availability interfaces.AvailabilityQuery
	reservations interfaces.ReservationManager
	kits         interfaces.KitExpander
	counts       interfaces.CountReconciler
	checks       map[string]HealthChecker
}

// EngineServices groups the services behind the engine API
type EngineServices struct {
	Ledger       interfaces.StockLedger
	Availability interfaces.AvailabilityQuery
	Reservations interfaces.ReservationManager
	Kits         interfaces.KitExpander
	Counts       interfaces.CountReconciler
}

// NewEngineHandler creates a new engine API handler
func NewEngineHandler(services EngineServices, checks map[string]HealthChecker) *EngineHandler {
	return &EngineHandler{
		ledger:       services.Ledger,
		availability: services.Availability,
		reservations: services.Reservations,
		kits:         services.Kits,
		counts:       services.Counts,
		checks:       checks,
	}
}

// SetupRoutes builds the router. Every resource is scoped by tenant.
func (h *EngineHandler) SetupRoutes(enableMetrics bool) *gin.Engine {
	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(LoggingMiddleware())
	r.Use(ErrorHandlerMiddleware())

	r.GET("/health", healthHandler("inventory-engine", h.checks))
	if enableMetrics {
		r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	tenant := r.Group("/api/v1/tenants/:tenant")
	{
		positions := tenant.Group("/positions/:product/:warehouse")
		positions.GET("", h.getStock)
		positions.GET("/availability", h.getAvailability)
		positions.POST("/adjustments", h.adjustStock)
		positions.GET("/movements", h.listMovements)

		reservations := tenant.Group("/reservations")
		reservations.POST("", h.reserve)
		reservations.GET("", h.listReservations)
		reservations.GET("/:id", h.getReservation)
		reservations.POST("/:id/deliver", h.deliver)
		reservations.POST("/:id/return", h.returnStock)
		reservations.POST("/:id/cancel", h.cancelReservation)

		kits := tenant.Group("/kits/:kit")
		kits.GET("/needs", h.kitNeeds)
		kits.GET("/availability", h.kitAvailability)
		kits.POST("/apply", h.applyKit)

		counts := tenant.Group("/counts")
		counts.POST("", h.createCount)
		counts.GET("/:session", h.getCount)
		counts.POST("/:session/lines", h.generateLines)
		counts.GET("/:session/lines", h.listLines)
		counts.POST("/:session/start", h.startCount)
		counts.POST("/:session/complete", h.completeCount)
		counts.GET("/:session/summary", h.countSummary)
		counts.POST("/:session/apply", h.applyCount)
		counts.POST("/:session/cancel", h.cancelCount)

		tenant.PUT("/count-lines/:line", h.recordCount)
	}

	return r
}

// Stock ledger

func (h *EngineHandler) getStock(c *gin.Context) {
	key := positionKey(c)
	availability, err := h.availability.GetAvailability(c.Request.Context(), key)
	if err != nil {
		Response.Error(c, err)
		return
	}
	Response.Success(c, models.StockResponse{
		TenantID:       key.TenantID,
		ProductID:      key.ProductID,
		WarehouseID:    key.WarehouseID,
		QuantityOnHand: availability.OnHand,
		Outstanding:    availability.Outstanding,
		Available:      availability.Available,
		CacheHit:       availability.CacheHit,
		LastUpdated:    availability.ComputedAt,
	})
}

func (h *EngineHandler) getAvailability(c *gin.Context) {
	availability, err := h.availability.GetAvailability(c.Request.Context(), positionKey(c))
	if err != nil {
		Response.Error(c, err)
		return
	}
	Response.Success(c, availability)
}

func (h *EngineHandler) adjustStock(c *gin.Context) {
	var req models.AdjustStockRequest
	if !bindJSON(c, &req) {
		return
	}
	reason := models.MovementReason(req.Reason)
	if reason == "" {
		reason = models.ReasonManual
	}

	key := positionKey(c)
	onHand, err := h.ledger.Adjust(c.Request.Context(), key, req.Delta, reason, interfaces.AdjustOptions{
		Actor:         req.Actor,
		Note:          req.Note,
		ReferenceType: req.ReferenceType,
		ReferenceID:   req.ReferenceID,
	})
	if err != nil {
		Response.Error(c, err)
		return
	}
	Response.Success(c, models.AdjustStockResponse{Key: key, Delta: req.Delta, QuantityOnHand: onHand})
}

func (h *EngineHandler) listMovements(c *gin.Context) {
	limit, ok := queryInt(c, "limit", 100)
	if !ok {
		return
	}
	movements, err := h.ledger.ListMovements(c.Request.Context(), positionKey(c), int(limit))
	if err != nil {
		Response.Error(c, err)
		return
	}
	Response.Success(c, movements)
}

// Reservations

func (h *EngineHandler) reserve(c *gin.Context) {
	var req models.ReserveRequest
	if !bindJSON(c, &req) {
		return
	}
	reservation, err := h.reservations.Reserve(c.Request.Context(), c.Param("tenant"), interfaces.ReserveInput{
		EventID:            req.EventID,
		ProductID:          req.ProductID,
		WarehouseID:        req.WarehouseID,
		Quantity:           req.Quantity,
		NeedDate:           req.NeedDate,
		ExpectedReturnDate: req.ExpectedReturnDate,
		Notes:              req.Notes,
	})
	if err != nil {
		Response.Error(c, err)
		return
	}
	c.Header("Location", c.Request.URL.Path+"/"+reservation.ID.String())
	Response.Created(c, reservation)
}

func (h *EngineHandler) listReservations(c *gin.Context) {
	filter := models.ReservationFilter{
		TenantID:    c.Param("tenant"),
		EventID:     c.Query("event_id"),
		ProductID:   c.Query("product_id"),
		WarehouseID: c.Query("warehouse_id"),
	}
	for _, state := range c.QueryArray("state") {
		filter.States = append(filter.States, models.ReservationState(state))
	}

	reservations, err := h.reservations.ListReservations(c.Request.Context(), filter)
	if err != nil {
		Response.Error(c, err)
		return
	}
	Response.Success(c, reservations)
}

func (h *EngineHandler) getReservation(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	reservation, err := h.reservations.GetReservation(c.Request.Context(), c.Param("tenant"), id)
	if err != nil {
		Response.Error(c, err)
		return
	}
	Response.Success(c, reservation)
}

func (h *EngineHandler) deliver(c *gin.Context) {
	h.reservationQuantityOp(c, h.reservations.Deliver)
}

func (h *EngineHandler) returnStock(c *gin.Context) {
	h.reservationQuantityOp(c, h.reservations.ReturnStock)
}

func (h *EngineHandler) reservationQuantityOp(
	c *gin.Context,
	op func(ctx context.Context, tenantID string, id uuid.UUID, quantity int64) (*models.Reservation, error),
) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	var req models.QuantityRequest
	if !bindJSON(c, &req) {
		return
	}
	reservation, err := op(c.Request.Context(), c.Param("tenant"), id, req.Quantity)
	if err != nil {
		Response.Error(c, err)
		return
	}
	Response.Success(c, reservation)
}

func (h *EngineHandler) cancelReservation(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	var req models.CancelRequest
	if !bindJSON(c, &req) {
		return
	}
	reservation, err := h.reservations.Cancel(c.Request.Context(), c.Param("tenant"), id, req.Reason)
	if err != nil {
		Response.Error(c, err)
		return
	}
	Response.Success(c, reservation)
}

// Kits

func (h *EngineHandler) kitNeeds(c *gin.Context) {
	headcount, ok := queryInt(c, "headcount", 0)
	if !ok {
		return
	}
	needs, err := h.kits.ComputeNeeds(c.Request.Context(), c.Param("tenant"), c.Param("kit"), headcount)
	if err != nil {
		Response.Error(c, err)
		return
	}
	Response.Success(c, needs)
}

func (h *EngineHandler) kitAvailability(c *gin.Context) {
	headcount, ok := queryInt(c, "headcount", 0)
	if !ok {
		return
	}
	warehouseID := c.Query("warehouse_id")
	if warehouseID == "" {
		Response.ValidationError(c, "warehouse_id", "warehouse_id is required")
		return
	}
	result, err := h.kits.CheckAvailability(c.Request.Context(), c.Param("tenant"), c.Param("kit"), headcount, warehouseID)
	if err != nil {
		Response.Error(c, err)
		return
	}
	Response.Success(c, result)
}

func (h *EngineHandler) applyKit(c *gin.Context) {
	var req models.ApplyKitRequest
	if !bindJSON(c, &req) {
		return
	}
	result, err := h.kits.ApplyKit(c.Request.Context(), c.Param("tenant"), interfaces.ApplyKitInput{
		EventID:            req.EventID,
		KitID:              c.Param("kit"),
		Headcount:          req.Headcount,
		WarehouseID:        req.WarehouseID,
		NeedDate:           req.NeedDate,
		ExpectedReturnDate: req.ExpectedReturnDate,
	})
	if err != nil {
		Response.Error(c, err)
		return
	}
	// Partial success is still a 200; failures are listed per product.
	Response.Success(c, result)
}

// Counts

func (h *EngineHandler) createCount(c *gin.Context) {
	var req models.CreateCountRequest
	if !bindJSON(c, &req) {
		return
	}
	session, err := h.counts.CreateSession(c.Request.Context(), c.Param("tenant"), req.WarehouseID, models.CountKind(req.Kind), req.ProductIDs)
	if err != nil {
		Response.Error(c, err)
		return
	}
	Response.Created(c, session)
}

func (h *EngineHandler) getCount(c *gin.Context) {
	h.sessionOp(c, func(ctx context.Context, tenantID string, id uuid.UUID) (interface{}, error) {
		return h.counts.GetSession(ctx, tenantID, id)
	})
}

func (h *EngineHandler) generateLines(c *gin.Context) {
	h.sessionOp(c, func(ctx context.Context, tenantID string, id uuid.UUID) (interface{}, error) {
		n, err := h.counts.GenerateLines(ctx, tenantID, id)
		if err != nil {
			return nil, err
		}
		return models.GenerateLinesResponse{SessionID: id, LinesCreated: n}, nil
	})
}

func (h *EngineHandler) listLines(c *gin.Context) {
	h.sessionOp(c, func(ctx context.Context, tenantID string, id uuid.UUID) (interface{}, error) {
		return h.counts.ListLines(ctx, tenantID, id)
	})
}

func (h *EngineHandler) startCount(c *gin.Context) {
	h.sessionOp(c, func(ctx context.Context, tenantID string, id uuid.UUID) (interface{}, error) {
		return h.counts.Start(ctx, tenantID, id)
	})
}

func (h *EngineHandler) completeCount(c *gin.Context) {
	h.sessionOp(c, func(ctx context.Context, tenantID string, id uuid.UUID) (interface{}, error) {
		return h.counts.Complete(ctx, tenantID, id)
	})
}

func (h *EngineHandler) countSummary(c *gin.Context) {
	h.sessionOp(c, func(ctx context.Context, tenantID string, id uuid.UUID) (interface{}, error) {
		return h.counts.Summarize(ctx, tenantID, id)
	})
}

func (h *EngineHandler) cancelCount(c *gin.Context) {
	h.sessionOp(c, func(ctx context.Context, tenantID string, id uuid.UUID) (interface{}, error) {
		return h.counts.Cancel(ctx, tenantID, id)
	})
}

func (h *EngineHandler) applyCount(c *gin.Context) {
	id, ok := uuidParam(c, "session")
	if !ok {
		return
	}
	var req models.ApplyAdjustmentsRequest
	if !bindJSON(c, &req) {
		return
	}
	result, err := h.counts.ApplyAdjustments(c.Request.Context(), c.Param("tenant"), id, req.Actor)
	if err != nil {
		Response.Error(c, err)
		return
	}
	Response.Success(c, result)
}

func (h *EngineHandler) recordCount(c *gin.Context) {
	id, ok := uuidParam(c, "line")
	if !ok {
		return
	}
	var req models.RecordCountRequest
	if !bindJSON(c, &req) {
		return
	}
	line, err := h.counts.RecordCount(c.Request.Context(), c.Param("tenant"), id, *req.QuantityCounted)
	if err != nil {
		Response.Error(c, err)
		return
	}
	Response.Success(c, line)
}

func (h *EngineHandler) sessionOp(c *gin.Context, op func(ctx context.Context, tenantID string, id uuid.UUID) (interface{}, error)) {
	id, ok := uuidParam(c, "session")
	if !ok {
		return
	}
	result, err := op(c.Request.Context(), c.Param("tenant"), id)
	if err != nil {
		Response.Error(c, err)
		return
	}
	Response.Success(c, result)
}

// Helpers

func positionKey(c *gin.Context) models.PositionKey {
	return models.PositionKey{
		TenantID:    c.Param("tenant"),
		ProductID:   c.Param("product"),
		WarehouseID: c.Param("warehouse"),
	}
}

func uuidParam(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		Response.ValidationError(c, name, "must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func queryInt(c *gin.Context, name string, defaultValue int64) (int64, bool) {
	raw := c.Query(name)
	if raw == "" {
		return defaultValue, true
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		Response.ValidationError(c, name, "must be an integer")
		return 0, false
	}
	return value, true
}

func healthHandler(service string, checks map[string]HealthChecker) gin.HandlerFunc {
	return func(c *gin.Context) {
		status := http.StatusOK
		results := gin.H{}
		for name, check := range checks {
			if err := check(c.Request.Context()); err != nil {
				status = http.StatusServiceUnavailable
				results[name] = err.Error()
				continue
			}
			results[name] = "ok"
		}

		health := "healthy"
		if status != http.StatusOK {
			health = "unhealthy"
		}
		c.JSON(status, gin.H{
			"status":  health,
			"service": service,
			"checks":  results,
		})
	}
}
