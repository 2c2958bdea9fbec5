package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	ProblemTypeValidationError = "validation-error"
	ProblemTypeBusinessError   = "business-logic-error"
	ProblemTypeNotFound        = "not-found"
	ProblemTypeConflict        = "conflict"
	ProblemTypeContention      = "contention"
	ProblemTypeInternalError   = "internal-error"
)

// API Request Models

// AdjustStockRequest represents a manual ledger adjustment
type AdjustStockRequest struct {
	Delta         int64  `json:"delta" binding:"required"`
	Reason        string `json:"reason" binding:"omitempty,oneof=manual delivery return"`
	ReferenceType string `json:"reference_type"`
	ReferenceID   string `json:"reference_id"`
	Actor         string `json:"actor" binding:"required"`
	Note          string `json:"note"`
}

// ReserveRequest represents a request to reserve stock for an event
type ReserveRequest struct {
	EventID            string     `json:"event_id" binding:"required"`
	ProductID          string     `json:"product_id" binding:"required"`
	WarehouseID        string     `json:"warehouse_id" binding:"required"`
	Quantity           int64      `json:"quantity" binding:"required,min=1"`
	NeedDate           time.Time  `json:"need_date" binding:"required"`
	ExpectedReturnDate *time.Time `json:"expected_return_date"`
	Notes              string     `json:"notes"`
}

// QuantityRequest carries the quantity of a deliver or return call
type QuantityRequest struct {
	Quantity int64 `json:"quantity" binding:"required,min=1"`
}

// CancelRequest represents a request to cancel a reservation
type CancelRequest struct {
	Reason string `json:"reason" binding:"required"`
}

// ApplyKitRequest represents a request to expand a kit into reservations
type ApplyKitRequest struct {
	EventID            string     `json:"event_id" binding:"required"`
	Headcount          int64      `json:"headcount" binding:"required"`
	WarehouseID        string     `json:"warehouse_id" binding:"required"`
	NeedDate           time.Time  `json:"need_date" binding:"required"`
	ExpectedReturnDate *time.Time `json:"expected_return_date"`
}

// CreateCountRequest represents a request to schedule a count session
type CreateCountRequest struct {
	WarehouseID string   `json:"warehouse_id"`
	Kind        string   `json:"kind" binding:"required,oneof=complete partial cyclic random"`
	ProductIDs  []string `json:"product_ids"`
}

// RecordCountRequest carries an operator's tally for one line
type RecordCountRequest struct {
	QuantityCounted *int64 `json:"quantity_counted" binding:"required,min=0"`
}

// ApplyAdjustmentsRequest identifies who applies a completed count
type ApplyAdjustmentsRequest struct {
	Actor string `json:"actor" binding:"required"`
}

// API Response Models

// StockResponse represents the current state of one position
type StockResponse struct {
	TenantID       string    `json:"tenant_id"`
	ProductID      string    `json:"product_id"`
	WarehouseID    string    `json:"warehouse_id"`
	QuantityOnHand int64     `json:"quantity_on_hand"`
	Outstanding    int64     `json:"outstanding"`
	Available      int64     `json:"available"`
	CacheHit       bool      `json:"cache_hit"`
	LastUpdated    time.Time `json:"last_updated"`
}

// AdjustStockResponse is returned after a ledger adjustment
type AdjustStockResponse struct {
	Key            PositionKey `json:"key"`
	Delta          int64       `json:"delta"`
	QuantityOnHand int64       `json:"quantity_on_hand"`
}

// GenerateLinesResponse is returned after count lines are generated
type GenerateLinesResponse struct {
	SessionID    uuid.UUID `json:"session_id"`
	LinesCreated int       `json:"lines_created"`
}

// ProblemDetails is an RFC 7807 error body
type ProblemDetails struct {
	Type     string      `json:"type"`
	Title    string      `json:"title"`
	Status   int         `json:"status"`
	Detail   string      `json:"detail,omitempty"`
	Instance string      `json:"instance,omitempty"`
	Field    string      `json:"field,omitempty"`
	Code     string      `json:"code,omitempty"`
	Errors   interface{} `json:"errors,omitempty"`
	// Available is set on insufficient stock so clients can offer a smaller reservation.
	Available *int64 `json:"available,omitempty"`
}

func NewProblemDetails(status int, title, detail string) *ProblemDetails {
	return &ProblemDetails{
		Type:   getProblemType(status),
		Title:  title,
		Status: status,
		Detail: detail,
	}
}

// NewValidationProblem creates a validation error problem
func NewValidationProblem(field, message string, code ErrorCode) *ProblemDetails {
	return &ProblemDetails{
		Type:   ProblemTypeValidationError,
		Title:  "Validation Failed",
		Status: 400,
		Detail: message,
		Field:  field,
		Code:   string(code),
	}
}

// NewMultiValidationProblem creates a multi-field validation error problem
func NewMultiValidationProblem(violations []ValidationError) *ProblemDetails {
	return &ProblemDetails{
		Type:   ProblemTypeValidationError,
		Title:  "Validation Failed",
		Status: 400,
		Detail: "Multiple validation errors occurred",
		Errors: violations,
	}
}

// NewBusinessLogicProblem creates a business logic error problem
func NewBusinessLogicProblem(status int, title, detail string, code ErrorCode) *ProblemDetails {
	return &ProblemDetails{
		Type:   ProblemTypeBusinessError,
		Title:  title,
		Status: status,
		Detail: detail,
		Code:   string(code),
	}
}

// NewNotFoundProblem creates a not found error problem
func NewNotFoundProblem(resource string) *ProblemDetails {
	return &ProblemDetails{
		Type:   ProblemTypeNotFound,
		Title:  "Resource Not Found",
		Status: 404,
		Detail: resource + " not found",
		Code:   string(ErrorCodeNotFound),
	}
}

// NewInternalErrorProblem creates an internal server error problem
func NewInternalErrorProblem() *ProblemDetails {
	return &ProblemDetails{
		Type:   ProblemTypeInternalError,
		Title:  "Internal Server Error",
		Status: 500,
		Detail: "An unexpected error occurred",
		Code:   string(ErrorCodeInternalError),
	}
}

func getProblemType(status int) string {
	switch status {
	case 400:
		return ProblemTypeValidationError
	case 404:
		return ProblemTypeNotFound
	case 409:
		return ProblemTypeConflict
	case 422:
		return ProblemTypeBusinessError
	case 503:
		return ProblemTypeContention
	default:
		return ProblemTypeInternalError
	}
}
