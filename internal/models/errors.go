package models

import (
	"errors"
	"fmt"
)

// ErrorCode represents standardized error codes
type ErrorCode string

const (
	ErrorCodeInvalidField           ErrorCode = "INVALID_FIELD"
	ErrorCodeValidationError        ErrorCode = "VALIDATION_ERROR"
	ErrorCodeInvalidQuantity        ErrorCode = "INVALID_QUANTITY"
	ErrorCodeInvalidHeadcount       ErrorCode = "INVALID_HEADCOUNT"
	ErrorCodeInsufficientStock      ErrorCode = "INSUFFICIENT_STOCK"
	ErrorCodeNegativeStock          ErrorCode = "NEGATIVE_STOCK"
	ErrorCodeInvalidStateTransition ErrorCode = "INVALID_STATE_TRANSITION"
	ErrorCodeContention             ErrorCode = "CONTENTION"
	ErrorCodeNotFound               ErrorCode = "NOT_FOUND"
	ErrorCodeInternalError          ErrorCode = "INTERNAL_ERROR"
)

// ValidationError represents validation errors with detailed field information
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
	Value   any    `json:"value,omitempty"`
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

// InsufficientStockError is returned when a reservation asks for more than is available.
// Available is reported so the caller can offer a reduced reservation.
type InsufficientStockError struct {
	Key       PositionKey `json:"key"`
	Requested int64       `json:"requested"`
	Available int64       `json:"available"`
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %s: requested %d, available %d", e.Key, e.Requested, e.Available)
}

// NegativeStockError is returned when an adjustment would leave on hand below zero.
type NegativeStockError struct {
	Key    PositionKey `json:"key"`
	OnHand int64       `json:"on_hand"`
	Delta  int64       `json:"delta"`
}

func (e *NegativeStockError) Error() string {
	return fmt.Sprintf("adjustment of %d on %s would leave on hand at %d", e.Delta, e.Key, e.OnHand+e.Delta)
}

// InvalidStateTransitionError is returned when an operation is not allowed from the current state.
type InvalidStateTransitionError struct {
	Entity    string `json:"entity"`
	ID        string `json:"id"`
	From      string `json:"from"`
	Operation string `json:"operation"`
	Reason    string `json:"reason,omitempty"`
}

func (e *InvalidStateTransitionError) Error() string {
	msg := fmt.Sprintf("cannot %s %s %s in state %s", e.Operation, e.Entity, e.ID, e.From)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

// InvalidQuantityError is returned for zero, negative or overshooting quantities.
type InvalidQuantityError struct {
	Field  string `json:"field"`
	Value  int64  `json:"value"`
	Reason string `json:"reason"`
}

func (e *InvalidQuantityError) Error() string {
	return fmt.Sprintf("invalid %s %d: %s", e.Field, e.Value, e.Reason)
}

// InvalidHeadcountError is returned when a kit is expanded for a non-positive headcount.
type InvalidHeadcountError struct {
	Headcount int64 `json:"headcount"`
}

func (e *InvalidHeadcountError) Error() string {
	return fmt.Sprintf("headcount must be positive, got %d", e.Headcount)
}

// ContentionError signals a lock wait timeout or a serialization conflict. It is retryable.
type ContentionError struct {
	Resource string `json:"resource"`
	Cause    error  `json:"-"`
}

func (e *ContentionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("contention on %s: %v", e.Resource, e.Cause)
	}
	return fmt.Sprintf("contention on %s", e.Resource)
}

func (e *ContentionError) Unwrap() error {
	return e.Cause
}

// NotFoundError represents resource not found errors
type NotFoundError struct {
	Resource string `json:"resource"`
	ID       string `json:"id"`
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s with ID '%s' not found", e.Resource, e.ID)
}

// Error factory functions for common scenarios

func NewValidationError(field, message string, value any) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
		Value:   value,
	}
}

func NewNotFoundError(resource, id string) *NotFoundError {
	return &NotFoundError{
		Resource: resource,
		ID:       id,
	}
}

func NewInvalidQuantity(field string, value int64, reason string) *InvalidQuantityError {
	return &InvalidQuantityError{Field: field, Value: value, Reason: reason}
}

func NewInvalidTransition(entity, id, from, operation string) *InvalidStateTransitionError {
	return &InvalidStateTransitionError{Entity: entity, ID: id, From: from, Operation: operation}
}

func NewContentionError(resource string, cause error) *ContentionError {
	return &ContentionError{Resource: resource, Cause: cause}
}

// Error type guards. They look through wrapped errors.

func IsValidationError(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

func IsInsufficientStock(err error) bool {
	var target *InsufficientStockError
	return errors.As(err, &target)
}

func IsNegativeStock(err error) bool {
	var target *NegativeStockError
	return errors.As(err, &target)
}

func IsInvalidTransition(err error) bool {
	var target *InvalidStateTransitionError
	return errors.As(err, &target)
}

func IsInvalidQuantity(err error) bool {
	var target *InvalidQuantityError
	return errors.As(err, &target)
}

func IsInvalidHeadcount(err error) bool {
	var target *InvalidHeadcountError
	return errors.As(err, &target)
}

func IsContention(err error) bool {
	var target *ContentionError
	return errors.As(err, &target)
}

func IsNotFoundError(err error) bool {
	var target *NotFoundError
	return errors.As(err, &target)
}

// GetErrorCode extracts error code from various error types
func GetErrorCode(err error) ErrorCode {
	switch {
	case err == nil:
		return ""
	case IsValidationError(err):
		return ErrorCodeValidationError
	case IsInvalidQuantity(err):
		return ErrorCodeInvalidQuantity
	case IsInvalidHeadcount(err):
		return ErrorCodeInvalidHeadcount
	case IsInsufficientStock(err):
		return ErrorCodeInsufficientStock
	case IsNegativeStock(err):
		return ErrorCodeNegativeStock
	case IsInvalidTransition(err):
		return ErrorCodeInvalidStateTransition
	case IsContention(err):
		return ErrorCodeContention
	case IsNotFoundError(err):
		return ErrorCodeNotFound
	default:
		return ErrorCodeInternalError
	}
}
