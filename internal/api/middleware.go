package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"inventory-engine/internal/models"
)

// retryAfterSeconds is advertised on 503 responses caused by lock contention
const retryAfterSeconds = "1"

// RequestIDMiddleware adds a unique request ID to each request
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}

		c.Header("X-Request-ID", requestID)
		c.Set("request_id", requestID)
		c.Next()
	}
}

// LoggingMiddleware writes one structured line per request
func LoggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		event := log.Info()
		if c.Writer.Status() >= http.StatusInternalServerError {
			event = log.Error()
		}
		event.
			Str("request_id", getRequestID(c)).
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Msg("HTTP request")
	}
}

// ErrorHandlerMiddleware turns errors attached with c.Error into problem details
func ErrorHandlerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}
		err := c.Errors.Last()
		if err.Type == gin.ErrorTypeBind {
			handleValidationError(c, err.Err)
			return
		}
		Response.Error(c, err.Err)
	}
}

// ResponseHelpers provides methods for REST-native responses
type ResponseHelpers struct{}

// Success sends the resource directly (no wrapper)
func (h *ResponseHelpers) Success(c *gin.Context, resource interface{}) {
	c.JSON(http.StatusOK, resource)
}

// Created sends a 201 created response with the created resource
func (h *ResponseHelpers) Created(c *gin.Context, resource interface{}) {
	c.JSON(http.StatusCreated, resource)
}

func (h *ResponseHelpers) ValidationError(c *gin.Context, field, message string) {
	problem := models.NewValidationProblem(field, message, models.ErrorCodeInvalidField)
	h.setRequestIDHeader(c)
	c.JSON(http.StatusBadRequest, problem)
}

// NotFound sends a 404 not found response
func (h *ResponseHelpers) NotFound(c *gin.Context, resource string) {
	problem := models.NewNotFoundProblem(resource)
	h.setRequestIDHeader(c)
	c.JSON(http.StatusNotFound, problem)
}

// InternalError sends a 500 internal server error response
func (h *ResponseHelpers) InternalError(c *gin.Context, err error) {
	h.setRequestIDHeader(c)

	// Log the error for debugging but don't expose internals
	log.Error().
		Err(err).
		Str("request_id", getRequestID(c)).
		Str("path", c.FullPath()).
		Msg("Internal server error")

	c.JSON(http.StatusInternalServerError, models.NewInternalErrorProblem())
}

// Error maps a typed engine error to its problem details response
func (h *ResponseHelpers) Error(c *gin.Context, err error) {
	h.setRequestIDHeader(c)
	code := models.GetErrorCode(err)

	var (
		validationErr   *models.ValidationError
		insufficientErr *models.InsufficientStockError
		notFoundErr     *models.NotFoundError
	)

	switch {
	case errors.As(err, &validationErr):
		c.JSON(http.StatusBadRequest, models.NewValidationProblem(validationErr.Field, validationErr.Message, code))
	case models.IsInvalidQuantity(err), models.IsInvalidHeadcount(err):
		problem := models.NewProblemDetails(http.StatusBadRequest, "Invalid Request", err.Error())
		problem.Code = string(code)
		c.JSON(http.StatusBadRequest, problem)
	case errors.As(err, &notFoundErr):
		c.JSON(http.StatusNotFound, models.NewNotFoundProblem(notFoundErr.Resource+" "+notFoundErr.ID))
	case errors.As(err, &insufficientErr):
		problem := models.NewBusinessLogicProblem(http.StatusConflict, "Insufficient Stock", err.Error(), code)
		available := insufficientErr.Available
		problem.Available = &available
		c.JSON(http.StatusConflict, problem)
	case models.IsNegativeStock(err):
		c.JSON(http.StatusConflict, models.NewBusinessLogicProblem(http.StatusConflict, "Negative Stock", err.Error(), code))
	case models.IsInvalidTransition(err):
		c.JSON(http.StatusUnprocessableEntity,
			models.NewBusinessLogicProblem(http.StatusUnprocessableEntity, "Invalid State Transition", err.Error(), code))
	case models.IsContention(err):
		problem := models.NewProblemDetails(http.StatusServiceUnavailable, "Resource Busy", "The resource is locked by another operation, retry shortly")
		problem.Code = string(code)
		c.Header("Retry-After", retryAfterSeconds)
		c.JSON(http.StatusServiceUnavailable, problem)
	default:
		h.InternalError(c, err)
	}
}

// Helper functions

func (h *ResponseHelpers) setRequestIDHeader(c *gin.Context) {
	if requestID := getRequestID(c); requestID != "" {
		c.Header("X-Request-ID", requestID)
	}
}

func getRequestID(c *gin.Context) string {
	if requestID, exists := c.Get("request_id"); exists {
		return requestID.(string)
	}
	return ""
}

func handleValidationError(c *gin.Context, err error) {
	Response.setRequestIDHeader(c)

	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		violations := make([]models.ValidationError, 0, len(validationErrors))
		for _, validationError := range validationErrors {
			violations = append(violations, models.ValidationError{
				Field:   strings.ToLower(validationError.Field()),
				Message: getValidationMessage(validationError),
				Code:    validationError.Tag(),
			})
		}

		c.JSON(http.StatusBadRequest, models.NewMultiValidationProblem(violations))
		return
	}

	c.JSON(http.StatusBadRequest, models.NewProblemDetails(http.StatusBadRequest, "Bad Request", err.Error()))
}

func getValidationMessage(err validator.FieldError) string {
	switch err.Tag() {
	case "required":
		return "This field is required"
	case "min":
		return "Value is too small"
	case "max":
		return "Value is too large"
	case "oneof":
		return "Value must be one of: " + err.Param()
	default:
		return "Invalid value"
	}
}

// bindJSON binds the body or records a bind error for ErrorHandlerMiddleware
func bindJSON(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		_ = c.Error(err).SetType(gin.ErrorTypeBind)
		return false
	}
	return true
}

// Response is the shared helper instance
var Response = &ResponseHelpers{}
