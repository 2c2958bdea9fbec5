package api

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"inventory-engine/internal/interfaces"
)

// ReaderHandler serves cached availability for read-heavy clients
type ReaderHandler struct {
	availability interfaces.AvailabilityQuery
	checks       map[string]HealthChecker
}

// NewReaderHandler creates a new reader API handler
func NewReaderHandler(availability interfaces.AvailabilityQuery, checks map[string]HealthChecker) *ReaderHandler {
	return &ReaderHandler{
		availability: availability,
		checks:       checks,
	}
}

// SetupReaderRoutes sets up the HTTP routes for the reader service
func (h *ReaderHandler) SetupReaderRoutes(enableMetrics bool) *gin.Engine {
	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(LoggingMiddleware())
	r.Use(ErrorHandlerMiddleware())
	r.Use(h.corsMiddleware())

	r.GET("/health", healthHandler("inventory-reader", h.checks))
	if enableMetrics {
		r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	api := r.Group("/api/v1/tenants/:tenant")
	{
		api.GET("/positions/:product/:warehouse/availability", h.getAvailability)
	}

	return r
}

func (h *ReaderHandler) getAvailability(c *gin.Context) {
	availability, err := h.availability.GetAvailability(c.Request.Context(), positionKey(c))
	if err != nil {
		Response.Error(c, err)
		return
	}
	Response.Success(c, availability)
}

// corsMiddleware handles CORS headers
func (h *ReaderHandler) corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Accept, Content-Type, Content-Length, Accept-Encoding, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}
