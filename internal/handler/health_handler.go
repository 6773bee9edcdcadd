// Package handler provides HTTP request handlers for the agent API.
package handler

import (
	"net/http"
	"time"

	"github.com/adloop/signage-agent-go/internal/kvstore"
	"github.com/adloop/signage-agent-go/internal/telemetry"
	"github.com/gin-gonic/gin"
)

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	store     kvstore.Store
	publisher *telemetry.Publisher
	started   time.Time
}

// NewHealthHandler creates a new HealthHandler instance. The publisher may be
// nil when telemetry is disabled.
func NewHealthHandler(store kvstore.Store, publisher *telemetry.Publisher) *HealthHandler {
	return &HealthHandler{
		store:     store,
		publisher: publisher,
		started:   time.Now(),
	}
}

// LivenessProbe checks if the agent is running.
func (h *HealthHandler) LivenessProbe(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "UP",
		"uptime": time.Since(h.started).Round(time.Second).String(),
		"time":   time.Now(),
	})
}

// ReadinessProbe checks if the agent is ready to serve traffic.
func (h *HealthHandler) ReadinessProbe(c *gin.Context) {
	ctx := c.Request.Context()

	// Check state store connectivity
	if err := h.store.Ping(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "DOWN",
			"store":  "unhealthy",
			"error":  err.Error(),
			"time":   time.Now(),
		})
		return
	}

	// Check telemetry connectivity when configured
	if h.publisher != nil && !h.publisher.IsHealthy() {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":    "DOWN",
			"store":     "healthy",
			"telemetry": "unhealthy",
			"time":      time.Now(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "UP",
		"store":  "healthy",
		"uptime": time.Since(h.started).Round(time.Second).String(),
		"time":   time.Now(),
	})
}
