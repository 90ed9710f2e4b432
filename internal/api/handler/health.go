package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// HealthHandler handles health check endpoints
type HealthHandler struct {
	historyEnabled bool
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(historyEnabled bool) *HealthHandler {
	return &HealthHandler{historyEnabled: historyEnabled}
}

// Health returns the health status of the service
func (h *HealthHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"history": h.historyEnabled,
	})
}
