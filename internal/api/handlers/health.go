package handlers

import (
	"net/http"
	"time"

	"threatprint/internal/domain/models"
	"threatprint/internal/engine"
	"threatprint/pkg/logger"
)

// HealthHandler handles health check endpoints
type HealthHandler struct {
	engine    *engine.Engine
	version   string
	logger    *logger.Logger
	startTime time.Time
}

// NewHealthHandler creates a new HealthHandler
func NewHealthHandler(eng *engine.Engine, version string, log *logger.Logger) *HealthHandler {
	return &HealthHandler{
		engine:    eng,
		version:   version,
		logger:    log.WithComponent("health"),
		startTime: time.Now(),
	}
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    models.HealthStatus `json:"status"`
	Reason    string              `json:"reason,omitempty"`
	Version   string              `json:"version"`
	Uptime    string              `json:"uptime"`
	Timestamp string              `json:"timestamp"`
}

// Check handles GET /health
func (h *HealthHandler) Check(w http.ResponseWriter, r *http.Request) {
	health := h.engine.Health()

	status := http.StatusOK
	if health.Status == models.HealthUnhealthy {
		status = http.StatusServiceUnavailable
	}

	respondJSON(w, h.logger, status, HealthResponse{
		Status:    health.Status,
		Reason:    health.Reason,
		Version:   h.version,
		Uptime:    time.Since(h.startTime).String(),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}
