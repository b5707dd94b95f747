package handlers

import (
	"net/http"

	"threatprint/internal/engine"
	"threatprint/pkg/logger"
)

// StatsHandler serves engine introspection
type StatsHandler struct {
	engine *engine.Engine
	logger *logger.Logger
}

// NewStatsHandler creates a new stats handler
func NewStatsHandler(eng *engine.Engine, log *logger.Logger) *StatsHandler {
	return &StatsHandler{
		engine: eng,
		logger: log.WithComponent("stats-handler"),
	}
}

// Get handles GET /api/v1/stats
func (h *StatsHandler) Get(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, h.logger, http.StatusOK, h.engine.Stats())
}
