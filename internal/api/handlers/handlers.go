package handlers

import (
	"encoding/json"
	"net/http"

	"threatprint/internal/engine"
	"threatprint/internal/metrics"
	"threatprint/pkg/logger"
)

// Handlers aggregates all API handlers
type Handlers struct {
	Ingest   *IngestHandler
	Query    *QueryHandler
	Evidence *EvidenceHandler
	Stats    *StatsHandler
	Health   *HealthHandler
}

// New creates all handlers wired to the engine
func New(eng *engine.Engine, m *metrics.Metrics, version string, log *logger.Logger) *Handlers {
	return &Handlers{
		Ingest:   NewIngestHandler(eng, m, log),
		Query:    NewQueryHandler(eng, m, log),
		Evidence: NewEvidenceHandler(eng, log),
		Stats:    NewStatsHandler(eng, log),
		Health:   NewHealthHandler(eng, version, log),
	}
}

// respondJSON writes a JSON response
func respondJSON(w http.ResponseWriter, log *logger.Logger, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error().Err(err).Msg("failed to encode JSON response")
	}
}

// respondError writes an error response
func respondError(w http.ResponseWriter, log *logger.Logger, status int, message string, err error) {
	details := ""
	if err != nil {
		log.Error().Err(err).Msg(message)
		details = err.Error()
	}
	respondJSON(w, log, status, map[string]any{
		"error":   message,
		"details": details,
	})
}
