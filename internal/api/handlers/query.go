package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"threatprint/internal/engine"
	"threatprint/internal/feed"
	"threatprint/internal/metrics"
	"threatprint/pkg/logger"
)

// maxBulkQueries caps a single bulk-correlate request
const maxBulkQueries = 500

// QueryHandler serves correlation and lookup requests
type QueryHandler struct {
	engine  *engine.Engine
	metrics *metrics.Metrics
	logger  *logger.Logger
}

// NewQueryHandler creates a new query handler
func NewQueryHandler(eng *engine.Engine, m *metrics.Metrics, log *logger.Logger) *QueryHandler {
	return &QueryHandler{
		engine:  eng,
		metrics: m,
		logger:  log.WithComponent("query-handler"),
	}
}

// correlateRequest is the body of POST /api/v1/correlate
type correlateRequest struct {
	Indicator feed.Record `json:"indicator"`
	K         int         `json:"k"`
	TimeoutMS int         `json:"timeout_ms,omitempty"`
}

// Correlate handles POST /api/v1/correlate
func (h *QueryHandler) Correlate(w http.ResponseWriter, r *http.Request) {
	var req correlateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, h.logger, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if len(req.Indicator) == 0 {
		respondError(w, h.logger, http.StatusBadRequest, "indicator required", nil)
		return
	}
	if req.K <= 0 {
		req.K = 5
	}

	ctx := r.Context()
	if req.TimeoutMS > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(req.TimeoutMS)*time.Millisecond)
		defer cancel()
	}

	start := time.Now()
	result, err := h.engine.Correlate(ctx, req.Indicator, req.K)
	h.metrics.QueryDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		if errors.Is(err, engine.ErrInvalidQuery) {
			respondError(w, h.logger, http.StatusBadRequest, "query indicator cannot be normalized", err)
			return
		}
		respondError(w, h.logger, http.StatusInternalServerError, "correlation failed", err)
		return
	}

	respondJSON(w, h.logger, http.StatusOK, result)
}

// bulkCorrelateRequest is the body of POST /api/v1/correlate/batch
type bulkCorrelateRequest struct {
	Indicators []feed.Record `json:"indicators"`
	K          int           `json:"k"`
}

// BulkCorrelate handles POST /api/v1/correlate/batch. Results come back
// in input order; a query that fails normalization yields an error entry
// in place of a result.
func (h *QueryHandler) BulkCorrelate(w http.ResponseWriter, r *http.Request) {
	var req bulkCorrelateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, h.logger, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if len(req.Indicators) == 0 {
		respondError(w, h.logger, http.StatusBadRequest, "indicators required", nil)
		return
	}
	if len(req.Indicators) > maxBulkQueries {
		respondError(w, h.logger, http.StatusBadRequest, "too many indicators per batch", nil)
		return
	}
	if req.K <= 0 {
		req.K = 5
	}

	start := time.Now()
	results, errs := h.engine.BulkCorrelate(r.Context(), req.Indicators, req.K)
	h.metrics.QueryDuration.Observe(time.Since(start).Seconds())

	out := make([]map[string]any, len(results))
	for i := range results {
		entry := map[string]any{"result": results[i]}
		if errs[i] != nil {
			entry = map[string]any{"error": errs[i].Error()}
		}
		out[i] = entry
	}

	respondJSON(w, h.logger, http.StatusOK, map[string]any{
		"results": out,
		"count":   len(out),
	})
}

// Get handles GET /api/v1/indicators/{id}
func (h *QueryHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, h.logger, http.StatusBadRequest, "invalid indicator ID", err)
		return
	}

	ind, err := h.engine.LookupByID(id)
	if err != nil {
		if errors.Is(err, engine.ErrNotFound) {
			respondError(w, h.logger, http.StatusNotFound, "indicator not found", nil)
			return
		}
		respondError(w, h.logger, http.StatusInternalServerError, "lookup failed", err)
		return
	}

	respondJSON(w, h.logger, http.StatusOK, ind)
}

// Evict handles DELETE /api/v1/indicators/{id}
func (h *QueryHandler) Evict(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, h.logger, http.StatusBadRequest, "invalid indicator ID", err)
		return
	}

	present := h.engine.Evict(id)
	respondJSON(w, h.logger, http.StatusOK, map[string]any{
		"id":      id,
		"evicted": present,
	})
}
