package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"threatprint/internal/engine"
	"threatprint/internal/feed"
	"threatprint/internal/metrics"
	"threatprint/pkg/logger"
)

// feedChunkSize is the read granularity when streaming a request body
// into an ingest job
const feedChunkSize = 64 * 1024

// IngestHandler exposes the ingest pipeline over HTTP
type IngestHandler struct {
	engine  *engine.Engine
	metrics *metrics.Metrics
	logger  *logger.Logger
}

// NewIngestHandler creates a new ingest handler
func NewIngestHandler(eng *engine.Engine, m *metrics.Metrics, log *logger.Logger) *IngestHandler {
	return &IngestHandler{
		engine:  eng,
		metrics: m,
		logger:  log.WithComponent("ingest-handler"),
	}
}

// Ingest handles POST /api/v1/ingest: a one-shot ingest that streams the
// request body through a job and returns the final report
func (h *IngestHandler) Ingest(w http.ResponseWriter, r *http.Request) {
	source := r.URL.Query().Get("source")
	if source == "" {
		respondError(w, h.logger, http.StatusBadRequest, "source query parameter required", nil)
		return
	}
	format, err := feed.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		respondError(w, h.logger, http.StatusBadRequest, "unknown feed format", err)
		return
	}

	job, err := h.engine.BeginIngest(source, format)
	if err != nil {
		respondError(w, h.logger, http.StatusInternalServerError, "failed to start ingest", err)
		return
	}

	buf := make([]byte, feedChunkSize)
	for {
		n, readErr := r.Body.Read(buf)
		if n > 0 {
			if feedErr := h.engine.FeedBytes(job, buf[:n]); feedErr != nil {
				// the pipeline rejected further input, drain for the report
				break
			}
		}
		if readErr != nil {
			break
		}
	}

	report, err := h.engine.EndIngest(r.Context(), job)
	if err != nil {
		var malformed *feed.MalformedFeedError
		if errors.As(err, &malformed) {
			respondJSON(w, h.logger, http.StatusUnprocessableEntity, map[string]any{
				"error":  "malformed feed",
				"offset": malformed.Offset,
				"reason": malformed.Reason,
				"report": report,
			})
			return
		}
		respondError(w, h.logger, http.StatusInternalServerError, "ingest failed", err)
		return
	}

	h.metrics.ObserveIngest(report)
	respondJSON(w, h.logger, http.StatusOK, report)
}

// beginRequest is the body of POST /api/v1/ingest/jobs
type beginRequest struct {
	Source string `json:"source"`
	Format string `json:"format"`
}

// Begin handles POST /api/v1/ingest/jobs: starts a streaming job
func (h *IngestHandler) Begin(w http.ResponseWriter, r *http.Request) {
	var req beginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, h.logger, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.Source == "" {
		respondError(w, h.logger, http.StatusBadRequest, "source required", nil)
		return
	}
	format, err := feed.ParseFormat(req.Format)
	if err != nil {
		respondError(w, h.logger, http.StatusBadRequest, "unknown feed format", err)
		return
	}

	job, err := h.engine.BeginIngest(req.Source, format)
	if err != nil {
		respondError(w, h.logger, http.StatusInternalServerError, "failed to start ingest", err)
		return
	}

	respondJSON(w, h.logger, http.StatusCreated, map[string]any{
		"job_id": job.ID,
		"state":  job.State(),
	})
}

// Feed handles POST /api/v1/ingest/jobs/{id}/chunks: appends raw bytes
func (h *IngestHandler) Feed(w http.ResponseWriter, r *http.Request) {
	job, ok := h.job(w, r)
	if !ok {
		return
	}

	chunk, err := io.ReadAll(r.Body)
	if err != nil {
		respondError(w, h.logger, http.StatusBadRequest, "failed to read chunk", err)
		return
	}
	if err := h.engine.FeedBytes(job, chunk); err != nil {
		if errors.Is(err, engine.ErrJobFinished) {
			respondError(w, h.logger, http.StatusConflict, "job already finished", err)
			return
		}
		respondError(w, h.logger, http.StatusUnprocessableEntity, "chunk rejected", err)
		return
	}

	respondJSON(w, h.logger, http.StatusAccepted, map[string]any{"state": job.State()})
}

// End handles POST /api/v1/ingest/jobs/{id}/end: drains and reports
func (h *IngestHandler) End(w http.ResponseWriter, r *http.Request) {
	job, ok := h.job(w, r)
	if !ok {
		return
	}

	report, err := h.engine.EndIngest(r.Context(), job)
	if err != nil {
		var malformed *feed.MalformedFeedError
		if errors.As(err, &malformed) {
			respondJSON(w, h.logger, http.StatusUnprocessableEntity, map[string]any{
				"error":  "malformed feed",
				"offset": malformed.Offset,
				"reason": malformed.Reason,
				"report": report,
			})
			return
		}
		respondError(w, h.logger, http.StatusInternalServerError, "ingest failed", err)
		return
	}

	h.metrics.ObserveIngest(report)
	respondJSON(w, h.logger, http.StatusOK, report)
}

// Cancel handles POST /api/v1/ingest/jobs/{id}/cancel
func (h *IngestHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	job, ok := h.job(w, r)
	if !ok {
		return
	}
	h.engine.Cancel(job)
	respondJSON(w, h.logger, http.StatusAccepted, map[string]any{"state": job.State()})
}

// Status handles GET /api/v1/ingest/jobs/{id}
func (h *IngestHandler) Status(w http.ResponseWriter, r *http.Request) {
	job, ok := h.job(w, r)
	if !ok {
		return
	}
	respondJSON(w, h.logger, http.StatusOK, map[string]any{
		"job_id": job.ID,
		"source": job.Source,
		"format": job.Format,
		"state":  job.State(),
	})
}

func (h *IngestHandler) job(w http.ResponseWriter, r *http.Request) (*engine.Job, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, h.logger, http.StatusBadRequest, "invalid job ID", err)
		return nil, false
	}
	job, ok := h.engine.Job(id)
	if !ok {
		respondError(w, h.logger, http.StatusNotFound, "job not found", nil)
		return nil, false
	}
	return job, true
}
