package handlers

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"

	"threatprint/internal/domain/models"
	"threatprint/internal/engine"
	"threatprint/internal/evidence"
	"threatprint/pkg/logger"
)

// maxEvidenceBytes caps a single protected blob at 64 MiB
const maxEvidenceBytes = 64 << 20

// EvidenceHandler serves integrity and evidence protection requests.
// Blobs travel base64-encoded inside JSON bodies.
type EvidenceHandler struct {
	engine *engine.Engine
	logger *logger.Logger
}

// NewEvidenceHandler creates a new evidence handler
func NewEvidenceHandler(eng *engine.Engine, log *logger.Logger) *EvidenceHandler {
	return &EvidenceHandler{
		engine: eng,
		logger: log.WithComponent("evidence-handler"),
	}
}

type checkIntegrityRequest struct {
	ID   string `json:"id"`
	Data []byte `json:"data"` // base64 in JSON
}

// CheckIntegrity handles POST /api/v1/integrity/check
func (h *EvidenceHandler) CheckIntegrity(w http.ResponseWriter, r *http.Request) {
	var req checkIntegrityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, h.logger, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.ID == "" {
		respondError(w, h.logger, http.StatusBadRequest, "id required", nil)
		return
	}

	record := h.engine.CheckIntegrity(req.ID, req.Data)
	respondJSON(w, h.logger, http.StatusOK, record)
}

type verifyIntegrityRequest struct {
	Data   []byte                 `json:"data"`
	Record models.IntegrityRecord `json:"record"`
}

// VerifyIntegrity handles POST /api/v1/integrity/verify
func (h *EvidenceHandler) VerifyIntegrity(w http.ResponseWriter, r *http.Request) {
	var req verifyIntegrityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, h.logger, http.StatusBadRequest, "invalid request body", err)
		return
	}

	result := h.engine.VerifyIntegrity(req.Data, req.Record)
	respondJSON(w, h.logger, http.StatusOK, map[string]any{
		"id":     req.Record.ID,
		"result": result,
	})
}

type protectRequest struct {
	ID   string `json:"id"`
	Data []byte `json:"data"`
}

// Protect handles POST /api/v1/evidence/protect
func (h *EvidenceHandler) Protect(w http.ResponseWriter, r *http.Request) {
	var req protectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, h.logger, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.ID == "" {
		respondError(w, h.logger, http.StatusBadRequest, "id required", nil)
		return
	}
	if len(req.Data) > maxEvidenceBytes {
		respondError(w, h.logger, http.StatusRequestEntityTooLarge, "blob too large", nil)
		return
	}

	set, err := h.engine.ProtectEvidence(req.ID, req.Data)
	if err != nil {
		respondError(w, h.logger, http.StatusInternalServerError, "protection failed", err)
		return
	}

	respondJSON(w, h.logger, http.StatusOK, set)
}

// recoverRequest carries an ordered shard list; missing shards are null
// or empty strings
type recoverRequest struct {
	Shards       []*string `json:"shards"`
	OriginalSize int       `json:"original_size"`
}

// Recover handles POST /api/v1/evidence/recover
func (h *EvidenceHandler) Recover(w http.ResponseWriter, r *http.Request) {
	var req recoverRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, h.logger, http.StatusBadRequest, "invalid request body", err)
		return
	}

	shards := make([][]byte, len(req.Shards))
	for i, s := range req.Shards {
		if s == nil || *s == "" {
			continue
		}
		decoded, err := base64.StdEncoding.DecodeString(*s)
		if err != nil {
			respondError(w, h.logger, http.StatusBadRequest, "invalid shard encoding", err)
			return
		}
		shards[i] = decoded
	}

	data, err := h.engine.RecoverEvidence(shards, req.OriginalSize)
	if err != nil {
		if errors.Is(err, evidence.ErrUnrecoverable) {
			respondJSON(w, h.logger, http.StatusUnprocessableEntity, map[string]any{
				"error":   "unrecoverable",
				"details": err.Error(),
			})
			return
		}
		respondError(w, h.logger, http.StatusBadRequest, "recovery failed", err)
		return
	}

	respondJSON(w, h.logger, http.StatusOK, map[string]any{
		"data": data,
		"size": len(data),
	})
}
