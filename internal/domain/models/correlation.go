package models

import "github.com/google/uuid"

// Neighbor is a single similarity hit
type Neighbor struct {
	ID    uuid.UUID `json:"id"`
	Score float64   `json:"score"` // cosine similarity rounded to 6 digits
}

// CorrelationResult answers "is this indicator known, or related to known"
type CorrelationResult struct {
	Known     bool       `json:"known"`
	MatchedID *uuid.UUID `json:"matched_id,omitempty"` // present iff exact fingerprint hit
	Neighbors []Neighbor `json:"neighbors"`            // up to k entries, score descending
	Partial   bool       `json:"partial,omitempty"`    // a deadline truncated the search
}
