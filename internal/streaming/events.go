package streaming

import (
	"time"

	"github.com/google/uuid"

	"threatprint/internal/domain/models"
)

// EventType identifies the corpus change an event describes
type EventType string

const (
	EventIndicatorCreated EventType = "indicator.created"
	EventIndicatorUpdated EventType = "indicator.updated"
	EventIndicatorEvicted EventType = "indicator.evicted"
	EventIngestCompleted  EventType = "ingest.completed"
)

// IndicatorEvent is published on every corpus mutation
type IndicatorEvent struct {
	Type       EventType            `json:"type"`
	ID         uuid.UUID            `json:"id"`
	Value      string               `json:"value,omitempty"`
	IOCType    models.IndicatorType `json:"ioc_type,omitempty"`
	Severity   models.Severity      `json:"severity,omitempty"`
	Confidence float64              `json:"confidence,omitempty"`
	Sources    []string             `json:"sources,omitempty"`
	Timestamp  time.Time            `json:"timestamp"`
}

// IngestEvent is published when an ingest job drains
type IngestEvent struct {
	Type      EventType           `json:"type"`
	Report    models.IngestReport `json:"report"`
	Timestamp time.Time           `json:"timestamp"`
}

// NewIndicatorEvent builds an event from an indicator
func NewIndicatorEvent(t EventType, ind *models.Indicator) *IndicatorEvent {
	return &IndicatorEvent{
		Type:       t,
		ID:         ind.ID,
		Value:      ind.Value,
		IOCType:    ind.Type,
		Severity:   ind.Severity,
		Confidence: ind.Confidence,
		Sources:    ind.Sources,
		Timestamp:  time.Now().UTC(),
	}
}
