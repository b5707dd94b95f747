package models

import "time"

// Snapshot is the serializable export of the engine's indicator corpus.
// Feature vectors and fingerprints are not included; both are pure
// functions of the indicators and are rebuilt on import.
type Snapshot struct {
	TakenAt    time.Time                 `json:"taken_at"`
	Indicators []*Indicator              `json:"indicators"`
	Sources    map[string]SourceCounters `json:"sources,omitempty"`
}
