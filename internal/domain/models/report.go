package models

import "time"

// IngestReport summarizes a completed ingest job
type IngestReport struct {
	Source               string `json:"source"`
	RecordsParsed        int64  `json:"records_parsed"`
	RecordsDropped       int64  `json:"records_dropped"`
	IndicatorsCreated    int64  `json:"indicators_created"`
	IndicatorsUpdated    int64  `json:"indicators_updated"`
	DuplicatesSuppressed int64  `json:"duplicates_suppressed"`
	ElapsedMS            int64  `json:"elapsed_ms"`
	Partial              bool   `json:"partial,omitempty"` // job was cancelled mid-stream
}

// SourceCounters are the per-source-feed counters the coordinator maintains
type SourceCounters struct {
	RecordsParsed        int64 `json:"records_parsed"`
	RecordsDropped       int64 `json:"records_dropped"`
	DuplicatesSuppressed int64 `json:"duplicates_suppressed"`
}

// Stats is the engine introspection snapshot
type Stats struct {
	IndicatorCount        int                       `json:"indicator_count"`
	FingerprintCollisions uint64                    `json:"fingerprint_collisions"`
	MemoryBytes           int64                     `json:"memory_bytes"`
	QueriesSinceStart     uint64                    `json:"queries_since_start"`
	LastCommit            time.Time                 `json:"last_commit"`
	Sources               map[string]SourceCounters `json:"sources,omitempty"`
}

// HealthStatus is the coarse engine health state
type HealthStatus string

const (
	HealthHealthy   HealthStatus = "healthy"
	HealthDegraded  HealthStatus = "degraded"
	HealthUnhealthy HealthStatus = "unhealthy"
)

// Health couples a status with its reason when not healthy
type Health struct {
	Status HealthStatus `json:"status"`
	Reason string       `json:"reason,omitempty"`
}
