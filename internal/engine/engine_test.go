package engine

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"threatprint/internal/config"
	"threatprint/internal/domain/models"
	"threatprint/internal/feed"
	"threatprint/pkg/logger"
)

var testClock = func() time.Time {
	return time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
}

func newTestEngine(t *testing.T, cfg config.EngineConfig, opts ...Option) *Engine {
	t.Helper()
	opts = append([]Option{WithClock(testClock)}, opts...)
	e, err := New(cfg, logger.Nop(), opts...)
	require.NoError(t, err)
	return e
}

// ingestNDJSON pushes an NDJSON payload through the streaming pipeline
func ingestNDJSON(t *testing.T, e *Engine, source, payload string) models.IngestReport {
	t.Helper()
	job, err := e.BeginIngest(source, feed.FormatNDJSON)
	require.NoError(t, err)
	require.NoError(t, e.FeedBytes(job, []byte(payload)))
	report, err := e.EndIngest(context.Background(), job)
	require.NoError(t, err)
	return report
}

func TestNewValidation(t *testing.T) {
	_, err := New(config.EngineConfig{FeatureDim: 8}, logger.Nop())
	assert.Error(t, err)

	_, err = New(config.EngineConfig{SimilarityEngine: "quantum"}, logger.Nop())
	assert.Error(t, err)

	_, err = New(config.EngineConfig{FeatureDim: 16, SimilarityEngine: "approximate"}, logger.Nop())
	assert.NoError(t, err)
}

func TestCorrelateKnownIndicator(t *testing.T) {
	e := newTestEngine(t, config.EngineConfig{})

	rec := `{"value":"evil.example","type":"domain","confidence":0.8,"severity":"high","sources":["feed-a"],"first_seen":"2026-07-01T00:00:00Z"}` + "\n"
	ingestNDJSON(t, e, "feed-a", rec)

	result, err := e.Correlate(context.Background(), feed.Record{
		"value":      "Evil.EXAMPLE.",
		"type":       "domain",
		"confidence": "0.8",
		"severity":   "high",
		"sources":    "feed-a",
		"first_seen": "2026-07-01T00:00:00Z",
	}, 3)
	require.NoError(t, err)

	assert.True(t, result.Known, "canonicalization collapses the spelling onto the stored key")
	require.NotNil(t, result.MatchedID)
	require.NotEmpty(t, result.Neighbors)
	assert.Equal(t, 1.0, result.Neighbors[0].Score)
	assert.Equal(t, *result.MatchedID, result.Neighbors[0].ID)
	assert.False(t, result.Partial)
}

func TestCorrelateUnknownIndicator(t *testing.T) {
	e := newTestEngine(t, config.EngineConfig{})
	ingestNDJSON(t, e, "feed-a", `{"value":"evil.example","type":"domain"}`+"\n")

	result, err := e.Correlate(context.Background(), feed.Record{"value": "other.example", "type": "domain"}, 3)
	require.NoError(t, err)

	assert.False(t, result.Known)
	assert.Nil(t, result.MatchedID)
	assert.NotEmpty(t, result.Neighbors, "similarity neighbors come back even without an exact match")
}

func TestCorrelateEmptyCorpus(t *testing.T) {
	e := newTestEngine(t, config.EngineConfig{})

	result, err := e.Correlate(context.Background(), feed.Record{"value": "lonely.example", "type": "domain"}, 3)
	require.NoError(t, err)

	assert.False(t, result.Known)
	assert.NotNil(t, result.Neighbors, "no neighbors renders as an empty list, not null")
	assert.Empty(t, result.Neighbors)
}

func TestCorrelateInvalidQuery(t *testing.T) {
	e := newTestEngine(t, config.EngineConfig{})

	_, err := e.Correlate(context.Background(), feed.Record{"value": ""}, 1)
	require.ErrorIs(t, err, ErrInvalidQuery)

	_, err = e.Correlate(context.Background(), feed.Record{"value": "999.999.0.1", "type": "ip"}, 1)
	require.ErrorIs(t, err, ErrInvalidQuery)
}

func TestBulkCorrelate(t *testing.T) {
	e := newTestEngine(t, config.EngineConfig{Workers: 4})
	ingestNDJSON(t, e, "feed-a", `{"value":"evil.example","type":"domain"}`+"\n")

	queries := []feed.Record{
		{"value": "evil.example", "type": "domain"},
		{"value": ""},
		{"value": "203.0.113.7", "type": "ip-address"},
	}
	results, errs := e.BulkCorrelate(context.Background(), queries, 2)
	require.Len(t, results, 3)
	require.Len(t, errs, 3)

	assert.NoError(t, errs[0])
	assert.ErrorIs(t, errs[1], ErrInvalidQuery)
	assert.NoError(t, errs[2])
	assert.NotEmpty(t, results[0].Neighbors)
}

func TestLookupAndEvict(t *testing.T) {
	e := newTestEngine(t, config.EngineConfig{})
	ingestNDJSON(t, e, "feed-a", `{"value":"evil.example","type":"domain","sources":["feed-a"]}`+"\n")

	result, err := e.Correlate(context.Background(), feed.Record{"value": "evil.example", "type": "domain", "sources": "feed-a"}, 1)
	require.NoError(t, err)
	require.True(t, result.Known)
	id := *result.MatchedID

	ind, err := e.LookupByID(id)
	require.NoError(t, err)
	assert.Equal(t, "evil.example", ind.Value)
	assert.Equal(t, []string{"feed-a"}, ind.Sources)

	// the returned copy is detached from the corpus
	ind.Value = "mutated.example"
	again, err := e.LookupByID(id)
	require.NoError(t, err)
	assert.Equal(t, "evil.example", again.Value)

	require.True(t, e.Evict(id))
	assert.False(t, e.Evict(id))

	_, err = e.LookupByID(id)
	require.ErrorIs(t, err, ErrNotFound)

	result, err = e.Correlate(context.Background(), feed.Record{"value": "evil.example", "type": "domain", "sources": "feed-a"}, 1)
	require.NoError(t, err)
	assert.False(t, result.Known, "eviction clears both indexes")
	assert.Empty(t, result.Neighbors)
}

func TestLookupByIDUnknown(t *testing.T) {
	e := newTestEngine(t, config.EngineConfig{})
	_, err := e.LookupByID(uuid.New())
	require.ErrorIs(t, err, ErrNotFound)
}

func TestEvidenceDelegates(t *testing.T) {
	e := newTestEngine(t, config.EngineConfig{})
	data := []byte("exhibit A")

	rec := e.CheckIntegrity("blob-1", data)
	assert.Equal(t, models.VerificationValid, e.VerifyIntegrity(data, rec))

	set, err := e.ProtectEvidence("blob-1", data)
	require.NoError(t, err)
	set.Shards[0] = nil
	got, err := e.RecoverEvidence(set.Shards, set.OriginalSize)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestStats(t *testing.T) {
	e := newTestEngine(t, config.EngineConfig{})

	report := ingestNDJSON(t, e, "feed-a",
		`{"value":"evil.example","type":"domain"}`+"\n"+
			`{"value":"203.0.113.7","type":"ip-address"}`+"\n"+
			"garbage\n")
	assert.Equal(t, int64(3), report.RecordsParsed)
	assert.Equal(t, int64(1), report.RecordsDropped)

	_, err := e.Correlate(context.Background(), feed.Record{"value": "evil.example", "type": "domain"}, 1)
	require.NoError(t, err)

	stats := e.Stats()
	assert.Equal(t, 2, stats.IndicatorCount)
	assert.Equal(t, uint64(1), stats.QueriesSinceStart)
	assert.False(t, stats.LastCommit.IsZero())
	assert.Positive(t, stats.MemoryBytes)

	counters, ok := stats.Sources["feed-a"]
	require.True(t, ok)
	assert.Equal(t, int64(3), counters.RecordsParsed)
	assert.Equal(t, int64(1), counters.RecordsDropped)
	assert.Zero(t, counters.DuplicatesSuppressed)
}

func TestHealth(t *testing.T) {
	e := newTestEngine(t, config.EngineConfig{MaxIndicators: 2})
	assert.Equal(t, models.HealthHealthy, e.Health().Status)

	ingestNDJSON(t, e, "feed-a",
		`{"value":"evil.example","type":"domain"}`+"\n"+
			`{"value":"203.0.113.7","type":"ip-address"}`+"\n")

	health := e.Health()
	assert.Equal(t, models.HealthUnhealthy, health.Status)
	assert.Contains(t, health.Reason, "capacity")
}

func TestExportImportRoundTrip(t *testing.T) {
	src := newTestEngine(t, config.EngineConfig{})
	ingestNDJSON(t, src, "feed-a",
		`{"value":"evil.example","type":"domain","confidence":0.8,"sources":["feed-a"],"first_seen":"2026-07-01T00:00:00Z"}`+"\n"+
			`{"value":"203.0.113.7","type":"ip-address","first_seen":"2026-07-01T00:00:00Z"}`+"\n")

	snap := src.Export()
	require.Len(t, snap.Indicators, 2)

	dst := newTestEngine(t, config.EngineConfig{})
	require.NoError(t, dst.Import(snap))

	assert.Equal(t, 2, dst.Stats().IndicatorCount)

	result, err := dst.Correlate(context.Background(), feed.Record{
		"value":      "evil.example",
		"type":       "domain",
		"confidence": "0.8",
		"sources":    "feed-a",
		"first_seen": "2026-07-01T00:00:00Z",
	}, 1)
	require.NoError(t, err)
	assert.True(t, result.Known, "fingerprints are re-derived on import")
	require.NotEmpty(t, result.Neighbors)
	assert.Equal(t, 1.0, result.Neighbors[0].Score)

	counters, ok := dst.Stats().Sources["feed-a"]
	require.True(t, ok)
	assert.Equal(t, int64(2), counters.RecordsParsed)
}

func TestImportRespectsCapacity(t *testing.T) {
	src := newTestEngine(t, config.EngineConfig{})
	for i := 0; i < 3; i++ {
		ingestNDJSON(t, src, "feed-a", `{"value":"host`+strconv.Itoa(i)+`.example","type":"domain"}`+"\n")
	}

	dst := newTestEngine(t, config.EngineConfig{MaxIndicators: 2})
	err := dst.Import(src.Export())
	require.ErrorIs(t, err, ErrCapacityExceeded)

	require.Error(t, dst.Import(nil))
}
