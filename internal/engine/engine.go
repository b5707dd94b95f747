package engine

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"threatprint/internal/config"
	"threatprint/internal/domain/models"
	"threatprint/internal/domain/services"
	"threatprint/internal/evidence"
	"threatprint/internal/feed"
	"threatprint/internal/index"
	"threatprint/internal/integrity"
	"threatprint/pkg/logger"
)

// EventPublisher receives corpus change notifications after each commit.
// Implementations must not block; the engine calls them outside its locks
// but on the committer goroutine.
type EventPublisher interface {
	IndicatorCreated(ind *models.Indicator)
	IndicatorUpdated(ind *models.Indicator)
	IndicatorEvicted(id uuid.UUID)
	IngestCompleted(report models.IngestReport)
}

// NopPublisher discards all events
type NopPublisher struct{}

func (NopPublisher) IndicatorCreated(*models.Indicator)  {}
func (NopPublisher) IndicatorUpdated(*models.Indicator)  {}
func (NopPublisher) IndicatorEvicted(uuid.UUID)          {}
func (NopPublisher) IngestCompleted(models.IngestReport) {}

// Engine is the coordinator: it owns the indicator corpus, both indexes
// and the ingest pipeline, and exposes the public query surface. All
// business logic lives in the components it wires together.
type Engine struct {
	cfg           config.EngineConfig
	logger        *logger.Logger
	normalizer    *services.Normalizer
	extractor     *services.FeatureExtractor
	fingerprinter *services.Fingerprinter
	checker       *integrity.Checker
	protector     *evidence.Protector
	fpIndex       *index.FingerprintIndex
	simIndex      index.Similarity
	events        EventPublisher

	// mu guards the corpus maps and both indexes for mutation. Batch
	// commit is the unit of atomicity: the committer holds the write lock
	// for a whole batch, queries hold the read lock.
	mu           sync.RWMutex
	indicators   map[uuid.UUID]*models.Indicator
	byKey        map[models.Key]uuid.UUID
	fingerprints map[uuid.UUID]models.Fingerprint
	sources      map[string]*models.SourceCounters
	lastCommit   time.Time

	queries atomic.Uint64

	jobsMu sync.Mutex
	jobs   map[uuid.UUID]*Job
}

// Option customizes engine construction
type Option func(*Engine)

// WithEventPublisher wires a change-event sink
func WithEventPublisher(p EventPublisher) Option {
	return func(e *Engine) { e.events = p }
}

// WithClock pins the feature extractor's clock, which freezes temporal
// freshness. Intended for tests and deterministic replay.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.extractor = services.NewFeatureExtractorAt(e.logger, now)
	}
}

// New wires an Engine from configuration
func New(cfg config.EngineConfig, log *logger.Logger, opts ...Option) (*Engine, error) {
	if cfg.FeatureDim != 0 && cfg.FeatureDim != models.FeatureDim {
		return nil, fmt.Errorf("feature_dim must equal %d, got %d", models.FeatureDim, cfg.FeatureDim)
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 256
	}
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.GOMAXPROCS(0)
	}

	var sim index.Similarity
	switch cfg.SimilarityEngine {
	case "approximate":
		sim = index.NewApprox(cfg.ApproxNeighbors)
	case "", "exact":
		sim = index.NewExact()
	default:
		return nil, fmt.Errorf("unknown similarity engine %q", cfg.SimilarityEngine)
	}

	protector, err := evidence.NewProtector(log, cfg.RSDataShards, cfg.RSParityShards)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:           cfg,
		logger:        log.WithComponent("engine"),
		normalizer:    services.NewNormalizer(log),
		extractor:     services.NewFeatureExtractor(log),
		fingerprinter: services.NewFingerprinter(),
		checker:       integrity.NewChecker(log),
		protector:     protector,
		fpIndex:       index.NewFingerprintIndex(),
		simIndex:      sim,
		events:        NopPublisher{},
		indicators:    make(map[uuid.UUID]*models.Indicator),
		byKey:         make(map[models.Key]uuid.UUID),
		fingerprints:  make(map[uuid.UUID]models.Fingerprint),
		sources:       make(map[string]*models.SourceCounters),
		jobs:          make(map[uuid.UUID]*Job),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Correlate normalizes a query record, checks the fingerprint index for
// an exact match and always runs a top-k similarity search. The result's
// Partial flag is set when the context deadline cut the search short.
func (e *Engine) Correlate(ctx context.Context, query feed.Record, k int) (models.CorrelationResult, error) {
	if k < 1 {
		k = 1
	}
	e.queries.Add(1)

	cand, err := e.normalizer.Normalize(query)
	if err != nil {
		return models.CorrelationResult{}, fmt.Errorf("%w: %v", ErrInvalidQuery, err)
	}

	fp := e.fingerprinter.Fingerprint(cand)
	vector := e.extractor.Vector(cand)

	// Both index reads happen under the shared lease so a query sees
	// either none or all of an in-flight batch commit.
	e.mu.RLock()
	id, known := e.fpIndex.Lookup(fp)
	neighbors, partial := e.simIndex.TopK(ctx, vector, k)
	e.mu.RUnlock()

	result := models.CorrelationResult{Neighbors: neighbors, Partial: partial}
	if known {
		result.Known = true
		result.MatchedID = &id
	}
	if result.Neighbors == nil {
		result.Neighbors = []models.Neighbor{}
	}
	return result, nil
}

// BulkCorrelate runs Correlate for each query, parallelized across the
// worker budget. Results come back in input order and each query is
// deterministic in isolation.
func (e *Engine) BulkCorrelate(ctx context.Context, queries []feed.Record, k int) ([]models.CorrelationResult, []error) {
	results := make([]models.CorrelationResult, len(queries))
	errs := make([]error, len(queries))

	sem := make(chan struct{}, e.cfg.Workers)
	var wg sync.WaitGroup
	for i := range queries {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int) {
			defer wg.Done()
			defer func() { <-sem }()
			results[i], errs[i] = e.Correlate(ctx, queries[i], k)
		}(i)
	}
	wg.Wait()
	return results, errs
}

// LookupByID returns a copy of the indicator stored under id
func (e *Engine) LookupByID(id uuid.UUID) (*models.Indicator, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	ind, ok := e.indicators[id]
	if !ok {
		return nil, ErrNotFound
	}
	return ind.Clone(), nil
}

// Evict removes an indicator from the corpus and both indexes. It
// reports whether the indicator was present.
func (e *Engine) Evict(id uuid.UUID) bool {
	e.mu.Lock()
	ind, ok := e.indicators[id]
	if !ok {
		e.mu.Unlock()
		return false
	}
	delete(e.indicators, id)
	delete(e.byKey, ind.Key())
	if fp, ok := e.fingerprints[id]; ok {
		e.fpIndex.Remove(fp, id)
		delete(e.fingerprints, id)
	}
	e.simIndex.Remove(id)
	e.mu.Unlock()

	e.events.IndicatorEvicted(id)
	return true
}

// CheckIntegrity produces an integrity record for a blob
func (e *Engine) CheckIntegrity(id string, data []byte) models.IntegrityRecord {
	return e.checker.Check(id, data)
}

// VerifyIntegrity re-checks a blob against a stored record
func (e *Engine) VerifyIntegrity(data []byte, record models.IntegrityRecord) models.VerificationResult {
	return e.checker.Verify(data, record)
}

// ProtectEvidence erasure-codes a blob
func (e *Engine) ProtectEvidence(id string, data []byte) (*models.EvidenceShardSet, error) {
	return e.protector.Protect(id, data)
}

// RecoverEvidence rebuilds a blob from a shard list with holes
func (e *Engine) RecoverEvidence(shards [][]byte, originalSize int) ([]byte, error) {
	return e.protector.Recover(shards, originalSize)
}

// Stats reports the engine introspection snapshot
func (e *Engine) Stats() models.Stats {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	e.mu.RLock()
	defer e.mu.RUnlock()

	sources := make(map[string]models.SourceCounters, len(e.sources))
	for name, c := range e.sources {
		sources[name] = *c
	}
	return models.Stats{
		IndicatorCount:        len(e.indicators),
		FingerprintCollisions: e.fpIndex.Collisions(),
		MemoryBytes:           int64(mem.HeapAlloc),
		QueriesSinceStart:     e.queries.Load(),
		LastCommit:            e.lastCommit,
		Sources:               sources,
	}
}

// Health derives the coarse health state from the stats. Fingerprint
// collisions past the alert threshold degrade; a corpus at the hard cap
// is unhealthy because ingest can no longer create indicators.
func (e *Engine) Health() models.Health {
	e.mu.RLock()
	count := len(e.indicators)
	e.mu.RUnlock()

	if e.cfg.MaxIndicators > 0 && count >= e.cfg.MaxIndicators {
		return models.Health{
			Status: models.HealthUnhealthy,
			Reason: fmt.Sprintf("indicator corpus at capacity (%d)", count),
		}
	}
	if collisions := e.fpIndex.Collisions(); e.cfg.CollisionAlertThreshold > 0 && collisions >= e.cfg.CollisionAlertThreshold {
		return models.Health{
			Status: models.HealthDegraded,
			Reason: fmt.Sprintf("fingerprint collisions above threshold (%d)", collisions),
		}
	}
	return models.Health{Status: models.HealthHealthy}
}

// Export snapshots the corpus for persistence. Vectors and fingerprints
// are omitted; Import rebuilds them.
func (e *Engine) Export() *models.Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()

	snap := &models.Snapshot{
		TakenAt:    time.Now().UTC(),
		Indicators: make([]*models.Indicator, 0, len(e.indicators)),
		Sources:    make(map[string]models.SourceCounters, len(e.sources)),
	}
	for _, ind := range e.indicators {
		snap.Indicators = append(snap.Indicators, ind.Clone())
	}
	for name, c := range e.sources {
		snap.Sources[name] = *c
	}
	return snap
}

// Import replaces the corpus with a snapshot, re-deriving vectors and
// fingerprints. Existing state is discarded.
func (e *Engine) Import(snap *models.Snapshot) error {
	if snap == nil {
		return fmt.Errorf("nil snapshot")
	}
	if e.cfg.MaxIndicators > 0 && len(snap.Indicators) > e.cfg.MaxIndicators {
		return fmt.Errorf("%w: snapshot holds %d indicators, cap is %d",
			ErrCapacityExceeded, len(snap.Indicators), e.cfg.MaxIndicators)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.indicators = make(map[uuid.UUID]*models.Indicator, len(snap.Indicators))
	e.byKey = make(map[models.Key]uuid.UUID, len(snap.Indicators))
	e.fingerprints = make(map[uuid.UUID]models.Fingerprint, len(snap.Indicators))
	e.fpIndex = index.NewFingerprintIndex()
	switch e.cfg.SimilarityEngine {
	case "approximate":
		e.simIndex = index.NewApprox(e.cfg.ApproxNeighbors)
	default:
		e.simIndex = index.NewExact()
	}

	for _, ind := range snap.Indicators {
		cp := ind.Clone()
		e.indicators[cp.ID] = cp
		e.byKey[cp.Key()] = cp.ID
		fp := e.fingerprinter.Fingerprint(cp)
		e.fingerprints[cp.ID] = fp
		e.fpIndex.Insert(fp, cp.ID)
		e.simIndex.Upsert(models.IndexedVector{
			ID:          cp.ID,
			Vector:      e.extractor.Vector(cp),
			Fingerprint: fp,
			Timestamp:   cp.LastSeen,
		})
	}

	e.sources = make(map[string]*models.SourceCounters, len(snap.Sources))
	for name, c := range snap.Sources {
		cc := c
		e.sources[name] = &cc
	}
	e.lastCommit = snap.TakenAt

	e.logger.Info().Int("indicators", len(snap.Indicators)).Msg("snapshot imported")
	return nil
}
