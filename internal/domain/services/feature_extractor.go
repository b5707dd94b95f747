package services

import (
	"time"

	"threatprint/internal/domain/models"
	"threatprint/pkg/logger"
)

// FeatureExtractor projects indicators onto the fixed 16-dimension vector
// used by the similarity index. Extraction is deterministic for a fixed
// clock instant: the same indicator always yields the same vector.
type FeatureExtractor struct {
	logger *logger.Logger
	now    func() time.Time
}

// NewFeatureExtractor creates a new FeatureExtractor
func NewFeatureExtractor(log *logger.Logger) *FeatureExtractor {
	return &FeatureExtractor{
		logger: log.WithComponent("feature_extractor"),
		now:    time.Now,
	}
}

// NewFeatureExtractorAt pins the extractor to a fixed clock. Used by tests
// and snapshot replay, where freshness must not drift between runs.
func NewFeatureExtractorAt(log *logger.Logger, now func() time.Time) *FeatureExtractor {
	fe := NewFeatureExtractor(log)
	fe.now = now
	return fe
}

// Vector computes the feature vector for an indicator.
//
// Layout:
//
//	0  type code             (0-5)
//	1  confidence            [0,1]
//	2  severity code         {0.2,0.4,0.6,0.8,1.0}
//	3  source count          min(n,10)/10
//	4  tag count             min(n,10)/10
//	5  relation count        min(n,10)/10
//	6  inverse fp score      1-fp
//	7  temporal freshness    min(days since first_seen, 365)/365
//	8  malware family count  min(n,5)/5
//	9  actor count           min(n,5)/5
//	10 campaign count        min(n,5)/5
//	11 attack pattern count  min(n,5)/5
//	12-15 reserved, always zero
func (fe *FeatureExtractor) Vector(ind *models.Indicator) models.FeatureVector {
	var v models.FeatureVector
	v[0] = float32(ind.Type.Code())
	v[1] = float32(clamp01(ind.Confidence))
	v[2] = float32(ind.Severity.Code())
	v[3] = cappedRatio(len(ind.Sources), 10)
	v[4] = cappedRatio(len(ind.Tags), 10)
	v[5] = cappedRatio(len(ind.Relations), 10)
	v[6] = float32(1 - clamp01(ind.FalsePositiveScore))
	v[7] = fe.freshness(ind.FirstSeen)
	v[8] = cappedRatio(len(ind.MalwareFamilies), 5)
	v[9] = cappedRatio(len(ind.Actors), 5)
	v[10] = cappedRatio(len(ind.Campaigns), 5)
	v[11] = cappedRatio(len(ind.AttackPatterns), 5)
	return v
}

// freshness measures whole elapsed days since first_seen, capped at a
// year. Truncating to whole days keeps the vector stable across the small
// clock skew between extraction and re-extraction of the same indicator.
func (fe *FeatureExtractor) freshness(firstSeen time.Time) float32 {
	if firstSeen.IsZero() {
		return 0
	}
	days := int(fe.now().UTC().Sub(firstSeen).Hours() / 24)
	if days < 0 {
		days = 0
	}
	if days > 365 {
		days = 365
	}
	return float32(days) / 365
}

func cappedRatio(n, limit int) float32 {
	if n > limit {
		n = limit
	}
	return float32(n) / float32(limit)
}
