package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"threatprint/internal/domain/models"
	"threatprint/pkg/logger"
)

func sampleIndicator() *models.Indicator {
	return &models.Indicator{
		Value:              "evil.example",
		Type:               models.IndicatorTypeDomain,
		Confidence:         0.8,
		Severity:           models.SeverityHigh,
		Sources:            []string{"feed-a", "feed-b"},
		Tags:               []string{"phishing"},
		FirstSeen:          time.Date(2026, 7, 22, 12, 0, 0, 0, time.UTC),
		LastSeen:           time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC),
		FalsePositiveScore: 0.1,
		MalwareFamilies:    []string{"redline"},
	}
}

func TestVectorLayout(t *testing.T) {
	fe := NewFeatureExtractorAt(logger.Nop(), testClock)

	v := fe.Vector(sampleIndicator())

	assert.Equal(t, float32(2.0), v[0], "domain type code")
	assert.Equal(t, float32(0.8), v[1], "confidence")
	assert.InDelta(t, 0.8, v[2], 1e-6, "high severity code")
	assert.Equal(t, float32(0.2), v[3], "two sources over cap 10")
	assert.Equal(t, float32(0.1), v[4], "one tag over cap 10")
	assert.Equal(t, float32(0.0), v[5], "no relations")
	assert.InDelta(t, 0.9, v[6], 1e-6, "inverse false-positive score")
	assert.InDelta(t, 10.0/365.0, v[7], 1e-6, "ten whole days old")
	assert.Equal(t, float32(0.2), v[8], "one malware family over cap 5")
	for i := 12; i < 16; i++ {
		assert.Zero(t, v[i], "reserved dimension %d", i)
	}
}

func TestVectorCountCaps(t *testing.T) {
	fe := NewFeatureExtractorAt(logger.Nop(), testClock)

	ind := sampleIndicator()
	for i := 0; i < 30; i++ {
		ind.Sources = append(ind.Sources, string(rune('a'+i)))
		ind.Actors = append(ind.Actors, string(rune('a'+i)))
	}

	v := fe.Vector(ind)
	assert.Equal(t, float32(1.0), v[3])
	assert.Equal(t, float32(1.0), v[9])
}

func TestVectorFreshness(t *testing.T) {
	fe := NewFeatureExtractorAt(logger.Nop(), testClock)

	ind := sampleIndicator()

	ind.FirstSeen = time.Time{}
	assert.Zero(t, fe.Vector(ind)[7], "zero first_seen")

	ind.FirstSeen = testClock().Add(48 * time.Hour)
	assert.Zero(t, fe.Vector(ind)[7], "future first_seen")

	ind.FirstSeen = testClock().AddDate(-3, 0, 0)
	assert.Equal(t, float32(1.0), fe.Vector(ind)[7], "capped at a year")
}

func TestVectorIgnoresLastSeen(t *testing.T) {
	fe := NewFeatureExtractorAt(logger.Nop(), testClock)

	ind := sampleIndicator()
	before := fe.Vector(ind)

	ind.LastSeen = ind.LastSeen.Add(24 * time.Hour)
	after := fe.Vector(ind)

	assert.Equal(t, before, after, "a pure last_seen advance must not move the vector")
}
