package services

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"threatprint/internal/domain/models"
	"threatprint/internal/feed"
	"threatprint/pkg/logger"
)

var testClock = func() time.Time {
	return time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
}

func newTestNormalizer() *Normalizer {
	n := NewNormalizer(logger.Nop())
	n.now = testClock
	return n
}

func TestNormalizeDefaults(t *testing.T) {
	n := newTestNormalizer()

	ind, err := n.Normalize(feed.Record{"value": "evil.example"})
	require.NoError(t, err)

	assert.Equal(t, "evil.example", ind.Value)
	assert.Equal(t, models.IndicatorTypeDomain, ind.Type)
	assert.Equal(t, 0.5, ind.Confidence)
	assert.Equal(t, models.SeverityMedium, ind.Severity)
	assert.Equal(t, 0.0, ind.FalsePositiveScore)
	assert.Equal(t, testClock(), ind.FirstSeen)
	assert.Equal(t, ind.FirstSeen, ind.LastSeen)
	assert.Equal(t, uuid.Nil, ind.ID, "identity is assigned at commit time")
}

func TestNormalizeCanonicalizesDomain(t *testing.T) {
	n := newTestNormalizer()

	// Both spellings collapse to the same natural key
	a, err := n.Normalize(feed.Record{"value": "Example.COM.", "type": "domain"})
	require.NoError(t, err)
	b, err := n.Normalize(feed.Record{"value": "example.com", "type": "domain"})
	require.NoError(t, err)

	assert.Equal(t, "example.com", a.Value)
	assert.Equal(t, a.Key(), b.Key())
}

func TestNormalizeUnderscoreLabels(t *testing.T) {
	n := newTestNormalizer()

	ind, err := n.Normalize(feed.Record{"value": "_dmarc.evil.example", "type": "domain"})
	require.NoError(t, err)
	assert.Equal(t, "_dmarc.evil.example", ind.Value)
}

func TestNormalizeUnicodeDomain(t *testing.T) {
	n := newTestNormalizer()

	ind, err := n.Normalize(feed.Record{"value": "bücher.example", "type": "domain"})
	require.NoError(t, err)
	assert.Equal(t, "xn--bcher-kva.example", ind.Value)
}

func TestNormalizeIP(t *testing.T) {
	n := newTestNormalizer()

	for raw, want := range map[string]string{
		"203.0.113.7":                 "203.0.113.7",
		"2001:0db8:0000:0000::0001":   "2001:db8::1",
		"2001:DB8::1":                 "2001:db8::1",
	} {
		ind, err := n.Normalize(feed.Record{"value": raw, "type": "ip-address"})
		require.NoError(t, err, raw)
		assert.Equal(t, want, ind.Value, raw)
	}

	_, err := n.Normalize(feed.Record{"value": "999.1.1.1", "type": "ip"})
	var invalid *InvalidFieldError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, "value", invalid.Field)
}

func TestNormalizeURL(t *testing.T) {
	n := newTestNormalizer()

	for raw, want := range map[string]string{
		"https://EVIL.example:443/Path?q=1#frag": "https://evil.example/Path?q=1",
		"http://evil.example:80/":                "http://evil.example/",
		"http://evil.example:8080/x":             "http://evil.example:8080/x",
	} {
		ind, err := n.Normalize(feed.Record{"value": raw, "type": "url"})
		require.NoError(t, err, raw)
		assert.Equal(t, want, ind.Value, raw)
	}

	_, err := n.Normalize(feed.Record{"value": "ftp://evil.example/x", "type": "url"})
	assert.Error(t, err)
}

func TestNormalizeHashAndEmail(t *testing.T) {
	n := newTestNormalizer()

	sha256 := "AEC070645FE53EE3B3763059376134F058CC337247C978ADD178B6CCDFB0019F"
	ind, err := n.Normalize(feed.Record{"value": sha256, "type": "sha256"})
	require.NoError(t, err)
	assert.Equal(t, models.IndicatorTypeFileHash, ind.Type)
	assert.Equal(t, "aec070645fe53ee3b3763059376134f058cc337247c978add178b6ccdfb0019f", ind.Value)

	ind, err = n.Normalize(feed.Record{"value": "Alice@Example.COM", "type": "email"})
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", ind.Value)

	_, err = n.Normalize(feed.Record{"value": "zz123", "type": "hash"})
	assert.Error(t, err)
}

func TestInferType(t *testing.T) {
	cases := map[string]models.IndicatorType{
		"203.0.113.7":     models.IndicatorTypeIP,
		"https://a.dev/x": models.IndicatorTypeURL,
		"d41d8cd98f00b204e9800998ecf8427e": models.IndicatorTypeFileHash,
		"bob@example.com":                  models.IndicatorTypeEmail,
		"evil.example":                     models.IndicatorTypeDomain,
		"Global\\mutant-0042":              models.IndicatorTypeOther,
	}
	for value, want := range cases {
		assert.Equal(t, want, InferType(value), value)
	}
}

func TestInferTypeAppliedToUntypedRecord(t *testing.T) {
	n := newTestNormalizer()

	ind, err := n.Normalize(feed.Record{"value": "203.0.113.7"})
	require.NoError(t, err)
	assert.Equal(t, models.IndicatorTypeIP, ind.Type)
}

func TestNormalizeFieldValidation(t *testing.T) {
	n := newTestNormalizer()

	cases := []struct {
		name  string
		rec   feed.Record
		field string
	}{
		{"empty value", feed.Record{"value": "   "}, "value"},
		{"bad confidence", feed.Record{"value": "evil.example", "confidence": "high"}, "confidence"},
		{"bad severity", feed.Record{"value": "evil.example", "severity": "catastrophic"}, "severity"},
		{"bad first seen", feed.Record{"value": "evil.example", "first_seen": "yesterday"}, "first_seen"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := n.Normalize(tc.rec)
			var invalid *InvalidFieldError
			require.ErrorAs(t, err, &invalid)
			assert.Equal(t, tc.field, invalid.Field)
		})
	}
}

func TestNormalizeClampsAndTimestamps(t *testing.T) {
	n := newTestNormalizer()

	ind, err := n.Normalize(feed.Record{
		"value":      "evil.example",
		"confidence": "1.7",
		"first_seen": "2026-03-01T00:00:00Z",
		"last_seen":  "1767225600", // 2026-01-01 unix, before first_seen
	})
	require.NoError(t, err)
	assert.Equal(t, 1.0, ind.Confidence)
	assert.Equal(t, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), ind.FirstSeen)
	assert.Equal(t, ind.FirstSeen, ind.LastSeen, "last_seen before first_seen is floored")
}

func TestNormalizeNameLists(t *testing.T) {
	n := newTestNormalizer()

	ind, err := n.Normalize(feed.Record{
		"value":   "evil.example",
		"source":  "Feed-A, feed-a , Feed-B",
		"tags":    "Phishing,phishing,C2",
		"actor":   "APT-x",
		"campaigns": "OpShadow",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"feed-a", "feed-b"}, ind.Sources)
	assert.Equal(t, []string{"phishing", "c2"}, ind.Tags)
	assert.Equal(t, []string{"apt-x"}, ind.Actors)
	assert.Equal(t, []string{"opshadow"}, ind.Campaigns)
}

func TestNormalizeIdempotent(t *testing.T) {
	n := newTestNormalizer()

	first, err := n.Normalize(feed.Record{
		"value":      "HTTPS://Evil.Example/Path",
		"type":       "url",
		"confidence": "0.8",
		"severity":   "high",
		"sources":    "Feed-A",
		"first_seen": "2026-02-01T00:00:00Z",
	})
	require.NoError(t, err)

	again, err := n.Normalize(feed.Record{
		"value":      first.Value,
		"type":       string(first.Type),
		"confidence": "0.8",
		"severity":   string(first.Severity),
		"sources":    "feed-a",
		"first_seen": "2026-02-01T00:00:00Z",
	})
	require.NoError(t, err)
	assert.Equal(t, first.Value, again.Value)
	assert.Equal(t, first.Key(), again.Key())
	assert.Equal(t, first.Sources, again.Sources)
}
