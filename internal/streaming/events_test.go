package streaming

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"threatprint/internal/domain/models"
)

func TestNewIndicatorEvent(t *testing.T) {
	ind := &models.Indicator{
		ID:         uuid.New(),
		Value:      "evil.example",
		Type:       models.IndicatorTypeDomain,
		Severity:   models.SeverityHigh,
		Confidence: 0.8,
		Sources:    []string{"feed-a"},
	}

	ev := NewIndicatorEvent(EventIndicatorCreated, ind)
	assert.Equal(t, EventIndicatorCreated, ev.Type)
	assert.Equal(t, ind.ID, ev.ID)
	assert.Equal(t, "evil.example", ev.Value)
	assert.Equal(t, models.IndicatorTypeDomain, ev.IOCType)
	assert.Equal(t, 0.8, ev.Confidence)
	assert.False(t, ev.Timestamp.IsZero())
}

func TestIndicatorSubject(t *testing.T) {
	p := &NATSPublisher{}

	cases := []struct {
		event   *IndicatorEvent
		subject string
	}{
		{&IndicatorEvent{Type: EventIndicatorCreated, Severity: models.SeverityCritical}, "indicators.created.critical"},
		{&IndicatorEvent{Type: EventIndicatorUpdated, Severity: models.SeverityLow}, "indicators.updated.low"},
		{&IndicatorEvent{Type: EventIndicatorUpdated}, "indicators.updated.unknown"},
		{&IndicatorEvent{Type: EventIndicatorEvicted, Severity: models.SeverityHigh}, "indicators.evicted"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.subject, p.indicatorSubject(tc.event), tc.subject)
	}
}
