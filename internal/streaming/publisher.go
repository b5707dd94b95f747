package streaming

import (
	"context"
	"time"

	"github.com/google/uuid"

	"threatprint/internal/domain/models"
	"threatprint/pkg/logger"
)

// publishTimeout bounds each JetStream publish so a slow broker cannot
// stall the committer
const publishTimeout = 5 * time.Second

// EnginePublisher adapts the NATS publisher to the engine's event sink.
// Publish failures are logged and swallowed; the corpus is the source of
// truth and events are best-effort.
type EnginePublisher struct {
	nats   *NATSPublisher
	logger *logger.Logger
}

// NewEnginePublisher wraps a NATS publisher for engine wiring
func NewEnginePublisher(nats *NATSPublisher, log *logger.Logger) *EnginePublisher {
	return &EnginePublisher{
		nats:   nats,
		logger: log.WithComponent("events"),
	}
}

func (p *EnginePublisher) publish(event *IndicatorEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := p.nats.PublishIndicatorEvent(ctx, event); err != nil {
		p.logger.Warn().Err(err).Str("type", string(event.Type)).Msg("event publish failed")
	}
}

// IndicatorCreated publishes an indicator.created event
func (p *EnginePublisher) IndicatorCreated(ind *models.Indicator) {
	p.publish(NewIndicatorEvent(EventIndicatorCreated, ind))
}

// IndicatorUpdated publishes an indicator.updated event
func (p *EnginePublisher) IndicatorUpdated(ind *models.Indicator) {
	p.publish(NewIndicatorEvent(EventIndicatorUpdated, ind))
}

// IndicatorEvicted publishes an indicator.evicted event
func (p *EnginePublisher) IndicatorEvicted(id uuid.UUID) {
	p.publish(&IndicatorEvent{
		Type:      EventIndicatorEvicted,
		ID:        id,
		Timestamp: time.Now().UTC(),
	})
}

// IngestCompleted publishes an ingest.completed event
func (p *EnginePublisher) IngestCompleted(report models.IngestReport) {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	event := &IngestEvent{
		Type:      EventIngestCompleted,
		Report:    report,
		Timestamp: time.Now().UTC(),
	}
	if err := p.nats.PublishIngestEvent(ctx, event); err != nil {
		p.logger.Warn().Err(err).Str("source", report.Source).Msg("ingest event publish failed")
	}
}
