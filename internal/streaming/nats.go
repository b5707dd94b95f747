package streaming

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"threatprint/internal/config"
	"threatprint/pkg/logger"
)

// NATSPublisher handles publishing corpus events to NATS JetStream
type NATSPublisher struct {
	conn   *nats.Conn
	js     jetstream.JetStream
	stream jetstream.Stream
	config config.NATSConfig
	logger *logger.Logger

	mu        sync.RWMutex
	connected bool
}

// NewNATSPublisher creates a new NATS publisher
func NewNATSPublisher(ctx context.Context, cfg config.NATSConfig, log *logger.Logger) (*NATSPublisher, error) {
	log = log.WithComponent("nats")

	if cfg.URL == "" {
		cfg.URL = nats.DefaultURL
	}
	if cfg.StreamName == "" {
		cfg.StreamName = "THREATPRINT_EVENTS"
	}

	log.Info().Str("url", cfg.URL).Str("stream", cfg.StreamName).Msg("connecting to NATS")

	conn, err := nats.Connect(cfg.URL,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			log.Info().Msg("NATS reconnected")
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			log.Info().Msg("NATS connection closed")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	streamCfg := jetstream.StreamConfig{
		Name:        cfg.StreamName,
		Description: "Threatprint corpus change events",
		Subjects:    []string{"indicators.>", "ingest.>"},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      24 * time.Hour,
		MaxMsgs:     100000,
		MaxBytes:    100 * 1024 * 1024,
		Discard:     jetstream.DiscardOld,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
	}

	stream, err := js.CreateOrUpdateStream(ctx, streamCfg)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create stream: %w", err)
	}

	log.Info().Str("stream", stream.CachedInfo().Config.Name).Msg("NATS stream ready")

	return &NATSPublisher{
		conn:      conn,
		js:        js,
		stream:    stream,
		config:    cfg,
		logger:    log,
		connected: true,
	}, nil
}

// Close closes the NATS connection
func (p *NATSPublisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.conn != nil {
		p.conn.Close()
		p.connected = false
	}
}

// IsConnected returns whether NATS is connected
func (p *NATSPublisher) IsConnected() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.connected && p.conn.IsConnected()
}

// PublishIndicatorEvent publishes a corpus mutation event
func (p *NATSPublisher) PublishIndicatorEvent(ctx context.Context, event *IndicatorEvent) error {
	if !p.IsConnected() {
		return fmt.Errorf("NATS not connected")
	}

	subject := p.indicatorSubject(event)

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if _, err := p.js.Publish(ctx, subject, data); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	p.logger.Debug().
		Str("subject", subject).
		Str("event_type", string(event.Type)).
		Str("indicator", event.Value).
		Msg("published indicator event")

	return nil
}

// PublishIngestEvent publishes an ingest completion event
func (p *NATSPublisher) PublishIngestEvent(ctx context.Context, event *IngestEvent) error {
	if !p.IsConnected() {
		return fmt.Errorf("NATS not connected")
	}

	subject := fmt.Sprintf("ingest.completed.%s", event.Report.Source)

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if _, err := p.js.Publish(ctx, subject, data); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	p.logger.Debug().
		Str("subject", subject).
		Str("source", event.Report.Source).
		Int64("created", event.Report.IndicatorsCreated).
		Msg("published ingest event")

	return nil
}

// indicatorSubject builds the subject hierarchy:
// indicators.<action>.<severity>, e.g. indicators.created.critical
func (p *NATSPublisher) indicatorSubject(event *IndicatorEvent) string {
	action := "changed"
	switch event.Type {
	case EventIndicatorCreated:
		action = "created"
	case EventIndicatorUpdated:
		action = "updated"
	case EventIndicatorEvicted:
		return "indicators.evicted"
	}

	severity := string(event.Severity)
	if severity == "" {
		severity = "unknown"
	}
	return fmt.Sprintf("indicators.%s.%s", action, severity)
}

// Subscribe creates an ephemeral subscription to indicator events
func (p *NATSPublisher) Subscribe(ctx context.Context) (<-chan *IndicatorEvent, error) {
	if !p.IsConnected() {
		return nil, fmt.Errorf("NATS not connected")
	}

	consumerCfg := jetstream.ConsumerConfig{
		Durable:       "",
		DeliverPolicy: jetstream.DeliverNewPolicy,
		AckPolicy:     jetstream.AckExplicitPolicy,
		MaxDeliver:    3,
		FilterSubject: "indicators.>",
	}

	consumer, err := p.stream.CreateOrUpdateConsumer(ctx, consumerCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer: %w", err)
	}

	eventCh := make(chan *IndicatorEvent, 100)

	go func() {
		defer close(eventCh)

		msgs, err := consumer.Messages()
		if err != nil {
			p.logger.Error().Err(err).Msg("failed to get messages iterator")
			return
		}
		defer msgs.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			default:
				msg, err := msgs.Next()
				if err != nil {
					if ctx.Err() != nil {
						return
					}
					p.logger.Warn().Err(err).Msg("error getting next message")
					continue
				}

				var event IndicatorEvent
				if err := json.Unmarshal(msg.Data(), &event); err != nil {
					p.logger.Warn().Err(err).Msg("failed to unmarshal event")
					msg.Nak()
					continue
				}

				select {
				case eventCh <- &event:
					msg.Ack()
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return eventCh, nil
}
