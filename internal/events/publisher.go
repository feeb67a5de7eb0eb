// Package events publishes verification run lifecycle events to Kafka.
//
// Events are JSON envelopes keyed by run ID, so every event of a run lands on
// the same partition. When Kafka is disabled a no-op publisher is used and
// callers need no special casing.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/helixir/citation-verification-service/internal/config"
	"github.com/helixir/citation-verification-service/internal/domain"
)

const (
	// AggregateTypeVerificationRun is the aggregate type of run events.
	AggregateTypeVerificationRun = "verification_run"

	// HeaderEventType carries the event type so consumers can filter
	// without decoding the value.
	HeaderEventType = "event_type"

	defaultServiceName  = "citation-verification-service"
	defaultWriteTimeout = 10 * time.Second
)

// Publisher delivers domain events.
type Publisher interface {
	Publish(ctx context.Context, events ...*domain.Event) error
	Close() error
}

// MessageWriter is the subset of *kafka.Writer used by KafkaPublisher.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

var (
	_ Publisher     = (*KafkaPublisher)(nil)
	_ Publisher     = NopPublisher{}
	_ MessageWriter = (*kafka.Writer)(nil)
)

// envelope is the wire format of a published event.
type envelope struct {
	EventID       string                 `json:"event_id"`
	EventType     string                 `json:"event_type"`
	EventVersion  int                    `json:"event_version"`
	AggregateID   string                 `json:"aggregate_id"`
	AggregateType string                 `json:"aggregate_type"`
	Payload       json.RawMessage        `json:"payload"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt     time.Time              `json:"created_at"`
}

// KafkaPublisher writes events to a single Kafka topic.
type KafkaPublisher struct {
	writer MessageWriter
	logger zerolog.Logger
}

// NewKafkaPublisher creates a publisher writing to cfg.Topic on cfg.Brokers.
func NewKafkaPublisher(cfg config.KafkaConfig, logger zerolog.Logger) *KafkaPublisher {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchSize:    cfg.BatchSize,
		BatchTimeout: cfg.BatchTimeout,
		WriteTimeout: defaultWriteTimeout,
		RequiredAcks: kafka.RequireOne,
	}
	return NewKafkaPublisherWithWriter(writer, logger)
}

// NewKafkaPublisherWithWriter creates a publisher over an existing writer.
func NewKafkaPublisherWithWriter(writer MessageWriter, logger zerolog.Logger) *KafkaPublisher {
	return &KafkaPublisher{
		writer: writer,
		logger: logger.With().Str("component", "event_publisher").Logger(),
	}
}

// Publish writes events in one request. Nil events are ignored.
func (p *KafkaPublisher) Publish(ctx context.Context, events ...*domain.Event) error {
	msgs := make([]kafka.Message, 0, len(events))
	for _, event := range events {
		if event == nil {
			continue
		}
		msg, err := toMessage(event)
		if err != nil {
			return err
		}
		msgs = append(msgs, msg)
	}
	if len(msgs) == 0 {
		return nil
	}

	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		p.logger.Error().Err(err).Int("count", len(msgs)).Msg("failed to publish events")
		return fmt.Errorf("publish events: %w", err)
	}

	for _, msg := range msgs {
		p.logger.Debug().
			Str("key", string(msg.Key)).
			Str("event_type", headerValue(msg, HeaderEventType)).
			Msg("published event")
	}
	return nil
}

// Close flushes pending messages and closes the writer.
func (p *KafkaPublisher) Close() error {
	p.logger.Info().Msg("closing event publisher")
	return p.writer.Close()
}

func toMessage(event *domain.Event) (kafka.Message, error) {
	value, err := json.Marshal(envelope{
		EventID:       event.EventID,
		EventType:     event.EventType,
		EventVersion:  event.EventVersion,
		AggregateID:   event.AggregateID,
		AggregateType: event.AggregateType,
		Payload:       json.RawMessage(event.Payload),
		Metadata:      event.Metadata,
		CreatedAt:     event.CreatedAt,
	})
	if err != nil {
		return kafka.Message{}, fmt.Errorf("marshal event %s: %w", event.EventID, err)
	}

	return kafka.Message{
		Key:   []byte(event.AggregateID),
		Value: value,
		Time:  event.CreatedAt,
		Headers: []kafka.Header{
			{Key: HeaderEventType, Value: []byte(event.EventType)},
		},
	}, nil
}

func headerValue(msg kafka.Message, key string) string {
	for _, h := range msg.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

// NopPublisher discards events.
type NopPublisher struct{}

// Publish does nothing.
func (NopPublisher) Publish(context.Context, ...*domain.Event) error { return nil }

// Close does nothing.
func (NopPublisher) Close() error { return nil }

// New returns a Kafka publisher when cfg.Enabled is set and a NopPublisher
// otherwise.
func New(cfg config.KafkaConfig, logger zerolog.Logger) Publisher {
	if !cfg.Enabled {
		logger.Debug().Msg("kafka disabled, verification events will not be published")
		return NopPublisher{}
	}
	logger.Info().
		Strs("brokers", cfg.Brokers).
		Str("topic", cfg.Topic).
		Msg("publishing verification events to kafka")
	return NewKafkaPublisher(cfg, logger)
}
