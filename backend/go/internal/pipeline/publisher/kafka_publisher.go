package publisher

import (
	"SignalFlow/backend/go/internal/config"
	"SignalFlow/backend/go/internal/models"
	"SignalFlow/backend/go/internal/pipeline"
	"SignalFlow/backend/go/pkg/logger"
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"
)

// MessageWriter is the subset of *kafka.Writer used by EventPublisher.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// EventPublisher forwards pipeline events to one Kafka topic per event kind.
// It implements pipeline.Sink.
type EventPublisher struct {
	writer MessageWriter
	topics map[pipeline.EventKind]string
	logger *logger.Logger
}

// NewEventPublisher creates an EventPublisher. Kinds without a configured topic are dropped.
func NewEventPublisher(writer MessageWriter, topics config.KafkaTopics, logger *logger.Logger) *EventPublisher {
	m := make(map[pipeline.EventKind]string)
	if topics.Classified != "" {
		m[pipeline.KindRecordClassified] = topics.Classified
	}
	if topics.Deduplicated != "" {
		m[pipeline.KindRecordDeduplicated] = topics.Deduplicated
	}
	if topics.Signal != "" {
		m[pipeline.KindSignalGenerated] = topics.Signal
	}
	return &EventPublisher{
		writer: writer,
		topics: m,
		logger: logger.Component("kafka-publisher"),
	}
}

// Topic returns the topic configured for kind.
func (p *EventPublisher) Topic(kind pipeline.EventKind) (string, bool) {
	t, ok := p.topics[kind]
	return t, ok
}

// Publish encodes events as JSON envelopes keyed by record id and writes them in one call.
func (p *EventPublisher) Publish(ctx context.Context, events ...pipeline.Event) error {
	msgs := make([]kafka.Message, 0, len(events))
	for _, e := range events {
		topic, ok := p.topics[e.Kind]
		if !ok {
			continue
		}
		env, err := e.ToEnvelope()
		if err != nil {
			p.logger.WithError(models.NewErrorInfo(err, "encode_failed")).Error("Failed to encode event for Kafka")
			return err
		}
		value, err := json.Marshal(env)
		if err != nil {
			return fmt.Errorf("marshal envelope: %w", err)
		}
		msgs = append(msgs, kafka.Message{
			Topic: topic,
			Key:   []byte(e.RecordID()),
			Value: value,
		})
	}
	if len(msgs) == 0 {
		return nil
	}

	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		p.logger.WithError(models.NewErrorInfo(err, "kafka_write_failed")).
			WithPayload(map[string]interface{}{"messages": len(msgs)}).
			Error("Failed to write events to Kafka")
		return fmt.Errorf("write events to kafka: %w", err)
	}
	return nil
}
