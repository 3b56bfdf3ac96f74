package consumer

import (
	"SignalFlow/backend/go/internal/models"
	"SignalFlow/backend/go/internal/pipeline"
	"SignalFlow/backend/go/pkg/logger"
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"
)

// MessageReader is the subset of *kafka.Reader used by EventConsumer.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// HandlerFunc processes one decoded pipeline event.
type HandlerFunc func(ctx context.Context, e pipeline.Event) error

// EventConsumer reads pipeline event envelopes from a Kafka topic.
type EventConsumer struct {
	reader MessageReader
	logger *logger.Logger
}

// NewEventConsumer creates a new EventConsumer.
func NewEventConsumer(reader MessageReader, logger *logger.Logger) *EventConsumer {
	return &EventConsumer{
		reader: reader,
		logger: logger.Component("kafka-consumer"),
	}
}

// Decode turns a Kafka message into a pipeline event.
func Decode(msg kafka.Message) (pipeline.Event, error) {
	var env pipeline.Envelope
	if err := json.Unmarshal(msg.Value, &env); err != nil {
		return pipeline.Event{}, fmt.Errorf("unmarshal envelope: %w", err)
	}
	return env.ToEvent()
}

// Run consumes messages until ctx is cancelled. Messages are committed after
// handling, including those that fail to decode or handle.
func (c *EventConsumer) Run(ctx context.Context, handler HandlerFunc) {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.logger.Info("Stopping Kafka event consumer...")
				return
			}
			c.logger.WithError(models.NewErrorInfo(err, "kafka_fetch_failed")).Error("Error fetching message from Kafka")
			continue
		}

		fields := map[string]interface{}{
			"topic":     msg.Topic,
			"partition": msg.Partition,
			"offset":    msg.Offset,
		}
		event, err := Decode(msg)
		if err != nil {
			c.logger.WithError(models.NewErrorInfo(err, "decode_failed")).WithPayload(fields).Warn("Skipping undecodable Kafka message")
		} else if err := handler(ctx, event); err != nil {
			c.logger.WithError(models.NewErrorInfo(err, "handler_failed")).WithPayload(fields).Error("Error handling Kafka message")
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			c.logger.WithError(models.NewErrorInfo(err, "kafka_commit_failed")).Error("Failed to commit Kafka message")
		}
	}
}

// Start runs the consumer in a background goroutine.
func (c *EventConsumer) Start(ctx context.Context, handler HandlerFunc) {
	go c.Run(ctx, handler)
}

// Close closes the underlying Kafka reader.
func (c *EventConsumer) Close() error {
	return c.reader.Close()
}
