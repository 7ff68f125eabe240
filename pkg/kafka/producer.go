package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/umrum/umrum/pkg/config"
)

// Event is one message to publish. Key picks the partition; Value is
// encoded as JSON.
type Event struct {
	Key   string
	Value any
}

// Producer publishes JSON-encoded events to one topic.
type Producer struct {
	writer *kafka.Writer
	topic  string
	logger *slog.Logger
}

// NewProducer creates a Producer for topic. Messages with the same key land
// on the same partition, so per-host ordering is kept.
func NewProducer(cfg config.KafkaConfig, topic string) *Producer {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		BatchSize:              500,
		BatchTimeout:           50 * time.Millisecond,
		MaxAttempts:            3,
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
	}
	return &Producer{
		writer: w,
		topic:  topic,
		logger: slog.Default().With("component", "kafka-producer", "topic", topic),
	}
}

func (p *Producer) Topic() string { return p.topic }

// Publish writes a single event synchronously.
func (p *Producer) Publish(ctx context.Context, event Event) error {
	return p.PublishBatch(ctx, []Event{event})
}

// PublishBatch writes events in one call. An event that fails to encode
// aborts the whole batch before anything is written.
func (p *Producer) PublishBatch(ctx context.Context, events []Event) error {
	if len(events) == 0 {
		return nil
	}
	messages := make([]kafka.Message, 0, len(events))
	for _, event := range events {
		msg, err := encode(event)
		if err != nil {
			return err
		}
		messages = append(messages, msg)
	}
	if err := p.writer.WriteMessages(ctx, messages...); err != nil {
		p.logger.Error("failed to publish batch",
			"count", len(messages),
			"error", err,
		)
		return fmt.Errorf("publishing %d messages to %s: %w", len(messages), p.topic, err)
	}
	p.logger.Debug("batch published", "count", len(messages))
	return nil
}

// Close flushes pending writes and closes the writer.
func (p *Producer) Close() error {
	return p.writer.Close()
}

func encode(event Event) (kafka.Message, error) {
	value, err := json.Marshal(event.Value)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("marshaling event %q: %w", event.Key, err)
	}
	return kafka.Message{Key: []byte(event.Key), Value: value}, nil
}
