// Package kafka provides JSON producer and consumer clients backed by
// segmentio/kafka-go.
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

// MessageHandler is invoked for each message. Returning an error leaves the
// offset uncommitted; the message is logged and skipped.
type MessageHandler func(ctx context.Context, key []byte, value []byte) error

// Consumer reads one topic as part of a consumer group and dispatches each
// message to a MessageHandler.
type Consumer struct {
	reader  *kafka.Reader
	logger  *slog.Logger
	handler MessageHandler
}

// NewConsumer creates a Consumer. A group that has never committed starts
// from the oldest retained message.
func NewConsumer(cfg config.KafkaConfig, topic string, handler MessageHandler) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		Topic:          topic,
		GroupID:        cfg.ConsumerGroup,
		MinBytes:       1,
		MaxBytes:       10e6,
		MaxWait:        time.Second,
		StartOffset:    kafka.FirstOffset,
		CommitInterval: time.Second,
	})
	return &Consumer{
		reader:  r,
		logger:  slog.Default().With("component", "kafka-consumer", "topic", topic),
		handler: handler,
	}
}

// Start consumes until ctx is cancelled. Fetch errors back off briefly
// instead of spinning.
func (c *Consumer) Start(ctx context.Context) error {
	c.logger.Info("consumer started")
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.logger.Info("consumer stopping", "reason", ctx.Err())
				return nil
			}
			c.logger.Error("failed to fetch message", "error", err)
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
				return nil
			}
			continue
		}

		if err := c.handler(ctx, msg.Key, msg.Value); err != nil {
			c.logger.Error("failed to process message",
				"partition", msg.Partition,
				"offset", msg.Offset,
				"error", err,
			)
			continue
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			c.logger.Error("failed to commit message",
				"partition", msg.Partition,
				"offset", msg.Offset,
				"error", err,
			)
		}
	}
}

// Close closes the underlying reader.
func (c *Consumer) Close() error {
	return c.reader.Close()
}

// DecodeJSON unmarshals a message value into T.
func DecodeJSON[T any](value []byte) (T, error) {
	var result T
	if err := json.Unmarshal(value, &result); err != nil {
		return result, fmt.Errorf("decoding kafka message: %w", err)
	}
	return result, nil
}
