// Package kafka provides the producer and consumer used for update commands
// and index-updated events, backed by segmentio/kafka-go with JSON payloads.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/motif-search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/motif-search/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/motif-search/pkg/resilience"
	"github.com/segmentio/kafka-go"
)

// MessageHandler is a callback invoked for each Kafka message.
type MessageHandler func(ctx context.Context, key []byte, value []byte) error

type permanentError struct{ err error }

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying. The consumer commits past a
// message whose handler returns a permanent error.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p permanentError
	return errors.As(err, &p)
}

// messageReader is the part of *kafka.Reader the consume loop uses.
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer reads messages from a Kafka topic and dispatches them to a
// MessageHandler. Transient handler failures are retried with backoff; the
// offset is committed only once the handler succeeds or fails permanently.
type Consumer struct {
	reader  messageReader
	topic   string
	logger  *slog.Logger
	handler MessageHandler
	retry   resilience.RetryConfig
	metrics *metrics.Metrics
}

// NewConsumer creates a Consumer for the given topic and handler. A new
// consumer group starts from the oldest retained command.
func NewConsumer(cfg config.KafkaConfig, topic string, handler MessageHandler, m *metrics.Metrics) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		Topic:       topic,
		GroupID:     cfg.ConsumerGroup,
		MinBytes:    1,
		MaxBytes:    10e6,
		MaxWait:     time.Second,
		StartOffset: kafka.FirstOffset,
	})

	return newConsumer(r, topic, handler, resilience.RetryConfig{
		MaxAttempts:  5,
		InitialDelay: time.Second,
		MaxDelay:     time.Minute,
	}, m)
}

func newConsumer(r messageReader, topic string, handler MessageHandler, retry resilience.RetryConfig, m *metrics.Metrics) *Consumer {
	logger := slog.Default().With("component", "kafka-consumer", "topic", topic)
	retry.Retryable = func(err error) bool { return !IsPermanent(err) }
	retry.Logger = logger
	return &Consumer{
		reader:  r,
		topic:   topic,
		logger:  logger,
		handler: handler,
		retry:   retry,
		metrics: m,
	}
}

// Start enters the consume loop, fetching and processing messages until ctx
// is cancelled. It returns nil on cancellation.
//
// A message whose handler still fails after every retry stops the loop with
// an error. Committing any later message would move the group offset past
// the failed one, so the consumer stops instead and the message is delivered
// again when the group next resumes.
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
		c.logger.Debug("message received",
			"partition", msg.Partition,
			"offset", msg.Offset,
			"key", string(msg.Key),
			"value_size", len(msg.Value),
		)
		err = resilience.Retry(ctx, "handle "+c.topic, c.retry, func() error {
			return c.handler(ctx, msg.Key, msg.Value)
		})
		switch {
		case err == nil:
			c.count("ok")
		case ctx.Err() != nil:
			return nil
		case IsPermanent(err):
			c.count("rejected")
			c.logger.Error("dropping message",
				"partition", msg.Partition,
				"offset", msg.Offset,
				"error", err,
			)
		default:
			c.count("failed")
			c.logger.Error("failed to process message, stopping consumer",
				"partition", msg.Partition,
				"offset", msg.Offset,
				"error", err,
			)
			return fmt.Errorf("message at partition %d offset %d: %w", msg.Partition, msg.Offset, err)
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			c.logger.Error("failed to commit message",
				"partition", msg.Partition,
				"offset", msg.Offset,
				"error", err,
			)
		}
	}
}

func (c *Consumer) count(status string) {
	if c.metrics != nil {
		c.metrics.KafkaMessagesConsumed.WithLabelValues(status).Inc()
	}
}

// Close closes the underlying Kafka reader.
func (c *Consumer) Close() error {
	return c.reader.Close()
}

// DecodeJSON unmarshals a message value into T. Decoding failures are
// permanent.
func DecodeJSON[T any](value []byte) (T, error) {
	var result T
	if err := json.Unmarshal(value, &result); err != nil {
		return result, Permanent(fmt.Errorf("decoding kafka message: %w", err))
	}
	return result, nil
}
