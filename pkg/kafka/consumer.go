package kafka

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
)

// maxHandlerRetries is how many times a handler runs for one message before
// the message is dead-lettered (or dropped) and committed.
const maxHandlerRetries = 3

// Handler processes one event.
type Handler func(ctx context.Context, event *Event) error

// messageReader is the part of *kafka.Reader the consumer uses.
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// deadLetterPublisher receives messages whose handler kept failing.
type deadLetterPublisher interface {
	Publish(ctx context.Context, msg kafka.Message, lastErr error, consumerGroup string) error
}

// ConsumerConfig holds Kafka consumer configuration.
type ConsumerConfig struct {
	Brokers  []string
	GroupID  string
	Topic    string
	MinBytes int
	MaxBytes int
}

// Consumer reads one topic in a consumer group and dispatches events to a
// Handler with at-least-once semantics.
type Consumer struct {
	reader    messageReader
	topic     string
	group     string
	handler   Handler
	dlq       deadLetterPublisher
	backoff   func(attempt int) time.Duration
	logger    *slog.Logger
	closeOnce sync.Once
}

// ConsumerOption customizes a Consumer.
type ConsumerOption func(*Consumer)

// WithDLQ sends messages that exhaust their retries to d instead of dropping them.
func WithDLQ(d *DLQProducer) ConsumerOption {
	return func(c *Consumer) {
		if d != nil {
			c.dlq = d
		}
	}
}

// NewConsumer creates a consumer for cfg.Topic in cfg.GroupID.
func NewConsumer(cfg ConsumerConfig, handler Handler, logger *slog.Logger, opts ...ConsumerOption) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		GroupID:  cfg.GroupID,
		Topic:    cfg.Topic,
		MinBytes: cfg.MinBytes,
		MaxBytes: cfg.MaxBytes,
	})
	return newConsumer(r, cfg.Topic, cfg.GroupID, handler, logger, opts...)
}

func newConsumer(r messageReader, topic, group string, handler Handler, logger *slog.Logger, opts ...ConsumerOption) *Consumer {
	c := &Consumer{
		reader:  r,
		topic:   topic,
		group:   group,
		handler: handler,
		backoff: func(attempt int) time.Duration { return time.Duration(attempt) * 100 * time.Millisecond },
		logger:  logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start consumes until ctx is canceled, then closes the reader.
func (c *Consumer) Start(ctx context.Context) error {
	c.logger.Info("consumer started",
		slog.String("topic", c.topic),
		slog.String("group", c.group),
	)
	defer func() { _ = c.Close() }()

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				c.logger.Info("consumer stopping", slog.String("topic", c.topic))
				return nil
			}
			c.logger.Error("failed to fetch message", slog.String("error", err.Error()))
			continue
		}

		if !c.process(ctx, msg) {
			return nil
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			c.logger.Error("failed to commit message",
				slog.Int64("offset", msg.Offset),
				slog.String("error", err.Error()),
			)
		}
	}
}

// process handles one message and reports whether it may be committed.
// It returns false only when ctx ended mid-retry.
func (c *Consumer) process(ctx context.Context, msg kafka.Message) bool {
	consumerMessagesReceived.WithLabelValues(c.topic, c.group).Inc()

	event, err := UnmarshalEvent(msg.Value)
	if err != nil {
		c.logger.Error("failed to unmarshal event, skipping",
			slog.String("topic", msg.Topic),
			slog.Int64("offset", msg.Offset),
			slog.String("error", err.Error()),
		)
		c.deadLetter(ctx, msg, err)
		return true
	}

	ctx = extractTrace(ctx, msg.Headers)
	start := time.Now()

	var lastErr error
	for attempt := 1; attempt <= maxHandlerRetries; attempt++ {
		if lastErr = c.handler(ctx, event); lastErr == nil {
			break
		}
		c.logger.WarnContext(ctx, "handler failed",
			slog.String("event_type", event.EventType),
			slog.String("aggregate_id", event.AggregateID),
			slog.Int64("offset", msg.Offset),
			slog.Int("attempt", attempt),
			slog.String("error", lastErr.Error()),
		)
		if attempt < maxHandlerRetries {
			select {
			case <-ctx.Done():
				return false
			case <-time.After(c.backoff(attempt)):
			}
		}
	}
	consumerProcessingDuration.WithLabelValues(c.topic, c.group).Observe(time.Since(start).Seconds())

	if lastErr != nil {
		consumerMessagesFailed.WithLabelValues(c.topic, c.group).Inc()
		c.logger.ErrorContext(ctx, "handler failed after all retries",
			slog.String("event_type", event.EventType),
			slog.String("aggregate_id", event.AggregateID),
			slog.Int("retries", maxHandlerRetries),
			slog.String("error", lastErr.Error()),
		)
		c.deadLetter(ctx, msg, lastErr)
		return true
	}

	consumerMessagesProcessed.WithLabelValues(c.topic, c.group).Inc()
	return true
}

func (c *Consumer) deadLetter(ctx context.Context, msg kafka.Message, cause error) {
	if c.dlq == nil {
		return
	}
	if err := c.dlq.Publish(ctx, msg, cause, c.group); err != nil {
		c.logger.ErrorContext(ctx, "failed to publish to DLQ", slog.String("error", err.Error()))
		return
	}
	consumerDLQPublished.WithLabelValues(c.topic, c.group).Inc()
}

// Close closes the consumer. It is safe to call multiple times.
func (c *Consumer) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.reader.Close()
	})
	return err
}
