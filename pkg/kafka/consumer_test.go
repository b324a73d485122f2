package kafka

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func eventMessage(t *testing.T, offset int64) kafka.Message {
	t.Helper()
	e, err := NewEvent("product.deleted", "tajine-pot", "product", "product-service", map[string]string{"product_id": "tajine-pot"})
	require.NoError(t, err)
	raw, err := e.Marshal()
	require.NoError(t, err)
	return kafka.Message{Topic: "market.product.deleted", Offset: offset, Value: raw}
}

func noBackoff(int) time.Duration { return 0 }

func runUntilDrained(t *testing.T, c *Consumer, r *fakeReader, want int) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Start(ctx) }()

	require.Eventually(t, func() bool { return r.committedCount() == want }, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
}

func TestConsumer_CommitsAfterHandler(t *testing.T) {
	r := &fakeReader{queue: []kafka.Message{eventMessage(t, 1), eventMessage(t, 2)}}
	var handled atomic.Int32
	c := newConsumer(r, "market.product.deleted", "review-service", func(ctx context.Context, e *Event) error {
		handled.Add(1)
		return nil
	}, testLogger())

	runUntilDrained(t, c, r, 2)

	assert.Equal(t, int32(2), handled.Load())
	assert.Equal(t, 1, r.closed)
}

func TestConsumer_RetriesThenDeadLetters(t *testing.T) {
	r := &fakeReader{queue: []kafka.Message{eventMessage(t, 5)}}
	dlqWriter := &fakeWriter{}
	var attempts atomic.Int32

	c := newConsumer(r, "market.product.deleted", "review-service", func(ctx context.Context, e *Event) error {
		attempts.Add(1)
		return errors.New("database unavailable")
	}, testLogger(), WithDLQ(&DLQProducer{writer: dlqWriter, logger: testLogger()}))
	c.backoff = noBackoff

	runUntilDrained(t, c, r, 1)

	assert.Equal(t, int32(maxHandlerRetries), attempts.Load())
	require.Len(t, dlqWriter.msgs, 1)
	assert.Equal(t, "market.dlq.market.product.deleted", dlqWriter.msgs[0].Topic)

	headers := make(map[string]string)
	for _, h := range dlqWriter.msgs[0].Headers {
		headers[h.Key] = string(h.Value)
	}
	assert.Equal(t, "5", headers["dlq.original_offset"])
	assert.Equal(t, "review-service", headers["dlq.consumer_group"])
	assert.Equal(t, "database unavailable", headers["dlq.error"])
}

func TestConsumer_SucceedsOnRetry(t *testing.T) {
	r := &fakeReader{queue: []kafka.Message{eventMessage(t, 1)}}
	var attempts atomic.Int32
	c := newConsumer(r, "t", "g", func(ctx context.Context, e *Event) error {
		if attempts.Add(1) < 2 {
			return errors.New("transient")
		}
		return nil
	}, testLogger())
	c.backoff = noBackoff

	runUntilDrained(t, c, r, 1)
	assert.Equal(t, int32(2), attempts.Load())
}

func TestConsumer_SkipsMalformedMessage(t *testing.T) {
	r := &fakeReader{queue: []kafka.Message{{Topic: "t", Value: []byte("not json")}}}
	called := false
	c := newConsumer(r, "t", "g", func(ctx context.Context, e *Event) error {
		called = true
		return nil
	}, testLogger())

	runUntilDrained(t, c, r, 1)
	assert.False(t, called)
}

func TestConsumer_Close_Idempotent(t *testing.T) {
	r := &fakeReader{}
	c := newConsumer(r, "t", "g", nil, testLogger())
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	assert.Equal(t, 1, r.closed)
}

func TestDLQTopic(t *testing.T) {
	assert.Equal(t, "market.dlq", DLQTopicPrefix)
	assert.Equal(t, "market.dlq.market.product.deleted", DLQTopic("market.product.deleted"))
	assert.Equal(t, "market.dlq.", DLQTopic(""))
}
