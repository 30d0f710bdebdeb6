package kafka_middleware

import (
	"context"
	"sync/atomic"
	"time"

	"turnstile/pkg/kafka"
)

// Metrics counts messaging traffic for the /metrics/messaging endpoint.
type Metrics struct {
	messagesPublished       atomic.Int64
	messagesPublishedFailed atomic.Int64
	publishDurationTotal    atomic.Int64 // nanoseconds

	messagesConsumed       atomic.Int64
	messagesConsumedFailed atomic.Int64
	consumeDurationTotal   atomic.Int64 // nanoseconds
}

// Snapshot is a point-in-time copy of Metrics.
type Snapshot struct {
	MessagesPublished       int64  `json:"messages_published"`
	MessagesPublishedFailed int64  `json:"messages_published_failed"`
	AvgPublishDuration      string `json:"avg_publish_duration"`
	MessagesConsumed        int64  `json:"messages_consumed"`
	MessagesConsumedFailed  int64  `json:"messages_consumed_failed"`
	AvgConsumeDuration      string `json:"avg_consume_duration"`
}

func NewMetrics() *Metrics {
	return &Metrics{}
}

func (m *Metrics) Snapshot() Snapshot {
	published := m.messagesPublished.Load()
	publishedFailed := m.messagesPublishedFailed.Load()
	consumed := m.messagesConsumed.Load()
	consumedFailed := m.messagesConsumedFailed.Load()

	return Snapshot{
		MessagesPublished:       published,
		MessagesPublishedFailed: publishedFailed,
		AvgPublishDuration:      average(m.publishDurationTotal.Load(), published+publishedFailed).String(),
		MessagesConsumed:        consumed,
		MessagesConsumedFailed:  consumedFailed,
		AvgConsumeDuration:      average(m.consumeDurationTotal.Load(), consumed+consumedFailed).String(),
	}
}

func average(total, count int64) time.Duration {
	if count == 0 {
		return 0
	}
	return time.Duration(total / count)
}

func (m *Metrics) ProducerMiddleware() kafka.ProducerMiddleware {
	return func(ctx context.Context, msg kafka.Message, next func(ctx context.Context, msg kafka.Message) error) error {
		start := time.Now()
		err := next(ctx, msg)
		m.publishDurationTotal.Add(int64(time.Since(start)))

		if err != nil {
			m.messagesPublishedFailed.Add(1)
		} else {
			m.messagesPublished.Add(1)
		}
		return err
	}
}

// ConsumerMiddleware counts every handler attempt, retries included.
func (m *Metrics) ConsumerMiddleware() kafka.ConsumerMiddleware {
	return func(ctx context.Context, msg kafka.Message, next kafka.MessageHandler) error {
		start := time.Now()
		err := next(ctx, msg)
		m.consumeDurationTotal.Add(int64(time.Since(start)))

		if err != nil {
			m.messagesConsumedFailed.Add(1)
		} else {
			m.messagesConsumed.Add(1)
		}
		return err
	}
}
