package notify

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"turnstile/pkg/logger"
	"turnstile/pkg/model"
)

// Sink delivers one notification to participants. Kafka in production,
// the log when messaging is disabled.
type Sink interface {
	Deliver(ctx context.Context, n model.Notification) error
}

// Dispatcher decouples admission decisions from delivery. Notify never
// blocks: when the buffer is full the notification is dropped and counted.
type Dispatcher struct {
	sink           Sink
	queue          chan model.Notification
	log            *logger.Logger
	deliverTimeout time.Duration

	dropped   atomic.Int64
	failed    atomic.Int64
	delivered atomic.Int64

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

type Stats struct {
	Delivered int64 `json:"delivered"`
	Failed    int64 `json:"failed"`
	Dropped   int64 `json:"dropped"`
	Queued    int   `json:"queued"`
}

// NewDispatcher starts the delivery goroutine. bufferSize must be positive.
func NewDispatcher(sink Sink, bufferSize int, log *logger.Logger) *Dispatcher {
	if bufferSize <= 0 {
		bufferSize = 1
	}
	d := &Dispatcher{
		sink:           sink,
		queue:          make(chan model.Notification, bufferSize),
		log:            log,
		deliverTimeout: 5 * time.Second,
		done:           make(chan struct{}),
	}
	go d.run()
	return d
}

func (d *Dispatcher) Notify(_ context.Context, n model.Notification) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.dropped.Add(1)
		return
	}

	select {
	case d.queue <- n:
	default:
		d.dropped.Add(1)
		d.log.Warn("Notification buffer full, dropping notification",
			"type", n.Type,
			"event_id", n.EventID,
			"participant_id", n.ParticipantID,
		)
	}
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for n := range d.queue {
		d.deliver(n)
	}
}

func (d *Dispatcher) deliver(n model.Notification) {
	ctx, cancel := context.WithTimeout(context.Background(), d.deliverTimeout)
	defer cancel()

	if err := d.sink.Deliver(ctx, n); err != nil {
		d.failed.Add(1)
		d.log.Error("Failed to deliver notification",
			"type", n.Type,
			"event_id", n.EventID,
			"participant_id", n.ParticipantID,
			"entry_id", n.EntryID,
			"error", err,
		)
		return
	}
	d.delivered.Add(1)
}

// Close stops accepting notifications and waits for the buffer to drain,
// or for ctx to end.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		d.log.Warn("Notification dispatcher closed before draining", "queued", len(d.queue))
		return ctx.Err()
	}
}

func (d *Dispatcher) Stats() Stats {
	return Stats{
		Delivered: d.delivered.Load(),
		Failed:    d.failed.Load(),
		Dropped:   d.dropped.Load(),
		Queued:    len(d.queue),
	}
}
