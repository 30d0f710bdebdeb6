// Package queue orders an event's waiting participants. Every function
// takes the event-scoped handle it reads from, so the same code serves
// transactional writes and informational reads.
package queue

import (
	"context"
	"fmt"
	"time"

	"turnstile/pkg/model"

	"github.com/google/uuid"
)

type Appender interface {
	EventID() string
	NextSeq(ctx context.Context) (int64, error)
	InsertEntry(ctx context.Context, entry *model.WaitingEntry) error
}

type Head interface {
	FirstWaiting(ctx context.Context) (*model.WaitingEntry, error)
}

type Counter interface {
	CountWaitingBefore(ctx context.Context, entry *model.WaitingEntry) (int, error)
}

// NewEntry allocates an unsaved Waiting entry with the event's next seq.
func NewEntry(ctx context.Context, a Appender, participantID string, now time.Time) (*model.WaitingEntry, error) {
	seq, err := a.NextSeq(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to allocate queue sequence: %w", err)
	}
	return &model.WaitingEntry{
		ID:            uuid.NewString(),
		EventID:       a.EventID(),
		ParticipantID: participantID,
		State:         model.EntryWaiting,
		Seq:           seq,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

// Enqueue appends participantID to the back of the queue.
func Enqueue(ctx context.Context, a Appender, participantID string, now time.Time) (*model.WaitingEntry, error) {
	entry, err := NewEntry(ctx, a, participantID, now)
	if err != nil {
		return nil, err
	}
	if err := a.InsertEntry(ctx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// NextWaiting returns the oldest waiting entry, or nil when nobody waits.
func NextWaiting(ctx context.Context, h Head) (*model.WaitingEntry, error) {
	return h.FirstWaiting(ctx)
}

// PositionOf reports 1 for the head of the queue. Entries that are not
// waiting have no position and report 0.
func PositionOf(ctx context.Context, c Counter, entry *model.WaitingEntry) (int, error) {
	if entry.State != model.EntryWaiting {
		return 0, nil
	}
	ahead, err := c.CountWaitingBefore(ctx, entry)
	if err != nil {
		return 0, fmt.Errorf("failed to compute queue position: %w", err)
	}
	return ahead + 1, nil
}
