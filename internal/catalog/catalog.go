// Package catalog holds the slice of event data admission reads: capacity
// and the cancelled flag. The catalog service owns this data. Updates arrive
// through Syncer.
package catalog

import (
	"context"

	"turnstile/pkg/model"
)

const (
	EventsCollection = "Events"
	EventsTable      = "events"
)

type Catalog interface {
	// GetEventCapacity returns ErrEventNotFound for unknown events.
	GetEventCapacity(ctx context.Context, eventID string) (*model.EventCapacity, error)
	// MarkCancelled is idempotent and returns ErrEventNotFound for unknown events.
	MarkCancelled(ctx context.Context, eventID string) error
	// Upsert creates the event or refreshes it. It returns ErrCapacityChanged
	// when a known event arrives with a different capacity. Cancellation is
	// sticky: an upsert never clears it.
	Upsert(ctx context.Context, event *model.EventCapacity) error
}
