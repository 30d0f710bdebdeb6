package repository

import (
	"context"
	"time"

	"turnstile/pkg/model"
)

const (
	EntriesCollection = "Waiting_entries"
	TicketsCollection = "Tickets"
	LocksCollection   = "Admission_locks"
)

// EventReader answers read-only questions about a single event. Outside a
// transaction the answers are informational only.
type EventReader interface {
	EventID() string
	// FindLiveEntry returns nil when the participant has no non-expired entry.
	FindLiveEntry(ctx context.Context, participantID string) (*model.WaitingEntry, error)
	// FindLatestEntry prefers the live entry and falls back to the most recent
	// expired one. It returns ErrNotQueued when there is neither.
	FindLatestEntry(ctx context.Context, participantID string) (*model.WaitingEntry, error)
	// FirstWaiting returns the head of the queue or nil.
	FirstWaiting(ctx context.Context) (*model.WaitingEntry, error)
	CountWaitingBefore(ctx context.Context, entry *model.WaitingEntry) (int, error)
	CountCommitted(ctx context.Context) (int, error)
	CountActiveHolds(ctx context.Context, now time.Time) (int, error)
	ListEntries(ctx context.Context, states ...model.EntryState) ([]*model.WaitingEntry, error)
	ListTickets(ctx context.Context, statuses ...model.TicketStatus) ([]*model.Ticket, error)
}

// Tx is a unit of work scoped to one event. Writes become visible only when
// the function passed to WithinEvent returns nil.
type Tx interface {
	EventReader
	// FindEntry returns ErrEntryNotFound for entries of other events.
	FindEntry(ctx context.Context, entryID string) (*model.WaitingEntry, error)
	FindTicket(ctx context.Context, ticketID string) (*model.Ticket, error)
	// FindTicketByEntry returns nil when the entry has no ticket.
	FindTicketByEntry(ctx context.Context, entryID string) (*model.Ticket, error)
	NextSeq(ctx context.Context) (int64, error)
	InsertEntry(ctx context.Context, entry *model.WaitingEntry) error
	UpdateEntry(ctx context.Context, entry *model.WaitingEntry) error
	// InsertTicket returns ErrAlreadyCommitted when the entry already has one.
	InsertTicket(ctx context.Context, ticket *model.Ticket) error
	UpdateTicket(ctx context.Context, ticket *model.Ticket) error
}

type TxFunc func(ctx context.Context, tx Tx) error

// Store persists entries and tickets and serializes writers per event.
type Store interface {
	// WithinEvent runs fn while holding the event's lock. Different events
	// never contend. An error from fn discards every write fn made.
	WithinEvent(ctx context.Context, eventID string, fn TxFunc) error
	Event(eventID string) EventReader
	FindEntry(ctx context.Context, entryID string) (*model.WaitingEntry, error)
	FindTicket(ctx context.Context, ticketID string) (*model.Ticket, error)
	// ListOffered returns offered entries across all events, restricted to
	// deadlines at or before dueBy when it is non-nil.
	ListOffered(ctx context.Context, dueBy *time.Time) ([]*model.WaitingEntry, error)
	Ping(ctx context.Context) error
}
