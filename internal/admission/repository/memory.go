package repository

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	admissionerrors "turnstile/internal/admission/errors"
	"turnstile/pkg/model"
)

// MemoryStore keeps every event aggregate in process. Published aggregates
// are never mutated: a writer works on a copy and swaps it in on success.
type MemoryStore struct {
	locks *keyedMutex

	mu          sync.RWMutex
	events      map[string]*aggregate
	entryEvent  map[string]string
	ticketEvent map[string]string
}

type aggregate struct {
	entries []*model.WaitingEntry
	tickets []*model.Ticket
	seq     int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		locks:       newKeyedMutex(),
		events:      make(map[string]*aggregate),
		entryEvent:  make(map[string]string),
		ticketEvent: make(map[string]string),
	}
}

func (a *aggregate) clone() *aggregate {
	c := &aggregate{}
	if a == nil {
		return c
	}
	c.seq = a.seq
	c.entries = make([]*model.WaitingEntry, len(a.entries))
	for i, e := range a.entries {
		c.entries[i] = e.Clone()
	}
	c.tickets = make([]*model.Ticket, len(a.tickets))
	for i, t := range a.tickets {
		c.tickets[i] = t.Clone()
	}
	return c
}

func (s *MemoryStore) snapshot(eventID string) *aggregate {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.events[eventID]
}

func (s *MemoryStore) WithinEvent(ctx context.Context, eventID string, fn TxFunc) error {
	unlock, err := s.locks.Lock(ctx, eventID)
	if err != nil {
		return fmt.Errorf("%w: %w", admissionerrors.ErrLockTimeout, err)
	}
	defer unlock()

	work := s.snapshot(eventID).clone()
	tx := &memoryTx{memoryView: memoryView{eventID: eventID, load: func() *aggregate { return work }}, agg: work}
	if err := fn(ctx, tx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[eventID] = work
	for _, e := range work.entries {
		s.entryEvent[e.ID] = eventID
	}
	for _, t := range work.tickets {
		s.ticketEvent[t.ID] = eventID
	}
	return nil
}

func (s *MemoryStore) Event(eventID string) EventReader {
	return memoryView{eventID: eventID, load: func() *aggregate { return s.snapshot(eventID) }}
}

func (s *MemoryStore) FindEntry(ctx context.Context, entryID string) (*model.WaitingEntry, error) {
	s.mu.RLock()
	eventID, ok := s.entryEvent[entryID]
	agg := s.events[eventID]
	s.mu.RUnlock()
	if !ok {
		return nil, admissionerrors.ErrEntryNotFound
	}
	return findEntry(agg, entryID)
}

func (s *MemoryStore) FindTicket(ctx context.Context, ticketID string) (*model.Ticket, error) {
	s.mu.RLock()
	eventID, ok := s.ticketEvent[ticketID]
	agg := s.events[eventID]
	s.mu.RUnlock()
	if !ok {
		return nil, admissionerrors.ErrTicketNotFound
	}
	return findTicket(agg, ticketID)
}

func (s *MemoryStore) ListOffered(ctx context.Context, dueBy *time.Time) ([]*model.WaitingEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var offered []*model.WaitingEntry
	for _, agg := range s.events {
		for _, e := range agg.entries {
			if e.State != model.EntryOffered {
				continue
			}
			if dueBy != nil && e.OfferDeadline != nil && e.OfferDeadline.After(*dueBy) {
				continue
			}
			offered = append(offered, e.Clone())
		}
	}
	slices.SortFunc(offered, compareDeadline)
	return offered, nil
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

type memoryView struct {
	eventID string
	load    func() *aggregate
}

func (v memoryView) EventID() string { return v.eventID }

func (v memoryView) FindLiveEntry(ctx context.Context, participantID string) (*model.WaitingEntry, error) {
	agg := v.load()
	if agg == nil {
		return nil, nil
	}
	for _, e := range agg.entries {
		if e.ParticipantID == participantID && e.State.Live() {
			return e.Clone(), nil
		}
	}
	return nil, nil
}

func (v memoryView) FindLatestEntry(ctx context.Context, participantID string) (*model.WaitingEntry, error) {
	live, err := v.FindLiveEntry(ctx, participantID)
	if err != nil || live != nil {
		return live, err
	}

	var latest *model.WaitingEntry
	if agg := v.load(); agg != nil {
		for _, e := range agg.entries {
			if e.ParticipantID == participantID && (latest == nil || latest.Before(e)) {
				latest = e
			}
		}
	}
	if latest == nil {
		return nil, admissionerrors.ErrNotQueued
	}
	return latest.Clone(), nil
}

func (v memoryView) FirstWaiting(ctx context.Context) (*model.WaitingEntry, error) {
	waiting, err := v.ListEntries(ctx, model.EntryWaiting)
	if err != nil || len(waiting) == 0 {
		return nil, err
	}
	return waiting[0], nil
}

func (v memoryView) CountWaitingBefore(ctx context.Context, entry *model.WaitingEntry) (int, error) {
	agg := v.load()
	if agg == nil {
		return 0, nil
	}
	n := 0
	for _, e := range agg.entries {
		if e.State == model.EntryWaiting && e.Before(entry) {
			n++
		}
	}
	return n, nil
}

func (v memoryView) CountCommitted(ctx context.Context) (int, error) {
	agg := v.load()
	if agg == nil {
		return 0, nil
	}
	n := 0
	for _, t := range agg.tickets {
		if t.Status.Consumes() {
			n++
		}
	}
	return n, nil
}

func (v memoryView) CountActiveHolds(ctx context.Context, now time.Time) (int, error) {
	agg := v.load()
	if agg == nil {
		return 0, nil
	}
	n := 0
	for _, e := range agg.entries {
		if e.HoldsCapacity(now) {
			n++
		}
	}
	return n, nil
}

func (v memoryView) ListEntries(ctx context.Context, states ...model.EntryState) ([]*model.WaitingEntry, error) {
	agg := v.load()
	if agg == nil {
		return nil, nil
	}
	var out []*model.WaitingEntry
	for _, e := range agg.entries {
		if len(states) == 0 || slices.Contains(states, e.State) {
			out = append(out, e.Clone())
		}
	}
	slices.SortStableFunc(out, func(a, b *model.WaitingEntry) int {
		switch {
		case a.Before(b):
			return -1
		case b.Before(a):
			return 1
		}
		return 0
	})
	return out, nil
}

func (v memoryView) ListTickets(ctx context.Context, statuses ...model.TicketStatus) ([]*model.Ticket, error) {
	agg := v.load()
	if agg == nil {
		return nil, nil
	}
	var out []*model.Ticket
	for _, t := range agg.tickets {
		if len(statuses) == 0 || slices.Contains(statuses, t.Status) {
			out = append(out, t.Clone())
		}
	}
	return out, nil
}

type memoryTx struct {
	memoryView
	agg *aggregate
}

func (tx *memoryTx) FindEntry(ctx context.Context, entryID string) (*model.WaitingEntry, error) {
	return findEntry(tx.agg, entryID)
}

func (tx *memoryTx) FindTicket(ctx context.Context, ticketID string) (*model.Ticket, error) {
	return findTicket(tx.agg, ticketID)
}

func (tx *memoryTx) FindTicketByEntry(ctx context.Context, entryID string) (*model.Ticket, error) {
	for _, t := range tx.agg.tickets {
		if t.EntryID == entryID {
			return t.Clone(), nil
		}
	}
	return nil, nil
}

func (tx *memoryTx) NextSeq(ctx context.Context) (int64, error) {
	tx.agg.seq++
	return tx.agg.seq, nil
}

func (tx *memoryTx) InsertEntry(ctx context.Context, entry *model.WaitingEntry) error {
	if entry.EventID != tx.eventID {
		return fmt.Errorf("entry %s belongs to event %s, not %s", entry.ID, entry.EventID, tx.eventID)
	}
	if _, err := findEntry(tx.agg, entry.ID); err == nil {
		return fmt.Errorf("entry %s already exists", entry.ID)
	}
	tx.agg.entries = append(tx.agg.entries, entry.Clone())
	return nil
}

func (tx *memoryTx) UpdateEntry(ctx context.Context, entry *model.WaitingEntry) error {
	for i, e := range tx.agg.entries {
		if e.ID == entry.ID {
			tx.agg.entries[i] = entry.Clone()
			return nil
		}
	}
	return admissionerrors.ErrEntryNotFound
}

func (tx *memoryTx) InsertTicket(ctx context.Context, ticket *model.Ticket) error {
	for _, t := range tx.agg.tickets {
		if t.EntryID == ticket.EntryID {
			return admissionerrors.ErrAlreadyCommitted
		}
	}
	tx.agg.tickets = append(tx.agg.tickets, ticket.Clone())
	return nil
}

func (tx *memoryTx) UpdateTicket(ctx context.Context, ticket *model.Ticket) error {
	for i, t := range tx.agg.tickets {
		if t.ID == ticket.ID {
			tx.agg.tickets[i] = ticket.Clone()
			return nil
		}
	}
	return admissionerrors.ErrTicketNotFound
}

func findEntry(agg *aggregate, entryID string) (*model.WaitingEntry, error) {
	if agg != nil {
		for _, e := range agg.entries {
			if e.ID == entryID {
				return e.Clone(), nil
			}
		}
	}
	return nil, admissionerrors.ErrEntryNotFound
}

func findTicket(agg *aggregate, ticketID string) (*model.Ticket, error) {
	if agg != nil {
		for _, t := range agg.tickets {
			if t.ID == ticketID {
				return t.Clone(), nil
			}
		}
	}
	return nil, admissionerrors.ErrTicketNotFound
}

func compareDeadline(a, b *model.WaitingEntry) int {
	switch {
	case a.OfferDeadline == nil || b.OfferDeadline == nil:
		return 0
	case a.OfferDeadline.Before(*b.OfferDeadline):
		return -1
	case b.OfferDeadline.Before(*a.OfferDeadline):
		return 1
	}
	return 0
}
