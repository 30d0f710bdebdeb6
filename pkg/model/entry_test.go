package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWaitingEntry_HoldsCapacity(t *testing.T) {
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	future := now.Add(time.Minute)
	past := now.Add(-time.Minute)

	tests := []struct {
		name   string
		entry  WaitingEntry
		holds  bool
		lapsed bool
	}{
		{"offered before deadline", WaitingEntry{State: EntryOffered, OfferDeadline: &future}, true, false},
		{"offered at deadline", WaitingEntry{State: EntryOffered, OfferDeadline: &now}, false, true},
		{"offered past deadline", WaitingEntry{State: EntryOffered, OfferDeadline: &past}, false, true},
		{"waiting", WaitingEntry{State: EntryWaiting}, false, false},
		{"committed", WaitingEntry{State: EntryCommitted, OfferDeadline: &future}, false, false},
		{"expired", WaitingEntry{State: EntryExpired, OfferDeadline: &future}, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.holds, tt.entry.HoldsCapacity(now))
			assert.Equal(t, tt.lapsed, tt.entry.OfferLapsed(now))
		})
	}
}

func TestEntryState_Predicates(t *testing.T) {
	assert.True(t, EntryWaiting.Live())
	assert.True(t, EntryOffered.Live())
	assert.True(t, EntryCommitted.Live())
	assert.False(t, EntryExpired.Live())

	assert.True(t, EntryWaiting.Queued())
	assert.True(t, EntryOffered.Queued())
	assert.False(t, EntryCommitted.Queued())
}

func TestWaitingEntry_Before(t *testing.T) {
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	a := &WaitingEntry{CreatedAt: now, Seq: 1}
	b := &WaitingEntry{CreatedAt: now, Seq: 2}
	c := &WaitingEntry{CreatedAt: now.Add(-time.Second), Seq: 3}

	assert.True(t, a.Before(b))
	assert.False(t, b.Before(a))
	assert.True(t, c.Before(a))
}

func TestWaitingEntry_CloneIsDeep(t *testing.T) {
	deadline := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	original := &WaitingEntry{ID: "e-1", OfferDeadline: &deadline}

	clone := original.Clone()
	*clone.OfferDeadline = deadline.Add(time.Hour)

	assert.Equal(t, deadline, *original.OfferDeadline)
}

func TestTicketStatus_Consumes(t *testing.T) {
	assert.True(t, TicketValid.Consumes())
	assert.True(t, TicketUsed.Consumes())
	assert.False(t, TicketRefunded.Consumes())
	assert.False(t, TicketCancelled.Consumes())
}
