package model

import "time"

type EntryState string

const (
	EntryWaiting   EntryState = "waiting"
	EntryOffered   EntryState = "offered"
	EntryCommitted EntryState = "committed"
	EntryExpired   EntryState = "expired"
)

// Live reports whether the state still blocks a participant from joining
// the same event again.
func (s EntryState) Live() bool {
	return s != EntryExpired
}

// Queued reports whether the entry is waiting for or holding an offer.
func (s EntryState) Queued() bool {
	return s == EntryWaiting || s == EntryOffered
}

// WaitingEntry is one participant's place in an event's admission flow.
// Seq is assigned under the event lock and breaks ties on CreatedAt.
type WaitingEntry struct {
	ID            string     `json:"entry_id" bson:"_id"`
	EventID       string     `json:"event_id" bson:"event_id"`
	ParticipantID string     `json:"participant_id" bson:"participant_id"`
	State         EntryState `json:"state" bson:"state"`
	Seq           int64      `json:"-" bson:"seq"`
	CreatedAt     time.Time  `json:"created_at" bson:"created_at"`
	OfferDeadline *time.Time `json:"offer_deadline,omitempty" bson:"offer_deadline,omitempty"`
	UpdatedAt     time.Time  `json:"updated_at" bson:"updated_at"`
}

// HoldsCapacity reports whether the entry counts as an active hold at now.
func (e *WaitingEntry) HoldsCapacity(now time.Time) bool {
	return e.State == EntryOffered && e.OfferDeadline != nil && e.OfferDeadline.After(now)
}

// OfferLapsed reports whether an offered entry has reached its deadline.
func (e *WaitingEntry) OfferLapsed(now time.Time) bool {
	return e.State == EntryOffered && (e.OfferDeadline == nil || !now.Before(*e.OfferDeadline))
}

func (e *WaitingEntry) Clone() *WaitingEntry {
	if e == nil {
		return nil
	}
	c := *e
	if e.OfferDeadline != nil {
		deadline := *e.OfferDeadline
		c.OfferDeadline = &deadline
	}
	return &c
}

// Before orders entries by arrival.
func (e *WaitingEntry) Before(other *WaitingEntry) bool {
	if !e.CreatedAt.Equal(other.CreatedAt) {
		return e.CreatedAt.Before(other.CreatedAt)
	}
	return e.Seq < other.Seq
}
