package model

import "time"

type TicketStatus string

const (
	TicketValid     TicketStatus = "valid"
	TicketUsed      TicketStatus = "used"
	TicketRefunded  TicketStatus = "refunded"
	TicketCancelled TicketStatus = "cancelled"
)

// Consumes reports whether a ticket in this status occupies capacity.
func (s TicketStatus) Consumes() bool {
	return s == TicketValid || s == TicketUsed
}

type Ticket struct {
	ID            string       `json:"ticket_id" bson:"_id"`
	EventID       string       `json:"event_id" bson:"event_id"`
	ParticipantID string       `json:"participant_id" bson:"participant_id"`
	EntryID       string       `json:"entry_id" bson:"entry_id"`
	Status        TicketStatus `json:"status" bson:"status"`
	IssuedAt      time.Time    `json:"issued_at" bson:"issued_at"`
	UpdatedAt     time.Time    `json:"updated_at" bson:"updated_at"`
}

func (t *Ticket) Clone() *Ticket {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
