package model

import "time"

type NotificationType string

const (
	NotificationOffered         NotificationType = "offered"
	NotificationExpired         NotificationType = "expired"
	NotificationCommitted       NotificationType = "committed"
	NotificationTicketCancelled NotificationType = "ticket_cancelled"
	NotificationTicketRefunded  NotificationType = "ticket_refunded"
)

const (
	ReasonDeadlinePassed = "deadline_passed"
	ReasonReleased       = "released"
	ReasonEventCancelled = "event_cancelled"
	ReasonRefundRequest  = "refund_requested"
	ReasonOfferLapsed    = "offer_lapsed"
)

// Notification tells a participant their admission state changed.
type Notification struct {
	Type          NotificationType `json:"type"`
	EventID       string           `json:"event_id"`
	ParticipantID string           `json:"participant_id"`
	EntryID       string           `json:"entry_id,omitempty"`
	TicketID      string           `json:"ticket_id,omitempty"`
	OfferDeadline *time.Time       `json:"offer_deadline,omitempty"`
	Reason        string           `json:"reason,omitempty"`
	OccurredAt    time.Time        `json:"occurred_at"`
}

// RefundInstruction asks the payment system to return money for a ticket
// or for a payment that could not be turned into one.
type RefundInstruction struct {
	EventID       string    `json:"event_id"`
	ParticipantID string    `json:"participant_id"`
	TicketID      string    `json:"ticket_id,omitempty"`
	EntryID       string    `json:"entry_id,omitempty"`
	PaymentID     string    `json:"payment_id,omitempty"`
	Reason        string    `json:"reason"`
	RequestedAt   time.Time `json:"requested_at"`
}
