package model

type JoinRequest struct {
	EventID       string `json:"event_id" validate:"required,max=128,identifier"`
	ParticipantID string `json:"participant_id" validate:"required,max=128,identifier"`
}

type ReleaseRequest struct {
	EventID       string `json:"event_id" validate:"required,max=128,identifier"`
	EntryID       string `json:"entry_id" validate:"required,uuid"`
	ParticipantID string `json:"participant_id" validate:"required,max=128,identifier"`
}

type CommitRequest struct {
	EntryID       string `json:"entry_id" validate:"required,uuid"`
	ParticipantID string `json:"participant_id" validate:"required,max=128,identifier"`
}

// ParticipantBody is the JSON body accepted by endpoints that act on behalf
// of a participant.
type ParticipantBody struct {
	ParticipantID string `json:"participant_id"`
}

// PaymentSucceeded is the payload of a payment success signal.
type PaymentSucceeded struct {
	PaymentID     string `json:"payment_id" validate:"required,max=128"`
	EntryID       string `json:"entry_id" validate:"required,uuid"`
	ParticipantID string `json:"participant_id" validate:"required,max=128,identifier"`
	EventID       string `json:"event_id,omitempty" validate:"omitempty,max=128,identifier"`
}
