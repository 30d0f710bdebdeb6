package model

import "time"

// AdmissionLock is an advisory lock document serializing writers of one
// event across processes. ID is the event id.
type AdmissionLock struct {
	ID        string    `bson:"_id" json:"id"`
	Owner     string    `bson:"owner" json:"owner"`
	ExpiresAt time.Time `bson:"expires_at" json:"expires_at"`
	CreatedAt time.Time `bson:"created_at" json:"created_at"`
}
