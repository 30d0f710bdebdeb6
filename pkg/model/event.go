package model

import "time"

// EventCapacity is the slice of catalog state admission depends on.
type EventCapacity struct {
	ID            string    `json:"event_id" bson:"_id" validate:"required,max=128"`
	TotalCapacity int       `json:"total_capacity" bson:"total_capacity" validate:"gte=0"`
	IsCancelled   bool      `json:"is_cancelled" bson:"is_cancelled"`
	UpdatedAt     time.Time `json:"updated_at" bson:"updated_at"`
}
