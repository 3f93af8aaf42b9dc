package models

import "time"

// Stream represents a channel users subscribe to.
type Stream struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	CreatedAt   time.Time `json:"created_at"`
	Subscribers int64     `json:"subscribers"`
}
