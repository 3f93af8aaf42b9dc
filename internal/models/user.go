package models

import "time"

// User represents a registered chat user.
type User struct {
	ID         int64     `json:"id"`
	Email      string    `json:"email"`
	FullName   string    `json:"full_name,omitempty"`
	APIKeyHash string    `json:"-"` // bcrypt hash of the API key
	CreatedAt  time.Time `json:"created_at"`
}
