package models

import "time"

// Recipient types for a message.
const (
	RecipientStream  = "stream"
	RecipientPrivate = "private"
)

// Message represents a chat message sent to a stream or to a set of users.
type Message struct {
	ID            int64     `json:"id"`
	SenderID      int64     `json:"sender_id"`
	RecipientType string    `json:"type"`                // "stream" or "private"
	StreamID      *int64    `json:"stream_id,omitempty"` // Stream messages only
	Topic         string    `json:"topic,omitempty"`
	Content       string    `json:"content"`
	Participants  []int64   `json:"participants,omitempty"` // Private messages only, sender included
	CreatedAt     time.Time `json:"timestamp"`
}

// IsPrivate reports whether the message was sent privately.
func (m *Message) IsPrivate() bool {
	return m.RecipientType == RecipientPrivate
}
