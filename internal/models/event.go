package models

// EventTypeSubmessage is the type tag of submessage events.
const EventTypeSubmessage = "submessage"

// SubmessageEvent is pushed to every user who can see the parent message.
type SubmessageEvent struct {
	Type         string `json:"type"`
	MessageID    int64  `json:"message_id"`
	SubmessageID int64  `json:"submessage_id"`
	Content      string `json:"content"`
	MsgType      string `json:"msg_type"`
	SenderID     int64  `json:"sender_id"`
}

// NewSubmessageEvent builds the event announcing sm.
func NewSubmessageEvent(sm *SubMessage) SubmessageEvent {
	return SubmessageEvent{
		Type:         EventTypeSubmessage,
		MessageID:    sm.MessageID,
		SubmessageID: sm.ID,
		Content:      sm.Content,
		MsgType:      sm.MsgType,
		SenderID:     sm.SenderID,
	}
}

// QueuedEvent is the envelope stored in a user's event queue.
type QueuedEvent struct {
	EventID string          `json:"event_id"` // ULID
	Event   SubmessageEvent `json:"event"`
	Users   []int64         `json:"users"`
}
