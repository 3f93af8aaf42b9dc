package models

// SubMessage is an append-only structured payload attached to a message.
// Content is opaque to storage.
type SubMessage struct {
	ID        int64  `json:"id"`
	MessageID int64  `json:"message_id"`
	SenderID  int64  `json:"sender_id"`
	MsgType   string `json:"msg_type"`
	Content   string `json:"content"`
}
