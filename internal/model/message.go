package model

import (
	"time"

	"github.com/google/uuid"
)

// Message is a single composed message. Recipients are not part of the
// entity; they live in the recipient association.
type Message struct {
	ID        uuid.UUID     `db:"id"`
	Title     *string       `db:"title"`
	Text      *string       `db:"text"`
	CreatedAt time.Time     `db:"created_at"`
	SenderID  uuid.NullUUID `db:"sender_id"`

	// Version is the optimistic concurrency token. Zero means the message
	// has not been persisted yet.
	Version int64 `db:"version"`
}

// NewMessage returns a message with a fresh id.
func NewMessage() *Message {
	return &Message{ID: uuid.New()}
}

// MessageView is a message as shown to a reader, with the sender resolved.
type MessageView struct {
	MessageID         uuid.UUID  `json:"message_id"`
	Title             string     `json:"title"`
	Text              string     `json:"text"`
	CreateDate        time.Time  `json:"create_date"`
	SenderID          *uuid.UUID `json:"sender_id"`
	SenderDisplayName string     `json:"sender_display_name"`
}

// EventType names a push event sent to connected sessions.
type EventType string

const (
	// EventMessage carries a new message id so the client can fetch it.
	EventMessage EventType = "message"
	// EventToast carries the sender's display name.
	EventToast EventType = "toast"
)

// Event is the payload written to websocket and SSE sessions.
type Event struct {
	Type EventType `json:"type"`
	Data string    `json:"data"`
}

// MessageEvents builds the content and toast events for a new message, in
// delivery order.
func MessageEvents(messageID uuid.UUID, senderName string) []Event {
	return []Event{
		{Type: EventMessage, Data: messageID.String()},
		{Type: EventToast, Data: senderName},
	}
}
