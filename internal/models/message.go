package models

import (
	"fmt"
	"time"
)

// MessageStatus tracks delivery progression of a message.
// Updates are last-write-wins; read also flips IsRead.
type MessageStatus string

const (
	MessagePending   MessageStatus = "pending"
	MessageSent      MessageStatus = "sent"
	MessageDelivered MessageStatus = "delivered"
	MessageRead      MessageStatus = "read"
	MessageFailed    MessageStatus = "failed"
)

// ParseMessageStatus maps a storage string to a MessageStatus.
func ParseMessageStatus(s string) (MessageStatus, error) {
	switch MessageStatus(s) {
	case MessagePending, MessageSent, MessageDelivered, MessageRead, MessageFailed:
		return MessageStatus(s), nil
	}
	return "", fmt.Errorf("unknown message status %q", s)
}

// MessageType is the content kind of a message.
type MessageType string

const (
	MessageText  MessageType = "text"
	MessageImage MessageType = "image"
	MessageFile  MessageType = "file"
)

// ParseMessageType maps a storage string to a MessageType, defaulting
// unknown values to text as the original wire protocol does.
func ParseMessageType(s string) MessageType {
	switch MessageType(s) {
	case MessageText, MessageImage, MessageFile:
		return MessageType(s)
	}
	return MessageText
}

// ChatMessage is one message within a session. SequenceNumber is assigned
// at insert and is strictly increasing and gap-free per session.
type ChatMessage struct {
	ID               string        `json:"id"` // ULID
	SessionID        string        `json:"session_id"`
	SequenceNumber   int64         `json:"sequence_number"`
	FromUserID       int64         `json:"from_user_id"`
	ToUserID         *int64        `json:"to_user_id,omitempty"`
	Content          string        `json:"content"`
	MessageType      MessageType   `json:"message_type"`
	Status           MessageStatus `json:"status"`
	IsRead           bool          `json:"is_read"`
	IsRecalled       bool          `json:"is_recalled"`
	IsEdited         bool          `json:"is_edited"`
	EditedAt         *time.Time    `json:"edited_at,omitempty"`
	ReplyToMessageID *string       `json:"reply_to_message_id,omitempty"`
	CreatedAt        time.Time     `json:"created_at"`
	SentAt           *time.Time    `json:"sent_at,omitempty"`
	DeliveredAt      *time.Time    `json:"delivered_at,omitempty"`
	ReadAt           *time.Time    `json:"read_at,omitempty"`
}
