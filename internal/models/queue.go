package models

import (
	"fmt"
	"time"
)

// QueueStatus is the state of an outbox entry.
// failed after exhausting retries is terminal.
type QueueStatus string

const (
	QueuePending    QueueStatus = "pending"
	QueueProcessing QueueStatus = "processing"
	QueueCompleted  QueueStatus = "completed"
	QueueFailed     QueueStatus = "failed"
)

// ParseQueueStatus maps a storage string to a QueueStatus.
func ParseQueueStatus(s string) (QueueStatus, error) {
	switch QueueStatus(s) {
	case QueuePending, QueueProcessing, QueueCompleted, QueueFailed:
		return QueueStatus(s), nil
	}
	return "", fmt.Errorf("unknown queue status %q", s)
}

// QueueEntry is a durable record of a message awaiting confirmed delivery.
// Invariant: RetryCount <= MaxRetries.
type QueueEntry struct {
	ID           string      `json:"id"` // UUID
	MessageID    string      `json:"message_id"`
	SessionID    string      `json:"session_id"`
	FromUserID   int64       `json:"from_user_id"`
	ToUserID     *int64      `json:"to_user_id,omitempty"`
	RetryCount   int         `json:"retry_count"`
	MaxRetries   int         `json:"max_retries"`
	Status       QueueStatus `json:"status"`
	ErrorMessage string      `json:"error_message,omitempty"`
	NextRetryAt  *time.Time  `json:"next_retry_at,omitempty"`
	CreatedAt    time.Time   `json:"created_at"`
}
