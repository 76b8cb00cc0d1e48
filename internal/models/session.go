package models

import (
	"fmt"
	"time"
)

// SessionStatus is the lifecycle state of a support session.
// Transitions: pending -> active -> closed, pending -> closed.
// closed is terminal.
type SessionStatus string

const (
	SessionPending SessionStatus = "pending"
	SessionActive  SessionStatus = "active"
	SessionClosed  SessionStatus = "closed"
)

// ParseSessionStatus maps a storage string to a SessionStatus.
func ParseSessionStatus(s string) (SessionStatus, error) {
	switch SessionStatus(s) {
	case SessionPending, SessionActive, SessionClosed:
		return SessionStatus(s), nil
	}
	return "", fmt.Errorf("unknown session status %q", s)
}

// ChatSession is a support conversation between one end-user and at most
// one agent at a time. AgentID is set iff the session has been assigned.
type ChatSession struct {
	SessionID string        `json:"session_id"`
	UserID    int64         `json:"user_id"`
	AgentID   *int64        `json:"agent_id,omitempty"`
	Status    SessionStatus `json:"status"`
	CreatedAt time.Time     `json:"created_at"`
	StartedAt *time.Time    `json:"started_at,omitempty"`
	ClosedAt  *time.Time    `json:"closed_at,omitempty"`
}

// SessionSummary is a session row enriched with the initiating user's
// profile and last message, as pushed to agents in list updates.
type SessionSummary struct {
	SessionID   string        `json:"session_id"`
	UserID      int64         `json:"user_id"`
	Username    string        `json:"username"`
	Email       string        `json:"email"`
	Status      SessionStatus `json:"status"`
	CreatedAt   time.Time     `json:"created_at"`
	StartedAt   *time.Time    `json:"started_at,omitempty"`
	UnreadCount int           `json:"unread_count"`
	LastMessage *string       `json:"last_message,omitempty"`
}
