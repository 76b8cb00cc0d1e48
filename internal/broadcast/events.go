package broadcast

import (
	"time"

	"github.com/relaydesk/relaydesk/internal/models"
)

// Event names pushed over live connections.
const (
	EventNewMessage             = "new_message"
	EventMessageEdited          = "message_edited"
	EventMessageRecalled        = "message_recalled"
	EventMessageStatus          = "message_status"
	EventSessionListUpdated     = "session_list_updated"
	EventNewPendingSession      = "new_pending_session"
	EventPendingSessionAccepted = "pending_session_accepted"
	EventSessionAcceptedForUser = "session_accepted_for_user"
	EventSessionStatusUpdated   = "session_status_updated"
	EventAgentStatusChanged     = "agent_status_changed"
	EventVIPStatusUpdated       = "vip_status_updated"
)

// NewMessagePayload carries a freshly appended message. IsFromSelf lets a
// sender's other devices render their own outgoing message.
type NewMessagePayload struct {
	Message    models.ChatMessage `json:"message"`
	IsFromSelf bool               `json:"is_from_self"`
}

// MessageEditedPayload announces an in-place content change.
type MessageEditedPayload struct {
	MessageID  string    `json:"message_id"`
	SessionID  string    `json:"session_id"`
	NewContent string    `json:"new_content"`
	EditedAt   time.Time `json:"edited_at"`
}

// MessageRecalledPayload announces a recall.
type MessageRecalledPayload struct {
	MessageID string `json:"message_id"`
	SessionID string `json:"session_id"`
}

// MessageStatusPayload announces a delivery-status change.
type MessageStatusPayload struct {
	MessageID string    `json:"message_id"`
	SessionID string    `json:"session_id"`
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// SessionListUpdatedPayload refreshes an agent's full session list.
type SessionListUpdatedPayload struct {
	Type     string                  `json:"type"`
	Sessions []models.SessionSummary `json:"sessions"`
}

// NewPendingSessionPayload tells agents a customer is waiting.
type NewPendingSessionPayload struct {
	SessionID   string    `json:"session_id"`
	UserID      int64     `json:"user_id"`
	Username    string    `json:"username,omitempty"`
	Email       string    `json:"email,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	LastMessage *string   `json:"last_message,omitempty"`
}

// PendingSessionAcceptedPayload tells agents a pending session is taken.
type PendingSessionAcceptedPayload struct {
	SessionID string `json:"session_id"`
	AgentID   int64  `json:"agent_id"`
}

// SessionAcceptedForUserPayload tells the customer an agent picked up.
type SessionAcceptedForUserPayload struct {
	SessionID string `json:"session_id"`
	AgentID   int64  `json:"agent_id"`
	AgentName string `json:"agent_name,omitempty"`
}

// SessionStatusPayload announces a lifecycle change on a session.
type SessionStatusPayload struct {
	SessionID string `json:"session_id"`
	Status    string `json:"status"`
	UserID    *int64 `json:"user_id,omitempty"`
	AgentID   *int64 `json:"agent_id,omitempty"`
}

// AgentStatusPayload announces an agent presence change.
type AgentStatusPayload struct {
	AgentID int64  `json:"agent_id"`
	Status  string `json:"status"`
}

// VIPStatusPayload relays a VIP standing change from the identity
// collaborator to online agents.
type VIPStatusPayload struct {
	UserID  int64          `json:"user_id"`
	VIPInfo map[string]any `json:"vip_info"`
}
