package store

import (
	"context"
	"time"

	"github.com/relaydesk/relaydesk/internal/models"
)

// DataStore is the persistence boundary for sessions, messages, the
// delivery outbox, connections, and agent presence. SQLiteStore,
// PostgresStore, and MemoryStore implement this interface.
//
// Status transitions with race-sensitive semantics (session assign/close)
// are expressed as conditioned updates: the store applies them atomically
// against the expected current status and reports whether a row changed.
type DataStore interface {
	Close()
	Ping(ctx context.Context) error

	// User profiles (owned by the identity collaborator; mirrored here for
	// session listings and event payloads).
	UpsertUser(ctx context.Context, user *models.User) error
	GetUser(ctx context.Context, id int64) (*models.User, error)

	// Sessions.
	CreateSession(ctx context.Context, sessionID string, userID int64, createdAt time.Time) (bool, error)
	GetSession(ctx context.Context, sessionID string) (*models.ChatSession, error)
	AssignSession(ctx context.Context, sessionID string, agentID int64, startedAt time.Time) (bool, error)
	CloseSession(ctx context.Context, sessionID string, closedAt time.Time) (bool, error)
	ListPendingSessions(ctx context.Context) ([]models.SessionSummary, error)
	ListAgentSessions(ctx context.Context, agentID int64, includePending bool) ([]models.SessionSummary, error)

	// Messages. InsertMessage assigns SequenceNumber = max(session)+1 as a
	// single transactional read-modify-write and fills it in on msg.
	InsertMessage(ctx context.Context, msg *models.ChatMessage) error
	GetMessage(ctx context.Context, id string) (*models.ChatMessage, error)
	ListSessionMessages(ctx context.Context, sessionID string, limit int) ([]models.ChatMessage, error)
	ListUndeliveredMessages(ctx context.Context, userID int64, limit int) ([]models.ChatMessage, error)
	MarkMessageRecalled(ctx context.Context, id string) error
	UpdateMessageContent(ctx context.Context, id, content string, editedAt time.Time) error
	UpdateMessageStatus(ctx context.Context, id string, status models.MessageStatus, at time.Time) (bool, error)

	// Delivery outbox.
	EnqueueEntry(ctx context.Context, entry *models.QueueEntry) error
	DequeuePending(ctx context.Context, limit int, now time.Time) ([]models.QueueEntry, error)
	UpdateQueueEntry(ctx context.Context, id string, status models.QueueStatus, errorMessage string, retryCount int, nextRetryAt *time.Time) error

	// Connections.
	CreateConnection(ctx context.Context, conn *models.Connection) error
	TouchConnection(ctx context.Context, connectionID string, at time.Time) error
	DisconnectConnection(ctx context.Context, connectionID string, at time.Time) (bool, error)
	CleanupStaleConnections(ctx context.Context, olderThan time.Time, at time.Time) (int64, error)

	// Agent presence.
	UpsertAgentStatus(ctx context.Context, agentID int64, status models.AgentPresence, at time.Time) error
	ListOnlineAgents(ctx context.Context) ([]models.Agent, error)
}
