package chat

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/relaydesk/relaydesk/internal/models"
	"github.com/relaydesk/relaydesk/internal/store"
)

// SessionRouter drives the session state machine:
// pending --assign--> active --close--> closed, with pending --close-->
// closed for conversations abandoned before pickup. closed is terminal.
type SessionRouter struct {
	store  store.DataStore
	logger zerolog.Logger
	now    func() time.Time
}

// NewSessionRouter creates a session router backed by the given store.
func NewSessionRouter(st store.DataStore, logger zerolog.Logger) *SessionRouter {
	return &SessionRouter{
		store:  st,
		logger: logger.With().Str("component", "sessions").Logger(),
		now:    time.Now,
	}
}

// CreatePending opens a new pending session for a user. Returns false if
// the session_id already exists; an existing session is never overwritten.
func (r *SessionRouter) CreatePending(ctx context.Context, sessionID string, userID int64) (bool, error) {
	created, err := r.store.CreateSession(ctx, sessionID, userID, r.now().UTC())
	if err != nil {
		return false, transient("create session", err)
	}
	if created {
		r.logger.Info().Str("session_id", sessionID).Int64("user_id", userID).Msg("pending session created")
	}
	return created, nil
}

// Assign claims a pending session for an agent. The transition is a single
// conditioned update against the expected pending status, so when two
// agents race for the same session exactly one wins.
func (r *SessionRouter) Assign(ctx context.Context, sessionID string, agentID int64) (bool, error) {
	won, err := r.store.AssignSession(ctx, sessionID, agentID, r.now().UTC())
	if err != nil {
		return false, transient("assign session", err)
	}
	if won {
		r.logger.Info().Str("session_id", sessionID).Int64("agent_id", agentID).Msg("session assigned")
	} else {
		r.logger.Debug().Str("session_id", sessionID).Int64("agent_id", agentID).Msg("assign lost: session not pending")
	}
	return won, nil
}

// Close transitions a pending or active session to closed. Returns false
// when the session is already closed or does not exist.
func (r *SessionRouter) Close(ctx context.Context, sessionID string, closerUserID int64) (bool, error) {
	closed, err := r.store.CloseSession(ctx, sessionID, r.now().UTC())
	if err != nil {
		return false, transient("close session", err)
	}
	if closed {
		r.logger.Info().Str("session_id", sessionID).Int64("closed_by", closerUserID).Msg("session closed")
	}
	return closed, nil
}

// Get returns a session or ErrNotFound.
func (r *SessionRouter) Get(ctx context.Context, sessionID string) (*models.ChatSession, error) {
	sess, err := r.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, transient("get session", err)
	}
	if sess == nil {
		return nil, ErrNotFound
	}
	return sess, nil
}

// ListPending returns all pending sessions oldest first, so agents pick
// up waiting users in arrival order.
func (r *SessionRouter) ListPending(ctx context.Context) ([]models.SessionSummary, error) {
	out, err := r.store.ListPendingSessions(ctx)
	if err != nil {
		return nil, transient("list pending sessions", err)
	}
	return out, nil
}

// ListAgentSessions returns the agent's active sessions, plus all
// unassigned pending sessions when includePending is set.
func (r *SessionRouter) ListAgentSessions(ctx context.Context, agentID int64, includePending bool) ([]models.SessionSummary, error) {
	out, err := r.store.ListAgentSessions(ctx, agentID, includePending)
	if err != nil {
		return nil, transient("list agent sessions", err)
	}
	return out, nil
}
