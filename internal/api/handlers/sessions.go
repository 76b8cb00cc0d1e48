package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/relaydesk/relaydesk/internal/api/middleware"
	"github.com/relaydesk/relaydesk/internal/models"
)

// CreateSessionRequest represents the create session request body.
type CreateSessionRequest struct {
	SessionID string `json:"session_id"`
}

// SessionResponse represents a session in API responses.
type SessionResponse struct {
	SessionID string `json:"session_id"`
	UserID    int64  `json:"user_id"`
	AgentID   *int64 `json:"agent_id,omitempty"`
	Status    string `json:"status"`
	CreatedAt string `json:"created_at"`
}

func sessionResponse(sess *models.ChatSession) SessionResponse {
	return SessionResponse{
		SessionID: sess.SessionID,
		UserID:    sess.UserID,
		AgentID:   sess.AgentID,
		Status:    string(sess.Status),
		CreatedAt: sess.CreatedAt.Format(timeFormat),
	}
}

// CreateSession opens a pending session for the calling user and
// announces it to online agents.
func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	id := middleware.IdentityFromContext(r.Context())
	if id == nil {
		h.Error(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var req CreateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.SessionID == "" || len(req.SessionID) > 64 {
		h.Error(w, http.StatusBadRequest, "session_id is required (max 64 chars)")
		return
	}

	created, err := h.sessions.CreatePending(r.Context(), req.SessionID, id.UserID)
	if err != nil {
		h.ServiceError(w, err)
		return
	}

	sess, err := h.sessions.Get(r.Context(), req.SessionID)
	if err != nil {
		h.ServiceError(w, err)
		return
	}

	if !created {
		// Idempotent re-create of an existing session
		h.JSON(w, http.StatusOK, sessionResponse(sess))
		return
	}

	user, _ := h.store.GetUser(r.Context(), id.UserID)
	h.broadcaster.PushNewPendingSession(r.Context(), sess, user)

	h.JSON(w, http.StatusCreated, sessionResponse(sess))
}

// AssignSession claims a pending session for the calling agent. Exactly
// one of several racing agents wins; the losers get a conflict.
func (h *Handler) AssignSession(w http.ResponseWriter, r *http.Request) {
	id := middleware.IdentityFromContext(r.Context())
	sessionID := chi.URLParam(r, "id")

	won, err := h.sessions.Assign(r.Context(), sessionID, id.UserID)
	if err != nil {
		h.ServiceError(w, err)
		return
	}
	if !won {
		// Distinguish a lost race from a bad session ID
		if _, err := h.sessions.Get(r.Context(), sessionID); err != nil {
			h.ServiceError(w, err)
			return
		}
		h.Error(w, http.StatusConflict, "session is not pending")
		return
	}

	sess, err := h.sessions.Get(r.Context(), sessionID)
	if err != nil {
		h.ServiceError(w, err)
		return
	}

	agentName := ""
	if agent, err := h.store.GetUser(r.Context(), id.UserID); err == nil && agent != nil {
		agentName = agent.Username
	}
	h.broadcaster.PushSessionAssigned(r.Context(), sess, agentName)
	h.pushSessionList(r.Context(), id.UserID)

	h.JSON(w, http.StatusOK, sessionResponse(sess))
}

// CloseSession transitions a pending or active session to closed. Only a
// participant or staff may close it.
func (h *Handler) CloseSession(w http.ResponseWriter, r *http.Request) {
	id := middleware.IdentityFromContext(r.Context())
	sessionID := chi.URLParam(r, "id")

	sess, err := h.sessions.Get(r.Context(), sessionID)
	if err != nil {
		h.ServiceError(w, err)
		return
	}

	participant := sess.UserID == id.UserID ||
		(sess.AgentID != nil && *sess.AgentID == id.UserID)
	if !participant && !id.Role.IsStaff() {
		h.Error(w, http.StatusForbidden, "not a session participant")
		return
	}

	closed, err := h.sessions.Close(r.Context(), sessionID, id.UserID)
	if err != nil {
		h.ServiceError(w, err)
		return
	}
	if !closed {
		h.Error(w, http.StatusConflict, "session already closed")
		return
	}

	sess.Status = models.SessionClosed
	h.broadcaster.PushSessionStatus(r.Context(), sess)
	if sess.AgentID != nil {
		h.pushSessionList(r.Context(), *sess.AgentID)
	}

	h.JSON(w, http.StatusOK, sessionResponse(sess))
}

// GetSession returns one session.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := h.sessions.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.ServiceError(w, err)
		return
	}
	h.JSON(w, http.StatusOK, sessionResponse(sess))
}

// ListPendingSessions returns all waiting sessions oldest first.
func (h *Handler) ListPendingSessions(w http.ResponseWriter, r *http.Request) {
	out, err := h.sessions.ListPending(r.Context())
	if err != nil {
		h.ServiceError(w, err)
		return
	}
	h.JSON(w, http.StatusOK, map[string]any{"sessions": out})
}

// pushSessionList sends an agent their refreshed session list after a
// lifecycle change. Best effort; listing failures only cost the refresh.
func (h *Handler) pushSessionList(ctx context.Context, agentID int64) {
	sessions, err := h.sessions.ListAgentSessions(ctx, agentID, true)
	if err != nil {
		h.logger.Warn().Err(err).Int64("agent_id", agentID).Msg("session list refresh failed")
		return
	}
	h.broadcaster.PushSessionList(ctx, agentID, sessions)
}

// ListMySessions returns the calling agent's sessions; pending sessions
// are included when ?include_pending=true.
func (h *Handler) ListMySessions(w http.ResponseWriter, r *http.Request) {
	id := middleware.IdentityFromContext(r.Context())
	includePending := r.URL.Query().Get("include_pending") == "true"

	out, err := h.sessions.ListAgentSessions(r.Context(), id.UserID, includePending)
	if err != nil {
		h.ServiceError(w, err)
		return
	}
	h.JSON(w, http.StatusOK, map[string]any{"sessions": out})
}
