package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/relaydesk/relaydesk/internal/api/middleware"
	"github.com/relaydesk/relaydesk/internal/metrics"
	"github.com/relaydesk/relaydesk/internal/models"
)

const maxContentLength = 8192

// SendMessageRequest represents the send message request body.
type SendMessageRequest struct {
	Content          string  `json:"content"`
	MessageType      string  `json:"message_type,omitempty"`
	ReplyToMessageID *string `json:"reply_to_message_id,omitempty"`
}

// SendMessage appends a message to a session and pushes it to the
// recipient's live connections, falling back to the delivery queue when
// they are offline.
func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	id := middleware.IdentityFromContext(r.Context())
	sessionID := chi.URLParam(r, "id")

	sess, err := h.sessions.Get(r.Context(), sessionID)
	if err != nil {
		h.ServiceError(w, err)
		return
	}

	var toUserID *int64
	switch {
	case sess.UserID == id.UserID:
		toUserID = sess.AgentID
	case sess.AgentID != nil && *sess.AgentID == id.UserID:
		uid := sess.UserID
		toUserID = &uid
	default:
		h.Error(w, http.StatusForbidden, "not a session participant")
		return
	}

	if sess.Status == models.SessionClosed {
		h.Error(w, http.StatusConflict, "session is closed")
		return
	}

	var req SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	req.Content = sanitizeContent(req.Content)
	if req.Content == "" {
		h.Error(w, http.StatusBadRequest, "content is required")
		return
	}
	if len(req.Content) > maxContentLength {
		h.Error(w, http.StatusUnprocessableEntity, "content too long")
		return
	}

	msgType := models.ParseMessageType(req.MessageType)

	msg, err := h.messages.Append(r.Context(), sessionID, id.UserID, toUserID, req.Content, msgType, req.ReplyToMessageID)
	if err != nil {
		h.ServiceError(w, err)
		return
	}
	metrics.MessagesTotal.WithLabelValues(string(msgType)).Inc()

	delivered := h.broadcaster.PushNewMessage(r.Context(), msg)
	if delivered > 0 {
		if _, err := h.messages.UpdateStatus(r.Context(), msg.ID, models.MessageDelivered); err == nil {
			h.broadcaster.PushMessageStatus(r.Context(), msg, models.MessageDelivered)
		}
	} else if toUserID != nil {
		if err := h.queue.Enqueue(r.Context(), msg); err != nil {
			h.logger.Warn().Err(err).Str("message_id", msg.ID).Msg("enqueue failed")
		}
	}

	h.JSON(w, http.StatusCreated, msg)
}

// ListMessages returns a session's history in sequence order.
func (h *Handler) ListMessages(w http.ResponseWriter, r *http.Request) {
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

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	out, err := h.messages.History(r.Context(), sessionID, limit)
	if err != nil {
		h.ServiceError(w, err)
		return
	}
	h.JSON(w, http.StatusOK, map[string]any{"messages": out})
}

// EditMessageRequest represents the edit request body.
type EditMessageRequest struct {
	Content string `json:"content"`
}

// EditMessage replaces a message's content in place.
func (h *Handler) EditMessage(w http.ResponseWriter, r *http.Request) {
	id := middleware.IdentityFromContext(r.Context())
	messageID := chi.URLParam(r, "id")

	var req EditMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	req.Content = sanitizeContent(req.Content)
	if req.Content == "" {
		h.Error(w, http.StatusBadRequest, "content is required")
		return
	}
	if len(req.Content) > maxContentLength {
		h.Error(w, http.StatusUnprocessableEntity, "content too long")
		return
	}

	msg, err := h.messages.Edit(r.Context(), messageID, id.UserID, req.Content)
	if err != nil {
		h.ServiceError(w, err)
		return
	}
	h.broadcaster.PushMessageEdited(r.Context(), msg)

	h.JSON(w, http.StatusOK, msg)
}

// RecallMessage retracts a recent message.
func (h *Handler) RecallMessage(w http.ResponseWriter, r *http.Request) {
	id := middleware.IdentityFromContext(r.Context())
	messageID := chi.URLParam(r, "id")

	msg, err := h.messages.Recall(r.Context(), messageID, id.UserID)
	if err != nil {
		h.ServiceError(w, err)
		return
	}
	h.broadcaster.PushMessageRecalled(r.Context(), msg)

	h.JSON(w, http.StatusOK, msg)
}

// MessageStatusRequest represents the status receipt request body.
type MessageStatusRequest struct {
	Status string `json:"status"`
}

// UpdateMessageStatus applies a delivered or read receipt from the
// recipient side.
func (h *Handler) UpdateMessageStatus(w http.ResponseWriter, r *http.Request) {
	messageID := chi.URLParam(r, "id")

	var req MessageStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	status, err := models.ParseMessageStatus(req.Status)
	if err != nil || (status != models.MessageDelivered && status != models.MessageRead) {
		h.Error(w, http.StatusBadRequest, "status must be delivered or read")
		return
	}

	msg, err := h.messages.Get(r.Context(), messageID)
	if err != nil {
		h.ServiceError(w, err)
		return
	}

	ok, err := h.messages.UpdateStatus(r.Context(), messageID, status)
	if err != nil {
		h.ServiceError(w, err)
		return
	}
	if ok {
		h.broadcaster.PushMessageStatus(r.Context(), msg, status)
	}

	h.JSON(w, http.StatusOK, map[string]any{"updated": ok})
}

// ListUndelivered returns the caller's undelivered backlog, oldest first,
// for catch-up after reconnect.
func (h *Handler) ListUndelivered(w http.ResponseWriter, r *http.Request) {
	id := middleware.IdentityFromContext(r.Context())

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	out, err := h.messages.Undelivered(r.Context(), id.UserID, limit)
	if err != nil {
		h.ServiceError(w, err)
		return
	}
	h.JSON(w, http.StatusOK, map[string]any{"messages": out})
}
