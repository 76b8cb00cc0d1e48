package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/relaydesk/relaydesk/internal/api/middleware"
	"github.com/relaydesk/relaydesk/internal/models"
)

// AgentStatusRequest represents the presence update request body.
type AgentStatusRequest struct {
	Status string `json:"status"`
}

// UpdateAgentStatus sets the calling agent's presence and announces the
// change to other online agents.
func (h *Handler) UpdateAgentStatus(w http.ResponseWriter, r *http.Request) {
	id := middleware.IdentityFromContext(r.Context())

	var req AgentStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	status, err := models.ParseAgentPresence(req.Status)
	if err != nil {
		h.Error(w, http.StatusBadRequest, "invalid status")
		return
	}

	if err := h.store.UpsertAgentStatus(r.Context(), id.UserID, status, time.Now().UTC()); err != nil {
		h.ServiceError(w, err)
		return
	}
	h.broadcaster.PushAgentStatus(r.Context(), id.UserID, status)

	h.JSON(w, http.StatusOK, map[string]string{"status": string(status)})
}

// ListOnlineAgents returns agents currently marked online or away.
func (h *Handler) ListOnlineAgents(w http.ResponseWriter, r *http.Request) {
	agents, err := h.store.ListOnlineAgents(r.Context())
	if err != nil {
		h.ServiceError(w, err)
		return
	}
	h.JSON(w, http.StatusOK, map[string]any{"agents": agents})
}
