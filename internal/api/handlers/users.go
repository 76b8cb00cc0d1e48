package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
)

// VIPStatusRequest carries a VIP standing change from the identity system.
type VIPStatusRequest struct {
	VIPInfo map[string]any `json:"vip_info"`
}

// UpdateVIPStatus relays a user's VIP standing change to online agents,
// so open conversations pick up the new priority without a refresh.
func (h *Handler) UpdateVIPStatus(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || userID <= 0 {
		h.Error(w, http.StatusBadRequest, "invalid user ID")
		return
	}

	var req VIPStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	h.broadcaster.PushVIPStatus(r.Context(), userID, req.VIPInfo)
	h.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
