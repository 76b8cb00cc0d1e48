package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Heartbeat refreshes a connection's liveness. Unknown connection IDs get
// a 404 so the client knows to reconnect.
func (h *Handler) Heartbeat(w http.ResponseWriter, r *http.Request) {
	connectionID := chi.URLParam(r, "id")

	if !h.registry.Heartbeat(r.Context(), connectionID) {
		h.Error(w, http.StatusNotFound, "unknown connection")
		return
	}
	h.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Disconnect tears a connection down. Unknown IDs are a no-op.
func (h *Handler) Disconnect(w http.ResponseWriter, r *http.Request) {
	connectionID := chi.URLParam(r, "id")

	removed := h.registry.Disconnect(r.Context(), connectionID)
	h.JSON(w, http.StatusOK, map[string]any{"removed": removed})
}
