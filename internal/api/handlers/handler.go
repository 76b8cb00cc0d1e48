package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"
	"unicode"

	"github.com/rs/zerolog"

	"github.com/relaydesk/relaydesk/internal/broadcast"
	"github.com/relaydesk/relaydesk/internal/chat"
	"github.com/relaydesk/relaydesk/internal/delivery"
	"github.com/relaydesk/relaydesk/internal/registry"
	"github.com/relaydesk/relaydesk/internal/store"
)

const timeFormat = time.RFC3339

// Handler contains shared dependencies for all HTTP handlers.
type Handler struct {
	store       store.DataStore
	sessions    *chat.SessionRouter
	messages    *chat.MessageStore
	registry    *registry.Registry
	broadcaster *broadcast.Broadcaster
	queue       *delivery.Queue
	logger      zerolog.Logger
}

// NewHandler creates a new Handler with the given collaborators.
func NewHandler(st store.DataStore, sessions *chat.SessionRouter, messages *chat.MessageStore, reg *registry.Registry, b *broadcast.Broadcaster, q *delivery.Queue, logger zerolog.Logger) *Handler {
	return &Handler{
		store:       st,
		sessions:    sessions,
		messages:    messages,
		registry:    reg,
		broadcaster: b,
		queue:       q,
		logger:      logger.With().Str("component", "api").Logger(),
	}
}

// JSON sends a JSON response with the given status code.
func (h *Handler) JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// Error sends a JSON error response with the given status code.
func (h *Handler) Error(w http.ResponseWriter, status int, message string) {
	h.JSON(w, status, map[string]string{"error": message})
}

// ServiceError maps a service error onto an HTTP response.
func (h *Handler) ServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, chat.ErrNotFound):
		h.Error(w, http.StatusNotFound, "not found")
	case errors.Is(err, chat.ErrUnauthorized):
		h.Error(w, http.StatusForbidden, "not allowed")
	case errors.Is(err, chat.ErrAlreadyRecalled):
		h.Error(w, http.StatusConflict, "message already recalled")
	case errors.Is(err, chat.ErrRecallExpired):
		h.Error(w, http.StatusConflict, "recall window expired")
	case errors.Is(err, chat.ErrInvalidState):
		h.Error(w, http.StatusConflict, "invalid state")
	default:
		h.logger.Error().Err(err).Msg("internal error")
		h.Error(w, http.StatusInternalServerError, "internal error")
	}
}

// sanitizeContent trims whitespace and strips control characters other
// than newlines and tabs.
func sanitizeContent(s string) string {
	s = strings.TrimSpace(s)
	return strings.Map(func(r rune) rune {
		if unicode.IsControl(r) && r != '\n' && r != '\t' {
			return -1
		}
		return r
	}, s)
}
