package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/relaydesk/relaydesk/internal/models"
)

type contextKey string

const IdentityContextKey contextKey = "identity"

// Identity is the caller identity resolved from upstream gateway headers.
// The gateway terminates authentication; this service trusts the headers
// it forwards.
type Identity struct {
	UserID int64
	Role   models.UserRole
}

// RequireIdentity resolves X-User-ID and X-User-Role into the request
// context, rejecting requests that lack them.
func RequireIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rawID := r.Header.Get("X-User-ID")
		rawRole := r.Header.Get("X-User-Role")
		if rawID == "" || rawRole == "" {
			jsonError(w, http.StatusUnauthorized, "missing identity headers")
			return
		}

		userID, err := strconv.ParseInt(rawID, 10, 64)
		if err != nil || userID <= 0 {
			jsonError(w, http.StatusUnauthorized, "invalid user ID")
			return
		}

		role, err := models.ParseUserRole(rawRole)
		if err != nil {
			jsonError(w, http.StatusUnauthorized, "invalid user role")
			return
		}

		ctx := context.WithValue(r.Context(), IdentityContextKey, &Identity{UserID: userID, Role: role})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireStaff rejects callers without an agent or admin role. Must run
// after RequireIdentity.
func RequireStaff(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := IdentityFromContext(r.Context())
		if id == nil || !id.Role.IsStaff() {
			jsonError(w, http.StatusForbidden, "staff role required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// IdentityFromContext retrieves the caller identity from the request context.
func IdentityFromContext(ctx context.Context) *Identity {
	id, ok := ctx.Value(IdentityContextKey).(*Identity)
	if !ok {
		return nil
	}
	return id
}

func jsonError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
