package middleware

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/google/uuid"

	"github.com/gluk-w/hive-server/internal/database"
)

type contextKey string

const userContextKey contextKey = "user"

// UserIDHeader carries the caller's identity, stamped by the upstream
// gateway after API key validation.
const UserIDHeader = "X-User-Id"

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// RequireUser resolves the X-User-Id header (a UUID string) to a user row
// and stores it on the request context. Missing or invalid identity is
// rejected with 401.
func RequireUser(store *database.Store) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := r.Header.Get(UserIDHeader)
			id, err := uuid.Parse(raw)
			if err != nil {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Missing or invalid user ID"})
				return
			}

			user, err := store.FindUser(id.String())
			if err != nil {
				writeJSON(w, http.StatusInternalServerError, map[string]string{"detail": "Internal error"})
				return
			}
			if user == nil {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Missing or invalid user ID"})
				return
			}

			ctx := context.WithValue(r.Context(), userContextKey, user)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetUser returns the authenticated user from the request context, or nil.
func GetUser(r *http.Request) *database.User {
	user, _ := r.Context().Value(userContextKey).(*database.User)
	return user
}
