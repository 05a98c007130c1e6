package middleware

import (
	"context"
	"net/http"

	"github.com/gluk-w/hive-server/internal/database"
)

// WithUserForTest injects a user into the request context, bypassing RequireUser.
func WithUserForTest(r *http.Request, user *database.User) *http.Request {
	return r.WithContext(context.WithValue(r.Context(), userContextKey, user))
}
