package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gluk-w/hive-server/internal/database"
	"github.com/gluk-w/hive-server/internal/session"
	"github.com/gluk-w/hive-server/internal/sshconn"
)

// API bundles the dependencies the HTTP surface needs.
type API struct {
	Store   *database.Store
	Manager *session.Manager
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

// writeMappedError translates core error kinds to HTTP statuses. Store
// failures stay internal; their detail is not surfaced to clients.
func writeMappedError(w http.ResponseWriter, err error) {
	var sshErr *sshconn.SSHError
	switch {
	case errors.Is(err, session.ErrNotFound):
		writeError(w, http.StatusNotFound, "Not found")
	case errors.Is(err, session.ErrUnauthorized):
		writeError(w, http.StatusForbidden, "Not authorized")
	case errors.Is(err, session.ErrNotActive):
		writeError(w, http.StatusConflict, "Session is not active")
	case errors.Is(err, sshconn.ErrAuthFailed):
		writeError(w, http.StatusBadGateway, "SSH authentication failed")
	case errors.As(err, &sshErr):
		writeError(w, http.StatusBadGateway, sshErr.Error())
	default:
		writeError(w, http.StatusInternalServerError, "Internal error")
	}
}
