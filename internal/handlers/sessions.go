package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/gluk-w/hive-server/internal/middleware"
)

const (
	defaultCols = 80
	defaultRows = 24
)

type createSessionRequest struct {
	ConnectionID string `json:"connection_id"`
	Password     string `json:"password"`
	Cols         int    `json:"cols"`
	Rows         int    `json:"rows"`
}

type sessionResponse struct {
	ID             string `json:"id"`
	ConnectionID   string `json:"connection_id"`
	ConnectionName string `json:"connection_name,omitempty"`
	Status         string `json:"status"`
	CreatedAt      string `json:"created_at"`
	LastActivity   string `json:"last_activity"`
}

// ListSessions returns the caller's sessions, most recently active first.
// Connection names are resolved so clients can label tabs without a second
// round trip; a deleted connection leaves the name empty.
func (a *API) ListSessions(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r)

	sessions, err := a.Store.ListSessionsForUser(user.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Internal error")
		return
	}

	names := make(map[string]string)
	conns, err := a.Store.ListConnectionsForUser(user.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Internal error")
		return
	}
	for i := range conns {
		names[conns[i].ID] = conns[i].Name
	}

	resp := make([]sessionResponse, len(sessions))
	for i, s := range sessions {
		resp[i] = sessionResponse{
			ID:             s.ID,
			ConnectionID:   s.ConnectionID,
			ConnectionName: names[s.ConnectionID],
			Status:         s.Status,
			CreatedAt:      s.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"),
			LastActivity:   s.LastActivity.UTC().Format("2006-01-02T15:04:05Z"),
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"sessions": resp})
}

// CreateSession dials a new SSH session against one of the caller's saved
// connections. The password is used for this dial only and never stored.
func (a *API) CreateSession(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r)

	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.ConnectionID == "" {
		writeError(w, http.StatusBadRequest, "connection_id is required")
		return
	}
	if req.Cols <= 0 {
		req.Cols = defaultCols
	}
	if req.Rows <= 0 {
		req.Rows = defaultRows
	}

	as, rx, err := a.Manager.CreateSession(user.ID, req.ConnectionID, req.Cols, req.Rows, req.Password)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	// The receiver is for callers that attach in-process; the HTTP client
	// attaches over the terminal WebSocket instead.
	rx.Cancel()

	writeJSON(w, http.StatusCreated, map[string]string{
		"id":            as.ID,
		"connection_id": as.ConnectionID,
		"status":        "active",
	})
}

// CloseSession terminates a session. Closing an already-closed session
// succeeds.
func (a *API) CloseSession(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r)
	id := chi.URLParam(r, "id")

	row, err := a.Store.FindSession(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Internal error")
		return
	}
	if row == nil {
		writeError(w, http.StatusNotFound, "Session not found")
		return
	}
	if row.UserID != user.ID {
		writeError(w, http.StatusForbidden, "Not authorized")
		return
	}

	if err := a.Manager.CloseSession(id); err != nil {
		writeError(w, http.StatusInternalServerError, "Internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "closed"})
}

// GetScrollback returns recorded session output as raw bytes. An offset
// query parameter skips the first N bytes; an offset at or past the end
// yields an empty body.
func (a *API) GetScrollback(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r)
	id := chi.URLParam(r, "id")

	var (
		data []byte
		err  error
	)
	if raw := r.URL.Query().Get("offset"); raw != "" {
		offset, parseErr := strconv.Atoi(raw)
		if parseErr != nil || offset < 0 {
			writeError(w, http.StatusBadRequest, "Invalid offset")
			return
		}
		data, err = a.Manager.GetScrollbackFromOffset(id, user.ID, offset)
	} else {
		data, err = a.Manager.GetScrollback(id, user.ID)
	}
	if err != nil {
		writeMappedError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// GetScrollbackSize returns the total number of recorded bytes.
func (a *API) GetScrollbackSize(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r)
	id := chi.URLParam(r, "id")

	size, err := a.Manager.GetScrollbackSize(id, user.ID)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"size": size})
}
