package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/gluk-w/hive-server/internal/database"
	"github.com/gluk-w/hive-server/internal/middleware"
)

type connectionRequest struct {
	Name string `json:"name"`
	Host string `json:"host"`
	// Port is a pointer so an omitted port (defaults to 22) is
	// distinguishable from an explicit, invalid 0.
	Port           *int    `json:"port"`
	Username       string  `json:"username"`
	SSHKeyID       *string `json:"ssh_key_id"`
	StartupCommand *string `json:"startup_command"`
}

type connectionResponse struct {
	ID             string  `json:"id"`
	Name           string  `json:"name"`
	Host           string  `json:"host"`
	Port           int     `json:"port"`
	Username       string  `json:"username"`
	SSHKeyID       *string `json:"ssh_key_id,omitempty"`
	StartupCommand *string `json:"startup_command,omitempty"`
	CreatedAt      string  `json:"created_at"`
}

func toConnectionResponse(c *database.Connection) connectionResponse {
	return connectionResponse{
		ID:             c.ID,
		Name:           c.Name,
		Host:           c.Host,
		Port:           c.Port,
		Username:       c.Username,
		SSHKeyID:       c.SSHKeyID,
		StartupCommand: c.StartupCommand,
		CreatedAt:      c.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"),
	}
}

func (req *connectionRequest) validate() string {
	if strings.TrimSpace(req.Name) == "" {
		return "Name is required"
	}
	if strings.TrimSpace(req.Host) == "" {
		return "Host is required"
	}
	if strings.TrimSpace(req.Username) == "" {
		return "Username is required"
	}
	if req.Port != nil && (*req.Port < 1 || *req.Port > 65535) {
		return "Port must be between 1 and 65535"
	}
	return ""
}

func (req *connectionRequest) port() int {
	if req.Port == nil {
		return 22
	}
	return *req.Port
}

// ListConnections returns the caller's saved connections.
func (a *API) ListConnections(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r)

	conns, err := a.Store.ListConnectionsForUser(user.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Internal error")
		return
	}

	resp := make([]connectionResponse, len(conns))
	for i := range conns {
		resp[i] = toConnectionResponse(&conns[i])
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"connections": resp})
}

// CreateConnection saves a new connection profile for the caller. Port 0
// defaults to 22. No credentials are stored; passwords arrive per session.
func (a *API) CreateConnection(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r)

	var req connectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if detail := req.validate(); detail != "" {
		writeError(w, http.StatusBadRequest, detail)
		return
	}

	conn := &database.Connection{
		UserID:         user.ID,
		Name:           strings.TrimSpace(req.Name),
		Host:           strings.TrimSpace(req.Host),
		Port:           req.port(),
		Username:       strings.TrimSpace(req.Username),
		SSHKeyID:       req.SSHKeyID,
		StartupCommand: req.StartupCommand,
	}
	if err := a.Store.CreateConnection(conn); err != nil {
		writeError(w, http.StatusInternalServerError, "Internal error")
		return
	}

	writeJSON(w, http.StatusCreated, toConnectionResponse(conn))
}

// UpdateConnection modifies an owned connection profile.
func (a *API) UpdateConnection(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r)
	id := chi.URLParam(r, "id")

	conn, err := a.Store.FindConnection(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Internal error")
		return
	}
	if conn == nil {
		writeError(w, http.StatusNotFound, "Connection not found")
		return
	}
	if conn.UserID != user.ID {
		writeError(w, http.StatusForbidden, "Not authorized")
		return
	}

	var req connectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if detail := req.validate(); detail != "" {
		writeError(w, http.StatusBadRequest, detail)
		return
	}

	conn.Name = strings.TrimSpace(req.Name)
	conn.Host = strings.TrimSpace(req.Host)
	conn.Port = req.port()
	conn.Username = strings.TrimSpace(req.Username)
	conn.SSHKeyID = req.SSHKeyID
	conn.StartupCommand = req.StartupCommand

	if err := a.Store.UpdateConnection(conn); err != nil {
		writeError(w, http.StatusInternalServerError, "Internal error")
		return
	}

	writeJSON(w, http.StatusOK, toConnectionResponse(conn))
}

// DeleteConnection removes an owned connection profile. Existing sessions
// that reference it keep running.
func (a *API) DeleteConnection(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r)
	id := chi.URLParam(r, "id")

	conn, err := a.Store.FindConnection(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Internal error")
		return
	}
	if conn == nil {
		writeError(w, http.StatusNotFound, "Connection not found")
		return
	}
	if conn.UserID != user.ID {
		writeError(w, http.StatusForbidden, "Not authorized")
		return
	}

	if _, err := a.Store.DeleteConnection(id); err != nil {
		writeError(w, http.StatusInternalServerError, "Internal error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}
