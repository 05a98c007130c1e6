package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gluk-w/hive-server/internal/auth"
)

type validateKeyRequest struct {
	APIKey string `json:"api_key"`
}

type validateKeyResponse struct {
	Valid    bool   `json:"valid"`
	UserID   string `json:"user_id,omitempty"`
	Username string `json:"username,omitempty"`
}

// ValidateKey checks an API key and returns the owning user. This is the
// one route that runs without identity middleware: gateways call it to
// resolve a key before stamping X-User-Id on subsequent requests. An
// unknown key is a valid=false response, not an error.
func (a *API) ValidateKey(w http.ResponseWriter, r *http.Request) {
	var req validateKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	key := strings.TrimSpace(req.APIKey)
	if key == "" || !strings.HasPrefix(key, auth.KeyPrefix) {
		writeJSON(w, http.StatusOK, validateKeyResponse{Valid: false})
		return
	}

	_, user, err := a.Store.ValidateAPIKey(key)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Internal error")
		return
	}
	if user == nil {
		writeJSON(w, http.StatusOK, validateKeyResponse{Valid: false})
		return
	}

	writeJSON(w, http.StatusOK, validateKeyResponse{
		Valid:    true,
		UserID:   user.ID,
		Username: user.Username,
	})
}
