package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strings"
	"testing"

	"github.com/gluk-w/hive-server/internal/auth"
)

func postJSON(t *testing.T, url string, body interface{}) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("post %s: %v", url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestValidateKey(t *testing.T) {
	env := setupAPI(t)
	ts := env.server(t, env.user)

	key, err := auth.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	if _, err := env.store.CreateAPIKey(env.user.ID, "ci", key); err != nil {
		t.Fatalf("create api key: %v", err)
	}

	resp := postJSON(t, ts.URL+"/api/v1/auth/validate", map[string]string{"api_key": key})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var body validateKeyResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !body.Valid || body.UserID != env.user.ID || body.Username != "alice" {
		t.Fatalf("unexpected response: %+v", body)
	}
}

func TestValidateKeyRejectsUnknown(t *testing.T) {
	env := setupAPI(t)
	ts := env.server(t, env.user)

	cases := map[string]string{
		"unknown key":  "hive_" + strings.Repeat("a", 64),
		"wrong prefix": "sk_" + strings.Repeat("a", 64),
		"empty":        "",
	}
	for name, key := range cases {
		t.Run(name, func(t *testing.T) {
			resp := postJSON(t, ts.URL+"/api/v1/auth/validate", map[string]string{"api_key": key})
			if resp.StatusCode != http.StatusOK {
				t.Fatalf("expected 200, got %d", resp.StatusCode)
			}
			var body validateKeyResponse
			if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body.Valid {
				t.Fatal("expected valid=false")
			}
			if body.UserID != "" || body.Username != "" {
				t.Fatalf("invalid key must not leak identity: %+v", body)
			}
		})
	}
}
