package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gluk-w/hive-server/internal/database"
)

func setupStore(t *testing.T) *database.Store {
	t.Helper()
	store, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}
	if err := store.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestRequireUser(t *testing.T) {
	store := setupStore(t)
	user, err := store.CreateUser("alice")
	if err != nil {
		t.Fatalf("create user: %v", err)
	}

	var seen *database.User
	handler := RequireUser(store)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetUser(r)
		w.WriteHeader(http.StatusOK)
	}))

	cases := []struct {
		name       string
		header     string
		wantStatus int
	}{
		{"missing header", "", http.StatusUnauthorized},
		{"not a uuid", "bogus", http.StatusUnauthorized},
		{"unknown user", "00000000-0000-0000-0000-000000000000", http.StatusUnauthorized},
		{"known user", user.ID, http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			seen = nil
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.header != "" {
				req.Header.Set(UserIDHeader, tc.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != tc.wantStatus {
				t.Fatalf("expected %d, got %d", tc.wantStatus, rec.Code)
			}
			if tc.wantStatus == http.StatusOK {
				if seen == nil || seen.ID != user.ID {
					t.Fatalf("expected user %s on context, got %+v", user.ID, seen)
				}
			} else if seen != nil {
				t.Fatal("handler must not run on rejected request")
			}
		})
	}
}
