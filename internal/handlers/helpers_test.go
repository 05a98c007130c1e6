package handlers

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/gluk-w/hive-server/internal/database"
	"github.com/gluk-w/hive-server/internal/middleware"
	"github.com/gluk-w/hive-server/internal/session"
	"github.com/gluk-w/hive-server/internal/sshconn"
)

// echoTransport loops written input back through the output callback.
type echoTransport struct {
	mu       sync.Mutex
	onOutput func([]byte)
	onClose  func(error)
	closed   bool
}

func (e *echoTransport) Send(p []byte) error {
	e.mu.Lock()
	closed := e.closed
	out := e.onOutput
	e.mu.Unlock()
	if closed {
		return &sshconn.SSHError{Op: "write", Err: errors.New("transport closed")}
	}
	out(append([]byte(nil), p...))
	return nil
}

func (e *echoTransport) Resize(cols, rows int) error { return nil }

func (e *echoTransport) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	onClose := e.onClose
	e.mu.Unlock()
	if onClose != nil {
		onClose(nil)
	}
	return nil
}

type testEnv struct {
	store *database.Store
	mgr   *session.Manager
	api   *API
	user  *database.User
	conn  *database.Connection
}

// setupAPI builds an API over an in-memory store with a fake SSH dialer and
// a seeded user and connection.
func setupAPI(t *testing.T) *testEnv {
	t.Helper()

	store, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}
	if err := store.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	dial := func(cfg sshconn.Config) (session.Transport, error) {
		return &echoTransport{onOutput: cfg.OnOutput, onClose: cfg.OnClose}, nil
	}
	mgr := session.NewManager(store, dial)
	t.Cleanup(mgr.CloseAll)

	user, err := store.CreateUser("alice")
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	conn := &database.Connection{UserID: user.ID, Name: "dev", Host: "example.com", Port: 22, Username: "root"}
	if err := store.CreateConnection(conn); err != nil {
		t.Fatalf("create connection: %v", err)
	}

	return &testEnv{
		store: store,
		mgr:   mgr,
		api:   &API{Store: store, Manager: mgr},
		user:  user,
		conn:  conn,
	}
}

// router returns the API routes with the given user pre-injected, bypassing
// header auth.
func (e *testEnv) router(user *database.User) http.Handler {
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, middleware.WithUserForTest(req, user))
		})
	})
	r.Post("/api/v1/auth/validate", e.api.ValidateKey)
	r.Get("/api/v1/connections", e.api.ListConnections)
	r.Post("/api/v1/connections", e.api.CreateConnection)
	r.Put("/api/v1/connections/{id}", e.api.UpdateConnection)
	r.Delete("/api/v1/connections/{id}", e.api.DeleteConnection)
	r.Get("/api/v1/sessions", e.api.ListSessions)
	r.Post("/api/v1/sessions", e.api.CreateSession)
	r.Delete("/api/v1/sessions/{id}", e.api.CloseSession)
	r.Get("/api/v1/sessions/{id}/scrollback", e.api.GetScrollback)
	r.Get("/api/v1/sessions/{id}/scrollback/size", e.api.GetScrollbackSize)
	r.Get("/api/v1/sessions/{id}/terminal", e.api.TerminalWS)
	return r
}

func (e *testEnv) server(t *testing.T, user *database.User) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(e.router(user))
	t.Cleanup(ts.Close)
	return ts
}
