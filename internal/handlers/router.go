package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/gluk-w/hive-server/internal/middleware"
)

// HealthCheck reports liveness.
func (a *API) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// NewRouter assembles the broker's HTTP surface. Key validation is the
// only unauthenticated API route; everything else requires a resolved
// X-User-Id identity.
func (a *API) NewRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)

	r.Get("/health", a.HealthCheck)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/auth/validate", a.ValidateKey)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireUser(a.Store))

			r.Get("/connections", a.ListConnections)
			r.Post("/connections", a.CreateConnection)
			r.Put("/connections/{id}", a.UpdateConnection)
			r.Delete("/connections/{id}", a.DeleteConnection)

			r.Get("/sessions", a.ListSessions)
			r.Post("/sessions", a.CreateSession)
			r.Delete("/sessions/{id}", a.CloseSession)
			r.Get("/sessions/{id}/scrollback", a.GetScrollback)
			r.Get("/sessions/{id}/scrollback/size", a.GetScrollbackSize)
			r.Get("/sessions/{id}/terminal", a.TerminalWS)
		})
	})

	return r
}
