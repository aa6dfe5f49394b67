package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter wires every endpoint. With trustProxy the client address is
// taken from proxy headers, which clients can otherwise forge.
func NewRouter(h *Handler, trustProxy bool) http.Handler {
	router := chi.NewRouter()
	if trustProxy {
		router.Use(middleware.RealIP)
	}
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)

	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	router.Route("/auth", func(r chi.Router) {
		r.Post("/register", h.Register)
		r.Post("/login", h.Login)
		r.Group(func(r chi.Router) {
			r.Use(h.Authenticate, h.RequireAuth)
			r.Post("/logout", h.Logout)
			r.Post("/logout-all", h.LogoutAll)
			r.Get("/me", h.Me)
		})
	})

	router.Group(func(r chi.Router) {
		r.Use(h.Authenticate)

		r.With(h.RateLimit).Post("/flash", h.CreateFlash)
		r.Get("/flash", h.ListFlashes)
		r.Post("/sync", h.Sync)

		r.Group(func(r chi.Router) {
			r.Use(h.RequireAuth)
			r.Get("/sync/pull", h.Pull)
			r.Post("/device/link", h.LinkDevice)
			r.Post("/trash/clear", h.ClearTrash)
		})
	})

	return router
}
