package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter creates a new router with all routes configured
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware (all routes)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(LoggingMiddleware)
	r.Use(RecoveryMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		// Public routes: health probes and sign-in
		r.Get("/health", h.Health)
		r.Get("/health/erp", h.ERPHealth)
		r.Post("/auth/signin", h.SignIn)

		// Protected routes. Without a token secret (dev mode) the group is
		// served openly.
		r.Group(func(r chi.Router) {
			if h.tokens != nil {
				r.Use(AuthMiddleware(h.tokens))
			}

			r.Get("/auth/me", h.Me)

			r.Post("/issues", h.SubmitIssue)
			r.Get("/issues", h.ListIssues)
			r.Get("/issues/{id}", h.GetIssue)
			r.Put("/issues/{id}", h.UpdateIssue)
			r.Delete("/issues/{id}", h.DeleteIssue)
			r.Delete("/issues", h.DeleteAllIssues)

			r.Post("/sync/outbound", h.SyncOutbound)
			r.Post("/sync/inbound", h.SyncInbound)

			r.Get("/metadata/doctypes", h.DocTypes)
			r.Get("/metadata/doctypes/{name}", h.DocTypeSchema)
		})
	})

	return r
}
