package quotations

import (
	"github.com/go-chi/chi/v5"
)

// MountRoutes registers the quotation endpoints.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/quotations", func(r chi.Router) {
		r.Get("/", h.List)
		r.Post("/", h.Create)
		r.Get("/{id}", h.Get)
		r.Put("/{id}", h.Update)
		r.Get("/{id}/approvals", h.Approvals)
		r.Post("/{id}/submit", h.Submit)
		r.Post("/{id}/approve", h.Approve)
		r.Post("/{id}/reject", h.Reject)
		r.Post("/{id}/send", h.Send)
		r.Post("/{id}/accept", h.Accept)
	})
}
