package proformas

import (
	"github.com/go-chi/chi/v5"
)

// MountRoutes registers the proforma invoice endpoints.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/proforma-invoices", func(r chi.Router) {
		r.Post("/quotation/{quotationId}", h.CreateFromQuotation)
		r.Get("/quotation/{quotationId}", h.ListByQuotation)
		r.Get("/quotation/{quotationId}/active", h.Active)
		r.Post("/{parentPiId}/revised", h.CreateRevision)
		r.Get("/{id}", h.Get)
		r.Put("/{id}", h.Update)
		r.Get("/{id}/effective-lines", h.EffectiveLines)
		r.Post("/{id}/submit-revised", h.Submit)
		r.Post("/{id}/approve-revised", h.Approve)
		r.Post("/{id}/reject-revised", h.Reject)
	})
}
