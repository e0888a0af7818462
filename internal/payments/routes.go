package payments

import (
	"github.com/go-chi/chi/v5"
)

// MountRoutes registers the payment ledger endpoints.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/payments", func(r chi.Router) {
		r.Post("/", h.Record)
		r.Get("/{id}", h.Get)
		r.Put("/{id}/approval", h.UpdateApproval)
		r.Get("/quotation/{quotationId}", h.ListByQuotation)
		r.Get("/summary/quotation/{quotationId}", h.Summary)
		r.Get("/credit/{customerId}", h.CreditAccount)
		r.Post("/credit/{customerId}/adjust", h.AdjustCredit)
		r.Post("/{id}/refund", h.NotImplemented)
		r.Post("/credit/{customerId}/transfer", h.NotImplemented)
	})
}
