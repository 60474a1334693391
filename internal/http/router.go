// Package httpapi exposes webhooks, the dashboard status read, checkout and
// the staff review actions.
package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/andreasstove999/lead-portal/reconciler-go/internal/middleware"
)

func NewRouter(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.CorrelationID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Recover(h.d.Logger))
	r.Use(middleware.Logging(h.d.Logger))

	r.Get("/health", h.Health)

	r.Route("/webhooks", func(r chi.Router) {
		r.Post("/stripe", h.StripeWebhook)
		r.Method(http.MethodPost, "/parcelow", h.d.ParcelowWebhook)
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/leads/{leadId}/installments/{part}/status", h.InstallmentStatus)
		r.Post("/leads/{leadId}/checkout", h.StartCheckout)

		r.Route("/admin", func(r chi.Router) {
			r.Use(middleware.StaffAuth(h.d.StaffSecret))
			r.Post("/proofs/{proofId}/approve", h.ApproveProof)
			r.Post("/proofs/{proofId}/reject", h.RejectProof)
			r.Post("/payments/{paymentId}/confirm", h.ConfirmPayment)
		})
	})

	return r
}
