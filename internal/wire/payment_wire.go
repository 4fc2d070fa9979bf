package wire

import (
	"carconnect-api/internal/adaptor"
	"carconnect-api/pkg/middleware"
	"carconnect-api/pkg/utils"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

func wirePayment(
	r chi.Router,
	handler *adaptor.Handler,
	config *utils.Config,
	log *zap.Logger,
) {
	// ==================== PUBLIC ROUTES ====================
	r.Route("/api/payments", func(r chi.Router) {
		r.Post("/initialize", handler.Payment.Initialize)
		r.Get("/verify/{reference}", handler.Payment.Verify)
		r.Get("/{reference}", handler.Payment.GetByReference)
		r.Get("/{reference}/events", handler.Event.PaymentEvents)
	})

	// ==================== PROVIDER CALLBACKS ====================
	// Authenticated by signature, not by token
	r.Post("/api/webhooks/paystack", handler.Webhook.Paystack)

	// ==================== ADMIN ROUTES ====================
	r.Route("/api/admin/payments", func(r chi.Router) {
		r.Use(middleware.AdminToken(config.Admin.APIToken, log))

		r.Get("/", handler.Payment.List)
		r.Post("/refund", handler.Payment.Refund)
	})
}
