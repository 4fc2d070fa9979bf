package adaptor

import (
	"errors"
	"net/http"

	"carconnect-api/internal/usecase"
	"carconnect-api/pkg/apperror"
	"carconnect-api/pkg/eventbus"
	"carconnect-api/pkg/paystack"
	"carconnect-api/pkg/utils"

	"go.uber.org/zap"
)

type Handler struct {
	Payment *PaymentHandler
	Webhook *WebhookHandler
	Event   *EventHandler
	Health  *HealthHandler
}

func NewHandler(service *usecase.Service, verifier *paystack.Verifier, bus eventbus.Bus, config *utils.Config, log *zap.Logger) *Handler {
	errs := errorWriter{log: log, showDetails: config.App.IsDevelopment()}

	return &Handler{
		Payment: NewPaymentHandler(service.Payment, errs, log),
		Webhook: NewWebhookHandler(service.Webhook, verifier, errs, log),
		Event:   NewEventHandler(service.Payment, bus, errs, log),
		Health:  NewHealthHandler(config.App.Name),
	}
}

// errorWriter maps service errors to HTTP responses.
type errorWriter struct {
	log         *zap.Logger
	showDetails bool
}

func (e errorWriter) handleServiceError(w http.ResponseWriter, err error, operation string) {
	switch {
	case errors.Is(err, apperror.ErrValidation):
		e.log.Warn(operation+" validation failed", zap.Error(err))
		utils.ResponseBadRequest(w, err.Error(), nil)

	case errors.Is(err, apperror.ErrInvalidState):
		e.log.Warn(operation+" failed - invalid state", zap.Error(err))
		utils.ResponseBadRequest(w, err.Error(), nil)

	case errors.Is(err, apperror.ErrNotFound):
		e.log.Warn(operation+" failed - not found", zap.Error(err))
		utils.ResponseNotFound(w, err.Error())

	case errors.Is(err, apperror.ErrAuthenticity):
		e.log.Warn(operation+" failed - unauthenticated", zap.Error(err))
		utils.ResponseUnauthorized(w, err.Error())

	case errors.Is(err, apperror.ErrGateway):
		e.log.Error(operation+" failed - payment provider", zap.Error(err))
		utils.ResponseError(w, http.StatusInternalServerError, "Payment provider error", e.details(err), nil)

	default:
		e.log.Error(operation+" failed", zap.Error(err))
		utils.ResponseError(w, http.StatusInternalServerError, "Internal server error", e.details(err), nil)
	}
}

func (e errorWriter) details(err error) string {
	if e.showDetails {
		return err.Error()
	}
	return ""
}
