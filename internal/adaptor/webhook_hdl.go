package adaptor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"carconnect-api/internal/dto/request"
	"carconnect-api/internal/dto/response"
	"carconnect-api/internal/usecase"
	"carconnect-api/pkg/apperror"
	"carconnect-api/pkg/paystack"
	"carconnect-api/pkg/utils"

	"github.com/VictoriaMetrics/metrics"
	"go.uber.org/zap"
)

const (
	maxWebhookBody  = 1 << 20
	dispatchTimeout = 15 * time.Second
)

var signatureFailures = metrics.NewCounter(`webhook_signature_failures_total`)

type WebhookHandler struct {
	service  usecase.WebhookService
	verifier *paystack.Verifier
	errorWriter
	log *zap.Logger
}

func NewWebhookHandler(service usecase.WebhookService, verifier *paystack.Verifier, errs errorWriter, log *zap.Logger) *WebhookHandler {
	return &WebhookHandler{
		service:     service,
		verifier:    verifier,
		errorWriter: errs,
		log:         log.With(zap.String("handler", "webhook")),
	}
}

// Paystack handles POST /api/webhooks/paystack. The signature is checked
// over the exact bytes received before anything is decoded. Once it passes
// the provider always gets 200 so it stops retrying events we cannot use.
func (h *WebhookHandler) Paystack(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		err = fmt.Errorf("%w: unreadable body: %v", apperror.ErrAuthenticity, err)
	} else {
		err = h.verifier.Authenticate(body, r.Header.Get(paystack.SignatureHeader))
	}
	if err != nil {
		signatureFailures.Inc()
		h.log.Warn("Webhook rejected",
			zap.Error(err),
			zap.String("ip", r.RemoteAddr),
			zap.Int("bytes", len(body)),
		)
		h.handleServiceError(w, err, "Webhook")
		return
	}

	var event request.WebhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		h.log.Error("Signed webhook body is not valid JSON", zap.Error(err))
		h.ack(w)
		return
	}

	// Processing outlives a provider that hangs up early.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), dispatchTimeout)
	defer cancel()

	if err := h.service.Dispatch(ctx, &event); err != nil {
		fields := []zap.Field{zap.Error(err), zap.String("event", event.Event)}
		switch {
		case errors.Is(err, apperror.ErrNotFound), errors.Is(err, apperror.ErrInvalidState), errors.Is(err, apperror.ErrValidation):
			h.log.Warn("Webhook event not applied", fields...)
		default:
			h.log.Error("Webhook event processing failed", fields...)
		}
	}

	h.ack(w)
}

func (h *WebhookHandler) ack(w http.ResponseWriter) {
	utils.ResponseJSON(w, http.StatusOK, response.WebhookAck{Received: true})
}
