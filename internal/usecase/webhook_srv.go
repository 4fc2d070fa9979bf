package usecase

import (
	"context"
	"encoding/json"
	"fmt"

	"carconnect-api/internal/dto/request"
	"carconnect-api/pkg/apperror"

	"github.com/VictoriaMetrics/metrics"
	"go.uber.org/zap"
)

const (
	EventChargeSuccess = "charge.success"
	EventChargeFailed  = "charge.failed"
	EventRefundSuccess = "refund.success"
	EventRefundFailed  = "refund.failed"
)

type WebhookService interface {
	// Dispatch routes a verified event. Unknown event names return nil.
	Dispatch(ctx context.Context, event *request.WebhookEvent) error
}

type webhookService struct {
	payments PaymentTransitions
	log      *zap.Logger
}

func NewWebhookService(payments PaymentTransitions, log *zap.Logger) WebhookService {
	return &webhookService{
		payments: payments,
		log:      log.With(zap.String("service", "webhook")),
	}
}

func (s *webhookService) Dispatch(ctx context.Context, event *request.WebhookEvent) error {
	var err error

	switch event.Event {
	case EventChargeSuccess:
		err = s.withReference(event, chargeReference, func(ref string) error {
			_, err := s.payments.MarkCompleted(ctx, ref, event.Data)
			return err
		})
	case EventChargeFailed:
		err = s.withReference(event, chargeReference, func(ref string) error {
			_, err := s.payments.MarkFailed(ctx, ref, event.Data)
			return err
		})
	case EventRefundSuccess:
		err = s.withReference(event, refundReference, func(ref string) error {
			_, err := s.payments.MarkRefunded(ctx, ref, event.Data)
			return err
		})
	case EventRefundFailed:
		err = s.withReference(event, refundReference, func(ref string) error {
			return s.payments.RecordRefundFailure(ctx, ref, event.Data)
		})
	default:
		s.log.Info("Unhandled webhook event", zap.String("event", event.Event))
		countWebhook("unknown", "ignored")
		return nil
	}

	if err != nil {
		countWebhook(event.Event, "error")
		return fmt.Errorf("dispatch %s: %w", event.Event, err)
	}

	countWebhook(event.Event, "ok")
	return nil
}

func (s *webhookService) withReference(event *request.WebhookEvent, extract func(json.RawMessage) string, apply func(string) error) error {
	ref := extract(event.Data)
	if ref == "" {
		return fmt.Errorf("%w: %s event carries no transaction reference", apperror.ErrValidation, event.Event)
	}
	return apply(ref)
}

// chargeReference reads data.reference.
func chargeReference(data json.RawMessage) string {
	var body struct {
		Reference string `json:"reference"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		return ""
	}
	return body.Reference
}

// refundReference reads data.transaction_reference, then data.transaction
// as a string, then data.transaction.reference.
func refundReference(data json.RawMessage) string {
	var body struct {
		TransactionReference string          `json:"transaction_reference"`
		Transaction          json.RawMessage `json:"transaction"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		return ""
	}
	if body.TransactionReference != "" {
		return body.TransactionReference
	}
	if len(body.Transaction) == 0 {
		return ""
	}

	var ref string
	if err := json.Unmarshal(body.Transaction, &ref); err == nil {
		return ref
	}

	var tx struct {
		Reference string `json:"reference"`
	}
	if err := json.Unmarshal(body.Transaction, &tx); err == nil {
		return tx.Reference
	}
	return ""
}

func countWebhook(event, result string) {
	metrics.GetOrCreateCounter(fmt.Sprintf(`webhook_events_total{event=%q,result=%q}`, event, result)).Inc()
}
