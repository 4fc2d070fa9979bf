package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"carconnect-api/internal/data/entity"
	"carconnect-api/internal/data/repository"
	"carconnect-api/internal/dto/request"
	"carconnect-api/internal/dto/response"
	"carconnect-api/pkg/apperror"
	"carconnect-api/pkg/eventbus"
	"carconnect-api/pkg/paystack"
	"carconnect-api/pkg/utils"

	"github.com/VictoriaMetrics/metrics"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Trigger names used in logs and metrics.
const (
	TriggerVerify        = "verify"
	TriggerAdminRefund   = "admin_refund"
	TriggerChargeSuccess = "charge.success"
	TriggerChargeFailed  = "charge.failed"
	TriggerRefundSuccess = "refund.success"
	TriggerRefundFailed  = "refund.failed"
)

// Paystack accepts only these characters in a reference.
var referencePattern = regexp.MustCompile(`^[A-Za-z0-9.=_-]+$`)

// PaymentGateway is the provider surface the payment flows call.
type PaymentGateway interface {
	Initialize(ctx context.Context, params paystack.InitializeParams) (*paystack.Authorization, error)
	VerifyTransaction(ctx context.Context, reference string) (*paystack.Transaction, error)
	Refund(ctx context.Context, reference string, amountMinor int64, reason string) (*paystack.Refund, error)
}

// PaymentTransitions are the state changes the webhook channel can trigger.
type PaymentTransitions interface {
	MarkCompleted(ctx context.Context, reference string, payload json.RawMessage) (*entity.Payment, error)
	MarkFailed(ctx context.Context, reference string, payload json.RawMessage) (*entity.Payment, error)
	MarkRefunded(ctx context.Context, reference string, refund json.RawMessage) (*entity.Payment, error)
	RecordRefundFailure(ctx context.Context, reference string, payload json.RawMessage) error
}

type PaymentService interface {
	PaymentTransitions

	Initialize(ctx context.Context, req *request.InitializePaymentRequest) (*response.CheckoutResponse, error)
	Verify(ctx context.Context, reference string) (*response.VerifyResult, error)
	GetByReference(ctx context.Context, reference string) (*response.PaymentResponse, error)
	List(ctx context.Context, req *request.ListPaymentsRequest) (*response.PaginatedResponse[response.PaymentResponse], error)

	// Admin endpoints
	Refund(ctx context.Context, req *request.RefundRequest) (*response.PaymentResponse, error)
}

type paymentService struct {
	repo        repository.PaymentRepository
	gateway     PaymentGateway
	bus         eventbus.Bus
	callbackURL string
	log         *zap.Logger
	now         func() time.Time
}

func NewPaymentService(repo repository.PaymentRepository, gateway PaymentGateway, bus eventbus.Bus, config *utils.Config, log *zap.Logger) PaymentService {
	return &paymentService{
		repo:        repo,
		gateway:     gateway,
		bus:         bus,
		callbackURL: config.Paystack.CallbackURL,
		log:         log.With(zap.String("service", "payment")),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

func (s *paymentService) Initialize(ctx context.Context, req *request.InitializePaymentRequest) (*response.CheckoutResponse, error) {
	if errs := utils.ValidateStruct(req); len(errs) > 0 {
		s.log.Warn("Initialize payment validation failed", zap.Any("errors", errs))
		return nil, fmt.Errorf("%w: %s", apperror.ErrValidation, utils.FormatValidationErrors(errs))
	}

	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid user_id %s", apperror.ErrValidation, req.UserID)
	}

	paymentType := entity.PaymentType(req.Type)
	metadata, err := buildMetadata(paymentType, req.Metadata)
	if err != nil {
		return nil, err
	}

	if !req.Amount.IsPositive() {
		return nil, fmt.Errorf("%w: amount must be at least 0.01", apperror.ErrValidation)
	}
	amountMinor, err := utils.ToMinorUnits(req.Amount)
	if err != nil {
		return nil, err
	}

	reference := req.Reference
	if reference == "" {
		reference = utils.GenerateReference()
	} else if !referencePattern.MatchString(reference) {
		return nil, fmt.Errorf("%w: reference may only contain letters, digits, '-', '.', '=' and '_'", apperror.ErrValidation)
	}

	currency := req.Currency
	if currency == "" {
		currency = entity.DefaultCurrency
	}
	method := req.PaymentMethod
	if method == "" {
		method = "card"
	}
	callbackURL := req.CallbackURL
	if callbackURL == "" {
		callbackURL = s.callbackURL
	}

	// Checkout must exist before the row: no pending row without a session.
	gatewayMetadata := map[string]any{
		"user_id":      userID.String(),
		"payment_type": req.Type,
	}
	for k, v := range req.Metadata {
		gatewayMetadata[k] = v
	}

	auth, err := s.gateway.Initialize(ctx, paystack.InitializeParams{
		Email:       req.Email,
		Amount:      amountMinor,
		Currency:    currency,
		Reference:   reference,
		CallbackURL: callbackURL,
		Metadata:    gatewayMetadata,
	})
	if err != nil {
		s.log.Error("Failed to initialize checkout",
			zap.Error(err),
			zap.String("reference", reference),
		)
		return nil, fmt.Errorf("initialize payment %s: %w", reference, err)
	}

	now := s.now()
	payment := &entity.Payment{
		BaseNoDelete: entity.BaseNoDelete{
			ID:        uuid.New(),
			CreatedAt: now,
			UpdatedAt: now,
		},
		Reference:       reference,
		UserID:          userID,
		AmountMinor:     amountMinor,
		Currency:        currency,
		Status:          entity.PaymentStatusPending,
		PaymentMethod:   method,
		Provider:        entity.ProviderPaystack,
		Type:            paymentType,
		Metadata:        metadata,
		GatewayResponse: json.RawMessage(`{}`),
	}

	if err := s.repo.Create(ctx, payment); err != nil {
		return nil, fmt.Errorf("create payment: %w", err)
	}

	s.log.Info("Payment initialized",
		zap.String("reference", reference),
		zap.String("user_id", userID.String()),
		zap.Int64("amount_minor", amountMinor),
		zap.String("type", req.Type),
	)
	s.publish(ctx, payment)

	return &response.CheckoutResponse{
		Payment:          response.PaymentToResponse(payment),
		AuthorizationURL: auth.AuthorizationURL,
		AccessCode:       auth.AccessCode,
	}, nil
}

func (s *paymentService) Verify(ctx context.Context, reference string) (*response.VerifyResult, error) {
	if reference == "" {
		return nil, fmt.Errorf("%w: reference is required", apperror.ErrValidation)
	}

	payment, err := s.repo.FindByReference(ctx, reference)
	if err != nil {
		return nil, fmt.Errorf("verify payment: %w", err)
	}
	if payment == nil {
		return nil, fmt.Errorf("payment %s %w", reference, apperror.ErrNotFound)
	}

	// Only pending payments are reconciled against the provider.
	if payment.Status != entity.PaymentStatusPending {
		return verifyResult(payment, payment.GatewayResponse), nil
	}

	tx, err := s.gateway.VerifyTransaction(ctx, reference)
	if err != nil {
		s.log.Warn("Verify call failed, payment stays pending",
			zap.Error(err),
			zap.String("reference", reference),
		)
		s.recordGatewayError(ctx, payment, err)
		return nil, fmt.Errorf("verify payment %s: %w", reference, err)
	}

	now := s.now()
	t := entity.Transition{
		Reference:       reference,
		From:            entity.PaymentStatusPending,
		To:              entity.PaymentStatusFailed,
		GatewayResponse: tx.Raw,
	}
	if tx.Succeeded() {
		s.auditPaidAmount(TriggerVerify, payment, tx.Amount, tx.Currency)
		t.To = entity.PaymentStatusCompleted
		t.VerifiedAt = &now
	}

	updated, err := s.transition(ctx, TriggerVerify, t)
	if err != nil {
		return nil, err
	}

	return verifyResult(updated, tx.Raw), nil
}

func (s *paymentService) GetByReference(ctx context.Context, reference string) (*response.PaymentResponse, error) {
	payment, err := s.repo.FindByReference(ctx, reference)
	if err != nil {
		return nil, fmt.Errorf("get payment: %w", err)
	}
	if payment == nil {
		return nil, fmt.Errorf("payment %s %w", reference, apperror.ErrNotFound)
	}

	resp := response.PaymentToResponse(payment)
	return &resp, nil
}

func (s *paymentService) List(ctx context.Context, req *request.ListPaymentsRequest) (*response.PaginatedResponse[response.PaymentResponse], error) {
	if errs := utils.ValidateStruct(req); len(errs) > 0 {
		return nil, fmt.Errorf("%w: %s", apperror.ErrValidation, utils.FormatValidationErrors(errs))
	}

	var status *entity.PaymentStatus
	if req.Status != "" {
		st := entity.PaymentStatus(req.Status)
		status = &st
	}

	payments, err := s.repo.List(ctx, status, req.Limit(), req.Offset())
	if err != nil {
		return nil, fmt.Errorf("list payments: %w", err)
	}

	total, err := s.repo.Count(ctx, status)
	if err != nil {
		return nil, fmt.Errorf("count payments: %w", err)
	}

	data := make([]response.PaymentResponse, 0, len(payments))
	for _, p := range payments {
		data = append(data, response.PaymentToResponse(p))
	}

	return response.NewPaginatedResponse(data, req.Page, req.Limit(), total), nil
}

func (s *paymentService) Refund(ctx context.Context, req *request.RefundRequest) (*response.PaymentResponse, error) {
	if errs := utils.ValidateStruct(req); len(errs) > 0 {
		s.log.Warn("Refund validation failed", zap.Any("errors", errs))
		return nil, fmt.Errorf("%w: %s", apperror.ErrValidation, utils.FormatValidationErrors(errs))
	}

	payment, err := s.repo.FindByReference(ctx, req.Reference)
	if err != nil {
		return nil, fmt.Errorf("refund payment: %w", err)
	}
	if payment == nil {
		return nil, fmt.Errorf("payment %s %w", req.Reference, apperror.ErrNotFound)
	}

	// Guard before any gateway call so a rejected refund costs nothing upstream.
	if payment.Status != entity.PaymentStatusCompleted {
		return nil, fmt.Errorf("%w: payment %s is %s, only completed payments can be refunded",
			apperror.ErrInvalidState, payment.Reference, payment.Status)
	}

	// Only the request holding the claim may call the provider.
	claimed, err := s.repo.ClaimRefund(ctx, payment.Reference)
	if err != nil {
		return nil, fmt.Errorf("refund payment: %w", err)
	}
	if claimed == nil {
		return nil, s.refundConflict(ctx, payment.Reference)
	}

	refund, err := s.gateway.Refund(ctx, claimed.Reference, claimed.AmountMinor, req.Reason)
	if err != nil {
		s.log.Error("Gateway refund failed",
			zap.Error(err),
			zap.String("reference", claimed.Reference),
		)
		s.recordGatewayError(ctx, claimed, err)
		s.releaseRefundClaim(ctx, claimed.Reference, err)
		return nil, fmt.Errorf("refund payment %s: %w", claimed.Reference, err)
	}

	now := s.now()
	record, err := json.Marshal(map[string]any{
		"id":           refund.ID,
		"status":       refund.Status,
		"amount":       payment.AmountMinor,
		"currency":     payment.Currency,
		"reason":       req.Reason,
		"requested_at": now,
		"data":         refund.Raw,
	})
	if err != nil {
		return nil, fmt.Errorf("encode refund record: %w", err)
	}

	updated, err := s.transition(ctx, TriggerAdminRefund, entity.Transition{
		Reference:    payment.Reference,
		From:         entity.PaymentStatusCompleted,
		To:           entity.PaymentStatusRefunded,
		RefundRecord: record,
		RefundedAt:   &now,
	})
	if err != nil {
		// The claim stays: the provider holds the refund and refund.success
		// settles the row.
		s.log.Error("Refund accepted by provider but not stored",
			zap.Error(err),
			zap.String("reference", payment.Reference),
			zap.Int64("refund_id", refund.ID),
		)
		return nil, err
	}

	resp := response.PaymentToResponse(updated)
	return &resp, nil
}

func (s *paymentService) MarkCompleted(ctx context.Context, reference string, payload json.RawMessage) (*entity.Payment, error) {
	now := s.now()
	updated, err := s.transition(ctx, TriggerChargeSuccess, entity.Transition{
		Reference:       reference,
		From:            entity.PaymentStatusPending,
		To:              entity.PaymentStatusCompleted,
		GatewayResponse: payload,
		VerifiedAt:      &now,
	})
	if err != nil {
		return nil, err
	}

	var charge struct {
		Amount   int64  `json:"amount"`
		Currency string `json:"currency"`
	}
	if err := json.Unmarshal(payload, &charge); err == nil {
		s.auditPaidAmount(TriggerChargeSuccess, updated, charge.Amount, charge.Currency)
	}
	return updated, nil
}

func (s *paymentService) MarkFailed(ctx context.Context, reference string, payload json.RawMessage) (*entity.Payment, error) {
	return s.transition(ctx, TriggerChargeFailed, entity.Transition{
		Reference:       reference,
		From:            entity.PaymentStatusPending,
		To:              entity.PaymentStatusFailed,
		GatewayResponse: payload,
	})
}

func (s *paymentService) MarkRefunded(ctx context.Context, reference string, refund json.RawMessage) (*entity.Payment, error) {
	now := s.now()
	return s.transition(ctx, TriggerRefundSuccess, entity.Transition{
		Reference:    reference,
		From:         entity.PaymentStatusCompleted,
		To:           entity.PaymentStatusRefunded,
		RefundRecord: refund,
		RefundedAt:   &now,
	})
}

// RecordRefundFailure never changes status; a failed refund leaves the
// payment completed.
func (s *paymentService) RecordRefundFailure(ctx context.Context, reference string, payload json.RawMessage) error {
	payment, err := s.repo.FindByReference(ctx, reference)
	if err != nil {
		return fmt.Errorf("record refund failure: %w", err)
	}
	if payment == nil {
		return fmt.Errorf("payment %s %w", reference, apperror.ErrNotFound)
	}

	if err := s.repo.ReleaseRefundClaim(ctx, reference); err != nil {
		return fmt.Errorf("record refund failure: %w", err)
	}

	metrics.GetOrCreateCounter(`payment_refund_failures_total`).Inc()
	s.log.Warn("Refund failed at provider, payment status unchanged",
		zap.String("reference", reference),
		zap.String("status", string(payment.Status)),
		zap.ByteString("payload", payload),
	)
	return nil
}

// transition applies t with the idempotence rule: a payment already at (or
// past) t.To is returned untouched, any other state than t.From is rejected.
func (s *paymentService) transition(ctx context.Context, trigger string, t entity.Transition) (*entity.Payment, error) {
	if t.Reference == "" {
		return nil, fmt.Errorf("%w: reference is required", apperror.ErrValidation)
	}

	current, err := s.repo.FindByReference(ctx, t.Reference)
	if err != nil {
		return nil, fmt.Errorf("%s: load payment: %w", trigger, err)
	}
	if current == nil {
		return nil, fmt.Errorf("payment %s %w", t.Reference, apperror.ErrNotFound)
	}

	if current.Status.Reached(t.To) {
		s.log.Info("Duplicate transition ignored",
			zap.String("trigger", trigger),
			zap.String("reference", t.Reference),
			zap.String("status", string(current.Status)),
		)
		s.countTransition(trigger, current.Status, current.Status, "noop")
		return current, nil
	}
	if current.Status != t.From {
		return nil, invalidTransition(current, t)
	}

	updated, err := s.repo.ApplyTransition(ctx, t)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", trigger, err)
	}

	if updated == nil {
		// Another channel moved the row between our read and write.
		latest, err := s.repo.FindByReference(ctx, t.Reference)
		if err != nil {
			return nil, fmt.Errorf("%s: reload payment: %w", trigger, err)
		}
		if latest == nil {
			return nil, fmt.Errorf("payment %s %w", t.Reference, apperror.ErrNotFound)
		}
		if latest.Status.Reached(t.To) {
			s.countTransition(trigger, latest.Status, latest.Status, "noop")
			return latest, nil
		}
		return nil, invalidTransition(latest, t)
	}

	s.log.Info("Payment status changed",
		zap.String("trigger", trigger),
		zap.String("reference", t.Reference),
		zap.String("from", string(t.From)),
		zap.String("to", string(updated.Status)),
	)
	s.countTransition(trigger, t.From, updated.Status, "applied")
	s.publish(ctx, updated)

	return updated, nil
}

// auditPaidAmount warns when the provider reports a different charge than
// the one stored. The payment is still settled; reconciliation is manual.
func (s *paymentService) auditPaidAmount(trigger string, p *entity.Payment, paidMinor int64, currency string) {
	amountDiffers := paidMinor > 0 && paidMinor != p.AmountMinor
	currencyDiffers := currency != "" && !strings.EqualFold(currency, p.Currency)
	if !amountDiffers && !currencyDiffers {
		return
	}

	metrics.GetOrCreateCounter(`payment_amount_mismatch_total`).Inc()
	s.log.Warn("Paid amount differs from payment amount",
		zap.String("trigger", trigger),
		zap.String("reference", p.Reference),
		zap.Int64("expected_minor", p.AmountMinor),
		zap.Int64("paid_minor", paidMinor),
		zap.String("expected_currency", p.Currency),
		zap.String("paid_currency", currency),
	)
}

// refundConflict explains why a refund claim was not granted.
func (s *paymentService) refundConflict(ctx context.Context, reference string) error {
	latest, err := s.repo.FindByReference(ctx, reference)
	if err != nil {
		return fmt.Errorf("refund payment: reload: %w", err)
	}
	if latest == nil {
		return fmt.Errorf("payment %s %w", reference, apperror.ErrNotFound)
	}
	if latest.Status != entity.PaymentStatusCompleted {
		return fmt.Errorf("%w: payment %s is %s, only completed payments can be refunded",
			apperror.ErrInvalidState, reference, latest.Status)
	}
	return fmt.Errorf("%w: payment %s already has a refund in progress", apperror.ErrInvalidState, reference)
}

// releaseRefundClaim frees the claim after the provider refused the refund.
// An unreachable provider may still have accepted it, so that claim stays
// until a refund webhook resolves it.
func (s *paymentService) releaseRefundClaim(ctx context.Context, reference string, gwErr error) {
	if !errors.Is(gwErr, paystack.ErrGatewayRejected) {
		s.log.Warn("Refund outcome unknown, keeping refund claim", zap.String("reference", reference))
		return
	}
	if err := s.repo.ReleaseRefundClaim(ctx, reference); err != nil {
		s.log.Warn("Failed to release refund claim", zap.Error(err), zap.String("reference", reference))
	}
}

func invalidTransition(p *entity.Payment, t entity.Transition) error {
	return fmt.Errorf("%w: payment %s is %s, cannot move to %s",
		apperror.ErrInvalidState, p.Reference, p.Status, t.To)
}

// publish never fails the caller; the stored row stays the source of truth.
func (s *paymentService) publish(ctx context.Context, p *entity.Payment) {
	if s.bus == nil {
		return
	}

	payload, err := json.Marshal(response.PaymentToResponse(p).Redacted())
	if err != nil {
		s.log.Warn("Failed to encode payment event", zap.Error(err))
		return
	}

	topic := eventbus.PaymentTopic(string(p.Status))
	err = s.bus.Publish(ctx, topic, eventbus.Event{
		EntityID: p.Reference,
		Status:   string(p.Status),
		Payload:  payload,
	})
	if err != nil {
		s.log.Warn("Failed to publish payment event",
			zap.Error(err),
			zap.String("topic", topic),
			zap.String("reference", p.Reference),
		)
	}
}

// recordGatewayError keeps a rejected provider body for audit without
// changing status.
func (s *paymentService) recordGatewayError(ctx context.Context, p *entity.Payment, gwErr error) {
	var ge *paystack.GatewayError
	if !errors.As(gwErr, &ge) || len(ge.Body) == 0 {
		return
	}

	record, err := json.Marshal(map[string]any{
		"op":          ge.Op,
		"status_code": ge.StatusCode,
		"body":        string(ge.Body),
		"at":          s.now(),
	})
	if err != nil {
		return
	}

	if err := s.repo.RecordGatewayError(ctx, p.Reference, p.Status, record); err != nil {
		s.log.Warn("Failed to store gateway error", zap.Error(err), zap.String("reference", p.Reference))
	}
}

func (s *paymentService) countTransition(trigger string, from, to entity.PaymentStatus, result string) {
	metrics.GetOrCreateCounter(fmt.Sprintf(`payment_transitions_total{trigger=%q,from=%q,to=%q,result=%q}`,
		trigger, from, to, result)).Inc()
}

func verifyResult(p *entity.Payment, providerData json.RawMessage) *response.VerifyResult {
	return &response.VerifyResult{
		Payment:      response.PaymentToResponse(p),
		Succeeded:    p.Status.Reached(entity.PaymentStatusCompleted),
		ProviderData: providerData,
	}
}

// buildMetadata validates the purchase context for paymentType and stamps
// the metadata version.
func buildMetadata(paymentType entity.PaymentType, md map[string]any) (json.RawMessage, error) {
	out := make(map[string]any, len(md)+1)
	for k, v := range md {
		out[k] = v
	}

	switch paymentType {
	case entity.PaymentTypeListingFee, entity.PaymentTypeFeaturedUpgrade:
		carID, _ := md["car_id"].(string)
		if _, err := uuid.Parse(carID); err != nil {
			return nil, fmt.Errorf("%w: metadata.car_id must be a UUID for %s payments", apperror.ErrValidation, paymentType)
		}
	case entity.PaymentTypeSubscription:
		if plan, _ := md["plan"].(string); plan == "" {
			return nil, fmt.Errorf("%w: metadata.plan is required for subscription payments", apperror.ErrValidation)
		}
	case entity.PaymentTypeServices:
		if service, _ := md["service"].(string); service == "" {
			return nil, fmt.Errorf("%w: metadata.service is required for services payments", apperror.ErrValidation)
		}
	default:
		return nil, fmt.Errorf("%w: unknown payment type %s", apperror.ErrValidation, paymentType)
	}

	out["version"] = entity.MetadataVersion
	raw, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("%w: metadata is not valid JSON: %v", apperror.ErrValidation, err)
	}
	return raw, nil
}
