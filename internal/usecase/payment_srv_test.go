package usecase_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"carconnect-api/internal/data/entity"
	"carconnect-api/internal/dto/request"
	"carconnect-api/internal/testutil"
	"carconnect-api/internal/usecase"
	"carconnect-api/pkg/apperror"
	"carconnect-api/pkg/eventbus"
	"carconnect-api/pkg/paystack"
	"carconnect-api/pkg/utils"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type fixture struct {
	repo    *testutil.MemoryPaymentRepo
	gateway *testutil.StubGateway
	bus     *eventbus.MemoryBus
	events  []eventbus.Event
	svc     usecase.PaymentService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		repo:    testutil.NewMemoryPaymentRepo(),
		gateway: &testutil.StubGateway{VerifyStatus: "success", VerifyAmount: 5000},
		bus:     eventbus.NewMemoryBus(),
	}
	for _, status := range []string{"pending", "completed", "failed", "refunded"} {
		f.bus.Subscribe(eventbus.PaymentTopic(status), func(e eventbus.Event) {
			f.events = append(f.events, e)
		})
	}

	cfg := &utils.Config{Paystack: utils.PaystackConfig{CallbackURL: "https://carconnect.example/payments/callback"}}
	f.svc = usecase.NewPaymentService(f.repo, f.gateway, f.bus, cfg, zap.NewNop())
	return f
}

func TestVerify_SuccessCompletesPendingPayment(t *testing.T) {
	f := newFixture(t)
	f.repo.Seed(testutil.NewPayment("R1", entity.PaymentStatusPending, 5000))

	result, err := f.svc.Verify(context.Background(), "R1")
	require.NoError(t, err)

	assert.True(t, result.Succeeded)
	assert.Equal(t, entity.PaymentStatusCompleted, result.Payment.Status)
	assert.NotEmpty(t, result.ProviderData)

	stored := f.repo.Get("R1")
	assert.Equal(t, entity.PaymentStatusCompleted, stored.Status)
	assert.NotNil(t, stored.VerifiedAt)
	assert.JSONEq(t, `"success"`, string(testutil.GatewayResponseKey(t, stored, "status")))

	require.Len(t, f.events, 1)
	assert.Equal(t, "payment_completed", f.events[0].Topic)
	assert.Equal(t, "R1", f.events[0].EntityID)
}

func TestVerify_NonSuccessFailsPendingPayment(t *testing.T) {
	f := newFixture(t)
	f.gateway.VerifyStatus = "abandoned"
	f.repo.Seed(testutil.NewPayment("R1", entity.PaymentStatusPending, 5000))

	result, err := f.svc.Verify(context.Background(), "R1")
	require.NoError(t, err)

	assert.False(t, result.Succeeded)
	stored := f.repo.Get("R1")
	assert.Equal(t, entity.PaymentStatusFailed, stored.Status)
	assert.Nil(t, stored.VerifiedAt)
	assert.JSONEq(t, `"abandoned"`, string(testutil.GatewayResponseKey(t, stored, "status")))
}

func TestVerify_UnknownReferenceIsNotFoundWithoutWrites(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Verify(context.Background(), "missing")

	assert.ErrorIs(t, err, apperror.ErrNotFound)
	assert.Zero(t, f.repo.Writes())
	assert.Empty(t, f.gateway.VerifyCalls)
}

func TestVerify_GatewayFailureLeavesPaymentPending(t *testing.T) {
	f := newFixture(t)
	f.gateway.VerifyErr = &paystack.GatewayError{
		Op:   "verify",
		Kind: paystack.ErrGatewayUnavailable,
		Err:  context.DeadlineExceeded,
	}
	f.repo.Seed(testutil.NewPayment("R1", entity.PaymentStatusPending, 5000))

	_, err := f.svc.Verify(context.Background(), "R1")

	assert.ErrorIs(t, err, apperror.ErrGateway)
	assert.ErrorIs(t, err, paystack.ErrGatewayUnavailable)
	assert.Equal(t, entity.PaymentStatusPending, f.repo.Get("R1").Status)
	assert.Zero(t, f.repo.Writes())
}

func TestVerify_GatewayRejectionIsKeptForAudit(t *testing.T) {
	f := newFixture(t)
	f.gateway.VerifyErr = &paystack.GatewayError{
		Op:         "verify",
		Kind:       paystack.ErrGatewayRejected,
		StatusCode: 400,
		Body:       []byte(`{"status":false,"message":"Transaction reference not found"}`),
	}
	f.repo.Seed(testutil.NewPayment("R1", entity.PaymentStatusPending, 5000))

	_, err := f.svc.Verify(context.Background(), "R1")

	assert.ErrorIs(t, err, paystack.ErrGatewayRejected)
	stored := f.repo.Get("R1")
	assert.Equal(t, entity.PaymentStatusPending, stored.Status)
	assert.Contains(t, string(testutil.GatewayResponseKey(t, stored, "last_error")), "Transaction reference not found")
}

func TestVerify_SettledPaymentSkipsGateway(t *testing.T) {
	tests := []struct {
		status    entity.PaymentStatus
		succeeded bool
	}{
		{entity.PaymentStatusCompleted, true},
		{entity.PaymentStatusRefunded, true},
		{entity.PaymentStatusFailed, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			f := newFixture(t)
			f.repo.Seed(testutil.NewPayment("R1", tt.status, 5000))

			result, err := f.svc.Verify(context.Background(), "R1")
			require.NoError(t, err)

			assert.Equal(t, tt.succeeded, result.Succeeded)
			assert.Equal(t, tt.status, result.Payment.Status)
			assert.Empty(t, f.gateway.VerifyCalls)
			assert.Zero(t, f.repo.Writes())
		})
	}
}

func TestVerify_WebhookWinsRace(t *testing.T) {
	f := newFixture(t)
	f.repo.Seed(testutil.NewPayment("R1", entity.PaymentStatusPending, 5000))
	f.repo.BeforeApply = func(ref string) {
		f.repo.SetStatus(ref, entity.PaymentStatusCompleted)
	}

	result, err := f.svc.Verify(context.Background(), "R1")
	require.NoError(t, err)

	assert.True(t, result.Succeeded)
	assert.Equal(t, entity.PaymentStatusCompleted, f.repo.Get("R1").Status)
	assert.Empty(t, f.events)
}

func TestRefund_CompletedPaymentInMinorUnits(t *testing.T) {
	f := newFixture(t)
	f.repo.Seed(testutil.NewPayment("R1", entity.PaymentStatusCompleted, 5000))

	resp, err := f.svc.Refund(context.Background(), &request.RefundRequest{Reference: "R1", Reason: "customer request"})
	require.NoError(t, err)

	require.Len(t, f.gateway.RefundCalls, 1)
	assert.Equal(t, testutil.RefundCall{Reference: "R1", AmountMinor: 5000, Reason: "customer request"}, f.gateway.RefundCalls[0])

	assert.Equal(t, entity.PaymentStatusRefunded, resp.Status)
	assert.True(t, decimal.NewFromInt(50).Equal(resp.Amount), resp.Amount.String())
	assert.NotNil(t, resp.RefundedAt)

	var refund map[string]any
	require.NoError(t, json.Unmarshal(testutil.GatewayResponseKey(t, f.repo.Get("R1"), "refund"), &refund))
	assert.Equal(t, "customer request", refund["reason"])
	assert.EqualValues(t, 5000, refund["amount"])
}

func TestRefund_RejectsNonCompletedWithoutCallingGateway(t *testing.T) {
	for _, status := range []entity.PaymentStatus{
		entity.PaymentStatusPending,
		entity.PaymentStatusFailed,
		entity.PaymentStatusRefunded,
	} {
		t.Run(string(status), func(t *testing.T) {
			f := newFixture(t)
			f.repo.Seed(testutil.NewPayment("R1", status, 5000))

			_, err := f.svc.Refund(context.Background(), &request.RefundRequest{Reference: "R1"})

			assert.ErrorIs(t, err, apperror.ErrInvalidState)
			assert.Zero(t, f.gateway.RefundCount())
			assert.Equal(t, status, f.repo.Get("R1").Status)
		})
	}
}

func TestRefund_Validation(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Refund(context.Background(), &request.RefundRequest{})
	assert.ErrorIs(t, err, apperror.ErrValidation)

	_, err = f.svc.Refund(context.Background(), &request.RefundRequest{Reference: "missing"})
	assert.ErrorIs(t, err, apperror.ErrNotFound)
	assert.Zero(t, f.gateway.RefundCount())
}

func TestRefund_GatewayErrorKeepsPaymentCompleted(t *testing.T) {
	f := newFixture(t)
	f.gateway.RefundErr = &paystack.GatewayError{
		Op:         "refund",
		Kind:       paystack.ErrGatewayRejected,
		StatusCode: 400,
		Body:       []byte(`{"status":false,"message":"Transaction has been fully reversed"}`),
	}
	f.repo.Seed(testutil.NewPayment("R1", entity.PaymentStatusCompleted, 5000))

	_, err := f.svc.Refund(context.Background(), &request.RefundRequest{Reference: "R1"})

	assert.ErrorIs(t, err, apperror.ErrGateway)
	stored := f.repo.Get("R1")
	assert.Equal(t, entity.PaymentStatusCompleted, stored.Status)
	assert.Nil(t, testutil.GatewayResponseKey(t, stored, "refund"))
	assert.NotNil(t, testutil.GatewayResponseKey(t, stored, "last_error"))
	assert.Nil(t, stored.RefundRequestedAt)
}

func TestRefund_ConcurrentRequestsRefundOnce(t *testing.T) {
	f := newFixture(t)
	f.gateway.RefundDelay = 50 * time.Millisecond
	f.repo.Seed(testutil.NewPayment("R9", entity.PaymentStatusCompleted, 5000))

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.Refund(context.Background(), &request.RefundRequest{Reference: "R9"})
		}(i)
	}
	wg.Wait()

	var failed []error
	for _, err := range errs {
		if err != nil {
			failed = append(failed, err)
		}
	}
	require.Len(t, failed, 1)
	assert.ErrorIs(t, failed[0], apperror.ErrInvalidState)
	assert.Equal(t, 1, f.gateway.RefundCount())
	assert.Equal(t, entity.PaymentStatusRefunded, f.repo.Get("R9").Status)
}

func TestRefund_RejectedRefundCanBeRetried(t *testing.T) {
	f := newFixture(t)
	f.gateway.RefundErr = &paystack.GatewayError{Op: "refund", Kind: paystack.ErrGatewayRejected, StatusCode: 400}
	f.repo.Seed(testutil.NewPayment("R1", entity.PaymentStatusCompleted, 5000))

	_, err := f.svc.Refund(context.Background(), &request.RefundRequest{Reference: "R1"})
	require.ErrorIs(t, err, paystack.ErrGatewayRejected)

	f.gateway.RefundErr = nil
	resp, err := f.svc.Refund(context.Background(), &request.RefundRequest{Reference: "R1"})
	require.NoError(t, err)

	assert.Equal(t, entity.PaymentStatusRefunded, resp.Status)
	assert.Equal(t, 2, f.gateway.RefundCount())
}

func TestRefund_UnknownOutcomeHoldsClaimUntilRefundFails(t *testing.T) {
	f := newFixture(t)
	f.gateway.RefundErr = &paystack.GatewayError{Op: "refund", Kind: paystack.ErrGatewayUnavailable}
	f.repo.Seed(testutil.NewPayment("R1", entity.PaymentStatusCompleted, 5000))

	_, err := f.svc.Refund(context.Background(), &request.RefundRequest{Reference: "R1"})
	require.ErrorIs(t, err, paystack.ErrGatewayUnavailable)
	assert.NotNil(t, f.repo.Get("R1").RefundRequestedAt)

	f.gateway.RefundErr = nil
	_, err = f.svc.Refund(context.Background(), &request.RefundRequest{Reference: "R1"})
	assert.ErrorIs(t, err, apperror.ErrInvalidState)
	assert.Equal(t, 1, f.gateway.RefundCount())

	require.NoError(t, f.svc.RecordRefundFailure(context.Background(), "R1", json.RawMessage(`{"transaction":"R1","status":"failed"}`)))
	assert.Nil(t, f.repo.Get("R1").RefundRequestedAt)

	_, err = f.svc.Refund(context.Background(), &request.RefundRequest{Reference: "R1"})
	require.NoError(t, err)
	assert.Equal(t, 2, f.gateway.RefundCount())
}

func TestRefund_StoreFailureAfterProviderAcceptsBlocksRetry(t *testing.T) {
	f := newFixture(t)
	f.repo.Seed(testutil.NewPayment("R1", entity.PaymentStatusCompleted, 5000))
	f.repo.ApplyErr = errors.New("connection reset")

	_, err := f.svc.Refund(context.Background(), &request.RefundRequest{Reference: "R1"})
	require.Error(t, err)

	f.repo.ApplyErr = nil
	_, err = f.svc.Refund(context.Background(), &request.RefundRequest{Reference: "R1"})
	assert.ErrorIs(t, err, apperror.ErrInvalidState)
	assert.Equal(t, 1, f.gateway.RefundCount())

	p, err := f.svc.MarkRefunded(context.Background(), "R1", json.RawMessage(`{"transaction":"R1","status":"processed"}`))
	require.NoError(t, err)
	assert.Equal(t, entity.PaymentStatusRefunded, p.Status)
}

func TestMarkCompleted_IsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.repo.Seed(testutil.NewPayment("R1", entity.PaymentStatusPending, 5000))
	payload := json.RawMessage(`{"reference":"R1","amount":5000}`)

	first, err := f.svc.MarkCompleted(context.Background(), "R1", payload)
	require.NoError(t, err)
	second, err := f.svc.MarkCompleted(context.Background(), "R1", payload)
	require.NoError(t, err)

	assert.Equal(t, entity.PaymentStatusCompleted, first.Status)
	assert.Equal(t, entity.PaymentStatusCompleted, second.Status)
	assert.Equal(t, first.VerifiedAt, second.VerifiedAt)
	assert.Equal(t, 1, f.repo.Writes())
	assert.Len(t, f.events, 1)
}

func TestMarkCompleted_WarnsOnChargeMismatch(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		warned  bool
	}{
		{"matching charge", `{"reference":"R1","amount":5000,"currency":"GHS"}`, false},
		{"lower amount", `{"reference":"R1","amount":100,"currency":"GHS"}`, true},
		{"other currency", `{"reference":"R1","amount":5000,"currency":"NGN"}`, true},
		{"no amount reported", `{"reference":"R1"}`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			core, logs := observer.New(zapcore.WarnLevel)
			repo := testutil.NewMemoryPaymentRepo()
			repo.Seed(testutil.NewPayment("R1", entity.PaymentStatusPending, 5000))
			svc := usecase.NewPaymentService(repo, &testutil.StubGateway{}, nil, &utils.Config{}, zap.New(core))

			p, err := svc.MarkCompleted(context.Background(), "R1", json.RawMessage(tt.payload))
			require.NoError(t, err)

			assert.Equal(t, entity.PaymentStatusCompleted, p.Status)
			warnings := logs.FilterMessage("Paid amount differs from payment amount")
			if tt.warned {
				require.Equal(t, 1, warnings.Len())
				assert.Equal(t, "charge.success", warnings.All()[0].ContextMap()["trigger"])
			} else {
				assert.Zero(t, warnings.Len())
			}
		})
	}
}

func TestVerify_WarnsOnAmountMismatch(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	repo := testutil.NewMemoryPaymentRepo()
	repo.Seed(testutil.NewPayment("R1", entity.PaymentStatusPending, 5000))
	gateway := &testutil.StubGateway{VerifyStatus: "success", VerifyAmount: 4000}
	svc := usecase.NewPaymentService(repo, gateway, nil, &utils.Config{}, zap.New(core))

	result, err := svc.Verify(context.Background(), "R1")
	require.NoError(t, err)

	assert.True(t, result.Succeeded)
	assert.Equal(t, 1, logs.FilterMessage("Paid amount differs from payment amount").Len())
}

func TestMarkCompleted_OnRefundedIsNoop(t *testing.T) {
	f := newFixture(t)
	f.repo.Seed(testutil.NewPayment("R1", entity.PaymentStatusRefunded, 5000))

	p, err := f.svc.MarkCompleted(context.Background(), "R1", json.RawMessage(`{"reference":"R1"}`))
	require.NoError(t, err)

	assert.Equal(t, entity.PaymentStatusRefunded, p.Status)
	assert.Zero(t, f.repo.Writes())
}

func TestMarkCompleted_OnFailedIsInvalidState(t *testing.T) {
	f := newFixture(t)
	f.repo.Seed(testutil.NewPayment("R1", entity.PaymentStatusFailed, 5000))

	_, err := f.svc.MarkCompleted(context.Background(), "R1", json.RawMessage(`{"reference":"R1"}`))

	assert.ErrorIs(t, err, apperror.ErrInvalidState)
	assert.Equal(t, entity.PaymentStatusFailed, f.repo.Get("R1").Status)
}

func TestMarkRefunded_RedeliveryLeavesRefundRecordUnchanged(t *testing.T) {
	f := newFixture(t)
	f.repo.Seed(testutil.NewPayment("R1", entity.PaymentStatusCompleted, 5000))

	_, err := f.svc.MarkRefunded(context.Background(), "R1", json.RawMessage(`{"transaction":"R1","status":"processed","id":1}`))
	require.NoError(t, err)
	before := f.repo.Get("R1")

	_, err = f.svc.MarkRefunded(context.Background(), "R1", json.RawMessage(`{"transaction":"R1","status":"processed","id":2}`))
	require.NoError(t, err)
	after := f.repo.Get("R1")

	assert.Equal(t, entity.PaymentStatusRefunded, after.Status)
	assert.JSONEq(t,
		string(testutil.GatewayResponseKey(t, before, "refund")),
		string(testutil.GatewayResponseKey(t, after, "refund")))
	assert.Equal(t, before.RefundedAt, after.RefundedAt)
}

func TestRecordRefundFailure_DoesNotChangeStatus(t *testing.T) {
	f := newFixture(t)
	f.repo.Seed(testutil.NewPayment("R2", entity.PaymentStatusCompleted, 5000))

	err := f.svc.RecordRefundFailure(context.Background(), "R2", json.RawMessage(`{"transaction":"R2"}`))
	require.NoError(t, err)

	assert.Equal(t, entity.PaymentStatusCompleted, f.repo.Get("R2").Status)
	assert.Zero(t, f.repo.Writes())
	assert.Empty(t, f.events)

	err = f.svc.RecordRefundFailure(context.Background(), "missing", nil)
	assert.ErrorIs(t, err, apperror.ErrNotFound)
}

func validInitializeRequest() *request.InitializePaymentRequest {
	return &request.InitializePaymentRequest{
		UserID: "0b1f8a4e-2d3c-4b5a-9e8f-7a6b5c4d3e2f",
		Email:  "buyer@example.com",
		Amount: decimal.RequireFromString("50.00"),
		Type:   "listing_fee",
		Metadata: map[string]any{
			"car_id": "8d2b6c1e-4c1a-4f55-9a4e-0f3f5b0f6d11",
		},
	}
}

func TestInitialize_CreatesPendingPayment(t *testing.T) {
	f := newFixture(t)

	checkout, err := f.svc.Initialize(context.Background(), validInitializeRequest())
	require.NoError(t, err)

	require.Len(t, f.gateway.InitCalls, 1)
	call := f.gateway.InitCalls[0]
	assert.Equal(t, int64(5000), call.Amount)
	assert.Equal(t, "GHS", call.Currency)
	assert.Equal(t, "https://carconnect.example/payments/callback", call.CallbackURL)
	assert.Equal(t, "listing_fee", call.Metadata["payment_type"])

	assert.Equal(t, entity.PaymentStatusPending, checkout.Payment.Status)
	assert.Equal(t, call.Reference, checkout.Payment.Reference)
	assert.NotEmpty(t, checkout.AuthorizationURL)

	stored := f.repo.Get(checkout.Payment.Reference)
	require.NotNil(t, stored)
	assert.Equal(t, int64(5000), stored.AmountMinor)

	var md map[string]any
	require.NoError(t, json.Unmarshal(stored.Metadata, &md))
	assert.EqualValues(t, 1, md["version"])
	assert.Equal(t, "8d2b6c1e-4c1a-4f55-9a4e-0f3f5b0f6d11", md["car_id"])
}

func TestInitialize_Validation(t *testing.T) {
	tests := []struct {
		name   string
		modify func(r *request.InitializePaymentRequest)
	}{
		{"missing email", func(r *request.InitializePaymentRequest) { r.Email = "" }},
		{"missing amount", func(r *request.InitializePaymentRequest) { r.Amount = decimal.Zero }},
		{"negative amount", func(r *request.InitializePaymentRequest) { r.Amount = decimal.NewFromInt(-5) }},
		{"sub-pesewa amount", func(r *request.InitializePaymentRequest) { r.Amount = decimal.RequireFromString("0.001") }},
		{"half pesewa", func(r *request.InitializePaymentRequest) { r.Amount = decimal.RequireFromString("1.005") }},
		{"three decimal places", func(r *request.InitializePaymentRequest) { r.Amount = decimal.RequireFromString("10.999") }},
		{"one and a half pesewas", func(r *request.InitializePaymentRequest) { r.Amount = decimal.RequireFromString("0.015") }},
		{"bad user id", func(r *request.InitializePaymentRequest) { r.UserID = "user-1" }},
		{"unknown type", func(r *request.InitializePaymentRequest) { r.Type = "donation" }},
		{"listing fee without car", func(r *request.InitializePaymentRequest) { r.Metadata = nil }},
		{"subscription without plan", func(r *request.InitializePaymentRequest) { r.Type = "subscription" }},
		{"services without service", func(r *request.InitializePaymentRequest) { r.Type = "services" }},
		{"reference with slash", func(r *request.InitializePaymentRequest) { r.Reference = "abc/def/ghi" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			req := validInitializeRequest()
			tt.modify(req)

			_, err := f.svc.Initialize(context.Background(), req)

			assert.ErrorIs(t, err, apperror.ErrValidation)
			assert.Empty(t, f.gateway.InitCalls)
			assert.Zero(t, f.repo.Writes())
		})
	}
}

func TestInitialize_GatewayFailureWritesNothing(t *testing.T) {
	f := newFixture(t)
	f.gateway.InitErr = &paystack.GatewayError{Op: "initialize", Kind: paystack.ErrGatewayUnavailable}

	_, err := f.svc.Initialize(context.Background(), validInitializeRequest())

	assert.ErrorIs(t, err, apperror.ErrGateway)
	assert.Zero(t, f.repo.Writes())
}

func TestList_FiltersAndPaginates(t *testing.T) {
	f := newFixture(t)
	f.repo.Seed(testutil.NewPayment("R1", entity.PaymentStatusCompleted, 5000))
	f.repo.Seed(testutil.NewPayment("R2", entity.PaymentStatusCompleted, 7000))
	f.repo.Seed(testutil.NewPayment("R3", entity.PaymentStatusPending, 1000))

	page, err := f.svc.List(context.Background(), &request.ListPaymentsRequest{
		PaginatedRequest: request.PaginatedRequest{Page: 1, PerPage: 1},
		Status:           "completed",
	})
	require.NoError(t, err)

	assert.Len(t, page.Data, 1)
	assert.Equal(t, int64(2), page.Pagination.Total)
	assert.Equal(t, 2, page.Pagination.TotalPages)

	_, err = f.svc.List(context.Background(), &request.ListPaymentsRequest{
		PaginatedRequest: request.PaginatedRequest{Page: 1, PerPage: 10},
		Status:           "settled",
	})
	assert.ErrorIs(t, err, apperror.ErrValidation)
}
