// Package testutil provides in-memory collaborators for payment flow tests.
package testutil

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"testing"
	"time"

	"carconnect-api/internal/data/entity"
	"carconnect-api/pkg/paystack"

	"github.com/google/uuid"
)

// MemoryPaymentRepo mirrors the conditional-update semantics of the
// Postgres repository and counts writes.
type MemoryPaymentRepo struct {
	mu       sync.Mutex
	payments map[string]*entity.Payment
	writes   int

	// BeforeApply runs inside ApplyTransition before the status check, which
	// lets a test move the row as a concurrent channel would.
	BeforeApply func(reference string)

	// ApplyErr, when set, fails ApplyTransition without touching the row.
	ApplyErr error
}

func NewMemoryPaymentRepo() *MemoryPaymentRepo {
	return &MemoryPaymentRepo{payments: make(map[string]*entity.Payment)}
}

// Seed stores a payment without counting it as a write.
func (r *MemoryPaymentRepo) Seed(p *entity.Payment) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.payments[p.Reference] = clonePayment(p)
}

// Get returns a copy of the stored row, or nil.
func (r *MemoryPaymentRepo) Get(reference string) *entity.Payment {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.payments[reference]; ok {
		return clonePayment(p)
	}
	return nil
}

// SetStatus forces a status, bypassing the guards.
func (r *MemoryPaymentRepo) SetStatus(reference string, status entity.PaymentStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.payments[reference]; ok {
		p.Status = status
	}
}

func (r *MemoryPaymentRepo) Writes() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.writes
}

func (r *MemoryPaymentRepo) Create(_ context.Context, p *entity.Payment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.payments[p.Reference]; exists {
		return errDuplicate(p.Reference)
	}
	r.writes++
	r.payments[p.Reference] = clonePayment(p)
	return nil
}

func (r *MemoryPaymentRepo) FindByReference(_ context.Context, reference string) (*entity.Payment, error) {
	return r.Get(reference), nil
}

func (r *MemoryPaymentRepo) List(_ context.Context, status *entity.PaymentStatus, limit, offset int) ([]*entity.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var all []*entity.Payment
	for _, p := range r.payments {
		if status == nil || p.Status == *status {
			all = append(all, clonePayment(p))
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })

	if offset >= len(all) {
		return nil, nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], nil
}

func (r *MemoryPaymentRepo) Count(_ context.Context, status *entity.PaymentStatus) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	for _, p := range r.payments {
		if status == nil || p.Status == *status {
			n++
		}
	}
	return n, nil
}

func (r *MemoryPaymentRepo) ApplyTransition(_ context.Context, t entity.Transition) (*entity.Payment, error) {
	if r.BeforeApply != nil {
		r.BeforeApply(t.Reference)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.ApplyErr != nil {
		return nil, r.ApplyErr
	}

	p, ok := r.payments[t.Reference]
	if !ok || p.Status != t.From {
		return nil, nil
	}

	r.writes++
	p.Status = t.To
	if len(t.GatewayResponse) > 0 {
		p.GatewayResponse = append(json.RawMessage(nil), t.GatewayResponse...)
	}
	if len(t.RefundRecord) > 0 {
		p.GatewayResponse = mergeKey(p.GatewayResponse, "refund", t.RefundRecord)
	}
	if t.VerifiedAt != nil {
		p.VerifiedAt = t.VerifiedAt
	}
	if t.RefundedAt != nil {
		p.RefundedAt = t.RefundedAt
	}
	p.UpdatedAt = time.Now().UTC()

	return clonePayment(p), nil
}

func (r *MemoryPaymentRepo) ClaimRefund(_ context.Context, reference string) (*entity.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.payments[reference]
	if !ok || p.Status != entity.PaymentStatusCompleted || p.RefundRequestedAt != nil {
		return nil, nil
	}

	r.writes++
	now := time.Now().UTC()
	p.RefundRequestedAt = &now
	p.UpdatedAt = now
	return clonePayment(p), nil
}

func (r *MemoryPaymentRepo) ReleaseRefundClaim(_ context.Context, reference string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.payments[reference]
	if !ok || p.Status != entity.PaymentStatusCompleted || p.RefundRequestedAt == nil {
		return nil
	}

	r.writes++
	p.RefundRequestedAt = nil
	return nil
}

func (r *MemoryPaymentRepo) RecordGatewayError(_ context.Context, reference string, status entity.PaymentStatus, body json.RawMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.payments[reference]
	if !ok || p.Status != status {
		return nil
	}
	r.writes++
	p.GatewayResponse = mergeKey(p.GatewayResponse, "last_error", body)
	return nil
}

func mergeKey(doc json.RawMessage, key string, value json.RawMessage) json.RawMessage {
	m := map[string]json.RawMessage{}
	if len(doc) > 0 {
		_ = json.Unmarshal(doc, &m)
	}
	m[key] = value
	out, _ := json.Marshal(m)
	return out
}

func clonePayment(p *entity.Payment) *entity.Payment {
	c := *p
	c.Metadata = append(json.RawMessage(nil), p.Metadata...)
	c.GatewayResponse = append(json.RawMessage(nil), p.GatewayResponse...)
	return &c
}

type duplicateError string

func (e duplicateError) Error() string { return "payment reference " + string(e) + " already exists" }

func errDuplicate(ref string) error { return duplicateError(ref) }

// NewPayment builds a payment row in the given status.
func NewPayment(reference string, status entity.PaymentStatus, amountMinor int64) *entity.Payment {
	now := time.Now().UTC().Add(-time.Minute)
	return &entity.Payment{
		BaseNoDelete: entity.BaseNoDelete{
			ID:        uuid.New(),
			CreatedAt: now,
			UpdatedAt: now,
		},
		Reference:       reference,
		UserID:          uuid.New(),
		AmountMinor:     amountMinor,
		Currency:        entity.DefaultCurrency,
		Status:          status,
		PaymentMethod:   "card",
		Provider:        entity.ProviderPaystack,
		Type:            entity.PaymentTypeListingFee,
		Metadata:        json.RawMessage(`{"car_id":"8d2b6c1e-4c1a-4f55-9a4e-0f3f5b0f6d11","version":1}`),
		GatewayResponse: json.RawMessage(`{}`),
	}
}

// RefundCall records one Refund invocation.
type RefundCall struct {
	Reference   string
	AmountMinor int64
	Reason      string
}

// StubGateway answers gateway calls from its fields and records them.
type StubGateway struct {
	mu sync.Mutex

	VerifyStatus string
	VerifyAmount int64
	VerifyErr    error
	RefundErr    error
	InitErr      error

	// RefundDelay stalls Refund before it is recorded, as a slow provider would.
	RefundDelay time.Duration

	VerifyCalls []string
	RefundCalls []RefundCall
	InitCalls   []paystack.InitializeParams
}

func (g *StubGateway) Initialize(_ context.Context, params paystack.InitializeParams) (*paystack.Authorization, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.InitCalls = append(g.InitCalls, params)
	if g.InitErr != nil {
		return nil, g.InitErr
	}
	return &paystack.Authorization{
		AuthorizationURL: "https://checkout.paystack.com/" + params.Reference,
		AccessCode:       "access-" + params.Reference,
		Reference:        params.Reference,
	}, nil
}

func (g *StubGateway) VerifyTransaction(_ context.Context, reference string) (*paystack.Transaction, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.VerifyCalls = append(g.VerifyCalls, reference)
	if g.VerifyErr != nil {
		return nil, g.VerifyErr
	}

	raw, _ := json.Marshal(map[string]any{
		"status":    g.VerifyStatus,
		"reference": reference,
		"amount":    g.VerifyAmount,
	})
	return &paystack.Transaction{
		Status:    g.VerifyStatus,
		Reference: reference,
		Amount:    g.VerifyAmount,
		Raw:       raw,
	}, nil
}

func (g *StubGateway) Refund(_ context.Context, reference string, amountMinor int64, reason string) (*paystack.Refund, error) {
	if g.RefundDelay > 0 {
		time.Sleep(g.RefundDelay)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.RefundCalls = append(g.RefundCalls, RefundCall{Reference: reference, AmountMinor: amountMinor, Reason: reason})
	if g.RefundErr != nil {
		return nil, g.RefundErr
	}

	raw, _ := json.Marshal(map[string]any{"id": 1, "status": "pending", "amount": amountMinor})
	return &paystack.Refund{ID: 1, Status: "pending", Amount: amountMinor, Raw: raw}, nil
}

// RefundCount returns how many refunds were requested.
func (g *StubGateway) RefundCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.RefundCalls)
}

// GatewayResponseKey decodes one top-level key of a payment's gateway_response.
func GatewayResponseKey(t *testing.T, p *entity.Payment, key string) json.RawMessage {
	t.Helper()
	m := map[string]json.RawMessage{}
	if err := json.Unmarshal(p.GatewayResponse, &m); err != nil {
		t.Fatalf("gateway_response is not an object: %v", err)
	}
	return m[key]
}
