package response

import (
	"encoding/json"
	"time"

	"carconnect-api/internal/data/entity"
	"carconnect-api/pkg/utils"

	"github.com/shopspring/decimal"
)

type PaymentResponse struct {
	ID              string               `json:"id"`
	Reference       string               `json:"reference"`
	UserID          string               `json:"user_id"`
	Amount          decimal.Decimal      `json:"amount"`
	AmountMinor     int64                `json:"amount_minor"`
	Currency        string               `json:"currency"`
	Status          entity.PaymentStatus `json:"status"`
	PaymentMethod   string               `json:"payment_method"`
	Provider        string               `json:"provider"`
	Type            entity.PaymentType   `json:"type"`
	Metadata        json.RawMessage      `json:"metadata,omitempty"`
	GatewayResponse json.RawMessage      `json:"gateway_response,omitempty"`
	CreatedAt       time.Time            `json:"created_at"`
	UpdatedAt       time.Time            `json:"updated_at"`
	VerifiedAt      *time.Time           `json:"verified_at,omitempty"`
	RefundedAt      *time.Time           `json:"refunded_at,omitempty"`
}

type CheckoutResponse struct {
	Payment          PaymentResponse `json:"payment"`
	AuthorizationURL string          `json:"authorization_url"`
	AccessCode       string          `json:"access_code"`
}

// VerifyResult is what the verify flow hands back to the HTTP layer.
type VerifyResult struct {
	Payment      PaymentResponse
	Succeeded    bool
	ProviderData json.RawMessage
}

// VerifyResponse is the verify endpoint body. Status is "success" or "failed".
type VerifyResponse struct {
	Status       string          `json:"status"`
	Message      string          `json:"message"`
	Data         PaymentResponse `json:"data"`
	PaystackData json.RawMessage `json:"paystackData,omitempty"`
}

type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Service   string    `json:"service"`
}

type WebhookAck struct {
	Received bool `json:"received"`
}

// Redacted drops the provider payload for callers outside the admin surface.
func (p PaymentResponse) Redacted() PaymentResponse {
	p.GatewayResponse = nil
	return p
}

// Helper converters
func PaymentToResponse(p *entity.Payment) PaymentResponse {
	return PaymentResponse{
		ID:              p.ID.String(),
		Reference:       p.Reference,
		UserID:          p.UserID.String(),
		Amount:          utils.FromMinorUnits(p.AmountMinor),
		AmountMinor:     p.AmountMinor,
		Currency:        p.Currency,
		Status:          p.Status,
		PaymentMethod:   p.PaymentMethod,
		Provider:        p.Provider,
		Type:            p.Type,
		Metadata:        p.Metadata,
		GatewayResponse: p.GatewayResponse,
		CreatedAt:       p.CreatedAt,
		UpdatedAt:       p.UpdatedAt,
		VerifiedAt:      p.VerifiedAt,
		RefundedAt:      p.RefundedAt,
	}
}
