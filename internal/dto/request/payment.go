package request

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

type InitializePaymentRequest struct {
	UserID        string          `json:"user_id" validate:"required,uuid"`
	Email         string          `json:"email" validate:"required,email"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency,omitempty" validate:"omitempty,oneof=GHS NGN USD ZAR KES"`
	Type          string          `json:"type" validate:"required,oneof=listing_fee featured_upgrade subscription services"`
	PaymentMethod string          `json:"payment_method,omitempty" validate:"omitempty,max=32"`
	Reference     string          `json:"reference,omitempty" validate:"omitempty,min=6,max=100"`
	CallbackURL   string          `json:"callback_url,omitempty" validate:"omitempty,url"`
	Metadata      map[string]any  `json:"metadata,omitempty"`
}

type RefundRequest struct {
	Reference string `json:"reference" validate:"required"`
	Reason    string `json:"reason,omitempty" validate:"omitempty,max=500"`
}

type ListPaymentsRequest struct {
	PaginatedRequest
	Status string `json:"status,omitempty" validate:"omitempty,oneof=pending completed failed refunded"`
}

// WebhookEvent is the body Paystack posts. Data stays raw until the
// dispatcher knows which event it is routing.
type WebhookEvent struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}
