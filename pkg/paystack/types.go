package paystack

import (
	"encoding/json"
	"time"
)

// TransactionStatusSuccess is the only verify status that counts as paid.
const TransactionStatusSuccess = "success"

// envelope is the wrapper Paystack puts around every response.
type envelope struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type InitializeParams struct {
	Email       string         `json:"email"`
	Amount      int64          `json:"amount"`
	Currency    string         `json:"currency,omitempty"`
	Reference   string         `json:"reference"`
	CallbackURL string         `json:"callback_url,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

type Authorization struct {
	AuthorizationURL string `json:"authorization_url"`
	AccessCode       string `json:"access_code"`
	Reference        string `json:"reference"`
}

type Customer struct {
	ID    int64  `json:"id"`
	Email string `json:"email"`
}

// Transaction is the verify payload. Raw keeps the exact data object.
type Transaction struct {
	ID              int64      `json:"id"`
	Status          string     `json:"status"`
	Reference       string     `json:"reference"`
	Amount          int64      `json:"amount"`
	Currency        string     `json:"currency"`
	Channel         string     `json:"channel"`
	GatewayResponse string     `json:"gateway_response"`
	PaidAt          *time.Time `json:"paid_at"`
	Customer        Customer   `json:"customer"`

	Raw json.RawMessage `json:"-"`
}

// Succeeded reports whether Paystack considers the charge paid.
func (t *Transaction) Succeeded() bool {
	return t.Status == TransactionStatusSuccess
}

type refundRequest struct {
	Transaction  string `json:"transaction"`
	Amount       int64  `json:"amount"`
	MerchantNote string `json:"merchant_note,omitempty"`
}

// Refund is the refund payload. Raw keeps the exact data object.
type Refund struct {
	ID       int64  `json:"id"`
	Status   string `json:"status"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`

	Raw json.RawMessage `json:"-"`
}
