package entity

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusCompleted PaymentStatus = "completed"
	PaymentStatusFailed    PaymentStatus = "failed"
	PaymentStatusRefunded  PaymentStatus = "refunded"
)

// Reached reports whether s is target or a state that can only follow it.
// A refunded payment has already been completed, so completed is reached too.
func (s PaymentStatus) Reached(target PaymentStatus) bool {
	if s == target {
		return true
	}
	return s == PaymentStatusRefunded && target == PaymentStatusCompleted
}

type PaymentType string

const (
	PaymentTypeListingFee      PaymentType = "listing_fee"
	PaymentTypeFeaturedUpgrade PaymentType = "featured_upgrade"
	PaymentTypeSubscription    PaymentType = "subscription"
	PaymentTypeServices        PaymentType = "services"
)

const (
	ProviderPaystack = "paystack"
	DefaultCurrency  = "GHS"

	// MetadataVersion is stamped into every metadata object the API writes.
	MetadataVersion = 1
)

// Payment keys every transition on Reference. Metadata and GatewayResponse
// are JSON objects; GatewayResponse holds the last provider payload, with
// refund data under "refund" and rejected calls under "last_error".
type Payment struct {
	BaseNoDelete
	Reference       string          `db:"reference"`
	UserID          uuid.UUID       `db:"user_id"`
	AmountMinor     int64           `db:"amount_minor"`
	Currency        string          `db:"currency"`
	Status          PaymentStatus   `db:"status"`
	PaymentMethod   string          `db:"payment_method"`
	Provider        string          `db:"provider"`
	Type            PaymentType     `db:"type"`
	Metadata        json.RawMessage `db:"metadata"`
	GatewayResponse json.RawMessage `db:"gateway_response"`
	VerifiedAt      *time.Time      `db:"verified_at"`
	RefundedAt      *time.Time      `db:"refunded_at"`

	// RefundRequestedAt is set while an admin refund holds the row. Only one
	// refund can be in flight per payment.
	RefundRequestedAt *time.Time `db:"refund_requested_at"`
}

// Transition is one guarded status change. The store applies it only while
// the row is still in From.
type Transition struct {
	Reference string
	From      PaymentStatus
	To        PaymentStatus

	// GatewayResponse replaces the stored payload when set.
	GatewayResponse json.RawMessage
	// RefundRecord is merged under gateway_response.refund when set.
	RefundRecord json.RawMessage

	VerifiedAt *time.Time
	RefundedAt *time.Time
}
