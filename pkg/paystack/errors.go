package paystack

import (
	"errors"
	"fmt"

	"carconnect-api/pkg/apperror"
)

var (
	// ErrGatewayUnavailable covers network failures, timeouts and unreadable responses.
	ErrGatewayUnavailable = errors.New("paystack unavailable")

	// ErrGatewayRejected covers non-2xx responses and status:false envelopes.
	ErrGatewayRejected = errors.New("paystack rejected request")
)

// GatewayError carries what Paystack sent back so callers can keep it for audit.
type GatewayError struct {
	Op         string
	Kind       error
	StatusCode int
	Body       []byte
	Err        error
}

func (e *GatewayError) Error() string {
	msg := fmt.Sprintf("paystack %s: %v", e.Op, e.Kind)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (http %d)", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap lets errors.Is match the kind, apperror.ErrGateway and the cause.
func (e *GatewayError) Unwrap() []error {
	errs := []error{e.Kind, apperror.ErrGateway}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

func unavailable(op string, err error) *GatewayError {
	return &GatewayError{Op: op, Kind: ErrGatewayUnavailable, Err: err}
}

func rejected(op string, status int, body []byte, msg string) *GatewayError {
	var err error
	if msg != "" {
		err = errors.New(msg)
	}
	return &GatewayError{Op: op, Kind: ErrGatewayRejected, StatusCode: status, Body: body, Err: err}
}
