// Package apperror holds the error taxonomy shared by the payment flows.
// Callers wrap these sentinels with fmt.Errorf("...: %w") and the HTTP
// layer maps them to status codes with errors.Is.
package apperror

import "errors"

var (
	// ErrAuthenticity marks a missing or forged webhook signature.
	ErrAuthenticity = errors.New("invalid signature")

	// ErrNotFound marks a lookup by an unknown reference.
	ErrNotFound = errors.New("not found")

	// ErrInvalidState marks a transition whose guard does not hold.
	ErrInvalidState = errors.New("invalid state")

	// ErrGateway marks an upstream provider that was unreachable or refused the call.
	ErrGateway = errors.New("gateway error")

	// ErrValidation marks missing or malformed input.
	ErrValidation = errors.New("validation failed")
)
