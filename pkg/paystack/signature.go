package paystack

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"strings"

	"carconnect-api/pkg/apperror"
)

// SignatureHeader carries the hex HMAC-SHA512 of the raw webhook body.
const SignatureHeader = "x-paystack-signature"

type Verifier struct {
	secret []byte
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Sign returns the hex signature Paystack would send for body.
func (v *Verifier) Sign(body []byte) string {
	mac := hmac.New(sha512.New, v.secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify checks signature against the exact bytes received. An empty secret
// or signature never verifies.
func (v *Verifier) Verify(body []byte, signature string) bool {
	if len(v.secret) == 0 || signature == "" {
		return false
	}

	got, err := hex.DecodeString(strings.TrimSpace(signature))
	if err != nil {
		return false
	}

	mac := hmac.New(sha512.New, v.secret)
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}

// Authenticate is Verify for callers that route failures as errors.
func (v *Verifier) Authenticate(body []byte, signature string) error {
	if signature == "" {
		return fmt.Errorf("%w: missing %s header", apperror.ErrAuthenticity, SignatureHeader)
	}
	if !v.Verify(body, signature) {
		return fmt.Errorf("%w: signature does not match body", apperror.ErrAuthenticity)
	}
	return nil
}
