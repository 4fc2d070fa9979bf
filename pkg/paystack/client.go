// Package paystack wraps the Paystack REST endpoints this service needs and
// verifies webhook signatures. The client never retries; callers own retry policy.
package paystack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"go.uber.org/zap"
)

const (
	DefaultBaseURL = "https://api.paystack.co"
	defaultTimeout = 10 * time.Second
	maxBodyBytes   = 1 << 20
)

type Client struct {
	secretKey string
	baseURL   string
	timeout   time.Duration
	http      *http.Client
	log       *zap.Logger
}

type Option func(*Client)

// WithBaseURL points the client at another host, e.g. a mock in tests.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		if baseURL != "" {
			c.baseURL = strings.TrimRight(baseURL, "/")
		}
	}
}

func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.timeout = timeout
		}
	}
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

func NewClient(secretKey string, log *zap.Logger, opts ...Option) *Client {
	c := &Client{
		secretKey: secretKey,
		baseURL:   DefaultBaseURL,
		timeout:   defaultTimeout,
		http:      &http.Client{},
		log:       log.With(zap.String("gateway", "paystack")),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Initialize starts a hosted checkout for params.Reference.
func (c *Client) Initialize(ctx context.Context, params InitializeParams) (*Authorization, error) {
	raw, err := c.do(ctx, "initialize", http.MethodPost, "/transaction/initialize", params)
	if err != nil {
		return nil, err
	}

	var auth Authorization
	if err := json.Unmarshal(raw, &auth); err != nil {
		return nil, unavailable("initialize", fmt.Errorf("decode authorization: %w", err))
	}
	return &auth, nil
}

// VerifyTransaction asks Paystack for the current state of a charge.
// A failed charge is a successful call whose Transaction.Status is not "success".
func (c *Client) VerifyTransaction(ctx context.Context, reference string) (*Transaction, error) {
	path := "/transaction/verify/" + url.PathEscape(reference)
	raw, err := c.do(ctx, "verify", http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}

	var tx Transaction
	if err := json.Unmarshal(raw, &tx); err != nil {
		return nil, unavailable("verify", fmt.Errorf("decode transaction: %w", err))
	}
	tx.Raw = raw
	return &tx, nil
}

// Refund requests a refund of amountMinor pesewas against the charge with reference.
func (c *Client) Refund(ctx context.Context, reference string, amountMinor int64, reason string) (*Refund, error) {
	body := refundRequest{
		Transaction:  reference,
		Amount:       amountMinor,
		MerchantNote: reason,
	}
	raw, err := c.do(ctx, "refund", http.MethodPost, "/refund", body)
	if err != nil {
		return nil, err
	}

	var refund Refund
	if err := json.Unmarshal(raw, &refund); err != nil {
		return nil, unavailable("refund", fmt.Errorf("decode refund: %w", err))
	}
	refund.Raw = raw
	return &refund, nil
}

// do sends one request and returns the envelope's data field.
func (c *Client) do(ctx context.Context, op, method, path string, payload any) (json.RawMessage, error) {
	start := time.Now()
	defer metrics.GetOrCreateHistogram(fmt.Sprintf(`paystack_request_duration_seconds{op=%q}`, op)).UpdateDuration(start)

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reqBody io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("paystack %s: encode request: %w", op, err)
		}
		reqBody = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("paystack %s: build request: %w", op, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.secretKey)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.countResult(op, "unavailable")
		c.log.Warn("Paystack request failed", zap.String("op", op), zap.Error(err))
		return nil, unavailable(op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		c.countResult(op, "unavailable")
		return nil, unavailable(op, fmt.Errorf("read response: %w", err))
	}

	var env envelope
	decodeErr := json.Unmarshal(body, &env)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.countResult(op, "rejected")
		c.log.Warn("Paystack rejected request",
			zap.String("op", op),
			zap.Int("status", resp.StatusCode),
			zap.String("message", env.Message),
		)
		return nil, rejected(op, resp.StatusCode, body, env.Message)
	}

	if decodeErr != nil {
		c.countResult(op, "unavailable")
		return nil, unavailable(op, fmt.Errorf("malformed response: %w", decodeErr))
	}

	if !env.Status {
		c.countResult(op, "rejected")
		return nil, rejected(op, resp.StatusCode, body, env.Message)
	}

	c.countResult(op, "ok")
	return env.Data, nil
}

func (c *Client) countResult(op, result string) {
	metrics.GetOrCreateCounter(fmt.Sprintf(`paystack_requests_total{op=%q,result=%q}`, op, result)).Inc()
}
