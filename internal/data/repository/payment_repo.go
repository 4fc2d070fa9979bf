package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"carconnect-api/internal/data/entity"
	"carconnect-api/pkg/apperror"
	"carconnect-api/pkg/database"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
)

type PaymentRepository interface {
	Create(ctx context.Context, payment *entity.Payment) error
	FindByReference(ctx context.Context, reference string) (*entity.Payment, error)
	List(ctx context.Context, status *entity.PaymentStatus, limit, offset int) ([]*entity.Payment, error)
	Count(ctx context.Context, status *entity.PaymentStatus) (int64, error)

	// ApplyTransition updates the row only while it is still in t.From.
	// It returns (nil, nil) when the row was missing or had already moved on.
	ApplyTransition(ctx context.Context, t entity.Transition) (*entity.Payment, error)

	// ClaimRefund marks a completed payment as having a refund in flight. It
	// returns (nil, nil) when the row is missing, not completed, or already
	// claimed.
	ClaimRefund(ctx context.Context, reference string) (*entity.Payment, error)

	// ReleaseRefundClaim clears the claim of a payment that is still completed.
	ReleaseRefundClaim(ctx context.Context, reference string) error

	// RecordGatewayError stores body under gateway_response.last_error without
	// touching status, and only while the row is still in status.
	RecordGatewayError(ctx context.Context, reference string, status entity.PaymentStatus, body json.RawMessage) error
}

const paymentColumns = `id, reference, user_id, amount_minor, currency, status, payment_method, provider, type,
		metadata, gateway_response, created_at, updated_at, verified_at, refunded_at, refund_requested_at`

type paymentRepository struct {
	db  database.PgxIface
	log *zap.Logger
}

func NewPaymentRepository(db database.PgxIface, log *zap.Logger) PaymentRepository {
	return &paymentRepository{
		db:  db,
		log: log.With(zap.String("repository", "payment")),
	}
}

func scanPayment(row pgx.Row) (*entity.Payment, error) {
	var payment entity.Payment
	err := row.Scan(
		&payment.ID,
		&payment.Reference,
		&payment.UserID,
		&payment.AmountMinor,
		&payment.Currency,
		&payment.Status,
		&payment.PaymentMethod,
		&payment.Provider,
		&payment.Type,
		&payment.Metadata,
		&payment.GatewayResponse,
		&payment.CreatedAt,
		&payment.UpdatedAt,
		&payment.VerifiedAt,
		&payment.RefundedAt,
		&payment.RefundRequestedAt,
	)
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

// jsonParam sends raw JSON as text so an empty value becomes SQL NULL.
func jsonParam(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

func (r *paymentRepository) Create(ctx context.Context, payment *entity.Payment) error {
	query := `
		INSERT INTO payments (id, reference, user_id, amount_minor, currency, status, payment_method, provider, type,
		                      metadata, gateway_response, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, COALESCE($10::jsonb, '{}'::jsonb), COALESCE($11::jsonb, '{}'::jsonb), $12, $13)
	`

	_, err := r.db.Exec(ctx, query,
		payment.ID,
		payment.Reference,
		payment.UserID,
		payment.AmountMinor,
		payment.Currency,
		payment.Status,
		payment.PaymentMethod,
		payment.Provider,
		payment.Type,
		jsonParam(payment.Metadata),
		jsonParam(payment.GatewayResponse),
		payment.CreatedAt,
		payment.UpdatedAt,
	)

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("payment reference %s already exists: %w", payment.Reference, apperror.ErrValidation)
		}
		r.log.Error("Failed to create payment",
			zap.Error(err),
			zap.String("reference", payment.Reference),
			zap.String("user_id", payment.UserID.String()),
		)
		return fmt.Errorf("create payment %s: %w", payment.Reference, err)
	}

	return nil
}

func (r *paymentRepository) FindByReference(ctx context.Context, reference string) (*entity.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE reference = $1`

	payment, err := scanPayment(r.db.QueryRow(ctx, query, reference))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		r.log.Error("Failed to find payment by reference",
			zap.Error(err),
			zap.String("reference", reference),
		)
		return nil, fmt.Errorf("find payment by reference %s: %w", reference, err)
	}

	return payment, nil
}

func (r *paymentRepository) List(ctx context.Context, status *entity.PaymentStatus, limit, offset int) ([]*entity.Payment, error) {
	query := `
		SELECT ` + paymentColumns + `
		FROM payments
		WHERE ($1::text IS NULL OR status = $1)
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.db.Query(ctx, query, statusParam(status), limit, offset)
	if err != nil {
		r.log.Error("Failed to list payments",
			zap.Error(err),
			zap.Int("limit", limit),
			zap.Int("offset", offset),
		)
		return nil, fmt.Errorf("list payments: %w", err)
	}
	defer rows.Close()

	var payments []*entity.Payment
	for rows.Next() {
		payment, err := scanPayment(rows)
		if err != nil {
			r.log.Error("Failed to scan payment row", zap.Error(err))
			return nil, fmt.Errorf("scan payment row: %w", err)
		}
		payments = append(payments, payment)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate payment rows: %w", err)
	}

	return payments, nil
}

func (r *paymentRepository) Count(ctx context.Context, status *entity.PaymentStatus) (int64, error) {
	query := `SELECT COUNT(*) FROM payments WHERE ($1::text IS NULL OR status = $1)`

	var count int64
	if err := r.db.QueryRow(ctx, query, statusParam(status)).Scan(&count); err != nil {
		r.log.Error("Failed to count payments", zap.Error(err))
		return 0, fmt.Errorf("count payments: %w", err)
	}

	return count, nil
}

func (r *paymentRepository) ApplyTransition(ctx context.Context, t entity.Transition) (*entity.Payment, error) {
	query := `
		UPDATE payments
		SET status           = $3,
		    gateway_response = COALESCE($4::jsonb, gateway_response)
		                       || CASE WHEN $5::jsonb IS NULL THEN '{}'::jsonb
		                               ELSE jsonb_build_object('refund', $5::jsonb) END,
		    verified_at      = COALESCE($6, verified_at),
		    refunded_at      = COALESCE($7, refunded_at),
		    updated_at       = NOW()
		WHERE reference = $1 AND status = $2
		RETURNING ` + paymentColumns

	payment, err := scanPayment(r.db.QueryRow(ctx, query,
		t.Reference,
		t.From,
		t.To,
		jsonParam(t.GatewayResponse),
		jsonParam(t.RefundRecord),
		t.VerifiedAt,
		t.RefundedAt,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		r.log.Error("Failed to apply payment transition",
			zap.Error(err),
			zap.String("reference", t.Reference),
			zap.String("from", string(t.From)),
			zap.String("to", string(t.To)),
		)
		return nil, fmt.Errorf("update payment %s status %s -> %s: %w", t.Reference, t.From, t.To, err)
	}

	return payment, nil
}

func (r *paymentRepository) ClaimRefund(ctx context.Context, reference string) (*entity.Payment, error) {
	query := `
		UPDATE payments
		SET refund_requested_at = NOW(),
		    updated_at          = NOW()
		WHERE reference = $1 AND status = $2 AND refund_requested_at IS NULL
		RETURNING ` + paymentColumns

	payment, err := scanPayment(r.db.QueryRow(ctx, query, reference, entity.PaymentStatusCompleted))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		r.log.Error("Failed to claim payment for refund",
			zap.Error(err),
			zap.String("reference", reference),
		)
		return nil, fmt.Errorf("claim refund for payment %s: %w", reference, err)
	}

	return payment, nil
}

func (r *paymentRepository) ReleaseRefundClaim(ctx context.Context, reference string) error {
	query := `
		UPDATE payments
		SET refund_requested_at = NULL,
		    updated_at          = NOW()
		WHERE reference = $1 AND status = $2 AND refund_requested_at IS NOT NULL
	`

	if _, err := r.db.Exec(ctx, query, reference, entity.PaymentStatusCompleted); err != nil {
		r.log.Error("Failed to release refund claim",
			zap.Error(err),
			zap.String("reference", reference),
		)
		return fmt.Errorf("release refund claim for payment %s: %w", reference, err)
	}

	return nil
}

func (r *paymentRepository) RecordGatewayError(ctx context.Context, reference string, status entity.PaymentStatus, body json.RawMessage) error {
	query := `
		UPDATE payments
		SET gateway_response = gateway_response || jsonb_build_object('last_error', $3::jsonb),
		    updated_at = NOW()
		WHERE reference = $1 AND status = $2
	`

	if _, err := r.db.Exec(ctx, query, reference, status, jsonParam(body)); err != nil {
		r.log.Error("Failed to record gateway error",
			zap.Error(err),
			zap.String("reference", reference),
		)
		return fmt.Errorf("record gateway error for payment %s: %w", reference, err)
	}

	return nil
}

func statusParam(status *entity.PaymentStatus) any {
	if status == nil {
		return nil
	}
	return string(*status)
}
