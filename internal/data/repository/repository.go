package repository

import (
	"carconnect-api/pkg/database"

	"go.uber.org/zap"
)

type Repository struct {
	Payment PaymentRepository
}

func NewRepository(db database.PgxIface, log *zap.Logger) *Repository {
	return &Repository{
		Payment: NewPaymentRepository(db, log),
	}
}
