package entity

import (
	"time"

	"github.com/google/uuid"
)

// BaseNoDelete is the identity and audit columns of rows that are never
// soft deleted.
type BaseNoDelete struct {
	ID        uuid.UUID `db:"id"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}
