package utils

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"carconnect-api/pkg/apperror"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ParseInt converts string to int with default value
func ParseInt(value string, defaultValue int) int {
	if value == "" {
		return defaultValue
	}

	result, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}

	if result < 1 {
		return defaultValue
	}

	return result
}

// GenerateReference creates a checkout reference with a timestamp prefix.
func GenerateReference() string {
	now := time.Now().UTC()

	// Format: CC-YYYYMMDD-HHMMSS-RANDOM
	randomPart := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:10])

	return fmt.Sprintf("CC-%s-%s-%s", now.Format("20060102"), now.Format("150405"), randomPart)
}

// ToMinorUnits converts a major-unit amount (cedis) to pesewas. Amounts
// finer than one pesewa are rejected rather than rounded.
func ToMinorUnits(amount decimal.Decimal) (int64, error) {
	minor := amount.Shift(2)
	if !minor.IsInteger() {
		return 0, fmt.Errorf("%w: amount %s has more than two decimal places", apperror.ErrValidation, amount)
	}
	return minor.IntPart(), nil
}

// FromMinorUnits converts pesewas back to a major-unit amount.
func FromMinorUnits(minor int64) decimal.Decimal {
	return decimal.New(minor, -2)
}
