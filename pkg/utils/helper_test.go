package utils_test

import (
	"regexp"
	"testing"

	"carconnect-api/pkg/apperror"
	"carconnect-api/pkg/utils"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToMinorUnits(t *testing.T) {
	tests := []struct {
		amount string
		want   int64
	}{
		{"50", 5000},
		{"50.00", 5000},
		{"19.99", 1999},
		{"0.01", 1},
		{"1234.5", 123450},
	}

	for _, tt := range tests {
		got, err := utils.ToMinorUnits(decimal.RequireFromString(tt.amount))
		require.NoError(t, err, tt.amount)
		assert.Equal(t, tt.want, got, tt.amount)
	}
}

func TestToMinorUnits_RejectsFractionalPesewas(t *testing.T) {
	for _, amount := range []string{"1.005", "10.999", "0.015", "0.001"} {
		_, err := utils.ToMinorUnits(decimal.RequireFromString(amount))
		assert.ErrorIs(t, err, apperror.ErrValidation, amount)
	}
}

func TestFromMinorUnits(t *testing.T) {
	assert.Equal(t, "50", utils.FromMinorUnits(5000).String())
	assert.Equal(t, "19.99", utils.FromMinorUnits(1999).String())
	assert.True(t, decimal.RequireFromString("0.01").Equal(utils.FromMinorUnits(1)))
}

func TestGenerateReference(t *testing.T) {
	pattern := regexp.MustCompile(`^CC-\d{8}-\d{6}-[0-9A-F]{10}$`)

	a, b := utils.GenerateReference(), utils.GenerateReference()

	assert.Regexp(t, pattern, a)
	assert.NotEqual(t, a, b)
}

func TestParseInt(t *testing.T) {
	assert.Equal(t, 3, utils.ParseInt("3", 1))
	assert.Equal(t, 1, utils.ParseInt("", 1))
	assert.Equal(t, 10, utils.ParseInt("abc", 10))
	assert.Equal(t, 10, utils.ParseInt("-4", 10))
}
