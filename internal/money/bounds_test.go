package money_test

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-billing/internal/errs"
	"github.com/noah-isme/backend-billing/internal/money"
)

func TestParseRejectsOutOfBoundsAmounts(t *testing.T) {
	for _, in := range []string{
		"1e-2000000",
		"1e2000000",
		"0.0000001",
		"1000000000000000",
		"-1e15",
		"123456789012345678901234567890123456789",
	} {
		t.Run(in, func(t *testing.T) {
			_, err := money.Parse(in)
			require.ErrorIs(t, err, errs.ErrValidation)

			var m money.Money
			err = json.Unmarshal([]byte(`"`+in+`"`), &m)
			require.ErrorIs(t, err, errs.ErrValidation)
		})
	}
}

func TestParseAcceptsInBoundsAmounts(t *testing.T) {
	m, err := money.Parse("1.500000")
	require.NoError(t, err)
	assert.Equal(t, "1.50", m.String())

	m, err = money.Parse("999999999999999.99")
	require.NoError(t, err)
	assert.True(t, m.InRange())
	assert.Equal(t, int64(99999999999999999), m.Minor())

	var fromNumber money.Money
	require.NoError(t, json.Unmarshal([]byte(`236.50`), &fromNumber))
	assert.Equal(t, int64(23650), fromNumber.Minor())
}

func TestParseNormalisesZeroWithLargeExponent(t *testing.T) {
	m, err := money.Parse("0e2000000")
	require.NoError(t, err)
	assert.True(t, m.IsZero())
	assert.Equal(t, "0.00", m.String())
}

func TestBoundedErrorNamesField(t *testing.T) {
	_, err := money.Bounded("unitPrice", decimal.RequireFromString("0.1234567"))
	var verr *errs.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "unitPrice", verr.Field)
}

func TestInRange(t *testing.T) {
	assert.True(t, money.FromMinor(-99999999999999999).InRange())
	assert.False(t, money.FromMinor(100000000000000000).InRange())
}

func TestParsePercentRejectsOutOfBounds(t *testing.T) {
	_, err := money.ParsePercent("1e-2000000")
	require.ErrorIs(t, err, errs.ErrValidation)

	var p money.Percent
	err = json.Unmarshal([]byte(`"1e2000000"`), &p)
	require.ErrorIs(t, err, errs.ErrValidation)

	p, err = money.ParsePercent("12.5")
	require.NoError(t, err)
	assert.Equal(t, "12.5", p.String())
}
