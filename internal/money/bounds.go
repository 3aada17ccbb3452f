package money

import (
	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-billing/internal/errs"
)

// Input bounds for amounts and rates. A value carries at most MaxScale
// decimal places and stays below 1e15 in magnitude, so sums over a bounded
// invoice keep a minor-unit count that fits int64.
const (
	MaxScale     = 6
	maxIntDigits = 15
	// maxCoefficientBits admits about 30 significant digits, enough for any
	// in-range value written with trailing zeros.
	maxCoefficientBits = 100
)

var (
	maxMagnitude      = decimal.New(1, maxIntDigits)
	maxMinorMagnitude = decimal.New(1, maxIntDigits+2)
)

// Bounded checks d against the input bounds and returns it in a form whose
// exponent is small. The coefficient and exponent are inspected before any
// arithmetic, so inputs like "1e-2000000" are refused without expanding them.
func Bounded(field string, d decimal.Decimal) (decimal.Decimal, error) {
	if d.Sign() == 0 {
		return decimal.Zero, nil
	}
	exp := d.Exponent()
	if d.Coefficient().BitLen() > maxCoefficientBits || exp < -(MaxScale+30) || exp > maxIntDigits {
		return decimal.Decimal{}, errs.Validation(field, "value is out of range")
	}
	if !d.Round(MaxScale).Equal(d) {
		return decimal.Decimal{}, errs.Validation(field, "value has more than %d decimal places", MaxScale)
	}
	if d.Abs().Cmp(maxMagnitude) >= 0 {
		return decimal.Decimal{}, errs.Validation(field, "value must be below 1e%d", maxIntDigits)
	}
	return d, nil
}

// InRange reports whether m is below 1e15 major units in magnitude, the
// range in which Minor is exact.
func (m Money) InRange() bool {
	return m.minor.Abs().Cmp(maxMinorMagnitude) < 0
}
