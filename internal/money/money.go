// Package money provides an exact fixed-precision monetary value stored in
// minor units (paise). Values never pass through binary floating point.
package money

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-billing/internal/errs"
)

// divisionPrecision is the number of decimal places kept below the minor unit
// when a division does not terminate (for example 100/118).
const divisionPrecision = 16

var hundred = decimal.NewFromInt(100)

// Rounding selects how a value is brought to a whole number of minor units.
type Rounding int

const (
	// HalfUp rounds to the nearest minor unit, halves away from zero.
	HalfUp Rounding = iota
	// Floor rounds towards negative infinity.
	Floor
	// Ceil rounds towards positive infinity.
	Ceil
)

// Money is an amount of minor units. Results of multiplication and division
// keep their sub-minor precision until Round is called, so rounding happens
// once, where a value is displayed or persisted.
type Money struct {
	minor decimal.Decimal
}

// Zero returns a zero amount.
func Zero() Money { return Money{minor: decimal.Zero} }

// FromMinor builds an amount from a count of minor units.
func FromMinor(v int64) Money { return Money{minor: decimal.NewFromInt(v)} }

// FromMajor builds an amount from a decimal count of major units (rupees).
func FromMajor(v decimal.Decimal) Money { return Money{minor: v.Shift(2)} }

// Parse reads a decimal string expressed in major units, e.g. "236.50".
// Precision up to MaxScale places is kept, not truncated; anything outside
// the input bounds is a ValidationError.
func Parse(s string) (Money, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return Money{}, errs.Validation("", "amount is empty")
	}
	d, err := decimal.NewFromString(trimmed)
	if err != nil {
		return Money{}, errs.Validation("", "invalid amount %q", s)
	}
	if d, err = Bounded("", d); err != nil {
		return Money{}, err
	}
	return FromMajor(d), nil
}

// MustParse is like Parse but panics on malformed input. Intended for tests
// and constants.
func MustParse(s string) Money {
	m, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return m
}

// Sum adds all the provided amounts.
func Sum(values ...Money) Money {
	total := Zero()
	for _, v := range values {
		total = total.Add(v)
	}
	return total
}

// Min returns the smaller of a and b.
func Min(a, b Money) Money {
	if a.Cmp(b) <= 0 {
		return a
	}
	return b
}

// Max returns the larger of a and b.
func Max(a, b Money) Money {
	if a.Cmp(b) >= 0 {
		return a
	}
	return b
}

// Add returns m + o.
func (m Money) Add(o Money) Money { return Money{minor: m.minor.Add(o.minor)} }

// Sub returns m - o.
func (m Money) Sub(o Money) Money { return Money{minor: m.minor.Sub(o.minor)} }

// Neg returns -m.
func (m Money) Neg() Money { return Money{minor: m.minor.Neg()} }

// Abs returns |m|.
func (m Money) Abs() Money { return Money{minor: m.minor.Abs()} }

// MulPercent returns m × p / 100 without rounding.
func (m Money) MulPercent(p Percent) Money {
	return Money{minor: m.minor.Mul(p.d).Shift(-2)}
}

// MulRat returns m × num / den without rounding to the minor unit. den must be
// non-zero.
func (m Money) MulRat(num, den int64) Money {
	return m.MulRatDecimal(decimal.NewFromInt(num), decimal.NewFromInt(den))
}

// MulRatDecimal returns m × num / den for decimal operands.
func (m Money) MulRatDecimal(num, den decimal.Decimal) Money {
	return Money{minor: m.minor.Mul(num).DivRound(den, divisionPrecision)}
}

// Div divides m by n and rounds the quotient to a whole minor unit using mode.
func (m Money) Div(n int64, mode Rounding) Money {
	q := Money{minor: m.minor.DivRound(decimal.NewFromInt(n), divisionPrecision)}
	return q.RoundWith(mode)
}

// Round rounds half-up to the nearest minor unit.
func (m Money) Round() Money { return m.RoundWith(HalfUp) }

// RoundWith rounds to a whole minor unit using mode.
func (m Money) RoundWith(mode Rounding) Money {
	switch mode {
	case Floor:
		return Money{minor: m.minor.Floor()}
	case Ceil:
		return Money{minor: m.minor.Ceil()}
	default:
		return Money{minor: m.minor.Round(0)}
	}
}

// Minor returns the amount rounded half-up to whole minor units. It is exact
// only while InRange holds; totals are range checked before they are
// reported, so callers outside the engine never see a wrapped count.
func (m Money) Minor() int64 { return m.minor.Round(0).IntPart() }

// Major returns the exact amount in major units.
func (m Money) Major() decimal.Decimal { return m.minor.Shift(-2) }

// Cmp compares m and o and returns -1, 0 or +1.
func (m Money) Cmp(o Money) int { return m.minor.Cmp(o.minor) }

// Equal reports whether m and o are exactly equal.
func (m Money) Equal(o Money) bool { return m.Cmp(o) == 0 }

// Sign returns -1, 0 or +1.
func (m Money) Sign() int { return m.minor.Sign() }

// IsZero reports whether m is exactly zero.
func (m Money) IsZero() bool { return m.minor.Sign() == 0 }

// IsNegative reports whether m is below zero.
func (m Money) IsNegative() bool { return m.minor.Sign() < 0 }

// IsPositive reports whether m is above zero.
func (m Money) IsPositive() bool { return m.minor.Sign() > 0 }

// IsWhole reports whether m holds no sub-minor precision.
func (m Money) IsWhole() bool { return m.minor.Equal(m.minor.Truncate(0)) }

// String renders the rounded amount in major units with two decimals.
func (m Money) String() string { return m.minor.Round(0).Shift(-2).StringFixed(2) }

// Exact renders the unrounded amount in major units.
func (m Money) Exact() string { return m.minor.Shift(-2).String() }

// MarshalJSON renders the display value as a JSON string, e.g. "236.00".
func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(`"` + m.String() + `"`), nil
}

// UnmarshalJSON accepts a JSON string or number in major units.
func (m *Money) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*m = Zero()
		return nil
	}
	var d decimal.Decimal
	if err := d.UnmarshalJSON(data); err != nil {
		return errs.Validation("", "invalid amount %s", truncate(data))
	}
	d, err := Bounded("", d)
	if err != nil {
		return err
	}
	*m = FromMajor(d)
	return nil
}

// truncate shortens raw input quoted in error messages.
func truncate(data []byte) string {
	const limit = 32
	if len(data) <= limit {
		return string(data)
	}
	return string(data[:limit]) + "..."
}
