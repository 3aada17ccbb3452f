package money

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-billing/internal/errs"
)

// Percent is a rate expressed in percent, e.g. 18 for 18%.
type Percent struct {
	d decimal.Decimal
}

// NewPercent wraps a decimal percentage.
func NewPercent(d decimal.Decimal) Percent { return Percent{d: d} }

// PercentFromBps builds a percentage from basis points (1800 = 18%).
func PercentFromBps(bps int64) Percent { return Percent{d: decimal.New(bps, -2)} }

// ParsePercent reads a decimal percentage such as "8.875".
func ParsePercent(s string) (Percent, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return Percent{}, errs.Validation("", "invalid percentage %q", s)
	}
	if d, err = Bounded("", d); err != nil {
		return Percent{}, err
	}
	return Percent{d: d}, nil
}

// MustParsePercent is like ParsePercent but panics on malformed input.
func MustParsePercent(s string) Percent {
	p, err := ParsePercent(s)
	if err != nil {
		panic(err)
	}
	return p
}

// Decimal exposes the underlying value.
func (p Percent) Decimal() decimal.Decimal { return p.d }

// IsZero reports whether the rate is zero.
func (p Percent) IsZero() bool { return p.d.Sign() == 0 }

// Cmp compares two percentages.
func (p Percent) Cmp(o Percent) int { return p.d.Cmp(o.d) }

// Validate checks 0 <= p <= 100.
func (p Percent) Validate(field string) error {
	if p.d.Sign() < 0 || p.d.GreaterThan(hundred) {
		return errs.Validation(field, "percentage %s must be between 0 and 100", p.d.String())
	}
	return nil
}

func (p Percent) String() string { return p.d.String() }

// MarshalJSON renders the percentage as a JSON number.
func (p Percent) MarshalJSON() ([]byte, error) {
	return []byte(p.d.String()), nil
}

// UnmarshalJSON accepts a JSON number or string.
func (p *Percent) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*p = Percent{}
		return nil
	}
	var d decimal.Decimal
	if err := d.UnmarshalJSON(data); err != nil {
		return errs.Validation("", "invalid percentage %s", truncate(data))
	}
	d, err := Bounded("", d)
	if err != nil {
		return err
	}
	*p = Percent{d: d}
	return nil
}
