package pricing

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-billing/internal/errs"
	"github.com/noah-isme/backend-billing/internal/money"
)

// DiscountType selects how a discount value is interpreted.
type DiscountType string

const (
	// DiscountPercentage interprets Value as a percentage of the base.
	DiscountPercentage DiscountType = "percentage"
	// DiscountAbsolute interprets Value as an amount in major units.
	DiscountAbsolute DiscountType = "absolute"
)

// DiscountMode selects the base an order discount is applied to.
type DiscountMode string

const (
	// DiscountPreTax discounts the value of goods; tax is levied on the
	// discounted value.
	DiscountPreTax DiscountMode = "pre_tax"
	// DiscountPostTax discounts the value of goods plus exclusive tax.
	DiscountPostTax DiscountMode = "post_tax"
)

// ParseDiscountMode normalises a mode name; empty selects DiscountPreTax.
func ParseDiscountMode(s string) (DiscountMode, error) {
	switch DiscountMode(strings.ToLower(strings.TrimSpace(s))) {
	case "", DiscountPreTax:
		return DiscountPreTax, nil
	case DiscountPostTax:
		return DiscountPostTax, nil
	default:
		return "", errs.Validation("discountMode", "unknown discount mode %q", s)
	}
}

// Discount is a single percentage or absolute reduction.
type Discount struct {
	Type  DiscountType    `json:"type"`
	Value decimal.Decimal `json:"value"`
}

// UnmarshalJSON decodes the discount strictly and holds Value to the money
// input bounds.
func (d *Discount) UnmarshalJSON(data []byte) error {
	type plain Discount
	var raw plain
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	value, err := money.Bounded("value", raw.Value)
	if err != nil {
		return err
	}
	raw.Value = value
	*d = Discount(raw)
	return nil
}

// OrderDiscount is applied to the whole invoice.
type OrderDiscount = Discount

// LineDiscount is applied to one line before any order discount.
type LineDiscount = Discount

// PercentOff builds a percentage discount.
func PercentOff(p string) Discount {
	return Discount{Type: DiscountPercentage, Value: decimal.RequireFromString(p)}
}

// AmountOff builds an absolute discount in major units.
func AmountOff(amount string) Discount {
	return Discount{Type: DiscountAbsolute, Value: decimal.RequireFromString(amount)}
}

// IsZero reports whether the discount has no effect.
func (d Discount) IsZero() bool { return d.Value.Sign() == 0 }

// Validate checks the type and range of the discount. A zero discount of a
// known type, or an empty one, is valid.
func (d Discount) Validate(field string) error {
	if d.IsZero() {
		switch d.Type {
		case "", DiscountPercentage, DiscountAbsolute:
			return nil
		}
	}
	if _, err := money.Bounded(field+".value", d.Value); err != nil {
		return err
	}
	switch d.Type {
	case DiscountPercentage:
		if err := money.NewPercent(d.Value).Validate(field + ".value"); err != nil {
			return err
		}
	case DiscountAbsolute:
		if d.Value.Sign() < 0 {
			return errs.Validation(field+".value", "absolute discount must not be negative")
		}
	default:
		return errs.Validation(field+".type", "unknown discount type %q", string(d.Type))
	}
	return nil
}

func (d Discount) String() string {
	if d.Type == DiscountPercentage {
		return d.Value.String() + "%"
	}
	return fmt.Sprintf("%s off", d.Value.StringFixed(2))
}

// DiscountResult is the outcome of ApplyDiscount.
type DiscountResult struct {
	Base       money.Money
	Amount     money.Money
	Discounted money.Money
	// Clamped is set when an absolute discount exceeded the base and was
	// reduced to it.
	Clamped bool
}

// ApplyDiscount reduces subtotal by d. An absolute discount larger than the
// subtotal is clamped so the result never goes below zero.
func ApplyDiscount(subtotal money.Money, d Discount) DiscountResult {
	res := DiscountResult{Base: subtotal, Amount: money.Zero(), Discounted: subtotal}
	if d.IsZero() || !subtotal.IsPositive() {
		return res
	}
	var amount money.Money
	switch d.Type {
	case DiscountPercentage:
		amount = subtotal.MulPercent(money.NewPercent(d.Value))
	case DiscountAbsolute:
		amount = money.FromMajor(d.Value)
	default:
		return res
	}
	if amount.Cmp(subtotal) > 0 {
		amount = subtotal
		res.Clamped = true
	}
	if amount.IsNegative() {
		amount = money.Zero()
	}
	res.Amount = amount
	res.Discounted = subtotal.Sub(amount)
	return res
}
