// Package pricing computes line amounts, tax, discounts and invoice totals.
// All functions are pure: identical inputs always produce identical results.
package pricing

import (
	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-billing/internal/money"
)

var hundred = decimal.NewFromInt(100)

// TaxRate is the GST rate applied to a line.
type TaxRate struct {
	Percentage money.Percent `json:"percentage"`
	Inclusive  bool          `json:"inclusive"`
}

// Validate checks 0 <= percentage <= 100.
func (r TaxRate) Validate() error {
	return r.Percentage.Validate("taxRate.percentage")
}

// TaxBreakdown splits tax into its CGST and SGST halves. Values returned by
// ComputeTax are exact; use Rounded before display.
type TaxBreakdown struct {
	Taxable   money.Money `json:"taxable"`
	Tax       money.Money `json:"taxAmount"`
	CGST      money.Money `json:"cgst"`
	SGST      money.Money `json:"sgst"`
	Total     money.Money `json:"total"`
	Inclusive bool        `json:"inclusive"`
}

// ComputeTax applies rate to base. For exclusive rates the tax is added on top
// of base; for inclusive rates base already contains the tax, which is
// extracted and the total stays equal to base.
func ComputeTax(base money.Money, rate TaxRate) TaxBreakdown {
	if rate.Percentage.IsZero() {
		return TaxBreakdown{
			Taxable:   base,
			Tax:       money.Zero(),
			CGST:      money.Zero(),
			SGST:      money.Zero(),
			Total:     base,
			Inclusive: rate.Inclusive,
		}
	}
	var taxable, tax, total money.Money
	if rate.Inclusive {
		taxable = base.MulRatDecimal(hundred, hundred.Add(rate.Percentage.Decimal()))
		tax = base.Sub(taxable)
		total = base
	} else {
		taxable = base
		tax = base.MulPercent(rate.Percentage)
		total = base.Add(tax)
	}
	half := tax.MulRat(1, 2)
	return TaxBreakdown{
		Taxable:   taxable,
		Tax:       tax,
		CGST:      half,
		SGST:      half,
		Total:     total,
		Inclusive: rate.Inclusive,
	}
}

// Add sums two breakdowns component-wise.
func (b TaxBreakdown) Add(o TaxBreakdown) TaxBreakdown {
	return TaxBreakdown{
		Taxable:   b.Taxable.Add(o.Taxable),
		Tax:       b.Tax.Add(o.Tax),
		CGST:      b.CGST.Add(o.CGST),
		SGST:      b.SGST.Add(o.SGST),
		Total:     b.Total.Add(o.Total),
		Inclusive: b.Inclusive,
	}
}

// Rounded returns the breakdown in whole minor units such that the displayed
// components add up: CGST + SGST == Tax and Taxable + Tax == Total. An odd
// paisa of tax goes to SGST.
func (b TaxBreakdown) Rounded() TaxBreakdown {
	tax := b.Tax.Round()
	cgst := tax.Div(2, money.Floor)
	out := TaxBreakdown{
		Tax:       tax,
		CGST:      cgst,
		SGST:      tax.Sub(cgst),
		Inclusive: b.Inclusive,
	}
	if b.Inclusive {
		out.Total = b.Total.Round()
		out.Taxable = out.Total.Sub(tax)
	} else {
		out.Taxable = b.Taxable.Round()
		out.Total = out.Taxable.Add(tax)
	}
	return out
}
