package pricing

import (
	"fmt"

	"github.com/noah-isme/backend-billing/internal/errs"
	"github.com/noah-isme/backend-billing/internal/money"
)

// Options control how Aggregate treats tax and the order discount.
type Options struct {
	TaxInclusive bool
	DiscountMode DiscountMode
}

// Totals is the computed result of an invoice. Every amount is rounded once,
// from exact sums, to whole minor units.
type Totals struct {
	// Gross is Σ unit price × quantity before line discounts.
	Gross         money.Money `json:"gross"`
	LineDiscounts money.Money `json:"lineDiscounts"`
	// Subtotal is the value of goods: Σ line raw amounts.
	Subtotal        money.Money  `json:"subtotal"`
	DiscountAmount  money.Money  `json:"discountAmount"`
	DiscountClamped bool         `json:"discountClamped"`
	TaxableValue    money.Money  `json:"taxableValue"`
	TotalTax        money.Money  `json:"totalTax"`
	CGST            money.Money  `json:"cgst"`
	SGST            money.Money  `json:"sgst"`
	GrandTotal      money.Money  `json:"grandTotal"`
	TaxInclusive    bool         `json:"taxInclusive"`
	DiscountMode    DiscountMode `json:"discountMode"`
	Lines           []LineResult `json:"lines"`
}

// Aggregate prices every line, applies the order discount and produces the
// invoice totals.
//
// In DiscountPreTax mode the discount is taken off the value of goods and
// spread over the lines pro rata, and tax is levied on each discounted line,
// so the discount never reduces tax directly:
//
//	grandTotal = subtotal − discount (+ tax when exclusive)
//
// In DiscountPostTax mode tax is levied on the undiscounted lines and the
// discount is taken off subtotal plus exclusive tax.
func Aggregate(items []LineItem, discount OrderDiscount, opts Options) (Totals, error) {
	mode := opts.DiscountMode
	if mode == "" {
		mode = DiscountPreTax
	}
	if mode != DiscountPreTax && mode != DiscountPostTax {
		return Totals{}, errs.Validation("discountMode", "unknown discount mode %q", string(mode))
	}
	for i, it := range items {
		if err := it.Validate(); err != nil {
			return Totals{}, errs.Prefix(fmt.Sprintf("lineItems[%d]", i), err)
		}
	}
	if err := discount.Validate("discount"); err != nil {
		return Totals{}, err
	}

	lines := make([]LineResult, len(items))
	raws := make([]money.Money, len(items))
	for i, it := range items {
		lines[i] = baseLine(it)
		lines[i].Index = i
		raws[i] = lines[i].Raw
	}
	subtotal := money.Sum(raws...)

	var applied DiscountResult
	switch mode {
	case DiscountPostTax:
		amounts := make([]money.Money, len(items))
		var tax money.Money
		for i, it := range items {
			lines[i] = finishPostTax(lines[i], it, opts.TaxInclusive)
			amounts[i] = lines[i].Amount
			tax = tax.Add(lines[i].Tax.Tax)
		}
		base := subtotal
		if !opts.TaxInclusive {
			base = base.Add(tax)
		}
		applied = ApplyDiscount(base, discount)
		for i, share := range allocate(applied.Amount, amounts) {
			lines[i].OrderDiscount = share
			lines[i].Amount = lines[i].Amount.Sub(share)
		}
	default:
		applied = ApplyDiscount(subtotal, discount)
		for i, share := range allocate(applied.Amount, raws) {
			lines[i] = finishPreTax(lines[i], items[i], opts.TaxInclusive, share)
		}
	}

	var gross, lineDiscounts, exactGrand money.Money
	var tax TaxBreakdown
	for _, l := range lines {
		gross = gross.Add(l.Gross)
		lineDiscounts = lineDiscounts.Add(l.LineDiscount)
		tax = tax.Add(l.Tax)
		exactGrand = exactGrand.Add(l.Amount)
	}
	if exactGrand.IsNegative() {
		return Totals{}, errs.InvalidState("grand total %s is negative", exactGrand.Exact())
	}
	if !exactGrand.InRange() || !gross.InRange() {
		return Totals{}, errs.Validation("lineItems", "invoice total exceeds the supported range")
	}

	tax.Inclusive = opts.TaxInclusive
	roundedTax := tax.Rounded()
	out := Totals{
		Gross:           gross.Round(),
		LineDiscounts:   lineDiscounts.Round(),
		Subtotal:        subtotal.Round(),
		DiscountAmount:  applied.Amount.Round(),
		DiscountClamped: applied.Clamped,
		TaxableValue:    roundedTax.Taxable,
		TotalTax:        roundedTax.Tax,
		CGST:            roundedTax.CGST,
		SGST:            roundedTax.SGST,
		TaxInclusive:    opts.TaxInclusive,
		DiscountMode:    mode,
		Lines:           make([]LineResult, len(lines)),
	}
	if mode == DiscountPostTax && !opts.TaxInclusive {
		// A clamped discount rounds from subtotal + tax and may land a
		// paisa above the rounded components.
		out.DiscountAmount = money.Min(out.DiscountAmount, out.Subtotal.Add(out.TotalTax))
	}
	out.GrandTotal = out.Subtotal.Sub(out.DiscountAmount)
	if !opts.TaxInclusive {
		out.GrandTotal = out.GrandTotal.Add(out.TotalTax)
	}
	if out.GrandTotal.IsNegative() {
		return Totals{}, errs.InvalidState("grand total %s is negative", out.GrandTotal)
	}
	for i, l := range lines {
		out.Lines[i] = l.Rounded()
	}
	return out, nil
}

// allocate spreads amount over weights pro rata. The last positive weight
// takes the exact remainder so the shares always sum to amount.
func allocate(amount money.Money, weights []money.Money) []money.Money {
	shares := make([]money.Money, len(weights))
	for i := range shares {
		shares[i] = money.Zero()
	}
	var total money.Money
	last := -1
	for i, w := range weights {
		if w.IsPositive() {
			total = total.Add(w)
			last = i
		}
	}
	if amount.IsZero() || last < 0 {
		return shares
	}
	remaining := amount
	for i, w := range weights {
		if !w.IsPositive() {
			continue
		}
		if i == last {
			shares[i] = remaining
			break
		}
		share := amount.MulRatDecimal(w.Major(), total.Major())
		shares[i] = share
		remaining = remaining.Sub(share)
	}
	return shares
}
