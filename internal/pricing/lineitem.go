package pricing

import (
	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-billing/internal/errs"
	"github.com/noah-isme/backend-billing/internal/money"
)

// LineItem is one billing row. Loose units are priced as a fraction of a pack:
// LooseUnits/PackSize of UnitPrice each, where PackSize is product metadata
// supplied by the caller.
type LineItem struct {
	Quantity   int64         `json:"quantity"`
	LooseUnits int64         `json:"looseUnits,omitempty"`
	PackSize   int64         `json:"packSize,omitempty"`
	UnitPrice  money.Money   `json:"unitPrice"`
	TaxRate    TaxRate       `json:"taxRate"`
	Discount   *LineDiscount `json:"discount,omitempty"`
}

// LineOption customises a LineItem built by NewLineItem.
type LineOption func(*LineItem)

// WithLoose sells units loose out of a pack of packSize.
func WithLoose(units, packSize int64) LineOption {
	return func(it *LineItem) {
		it.LooseUnits = units
		it.PackSize = packSize
	}
}

// WithLineDiscount attaches a line-level discount.
func WithLineDiscount(d LineDiscount) LineOption {
	return func(it *LineItem) {
		it.Discount = &d
	}
}

// NewLineItem builds and validates a line. Calculations assume items were
// built here or passed Validate.
func NewLineItem(quantity int64, unitPrice money.Money, rate TaxRate, opts ...LineOption) (LineItem, error) {
	it := LineItem{Quantity: quantity, UnitPrice: unitPrice, TaxRate: rate}
	for _, opt := range opts {
		if opt != nil {
			opt(&it)
		}
	}
	if err := it.Validate(); err != nil {
		return LineItem{}, err
	}
	return it, nil
}

// Validate rejects negative quantities or prices, loose fractions outside
// [0,1] and out-of-range rates.
func (it LineItem) Validate() error {
	if it.Quantity < 0 {
		return errs.Validation("quantity", "must not be negative")
	}
	if it.UnitPrice.IsNegative() {
		return errs.Validation("unitPrice", "must not be negative")
	}
	if it.LooseUnits < 0 {
		return errs.Validation("looseUnits", "must not be negative")
	}
	if it.PackSize < 0 {
		return errs.Validation("packSize", "must not be negative")
	}
	if it.LooseUnits > 0 {
		if it.PackSize == 0 {
			return errs.Validation("packSize", "is required when selling loose units")
		}
		if it.LooseUnits > it.PackSize {
			return errs.Validation("looseUnits", "%d loose units exceed pack size %d", it.LooseUnits, it.PackSize)
		}
	}
	if err := it.TaxRate.Validate(); err != nil {
		return err
	}
	if it.Discount != nil {
		if err := it.Discount.Validate("discount"); err != nil {
			return err
		}
	}
	return nil
}

// EffectiveQuantity returns Quantity + LooseUnits/PackSize.
func (it LineItem) EffectiveQuantity() decimal.Decimal {
	qty := decimal.NewFromInt(it.Quantity)
	if it.LooseUnits == 0 || it.PackSize == 0 {
		return qty
	}
	return qty.Add(decimal.NewFromInt(it.LooseUnits).DivRound(decimal.NewFromInt(it.PackSize), 16))
}

// Gross returns UnitPrice × effective quantity without rounding.
func (it LineItem) Gross() money.Money {
	if it.LooseUnits == 0 || it.PackSize == 0 {
		return it.UnitPrice.MulRat(it.Quantity, 1)
	}
	pack := decimal.NewFromInt(it.PackSize)
	units := decimal.NewFromInt(it.Quantity).Mul(pack).Add(decimal.NewFromInt(it.LooseUnits))
	return it.UnitPrice.MulRatDecimal(units, pack)
}

// LineResult is the computed breakdown of one line.
type LineResult struct {
	Index int `json:"index"`
	// Gross is unit price × effective quantity.
	Gross        money.Money `json:"gross"`
	LineDiscount money.Money `json:"lineDiscount"`
	// Raw is Gross less the line discount: the stated amount of the line.
	Raw money.Money `json:"rawAmount"`
	// OrderDiscount is this line's share of the order-level discount.
	OrderDiscount money.Money `json:"orderDiscount"`
	// Net is the amount tax is computed on.
	Net money.Money  `json:"net"`
	Tax TaxBreakdown `json:"tax"`
	// Amount is what the line contributes to the grand total.
	Amount money.Money `json:"amount"`
}

// Rounded returns the result in whole minor units for display.
func (r LineResult) Rounded() LineResult {
	return LineResult{
		Index:         r.Index,
		Gross:         r.Gross.Round(),
		LineDiscount:  r.LineDiscount.Round(),
		Raw:           r.Raw.Round(),
		OrderDiscount: r.OrderDiscount.Round(),
		Net:           r.Net.Round(),
		Tax:           r.Tax.Rounded(),
		Amount:        r.Amount.Round(),
	}
}

// ComputeLine prices a single line with no order-level discount. The
// invoice-level taxInclusive flag decides whether tax is added on top or
// already embedded in the price.
func ComputeLine(item LineItem, taxInclusive bool) LineResult {
	res := baseLine(item)
	return finishPreTax(res, item, taxInclusive, money.Zero())
}

// ComputeLineAmount returns the exact amount the line contributes to the
// invoice: Raw + tax for exclusive invoices, Raw for inclusive ones.
func ComputeLineAmount(item LineItem, taxInclusive bool) money.Money {
	return ComputeLine(item, taxInclusive).Amount
}

func baseLine(item LineItem) LineResult {
	gross := item.Gross()
	res := LineResult{Gross: gross, LineDiscount: money.Zero(), Raw: gross}
	if item.Discount != nil {
		d := ApplyDiscount(gross, *item.Discount)
		res.LineDiscount = d.Amount
		res.Raw = d.Discounted
	}
	return res
}

func lineRate(item LineItem, taxInclusive bool) TaxRate {
	return TaxRate{Percentage: item.TaxRate.Percentage, Inclusive: taxInclusive}
}

// finishPreTax applies share of the order discount before tax.
func finishPreTax(res LineResult, item LineItem, taxInclusive bool, share money.Money) LineResult {
	res.OrderDiscount = share
	res.Net = res.Raw.Sub(share)
	res.Tax = ComputeTax(res.Net, lineRate(item, taxInclusive))
	res.Amount = res.Tax.Total
	return res
}

// finishPostTax levies tax on the undiscounted line and takes share off the
// taxed amount.
func finishPostTax(res LineResult, item LineItem, taxInclusive bool) LineResult {
	res.OrderDiscount = money.Zero()
	res.Net = res.Raw
	res.Tax = ComputeTax(res.Net, lineRate(item, taxInclusive))
	res.Amount = res.Tax.Total
	return res
}
