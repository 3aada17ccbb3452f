package pricing_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-billing/internal/errs"
	"github.com/noah-isme/backend-billing/internal/money"
	"github.com/noah-isme/backend-billing/internal/pricing"
)

func mustLine(t *testing.T, qty int64, price, rate string, opts ...pricing.LineOption) pricing.LineItem {
	t.Helper()
	it, err := pricing.NewLineItem(qty, money.MustParse(price), gst(rate, false), opts...)
	require.NoError(t, err)
	return it
}

func TestComputeLineExclusive(t *testing.T) {
	item := mustLine(t, 2, "100", "18")
	res := pricing.ComputeLine(item, false).Rounded()
	assert.Equal(t, "200.00", res.Raw.String())
	assert.Equal(t, "36.00", res.Tax.Tax.String())
	assert.Equal(t, "18.00", res.Tax.CGST.String())
	assert.Equal(t, "18.00", res.Tax.SGST.String())
	assert.Equal(t, "236.00", res.Amount.String())
	assert.Equal(t, "236.00", pricing.ComputeLineAmount(item, false).String())
}

func TestComputeLineInclusive(t *testing.T) {
	item := mustLine(t, 1, "236", "18")
	res := pricing.ComputeLine(item, true).Rounded()
	assert.Equal(t, "236.00", res.Amount.String())
	assert.Equal(t, "200.00", res.Tax.Taxable.String())
	assert.Equal(t, "36.00", res.Tax.Tax.String())
}

func TestLooseUnitsArePricedPerPackFraction(t *testing.T) {
	// One full strip plus 3 loose tablets from a 10-tablet strip at 45.50.
	item := mustLine(t, 1, "45.50", "0", pricing.WithLoose(3, 10))
	assert.Equal(t, "1.3", item.EffectiveQuantity().String())
	assert.Equal(t, "59.15", item.Gross().String())

	// A third of a pack keeps sub-paisa precision until display.
	third := mustLine(t, 0, "1.00", "0", pricing.WithLoose(1, 3))
	assert.Equal(t, "0.33", third.Gross().String())
	assert.False(t, third.Gross().IsWhole())
}

func TestLineDiscountAppliesBeforeTax(t *testing.T) {
	item := mustLine(t, 4, "50", "12", pricing.WithLineDiscount(pricing.PercentOff("25")))
	res := pricing.ComputeLine(item, false).Rounded()
	assert.Equal(t, "200.00", res.Gross.String())
	assert.Equal(t, "50.00", res.LineDiscount.String())
	assert.Equal(t, "150.00", res.Raw.String())
	assert.Equal(t, "18.00", res.Tax.Tax.String())
	assert.Equal(t, "168.00", res.Amount.String())
}

func TestNewLineItemValidation(t *testing.T) {
	tests := []struct {
		name  string
		qty   int64
		price string
		rate  string
		opts  []pricing.LineOption
		field string
	}{
		{name: "negative quantity", qty: -1, price: "10", rate: "5", field: "quantity"},
		{name: "negative price", qty: 1, price: "-10", rate: "5", field: "unitPrice"},
		{name: "rate above 100", qty: 1, price: "10", rate: "150", field: "taxRate.percentage"},
		{name: "loose without pack", qty: 1, price: "10", rate: "5", opts: []pricing.LineOption{pricing.WithLoose(2, 0)}, field: "packSize"},
		{name: "loose beyond pack", qty: 1, price: "10", rate: "5", opts: []pricing.LineOption{pricing.WithLoose(11, 10)}, field: "looseUnits"},
		{name: "bad line discount", qty: 1, price: "10", rate: "5", opts: []pricing.LineOption{pricing.WithLineDiscount(pricing.PercentOff("101"))}, field: "discount.value"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := pricing.NewLineItem(tt.qty, money.MustParse(tt.price), gst(tt.rate, false), tt.opts...)
			var verr *errs.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)
		})
	}
}
