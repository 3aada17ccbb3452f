package pricing_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-billing/internal/errs"
	"github.com/noah-isme/backend-billing/internal/money"
	"github.com/noah-isme/backend-billing/internal/pricing"
)

func TestAggregateDiscountBeforeExclusiveTax(t *testing.T) {
	items := []pricing.LineItem{mustLine(t, 5, "100", "18")}
	totals, err := pricing.Aggregate(items, pricing.PercentOff("10"), pricing.Options{})
	require.NoError(t, err)
	assert.Equal(t, "500.00", totals.Subtotal.String())
	assert.Equal(t, "50.00", totals.DiscountAmount.String())
	assert.Equal(t, "450.00", totals.TaxableValue.String())
	assert.Equal(t, "81.00", totals.TotalTax.String())
	assert.Equal(t, "40.50", totals.CGST.String())
	assert.Equal(t, "40.50", totals.SGST.String())
	assert.Equal(t, "531.00", totals.GrandTotal.String())
	assert.Equal(t, pricing.DiscountPreTax, totals.DiscountMode)
	require.Len(t, totals.Lines, 1)
	assert.Equal(t, "531.00", totals.Lines[0].Amount.String())
}

func TestAggregateModesDiffer(t *testing.T) {
	items := []pricing.LineItem{mustLine(t, 5, "100", "18")}

	pre, err := pricing.Aggregate(items, pricing.AmountOff("50"), pricing.Options{DiscountMode: pricing.DiscountPreTax})
	require.NoError(t, err)
	assert.Equal(t, "81.00", pre.TotalTax.String())
	assert.Equal(t, "531.00", pre.GrandTotal.String())

	post, err := pricing.Aggregate(items, pricing.AmountOff("50"), pricing.Options{DiscountMode: pricing.DiscountPostTax})
	require.NoError(t, err)
	assert.Equal(t, "90.00", post.TotalTax.String())
	assert.Equal(t, "540.00", post.GrandTotal.String())
	assert.Equal(t, "50.00", post.Lines[0].OrderDiscount.String())
	assert.Equal(t, "540.00", post.Lines[0].Amount.String())
}

func TestAggregateInclusive(t *testing.T) {
	items := []pricing.LineItem{mustLine(t, 1, "236", "18")}
	totals, err := pricing.Aggregate(items, pricing.PercentOff("10"), pricing.Options{TaxInclusive: true})
	require.NoError(t, err)
	assert.Equal(t, "236.00", totals.Subtotal.String())
	assert.Equal(t, "23.60", totals.DiscountAmount.String())
	assert.Equal(t, "180.00", totals.TaxableValue.String())
	assert.Equal(t, "32.40", totals.TotalTax.String())
	assert.Equal(t, "212.40", totals.GrandTotal.String())
}

func TestAggregateClampsOversizedDiscount(t *testing.T) {
	items := []pricing.LineItem{mustLine(t, 1, "40", "18")}
	totals, err := pricing.Aggregate(items, pricing.AmountOff("50"), pricing.Options{})
	require.NoError(t, err)
	assert.True(t, totals.DiscountClamped)
	assert.Equal(t, "40.00", totals.DiscountAmount.String())
	assert.Equal(t, "0.00", totals.TotalTax.String())
	assert.Equal(t, "0.00", totals.GrandTotal.String())
}

func TestAggregateMixedRatesSpreadsDiscount(t *testing.T) {
	items := []pricing.LineItem{
		mustLine(t, 1, "100", "5"),
		mustLine(t, 1, "300", "18"),
	}
	totals, err := pricing.Aggregate(items, pricing.AmountOff("40"), pricing.Options{})
	require.NoError(t, err)
	assert.Equal(t, "10.00", totals.Lines[0].OrderDiscount.String())
	assert.Equal(t, "30.00", totals.Lines[1].OrderDiscount.String())
	// 90 × 5% + 270 × 18%
	assert.Equal(t, "53.10", totals.TotalTax.String())
	assert.Equal(t, "413.10", totals.GrandTotal.String())
}

func TestAggregateLineNetsMatchDiscountedSubtotal(t *testing.T) {
	items := []pricing.LineItem{
		mustLine(t, 1, "1", "0"),
		mustLine(t, 1, "1", "0"),
		mustLine(t, 1, "1", "0"),
	}
	totals, err := pricing.Aggregate(items, pricing.AmountOff("1"), pricing.Options{})
	require.NoError(t, err)
	want := totals.Subtotal.Sub(totals.DiscountAmount)
	var nets money.Money
	for _, l := range totals.Lines {
		nets = nets.Add(l.Net)
	}
	assert.LessOrEqual(t, nets.Sub(want).Abs().Minor(), int64(1))
	assert.Equal(t, "2.00", totals.GrandTotal.String())
}

func TestAggregateEmptyInvoice(t *testing.T) {
	totals, err := pricing.Aggregate(nil, pricing.Discount{}, pricing.Options{})
	require.NoError(t, err)
	assert.True(t, totals.GrandTotal.IsZero())
	assert.Empty(t, totals.Lines)
}

func TestAggregateRejectsInvalidInput(t *testing.T) {
	bad := pricing.LineItem{Quantity: -2, UnitPrice: money.MustParse("10")}
	_, err := pricing.Aggregate([]pricing.LineItem{mustLine(t, 1, "10", "5"), bad}, pricing.Discount{}, pricing.Options{})
	var verr *errs.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "lineItems[1].quantity", verr.Field)

	_, err = pricing.Aggregate(nil, pricing.PercentOff("150"), pricing.Options{})
	require.ErrorIs(t, err, errs.ErrValidation)

	_, err = pricing.Aggregate(nil, pricing.Discount{}, pricing.Options{DiscountMode: "sideways"})
	require.ErrorIs(t, err, errs.ErrValidation)
}

func TestAggregateIsIdempotent(t *testing.T) {
	items := sampleItems(t)
	first, err := pricing.Aggregate(items, pricing.PercentOff("7.5"), pricing.Options{})
	require.NoError(t, err)
	second, err := pricing.Aggregate(items, pricing.PercentOff("7.5"), pricing.Options{})
	require.NoError(t, err)
	require.Equal(t, first, second)
}

func TestDiscountMonotonicity(t *testing.T) {
	items := sampleItems(t)
	modes := []pricing.DiscountMode{pricing.DiscountPreTax, pricing.DiscountPostTax}
	for _, mode := range modes {
		for _, inclusive := range []bool{false, true} {
			opts := pricing.Options{TaxInclusive: inclusive, DiscountMode: mode}

			prev := money.Money{}
			for i := 0; i <= 40; i++ {
				d := pricing.Discount{Type: pricing.DiscountPercentage, Value: decimal.New(int64(i)*25, -1)}
				totals, err := pricing.Aggregate(items, d, opts)
				require.NoError(t, err)
				if i > 0 {
					require.LessOrEqual(t, totals.GrandTotal.Cmp(prev), 0, "mode=%s inclusive=%v pct=%s", mode, inclusive, d.Value)
				}
				prev = totals.GrandTotal
			}

			for i := 0; i <= 30; i++ {
				d := pricing.Discount{Type: pricing.DiscountAbsolute, Value: decimal.NewFromInt(int64(i) * 37)}
				totals, err := pricing.Aggregate(items, d, opts)
				require.NoError(t, err)
				if i > 0 {
					require.LessOrEqual(t, totals.GrandTotal.Cmp(prev), 0, "mode=%s inclusive=%v abs=%s", mode, inclusive, d.Value)
				}
				prev = totals.GrandTotal
			}
		}
	}
}

func sampleItems(t *testing.T) []pricing.LineItem {
	t.Helper()
	return []pricing.LineItem{
		mustLine(t, 3, "199.99", "18"),
		mustLine(t, 1, "45.50", "5", pricing.WithLoose(7, 10)),
		mustLine(t, 2, "12.35", "12", pricing.WithLineDiscount(pricing.AmountOff("1.10"))),
	}
}

func TestAggregateRejectsTotalsBeyondRange(t *testing.T) {
	items := []pricing.LineItem{mustLine(t, 1_000_000_000, "999999999", "18")}
	_, err := pricing.Aggregate(items, pricing.Discount{}, pricing.Options{})
	require.ErrorIs(t, err, errs.ErrValidation)
}
