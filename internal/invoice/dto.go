package invoice

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/noah-isme/backend-billing/internal/errs"
	"github.com/noah-isme/backend-billing/internal/money"
	"github.com/noah-isme/backend-billing/internal/pricing"
	"github.com/noah-isme/backend-billing/internal/settlement"
)

// LineItemInput is one line of an invoice request.
type LineItemInput struct {
	Quantity   int64                 `json:"quantity" validate:"gte=0"`
	LooseUnits int64                 `json:"looseUnits,omitempty" validate:"gte=0"`
	PackSize   int64                 `json:"packSize,omitempty" validate:"gte=0"`
	UnitPrice  money.Money           `json:"unitPrice"`
	TaxRate    pricing.TaxRate       `json:"taxRate"`
	Discount   *pricing.LineDiscount `json:"discount,omitempty"`
}

// Input is an invoice as submitted for calculation. Nothing is persisted.
type Input struct {
	ID           string                 `json:"invoiceId,omitempty" validate:"omitempty,max=64"`
	LineItems    []LineItemInput        `json:"lineItems" validate:"max=500,dive"`
	Discount     *pricing.OrderDiscount `json:"discount,omitempty"`
	TaxInclusive bool                   `json:"taxInclusive"`
	DiscountMode string                 `json:"discountMode,omitempty" validate:"omitempty,oneof=pre_tax post_tax"`
	Payments     []settlement.Payment   `json:"payments,omitempty" validate:"max=1000"`
}

// Result is the response of a calculation.
type Result struct {
	InvoiceID  string           `json:"invoiceId,omitempty"`
	Totals     pricing.Totals   `json:"totals"`
	Settlement settlement.State `json:"settlement"`
}

// PaymentCheckInput asks whether Candidate would be accepted on top of
// Payments. The grand total is given directly or computed from Invoice.
type PaymentCheckInput struct {
	GrandTotal *money.Money         `json:"grandTotal,omitempty" validate:"required_without=Invoice"`
	Invoice    *Input               `json:"invoice,omitempty" validate:"required_without=GrandTotal"`
	Payments   []settlement.Payment `json:"payments" validate:"max=1000"`
	Candidate  settlement.Payment   `json:"candidate"`
}

// PaymentCheck is the answer to a PaymentCheckInput. Settlement is the
// state after the candidate when accepted, the current state otherwise.
type PaymentCheck struct {
	Accepted      bool             `json:"accepted"`
	MaxAcceptable money.Money      `json:"maxAcceptable"`
	Settlement    settlement.State `json:"settlement"`
	Error         *CheckError      `json:"error,omitempty"`
}

// CheckError explains why a candidate payment was refused.
type CheckError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

// RecordInput records Payment in an invoice's ledger.
type RecordInput struct {
	GrandTotal *money.Money       `json:"grandTotal,omitempty" validate:"required_without=Invoice"`
	Invoice    *Input             `json:"invoice,omitempty" validate:"required_without=GrandTotal"`
	Payment    settlement.Payment `json:"payment"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		if name == "" {
			return f.Name
		}
		return name
	})
	return v
}

// validateStruct runs the struct tags of v and reports the first failure as
// an errs.ValidationError keyed by its JSON path.
func validateStruct(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return errs.Validation("", "%v", err)
	}
	fe := fieldErrs[0]
	field := fe.Namespace()
	if _, rest, ok := strings.Cut(field, "."); ok {
		field = rest
	}
	return errs.Validation(field, "failed %q constraint", describeTag(fe))
}

func describeTag(fe validator.FieldError) string {
	if fe.Param() == "" {
		return fe.Tag()
	}
	return fe.Tag() + "=" + fe.Param()
}

func (in LineItemInput) lineItem() pricing.LineItem {
	return pricing.LineItem{
		Quantity:   in.Quantity,
		LooseUnits: in.LooseUnits,
		PackSize:   in.PackSize,
		UnitPrice:  in.UnitPrice,
		TaxRate:    in.TaxRate,
		Discount:   in.Discount,
	}
}

func (in Input) items() []pricing.LineItem {
	out := make([]pricing.LineItem, len(in.LineItems))
	for i, li := range in.LineItems {
		out[i] = li.lineItem()
	}
	return out
}

func (in Input) discount() pricing.OrderDiscount {
	if in.Discount == nil {
		return pricing.OrderDiscount{}
	}
	return *in.Discount
}
