// Package invoice exposes the billing engine over HTTP: stateless
// calculation and payment checks, plus the optional payment ledger.
package invoice

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/noah-isme/backend-billing/internal/common"
	"github.com/noah-isme/backend-billing/internal/errs"
	"github.com/noah-isme/backend-billing/internal/ledger"
	"github.com/noah-isme/backend-billing/internal/money"
	"github.com/noah-isme/backend-billing/internal/obs"
	"github.com/noah-isme/backend-billing/internal/pricing"
	"github.com/noah-isme/backend-billing/internal/settlement"
)

const instrumentation = "github.com/noah-isme/backend-billing/internal/invoice"

// ErrLedgerDisabled is returned by ledger operations when no journal backend
// is configured.
var ErrLedgerDisabled = errors.New("invoice: ledger not configured")

// Service runs engine calculations for the HTTP handlers.
type Service struct {
	DefaultMode pricing.DiscountMode
	Desk        *ledger.Desk
	Metrics     *obs.BillingMetrics
	Logger      zerolog.Logger

	lineItems metric.Int64Histogram
}

// NewService builds a Service. desk may be nil when the ledger is disabled.
func NewService(defaultMode pricing.DiscountMode, desk *ledger.Desk, metrics *obs.BillingMetrics, logger zerolog.Logger) *Service {
	s := &Service{DefaultMode: defaultMode, Desk: desk, Metrics: metrics, Logger: logger}
	hist, err := otel.Meter(instrumentation).Int64Histogram("billing.invoice.line_items",
		metric.WithDescription("Line items per calculated invoice"),
		metric.WithUnit("{item}"))
	if err == nil {
		s.lineItems = hist
	}
	return s
}

func (s *Service) tracer() trace.Tracer {
	return otel.Tracer(instrumentation)
}

func (s *Service) mode(in Input) (pricing.DiscountMode, error) {
	if in.DiscountMode == "" && s.DefaultMode != "" {
		return s.DefaultMode, nil
	}
	return pricing.ParseDiscountMode(in.DiscountMode)
}

// Calculate prices the invoice and reconciles any payments it carries.
func (s *Service) Calculate(ctx context.Context, in Input) (Result, error) {
	ctx, span := s.tracer().Start(ctx, "InvoiceService.Calculate")
	defer span.End()

	mode, err := s.mode(in)
	result := obs.ResultError
	var grandMinor int64
	defer func() {
		span.SetAttributes(
			attribute.String("billing.discount_mode", string(mode)),
			attribute.Int("billing.line_items", len(in.LineItems)),
			attribute.String("billing.result", result),
		)
		s.Metrics.ObserveCalculation(string(mode), result, grandMinor)
	}()
	if err == nil {
		err = validateStruct(in)
	}
	if err != nil {
		result = obs.ResultInvalid
		return Result{}, err
	}

	totals, err := s.aggregate(ctx, in, mode)
	if err != nil {
		result = classify(err)
		recordSpanError(span, err)
		return Result{}, err
	}
	tracker, err := settlement.NewTracker(totals.GrandTotal, in.Payments)
	if err != nil {
		result = classify(err)
		recordSpanError(span, err)
		return Result{}, err
	}

	result = obs.ResultOK
	grandMinor = totals.GrandTotal.Minor()
	if s.lineItems != nil {
		s.lineItems.Record(ctx, int64(len(in.LineItems)),
			metric.WithAttributes(attribute.String("billing.discount_mode", string(mode))))
	}
	return Result{InvoiceID: in.ID, Totals: totals, Settlement: tracker.Snapshot()}, nil
}

func (s *Service) aggregate(ctx context.Context, in Input, mode pricing.DiscountMode) (pricing.Totals, error) {
	_, span := s.tracer().Start(ctx, "pricing.Aggregate")
	defer span.End()
	totals, err := pricing.Aggregate(in.items(), in.discount(), pricing.Options{
		TaxInclusive: in.TaxInclusive,
		DiscountMode: mode,
	})
	if err != nil {
		recordSpanError(span, err)
		return pricing.Totals{}, err
	}
	span.SetAttributes(attribute.String("billing.grand_total", totals.GrandTotal.String()))
	return totals, nil
}

// grandTotal resolves the total a payment is checked against.
func (s *Service) grandTotal(ctx context.Context, given *money.Money, inv *Input) (money.Money, error) {
	if given != nil {
		return *given, nil
	}
	if inv == nil {
		return money.Zero(), errs.Validation("grandTotal", "grandTotal or invoice is required")
	}
	mode, err := s.mode(*inv)
	if err != nil {
		return money.Zero(), errs.Prefix("invoice", err)
	}
	totals, err := s.aggregate(ctx, *inv, mode)
	if err != nil {
		return money.Zero(), errs.Prefix("invoice", err)
	}
	return totals.GrandTotal, nil
}

// ValidatePayment dry-runs a candidate payment. A refused candidate is a
// successful check with Accepted false; only malformed requests and
// inconsistent ledgers are returned as errors.
func (s *Service) ValidatePayment(ctx context.Context, in PaymentCheckInput) (PaymentCheck, error) {
	ctx, span := s.tracer().Start(ctx, "InvoiceService.ValidatePayment")
	defer span.End()

	if err := validateStruct(in); err != nil {
		s.Metrics.ObservePayment(obs.ResultInvalid)
		return PaymentCheck{}, err
	}
	total, err := s.grandTotal(ctx, in.GrandTotal, in.Invoice)
	if err != nil {
		s.Metrics.ObservePayment(classify(err))
		return PaymentCheck{}, err
	}
	tracker, err := settlement.NewTracker(total, in.Payments)
	if err != nil {
		s.Metrics.ObservePayment(classify(err))
		recordSpanError(span, err)
		return PaymentCheck{}, err
	}

	out := PaymentCheck{MaxAcceptable: tracker.OutstandingBalance()}
	if _, err := tracker.RecordPayment(in.Candidate); err != nil {
		out.Settlement = tracker.Snapshot()
		out.Error = checkError(err)
		s.Metrics.ObservePayment(classify(err))
		span.SetAttributes(attribute.Bool("billing.payment.accepted", false))
		logger := obs.WithTrace(ctx, s.Logger)
		logger.Warn().
			Err(err).
			Str("amount", in.Candidate.Amount.String()).
			Str("max_acceptable", out.MaxAcceptable.String()).
			Msg("payment candidate rejected")
		return out, nil
	}
	out.Accepted = true
	out.Settlement = tracker.Snapshot()
	s.Metrics.ObservePayment(obs.ResultOK)
	span.SetAttributes(attribute.Bool("billing.payment.accepted", true))
	return out, nil
}

// RecordPayment appends a payment to the invoice's ledger.
func (s *Service) RecordPayment(ctx context.Context, invoiceID string, in RecordInput) (ledger.Receipt, error) {
	if s.Desk == nil {
		return ledger.Receipt{}, ErrLedgerDisabled
	}
	ctx, span := s.tracer().Start(ctx, "InvoiceService.RecordPayment",
		trace.WithAttributes(attribute.String("invoice.id", invoiceID)))
	defer span.End()

	if err := validateStruct(in); err != nil {
		s.Metrics.ObservePayment(obs.ResultInvalid)
		return ledger.Receipt{}, err
	}
	total, err := s.grandTotal(ctx, in.GrandTotal, in.Invoice)
	if err != nil {
		s.Metrics.ObservePayment(classify(err))
		return ledger.Receipt{}, err
	}

	start := time.Now()
	receipt, err := s.Desk.Record(ctx, ledger.RecordRequest{InvoiceID: invoiceID, GrandTotal: total, Payment: in.Payment})
	span.SetAttributes(attribute.Float64("billing.ledger.duration_ms", obs.DurationMillis(time.Since(start))))
	if err != nil {
		result := classify(err)
		s.Metrics.ObservePayment(result)
		recordSpanError(span, err)
		logger := obs.WithTrace(ctx, s.Logger)
		if result == obs.ResultError {
			logger.Error().Err(err).Str("invoice_id", invoiceID).Msg("record payment")
		} else {
			logger.Warn().Err(err).Str("invoice_id", invoiceID).Msg("payment rejected")
		}
		return ledger.Receipt{}, err
	}
	s.Metrics.ObservePayment(obs.ResultOK)
	return receipt, nil
}

// Ledger is the journal of an invoice, with its settlement state when the
// grand total is known.
type Ledger struct {
	InvoiceID  string               `json:"invoiceId"`
	Payments   []settlement.Payment `json:"payments"`
	Paid       money.Money          `json:"paid"`
	Settlement *settlement.State    `json:"settlement,omitempty"`
}

// Payments lists the journal of invoiceID. grandTotal may be nil.
func (s *Service) Payments(ctx context.Context, invoiceID string, grandTotal *money.Money) (Ledger, error) {
	if s.Desk == nil {
		return Ledger{}, ErrLedgerDisabled
	}
	ctx, span := s.tracer().Start(ctx, "InvoiceService.Payments",
		trace.WithAttributes(attribute.String("invoice.id", invoiceID)))
	defer span.End()

	payments, err := s.Desk.Payments(ctx, invoiceID)
	if err != nil {
		recordSpanError(span, err)
		return Ledger{}, err
	}
	out := Ledger{InvoiceID: invoiceID, Payments: payments, Paid: money.Zero()}
	for _, p := range payments {
		out.Paid = out.Paid.Add(p.Amount)
	}
	if out.Payments == nil {
		out.Payments = []settlement.Payment{}
	}
	if grandTotal != nil {
		tracker, err := settlement.NewTracker(*grandTotal, payments)
		if err != nil {
			return Ledger{}, err
		}
		state := tracker.Snapshot()
		out.Settlement = &state
	}
	return out, nil
}

func classify(err error) string {
	switch {
	case err == nil:
		return obs.ResultOK
	case errors.Is(err, settlement.ErrOverpayment):
		return obs.ResultRejected
	case errors.Is(err, errs.ErrValidation), errors.Is(err, errs.ErrInvalidState):
		return obs.ResultInvalid
	default:
		return obs.ResultError
	}
}

func checkError(err error) *CheckError {
	var verr *errs.ValidationError
	switch {
	case errors.Is(err, settlement.ErrOverpayment):
		return &CheckError{Code: common.CodeOverpayment, Message: err.Error()}
	case errors.As(err, &verr):
		return &CheckError{Code: common.CodeValidationFailed, Message: verr.Error(), Field: verr.Field}
	default:
		return &CheckError{Code: common.CodeInvalidState, Message: err.Error()}
	}
}

func recordSpanError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
