package invoice

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/noah-isme/backend-billing/internal/common"
	"github.com/noah-isme/backend-billing/internal/errs"
	"github.com/noah-isme/backend-billing/internal/lock"
	"github.com/noah-isme/backend-billing/internal/money"
	"github.com/noah-isme/backend-billing/internal/settlement"
)

// Handler serves the invoice API.
type Handler struct {
	Svc *Service
}

// Routes mounts the handlers on r. paymentMW wraps the ledger POST only,
// e.g. with idempotency protection. Ledger routes are mounted only when the
// service has a ledger.
func (h *Handler) Routes(r chi.Router, paymentMW ...func(http.Handler) http.Handler) {
	r.Post("/invoices/calculate", h.Calculate)
	r.Post("/invoices/payments/validate", h.ValidatePayment)
	if h.Svc == nil || h.Svc.Desk == nil {
		return
	}
	r.Get("/invoices/{invoiceId}/payments", h.ListPayments)
	r.With(paymentMW...).Post("/invoices/{invoiceId}/payments", h.RecordPayment)
}

// Calculate handles POST /invoices/calculate.
func (h *Handler) Calculate(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, common.CodeInternal, "invoice service not configured", nil)
		return
	}
	var in Input
	if err := common.DecodeJSON(r.Body, &in); err != nil {
		writeError(w, err)
		return
	}
	out, err := h.Svc.Calculate(r.Context(), in)
	if err != nil {
		writeError(w, err)
		return
	}
	common.Data(w, http.StatusOK, out)
}

// ValidatePayment handles POST /invoices/payments/validate.
func (h *Handler) ValidatePayment(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, common.CodeInternal, "invoice service not configured", nil)
		return
	}
	var in PaymentCheckInput
	if err := common.DecodeJSON(r.Body, &in); err != nil {
		writeError(w, err)
		return
	}
	out, err := h.Svc.ValidatePayment(r.Context(), in)
	if err != nil {
		writeError(w, err)
		return
	}
	common.Data(w, http.StatusOK, out)
}

// RecordPayment handles POST /invoices/{invoiceId}/payments.
func (h *Handler) RecordPayment(w http.ResponseWriter, r *http.Request) {
	var in RecordInput
	if err := common.DecodeJSON(r.Body, &in); err != nil {
		writeError(w, err)
		return
	}
	invoiceID := chi.URLParam(r, "invoiceId")
	if in.Payment.ID == "" {
		in.Payment.ID = paymentIDFromKey(invoiceID, r.Header.Get(common.IdempotencyHeader))
	}
	out, err := h.Svc.RecordPayment(r.Context(), invoiceID, in)
	if err != nil {
		writeError(w, err)
		return
	}
	status := http.StatusCreated
	if out.Replayed {
		status = http.StatusOK
	}
	common.Data(w, status, out)
}

// paymentIDFromKey derives a stable payment id from the client's
// Idempotency-Key, so a retried request finds the payment it already
// recorded instead of minting a new one. Empty without a key.
func paymentIDFromKey(invoiceID, key string) string {
	key = strings.TrimSpace(key)
	if key == "" {
		return ""
	}
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("billing:payment:"+invoiceID+"\x00"+key)).String()
}

// ListPayments handles GET /invoices/{invoiceId}/payments. The optional
// grandTotal query parameter adds the settlement state.
func (h *Handler) ListPayments(w http.ResponseWriter, r *http.Request) {
	var total *money.Money
	if raw := strings.TrimSpace(r.URL.Query().Get("grandTotal")); raw != "" {
		parsed, err := money.Parse(raw)
		if err != nil {
			writeError(w, errs.Validation("grandTotal", "invalid amount %q", raw))
			return
		}
		total = &parsed
	}
	out, err := h.Svc.Payments(r.Context(), chi.URLParam(r, "invoiceId"), total)
	if err != nil {
		writeError(w, err)
		return
	}
	common.Data(w, http.StatusOK, out)
}

// writeError maps engine errors onto the API error shape.
func writeError(w http.ResponseWriter, err error) {
	var (
		over  *settlement.OverpaymentError
		verr  *errs.ValidationError
		state *errs.InvalidStateError
	)
	switch {
	case common.IsAppError(err):
		common.WriteAppError(w, err)
	case errors.As(err, &over):
		common.JSONError(w, http.StatusConflict, common.CodeOverpayment, over.Error(), map[string]any{
			"attempted":     over.Attempted,
			"maxAcceptable": over.MaxAcceptable,
		})
	case errors.As(err, &verr):
		var details any
		if verr.Field != "" {
			details = map[string]string{"field": verr.Field}
		}
		common.JSONError(w, http.StatusUnprocessableEntity, common.CodeValidationFailed, verr.Error(), details)
	case errors.As(err, &state):
		common.JSONError(w, http.StatusConflict, common.CodeInvalidState, state.Error(), nil)
	case errors.Is(err, ErrLedgerDisabled):
		common.JSONError(w, http.StatusNotFound, common.CodeNotFound, "payment ledger is not enabled", nil)
	case errors.Is(err, lock.ErrLockLost):
		common.JSONError(w, http.StatusServiceUnavailable, common.CodeLedgerBusy, "ledger section expired, retry the payment", nil)
	default:
		common.WriteAppError(w, err)
	}
}
