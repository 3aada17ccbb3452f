package settlement

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/noah-isme/backend-billing/internal/errs"
	"github.com/noah-isme/backend-billing/internal/money"
)

// Mode is the instrument a payment was made with.
type Mode string

const (
	ModeCash         Mode = "cash"
	ModeCard         Mode = "card"
	ModeUPI          Mode = "upi"
	ModeBankTransfer Mode = "bank_transfer"
	ModeCheque       Mode = "cheque"
	ModeCredit       Mode = "credit"
	ModeOther        Mode = "other"
)

var knownModes = map[Mode]struct{}{
	ModeCash: {}, ModeCard: {}, ModeUPI: {}, ModeBankTransfer: {},
	ModeCheque: {}, ModeCredit: {}, ModeOther: {},
}

// ParseMode normalises a mode name.
func ParseMode(s string) (Mode, error) {
	m := Mode(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := knownModes[m]; !ok {
		return "", errs.Validation("mode", "unknown payment mode %q", s)
	}
	return m, nil
}

// Payment is one entry of an invoice's append-only payment ledger. A reversal
// is a negative-amount entry flagged with Reversal.
type Payment struct {
	ID        string      `json:"id,omitempty"`
	Amount    money.Money `json:"amount"`
	Mode      Mode        `json:"mode"`
	Timestamp time.Time   `json:"timestamp"`
	Reversal  bool        `json:"reversal,omitempty"`
	Reference string      `json:"reference,omitempty"`
}

// Validate checks the shape of a payment on its own. Balance rules are
// enforced by the Tracker.
func (p Payment) Validate() error {
	if _, ok := knownModes[p.Mode]; !ok {
		return errs.Validation("mode", "unknown payment mode %q", string(p.Mode))
	}
	if !p.Amount.IsWhole() {
		return errs.Validation("amount", "%s is not a whole number of paise", p.Amount.Exact())
	}
	if p.Reversal {
		if !p.Amount.IsNegative() {
			return errs.Validation("amount", "reversal amount must be negative")
		}
		return nil
	}
	if !p.Amount.IsPositive() {
		if p.Amount.IsNegative() {
			return errs.Validation("amount", "negative amount must be flagged as a reversal")
		}
		return errs.Validation("amount", "must be greater than zero")
	}
	return nil
}

// ErrOverpayment matches any *OverpaymentError.
var ErrOverpayment = errors.New("overpayment")

// OverpaymentError rejects a payment that would take the amount paid above
// the grand total. MaxAcceptable is the outstanding balance at the time.
type OverpaymentError struct {
	Attempted     money.Money
	MaxAcceptable money.Money
}

func (e *OverpaymentError) Error() string {
	return fmt.Sprintf("payment of %s exceeds outstanding balance, max acceptable %s", e.Attempted, e.MaxAcceptable)
}

func (e *OverpaymentError) Is(target error) bool { return target == ErrOverpayment }
