// Package settlement reconciles an invoice's grand total against its payments.
//
// A Tracker is not safe for concurrent use. Callers must serialize
// RecordPayment for a given invoice, for example inside a database
// transaction or a per-invoice lock, and build the Tracker from the payment
// list read inside that section.
package settlement

import (
	"fmt"
	"time"

	"github.com/noah-isme/backend-billing/internal/errs"
	"github.com/noah-isme/backend-billing/internal/money"
)

// Status is derived from the outstanding balance; it is never stored.
type Status string

const (
	StatusUnpaid        Status = "UNPAID"
	StatusPartiallyPaid Status = "PARTIALLY_PAID"
	StatusFullyPaid     Status = "FULLY_PAID"
)

// Tracker holds the grand total and the payments recorded against it.
type Tracker struct {
	grandTotal money.Money
	paid       money.Money
	payments   []Payment
	now        func() time.Time
}

// Option customises a Tracker.
type Option func(*Tracker)

// WithClock sets the clock used to stamp payments that carry no timestamp.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		if now != nil {
			t.now = now
		}
	}
}

// NewTracker validates an existing ledger against grandTotal. The running
// sum must stay within [0, grandTotal] after every entry.
func NewTracker(grandTotal money.Money, payments []Payment, opts ...Option) (*Tracker, error) {
	if grandTotal.IsNegative() {
		return nil, errs.InvalidState("grand total %s is negative", grandTotal)
	}
	if !grandTotal.IsWhole() {
		return nil, errs.Validation("grandTotal", "%s is not a whole number of paise", grandTotal.Exact())
	}
	t := &Tracker{
		grandTotal: grandTotal,
		paid:       money.Zero(),
		payments:   make([]Payment, 0, len(payments)),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	for i, p := range payments {
		if err := p.Validate(); err != nil {
			return nil, errs.Prefix(fmt.Sprintf("payments[%d]", i), err)
		}
		next := t.paid.Add(p.Amount)
		if next.Cmp(grandTotal) > 0 {
			return nil, errs.InvalidState("payments[%d] takes amount paid to %s, above grand total %s", i, next, grandTotal)
		}
		if next.IsNegative() {
			return nil, errs.InvalidState("payments[%d] takes amount paid below zero", i)
		}
		t.paid = next
		t.payments = append(t.payments, p)
	}
	return t, nil
}

// Validate reports whether p would be accepted by RecordPayment without
// recording it.
func (t *Tracker) Validate(p Payment) error {
	if err := p.Validate(); err != nil {
		return err
	}
	if p.Reversal {
		if p.Amount.Abs().Cmp(t.paid) > 0 {
			return errs.Validation("amount", "reversal of %s exceeds amount paid %s", p.Amount.Abs(), t.paid)
		}
		return nil
	}
	if t.paid.Add(p.Amount).Cmp(t.grandTotal) > 0 {
		return &OverpaymentError{Attempted: p.Amount, MaxAcceptable: t.OutstandingBalance()}
	}
	return nil
}

// RecordPayment appends p to the ledger. A rejected payment leaves the
// tracker unchanged.
func (t *Tracker) RecordPayment(p Payment) (Payment, error) {
	if err := t.Validate(p); err != nil {
		return Payment{}, err
	}
	if p.Timestamp.IsZero() {
		p.Timestamp = t.now().UTC()
	}
	t.paid = t.paid.Add(p.Amount)
	t.payments = append(t.payments, p)
	return p, nil
}

// GrandTotal returns the amount the invoice settles against.
func (t *Tracker) GrandTotal() money.Money { return t.grandTotal }

// Paid returns the sum of all recorded payments, reversals included.
func (t *Tracker) Paid() money.Money { return t.paid }

// OutstandingBalance returns grandTotal − paid. It is never negative.
func (t *Tracker) OutstandingBalance() money.Money {
	return t.grandTotal.Sub(t.paid)
}

// Status classifies the invoice. A zero grand total is fully paid.
func (t *Tracker) Status() Status {
	outstanding := t.OutstandingBalance()
	switch {
	case outstanding.IsZero():
		return StatusFullyPaid
	case outstanding.Equal(t.grandTotal):
		return StatusUnpaid
	default:
		return StatusPartiallyPaid
	}
}

// IsFinal reports whether the invoice is settled and must no longer be
// edited.
func (t *Tracker) IsFinal() bool { return t.Status() == StatusFullyPaid }

// Payments returns a copy of the ledger.
func (t *Tracker) Payments() []Payment {
	out := make([]Payment, len(t.payments))
	copy(out, t.payments)
	return out
}

// State is a serialisable view of a Tracker.
type State struct {
	GrandTotal  money.Money `json:"grandTotal"`
	Paid        money.Money `json:"paid"`
	Outstanding money.Money `json:"outstanding"`
	Status      Status      `json:"status"`
	Final       bool        `json:"isFinal"`
	Payments    []Payment   `json:"payments"`
}

// Snapshot captures the current state.
func (t *Tracker) Snapshot() State {
	return State{
		GrandTotal:  t.grandTotal,
		Paid:        t.paid,
		Outstanding: t.OutstandingBalance(),
		Status:      t.Status(),
		Final:       t.IsFinal(),
		Payments:    t.Payments(),
	}
}
