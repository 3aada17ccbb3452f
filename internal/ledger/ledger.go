// Package ledger journals invoice payments and serializes writers per
// invoice, so settlement checks always run against the latest payment list.
package ledger

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-billing/internal/errs"
	"github.com/noah-isme/backend-billing/internal/events"
	"github.com/noah-isme/backend-billing/internal/money"
	"github.com/noah-isme/backend-billing/internal/obs"
	"github.com/noah-isme/backend-billing/internal/settlement"
)

// ErrNotSerialized is returned by Append when it is called outside
// Serializer.WithInvoice.
var ErrNotSerialized = errors.New("ledger: append outside invoice section")

// Journal is an append-only list of payments per invoice.
type Journal interface {
	Payments(ctx context.Context, invoiceID string) ([]settlement.Payment, error)
	Append(ctx context.Context, invoiceID string, p settlement.Payment) error
}

// Serializer runs fn as the only writer for invoiceID.
type Serializer interface {
	WithInvoice(ctx context.Context, invoiceID string, fn func(ctx context.Context) error) error
}

// Store is a journal that can also serialize its writers.
type Store interface {
	Journal
	Serializer
}

// Emitter publishes settlement events.
type Emitter interface {
	Emit(ctx context.Context, topic, invoiceID string, payload any) (events.Event, error)
}

// Desk records payments against an invoice's grand total.
type Desk struct {
	Store  Store
	Events Emitter
	Logger zerolog.Logger
	Now    func() time.Time
	NewID  func() string
}

// RecordRequest asks for p to be recorded against grandTotal.
type RecordRequest struct {
	InvoiceID  string
	GrandTotal money.Money
	Payment    settlement.Payment
}

// Receipt is the recorded payment and the settlement state after it.
type Receipt struct {
	Payment settlement.Payment `json:"payment"`
	State   settlement.State   `json:"settlement"`
	// Replayed is set when the payment id was already in the journal and
	// nothing was appended.
	Replayed bool `json:"replayed,omitempty"`
}

// PaymentEvent is the payload of every settlement event.
type PaymentEvent struct {
	InvoiceID   string             `json:"invoiceId"`
	Payment     settlement.Payment `json:"payment"`
	Paid        money.Money        `json:"paid"`
	Outstanding money.Money        `json:"outstanding"`
	Status      settlement.Status  `json:"status"`
}

// Record loads the journal, validates the payment with a fresh Tracker and
// appends it, all inside the invoice's single-writer section. Events are
// emitted after the section commits; a failed emit is logged, not returned.
func (d *Desk) Record(ctx context.Context, req RecordRequest) (Receipt, error) {
	if d == nil || d.Store == nil {
		return Receipt{}, errors.New("ledger: store not configured")
	}
	if strings.TrimSpace(req.InvoiceID) == "" {
		return Receipt{}, errs.Validation("invoiceId", "is required")
	}
	p := req.Payment
	if p.ID == "" {
		p.ID = d.newID()
	}

	var receipt Receipt
	err := d.Store.WithInvoice(ctx, req.InvoiceID, func(ctx context.Context) error {
		existing, err := d.Store.Payments(ctx, req.InvoiceID)
		if err != nil {
			return err
		}
		tracker, err := settlement.NewTracker(req.GrandTotal, existing, settlement.WithClock(d.now))
		if err != nil {
			return err
		}
		if prior, ok := findPayment(existing, p.ID); ok {
			if !samePayment(prior, p) {
				return errs.InvalidState("payment %s is already recorded with different terms", p.ID)
			}
			receipt = Receipt{Payment: prior, State: tracker.Snapshot(), Replayed: true}
			return nil
		}
		recorded, err := tracker.RecordPayment(p)
		if err != nil {
			return err
		}
		if err := d.Store.Append(ctx, req.InvoiceID, recorded); err != nil {
			return err
		}
		receipt = Receipt{Payment: recorded, State: tracker.Snapshot()}
		return nil
	})
	if err != nil {
		return Receipt{}, err
	}

	if !receipt.Replayed {
		d.emit(ctx, req.InvoiceID, receipt)
	}
	return receipt, nil
}

func findPayment(journal []settlement.Payment, id string) (settlement.Payment, bool) {
	for _, p := range journal {
		if p.ID == id {
			return p, true
		}
	}
	return settlement.Payment{}, false
}

// samePayment compares the terms a client controls; the timestamp is
// assigned on first record and differs on every retry.
func samePayment(recorded, retry settlement.Payment) bool {
	return recorded.Amount.Equal(retry.Amount) &&
		recorded.Reversal == retry.Reversal &&
		(retry.Mode == "" || strings.EqualFold(string(recorded.Mode), string(retry.Mode)))
}

// State returns the settlement state of invoiceID against grandTotal.
func (d *Desk) State(ctx context.Context, invoiceID string, grandTotal money.Money) (settlement.State, error) {
	payments, err := d.Store.Payments(ctx, invoiceID)
	if err != nil {
		return settlement.State{}, err
	}
	tracker, err := settlement.NewTracker(grandTotal, payments)
	if err != nil {
		return settlement.State{}, err
	}
	return tracker.Snapshot(), nil
}

// Payments returns the journal of invoiceID.
func (d *Desk) Payments(ctx context.Context, invoiceID string) ([]settlement.Payment, error) {
	return d.Store.Payments(ctx, invoiceID)
}

func (d *Desk) emit(ctx context.Context, invoiceID string, r Receipt) {
	if d.Events == nil {
		return
	}
	payload := PaymentEvent{
		InvoiceID:   invoiceID,
		Payment:     r.Payment,
		Paid:        r.State.Paid,
		Outstanding: r.State.Outstanding,
		Status:      r.State.Status,
	}
	topics := []string{events.TopicPaymentRecorded}
	if r.Payment.Reversal {
		topics[0] = events.TopicPaymentReversed
	}
	if r.State.Final {
		topics = append(topics, events.TopicInvoiceSettled)
	}
	for _, topic := range topics {
		if _, err := d.Events.Emit(ctx, topic, invoiceID, payload); err != nil {
			logger := obs.WithTrace(ctx, d.Logger)
			logger.Error().Err(err).
				Str("topic", topic).
				Str("invoice_id", invoiceID).
				Msg("emit settlement event")
		}
	}
}

func (d *Desk) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

func (d *Desk) newID() string {
	if d.NewID != nil {
		return d.NewID()
	}
	return uuid.NewString()
}
