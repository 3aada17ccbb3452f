// Package events publishes settlement events for asynchronous consumers.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/noah-isme/backend-billing/internal/obs"
)

// Event is the envelope delivered to consumers.
type Event struct {
	ID         string          `json:"id"`
	Topic      string          `json:"topic"`
	InvoiceID  string          `json:"invoiceId"`
	OccurredAt time.Time       `json:"occurredAt"`
	Payload    json.RawMessage `json:"payload"`
}

// Publisher hands events to a transport.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// Notifier reacts to emitted events in-process (e.g. logging).
type Notifier interface {
	Notify(ctx context.Context, event Event) error
}

// NopPublisher discards events. Used when settlement events are disabled.
type NopPublisher struct{}

// Publish implements Publisher.
func (NopPublisher) Publish(context.Context, Event) error { return nil }

// Bus stamps events and fans them out to the publisher and notifiers.
type Bus struct {
	Publisher Publisher
	Notifiers []Notifier
	Metrics   *obs.BillingMetrics
	Now       func() time.Time
}

// Emit builds the event and dispatches it to all configured handlers. The
// returned error joins every failure; the event is still returned.
func (b *Bus) Emit(ctx context.Context, topic, invoiceID string, payload any) (Event, error) {
	if b == nil || b.Publisher == nil {
		return Event{}, errors.New("events: publisher not configured")
	}
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return Event{}, errors.New("events: topic is required")
	}
	if strings.TrimSpace(invoiceID) == "" {
		return Event{}, errors.New("events: invoice id is required")
	}
	encoded, err := encodePayload(payload)
	if err != nil {
		return Event{}, fmt.Errorf("events: encode payload: %w", err)
	}
	now := time.Now
	if b.Now != nil {
		now = b.Now
	}
	ev := Event{
		ID:         uuid.NewString(),
		Topic:      topic,
		InvoiceID:  invoiceID,
		OccurredAt: now().UTC(),
		Payload:    encoded,
	}

	var joined error
	if pubErr := b.Publisher.Publish(ctx, ev); pubErr != nil {
		joined = fmt.Errorf("events: publish: %w", pubErr)
		b.Metrics.ObserveEvent(topic, obs.ResultError)
	} else {
		b.Metrics.ObserveEvent(topic, obs.ResultOK)
	}
	for _, notifier := range b.Notifiers {
		if notifier == nil {
			continue
		}
		if notifyErr := notifier.Notify(ctx, ev); notifyErr != nil {
			joined = errors.Join(joined, fmt.Errorf("events: notifier: %w", notifyErr))
		}
	}
	return ev, joined
}

func encodePayload(payload any) ([]byte, error) {
	if payload == nil {
		return []byte("{}"), nil
	}
	switch v := payload.(type) {
	case []byte:
		return validJSON(v)
	case json.RawMessage:
		return validJSON(v)
	case string:
		return validJSON([]byte(strings.TrimSpace(v)))
	default:
		return json.Marshal(v)
	}
}

func validJSON(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return []byte("{}"), nil
	}
	if !json.Valid(data) {
		return nil, errors.New("payload is not valid json")
	}
	return append([]byte(nil), data...), nil
}
