package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-billing/internal/obs"
)

// DefaultQueue is the asynq queue settlement events are enqueued on.
const DefaultQueue = "billing"

// AsynqPublisher enqueues each event as an asynq task whose type is the
// topic. The event id doubles as the task id so a retried publish is not
// delivered twice.
type AsynqPublisher struct {
	Client    *asynq.Client
	Queue     string
	MaxRetry  int
	Retention time.Duration
}

// Publish implements Publisher.
func (p AsynqPublisher) Publish(ctx context.Context, event Event) error {
	if p.Client == nil {
		return errors.New("events: asynq client not configured")
	}
	body, err := json.Marshal(event)
	if err != nil {
		return err
	}
	queue := p.Queue
	if queue == "" {
		queue = DefaultQueue
	}
	opts := []asynq.Option{asynq.Queue(queue), asynq.TaskID(event.ID)}
	if p.MaxRetry > 0 {
		opts = append(opts, asynq.MaxRetry(p.MaxRetry))
	}
	if p.Retention > 0 {
		opts = append(opts, asynq.Retention(p.Retention))
	}
	_, err = p.Client.EnqueueContext(ctx, asynq.NewTask(event.Topic, body), opts...)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		return nil
	}
	return err
}

// Consumer handles settlement event tasks on the worker.
type Consumer struct {
	Logger  zerolog.Logger
	Metrics *obs.BillingMetrics
}

// Register binds a handler for every settlement topic on mux.
func (c Consumer) Register(mux *asynq.ServeMux) {
	for _, topic := range DefaultTopics() {
		mux.HandleFunc(topic, c.ProcessTask)
	}
}

// ProcessTask decodes and records one event. Malformed payloads are not
// retried.
func (c Consumer) ProcessTask(ctx context.Context, task *asynq.Task) error {
	var ev Event
	if err := json.Unmarshal(task.Payload(), &ev); err != nil {
		c.Metrics.ObserveEvent(task.Type(), obs.ResultInvalid)
		return fmt.Errorf("decode %s: %v: %w", task.Type(), err, asynq.SkipRetry)
	}
	if ev.Topic != task.Type() {
		c.Metrics.ObserveEvent(task.Type(), obs.ResultInvalid)
		return fmt.Errorf("event topic %q does not match task type %q: %w", ev.Topic, task.Type(), asynq.SkipRetry)
	}

	if len(ev.Payload) == 0 {
		ev.Payload = json.RawMessage("{}")
	}
	logger := obs.WithTrace(ctx, c.Logger)
	logger.Info().
		Str("event_id", ev.ID).
		Str("topic", ev.Topic).
		Str("invoice_id", ev.InvoiceID).
		Time("occurred_at", ev.OccurredAt).
		RawJSON("payload", ev.Payload).
		Msg("settlement_event")
	c.Metrics.ObserveEvent(ev.Topic, "handled")
	return nil
}

// LogNotifier writes each emitted event to the API log at debug level.
type LogNotifier struct {
	Logger zerolog.Logger
}

// Notify implements Notifier.
func (n LogNotifier) Notify(ctx context.Context, event Event) error {
	logger := obs.WithTrace(ctx, n.Logger)
	logger.Debug().
		Str("event_id", event.ID).
		Str("topic", event.Topic).
		Str("invoice_id", event.InvoiceID).
		Msg("settlement_event_emitted")
	return nil
}
