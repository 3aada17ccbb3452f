package events_test

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-billing/internal/events"
	"github.com/noah-isme/backend-billing/internal/obs"
)

func TestAsynqPublisherEnqueuesOncePerEvent(t *testing.T) {
	mr := miniredis.RunT(t)
	client := asynq.NewClient(asynq.RedisClientOpt{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	pub := events.AsynqPublisher{Client: client, Queue: "billing-test", MaxRetry: 3}
	ev := events.Event{
		ID:         "9b1f6c1e-1111-4c1e-9d5f-3c8e2f9a0001",
		Topic:      events.TopicPaymentRecorded,
		InvoiceID:  "inv-7",
		OccurredAt: time.Now().UTC(),
		Payload:    json.RawMessage(`{"amount":"10.00"}`),
	}
	require.NoError(t, pub.Publish(context.Background(), ev))
	require.NoError(t, pub.Publish(context.Background(), ev))

	pending, err := mr.List("asynq:{billing-test}:pending")
	require.NoError(t, err)
	require.Len(t, pending, 1)
}

func TestConsumerProcessTask(t *testing.T) {
	var buf bytes.Buffer
	metrics := obs.NewBillingMetrics("test", prometheus.NewRegistry())
	consumer := events.Consumer{Logger: zerolog.New(&buf), Metrics: metrics}

	body, err := json.Marshal(events.Event{
		ID:        "evt-1",
		Topic:     events.TopicInvoiceSettled,
		InvoiceID: "inv-9",
		Payload:   json.RawMessage(`{"status":"FULLY_PAID"}`),
	})
	require.NoError(t, err)

	require.NoError(t, consumer.ProcessTask(context.Background(), asynq.NewTask(events.TopicInvoiceSettled, body)))
	require.Contains(t, buf.String(), `"invoice_id":"inv-9"`)
	require.Equal(t, 1.0, testutil.ToFloat64(metrics.SettlementEvents.WithLabelValues(events.TopicInvoiceSettled, "handled")))

	err = consumer.ProcessTask(context.Background(), asynq.NewTask(events.TopicInvoiceSettled, []byte("nope")))
	require.ErrorIs(t, err, asynq.SkipRetry)

	err = consumer.ProcessTask(context.Background(), asynq.NewTask(events.TopicPaymentReversed, body))
	require.ErrorIs(t, err, asynq.SkipRetry)
}

func TestConsumerRegistersEveryTopic(t *testing.T) {
	mux := asynq.NewServeMux()
	events.Consumer{Logger: zerolog.Nop()}.Register(mux)
	for _, topic := range events.DefaultTopics() {
		_, pattern := mux.Handler(asynq.NewTask(topic, nil))
		require.Equal(t, topic, pattern)
	}
}

func TestLogNotifierWritesEvent(t *testing.T) {
	var buf bytes.Buffer
	notifier := events.LogNotifier{Logger: zerolog.New(&buf).Level(zerolog.DebugLevel)}
	err := notifier.Notify(context.Background(), events.Event{
		ID:        "ev-1",
		Topic:     events.TopicInvoiceSettled,
		InvoiceID: "inv-9",
	})
	require.NoError(t, err)
	require.Contains(t, buf.String(), `"topic":"invoice.settled"`)
	require.Contains(t, buf.String(), `"invoice_id":"inv-9"`)
}
