package ledger_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-billing/internal/errs"
	"github.com/noah-isme/backend-billing/internal/events"
	"github.com/noah-isme/backend-billing/internal/ledger"
	"github.com/noah-isme/backend-billing/internal/lock"
	"github.com/noah-isme/backend-billing/internal/money"
	"github.com/noah-isme/backend-billing/internal/settlement"
)

type recordingEmitter struct {
	mu     sync.Mutex
	topics []string
}

func (r *recordingEmitter) Emit(_ context.Context, topic, invoiceID string, _ any) (events.Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.topics = append(r.topics, topic)
	return events.Event{Topic: topic, InvoiceID: invoiceID}, nil
}

func redisStore(t *testing.T) ledger.RedisStore {
	store, _ := redisStoreWithServer(t)
	return store
}

func redisStoreWithServer(t *testing.T) (ledger.RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return ledger.RedisStore{
		Client:  rdb,
		Locker:  lock.Locker{R: rdb, RetryBackoff: 5 * time.Millisecond},
		LockTTL: 5 * time.Second,
	}, mr
}

// slowAppendStore lets the lock expire right after the journal write.
type slowAppendStore struct {
	ledger.RedisStore
	mr *miniredis.Miniredis
}

func (s slowAppendStore) Append(ctx context.Context, invoiceID string, p settlement.Payment) error {
	if err := s.RedisStore.Append(ctx, invoiceID, p); err != nil {
		return err
	}
	s.mr.FastForward(10 * time.Second)
	return nil
}

func stores(t *testing.T) map[string]ledger.Store {
	return map[string]ledger.Store{
		"memory": ledger.NewMemoryStore(),
		"redis":  redisStore(t),
	}
}

func pay(amount string) settlement.Payment {
	return settlement.Payment{Amount: money.MustParse(amount), Mode: settlement.ModeUPI}
}

func TestDeskRecordsUntilSettled(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			emitter := &recordingEmitter{}
			desk := &ledger.Desk{Store: store, Events: emitter}
			ctx := context.Background()
			total := money.MustParse("1000")

			r, err := desk.Record(ctx, ledger.RecordRequest{InvoiceID: "inv-1", GrandTotal: total, Payment: pay("400")})
			require.NoError(t, err)
			assert.NotEmpty(t, r.Payment.ID)
			assert.False(t, r.Payment.Timestamp.IsZero())
			assert.Equal(t, settlement.StatusPartiallyPaid, r.State.Status)

			r, err = desk.Record(ctx, ledger.RecordRequest{InvoiceID: "inv-1", GrandTotal: total, Payment: pay("600")})
			require.NoError(t, err)
			assert.Equal(t, settlement.StatusFullyPaid, r.State.Status)
			assert.True(t, r.State.Final)

			_, err = desk.Record(ctx, ledger.RecordRequest{InvoiceID: "inv-1", GrandTotal: total, Payment: pay("0.01")})
			var over *settlement.OverpaymentError
			require.ErrorAs(t, err, &over)
			assert.True(t, over.MaxAcceptable.IsZero())

			payments, err := desk.Payments(ctx, "inv-1")
			require.NoError(t, err)
			require.Len(t, payments, 2)
			assert.True(t, payments[0].Amount.Equal(money.MustParse("400")))

			assert.Equal(t, []string{
				events.TopicPaymentRecorded,
				events.TopicPaymentRecorded,
				events.TopicInvoiceSettled,
			}, emitter.topics)
		})
	}
}

func TestDeskReversalReopensInvoice(t *testing.T) {
	emitter := &recordingEmitter{}
	desk := &ledger.Desk{Store: ledger.NewMemoryStore(), Events: emitter}
	ctx := context.Background()
	total := money.MustParse("500")

	_, err := desk.Record(ctx, ledger.RecordRequest{InvoiceID: "inv-r", GrandTotal: total, Payment: pay("500")})
	require.NoError(t, err)

	rev := pay("-200")
	rev.Reversal = true
	r, err := desk.Record(ctx, ledger.RecordRequest{InvoiceID: "inv-r", GrandTotal: total, Payment: rev})
	require.NoError(t, err)
	assert.Equal(t, settlement.StatusPartiallyPaid, r.State.Status)
	assert.Equal(t, "200.00", r.State.Outstanding.String())
	assert.Equal(t, events.TopicPaymentReversed, emitter.topics[len(emitter.topics)-1])
}

func TestDeskConcurrentPaymentsNeverOverpay(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			desk := &ledger.Desk{Store: store}
			total := money.MustParse("1000")

			var wg sync.WaitGroup
			results := make(chan error, 5)
			for i := 0; i < 5; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, err := desk.Record(context.Background(), ledger.RecordRequest{
						InvoiceID: "inv-c", GrandTotal: total, Payment: pay("600"),
					})
					results <- err
				}()
			}
			wg.Wait()
			close(results)

			accepted := 0
			for err := range results {
				if err == nil {
					accepted++
					continue
				}
				assert.ErrorIs(t, err, settlement.ErrOverpayment)
			}
			assert.Equal(t, 1, accepted)

			state, err := desk.State(context.Background(), "inv-c", total)
			require.NoError(t, err)
			assert.Equal(t, "600.00", state.Paid.String())
		})
	}
}

func TestDeskRejectsLedgerAboveNewTotal(t *testing.T) {
	desk := &ledger.Desk{Store: ledger.NewMemoryStore()}
	ctx := context.Background()
	_, err := desk.Record(ctx, ledger.RecordRequest{InvoiceID: "inv-s", GrandTotal: money.MustParse("800"), Payment: pay("700")})
	require.NoError(t, err)

	_, err = desk.Record(ctx, ledger.RecordRequest{InvoiceID: "inv-s", GrandTotal: money.MustParse("500"), Payment: pay("1")})
	assert.ErrorIs(t, err, errs.ErrInvalidState)
}

func TestDeskRequiresInvoiceID(t *testing.T) {
	desk := &ledger.Desk{Store: ledger.NewMemoryStore()}
	_, err := desk.Record(context.Background(), ledger.RecordRequest{GrandTotal: money.MustParse("10"), Payment: pay("1")})
	var verr *errs.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "invoiceId", verr.Field)
}

func TestAppendOutsideSection(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			err := store.Append(context.Background(), "inv-x", pay("1"))
			assert.ErrorIs(t, err, ledger.ErrNotSerialized)
		})
	}
	err := ledger.PostgresStore{}.Append(context.Background(), "inv-x", pay("1"))
	assert.ErrorIs(t, err, ledger.ErrNotSerialized)
}

func TestRedisAppendFencedByLockToken(t *testing.T) {
	store := redisStore(t)
	ctx := context.Background()

	err := store.WithInvoice(ctx, "inv-f", func(ctx context.Context) error {
		held, ok := lock.FromContext(ctx)
		require.True(t, ok)
		// Another writer took over after expiry.
		require.NoError(t, store.Client.Set(ctx, held.Key, "someone-else", time.Minute).Err())
		return store.Append(ctx, "inv-f", pay("1"))
	})
	assert.True(t, errors.Is(err, lock.ErrLockLost))

	payments, err := store.Payments(ctx, "inv-f")
	require.NoError(t, err)
	assert.Empty(t, payments)
}

func TestMemorySectionHonoursContext(t *testing.T) {
	store := ledger.NewMemoryStore()
	entered := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = store.WithInvoice(context.Background(), "inv-m", func(context.Context) error {
			close(entered)
			<-release
			return nil
		})
	}()
	<-entered
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := store.WithInvoice(ctx, "inv-m", func(context.Context) error { return nil })
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRedisLockExpiryAfterAppendKeepsPayment(t *testing.T) {
	inner, mr := redisStoreWithServer(t)
	emitter := &recordingEmitter{}
	desk := &ledger.Desk{Store: slowAppendStore{RedisStore: inner, mr: mr}, Events: emitter}
	ctx := context.Background()

	p := pay("400")
	p.ID = "pay-1"
	receipt, err := desk.Record(ctx, ledger.RecordRequest{InvoiceID: "inv-ttl", GrandTotal: money.MustParse("1000"), Payment: p})
	require.NoError(t, err)
	assert.False(t, receipt.Replayed)
	assert.Equal(t, "600.00", receipt.State.Outstanding.String())
	assert.Equal(t, []string{events.TopicPaymentRecorded}, emitter.topics)

	// A client retry of the same payment is answered from the journal.
	again, err := desk.Record(ctx, ledger.RecordRequest{InvoiceID: "inv-ttl", GrandTotal: money.MustParse("1000"), Payment: p})
	require.NoError(t, err)
	assert.True(t, again.Replayed)
	assert.Equal(t, "600.00", again.State.Outstanding.String())

	payments, err := inner.Payments(ctx, "inv-ttl")
	require.NoError(t, err)
	assert.Len(t, payments, 1)
	assert.Len(t, emitter.topics, 1)
}

func TestDeskDeduplicatesPaymentID(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			emitter := &recordingEmitter{}
			desk := &ledger.Desk{Store: store, Events: emitter}
			ctx := context.Background()
			req := ledger.RecordRequest{InvoiceID: "inv-dup", GrandTotal: money.MustParse("500")}

			req.Payment = pay("500")
			req.Payment.ID = "pay-dup"
			first, err := desk.Record(ctx, req)
			require.NoError(t, err)
			assert.True(t, first.State.Final)

			replay, err := desk.Record(ctx, req)
			require.NoError(t, err)
			assert.True(t, replay.Replayed)
			assert.Equal(t, first.Payment.Timestamp.Unix(), replay.Payment.Timestamp.Unix())

			req.Payment.Amount = money.MustParse("250")
			_, err = desk.Record(ctx, req)
			assert.ErrorIs(t, err, errs.ErrInvalidState)

			payments, err := store.Payments(ctx, "inv-dup")
			require.NoError(t, err)
			assert.Len(t, payments, 1)
			assert.Equal(t, []string{events.TopicPaymentRecorded, events.TopicInvoiceSettled}, emitter.topics)
		})
	}
}
