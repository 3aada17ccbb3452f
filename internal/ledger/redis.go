package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/noah-isme/backend-billing/internal/lock"
	"github.com/noah-isme/backend-billing/internal/settlement"
)

// appendScript pushes ARGV[2] onto KEYS[2] only while KEYS[1] still holds
// the lock token ARGV[1].
var appendScript = redis.NewScript(`if redis.call("get", KEYS[1]) ~= ARGV[1] then
  return -1
end
return redis.call("rpush", KEYS[2], ARGV[2])`)

// RedisStore keeps each journal as a Redis list of JSON payments and
// serializes writers with a token lock.
type RedisStore struct {
	Client  redis.Cmdable
	Locker  lock.Locker
	LockTTL time.Duration
	Prefix  string
}

func (s RedisStore) journalKey(invoiceID string) string {
	return s.prefix() + "journal:" + invoiceID
}

func (s RedisStore) lockKey(invoiceID string) string {
	return s.prefix() + "lock:" + invoiceID
}

func (s RedisStore) prefix() string {
	if s.Prefix == "" {
		return "billing:ledger:"
	}
	return s.Prefix
}

type committedKey struct{}

// WithInvoice implements Serializer. A lock that expires after the fenced
// append has committed does not fail the section: the append proves the
// lock was held when the journal changed, and reporting the loss would make
// the caller retry a payment that is already recorded.
func (s RedisStore) WithInvoice(ctx context.Context, invoiceID string, fn func(ctx context.Context) error) error {
	committed := new(atomic.Bool)
	err := s.Locker.WithLock(ctx, s.lockKey(invoiceID), s.LockTTL, func(ctx context.Context) error {
		return fn(context.WithValue(ctx, committedKey{}, committed))
	})
	if errors.Is(err, lock.ErrLockLost) && committed.Load() {
		return nil
	}
	return err
}

// Payments implements Journal.
func (s RedisStore) Payments(ctx context.Context, invoiceID string) ([]settlement.Payment, error) {
	raw, err := s.Client.LRange(ctx, s.journalKey(invoiceID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("ledger: read journal: %w", err)
	}
	out := make([]settlement.Payment, 0, len(raw))
	for i, item := range raw {
		var p settlement.Payment
		if err := json.Unmarshal([]byte(item), &p); err != nil {
			return nil, fmt.Errorf("ledger: decode journal entry %d: %w", i, err)
		}
		out = append(out, p)
	}
	return out, nil
}

// Append implements Journal. The write is fenced by the lock token, so an
// expired section cannot append.
func (s RedisStore) Append(ctx context.Context, invoiceID string, p settlement.Payment) error {
	held, ok := lock.FromContext(ctx)
	if !ok || held.Key != s.lockKey(invoiceID) {
		return ErrNotSerialized
	}
	body, err := json.Marshal(p)
	if err != nil {
		return err
	}
	n, err := appendScript.Run(ctx, s.Client, []string{held.Key, s.journalKey(invoiceID)}, held.Token, body).Int64()
	if err != nil {
		return fmt.Errorf("ledger: append: %w", err)
	}
	if n < 0 {
		return lock.ErrLockLost
	}
	if committed, ok := ctx.Value(committedKey{}).(*atomic.Bool); ok {
		committed.Store(true)
	}
	return nil
}
