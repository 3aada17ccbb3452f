// Package lock provides a Redis-backed mutual exclusion section keyed by
// string.
package lock

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/noah-isme/backend-billing/internal/resilience"
)

// maxRetryWait caps the wait between acquisition attempts.
const maxRetryWait = time.Second

// ErrLockLost is returned when the lock expired before the section finished.
var ErrLockLost = errors.New("lock: lost before release")

var releaseScript = redis.NewScript(`if redis.call("get", KEYS[1]) == ARGV[1] then
  return redis.call("del", KEYS[1])
else
  return 0
end`)

// Locker provides a Redis-backed distributed lock.
type Locker struct {
	R            redis.Cmdable
	RetryBackoff time.Duration
}

// Held identifies an acquired lock. Writes that must only happen while the
// lock is held can compare Token with the value stored at Key.
type Held struct {
	Key   string
	Token string
}

type heldKey struct{}

// FromContext returns the lock held by the enclosing WithLock call.
func FromContext(ctx context.Context) (Held, bool) {
	h, ok := ctx.Value(heldKey{}).(Held)
	return h, ok
}

// WithLock executes fn while holding a lock for the provided key. The lock is
// released automatically even if fn returns an error. Acquisition retries
// with jittered exponential backoff starting at RetryBackoff until ctx ends. If fn
// succeeds but the lock had already expired, ErrLockLost is returned.
func (l Locker) WithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error {
	if l.R == nil {
		return errors.New("lock: redis client not configured")
	}
	if fn == nil {
		return errors.New("lock: callback not provided")
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	token := uuid.NewString()
	retry := l.RetryBackoff
	if retry <= 0 {
		retry = 50 * time.Millisecond
	}

	for attempt := 1; ; attempt++ {
		ok, err := l.R.SetNX(ctx, key, token, ttl).Result()
		if err != nil {
			return err
		}
		if ok {
			break
		}
		timer := time.NewTimer(min(resilience.Backoff(retry, attempt, 0.2), maxRetryWait))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	fnErr := fn(context.WithValue(ctx, heldKey{}, Held{Key: key, Token: token}))
	released, err := releaseScript.Run(context.WithoutCancel(ctx), l.R, []string{key}, token).Int()
	switch {
	case fnErr != nil:
		return fnErr
	case err != nil:
		return err
	case released == 0:
		return ErrLockLost
	}
	return nil
}
