package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	limiter "github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	limiterredis "github.com/ulule/limiter/v3/drivers/store/redis"
)

// StoreLimiter adapts a ulule fixed-window store to Allower. One
// limiter.Limiter is built per distinct (window, max) rate.
type StoreLimiter struct {
	store    limiter.Store
	limiters sync.Map
}

// NewMemoryLimiter keeps counters in process memory. Suitable for a single
// replica or when Redis is not configured.
func NewMemoryLimiter(prefix string) *StoreLimiter {
	return &StoreLimiter{store: memory.NewStoreWithOptions(limiter.StoreOptions{
		Prefix:          prefix,
		CleanUpInterval: time.Minute,
	})}
}

// NewRedisStoreLimiter shares fixed-window counters across replicas.
func NewRedisStoreLimiter(client *redis.Client, prefix string) (*StoreLimiter, error) {
	store, err := limiterredis.NewStoreWithOptions(client, limiter.StoreOptions{Prefix: prefix})
	if err != nil {
		return nil, err
	}
	return &StoreLimiter{store: store}, nil
}

type rateKey struct {
	window time.Duration
	max    int
}

// Allow implements Allower.
func (s *StoreLimiter) Allow(ctx context.Context, key string, window time.Duration, max int) (bool, int, time.Time, error) {
	if max <= 0 || window <= 0 {
		return true, max, time.Now().Add(window), nil
	}
	rk := rateKey{window: window, max: max}
	l, ok := s.limiters.Load(rk)
	if !ok {
		l, _ = s.limiters.LoadOrStore(rk, limiter.New(s.store, limiter.Rate{Period: window, Limit: int64(max)}))
	}
	res, err := l.(*limiter.Limiter).Get(ctx, key)
	if err != nil {
		return false, 0, time.Now().Add(window), err
	}
	return !res.Reached, int(res.Remaining), time.Unix(res.Reset, 0), nil
}
