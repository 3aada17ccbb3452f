// Package ratelimit throttles API clients per key.
package ratelimit

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/noah-isme/backend-billing/internal/common"
)

// Allower decides whether one more event for key fits in max events per
// window. It returns the remaining budget and when the window resets.
type Allower interface {
	Allow(ctx context.Context, key string, window time.Duration, max int) (allowed bool, remaining int, reset time.Time, err error)
}

// Config describes how to derive a rate limit key and thresholds.
type Config struct {
	Key    func(*http.Request) string
	Window time.Duration
	Max    int
}

// KeyByClientIP keys requests by client address under prefix.
func KeyByClientIP(prefix string) func(*http.Request) string {
	return func(r *http.Request) string {
		return prefix + common.ClientIP(r)
	}
}

// Handler enforces rate limits before delegating to the next handler. A
// failing Allower lets the request through and reports to OnError.
type Handler struct {
	Limiter Allower
	Config  Config
	OnError func(error)
}

// Middleware counts the request against its key and answers 429 with a
// Retry-After once the budget is spent. Budget headers are sent on every
// counted response so clients can pace payment retries.
func (h Handler) Middleware(next http.Handler) http.Handler {
	if h.Config.Key == nil || h.Limiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		allowed, remaining, resetAt, err := h.Limiter.Allow(r.Context(), h.Config.Key(r), h.Config.Window, h.Config.Max)
		if err != nil {
			if h.OnError != nil {
				h.OnError(err)
			}
			next.ServeHTTP(w, r)
			return
		}
		h.writeBudget(w.Header(), remaining, resetAt)
		if allowed {
			next.ServeHTTP(w, r)
			return
		}
		wait := retryAfter(resetAt, time.Now())
		w.Header().Set("Retry-After", strconv.Itoa(wait))
		common.JSONError(w, http.StatusTooManyRequests, common.CodeRateLimited, "rate limit exceeded",
			map[string]int{"limit": h.Config.Max, "retryAfterSeconds": wait})
	})
}

func (h Handler) writeBudget(headers http.Header, remaining int, resetAt time.Time) {
	headers.Set("X-RateLimit-Limit", strconv.Itoa(max(h.Config.Max, 0)))
	headers.Set("X-RateLimit-Remaining", strconv.Itoa(max(remaining, 0)))
	headers.Set("X-RateLimit-Reset", strconv.FormatInt(resetAt.Unix(), 10))
}

// retryAfter is the whole number of seconds until resetAt, rounded up so a
// client that waits exactly that long is admitted.
func retryAfter(resetAt, now time.Time) int {
	d := resetAt.Sub(now)
	if d <= 0 {
		return 0
	}
	return int((d + time.Second - 1) / time.Second)
}
