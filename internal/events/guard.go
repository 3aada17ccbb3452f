package events

import (
	"context"

	"github.com/noah-isme/backend-billing/internal/resilience"
)

// GuardedPublisher fails fast with resilience.ErrOpenCircuit while the
// broker behind Next keeps failing, so payment requests do not wait on it.
type GuardedPublisher struct {
	Next    Publisher
	Breaker *resilience.Breaker
}

// Publish implements Publisher.
func (g GuardedPublisher) Publish(ctx context.Context, event Event) error {
	if g.Breaker == nil {
		return g.Next.Publish(ctx, event)
	}
	return g.Breaker.Do(ctx, func(ctx context.Context) error {
		return g.Next.Publish(ctx, event)
	})
}
