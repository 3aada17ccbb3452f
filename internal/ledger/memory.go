package ledger

import (
	"context"
	"sync"

	"github.com/noah-isme/backend-billing/internal/settlement"
)

type sectionKey struct{}

// MemoryStore keeps journals in process memory. Sections are serialized by a
// per-invoice semaphore, so it is only correct for a single replica.
type MemoryStore struct {
	mu       sync.Mutex
	sems     map[string]*invoiceSem
	journals map[string][]settlement.Payment
}

// invoiceSem is dropped from MemoryStore.sems once refs falls to zero, so
// the map only holds invoices with a section running or waiting.
type invoiceSem struct {
	ch   chan struct{}
	refs int
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sems:     make(map[string]*invoiceSem),
		journals: make(map[string][]settlement.Payment),
	}
}

func (s *MemoryStore) acquireSem(invoiceID string) *invoiceSem {
	s.mu.Lock()
	defer s.mu.Unlock()
	sem, ok := s.sems[invoiceID]
	if !ok {
		sem = &invoiceSem{ch: make(chan struct{}, 1)}
		s.sems[invoiceID] = sem
	}
	sem.refs++
	return sem
}

func (s *MemoryStore) releaseSem(invoiceID string, sem *invoiceSem) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sem.refs--
	if sem.refs == 0 {
		delete(s.sems, invoiceID)
	}
}

// WithInvoice implements Serializer. Waiting honours ctx.
func (s *MemoryStore) WithInvoice(ctx context.Context, invoiceID string, fn func(ctx context.Context) error) error {
	sem := s.acquireSem(invoiceID)
	defer s.releaseSem(invoiceID, sem)
	select {
	case sem.ch <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-sem.ch }()
	return fn(context.WithValue(ctx, sectionKey{}, invoiceID))
}

// Payments implements Journal.
func (s *MemoryStore) Payments(_ context.Context, invoiceID string) ([]settlement.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]settlement.Payment, len(s.journals[invoiceID]))
	copy(out, s.journals[invoiceID])
	return out, nil
}

// Append implements Journal.
func (s *MemoryStore) Append(ctx context.Context, invoiceID string, p settlement.Payment) error {
	if held, _ := ctx.Value(sectionKey{}).(string); held != invoiceID {
		return ErrNotSerialized
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.journals[invoiceID] = append(s.journals[invoiceID], p)
	return nil
}
