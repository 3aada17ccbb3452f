// Package health serves liveness and readiness checks.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

const defaultTimeout = 500 * time.Millisecond

var notReady atomic.Bool

// SetReady flips the process-wide readiness flag. The API clears it when it
// starts draining so load balancers stop routing to it.
func SetReady(ready bool) { notReady.Store(!ready) }

// Dependency checks one backend. Check receives a context bounded by Timeout.
type Dependency struct {
	Name    string
	Timeout time.Duration
	Check   func(ctx context.Context) error
}

// Handler exposes HTTP handlers for health endpoints. Only configured
// dependencies are checked; a service without any is ready once started.
type Handler struct {
	Dependencies []Dependency
}

// Live reports liveness status.
func (h Handler) Live(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// Ready runs every dependency check concurrently and reports 503 if any fails.
func (h Handler) Ready(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if notReady.Load() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "draining"})
		return
	}

	status := make(map[string]string, len(h.Dependencies)+1)
	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	healthy := true
	for _, p := range h.Dependencies {
		wg.Add(1)
		go func(p Dependency) {
			defer wg.Done()
			result := "ok"
			if err := run(r.Context(), p); err != nil {
				result = err.Error()
			}
			mu.Lock()
			defer mu.Unlock()
			status[p.Name] = result
			if result != "ok" {
				healthy = false
			}
		}(p)
	}
	wg.Wait()

	if healthy {
		status["status"] = "ok"
		w.WriteHeader(http.StatusOK)
	} else {
		status["status"] = "degraded"
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(status)
}

func run(ctx context.Context, p Dependency) error {
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return p.Check(ctx)
}
