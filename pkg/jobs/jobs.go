package jobs

import (
	"context"
	"runtime/debug"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/studsec/instancer/pkg/log"
	"github.com/studsec/instancer/pkg/metrics"
)

// Registry tracks in-flight background jobs. Handles are retained until the
// job completes so a lifecycle operation survives the HTTP response that
// launched it; Drain waits them out on shutdown.
type Registry struct {
	mu     sync.Mutex
	active map[uuid.UUID]string
	wg     sync.WaitGroup
	logger zerolog.Logger
}

// NewRegistry creates an empty job registry
func NewRegistry() *Registry {
	return &Registry{
		active: make(map[uuid.UUID]string),
		logger: log.WithComponent("jobs"),
	}
}

// Go runs fn on its own goroutine, holding a handle until it returns. A
// panicking job is logged with its stack and dropped; it never takes the
// process down.
func (r *Registry) Go(name string, fn func()) uuid.UUID {
	id := uuid.New()

	r.mu.Lock()
	r.active[id] = name
	r.mu.Unlock()

	metrics.JobsActive.Inc()
	r.wg.Add(1)

	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				r.logger.Error().
					Str("job", name).
					Interface("panic", rec).
					Bytes("stack", debug.Stack()).
					Msg("Background job panicked")
			}
			r.mu.Lock()
			delete(r.active, id)
			r.mu.Unlock()
			metrics.JobsActive.Dec()
			r.wg.Done()
		}()
		fn()
	}()

	return id
}

// Active returns the number of jobs in flight
func (r *Registry) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active)
}

// Drain blocks until every job completes or ctx expires
func (r *Registry) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
