package registry

import (
	"errors"
	"sync"

	"github.com/studsec/instancer/pkg/log"
)

const (
	StartPortRange = 1024
	EndPortRange   = 65535
)

// ErrNoFreePorts is returned when every port in the allocator's range is taken
var ErrNoFreePorts = errors.New("no free ports in range")

// PortAllocator hands out ports within [start, end]. Allocation is
// non-decreasing with wrap; it does not look for the lowest free port, and it
// carries no awareness of actual port occupancy on the worker. Collisions
// with externally-bound ports surface as downstream command failures.
type PortAllocator struct {
	mu        sync.Mutex
	start     int
	end       int
	last      int
	allocated map[int]struct{}
}

// NewPortAllocator creates an allocator over [start, end]
func NewPortAllocator(start, end int) *PortAllocator {
	return &PortAllocator{
		start:     start,
		end:       end,
		last:      start,
		allocated: map[int]struct{}{},
	}
}

func (a *PortAllocator) increment() int {
	a.last++
	if a.last > a.end {
		a.last = a.start
	}
	return a.last
}

// Alloc advances past the last allocation, skipping taken ports, and returns
// the chosen port. The search is bounded by the range size, so a fully
// allocated range reports ErrNoFreePorts instead of spinning.
func (a *PortAllocator) Alloc() (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	size := a.end - a.start + 1
	port := a.increment()
	for i := 0; i < size; i++ {
		if _, taken := a.allocated[port]; !taken {
			a.allocated[port] = struct{}{}
			return port, nil
		}
		port = a.increment()
	}
	return 0, ErrNoFreePorts
}

// Free releases a port. Freeing a port that was never allocated is logged as
// a warning and otherwise ignored.
func (a *PortAllocator) Free(port int) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.allocated[port]; !ok {
		logger := log.WithComponent("registry")
		logger.Warn().
			Int("port", port).
			Msg("Double free detected on port")
		return
	}
	delete(a.allocated, port)
}

// Allocated returns the number of ports currently held
func (a *PortAllocator) Allocated() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.allocated)
}
