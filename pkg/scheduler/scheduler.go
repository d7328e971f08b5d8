package scheduler

import (
	"context"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/studsec/instancer/pkg/executor"
	"github.com/studsec/instancer/pkg/log"
	"github.com/studsec/instancer/pkg/metrics"
	"github.com/studsec/instancer/pkg/registry"
)

// loadCmd reads the one-minute load average of a worker
const loadCmd = "cat /proc/loadavg | awk '{print $1}'"

// loadTimeout bounds the per-worker load query so a dead worker cannot stall
// placement
const loadTimeout = 5 * time.Second

// Fanout runs one command on every worker in parallel
type Fanout interface {
	RunAll(ctx context.Context, cmd string, timeout time.Duration) []executor.Result
}

// Scheduler picks a worker for each new instance. Placement is stateless and
// re-evaluated per start: no capacity model, no admission control.
type Scheduler struct {
	executor Fanout
	logger   zerolog.Logger
}

// New creates a scheduler dispatching through exec
func New(exec Fanout) *Scheduler {
	return &Scheduler{
		executor: exec,
		logger:   log.WithComponent("scheduler"),
	}
}

// PickWorker returns the reachable worker with the smallest one-minute load,
// or nil when no worker responded. Ties go to the first worker found.
func (s *Scheduler) PickWorker(ctx context.Context) *registry.Worker {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.SchedulingLatency)

	results := s.executor.RunAll(ctx, loadCmd, loadTimeout)
	if len(results) == 0 {
		metrics.PlacementFailures.Inc()
		s.logger.Warn().Msg("No worker responded to load query")
		return nil
	}

	var selected *registry.Worker
	best := 0.0
	for _, result := range results {
		load, err := strconv.ParseFloat(result.Output, 64)
		if err != nil {
			s.logger.Warn().
				Str("worker", result.Worker.Hostname).
				Str("output", result.Output).
				Msg("Unparseable load average, skipping worker")
			continue
		}
		if selected == nil || load < best {
			selected = result.Worker
			best = load
		}
	}

	if selected == nil {
		metrics.PlacementFailures.Inc()
		return nil
	}

	s.logger.Debug().
		Str("worker", selected.Hostname).
		Float64("load", best).
		Msg("Selected worker")
	return selected
}
