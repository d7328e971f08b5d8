package lifecycle

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/studsec/instancer/pkg/catalog"
	"github.com/studsec/instancer/pkg/events"
	"github.com/studsec/instancer/pkg/gate"
	"github.com/studsec/instancer/pkg/jobs"
	"github.com/studsec/instancer/pkg/log"
	"github.com/studsec/instancer/pkg/metrics"
	"github.com/studsec/instancer/pkg/registry"
	"github.com/studsec/instancer/pkg/store"
	"github.com/studsec/instancer/pkg/types"
)

const (
	// runTimeout bounds the run command; image pulls and builds can be slow
	runTimeout = 5 * time.Minute

	// destroyTimeout bounds the destroy command
	destroyTimeout = time.Minute

	// runHostname is the bind address handed to run scripts
	runHostname = "0.0.0.0"
)

// Runner executes one command on one worker
type Runner interface {
	Run(ctx context.Context, worker *registry.Worker, cmd string, timeout time.Duration) (string, error)
}

// Picker chooses a worker for a new instance
type Picker interface {
	PickWorker(ctx context.Context) *registry.Worker
}

// Engine drives instances through the lifecycle state machine, persisting
// every transition before executing the action it announces.
type Engine struct {
	store     store.Store
	registry  *registry.Registry
	runner    Runner
	picker    Picker
	catalog   catalog.Source
	gate      *gate.Gate
	jobs      *jobs.Registry
	broker    *events.Broker
	logger    zerolog.Logger
}

// NewEngine wires the lifecycle engine
func NewEngine(st store.Store, reg *registry.Registry, runner Runner, picker Picker, cat catalog.Source, jr *jobs.Registry, broker *events.Broker) *Engine {
	return &Engine{
		store:    st,
		registry: reg,
		runner:   runner,
		picker:   picker,
		catalog:  cat,
		gate:     gate.New(),
		jobs:     jr,
		broker:   broker,
		logger:   log.WithComponent("lifecycle"),
	}
}

// Gate exposes the per-challenge working set, mainly for tests
func (e *Engine) Gate(challenge string) *gate.WorkingSet {
	return e.gate.ForChallenge(challenge)
}

// StartAsync admits the user into the challenge's working set and launches
// the start sequence as a background job. It returns false when another
// start or stop for the same pair is still in flight.
func (e *Engine) StartAsync(ch *types.Challenge, userID string) bool {
	if !e.gate.ForChallenge(ch.ID).ContainsOrInsert(userID) {
		return false
	}
	e.jobs.Go("start "+ch.ID+"/"+userID, func() {
		e.start(context.Background(), ch, userID)
	})
	return true
}

// StopAsync admits the user into the challenge's working set and launches the
// stop sequence as a background job. It returns false when another operation
// for the same pair is still in flight.
func (e *Engine) StopAsync(ch *types.Challenge, userID string) bool {
	if !e.gate.ForChallenge(ch.ID).ContainsOrInsert(userID) {
		return false
	}
	e.jobs.Go("stop "+ch.ID+"/"+userID, func() {
		e.stop(context.Background(), ch, userID)
	})
	return true
}

// start runs the start sequence. The caller must hold the working-set
// admission; start releases it on every exit path.
func (e *Engine) start(ctx context.Context, ch *types.Challenge, userID string) {
	key := types.InstanceKey{Challenge: ch.ID, UserID: userID}
	logger := log.WithInstance(ch.ID, userID)
	defer e.gate.ForChallenge(ch.ID).Remove(userID)

	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.StartDuration)
	metrics.InstanceStartsTotal.Inc()

	logger.Info().Msg("Starting instance")

	state, err := e.store.Get(key)
	switch {
	case errors.Is(err, store.ErrNotFound):
		if err := e.store.Create(key); err != nil {
			logger.Error().Err(err).Msg("Failed to create instance row")
			return
		}
	case err != nil:
		logger.Error().Err(err).Msg("Failed to read instance state")
		return
	case state == types.InstanceStateRunning:
		// Already live, nothing to do
		return
	case state == types.InstanceStateFailed:
		// A retry rewinds the failed row before going again
		if err := e.store.Set(key, types.InstanceStateScheduled, ""); err != nil {
			logger.Error().Err(err).Msg("Failed to reschedule instance")
			return
		}
	default:
		// A previously-interrupted start; retry from the top
	}

	if err := e.store.Set(key, types.InstanceStateStarting, ""); err != nil {
		logger.Error().Err(err).Msg("Failed to persist starting state")
		return
	}

	worker := e.picker.PickWorker(ctx)
	if worker == nil {
		e.fail(key, "no server available")
		return
	}
	logger.Info().Str("worker", worker.Hostname).Msg("Placed instance")

	if err := e.store.SetServer(key, e.registry.Index(worker)); err != nil {
		logger.Error().Err(err).Msg("Failed to persist placement")
		return
	}

	port, err := worker.Ports.Alloc()
	if err != nil {
		e.fail(key, "no free ports on server")
		return
	}
	metrics.PortsAllocated.WithLabelValues(worker.Hostname).Set(float64(worker.Ports.Allocated()))

	if err := e.store.SetPort(key, port); err != nil {
		worker.Ports.Free(port)
		logger.Error().Err(err).Msg("Failed to persist port")
		return
	}

	cmd := e.catalog.RunCmd(ch, worker, userID, port, runHostname)
	if _, err := e.runner.Run(ctx, worker, cmd, runTimeout); err != nil {
		// The allocator slot is returned; the stale port column is harmless
		// because the reconciler leaves a failed row alone and the next start
		// allocates a fresh port
		worker.Ports.Free(port)
		metrics.PortsAllocated.WithLabelValues(worker.Hostname).Set(float64(worker.Ports.Allocated()))
		e.fail(key, "starting run.sh failed")
		return
	}

	// The row stays in starting: the instance is launched, not yet live.
	// The reconciler promotes it to running once the probe succeeds.
	e.broker.Publish(&events.Event{
		Type:      events.EventInstanceStarted,
		Challenge: ch.ID,
		UserID:    userID,
		Message:   "instance launched",
	})
	logger.Info().Int("port", port).Msg("Instance launched")
}

// stop runs the stop sequence. The caller must hold the working-set
// admission; stop releases it on every exit path.
func (e *Engine) stop(ctx context.Context, ch *types.Challenge, userID string) {
	key := types.InstanceKey{Challenge: ch.ID, UserID: userID}
	logger := log.WithInstance(ch.ID, userID)
	defer e.gate.ForChallenge(ch.ID).Remove(userID)

	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.StopDuration)
	metrics.InstanceStopsTotal.Inc()

	logger.Info().Msg("Stopping instance")

	idx, err := e.store.GetServer(key)
	if err != nil || idx == nil {
		// Never placed, nothing to stop
		return
	}

	worker := e.registry.Get(*idx)
	if worker == nil {
		logger.Warn().Int("server", *idx).Msg("Recorded worker no longer exists, cannot stop")
		return
	}

	port := 0
	portPtr, err := e.store.GetPort(key)
	if err == nil && portPtr != nil {
		port = *portPtr
	}

	// Destroy failures are logged but never block row deletion: forgetting
	// beats leaking state, and the reconciler re-observes any residue
	cmd := e.catalog.DestroyCmd(ch, worker, userID, port)
	if _, err := e.runner.Run(ctx, worker, cmd, destroyTimeout); err != nil {
		logger.Warn().Err(err).Msg("Destroy command failed")
	}

	if portPtr != nil {
		worker.Ports.Free(*portPtr)
		metrics.PortsAllocated.WithLabelValues(worker.Hostname).Set(float64(worker.Ports.Allocated()))
	}

	if err := e.store.Delete(key); err != nil {
		logger.Error().Err(err).Msg("Failed to delete instance row")
		return
	}

	e.broker.Publish(&events.Event{
		Type:      events.EventInstanceStopped,
		Challenge: ch.ID,
		UserID:    userID,
		Message:   "instance destroyed",
	})
	logger.Info().Msg("Instance stopped")
}

// fail records a terminal failure with its step-specific reason
func (e *Engine) fail(key types.InstanceKey, reason string) {
	if err := e.store.Set(key, types.InstanceStateFailed, reason); err != nil {
		e.logger.Error().Err(err).
			Str("challenge", key.Challenge).
			Str("user_id", key.UserID).
			Msg("Failed to persist failure state")
	}
	metrics.InstanceFailures.WithLabelValues(reason).Inc()
	e.broker.Publish(&events.Event{
		Type:      events.EventInstanceFailed,
		Challenge: key.Challenge,
		UserID:    key.UserID,
		Message:   reason,
	})
	logger := log.WithInstance(key.Challenge, key.UserID)
	logger.Warn().Str("reason", reason).Msg("Instance failed")
}
