package reconciler

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/studsec/instancer/pkg/catalog"
	"github.com/studsec/instancer/pkg/events"
	"github.com/studsec/instancer/pkg/log"
	"github.com/studsec/instancer/pkg/metrics"
	"github.com/studsec/instancer/pkg/registry"
	"github.com/studsec/instancer/pkg/store"
	"github.com/studsec/instancer/pkg/types"
)

const (
	// probeTimeout bounds each per-worker probe so an unresponsive worker
	// cannot stall reconciliation
	probeTimeout = time.Second

	// sweepInterval paces the periodic pass over every stored row
	sweepInterval = 30 * time.Second
)

// Runner executes one command on one worker
type Runner interface {
	Run(ctx context.Context, worker *registry.Worker, cmd string, timeout time.Duration) (string, error)
}

// Reconciler syncs durable instance state with what the workers actually
// report. Observed state overrides durable state.
type Reconciler struct {
	store    store.Store
	registry *registry.Registry
	runner   Runner
	catalog  catalog.Source
	broker   *events.Broker
	logger   zerolog.Logger
	stopCh   chan struct{}
}

// New creates a reconciler
func New(st store.Store, reg *registry.Registry, runner Runner, cat catalog.Source, broker *events.Broker) *Reconciler {
	return &Reconciler{
		store:    st,
		registry: reg,
		runner:   runner,
		catalog:  cat,
		broker:   broker,
		logger:   log.WithComponent("reconciler"),
		stopCh:   make(chan struct{}),
	}
}

// Start begins the periodic sweep
func (r *Reconciler) Start() {
	go r.run()
}

// Stop stops the periodic sweep
func (r *Reconciler) Stop() {
	close(r.stopCh)
}

func (r *Reconciler) run() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	r.logger.Info().Msg("Reconciler started")

	for {
		select {
		case <-ticker.C:
			if err := r.sweep(); err != nil {
				r.logger.Error().Err(err).Msg("Reconciliation sweep failed")
			}
		case <-r.stopCh:
			r.logger.Info().Msg("Reconciler stopped")
			return
		}
	}
}

// sweep reconciles every stored row
func (r *Reconciler) sweep() error {
	instances, err := r.store.List()
	if err != nil {
		return fmt.Errorf("failed to list instances: %w", err)
	}

	for _, inst := range instances {
		ch, ok := r.catalog.Lookup(inst.Key.Challenge)
		if !ok {
			r.logger.Warn().
				Str("challenge", inst.Key.Challenge).
				Msg("Stored instance references unknown challenge, skipping")
			continue
		}
		if _, err := r.Reconcile(context.Background(), ch, inst.Key.UserID); err != nil {
			r.logger.Error().Err(err).
				Str("challenge", inst.Key.Challenge).
				Str("user_id", inst.Key.UserID).
				Msg("Failed to reconcile instance")
		}
	}
	return nil
}

// Reconcile probes every worker for one instance and persists the observed
// state. It returns the fresh row, or nil when no row exists: an instance
// nobody started is not observable and stays absent.
func (r *Reconciler) Reconcile(ctx context.Context, ch *types.Challenge, userID string) (*types.Instance, error) {
	timer := metrics.NewTimer()
	defer func() {
		timer.ObserveDuration(metrics.ProbeDuration)
		metrics.ProbeCyclesTotal.Inc()
	}()

	key := types.InstanceKey{Challenge: ch.ID, UserID: userID}

	inst, err := r.store.GetInstance(key)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	// A recorded failure is sticky until the user retries; the probe does not
	// overwrite it
	if inst.State == types.InstanceStateFailed {
		return inst, nil
	}

	// Before a port is allocated there is nothing on any worker to observe;
	// leave the transitional state for the lifecycle engine
	if inst.Port == nil {
		return inst, nil
	}

	idx, obs := r.probeAll(ctx, ch, userID, *inst.Port)
	if idx < 0 {
		return r.markAbsent(key, inst)
	}

	if err := r.store.SetServer(key, idx); err != nil {
		return nil, err
	}

	// The endpoint may carry a published port that differs from the
	// allocated one (compose picks its own); the port column stays the
	// source of truth and follows the observation
	if port, ok := endpointPort(obs.Endpoint); ok {
		if err := r.store.SetPort(key, port); err != nil {
			return nil, err
		}
	}

	if obs.State != inst.State {
		r.publishDrift(key, inst.State, obs.State)
	}

	if err := r.store.Set(key, obs.State, obs.Reason); err != nil {
		return nil, err
	}

	return r.store.GetInstance(key)
}

// probeAll fans the probe to every worker in parallel and picks the first
// worker (in registry order) that reported the instance.
func (r *Reconciler) probeAll(ctx context.Context, ch *types.Challenge, userID string, port int) (int, types.Observation) {
	workers := r.registry.Workers()

	type probeHit struct {
		obs   types.Observation
		found bool
	}
	hits := make([]probeHit, len(workers))

	var wg sync.WaitGroup
	for i, worker := range workers {
		wg.Add(1)
		go func(i int, worker *registry.Worker) {
			defer wg.Done()

			cmd := r.catalog.ProbeCmd(ch, worker, userID, port)
			output, err := r.runner.Run(ctx, worker, cmd, probeTimeout)
			if err != nil || output == "" {
				return
			}

			obs, found := r.catalog.ParseProbe(ch, worker, output)
			hits[i] = probeHit{obs: obs, found: found}
		}(i, worker)
	}
	wg.Wait()

	for i, hit := range hits {
		if hit.found {
			return i, hit.obs
		}
	}
	return -1, types.Observation{}
}

// markAbsent records that no worker knows this instance
func (r *Reconciler) markAbsent(key types.InstanceKey, inst *types.Instance) (*types.Instance, error) {
	if inst.State != types.InstanceStateStopped {
		r.publishDrift(key, inst.State, types.InstanceStateStopped)
	}
	if err := r.store.Set(key, types.InstanceStateStopped, "challenge not found on a server"); err != nil {
		return nil, err
	}
	return r.store.GetInstance(key)
}

func (r *Reconciler) publishDrift(key types.InstanceKey, from, to types.InstanceState) {
	r.logger.Info().
		Str("challenge", key.Challenge).
		Str("user_id", key.UserID).
		Str("from", string(from)).
		Str("to", string(to)).
		Msg("Observed state differs from durable state")

	event := &events.Event{
		Type:      events.EventInstanceDrift,
		Challenge: key.Challenge,
		UserID:    key.UserID,
		Message:   fmt.Sprintf("%s -> %s", from, to),
	}
	if to == types.InstanceStateRunning {
		event.Type = events.EventInstanceRunning
	}
	r.broker.Publish(event)
}

// endpointPort extracts the port of an ip:port endpoint
func endpointPort(endpoint string) (int, bool) {
	if endpoint == "" {
		return 0, false
	}
	idx := strings.LastIndex(endpoint, ":")
	if idx < 0 {
		return 0, false
	}
	port, err := strconv.Atoi(endpoint[idx+1:])
	if err != nil {
		return 0, false
	}
	return port, true
}
