package reconciler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studsec/instancer/pkg/events"
	"github.com/studsec/instancer/pkg/registry"
	"github.com/studsec/instancer/pkg/store"
	"github.com/studsec/instancer/pkg/types"
)

// fakeRunner answers probes with canned per-worker output
type fakeRunner struct {
	outputs map[string]string // hostname -> probe output; absent means failure
}

func (f *fakeRunner) Run(ctx context.Context, worker *registry.Worker, cmd string, timeout time.Duration) (string, error) {
	out, ok := f.outputs[worker.Hostname]
	if !ok {
		return "", errors.New("unreachable")
	}
	return out, nil
}

// fakeCatalog maps probe outputs straight to observations
type fakeCatalog struct {
	challenge *types.Challenge
}

func (f *fakeCatalog) List() []*types.Challenge { return []*types.Challenge{f.challenge} }

func (f *fakeCatalog) Lookup(id string) (*types.Challenge, bool) {
	if id == f.challenge.ID {
		return f.challenge, true
	}
	return nil, false
}

func (f *fakeCatalog) RunCmd(ch *types.Challenge, worker *registry.Worker, userID string, port int, hostname string) string {
	return "run"
}

func (f *fakeCatalog) DestroyCmd(ch *types.Challenge, worker *registry.Worker, userID string, port int) string {
	return "destroy"
}

func (f *fakeCatalog) ProbeCmd(ch *types.Challenge, worker *registry.Worker, userID string, port int) string {
	return "probe"
}

func (f *fakeCatalog) ParseProbe(ch *types.Challenge, worker *registry.Worker, output string) (types.Observation, bool) {
	switch output {
	case "up":
		return types.Observation{State: types.InstanceStateRunning}, true
	case "up-published":
		return types.Observation{State: types.InstanceStateRunning, Endpoint: worker.IP + ":9999"}, true
	case "down":
		return types.Observation{State: types.InstanceStateStopped}, true
	default:
		return types.Observation{}, false
	}
}

type fixture struct {
	rec   *Reconciler
	store *store.GormStore
	ch    *types.Challenge
}

func newFixture(t *testing.T, outputs map[string]string) *fixture {
	t.Helper()

	st, err := store.NewGormStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	reg := registry.New(
		&registry.Worker{Hostname: "alpha", IP: "10.0.0.1", Ports: registry.NewPortAllocator(registry.StartPortRange, registry.EndPortRange)},
		&registry.Worker{Hostname: "bravo", IP: "10.0.0.2", Ports: registry.NewPortAllocator(registry.StartPortRange, registry.EndPortRange)},
	)

	ch := &types.Challenge{ID: "buffer_overflow"}
	broker := events.NewBroker()
	broker.Start()
	t.Cleanup(broker.Stop)

	rec := New(st, reg, &fakeRunner{outputs: outputs}, &fakeCatalog{challenge: ch}, broker)
	return &fixture{rec: rec, store: st, ch: ch}
}

func (f *fixture) seed(t *testing.T, state types.InstanceState, serverIdx, port *int) types.InstanceKey {
	t.Helper()
	k := types.InstanceKey{Challenge: f.ch.ID, UserID: "u1"}
	require.NoError(t, f.store.Create(k))
	require.NoError(t, f.store.Set(k, state, ""))
	if serverIdx != nil {
		require.NoError(t, f.store.SetServer(k, *serverIdx))
	}
	if port != nil {
		require.NoError(t, f.store.SetPort(k, *port))
	}
	return k
}

func intptr(v int) *int { return &v }

func TestReconcileNoRow(t *testing.T) {
	f := newFixture(t, nil)

	inst, err := f.rec.Reconcile(context.Background(), f.ch, "u1")
	require.NoError(t, err)
	assert.Nil(t, inst, "an instance nobody started stays absent")
}

func TestReconcileWithoutPortLeavesTransitionalState(t *testing.T) {
	f := newFixture(t, nil)
	f.seed(t, types.InstanceStateStarting, nil, nil)

	inst, err := f.rec.Reconcile(context.Background(), f.ch, "u1")
	require.NoError(t, err)
	require.NotNil(t, inst)
	assert.Equal(t, types.InstanceStateStarting, inst.State)
}

func TestReconcileNotFoundAnywhere(t *testing.T) {
	// Both workers answer but neither knows the instance
	f := newFixture(t, map[string]string{"alpha": "nothing", "bravo": "nothing"})
	k := f.seed(t, types.InstanceStateRunning, intptr(0), intptr(4242))

	inst, err := f.rec.Reconcile(context.Background(), f.ch, "u1")
	require.NoError(t, err)
	require.NotNil(t, inst)
	assert.Equal(t, types.InstanceStateStopped, inst.State)
	assert.Equal(t, "challenge not found on a server", inst.Reason)

	state, reason, err := f.store.GetWithReason(k)
	require.NoError(t, err)
	assert.Equal(t, types.InstanceStateStopped, state)
	assert.Equal(t, "challenge not found on a server", reason)
}

func TestReconcileAllWorkersUnreachable(t *testing.T) {
	f := newFixture(t, nil)
	f.seed(t, types.InstanceStateRunning, intptr(0), intptr(4242))

	inst, err := f.rec.Reconcile(context.Background(), f.ch, "u1")
	require.NoError(t, err)
	assert.Equal(t, types.InstanceStateStopped, inst.State)
}

func TestReconcilePromotesStartingToRunning(t *testing.T) {
	f := newFixture(t, map[string]string{"alpha": "up"})
	f.seed(t, types.InstanceStateStarting, intptr(0), intptr(4242))

	inst, err := f.rec.Reconcile(context.Background(), f.ch, "u1")
	require.NoError(t, err)
	assert.Equal(t, types.InstanceStateRunning, inst.State)
	require.NotNil(t, inst.ServerIdx)
	assert.Equal(t, 0, *inst.ServerIdx)
	require.NotNil(t, inst.Port)
	assert.Equal(t, 4242, *inst.Port)
}

func TestReconcileAuthoritativeWorkerWins(t *testing.T) {
	// alpha is unreachable; bravo reports the instance. The durable row
	// still claims alpha, which the observation corrects.
	f := newFixture(t, map[string]string{"bravo": "up"})
	f.seed(t, types.InstanceStateRunning, intptr(0), intptr(4242))

	inst, err := f.rec.Reconcile(context.Background(), f.ch, "u1")
	require.NoError(t, err)
	require.NotNil(t, inst.ServerIdx)
	assert.Equal(t, 1, *inst.ServerIdx)
}

func TestReconcileRecordsPublishedPort(t *testing.T) {
	f := newFixture(t, map[string]string{"alpha": "up-published"})
	f.seed(t, types.InstanceStateStarting, intptr(0), intptr(4242))

	inst, err := f.rec.Reconcile(context.Background(), f.ch, "u1")
	require.NoError(t, err)
	require.NotNil(t, inst.Port)
	assert.Equal(t, 9999, *inst.Port, "the observed published port becomes the source of truth")
}

func TestReconcileObservedStopOverridesRunning(t *testing.T) {
	f := newFixture(t, map[string]string{"alpha": "down"})
	f.seed(t, types.InstanceStateRunning, intptr(0), intptr(4242))

	inst, err := f.rec.Reconcile(context.Background(), f.ch, "u1")
	require.NoError(t, err)
	assert.Equal(t, types.InstanceStateStopped, inst.State)
}

func TestEndpointPort(t *testing.T) {
	tests := []struct {
		endpoint string
		want     int
		ok       bool
	}{
		{"10.0.0.1:9999", 9999, true},
		{"", 0, false},
		{"garbage", 0, false},
		{"10.0.0.1:notaport", 0, false},
	}

	for _, tt := range tests {
		got, ok := endpointPort(tt.endpoint)
		assert.Equal(t, tt.ok, ok, tt.endpoint)
		if ok {
			assert.Equal(t, tt.want, got, tt.endpoint)
		}
	}
}
