package store

import (
	"errors"

	"github.com/studsec/instancer/pkg/types"
)

// ErrNotFound is returned when no row exists for an instance key.
// Absence of a row is equivalent to the not-started state.
var ErrNotFound = errors.New("instance not found")

// Store persists instance rows. All writes are durable on return.
// Set on a missing row is a no-op; callers create first when in doubt.
type Store interface {
	// Create inserts a fresh row in state created with an empty reason
	Create(key types.InstanceKey) error

	// Get returns the persisted state
	Get(key types.InstanceKey) (types.InstanceState, error)

	// GetWithReason returns the persisted state and its reason
	GetWithReason(key types.InstanceKey) (types.InstanceState, string, error)

	// GetInstance returns the full row
	GetInstance(key types.InstanceKey) (*types.Instance, error)

	// List returns every row in the store
	List() ([]*types.Instance, error)

	// Set updates state and reason
	Set(key types.InstanceKey, state types.InstanceState, reason string) error

	// SetServer records the placement decision
	SetServer(key types.InstanceKey, idx int) error

	// GetServer returns the recorded worker index, nil before placement
	GetServer(key types.InstanceKey) (*int, error)

	// SetPort records the allocated port
	SetPort(key types.InstanceKey, port int) error

	// GetPort returns the allocated port, nil before allocation
	GetPort(key types.InstanceKey) (*int, error)

	// Delete removes the row; deleting a missing row is not an error
	Delete(key types.InstanceKey) error

	// DeleteAndInsert atomically replaces the row with a fresh one in the
	// given state
	DeleteAndInsert(key types.InstanceKey, state types.InstanceState) error

	Close() error
}
