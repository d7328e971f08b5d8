package jobs

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobRunsAndDrops(t *testing.T) {
	r := NewRegistry()

	var ran atomic.Bool
	r.Go("test", func() { ran.Store(true) })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, r.Drain(ctx))

	assert.True(t, ran.Load())
	assert.Equal(t, 0, r.Active(), "completed jobs drop their handle")
}

func TestActiveTracksInFlightJobs(t *testing.T) {
	r := NewRegistry()
	block := make(chan struct{})

	r.Go("blocked", func() { <-block })

	assert.Eventually(t, func() bool { return r.Active() == 1 }, time.Second, 10*time.Millisecond)

	close(block)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, r.Drain(ctx))
	assert.Equal(t, 0, r.Active())
}

func TestPanickingJobIsContained(t *testing.T) {
	r := NewRegistry()

	r.Go("explosive", func() { panic("boom") })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, r.Drain(ctx))
	assert.Equal(t, 0, r.Active())
}

func TestDrainTimesOut(t *testing.T) {
	r := NewRegistry()
	block := make(chan struct{})
	defer close(block)

	r.Go("stuck", func() { <-block })

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.Error(t, r.Drain(ctx))
}
