package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentinelops/orchestrator/core"
	"github.com/sentinelops/orchestrator/resilience"
)

type failingStore struct {
	err error
}

func (f *failingStore) Get(ctx context.Context, incidentID string) (*core.Incident, error) {
	return nil, f.err
}
func (f *failingStore) Save(ctx context.Context, incident *core.Incident, expectedVersion int64) error {
	return f.err
}
func (f *failingStore) List(ctx context.Context, state core.WorkflowState) ([]*core.Incident, error) {
	return nil, f.err
}
func (f *failingStore) Delete(ctx context.Context, incidentID string) error {
	return f.err
}

func newTestBreaker(t *testing.T) *resilience.CircuitBreaker {
	t.Helper()
	cfg := resilience.DefaultConfig()
	cfg.Name = "store"
	cfg.VolumeThreshold = 2
	cfg.SleepWindow = 10 * time.Millisecond
	cfg.ErrorClassifier = BreakerErrorClassifier
	cb, err := resilience.NewCircuitBreaker(cfg)
	require.NoError(t, err)
	return cb
}

func TestCircuitBreaking_PassesThroughSuccess(t *testing.T) {
	mem := NewInMemory()
	ctx := context.Background()
	require.NoError(t, mem.Save(ctx, &core.Incident{ID: "inc-1", State: core.StateInitialized}, 0))

	cb := newTestBreaker(t)
	wrapped := WithCircuitBreaker(mem, cb)

	got, err := wrapped.Get(ctx, "inc-1")
	require.NoError(t, err)
	assert.Equal(t, "inc-1", got.ID)
}

func TestCircuitBreaking_OpensAfterRepeatedFailures(t *testing.T) {
	fs := &failingStore{err: errors.New("connection refused")}
	cb := newTestBreaker(t)
	wrapped := WithCircuitBreaker(fs, cb)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, _ = wrapped.Get(ctx, "inc-1")
	}

	_, err := wrapped.Get(ctx, "inc-1")
	assert.ErrorIs(t, err, core.ErrCircuitOpen)
}

func TestCircuitBreaking_PreconditionFailedDoesNotTripBreaker(t *testing.T) {
	fs := &failingStore{err: core.ErrPreconditionFailed}
	cb := newTestBreaker(t)
	wrapped := WithCircuitBreaker(fs, cb)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		err := wrapped.Save(ctx, &core.Incident{ID: "inc-1"}, 0)
		assert.ErrorIs(t, err, core.ErrPreconditionFailed)
	}

	assert.Equal(t, "closed", cb.GetState())
}
