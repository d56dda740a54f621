package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentinelops/orchestrator/core"
)

func TestInMemory_SaveAndGet(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()

	incident := &core.Incident{ID: "inc-1", State: core.StateInitialized}
	require.NoError(t, s.Save(ctx, incident, 0))

	got, err := s.Get(ctx, "inc-1")
	require.NoError(t, err)
	assert.Equal(t, core.StateInitialized, got.State)
	assert.Equal(t, int64(1), got.Version)
}

func TestInMemory_SaveRejectsStaleVersion(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()

	incident := &core.Incident{ID: "inc-1", State: core.StateInitialized}
	require.NoError(t, s.Save(ctx, incident, 0))

	stale := &core.Incident{ID: "inc-1", State: core.StateDetectionReceived}
	err := s.Save(ctx, stale, 0)
	assert.ErrorIs(t, err, core.ErrPreconditionFailed)
}

func TestInMemory_GetMissingReturnsNotFound(t *testing.T) {
	s := NewInMemory()
	_, err := s.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestInMemory_ListFiltersByState(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, &core.Incident{ID: "a", State: core.StateInitialized}, 0))
	require.NoError(t, s.Save(ctx, &core.Incident{ID: "b", State: core.StateIncidentClosed}, 0))

	got, err := s.List(ctx, core.StateInitialized)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "a", got[0].ID)
}
