package batcher

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentinelops/orchestrator/core"
	"github.com/sentinelops/orchestrator/store"
)

func TestBatcher_CoalescesWritesByIncident(t *testing.T) {
	mem := store.NewInMemory()
	ctx := context.Background()
	require.NoError(t, mem.Save(ctx, &core.Incident{ID: "inc-1", State: core.StateInitialized}, 0))

	b := New(mem, time.Hour, nil)
	defer b.Close(ctx)

	b.Add(&core.Incident{ID: "inc-1", State: core.StateDetectionReceived, Version: 1}, 1)
	b.Add(&core.Incident{ID: "inc-1", State: core.StateAnalysisRequested, Version: 1}, 1)

	require.NoError(t, b.FlushNow(ctx))

	got, err := mem.Get(ctx, "inc-1")
	require.NoError(t, err)
	assert.Equal(t, core.StateAnalysisRequested, got.State)
}

func TestBatcher_FlushNowIsSynchronous(t *testing.T) {
	mem := store.NewInMemory()
	ctx := context.Background()
	require.NoError(t, mem.Save(ctx, &core.Incident{ID: "inc-2", State: core.StateInitialized}, 0))

	b := New(mem, time.Hour, nil)
	defer b.Close(ctx)

	b.Add(&core.Incident{ID: "inc-2", State: core.StateDetectionReceived, Version: 1}, 1)
	require.NoError(t, b.FlushNow(ctx))

	got, err := mem.Get(ctx, "inc-2")
	require.NoError(t, err)
	assert.Equal(t, core.StateDetectionReceived, got.State)
}

func TestBatcher_CloseFlushesPending(t *testing.T) {
	mem := store.NewInMemory()
	ctx := context.Background()
	require.NoError(t, mem.Save(ctx, &core.Incident{ID: "inc-3", State: core.StateInitialized}, 0))

	b := New(mem, time.Hour, nil)
	b.Add(&core.Incident{ID: "inc-3", State: core.StateDetectionReceived, Version: 1}, 1)
	require.NoError(t, b.Close(ctx))

	got, err := mem.Get(ctx, "inc-3")
	require.NoError(t, err)
	assert.Equal(t, core.StateDetectionReceived, got.State)
}
