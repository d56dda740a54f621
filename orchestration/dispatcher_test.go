package orchestration

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentinelops/orchestrator/audit"
	"github.com/sentinelops/orchestrator/bus"
	"github.com/sentinelops/orchestrator/clock"
)

type fakeHandler struct {
	mu    sync.Mutex
	calls []fakeCall
	ch    chan fakeCall
}

type fakeCall struct {
	incidentID string
	topic      string
	payload    []byte
}

func newFakeHandler() *fakeHandler {
	return &fakeHandler{ch: make(chan fakeCall, 16)}
}

func (h *fakeHandler) OnInboundMessage(ctx context.Context, incidentID, topic string, payload []byte) error {
	c := fakeCall{incidentID: incidentID, topic: topic, payload: payload}
	h.mu.Lock()
	h.calls = append(h.calls, c)
	h.mu.Unlock()
	h.ch <- c
	return nil
}

func (h *fakeHandler) awaitCall(t *testing.T) fakeCall {
	t.Helper()
	select {
	case c := <-h.ch:
		return c
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for handler call")
		return fakeCall{}
	}
}

func newTestDispatcher(h Handler) (*Dispatcher, bus.Bus) {
	b := bus.NewInMemory()
	log := audit.New(clock.NewFake(time.Unix(0, 0)), nil)
	d := NewDispatcher(b, h, log, nil, nil, 20*time.Millisecond)
	return d, b
}

func TestDispatcher_RoutesValidMessageToHandler(t *testing.T) {
	h := newFakeHandler()
	d, b := newTestDispatcher(h)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d.Start(ctx)
	defer d.Stop()

	require.NoError(t, b.Publish(ctx, "new_incident", []byte(`{"incident_id":"inc-1","source":"guardduty","severity":"high"}`)))

	call := h.awaitCall(t)
	assert.Equal(t, "inc-1", call.incidentID)
	assert.Equal(t, "new_incident", call.topic)
}

func TestDispatcher_DropsMalformedPayload(t *testing.T) {
	h := newFakeHandler()
	d, b := newTestDispatcher(h)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d.Start(ctx)
	defer d.Stop()

	require.NoError(t, b.Publish(ctx, "new_incident", []byte(`not json`)))

	select {
	case <-h.ch:
		t.Fatal("handler should not have been called for malformed payload")
	case <-time.After(100 * time.Millisecond):
	}

	entries := d.audit.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "dispatch_malformed", entries[0].Kind)
}

func TestDispatcher_DeadLettersMissingRequiredField(t *testing.T) {
	h := newFakeHandler()
	d, b := newTestDispatcher(h)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d.Start(ctx)
	defer d.Stop()

	require.NoError(t, b.Publish(ctx, "new_incident", []byte(`{"incident_id":"inc-2"}`)))

	select {
	case <-h.ch:
		t.Fatal("handler should not have been called for invalid payload")
	case <-time.After(100 * time.Millisecond):
	}

	msg, err := b.Receive(ctx, DeadLetterTopic, time.Second)
	require.NoError(t, err)
	require.NotNil(t, msg)

	var envelope DeadLetterEnvelope
	require.NoError(t, json.Unmarshal(msg.Payload, &envelope))
	assert.Equal(t, "new_incident", envelope.OriginalTopic)
	assert.NotEmpty(t, envelope.ID)
	assert.NotEmpty(t, envelope.Reason)

	entries := d.audit.ForIncident("inc-2")
	require.Len(t, entries, 1)
	assert.Equal(t, "dispatch_dead_letter", entries[0].Kind)
}

func TestDispatcher_StopEndsSubscriberGoroutines(t *testing.T) {
	h := newFakeHandler()
	d, _ := newTestDispatcher(h)
	ctx := context.Background()
	d.Start(ctx)
	d.Stop() // must return promptly rather than blocking forever
}
