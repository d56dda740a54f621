// Package batcher coalesces incident writes by incident id within a
// window, so repeated state updates to the same incident during a burst
// of workflow activity collapse into a single store.Store.Save call.
//
// The coalescing strategy is grounded on the framework's Redis
// transactional pattern (Watch + TxPipelined) in RedisStateStore: a
// sequence of updates to the same key is folded into one atomic write
// rather than round-tripping to storage for every intermediate step.
package batcher

import (
	"context"
	"sync"
	"time"

	"github.com/sentinelops/orchestrator/core"
	"github.com/sentinelops/orchestrator/store"
)

// Batcher coalesces pending incident writes and flushes them on a timer
// or on demand via FlushNow.
type Batcher struct {
	store  store.Store
	window time.Duration
	logger core.Logger

	mu      sync.Mutex
	pending map[string]*pendingWrite

	flushErrMu sync.Mutex
	lastErr    error

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

type pendingWrite struct {
	incident        *core.Incident
	expectedVersion int64
}

// New creates a Batcher that flushes pending writes to s every window.
// A nil logger falls back to core.NoOpLogger.
func New(s store.Store, window time.Duration, logger core.Logger) *Batcher {
	if logger == nil {
		logger = core.NoOpLogger{}
	}
	if cal, ok := logger.(core.ComponentAwareLogger); ok {
		logger = cal.WithComponent("batcher")
	}
	b := &Batcher{
		store:   s,
		window:  window,
		logger:  logger,
		pending: make(map[string]*pendingWrite),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
	go b.loop()
	return b
}

// Add queues a write for incident, overwriting any earlier pending write
// for the same incident id. The expectedVersion used on flush is the one
// supplied by the most recent Add call.
func (b *Batcher) Add(incident *core.Incident, expectedVersion int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pending[incident.ID] = &pendingWrite{incident: incident, expectedVersion: expectedVersion}
}

// FlushNow synchronously writes all pending incidents to the backing
// store, providing the durability barrier callers need before any
// externally observable side effect (a published message, an approval
// notification).
func (b *Batcher) FlushNow(ctx context.Context) error {
	b.mu.Lock()
	batch := b.pending
	b.pending = make(map[string]*pendingWrite)
	b.mu.Unlock()

	var firstErr error
	for id, w := range batch {
		if err := b.store.Save(ctx, w.incident, w.expectedVersion); err != nil {
			b.logger.Error("batcher flush failed", map[string]interface{}{
				"incident_id": id,
				"error":       err.Error(),
			})
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
	}
	return firstErr
}

// Close stops the background flush loop, performing one final flush.
func (b *Batcher) Close(ctx context.Context) error {
	b.stopOnce.Do(func() {
		close(b.stopCh)
		<-b.doneCh
	})
	return b.FlushNow(ctx)
}

func (b *Batcher) loop() {
	defer close(b.doneCh)
	ticker := time.NewTicker(b.window)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := b.FlushNow(context.Background()); err != nil {
				b.flushErrMu.Lock()
				b.lastErr = err
				b.flushErrMu.Unlock()
			}
		case <-b.stopCh:
			return
		}
	}
}

// LastFlushError returns the most recent background flush error, if any.
func (b *Batcher) LastFlushError() error {
	b.flushErrMu.Lock()
	defer b.flushErrMu.Unlock()
	return b.lastErr
}
