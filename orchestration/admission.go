package orchestration

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/sentinelops/orchestrator/core"
)

// Admission enforces a global cap on concurrently running workflows and
// a bounded FIFO backlog for everything past the cap. It mirrors the
// active count in an atomic.Int32 and keeps an explicit wait queue
// instead of a dequeue-timeout poll loop.
type Admission struct {
	maxConcurrent int
	maxQueueSize  int

	logger  core.Logger
	metrics core.MetricsRegistry

	mu       sync.Mutex
	active   map[string]struct{}
	backlog  []string          // incident ids, strict FIFO by arrival order
	payloads map[string][]byte // incident id -> original new_incident payload, for backlogged entries

	active32 atomic.Int32
}

// NewAdmission creates an Admission gate with the given concurrency cap
// and backlog bound. A nil logger/metrics falls back to no-ops.
func NewAdmission(maxConcurrent, maxQueueSize int, logger core.Logger, metrics core.MetricsRegistry) *Admission {
	if logger == nil {
		logger = core.NoOpLogger{}
	}
	if cal, ok := logger.(core.ComponentAwareLogger); ok {
		logger = cal.WithComponent("orchestration/admission")
	}
	if metrics == nil {
		metrics = core.GetGlobalMetricsRegistry()
	}
	if metrics == nil {
		metrics = core.NoOpMetricsRegistry{}
	}
	return &Admission{
		maxConcurrent: maxConcurrent,
		maxQueueSize:  maxQueueSize,
		logger:        logger,
		metrics:       metrics,
		active:        make(map[string]struct{}),
		payloads:      make(map[string][]byte),
	}
}

// Admit tries to admit incidentID for immediate processing. If the
// concurrency cap is already reached, incidentID is placed on the FIFO
// backlog together with its original new_incident payload (so promotion
// can actually start the workflow later) and admitted=false is returned
// with a nil error. If the backlog is also full, core.ErrQueueFull is
// returned.
func (a *Admission) Admit(ctx context.Context, incidentID string, payload []byte) (admitted bool, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.active[incidentID]; ok {
		return false, fmt.Errorf("%w: %s", core.ErrAlreadyAdmitted, incidentID)
	}

	if len(a.active) < a.maxConcurrent {
		a.active[incidentID] = struct{}{}
		a.active32.Store(int32(len(a.active)))
		a.metrics.Gauge("admission_active_incidents", float64(len(a.active)))
		a.logger.Debug("incident admitted", map[string]interface{}{"incident_id": incidentID})
		return true, nil
	}

	if len(a.backlog) >= a.maxQueueSize {
		a.metrics.Counter("admission_queue_full_total")
		a.logger.Warn("admission backlog full, rejecting", map[string]interface{}{"incident_id": incidentID})
		return false, fmt.Errorf("%w: backlog at capacity %d", core.ErrQueueFull, a.maxQueueSize)
	}

	a.backlog = append(a.backlog, incidentID)
	a.payloads[incidentID] = payload
	a.metrics.Gauge("admission_backlog_size", float64(len(a.backlog)))
	a.logger.Info("incident queued", map[string]interface{}{"incident_id": incidentID, "position": len(a.backlog)})
	return false, nil
}

// Release frees incidentID's admission slot and promotes the oldest
// backlog entry, if any, returning its id and original payload so the
// caller can actually start its workflow.
func (a *Admission) Release(incidentID string) (promoted string, payload []byte, ok bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	delete(a.active, incidentID)

	if len(a.backlog) == 0 {
		a.active32.Store(int32(len(a.active)))
		a.metrics.Gauge("admission_active_incidents", float64(len(a.active)))
		return "", nil, false
	}

	next := a.backlog[0]
	a.backlog = a.backlog[1:]
	a.active[next] = struct{}{}
	nextPayload := a.payloads[next]
	delete(a.payloads, next)

	a.active32.Store(int32(len(a.active)))
	a.metrics.Gauge("admission_active_incidents", float64(len(a.active)))
	a.metrics.Gauge("admission_backlog_size", float64(len(a.backlog)))
	return next, nextPayload, true
}

// ActiveCount reports the number of currently admitted incidents.
func (a *Admission) ActiveCount() int {
	return int(a.active32.Load())
}

// BacklogLen reports the current backlog depth.
func (a *Admission) BacklogLen() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.backlog)
}
