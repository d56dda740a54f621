// Package orchestration wires the state machine, store, bus, approval
// engine, recovery policy, and audit log into the running system: the
// Dispatcher routes inbound messages, Admission bounds concurrency, and
// Engine drives each incident's workflow to completion.
package orchestration

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/sentinelops/orchestrator/approval"
	"github.com/sentinelops/orchestrator/audit"
	"github.com/sentinelops/orchestrator/batcher"
	"github.com/sentinelops/orchestrator/bus"
	"github.com/sentinelops/orchestrator/cache"
	"github.com/sentinelops/orchestrator/clock"
	"github.com/sentinelops/orchestrator/core"
	"github.com/sentinelops/orchestrator/recovery"
	"github.com/sentinelops/orchestrator/resilience"
	"github.com/sentinelops/orchestrator/statemachine"
	"github.com/sentinelops/orchestrator/store"
)

// Outbound topics the engine publishes to.
const (
	TopicAnalyzeIncident    = "analyze_incident"
	TopicExecuteRemediation = "execute_remediation"
	TopicSendNotification   = "send_notification"
)

// autoChain lists states the engine advances out of immediately, with
// no external trigger required — bookkeeping transitions the workflow
// diagram draws as intermediate states rather than external waits.
var autoChain = map[core.WorkflowState]core.Trigger{
	core.StateDetectionReceived: statemachine.TriggerAnalysisRequested,
	core.StateAnalysisRequested: statemachine.TriggerAnalysisStarted,
	core.StateAnalysisComplete:  statemachine.TriggerRemediationRequested,
	core.StateRemediationApproved: statemachine.TriggerRemediationStarted,
	core.StateRemediationComplete: statemachine.TriggerResolved,
}

// timeoutTable holds, per phase, the duration the engine allows an
// incident to remain in it before its timer fires. Zero means no timer is
// armed for that phase.
type timeoutTable struct {
	Analysis    time.Duration
	Remediation time.Duration
	Approval    time.Duration
	Workflow    time.Duration
	Closure     time.Duration
}

// Engine drives each admitted incident's workflow from creation to a
// terminal state.
type Engine struct {
	sm        *statemachine.Machine
	store     store.Store
	b         bus.Bus
	approvalEngine *approval.Engine
	recoveryPolicy *recovery.Policy
	auditLog  *audit.Log
	admission *Admission
	clk       clock.Clock
	resultCache *cache.LRUCache
	writeBatcher *batcher.Batcher
	rateLimiter *resilience.RateLimiter
	logger    core.Logger
	metrics   core.MetricsRegistry
	timeouts  timeoutTable

	confidenceThreshold    float64
	escalateLowConfidence  bool
	allowPartialResolution bool

	mu        sync.Mutex
	instances map[string]*workflowInstance
}

type workflowInstance struct {
	incidentID string
	inbox      chan inboxEvent

	// remediationAttempts counts execute_remediation retries for this
	// instance. Only this instance's own run goroutine ever touches it,
	// so it needs no lock.
	remediationAttempts int
}

type inboxEvent struct {
	topic   string
	payload []byte
	trigger core.Trigger // set directly for internally-generated timeout events
}

// EngineConfig bundles the Engine's collaborators, mirroring the
// constructor-injection style the framework uses throughout (agents
// take their store/bus/logger as explicit arguments, never globals).
type EngineConfig struct {
	Store          store.Store
	Bus            bus.Bus
	Approval       *approval.Engine
	Recovery       *recovery.Policy
	Audit          *audit.Log
	Admission      *Admission
	Clock          clock.Clock
	ResultCache    *cache.LRUCache
	WriteBatcher   *batcher.Batcher
	RateLimiter    *resilience.RateLimiter
	Logger         core.Logger
	Metrics        core.MetricsRegistry
	AnalysisTimeout    time.Duration
	RemediationTimeout time.Duration
	ApprovalTimeout    time.Duration
	WorkflowTimeout    time.Duration
	ClosureDelay       time.Duration

	// ConfidenceThreshold is the minimum analysis confidence required to
	// proceed to remediation; below it the incident fails with reason
	// low_confidence. Defaults to 0.7.
	ConfidenceThreshold float64

	// EscalateLowConfidence routes a below-threshold analysis to a human
	// escalation instead of failing outright, if configured.
	EscalateLowConfidence bool

	// AllowPartialResolution resolves a remediation with some, but not
	// all, actions succeeding with ResolutionReason "partial" instead of
	// treating it as a full remediation failure. NewEngine leaves it as
	// given, so the zero value (false) treats partial success as failure;
	// core.Config's default of true reaches it through cmd/orchestrator.
	AllowPartialResolution bool
}

// NewEngine constructs an Engine from its collaborators.
func NewEngine(cfg EngineConfig) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = core.NoOpLogger{}
	}
	if cal, ok := logger.(core.ComponentAwareLogger); ok {
		logger = cal.WithComponent("orchestration/engine")
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = core.GetGlobalMetricsRegistry()
	}
	if metrics == nil {
		metrics = core.NoOpMetricsRegistry{}
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real{}
	}
	if cfg.ClosureDelay <= 0 {
		cfg.ClosureDelay = 30 * time.Second
	}
	if cfg.ConfidenceThreshold <= 0 {
		cfg.ConfidenceThreshold = 0.7
	}

	return &Engine{
		sm:                    statemachine.New(),
		store:                 cfg.Store,
		b:                     cfg.Bus,
		approvalEngine:        cfg.Approval,
		recoveryPolicy:        cfg.Recovery,
		auditLog:              cfg.Audit,
		admission:             cfg.Admission,
		clk:                   clk,
		resultCache:           cfg.ResultCache,
		writeBatcher:          cfg.WriteBatcher,
		rateLimiter:           cfg.RateLimiter,
		logger:                logger,
		metrics:               metrics,
		confidenceThreshold:    cfg.ConfidenceThreshold,
		escalateLowConfidence:  cfg.EscalateLowConfidence,
		allowPartialResolution: cfg.AllowPartialResolution,
		timeouts: timeoutTable{
			Analysis:    cfg.AnalysisTimeout,
			Remediation: cfg.RemediationTimeout,
			Approval:    cfg.ApprovalTimeout,
			Workflow:    cfg.WorkflowTimeout,
			Closure:     cfg.ClosureDelay,
		},
		instances: make(map[string]*workflowInstance),
	}
}

// OnInboundMessage implements Handler. new_incident either starts a new
// workflowInstance immediately or is queued by Admission; every other
// topic is routed to the existing instance's inbox.
func (e *Engine) OnInboundMessage(ctx context.Context, incidentID, topic string, payload []byte) error {
	if topic == "new_incident" {
		return e.onNewIncident(ctx, incidentID, payload)
	}

	inst := e.lookup(incidentID)
	if inst == nil {
		return fmt.Errorf("%w: no active workflow for incident %s", core.ErrNotFound, incidentID)
	}

	select {
	case inst.inbox <- inboxEvent{topic: topic, payload: payload}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) lookup(incidentID string) *workflowInstance {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.instances[incidentID]
}

func (e *Engine) onNewIncident(ctx context.Context, incidentID string, payload []byte) error {
	admitted, err := e.admission.Admit(ctx, incidentID, payload)
	if err != nil {
		return err
	}
	if !admitted {
		return nil // queued; promoted later via Release, replaying this payload
	}
	return e.start(ctx, incidentID, payload)
}

func (e *Engine) start(ctx context.Context, incidentID string, payload []byte) error {
	var fields struct {
		Severity string `json:"severity"`
		Source   string `json:"source"`
	}
	_ = json.Unmarshal(payload, &fields)

	incident := &core.Incident{
		ID:       incidentID,
		State:    core.StateInitialized,
		Severity: core.Severity(fields.Severity),
		Source:   fields.Source,
		Detected: e.clk.Now(),
	}
	if e.timeouts.Workflow > 0 {
		incident.Deadline = e.clk.Now().Add(e.timeouts.Workflow)
	}

	if err := e.store.Save(ctx, incident, 0); err != nil {
		return fmt.Errorf("persisting new incident: %w", err)
	}

	inst := &workflowInstance{incidentID: incidentID, inbox: make(chan inboxEvent, 32)}
	e.mu.Lock()
	e.instances[incidentID] = inst
	e.mu.Unlock()

	go e.run(inst)

	if e.timeouts.Workflow > 0 {
		e.clk.Schedule("workflow:"+incidentID, incident.Deadline, func() {
			e.deliverTimeout(incidentID)
		})
	}

	select {
	case inst.inbox <- inboxEvent{trigger: statemachine.TriggerDetectionReceived}:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

// deliverTimeout is the callback clock.Schedule invokes; it never
// blocks the clock goroutine for long since the inbox is buffered.
func (e *Engine) deliverTimeout(incidentID string) {
	inst := e.lookup(incidentID)
	if inst == nil {
		return
	}
	select {
	case inst.inbox <- inboxEvent{trigger: statemachine.TriggerTimeout}:
	default:
	}
}

// run is the per-incident serialized inbox loop: it drains events in
// strict receive order and holds no goroutine between suspensions other
// than this channel receive.
func (e *Engine) run(inst *workflowInstance) {
	ctx := context.Background()
	for ev := range inst.inbox {
		terminal := e.handleEvent(ctx, inst, ev)
		if terminal {
			e.finish(ctx, inst.incidentID)
			return
		}
	}
}

func (e *Engine) finish(ctx context.Context, incidentID string) {
	e.mu.Lock()
	delete(e.instances, incidentID)
	e.mu.Unlock()

	promoted, payload, ok := e.admission.Release(incidentID)
	if !ok {
		return
	}
	// Promotion replays the backlog entry's original new_incident payload
	// as if it had just arrived, since it was never handed to a workflow
	// the first time around — only queued.
	e.logger.Info("promoting queued incident", map[string]interface{}{"incident_id": promoted})
	if err := e.start(ctx, promoted, payload); err != nil {
		e.logger.Error("failed to start promoted incident", map[string]interface{}{"incident_id": promoted, "error": err.Error()})
	}
}

func (e *Engine) handleEvent(ctx context.Context, inst *workflowInstance, ev inboxEvent) (terminal bool) {
	incident, err := e.store.Get(ctx, inst.incidentID)
	if err != nil {
		e.logger.Error("load incident failed", map[string]interface{}{"incident_id": inst.incidentID, "error": err.Error()})
		return true
	}

	if ev.topic == "analysis_complete" && incident.State == core.StateAnalysisInProgress {
		var body struct {
			Confidence float64 `json:"confidence"`
		}
		_ = json.Unmarshal(ev.payload, &body)
		incident.Confidence = body.Confidence
		if body.Confidence < e.confidenceThreshold {
			if e.escalateLowConfidence {
				return e.escalate(ctx, incident, "low_confidence")
			}
			return e.failWithTemplate(ctx, incident, "low_confidence", "low_confidence")
		}
	}

	if ev.topic == "remediation_complete" && incident.State == core.StateRemediationInProgress {
		return e.handleRemediationComplete(ctx, inst, incident, ev.payload)
	}

	trigger := ev.trigger
	if trigger == "" {
		trigger = e.topicTrigger(incident.State, ev.topic, ev.payload)
	}
	if trigger == "" {
		return false // unrecognized in this state; already dead-lettered upstream
	}

	result, err := e.sm.Transit(inst.incidentID, incident.State, trigger, e.guardContext(incident, ev))
	if err != nil {
		e.logger.Warn("transition rejected", map[string]interface{}{
			"incident_id": inst.incidentID, "state": incident.State, "trigger": trigger, "error": err.Error(),
		})
		return false
	}

	return e.commit(ctx, incident, result, ev)
}

func (e *Engine) guardContext(incident *core.Incident, ev inboxEvent) statemachine.GuardContext {
	gc := statemachine.GuardContext{Confidence: incident.Confidence, CumulativeRisk: incident.Risk}
	if ev.topic == "remediation_proposed" {
		var body struct {
			Actions []core.Action `json:"actions"`
		}
		_ = json.Unmarshal(ev.payload, &body)
		for _, a := range body.Actions {
			if a.RequiresApproval {
				gc.RequiresApproval = true
			}
			gc.CumulativeRisk += a.Risk
		}
	}
	return gc
}

func (e *Engine) topicTrigger(state core.WorkflowState, topic string, payload []byte) core.Trigger {
	switch topic {
	case "analysis_complete":
		if state == core.StateAnalysisInProgress {
			return statemachine.TriggerAnalysisCompleted
		}
	case "remediation_proposed":
		if state == core.StateRemediationRequested {
			return statemachine.TriggerRemediationProposed
		}
	case "approval_decision":
		if state == core.StateApprovalPending {
			var body struct {
				Outcome string `json:"outcome"`
			}
			_ = json.Unmarshal(payload, &body)
			if body.Outcome == "granted" || body.Outcome == "approved" {
				return statemachine.TriggerApproved
			}
			return statemachine.TriggerDenied
		}
	case "notification_ack":
		if state == core.StateIncidentResolved {
			return statemachine.TriggerClosed
		}
	case "control":
		var body struct {
			Command string `json:"command"`
		}
		_ = json.Unmarshal(payload, &body)
		if body.Command == "fail" || body.Command == "escalate" {
			return statemachine.TriggerFail
		}
	}
	return ""
}

// actionStatus is one entry of remediation_complete's per_action_status
// array: spec.md §6's wire shape for reporting per-action outcomes,
// replacing a single flat success boolean.
type actionStatus struct {
	Key   string `json:"key"`
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

func parsePerActionStatus(payload []byte) []actionStatus {
	var body struct {
		PerActionStatus []actionStatus `json:"per_action_status"`
	}
	_ = json.Unmarshal(payload, &body)
	return body.PerActionStatus
}

// handleRemediationComplete classifies the remediation agent's reported
// per-action outcomes: full success advances the workflow normally,
// partial success resolves with reason "partial" when the approval
// policy allows it, and any other failure goes through the recovery
// policy the same way a persist failure does — retried with backoff up
// to its attempt budget, then failed.
func (e *Engine) handleRemediationComplete(ctx context.Context, inst *workflowInstance, incident *core.Incident, payload []byte) bool {
	statuses := parsePerActionStatus(payload)

	allOK := true
	anyOK := false
	for _, s := range statuses {
		if s.OK {
			anyOK = true
		} else {
			allOK = false
		}
	}

	if allOK {
		return e.completeRemediation(ctx, incident)
	}

	if anyOK && e.allowPartialResolution {
		incident.ResolutionReason = "partial"
		return e.completeRemediation(ctx, incident)
	}

	if e.recoveryPolicy == nil {
		return e.fail(ctx, incident, "remediation_failed")
	}

	action := e.recoveryPolicy.Decide(core.ErrorKindTransient, recovery.Context{RetryCount: inst.remediationAttempts})
	if action.Kind != recovery.ActionRetryAfter {
		return e.fail(ctx, incident, "remediation_failed")
	}

	inst.remediationAttempts++
	e.recordAudit(incident.ID, "remediation_retry", map[string]interface{}{
		"attempt": inst.remediationAttempts,
		"delay":   action.Delay.String(),
		"statuses": statuses,
	})
	e.metrics.Counter("remediation_retries_total", "incident_id", incident.ID)

	attempt := inst.remediationAttempts
	e.clk.Schedule(fmt.Sprintf("remediation_retry:%s:%d", incident.ID, attempt), e.clk.Now().Add(action.Delay), func() {
		// Actions were already marked executed (their idempotency keys
		// recorded) the moment they were first published, so the retry
		// republishes them directly rather than going back through
		// unexecutedActions, which would now return none of them. The
		// remediation agent's own idempotency-key dedup makes the
		// resend safe.
		e.publish(ctx, TopicExecuteRemediation, map[string]interface{}{
			"incident_id": incident.ID,
			"actions":     incident.ProposedActions,
			"dry_run":     false,
		})
	})
	return false
}

// completeRemediation transitions the incident out of
// REMEDIATION_IN_PROGRESS via TriggerRemediationCompleted and runs the
// normal commit/auto-chain path to closure.
func (e *Engine) completeRemediation(ctx context.Context, incident *core.Incident) bool {
	result, err := e.sm.Transit(incident.ID, incident.State, statemachine.TriggerRemediationCompleted, e.guardContext(incident, inboxEvent{}))
	if err != nil {
		return e.fail(ctx, incident, "remediation_transition_rejected")
	}
	return e.commit(ctx, incident, result, inboxEvent{topic: "remediation_complete"})
}

// commit persists the new state (the durability barrier) before running
// any effect that has an externally observable side effect, then runs
// auto-chained transitions that follow with no external trigger.
func (e *Engine) commit(ctx context.Context, incident *core.Incident, result statemachine.Result, ev inboxEvent) (terminal bool) {
	prevState := incident.State
	incident.State = result.NextState
	switch ev.topic {
	case "analysis_complete":
		var body struct {
			Confidence float64 `json:"confidence"`
		}
		_ = json.Unmarshal(ev.payload, &body)
		incident.Confidence = body.Confidence
	case "remediation_proposed":
		var body struct {
			Actions []core.Action `json:"actions"`
		}
		_ = json.Unmarshal(ev.payload, &body)
		incident.ProposedActions = body.Actions
	}

	// The audit append must happen, and succeed, before the durability
	// write: a failed append aborts the transition as unrecoverable
	// rather than letting the state move forward unrecorded.
	if err := e.recordAudit(incident.ID, "transition", result.Transition); err != nil {
		e.logger.Error("audit append failed, aborting transition", map[string]interface{}{"incident_id": incident.ID, "error": err.Error()})
		return e.handlePersistFailure(ctx, incident, fmt.Errorf("%w: %v", core.ErrUnrecoverable, err))
	}

	var persistErr error
	if e.writeBatcher != nil {
		e.writeBatcher.Add(incident, incident.Version)
		persistErr = e.writeBatcher.FlushNow(ctx)
	} else {
		persistErr = e.store.Save(ctx, incident, incident.Version)
	}
	if persistErr != nil {
		e.logger.Error("persist failed", map[string]interface{}{"incident_id": incident.ID, "error": persistErr.Error()})
		return e.handlePersistFailure(ctx, incident, persistErr)
	}

	e.metrics.Counter("workflow_transitions_total", "from", string(prevState), "to", string(result.NextState))
	e.runEffect(ctx, incident, result.NextState)

	if statemachine.IsTerminal(result.NextState) {
		return true
	}

	if result.NextState == core.StateRemediationProposed {
		return e.decideApproval(ctx, incident)
	}

	if next, ok := autoChain[result.NextState]; ok {
		r2, err := e.sm.Transit(incident.ID, incident.State, next, statemachine.GuardContext{Confidence: incident.Confidence, CumulativeRisk: incident.Risk})
		if err != nil {
			return false
		}
		return e.commit(ctx, incident, r2, inboxEvent{})
	}
	return false
}

// decideApproval evaluates the incident's proposed actions against the
// approval engine and fires the resulting trigger (auto-approve or
// defer to human), the boundary spec.md §4.2 calls out between
// REMEDIATION_PROPOSED's two possible successors.
//
// The evaluation is a pure function of (actions, severity, confidence),
// so its result is cached by a fingerprint of that input: retried or
// duplicate remediation plans across incidents of the same shape skip
// re-evaluating the rule set. Only the derived aggregate outcome is
// cached, never the per-action decisions or anything mutable.
func (e *Engine) decideApproval(ctx context.Context, incident *core.Incident) bool {
	cacheKey := e.approvalCacheKey(incident)
	var aggregate core.ApprovalDecision
	var per []core.ApprovalDecision
	cached := false
	if e.resultCache != nil {
		if raw, ok := e.resultCache.Get(cacheKey); ok {
			if err := json.Unmarshal(raw, &aggregate); err == nil {
				aggregate.IncidentID = incident.ID
				cached = true
				e.metrics.Counter("approval_cache_hits_total")
			}
		}
	}
	if !cached {
		per, aggregate = e.approvalEngine.Decide(incident.ID, incident.ProposedActions, incident.Severity, incident.Confidence)
		if e.resultCache != nil {
			if raw, err := json.Marshal(aggregate); err == nil {
				e.resultCache.Set(cacheKey, raw, 5*time.Minute)
			}
		}
	}
	for i, d := range per {
		e.recordAudit(incident.ID, "approval_decision", map[string]interface{}{"action_index": i, "decision": d})
	}
	e.metrics.Counter("approval_decisions_total", "outcome", string(aggregate.Outcome))

	var trigger core.Trigger
	if aggregate.Outcome == core.ApprovalAutoApproved {
		trigger = statemachine.TriggerAutoApproved
	} else {
		trigger = statemachine.TriggerApprovalRequired
	}

	gc := statemachine.GuardContext{Confidence: incident.Confidence, CumulativeRisk: incident.Risk, RequiresApproval: trigger == statemachine.TriggerApprovalRequired}
	result, err := e.sm.Transit(incident.ID, incident.State, trigger, gc)
	if err != nil {
		e.logger.Error("approval transition rejected", map[string]interface{}{"incident_id": incident.ID, "error": err.Error()})
		return e.fail(ctx, incident, "approval_transition_rejected")
	}
	return e.commit(ctx, incident, result, inboxEvent{})
}

// approvalCacheKey fingerprints the inputs to an approval decision so
// identical plans hit the same cache entry regardless of incident id.
func (e *Engine) approvalCacheKey(incident *core.Incident) string {
	raw, _ := json.Marshal(struct {
		Actions    []core.Action `json:"actions"`
		Severity   core.Severity `json:"severity"`
		Confidence float64       `json:"confidence"`
	}{incident.ProposedActions, incident.Severity, incident.Confidence})
	return "approval:" + string(raw)
}

// handlePersistFailure classifies a durability-barrier write failure and
// applies the Recovery Policy: transient failures and version conflicts
// (after re-reading the current version) are retried in place up to the
// policy's attempt budget, anything else fails the incident.
func (e *Engine) handlePersistFailure(ctx context.Context, incident *core.Incident, err error) bool {
	if e.recoveryPolicy == nil {
		return e.fail(ctx, incident, "persist_failed")
	}

	kind := core.ClassifyError(err)
	for attempt := 0; ; attempt++ {
		action := e.recoveryPolicy.Decide(kind, recovery.Context{RetryCount: attempt})
		if action.Kind != recovery.ActionRetryAfter {
			break
		}
		if kind == core.ErrorKindPrecondition {
			// Re-read before retrying: the conflict means another writer
			// already advanced the version, so our stale expectedVersion
			// would just fail again. Our pending state change is reapplied
			// on top of the fresh version.
			if fresh, getErr := e.store.Get(ctx, incident.ID); getErr == nil {
				incident.Version = fresh.Version
			}
		}
		if retryErr := e.store.Save(ctx, incident, incident.Version); retryErr == nil {
			return false
		}
	}
	return e.fail(ctx, incident, "persist_failed")
}

func (e *Engine) fail(ctx context.Context, incident *core.Incident, reason string) bool {
	return e.failWithTemplate(ctx, incident, reason, "escalation_required")
}

// escalate hands the incident to a human via WORKFLOW_TIMEOUT instead
// of failing outright — the configurable alternative spec.md §4.2 names
// for the low-confidence boundary.
func (e *Engine) escalate(ctx context.Context, incident *core.Incident, reason string) bool {
	result, err := e.sm.Transit(incident.ID, incident.State, statemachine.TriggerTimeout, statemachine.GuardContext{})
	if err != nil {
		return e.failWithTemplate(ctx, incident, reason, reason)
	}
	incident.State = result.NextState
	incident.ResolutionReason = reason
	_ = e.store.Save(ctx, incident, incident.Version)
	e.recordAudit(incident.ID, "escalated", reason)
	e.publishNotification(ctx, incident, "escalation_required", reason)
	return true
}

// failWithTemplate transitions incident to WORKFLOW_FAILED, recording
// reason and publishing a notification under the given template (e.g.
// "low_confidence" for the analysis-confidence boundary, or the default
// "escalation_required" for every other fatal classification).
func (e *Engine) failWithTemplate(ctx context.Context, incident *core.Incident, reason, template string) bool {
	result, err := e.sm.Transit(incident.ID, incident.State, statemachine.TriggerFail, statemachine.GuardContext{})
	if err != nil {
		return true
	}
	incident.State = result.NextState
	incident.ResolutionReason = reason
	_ = e.store.Save(ctx, incident, incident.Version)
	e.recordAudit(incident.ID, "failed", reason)
	e.publishNotification(ctx, incident, template, reason)
	return true
}

// runEffect fires the outbound publish or timer schedule associated
// with landing in a given state.
func (e *Engine) runEffect(ctx context.Context, incident *core.Incident, state core.WorkflowState) {
	switch state {
	case core.StateAnalysisRequested:
		e.publish(ctx, TopicAnalyzeIncident, map[string]interface{}{"incident_id": incident.ID})
	case core.StateAnalysisInProgress:
		if e.timeouts.Analysis > 0 {
			e.armTimeout(incident.ID, "analysis", e.timeouts.Analysis)
		}
	case core.StateRemediationProposed:
		// handled by decideApproval, which commit calls on entering this
		// state; no immediate effect here.
	case core.StateApprovalPending:
		if e.timeouts.Approval > 0 {
			e.armTimeout(incident.ID, "approval", e.timeouts.Approval)
		}
		e.publish(ctx, TopicSendNotification, map[string]interface{}{"incident_id": incident.ID, "template": "approval_required"})
	case core.StateRemediationInProgress:
		if e.timeouts.Remediation > 0 {
			e.armTimeout(incident.ID, "remediation", e.timeouts.Remediation)
		}
		e.publish(ctx, TopicExecuteRemediation, map[string]interface{}{
			"incident_id": incident.ID,
			"actions":     e.unexecutedActions(incident),
			"dry_run":     false,
		})
	case core.StateIncidentResolved:
		e.publish(ctx, TopicSendNotification, map[string]interface{}{"incident_id": incident.ID, "template": "resolved"})
		if e.timeouts.Closure > 0 {
			e.clk.Schedule("closure:"+incident.ID, e.clk.Now().Add(e.timeouts.Closure), func() {
				inst := e.lookup(incident.ID)
				if inst == nil {
					return
				}
				select {
				case inst.inbox <- inboxEvent{trigger: statemachine.TriggerClosed}:
				default:
				}
			})
		}
	case core.StateWorkflowFailed, core.StateWorkflowTimeout:
		e.publish(ctx, TopicSendNotification, map[string]interface{}{"incident_id": incident.ID, "template": "escalation_required"})
	}
}

// unexecutedActions returns the incident's proposed actions that have
// not yet been marked executed, then records their idempotency keys as
// executed — enforcing "at most once per (incident, idempotency key)"
// at the single point this engine ever publishes execute_remediation.
func (e *Engine) unexecutedActions(incident *core.Incident) []core.Action {
	executed := make(map[string]bool, len(incident.ExecutedActions))
	for _, k := range incident.ExecutedActions {
		executed[k] = true
	}
	var out []core.Action
	for _, a := range incident.ProposedActions {
		if executed[a.IdempotencyKey] {
			continue
		}
		out = append(out, a)
		incident.ExecutedActions = append(incident.ExecutedActions, a.IdempotencyKey)
	}
	return out
}

func (e *Engine) armTimeout(incidentID, label string, d time.Duration) {
	e.clk.Schedule(label+":"+incidentID, e.clk.Now().Add(d), func() {
		e.deliverTimeout(incidentID)
	})
}

func (e *Engine) publish(ctx context.Context, topic string, body map[string]interface{}) {
	if e.rateLimiter != nil && !e.rateLimiter.Allow(topic) {
		e.metrics.Counter("publish_rate_limited_total", "topic", topic)
		e.logger.Warn("publish rate limited", map[string]interface{}{"topic": topic})
		return
	}
	payload, err := json.Marshal(body)
	if err != nil {
		e.logger.Error("marshal outbound payload failed", map[string]interface{}{"topic": topic, "error": err.Error()})
		return
	}
	if err := e.b.Publish(ctx, topic, payload); err != nil {
		e.logger.Error("publish failed", map[string]interface{}{"topic": topic, "error": err.Error()})
	}
}

func (e *Engine) publishNotification(ctx context.Context, incident *core.Incident, template, reason string) {
	e.publish(ctx, TopicSendNotification, map[string]interface{}{
		"incident_id": incident.ID,
		"template":    template,
		"reason":      reason,
	})
}

func (e *Engine) recordAudit(incidentID, kind string, payload interface{}) error {
	if e.auditLog == nil {
		return nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = e.auditLog.Append(incidentID, kind, data)
	return err
}

var _ Handler = (*Engine)(nil)
