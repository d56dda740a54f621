// Package recovery maps a classified error and the attempt history for
// the step that produced it to a recovery action. It holds no mutable
// state of its own — retry/defer counters live on the caller's Context
// and are threaded back in on each call, the same pure-function shape
// the state machine uses for Transit.
package recovery

import (
	"time"

	"github.com/sentinelops/orchestrator/core"
)

// ActionKind names what the caller should do next.
type ActionKind string

const (
	// ActionRetryAfter means retry the step after the returned delay.
	ActionRetryAfter ActionKind = "retry_after"
	// ActionSkip means skip the offending step and continue if the
	// state machine allows it.
	ActionSkip ActionKind = "skip"
	// ActionEscalate means transition to WORKFLOW_TIMEOUT, or hand off
	// to an escalation handler if one is configured.
	ActionEscalate ActionKind = "escalate"
	// ActionFail means transition the incident to WORKFLOW_FAILED.
	ActionFail ActionKind = "fail"
	// ActionDefer means reschedule the same trigger after the
	// dependency's cooldown elapses.
	ActionDefer ActionKind = "defer"
)

// Action is the policy's verdict for one error occurrence.
type Action struct {
	Kind   ActionKind
	Delay  time.Duration
	Reason string
}

// Context carries the attempt history the policy needs to decide
// between retrying, deferring, and giving up.
type Context struct {
	RetryCount int           // retries already attempted for this step
	DeferCount int           // consecutive circuit-open defers for this step
	CooldownOf time.Duration // current circuit breaker cooldown, for ActionDefer
	HasEscalationHandler bool
}

// RetryPolicy configures the Network/Transient backoff schedule.
type RetryPolicy struct {
	Base        time.Duration
	Factor      float64
	MaxDelay    time.Duration
	MaxAttempts int
}

// DefaultRetryPolicy matches the default backoff schedule: base 1s,
// factor 2, cap 10s, 3 attempts.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Base:        time.Second,
		Factor:      2.0,
		MaxDelay:    10 * time.Second,
		MaxAttempts: 3,
	}
}

// Policy decides the recovery action for a classified error.
type Policy struct {
	retry RetryPolicy
}

// New creates a Policy using the given retry schedule for
// Transient-class errors. A zero-value RetryPolicy falls back to
// DefaultRetryPolicy.
func New(retry RetryPolicy) *Policy {
	if retry.MaxAttempts == 0 {
		retry = DefaultRetryPolicy()
	}
	return &Policy{retry: retry}
}

// Decide maps (error kind, context) to a recovery action, per the
// table: Transient retries with backoff up to MaxAttempts then fails;
// Validation skips the step; Timeout escalates; Unrecoverable fails
// immediately; CircuitOpen defers up to three times then fails.
func (p *Policy) Decide(kind core.ErrorKind, ctx Context) Action {
	switch kind {
	case core.ErrorKindTransient:
		if ctx.RetryCount >= p.retry.MaxAttempts {
			return Action{Kind: ActionFail, Reason: "transient_exhausted"}
		}
		return Action{Kind: ActionRetryAfter, Delay: p.backoffDelay(ctx.RetryCount)}

	case core.ErrorKindValidation:
		return Action{Kind: ActionSkip, Reason: "validation_failed"}

	case core.ErrorKindTimeout:
		if ctx.HasEscalationHandler {
			return Action{Kind: ActionEscalate, Reason: "timeout_escalated"}
		}
		return Action{Kind: ActionEscalate, Reason: "timeout_no_handler"}

	case core.ErrorKindCircuitOpen:
		if ctx.DeferCount >= 3 {
			return Action{Kind: ActionFail, Reason: "circuit_open_exhausted"}
		}
		return Action{Kind: ActionDefer, Delay: ctx.CooldownOf, Reason: "circuit_open"}

	case core.ErrorKindPrecondition:
		if ctx.RetryCount >= p.retry.MaxAttempts {
			return Action{Kind: ActionFail, Reason: "precondition_exhausted"}
		}
		return Action{Kind: ActionRetryAfter, Reason: "precondition_retry"}

	case core.ErrorKindUnrecoverable:
		fallthrough
	default:
		return Action{Kind: ActionFail, Reason: "unrecoverable"}
	}
}

// backoffDelay computes the exponential backoff delay for the given
// (zero-based) retry attempt: Base multiplied by Factor once per attempt,
// capped at MaxDelay. No jitter is applied.
func (p *Policy) backoffDelay(attempt int) time.Duration {
	delay := p.retry.Base
	for i := 0; i < attempt; i++ {
		delay = time.Duration(float64(delay) * p.retry.Factor)
		if delay > p.retry.MaxDelay {
			delay = p.retry.MaxDelay
			break
		}
	}
	return delay
}
