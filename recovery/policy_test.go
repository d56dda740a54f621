package recovery

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sentinelops/orchestrator/core"
)

func TestPolicy_TransientRetriesThenFails(t *testing.T) {
	p := New(DefaultRetryPolicy())

	a := p.Decide(core.ErrorKindTransient, Context{RetryCount: 0})
	assert.Equal(t, ActionRetryAfter, a.Kind)
	assert.Equal(t, time.Second, a.Delay)

	a = p.Decide(core.ErrorKindTransient, Context{RetryCount: 3})
	assert.Equal(t, ActionFail, a.Kind)
	assert.Equal(t, "transient_exhausted", a.Reason)
}

func TestPolicy_ValidationSkips(t *testing.T) {
	p := New(DefaultRetryPolicy())
	a := p.Decide(core.ErrorKindValidation, Context{})
	assert.Equal(t, ActionSkip, a.Kind)
}

func TestPolicy_TimeoutEscalates(t *testing.T) {
	p := New(DefaultRetryPolicy())
	a := p.Decide(core.ErrorKindTimeout, Context{})
	assert.Equal(t, ActionEscalate, a.Kind)
}

func TestPolicy_PreconditionRetriesThenFails(t *testing.T) {
	p := New(DefaultRetryPolicy())

	a := p.Decide(core.ErrorKindPrecondition, Context{RetryCount: 0})
	assert.Equal(t, ActionRetryAfter, a.Kind)

	a = p.Decide(core.ErrorKindPrecondition, Context{RetryCount: 3})
	assert.Equal(t, ActionFail, a.Kind)
	assert.Equal(t, "precondition_exhausted", a.Reason)
}

func TestPolicy_UnrecoverableFailsImmediately(t *testing.T) {
	p := New(DefaultRetryPolicy())
	a := p.Decide(core.ErrorKindUnrecoverable, Context{})
	assert.Equal(t, ActionFail, a.Kind)
}

func TestPolicy_CircuitOpenDefersThenFails(t *testing.T) {
	p := New(DefaultRetryPolicy())

	a := p.Decide(core.ErrorKindCircuitOpen, Context{DeferCount: 1, CooldownOf: 30 * time.Second})
	assert.Equal(t, ActionDefer, a.Kind)
	assert.Equal(t, 30*time.Second, a.Delay)

	a = p.Decide(core.ErrorKindCircuitOpen, Context{DeferCount: 3})
	assert.Equal(t, ActionFail, a.Kind)
}

func TestPolicy_BackoffDoublesAndCaps(t *testing.T) {
	p := New(RetryPolicy{Base: time.Second, Factor: 2, MaxDelay: 3 * time.Second, MaxAttempts: 5})

	assert.Equal(t, time.Second, p.backoffDelay(0))
	assert.Equal(t, 2*time.Second, p.backoffDelay(1))
	assert.Equal(t, 3*time.Second, p.backoffDelay(2))
}
