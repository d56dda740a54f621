package resilience

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRateLimiter_AllowsUpToBurstThenBlocks(t *testing.T) {
	rl := NewRateLimiter(1, 3)

	assert.True(t, rl.Allow("execute_remediation"))
	assert.True(t, rl.Allow("execute_remediation"))
	assert.True(t, rl.Allow("execute_remediation"))
	assert.False(t, rl.Allow("execute_remediation"))
}

func TestRateLimiter_RefillsOverTime(t *testing.T) {
	rl := NewRateLimiter(100, 1)

	assert.True(t, rl.Allow("send_notification"))
	assert.False(t, rl.Allow("send_notification"))

	time.Sleep(20 * time.Millisecond)
	assert.True(t, rl.Allow("send_notification"))
}

func TestRateLimiter_CategoriesAreIndependent(t *testing.T) {
	rl := NewRateLimiter(1, 1)

	assert.True(t, rl.Allow("a"))
	assert.True(t, rl.Allow("b"))
	assert.False(t, rl.Allow("a"))
}
