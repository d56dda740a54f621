package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFake_AdvanceFiresDueCallbacks(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	fc := NewFake(start)

	var fired []string
	fc.Schedule("a", start.Add(5*time.Second), func() { fired = append(fired, "a") })
	fc.Schedule("b", start.Add(10*time.Second), func() { fired = append(fired, "b") })

	fc.Advance(4 * time.Second)
	assert.Empty(t, fired)

	fc.Advance(2 * time.Second)
	assert.Equal(t, []string{"a"}, fired)

	fc.Advance(10 * time.Second)
	assert.Equal(t, []string{"a", "b"}, fired)
}

func TestFake_StopPreventsCallback(t *testing.T) {
	start := time.Now()
	fc := NewFake(start)

	fired := false
	timer := fc.Schedule("x", start.Add(time.Second), func() { fired = true })

	ok := timer.Stop()
	assert.True(t, ok)

	fc.Advance(2 * time.Second)
	assert.False(t, fired)

	ok = timer.Stop()
	assert.False(t, ok)
}

func TestReal_Schedule(t *testing.T) {
	rc := New()
	done := make(chan struct{})
	rc.Schedule("y", rc.Now().Add(10*time.Millisecond), func() { close(done) })

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("callback did not fire")
	}
}
