package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLRUCache_SetGetRoundTrip(t *testing.T) {
	c := NewLRUCache(2)
	c.Set("incident-1:enrichment", []byte("payload"), time.Minute)

	v, ok := c.Get("incident-1:enrichment")
	assert.True(t, ok)
	assert.Equal(t, []byte("payload"), v)
}

func TestLRUCache_MissOnUnknownKey(t *testing.T) {
	c := NewLRUCache(2)
	_, ok := c.Get("nope")
	assert.False(t, ok)
	assert.Equal(t, int64(1), c.Stats().Misses)
}

func TestLRUCache_ExpiresAfterTTL(t *testing.T) {
	c := NewLRUCache(2)
	c.Set("k", []byte("v"), time.Millisecond)
	time.Sleep(5 * time.Millisecond)

	_, ok := c.Get("k")
	assert.False(t, ok)
}

func TestLRUCache_EvictsLeastRecentlyUsed(t *testing.T) {
	c := NewLRUCache(2)
	c.Set("a", []byte("1"), time.Minute)
	c.Set("b", []byte("2"), time.Minute)

	// touch "a" so "b" becomes the LRU entry
	_, _ = c.Get("a")
	c.Set("c", []byte("3"), time.Minute)

	_, ok := c.Get("b")
	assert.False(t, ok)

	_, ok = c.Get("a")
	assert.True(t, ok)
	_, ok = c.Get("c")
	assert.True(t, ok)
}

func TestLRUCache_StatsReportsHitRate(t *testing.T) {
	c := NewLRUCache(4)
	c.Set("k", []byte("v"), time.Minute)

	_, _ = c.Get("k")
	_, _ = c.Get("missing")

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.InDelta(t, 0.5, stats.HitRate, 0.001)
}

func TestLRUCache_ClearResetsState(t *testing.T) {
	c := NewLRUCache(4)
	c.Set("k", []byte("v"), time.Minute)
	c.Clear()

	_, ok := c.Get("k")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Stats().Size)
}
