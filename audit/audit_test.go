package audit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentinelops/orchestrator/clock"
)

func TestLog_AppendBuildsHashChain(t *testing.T) {
	l := New(clock.NewFake(time.Unix(0, 0)), nil)

	first, err := l.Append("inc-1", "triaged", []byte("severity=high"))
	require.NoError(t, err)
	assert.Empty(t, first.PrevHash)

	second, err := l.Append("inc-1", "analyzed", []byte("confidence=0.9"))
	require.NoError(t, err)
	assert.Equal(t, first.Hash, second.PrevHash)
}

func TestLog_VerifyDetectsTampering(t *testing.T) {
	l := New(clock.NewFake(time.Unix(0, 0)), nil)
	_, err := l.Append("inc-1", "triaged", []byte("severity=high"))
	require.NoError(t, err)
	_, err = l.Append("inc-1", "analyzed", []byte("confidence=0.9"))
	require.NoError(t, err)

	ok, _, err := l.Verify()
	require.NoError(t, err)
	assert.True(t, ok)

	l.chain[0].Payload = []byte("severity=low")

	ok, badSeq, err := l.Verify()
	assert.False(t, ok)
	assert.Error(t, err)
	assert.Equal(t, int64(0), badSeq)
}

func TestLog_ForIncidentFiltersSubChain(t *testing.T) {
	l := New(clock.NewFake(time.Unix(0, 0)), nil)
	_, _ = l.Append("inc-1", "triaged", nil)
	_, _ = l.Append("inc-2", "triaged", nil)
	_, _ = l.Append("inc-1", "analyzed", nil)

	entries := l.ForIncident("inc-1")
	require.Len(t, entries, 2)
	assert.Equal(t, "triaged", entries[0].Kind)
	assert.Equal(t, "analyzed", entries[1].Kind)
}

func TestLog_IncidentChainIsIndependentOfGlobalChain(t *testing.T) {
	l := New(clock.NewFake(time.Unix(0, 0)), nil)
	_, err := l.Append("inc-1", "triaged", []byte("severity=high"))
	require.NoError(t, err)
	_, err = l.Append("inc-2", "triaged", []byte("severity=low"))
	require.NoError(t, err)
	second, err := l.Append("inc-1", "analyzed", []byte("confidence=0.9"))
	require.NoError(t, err)

	entries := l.ForIncident("inc-1")
	require.Len(t, entries, 2)
	assert.Empty(t, entries[0].IncidentPrevHash)
	assert.Equal(t, entries[0].IncidentHash, entries[1].IncidentPrevHash)
	assert.Equal(t, second.IncidentHash, entries[1].IncidentHash)
	assert.NotEqual(t, entries[1].Hash, entries[1].IncidentHash, "global and per-incident hashes must differ since inc-2's entry only breaks the global chain")

	ok, _, err := l.VerifyIncident("inc-1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLog_VerifyIncidentDetectsTamperingIndependentlyOfGlobalChain(t *testing.T) {
	l := New(clock.NewFake(time.Unix(0, 0)), nil)
	_, err := l.Append("inc-1", "triaged", []byte("severity=high"))
	require.NoError(t, err)
	_, err = l.Append("inc-1", "analyzed", []byte("confidence=0.9"))
	require.NoError(t, err)

	l.chain[0].Payload = []byte("severity=low")

	ok, badSeq, err := l.VerifyIncident("inc-1")
	assert.False(t, ok)
	assert.Error(t, err)
	assert.Equal(t, int64(0), badSeq)
}

func TestLog_SignedEntriesVerify(t *testing.T) {
	l := New(clock.NewFake(time.Unix(0, 0)), []byte("secret-key"))
	entry, err := l.Append("inc-1", "triaged", []byte("severity=high"))
	require.NoError(t, err)
	assert.NotEmpty(t, entry.Signature)

	ok, _, err := l.Verify()
	require.NoError(t, err)
	assert.True(t, ok)
}
