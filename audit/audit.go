// Package audit maintains a hash-chained, append-only record of every
// decision and state transition an incident goes through, so that an
// investigator can later prove the sequence of events was not altered
// after the fact.
//
// There is no third-party ledger/hash-chaining library in the retrieved
// corpus, so this is built directly on stdlib crypto/sha256 and
// crypto/hmac (see DESIGN.md for the explicit justification).
package audit

import (
	"crypto/hmac"
	"crypto/sha256"
	"fmt"
	"sync"

	"github.com/sentinelops/orchestrator/clock"
	"github.com/sentinelops/orchestrator/core"
)

// Log is an append-only, hash-chained audit trail. Every entry's Hash
// covers the previous entry's Hash plus the new entry's payload, so
// altering or removing an entry breaks every hash after it.
type Log struct {
	mu sync.Mutex

	clock clock.Clock

	chain        []core.AuditEntry
	byIdent      map[string][]int  // index into chain, per incident id
	incidentPrev map[string][]byte // running per-incident chain head
	signKey      []byte            // optional; nil disables signing
	nextSeq      int64
}

// New creates an empty Log. signKey, if non-nil, is used to attach an
// HMAC-SHA256 signature to every entry in addition to the hash chain.
func New(clk clock.Clock, signKey []byte) *Log {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Log{
		clock:        clk,
		byIdent:      make(map[string][]int),
		incidentPrev: make(map[string][]byte),
		signKey:      signKey,
	}
}

// Append adds a new entry to the chain for incidentID, returning the
// committed entry (with its sequence number and hash populated).
func (l *Log) Append(incidentID, kind string, payload []byte) (*core.AuditEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var prevHash []byte
	if n := len(l.chain); n > 0 {
		prevHash = l.chain[n-1].Hash
	}
	incidentPrevHash := l.incidentPrev[incidentID]

	entry := core.AuditEntry{
		Sequence:         l.nextSeq,
		IncidentID:       incidentID,
		Kind:             kind,
		Payload:          payload,
		PrevHash:         prevHash,
		IncidentPrevHash: incidentPrevHash,
		At:               l.clock.Now(),
	}
	entry.Hash = computeHash(prevHash, entry)
	entry.IncidentHash = computeHash(incidentPrevHash, entry)

	if l.signKey != nil {
		entry.Signature = sign(l.signKey, entry.Hash)
	}

	l.nextSeq++
	l.chain = append(l.chain, entry)
	l.byIdent[incidentID] = append(l.byIdent[incidentID], len(l.chain)-1)
	l.incidentPrev[incidentID] = entry.IncidentHash

	committed := entry
	return &committed, nil
}

// ForIncident returns the sub-chain of entries recorded for incidentID,
// in append order.
func (l *Log) ForIncident(incidentID string) []core.AuditEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	idxs := l.byIdent[incidentID]
	out := make([]core.AuditEntry, 0, len(idxs))
	for _, i := range idxs {
		out = append(out, l.chain[i])
	}
	return out
}

// All returns the full global chain in append order.
func (l *Log) All() []core.AuditEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]core.AuditEntry, len(l.chain))
	copy(out, l.chain)
	return out
}

// Verify recomputes every hash (and signature, if signing is enabled)
// in the chain and reports the sequence number of the first entry that
// does not match, or ok=true if the whole chain is intact.
func (l *Log) Verify() (ok bool, firstBadSeq int64, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var prevHash []byte
	for _, entry := range l.chain {
		want := computeHash(prevHash, entry)
		if string(want) != string(entry.Hash) {
			return false, entry.Sequence, fmt.Errorf("audit: hash mismatch at sequence %d", entry.Sequence)
		}
		if l.signKey != nil {
			wantSig := sign(l.signKey, entry.Hash)
			if !hmac.Equal(wantSig, entry.Signature) {
				return false, entry.Sequence, fmt.Errorf("audit: signature mismatch at sequence %d", entry.Sequence)
			}
		}
		prevHash = entry.Hash
	}
	return true, 0, nil
}

// VerifyIncident recomputes incidentID's own hash chain independently of
// the global chain, so a sub-log extracted via ForIncident can be proven
// intact without access to any other incident's entries.
func (l *Log) VerifyIncident(incidentID string) (ok bool, firstBadSeq int64, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var prevHash []byte
	for _, i := range l.byIdent[incidentID] {
		entry := l.chain[i]
		want := computeHash(prevHash, entry)
		if string(want) != string(entry.IncidentHash) {
			return false, entry.Sequence, fmt.Errorf("audit: incident hash mismatch at sequence %d", entry.Sequence)
		}
		prevHash = entry.IncidentHash
	}
	return true, 0, nil
}

func computeHash(prevHash []byte, entry core.AuditEntry) []byte {
	h := sha256.New()
	h.Write(prevHash)
	h.Write([]byte(entry.IncidentID))
	h.Write([]byte(entry.Kind))
	h.Write(entry.Payload)
	return h.Sum(nil)
}

func sign(key, hash []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(hash)
	return mac.Sum(nil)
}
