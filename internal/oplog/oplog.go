// Package oplog implements the append-only, causally validated
// operation log that CRDT operations are recorded into before they're
// applied, plus the durable commit-log on disk.
//
// Grounded on
// _examples/original_source/spacepanda-core/src/core_store/crdt/oplog.rs
// for append/causal-validation/merge semantics.
package oplog

import (
	"sort"
	"strconv"
	"sync"

	"github.com/spacepanda/core/internal/crdt"
	"github.com/spacepanda/core/internal/errs"
)

// Entry is a single recorded operation.
type Entry struct {
	OpID      uint64
	OpType    string
	Data      []byte
	NodeID    string
	Clock     *crdt.VectorClock
	Timestamp uint64
	Signature []byte
}

// OpLog is the in-memory, causally-ordered operation log for a single
// CRDT-backed collection (a Space's membership set, a Channel's
// message index, and so on).
type OpLog struct {
	mu       sync.RWMutex
	entries  []Entry
	nextOpID uint64
	clock    *crdt.VectorClock
}

// New returns an empty operation log.
func New() *OpLog {
	return &OpLog{nextOpID: 1, clock: crdt.NewVectorClock()}
}

// Append validates incoming causal order against the log's current
// clock, then records the operation. Returns the assigned op-id.
//
// An incoming clock entry may not be more than one ahead of what this
// log has already observed for that node id — a jump of two or more
// means an intermediate operation from that node is missing and must
// arrive (or be fetched) before this one can be applied.
func (l *OpLog) Append(meta crdt.OperationMetadata, opType string, data []byte) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.validateCausalOrder(meta.VectorClock); err != nil {
		return 0, err
	}

	opID := l.nextOpID
	l.entries = append(l.entries, Entry{
		OpID:      opID,
		OpType:    opType,
		Data:      data,
		NodeID:    meta.NodeID,
		Clock:     meta.VectorClock.Clone(),
		Timestamp: meta.Timestamp,
		Signature: meta.Signature,
	})
	l.nextOpID++
	l.clock.Merge(meta.VectorClock)

	return opID, nil
}

func (l *OpLog) validateCausalOrder(incoming *crdt.VectorClock) error {
	for _, nodeID := range incoming.NodeIDs() {
		incomingTime := incoming.Get(nodeID)
		ourTime := l.clock.Get(nodeID)
		if incomingTime > ourTime+1 {
			return errs.Wrap(errs.CausalViolation,
				"operation is ahead of observed causal history", nil).WithRetryable(true)
		}
	}
	return nil
}

// Get returns the entry with the given op-id, if present.
func (l *OpLog) Get(opID uint64) (Entry, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, e := range l.entries {
		if e.OpID == opID {
			return e, true
		}
	}
	return Entry{}, false
}

// GetSince returns every entry with an op-id greater than opID.
func (l *OpLog) GetSince(opID uint64) []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Entry, 0)
	for _, e := range l.entries {
		if e.OpID > opID {
			out = append(out, e)
		}
	}
	return out
}

// GetRange returns entries with op-id in [startID, endID].
func (l *OpLog) GetRange(startID, endID uint64) []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Entry, 0)
	for _, e := range l.entries {
		if e.OpID >= startID && e.OpID <= endID {
			out = append(out, e)
		}
	}
	return out
}

// GetByNode returns every entry authored by nodeID.
func (l *OpLog) GetByNode(nodeID string) []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Entry, 0)
	for _, e := range l.entries {
		if e.NodeID == nodeID {
			out = append(out, e)
		}
	}
	return out
}

// AllEntries returns every entry in the log in stored order: append
// order, re-sorted by timestamp whenever Merge runs.
func (l *OpLog) AllEntries() []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Len returns the number of recorded entries.
func (l *OpLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// IsEmpty reports whether the log has no entries.
func (l *OpLog) IsEmpty() bool { return l.Len() == 0 }

// VectorClock returns the log's current causal frontier.
func (l *OpLog) VectorClock() *crdt.VectorClock {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.clock.Clone()
}

// Merge folds other's entries into l, deduplicating by (node id,
// timestamp) rather than op-id, since op-ids are assigned locally and
// collide across independently-created logs. Entries are re-sorted by
// timestamp afterward to keep replay order causally sane.
func (l *OpLog) Merge(other *OpLog) {
	other.mu.RLock()
	incoming := make([]Entry, len(other.entries))
	copy(incoming, other.entries)
	otherClock := other.clock.Clone()
	other.mu.RUnlock()

	l.mu.Lock()
	defer l.mu.Unlock()

	seen := make(map[string]struct{}, len(l.entries))
	for _, e := range l.entries {
		seen[dedupKey(e)] = struct{}{}
	}
	for _, e := range incoming {
		key := dedupKey(e)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		l.entries = append(l.entries, e)
	}

	sort.SliceStable(l.entries, func(i, j int) bool {
		return l.entries[i].Timestamp < l.entries[j].Timestamp
	})
	l.clock.Merge(otherClock)
}

func dedupKey(e Entry) string {
	return e.NodeID + "\x00" + strconv.FormatUint(e.Timestamp, 10)
}
