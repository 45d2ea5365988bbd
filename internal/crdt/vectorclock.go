// Package crdt implements vector clocks, LWW-Register, OR-Set
// (add-wins), and OR-Map with nested CRDT values.
//
// Grounded on _examples/original_source/spacepanda-core/src/core_store/crdt
// (vector_clock.rs, traits.rs) for exact merge/compare semantics, and on
// luxfi-consensus's generic-collection idiom (utils/set, utils/bag) for
// the underlying add-id bookkeeping in OR-Set/OR-Map.
package crdt

import (
	"sort"

	"github.com/fxamacker/cbor/v2"

	"github.com/spacepanda/core/utils/math"
)

// VectorClock maps node-id to a monotonically increasing counter.
type VectorClock struct {
	counters map[string]uint64
}

// MarshalCBOR encodes the clock as a plain map so it round-trips
// through the snapshot and delta codecs without exposing the
// unexported field directly.
func (v *VectorClock) MarshalCBOR() ([]byte, error) {
	return cbor.Marshal(v.counters)
}

// UnmarshalCBOR restores a clock encoded by MarshalCBOR.
func (v *VectorClock) UnmarshalCBOR(data []byte) error {
	var counters map[string]uint64
	if err := cbor.Unmarshal(data, &counters); err != nil {
		return err
	}
	if counters == nil {
		counters = make(map[string]uint64)
	}
	v.counters = counters
	return nil
}

// NewVectorClock returns an empty vector clock.
func NewVectorClock() *VectorClock {
	return &VectorClock{counters: make(map[string]uint64)}
}

// Increment bumps nodeID's counter by one.
func (v *VectorClock) Increment(nodeID string) {
	v.counters[nodeID]++
}

// Get returns nodeID's counter, or 0 if absent.
func (v *VectorClock) Get(nodeID string) uint64 {
	return v.counters[nodeID]
}

// Set assigns nodeID's counter directly.
func (v *VectorClock) Set(nodeID string, n uint64) {
	v.counters[nodeID] = n
}

// NodeIDs returns every tracked node id.
func (v *VectorClock) NodeIDs() []string {
	ids := make([]string, 0, len(v.counters))
	for id := range v.counters {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// IsEmpty reports whether no node has been tracked.
func (v *VectorClock) IsEmpty() bool { return len(v.counters) == 0 }

// Len returns the number of tracked nodes.
func (v *VectorClock) Len() int { return len(v.counters) }

// Clone returns a deep copy.
func (v *VectorClock) Clone() *VectorClock {
	c := make(map[string]uint64, len(v.counters))
	for k, val := range v.counters {
		c[k] = val
	}
	return &VectorClock{counters: c}
}

// Merge updates v in place to the element-wise maximum of v and other.
func (v *VectorClock) Merge(other *VectorClock) {
	for nodeID, ts := range other.counters {
		if cur, ok := v.counters[nodeID]; !ok || ts > cur {
			v.counters[nodeID] = ts
		}
	}
}

// Merged returns a new clock equal to the element-wise maximum of a and b.
func Merged(a, b *VectorClock) *VectorClock {
	out := a.Clone()
	out.Merge(b)
	return out
}

// HappenedBefore reports whether v causally precedes other: every entry
// of v is <= the corresponding entry of other (treating absent entries
// as 0), and at least one entry is strictly less.
func (v *VectorClock) HappenedBefore(other *VectorClock) bool {
	strictlyLess := false
	for nodeID, selfTime := range v.counters {
		otherTime := other.Get(nodeID)
		if selfTime > otherTime {
			return false
		}
		if selfTime < otherTime {
			strictlyLess = true
		}
	}
	for nodeID, otherTime := range other.counters {
		if _, ok := v.counters[nodeID]; !ok && otherTime > 0 {
			strictlyLess = true
		}
	}
	return strictlyLess
}

// Equal reports whether v and other have identical counters.
func (v *VectorClock) Equal(other *VectorClock) bool {
	if len(v.counters) != len(other.counters) {
		return false
	}
	for k, val := range v.counters {
		if other.Get(k) != val {
			return false
		}
	}
	return true
}

// Concurrent reports whether neither clock happened-before the other and
// they are not equal.
func (v *VectorClock) Concurrent(other *VectorClock) bool {
	return !v.HappenedBefore(other) && !other.HappenedBefore(v) && !v.Equal(other)
}

// Ordering is the result of Compare: Before (-1), Equal (0), After (1),
// or ConcurrentOrdering (2) when neither clock precedes the other.
type Ordering int

const (
	Before Ordering = iota - 1
	Equal
	After
	ConcurrentOrdering
)

// Compare returns the partial-order relationship between v and other.
func (v *VectorClock) Compare(other *VectorClock) Ordering {
	switch {
	case v.Equal(other):
		return Equal
	case v.HappenedBefore(other):
		return Before
	case other.HappenedBefore(v):
		return After
	default:
		return ConcurrentOrdering
	}
}

// CounterDelta is the difference between two counters, used by the
// delta codec to encode only what changed against a base clock instead
// of the full clock.
func CounterDelta(current, base uint64) (uint64, error) {
	if current < base {
		return 0, nil
	}
	return math.Sub64(current, base)
}
