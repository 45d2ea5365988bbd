package crdt

import (
	"sync"

	"github.com/fxamacker/cbor/v2"
)

// LWWRegister is a Last-Write-Wins register. On a timestamp tie, the
// higher node-id (lexicographically) wins, opposite the polarity used
// by one of the original Rust test modules but consistent across this
// port.
type LWWRegister[T any] struct {
	mu       sync.RWMutex
	hasValue bool
	value    T
	ts       uint64
	nodeID   string
	vc       *VectorClock
}

// NewLWWRegister returns an unset register.
func NewLWWRegister[T any]() *LWWRegister[T] {
	return &LWWRegister[T]{vc: NewVectorClock()}
}

// wins reports whether (ts, nodeID) strictly outranks (curTs, curNode).
func wins(ts uint64, nodeID string, curTs uint64, curNode string) bool {
	if ts != curTs {
		return ts > curTs
	}
	return nodeID > curNode
}

// Set replaces the register's value iff (ts, nodeID) outranks the
// current (ts, nodeID) pair. Returns true if the value changed.
func (r *LWWRegister[T]) Set(value T, ts uint64, nodeID string, vc *VectorClock) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.hasValue || wins(ts, nodeID, r.ts, r.nodeID) {
		r.value = value
		r.ts = ts
		r.nodeID = nodeID
		r.vc = vc
		r.hasValue = true
		return true
	}
	return false
}

// Get returns the current value and whether one has ever been set.
func (r *LWWRegister[T]) Get() (T, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.value, r.hasValue
}

// Merge applies other's state into r using the same (ts, nodeID) rule.
// Commutative, associative, idempotent by construction.
func (r *LWWRegister[T]) Merge(other *LWWRegister[T]) {
	other.mu.RLock()
	otherHas, otherVal, otherTs, otherNode, otherVC := other.hasValue, other.value, other.ts, other.nodeID, other.vc
	other.mu.RUnlock()

	if !otherHas {
		return
	}
	r.Set(otherVal, otherTs, otherNode, otherVC)
}

// VectorClock returns the vector clock attached to the current winner.
func (r *LWWRegister[T]) VectorClock() *VectorClock {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.vc == nil {
		return NewVectorClock()
	}
	return r.vc
}

// lwwWire is the on-the-wire shape of an LWWRegister, exposing its
// otherwise-unexported fields for CBOR encoding.
type lwwWire[T any] struct {
	HasValue bool
	Value    T
	Ts       uint64
	NodeID   string
	VC       *VectorClock
}

// MarshalCBOR encodes the register's full state (value, timestamp,
// node-id, clock) so a decoded register can still participate in
// further merges.
func (r *LWWRegister[T]) MarshalCBOR() ([]byte, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	vc := r.vc
	if vc == nil {
		vc = NewVectorClock()
	}
	return cbor.Marshal(lwwWire[T]{HasValue: r.hasValue, Value: r.value, Ts: r.ts, NodeID: r.nodeID, VC: vc})
}

// UnmarshalCBOR restores a register encoded by MarshalCBOR.
func (r *LWWRegister[T]) UnmarshalCBOR(data []byte) error {
	var w lwwWire[T]
	if err := cbor.Unmarshal(data, &w); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hasValue, r.value, r.ts, r.nodeID = w.HasValue, w.Value, w.Ts, w.NodeID
	if w.VC != nil {
		r.vc = w.VC
	} else {
		r.vc = NewVectorClock()
	}
	return nil
}
