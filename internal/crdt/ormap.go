package crdt

import (
	"sync"

	"github.com/fxamacker/cbor/v2"

	"github.com/spacepanda/core/utils/bag"
)

// NestedValue is any CRDT that can live inside an ORMap (LWWRegister[T]
// or another ORSet/ORMap).
type NestedValue interface {
	VectorClock() *VectorClock
}

// ORMap is an observed-remove map whose keys come and go per ORSet
// semantics while each live key's value is itself a CRDT that is merged
// independently. Used for per-channel membership metadata (role,
// nickname, joined_at) where each field merges on its own rules.
//
// Grounded on core_store/crdt/traits.rs's Crdt trait, composed the way
// luxfi-consensus composes generic collections out of smaller ones
// (utils/linked.HashMap wrapping utils/set.Set).
type ORMap[K comparable, V NestedValue] struct {
	mu     sync.RWMutex
	keys   *ORSet[K]
	values map[K]V
	merge  func(existing, incoming V) V
}

// NewORMap returns an empty OR-Map. merge combines two values for the
// same key that must be reconciled (e.g. two LWWRegisters, or two
// ORSets) when both replicas wrote to it before observing each other.
func NewORMap[K comparable, V NestedValue](merge func(existing, incoming V) V) *ORMap[K, V] {
	return &ORMap[K, V]{
		keys:   NewORSet[K](),
		values: make(map[K]V),
		merge:  merge,
	}
}

// Put inserts or replaces the value for key, recording addID/vc in the
// underlying key-presence OR-Set.
func (m *ORMap[K, V]) Put(key K, value V, addID string, vc *VectorClock) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.keys.Add(key, addID, vc)
	if existing, ok := m.values[key]; ok {
		m.values[key] = m.merge(existing, value)
	} else {
		m.values[key] = value
	}
}

// Delete removes key from the map. As with OR-Set, a concurrent Put on
// another replica that this replica has not yet observed survives.
func (m *ORMap[K, V]) Delete(key K, vc *VectorClock) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys.Remove(key, vc)
}

// Get returns key's value and whether key is currently present.
func (m *ORMap[K, V]) Get(key K) (V, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var zero V
	if !m.keys.Contains(key) {
		return zero, false
	}
	v, ok := m.values[key]
	return v, ok
}

// Keys returns every currently-present key.
func (m *ORMap[K, V]) Keys() []K {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.keys.Elements()
}

// Len returns the number of currently-present keys.
func (m *ORMap[K, V]) Len() int {
	return len(m.Keys())
}

// KeyAddIDCounts returns the live add-id count per currently-present
// key, delegating to the underlying key-presence OR-Set. See
// ORSet.AddIDCounts.
func (m *ORMap[K, V]) KeyAddIDCounts() bag.Bag[K] {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.keys.AddIDCounts()
}

// Merge unions other's key-presence set into m and merges each
// overlapping key's value via the configured merge function. Values
// present only in other are copied in directly.
func (m *ORMap[K, V]) Merge(other *ORMap[K, V]) {
	other.mu.RLock()
	otherValues := make(map[K]V, len(other.values))
	for k, v := range other.values {
		otherValues[k] = v
	}
	other.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()

	m.keys.Merge(other.keys)
	for k, ov := range otherValues {
		if existing, ok := m.values[k]; ok {
			m.values[k] = m.merge(existing, ov)
		} else {
			m.values[k] = ov
		}
	}
}

// VectorClock returns the underlying key-presence set's clock.
func (m *ORMap[K, V]) VectorClock() *VectorClock {
	return m.keys.VectorClock()
}

// SetMergeFunc (re)binds the per-key value-merge function. Required
// after UnmarshalCBOR, since a decoded map can't reconstruct a function
// value from wire bytes — the caller (the concrete model type that
// knows which merge function a given field uses) must reattach it.
func (m *ORMap[K, V]) SetMergeFunc(merge func(existing, incoming V) V) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.merge = merge
}

// ormapWire is the on-the-wire shape of an ORMap: key presence and
// values only, never the merge function.
type ormapWire[K comparable, V NestedValue] struct {
	Keys   *ORSet[K]
	Values map[K]V
}

// MarshalCBOR encodes the map's key-presence set and values.
func (m *ORMap[K, V]) MarshalCBOR() ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return cbor.Marshal(ormapWire[K, V]{Keys: m.keys, Values: m.values})
}

// UnmarshalCBOR restores a map's key-presence set and values. The
// caller must call SetMergeFunc afterward before calling Merge.
func (m *ORMap[K, V]) UnmarshalCBOR(data []byte) error {
	w := ormapWire[K, V]{Keys: NewORSet[K]()}
	if err := cbor.Unmarshal(data, &w); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys = w.Keys
	if w.Values == nil {
		w.Values = make(map[K]V)
	}
	m.values = w.Values
	return nil
}
