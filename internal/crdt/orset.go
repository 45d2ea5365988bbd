package crdt

import (
	"sort"
	"sync"

	"github.com/fxamacker/cbor/v2"

	"github.com/spacepanda/core/utils/bag"
	"github.com/spacepanda/core/utils/set"
)

// ORSet is an add-wins observed-remove set. Every Add is
// tagged with a unique add-id; Remove tombstones only the add-ids that
// are visible to the caller at the time of removal, so a concurrent Add
// of the same element on another replica survives the merge.
//
// Grounded on core_store/crdt/traits.rs's Crdt trait shape and on the
// teacher's utils/set.Set for the add-id bookkeeping.
type ORSet[T comparable] struct {
	mu         sync.RWMutex
	adds       map[T]map[string]*VectorClock
	tombstones set.Set[string]
	vc         *VectorClock
}

// NewORSet returns an empty OR-Set.
func NewORSet[T comparable]() *ORSet[T] {
	return &ORSet[T]{
		adds:       make(map[T]map[string]*VectorClock),
		tombstones: set.NewSet[string](0),
		vc:         NewVectorClock(),
	}
}

// Add records elem as present via addID, observed at vc. addID must be
// unique per add (the caller typically derives it from nodeID+counter).
func (s *ORSet[T]) Add(elem T, addID string, vc *VectorClock) {
	s.mu.Lock()
	defer s.mu.Unlock()

	byID, ok := s.adds[elem]
	if !ok {
		byID = make(map[string]*VectorClock)
		s.adds[elem] = byID
	}
	byID[addID] = vc.Clone()
	s.vc.Merge(vc)
}

// Remove tombstones every add-id for elem that is currently visible to
// this replica. Add-ids not yet observed here (added concurrently on
// another replica) are untouched and will resurrect elem on merge —
// this is the "add wins" half of the semantics.
func (s *ORSet[T]) Remove(elem T, vc *VectorClock) {
	s.mu.Lock()
	defer s.mu.Unlock()

	byID, ok := s.adds[elem]
	if !ok {
		return
	}
	for addID := range byID {
		s.tombstones.Add(addID)
	}
	s.vc.Merge(vc)
}

// Contains reports whether elem has at least one live (non-tombstoned)
// add-id.
func (s *ORSet[T]) Contains(elem T) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.liveAddIDs(elem) > 0
}

// liveAddIDs counts elem's add-ids not present in tombstones. Caller
// must hold s.mu.
func (s *ORSet[T]) liveAddIDs(elem T) int {
	byID, ok := s.adds[elem]
	if !ok {
		return 0
	}
	n := 0
	for addID := range byID {
		if !s.tombstones.Contains(addID) {
			n++
		}
	}
	return n
}

// Elements returns every elem that currently has at least one live
// add-id, in a deterministic (sorted by string form) order is not
// guaranteed for arbitrary T; callers needing order should sort.
func (s *ORSet[T]) Elements() []T {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]T, 0, len(s.adds))
	for elem := range s.adds {
		if s.liveAddIDs(elem) > 0 {
			out = append(out, elem)
		}
	}
	return out
}

// Len returns the number of currently-present elements.
func (s *ORSet[T]) Len() int {
	return len(s.Elements())
}

// AddIDCounts returns, for every currently-present element, how many
// live (non-tombstoned) add-ids it still carries. An element with a
// count above one means two or more replicas concurrently added it
// before observing each other's write — useful for spotting invite or
// join races without walking the raw add-id maps.
func (s *ORSet[T]) AddIDCounts() bag.Bag[T] {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := bag.New[T]()
	for elem := range s.adds {
		if n := s.liveAddIDs(elem); n > 0 {
			counts.AddCount(elem, n)
		}
	}
	return counts
}

// Merge unions other's add-ids and tombstones into s. Commutative,
// associative, idempotent: merging the same state twice is a no-op.
func (s *ORSet[T]) Merge(other *ORSet[T]) {
	other.mu.RLock()
	otherAdds := make(map[T]map[string]*VectorClock, len(other.adds))
	for elem, byID := range other.adds {
		cp := make(map[string]*VectorClock, len(byID))
		for id, vc := range byID {
			cp[id] = vc.Clone()
		}
		otherAdds[elem] = cp
	}
	otherTombstones := other.tombstones.List()
	otherVC := other.vc.Clone()
	other.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	for elem, byID := range otherAdds {
		dst, ok := s.adds[elem]
		if !ok {
			dst = make(map[string]*VectorClock)
			s.adds[elem] = dst
		}
		for id, vc := range byID {
			if existing, ok := dst[id]; !ok {
				dst[id] = vc
			} else {
				existing.Merge(vc)
			}
		}
	}
	for _, id := range otherTombstones {
		s.tombstones.Add(id)
	}
	s.vc.Merge(otherVC)
}

// VectorClock returns the clock of the most recent observed operation.
func (s *ORSet[T]) VectorClock() *VectorClock {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.vc.Clone()
}

// orSetWire is the on-the-wire shape of an ORSet, exposing its
// otherwise-unexported fields for CBOR encoding.
type orSetWire[T comparable] struct {
	Adds       map[T]map[string]*VectorClock
	Tombstones []string
	VC         *VectorClock
}

// MarshalCBOR encodes the set's full add-id/tombstone state.
func (s *ORSet[T]) MarshalCBOR() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cbor.Marshal(orSetWire[T]{Adds: s.adds, Tombstones: s.tombstones.List(), VC: s.vc})
}

// UnmarshalCBOR restores a set encoded by MarshalCBOR.
func (s *ORSet[T]) UnmarshalCBOR(data []byte) error {
	var w orSetWire[T]
	if err := cbor.Unmarshal(data, &w); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if w.Adds == nil {
		w.Adds = make(map[T]map[string]*VectorClock)
	}
	s.adds = w.Adds
	s.tombstones = set.Of(w.Tombstones...)
	if w.VC != nil {
		s.vc = w.VC
	} else {
		s.vc = NewVectorClock()
	}
	return nil
}

// SortedElements is a convenience for T=string callers (channel
// membership lists, etc.) that want deterministic iteration order.
func SortedElements(s *ORSet[string]) []string {
	elems := s.Elements()
	sort.Strings(elems)
	return elems
}
