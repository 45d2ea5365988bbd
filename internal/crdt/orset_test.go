package crdt_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/spacepanda/core/internal/crdt"
)

func TestORSetAddAndContains(t *testing.T) {
	s := crdt.NewORSet[string]()
	require.False(t, s.Contains("alice"))

	s.Add("alice", "a1", crdt.NewVectorClock())
	require.True(t, s.Contains("alice"))
	require.Equal(t, 1, s.Len())
}

func TestORSetRemoveThenAddResurrects(t *testing.T) {
	s := crdt.NewORSet[string]()
	s.Add("alice", "a1", crdt.NewVectorClock())
	s.Remove("alice", crdt.NewVectorClock())
	require.False(t, s.Contains("alice"))

	s.Add("alice", "a2", crdt.NewVectorClock())
	require.True(t, s.Contains("alice"))
}

// TestORSetConcurrentAddWinsOverRemove is the spec's literal Scenario 2:
// replica A removes "alice" while replica B concurrently re-adds
// "alice" without having observed A's remove. After merging in either
// order, "alice" must be present on both replicas (add-wins).
func TestORSetConcurrentAddWinsOverRemove(t *testing.T) {
	base := crdt.NewORSet[string]()
	base.Add("alice", "a1", crdt.NewVectorClock())

	replicaA := crdt.NewORSet[string]()
	replicaA.Merge(base)
	replicaA.Remove("alice", crdt.NewVectorClock())
	require.False(t, replicaA.Contains("alice"))

	replicaB := crdt.NewORSet[string]()
	replicaB.Merge(base)
	replicaB.Add("alice", "a2", crdt.NewVectorClock())
	require.True(t, replicaB.Contains("alice"))

	mergedAB := crdt.NewORSet[string]()
	mergedAB.Merge(replicaA)
	mergedAB.Merge(replicaB)

	mergedBA := crdt.NewORSet[string]()
	mergedBA.Merge(replicaB)
	mergedBA.Merge(replicaA)

	require.True(t, mergedAB.Contains("alice"))
	require.True(t, mergedBA.Contains("alice"))
}

func TestORSetMergeIsCommutativeAndIdempotent(t *testing.T) {
	a := crdt.NewORSet[string]()
	a.Add("x", "a1", crdt.NewVectorClock())

	b := crdt.NewORSet[string]()
	b.Add("y", "b1", crdt.NewVectorClock())

	ab := crdt.NewORSet[string]()
	ab.Merge(a)
	ab.Merge(b)

	ba := crdt.NewORSet[string]()
	ba.Merge(b)
	ba.Merge(a)

	require.ElementsMatch(t, crdt.SortedElements(ab), crdt.SortedElements(ba))

	ab.Merge(b)
	require.ElementsMatch(t, []string{"x", "y"}, crdt.SortedElements(ab))
}

func TestORSetRemoveNonexistentIsNoop(t *testing.T) {
	s := crdt.NewORSet[string]()
	require.NotPanics(t, func() {
		s.Remove("ghost", crdt.NewVectorClock())
	})
	require.False(t, s.Contains("ghost"))
}

func TestORSetAddIDCountsReflectsConcurrentAdds(t *testing.T) {
	s := crdt.NewORSet[string]()
	s.Add("alice", "a1", crdt.NewVectorClock())
	s.Add("alice", "a2", crdt.NewVectorClock())
	s.Add("bob", "b1", crdt.NewVectorClock())

	counts := s.AddIDCounts()
	require.Equal(t, 2, counts.Count("alice"))
	require.Equal(t, 1, counts.Count("bob"))
	require.Equal(t, 0, counts.Count("carol"))
}

func TestORSetAddIDCountsExcludesTombstonedIDs(t *testing.T) {
	s := crdt.NewORSet[string]()
	s.Add("alice", "a1", crdt.NewVectorClock())
	s.Remove("alice", crdt.NewVectorClock())

	counts := s.AddIDCounts()
	require.Equal(t, 0, counts.Count("alice"))
}
