package crdt_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/spacepanda/core/internal/crdt"
)

func mergeLWW(existing, incoming *crdt.LWWRegister[string]) *crdt.LWWRegister[string] {
	existing.Merge(incoming)
	return existing
}

func TestORMapPutGetDelete(t *testing.T) {
	m := crdt.NewORMap[string, *crdt.LWWRegister[string]](mergeLWW)

	role := crdt.NewLWWRegister[string]()
	role.Set("member", 1, "node-a", crdt.NewVectorClock())

	m.Put("alice", role, "a1", crdt.NewVectorClock())
	require.Equal(t, 1, m.Len())

	v, ok := m.Get("alice")
	require.True(t, ok)
	val, _ := v.Get()
	require.Equal(t, "member", val)

	m.Delete("alice", crdt.NewVectorClock())
	_, ok = m.Get("alice")
	require.False(t, ok)
}

func TestORMapMergeCombinesNestedValues(t *testing.T) {
	a := crdt.NewORMap[string, *crdt.LWWRegister[string]](mergeLWW)
	roleA := crdt.NewLWWRegister[string]()
	roleA.Set("member", 1, "node-a", crdt.NewVectorClock())
	a.Put("alice", roleA, "a1", crdt.NewVectorClock())

	b := crdt.NewORMap[string, *crdt.LWWRegister[string]](mergeLWW)
	roleB := crdt.NewLWWRegister[string]()
	roleB.Set("admin", 2, "node-b", crdt.NewVectorClock())
	b.Put("alice", roleB, "a1", crdt.NewVectorClock())

	a.Merge(b)
	v, ok := a.Get("alice")
	require.True(t, ok)
	val, _ := v.Get()
	require.Equal(t, "admin", val)
}

func TestORMapConcurrentPutAfterDeleteSurvives(t *testing.T) {
	base := crdt.NewORMap[string, *crdt.LWWRegister[string]](mergeLWW)
	roleBase := crdt.NewLWWRegister[string]()
	roleBase.Set("member", 1, "node-a", crdt.NewVectorClock())
	base.Put("alice", roleBase, "a1", crdt.NewVectorClock())

	replicaA := crdt.NewORMap[string, *crdt.LWWRegister[string]](mergeLWW)
	replicaA.Merge(base)
	replicaA.Delete("alice", crdt.NewVectorClock())

	replicaB := crdt.NewORMap[string, *crdt.LWWRegister[string]](mergeLWW)
	replicaB.Merge(base)
	roleB := crdt.NewLWWRegister[string]()
	roleB.Set("admin", 2, "node-b", crdt.NewVectorClock())
	replicaB.Put("alice", roleB, "a2", crdt.NewVectorClock())

	merged := crdt.NewORMap[string, *crdt.LWWRegister[string]](mergeLWW)
	merged.Merge(replicaA)
	merged.Merge(replicaB)

	_, ok := merged.Get("alice")
	require.True(t, ok)
}

func TestORMapKeyAddIDCountsDelegatesToKeySet(t *testing.T) {
	m := crdt.NewORMap[string, *crdt.LWWRegister[string]](mergeLWW)

	roleA := crdt.NewLWWRegister[string]()
	roleA.Set("member", 1, "node-a", crdt.NewVectorClock())
	m.Put("alice", roleA, "a1", crdt.NewVectorClock())
	m.Put("alice", roleA, "a2", crdt.NewVectorClock())

	counts := m.KeyAddIDCounts()
	require.Equal(t, 2, counts.Count("alice"))
	require.Equal(t, 0, counts.Count("bob"))
}
