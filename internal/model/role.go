package model

import "github.com/spacepanda/core/internal/crdt"

// Role is a space's role definition. Every field is individually
// CRDT-wrapped so concurrent renames, permission changes, and color
// changes on different replicas merge without conflict.
type Role struct {
	Name            *crdt.LWWRegister[string]
	PermissionLevel *crdt.LWWRegister[PermissionLevel]
	Color           *crdt.LWWRegister[string]
}

// NewRole constructs a role with its initial values set by nodeID.
func NewRole(name string, level PermissionLevel, nodeID string, vc *crdt.VectorClock) *Role {
	r := &Role{
		Name:            crdt.NewLWWRegister[string](),
		PermissionLevel: crdt.NewLWWRegister[PermissionLevel](),
		Color:           crdt.NewLWWRegister[string](),
	}
	ts := uint64(Now())
	r.Name.Set(name, ts, nodeID, vc)
	r.PermissionLevel.Set(level, ts, nodeID, vc)
	return r
}

// GetName returns the role's current name, if set.
func (r *Role) GetName() (string, bool) { return r.Name.Get() }

// GetPermissionLevel returns the role's current permission level, if set.
func (r *Role) GetPermissionLevel() (PermissionLevel, bool) { return r.PermissionLevel.Get() }

// GetColor returns the role's current color, if set.
func (r *Role) GetColor() (string, bool) { return r.Color.Get() }

// VectorClock returns the name field's clock as the role's representative
// clock, mirroring the original's choice of the name field as canonical.
func (r *Role) VectorClock() *crdt.VectorClock { return r.Name.VectorClock() }

// MergeRole merges every CRDT field of incoming into existing and
// returns existing, for use as an ORMap merge function.
func MergeRole(existing, incoming *Role) *Role {
	existing.Name.Merge(incoming.Name)
	existing.PermissionLevel.Merge(incoming.PermissionLevel)
	existing.Color.Merge(incoming.Color)
	return existing
}
