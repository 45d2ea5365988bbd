package model

import (
	"github.com/fxamacker/cbor/v2"

	"github.com/spacepanda/core/internal/crdt"
	"github.com/spacepanda/core/utils/bag"
)

// Space is a "server": a container of channels, members, and roles,
// replicated with CRDTs so any two replicas converge after exchanging
// oplog entries regardless of delivery order.
type Space struct {
	ID          SpaceID
	Name        *crdt.LWWRegister[string]
	Description *crdt.LWWRegister[string]
	Owner       UserID
	CreatedAt   Timestamp

	Channels *crdt.ORSet[ChannelID]
	Members  *crdt.ORSet[UserID]

	Roles       *crdt.ORMap[string, *Role]
	MemberRoles *crdt.ORMap[UserID, *crdt.LWWRegister[string]]
	MLSIdentity *crdt.ORMap[UserID, *identityMetaValue]
}

// identityMetaValue wraps IdentityMeta so it satisfies crdt.NestedValue;
// identity metadata itself isn't a CRDT field-by-field, it's
// last-writer-wins as a whole unit per replica's MLS leaf assignment.
type identityMetaValue struct {
	Meta  IdentityMeta
	clock *crdt.VectorClock
}

func newIdentityMetaValue(meta IdentityMeta, vc *crdt.VectorClock) *identityMetaValue {
	return &identityMetaValue{Meta: meta, clock: vc.Clone()}
}

func (v *identityMetaValue) VectorClock() *crdt.VectorClock { return v.clock }

type identityMetaWire struct {
	Meta  IdentityMeta
	Clock *crdt.VectorClock
}

// MarshalCBOR encodes the identity metadata and its clock.
func (v *identityMetaValue) MarshalCBOR() ([]byte, error) {
	return cbor.Marshal(identityMetaWire{Meta: v.Meta, Clock: v.clock})
}

// UnmarshalCBOR restores identity metadata encoded by MarshalCBOR.
func (v *identityMetaValue) UnmarshalCBOR(data []byte) error {
	var w identityMetaWire
	if err := cbor.Unmarshal(data, &w); err != nil {
		return err
	}
	v.Meta = w.Meta
	if w.Clock != nil {
		v.clock = w.Clock
	} else {
		v.clock = crdt.NewVectorClock()
	}
	return nil
}

func mergeIdentityMeta(existing, incoming *identityMetaValue) *identityMetaValue {
	if incoming.clock.HappenedBefore(existing.clock) {
		return existing
	}
	return incoming
}

// NewSpace constructs an empty space owned by owner.
func NewSpace(id SpaceID, name string, owner UserID, createdAt Timestamp, nodeID string) *Space {
	vc := crdt.NewVectorClock()
	vc.Increment(nodeID)

	s := &Space{
		ID:          id,
		Name:        crdt.NewLWWRegister[string](),
		Description: crdt.NewLWWRegister[string](),
		Owner:       owner,
		CreatedAt:   createdAt,
		Channels:    crdt.NewORSet[ChannelID](),
		Members:     crdt.NewORSet[UserID](),
		Roles:       crdt.NewORMap[string, *Role](MergeRole),
		MemberRoles: crdt.NewORMap[UserID, *crdt.LWWRegister[string]](mergeLWWString),
		MLSIdentity: crdt.NewORMap[UserID, *identityMetaValue](mergeIdentityMeta),
	}
	s.Name.Set(name, uint64(createdAt), nodeID, vc)
	s.Description.Set("", uint64(createdAt), nodeID, vc)
	return s
}

func mergeLWWString(existing, incoming *crdt.LWWRegister[string]) *crdt.LWWRegister[string] {
	existing.Merge(incoming)
	return existing
}

// GetName returns the space's current name, if set.
func (s *Space) GetName() (string, bool) { return s.Name.Get() }

// GetDescription returns the space's current description, if set.
func (s *Space) GetDescription() (string, bool) { return s.Description.Get() }

// HasChannel reports whether channelID is currently in the space.
func (s *Space) HasChannel(channelID ChannelID) bool { return s.Channels.Contains(channelID) }

// HasMember reports whether userID is currently a member.
func (s *Space) HasMember(userID UserID) bool { return s.Members.Contains(userID) }

// MembershipChurn reports, per current member, how many concurrent
// add-ids are still live for that member. A count above one flags a
// replica pair that added the same member before observing each
// other's write — the invite/join race this space's owner would want
// surfaced rather than silently merged away.
func (s *Space) MembershipChurn() bag.Bag[UserID] { return s.Members.AddIDCounts() }

// GetRole returns the role definition for roleID, if present.
func (s *Space) GetRole(roleID string) (*Role, bool) { return s.Roles.Get(roleID) }

// GetUserRoleID returns the role id currently assigned to userID.
func (s *Space) GetUserRoleID(userID UserID) (string, bool) {
	reg, ok := s.MemberRoles.Get(userID)
	if !ok {
		return "", false
	}
	return reg.Get()
}

// GetUserPermissionLevel resolves userID's effective permission level.
// The owner always has admin permissions regardless of role assignment.
func (s *Space) GetUserPermissionLevel(userID UserID) (PermissionLevel, bool) {
	if userID == s.Owner {
		return PermissionAdmin(), true
	}
	roleID, ok := s.GetUserRoleID(userID)
	if !ok {
		return PermissionLevel{}, false
	}
	role, ok := s.GetRole(roleID)
	if !ok {
		return PermissionLevel{}, false
	}
	return role.GetPermissionLevel()
}

// GetMLSIdentity returns the MLS identity metadata tracked for userID.
func (s *Space) GetMLSIdentity(userID UserID) (IdentityMeta, bool) {
	v, ok := s.MLSIdentity.Get(userID)
	if !ok {
		return IdentityMeta{}, false
	}
	return v.Meta, true
}

// SetMLSIdentity records userID's MLS leaf/credential metadata.
func (s *Space) SetMLSIdentity(userID UserID, meta IdentityMeta, addID string, vc *crdt.VectorClock) {
	s.MLSIdentity.Put(userID, newIdentityMetaValue(meta, vc), addID, vc)
}

// spaceAlias lets UnmarshalCBOR decode Space's exported fields via the
// default struct codec without recursing back into this method.
type spaceAlias Space

// UnmarshalCBOR decodes a Space, then rebinds each ORMap field's merge
// function — a decoded ORMap has no way to reconstruct its merge
// function from wire bytes, since functions aren't serializable.
func (s *Space) UnmarshalCBOR(data []byte) error {
	a := (*spaceAlias)(s)
	if err := cbor.Unmarshal(data, a); err != nil {
		return err
	}
	if s.Roles != nil {
		s.Roles.SetMergeFunc(MergeRole)
	}
	if s.MemberRoles != nil {
		s.MemberRoles.SetMergeFunc(mergeLWWString)
	}
	if s.MLSIdentity != nil {
		s.MLSIdentity.SetMergeFunc(mergeIdentityMeta)
	}
	return nil
}
