// Package mls implements the group-messaging substrate: group
// membership, epoch ratcheting, application-message sealing, and
// sqlite-backed persistence for groups, key packages, channels, and
// message metadata.
//
// Grounded on _examples/original_source/spacepanda-core/src/core_mls
// (types.rs, padding.rs, crypto.rs, events.rs, messages/{mod,inbound,
// outbound}.rs, state/snapshot.rs, storage/channel_metadata.rs,
// timing_obfuscation.rs). The original wraps the openmls Rust crate,
// which has no Go equivalent in the retrieval pack; this port keeps
// every public surface and life-cycle the wrapper exposes (group
// creation, proposals, commits, Welcome, epoch advance, application
// message sealing) but implements the key schedule itself with the
// same ciphersuite's primitives (Ed25519, X25519-HPKE, HKDF-SHA256)
// rather than a ratchet-tree/TreeKEM implementation. See DESIGN.md for
// the full accounting of that simplification.
package mls

import (
	"crypto/rand"
	"encoding/hex"
	"time"

	"github.com/spacepanda/core/internal/errs"
)

// GroupIDSize is the byte length of a GroupId.
const GroupIDSize = 32

// GroupId uniquely identifies an MLS group.
type GroupId [GroupIDSize]byte

// NewGroupID builds a GroupId from raw bytes, truncating or zero-padding
// to GroupIDSize.
func NewGroupID(b []byte) GroupId {
	var g GroupId
	copy(g[:], b)
	return g
}

// RandomGroupID generates a new random group id.
func RandomGroupID() (GroupId, error) {
	var g GroupId
	if _, err := rand.Read(g[:]); err != nil {
		return GroupId{}, errs.Wrap(errs.Crypto, "generate random group id", err)
	}
	return g, nil
}

// Bytes returns the group id's raw bytes.
func (g GroupId) Bytes() []byte { return g[:] }

// Hex returns the lowercase hex encoding of the group id.
func (g GroupId) Hex() string { return hex.EncodeToString(g[:]) }

// GroupIDFromHex parses a hex-encoded group id.
func GroupIDFromHex(s string) (GroupId, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return GroupId{}, errs.Wrap(errs.InvalidInput, "parse group id hex", err)
	}
	if len(b) != GroupIDSize {
		return GroupId{}, errs.New(errs.InvalidInput, "group id must be 32 bytes")
	}
	return NewGroupID(b), nil
}

// String renders the group id as hex.
func (g GroupId) String() string { return g.Hex() }

// MlsConfig tunes group lifecycle behavior.
type MlsConfig struct {
	MaxGroupSize           int
	AutoKeyRotation        bool
	KeyRotationInterval    time.Duration
	ReplayCacheSize        uint
	MaxEpochDrift          uint64
	PaddingEnabled         bool
	WelcomeTreeInWelcome   bool
}

// DefaultMlsConfig mirrors core_mls::types::MlsConfig::default().
func DefaultMlsConfig() MlsConfig {
	return MlsConfig{
		MaxGroupSize:         1000,
		AutoKeyRotation:      true,
		KeyRotationInterval:  24 * time.Hour,
		ReplayCacheSize:      10000,
		MaxEpochDrift:        2,
		PaddingEnabled:       true,
		WelcomeTreeInWelcome: true,
	}
}

// Validate reports whether the configuration's tunables are sane.
func (c MlsConfig) Validate() error {
	if c.MaxGroupSize <= 0 {
		return errs.New(errs.InvalidInput, "mls: max_group_size must be positive")
	}
	if c.ReplayCacheSize == 0 {
		return errs.New(errs.InvalidInput, "mls: replay_cache_size must be positive")
	}
	if c.KeyRotationInterval <= 0 {
		return errs.New(errs.InvalidInput, "mls: key_rotation_interval must be positive")
	}
	return nil
}

// MemberRole is a member's authority level within a group.
type MemberRole int

const (
	RoleAdmin MemberRole = iota
	RoleMember
	RoleReadOnly
)

// CanRemoveMembers reports whether r may remove other members.
func (r MemberRole) CanRemoveMembers() bool { return r == RoleAdmin }

// CanManageRoles reports whether r may change other members' roles.
func (r MemberRole) CanManageRoles() bool { return r == RoleAdmin }

// CanSendMessages reports whether r may send application messages.
func (r MemberRole) CanSendMessages() bool { return r != RoleReadOnly }

// String renders the role name.
func (r MemberRole) String() string {
	switch r {
	case RoleAdmin:
		return "admin"
	case RoleMember:
		return "member"
	case RoleReadOnly:
		return "read_only"
	default:
		return "unknown"
	}
}

// MemberInfo describes one group member's public state.
type MemberInfo struct {
	Identity  []byte
	LeafIndex uint32
	JoinedAt  time.Time
	Role      MemberRole
}

// GroupPublicInfo is the subset of group state safe to publish to the
// CRDT replication layer or the DHT: no secret key material.
type GroupPublicInfo struct {
	GroupID   GroupId
	Epoch     uint64
	RootHash  []byte
	UpdatedAt time.Time
	Signature []byte
}

// GroupMetadata is the group's full, private bookkeeping state. Never
// published outside the owning process.
type GroupMetadata struct {
	GroupID   GroupId
	Name      string
	Epoch     uint64
	Members   []MemberInfo
	CreatedAt time.Time
	UpdatedAt time.Time
}

// MemberByIdentity returns the member with the given identity, if present.
func (m *GroupMetadata) MemberByIdentity(identity []byte) (MemberInfo, bool) {
	for _, mi := range m.Members {
		if string(mi.Identity) == string(identity) {
			return mi, true
		}
	}
	return MemberInfo{}, false
}

// MemberByLeaf returns the member occupying leafIndex, if present.
func (m *GroupMetadata) MemberByLeaf(leafIndex uint32) (MemberInfo, bool) {
	for _, mi := range m.Members {
		if mi.LeafIndex == leafIndex {
			return mi, true
		}
	}
	return MemberInfo{}, false
}
