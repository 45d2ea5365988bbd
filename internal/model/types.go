// Package model defines the replicated data model: Space, Channel,
// Role, and their CRDT-wrapped fields.
//
// Grounded on
// _examples/original_source/spacepanda-core/src/core_store/model
// (types.rs, space.rs, channel.rs).
package model

import (
	"time"

	"github.com/google/uuid"
)

// Timestamp is a Unix timestamp in milliseconds.
type Timestamp uint64

// Now returns the current time as a Timestamp.
func Now() Timestamp { return Timestamp(time.Now().UnixMilli()) }

// SpaceID, ChannelID, MessageID, UserID are textual (UUID) identifiers.
type (
	SpaceID   string
	ChannelID string
	MessageID string
	UserID    string
)

// NewSpaceID generates a random space id.
func NewSpaceID() SpaceID { return SpaceID(uuid.NewString()) }

// NewChannelID generates a random channel id.
func NewChannelID() ChannelID { return ChannelID(uuid.NewString()) }

// NewMessageID generates a random message id.
func NewMessageID() MessageID { return MessageID(uuid.NewString()) }

// NewUserID generates a random user id.
func NewUserID() UserID { return UserID(uuid.NewString()) }

// IdentityMeta is the MLS identity metadata tracked per user in a
// Space/Channel's mls_identity map, used to reconcile the CRDT
// membership view against the MLS ratchet tree's leaf assignment.
type IdentityMeta struct {
	LeafIndex  uint32
	PublicKey  []byte
	Credential []byte
}

// ChannelType distinguishes the channel kinds a Space can contain.
type ChannelType int

const (
	ChannelText ChannelType = iota
	ChannelVoice
	ChannelForum
	ChannelAnnouncement
)

// PermissionLevel is a granular capability set.
type PermissionLevel struct {
	Read           bool
	Write          bool
	Admin          bool
	BanMembers     bool
	ManageRoles    bool
	ManageChannels bool
}

// PermissionNone denies every capability.
func PermissionNone() PermissionLevel { return PermissionLevel{} }

// PermissionReadOnly allows reading only.
func PermissionReadOnly() PermissionLevel { return PermissionLevel{Read: true} }

// PermissionMember is the typical member permission set.
func PermissionMember() PermissionLevel { return PermissionLevel{Read: true, Write: true} }

// PermissionModerator adds ban_members over PermissionMember.
func PermissionModerator() PermissionLevel {
	return PermissionLevel{Read: true, Write: true, BanMembers: true}
}

// PermissionAdmin grants every capability.
func PermissionAdmin() PermissionLevel {
	return PermissionLevel{
		Read: true, Write: true, Admin: true,
		BanMembers: true, ManageRoles: true, ManageChannels: true,
	}
}
