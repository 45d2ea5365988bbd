package model

import (
	"github.com/fxamacker/cbor/v2"

	"github.com/spacepanda/core/internal/crdt"
)

// Channel is a communication channel within a Space.
type Channel struct {
	ID        ChannelID
	Name      *crdt.LWWRegister[string]
	Topic     *crdt.LWWRegister[string]
	Type      ChannelType
	CreatedAt Timestamp
	CreatedBy UserID

	Members        *crdt.ORSet[UserID]
	PinnedMessages *crdt.ORSet[MessageID]
	Permissions    *crdt.ORMap[string, *crdt.LWWRegister[PermissionLevel]]
	MLSIdentity    *crdt.ORMap[UserID, *identityMetaValue]
}

// NewChannel constructs an empty channel created by createdBy.
func NewChannel(id ChannelID, name string, typ ChannelType, createdBy UserID, createdAt Timestamp, nodeID string) *Channel {
	vc := crdt.NewVectorClock()
	vc.Increment(nodeID)

	c := &Channel{
		ID:             id,
		Name:           crdt.NewLWWRegister[string](),
		Topic:          crdt.NewLWWRegister[string](),
		Type:           typ,
		CreatedAt:      createdAt,
		CreatedBy:      createdBy,
		Members:        crdt.NewORSet[UserID](),
		PinnedMessages: crdt.NewORSet[MessageID](),
		Permissions:    crdt.NewORMap[string, *crdt.LWWRegister[PermissionLevel]](mergeLWWPermission),
		MLSIdentity:    crdt.NewORMap[UserID, *identityMetaValue](mergeIdentityMeta),
	}
	c.Name.Set(name, uint64(createdAt), nodeID, vc)
	c.Topic.Set("", uint64(createdAt), nodeID, vc)
	return c
}

func mergeLWWPermission(existing, incoming *crdt.LWWRegister[PermissionLevel]) *crdt.LWWRegister[PermissionLevel] {
	existing.Merge(incoming)
	return existing
}

// GetName returns the channel's current name, if set.
func (c *Channel) GetName() (string, bool) { return c.Name.Get() }

// GetTopic returns the channel's current topic, if set.
func (c *Channel) GetTopic() (string, bool) { return c.Topic.Get() }

// HasMember reports whether userID is currently a member.
func (c *Channel) HasMember(userID UserID) bool { return c.Members.Contains(userID) }

// IsPinned reports whether messageID is currently pinned.
func (c *Channel) IsPinned(messageID MessageID) bool { return c.PinnedMessages.Contains(messageID) }

// GetPermissionLevel returns roleID's permission level in this channel.
func (c *Channel) GetPermissionLevel(roleID string) (PermissionLevel, bool) {
	reg, ok := c.Permissions.Get(roleID)
	if !ok {
		return PermissionLevel{}, false
	}
	return reg.Get()
}

// GetMLSIdentity returns the MLS identity metadata tracked for userID.
func (c *Channel) GetMLSIdentity(userID UserID) (IdentityMeta, bool) {
	v, ok := c.MLSIdentity.Get(userID)
	if !ok {
		return IdentityMeta{}, false
	}
	return v.Meta, true
}

// channelAlias lets UnmarshalCBOR decode Channel's exported fields via
// the default struct codec without recursing back into this method.
type channelAlias Channel

// UnmarshalCBOR decodes a Channel, then rebinds each ORMap field's
// merge function (see Space.UnmarshalCBOR for why this is necessary).
func (c *Channel) UnmarshalCBOR(data []byte) error {
	a := (*channelAlias)(c)
	if err := cbor.Unmarshal(data, a); err != nil {
		return err
	}
	if c.Permissions != nil {
		c.Permissions.SetMergeFunc(mergeLWWPermission)
	}
	if c.MLSIdentity != nil {
		c.MLSIdentity.SetMergeFunc(mergeIdentityMeta)
	}
	return nil
}
