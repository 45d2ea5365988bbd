package model_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/spacepanda/core/internal/crdt"
	"github.com/spacepanda/core/internal/model"
)

func TestSpaceCreation(t *testing.T) {
	spaceID := model.NewSpaceID()
	ownerID := model.NewUserID()
	now := model.Now()

	space := model.NewSpace(spaceID, "My Server", ownerID, now, "node1")

	require.Equal(t, spaceID, space.ID)
	name, ok := space.GetName()
	require.True(t, ok)
	require.Equal(t, "My Server", name)
	desc, ok := space.GetDescription()
	require.True(t, ok)
	require.Empty(t, desc)
	require.Equal(t, ownerID, space.Owner)
}

func TestSpaceAccessorsDefaults(t *testing.T) {
	space := model.NewSpace(model.NewSpaceID(), "My Server", model.NewUserID(), model.Now(), "node1")

	require.Empty(t, space.Channels.Elements())
	require.Empty(t, space.Members.Elements())
	require.Empty(t, space.Roles.Keys())
}

func TestSpaceOwnerHasAdminPermissions(t *testing.T) {
	owner := model.NewUserID()
	space := model.NewSpace(model.NewSpaceID(), "My Server", owner, model.Now(), "node1")

	level, ok := space.GetUserPermissionLevel(owner)
	require.True(t, ok)
	require.Equal(t, model.PermissionAdmin(), level)
}

func TestRoleCreation(t *testing.T) {
	role := model.NewRole("Admin", model.PermissionAdmin(), "node1", nil)

	name, ok := role.GetName()
	require.True(t, ok)
	require.Equal(t, "Admin", name)

	level, ok := role.GetPermissionLevel()
	require.True(t, ok)
	require.Equal(t, model.PermissionAdmin(), level)
}

func TestChannelCreation(t *testing.T) {
	channelID := model.NewChannelID()
	userID := model.NewUserID()
	now := model.Now()

	ch := model.NewChannel(channelID, "general", model.ChannelText, userID, now, "node1")

	require.Equal(t, channelID, ch.ID)
	name, ok := ch.GetName()
	require.True(t, ok)
	require.Equal(t, "general", name)
	topic, ok := ch.GetTopic()
	require.True(t, ok)
	require.Empty(t, topic)
	require.Equal(t, model.ChannelText, ch.Type)
	require.Equal(t, userID, ch.CreatedBy)
}

func TestChannelAccessorsDefaults(t *testing.T) {
	ch := model.NewChannel(model.NewChannelID(), "general", model.ChannelText, model.NewUserID(), model.Now(), "node1")

	require.Empty(t, ch.Members.Elements())
	require.Empty(t, ch.PinnedMessages.Elements())
	require.Empty(t, ch.Permissions.Keys())
}

func TestSpaceMembershipChurnCountsConcurrentAdds(t *testing.T) {
	space := model.NewSpace(model.NewSpaceID(), "My Server", model.NewUserID(), model.Now(), "node1")
	member := model.NewUserID()

	vcA := crdt.NewVectorClock()
	vcA.Increment("replica-a")
	space.Members.Add(member, "replica-a-add-1", vcA)

	vcB := crdt.NewVectorClock()
	vcB.Increment("replica-b")
	space.Members.Add(member, "replica-b-add-1", vcB)

	churn := space.MembershipChurn()
	require.Equal(t, 2, churn.Count(member))
}
