package snapshot_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/spacepanda/core/internal/crdt"
	"github.com/spacepanda/core/internal/model"
	"github.com/spacepanda/core/internal/snapshot"
)

func newManager(t *testing.T) *snapshot.Manager {
	t.Helper()
	m, err := snapshot.NewManager(t.TempDir())
	require.NoError(t, err)
	return m
}

func TestSnapshotCreation(t *testing.T) {
	m := newManager(t)

	space := model.NewSpace(model.NewSpaceID(), "Test Space", model.NewUserID(), model.Now(), "node1")
	spaces := map[model.SpaceID]*model.Space{space.ID: space}

	require.NoError(t, m.CreateSnapshot(spaces, nil))
}

func TestLoadLatestEmpty(t *testing.T) {
	m := newManager(t)

	spaces, channels, err := m.LoadLatest()
	require.NoError(t, err)
	require.Empty(t, spaces)
	require.Empty(t, channels)
}

func TestCreateAndLoad(t *testing.T) {
	m := newManager(t)

	space := model.NewSpace(model.NewSpaceID(), "Test Space", model.NewUserID(), model.Now(), "node1")
	channel := model.NewChannel(model.NewChannelID(), "general", model.ChannelText, model.NewUserID(), model.Now(), "node1")

	spaces := map[model.SpaceID]*model.Space{space.ID: space}
	channels := map[model.ChannelID]*model.Channel{channel.ID: channel}

	require.NoError(t, m.CreateSnapshot(spaces, channels))

	loadedSpaces, loadedChannels, err := m.LoadLatest()
	require.NoError(t, err)
	require.Len(t, loadedSpaces, 1)
	require.Len(t, loadedChannels, 1)

	loadedSpace, ok := loadedSpaces[space.ID]
	require.True(t, ok)
	name, ok := loadedSpace.GetName()
	require.True(t, ok)
	require.Equal(t, "Test Space", name)

	loadedChannel, ok := loadedChannels[channel.ID]
	require.True(t, ok)
	cname, ok := loadedChannel.GetName()
	require.True(t, ok)
	require.Equal(t, "general", cname)
}

func TestSnapshotPreservesCRDTMergeability(t *testing.T) {
	m := newManager(t)

	space := model.NewSpace(model.NewSpaceID(), "Test Space", model.NewUserID(), model.Now(), "node1")
	member := model.NewUserID()
	vc1 := crdt.NewVectorClock()
	vc1.Increment("node1")
	space.Members.Add(member, "add-1", vc1)

	require.NoError(t, m.CreateSnapshot(map[model.SpaceID]*model.Space{space.ID: space}, nil))

	loaded, _, err := m.LoadLatest()
	require.NoError(t, err)
	loadedSpace := loaded[space.ID]

	// A freshly decoded space's OR-Set must still support Merge (its
	// internal bookkeeping round-trips through CBOR losslessly).
	other := model.NewSpace(space.ID, "Test Space", space.Owner, space.CreatedAt, "node2")
	otherMember := model.NewUserID()
	vc2 := crdt.NewVectorClock()
	vc2.Increment("node2")
	other.Members.Add(otherMember, "add-2", vc2)

	loadedSpace.Members.Merge(other.Members)
	require.True(t, loadedSpace.Members.Contains(member))
	require.True(t, loadedSpace.Members.Contains(otherMember))
}

func TestCleanupOldSnapshots(t *testing.T) {
	m := newManager(t)

	for i := 0; i < 5; i++ {
		require.NoError(t, m.CreateSnapshot(nil, nil))
	}

	require.NoError(t, m.CleanupOldSnapshots(2))

	_, _, err := m.LoadLatest()
	require.NoError(t, err)
}

func TestSnapshotDirIsCreated(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "snapshots")
	m, err := snapshot.NewManager(dir)
	require.NoError(t, err)
	require.NoError(t, m.CreateSnapshot(nil, nil))
}
