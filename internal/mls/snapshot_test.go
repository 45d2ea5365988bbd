package mls_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/spacepanda/core/internal/mls"
)

func TestSnapshotRoundTripsThroughBytes(t *testing.T) {
	alice, _ := twoMemberGroup(t)

	snap := alice.Snapshot().WithMetadata("channel", []byte("general"))
	data, err := snap.ToBytes()
	require.NoError(t, err)

	decoded, err := mls.SnapshotFromBytes(data)
	require.NoError(t, err)
	require.Equal(t, snap.GroupID, decoded.GroupID)
	require.Equal(t, snap.Epoch, decoded.Epoch)
	require.Equal(t, snap.EpochSecret, decoded.EpochSecret)
	require.Len(t, decoded.Members, 2)
	require.Equal(t, []byte("general"), decoded.Metadata["channel"])
}

func TestRestoreGroupEngineReproducesLiveState(t *testing.T) {
	alice, _ := twoMemberGroup(t)
	snap := alice.Snapshot()

	restored, err := mls.RestoreGroupEngine(snap, newTestConfig(), nil, nil, nil)
	require.NoError(t, err)
	require.Equal(t, alice.Epoch(), restored.Epoch())
	require.Equal(t, alice.GroupID(), restored.GroupID())
	require.Len(t, restored.Members(), 2)
	require.Equal(t, alice.OwnLeafIndex(), restored.OwnLeafIndex())
}
