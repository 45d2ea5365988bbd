package dht_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/spacepanda/core/internal/dht"
)

func TestTouchAddsNewContact(t *testing.T) {
	local := dht.HashString("local")
	rt := dht.NewRoutingTable(local, 5)

	peer := dht.HashString("peer1")
	require.True(t, rt.Touch(peer, "127.0.0.1:1"))
	require.True(t, rt.Contains(peer))
	require.Equal(t, 1, rt.Len())
}

func TestTouchIgnoresSelf(t *testing.T) {
	local := dht.HashString("local")
	rt := dht.NewRoutingTable(local, 5)

	require.False(t, rt.Touch(local, "self"))
	require.Equal(t, 0, rt.Len())
}

func TestTouchOnFullBucketDoesNotEvict(t *testing.T) {
	local := dht.HashString("local")
	rt := dht.NewRoutingTable(local, 1)

	// Re-touching the contact that fills the bucket always succeeds.
	peer := dht.HashString("peer1")
	require.True(t, rt.Touch(peer, "addr1"))
	require.True(t, rt.Touch(peer, "addr2"))
	require.Equal(t, 1, rt.Len())

	// Flipping only the lowest bit keeps the highest differing bit
	// against local, so other lands in peer's (full) bucket and is
	// refused without evicting peer.
	other := peer
	other[dht.KeySize-1] ^= 1
	require.False(t, rt.Touch(other, "addr3"))
	require.True(t, rt.Contains(peer))
	require.False(t, rt.Contains(other))
	require.Equal(t, 1, rt.Len())
}

func TestMarkFailedEvictsAfterThreshold(t *testing.T) {
	local := dht.HashString("local")
	rt := dht.NewRoutingTable(local, 5)

	peer := dht.HashString("peer1")
	rt.Touch(peer, "addr")
	require.True(t, rt.Contains(peer))

	rt.MarkFailed(peer)
	rt.MarkFailed(peer)
	require.True(t, rt.Contains(peer), "should survive fewer than the threshold")

	rt.MarkFailed(peer)
	require.False(t, rt.Contains(peer), "should be evicted at the threshold")
}

func TestMarkFailedResetsOnSuccessfulTouch(t *testing.T) {
	local := dht.HashString("local")
	rt := dht.NewRoutingTable(local, 5)

	peer := dht.HashString("peer1")
	rt.Touch(peer, "addr")
	rt.MarkFailed(peer)
	rt.MarkFailed(peer)
	rt.Touch(peer, "addr") // resets fail count
	rt.MarkFailed(peer)
	require.True(t, rt.Contains(peer))
}

func TestRemoveEvictsUnconditionally(t *testing.T) {
	local := dht.HashString("local")
	rt := dht.NewRoutingTable(local, 5)

	peer := dht.HashString("peer1")
	rt.Touch(peer, "addr")
	rt.Remove(peer)
	require.False(t, rt.Contains(peer))
}

func TestFindClosestOrdersByDistance(t *testing.T) {
	local := dht.HashString("local")
	rt := dht.NewRoutingTable(local, 20)

	target := dht.HashString("target")
	var peers []dht.Key
	for i := 0; i < 5; i++ {
		peer := dht.HashString(string(rune('a' + i)))
		peers = append(peers, peer)
		rt.Touch(peer, "addr")
	}

	closest := rt.FindClosest(target, 3)
	require.Len(t, closest, 3)

	for i := 0; i+1 < len(closest); i++ {
		d1 := closest[i].ID.Distance(target)
		d2 := closest[i+1].ID.Distance(target)
		require.True(t, d1.Less(d2) || d1 == d2)
	}
}

func TestRemoveStalePeers(t *testing.T) {
	local := dht.HashString("local")
	rt := dht.NewRoutingTable(local, 5)

	peer := dht.HashString("peer1")
	rt.Touch(peer, "addr")

	removed := rt.RemoveStalePeers(0) // everything is "stale" vs. now
	require.Len(t, removed, 1)
	require.False(t, rt.Contains(peer))
}

func TestRemoveStalePeersKeepsRecentlySeen(t *testing.T) {
	local := dht.HashString("local")
	rt := dht.NewRoutingTable(local, 5)

	peer := dht.HashString("peer1")
	rt.Touch(peer, "addr")

	removed := rt.RemoveStalePeers(time.Hour)
	require.Empty(t, removed)
	require.True(t, rt.Contains(peer))
}

func TestLeastRecentlySeenReturnsFrontOfBucket(t *testing.T) {
	local := dht.HashString("local")
	rt := dht.NewRoutingTable(local, 5)

	peer := dht.HashString("peer1")
	rt.Touch(peer, "addr")

	c, ok := rt.LeastRecentlySeen(peer)
	require.True(t, ok)
	require.Equal(t, peer, c.ID)
}
