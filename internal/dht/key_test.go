package dht_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/spacepanda/core/internal/dht"
)

func TestKeyFromSlicePadsWithZeros(t *testing.T) {
	k := dht.KeyFromSlice([]byte{1, 2, 3, 4, 5})
	b := k.Bytes()
	require.Equal(t, byte(1), b[0])
	require.Equal(t, byte(5), b[4])
	require.Equal(t, byte(0), b[5])
}

func TestHashKeyIsDeterministic(t *testing.T) {
	k1 := dht.HashKey([]byte("hello world"))
	k2 := dht.HashKey([]byte("hello world"))
	require.Equal(t, k1, k2)

	k3 := dht.HashKey([]byte("different"))
	require.NotEqual(t, k1, k3)
}

func TestHashStringDistinguishesInputs(t *testing.T) {
	require.Equal(t, dht.HashString("alice"), dht.HashString("alice"))
	require.NotEqual(t, dht.HashString("alice"), dht.HashString("bob"))
}

func TestDistanceSelfIsZero(t *testing.T) {
	k := dht.HashString("test")
	d := k.Distance(k)
	require.Equal(t, dht.Key{}, d)
}

func TestDistanceIsSymmetric(t *testing.T) {
	a := dht.HashString("alice")
	b := dht.HashString("bob")
	require.Equal(t, a.Distance(b), b.Distance(a))
}

func TestLeadingZerosAllZero(t *testing.T) {
	var k dht.Key
	require.Equal(t, dht.KeySize*8, k.LeadingZeros())
}

func TestLeadingZerosFirstBitSet(t *testing.T) {
	var k dht.Key
	k[0] = 0b10000000
	require.Equal(t, 0, k.LeadingZeros())
}

func TestLeadingZerosPartial(t *testing.T) {
	var k dht.Key
	k[0] = 0b00100000
	require.Equal(t, 2, k.LeadingZeros())
}

func TestBucketIndexFirstBitDiffers(t *testing.T) {
	var ref dht.Key
	var k dht.Key
	k[0] = 0b10000000
	require.Equal(t, dht.KeySize*8-1, k.BucketIndex(ref))
}

func TestBucketIndexLastBitDiffers(t *testing.T) {
	var ref dht.Key
	var k dht.Key
	k[dht.KeySize-1] = 0b00000001
	require.Equal(t, 0, k.BucketIndex(ref))
}

func TestIsCloser(t *testing.T) {
	var target, near, far dht.Key
	for i := range target {
		target[i] = 0xFF
		near[i] = 0xFE
		far[i] = 0x00
	}
	require.True(t, near.IsCloser(far, target))
	require.False(t, far.IsCloser(near, target))
}

func TestKeyOrderingAndString(t *testing.T) {
	var a, b dht.Key
	a[0], b[0] = 1, 2
	require.True(t, a.Less(b))
	require.False(t, b.Less(a))
	require.True(t, a.Equal(a))

	var allAB dht.Key
	for i := range allAB {
		allAB[i] = 0xAB
	}
	require.Equal(t, "abababababababab", allAB.String())
}
