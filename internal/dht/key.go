// Package dht implements the Kademlia-style distributed hash table that
// peers use to discover each other and publish/resolve small signed
// records (space membership pointers, MLS key package announcements).
//
// Grounded on _examples/original_source/spacepanda-core/src/core_dht
// (dht_key.rs, dht_config.rs, client.rs, events.rs): a 256-bit XOR
// keyspace hashed with Blake3, k-buckets, an iterative alpha-parallel
// lookup, and push/pull/hybrid value replication.
package dht

import (
	"encoding/hex"
	"fmt"

	"github.com/zeebo/blake3"
)

// KeySize is the keyspace width in bytes (256 bits).
const KeySize = 32

// Key is a point in the 256-bit XOR keyspace: a node id or a content
// address, depending on context.
type Key [KeySize]byte

// KeyFromBytes wraps an exact 32-byte array as a Key.
func KeyFromBytes(b [KeySize]byte) Key { return Key(b) }

// KeyFromSlice truncates or zero-pads data to 32 bytes.
func KeyFromSlice(data []byte) Key {
	var k Key
	n := len(data)
	if n > KeySize {
		n = KeySize
	}
	copy(k[:n], data[:n])
	return k
}

// HashKey returns the Blake3-256 hash of data as a Key.
func HashKey(data []byte) Key {
	return Key(blake3.Sum256(data))
}

// HashString returns the Blake3-256 hash of s as a Key.
func HashString(s string) Key {
	return HashKey([]byte(s))
}

// Bytes returns the raw 32 bytes.
func (k Key) Bytes() []byte {
	out := make([]byte, KeySize)
	copy(out, k[:])
	return out
}

// Distance returns the XOR distance between k and other.
func (k Key) Distance(other Key) Key {
	var d Key
	for i := 0; i < KeySize; i++ {
		d[i] = k[i] ^ other[i]
	}
	return d
}

// LeadingZeros counts the number of leading zero bits.
func (k Key) LeadingZeros() int {
	count := 0
	for _, b := range k {
		if b == 0 {
			count += 8
			continue
		}
		for mask := byte(0x80); mask != 0; mask >>= 1 {
			if b&mask != 0 {
				return count
			}
			count++
		}
		return count
	}
	return count
}

// BucketIndex returns the k-bucket index of k relative to reference: the
// bit position (0 = least significant, 255 = most significant) of the
// first bit the two keys differ on. Identical keys report bucket 0.
func (k Key) BucketIndex(reference Key) int {
	leading := k.Distance(reference).LeadingZeros()
	if leading >= KeySize*8 {
		return 0
	}
	return KeySize*8 - 1 - leading
}

// IsCloser reports whether k lies closer to target than other does.
func (k Key) IsCloser(other, target Key) bool {
	return k.Distance(target).Less(other.Distance(target))
}

// Less is the natural lexicographic ordering over raw key bytes, used
// to break ties deterministically when sorting candidate peer sets.
func (k Key) Less(other Key) bool {
	for i := 0; i < KeySize; i++ {
		if k[i] != other[i] {
			return k[i] < other[i]
		}
	}
	return false
}

// Equal reports whether k and other are the same key.
func (k Key) Equal(other Key) bool { return k == other }

// String renders the first 8 bytes as hex, matching luxfi-consensus's
// truncated-for-readability Display impl.
func (k Key) String() string {
	return hex.EncodeToString(k[:8])
}

// GoString supports %#v formatting with the same truncated form.
func (k Key) GoString() string {
	return fmt.Sprintf("dht.Key(%s)", k.String())
}
