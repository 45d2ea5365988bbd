package mls

import (
	"encoding/binary"

	"github.com/spacepanda/core/internal/errs"
)

// paddingVersion is the wire-format version byte for padded messages.
const paddingVersion byte = 0x01

// paddingHeaderSize is [version:1][original_len:4].
const paddingHeaderSize = 5

// MaxPaddedSize bounds the total size of a padded message, including
// the header, to the largest padding bucket.
const MaxPaddedSize = 65536

// paddingBuckets are the fixed sizes a padded message is rounded up to,
// to resist traffic-analysis by message length.
var paddingBuckets = [...]int{256, 1024, 4096, 16384, 65536}

// GetPaddedSize returns the bucket a message of plaintextLen bytes
// (plus the 5-byte header) will be padded to, or -1 if it doesn't fit
// any bucket.
func GetPaddedSize(plaintextLen int) int {
	contentSize := paddingHeaderSize + plaintextLen
	for _, bucket := range paddingBuckets {
		if contentSize <= bucket {
			return bucket
		}
	}
	return -1
}

// PadMessage wraps plaintext in [version:1][len:4 big-endian][payload]
// and zero-pads the result to the smallest bucket it fits in.
func PadMessage(plaintext []byte) ([]byte, error) {
	if len(plaintext) == 0 {
		return nil, errs.New(errs.InvalidInput, "mls: cannot pad empty message")
	}
	bucket := GetPaddedSize(len(plaintext))
	if bucket < 0 {
		return nil, errs.New(errs.InvalidInput, "mls: message too large to pad")
	}

	padded := make([]byte, bucket)
	padded[0] = paddingVersion
	binary.BigEndian.PutUint32(padded[1:5], uint32(len(plaintext)))
	copy(padded[paddingHeaderSize:], plaintext)
	return padded, nil
}

// UnpadMessage reverses PadMessage, validating the header and claimed
// length before slicing the payload back out.
func UnpadMessage(padded []byte) ([]byte, error) {
	if len(padded) < paddingHeaderSize {
		return nil, errs.New(errs.InvalidInput, "mls: padded message too short")
	}
	if padded[0] != paddingVersion {
		return nil, errs.New(errs.InvalidInput, "mls: unsupported padding version")
	}
	length := binary.BigEndian.Uint32(padded[1:5])
	if paddingHeaderSize+int(length) > len(padded) {
		return nil, errs.New(errs.InvalidInput, "mls: padded message length exceeds buffer")
	}
	return padded[paddingHeaderSize : paddingHeaderSize+int(length)], nil
}
