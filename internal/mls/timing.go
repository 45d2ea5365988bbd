package mls

import (
	"math/rand"
	"time"
)

// maxJitterSeconds bounds the timing obfuscation applied to message
// sequence numbers. Grounded on timing_obfuscation.rs's
// MAX_JITTER_SECONDS: large enough to defeat burst correlation, small
// enough that ordering stays intelligible to a human reading a channel.
const maxJitterSeconds = 30

// GenerateObfuscatedSequence returns the current Unix timestamp
// jittered by a uniformly random ±maxJitterSeconds offset, so a
// network observer cannot tell which messages were actually sent
// together. The jitter is non-cryptographic (math/rand is the right
// tool here, not crypto/rand: this value is never secret, it only
// needs to be unpredictable enough to blur clustering, and crypto/rand
// would add syscall overhead on every send for no security benefit).
func GenerateObfuscatedSequence() int64 {
	now := GenerateSequenceNoJitter()
	jitter := rand.Int63n(2*maxJitterSeconds+1) - maxJitterSeconds
	return now + jitter
}

// GenerateObfuscatedSequenceAfter retries GenerateObfuscatedSequence
// until it produces a value strictly greater than minSequence,
// preserving per-channel ordering while still obfuscating exact
// timing.
func GenerateObfuscatedSequenceAfter(minSequence int64) int64 {
	for {
		seq := GenerateObfuscatedSequence()
		if seq > minSequence {
			return seq
		}
	}
}

// GenerateSequenceNoJitter returns the current Unix timestamp with no
// jitter applied, for local-only operations where timing privacy does
// not matter.
func GenerateSequenceNoJitter() int64 {
	return time.Now().Unix()
}
