package mls

import (
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/spacepanda/core/internal/errs"
)

// GroupSnapshot is an atomic export of a GroupEngine's full state,
// suitable for disaster recovery or migration between storage
// backends. Grounded on state/snapshot.rs's GroupSnapshot; the
// ratchet_tree_bytes/group_context_bytes fields (openmls-specific) are
// replaced by this engine's own epoch secret and member-key map, which
// together are the entire reconstructable state of a GroupEngine.
type GroupSnapshot struct {
	GroupID       GroupId
	Epoch         uint64
	EpochSecret   []byte
	Members       []MemberInfo
	MemberKeys    map[uint32]MemberKeys
	OwnLeafIndex  uint32
	OwnIdentity   []byte
	Metadata      map[string][]byte
	CreatedAt     time.Time
}

// Snapshot exports engine's current state.
func (e *GroupEngine) Snapshot() GroupSnapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	members := make([]MemberInfo, len(e.members))
	copy(members, e.members)

	keys := make(map[uint32]MemberKeys, len(e.memberKeys))
	for leaf, k := range e.memberKeys {
		keys[leaf] = MemberKeys{HPKEPublicKey: k.HPKEPublicKey, SigningPublicKey: k.SigningPublicKey}
	}

	return GroupSnapshot{
		GroupID:      e.groupID,
		Epoch:        e.epoch,
		EpochSecret:  append([]byte{}, e.currentSecretLocked()...),
		Members:      members,
		MemberKeys:   keys,
		OwnLeafIndex: e.ownLeafIndex,
		OwnIdentity:  e.ownIdentity,
		Metadata:     map[string][]byte{},
		CreatedAt:    e.createdAt,
	}
}

// WithMetadata attaches an application-specific metadata entry,
// returning the snapshot for chaining.
func (s GroupSnapshot) WithMetadata(key string, value []byte) GroupSnapshot {
	if s.Metadata == nil {
		s.Metadata = map[string][]byte{}
	}
	s.Metadata[key] = value
	return s
}

// ToBytes serializes the snapshot.
func (s GroupSnapshot) ToBytes() ([]byte, error) {
	data, err := cbor.Marshal(s)
	if err != nil {
		return nil, errs.Wrap(errs.Serialization, "encode mls group snapshot", err)
	}
	return data, nil
}

// SnapshotFromBytes deserializes a snapshot.
func SnapshotFromBytes(data []byte) (GroupSnapshot, error) {
	var s GroupSnapshot
	if err := cbor.Unmarshal(data, &s); err != nil {
		return GroupSnapshot{}, errs.Wrap(errs.Serialization, "decode mls group snapshot", err)
	}
	return s, nil
}

// RestoreGroupEngine reconstructs a GroupEngine from a snapshot taken
// by the same member (ownSigningKey/ownHPKEPrivateKey must match the
// keys that produced the snapshot). It loads synchronously and never
// spawns a goroutine to populate shared state behind the caller's back.
func RestoreGroupEngine(s GroupSnapshot, config MlsConfig, signingKey *SigningKey, hpkePrivateKey []byte, events *Bus) (*GroupEngine, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	keys := make(map[uint32]memberKeys, len(s.MemberKeys))
	for leaf, k := range s.MemberKeys {
		keys[leaf] = memberKeys{HPKEPublicKey: k.HPKEPublicKey, SigningPublicKey: k.SigningPublicKey}
	}
	var nextLeaf uint32
	for _, m := range s.Members {
		if m.LeafIndex >= nextLeaf {
			nextLeaf = m.LeafIndex + 1
		}
	}

	e := &GroupEngine{
		groupID:        s.GroupID,
		config:         config,
		events:         events,
		epoch:          s.Epoch,
		epochSecrets:   map[uint64][]byte{s.Epoch: s.EpochSecret},
		members:        append([]MemberInfo{}, s.Members...),
		memberKeys:     keys,
		nextLeaf:       nextLeaf,
		ownIdentity:    s.OwnIdentity,
		ownLeafIndex:   s.OwnLeafIndex,
		signingKey:     signingKey,
		hpkePrivateKey: hpkePrivateKey,
		replay:         NewReplayCache(config.ReplayCacheSize, replayRotateWindow),
		createdAt:      s.CreatedAt,
		updatedAt:      s.CreatedAt,
	}
	return e, nil
}
