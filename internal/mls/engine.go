package mls

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"io"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"github.com/spacepanda/core/internal/errs"
)

const (
	epochSecretSize     = 32
	commitHPKEInfo      = "spacepanda-mls-commit"
	welcomeHPKEInfo     = "spacepanda-mls-welcome"
	appChainInfo        = "spacepanda-mls-app-chain"
	replayRotateWindow  = 10 * time.Minute
)

// memberKeys is the public key material an engine needs to deliver
// future epoch secrets to a given leaf (HPKE) and verify commits it
// signs (Ed25519). Stands in for the ratchet tree's per-leaf public
// key nodes, since no TreeKEM implementation exists in the retrieval
// pack (see the package doc comment).
type memberKeys struct {
	HPKEPublicKey    []byte
	SigningPublicKey ed25519.PublicKey
}

// GroupEngine is one member's view of an MLS-like group: membership,
// the current epoch secret (and a short trailing history of prior
// epoch secrets, bounded by MlsConfig.MaxEpochDrift, so application
// messages from a slightly stale epoch can still be opened), and the
// key material needed to issue or apply commits.
//
// Grounded on core_mls/engine/adapter.rs's OpenMlsEngine surface
// (create_group, add_members, remove_members, commit_pending,
// send_message, process_message, epoch, group_id); the underlying key
// schedule is this port's own HPKE/HKDF construction rather than
// openmls's TreeKEM, as documented at the package level.
type GroupEngine struct {
	mu sync.Mutex

	groupID GroupId
	config  MlsConfig
	events  *Bus

	epoch        uint64
	epochSecrets map[uint64][]byte

	members    []MemberInfo
	memberKeys map[uint32]memberKeys
	nextLeaf   uint32

	ownIdentity    []byte
	ownLeafIndex   uint32
	signingKey     *SigningKey
	hpkePrivateKey []byte

	replay *ReplayCache

	createdAt time.Time
	updatedAt time.Time
}

// CreateGroup initializes a brand-new single-member group owned by
// identity, who becomes its first Admin.
func CreateGroup(groupID GroupId, identity []byte, config MlsConfig, events *Bus) (*GroupEngine, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	signingKey, err := GenerateSigningKey()
	if err != nil {
		return nil, err
	}
	hpkePub, hpkePriv, err := GenerateHPKEKeyPair()
	if err != nil {
		return nil, err
	}
	secret := make([]byte, epochSecretSize)
	if _, err := rand.Read(secret); err != nil {
		return nil, errs.Wrap(errs.Crypto, "generate initial epoch secret", err)
	}

	now := time.Now()
	e := &GroupEngine{
		groupID:        groupID,
		config:         config,
		events:         events,
		epoch:          0,
		epochSecrets:   map[uint64][]byte{0: secret},
		members:        []MemberInfo{{Identity: identity, LeafIndex: 0, JoinedAt: now, Role: RoleAdmin}},
		memberKeys:     map[uint32]memberKeys{0: {HPKEPublicKey: hpkePub, SigningPublicKey: signingKey.VerifyingKey()}},
		nextLeaf:       1,
		ownIdentity:    identity,
		ownLeafIndex:   0,
		signingKey:     signingKey,
		hpkePrivateKey: hpkePriv,
		replay:         NewReplayCache(config.ReplayCacheSize, replayRotateWindow),
		createdAt:      now,
		updatedAt:      now,
	}
	e.publish(MlsEvent{Kind: EventGroupCreated, GroupID: groupID, CreatorID: identity, At: now})
	return e, nil
}

// OwnKeyPackage publishes this member's current HPKE key so others can
// add them to other groups or re-key with them directly.
func (e *GroupEngine) OwnKeyPackage() (KeyPackage, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	own, ok := e.memberKeys[e.ownLeafIndex]
	if !ok || e.signingKey == nil {
		return KeyPackage{}, errs.New(errs.InvalidInput, "mls: no own key material")
	}
	signingPub := e.signingKey.VerifyingKey()
	now := time.Now()
	return KeyPackage{
		Identity:         e.ownIdentity,
		HPKEPublicKey:    own.HPKEPublicKey,
		SigningPublicKey: signingPub,
		CreatedAt:        now,
		ExpiresAt:        now.Add(keyPackageTTL),
		Signature:        e.signingKey.Sign(keyPackageSignedBytes(e.ownIdentity, own.HPKEPublicKey, signingPub)),
	}, nil
}

// GroupID returns the group identifier.
func (e *GroupEngine) GroupID() GroupId { return e.groupID }

// Epoch returns the current epoch number.
func (e *GroupEngine) Epoch() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.epoch
}

// Members returns a snapshot of the current member list.
func (e *GroupEngine) Members() []MemberInfo {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]MemberInfo, len(e.members))
	copy(out, e.members)
	return out
}

// OwnLeafIndex returns this member's leaf position.
func (e *GroupEngine) OwnLeafIndex() uint32 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ownLeafIndex
}

// OwnRole returns this member's current role.
func (e *GroupEngine) OwnRole() MemberRole {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, m := range e.members {
		if m.LeafIndex == e.ownLeafIndex {
			return m.Role
		}
	}
	return RoleReadOnly
}

func (e *GroupEngine) publish(ev MlsEvent) {
	if e.events != nil {
		e.events.Publish(ev)
	}
}

// SealedSecret is a new epoch secret HPKE-encapsulated to one
// recipient leaf.
type SealedSecret struct {
	Enc        []byte
	Ciphertext []byte
}

// Commit finalizes one or more pending membership changes: it carries
// the new member roster, the new epoch secret re-encapsulated to every
// remaining member's HPKE key, and the public key material of any
// newly added members so remaining members can address them in future
// commits.
type Commit struct {
	GroupID        GroupId
	NewEpoch       uint64
	Members        []MemberInfo
	SealedSecrets  map[uint32]SealedSecret
	NewMemberKeys  map[uint32]MemberKeys
	SignerIdentity []byte
	SignerLeaf     uint32
	Signature      []byte
}

// MemberKeys is the public key material needed to address a member in
// future commits: their HPKE encapsulation key and Ed25519 signing key.
type MemberKeys struct {
	HPKEPublicKey    []byte
	SigningPublicKey ed25519.PublicKey
}

// Welcome lets a newly added member bootstrap a GroupEngine without
// having observed any prior epoch.
type Welcome struct {
	GroupID        GroupId
	Epoch          uint64
	Members        []MemberInfo
	MemberKeys     map[uint32]MemberKeys
	SealedSecret   SealedSecret
	SignerIdentity []byte
	Signature      []byte
}

func commitSigningInput(groupID GroupId, epoch uint64, members []MemberInfo) []byte {
	buf := append([]byte{}, groupID.Bytes()...)
	var epochBytes [8]byte
	binary.BigEndian.PutUint64(epochBytes[:], epoch)
	buf = append(buf, epochBytes[:]...)
	for _, m := range members {
		var leafBytes [4]byte
		binary.BigEndian.PutUint32(leafBytes[:], m.LeafIndex)
		buf = append(buf, leafBytes[:]...)
		buf = append(buf, byte(m.Role))
		buf = append(buf, m.Identity...)
	}
	return buf
}

func ratchetSecret(previous []byte, groupID GroupId, epoch uint64) ([]byte, error) {
	info := append([]byte("mls-epoch-ratchet:"), groupID.Bytes()...)
	var epochBytes [8]byte
	binary.BigEndian.PutUint64(epochBytes[:], epoch)
	info = append(info, epochBytes[:]...)

	reader := hkdf.New(sha256.New, previous, nil, info)
	next := make([]byte, epochSecretSize)
	if _, err := io.ReadFull(reader, next); err != nil {
		return nil, errs.Wrap(errs.Crypto, "ratchet epoch secret", err)
	}
	return next, nil
}

func aadFor(groupID GroupId, epoch uint64) []byte {
	aad := append([]byte{}, groupID.Bytes()...)
	var epochBytes [8]byte
	binary.BigEndian.PutUint64(epochBytes[:], epoch)
	return append(aad, epochBytes[:]...)
}

func (e *GroupEngine) currentSecretLocked() []byte { return e.epochSecrets[e.epoch] }

func (e *GroupEngine) rememberSecretLocked(epoch uint64, secret []byte) {
	e.epochSecrets[epoch] = secret
	if e.config.MaxEpochDrift == 0 {
		return
	}
	floor := int64(epoch) - int64(e.config.MaxEpochDrift)
	for ep := range e.epochSecrets {
		if int64(ep) < floor {
			delete(e.epochSecrets, ep)
		}
	}
}

// AddMembers commits keyPackages into the group immediately (no
// separate proposal round-trip, matching outbound.rs's "skip the
// proposal step and go straight to commit" comment), returning the
// commit for existing members and one Welcome per new member.
func (e *GroupEngine) AddMembers(keyPackages []KeyPackage) (*Commit, []*Welcome, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.members)+len(keyPackages) > e.config.MaxGroupSize {
		return nil, nil, errs.New(errs.InvalidInput, "mls: add would exceed max group size")
	}

	newMembers := append([]MemberInfo{}, e.members...)
	newMemberKeys := make(map[uint32]MemberKeys, len(keyPackages))
	for _, kp := range keyPackages {
		if !kp.Verify() {
			return nil, nil, errs.New(errs.AuthenticationFailed, "mls: key package signature invalid")
		}
		leaf := e.nextLeaf
		e.nextLeaf++
		newMembers = append(newMembers, MemberInfo{Identity: kp.Identity, LeafIndex: leaf, JoinedAt: time.Now(), Role: RoleMember})
		e.memberKeys[leaf] = memberKeys{HPKEPublicKey: kp.HPKEPublicKey, SigningPublicKey: kp.SigningPublicKey}
		newMemberKeys[leaf] = MemberKeys{HPKEPublicKey: kp.HPKEPublicKey, SigningPublicKey: kp.SigningPublicKey}
	}

	commit, welcomes, err := e.commitLocked(newMembers, newMemberKeys)
	if err != nil {
		return nil, nil, err
	}
	for _, kp := range keyPackages {
		e.publish(MlsEvent{Kind: EventMemberAdded, GroupID: e.groupID, MemberID: kp.Identity, Epoch: e.epoch})
	}
	return commit, welcomes, nil
}

// RemoveMembers commits the removal of the given leaves. Requires the
// local member's role to allow removal.
func (e *GroupEngine) RemoveMembers(leafIndices []uint32) (*Commit, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.OwnRoleLocked().CanRemoveMembers() {
		return nil, errs.New(errs.PermissionDenied, "mls: role cannot remove members")
	}

	remove := make(map[uint32]struct{}, len(leafIndices))
	for _, l := range leafIndices {
		remove[l] = struct{}{}
	}

	var removedIdentities [][]byte
	newMembers := make([]MemberInfo, 0, len(e.members))
	for _, m := range e.members {
		if _, ok := remove[m.LeafIndex]; ok {
			removedIdentities = append(removedIdentities, m.Identity)
			delete(e.memberKeys, m.LeafIndex)
			continue
		}
		newMembers = append(newMembers, m)
	}

	commit, _, err := e.commitLocked(newMembers, nil)
	if err != nil {
		return nil, err
	}
	for _, id := range removedIdentities {
		e.publish(MlsEvent{Kind: EventMemberRemoved, GroupID: e.groupID, MemberID: id, Epoch: e.epoch})
	}
	return commit, nil
}

// OwnRoleLocked returns the own role; caller must hold e.mu.
func (e *GroupEngine) OwnRoleLocked() MemberRole {
	for _, m := range e.members {
		if m.LeafIndex == e.ownLeafIndex {
			return m.Role
		}
	}
	return RoleReadOnly
}

// commitLocked ratchets the epoch secret, reseals it to every member
// remaining in newMembers, builds Welcomes for the leaves named in
// addedKeys, and advances engine state. Caller must hold e.mu.
func (e *GroupEngine) commitLocked(newMembers []MemberInfo, addedKeys map[uint32]MemberKeys) (*Commit, []*Welcome, error) {
	newEpoch := e.epoch + 1
	newSecret, err := ratchetSecret(e.currentSecretLocked(), e.groupID, newEpoch)
	if err != nil {
		return nil, nil, err
	}

	sealed := make(map[uint32]SealedSecret)
	var welcomes []*Welcome
	aad := aadFor(e.groupID, newEpoch)

	for _, m := range newMembers {
		if _, isNew := addedKeys[m.LeafIndex]; isNew {
			continue // new members get a Welcome instead of a sealed commit secret
		}
		keys, ok := e.memberKeys[m.LeafIndex]
		if !ok {
			continue
		}
		enc, ct, err := SealToHPKEPublicKey(keys.HPKEPublicKey, []byte(commitHPKEInfo), newSecret, aad)
		if err != nil {
			return nil, nil, err
		}
		sealed[m.LeafIndex] = SealedSecret{Enc: enc, Ciphertext: ct}
	}

	for _, keys := range addedKeys {
		enc, ct, err := SealToHPKEPublicKey(keys.HPKEPublicKey, []byte(welcomeHPKEInfo), newSecret, aad)
		if err != nil {
			return nil, nil, err
		}
		welcomes = append(welcomes, &Welcome{
			GroupID:        e.groupID,
			Epoch:          newEpoch,
			Members:        newMembers,
			MemberKeys:     e.snapshotMemberKeysLocked(newMembers),
			SealedSecret:   SealedSecret{Enc: enc, Ciphertext: ct},
			SignerIdentity: e.ownIdentity,
			Signature:      e.signingKey.Sign(commitSigningInput(e.groupID, newEpoch, newMembers)),
		})
	}

	commit := &Commit{
		GroupID:        e.groupID,
		NewEpoch:       newEpoch,
		Members:        newMembers,
		SealedSecrets:  sealed,
		NewMemberKeys:  addedKeys,
		SignerIdentity: e.ownIdentity,
		SignerLeaf:     e.ownLeafIndex,
	}
	commit.Signature = e.signingKey.Sign(commitSigningInput(e.groupID, newEpoch, newMembers))

	e.members = newMembers
	e.epoch = newEpoch
	e.rememberSecretLocked(newEpoch, newSecret)
	e.updatedAt = time.Now()
	e.publish(MlsEvent{Kind: EventCommitCreated, GroupID: e.groupID, Epoch: newEpoch, ProposalCount: len(addedKeys)})
	e.publish(MlsEvent{Kind: EventEpochChanged, GroupID: e.groupID, OldEpoch: newEpoch - 1, NewEpoch: newEpoch})

	return commit, welcomes, nil
}

func (e *GroupEngine) snapshotMemberKeysLocked(members []MemberInfo) map[uint32]MemberKeys {
	out := make(map[uint32]MemberKeys, len(members))
	for _, m := range members {
		if k, ok := e.memberKeys[m.LeafIndex]; ok {
			out[m.LeafIndex] = MemberKeys{HPKEPublicKey: k.HPKEPublicKey, SigningPublicKey: k.SigningPublicKey}
		}
	}
	return out
}

// ApplyCommit applies a commit authored by another member, advancing
// this engine's epoch and membership.
func (e *GroupEngine) ApplyCommit(commit *Commit) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if commit.NewEpoch != e.epoch+1 {
		return errs.NewEpochMismatch(e.epoch+1, commit.NewEpoch)
	}
	signerKeys, ok := e.memberKeys[commit.SignerLeaf]
	if !ok {
		return errs.New(errs.PermissionDenied, "mls: commit signer is not a known member")
	}
	if !VerifySignature(signerKeys.SigningPublicKey, commitSigningInput(commit.GroupID, commit.NewEpoch, commit.Members), commit.Signature) {
		return errs.New(errs.AuthenticationFailed, "mls: commit signature invalid")
	}

	stillPresent := false
	for _, m := range commit.Members {
		if m.LeafIndex == e.ownLeafIndex {
			stillPresent = true
			break
		}
	}
	if !stillPresent {
		e.members = commit.Members
		e.epoch = commit.NewEpoch
		e.publish(MlsEvent{Kind: EventGroupLeft, GroupID: e.groupID, FinalEpoch: commit.NewEpoch})
		return nil
	}

	sealed, ok := commit.SealedSecrets[e.ownLeafIndex]
	if !ok {
		return errs.New(errs.CorruptedData, "mls: commit has no sealed secret for this member")
	}
	aad := aadFor(commit.GroupID, commit.NewEpoch)
	newSecret, err := OpenFromHPKEPrivateKey(e.hpkePrivateKey, []byte(commitHPKEInfo), sealed.Enc, sealed.Ciphertext, aad)
	if err != nil {
		return err
	}

	oldIdentities := make(map[uint32][]byte, len(e.members))
	for _, m := range e.members {
		oldIdentities[m.LeafIndex] = m.Identity
	}

	for leaf, keys := range commit.NewMemberKeys {
		e.memberKeys[leaf] = memberKeys{HPKEPublicKey: keys.HPKEPublicKey, SigningPublicKey: keys.SigningPublicKey}
	}
	present := make(map[uint32]struct{}, len(commit.Members))
	for _, m := range commit.Members {
		present[m.LeafIndex] = struct{}{}
	}
	for leaf := range e.memberKeys {
		if _, ok := present[leaf]; !ok {
			delete(e.memberKeys, leaf)
		}
	}

	e.members = commit.Members
	e.epoch = commit.NewEpoch
	e.rememberSecretLocked(commit.NewEpoch, newSecret)
	e.updatedAt = time.Now()

	for _, m := range commit.Members {
		if _, existed := oldIdentities[m.LeafIndex]; !existed {
			e.publish(MlsEvent{Kind: EventMemberAdded, GroupID: e.groupID, MemberID: m.Identity, Epoch: commit.NewEpoch})
		}
	}
	for leaf, id := range oldIdentities {
		if _, stillThere := present[leaf]; !stillThere {
			e.publish(MlsEvent{Kind: EventMemberRemoved, GroupID: e.groupID, MemberID: id, Epoch: commit.NewEpoch})
		}
	}
	e.publish(MlsEvent{Kind: EventEpochChanged, GroupID: e.groupID, OldEpoch: commit.NewEpoch - 1, NewEpoch: commit.NewEpoch})
	return nil
}

// JoinFromWelcome bootstraps a new GroupEngine for a member who was
// just added to a group, using the HPKE private key generated
// alongside the key package that got them invited.
func JoinFromWelcome(welcome *Welcome, identity []byte, signingKey *SigningKey, hpkePrivateKey []byte, config MlsConfig, events *Bus) (*GroupEngine, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	aad := aadFor(welcome.GroupID, welcome.Epoch)
	secret, err := OpenFromHPKEPrivateKey(hpkePrivateKey, []byte(welcomeHPKEInfo), welcome.SealedSecret.Enc, welcome.SealedSecret.Ciphertext, aad)
	if err != nil {
		return nil, err
	}

	var ownLeaf uint32
	found := false
	for _, m := range welcome.Members {
		if string(m.Identity) == string(identity) {
			ownLeaf = m.LeafIndex
			found = true
			break
		}
	}
	if !found {
		return nil, errs.New(errs.NotFound, "mls: own identity not present in welcome member list")
	}

	keys := make(map[uint32]memberKeys, len(welcome.MemberKeys))
	for leaf, k := range welcome.MemberKeys {
		keys[leaf] = memberKeys{HPKEPublicKey: k.HPKEPublicKey, SigningPublicKey: k.SigningPublicKey}
	}

	var maxLeaf uint32
	for _, m := range welcome.Members {
		if m.LeafIndex >= maxLeaf {
			maxLeaf = m.LeafIndex + 1
		}
	}

	now := time.Now()
	e := &GroupEngine{
		groupID:        welcome.GroupID,
		config:         config,
		events:         events,
		epoch:          welcome.Epoch,
		epochSecrets:   map[uint64][]byte{welcome.Epoch: secret},
		members:        append([]MemberInfo{}, welcome.Members...),
		memberKeys:     keys,
		nextLeaf:       maxLeaf,
		ownIdentity:    identity,
		ownLeafIndex:   ownLeaf,
		signingKey:     signingKey,
		hpkePrivateKey: hpkePrivateKey,
		replay:         NewReplayCache(config.ReplayCacheSize, replayRotateWindow),
		createdAt:      now,
		updatedAt:      now,
	}
	e.publish(MlsEvent{Kind: EventGroupJoined, GroupID: welcome.GroupID, Epoch: welcome.Epoch, MemberCount: len(welcome.Members)})
	return e, nil
}

// ProcessedMessage is the result of decrypting an inbound application
// envelope.
type ProcessedMessage struct {
	SenderIdentity []byte
	Plaintext      []byte
}

// SendMessage encrypts plaintext for the current epoch and wraps it in
// a transport-ready envelope. Rejects the call if this member's role
// cannot send.
func (e *GroupEngine) SendMessage(plaintext []byte) (EncryptedEnvelope, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.OwnRoleLocked().CanSendMessages() {
		return EncryptedEnvelope{}, errs.New(errs.PermissionDenied, "mls: role cannot send messages")
	}

	payload := plaintext
	if e.config.PaddingEnabled {
		padded, err := PadMessage(plaintext)
		if err != nil {
			return EncryptedEnvelope{}, err
		}
		payload = padded
	}

	secret := e.currentSecretLocked()
	appKey, err := deriveAppKey(secret, e.ownIdentity)
	if err != nil {
		return EncryptedEnvelope{}, err
	}
	aead, err := chacha20poly1305.New(appKey)
	if err != nil {
		return EncryptedEnvelope{}, errs.Wrap(errs.Crypto, "build app message aead", err)
	}
	nonce := make([]byte, chacha20poly1305.NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return EncryptedEnvelope{}, errs.Wrap(errs.Crypto, "generate app message nonce", err)
	}
	aad := aadFor(e.groupID, e.epoch)
	ciphertext := aead.Seal(nil, nonce, payload, aad)

	senderKey, err := DeriveSenderKey(secret)
	if err != nil {
		return EncryptedEnvelope{}, err
	}
	sealedSender, err := SealSender(e.ownIdentity, senderKey, e.epoch)
	if err != nil {
		return EncryptedEnvelope{}, err
	}

	return NewEnvelope(e.groupID, e.epoch, sealedSender, append(nonce, ciphertext...), MessageApplication), nil
}

func deriveAppKey(epochSecret, identity []byte) ([]byte, error) {
	reader := hkdf.New(sha256.New, epochSecret, identity, []byte(appChainInfo))
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, errs.Wrap(errs.Crypto, "derive app message key", err)
	}
	return key, nil
}

// OpenApplicationMessage decrypts an application envelope, rejecting
// replays and envelopes outside the retained epoch-secret window.
func (e *GroupEngine) OpenApplicationMessage(envelope EncryptedEnvelope) (ProcessedMessage, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	secret, ok := e.epochSecrets[envelope.Epoch]
	if !ok {
		return ProcessedMessage{}, errs.NewEpochMismatch(e.epoch, envelope.Epoch)
	}

	senderKey, err := DeriveSenderKey(secret)
	if err != nil {
		return ProcessedMessage{}, err
	}
	senderIdentity, err := OpenSender(envelope.SealedSender, senderKey, envelope.Epoch)
	if err != nil {
		return ProcessedMessage{}, err
	}

	if e.replay.Seen(replayID(envelope)) {
		return ProcessedMessage{}, errs.New(errs.ReplayAttack, "mls: duplicate application message")
	}

	if len(envelope.Payload) < chacha20poly1305.NonceSize {
		return ProcessedMessage{}, errs.New(errs.InvalidInput, "mls: envelope payload too short")
	}
	nonce, ciphertext := envelope.Payload[:chacha20poly1305.NonceSize], envelope.Payload[chacha20poly1305.NonceSize:]

	appKey, err := deriveAppKey(secret, senderIdentity)
	if err != nil {
		return ProcessedMessage{}, err
	}
	aead, err := chacha20poly1305.New(appKey)
	if err != nil {
		return ProcessedMessage{}, errs.Wrap(errs.Crypto, "build app message aead", err)
	}
	aad := aadFor(envelope.GroupID, envelope.Epoch)
	payload, err := aead.Open(nil, nonce, ciphertext, aad)
	if err != nil {
		return ProcessedMessage{}, errs.Wrap(errs.Crypto, "decrypt application message", err)
	}

	plaintext := payload
	if e.config.PaddingEnabled {
		plaintext, err = UnpadMessage(payload)
		if err != nil {
			return ProcessedMessage{}, err
		}
	}

	e.publish(MlsEvent{Kind: EventMessageReceived, GroupID: e.groupID, SenderID: senderIdentity, Epoch: envelope.Epoch, Plaintext: plaintext})
	return ProcessedMessage{SenderIdentity: senderIdentity, Plaintext: plaintext}, nil
}

func replayID(envelope EncryptedEnvelope) []byte {
	h := sha256.New()
	h.Write(envelope.GroupID.Bytes())
	var epochBytes [8]byte
	binary.BigEndian.PutUint64(epochBytes[:], envelope.Epoch)
	h.Write(epochBytes[:])
	h.Write(envelope.SealedSender.Nonce[:])
	h.Write(envelope.Payload)
	return h.Sum(nil)
}

// Commit/Welcome wire codecs, cbor per the DOMAIN STACK envelope-codec
// assignment.

func (c *Commit) ToBytes() ([]byte, error) {
	data, err := cbor.Marshal(c)
	if err != nil {
		return nil, errs.Wrap(errs.Serialization, "encode mls commit", err)
	}
	return data, nil
}

func CommitFromBytes(data []byte) (*Commit, error) {
	var c Commit
	if err := cbor.Unmarshal(data, &c); err != nil {
		return nil, errs.Wrap(errs.Serialization, "decode mls commit", err)
	}
	return &c, nil
}

func (w *Welcome) ToBytes() ([]byte, error) {
	data, err := cbor.Marshal(w)
	if err != nil {
		return nil, errs.Wrap(errs.Serialization, "encode mls welcome", err)
	}
	return data, nil
}

func WelcomeFromBytes(data []byte) (*Welcome, error) {
	var w Welcome
	if err := cbor.Unmarshal(data, &w); err != nil {
		return nil, errs.Wrap(errs.Serialization, "decode mls welcome", err)
	}
	return &w, nil
}
