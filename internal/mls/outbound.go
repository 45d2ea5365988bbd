package mls

// OutboundBuilder turns local user actions into wire-ready envelopes.
// Grounded on messages/outbound.rs's OutboundBuilder.
type OutboundBuilder struct {
	identity []byte
}

// NewOutboundBuilder returns a builder recorded under identity. The
// envelopes it builds carry the engine's own identity as their sealed
// sender; identity itself is only reported back by Identity.
func NewOutboundBuilder(identity []byte) *OutboundBuilder {
	return &OutboundBuilder{identity: identity}
}

// Identity returns the identity this builder was created with.
func (b *OutboundBuilder) Identity() []byte { return b.identity }

// BuildApplicationMessage encrypts plaintext for engine's current
// epoch and wraps it in an envelope.
func (b *OutboundBuilder) BuildApplicationMessage(engine *GroupEngine, plaintext []byte) (EncryptedEnvelope, error) {
	return engine.SendMessage(plaintext)
}

// BuildAddProposal commits the given key packages immediately
// (mirrors outbound.rs: "we skip the proposal step and go straight to
// commit"), returning the commit envelope and any Welcomes to deliver
// out of band to the new members.
func (b *OutboundBuilder) BuildAddProposal(engine *GroupEngine, keyPackages []KeyPackage) (EncryptedEnvelope, []*Welcome, error) {
	commit, welcomes, err := engine.AddMembers(keyPackages)
	if err != nil {
		return EncryptedEnvelope{}, nil, err
	}
	envelope, err := wrapCommit(engine, commit)
	return envelope, welcomes, err
}

// BuildRemoveProposal commits the removal of leafIndices immediately.
func (b *OutboundBuilder) BuildRemoveProposal(engine *GroupEngine, leafIndices []uint32) (EncryptedEnvelope, error) {
	commit, err := engine.RemoveMembers(leafIndices)
	if err != nil {
		return EncryptedEnvelope{}, err
	}
	return wrapCommit(engine, commit)
}

func wrapCommit(engine *GroupEngine, commit *Commit) (EncryptedEnvelope, error) {
	payload, err := commit.ToBytes()
	if err != nil {
		return EncryptedEnvelope{}, err
	}
	secret := engine.currentSecretForTransport()
	senderKey, err := DeriveSenderKey(secret)
	if err != nil {
		return EncryptedEnvelope{}, err
	}
	sealedSender, err := SealSender(engine.ownIdentity, senderKey, commit.NewEpoch)
	if err != nil {
		return EncryptedEnvelope{}, err
	}
	return NewEnvelope(commit.GroupID, commit.NewEpoch, sealedSender, payload, MessageCommit), nil
}

// currentSecretForTransport exposes the post-commit epoch secret for
// sealed-sender derivation when wrapping a just-produced commit; the
// commit call already advanced engine state, so this is simply the
// current secret.
func (e *GroupEngine) currentSecretForTransport() []byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.currentSecretLocked()
}
