package mls

import "github.com/spacepanda/core/internal/errs"

// InboundKind tags the decoded payload of a processed inbound
// envelope by kind, the same way core_mls's MessageContent enum
// distinguishes Application/Proposal/Commit.
type InboundKind int

const (
	InboundApplication InboundKind = iota
	InboundCommit
)

// InboundResult is what processing one envelope yields.
type InboundResult struct {
	Kind      InboundKind
	Plaintext []byte
	Sender    []byte
	NewEpoch  uint64
}

// InboundHandler processes incoming envelopes against a live
// GroupEngine. Grounded on messages/inbound.rs's InboundHandler.
type InboundHandler struct{}

// NewInboundHandler returns a stateless inbound processor.
func NewInboundHandler() *InboundHandler { return &InboundHandler{} }

// VerifyEnvelopeMetadata checks that envelope targets expectedGroupID
// and falls within maxEpochDrift of currentEpoch, without touching any
// key material. Grounded on inbound.rs's verify_envelope_metadata.
func (h *InboundHandler) VerifyEnvelopeMetadata(envelope EncryptedEnvelope, expectedGroupID GroupId, maxEpochDrift, currentEpoch uint64) error {
	if envelope.GroupID != expectedGroupID {
		return errs.New(errs.InvalidInput, "mls: envelope group id mismatch")
	}
	var floor uint64
	if currentEpoch > maxEpochDrift {
		floor = currentEpoch - maxEpochDrift
	}
	if envelope.Epoch < floor {
		return errs.NewEpochMismatch(currentEpoch, envelope.Epoch)
	}
	if envelope.Epoch > currentEpoch+maxEpochDrift {
		return errs.NewEpochMismatch(currentEpoch, envelope.Epoch)
	}
	return nil
}

// ProcessEnvelope dispatches envelope to the right engine operation by
// its MessageType, applying commits and decrypting application
// messages, and returns the resulting content plus events already
// published to engine's bus.
func (h *InboundHandler) ProcessEnvelope(engine *GroupEngine, envelope EncryptedEnvelope) (InboundResult, error) {
	currentEpoch := engine.Epoch()
	if envelope.Epoch > currentEpoch+1 {
		return InboundResult{}, errs.NewEpochMismatch(currentEpoch, envelope.Epoch)
	}

	switch envelope.MessageType {
	case MessageApplication:
		processed, err := engine.OpenApplicationMessage(envelope)
		if err != nil {
			return InboundResult{}, err
		}
		return InboundResult{Kind: InboundApplication, Plaintext: processed.Plaintext, Sender: processed.SenderIdentity}, nil

	case MessageCommit:
		commit, err := CommitFromBytes(envelope.Payload)
		if err != nil {
			return InboundResult{}, err
		}
		if err := engine.ApplyCommit(commit); err != nil {
			return InboundResult{}, err
		}
		return InboundResult{Kind: InboundCommit, NewEpoch: commit.NewEpoch}, nil

	default:
		return InboundResult{}, errs.New(errs.InvalidInput, "mls: unsupported envelope message type for direct processing")
	}
}
