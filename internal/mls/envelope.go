package mls

import (
	"github.com/fxamacker/cbor/v2"

	"github.com/spacepanda/core/internal/errs"
)

// MessageType hints at how to route an EncryptedEnvelope without
// decrypting it.
type MessageType int

const (
	MessageApplication MessageType = iota
	MessageProposal
	MessageCommit
	MessageWelcome
)

// EncryptedEnvelope is the wire format wrapping an MLS protocol message
// with the metadata needed for routing: group, epoch, and a sealed
// (encrypted) sender identity. Grounded on messages/mod.rs's
// EncryptedEnvelope; ported from bincode to cbor per the DOMAIN STACK
// envelope-codec assignment.
type EncryptedEnvelope struct {
	GroupID      GroupId
	Epoch        uint64
	SealedSender SealedSender
	Payload      []byte
	MessageType  MessageType
}

// NewEnvelope constructs an envelope wrapping payload.
func NewEnvelope(groupID GroupId, epoch uint64, sealedSender SealedSender, payload []byte, messageType MessageType) EncryptedEnvelope {
	return EncryptedEnvelope{
		GroupID:      groupID,
		Epoch:        epoch,
		SealedSender: sealedSender,
		Payload:      payload,
		MessageType:  messageType,
	}
}

// ToBytes serializes the envelope for transport.
func (e EncryptedEnvelope) ToBytes() ([]byte, error) {
	data, err := cbor.Marshal(e)
	if err != nil {
		return nil, errs.Wrap(errs.Serialization, "encode mls envelope", err)
	}
	return data, nil
}

// EnvelopeFromBytes deserializes an envelope from bytes.
func EnvelopeFromBytes(data []byte) (EncryptedEnvelope, error) {
	var e EncryptedEnvelope
	if err := cbor.Unmarshal(data, &e); err != nil {
		return EncryptedEnvelope{}, errs.Wrap(errs.Serialization, "decode mls envelope", err)
	}
	return e, nil
}
