package mls

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"github.com/spacepanda/core/internal/errs"
)

const sealedSenderInfo = "spacepanda-mls-sealed-sender-v1"

// SealedSender is an encrypted sender identity: only group members
// holding the epoch's sender key can recover who sent a message.
// Grounded on messages/mod.rs's EncryptedEnvelope.sealed_sender field;
// sealed_sender.rs itself was referenced but not present in the
// retrieval pack, so the construction here (HKDF-derived per-epoch key,
// ChaCha20-Poly1305 AEAD with the epoch as associated data) follows the
// DOMAIN STACK table's assignment of hkdf+chacha20poly1305 to this
// exact concern.
type SealedSender struct {
	Nonce      [chacha20poly1305.NonceSize]byte
	Ciphertext []byte
}

// DeriveSenderKey derives a 32-byte per-group sealed-sender key from
// the group secret via HKDF-SHA256.
func DeriveSenderKey(groupSecret []byte) ([]byte, error) {
	reader := hkdf.New(sha256.New, groupSecret, nil, []byte(sealedSenderInfo))
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, errs.Wrap(errs.Crypto, "derive sealed sender key", err)
	}
	return key, nil
}

// SealSender encrypts identity under key, binding the ciphertext to
// epoch so a sealed sender from one epoch cannot be replayed as if it
// were from another.
func SealSender(identity, key []byte, epoch uint64) (SealedSender, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return SealedSender{}, errs.Wrap(errs.Crypto, "build sealed sender aead", err)
	}
	var s SealedSender
	if _, err := rand.Read(s.Nonce[:]); err != nil {
		return SealedSender{}, errs.Wrap(errs.Crypto, "generate sealed sender nonce", err)
	}
	s.Ciphertext = aead.Seal(nil, s.Nonce[:], identity, epochAAD(epoch))
	return s, nil
}

// OpenSender decrypts a SealedSender under key, verifying it was
// sealed for epoch.
func OpenSender(s SealedSender, key []byte, epoch uint64) ([]byte, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, errs.Wrap(errs.Crypto, "build sealed sender aead", err)
	}
	identity, err := aead.Open(nil, s.Nonce[:], s.Ciphertext, epochAAD(epoch))
	if err != nil {
		return nil, errs.Wrap(errs.Crypto, "open sealed sender", err)
	}
	return identity, nil
}

func epochAAD(epoch uint64) []byte {
	aad := make([]byte, 8)
	binary.BigEndian.PutUint64(aad, epoch)
	return aad
}
