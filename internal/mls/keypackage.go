package mls

import (
	"crypto/ed25519"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/spacepanda/core/internal/errs"
)

// keyPackageTTL is how long a published key package remains eligible for
// consumption before it is swept by Store.CleanupExpiredKeyPackages.
const keyPackageTTL = 7 * 24 * time.Hour

// KeyPackage is a member's published join material: an HPKE public key
// new commits can encapsulate path secrets to, bound to an identity and
// signing key via a self-signature. Single-use and time-boxed: a
// persistence-layer store consumes one per join, or discards it once
// ExpiresAt passes (see persistence.go).
type KeyPackage struct {
	Identity         []byte
	HPKEPublicKey    []byte
	SigningPublicKey ed25519.PublicKey
	CreatedAt        time.Time
	ExpiresAt        time.Time
	Signature        []byte
}

func keyPackageSignedBytes(identity, hpkePub []byte, signingPub ed25519.PublicKey) []byte {
	buf := make([]byte, 0, len(identity)+len(hpkePub)+len(signingPub))
	buf = append(buf, identity...)
	buf = append(buf, hpkePub...)
	buf = append(buf, signingPub...)
	return buf
}

// GenerateKeyPackage creates a fresh HPKE keypair for identity and
// self-signs it with signingKey, returning the key package and the
// HPKE private key the caller must retain to accept Welcome messages.
func GenerateKeyPackage(identity []byte, signingKey *SigningKey) (KeyPackage, []byte, error) {
	hpkePub, hpkePriv, err := GenerateHPKEKeyPair()
	if err != nil {
		return KeyPackage{}, nil, err
	}
	signingPub := signingKey.VerifyingKey()
	sig := signingKey.Sign(keyPackageSignedBytes(identity, hpkePub, signingPub))

	now := time.Now()
	kp := KeyPackage{
		Identity:         identity,
		HPKEPublicKey:    hpkePub,
		SigningPublicKey: signingPub,
		CreatedAt:        now,
		ExpiresAt:        now.Add(keyPackageTTL),
		Signature:        sig,
	}
	return kp, hpkePriv, nil
}

// Verify checks the key package's self-signature.
func (kp KeyPackage) Verify() bool {
	return VerifySignature(kp.SigningPublicKey, keyPackageSignedBytes(kp.Identity, kp.HPKEPublicKey, kp.SigningPublicKey), kp.Signature)
}

// ToBytes serializes the key package for transport or storage.
func (kp KeyPackage) ToBytes() ([]byte, error) {
	data, err := cbor.Marshal(kp)
	if err != nil {
		return nil, errs.Wrap(errs.Serialization, "encode key package", err)
	}
	return data, nil
}

// KeyPackageFromBytes deserializes a key package and verifies its
// self-signature, rejecting malformed or tampered input.
func KeyPackageFromBytes(data []byte) (KeyPackage, error) {
	var kp KeyPackage
	if err := cbor.Unmarshal(data, &kp); err != nil {
		return KeyPackage{}, errs.Wrap(errs.Serialization, "decode key package", err)
	}
	if !kp.Verify() {
		return KeyPackage{}, errs.New(errs.AuthenticationFailed, "key package signature invalid")
	}
	return kp, nil
}
