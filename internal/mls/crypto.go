package mls

import (
	"crypto/ed25519"
	"crypto/rand"

	"github.com/cloudflare/circl/hpke"

	"github.com/spacepanda/core/internal/errs"
)

// hpkeSuite implements the ciphersuite's key-encapsulation component:
// MLS_128_DHKEMX25519_AES128GCM_SHA256_Ed25519 pairs X25519-HPKE for
// key agreement with Ed25519 for signing, matching crypto.rs's module
// doc comment. circl/hpke is the DOMAIN STACK's HPKE library; the
// suite is fixed rather than negotiated since the group's ciphersuite
// never changes after creation.
var hpkeSuite = hpke.NewSuite(hpke.KEM_X25519_HKDF_SHA256, hpke.KDF_HKDF_SHA256, hpke.AEAD_AES128GCM)

var hpkeScheme = hpke.KEM_X25519_HKDF_SHA256.Scheme()

// SigningKey is an Ed25519 keypair used to sign commits and key
// packages. Grounded on crypto.rs's MlsSigningKey.
type SigningKey struct {
	public  ed25519.PublicKey
	private ed25519.PrivateKey
}

// GenerateSigningKey creates a new random Ed25519 signing key.
func GenerateSigningKey() (*SigningKey, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, errs.Wrap(errs.Crypto, "generate mls signing key", err)
	}
	return &SigningKey{public: pub, private: priv}, nil
}

// SigningKeyFromSeed reconstructs a signing key from a 32-byte seed.
func SigningKeyFromSeed(seed [32]byte) *SigningKey {
	priv := ed25519.NewKeyFromSeed(seed[:])
	return &SigningKey{public: priv.Public().(ed25519.PublicKey), private: priv}
}

// VerifyingKey returns the public half of the signing key.
func (k *SigningKey) VerifyingKey() ed25519.PublicKey { return k.public }

// Sign signs data, returning a 64-byte Ed25519 signature.
func (k *SigningKey) Sign(data []byte) []byte { return ed25519.Sign(k.private, data) }

// VerifySignature checks sig against data under pub.
func VerifySignature(pub ed25519.PublicKey, data, sig []byte) bool {
	if len(sig) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(pub, data, sig)
}

// GenerateHPKEKeyPair creates a new X25519 HPKE keypair, returning the
// public and private keys in their wire-encoded (raw) form.
func GenerateHPKEKeyPair() (pub, priv []byte, err error) {
	pk, sk, err := hpkeScheme.GenerateKeyPair()
	if err != nil {
		return nil, nil, errs.Wrap(errs.Crypto, "generate hpke key pair", err)
	}
	pubBytes, err := pk.MarshalBinary()
	if err != nil {
		return nil, nil, errs.Wrap(errs.Crypto, "marshal hpke public key", err)
	}
	privBytes, err := sk.MarshalBinary()
	if err != nil {
		return nil, nil, errs.Wrap(errs.Crypto, "marshal hpke private key", err)
	}
	return pubBytes, privBytes, nil
}

// SealToHPKEPublicKey HPKE-encapsulates secret to pubBytes, used both
// for Welcome messages (sealing the joiner's copy of the group secret)
// and for per-member path-secret delivery on commit.
func SealToHPKEPublicKey(pubBytes, info, secret, aad []byte) (enc, ciphertext []byte, err error) {
	pk, err := hpkeScheme.UnmarshalBinaryPublicKey(pubBytes)
	if err != nil {
		return nil, nil, errs.Wrap(errs.Crypto, "unmarshal hpke public key", err)
	}
	sender, err := hpkeSuite.NewSender(pk, info)
	if err != nil {
		return nil, nil, errs.Wrap(errs.Crypto, "create hpke sender", err)
	}
	enc, sealer, err := sender.Setup(rand.Reader)
	if err != nil {
		return nil, nil, errs.Wrap(errs.Crypto, "setup hpke sender", err)
	}
	ciphertext, err = sealer.Seal(secret, aad)
	if err != nil {
		return nil, nil, errs.Wrap(errs.Crypto, "hpke seal", err)
	}
	return enc, ciphertext, nil
}

// OpenFromHPKEPrivateKey reverses SealToHPKEPublicKey.
func OpenFromHPKEPrivateKey(privBytes, info, enc, ciphertext, aad []byte) ([]byte, error) {
	sk, err := hpkeScheme.UnmarshalBinaryPrivateKey(privBytes)
	if err != nil {
		return nil, errs.Wrap(errs.Crypto, "unmarshal hpke private key", err)
	}
	receiver, err := hpkeSuite.NewReceiver(sk, info)
	if err != nil {
		return nil, errs.Wrap(errs.Crypto, "create hpke receiver", err)
	}
	opener, err := receiver.Setup(enc)
	if err != nil {
		return nil, errs.Wrap(errs.Crypto, "setup hpke receiver", err)
	}
	secret, err := opener.Open(ciphertext, aad)
	if err != nil {
		return nil, errs.Wrap(errs.Crypto, "hpke open", err)
	}
	return secret, nil
}
