// Package identity implements long-lived master signing keys,
// per-channel pseudonyms derived via HKDF, and device keypairs with
// secret-zeroization on disposal.
//
// Grounded on _examples/original_source/spacepanda-core/src/core_identity
// (master_key.rs, keypair.rs, bundles.rs): Ed25519 signing keys, HKDF-SHA256
// pseudonym derivation with a fixed domain-separation salt, and an explicit
// zeroization step in place of Rust's Drop (Go has no destructors).
package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"io"

	"golang.org/x/crypto/hkdf"

	"github.com/spacepanda/core/internal/errs"
)

const pseudonymSalt = "spacepanda-channel-pseudonym-v1"

// MasterKey is the user's long-term identity anchor. It never rotates.
type MasterKey struct {
	public  ed25519.PublicKey
	private ed25519.PrivateKey
}

// GenerateMasterKey creates a new random master key.
func GenerateMasterKey() (*MasterKey, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, errs.Wrap(errs.Crypto, "generate master key", err)
	}
	return &MasterKey{public: pub, private: priv}, nil
}

// PublicKey returns the 32-byte Ed25519 public key.
func (m *MasterKey) PublicKey() ed25519.PublicKey {
	return m.public
}

// Sign signs msg with the master key.
func (m *MasterKey) Sign(msg []byte) []byte {
	return ed25519.Sign(m.private, msg)
}

// Verify checks sig against msg using this master key's public key.
func (m *MasterKey) Verify(msg, sig []byte) bool {
	return ed25519.Verify(m.public, msg, sig)
}

// VerifyWithPublicKey checks sig against msg using an arbitrary public key.
func VerifyWithPublicKey(pub ed25519.PublicKey, msg, sig []byte) bool {
	return ed25519.Verify(pub, msg, sig)
}

// DerivePseudonym derives a 32-byte, per-channel pseudonym via
// HKDF-SHA256(salt=pseudonymSalt, ikm=private key seed, info=channelID).
// Deterministic per channel, unlinkable across channels, and does not
// reveal the master key.
func (m *MasterKey) DerivePseudonym(channelID string) ([]byte, error) {
	seed := m.private.Seed()
	reader := hkdf.New(sha256.New, seed, []byte(pseudonymSalt), []byte(channelID))
	out := make([]byte, 32)
	if _, err := io.ReadFull(reader, out); err != nil {
		return nil, errs.Wrap(errs.Crypto, "derive pseudonym", err)
	}
	return out, nil
}

// Zero overwrites the private key material in place. Go has no
// destructors (Rust's Drop+zeroize); callers must call Zero explicitly
// once the key is no longer needed.
func (m *MasterKey) Zero() {
	for i := range m.private {
		m.private[i] = 0
	}
}

// DeviceKey is a per-device keypair, distinct from the master key, used
// to authorize a specific device without exposing the master secret.
type DeviceKey struct {
	DeviceID string
	public   ed25519.PublicKey
	private  ed25519.PrivateKey
}

// GenerateDeviceKey creates a new device keypair and a signature from
// the master key authorizing it (device authorization binding).
func GenerateDeviceKey(deviceID string, master *MasterKey) (*DeviceKey, []byte, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, errs.Wrap(errs.Crypto, "generate device key", err)
	}
	authorization := master.Sign(append([]byte(deviceID+":"), pub...))
	return &DeviceKey{DeviceID: deviceID, public: pub, private: priv}, authorization, nil
}

// PublicKey returns the device's public key.
func (d *DeviceKey) PublicKey() ed25519.PublicKey { return d.public }

// Sign signs msg with the device key.
func (d *DeviceKey) Sign(msg []byte) []byte { return ed25519.Sign(d.private, msg) }

// VerifyDeviceAuthorization checks that master authorized device's public key.
func VerifyDeviceAuthorization(master ed25519.PublicKey, deviceID string, devicePub ed25519.PublicKey, authorization []byte) bool {
	return ed25519.Verify(master, append([]byte(deviceID+":"), devicePub...), authorization)
}

// Zero overwrites the device private key material in place.
func (d *DeviceKey) Zero() {
	for i := range d.private {
		d.private[i] = 0
	}
}
