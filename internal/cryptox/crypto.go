// Package cryptox implements the symmetric half of the vaultfs engine:
// the AEAD envelope used for file content, display names and keyring
// entries, and the slow key derivation that turns a password-derived
// export secret into the master key.
//
// Envelope layout: nonce || ciphertext || tag, a single opaque blob.
// The nonce is generated inside Seal and never accepted from callers, so
// nonce reuse under a key cannot be caused by API misuse. With XChaCha20's
// 24-byte nonce the collision probability over any realistic number of
// seals per key is negligible.
package cryptox

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"

	"github.com/vaultfs/vaultfs/internal/common"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

// KeySize is the size of every symmetric key in the system.
const KeySize = chacha20poly1305.KeySize

// NewKey generates a fresh random symmetric key.
func NewKey() []byte {
	return common.GenerateRandByteArray(KeySize)
}

// Seal encrypts plaintext under key and returns a self-describing
// envelope (nonce prepended to the AEAD output). A fresh random nonce is
// generated on every call.
func Seal(key, plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("aead init: %w", err)
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("nonce: %w", err)
	}

	// Seal appends to nonce, producing nonce||ct||tag in one allocation.
	return aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Open authenticates and decrypts an envelope produced by Seal.
//
// Every failure (wrong key, truncation, bit flips anywhere in the
// envelope) surfaces as common.ErrAuthentication. Callers must not be
// able to tell the failure modes apart. The tag comparison inside the
// AEAD primitive is constant-time.
func Open(key, envelope []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("aead init: %w", err)
	}

	if len(envelope) < aead.NonceSize() {
		return nil, common.ErrAuthentication
	}

	nonce, ct := envelope[:aead.NonceSize()], envelope[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, ct, nil)
	if err != nil {
		return nil, common.ErrAuthentication
	}
	return plaintext, nil
}

// DeriveMasterKey derives the master key from a password-derived export
// secret and a per-user salt using Argon2id. The master key is used for
// exactly one thing: sealing/opening the user's private-key envelope.
func DeriveMasterKey(exportSecret []byte, salt []byte) []byte {
	return argon2.IDKey(exportSecret, salt, 1, 64*1024, 4, KeySize)
}

// MakeVerifier hashes the master key into the value the server stores and
// compares at login. The server never sees the master key itself.
func MakeVerifier(masterKey []byte) []byte {
	hash := sha256.Sum256(masterKey)
	return hash[:]
}
