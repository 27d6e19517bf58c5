// Package keywrap implements the asymmetric half of the vaultfs engine:
// wrapping a symmetric key under a user's public key so that only the
// holder of the matching private key can recover it. Used once per
// share/revoke event and once at login to unwrap the user's root entries.
package keywrap

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"fmt"

	"github.com/vaultfs/vaultfs/internal/common"
)

// Bits is the RSA modulus size for all user keypairs.
const Bits = 3072

// GenerateKeyPair creates a fresh RSA keypair for a new user.
func GenerateKeyPair() (*rsa.PrivateKey, error) {
	key, err := rsa.GenerateKey(rand.Reader, Bits)
	if err != nil {
		return nil, fmt.Errorf("rsa keygen: %w", err)
	}
	return key, nil
}

// Wrap encrypts a symmetric key under publicKey using RSA-OAEP-SHA256.
func Wrap(publicKey *rsa.PublicKey, symmetricKey []byte) ([]byte, error) {
	wrapped, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, publicKey, symmetricKey, nil)
	if err != nil {
		return nil, fmt.Errorf("wrap: %w", err)
	}
	return wrapped, nil
}

// Unwrap recovers a symmetric key wrapped with Wrap.
//
// Any structurally invalid or wrong-key blob yields common.ErrUnwrap and
// nothing else; a partial key is never returned.
func Unwrap(privateKey *rsa.PrivateKey, wrapped []byte) ([]byte, error) {
	key, err := rsa.DecryptOAEP(sha256.New(), rand.Reader, privateKey, wrapped, nil)
	if err != nil {
		return nil, common.ErrUnwrap
	}
	return key, nil
}

// MarshalPrivateKey encodes a private key as PKCS#1 DER. This is the
// plaintext that gets sealed under the master key and stored server-side.
func MarshalPrivateKey(key *rsa.PrivateKey) []byte {
	return x509.MarshalPKCS1PrivateKey(key)
}

// ParsePrivateKey decodes PKCS#1 DER produced by MarshalPrivateKey.
func ParsePrivateKey(der []byte) (*rsa.PrivateKey, error) {
	key, err := x509.ParsePKCS1PrivateKey(der)
	if err != nil {
		return nil, common.ErrUnwrap
	}
	return key, nil
}

// MarshalPublicKey encodes a public key as PKIX DER. Stored server-side
// in the clear; anyone may wrap keys for this user.
func MarshalPublicKey(key *rsa.PublicKey) ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(key)
	if err != nil {
		return nil, fmt.Errorf("marshal public key: %w", err)
	}
	return der, nil
}

// ParsePublicKey decodes PKIX DER produced by MarshalPublicKey.
func ParsePublicKey(der []byte) (*rsa.PublicKey, error) {
	pub, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, common.ErrUnwrap
	}
	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, common.ErrUnwrap
	}
	return rsaPub, nil
}
