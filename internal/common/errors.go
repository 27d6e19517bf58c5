// Package common defines shared constants and sentinel errors used across
// client and server layers of vaultfs. Callers should use errors.Is to
// match these values.
package common

import "errors"

var (
	// Cryptographic failures. All of these fail closed: no partial
	// plaintext or key material is ever returned alongside them.

	// ErrAuthentication is an AEAD tag mismatch: tampered ciphertext or
	// a wrong key. Must stay indistinguishable from ErrUnreachable at
	// the protocol boundary.
	ErrAuthentication = errors.New("authentication failure")

	// ErrUnwrap is a malformed or wrong-key asymmetric unwrap.
	ErrUnwrap = errors.New("unwrap failure")

	// ErrBootstrap means the private-key envelope cannot be opened.
	// Wrong password and corrupted envelope are deliberately not
	// distinguished.
	ErrBootstrap = errors.New("bootstrap failure")

	// Keyring failures.

	// ErrUnreachable means no valid keyring chain leads to the node.
	// Insufficient access, not a system fault.
	ErrUnreachable = errors.New("node unreachable")

	// ErrCycle is returned when a keyring insert would make the keyring
	// graph a non-forest.
	ErrCycle = errors.New("keyring cycle rejected")

	// ErrAccessDenied means the caller's rights record forbids a
	// privileged operation (e.g. owner-only revoke).
	ErrAccessDenied = errors.New("access denied")

	// Repository-level errors.
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("already exists")

	// Service-level errors (generic/internal flow control).
	ErrInternal     = errors.New("internal error")
	ErrUnauthorized = errors.New("unauthorized")

	// Token lifecycle errors.
	ErrInvalidToken        = errors.New("invalid token")
	ErrTokenExpired        = errors.New("token expired")
	ErrRefreshTokenExpired = errors.New("refresh token expired")
)
