// Package models defines server-side data models persisted in the database.
//
// The server is honest-but-curious by assumption: every name, file body
// and key in these models is an opaque ciphertext or wrapped blob. The
// only plaintext the server holds about the tree is its topology, mtimes
// and sizes, which the design explicitly allows to leak.
package models

import "time"

// User is an account row. Salt and Verifier belong to the login layer;
// PublicKey and EncPrivateKey belong to the keyring engine. EncPrivateKey
// is the user's RSA private key sealed under their master key; the
// server stores it but can never open it.
type User struct {
	ID            string
	UserName      string
	Salt          []byte
	Verifier      []byte
	PublicKey     []byte
	EncPrivateKey []byte
	KeyringID     int64
	CreatedAt     time.Time
}
