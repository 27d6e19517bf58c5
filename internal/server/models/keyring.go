package models

// KeyringKey is one wrapped-key row: the key of TargetID, wrapped either
// under the owning user's public key (root keyrings) or under the owning
// folder's symmetric key (folder keyrings). (KeyringID, TargetID) is the
// primary key, which is what makes inserts natural upserts.
type KeyringKey struct {
	KeyringID  int64
	TargetID   string
	WrappedKey []byte
}
