package models

// Node is a file or folder row. NameCT is an AEAD envelope under the
// node's current symmetric key, which the server never holds.
//
// For files, the ciphertext body lives either inline (Content) or in the
// configured blob store (BlobKey), never both. Folders carry a KeyringID
// instead of content.
type Node struct {
	ID      string
	NameCT  []byte
	Mtime   int64 // unix milliseconds
	Size    int64
	Content []byte
	BlobKey string

	// KeyringID is non-zero exactly for folders.
	KeyringID int64
}

// IsFolder reports whether the node owns a keyring.
func (n *Node) IsFolder() bool {
	return n.KeyringID != 0
}
