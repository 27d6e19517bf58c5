// Package keyring models the hierarchical key-wrapping structure of
// vaultfs and implements path resolution over it.
//
// Every node (file or folder) has one symmetric key. A folder's keyring
// holds one entry per direct child, each child key wrapped under the
// folder's own key. A user's root keyring holds one entry per top-level
// node they own or were granted, each key wrapped under that user's
// public key. Reachability of a key through this graph IS the access
// grant; there is no other path to plaintext.
//
// The graph is carried as a pointer-free tree of opaque ids and wrapped
// blobs (the Wire* types, which mirror what the server stores and what
// crosses the network). A wrapped key is only useful together with the
// key that wraps it, so resolution always walks the tree from a starting
// point the caller already holds.
package keyring

import (
	"time"

	"github.com/google/uuid"
)

// WireKeyring is a keyring as stored and transported: entries with
// wrapped keys, plus node metadata so the client can build a view
// without extra round trips. File bodies are never included.
type WireKeyring struct {
	ID      int64       `json:"id"`
	Entries []WireEntry `json:"entries"`
}

// WireEntry is one wrapped-key row of a keyring.
//
// In a root keyring WrappedKey is an RSA-OAEP blob under the owning
// user's public key; in a folder keyring it is an AEAD envelope under
// the folder's symmetric key.
type WireEntry struct {
	TargetID   uuid.UUID `json:"target_id"`
	WrappedKey []byte    `json:"wrapped_key"`
	Node       *WireNode `json:"node,omitempty"`
}

// WireNode is node metadata as the server knows it: encrypted name,
// plaintext mtime/size (allowed to leak), and, for folders, the
// folder's own keyring, nested in full.
type WireNode struct {
	ID      uuid.UUID    `json:"id"`
	NameCT  []byte       `json:"name_ct"`
	Mtime   int64        `json:"mtime"`
	Size    int64        `json:"size"`
	Folder  bool         `json:"folder"`
	Keyring *WireKeyring `json:"keyring,omitempty"`
}

// Node is a decrypted view of a WireNode: plaintext name, bare symmetric
// key, and decrypted children for folders. Node values never leave the
// client process.
type Node struct {
	ID        uuid.UUID
	Name      string
	Key       []byte
	Mtime     time.Time
	Size      int64
	Folder    bool
	KeyringID int64 // the folder's keyring id; zero for files
	Children  []*Node
}

// Tree is a user's fully decrypted keyring graph, rooted at their root
// keyring.
type Tree struct {
	KeyringID int64
	Roots     []*Node
}

// Find returns the node with the given id anywhere in the tree, or nil.
func (t *Tree) Find(id uuid.UUID) *Node {
	for _, root := range t.Roots {
		if n := root.find(id); n != nil {
			return n
		}
	}
	return nil
}

// FindChild returns the direct child of n with the given plaintext name,
// or nil. Used by the CLI to turn "ls"-level names into ids.
func (n *Node) FindChild(name string) *Node {
	for _, c := range n.Children {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// FindRoot returns the top-level node with the given plaintext name, or nil.
func (t *Tree) FindRoot(name string) *Node {
	for _, root := range t.Roots {
		if root.Name == name {
			return root
		}
	}
	return nil
}

// PathTo returns the id path from a root of the tree down to the node
// with the given id, or nil if the id is not present. The returned slice
// is suitable for Resolve.
func (t *Tree) PathTo(id uuid.UUID) []uuid.UUID {
	for _, root := range t.Roots {
		if p := root.pathTo(id, nil); p != nil {
			return p
		}
	}
	return nil
}

// Descendants appends the ids of n and every node below it to dst,
// depth-first. This is the revocation collection order.
func (n *Node) Descendants(dst []uuid.UUID) []uuid.UUID {
	dst = append(dst, n.ID)
	for _, c := range n.Children {
		dst = c.Descendants(dst)
	}
	return dst
}

func (n *Node) find(id uuid.UUID) *Node {
	if n.ID == id {
		return n
	}
	for _, c := range n.Children {
		if found := c.find(id); found != nil {
			return found
		}
	}
	return nil
}

func (n *Node) pathTo(id uuid.UUID, prefix []uuid.UUID) []uuid.UUID {
	path := append(append([]uuid.UUID{}, prefix...), n.ID)
	if n.ID == id {
		return path
	}
	for _, c := range n.Children {
		if p := c.pathTo(id, path); p != nil {
			return p
		}
	}
	return nil
}
