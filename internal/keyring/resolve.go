package keyring

import (
	"crypto/rsa"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/vaultfs/vaultfs/internal/common"
	"github.com/vaultfs/vaultfs/internal/cryptox"
	"github.com/vaultfs/vaultfs/internal/keywrap"
)

// ResolveRoot walks path through ring, starting from the user's private
// key. path is the sequence of node ids from a root-keyring mount point
// down to the target; the returned key is the target's bare symmetric key.
//
// Resolution is defined hop by hop: the first entry is unwrapped with the
// private key, every later entry is an AEAD envelope opened with the key
// obtained one hop earlier. A missing entry or a failed unwrap at any hop
// yields common.ErrUnreachable: holding a node's wrapped key without the
// chain that leads to it is worthless.
func ResolveRoot(priv *rsa.PrivateKey, ring *WireKeyring, path []uuid.UUID) ([]byte, error) {
	if len(path) == 0 {
		return nil, common.ErrUnreachable
	}

	entry := findEntry(ring, path[0])
	if entry == nil {
		return nil, common.ErrUnreachable
	}

	key, err := keywrap.Unwrap(priv, entry.WrappedKey)
	if err != nil {
		return nil, common.ErrUnreachable
	}

	return resolveFrom(key, entry, path[1:])
}

// Resolve walks path through ring starting from a folder's symmetric key
// the caller already holds (ring must be that folder's keyring).
func Resolve(startKey []byte, ring *WireKeyring, path []uuid.UUID) ([]byte, error) {
	if len(path) == 0 {
		return nil, common.ErrUnreachable
	}

	entry := findEntry(ring, path[0])
	if entry == nil {
		return nil, common.ErrUnreachable
	}

	key, err := cryptox.Open(startKey, entry.WrappedKey)
	if err != nil {
		return nil, common.ErrUnreachable
	}

	return resolveFrom(key, entry, path[1:])
}

func resolveFrom(key []byte, entry *WireEntry, rest []uuid.UUID) ([]byte, error) {
	for _, id := range rest {
		if entry.Node == nil || entry.Node.Keyring == nil {
			// Files own no keyring; nothing below them is reachable.
			return nil, common.ErrUnreachable
		}
		next := findEntry(entry.Node.Keyring, id)
		if next == nil {
			return nil, common.ErrUnreachable
		}
		childKey, err := cryptox.Open(key, next.WrappedKey)
		if err != nil {
			return nil, common.ErrUnreachable
		}
		key = childKey
		entry = next
	}
	return key, nil
}

// DecryptTree unwraps an entire wire keyring into a plaintext Tree using
// the user's private key. With a large tree this dominates login time.
//
// The walk rejects any wire graph in which a node id repeats on the
// current root-to-leaf path with common.ErrCycle: the keyring graph must
// be a forest, and a server that hands out anything else is misbehaving.
func DecryptTree(priv *rsa.PrivateKey, ring *WireKeyring) (*Tree, error) {
	tree := &Tree{KeyringID: ring.ID}

	for _, entry := range ring.Entries {
		key, err := keywrap.Unwrap(priv, entry.WrappedKey)
		if err != nil {
			return nil, fmt.Errorf("root entry %s: %w", entry.TargetID, err)
		}
		node, err := decryptNode(&entry, key, map[uuid.UUID]bool{})
		if err != nil {
			return nil, err
		}
		tree.Roots = append(tree.Roots, node)
	}

	return tree, nil
}

func decryptNode(entry *WireEntry, key []byte, onPath map[uuid.UUID]bool) (*Node, error) {
	if entry.Node == nil {
		return nil, fmt.Errorf("entry %s: %w", entry.TargetID, common.ErrUnreachable)
	}
	if onPath[entry.Node.ID] {
		return nil, common.ErrCycle
	}

	name, err := cryptox.Open(key, entry.Node.NameCT)
	if err != nil {
		return nil, fmt.Errorf("node %s name: %w", entry.Node.ID, err)
	}

	node := &Node{
		ID:     entry.Node.ID,
		Name:   string(name),
		Key:    key,
		Mtime:  time.UnixMilli(entry.Node.Mtime),
		Size:   entry.Node.Size,
		Folder: entry.Node.Folder,
	}

	if entry.Node.Folder && entry.Node.Keyring != nil {
		node.KeyringID = entry.Node.Keyring.ID
		onPath[entry.Node.ID] = true
		for i := range entry.Node.Keyring.Entries {
			childEntry := &entry.Node.Keyring.Entries[i]
			childKey, err := cryptox.Open(key, childEntry.WrappedKey)
			if err != nil {
				return nil, fmt.Errorf("entry %s under %s: %w", childEntry.TargetID, node.ID, err)
			}
			child, err := decryptNode(childEntry, childKey, onPath)
			if err != nil {
				return nil, err
			}
			node.Children = append(node.Children, child)
		}
		delete(onPath, entry.Node.ID)
	}

	return node, nil
}

func findEntry(ring *WireKeyring, id uuid.UUID) *WireEntry {
	if ring == nil {
		return nil
	}
	for i := range ring.Entries {
		if ring.Entries[i].TargetID == id {
			return &ring.Entries[i]
		}
	}
	return nil
}
