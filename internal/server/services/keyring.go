package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/vaultfs/vaultfs/internal/common"
	"github.com/vaultfs/vaultfs/internal/dbx"
	"github.com/vaultfs/vaultfs/internal/keyring"
	"github.com/vaultfs/vaultfs/internal/server/repositories/repomanager"
)

// KeyringService assembles a user's full wrapped keyring tree: root
// entries, per-folder keyrings and node metadata, with no file bodies.
// The result is opaque to the server; only the caller's private key can
// start unwrapping it.
type KeyringService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
}

func NewKeyringService(db *sql.DB, m repomanager.RepositoryManager) *KeyringService {
	return &KeyringService{db: db, repomanager: m}
}

// GetTree returns the wrapped keyring graph rooted at the user's root
// keyring. A keyring that reaches one of its own ancestors means the
// stored graph is not a forest; that is a server-side corruption and
// surfaces as ErrCycle rather than an endless walk.
func (s *KeyringService) GetTree(ctx context.Context, userID string) (*keyring.WireKeyring, error) {
	user, err := s.repomanager.Users(s.db).GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return nil, common.ErrUnauthorized
		}
		return nil, fmt.Errorf("error loading user: %w", err)
	}
	return s.buildRing(ctx, s.db, user.KeyringID, map[int64]bool{})
}

func (s *KeyringService) buildRing(ctx context.Context, db dbx.DBTX, ringID int64, onPath map[int64]bool) (*keyring.WireKeyring, error) {
	if onPath[ringID] {
		return nil, common.ErrCycle
	}
	onPath[ringID] = true
	defer delete(onPath, ringID)

	rows, err := s.repomanager.Keyrings(db).List(ctx, ringID)
	if err != nil {
		return nil, fmt.Errorf("error listing keyring %d: %w", ringID, err)
	}

	ring := &keyring.WireKeyring{ID: ringID}
	for _, row := range rows {
		entry := keyring.WireEntry{WrappedKey: row.WrappedKey}
		entry.TargetID, err = uuid.Parse(row.TargetID)
		if err != nil {
			return nil, fmt.Errorf("bad target id %q: %w", row.TargetID, err)
		}

		node, err := s.repomanager.Nodes(db).GetMeta(ctx, row.TargetID)
		if err != nil {
			// an entry that resolves no node is exactly the dangling-key
			// state deletion is supposed to prevent
			return nil, fmt.Errorf("dangling keyring entry %s: %w", row.TargetID, err)
		}

		wireNode := &keyring.WireNode{
			ID:     entry.TargetID,
			NameCT: node.NameCT,
			Mtime:  node.Mtime,
			Size:   node.Size,
			Folder: node.IsFolder(),
		}
		if node.IsFolder() {
			wireNode.Keyring, err = s.buildRing(ctx, db, node.KeyringID, onPath)
			if err != nil {
				return nil, err
			}
		}
		entry.Node = wireNode
		ring.Entries = append(ring.Entries, entry)
	}
	return ring, nil
}
