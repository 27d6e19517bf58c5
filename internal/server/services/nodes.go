package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/vaultfs/vaultfs/internal/common"
	"github.com/vaultfs/vaultfs/internal/dbx"
	"github.com/vaultfs/vaultfs/internal/logging"
	"github.com/vaultfs/vaultfs/internal/server/blobstore"
	"github.com/vaultfs/vaultfs/internal/server/models"
	"github.com/vaultfs/vaultfs/internal/server/repositories/repomanager"
)

// NodeService stores and serves sealed nodes. Every name and file body
// that passes through here is ciphertext; the only plaintext columns are
// mtime and size, which are allowed to leak.
//
// Blob placement: with a nil blob store file bodies live inline in the
// nodes table; otherwise they go to the store and the row carries only
// the storage key. Never both.
type NodeService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	blobs       blobstore.Store
	logger      logging.Logger
}

func NewNodeService(db *sql.DB, m repomanager.RepositoryManager, blobs blobstore.Store, logger logging.Logger) *NodeService {
	return &NodeService{db: db, repomanager: m, blobs: blobs, logger: logger}
}

// CreateFolder creates a folder with its own empty keyring, inserts the
// wrapped key into the parent keyring (the caller's root keyring when
// parentID is empty) and records the caller as owner.
func (s *NodeService) CreateFolder(ctx context.Context, userID, parentID string, nameCT, wrappedKey []byte) (string, error) {
	user, err := s.repomanager.Users(s.db).GetByID(ctx, userID)
	if err != nil {
		return "", common.ErrUnauthorized
	}

	targetRing, err := s.mountRing(ctx, user, parentID, models.RoleWrite)
	if err != nil {
		return "", err
	}

	nodeID := uuid.NewString()
	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		ringID, err := s.repomanager.Keyrings(tx).CreateRing(ctx)
		if err != nil {
			return fmt.Errorf("error creating folder keyring: %w", err)
		}
		node := &models.Node{
			ID:        nodeID,
			NameCT:    nameCT,
			Mtime:     time.Now().UnixMilli(),
			KeyringID: ringID,
		}
		if err := s.repomanager.Nodes(tx).Create(ctx, node); err != nil {
			return fmt.Errorf("error creating folder node: %w", err)
		}
		if err := s.repomanager.Keyrings(tx).Upsert(ctx, &models.KeyringKey{
			KeyringID: targetRing, TargetID: nodeID, WrappedKey: wrappedKey,
		}); err != nil {
			return fmt.Errorf("error inserting folder key: %w", err)
		}
		if err := s.repomanager.Rights(tx).Grant(ctx, &models.Right{
			UserName: user.UserName, NodeID: nodeID, Role: models.RoleOwner,
		}); err != nil {
			return fmt.Errorf("error granting owner right: %w", err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return nodeID, nil
}

// UploadFile stores a sealed file body plus its sealed name, inserts the
// wrapped key into the parent keyring and records the caller as owner.
// Size and mtime are recorded server-side.
func (s *NodeService) UploadFile(ctx context.Context, userID, parentID string, nameCT, wrappedKey, content []byte) (string, error) {
	user, err := s.repomanager.Users(s.db).GetByID(ctx, userID)
	if err != nil {
		return "", common.ErrUnauthorized
	}

	targetRing, err := s.mountRing(ctx, user, parentID, models.RoleWrite)
	if err != nil {
		return "", err
	}

	node := &models.Node{
		ID:     uuid.NewString(),
		NameCT: nameCT,
		Mtime:  time.Now().UnixMilli(),
		Size:   int64(len(content)),
	}

	if s.blobs != nil {
		node.BlobKey = blobstore.RandomStorageKey()
		if err := s.blobs.Put(ctx, node.BlobKey, content); err != nil {
			return "", fmt.Errorf("error storing blob: %w", err)
		}
	} else {
		node.Content = content
	}

	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if err := s.repomanager.Nodes(tx).Create(ctx, node); err != nil {
			return fmt.Errorf("error creating file node: %w", err)
		}
		if err := s.repomanager.Keyrings(tx).Upsert(ctx, &models.KeyringKey{
			KeyringID: targetRing, TargetID: node.ID, WrappedKey: wrappedKey,
		}); err != nil {
			return fmt.Errorf("error inserting file key: %w", err)
		}
		if err := s.repomanager.Rights(tx).Grant(ctx, &models.Right{
			UserName: user.UserName, NodeID: node.ID, Role: models.RoleOwner,
		}); err != nil {
			return fmt.Errorf("error granting owner right: %w", err)
		}
		return nil
	})
	if err != nil {
		if s.blobs != nil {
			if delErr := s.blobs.Delete(ctx, node.BlobKey); delErr != nil {
				s.logger.Warn(ctx, "orphan blob left behind", "key", node.BlobKey, "error", delErr)
			}
		}
		return "", err
	}
	return node.ID, nil
}

// Download returns the sealed body of a file node.
func (s *NodeService) Download(ctx context.Context, userID, nodeID string) ([]byte, error) {
	if err := s.requireRight(ctx, userID, nodeID, models.RoleRead); err != nil {
		return nil, err
	}
	node, err := s.repomanager.Nodes(s.db).Get(ctx, nodeID)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("error loading node: %w", err)
	}
	if node.IsFolder() {
		return nil, common.ErrNotFound
	}
	if node.BlobKey != "" {
		if s.blobs == nil {
			return nil, fmt.Errorf("node %s is blob-backed but no blob store is configured", node.ID)
		}
		return s.blobs.Get(ctx, node.BlobKey)
	}
	return node.Content, nil
}

// WriteFile overwrites a file's sealed body. Last writer wins.
func (s *NodeService) WriteFile(ctx context.Context, userID, nodeID string, content []byte) error {
	if err := s.requireRight(ctx, userID, nodeID, models.RoleWrite); err != nil {
		return err
	}
	node, err := s.repomanager.Nodes(s.db).GetMeta(ctx, nodeID)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return common.ErrNotFound
		}
		return fmt.Errorf("error loading node: %w", err)
	}
	if node.IsFolder() {
		return common.ErrNotFound
	}

	mtime := time.Now().UnixMilli()
	if node.BlobKey != "" {
		if s.blobs == nil {
			return fmt.Errorf("node %s is blob-backed but no blob store is configured", node.ID)
		}
		if err := s.blobs.Put(ctx, node.BlobKey, content); err != nil {
			return fmt.Errorf("error storing blob: %w", err)
		}
		return s.repomanager.Nodes(s.db).UpdateContent(ctx, nodeID, nil, int64(len(content)), mtime)
	}
	return s.repomanager.Nodes(s.db).UpdateContent(ctx, nodeID, content, int64(len(content)), mtime)
}

// Delete destroys a node and, for folders, its whole subtree. Every
// keyring entry referencing a destroyed node is removed in the same
// transaction, so no keyring is ever left resolving a missing node.
// Blob bodies are deleted best-effort after commit.
func (s *NodeService) Delete(ctx context.Context, userID, nodeID string) error {
	if err := s.requireRight(ctx, userID, nodeID, models.RoleOwner); err != nil {
		return err
	}

	var blobKeys []string
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		subtree, err := collectSubtree(ctx, s.repomanager, tx, nodeID)
		if err != nil {
			return err
		}
		nodesRepo := s.repomanager.Nodes(tx)
		ringsRepo := s.repomanager.Keyrings(tx)
		rightsRepo := s.repomanager.Rights(tx)

		// children first so folder keyrings empty out before their ring
		// rows go away
		for i := len(subtree) - 1; i >= 0; i-- {
			n := subtree[i]
			if _, err := ringsRepo.RemoveAllFor(ctx, n.ID); err != nil {
				return fmt.Errorf("error removing keyring entries for %s: %w", n.ID, err)
			}
			if err := rightsRepo.DeleteForNode(ctx, n.ID); err != nil {
				return fmt.Errorf("error removing rights for %s: %w", n.ID, err)
			}
			if err := nodesRepo.Delete(ctx, n.ID); err != nil {
				return fmt.Errorf("error deleting node %s: %w", n.ID, err)
			}
			if n.IsFolder() {
				if err := ringsRepo.DeleteRing(ctx, n.KeyringID); err != nil {
					return fmt.Errorf("error deleting keyring %d: %w", n.KeyringID, err)
				}
			}
			if n.BlobKey != "" {
				blobKeys = append(blobKeys, n.BlobKey)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	for _, key := range blobKeys {
		if s.blobs == nil {
			s.logger.Warn(ctx, "orphan blob left behind", "key", key)
			continue
		}
		if err := s.blobs.Delete(ctx, key); err != nil {
			s.logger.Warn(ctx, "orphan blob left behind", "key", key, "error", err)
		}
	}
	return nil
}

// mountRing returns the keyring a new node should be inserted into: the
// user's root keyring when parentID is empty, otherwise the parent
// folder's keyring after a rights check on the parent.
func (s *NodeService) mountRing(ctx context.Context, user *models.User, parentID string, role string) (int64, error) {
	if parentID == "" {
		return user.KeyringID, nil
	}
	if err := requireRight(ctx, s.repomanager, s.db, user.UserName, parentID, role); err != nil {
		return 0, err
	}
	parent, err := s.repomanager.Nodes(s.db).GetMeta(ctx, parentID)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return 0, common.ErrNotFound
		}
		return 0, fmt.Errorf("error loading parent: %w", err)
	}
	if !parent.IsFolder() {
		return 0, common.ErrConflict
	}
	return parent.KeyringID, nil
}

func (s *NodeService) requireRight(ctx context.Context, userID, nodeID, role string) error {
	user, err := s.repomanager.Users(s.db).GetByID(ctx, userID)
	if err != nil {
		return common.ErrUnauthorized
	}
	return requireRight(ctx, s.repomanager, s.db, user.UserName, nodeID, role)
}
