package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/vaultfs/vaultfs/internal/common"
	"github.com/vaultfs/vaultfs/internal/dbx"
	"github.com/vaultfs/vaultfs/internal/logging"
	"github.com/vaultfs/vaultfs/internal/server/blobstore"
	"github.com/vaultfs/vaultfs/internal/server/config"
	"github.com/vaultfs/vaultfs/internal/server/models"
	"github.com/vaultfs/vaultfs/internal/server/repositories/keyrings"
	"github.com/vaultfs/vaultfs/internal/server/repositories/repomanager"
)

// RotatedEntry is one rebuilt folder-keyring row: the child's fresh key
// wrapped under the folder's fresh key.
type RotatedEntry struct {
	TargetID   string
	WrappedKey []byte
}

// RotatedNode carries the re-sealed material for one node of the rotated
// subtree. Content is set for every file (the body re-sealed under the
// fresh key) and nil for folders; Entries is set for folders only.
// Holders re-wraps the node's fresh key for every remaining user whose
// root keyring mounts this node directly: grantees of a descendant must
// survive a rotation started above them.
type RotatedNode struct {
	ID      string
	NameCT  []byte
	Content []byte
	Entries []RotatedEntry
	Holders []HolderRewrap
}

// HolderRewrap is a rotated key wrapped under one remaining holder's
// public key.
type HolderRewrap struct {
	UserName   string
	WrappedKey []byte
}

// RevokeBatch is a client-computed full-subtree rotation. The client did
// all the crypto; the server verifies the batch's shape against its own
// view of the subtree and applies it atomically.
type RevokeBatch struct {
	NodeID      string
	RevokedUser string
	// ParentWrappedKey re-wraps the rotated top key under the parent
	// folder's (unchanged) key; required iff the node is mounted in a
	// folder keyring.
	ParentWrappedKey []byte
	Nodes            []RotatedNode
}

// RevocationService applies subtree key rotations.
//
// Rotation is the only way a node's key ever changes. The batch must
// cover the exact descendant set, rebuild each folder keyring over the
// same children, and re-wrap each rotated key for every remaining direct
// holder of that node;
// anything else is rejected before a single row changes. All writes land
// in one transaction with every affected keyring row-locked, so a
// concurrent resolve sees the fully-old or fully-new state, never a mix.
type RevocationService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	blobs       blobstore.Store
	policy      string
	logger      logging.Logger
}

func NewRevocationService(db *sql.DB, m repomanager.RepositoryManager, blobs blobstore.Store, cfg *config.Config, logger logging.Logger) *RevocationService {
	return &RevocationService{db: db, repomanager: m, blobs: blobs, policy: cfg.RevokePolicy, logger: logger}
}

// HolderInfo identifies one direct holder of a node together with the
// public key needed to re-wrap a rotated key for them.
type HolderInfo struct {
	UserName  string
	PublicKey []byte
}

// Holders lists the users whose root keyrings mount nodeID. A revoker
// calls this before computing a rotation batch so every remaining holder
// gets a re-wrapped top key.
func (s *RevocationService) Holders(ctx context.Context, callerID, nodeID string) ([]HolderInfo, error) {
	caller, err := s.repomanager.Users(s.db).GetByID(ctx, callerID)
	if err != nil {
		return nil, common.ErrUnauthorized
	}
	if err := requireRight(ctx, s.repomanager, s.db, caller.UserName, nodeID, models.RoleRead); err != nil {
		return nil, err
	}
	holders, err := s.repomanager.Keyrings(s.db).RootHolders(ctx, nodeID)
	if err != nil {
		return nil, fmt.Errorf("error loading holders: %w", err)
	}
	infos := make([]HolderInfo, 0, len(holders))
	for _, h := range holders {
		infos = append(infos, HolderInfo{UserName: h.UserName, PublicKey: h.PublicKey})
	}
	return infos, nil
}

// Revoke cuts batch.RevokedUser's reachability of batch.NodeID by
// applying the rotation. The revoked user must hold a root-keyring entry
// for the node itself; revoking someone who only reaches the node
// through an ancestor mount has to happen at that ancestor.
func (s *RevocationService) Revoke(ctx context.Context, revokerID string, batch *RevokeBatch) error {
	revoker, err := s.repomanager.Users(s.db).GetByID(ctx, revokerID)
	if err != nil {
		return common.ErrUnauthorized
	}

	required := models.RoleRead
	if s.policy == config.RevokePolicyOwner {
		required = models.RoleOwner
	}
	if err := requireRight(ctx, s.repomanager, s.db, revoker.UserName, batch.NodeID, required); err != nil {
		return err
	}

	revoked, err := s.repomanager.Users(s.db).GetByUserName(ctx, batch.RevokedUser)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return common.ErrNotFound
		}
		return fmt.Errorf("error loading revoked user: %w", err)
	}

	var oldBlobs, newBlobs []string
	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		rings := s.repomanager.Keyrings(tx)
		nodesRepo := s.repomanager.Nodes(tx)

		subtree, err := collectSubtree(ctx, s.repomanager, tx, batch.NodeID)
		if err != nil {
			return err
		}
		// every subtree node can have its own direct root holders, and
		// each of them needs that node's fresh key re-wrapped
		holdersByNode := make(map[string][]*keyrings.Holder, len(subtree))
		for _, n := range subtree {
			hs, err := rings.RootHolders(ctx, n.ID)
			if err != nil {
				return fmt.Errorf("error loading holders of %s: %w", n.ID, err)
			}
			holdersByNode[n.ID] = hs
		}
		parentID, err := rings.ParentFolder(ctx, batch.NodeID)
		if err != nil {
			return fmt.Errorf("error loading parent: %w", err)
		}
		var parentRing int64
		if parentID != "" {
			parent, err := nodesRepo.GetMeta(ctx, parentID)
			if err != nil {
				return fmt.Errorf("error loading parent node: %w", err)
			}
			parentRing = parent.KeyringID
		}

		if err := rings.Lock(ctx, lockSet(subtree, holdersByNode, parentRing, revoked.KeyringID)); err != nil {
			return fmt.Errorf("error locking keyrings: %w", err)
		}

		childSets := map[string]map[string]bool{}
		for _, n := range subtree {
			if !n.IsFolder() {
				continue
			}
			entries, err := rings.List(ctx, n.KeyringID)
			if err != nil {
				return fmt.Errorf("error listing keyring %d: %w", n.KeyringID, err)
			}
			set := make(map[string]bool, len(entries))
			for _, e := range entries {
				set[e.TargetID] = true
			}
			childSets[n.ID] = set
		}

		byID, err := validateBatch(batch, subtree, childSets, holdersByNode, parentRing != 0)
		if err != nil {
			return err
		}

		mtime := time.Now().UnixMilli()
		for _, node := range subtree {
			rot := byID[node.ID]
			switch {
			case node.IsFolder():
				if err := nodesRepo.UpdateCiphertext(ctx, node.ID, rot.NameCT, nil, "", mtime); err != nil {
					return fmt.Errorf("error re-sealing folder %s: %w", node.ID, err)
				}
				for _, e := range rot.Entries {
					if err := rings.Upsert(ctx, &models.KeyringKey{
						KeyringID: node.KeyringID, TargetID: e.TargetID, WrappedKey: e.WrappedKey,
					}); err != nil {
						return fmt.Errorf("error rebuilding keyring %d: %w", node.KeyringID, err)
					}
				}
			case node.BlobKey != "":
				if s.blobs == nil {
					return fmt.Errorf("node %s is blob-backed but no blob store is configured", node.ID)
				}
				// fresh storage key so a rollback leaves the old body intact
				key := blobstore.RandomStorageKey()
				if err := s.blobs.Put(ctx, key, rot.Content); err != nil {
					return fmt.Errorf("error storing rotated blob: %w", err)
				}
				newBlobs = append(newBlobs, key)
				oldBlobs = append(oldBlobs, node.BlobKey)
				if err := nodesRepo.UpdateCiphertext(ctx, node.ID, rot.NameCT, nil, key, mtime); err != nil {
					return fmt.Errorf("error re-sealing file %s: %w", node.ID, err)
				}
			default:
				if err := nodesRepo.UpdateCiphertext(ctx, node.ID, rot.NameCT, rot.Content, "", mtime); err != nil {
					return fmt.Errorf("error re-sealing file %s: %w", node.ID, err)
				}
			}
		}

		if parentRing != 0 {
			if err := rings.Upsert(ctx, &models.KeyringKey{
				KeyringID: parentRing, TargetID: batch.NodeID, WrappedKey: batch.ParentWrappedKey,
			}); err != nil {
				return fmt.Errorf("error re-wrapping parent entry: %w", err)
			}
		}

		for _, node := range subtree {
			holderRings := map[string]int64{}
			revokedHolds := false
			for _, h := range holdersByNode[node.ID] {
				if h.UserName == batch.RevokedUser {
					revokedHolds = true
					continue
				}
				holderRings[h.UserName] = h.KeyringID
			}
			for _, h := range byID[node.ID].Holders {
				if err := rings.Upsert(ctx, &models.KeyringKey{
					KeyringID: holderRings[h.UserName], TargetID: node.ID, WrappedKey: h.WrappedKey,
				}); err != nil {
					return fmt.Errorf("error re-wrapping %s for %s: %w", node.ID, h.UserName, err)
				}
			}
			// a direct grant on a descendant goes away together with the
			// top-level one
			if revokedHolds {
				if err := rings.Remove(ctx, revoked.KeyringID, node.ID); err != nil {
					return fmt.Errorf("error removing revoked entry for %s: %w", node.ID, err)
				}
			}
		}
		subtreeIDs := make([]string, len(subtree))
		for i, n := range subtree {
			subtreeIDs[i] = n.ID
		}
		if err := s.repomanager.Rights(tx).RevokeSubtree(ctx, revoked.UserName, subtreeIDs); err != nil {
			return fmt.Errorf("error revoking rights: %w", err)
		}
		return nil
	})

	if err != nil {
		s.cleanupBlobs(ctx, newBlobs)
		return err
	}
	s.cleanupBlobs(ctx, oldBlobs)
	return nil
}

func (s *RevocationService) cleanupBlobs(ctx context.Context, keys []string) {
	if s.blobs == nil {
		return
	}
	for _, key := range keys {
		if err := s.blobs.Delete(ctx, key); err != nil {
			s.logger.Warn(ctx, "orphan blob left behind", "key", key, "error", err)
		}
	}
}

// validateBatch checks the client-computed rotation against the server's
// view: exact descendant coverage, per-folder keyring membership
// equality, per-node holder-set equality, and the presence of a parent
// re-wrap when the node is folder-mounted. Returns the batch indexed by
// node id.
func validateBatch(batch *RevokeBatch, subtree []*models.Node, childSets map[string]map[string]bool, holdersByNode map[string][]*keyrings.Holder, parentMounted bool) (map[string]*RotatedNode, error) {
	if len(batch.Nodes) != len(subtree) {
		return nil, fmt.Errorf("%w: rotation batch does not match subtree", common.ErrConflict)
	}
	byID := make(map[string]*RotatedNode, len(batch.Nodes))
	for i := range batch.Nodes {
		byID[batch.Nodes[i].ID] = &batch.Nodes[i]
	}

	for _, node := range subtree {
		rot, ok := byID[node.ID]
		if !ok {
			return nil, fmt.Errorf("%w: rotation batch misses node %s", common.ErrConflict, node.ID)
		}
		if len(rot.NameCT) == 0 {
			return nil, fmt.Errorf("%w: node %s has no re-sealed name", common.ErrConflict, node.ID)
		}
		if node.IsFolder() {
			if rot.Content != nil {
				return nil, fmt.Errorf("%w: folder %s carries content", common.ErrConflict, node.ID)
			}
			// rotation never changes topology: the rebuilt keyring must
			// cover exactly the current children
			want := childSets[node.ID]
			if len(rot.Entries) != len(want) {
				return nil, fmt.Errorf("%w: keyring of %s rebuilt over wrong children", common.ErrConflict, node.ID)
			}
			for _, e := range rot.Entries {
				if !want[e.TargetID] {
					return nil, fmt.Errorf("%w: keyring of %s gained entry %s", common.ErrConflict, node.ID, e.TargetID)
				}
			}
		} else if rot.Content == nil {
			return nil, fmt.Errorf("%w: file %s has no re-sealed body", common.ErrConflict, node.ID)
		}

		// every remaining direct holder of this node, and nobody else,
		// gets its fresh key re-wrapped; a descendant grantee left out
		// here would lose a key they were never revoked from
		remaining := map[string]bool{}
		for _, h := range holdersByNode[node.ID] {
			if h.UserName != batch.RevokedUser {
				remaining[h.UserName] = true
			}
		}
		if len(rot.Holders) != len(remaining) {
			return nil, fmt.Errorf("%w: holder re-wraps of %s do not match remaining holders", common.ErrConflict, node.ID)
		}
		for _, h := range rot.Holders {
			if !remaining[h.UserName] {
				return nil, fmt.Errorf("%w: unexpected holder re-wrap of %s for %s", common.ErrConflict, node.ID, h.UserName)
			}
			delete(remaining, h.UserName)
		}
	}

	if parentMounted && len(batch.ParentWrappedKey) == 0 {
		return nil, fmt.Errorf("%w: missing parent re-wrap", common.ErrConflict)
	}

	revokedHeld := false
	for _, h := range holdersByNode[batch.NodeID] {
		if h.UserName == batch.RevokedUser {
			revokedHeld = true
		}
	}
	if !revokedHeld {
		return nil, fmt.Errorf("%w: %s holds no entry for the node", common.ErrConflict, batch.RevokedUser)
	}

	return byID, nil
}

func lockSet(subtree []*models.Node, holdersByNode map[string][]*keyrings.Holder, extra ...int64) []int64 {
	seen := map[int64]bool{}
	var ids []int64
	add := func(id int64) {
		if id != 0 && !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	for _, n := range subtree {
		add(n.KeyringID)
		for _, h := range holdersByNode[n.ID] {
			add(h.KeyringID)
		}
	}
	for _, id := range extra {
		add(id)
	}
	// deterministic lock order so concurrent rotations cannot deadlock
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
