package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/vaultfs/vaultfs/internal/common"
	"github.com/vaultfs/vaultfs/internal/dbx"
	"github.com/vaultfs/vaultfs/internal/server/models"
	"github.com/vaultfs/vaultfs/internal/server/repositories/repomanager"
)

// SharingService mounts a node into a grantee's root keyring.
//
// The grantor resolved the node's key and wrapped it under the grantee's
// public key on their own machine; the server only ever handles the
// opaque wrapped blob. Being able to produce that blob is the grantor's
// proof of reachability, the server's rights check is the policy layer
// on top.
type SharingService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
}

func NewSharingService(db *sql.DB, m repomanager.RepositoryManager) *SharingService {
	return &SharingService{db: db, repomanager: m}
}

// Share inserts wrappedKey into the grantee's root keyring and records a
// rights row. Idempotent: repeating a share overwrites the same entry and
// leaves the grant unchanged. A grantor cannot confer a role they do not
// hold themselves.
func (s *SharingService) Share(ctx context.Context, grantorID, nodeID, granteeName string, wrappedKey []byte, role string) error {
	if role != models.RoleRead && role != models.RoleWrite {
		return common.ErrConflict
	}

	grantor, err := s.repomanager.Users(s.db).GetByID(ctx, grantorID)
	if err != nil {
		return common.ErrUnauthorized
	}
	if err := requireRight(ctx, s.repomanager, s.db, grantor.UserName, nodeID, role); err != nil {
		return err
	}

	if _, err := s.repomanager.Nodes(s.db).GetMeta(ctx, nodeID); err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return common.ErrNotFound
		}
		return fmt.Errorf("error loading node: %w", err)
	}

	grantee, err := s.repomanager.Users(s.db).GetByUserName(ctx, granteeName)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return common.ErrNotFound
		}
		return fmt.Errorf("error loading grantee: %w", err)
	}

	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		rings := s.repomanager.Keyrings(tx)
		if err := rings.Lock(ctx, []int64{grantee.KeyringID}); err != nil {
			return fmt.Errorf("error locking grantee keyring: %w", err)
		}
		if err := rings.Upsert(ctx, &models.KeyringKey{
			KeyringID:  grantee.KeyringID,
			TargetID:   nodeID,
			WrappedKey: wrappedKey,
		}); err != nil {
			return fmt.Errorf("error inserting wrapped key: %w", err)
		}
		if err := s.repomanager.Rights(tx).Grant(ctx, &models.Right{
			UserName: grantee.UserName,
			NodeID:   nodeID,
			Role:     role,
		}); err != nil {
			return fmt.Errorf("error granting right: %w", err)
		}
		return nil
	})
}
