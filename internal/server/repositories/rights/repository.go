package rights

import (
	"context"

	"github.com/vaultfs/vaultfs/internal/server/models"
)

type Repository interface {
	// Grant upserts a rights row; re-sharing must not duplicate or
	// downgrade an existing grant silently, so an existing owner row wins.
	Grant(ctx context.Context, right *models.Right) error
	Get(ctx context.Context, userName, nodeID string) (*models.Right, error)
	Revoke(ctx context.Context, userName, nodeID string) error
	RevokeSubtree(ctx context.Context, userName string, nodeIDs []string) error
	DeleteForNode(ctx context.Context, nodeID string) error
}
