package nodes

import (
	"context"

	"github.com/vaultfs/vaultfs/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, node *models.Node) error
	Get(ctx context.Context, id string) (*models.Node, error)
	// GetMeta fetches a node without its content column; keyring listings
	// never need file bodies.
	GetMeta(ctx context.Context, id string) (*models.Node, error)
	// UpdateCiphertext replaces name_ct (and content for inline files, or
	// blob_key for blob-backed ones) after a key rotation, bumping mtime.
	// nil content and "" blobKey each leave their column untouched.
	UpdateCiphertext(ctx context.Context, id string, nameCT, content []byte, blobKey string, mtime int64) error
	UpdateContent(ctx context.Context, id string, content []byte, size, mtime int64) error
	Delete(ctx context.Context, id string) error
}
