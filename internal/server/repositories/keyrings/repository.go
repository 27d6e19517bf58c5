package keyrings

import (
	"context"

	"github.com/vaultfs/vaultfs/internal/server/models"
)

// Holder is a user whose root keyring contains an entry for some node,
// together with the material needed to re-wrap a rotated key for them.
type Holder struct {
	UserName  string
	KeyringID int64
	PublicKey []byte
}

type Repository interface {
	CreateRing(ctx context.Context) (int64, error)
	DeleteRing(ctx context.Context, id int64) error

	// Upsert inserts or overwrites the entry for targetID. Idempotent by
	// construction; sharing twice and rotation re-propagation both land
	// here.
	Upsert(ctx context.Context, key *models.KeyringKey) error
	Remove(ctx context.Context, keyringID int64, targetID string) error
	List(ctx context.Context, keyringID int64) ([]*models.KeyringKey, error)

	// RemoveAllFor deletes every entry in any keyring that targets the
	// node and reports how many were removed. Node deletion calls this
	// first so no keyring is left resolving a destroyed node.
	RemoveAllFor(ctx context.Context, targetID string) (int64, error)

	// RootHolders returns every user whose root keyring holds an entry
	// for targetID.
	RootHolders(ctx context.Context, targetID string) ([]*Holder, error)
	// ParentFolder returns the id of the folder whose keyring contains
	// targetID, or "" if the entry only exists in root keyrings.
	ParentFolder(ctx context.Context, targetID string) (string, error)

	// Lock takes FOR UPDATE row locks on the given keyrings, serializing
	// concurrent rotations and shares that touch the same rings.
	Lock(ctx context.Context, ids []int64) error
}
