package users

import (
	"context"

	"github.com/vaultfs/vaultfs/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, user *models.User) (*models.User, error)
	GetByID(ctx context.Context, id string) (*models.User, error)
	GetByUserName(ctx context.Context, userName string) (*models.User, error)
	GetPublicKey(ctx context.Context, userName string) ([]byte, error)
	// UpdateCredentials replaces salt, verifier and the private-key
	// envelope in one statement. The private key inside the envelope
	// stays the same; only its wrapper rotates.
	UpdateCredentials(ctx context.Context, userID string, salt, verifier, encPrivateKey []byte) error
}
