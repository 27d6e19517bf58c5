// Package services contains server-side business logic: account handling,
// keyring assembly, node storage, sharing and revocation. All multi-step
// mutations run inside dbx.WithTx so nothing below full success commits.
package services

import (
	"context"
	"crypto/subtle"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vaultfs/vaultfs/internal/common"
	"github.com/vaultfs/vaultfs/internal/dbx"
	"github.com/vaultfs/vaultfs/internal/server/auth"
	"github.com/vaultfs/vaultfs/internal/server/config"
	"github.com/vaultfs/vaultfs/internal/server/models"
	"github.com/vaultfs/vaultfs/internal/server/repositories/repomanager"
)

// TokenPair bundles a short-lived access token and a long-lived refresh token.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
}

// UserService handles registration, the salt/verifier login exchange,
// token issuance and password change.
//
// The server never sees a password. Registration stores a salt, a
// verifier and the user's private-key envelope; login proves knowledge
// of the verifier; the envelope only ever opens on the client.
type UserService struct {
	db                           *sql.DB
	repomanager                  repomanager.RepositoryManager
	jwtSecret                    []byte
	accessTokenValidityDuration  time.Duration
	refreshTokenValidityDuration time.Duration
}

// NewUserService constructs a UserService using repositories and server config.
func NewUserService(db *sql.DB, m repomanager.RepositoryManager, cfg *config.Config) *UserService {
	return &UserService{
		db:                           db,
		repomanager:                  m,
		jwtSecret:                    []byte(cfg.SecretKey),
		accessTokenValidityDuration:  cfg.AccessTokenValidityDuration,
		refreshTokenValidityDuration: cfg.RefreshTokenValidityDuration,
	}
}

// Register creates a user together with their empty root keyring, in one
// transaction. A username collision maps to common.ErrConflict.
func (s *UserService) Register(ctx context.Context, user *models.User) (*models.User, error) {
	var created *models.User
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		ringID, err := s.repomanager.Keyrings(tx).CreateRing(ctx)
		if err != nil {
			return fmt.Errorf("error creating root keyring: %w", err)
		}
		user.KeyringID = ringID
		created, err = s.repomanager.Users(tx).Create(ctx, user)
		if err != nil {
			return fmt.Errorf("error creating user: %w", err)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, common.ErrConflict) {
			return nil, common.ErrConflict
		}
		return nil, err
	}
	return created, nil
}

// GetSalt returns the user's stored salt, or a random salt if the user is
// absent, so the endpoint cannot be used to enumerate accounts.
func (s *UserService) GetSalt(ctx context.Context, userName string) ([]byte, error) {
	user, err := s.repomanager.Users(s.db).GetByUserName(ctx, userName)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return common.GenerateRandByteArray(32), nil
		}
		return nil, common.ErrInternal
	}
	return user.Salt, nil
}

// Login verifies the candidate verifier in constant time and, on success,
// returns the user row (the client needs the private-key envelope) plus a
// fresh token pair.
func (s *UserService) Login(ctx context.Context, userName string, verifierCandidate []byte) (*models.User, *TokenPair, error) {
	user, err := s.repomanager.Users(s.db).GetByUserName(ctx, userName)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return nil, nil, common.ErrUnauthorized
		}
		return nil, nil, common.ErrInternal
	}
	if subtle.ConstantTimeCompare(user.Verifier, verifierCandidate) != 1 {
		return nil, nil, common.ErrUnauthorized
	}
	pair, err := s.generateTokenPair(ctx, user.ID, s.db)
	if err != nil {
		return nil, nil, err
	}
	return user, pair, nil
}

// RefreshToken validates a refresh token, rotates it transactionally, and
// returns a fresh TokenPair. Expired tokens yield ErrRefreshTokenExpired.
func (s *UserService) RefreshToken(ctx context.Context, refreshToken string) (*TokenPair, error) {
	token, err := s.repomanager.RefreshTokens(s.db).Find(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return nil, common.ErrUnauthorized
		}
		return nil, fmt.Errorf("error searching refresh token: %w", err)
	}
	if token.Expires.Before(time.Now()) {
		return nil, common.ErrRefreshTokenExpired
	}

	var pair *TokenPair
	if err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if err := s.repomanager.RefreshTokens(tx).Delete(ctx, refreshToken); err != nil {
			return fmt.Errorf("error deleting refresh token: %w", err)
		}
		var genErr error
		pair, genErr = s.generateTokenPair(ctx, token.UserID, tx)
		return genErr
	}); err != nil {
		return nil, err
	}
	return pair, nil
}

// ChangePassword replaces salt, verifier and the private-key envelope in
// one statement. The private key inside the envelope does not change, so
// no file or keyring material is touched.
func (s *UserService) ChangePassword(ctx context.Context, userID string, salt, verifier, encPrivateKey []byte) error {
	if err := s.repomanager.Users(s.db).UpdateCredentials(ctx, userID, salt, verifier, encPrivateKey); err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return common.ErrNotFound
		}
		return fmt.Errorf("error updating credentials: %w", err)
	}
	return nil
}

// GetPublicKey returns a user's public key for the sharing handshake.
func (s *UserService) GetPublicKey(ctx context.Context, userName string) ([]byte, error) {
	pub, err := s.repomanager.Users(s.db).GetPublicKey(ctx, userName)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("error fetching public key: %w", err)
	}
	return pub, nil
}

// GetUser loads the account row for an authenticated user id.
func (s *UserService) GetUser(ctx context.Context, userID string) (*models.User, error) {
	return s.repomanager.Users(s.db).GetByID(ctx, userID)
}

func (s *UserService) generateTokenPair(ctx context.Context, userID string, tx dbx.DBTX) (*TokenPair, error) {
	access, err := auth.GenerateToken(userID, s.jwtSecret, s.accessTokenValidityDuration)
	if err != nil {
		return nil, common.ErrInternal
	}
	refresh, err := common.MakeRandHexString(32)
	if err != nil {
		return nil, common.ErrInternal
	}
	if err := s.repomanager.RefreshTokens(tx).Create(ctx, userID, refresh, s.refreshTokenValidityDuration); err != nil {
		return nil, common.ErrInternal
	}
	return &TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}
