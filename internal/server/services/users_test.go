package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vaultfs/vaultfs/internal/common"
	"github.com/vaultfs/vaultfs/internal/server/config"
	"github.com/vaultfs/vaultfs/internal/server/models"
)

func newUserService(t *testing.T, w *memWorld) *UserService {
	t.Helper()
	db, mock := newSQLMockDB(t)
	t.Cleanup(func() { db.Close() })
	cfg := &config.Config{
		SecretKey:                    "k",
		AccessTokenValidityDuration:  time.Hour,
		RefreshTokenValidityDuration: 2 * time.Hour,
	}
	mock.MatchExpectationsInOrder(false)
	mock.ExpectBegin()
	mock.ExpectBegin()
	mock.ExpectCommit()
	mock.ExpectCommit()
	mock.ExpectRollback()
	mock.ExpectRollback()
	return NewUserService(db, &fakeRepoManager{w}, cfg)
}

func TestRegister_CreatesRootKeyring(t *testing.T) {
	w := newMemWorld()
	s := newUserService(t, w)

	u, err := s.Register(context.Background(), &models.User{
		UserName:      "alice",
		Salt:          []byte("salt"),
		Verifier:      []byte("verifier"),
		PublicKey:     []byte("pub"),
		EncPrivateKey: []byte("env"),
	})
	require.NoError(t, err)
	require.NotEmpty(t, u.ID)
	assert.NotZero(t, u.KeyringID)
	assert.NotNil(t, w.rings[u.KeyringID])
	assert.Empty(t, w.rings[u.KeyringID])
}

func TestRegister_DuplicateUserName(t *testing.T) {
	w := newMemWorld()
	w.addUser("alice")
	s := newUserService(t, w)

	_, err := s.Register(context.Background(), &models.User{UserName: "alice"})
	assert.ErrorIs(t, err, common.ErrConflict)
}

func TestLogin_Success(t *testing.T) {
	w := newMemWorld()
	u := w.addUser("alice")
	s := newUserService(t, w)

	got, pair, err := s.Login(context.Background(), "alice", []byte("verifier-alice"))
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)
	assert.NotEmpty(t, pair.AccessToken)
	assert.NotEmpty(t, pair.RefreshToken)
	assert.Contains(t, w.tokens, pair.RefreshToken)
}

func TestLogin_WrongVerifier(t *testing.T) {
	w := newMemWorld()
	w.addUser("alice")
	s := newUserService(t, w)

	_, _, err := s.Login(context.Background(), "alice", []byte("wrong"))
	assert.ErrorIs(t, err, common.ErrUnauthorized)
}

func TestLogin_UnknownUser(t *testing.T) {
	w := newMemWorld()
	s := newUserService(t, w)

	_, _, err := s.Login(context.Background(), "nobody", []byte("x"))
	assert.ErrorIs(t, err, common.ErrUnauthorized)
}

func TestGetSalt_UnknownUserGetsRandomSalt(t *testing.T) {
	w := newMemWorld()
	w.addUser("alice")
	s := newUserService(t, w)

	salt, err := s.GetSalt(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, []byte("salt-alice"), salt)

	// absent users still get a plausible salt so the endpoint cannot
	// enumerate accounts
	fake, err := s.GetSalt(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Len(t, fake, 32)
}

func TestRefreshToken_RotatesToken(t *testing.T) {
	w := newMemWorld()
	u := w.addUser("alice")
	w.tokens["old"] = &models.RefreshToken{Token: "old", UserID: u.ID, Expires: time.Now().Add(time.Hour)}
	s := newUserService(t, w)

	pair, err := s.RefreshToken(context.Background(), "old")
	require.NoError(t, err)
	assert.NotContains(t, w.tokens, "old")
	assert.Contains(t, w.tokens, pair.RefreshToken)
}

func TestRefreshToken_Expired(t *testing.T) {
	w := newMemWorld()
	u := w.addUser("alice")
	w.tokens["old"] = &models.RefreshToken{Token: "old", UserID: u.ID, Expires: time.Now().Add(-time.Minute)}
	s := newUserService(t, w)

	_, err := s.RefreshToken(context.Background(), "old")
	assert.ErrorIs(t, err, common.ErrRefreshTokenExpired)
}

func TestChangePassword_ReplacesEnvelopeOnly(t *testing.T) {
	w := newMemWorld()
	u := w.addUser("alice")
	s := newUserService(t, w)

	err := s.ChangePassword(context.Background(), u.ID, []byte("salt2"), []byte("ver2"), []byte("env2"))
	require.NoError(t, err)
	assert.Equal(t, []byte("salt2"), w.users[u.ID].Salt)
	assert.Equal(t, []byte("ver2"), w.users[u.ID].Verifier)
	assert.Equal(t, []byte("env2"), w.users[u.ID].EncPrivateKey)
}
