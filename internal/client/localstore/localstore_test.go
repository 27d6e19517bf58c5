package localstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vaultfs/vaultfs/internal/common"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestAccountRoundTrip(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	acc := &Account{
		UserName:      "alice",
		Salt:          []byte("salt"),
		Verifier:      []byte("verifier"),
		PublicKey:     []byte("pub"),
		EncPrivateKey: []byte("sealed"),
		LastLogin:     time.Now().Truncate(time.Millisecond),
	}
	require.NoError(t, s.SaveAccount(ctx, acc))

	got, err := s.GetAccount(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, acc.Salt, got.Salt)
	assert.Equal(t, acc.Verifier, got.Verifier)
	assert.Equal(t, acc.EncPrivateKey, got.EncPrivateKey)
	assert.True(t, acc.LastLogin.Equal(got.LastLogin))
}

func TestSaveAccount_Upserts(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	acc := &Account{UserName: "alice", Salt: []byte("s1"), Verifier: []byte("v1"),
		PublicKey: []byte("p"), EncPrivateKey: []byte("e1"), LastLogin: time.Now()}
	require.NoError(t, s.SaveAccount(ctx, acc))

	acc.Verifier = []byte("v2")
	acc.EncPrivateKey = []byte("e2")
	require.NoError(t, s.SaveAccount(ctx, acc))

	got, err := s.GetAccount(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), got.Verifier)
	assert.Equal(t, []byte("e2"), got.EncPrivateKey)
}

func TestGetAccount_Missing(t *testing.T) {
	s := newStore(t)

	_, err := s.GetAccount(context.Background(), "ghost")
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestDeleteAccount(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveAccount(ctx, &Account{UserName: "alice", Salt: []byte("s"),
		Verifier: []byte("v"), PublicKey: []byte("p"), EncPrivateKey: []byte("e"), LastLogin: time.Now()}))
	require.NoError(t, s.DeleteAccount(ctx, "alice"))

	_, err := s.GetAccount(ctx, "alice")
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestSettings(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	v, err := s.GetSetting(ctx, "last_user")
	require.NoError(t, err)
	assert.Nil(t, v)

	require.NoError(t, s.SetSetting(ctx, "last_user", []byte("alice")))
	require.NoError(t, s.SetSetting(ctx, "last_user", []byte("bob")))

	v, err = s.GetSetting(ctx, "last_user")
	require.NoError(t, err)
	assert.Equal(t, []byte("bob"), v)
}

func TestOpen_Reopens(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s, err := Open(ctx, dir)
	require.NoError(t, err)
	require.NoError(t, s.SaveAccount(ctx, &Account{UserName: "alice", Salt: []byte("s"),
		Verifier: []byte("v"), PublicKey: []byte("p"), EncPrivateKey: []byte("e"), LastLogin: time.Now()}))
	require.NoError(t, s.Close())

	s2, err := Open(ctx, dir)
	require.NoError(t, err)
	defer s2.Close()

	_, err = s2.GetAccount(ctx, "alice")
	assert.NoError(t, err)
}
