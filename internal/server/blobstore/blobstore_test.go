package blobstore

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vaultfs/vaultfs/internal/common"
)

func TestRandomStorageKey_Unique(t *testing.T) {
	a := RandomStorageKey()
	b := RandomStorageKey()
	assert.NotEqual(t, a, b)
	assert.True(t, strings.HasPrefix(a, "blobs/"))
}

func TestMemStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()

	key := RandomStorageKey()
	require.NoError(t, s.Put(ctx, key, []byte("sealed bytes")))

	got, err := s.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, []byte("sealed bytes"), got)

	// stored copy must not alias the caller's slice
	got[0] = 'X'
	again, err := s.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, []byte("sealed bytes"), again)
}

func TestMemStore_GetMissing(t *testing.T) {
	s := NewMemStore()
	_, err := s.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestMemStore_DeleteIdempotent(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()
	require.NoError(t, s.Put(ctx, "k", []byte{1}))
	require.NoError(t, s.Delete(ctx, "k"))
	require.NoError(t, s.Delete(ctx, "k"))
	_, err := s.Get(ctx, "k")
	assert.ErrorIs(t, err, common.ErrNotFound)
}
