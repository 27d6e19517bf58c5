package cli

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vaultfs/vaultfs/internal/client/config"
)

func newTestApp(t *testing.T, dataDir string) *App {
	t.Helper()
	c := &config.Config{
		ServerURL:      "http://127.0.0.1:8080",
		DataDir:        dataDir,
		DownloadDir:    "downloads",
		RequestTimeout: time.Second,
	}
	a, err := NewApp(context.Background(), c)
	require.NoError(t, err)
	t.Cleanup(func() { a.store.Close() })
	return a
}

func TestSet_PersistsAcrossRestart(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	a := newTestApp(t, dir)
	require.NoError(t, a.Set(ctx, []string{"server_url", "https://vault.example:8443"}))
	require.NoError(t, a.Set(ctx, []string{"download_dir", "/tmp/vfs-dl"}))
	a.store.Close()

	// A fresh App over the same data dir picks the persisted values up
	// over whatever the config file says.
	b := newTestApp(t, dir)
	assert.Equal(t, "https://vault.example:8443", b.config.ServerURL)
	assert.Equal(t, "/tmp/vfs-dl", b.config.DownloadDir)
}

func TestSet_DownloadDirAppliesImmediately(t *testing.T) {
	ctx := context.Background()
	a := newTestApp(t, t.TempDir())

	require.NoError(t, a.Set(ctx, []string{"download_dir", "/tmp/elsewhere"}))
	assert.Equal(t, "/tmp/elsewhere", a.config.DownloadDir)
}

func TestSet_RejectsUnknownKey(t *testing.T) {
	a := newTestApp(t, t.TempDir())

	assert.Error(t, a.Set(context.Background(), []string{"theme", "dark"}))
	assert.Error(t, a.Set(context.Background(), nil))
}
