package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempJSON(t *testing.T, data map[string]any) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cfg.json")
	b, err := json.Marshal(data)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, b, 0o600))
	return path
}

func Test_parseJson(t *testing.T) {
	origArgs := os.Args
	t.Cleanup(func() { os.Args = origArgs })

	path := writeTempJSON(t, map[string]any{
		"server_url":      "http://vault.example:9000",
		"data_dir":        "vaultdata",
		"download_dir":    "out",
		"request_timeout": "45s",
	})

	t.Run("loads from json", func(t *testing.T) {
		os.Args = []string{"testbin", "-config", path}

		c := &Config{}
		require.NotPanics(t, func() { parseJson(c) })

		assert.Equal(t, "http://vault.example:9000", c.ServerURL)
		assert.Equal(t, "vaultdata", c.DataDir)
		assert.Equal(t, "out", c.DownloadDir)
		assert.Equal(t, 45*time.Second, c.RequestTimeout)
	})

	t.Run("no config flag leaves values untouched", func(t *testing.T) {
		os.Args = []string{"testbin"}

		c := &Config{}
		c.LoadDefaults()
		require.NotPanics(t, func() { parseJson(c) })

		assert.Equal(t, "http://127.0.0.1:8080", c.ServerURL)
	})

	t.Run("missing file panics", func(t *testing.T) {
		os.Args = []string{"testbin", "-config", filepath.Join(t.TempDir(), "absent.json")}

		c := &Config{}
		require.Panics(t, func() { parseJson(c) })
	})
}
