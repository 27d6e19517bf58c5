package config

import "time"

// Config holds runtime settings for the vaultfs CLI.
//
// Fields:
//   - ServerURL: base URL of the vaultfs HTTP endpoint.
//   - DataDir: directory for the local metadata store (sqlite).
//   - DownloadDir: where `download` puts decrypted files.
//   - RequestTimeout: per-request deadline for server calls.
type Config struct {
	ServerURL      string
	DataDir        string
	DownloadDir    string
	RequestTimeout time.Duration
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.ServerURL = "http://127.0.0.1:8080"
	c.DataDir = ".vaultfs"
	c.DownloadDir = "downloads"
	c.RequestTimeout = 30 * time.Second
}

// LoadConfig constructs a Config, applies defaults, then overlays values from
// JSON (if present) and command-line flags (if present). Later sources take
// precedence over earlier ones.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJson(cfg)
	parseFlags(cfg)
	return cfg
}
