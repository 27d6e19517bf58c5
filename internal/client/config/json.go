package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/vaultfs/vaultfs/internal/flagx"
	"github.com/vaultfs/vaultfs/internal/timex"
)

// JsonConfig is a DTO used exclusively for JSON unmarshalling. It relies
// on timex.Duration so JSON can specify the timeout either as a string
// like "30s" or as integer nanoseconds.
type JsonConfig struct {
	ServerURL      string         `json:"server_url"`
	DataDir        string         `json:"data_dir"`
	DownloadDir    string         `json:"download_dir"`
	RequestTimeout timex.Duration `json:"request_timeout"`
}

// parseJson overlays Config with values loaded from the JSON file named
// by -c/-config, if any. Panics on read or unmarshal errors.
func parseJson(cfg *Config) {
	jsonConfigFile := flagx.JsonConfigFlags()
	if jsonConfigFile == "" {
		return
	}

	var jc JsonConfig

	data, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}
	if err := json.Unmarshal(data, &jc); err != nil {
		panic(err)
	}

	cfg.ServerURL = jc.ServerURL
	cfg.DataDir = jc.DataDir
	cfg.DownloadDir = jc.DownloadDir
	cfg.RequestTimeout = time.Duration(jc.RequestTimeout.Duration)
}
