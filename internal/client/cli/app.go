// Package cli is the interactive vaultfs client: a small REPL over the
// engine with a filesystem-flavoured command set (ls, cd, mkdir, cat,
// upload, share, revoke, ...).
package cli

import (
	"bufio"
	"context"
	"os"

	"github.com/vaultfs/vaultfs/internal/client/api"
	"github.com/vaultfs/vaultfs/internal/client/config"
	"github.com/vaultfs/vaultfs/internal/client/engine"
	"github.com/vaultfs/vaultfs/internal/client/localstore"
	"github.com/vaultfs/vaultfs/internal/keyring"
)

type App struct {
	config *config.Config
	http   *api.HTTPClient
	engine *engine.Engine
	store  *localstore.Store
	reader *bufio.Reader

	// cwd is the current directory as plaintext path segments; empty
	// means the keyring root.
	cwd []string
}

func NewApp(ctx context.Context, c *config.Config) (*App, error) {
	store, err := localstore.Open(ctx, c.DataDir)
	if err != nil {
		return nil, err
	}

	// Persisted `set` overrides win over the config file.
	if v, err := store.GetSetting(ctx, settingServerURL); err == nil && v != nil {
		c.ServerURL = string(v)
	}
	if v, err := store.GetSetting(ctx, settingDownloadDir); err == nil && v != nil {
		c.DownloadDir = string(v)
	}

	httpClient := api.NewHTTPClient(c.ServerURL, c.RequestTimeout)

	return &App{
		config: c,
		http:   httpClient,
		engine: engine.New(httpClient, store),
		store:  store,
		reader: bufio.NewReader(os.Stdin),
	}, nil
}

func (a *App) Run(ctx context.Context) {
	defer a.store.Close()
	scanner := bufio.NewScanner(os.Stdin)
	runREPL(ctx, a, a.prompt, scanner)
}

func (a *App) isLoggedIn() bool {
	return a.engine.Session() != nil
}

func (a *App) prompt() string {
	s := a.engine.Session()
	if s == nil {
		return "-"
	}
	status := s.UserName
	if s.Offline {
		status += " (offline)"
	}
	return status + ":/" + joinSegments(a.cwd)
}

// cwdNode returns the folder node the cwd points at, nil at the root.
func (a *App) cwdNode() (*keyring.Node, error) {
	if len(a.cwd) == 0 {
		return nil, nil
	}
	return a.engine.Resolve(a.cwd)
}
