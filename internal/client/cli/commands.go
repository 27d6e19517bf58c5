package cli

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/vaultfs/vaultfs/internal/common"
	"github.com/vaultfs/vaultfs/internal/filex"
	"github.com/vaultfs/vaultfs/internal/keyring"
)

func (a *App) fail(err error) error {
	errLine("error:", err.Error())
	return err
}

func (a *App) Register(ctx context.Context) error {
	userName, err := GetSimpleText(a.reader, "User name", os.Stdout)
	if err != nil {
		return a.fail(err)
	}
	password, err := GetPassword(os.Stdout, "Password")
	if err != nil {
		return a.fail(err)
	}
	defer common.WipeByteArray(password)
	confirm, err := GetPassword(os.Stdout, "Repeat password")
	if err != nil {
		return a.fail(err)
	}
	defer common.WipeByteArray(confirm)
	if !bytes.Equal(password, confirm) {
		return a.fail(fmt.Errorf("passwords do not match"))
	}

	if err := a.engine.Register(ctx, userName, string(password)); err != nil {
		return a.fail(err)
	}
	okLine("Registered. You can log in now.")
	return nil
}

func (a *App) Login(ctx context.Context) error {
	userName, err := GetSimpleText(a.reader, "User name", os.Stdout)
	if err != nil {
		return a.fail(err)
	}
	password, err := GetPassword(os.Stdout, "Password")
	if err != nil {
		return a.fail(err)
	}
	defer common.WipeByteArray(password)

	err = withSpinner("unlocking keyring...", func() error {
		return a.engine.Unlock(ctx, userName, string(password))
	})
	if err != nil {
		return a.fail(err)
	}

	a.cwd = nil
	if s := a.engine.Session(); s.Offline {
		infoLine("Server unreachable; logged in offline (identity only).")
	} else {
		okLine("Logged in.")
	}
	return nil
}

func (a *App) Logout(_ context.Context) error {
	a.engine.Lock()
	a.http.Logout()
	a.cwd = nil
	okLine("Logged out.")
	return nil
}

func (a *App) ChangePassword(ctx context.Context) error {
	password, err := GetPassword(os.Stdout, "New password")
	if err != nil {
		return a.fail(err)
	}
	defer common.WipeByteArray(password)
	confirm, err := GetPassword(os.Stdout, "Repeat new password")
	if err != nil {
		return a.fail(err)
	}
	defer common.WipeByteArray(confirm)
	if !bytes.Equal(password, confirm) {
		return a.fail(fmt.Errorf("passwords do not match"))
	}

	if err := a.engine.ChangePassword(ctx, string(password)); err != nil {
		return a.fail(err)
	}
	okLine("Password changed.")
	return nil
}

func (a *App) List(_ context.Context, args []string) error {
	target := a.cwd
	if len(args) > 0 {
		target = splitPath(a.cwd, args[0])
	}

	var children []*keyring.Node
	if len(target) == 0 {
		children = a.engine.Session().Tree().Roots
	} else {
		node, err := a.engine.Resolve(target)
		if err != nil {
			return a.fail(err)
		}
		if !node.Folder {
			return a.fail(common.ErrNotFound)
		}
		children = node.Children
	}

	for _, c := range children {
		kind := "file"
		if c.Folder {
			kind = "dir "
		}
		fmt.Printf("%s  %8d  %s\n", kind, c.Size, c.Name)
	}
	return nil
}

func (a *App) ChangeDir(_ context.Context, args []string) error {
	if len(args) == 0 {
		a.cwd = nil
		return nil
	}
	target := splitPath(a.cwd, args[0])
	if len(target) > 0 {
		node, err := a.engine.Resolve(target)
		if err != nil {
			return a.fail(err)
		}
		if !node.Folder {
			return a.fail(fmt.Errorf("not a folder: %s", args[0]))
		}
	}
	a.cwd = target
	return nil
}

func (a *App) PrintWorkDir(_ context.Context) error {
	fmt.Println("/" + joinSegments(a.cwd))
	return nil
}

// resolveParent splits arg into its parent folder node (nil for root)
// and leaf name.
func (a *App) resolveParent(arg string) (*keyring.Node, string, error) {
	segs := splitPath(a.cwd, arg)
	if len(segs) == 0 {
		return nil, "", common.ErrNotFound
	}
	leaf := segs[len(segs)-1]
	parentSegs := segs[:len(segs)-1]
	if len(parentSegs) == 0 {
		return nil, leaf, nil
	}
	parent, err := a.engine.Resolve(parentSegs)
	if err != nil {
		return nil, "", err
	}
	return parent, leaf, nil
}

func (a *App) Mkdir(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return a.fail(fmt.Errorf("usage: mkdir <path>"))
	}
	parent, name, err := a.resolveParent(args[0])
	if err != nil {
		return a.fail(err)
	}
	if _, err := a.engine.Mkdir(ctx, parent, name); err != nil {
		return a.fail(err)
	}
	okLine("Created", args[0])
	return nil
}

func (a *App) Upload(ctx context.Context, args []string) error {
	if len(args) < 1 || len(args) > 2 {
		return a.fail(fmt.Errorf("usage: upload <local path> [name]"))
	}
	content, err := os.ReadFile(args[0])
	if err != nil {
		return a.fail(err)
	}
	name := filepath.Base(args[0])
	if len(args) == 2 {
		name = args[1]
	}

	parent, err := a.cwdNode()
	if err != nil {
		return a.fail(err)
	}
	if _, err := a.engine.Upload(ctx, parent, name, content); err != nil {
		return a.fail(err)
	}
	okLine("Uploaded", name)
	return nil
}

func (a *App) Download(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return a.fail(fmt.Errorf("usage: download <path>"))
	}
	node, err := a.engine.Resolve(splitPath(a.cwd, args[0]))
	if err != nil {
		return a.fail(err)
	}
	body, err := a.engine.ReadFile(ctx, node)
	if err != nil {
		return a.fail(err)
	}

	dir, err := filex.EnsureDir(a.config.DownloadDir)
	if err != nil {
		return a.fail(err)
	}
	dest := filepath.Join(dir, node.Name)
	if err := os.WriteFile(dest, body, 0o600); err != nil {
		return a.fail(err)
	}
	okLine("Saved to", dest)
	return nil
}

func (a *App) Cat(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return a.fail(fmt.Errorf("usage: cat <path>"))
	}
	node, err := a.engine.Resolve(splitPath(a.cwd, args[0]))
	if err != nil {
		return a.fail(err)
	}
	body, err := a.engine.ReadFile(ctx, node)
	if err != nil {
		return a.fail(err)
	}
	fmt.Println(string(body))
	return nil
}

func (a *App) Write(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return a.fail(fmt.Errorf("usage: write <path>"))
	}
	node, err := a.engine.Resolve(splitPath(a.cwd, args[0]))
	if err != nil {
		return a.fail(err)
	}
	content, err := GetSimpleText(a.reader, "New content", os.Stdout)
	if err != nil {
		return a.fail(err)
	}
	if err := a.engine.WriteFile(ctx, node, []byte(content)); err != nil {
		return a.fail(err)
	}
	okLine("Written.")
	return nil
}

func (a *App) Remove(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return a.fail(fmt.Errorf("usage: rm <path>"))
	}
	node, err := a.engine.Resolve(splitPath(a.cwd, args[0]))
	if err != nil {
		return a.fail(err)
	}
	if err := a.engine.Remove(ctx, node); err != nil {
		return a.fail(err)
	}
	okLine("Removed", args[0])
	return nil
}

func (a *App) Share(ctx context.Context, args []string) error {
	if len(args) < 2 || len(args) > 3 {
		return a.fail(fmt.Errorf("usage: share <path> <user> [read|write]"))
	}
	node, err := a.engine.Resolve(splitPath(a.cwd, args[0]))
	if err != nil {
		return a.fail(err)
	}
	role := "read"
	if len(args) == 3 {
		role = args[2]
	}
	if err := a.engine.Share(ctx, node, args[1], role); err != nil {
		return a.fail(err)
	}
	okLine("Shared", args[0], "with", args[1])
	return nil
}

func (a *App) Revoke(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return a.fail(fmt.Errorf("usage: revoke <path> <user>"))
	}
	node, err := a.engine.Resolve(splitPath(a.cwd, args[0]))
	if err != nil {
		return a.fail(err)
	}
	err = withSpinner("rotating subtree keys...", func() error {
		return a.engine.Revoke(ctx, node, args[1])
	})
	if err != nil {
		return a.fail(err)
	}
	okLine("Revoked", args[1], "from", args[0])
	return nil
}

// Settings the REPL can persist across sessions. Values live in the
// local store and override the config file on the next start; the
// download dir also applies to the running session.
const (
	settingServerURL   = "server_url"
	settingDownloadDir = "download_dir"
)

func (a *App) Set(ctx context.Context, args []string) error {
	usage := fmt.Errorf("usage: set <%s|%s> [value]", settingServerURL, settingDownloadDir)
	if len(args) < 1 || len(args) > 2 {
		return a.fail(usage)
	}
	key := args[0]
	if key != settingServerURL && key != settingDownloadDir {
		return a.fail(usage)
	}

	if len(args) == 1 {
		val, err := a.store.GetSetting(ctx, key)
		if err != nil {
			return a.fail(err)
		}
		if val == nil {
			infoLine(key, "is not set")
		} else {
			fmt.Println(string(val))
		}
		return nil
	}

	if err := a.store.SetSetting(ctx, key, []byte(args[1])); err != nil {
		return a.fail(err)
	}
	switch key {
	case settingDownloadDir:
		a.config.DownloadDir = args[1]
		okLine("Set", key)
	case settingServerURL:
		okLine("Set", key, "(takes effect on next start)")
	}
	return nil
}

func (a *App) Ping(ctx context.Context) error {
	if err := a.http.Ping(ctx); err != nil {
		return a.fail(err)
	}
	okLine("Server is up.")
	return nil
}
