package cli

import (
	"bufio"
	"context"
	"fmt"
	"strings"
)

// printlnFn is a test seam for user-facing output.
var printlnFn = fmt.Println

// execIface is the command surface the REPL dispatches to. The real App
// satisfies it; tests provide a stub.
type execIface interface {
	isLoggedIn() bool
	Register(ctx context.Context) error
	Login(ctx context.Context) error
	Logout(ctx context.Context) error
	ChangePassword(ctx context.Context) error
	List(ctx context.Context, args []string) error
	ChangeDir(ctx context.Context, args []string) error
	PrintWorkDir(ctx context.Context) error
	Mkdir(ctx context.Context, args []string) error
	Upload(ctx context.Context, args []string) error
	Download(ctx context.Context, args []string) error
	Cat(ctx context.Context, args []string) error
	Write(ctx context.Context, args []string) error
	Remove(ctx context.Context, args []string) error
	Share(ctx context.Context, args []string) error
	Revoke(ctx context.Context, args []string) error
	Set(ctx context.Context, args []string) error
	Ping(ctx context.Context) error
}

// runREPL reads a line, parses the first token as the command and
// dispatches to a. Handlers report their own errors, so the loop only
// cares about I/O; it exits on scanner EOF or "exit"/"quit".
func runREPL(ctx context.Context, a execIface, statusFn func() string, scanner *bufio.Scanner) {
	for {
		printlnFn(fmt.Sprintf("vfs %s > ", statusFn()))
		if !scanner.Scan() {
			return
		}
		parts := strings.Fields(scanner.Text())
		if len(parts) == 0 {
			continue
		}
		cmd, args := parts[0], parts[1:]

		switch cmd {
		case "help":
			if a.isLoggedIn() {
				printlnFn("Available commands: ls, cd, pwd, mkdir, upload, download, cat, write, rm, share, revoke, passwd, set, ping, logout, exit")
			} else {
				printlnFn("Available commands: register, login, set, ping, exit")
			}

		case "register":
			_ = a.Register(ctx)

		case "login":
			_ = a.Login(ctx)

		case "logout":
			_ = a.Logout(ctx)

		case "passwd":
			_ = a.ChangePassword(ctx)

		case "l", "ls":
			_ = a.List(ctx, args)

		case "cd":
			_ = a.ChangeDir(ctx, args)

		case "pwd":
			_ = a.PrintWorkDir(ctx)

		case "mkdir":
			_ = a.Mkdir(ctx, args)

		case "upload":
			_ = a.Upload(ctx, args)

		case "download":
			_ = a.Download(ctx, args)

		case "cat":
			_ = a.Cat(ctx, args)

		case "write":
			_ = a.Write(ctx, args)

		case "rm":
			_ = a.Remove(ctx, args)

		case "share":
			_ = a.Share(ctx, args)

		case "revoke":
			_ = a.Revoke(ctx, args)

		case "set":
			_ = a.Set(ctx, args)

		case "ping":
			_ = a.Ping(ctx)

		case "exit", "quit":
			printlnFn("Bye!")
			return

		default:
			printlnFn("Unknown command:", cmd)
		}
	}
}
