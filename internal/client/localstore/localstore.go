// Package localstore keeps the client's persistent state in a local
// sqlite database: settings and per-account login material (salt,
// verifier, sealed private-key envelope) cached at last successful
// online login so credentials can be verified offline.
package localstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"github.com/vaultfs/vaultfs/internal/client/localstore/migrations"
	"github.com/vaultfs/vaultfs/internal/common"
	"github.com/vaultfs/vaultfs/internal/filex"
)

const dbFileName = "vaultfs.db"

// Account is one cached login identity. Verifier comparison against this
// row is the offline substitute for a server login; EncPrivateKey still
// requires the password-derived master key to open.
type Account struct {
	UserName      string
	Salt          []byte
	Verifier      []byte
	PublicKey     []byte
	EncPrivateKey []byte
	LastLogin     time.Time
}

// Store wraps the sqlite database under the client's data directory.
type Store struct {
	db *sql.DB
}

// Open ensures dir exists, opens (or creates) the database inside it and
// runs pending migrations.
func Open(ctx context.Context, dir string) (*Store, error) {
	path, err := filex.EnsureDir(dir)
	if err != nil {
		return nil, fmt.Errorf("data dir: %w", err)
	}

	db, err := sql.Open("sqlite", filepath.Join(path, dbFileName))
	if err != nil {
		return nil, fmt.Errorf("opening local db: %w", err)
	}

	if err := runMigrations(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating local db: %w", err)
	}

	return &Store{db: db}, nil
}

func runMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("sqlite3"); err != nil {
		return err
	}
	return goose.UpContext(ctx, db, ".")
}

func (s *Store) Close() error {
	return s.db.Close()
}

// SaveAccount inserts or refreshes the cached login material for one user.
func (s *Store) SaveAccount(ctx context.Context, a *Account) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO accounts (username, salt, verifier, public_key, enc_private_key, last_login)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(username) DO UPDATE SET
			salt = excluded.salt,
			verifier = excluded.verifier,
			public_key = excluded.public_key,
			enc_private_key = excluded.enc_private_key,
			last_login = excluded.last_login
	`, a.UserName, a.Salt, a.Verifier, a.PublicKey, a.EncPrivateKey, a.LastLogin.UnixMilli())
	if err != nil {
		return fmt.Errorf("saving account %s: %w", a.UserName, err)
	}
	return nil
}

// GetAccount returns the cached account or common.ErrNotFound.
func (s *Store) GetAccount(ctx context.Context, userName string) (*Account, error) {
	a := &Account{UserName: userName}
	var lastLogin int64
	err := s.db.QueryRowContext(ctx, `
		SELECT salt, verifier, public_key, enc_private_key, last_login
		FROM accounts WHERE username = ?
	`, userName).Scan(&a.Salt, &a.Verifier, &a.PublicKey, &a.EncPrivateKey, &lastLogin)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading account %s: %w", userName, err)
	}
	a.LastLogin = time.UnixMilli(lastLogin)
	return a, nil
}

// DeleteAccount drops the cached material, e.g. after a password change
// observed to be stale.
func (s *Store) DeleteAccount(ctx context.Context, userName string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM accounts WHERE username = ?`, userName)
	if err != nil {
		return fmt.Errorf("deleting account %s: %w", userName, err)
	}
	return nil
}

// SetSetting upserts one settings row.
func (s *Store) SetSetting(ctx context.Context, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return fmt.Errorf("setting %s: %w", key, err)
	}
	return nil
}

// GetSetting returns the value for key, or nil when unset.
func (s *Store) GetSetting(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading setting %s: %w", key, err)
	}
	return value, nil
}
