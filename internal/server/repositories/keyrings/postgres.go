// Package keyrings provides the PostgreSQL-backed repository for keyring
// rows and their wrapped-key entries.
package keyrings

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/vaultfs/vaultfs/internal/common"
	"github.com/vaultfs/vaultfs/internal/dbx"
	"github.com/vaultfs/vaultfs/internal/server/models"
)

// PostgresRepository implements Repository over dbx.DBTX.
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) CreateRing(ctx context.Context) (int64, error) {
	var id int64
	if err := r.db.QueryRowContext(ctx, `INSERT INTO keyrings DEFAULT VALUES RETURNING id`).Scan(&id); err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return id, nil
}

func (r *PostgresRepository) DeleteRing(ctx context.Context, id int64) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM keyrings WHERE id = $1`, id); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Upsert(ctx context.Context, key *models.KeyringKey) error {
	query := `
		INSERT INTO keyring_keys (keyring_id, target_id, wrapped_key)
		VALUES ($1, $2, $3)
		ON CONFLICT (keyring_id, target_id)
		DO UPDATE SET wrapped_key = EXCLUDED.wrapped_key
	`
	if _, err := r.db.ExecContext(ctx, query, key.KeyringID, key.TargetID, key.WrappedKey); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return common.ErrNotFound
		}
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Remove(ctx context.Context, keyringID int64, targetID string) error {
	query := `
		DELETE FROM keyring_keys WHERE keyring_id = $1 AND target_id = $2
	`
	res, err := r.db.ExecContext(ctx, query, keyringID, targetID)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	if n == 0 {
		return common.ErrNotFound
	}
	return nil
}

func (r *PostgresRepository) List(ctx context.Context, keyringID int64) ([]*models.KeyringKey, error) {
	query := `
		SELECT keyring_id, target_id, wrapped_key
		FROM keyring_keys
		WHERE keyring_id = $1
	`
	rows, err := r.db.QueryContext(ctx, query, keyringID)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var result []*models.KeyringKey
	for rows.Next() {
		k := &models.KeyringKey{}
		if err := rows.Scan(&k.KeyringID, &k.TargetID, &k.WrappedKey); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		result = append(result, k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return result, nil
}

func (r *PostgresRepository) RemoveAllFor(ctx context.Context, targetID string) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM keyring_keys WHERE target_id = $1`, targetID)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected error: %w", err)
	}
	return n, nil
}

func (r *PostgresRepository) RootHolders(ctx context.Context, targetID string) ([]*Holder, error) {
	query := `
		SELECT u.username, u.keyring_id, u.public_key
		FROM keyring_keys k
		JOIN users u ON u.keyring_id = k.keyring_id
		WHERE k.target_id = $1
	`
	rows, err := r.db.QueryContext(ctx, query, targetID)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var result []*Holder
	for rows.Next() {
		h := &Holder{}
		if err := rows.Scan(&h.UserName, &h.KeyringID, &h.PublicKey); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		result = append(result, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return result, nil
}

func (r *PostgresRepository) ParentFolder(ctx context.Context, targetID string) (string, error) {
	query := `
		SELECT n.id
		FROM keyring_keys k
		JOIN nodes n ON n.keyring_id = k.keyring_id
		WHERE k.target_id = $1
		LIMIT 1
	`
	var id string
	if err := r.db.QueryRowContext(ctx, query, targetID).Scan(&id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("db error: %w", err)
	}
	return id, nil
}

func (r *PostgresRepository) Lock(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	// pgx in database/sql mode passes slices through as arrays.
	query := `
		SELECT id FROM keyrings WHERE id = ANY($1) ORDER BY id FOR UPDATE
	`
	rows, err := r.db.QueryContext(ctx, query, ids)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return fmt.Errorf("db error: %w", err)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}
