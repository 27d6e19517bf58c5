// Package nodes provides the PostgreSQL-backed repository for file and
// folder rows. All name and content columns hold ciphertext only.
package nodes

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

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

func (r *PostgresRepository) Create(ctx context.Context, node *models.Node) error {
	query := `
		INSERT INTO nodes (id, name_ct, mtime, size, content, blob_key, keyring_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := r.db.ExecContext(ctx, query,
		node.ID, node.NameCT, node.Mtime, node.Size, node.Content, node.BlobKey, nullableID(node.KeyringID))
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Get(ctx context.Context, id string) (*models.Node, error) {
	query := `
		SELECT id, name_ct, mtime, size, content, blob_key, COALESCE(keyring_id, 0)
		FROM nodes
		WHERE id = $1
	`
	return r.scanOne(r.db.QueryRowContext(ctx, query, id))
}

func (r *PostgresRepository) GetMeta(ctx context.Context, id string) (*models.Node, error) {
	query := `
		SELECT id, name_ct, mtime, size, NULL, blob_key, COALESCE(keyring_id, 0)
		FROM nodes
		WHERE id = $1
	`
	return r.scanOne(r.db.QueryRowContext(ctx, query, id))
}

func (r *PostgresRepository) UpdateCiphertext(ctx context.Context, id string, nameCT, content []byte, blobKey string, mtime int64) error {
	query := `
		UPDATE nodes
		SET name_ct = $2,
		    content = COALESCE($3, content),
		    blob_key = CASE WHEN $4 <> '' THEN $4 ELSE blob_key END,
		    mtime = $5
		WHERE id = $1
	`
	res, err := r.db.ExecContext(ctx, query, id, nameCT, content, blobKey, mtime)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return oneRow(res)
}

func (r *PostgresRepository) UpdateContent(ctx context.Context, id string, content []byte, size, mtime int64) error {
	query := `
		UPDATE nodes
		SET content = $2, size = $3, mtime = $4
		WHERE id = $1
	`
	res, err := r.db.ExecContext(ctx, query, id, content, size, mtime)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return oneRow(res)
}

func (r *PostgresRepository) Delete(ctx context.Context, id string) error {
	query := `
		DELETE FROM nodes WHERE id = $1
	`
	res, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return oneRow(res)
}

func (r *PostgresRepository) scanOne(row *sql.Row) (*models.Node, error) {
	node := &models.Node{}
	err := row.Scan(&node.ID, &node.NameCT, &node.Mtime, &node.Size,
		&node.Content, &node.BlobKey, &node.KeyringID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return node, nil
}

func oneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	if n == 0 {
		return common.ErrNotFound
	}
	return nil
}

func nullableID(id int64) any {
	if id == 0 {
		return nil
	}
	return id
}
