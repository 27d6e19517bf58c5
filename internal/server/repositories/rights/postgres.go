// Package rights provides the PostgreSQL-backed repository for per-user,
// per-node rights rows. Rights authorize server-mediated operations; they
// never gate decryption, which only keyring reachability can.
package rights

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

func (r *PostgresRepository) Grant(ctx context.Context, right *models.Right) error {
	query := `
		INSERT INTO rights (username, node_id, role)
		VALUES ($1, $2, $3)
		ON CONFLICT (username, node_id)
		DO UPDATE SET role = EXCLUDED.role
		WHERE rights.role <> 'owner'
	`
	if _, err := r.db.ExecContext(ctx, query, right.UserName, right.NodeID, right.Role); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Get(ctx context.Context, userName, nodeID string) (*models.Right, error) {
	query := `
		SELECT username, node_id, role FROM rights
		WHERE username = $1 AND node_id = $2
	`
	right := &models.Right{}
	err := r.db.QueryRowContext(ctx, query, userName, nodeID).Scan(&right.UserName, &right.NodeID, &right.Role)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return right, nil
}

func (r *PostgresRepository) Revoke(ctx context.Context, userName, nodeID string) error {
	query := `
		DELETE FROM rights WHERE username = $1 AND node_id = $2
	`
	if _, err := r.db.ExecContext(ctx, query, userName, nodeID); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) RevokeSubtree(ctx context.Context, userName string, nodeIDs []string) error {
	query := `
		DELETE FROM rights WHERE username = $1 AND node_id = ANY($2)
	`
	if _, err := r.db.ExecContext(ctx, query, userName, nodeIDs); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) DeleteForNode(ctx context.Context, nodeID string) error {
	query := `
		DELETE FROM rights WHERE node_id = $1
	`
	if _, err := r.db.ExecContext(ctx, query, nodeID); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}
