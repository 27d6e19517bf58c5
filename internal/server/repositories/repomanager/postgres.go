// Package repomanager provides a concrete RepositoryManager for PostgreSQL,
// wiring together repository constructors and database migrations (via goose).
package repomanager

import (
	"context"
	"database/sql"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/vaultfs/vaultfs/internal/dbx"
	"github.com/vaultfs/vaultfs/internal/server/migrations"
	"github.com/vaultfs/vaultfs/internal/server/repositories/keyrings"
	"github.com/vaultfs/vaultfs/internal/server/repositories/nodes"
	"github.com/vaultfs/vaultfs/internal/server/repositories/refreshtokens"
	"github.com/vaultfs/vaultfs/internal/server/repositories/rights"
	"github.com/vaultfs/vaultfs/internal/server/repositories/users"
)

// PostgresRepositoryManager vends PostgreSQL-backed repository implementations
// and exposes a schema migration hook.
type PostgresRepositoryManager struct{}

// Users returns a users.Repository bound to the provided DBTX.
func (m *PostgresRepositoryManager) Users(db dbx.DBTX) users.Repository {
	return users.NewPostgresRepository(db)
}

// RefreshTokens returns a refreshtokens.Repository bound to the provided DBTX.
func (m *PostgresRepositoryManager) RefreshTokens(db dbx.DBTX) refreshtokens.Repository {
	return refreshtokens.NewPostgresRepository(db)
}

// Nodes returns a nodes.Repository bound to the provided DBTX.
func (m *PostgresRepositoryManager) Nodes(db dbx.DBTX) nodes.Repository {
	return nodes.NewPostgresRepository(db)
}

// Keyrings returns a keyrings.Repository bound to the provided DBTX.
func (m *PostgresRepositoryManager) Keyrings(db dbx.DBTX) keyrings.Repository {
	return keyrings.NewPostgresRepository(db)
}

// Rights returns a rights.Repository bound to the provided DBTX.
func (m *PostgresRepositoryManager) Rights(db dbx.DBTX) rights.Repository {
	return rights.NewPostgresRepository(db)
}

// gooseUpContext is a seam for testing goose.UpContext.
var gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
	return goose.UpContext(ctx, db, dir, opts...)
}

// RunMigrations sets up goose with the embedded migrations and runs them
// against the provided database connection.
func (m *PostgresRepositoryManager) RunMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("pgx"); err != nil {
		return err
	}
	if err := gooseUpContext(ctx, db, "."); err != nil {
		return err
	}
	return nil
}

// NewPostgresRepositoryManager constructs a PostgreSQL-backed RepositoryManager.
func NewPostgresRepositoryManager() *PostgresRepositoryManager {
	return &PostgresRepositoryManager{}
}
