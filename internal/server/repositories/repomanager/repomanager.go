package repomanager

import (
	"context"
	"database/sql"

	"github.com/vaultfs/vaultfs/internal/dbx"
	"github.com/vaultfs/vaultfs/internal/server/repositories/keyrings"
	"github.com/vaultfs/vaultfs/internal/server/repositories/nodes"
	"github.com/vaultfs/vaultfs/internal/server/repositories/refreshtokens"
	"github.com/vaultfs/vaultfs/internal/server/repositories/rights"
	"github.com/vaultfs/vaultfs/internal/server/repositories/users"
)

// RepositoryManager vends repository implementations bound to a DBTX, so
// that a service can obtain the same repositories inside and outside a
// transaction.
type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Users(db dbx.DBTX) users.Repository
	RefreshTokens(db dbx.DBTX) refreshtokens.Repository
	Nodes(db dbx.DBTX) nodes.Repository
	Keyrings(db dbx.DBTX) keyrings.Repository
	Rights(db dbx.DBTX) rights.Repository
}
