package keyrings

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/vaultfs/vaultfs/internal/common"
	"github.com/vaultfs/vaultfs/internal/server/models"
)

func newRepoWithMock(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	return NewPostgresRepository(db), mock, db
}

func TestCreateRing(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`^INSERT\s+INTO\s+keyrings\s+DEFAULT\s+VALUES\s+RETURNING\s+id$`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(3)))

	id, err := repo.CreateRing(context.Background())
	if err != nil {
		t.Fatalf("CreateRing error: %v", err)
	}
	if id != 3 {
		t.Fatalf("unexpected id: %d", id)
	}
}

func TestUpsert_OnConflictUpdates(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	q := `(?s)^\s*INSERT\s+INTO\s+keyring_keys.*ON\s+CONFLICT\s*\(keyring_id,\s*target_id\).*DO\s+UPDATE`
	mock.ExpectExec(q).
		WithArgs(int64(3), "node-a", []byte("wk")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Upsert(context.Background(), &models.KeyringKey{KeyringID: 3, TargetID: "node-a", WrappedKey: []byte("wk")})
	if err != nil {
		t.Fatalf("Upsert error: %v", err)
	}
}

func TestUpsert_MissingRingMapsToNotFound(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	q := `(?s)^\s*INSERT\s+INTO\s+keyring_keys`
	mock.ExpectExec(q).WillReturnError(&pgconn.PgError{Code: "23503"})

	err := repo.Upsert(context.Background(), &models.KeyringKey{KeyringID: 404, TargetID: "node-a"})
	if !errors.Is(err, common.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRemove_NotFound(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	q := `(?s)^\s*DELETE\s+FROM\s+keyring_keys\s+WHERE\s+keyring_id\s*=\s*\$1\s+AND\s+target_id\s*=\s*\$2`
	mock.ExpectExec(q).
		WithArgs(int64(3), "ghost").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.Remove(context.Background(), 3, "ghost")
	if !errors.Is(err, common.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRootHolders(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	q := `(?s)^\s*SELECT\s+u\.username,\s*u\.keyring_id,\s*u\.public_key\s+FROM\s+keyring_keys\s+k\s+JOIN\s+users\s+u`
	rows := sqlmock.NewRows([]string{"username", "keyring_id", "public_key"}).
		AddRow("alice", int64(1), []byte("pub-a")).
		AddRow("bob", int64(2), []byte("pub-b"))
	mock.ExpectQuery(q).WithArgs("node-a").WillReturnRows(rows)

	holders, err := repo.RootHolders(context.Background(), "node-a")
	if err != nil {
		t.Fatalf("RootHolders error: %v", err)
	}
	if len(holders) != 2 || holders[0].UserName != "alice" || holders[1].UserName != "bob" {
		t.Fatalf("unexpected holders: %+v", holders)
	}
}

func TestParentFolder_NoneIsEmpty(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	q := `(?s)^\s*SELECT\s+n\.id\s+FROM\s+keyring_keys\s+k\s+JOIN\s+nodes\s+n`
	mock.ExpectQuery(q).WithArgs("root-node").WillReturnError(sql.ErrNoRows)

	id, err := repo.ParentFolder(context.Background(), "root-node")
	if err != nil {
		t.Fatalf("ParentFolder error: %v", err)
	}
	if id != "" {
		t.Fatalf("expected empty parent, got %q", id)
	}
}

func TestLock_EmptySetSkipsQuery(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	if err := repo.Lock(context.Background(), nil); err != nil {
		t.Fatalf("Lock error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unexpected queries: %v", err)
	}
}
