package dbx

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

// the fixture mimics the keyring-entries shape that WithTx guards in
// production: revocation must never leave a ring half rotated.
func setupDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", "file:dbxtest?mode=memory&cache=shared")
	require.NoError(t, err)
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(4)
	t.Cleanup(func() { _ = db.Close() })
	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS entries (id INTEGER PRIMARY KEY, target TEXT, wrapped BLOB);`)
	require.NoError(t, err)
	_, err = db.Exec(`DELETE FROM entries`)
	require.NoError(t, err)
	return db
}

func countEntries(t *testing.T, db *sql.DB) int {
	t.Helper()
	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM entries`).Scan(&n))
	return n
}

func insertEntry(ctx context.Context, tx DBTX, target string) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO entries(target, wrapped) VALUES (?, ?)`, target, []byte("wk"))
	return err
}

func TestWithTx_CommitsOnSuccess(t *testing.T) {
	db := setupDB(t)

	err := WithTx(context.Background(), db, nil, func(ctx context.Context, tx DBTX) error {
		return insertEntry(ctx, tx, "node-a")
	})
	require.NoError(t, err)
	require.Equal(t, 1, countEntries(t, db))
}

func TestWithTx_MultiStatementIsAtomic(t *testing.T) {
	db := setupDB(t)

	err := WithTx(context.Background(), db, nil, func(ctx context.Context, tx DBTX) error {
		if err := insertEntry(ctx, tx, "node-a"); err != nil {
			return err
		}
		if err := insertEntry(ctx, tx, "node-b"); err != nil {
			return err
		}
		return errors.New("boom")
	})
	require.Error(t, err)
	require.Equal(t, 0, countEntries(t, db), "neither insert may survive")
}

func TestWithTx_RollbackOnFnError(t *testing.T) {
	db := setupDB(t)

	err := WithTx(context.Background(), db, nil, func(ctx context.Context, tx DBTX) error {
		require.NoError(t, insertEntry(ctx, tx, "node-a"))
		return errors.New("boom")
	})
	require.Error(t, err)
	require.Equal(t, 0, countEntries(t, db))
}

func TestWithTx_RollbackOnPanic(t *testing.T) {
	db := setupDB(t)

	defer func() {
		if r := recover(); r == nil {
			t.Fatalf("expected panic to propagate")
		}
		require.Equal(t, 0, countEntries(t, db))
	}()

	_ = WithTx(context.Background(), db, nil, func(ctx context.Context, tx DBTX) error {
		require.NoError(t, insertEntry(ctx, tx, "node-a"))
		panic("kaput")
	})
}

func TestWithTx_BeginError(t *testing.T) {
	db := setupDB(t)
	require.NoError(t, db.Close())

	err := WithTx(context.Background(), db, nil, func(ctx context.Context, tx DBTX) error {
		return nil
	})
	require.Error(t, err, "begin should fail when DB is closed")
}
