package shared

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func TestDSN(t *testing.T) {
	t.Run("plain path", func(t *testing.T) {
		assert.Equal(t, "spotsync.db?"+connParams, dsn("spotsync.db"))
	})

	t.Run("path with query", func(t *testing.T) {
		assert.Equal(t, "file:spotsync.db?cache=shared&"+connParams, dsn("file:spotsync.db?cache=shared"))
	})
}

func TestOpenDatabase(t *testing.T) {
	open := func(t *testing.T) *sql.DB {
		t.Helper()
		cfg := DefaultConfig().Database
		cfg.Path = filepath.Join(t.TempDir(), "spotsync.db")
		db, err := OpenDatabase(cfg)
		require.NoError(t, err)
		t.Cleanup(func() { db.Close() })
		return db
	}

	t.Run("file databases use WAL", func(t *testing.T) {
		db := open(t)

		var mode string
		require.NoError(t, db.QueryRow(`PRAGMA journal_mode`).Scan(&mode))
		assert.Equal(t, "wal", mode)
	})

	t.Run("concurrent read-then-write transactions wait for the lock", func(t *testing.T) {
		db := open(t)
		ctx := context.Background()
		_, err := db.Exec(`CREATE TABLE counters (name TEXT PRIMARY KEY, n INTEGER NOT NULL)`)
		require.NoError(t, err)

		g, gctx := errgroup.WithContext(ctx)
		for i := range 16 {
			g.Go(func() error {
				tx, err := db.BeginTx(gctx, nil)
				if err != nil {
					return err
				}
				defer tx.Rollback()

				var n int
				if err := tx.QueryRow(`SELECT COUNT(*) FROM counters`).Scan(&n); err != nil {
					return err
				}
				for j := range 50 {
					if _, err := tx.Exec(`INSERT INTO counters (name, n) VALUES (?, ?)`, fmt.Sprintf("w%d-%d", i, j), n); err != nil {
						return err
					}
				}
				return tx.Commit()
			})
		}
		require.NoError(t, g.Wait())

		var total int
		require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM counters`).Scan(&total))
		assert.Equal(t, 16*50, total)
	})
}
