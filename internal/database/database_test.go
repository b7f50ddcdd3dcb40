package database

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTemp(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "nested", "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

// TestMigrate_Idempotent verifies initialize-store can run repeatedly.
//
// WHY: initialize-store is invoked by an external scheduler; a second run must
// neither fail nor re-apply migrations.
func TestMigrate_Idempotent(t *testing.T) {
	ctx := context.Background()
	db := openTemp(t)

	applied, err := Migrate(ctx, db)
	require.NoError(t, err)
	assert.Equal(t, 2, applied)

	applied, err = Migrate(ctx, db)
	require.NoError(t, err)
	assert.Equal(t, 0, applied)

	current, latest, err := SchemaVersion(ctx, db)
	require.NoError(t, err)
	assert.Equal(t, latest, current)
	assert.EqualValues(t, 2, current)

	for _, table := range []string{"bar_cache", "bar_coverage", "earnings_announcement", "earnings_window", "symbol_mapping"} {
		var name string
		err := db.Get(&name, "SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?", table)
		require.NoError(t, err, table)
	}
}

func TestWithWriteTx(t *testing.T) {
	ctx := context.Background()
	db := openTemp(t)
	_, err := Migrate(ctx, db)
	require.NoError(t, err)

	t.Run("commits on success", func(t *testing.T) {
		err := db.WithWriteTx(ctx, func(tx *sqlx.Tx) error {
			_, err := tx.Exec(`INSERT INTO symbol_mapping (source_code, canonical_symbol, company_name, last_updated)
				VALUES ('500325', 'RELIANCE', 'Reliance', '2024-01-01')`)
			return err
		})
		require.NoError(t, err)

		var count int
		require.NoError(t, db.Get(&count, "SELECT COUNT(*) FROM symbol_mapping"))
		assert.Equal(t, 1, count)
	})

	t.Run("rolls back on error", func(t *testing.T) {
		boom := errors.New("boom")
		err := db.WithWriteTx(ctx, func(tx *sqlx.Tx) error {
			if _, err := tx.Exec(`INSERT INTO symbol_mapping (source_code, canonical_symbol, company_name, last_updated)
				VALUES ('532540', 'TCS', 'TCS', '2024-01-01')`); err != nil {
				return err
			}
			return boom
		})
		assert.ErrorIs(t, err, boom)

		var count int
		require.NoError(t, db.Get(&count, "SELECT COUNT(*) FROM symbol_mapping"))
		assert.Equal(t, 1, count)
	})
}

// TestExclusive verifies that droppable writes skip an exclusive operation.
//
// WHY: VACUUM can hold the writer lock for minutes on a large store; cache
// write-backs from the read path must not queue behind it.
func TestExclusive(t *testing.T) {
	ctx := context.Background()
	db := openTemp(t)
	_, err := Migrate(ctx, db)
	require.NoError(t, err)

	insert := func(tx *sqlx.Tx) error {
		_, err := tx.Exec(`INSERT OR REPLACE INTO symbol_mapping (source_code, canonical_symbol, company_name, last_updated)
			VALUES ('500209', 'INFY', 'Infosys', '2024-01-01')`)
		return err
	}

	err = db.Exclusive(ctx, func(ctx context.Context) error {
		return db.TryWriteTx(ctx, insert)
	})
	assert.ErrorIs(t, err, ErrStoreBusy)

	var count int
	require.NoError(t, db.Get(&count, "SELECT COUNT(*) FROM symbol_mapping"))
	assert.Zero(t, count)

	require.NoError(t, db.TryWriteTx(ctx, insert), "writes resume once the exclusive operation ends")
	_, err = db.ExecExclusive(ctx, "VACUUM")
	require.NoError(t, err)
}

func TestHealthCheck(t *testing.T) {
	db := openTemp(t)
	assert.NoError(t, HealthCheck(db))

	db.Close()
	assert.Error(t, HealthCheck(db))
}
