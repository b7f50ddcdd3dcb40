package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite" // SQLite driver
)

// DriverName is the database/sql driver registered by modernc.org/sqlite.
const DriverName = "sqlite"

func init() {
	sqlx.BindDriver(DriverName, sqlx.QUESTION)
}

// ErrStoreBusy is returned by TryWriteTx while an exclusive operation holds
// the store.
var ErrStoreBusy = errors.New("store busy with exclusive operation")

// DB is the shared handle to the embedded store. SQLite in WAL mode serves
// concurrent readers; writers are serialised through WithWriteTx so a long
// batch upsert never fails with SQLITE_BUSY halfway through.
type DB struct {
	*sqlx.DB
	path      string
	writeMu   sync.Mutex
	exclusive atomic.Bool
}

// Open opens a connection to the SQLite database at dbPath, creating the
// parent directory if needed.
func Open(dbPath string) (*DB, error) {
	if dbPath != ":memory:" {
		if dir := filepath.Dir(dbPath); dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o750); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
	}

	dsn := dbPath
	if !strings.HasPrefix(dsn, "file:") {
		dsn = "file:" + dsn
	}
	dsn += "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"

	db, err := sqlx.Open(DriverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Test the connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if dbPath == ":memory:" {
		// Every pooled connection would otherwise get its own empty database.
		db.SetMaxOpenConns(1)
	} else if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	// Set timezone to UTC
	if _, err := db.Exec("PRAGMA timezone = 'UTC'"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set timezone: %w", err)
	}

	return &DB{DB: db, path: dbPath}, nil
}

// Path returns the file the store lives in.
func (d *DB) Path() string {
	return d.path
}

// WithWriteTx runs fn inside a transaction while holding the store-wide
// writer lock. The transaction is rolled back if fn returns an error.
func (d *DB) WithWriteTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	d.writeMu.Lock()
	defer d.writeMu.Unlock()

	tx, err := d.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// TryWriteTx is WithWriteTx for writes that may be dropped. It returns
// ErrStoreBusy instead of queueing behind an exclusive operation.
func (d *DB) TryWriteTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	if d.exclusive.Load() {
		return ErrStoreBusy
	}
	return d.WithWriteTx(ctx, fn)
}

// Exclusive runs fn while holding the writer lock and flagging the store as
// busy, so TryWriteTx callers skip their writes until fn returns.
func (d *DB) Exclusive(ctx context.Context, fn func(ctx context.Context) error) error {
	d.writeMu.Lock()
	defer d.writeMu.Unlock()
	d.exclusive.Store(true)
	defer d.exclusive.Store(false)
	return fn(ctx)
}

// ExecExclusive runs a statement that cannot live inside a transaction
// (VACUUM) under Exclusive.
func (d *DB) ExecExclusive(ctx context.Context, query string) (sql.Result, error) {
	var res sql.Result
	err := d.Exclusive(ctx, func(ctx context.Context) error {
		var err error
		res, err = d.ExecContext(ctx, query)
		return err
	})
	return res, err
}

// HealthCheck performs a simple health check on the database
func HealthCheck(db *DB) error {
	return db.Ping()
}
