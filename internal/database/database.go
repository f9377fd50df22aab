package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const (
	sqliteBusyCode          = 5
	sqliteLockedCode        = 6
	sqliteConstraintCode    = 19
	busyRetryAttempts       = 8
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 250 * time.Millisecond
)

// DB is the shared SQLite handle used by every store.
type DB struct {
	db   *sql.DB
	path string
}

// Open connects to (creating if needed) the database at path and applies
// pending migrations.
func Open(ctx context.Context, path string) (*DB, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("ensure database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	wrapped := &DB{db: db, path: path}
	if err := wrapped.applyMigrations(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return wrapped, nil
}

func dsn(path string) string {
	params := url.Values{}
	params.Add("_pragma", "busy_timeout(5000)")
	params.Add("_pragma", "journal_mode(WAL)")
	params.Add("_pragma", "foreign_keys(1)")
	params.Add("_pragma", "synchronous(NORMAL)")
	params.Set("_txlock", "immediate")
	return "file:" + path + "?" + params.Encode()
}

// SQL exposes the underlying handle for read queries.
func (d *DB) SQL() *sql.DB {
	return d.db
}

// Path returns the database file location.
func (d *DB) Path() string {
	return d.path
}

// Close closes the underlying database connection.
func (d *DB) Close() error {
	if d == nil || d.db == nil {
		return nil
	}
	return d.db.Close()
}

// WithTx runs fn inside a write transaction, retrying the whole transaction
// when SQLite reports the database busy. fn must be safe to re-run.
func (d *DB) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	return RetryOnBusy(ctx, func() error {
		tx, err := d.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		if err := fn(tx); err != nil {
			_ = tx.Rollback()
			return err
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}
		return nil
	})
}

// Exec runs a single statement with busy retry.
func (d *DB) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	var (
		res     sql.Result
		execErr error
	)
	if err := RetryOnBusy(ctx, func() error {
		res, execErr = d.db.ExecContext(ctx, query, args...)
		return execErr
	}); err != nil {
		return nil, err
	}
	return res, nil
}

// RetryOnBusy re-invokes op with backoff while it fails with SQLITE_BUSY.
func RetryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !IsBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}

func sqliteCode(err error) (int, bool) {
	var coder interface{ Code() int }
	if errors.As(err, &coder) {
		return coder.Code() & 0xff, true
	}
	return 0, false
}

// IsBusy reports whether err is SQLITE_BUSY or SQLITE_LOCKED.
func IsBusy(err error) bool {
	if err == nil {
		return false
	}
	if code, ok := sqliteCode(err); ok {
		return code == sqliteBusyCode || code == sqliteLockedCode
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

// IsConstraint reports whether err is a constraint violation (unique, check,
// foreign key).
func IsConstraint(err error) bool {
	if err == nil {
		return false
	}
	if code, ok := sqliteCode(err); ok {
		return code == sqliteConstraintCode
	}
	return strings.Contains(err.Error(), "constraint failed")
}
