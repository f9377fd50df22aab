package queue

import (
	"context"
	"database/sql"
	"time"

	"conveyor/internal/database"
)

// Options tune store behaviour that depends on configuration.
type Options struct {
	// SnapshotCap bounds the snapshots kept per script; the oldest are pruned.
	SnapshotCap int
	// MaxRetries bounds manual retries of a failed item.
	MaxRetries int
	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Store manages Conveyor persistence backed by SQLite.
type Store struct {
	db   *database.DB
	opts Options
}

const (
	defaultSnapshotCap = 20
	defaultMaxRetries  = 3
)

// NewStore wraps an open database.
func NewStore(db *database.DB, opts Options) *Store {
	if opts.SnapshotCap <= 0 {
		opts.SnapshotCap = defaultSnapshotCap
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Store{db: db, opts: opts}
}

// DB exposes the shared database handle so callers can compose transactions.
func (s *Store) DB() *database.DB {
	return s.db
}

// MaxRetries returns the configured manual retry bound.
func (s *Store) MaxRetries() int {
	return s.opts.MaxRetries
}

func (s *Store) now() time.Time {
	return s.opts.Now().UTC()
}

func (s *Store) sql() *sql.DB {
	return s.db.SQL()
}

func ensureContext(ctx context.Context) context.Context {
	if ctx != nil {
		return ctx
	}
	return context.Background()
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
