package database_test

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"conveyor/internal/database"
)

func openTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.Open(context.Background(), filepath.Join(t.TempDir(), "conveyor.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestOpenAppliesMigrationsIdempotently(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conveyor.db")
	ctx := context.Background()
	db, err := database.Open(ctx, path)
	if err != nil {
		t.Fatalf("first open: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	db, err = database.Open(ctx, path)
	if err != nil {
		t.Fatalf("second open: %v", err)
	}
	defer db.Close()

	health, err := db.CheckHealth(ctx)
	if err != nil {
		t.Fatalf("CheckHealth: %v", err)
	}
	if !health.Exists || !health.Readable || !health.IntegrityCheck {
		t.Fatalf("unexpected health %+v", health)
	}
	if len(health.MissingTables) != 0 {
		t.Fatalf("missing tables: %v", health.MissingTables)
	}
	if health.SchemaVersion != "0001_init" {
		t.Fatalf("unexpected schema version %q", health.SchemaVersion)
	}
}

func TestPartialUniqueIndexRejectsSecondCurrentVersion(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	now := database.FormatTime(time.Now())
	if _, err := db.Exec(ctx, `INSERT INTO projects (id, owner_id, created_at) VALUES ('p1', 'o1', ?)`, now); err != nil {
		t.Fatalf("insert project: %v", err)
	}
	insert := `INSERT INTO project_versions (id, project_id, version_number, created_by, content, is_current, created_at)
        VALUES (?, 'p1', ?, 'system', 'text', 1, ?)`
	if _, err := db.Exec(ctx, insert, "v1", 1, now); err != nil {
		t.Fatalf("insert v1: %v", err)
	}
	_, err := db.Exec(ctx, insert, "v2", 2, now)
	if err == nil {
		t.Fatal("expected unique violation for second current version")
	}
	if !database.IsConstraint(err) {
		t.Fatalf("expected constraint error, got %v", err)
	}
}

func TestWithTxRollsBackOnError(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	sentinel := errors.New("abort")
	err := db.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `INSERT INTO projects (id, owner_id, created_at) VALUES ('p1', 'o1', 'x')`); err != nil {
			return err
		}
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected sentinel, got %v", err)
	}
	var count int
	if err := db.SQL().QueryRowContext(ctx, `SELECT COUNT(1) FROM projects`).Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected rollback, found %d rows", count)
	}
}

func TestWithTxConcurrentWriters(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	const writers = 16
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			errs <- db.WithTx(ctx, func(tx *sql.Tx) error {
				_, err := tx.ExecContext(ctx, `INSERT INTO projects (id, owner_id, created_at) VALUES (?, 'o1', 'x')`, filepath.Join("p", string(rune('a'+n))))
				return err
			})
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent tx failed: %v", err)
		}
	}
}

func TestTimeHelpers(t *testing.T) {
	early := time.Date(2026, 3, 31, 23, 59, 59, 500_000_000, time.UTC)
	late := time.Date(2026, 3, 31, 23, 59, 59, 0, time.UTC).Add(time.Second)
	if !(database.FormatTime(early) < database.FormatTime(late)) {
		t.Fatalf("expected fixed-width timestamps to sort: %s vs %s", database.FormatTime(early), database.FormatTime(late))
	}
	parsed, err := database.ParseTime(database.FormatTime(early))
	if err != nil || !parsed.Equal(early) {
		t.Fatalf("round trip failed: %v %v", parsed, err)
	}
	if got := database.NextMonthStart(time.Date(2026, 12, 15, 8, 0, 0, 0, time.UTC)); !got.Equal(time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected next month start %v", got)
	}
	if database.UTCDay(early) != "2026-03-31" {
		t.Fatalf("unexpected day %q", database.UTCDay(early))
	}
}
