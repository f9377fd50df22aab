package testsupport

import (
	"context"
	"database/sql"
	"testing"

	"conveyor/internal/config"
	"conveyor/internal/database"
	"conveyor/internal/queue"
)

// MustOpenDB opens the configured database for tests and registers cleanup.
func MustOpenDB(t testing.TB, cfg *config.Config) *database.DB {
	t.Helper()

	db, err := database.Open(context.Background(), cfg.DatabasePath())
	if err != nil {
		t.Fatalf("database.Open: %v", err)
	}
	t.Cleanup(func() {
		_ = db.Close()
	})
	return db
}

// MustOpenStore opens a queue.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *queue.Store {
	t.Helper()

	return queue.NewStore(MustOpenDB(t, cfg), queue.Options{
		SnapshotCap: cfg.Review.SnapshotCap,
		MaxRetries:  cfg.Workflow.MaxRetries,
	})
}

// OwnerOption customizes a seeded owner.
type OwnerOption func(*queue.OwnerSettings)

// WithDailyLimit sets the owner's daily admission cap.
func WithDailyLimit(n int) OwnerOption {
	return func(o *queue.OwnerSettings) { o.DailyLimit = n }
}

// WithBudget sets the owner's monthly budget.
func WithBudget(limit float64) OwnerOption {
	return func(o *queue.OwnerSettings) { o.MonthlyBudgetLimit = limit }
}

// WithMinScore sets the owner's minimum gate score.
func WithMinScore(score float64) OwnerOption {
	return func(o *queue.OwnerSettings) { o.MinScoreThreshold = score }
}

// Disabled seeds the owner disabled.
func Disabled() OwnerOption {
	return func(o *queue.OwnerSettings) { o.Enabled = false }
}

// SeedOwner creates an enabled owner with generous limits.
func SeedOwner(t testing.TB, store *queue.Store, ownerID string, opts ...OwnerOption) *queue.OwnerSettings {
	t.Helper()

	settings := queue.OwnerSettings{
		OwnerID:            ownerID,
		Enabled:            true,
		MinScoreThreshold:  70,
		DailyLimit:         100,
		MonthlyBudgetLimit: 1000,
		Style:              queue.StylePreferences{Tone: "conversational", Format: "short", TargetDurationSeconds: 60, Language: "en"},
	}
	for _, opt := range opts {
		opt(&settings)
	}
	owner, err := store.UpsertOwner(context.Background(), settings)
	if err != nil {
		t.Fatalf("UpsertOwner: %v", err)
	}
	return owner
}

// InsertItem inserts a processing item directly, bypassing admission.
func InsertItem(t testing.TB, store *queue.Store, item queue.NewItem) *queue.Item {
	t.Helper()

	ctx := context.Background()
	if item.Source.SourceType == "" {
		item.Source = SampleSource()
	}
	var id int64
	if err := store.DB().WithTx(ctx, func(tx *sql.Tx) error {
		var err error
		id, err = store.InsertItemTx(ctx, tx, item)
		return err
	}); err != nil {
		t.Fatalf("InsertItemTx: %v", err)
	}
	inserted, err := store.GetItem(ctx, id)
	if err != nil || inserted == nil {
		t.Fatalf("GetItem(%d): %v", id, err)
	}
	return inserted
}
