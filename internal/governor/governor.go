package governor

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"conveyor/internal/database"
	"conveyor/internal/logging"
	"conveyor/internal/queue"
)

// Governor gates admission of new items.
type Governor struct {
	store  *queue.Store
	logger *slog.Logger
	now    func() time.Time
	tracer trace.Tracer
}

// Option configures a Governor.
type Option func(*Governor)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(g *Governor) {
		if now != nil {
			g.now = now
		}
	}
}

// New constructs a Governor over the queue store.
func New(store *queue.Store, logger *slog.Logger, opts ...Option) *Governor {
	g := &Governor{
		store:  store,
		logger: logging.NewComponentLogger(logger, "governor"),
		now:    time.Now,
		tracer: otel.Tracer("conveyor/governor"),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Admit runs an admission check for owner at now in its own transaction.
// On success the owner's daily counter has been incremented.
func (g *Governor) Admit(ctx context.Context, ownerID string, now time.Time) error {
	return g.store.DB().WithTx(ctx, func(tx *sql.Tx) error {
		return g.AdmitTx(ctx, tx, ownerID, now)
	})
}

// AdmitTx runs the admission check inside tx so the caller can insert the
// admitted item atomically.
func (g *Governor) AdmitTx(ctx context.Context, tx *sql.Tx, ownerID string, now time.Time) error {
	now = now.UTC()
	if err := resetWindowsTx(ctx, tx, ownerID, now); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx,
		`UPDATE owners
         SET items_processed_today = items_processed_today + 1, updated_at = ?
         WHERE owner_id = ? AND enabled = 1
           AND items_processed_today < daily_limit
           AND current_month_cost < monthly_budget_limit`,
		database.FormatTime(now), ownerID,
	)
	if err != nil {
		return fmt.Errorf("admit owner: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}
	return denialTx(ctx, tx, ownerID)
}

// resetWindowsTx zeroes the daily counter when now falls on a later UTC day
// than the last reset, and the monthly cost once the budget reset time has
// passed. Both conditions are re-checked by the statement itself, so
// concurrent callers reset at most once per window.
func resetWindowsTx(ctx context.Context, tx *sql.Tx, ownerID string, now time.Time) error {
	day := database.UTCDay(now)
	stamp := database.FormatTime(now)
	nextMonth := database.FormatTime(database.NextMonthStart(now))
	if _, err := tx.ExecContext(ctx,
		`UPDATE owners
         SET items_processed_today = CASE WHEN last_reset_at IS NULL OR substr(last_reset_at, 1, 10) < ?1
                 THEN 0 ELSE items_processed_today END,
             last_reset_at = CASE WHEN last_reset_at IS NULL OR substr(last_reset_at, 1, 10) < ?1
                 THEN ?2 ELSE last_reset_at END,
             current_month_cost = CASE WHEN budget_reset_at IS NULL OR budget_reset_at <= ?2
                 THEN 0 ELSE current_month_cost END,
             budget_reset_at = CASE WHEN budget_reset_at IS NULL OR budget_reset_at <= ?2
                 THEN ?3 ELSE budget_reset_at END,
             updated_at = ?2
         WHERE owner_id = ?4
           AND (last_reset_at IS NULL OR substr(last_reset_at, 1, 10) < ?1
                OR budget_reset_at IS NULL OR budget_reset_at <= ?2)`,
		day, stamp, nextMonth, ownerID,
	); err != nil {
		return fmt.Errorf("reset owner windows: %w", err)
	}
	return nil
}

func denialTx(ctx context.Context, tx *sql.Tx, ownerID string) error {
	var (
		enabled     int
		today       int
		dailyLimit  int
		monthCost   float64
		budgetLimit float64
	)
	err := tx.QueryRowContext(ctx,
		`SELECT enabled, items_processed_today, daily_limit, current_month_cost, monthly_budget_limit
         FROM owners WHERE owner_id = ?`,
		ownerID,
	).Scan(&enabled, &today, &dailyLimit, &monthCost, &budgetLimit)
	if errors.Is(err, sql.ErrNoRows) {
		return &AdmissionError{OwnerID: ownerID, Reason: ReasonUnknownOwner}
	}
	if err != nil {
		return fmt.Errorf("load owner for denial: %w", err)
	}
	switch {
	case enabled != 1:
		return &AdmissionError{OwnerID: ownerID, Reason: ReasonDisabled}
	case today >= dailyLimit:
		return &AdmissionError{OwnerID: ownerID, Reason: ReasonDailyLimit}
	default:
		return &AdmissionError{OwnerID: ownerID, Reason: ReasonMonthlyBudget}
	}
}

// Enqueue admits a new item for owner and inserts it at the first stage.
// Admission and insert share one transaction, so a failed insert does not
// consume the owner's daily allowance.
func (g *Governor) Enqueue(ctx context.Context, ownerID string, source queue.SourceData) (*queue.Item, error) {
	return g.Submit(ctx, queue.NewItem{OwnerID: ownerID, Source: source})
}

// Submit admits and inserts an arbitrary new item, such as a revision that
// starts mid-pipeline.
func (g *Governor) Submit(ctx context.Context, item queue.NewItem) (*queue.Item, error) {
	item.OwnerID = strings.TrimSpace(item.OwnerID)
	if item.StartStage == 0 {
		item.StartStage = queue.FirstStage
	}
	ctx, span := g.tracer.Start(ctx, "governor.submit", trace.WithAttributes(
		attribute.String("owner.id", item.OwnerID),
		attribute.Int("item.start_stage", int(item.StartStage)),
	))
	defer span.End()

	var id int64
	err := g.store.DB().WithTx(ctx, func(tx *sql.Tx) error {
		if err := g.AdmitTx(ctx, tx, item.OwnerID, g.now()); err != nil {
			return err
		}
		var err error
		id, err = g.store.InsertItemTx(ctx, tx, item)
		return err
	})
	if err != nil {
		span.RecordError(err)
		if reason := ReasonOf(err); reason != "" {
			span.SetStatus(codes.Error, string(reason))
			g.logger.Info("admission denied",
				logging.Args(append(logging.DecisionAttrs("admission", "denied", string(reason)),
					logging.Owner(item.OwnerID))...)...,
			)
		} else {
			span.SetStatus(codes.Error, err.Error())
		}
		return nil, err
	}
	span.SetAttributes(attribute.Int64("item.id", id))
	g.logger.Info("item admitted",
		logging.Owner(item.OwnerID),
		logging.Item(id),
		logging.String("start_stage", item.StartStage.String()),
	)
	return g.store.GetItem(ctx, id)
}

// Reset zeroes the owner's daily counter and monthly cost immediately.
func (g *Governor) Reset(ctx context.Context, ownerID string) error {
	now := g.now().UTC()
	res, err := g.store.DB().Exec(ctx,
		`UPDATE owners
         SET items_processed_today = 0, last_reset_at = ?, current_month_cost = 0,
             budget_reset_at = ?, updated_at = ?
         WHERE owner_id = ?`,
		database.FormatTime(now), database.FormatTime(database.NextMonthStart(now)), database.FormatTime(now), ownerID,
	)
	if err != nil {
		return fmt.Errorf("reset owner counters: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return queue.ErrOwnerNotFound
	}
	g.logger.Info("owner counters reset", logging.Owner(ownerID))
	return nil
}
