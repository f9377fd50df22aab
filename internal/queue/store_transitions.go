package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"conveyor/internal/database"
)

// StageOutcome is one stage execution to persist.
type StageOutcome struct {
	Stage       Stage
	Agent       string
	StartedAt   time.Time
	CompletedAt time.Time
	Payload     any
	Cost        float64
	Error       string
}

func (o *StageOutcome) normalize() {
	if o.Cost < 0 {
		o.Cost = 0
	}
	if o.StartedAt.IsZero() {
		o.StartedAt = o.CompletedAt
	}
}

func (o StageOutcome) historyEntry(success bool) StageHistoryEntry {
	completed := o.CompletedAt
	if completed.Before(o.StartedAt) {
		completed = o.StartedAt
	}
	return StageHistoryEntry{
		Stage:       o.Stage,
		Agent:       o.Agent,
		StartedAt:   o.StartedAt.UTC(),
		CompletedAt: completed.UTC(),
		Success:     success,
		Error:       o.Error,
		Cost:        o.Cost,
	}
}

// ClaimNext leases the oldest runnable item: status processing with no live
// heartbeat. The claim runs in an IMMEDIATE transaction so two workers never
// lease the same item. Returns (nil, nil) when nothing is runnable.
func (s *Store) ClaimNext(ctx context.Context) (*Item, error) {
	return s.claim(ctx, ` ORDER BY created_at, id LIMIT 1`)
}

// ClaimItem leases item id when it is runnable. Returns (nil, nil) when the
// item is missing, terminal, or leased by another worker.
func (s *Store) ClaimItem(ctx context.Context, id int64) (*Item, error) {
	return s.claim(ctx, ` AND id = ?`, id)
}

func (s *Store) claim(ctx context.Context, clause string, args ...any) (*Item, error) {
	ctx = ensureContext(ctx)
	var claimed *Item
	err := s.db.WithTx(ctx, func(tx *sql.Tx) error {
		claimed = nil
		row := tx.QueryRowContext(ctx,
			itemSelect+` WHERE status = ? AND last_heartbeat IS NULL`+clause,
			append([]any{StatusProcessing}, args...)...,
		)
		item, err := scanItem(row)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("select runnable item: %w", err)
		}
		now := s.now()
		res, err := tx.ExecContext(ctx,
			`UPDATE items SET last_heartbeat = ?, updated_at = ? WHERE id = ? AND last_heartbeat IS NULL`,
			database.FormatTime(now), database.FormatTime(now), item.ID,
		)
		if err != nil {
			return fmt.Errorf("lease item: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return nil
		}
		item.LastHeartbeat = &now
		claimed = item
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// UpdateHeartbeat renews the lease of an in-flight item.
func (s *Store) UpdateHeartbeat(ctx context.Context, id int64) error {
	now := database.FormatTime(s.now())
	if _, err := s.db.Exec(
		ensureContext(ctx),
		`UPDATE items SET last_heartbeat = ?, updated_at = ? WHERE id = ? AND status = ? AND last_heartbeat IS NOT NULL`,
		now, now, id, StatusProcessing,
	); err != nil {
		return fmt.Errorf("update heartbeat: %w", err)
	}
	return nil
}

// ReclaimStale releases leases whose heartbeat is older than cutoff so the
// stage runs again on another worker.
func (s *Store) ReclaimStale(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.Exec(
		ensureContext(ctx),
		`UPDATE items SET last_heartbeat = NULL, updated_at = ?
         WHERE status = ? AND last_heartbeat IS NOT NULL AND last_heartbeat < ?`,
		database.FormatTime(s.now()), StatusProcessing, database.FormatTime(cutoff),
	)
	if err != nil {
		return 0, fmt.Errorf("reclaim stale items: %w", err)
	}
	return res.RowsAffected()
}

// ReleaseAll clears every lease; used at daemon startup when no worker from a
// previous process can still be alive.
func (s *Store) ReleaseAll(ctx context.Context) (int64, error) {
	res, err := s.db.Exec(
		ensureContext(ctx),
		`UPDATE items SET last_heartbeat = NULL WHERE status = ? AND last_heartbeat IS NOT NULL`,
		StatusProcessing,
	)
	if err != nil {
		return 0, fmt.Errorf("release leases: %w", err)
	}
	return res.RowsAffected()
}

// Release drops the lease on item without recording progress.
func (s *Store) Release(ctx context.Context, item *Item) error {
	if item == nil {
		return nil
	}
	if _, err := s.db.Exec(
		ensureContext(ctx),
		`UPDATE items SET last_heartbeat = NULL WHERE id = ? AND version = ?`,
		item.ID, item.Version,
	); err != nil {
		return fmt.Errorf("release item: %w", err)
	}
	return nil
}

// CommitStage records a successful stage: payload, history entry, cost, and
// owner cost accrual commit together, guarded by the item version and
// current stage. The Delivery stage also materializes the generated script,
// completes the item, and updates owner stats. A version mismatch returns
// ErrStaleItem and writes nothing.
func (s *Store) CommitStage(ctx context.Context, item *Item, outcome StageOutcome) (*Item, error) {
	ctx = ensureContext(ctx)
	if item == nil {
		return nil, errors.New("commit stage: item is nil")
	}
	if outcome.Stage != item.CurrentStage {
		return nil, fmt.Errorf("%w: committing %s while item is at %s", ErrStaleItem, outcome.Stage, item.CurrentStage)
	}
	outcome.normalize()
	payloads := item.Payloads
	if err := payloads.Set(outcome.Stage, outcome.Payload); err != nil {
		return nil, err
	}
	outcome.Error = ""
	history := upsertHistory(item.History, outcome.historyEntry(true))

	err := s.db.WithTx(ctx, func(tx *sql.Tx) error {
		working := payloads
		if outcome.Stage == StageDelivery {
			delivery := *working.Delivery
			working.Delivery = &delivery
		}
		now := s.now()
		status := StatusProcessing
		nextStage := outcome.Stage
		var completedAt any
		var processingMs int64
		if next, ok := outcome.Stage.Next(); ok {
			nextStage = next
		} else {
			status = StatusCompleted
			completedAt = database.FormatTime(now)
			processingMs = processingDuration(history).Milliseconds()
		}

		if outcome.Stage == StageDelivery {
			if err := s.materializeScriptTx(ctx, tx, item, &working, now); err != nil {
				return err
			}
		}
		payloadsJSON, err := encodeJSON(working)
		if err != nil {
			return err
		}
		historyJSON, err := encodeJSON(history)
		if err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx,
			`UPDATE items
             SET payloads = ?, stage_history = ?, total_cost = total_cost + ?, current_stage = ?,
                 status = ?, completed_at = COALESCE(?, completed_at), total_processing_ms = ?,
                 last_heartbeat = NULL, version = version + 1, updated_at = ?
             WHERE id = ? AND version = ? AND status = ? AND current_stage = ?`,
			payloadsJSON, historyJSON, outcome.Cost, int(nextStage),
			status, completedAt, processingMs,
			database.FormatTime(now),
			item.ID, item.Version, StatusProcessing, int(outcome.Stage),
		)
		if err != nil {
			return fmt.Errorf("commit stage: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrStaleItem
		}
		if err := accrueCostTx(ctx, tx, item.OwnerID, outcome.Cost, now); err != nil {
			return err
		}
		if status == StatusCompleted {
			passed := 0
			if working.Gate != nil && working.Gate.Decision == GatePass {
				passed = 1
			}
			if _, err := tx.ExecContext(ctx,
				`UPDATE owners SET stats_processed = stats_processed + 1, stats_passed = stats_passed + ?, updated_at = ?
                 WHERE owner_id = ?`,
				passed, database.FormatTime(now), item.OwnerID,
			); err != nil {
				return fmt.Errorf("update owner stats: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.GetItem(ctx, item.ID)
}

// FailStage records a failed stage and halts the item. Cost spent by the
// failed attempt is still charged. A revision item that can no longer be
// retried hands the script it was revising back to review.
func (s *Store) FailStage(ctx context.Context, item *Item, outcome StageOutcome) (*Item, error) {
	ctx = ensureContext(ctx)
	if item == nil {
		return nil, errors.New("fail stage: item is nil")
	}
	outcome.normalize()
	if outcome.Error == "" {
		outcome.Error = "stage failed"
	}
	history := upsertHistory(item.History, outcome.historyEntry(false))
	err := s.db.WithTx(ctx, func(tx *sql.Tx) error {
		historyJSON, err := encodeJSON(history)
		if err != nil {
			return err
		}
		now := s.now()
		res, err := tx.ExecContext(ctx,
			`UPDATE items
             SET status = ?, error_stage = ?, error_message = ?, stage_history = ?,
                 total_cost = total_cost + ?, last_heartbeat = NULL, version = version + 1, updated_at = ?
             WHERE id = ? AND version = ? AND status = ?`,
			StatusFailed, int(outcome.Stage), outcome.Error, historyJSON,
			outcome.Cost, database.FormatTime(now),
			item.ID, item.Version, StatusProcessing,
		)
		if err != nil {
			return fmt.Errorf("fail stage: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrStaleItem
		}
		if err := accrueCostTx(ctx, tx, item.OwnerID, outcome.Cost, now); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE owners SET stats_failed = stats_failed + 1, updated_at = ? WHERE owner_id = ?`,
			database.FormatTime(now), item.OwnerID,
		); err != nil {
			return fmt.Errorf("update owner stats: %w", err)
		}
		if item.IsRevision() && item.RetryCount >= s.opts.MaxRetries {
			return s.reopenReviewTx(ctx, tx, item.Revision.PreviousScriptID, now)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.GetItem(ctx, item.ID)
}

// ChargeItem adds cost to an in-flight item and its owner without recording
// a stage result. The item version is left alone so the holder can still
// release its lease.
func (s *Store) ChargeItem(ctx context.Context, item *Item, cost float64) error {
	ctx = ensureContext(ctx)
	if item == nil || cost <= 0 {
		return nil
	}
	return s.db.WithTx(ctx, func(tx *sql.Tx) error {
		now := s.now()
		if _, err := tx.ExecContext(ctx,
			`UPDATE items SET total_cost = total_cost + ?, updated_at = ? WHERE id = ?`,
			cost, database.FormatTime(now), item.ID,
		); err != nil {
			return fmt.Errorf("charge item: %w", err)
		}
		return accrueCostTx(ctx, tx, item.OwnerID, cost, now)
	})
}

// RetryFailed re-opens a failed item at its failing stage. Each retry counts
// against the configured bound; once reached, ErrRetryExhausted is returned.
func (s *Store) RetryFailed(ctx context.Context, id int64) (*Item, error) {
	ctx = ensureContext(ctx)
	res, err := s.db.Exec(ctx,
		`UPDATE items
         SET status = ?, current_stage = COALESCE(error_stage, current_stage), error_stage = NULL,
             error_message = NULL, retry_count = retry_count + 1, last_heartbeat = NULL,
             version = version + 1, updated_at = ?
         WHERE id = ? AND status = ? AND retry_count < ?`,
		StatusProcessing, database.FormatTime(s.now()), id, StatusFailed, s.opts.MaxRetries,
	)
	if err != nil {
		return nil, fmt.Errorf("retry item: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return s.GetItem(ctx, id)
	}
	item, err := s.GetItem(ctx, id)
	if err != nil {
		return nil, err
	}
	switch {
	case item == nil:
		return nil, ErrItemNotFound
	case item.Status != StatusFailed:
		return nil, ErrItemNotFailed
	default:
		return nil, ErrRetryExhausted
	}
}

// accrueCostTx charges cost to the owner's monthly spend. A window whose
// reset time has passed is rolled first, so spend landing before the next
// admission check counts toward the new month.
func accrueCostTx(ctx context.Context, tx *sql.Tx, ownerID string, cost float64, now time.Time) error {
	if cost <= 0 {
		return nil
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE owners
         SET current_month_cost = CASE WHEN budget_reset_at IS NULL OR budget_reset_at <= ?2
                 THEN ?1 ELSE current_month_cost + ?1 END,
             budget_reset_at = CASE WHEN budget_reset_at IS NULL OR budget_reset_at <= ?2
                 THEN ?3 ELSE budget_reset_at END,
             updated_at = ?2
         WHERE owner_id = ?4`,
		cost, database.FormatTime(now), database.FormatTime(database.NextMonthStart(now)), ownerID,
	); err != nil {
		return fmt.Errorf("accrue owner cost: %w", err)
	}
	return nil
}
