package queue

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"
)

// countBy runs a GROUP BY count over items and returns one count per key.
func countBy[K comparable](ctx context.Context, s *Store, column string, where sq.Sqlizer) (map[K]int, error) {
	query := sq.Select(column, "COUNT(1)").From("items").GroupBy(column)
	if where != nil {
		query = query.Where(where)
	}
	sqlText, args, err := query.ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := s.sql().QueryContext(ensureContext(ctx), sqlText, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	counts := make(map[K]int)
	for rows.Next() {
		var (
			key   K
			count int
		)
		if err := rows.Scan(&key, &count); err != nil {
			return nil, err
		}
		counts[key] = count
	}
	return counts, rows.Err()
}

// Stats returns a count of items grouped by status.
func (s *Store) Stats(ctx context.Context) (map[Status]int, error) {
	stats, err := countBy[Status](ctx, s, "status", nil)
	if err != nil {
		return nil, fmt.Errorf("item stats: %w", err)
	}
	return stats, nil
}

// StageCounts returns processing items grouped by their current stage.
func (s *Store) StageCounts(ctx context.Context) (map[Stage]int, error) {
	counts, err := countBy[Stage](ctx, s, "current_stage", sq.Eq{"status": string(StatusProcessing)})
	if err != nil {
		return nil, fmt.Errorf("stage counts: %w", err)
	}
	return counts, nil
}

// Health totals items by outcome and counts processing items that hold a
// worker lease.
func (s *Store) Health(ctx context.Context) (HealthSummary, error) {
	stats, err := s.Stats(ctx)
	if err != nil {
		return HealthSummary{}, err
	}
	health := HealthSummary{
		Processing: stats[StatusProcessing],
		Failed:     stats[StatusFailed],
		Completed:  stats[StatusCompleted],
	}
	for _, count := range stats {
		health.Total += count
	}
	leased, err := countBy[bool](ctx, s, "last_heartbeat IS NOT NULL", sq.Eq{"status": string(StatusProcessing)})
	if err != nil {
		return HealthSummary{}, fmt.Errorf("count leased items: %w", err)
	}
	health.Leased = leased[true]
	return health, nil
}
