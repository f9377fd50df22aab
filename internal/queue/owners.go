package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"conveyor/internal/database"
)

// SourceFilters restrict which upstream content an owner accepts.
type SourceFilters struct {
	AllowedSourceTypes []string `json:"allowedSourceTypes" yaml:"allowed_source_types"`
	MinEngagement      float64  `json:"minEngagement" yaml:"min_engagement"`
	BlockedKeywords    []string `json:"blockedKeywords" yaml:"blocked_keywords"`
}

// StylePreferences steer script generation.
type StylePreferences struct {
	Tone                  string `json:"tone" yaml:"tone"`
	Format                string `json:"format" yaml:"format"`
	TargetDurationSeconds int    `json:"targetDurationSeconds" yaml:"target_duration_seconds"`
	Language              string `json:"language" yaml:"language"`
}

// OwnerStats are cumulative pipeline and review counters.
type OwnerStats struct {
	Processed int
	Passed    int
	Failed    int
	Approved  int
	Rejected  int
}

// ApprovalRate is approved / (approved + rejected), or 0 before any review.
func (s OwnerStats) ApprovalRate() float64 {
	reviewed := s.Approved + s.Rejected
	if reviewed == 0 {
		return 0
	}
	return float64(s.Approved) / float64(reviewed)
}

// OwnerSettings is the per-owner aggregate: configuration, governor
// counters, learned threshold, and stats. Counter fields are never imported
// from YAML.
type OwnerSettings struct {
	OwnerID            string           `yaml:"owner_id"`
	Enabled            bool             `yaml:"enabled"`
	Filters            SourceFilters    `yaml:"filters"`
	MinScoreThreshold  float64          `yaml:"min_score_threshold"`
	DailyLimit         int              `yaml:"daily_limit"`
	MonthlyBudgetLimit float64          `yaml:"monthly_budget_limit"`
	Style              StylePreferences `yaml:"style"`

	ItemsProcessedToday int            `yaml:"-"`
	LastResetAt         *time.Time     `yaml:"-"`
	CurrentMonthCost    float64        `yaml:"-"`
	BudgetResetAt       *time.Time     `yaml:"-"`
	LearnedThreshold    *float64       `yaml:"-"`
	RejectionPatterns   map[string]int `yaml:"-"`
	Stats               OwnerStats     `yaml:"-"`
	CreatedAt           time.Time      `yaml:"-"`
	UpdatedAt           time.Time      `yaml:"-"`
}

// EffectiveThreshold is max(minScoreThreshold, learnedThreshold), where a
// missing learned threshold falls back to the minimum.
func (o OwnerSettings) EffectiveThreshold() float64 {
	if o.LearnedThreshold == nil {
		return o.MinScoreThreshold
	}
	return max(o.MinScoreThreshold, *o.LearnedThreshold)
}

const ownerColumns = `owner_id, enabled, allowed_source_types, min_engagement, blocked_keywords,
    min_score_threshold, daily_limit, items_processed_today, last_reset_at, monthly_budget_limit,
    current_month_cost, budget_reset_at, tone, format, target_duration_seconds, language,
    learned_threshold, rejection_patterns, stats_processed, stats_passed, stats_failed,
    stats_approved, stats_rejected, created_at, updated_at`

func scanOwner(scanner rowScanner) (*OwnerSettings, error) {
	var (
		owner       OwnerSettings
		enabled     int
		allowedJSON string
		blockedJSON string
		lastReset   sql.NullString
		budgetReset sql.NullString
		learned     sql.NullFloat64
		patterns    string
		createdRaw  string
		updatedRaw  string
	)
	if err := scanner.Scan(
		&owner.OwnerID, &enabled, &allowedJSON, &owner.Filters.MinEngagement, &blockedJSON,
		&owner.MinScoreThreshold, &owner.DailyLimit, &owner.ItemsProcessedToday, &lastReset,
		&owner.MonthlyBudgetLimit, &owner.CurrentMonthCost, &budgetReset,
		&owner.Style.Tone, &owner.Style.Format, &owner.Style.TargetDurationSeconds, &owner.Style.Language,
		&learned, &patterns,
		&owner.Stats.Processed, &owner.Stats.Passed, &owner.Stats.Failed,
		&owner.Stats.Approved, &owner.Stats.Rejected,
		&createdRaw, &updatedRaw,
	); err != nil {
		return nil, err
	}
	owner.Enabled = enabled == 1
	if err := decodeJSON(allowedJSON, &owner.Filters.AllowedSourceTypes); err != nil {
		return nil, err
	}
	if err := decodeJSON(blockedJSON, &owner.Filters.BlockedKeywords); err != nil {
		return nil, err
	}
	owner.RejectionPatterns = map[string]int{}
	if err := decodeJSON(patterns, &owner.RejectionPatterns); err != nil {
		return nil, err
	}
	owner.LastResetAt = database.ParseNullTime(lastReset)
	owner.BudgetResetAt = database.ParseNullTime(budgetReset)
	if learned.Valid {
		value := learned.Float64
		owner.LearnedThreshold = &value
	}
	owner.CreatedAt = parseTime(createdRaw)
	owner.UpdatedAt = parseTime(updatedRaw)
	return &owner, nil
}

// GetOwner fetches owner settings. A missing owner returns (nil, nil).
func (s *Store) GetOwner(ctx context.Context, ownerID string) (*OwnerSettings, error) {
	return getOwner(ensureContext(ctx), s.sql(), ownerID)
}

// GetOwnerTx fetches owner settings inside tx.
func (s *Store) GetOwnerTx(ctx context.Context, tx *sql.Tx, ownerID string) (*OwnerSettings, error) {
	return getOwner(ctx, tx, ownerID)
}

func getOwner(ctx context.Context, q dbtx, ownerID string) (*OwnerSettings, error) {
	owner, err := scanOwner(q.QueryRowContext(ctx, "SELECT "+ownerColumns+" FROM owners WHERE owner_id = ?", ownerID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get owner: %w", err)
	}
	return owner, nil
}

// ListOwners returns all owners ordered by id.
func (s *Store) ListOwners(ctx context.Context) ([]*OwnerSettings, error) {
	rows, err := s.sql().QueryContext(ensureContext(ctx), "SELECT "+ownerColumns+" FROM owners ORDER BY owner_id")
	if err != nil {
		return nil, fmt.Errorf("list owners: %w", err)
	}
	defer rows.Close()
	var owners []*OwnerSettings
	for rows.Next() {
		owner, err := scanOwner(rows)
		if err != nil {
			return nil, fmt.Errorf("scan owner: %w", err)
		}
		owners = append(owners, owner)
	}
	return owners, rows.Err()
}

// UpsertOwner creates an owner or updates its configurable fields. Counters,
// learned threshold, and stats are left untouched on update.
func (s *Store) UpsertOwner(ctx context.Context, owner OwnerSettings) (*OwnerSettings, error) {
	ctx = ensureContext(ctx)
	owner.OwnerID = strings.TrimSpace(owner.OwnerID)
	if owner.OwnerID == "" {
		return nil, errors.New("upsert owner: owner id is required")
	}
	allowed, err := encodeJSON(nonNilStrings(owner.Filters.AllowedSourceTypes))
	if err != nil {
		return nil, err
	}
	blocked, err := encodeJSON(nonNilStrings(owner.Filters.BlockedKeywords))
	if err != nil {
		return nil, err
	}
	now := s.now()
	timestamp := database.FormatTime(now)
	if _, err := s.db.Exec(ctx,
		`INSERT INTO owners (
            owner_id, enabled, allowed_source_types, min_engagement, blocked_keywords,
            min_score_threshold, daily_limit, monthly_budget_limit, tone, format,
            target_duration_seconds, language, last_reset_at, budget_reset_at, created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(owner_id) DO UPDATE SET
            enabled = excluded.enabled,
            allowed_source_types = excluded.allowed_source_types,
            min_engagement = excluded.min_engagement,
            blocked_keywords = excluded.blocked_keywords,
            min_score_threshold = excluded.min_score_threshold,
            daily_limit = excluded.daily_limit,
            monthly_budget_limit = excluded.monthly_budget_limit,
            tone = excluded.tone,
            format = excluded.format,
            target_duration_seconds = excluded.target_duration_seconds,
            language = excluded.language,
            updated_at = excluded.updated_at`,
		owner.OwnerID, boolToInt(owner.Enabled), allowed, owner.Filters.MinEngagement, blocked,
		owner.MinScoreThreshold, owner.DailyLimit, owner.MonthlyBudgetLimit,
		owner.Style.Tone, owner.Style.Format, owner.Style.TargetDurationSeconds, owner.Style.Language,
		timestamp, database.FormatTime(database.NextMonthStart(now)), timestamp, timestamp,
	); err != nil {
		return nil, fmt.Errorf("upsert owner: %w", err)
	}
	return s.GetOwner(ctx, owner.OwnerID)
}

// SetLearnedThresholdTx stores the adaptive threshold.
func (s *Store) SetLearnedThresholdTx(ctx context.Context, tx *sql.Tx, ownerID string, threshold float64) error {
	if _, err := tx.ExecContext(ctx,
		`UPDATE owners SET learned_threshold = ?, updated_at = ? WHERE owner_id = ?`,
		threshold, database.FormatTime(s.now()), ownerID,
	); err != nil {
		return fmt.Errorf("set learned threshold: %w", err)
	}
	return nil
}

// ChargeOwner adds cost spent outside the pipeline, such as version
// reviews, to the owner's monthly total.
func (s *Store) ChargeOwner(ctx context.Context, ownerID string, cost float64) error {
	ctx = ensureContext(ctx)
	return s.db.WithTx(ctx, func(tx *sql.Tx) error {
		return accrueCostTx(ctx, tx, ownerID, cost, s.now())
	})
}

// RecordApprovalTx increments the owner's approved counter.
func (s *Store) RecordApprovalTx(ctx context.Context, tx *sql.Tx, ownerID string) error {
	if _, err := tx.ExecContext(ctx,
		`UPDATE owners SET stats_approved = stats_approved + 1, updated_at = ? WHERE owner_id = ?`,
		database.FormatTime(s.now()), ownerID,
	); err != nil {
		return fmt.Errorf("record approval: %w", err)
	}
	return nil
}

// RecordRejectionTx increments the owner's rejected counter and the count of
// the rejection category.
func (s *Store) RecordRejectionTx(ctx context.Context, tx *sql.Tx, ownerID, category string) error {
	category = strings.ToLower(strings.TrimSpace(category))
	if category == "" {
		category = "unspecified"
	}
	var raw string
	err := tx.QueryRowContext(ctx, `SELECT rejection_patterns FROM owners WHERE owner_id = ?`, ownerID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrOwnerNotFound
	}
	if err != nil {
		return fmt.Errorf("load rejection patterns: %w", err)
	}
	patterns := map[string]int{}
	if err := decodeJSON(raw, &patterns); err != nil {
		return err
	}
	patterns[category]++
	encoded, err := encodeJSON(patterns)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE owners SET stats_rejected = stats_rejected + 1, rejection_patterns = ?, updated_at = ?
         WHERE owner_id = ?`,
		encoded, database.FormatTime(s.now()), ownerID,
	); err != nil {
		return fmt.Errorf("record rejection: %w", err)
	}
	return nil
}

func nonNilStrings(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
