package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"

	"conveyor/internal/database"
	"conveyor/internal/services"
)

// RuleType classifies a learned writing rule.
type RuleType string

const (
	RuleAvoid     RuleType = "avoid"
	RulePrefer    RuleType = "prefer"
	RuleStyle     RuleType = "style"
	RuleStructure RuleType = "structure"
	RuleTone      RuleType = "tone"
)

// ValidRuleType reports whether t is a known rule type.
func ValidRuleType(t RuleType) bool {
	switch t {
	case RuleAvoid, RulePrefer, RuleStyle, RuleStructure, RuleTone:
		return true
	}
	return false
}

// WritingRule is one learned preference.
type WritingRule struct {
	Type            RuleType `json:"type" yaml:"type"`
	Rule            string   `json:"rule" yaml:"rule"`
	Weight          float64  `json:"weight" yaml:"weight"`
	Examples        []string `json:"examples,omitempty" yaml:"examples,omitempty"`
	OccurrenceCount int      `json:"occurrenceCount" yaml:"occurrence_count"`
}

// WritingProfile is the per-owner preference model read by the Writer.
type WritingProfile struct {
	OwnerID         string        `yaml:"owner_id"`
	Avoid           []string      `yaml:"avoid"`
	Prefer          []string      `yaml:"prefer"`
	Rules           []WritingRule `yaml:"rules"`
	Summary         string        `yaml:"summary"`
	SummaryRevision int           `yaml:"summary_revision"`
	FeedbackCount   int           `yaml:"feedback_count"`
	ProcessedCount  int           `yaml:"processed_count"`
	UpdatedAt       time.Time     `yaml:"updated_at"`
}

// FeedbackKind distinguishes rejection feedback from revision requests.
type FeedbackKind string

const (
	FeedbackRejection FeedbackKind = "rejection"
	FeedbackRevision  FeedbackKind = "revision"
)

// FeedbackStatus is the processing state of a feedback entry.
type FeedbackStatus string

const (
	FeedbackPending   FeedbackStatus = "pending"
	FeedbackProcessed FeedbackStatus = "processed"
	FeedbackDiscarded FeedbackStatus = "discarded"
)

// ErrFeedbackNotPending reports a second attempt to settle a feedback entry.
var ErrFeedbackNotPending = fmt.Errorf("%w: feedback entry already settled", services.ErrConflict)

// ExtractedPatterns is the validated output of feedback extraction.
type ExtractedPatterns struct {
	Avoid     []string      `json:"avoid"`
	Prefer    []string      `json:"prefer"`
	Rules     []WritingRule `json:"rules"`
	Sentiment float64       `json:"sentiment"`
}

// FeedbackEntry is raw human feedback tied to a script.
type FeedbackEntry struct {
	ID            string
	OwnerID       string
	ScriptID      string
	Kind          FeedbackKind
	Category      string
	Notes         string
	TargetScenes  []int
	Status        FeedbackStatus
	Extracted     *ExtractedPatterns
	DiscardReason string
	CreatedAt     time.Time
	ProcessedAt   *time.Time
}

// GetProfile returns the owner's writing profile, or an empty profile when
// none has been learned yet.
func (s *Store) GetProfile(ctx context.Context, ownerID string) (*WritingProfile, error) {
	return getProfile(ensureContext(ctx), s.sql(), ownerID)
}

// GetProfileTx returns the writing profile inside tx.
func (s *Store) GetProfileTx(ctx context.Context, tx *sql.Tx, ownerID string) (*WritingProfile, error) {
	return getProfile(ctx, tx, ownerID)
}

func getProfile(ctx context.Context, q dbtx, ownerID string) (*WritingProfile, error) {
	var (
		profile    = WritingProfile{OwnerID: ownerID}
		avoidJSON  string
		preferJSON string
		rulesJSON  string
		updatedRaw string
	)
	err := q.QueryRowContext(ctx,
		`SELECT avoid, prefer, rules, summary, summary_revision, feedback_count, processed_count, updated_at
         FROM writing_profiles WHERE owner_id = ?`,
		ownerID,
	).Scan(&avoidJSON, &preferJSON, &rulesJSON, &profile.Summary, &profile.SummaryRevision,
		&profile.FeedbackCount, &profile.ProcessedCount, &updatedRaw)
	if errors.Is(err, sql.ErrNoRows) {
		return &profile, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get profile: %w", err)
	}
	if err := decodeJSON(avoidJSON, &profile.Avoid); err != nil {
		return nil, err
	}
	if err := decodeJSON(preferJSON, &profile.Prefer); err != nil {
		return nil, err
	}
	if err := decodeJSON(rulesJSON, &profile.Rules); err != nil {
		return nil, err
	}
	profile.UpdatedAt = parseTime(updatedRaw)
	return &profile, nil
}

// SaveProfileTx writes the full writing profile.
func (s *Store) SaveProfileTx(ctx context.Context, tx *sql.Tx, profile *WritingProfile) error {
	if profile == nil || strings.TrimSpace(profile.OwnerID) == "" {
		return errors.New("save profile: owner id is required")
	}
	avoid, err := encodeJSON(nonNilStrings(profile.Avoid))
	if err != nil {
		return err
	}
	prefer, err := encodeJSON(nonNilStrings(profile.Prefer))
	if err != nil {
		return err
	}
	rules := profile.Rules
	if rules == nil {
		rules = []WritingRule{}
	}
	rulesJSON, err := encodeJSON(rules)
	if err != nil {
		return err
	}
	now := s.now()
	profile.UpdatedAt = now
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO writing_profiles (owner_id, avoid, prefer, rules, summary, summary_revision, feedback_count, processed_count, updated_at)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
         ON CONFLICT(owner_id) DO UPDATE SET
             avoid = excluded.avoid, prefer = excluded.prefer, rules = excluded.rules,
             summary = excluded.summary, summary_revision = excluded.summary_revision,
             feedback_count = excluded.feedback_count, processed_count = excluded.processed_count,
             updated_at = excluded.updated_at`,
		profile.OwnerID, avoid, prefer, rulesJSON, profile.Summary, profile.SummaryRevision,
		profile.FeedbackCount, profile.ProcessedCount, database.FormatTime(now),
	); err != nil {
		return fmt.Errorf("save profile: %w", err)
	}
	return nil
}

// UpdateSummaryTx stores a regenerated summary unless a newer revision was
// already written.
func (s *Store) UpdateSummaryTx(ctx context.Context, tx *sql.Tx, ownerID, summary string, revision int) (bool, error) {
	res, err := tx.ExecContext(ctx,
		`UPDATE writing_profiles SET summary = ?, summary_revision = ?, updated_at = ?
         WHERE owner_id = ? AND summary_revision < ?`,
		summary, revision, database.FormatTime(s.now()), ownerID, revision,
	)
	if err != nil {
		return false, fmt.Errorf("update summary: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

const feedbackColumns = "id, owner_id, script_id, kind, category, notes, target_scenes, status, extracted, discard_reason, created_at, processed_at"

func scanFeedback(scanner rowScanner) (*FeedbackEntry, error) {
	var (
		entry         FeedbackEntry
		kind          string
		status        string
		targetJSON    sql.NullString
		extractedJSON sql.NullString
		discard       sql.NullString
		createdRaw    string
		processedRaw  sql.NullString
	)
	if err := scanner.Scan(&entry.ID, &entry.OwnerID, &entry.ScriptID, &kind, &entry.Category, &entry.Notes,
		&targetJSON, &status, &extractedJSON, &discard, &createdRaw, &processedRaw); err != nil {
		return nil, err
	}
	entry.Kind = FeedbackKind(kind)
	entry.Status = FeedbackStatus(status)
	if targetJSON.Valid {
		if err := decodeJSON(targetJSON.String, &entry.TargetScenes); err != nil {
			return nil, err
		}
	}
	if extractedJSON.Valid && extractedJSON.String != "" {
		entry.Extracted = &ExtractedPatterns{}
		if err := decodeJSON(extractedJSON.String, entry.Extracted); err != nil {
			return nil, err
		}
	}
	entry.DiscardReason = discard.String
	entry.CreatedAt = parseTime(createdRaw)
	entry.ProcessedAt = database.ParseNullTime(processedRaw)
	return &entry, nil
}

// InsertFeedbackTx persists a pending feedback entry and bumps the owner's
// profile feedback counter. The generated id is returned.
func (s *Store) InsertFeedbackTx(ctx context.Context, tx *sql.Tx, entry FeedbackEntry) (string, error) {
	if strings.TrimSpace(entry.Notes) == "" {
		return "", services.Wrap(services.ErrValidation, "", "insert feedback", "notes are required", nil)
	}
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	var targets any
	if entry.TargetScenes != nil {
		raw, err := encodeJSON(entry.TargetScenes)
		if err != nil {
			return "", err
		}
		targets = raw
	}
	now := database.FormatTime(s.now())
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO feedback_entries (id, owner_id, script_id, kind, category, notes, target_scenes, status, created_at)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.OwnerID, entry.ScriptID, entry.Kind, entry.Category, entry.Notes, targets, FeedbackPending, now,
	); err != nil {
		return "", fmt.Errorf("insert feedback: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO writing_profiles (owner_id, feedback_count, updated_at) VALUES (?, 1, ?)
         ON CONFLICT(owner_id) DO UPDATE SET feedback_count = feedback_count + 1, updated_at = excluded.updated_at`,
		entry.OwnerID, now,
	); err != nil {
		return "", fmt.Errorf("count feedback: %w", err)
	}
	return entry.ID, nil
}

// GetFeedback fetches a feedback entry. A missing entry returns (nil, nil).
func (s *Store) GetFeedback(ctx context.Context, id string) (*FeedbackEntry, error) {
	entry, err := scanFeedback(s.sql().QueryRowContext(ensureContext(ctx), "SELECT "+feedbackColumns+" FROM feedback_entries WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get feedback: %w", err)
	}
	return entry, nil
}

// FeedbackFilter narrows feedback listings.
type FeedbackFilter struct {
	OwnerID string
	Status  FeedbackStatus
	Limit   uint64
}

// ListFeedback returns feedback entries oldest first.
func (s *Store) ListFeedback(ctx context.Context, filter FeedbackFilter) ([]*FeedbackEntry, error) {
	ctx = ensureContext(ctx)
	query := sq.Select(strings.Split(feedbackColumns, ", ")...).From("feedback_entries").OrderBy("created_at", "id")
	if filter.OwnerID != "" {
		query = query.Where(sq.Eq{"owner_id": filter.OwnerID})
	}
	if filter.Status != "" {
		query = query.Where(sq.Eq{"status": string(filter.Status)})
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}
	statement, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build feedback query: %w", err)
	}
	rows, err := s.sql().QueryContext(ctx, statement, args...)
	if err != nil {
		return nil, fmt.Errorf("list feedback: %w", err)
	}
	defer rows.Close()
	var entries []*FeedbackEntry
	for rows.Next() {
		entry, err := scanFeedback(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// MarkFeedbackProcessedTx settles a pending entry with its extracted
// patterns.
func (s *Store) MarkFeedbackProcessedTx(ctx context.Context, tx *sql.Tx, id string, extracted ExtractedPatterns) error {
	raw, err := encodeJSON(extracted)
	if err != nil {
		return err
	}
	return settleFeedback(ctx, tx, id, FeedbackProcessed, raw, nil, s.now())
}

// MarkFeedbackDiscarded settles a pending entry whose extraction was invalid.
func (s *Store) MarkFeedbackDiscarded(ctx context.Context, id, reason string) error {
	ctx = ensureContext(ctx)
	return s.db.WithTx(ctx, func(tx *sql.Tx) error {
		return settleFeedback(ctx, tx, id, FeedbackDiscarded, nil, reason, s.now())
	})
}

func settleFeedback(ctx context.Context, tx *sql.Tx, id string, status FeedbackStatus, extracted, reason any, now time.Time) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE feedback_entries SET status = ?, extracted = ?, discard_reason = ?, processed_at = ?
         WHERE id = ? AND status = ?`,
		status, extracted, reason, database.FormatTime(now), id, FeedbackPending,
	)
	if err != nil {
		return fmt.Errorf("settle feedback: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		var exists int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM feedback_entries WHERE id = ?`, id).Scan(&exists); err != nil {
			return fmt.Errorf("check feedback: %w", err)
		}
		if exists == 0 {
			return ErrFeedbackNotFound
		}
		return ErrFeedbackNotPending
	}
	return nil
}
