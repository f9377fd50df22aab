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

// ReviewStatus tracks the human review of a generated script.
type ReviewStatus string

const (
	ReviewPending  ReviewStatus = "pending"
	ReviewApproved ReviewStatus = "approved"
	ReviewRejected ReviewStatus = "rejected"
	ReviewRevision ReviewStatus = "revision"
)

// ErrNotReviewable reports a review action on a script that is not pending.
var ErrNotReviewable = fmt.Errorf("%w: script is not pending review", services.ErrConflict)

// GeneratedScript is the pipeline output awaiting human review.
type GeneratedScript struct {
	ID                string
	ItemID            int64
	OwnerID           string
	Title             string
	Format            string
	Scenes            []Scene
	FullText          string
	Scores            ScriptScores
	GateDecision      GateDecision
	GateConfidence    float64
	ReviewStatus      ReviewStatus
	RejectionCategory string
	RejectionNotes    string
	RevisionCount     int
	ProjectID         string
	ReviewedBy        string
	ReviewedAt        *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// ScriptSnapshot is one entry of a script's version history.
type ScriptSnapshot struct {
	ID        string
	ScriptID  string
	Number    int
	Content   string
	Scenes    []Scene
	Feedback  string
	Diff      []SceneChange
	IsCurrent bool
	CreatedAt time.Time
}

var scriptColumns = []string{
	"id", "item_id", "owner_id", "title", "format", "scenes", "full_text", "scores",
	"gate_decision", "gate_confidence", "review_status", "rejection_category", "rejection_notes",
	"revision_count", "project_id", "reviewed_by", "reviewed_at", "created_at", "updated_at",
}

var scriptSelect = "SELECT " + strings.Join(scriptColumns, ", ") + " FROM scripts"

func scanScript(scanner rowScanner) (*GeneratedScript, error) {
	var (
		script     GeneratedScript
		scenesJSON string
		scoresJSON string
		decision   string
		review     string
		category   sql.NullString
		notes      sql.NullString
		projectID  sql.NullString
		reviewedBy sql.NullString
		reviewedAt sql.NullString
		createdRaw string
		updatedRaw string
	)
	if err := scanner.Scan(
		&script.ID, &script.ItemID, &script.OwnerID, &script.Title, &script.Format,
		&scenesJSON, &script.FullText, &scoresJSON, &decision, &script.GateConfidence,
		&review, &category, &notes, &script.RevisionCount, &projectID,
		&reviewedBy, &reviewedAt, &createdRaw, &updatedRaw,
	); err != nil {
		return nil, err
	}
	if err := decodeJSON(scenesJSON, &script.Scenes); err != nil {
		return nil, fmt.Errorf("script %s scenes: %w", script.ID, err)
	}
	if err := decodeJSON(scoresJSON, &script.Scores); err != nil {
		return nil, fmt.Errorf("script %s scores: %w", script.ID, err)
	}
	script.GateDecision = GateDecision(decision)
	script.ReviewStatus = ReviewStatus(review)
	script.RejectionCategory = category.String
	script.RejectionNotes = notes.String
	script.ProjectID = projectID.String
	script.ReviewedBy = reviewedBy.String
	script.ReviewedAt = database.ParseNullTime(reviewedAt)
	script.CreatedAt = parseTime(createdRaw)
	script.UpdatedAt = parseTime(updatedRaw)
	return &script, nil
}

// GetScript fetches a script by id. A missing script returns (nil, nil).
func (s *Store) GetScript(ctx context.Context, id string) (*GeneratedScript, error) {
	return getScript(ensureContext(ctx), s.sql(), id)
}

// GetScriptTx fetches a script inside tx.
func (s *Store) GetScriptTx(ctx context.Context, tx *sql.Tx, id string) (*GeneratedScript, error) {
	return getScript(ctx, tx, id)
}

func getScript(ctx context.Context, q dbtx, id string) (*GeneratedScript, error) {
	script, err := scanScript(q.QueryRowContext(ctx, scriptSelect+" WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get script: %w", err)
	}
	return script, nil
}

// ScriptFilter narrows script listings.
type ScriptFilter struct {
	OwnerID      string
	ReviewStatus ReviewStatus
	Decision     GateDecision
	Limit        uint64
}

// ListScripts returns scripts matching filter, newest first.
func (s *Store) ListScripts(ctx context.Context, filter ScriptFilter) ([]*GeneratedScript, error) {
	ctx = ensureContext(ctx)
	query := sq.Select(scriptColumns...).From("scripts").OrderBy("created_at DESC", "id")
	if filter.OwnerID != "" {
		query = query.Where(sq.Eq{"owner_id": filter.OwnerID})
	}
	if filter.ReviewStatus != "" {
		query = query.Where(sq.Eq{"review_status": string(filter.ReviewStatus)})
	}
	if filter.Decision != "" {
		query = query.Where(sq.Eq{"gate_decision": string(filter.Decision)})
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}
	statement, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build script query: %w", err)
	}
	rows, err := s.sql().QueryContext(ctx, statement, args...)
	if err != nil {
		return nil, fmt.Errorf("list scripts: %w", err)
	}
	defer rows.Close()
	var scripts []*GeneratedScript
	for rows.Next() {
		script, err := scanScript(rows)
		if err != nil {
			return nil, err
		}
		scripts = append(scripts, script)
	}
	return scripts, rows.Err()
}

// ListSnapshots returns a script's snapshots ordered by number.
func (s *Store) ListSnapshots(ctx context.Context, scriptID string) ([]ScriptSnapshot, error) {
	ctx = ensureContext(ctx)
	rows, err := s.sql().QueryContext(ctx,
		`SELECT id, script_id, snapshot_number, content, scenes, feedback, diff, is_current, created_at
         FROM script_snapshots WHERE script_id = ? ORDER BY snapshot_number`,
		scriptID,
	)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer rows.Close()
	var snapshots []ScriptSnapshot
	for rows.Next() {
		var (
			snap       ScriptSnapshot
			scenesJSON string
			diffJSON   string
			current    int
			createdRaw string
		)
		if err := rows.Scan(&snap.ID, &snap.ScriptID, &snap.Number, &snap.Content, &scenesJSON,
			&snap.Feedback, &diffJSON, &current, &createdRaw); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		if err := decodeJSON(scenesJSON, &snap.Scenes); err != nil {
			return nil, err
		}
		if err := decodeJSON(diffJSON, &snap.Diff); err != nil {
			return nil, err
		}
		snap.IsCurrent = current == 1
		snap.CreatedAt = parseTime(createdRaw)
		snapshots = append(snapshots, snap)
	}
	return snapshots, rows.Err()
}

// ReviewUpdate is a review transition applied to a pending script.
type ReviewUpdate struct {
	Status            ReviewStatus
	Reviewer          string
	RejectionCategory string
	RejectionNotes    string
	IncrementRevision bool
}

// UpdateReviewTx moves a pending script to a new review status. Scripts that
// are not pending return ErrNotReviewable.
func (s *Store) UpdateReviewTx(ctx context.Context, tx *sql.Tx, scriptID string, update ReviewUpdate) error {
	now := database.FormatTime(s.now())
	res, err := tx.ExecContext(ctx,
		`UPDATE scripts
         SET review_status = ?, reviewed_by = ?, reviewed_at = ?,
             rejection_category = COALESCE(?, rejection_category),
             rejection_notes = COALESCE(?, rejection_notes),
             revision_count = revision_count + ?, updated_at = ?
         WHERE id = ? AND review_status = ?`,
		update.Status, nullableString(update.Reviewer), now,
		nullableString(update.RejectionCategory), nullableString(update.RejectionNotes),
		boolToInt(update.IncrementRevision), now,
		scriptID, ReviewPending,
	)
	if err != nil {
		return fmt.Errorf("update script review: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		script, err := getScript(ctx, tx, scriptID)
		if err != nil {
			return err
		}
		if script == nil {
			return ErrScriptNotFound
		}
		return ErrNotReviewable
	}
	return nil
}

// reopenReviewTx returns a script awaiting revision to pending review. The
// revision count is kept, so the abandoned attempt still counts toward the
// revision limit.
func (s *Store) reopenReviewTx(ctx context.Context, tx *sql.Tx, scriptID string, now time.Time) error {
	timestamp := database.FormatTime(now)
	if _, err := tx.ExecContext(ctx,
		`UPDATE scripts SET review_status = ?, reviewed_by = NULL, reviewed_at = NULL, updated_at = ?
         WHERE id = ? AND review_status = ?`,
		ReviewPending, timestamp, scriptID, ReviewRevision,
	); err != nil {
		return fmt.Errorf("reopen script review: %w", err)
	}
	return nil
}

// LinkProjectTx records the downstream project of an approved script.
func (s *Store) LinkProjectTx(ctx context.Context, tx *sql.Tx, scriptID, projectID string) error {
	if _, err := tx.ExecContext(ctx,
		`UPDATE scripts SET project_id = ?, updated_at = ? WHERE id = ?`,
		projectID, database.FormatTime(s.now()), scriptID,
	); err != nil {
		return fmt.Errorf("link project: %w", err)
	}
	return nil
}

// ApprovedScoresTx returns the overall scores of the owner's most recently
// approved scripts, newest first.
func (s *Store) ApprovedScoresTx(ctx context.Context, tx *sql.Tx, ownerID string, limit int) ([]float64, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT COALESCE(json_extract(scores, '$.overall'), 0) FROM scripts
         WHERE owner_id = ? AND review_status = ? ORDER BY reviewed_at DESC LIMIT ?`,
		ownerID, ReviewApproved, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("approved scores: %w", err)
	}
	defer rows.Close()
	var scores []float64
	for rows.Next() {
		var score float64
		if err := rows.Scan(&score); err != nil {
			return nil, fmt.Errorf("scan approved score: %w", err)
		}
		scores = append(scores, score)
	}
	return scores, rows.Err()
}

// materializeScriptTx writes the generated script for a delivered item and
// records the result in payloads.Delivery. A revision item updates the
// script it revises in place and appends a snapshot.
func (s *Store) materializeScriptTx(ctx context.Context, tx *sql.Tx, item *Item, payloads *Payloads, now time.Time) error {
	if payloads.Gate == nil {
		return services.Wrap(services.ErrValidation, StageDelivery.String(), "materialize script", "gate decision missing", nil)
	}
	scenes, fullText, scores, confidence := scriptContent(*payloads)
	if len(scenes) == 0 {
		return services.Wrap(services.ErrValidation, StageDelivery.String(), "materialize script", "script has no scenes", nil)
	}
	scenesJSON, err := encodeJSON(scenes)
	if err != nil {
		return err
	}
	scoresJSON, err := encodeJSON(scores)
	if err != nil {
		return err
	}
	delivery := payloads.Delivery
	title := delivery.Title
	if title == "" {
		title = item.Source.Title
	}
	format := delivery.Format
	if format == "" && payloads.Architect != nil {
		format = payloads.Architect.Format
	}
	timestamp := database.FormatTime(now)

	feedback := ""
	scriptID := ""
	if item.IsRevision() {
		scriptID = item.Revision.PreviousScriptID
		feedback = item.Revision.Notes
		res, err := tx.ExecContext(ctx,
			`UPDATE scripts
             SET item_id = ?, title = ?, format = ?, scenes = ?, full_text = ?, scores = ?,
                 gate_decision = ?, gate_confidence = ?, review_status = ?, reviewed_by = NULL,
                 reviewed_at = NULL, updated_at = ?
             WHERE id = ?`,
			item.ID, title, format, scenesJSON, fullText, scoresJSON,
			payloads.Gate.Decision, confidence, ReviewPending, timestamp, scriptID,
		)
		if err != nil {
			return fmt.Errorf("update revised script: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("%w: revised script %s", ErrScriptNotFound, scriptID)
		}
		delivery.Updated = true
	} else {
		scriptID = uuid.NewString()
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO scripts (
                id, item_id, owner_id, title, format, scenes, full_text, scores,
                gate_decision, gate_confidence, review_status, created_at, updated_at
            ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			scriptID, item.ID, item.OwnerID, title, format, scenesJSON, fullText, scoresJSON,
			payloads.Gate.Decision, confidence, ReviewPending, timestamp, timestamp,
		); err != nil {
			return fmt.Errorf("insert script: %w", err)
		}
	}
	number, err := s.appendSnapshotTx(ctx, tx, scriptID, scenes, fullText, feedback, now)
	if err != nil {
		return err
	}
	delivery.ScriptID = scriptID
	delivery.SnapshotNumber = number
	delivery.Title = title
	delivery.Format = format
	return nil
}

func scriptContent(p Payloads) ([]Scene, string, ScriptScores, float64) {
	if p.Optimizer != nil && len(p.Optimizer.Scenes) > 0 {
		text := p.Optimizer.FullText
		if strings.TrimSpace(text) == "" {
			text = JoinScenes(p.Optimizer.Scenes)
		}
		return CloneScenes(p.Optimizer.Scenes), text, p.Optimizer.Scores, p.Gate.Confidence
	}
	if p.Writer != nil {
		text := p.Writer.FullText
		if strings.TrimSpace(text) == "" {
			text = JoinScenes(p.Writer.Scenes)
		}
		return CloneScenes(p.Writer.Scenes), text, ScriptScores{Overall: p.Gate.Score}, p.Gate.Confidence
	}
	return nil, "", ScriptScores{}, 0
}

// appendSnapshotTx adds the next snapshot as current, diffed against the
// previous current snapshot, and prunes the oldest beyond the cap.
func (s *Store) appendSnapshotTx(ctx context.Context, tx *sql.Tx, scriptID string, scenes []Scene, content, feedback string, now time.Time) (int, error) {
	var (
		prevNumber int
		prevScenes string
	)
	err := tx.QueryRowContext(ctx,
		`SELECT snapshot_number, scenes FROM script_snapshots WHERE script_id = ? AND is_current = 1`,
		scriptID,
	).Scan(&prevNumber, &prevScenes)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("load current snapshot: %w", err)
	}
	diff := []SceneChange{}
	if err == nil {
		var parent []Scene
		if err := decodeJSON(prevScenes, &parent); err != nil {
			return 0, err
		}
		diff = DiffScenes(parent, scenes)
	}
	var maxNumber int
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(snapshot_number), 0) FROM script_snapshots WHERE script_id = ?`, scriptID,
	).Scan(&maxNumber); err != nil {
		return 0, fmt.Errorf("max snapshot number: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE script_snapshots SET is_current = 0 WHERE script_id = ? AND is_current = 1`, scriptID,
	); err != nil {
		return 0, fmt.Errorf("demote snapshot: %w", err)
	}
	scenesJSON, err := encodeJSON(scenes)
	if err != nil {
		return 0, err
	}
	diffJSON, err := encodeJSON(diff)
	if err != nil {
		return 0, err
	}
	number := maxNumber + 1
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO script_snapshots (id, script_id, snapshot_number, content, scenes, feedback, diff, is_current, created_at)
         VALUES (?, ?, ?, ?, ?, ?, ?, 1, ?)`,
		uuid.NewString(), scriptID, number, content, scenesJSON, feedback, diffJSON, database.FormatTime(now),
	); err != nil {
		return 0, fmt.Errorf("insert snapshot: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM script_snapshots WHERE script_id = ? AND snapshot_number <= ?`,
		scriptID, number-s.opts.SnapshotCap,
	); err != nil {
		return 0, fmt.Errorf("prune snapshots: %w", err)
	}
	return number, nil
}
