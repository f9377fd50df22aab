package versions

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"conveyor/internal/database"
	"conveyor/internal/logging"
	"conveyor/internal/queue"
)

// Store persists projects, versions, and recommendations.
type Store struct {
	db     *database.DB
	logger *slog.Logger
	tracer trace.Tracer
	now    func() time.Time
}

// NewStore wraps an open database.
func NewStore(db *database.DB, logger *slog.Logger) *Store {
	return &Store{
		db:     db,
		logger: logging.NewComponentLogger(logger, "versions"),
		tracer: otel.Tracer("conveyor/versions"),
		now:    time.Now,
	}
}

var versionColumns = []string{
	"id", "project_id", "version_number", "created_by", "content", "scenes", "change_summary",
	"changed_scene_ids", "provenance", "diff", "score", "is_current", "is_candidate", "is_rejected",
	"base_version_id", "metrics", "review_text", "created_at",
}

var versionSelect = "SELECT " + strings.Join(versionColumns, ", ") + " FROM project_versions"

type rowScanner interface {
	Scan(dest ...any) error
}

type dbtx interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func scanVersion(scanner rowScanner) (*Version, error) {
	var (
		v          Version
		createdBy  string
		scenes     string
		changed    string
		provenance string
		diff       string
		score      sql.NullFloat64
		current    int
		candidate  int
		rejected   int
		base       sql.NullString
		metrics    string
		createdRaw string
	)
	if err := scanner.Scan(&v.ID, &v.ProjectID, &v.Number, &createdBy, &v.Content, &scenes, &v.ChangeSummary,
		&changed, &provenance, &diff, &score, &current, &candidate, &rejected, &base, &metrics,
		&v.ReviewText, &createdRaw); err != nil {
		return nil, err
	}
	v.CreatedBy = CreatedBy(createdBy)
	for _, field := range []struct {
		raw    string
		target any
	}{
		{scenes, &v.Scenes},
		{changed, &v.ChangedSceneIDs},
		{provenance, &v.Provenance},
		{diff, &v.Diff},
		{metrics, &v.Metrics},
	} {
		if strings.TrimSpace(field.raw) == "" {
			continue
		}
		if err := json.Unmarshal([]byte(field.raw), field.target); err != nil {
			return nil, fmt.Errorf("decode version %s: %w", v.ID, err)
		}
	}
	if score.Valid {
		value := score.Float64
		v.Score = &value
	}
	v.IsCurrent = current == 1
	v.IsCandidate = candidate == 1
	v.IsRejected = rejected == 1
	v.BaseVersionID = base.String
	if t, err := database.ParseTime(createdRaw); err == nil {
		v.CreatedAt = t
	}
	return &v, nil
}

func getVersion(ctx context.Context, q dbtx, where string, args ...any) (*Version, error) {
	v, err := scanVersion(q.QueryRowContext(ctx, versionSelect+" WHERE "+where, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrVersionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get version: %w", err)
	}
	return v, nil
}

// Get returns a version by id.
func (s *Store) Get(ctx context.Context, id string) (*Version, error) {
	return getVersion(ctx, s.db.SQL(), "id = ?", id)
}

// Current returns the project's current version.
func (s *Store) Current(ctx context.Context, projectID string) (*Version, error) {
	return getVersion(ctx, s.db.SQL(), "project_id = ? AND is_current = 1", projectID)
}

// OpenCandidate returns the project's open candidate, or (nil, nil).
func (s *Store) OpenCandidate(ctx context.Context, projectID string) (*Version, error) {
	v, err := getVersion(ctx, s.db.SQL(), "project_id = ? AND is_candidate = 1 AND is_rejected = 0", projectID)
	if errors.Is(err, ErrVersionNotFound) {
		return nil, nil
	}
	return v, err
}

// ListFilter narrows version listings.
type ListFilter struct {
	ProjectID       string
	IncludeRejected bool
	SinceVersion    int
	Limit           uint64
}

// List returns a project's versions ordered by version number.
func (s *Store) List(ctx context.Context, filter ListFilter) ([]*Version, error) {
	query := sq.Select(versionColumns...).From("project_versions").
		Where(sq.Eq{"project_id": filter.ProjectID}).
		OrderBy("version_number")
	if !filter.IncludeRejected {
		query = query.Where(sq.Eq{"is_rejected": 0})
	}
	if filter.SinceVersion > 0 {
		query = query.Where(sq.GtOrEq{"version_number": filter.SinceVersion})
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}
	statement, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build version query: %w", err)
	}
	rows, err := s.db.SQL().QueryContext(ctx, statement, args...)
	if err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}
	defer rows.Close()
	var versions []*Version
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// GetProject returns a project by id.
func (s *Store) GetProject(ctx context.Context, id string) (*Project, error) {
	p, err := scanProject(s.db.SQL().QueryRowContext(ctx,
		`SELECT id, owner_id, script_id, title, created_at FROM projects WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrVersionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get project: %w", err)
	}
	return p, nil
}

// ProjectForScript returns the project seeded from scriptID, or (nil, nil).
func (s *Store) ProjectForScript(ctx context.Context, scriptID string) (*Project, error) {
	p, err := scanProject(s.db.SQL().QueryRowContext(ctx,
		`SELECT id, owner_id, script_id, title, created_at FROM projects WHERE script_id = ?`, scriptID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get project for script: %w", err)
	}
	return p, nil
}

func scanProject(scanner rowScanner) (*Project, error) {
	var (
		p          Project
		scriptID   sql.NullString
		createdRaw string
	)
	if err := scanner.Scan(&p.ID, &p.OwnerID, &scriptID, &p.Title, &createdRaw); err != nil {
		return nil, err
	}
	p.ScriptID = scriptID.String
	if t, err := database.ParseTime(createdRaw); err == nil {
		p.CreatedAt = t
	}
	return &p, nil
}

// SeedInput is the initial content of a new project.
type SeedInput struct {
	OwnerID  string
	ScriptID string
	Title    string
	Scenes   []queue.Scene
	Content  string
	Score    *float64
	Metrics  map[string]float64
}

// SeedProject creates a project whose version 1 is current.
func (s *Store) SeedProject(ctx context.Context, input SeedInput) (*Project, *Version, error) {
	ctx, span := s.start(ctx, "versions.seed", attribute.String("owner.id", input.OwnerID))
	defer span.End()

	project := &Project{
		ID:        uuid.NewString(),
		OwnerID:   input.OwnerID,
		ScriptID:  input.ScriptID,
		Title:     input.Title,
		CreatedAt: s.now().UTC(),
	}
	var seeded *Version
	err := s.db.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO projects (id, owner_id, script_id, title, created_at) VALUES (?, ?, ?, ?, ?)`,
			project.ID, project.OwnerID, nullable(project.ScriptID), project.Title, database.FormatTime(project.CreatedAt),
		); err != nil {
			if database.IsConstraint(err) {
				return ErrProjectExists
			}
			return fmt.Errorf("insert project: %w", err)
		}
		v := s.newVersion(project.ID, 1, Draft{
			CreatedBy: CreatedBySystem,
			Scenes:    input.Scenes,
			Content:   input.Content,
			Score:     input.Score,
			Metrics:   input.Metrics,
		}, SourceSeed)
		v.IsCurrent = true
		v.ChangeSummary = "initial version"
		v.Diff = queue.DiffScenes(nil, v.Scenes)
		v.ChangedSceneIDs = changedIDs(v.Diff)
		if err := insertVersion(ctx, tx, v); err != nil {
			return err
		}
		seeded = v
		return nil
	})
	if err != nil {
		return nil, nil, s.fail(span, err)
	}
	s.logger.Info("project seeded",
		logging.String(logging.FieldProjectID, project.ID),
		logging.Script(project.ScriptID),
		logging.Int("scenes", len(seeded.Scenes)),
	)
	return project, seeded, nil
}

// CreateCandidate proposes a new version based on the current one. Only one
// open candidate may exist per project; a second returns ErrCandidateExists.
func (s *Store) CreateCandidate(ctx context.Context, projectID string, draft Draft) (*Version, error) {
	ctx, span := s.start(ctx, "versions.create_candidate", attribute.String("project.id", projectID))
	defer span.End()

	var created *Version
	err := s.db.WithTx(ctx, func(tx *sql.Tx) error {
		current, err := getVersion(ctx, tx, "project_id = ? AND is_current = 1", projectID)
		if err != nil {
			return err
		}
		var open int
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(1) FROM project_versions WHERE project_id = ? AND is_candidate = 1 AND is_rejected = 0`,
			projectID,
		).Scan(&open); err != nil {
			return fmt.Errorf("check open candidate: %w", err)
		}
		if open > 0 {
			return ErrCandidateExists
		}
		number, err := nextNumber(ctx, tx, projectID)
		if err != nil {
			return err
		}
		if draft.CreatedBy == "" {
			draft.CreatedBy = CreatedByAI
		}
		v := s.newVersion(projectID, number, draft, SourceCandidate)
		v.IsCandidate = true
		v.BaseVersionID = current.ID
		v.Diff = queue.DiffScenes(current.Scenes, v.Scenes)
		v.ChangedSceneIDs = changedIDs(v.Diff)
		if err := insertVersion(ctx, tx, v); err != nil {
			if database.IsConstraint(err) {
				return ErrCandidateExists
			}
			return err
		}
		created = v
		return nil
	})
	if err != nil {
		return nil, s.fail(span, err)
	}
	s.logger.Info("candidate created",
		logging.String(logging.FieldProjectID, projectID),
		logging.Int("version", created.Number),
		logging.Int("changed_scenes", len(created.Diff)),
	)
	return created, nil
}

// Accept promotes an open candidate to current, demotes the prior current,
// and invalidates unapplied recommendations of the superseded version.
func (s *Store) Accept(ctx context.Context, candidateID string) (*Version, error) {
	ctx, span := s.start(ctx, "versions.accept", attribute.String("version.id", candidateID))
	defer span.End()

	var accepted *Version
	err := s.db.WithTx(ctx, func(tx *sql.Tx) error {
		candidate, err := getVersion(ctx, tx, "id = ?", candidateID)
		if err != nil {
			return err
		}
		if !candidate.IsOpenCandidate() {
			return ErrNotCandidate
		}
		current, err := getVersion(ctx, tx, "project_id = ? AND is_current = 1", candidate.ProjectID)
		if err != nil {
			return err
		}
		if candidate.BaseVersionID != current.ID {
			return ErrStaleCandidate
		}
		if err := s.promoteTx(ctx, tx, current, candidate.ID); err != nil {
			return err
		}
		candidate.IsCurrent = true
		candidate.IsCandidate = false
		accepted = candidate
		return nil
	})
	if err != nil {
		return nil, s.fail(span, err)
	}
	s.logger.Info("candidate accepted",
		logging.String(logging.FieldProjectID, accepted.ProjectID),
		logging.Int("version", accepted.Number),
	)
	return accepted, nil
}

// Reject closes an open candidate. The current version is untouched and the
// candidate slot becomes free.
func (s *Store) Reject(ctx context.Context, candidateID string) (*Version, error) {
	ctx, span := s.start(ctx, "versions.reject", attribute.String("version.id", candidateID))
	defer span.End()

	var rejected *Version
	err := s.db.WithTx(ctx, func(tx *sql.Tx) error {
		candidate, err := getVersion(ctx, tx, "id = ?", candidateID)
		if err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx,
			`UPDATE project_versions SET is_rejected = 1 WHERE id = ? AND is_candidate = 1 AND is_rejected = 0`,
			candidateID,
		)
		if err != nil {
			return fmt.Errorf("reject candidate: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotCandidate
		}
		candidate.IsRejected = true
		rejected = candidate
		return nil
	})
	if err != nil {
		return nil, s.fail(span, err)
	}
	s.logger.Info("candidate rejected",
		logging.String(logging.FieldProjectID, rejected.ProjectID),
		logging.Int("version", rejected.Number),
	)
	return rejected, nil
}

// Revert appends a new current version whose content equals the target
// version's. The target row itself is never modified.
func (s *Store) Revert(ctx context.Context, projectID string, targetNumber int, userID string) (*Version, error) {
	ctx, span := s.start(ctx, "versions.revert",
		attribute.String("project.id", projectID), attribute.Int("version.target", targetNumber))
	defer span.End()

	var reverted *Version
	err := s.db.WithTx(ctx, func(tx *sql.Tx) error {
		target, err := getVersion(ctx, tx, "project_id = ? AND version_number = ?", projectID, targetNumber)
		if err != nil {
			return err
		}
		current, err := getVersion(ctx, tx, "project_id = ? AND is_current = 1", projectID)
		if err != nil {
			return err
		}
		number, err := nextNumber(ctx, tx, projectID)
		if err != nil {
			return err
		}
		v := s.newVersion(projectID, number, Draft{
			CreatedBy:     CreatedByUser,
			Scenes:        target.Scenes,
			Content:       target.Content,
			ChangeSummary: fmt.Sprintf("revert to version %d", target.Number),
			UserID:        userID,
			Score:         target.Score,
			Metrics:       target.Metrics,
		}, SourceRevert)
		revertedTo := target.Number
		v.Provenance.RevertedToVersion = &revertedTo
		reverted, err = s.appendCurrentTx(ctx, tx, current, v)
		return err
	})
	if err != nil {
		return nil, s.fail(span, err)
	}
	s.logger.Info("project reverted",
		logging.String(logging.FieldProjectID, projectID),
		logging.Int("reverted_to", targetNumber),
		logging.Int("version", reverted.Number),
	)
	return reverted, nil
}

// CommitEdit appends a user edit as the new current version.
func (s *Store) CommitEdit(ctx context.Context, projectID string, draft Draft) (*Version, error) {
	ctx, span := s.start(ctx, "versions.commit_edit", attribute.String("project.id", projectID))
	defer span.End()

	var committed *Version
	err := s.db.WithTx(ctx, func(tx *sql.Tx) error {
		current, err := getVersion(ctx, tx, "project_id = ? AND is_current = 1", projectID)
		if err != nil {
			return err
		}
		if len(queue.DiffScenes(current.Scenes, draft.Scenes)) == 0 {
			return ErrNoChanges
		}
		number, err := nextNumber(ctx, tx, projectID)
		if err != nil {
			return err
		}
		if draft.CreatedBy == "" {
			draft.CreatedBy = CreatedByUser
		}
		committed, err = s.appendCurrentTx(ctx, tx, current, s.newVersion(projectID, number, draft, SourceEdit))
		return err
	})
	if err != nil {
		return nil, s.fail(span, err)
	}
	s.logger.Info("edit committed",
		logging.String(logging.FieldProjectID, projectID),
		logging.Int("version", committed.Number),
	)
	return committed, nil
}

// appendCurrentTx inserts v as the new current version after demoting
// current, recording the diff against it.
func (s *Store) appendCurrentTx(ctx context.Context, tx *sql.Tx, current *Version, v *Version) (*Version, error) {
	v.BaseVersionID = current.ID
	v.Diff = queue.DiffScenes(current.Scenes, v.Scenes)
	v.ChangedSceneIDs = changedIDs(v.Diff)
	if err := s.demoteTx(ctx, tx, current); err != nil {
		return nil, err
	}
	v.IsCurrent = true
	if err := insertVersion(ctx, tx, v); err != nil {
		return nil, err
	}
	return v, nil
}

func (s *Store) demoteTx(ctx context.Context, tx *sql.Tx, current *Version) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE project_versions SET is_current = 0 WHERE id = ? AND is_current = 1`, current.ID)
	if err != nil {
		return fmt.Errorf("demote current version: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrStaleCandidate
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE scene_recommendations SET invalidated = 1 WHERE version_id = ? AND applied = 0`, current.ID,
	); err != nil {
		return fmt.Errorf("invalidate recommendations: %w", err)
	}
	return nil
}

func (s *Store) promoteTx(ctx context.Context, tx *sql.Tx, current *Version, candidateID string) error {
	if err := s.demoteTx(ctx, tx, current); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx,
		`UPDATE project_versions SET is_current = 1, is_candidate = 0
         WHERE id = ? AND is_candidate = 1 AND is_rejected = 0`, candidateID)
	if err != nil {
		return fmt.Errorf("promote version: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotCandidate
	}
	return nil
}

func (s *Store) newVersion(projectID string, number int, draft Draft, source string) *Version {
	now := s.now().UTC()
	scenes := queue.CloneScenes(draft.Scenes)
	content := draft.Content
	if strings.TrimSpace(content) == "" {
		content = queue.JoinScenes(scenes)
	}
	return &Version{
		ID:            uuid.NewString(),
		ProjectID:     projectID,
		Number:        number,
		CreatedBy:     draft.CreatedBy,
		Content:       content,
		Scenes:        scenes,
		ChangeSummary: draft.ChangeSummary,
		Provenance: Provenance{
			Source:    source,
			Agent:     draft.Agent,
			UserID:    draft.UserID,
			Timestamp: now,
		},
		Score:      draft.Score,
		Metrics:    draft.Metrics,
		ReviewText: draft.ReviewText,
		CreatedAt:  now,
	}
}

func nextNumber(ctx context.Context, tx *sql.Tx, projectID string) (int, error) {
	var number int
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version_number), 0) + 1 FROM project_versions WHERE project_id = ?`, projectID,
	).Scan(&number); err != nil {
		return 0, fmt.Errorf("next version number: %w", err)
	}
	return number, nil
}

func insertVersion(ctx context.Context, tx *sql.Tx, v *Version) error {
	encoded := make([]string, 0, 5)
	for _, value := range []any{nonNilScenes(v.Scenes), nonNilStrings(v.ChangedSceneIDs), v.Provenance, nonNilChanges(v.Diff), nonNilMetrics(v.Metrics)} {
		data, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("encode version: %w", err)
		}
		encoded = append(encoded, string(data))
	}
	var score any
	if v.Score != nil {
		score = *v.Score
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO project_versions (
            id, project_id, version_number, created_by, content, scenes, change_summary,
            changed_scene_ids, provenance, diff, score, is_current, is_candidate, is_rejected,
            base_version_id, metrics, review_text, created_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		v.ID, v.ProjectID, v.Number, v.CreatedBy, v.Content, encoded[0], v.ChangeSummary,
		encoded[1], encoded[2], encoded[3], score, boolInt(v.IsCurrent), boolInt(v.IsCandidate), boolInt(v.IsRejected),
		nullable(v.BaseVersionID), encoded[4], v.ReviewText, database.FormatTime(v.CreatedAt),
	); err != nil {
		return fmt.Errorf("insert version: %w", err)
	}
	return nil
}

func (s *Store) start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func (s *Store) fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

func nullable(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func boolInt(value bool) int {
	if value {
		return 1
	}
	return 0
}

func nonNilScenes(v []queue.Scene) []queue.Scene {
	if v == nil {
		return []queue.Scene{}
	}
	return v
}

func nonNilStrings(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}

func nonNilChanges(v []queue.SceneChange) []queue.SceneChange {
	if v == nil {
		return []queue.SceneChange{}
	}
	return v
}

func nonNilMetrics(v map[string]float64) map[string]float64 {
	if v == nil {
		return map[string]float64{}
	}
	return v
}

// ListProjects returns projects, newest first. An empty owner lists all.
func (s *Store) ListProjects(ctx context.Context, ownerID string, limit uint64) ([]*Project, error) {
	query := sq.Select("id", "owner_id", "script_id", "title", "created_at").From("projects").
		OrderBy("created_at DESC", "id")
	if ownerID != "" {
		query = query.Where(sq.Eq{"owner_id": ownerID})
	}
	if limit > 0 {
		query = query.Limit(limit)
	}
	statement, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build project query: %w", err)
	}
	rows, err := s.db.SQL().QueryContext(ctx, statement, args...)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()
	var projects []*Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}
