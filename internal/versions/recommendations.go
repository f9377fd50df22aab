package versions

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"conveyor/internal/database"
	"conveyor/internal/logging"
	"conveyor/internal/queue"
	"conveyor/internal/services"
)

const recommendationColumns = `id, version_id, scene_index, scene_id, priority, area, current_text,
    suggested_text, reasoning, expected_impact, applied, applied_version_id, invalidated, created_at`

func scanRecommendation(scanner rowScanner) (*Recommendation, error) {
	var (
		rec        Recommendation
		sceneID    sql.NullString
		appliedID  sql.NullString
		applied    int
		invalid    int
		createdRaw string
	)
	if err := scanner.Scan(&rec.ID, &rec.VersionID, &rec.SceneIndex, &sceneID, &rec.Priority, &rec.Area,
		&rec.CurrentText, &rec.SuggestedText, &rec.Reasoning, &rec.ExpectedImpact, &applied, &appliedID,
		&invalid, &createdRaw); err != nil {
		return nil, err
	}
	rec.SceneID = sceneID.String
	rec.AppliedVersionID = appliedID.String
	rec.Applied = applied == 1
	rec.Invalidated = invalid == 1
	if t, err := database.ParseTime(createdRaw); err == nil {
		rec.CreatedAt = t
	}
	return &rec, nil
}

// AddRecommendations stores suggestions against a version. Scene indexes
// outside the version's scene list are rejected.
func (s *Store) AddRecommendations(ctx context.Context, versionID string, recs []Recommendation) ([]*Recommendation, error) {
	ctx, span := s.start(ctx, "versions.add_recommendations",
		attribute.String("version.id", versionID), attribute.Int("count", len(recs)))
	defer span.End()

	stored := make([]*Recommendation, 0, len(recs))
	err := s.db.WithTx(ctx, func(tx *sql.Tx) error {
		version, err := getVersion(ctx, tx, "id = ?", versionID)
		if err != nil {
			return err
		}
		now := database.FormatTime(s.now())
		for _, rec := range recs {
			if rec.SceneIndex < 0 || rec.SceneIndex >= len(version.Scenes) {
				return services.Wrap(services.ErrValidation, "versions", "add recommendation",
					fmt.Sprintf("scene index %d out of range", rec.SceneIndex), nil)
			}
			if strings.TrimSpace(rec.SuggestedText) == "" {
				return services.Wrap(services.ErrValidation, "versions", "add recommendation",
					"suggested text is empty", nil)
			}
			rec.ID = uuid.NewString()
			rec.VersionID = versionID
			rec.SceneID = queue.SceneKey(version.Scenes, rec.SceneIndex)
			if rec.CurrentText == "" {
				rec.CurrentText = version.Scenes[rec.SceneIndex].Text
			}
			if rec.Priority == "" {
				rec.Priority = "medium"
			}
			rec.Applied = false
			rec.Invalidated = !version.IsCurrent && !version.IsOpenCandidate()
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO scene_recommendations (`+recommendationColumns+`)
                 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, NULL, ?, ?)`,
				rec.ID, rec.VersionID, rec.SceneIndex, rec.SceneID, rec.Priority, rec.Area, rec.CurrentText,
				rec.SuggestedText, rec.Reasoning, rec.ExpectedImpact, boolInt(rec.Invalidated), now,
			); err != nil {
				return fmt.Errorf("insert recommendation: %w", err)
			}
			rec.CreatedAt, _ = database.ParseTime(now)
			stored = append(stored, &rec)
		}
		return nil
	})
	if err != nil {
		return nil, s.fail(span, err)
	}
	return stored, nil
}

// SetReviewText stores the reviewer's overall assessment of a version.
func (s *Store) SetReviewText(ctx context.Context, versionID, text string) error {
	res, err := s.db.Exec(ctx, `UPDATE project_versions SET review_text = ? WHERE id = ?`,
		strings.TrimSpace(text), versionID)
	if err != nil {
		return fmt.Errorf("set review text: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrVersionNotFound
	}
	return nil
}

// ListRecommendations returns a version's recommendations by scene.
func (s *Store) ListRecommendations(ctx context.Context, versionID string) ([]*Recommendation, error) {
	rows, err := s.db.SQL().QueryContext(ctx,
		`SELECT `+recommendationColumns+` FROM scene_recommendations
         WHERE version_id = ? ORDER BY scene_index, created_at, id`, versionID)
	if err != nil {
		return nil, fmt.Errorf("list recommendations: %w", err)
	}
	defer rows.Close()
	var recs []*Recommendation
	for rows.Next() {
		rec, err := scanRecommendation(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// GetRecommendation returns a recommendation by id.
func (s *Store) GetRecommendation(ctx context.Context, id string) (*Recommendation, error) {
	return getRecommendation(ctx, s.db.SQL(), id)
}

func getRecommendation(ctx context.Context, q dbtx, id string) (*Recommendation, error) {
	rec, err := scanRecommendation(q.QueryRowContext(ctx,
		`SELECT `+recommendationColumns+` FROM scene_recommendations WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRecommendationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get recommendation: %w", err)
	}
	return rec, nil
}

// ApplyRecommendation creates a new current version in which only the
// recommended scene's text differs from the version it was written against.
func (s *Store) ApplyRecommendation(ctx context.Context, recID, userID string) (*Version, error) {
	ctx, span := s.start(ctx, "versions.apply_recommendation", attribute.String("recommendation.id", recID))
	defer span.End()

	var applied *Version
	err := s.db.WithTx(ctx, func(tx *sql.Tx) error {
		rec, err := getRecommendation(ctx, tx, recID)
		if err != nil {
			return err
		}
		if rec.Applied {
			return ErrRecommendationApplied
		}
		if rec.Invalidated {
			return ErrSupersededVersion
		}
		source, err := getVersion(ctx, tx, "id = ?", rec.VersionID)
		if err != nil {
			return err
		}
		if !source.IsCurrent {
			return ErrSupersededVersion
		}
		if rec.SceneIndex < 0 || rec.SceneIndex >= len(source.Scenes) {
			return services.Wrap(services.ErrValidation, "versions", "apply recommendation",
				fmt.Sprintf("scene index %d out of range", rec.SceneIndex), nil)
		}
		if source.Scenes[rec.SceneIndex].Text == rec.SuggestedText {
			return ErrNoChanges
		}
		scenes := queue.CloneScenes(source.Scenes)
		scenes[rec.SceneIndex].Text = rec.SuggestedText

		number, err := nextNumber(ctx, tx, source.ProjectID)
		if err != nil {
			return err
		}
		v := s.newVersion(source.ProjectID, number, Draft{
			CreatedBy:     CreatedByAI,
			Scenes:        scenes,
			ChangeSummary: fmt.Sprintf("applied recommendation to scene %s", rec.SceneID),
			Agent:         "reviewer",
			UserID:        userID,
			Metrics:       source.Metrics,
		}, SourceRecommendation)
		v.Provenance.RecommendationID = rec.ID
		if strings.TrimSpace(source.Content) != queue.JoinScenes(source.Scenes) {
			v.Content = strings.Replace(source.Content, source.Scenes[rec.SceneIndex].Text, rec.SuggestedText, 1)
		}
		if _, err := s.appendCurrentTx(ctx, tx, source, v); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx,
			`UPDATE scene_recommendations SET applied = 1, applied_version_id = ?, invalidated = 0
             WHERE id = ? AND applied = 0`, v.ID, rec.ID)
		if err != nil {
			return fmt.Errorf("mark recommendation applied: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrRecommendationApplied
		}
		applied = v
		return nil
	})
	if err != nil {
		return nil, s.fail(span, err)
	}
	s.logger.Info("recommendation applied",
		logging.String(logging.FieldProjectID, applied.ProjectID),
		logging.String("recommendation_id", recID),
		logging.Int("version", applied.Number),
	)
	return applied, nil
}
