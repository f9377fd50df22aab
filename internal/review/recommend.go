package review

import (
	"context"
	"log/slog"
	"strings"

	"conveyor/internal/agents"
	"conveyor/internal/logging"
	"conveyor/internal/queue"
	"conveyor/internal/versions"
)

// Reviewer assesses one version of a project.
type Reviewer interface {
	Review(ctx context.Context, v *versions.Version) (agents.Review, error)
}

// Recommender generates and stores scene recommendations for the current
// version of a project. Model cost is charged to the project owner whether
// or not the review succeeds.
type Recommender struct {
	store    *queue.Store
	versions *versions.Store
	reviewer Reviewer
	logger   *slog.Logger
}

// NewRecommender constructs a Recommender.
func NewRecommender(store *queue.Store, versionStore *versions.Store, reviewer Reviewer, logger *slog.Logger) *Recommender {
	return &Recommender{
		store:    store,
		versions: versionStore,
		reviewer: reviewer,
		logger:   logging.NewComponentLogger(logger, "recommender"),
	}
}

// Recommend reviews the project's current version and returns the version
// with the stored recommendations.
func (r *Recommender) Recommend(ctx context.Context, projectID string) (*versions.Version, []*versions.Recommendation, error) {
	project, err := r.versions.GetProject(ctx, projectID)
	if err != nil {
		return nil, nil, err
	}
	current, err := r.versions.Current(ctx, projectID)
	if err != nil {
		return nil, nil, err
	}
	logger := r.logger.With(
		logging.String(logging.FieldProjectID, projectID),
		logging.Owner(project.OwnerID),
		logging.Int("version", current.Number),
	)

	review, err := r.reviewer.Review(ctx, current)
	if chargeErr := r.store.ChargeOwner(ctx, project.OwnerID, review.Cost); chargeErr != nil {
		logger.Warn("failed to charge review cost",
			logging.Error(chargeErr),
			logging.Float64("cost", review.Cost),
			logging.String(logging.FieldImpact, "owner monthly cost under-reported"),
		)
	}
	if err != nil {
		return nil, nil, err
	}
	if text := strings.TrimSpace(review.Text); text != "" {
		if err := r.versions.SetReviewText(ctx, current.ID, text); err != nil {
			return nil, nil, err
		}
		current.ReviewText = text
	}
	var stored []*versions.Recommendation
	if len(review.Recommendations) > 0 {
		stored, err = r.versions.AddRecommendations(ctx, current.ID, review.Recommendations)
		if err != nil {
			return nil, nil, err
		}
	}
	logger.Info("version reviewed",
		logging.String(logging.FieldEventType, "version_reviewed"),
		logging.Int("recommendations", len(stored)),
		logging.Float64("cost", review.Cost),
	)
	return current, stored, nil
}
