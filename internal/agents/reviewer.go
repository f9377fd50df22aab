package agents

import (
	"context"
	"strings"

	"conveyor/internal/services"
	"conveyor/internal/stage"
	"conveyor/internal/versions"
)

const reviewerLabel = "reviewer"

// Review is the Reviewer's assessment of one version.
type Review struct {
	Text            string
	Recommendations []versions.Recommendation
	Cost            float64
}

// Reviewer generates scene-level recommendations for a script version.
type Reviewer struct{ LLM Completer }

type reviewerResponse struct {
	Review          string `json:"review"`
	Recommendations []struct {
		SceneIndex     int    `json:"sceneIndex"`
		Priority       string `json:"priority"`
		Area           string `json:"area"`
		SuggestedText  string `json:"suggestedText"`
		Reasoning      string `json:"reasoning"`
		ExpectedImpact string `json:"expectedImpact"`
	} `json:"recommendations"`
}

// Review asks the model for recommendations on v. Suggestions pointing at
// missing scenes or repeating the current text are dropped, as is any second
// suggestion for the same scene.
func (r Reviewer) Review(ctx context.Context, v *versions.Version) (Review, error) {
	if v == nil || len(v.Scenes) == 0 {
		return Review{}, services.Wrap(services.ErrValidation, reviewerLabel, "review", "version has no scenes", nil)
	}
	p := (&prompt{}).section("scenes", v.Scenes)
	if v.ChangeSummary != "" {
		p.section("latest change", v.ChangeSummary)
	}

	var out reviewerResponse
	cost, err := ask(ctx, r.LLM, reviewerLabel, ReviewerPrompt, p.String(), services.ErrTransient, &out)
	if err != nil {
		return Review{Cost: cost}, err
	}
	seen := map[int]bool{}
	recs := make([]versions.Recommendation, 0, len(out.Recommendations))
	for _, rec := range out.Recommendations {
		text := strings.TrimSpace(rec.SuggestedText)
		if rec.SceneIndex < 0 || rec.SceneIndex >= len(v.Scenes) || seen[rec.SceneIndex] {
			continue
		}
		if text == "" || text == v.Scenes[rec.SceneIndex].Text {
			continue
		}
		seen[rec.SceneIndex] = true
		recs = append(recs, versions.Recommendation{
			SceneIndex:     rec.SceneIndex,
			Priority:       severity(rec.Priority),
			Area:           strings.ToLower(strings.TrimSpace(rec.Area)),
			SuggestedText:  text,
			Reasoning:      strings.TrimSpace(rec.Reasoning),
			ExpectedImpact: strings.TrimSpace(rec.ExpectedImpact),
		})
	}
	return Review{Text: strings.TrimSpace(out.Review), Recommendations: recs, Cost: cost}, nil
}

// HealthCheck reports model availability.
func (r Reviewer) HealthCheck(ctx context.Context) stage.Health {
	return completerHealth(ctx, reviewerLabel, r.LLM)
}
