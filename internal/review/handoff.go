package review

import (
	"context"
	"errors"
	"strings"

	"conveyor/internal/queue"
	"conveyor/internal/textutil"
	"conveyor/internal/versions"
)

// FinalScript is the approved script as handed to production.
type FinalScript struct {
	Scenes           []queue.Scene
	SelectedVariants []string
	TotalWords       int
	Duration         float64
	AIScore          float64
}

// Handoff delivers an approved script downstream and returns the id of the
// production project it became. Implementations must be idempotent per
// script.
type Handoff interface {
	Handoff(ctx context.Context, script *queue.GeneratedScript, final FinalScript) (string, error)
}

// BuildFinalScript assembles the hand-off payload. item may be nil when the
// originating item is gone; variants and the planned duration are then
// unavailable.
func BuildFinalScript(script *queue.GeneratedScript, item *queue.Item) FinalScript {
	final := FinalScript{
		Scenes:     queue.CloneScenes(script.Scenes),
		TotalWords: textutil.WordCount(scriptText(script)),
		AIScore:    script.Scores.Overall,
	}
	for _, scene := range script.Scenes {
		final.Duration += scene.DurationSeconds
	}
	if item == nil {
		return final
	}
	if opt := item.Payloads.Optimizer; opt != nil && strings.TrimSpace(opt.SelectedHook) != "" {
		final.SelectedVariants = append(final.SelectedVariants, opt.SelectedHook)
	}
	if arch := item.Payloads.Architect; final.Duration == 0 && arch != nil {
		final.Duration = float64(arch.TargetDurationSeconds)
	}
	return final
}

// VersionHandoff seeds a project in the version store whose version 1
// carries the final script.
type VersionHandoff struct {
	Versions *versions.Store
}

// Handoff returns the existing project for the script, or seeds one.
func (h VersionHandoff) Handoff(ctx context.Context, script *queue.GeneratedScript, final FinalScript) (string, error) {
	if existing, err := h.Versions.ProjectForScript(ctx, script.ID); err != nil {
		return "", err
	} else if existing != nil {
		return existing.ID, nil
	}
	score := final.AIScore
	project, _, err := h.Versions.SeedProject(ctx, versions.SeedInput{
		OwnerID:  script.OwnerID,
		ScriptID: script.ID,
		Title:    script.Title,
		Scenes:   final.Scenes,
		Content:  scriptText(script),
		Score:    &score,
		Metrics:  finalMetrics(script.Scores, final),
	})
	if errors.Is(err, versions.ErrProjectExists) {
		existing, lookupErr := h.Versions.ProjectForScript(ctx, script.ID)
		if lookupErr != nil || existing == nil {
			return "", err
		}
		return existing.ID, nil
	}
	if err != nil {
		return "", err
	}
	return project.ID, nil
}

func finalMetrics(scores queue.ScriptScores, final FinalScript) map[string]float64 {
	return map[string]float64{
		"hook":             scores.Hook,
		"structure":        scores.Structure,
		"emotional":        scores.Emotional,
		"cta":              scores.CTA,
		"total_words":      float64(final.TotalWords),
		"duration_seconds": final.Duration,
	}
}

func scriptText(script *queue.GeneratedScript) string {
	if strings.TrimSpace(script.FullText) != "" {
		return script.FullText
	}
	return queue.JoinScenes(script.Scenes)
}
