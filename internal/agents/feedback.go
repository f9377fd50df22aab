package agents

import (
	"context"
	"strings"

	"conveyor/internal/learning"
	"conveyor/internal/queue"
	"conveyor/internal/services"
)

// Extractor turns feedback notes into patterns via the model. Undecodable
// output is a validation error so the entry is discarded rather than retried.
type Extractor struct{ LLM Completer }

// Extract implements learning.Extractor.
func (e Extractor) Extract(ctx context.Context, req learning.ExtractionRequest) (queue.ExtractedPatterns, error) {
	p := (&prompt{}).
		section("feedback kind", string(req.Entry.Kind)).
		section("category", req.Entry.Category).
		section("notes", req.Entry.Notes)
	if req.Script != nil {
		if len(req.Entry.TargetScenes) > 0 {
			targeted := make([]queue.Scene, 0, len(req.Entry.TargetScenes))
			for _, idx := range req.Entry.TargetScenes {
				if idx >= 0 && idx < len(req.Script.Scenes) {
					targeted = append(targeted, req.Script.Scenes[idx])
				}
			}
			p.section("scenes the feedback is about", targeted)
		} else {
			p.section("script", req.Script.FullText)
		}
	}
	p.section("already avoided", req.Profile.Avoid).
		section("already preferred", req.Profile.Prefer)

	var out queue.ExtractedPatterns
	if _, err := ask(ctx, e.LLM, "extractor", ExtractorPrompt, p.String(), services.ErrValidation, &out); err != nil {
		return queue.ExtractedPatterns{}, err
	}
	for i := range out.Rules {
		out.Rules[i].Type = queue.RuleType(strings.ToLower(strings.TrimSpace(string(out.Rules[i].Type))))
	}
	return out, nil
}

// Summarizer condenses a writing profile via the model.
type Summarizer struct{ LLM Completer }

// Summarize implements learning.Summarizer.
func (s Summarizer) Summarize(ctx context.Context, profile queue.WritingProfile) (string, error) {
	p := (&prompt{}).
		section("avoid", profile.Avoid).
		section("prefer", profile.Prefer).
		section("rules", topRules(profile.Rules, 25)).
		section("previous summary", profile.Summary)

	var out struct {
		Summary string `json:"summary"`
	}
	if _, err := ask(ctx, s.LLM, "summarizer", SummarizerPrompt, p.String(), services.ErrTransient, &out); err != nil {
		return "", err
	}
	summary := strings.TrimSpace(out.Summary)
	if summary == "" {
		return "", invalidOutput("summarizer", "empty summary")
	}
	return summary, nil
}
