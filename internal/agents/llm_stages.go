package agents

import (
	"cmp"
	"context"
	"fmt"
	"math"
	"slices"
	"strings"

	"conveyor/internal/queue"
	"conveyor/internal/services"
	"conveyor/internal/stage"
	"conveyor/internal/textutil"
)

const defaultTargetDuration = 60

// Scorer rates the scouted source.
type Scorer struct{ LLM Completer }

// Execute implements stage.Handler.
func (s Scorer) Execute(ctx context.Context, in stage.Input) (stage.Result, error) {
	scout, err := stage.Require(queue.StageScorer, queue.StageScout, in.Item.Payloads.Scout)
	if err != nil {
		return stage.Result{}, err
	}
	p := (&prompt{}).
		section("title", scout.Title).
		section("key points", scout.KeyPoints).
		section("source", textutil.Truncate(scout.CleanText, 6000)).
		section("engagement", in.Item.Source.EngagementMetrics).
		section("owner style", style(in.Settings))

	var out queue.ScorerPayload
	cost, err := ask(ctx, s.LLM, queue.StageScorer.String(), ScorerPrompt, p.String(), services.ErrTransient, &out)
	if err != nil {
		return stage.Result{Cost: cost}, err
	}
	if !validScore(out.Score) {
		return stage.Result{Cost: cost}, invalidOutput(queue.StageScorer.String(), "score %v outside 0-100", out.Score)
	}
	for k, v := range out.Dimensions {
		out.Dimensions[k] = clampScore(v)
	}
	return stage.Result{Payload: out, Cost: cost, Note: fmt.Sprintf("score %.0f", out.Score)}, nil
}

// HealthCheck implements stage.HealthChecker.
func (s Scorer) HealthCheck(ctx context.Context) stage.Health {
	return completerHealth(ctx, queue.StageScorer.String(), s.LLM)
}

// Analyst extracts the story angle.
type Analyst struct{ LLM Completer }

// Execute implements stage.Handler.
func (a Analyst) Execute(ctx context.Context, in stage.Input) (stage.Result, error) {
	scout, err := stage.Require(queue.StageAnalyst, queue.StageScout, in.Item.Payloads.Scout)
	if err != nil {
		return stage.Result{}, err
	}
	p := (&prompt{}).
		section("title", scout.Title).
		section("source", textutil.Truncate(scout.CleanText, 8000)).
		section("owner style", style(in.Settings))
	if scorer := in.Item.Payloads.Scorer; scorer != nil {
		p.section("scorer notes", scorer.Reasoning)
	}

	var out queue.AnalystPayload
	cost, err := ask(ctx, a.LLM, queue.StageAnalyst.String(), AnalystPrompt, p.String(), services.ErrTransient, &out)
	if err != nil {
		return stage.Result{Cost: cost}, err
	}
	out.Angle = strings.TrimSpace(out.Angle)
	out.Hooks = compact(out.Hooks)
	out.Facts = compact(out.Facts)
	out.Emotions = compact(out.Emotions)
	if out.Angle == "" {
		return stage.Result{Cost: cost}, invalidOutput(queue.StageAnalyst.String(), "analysis has no angle")
	}
	return stage.Result{Payload: out, Cost: cost}, nil
}

// HealthCheck implements stage.HealthChecker.
func (a Analyst) HealthCheck(ctx context.Context) stage.Health {
	return completerHealth(ctx, queue.StageAnalyst.String(), a.LLM)
}

// Architect plans the beat structure.
type Architect struct{ LLM Completer }

// Execute implements stage.Handler.
func (a Architect) Execute(ctx context.Context, in stage.Input) (stage.Result, error) {
	analysis, err := stage.Require(queue.StageArchitect, queue.StageAnalyst, in.Item.Payloads.Analyst)
	if err != nil {
		return stage.Result{}, err
	}
	target := defaultTargetDuration
	format := ""
	if in.Settings != nil {
		if in.Settings.Style.TargetDurationSeconds > 0 {
			target = in.Settings.Style.TargetDurationSeconds
		}
		format = strings.TrimSpace(in.Settings.Style.Format)
	}
	p := (&prompt{}).
		section("analysis", analysis).
		section("target duration seconds", fmt.Sprint(target)).
		section("required format", format)

	var out queue.ArchitectPayload
	cost, err := ask(ctx, a.LLM, queue.StageArchitect.String(), ArchitectPrompt, p.String(), services.ErrTransient, &out)
	if err != nil {
		return stage.Result{Cost: cost}, err
	}
	beats := out.Beats[:0]
	for _, beat := range out.Beats {
		beat.Label = strings.TrimSpace(beat.Label)
		if beat.Label == "" {
			continue
		}
		beat.DurationSeconds = max(beat.DurationSeconds, 0)
		beats = append(beats, beat)
	}
	if len(beats) == 0 {
		return stage.Result{Cost: cost}, invalidOutput(queue.StageArchitect.String(), "structure has no beats")
	}
	out.Beats = beats
	out.TargetDurationSeconds = target
	if format != "" {
		out.Format = format
	}
	return stage.Result{Payload: out, Cost: cost, Note: fmt.Sprintf("%d beats", len(beats))}, nil
}

// HealthCheck implements stage.HealthChecker.
func (a Architect) HealthCheck(ctx context.Context) stage.Health {
	return completerHealth(ctx, queue.StageArchitect.String(), a.LLM)
}

// ScriptSource loads earlier scripts for revision runs.
type ScriptSource interface {
	GetScript(ctx context.Context, id string) (*queue.GeneratedScript, error)
}

// Writer drafts the script scenes. Revision runs see the previous script and
// the reviewer's notes; when target scenes are named, every other scene is
// carried over from the previous script unchanged.
type Writer struct {
	LLM     Completer
	Scripts ScriptSource
}

type writerResponse struct {
	Scenes       []queue.Scene `json:"scenes"`
	HookVariants []string      `json:"hookVariants"`
}

// Execute implements stage.Handler.
func (w Writer) Execute(ctx context.Context, in stage.Input) (stage.Result, error) {
	label := queue.StageWriter.String()
	analysis, err := stage.Require(queue.StageWriter, queue.StageAnalyst, in.Item.Payloads.Analyst)
	if err != nil {
		return stage.Result{}, err
	}
	plan, err := stage.Require(queue.StageWriter, queue.StageArchitect, in.Item.Payloads.Architect)
	if err != nil {
		return stage.Result{}, err
	}
	previous, err := w.previous(ctx, in.Item)
	if err != nil {
		return stage.Result{}, err
	}

	p := (&prompt{}).
		section("analysis", analysis).
		section("beat plan", plan).
		section("owner style", style(in.Settings))
	if in.Settings != nil {
		p.section("language", in.Settings.Style.Language)
	}
	if profile := in.Profile; profile != nil {
		p.section("profile summary", profile.Summary).
			section("avoid", profile.Avoid).
			section("prefer", profile.Prefer).
			section("rules", topRules(profile.Rules, 12))
	}
	if rev := in.Item.Revision; rev != nil {
		p.section("revision notes", rev.Notes)
		if len(rev.TargetScenes) > 0 {
			p.section("target scenes", fmt.Sprint(rev.TargetScenes))
		}
		if previous != nil {
			p.section("previous script", previous.Scenes)
		}
	}

	var out writerResponse
	cost, err := ask(ctx, w.LLM, label, WriterPrompt, p.String(), services.ErrTransient, &out)
	if err != nil {
		return stage.Result{Cost: cost}, err
	}
	scenes := normalizeScenes(out.Scenes, nil)
	if len(scenes) == 0 {
		return stage.Result{Cost: cost}, invalidOutput(label, "draft has no scenes")
	}
	if rev := in.Item.Revision; rev != nil && previous != nil && len(rev.TargetScenes) > 0 {
		scenes = keepUntargeted(previous.Scenes, scenes, rev.TargetScenes)
	}
	fullText := queue.JoinScenes(scenes)
	payload := queue.WriterPayload{
		Scenes:       scenes,
		FullText:     fullText,
		HookVariants: compact(out.HookVariants),
		WordCount:    textutil.WordCount(fullText),
	}
	return stage.Result{Payload: payload, Cost: cost, Note: fmt.Sprintf("%d scenes, %d words", len(scenes), payload.WordCount)}, nil
}

func (w Writer) previous(ctx context.Context, item *queue.Item) (*queue.GeneratedScript, error) {
	if !item.IsRevision() || w.Scripts == nil {
		return nil, nil
	}
	script, err := w.Scripts.GetScript(ctx, item.Revision.PreviousScriptID)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, queue.StageWriter.String(), "load previous script", "previous script unavailable", err)
	}
	return script, nil
}

// HealthCheck implements stage.HealthChecker.
func (w Writer) HealthCheck(ctx context.Context) stage.Health {
	return completerHealth(ctx, queue.StageWriter.String(), w.LLM)
}

// QC reviews the draft against the source facts.
type QC struct{ LLM Completer }

// Execute implements stage.Handler.
func (q QC) Execute(ctx context.Context, in stage.Input) (stage.Result, error) {
	label := queue.StageQC.String()
	draft, err := stage.Require(queue.StageQC, queue.StageWriter, in.Item.Payloads.Writer)
	if err != nil {
		return stage.Result{}, err
	}
	p := (&prompt{}).section("draft scenes", draft.Scenes)
	if analysis := in.Item.Payloads.Analyst; analysis != nil {
		p.section("source facts", analysis.Facts)
	}
	if plan := in.Item.Payloads.Architect; plan != nil {
		p.section("target duration seconds", fmt.Sprint(plan.TargetDurationSeconds))
	}

	var out queue.QCPayload
	cost, err := ask(ctx, q.LLM, label, QCPrompt, p.String(), services.ErrTransient, &out)
	if err != nil {
		return stage.Result{Cost: cost}, err
	}
	if !validScore(out.Score) {
		return stage.Result{Cost: cost}, invalidOutput(label, "qc score %v outside 0-100", out.Score)
	}
	issues := make([]queue.QCIssue, 0, len(out.Issues))
	for _, issue := range out.Issues {
		issue.Message = strings.TrimSpace(issue.Message)
		if issue.Message == "" {
			continue
		}
		if issue.SceneIndex < 0 || issue.SceneIndex >= len(draft.Scenes) {
			issue.SceneIndex = -1
		}
		issue.Severity = severity(issue.Severity)
		issues = append(issues, issue)
	}
	out.Issues = issues
	return stage.Result{Payload: out, Cost: cost, Note: fmt.Sprintf("%d issues", len(issues))}, nil
}

// HealthCheck implements stage.HealthChecker.
func (q QC) HealthCheck(ctx context.Context) stage.Health {
	return completerHealth(ctx, queue.StageQC.String(), q.LLM)
}

// Optimizer polishes the draft and scores the result.
type Optimizer struct{ LLM Completer }

// Execute implements stage.Handler.
func (o Optimizer) Execute(ctx context.Context, in stage.Input) (stage.Result, error) {
	label := queue.StageOptimizer.String()
	draft, err := stage.Require(queue.StageOptimizer, queue.StageWriter, in.Item.Payloads.Writer)
	if err != nil {
		return stage.Result{}, err
	}
	p := (&prompt{}).
		section("draft scenes", draft.Scenes).
		section("hook variants", draft.HookVariants)
	if qc := in.Item.Payloads.QC; qc != nil {
		p.section("qc issues", qc.Issues)
	}
	if profile := in.Profile; profile != nil {
		p.section("avoid", profile.Avoid).section("prefer", profile.Prefer)
	}

	var out queue.OptimizerPayload
	cost, err := ask(ctx, o.LLM, label, OptimizerPrompt, p.String(), services.ErrTransient, &out)
	if err != nil {
		return stage.Result{Cost: cost}, err
	}
	out.Scenes = normalizeScenes(out.Scenes, draft.Scenes)
	if len(out.Scenes) == 0 {
		return stage.Result{Cost: cost}, invalidOutput(label, "optimized script has no scenes")
	}
	if math.IsNaN(out.Confidence) || out.Confidence < 0 || out.Confidence > 1 {
		return stage.Result{Cost: cost}, invalidOutput(label, "confidence %v outside 0-1", out.Confidence)
	}
	s := &out.Scores
	s.Hook, s.Structure, s.Emotional, s.CTA = clampScore(s.Hook), clampScore(s.Structure), clampScore(s.Emotional), clampScore(s.CTA)
	if s.Overall <= 0 {
		s.Overall = (s.Hook + s.Structure + s.Emotional + s.CTA) / 4
	}
	s.Overall = clampScore(s.Overall)
	out.FullText = queue.JoinScenes(out.Scenes)
	out.SelectedHook = strings.TrimSpace(out.SelectedHook)
	return stage.Result{
		Payload: out,
		Cost:    cost,
		Note:    fmt.Sprintf("overall %.0f confidence %.2f", s.Overall, out.Confidence),
	}, nil
}

// HealthCheck implements stage.HealthChecker.
func (o Optimizer) HealthCheck(ctx context.Context) stage.Health {
	return completerHealth(ctx, queue.StageOptimizer.String(), o.LLM)
}

func style(settings *queue.OwnerSettings) any {
	if settings == nil {
		return nil
	}
	return settings.Style
}

func validScore(v float64) bool {
	return !math.IsNaN(v) && v >= 0 && v <= 100
}

func compact(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func severity(s string) string {
	switch s = strings.ToLower(strings.TrimSpace(s)); s {
	case "low", "medium", "high":
		return s
	}
	return "medium"
}

// normalizeScenes drops empty scenes and assigns ids. Missing ids are taken
// from the same position in fallback, then numbered s1, s2, ...
func normalizeScenes(scenes, fallback []queue.Scene) []queue.Scene {
	out := make([]queue.Scene, 0, len(scenes))
	used := map[string]bool{}
	for _, scene := range scenes {
		scene.Text = strings.TrimSpace(scene.Text)
		if scene.Text == "" {
			continue
		}
		scene.ID = strings.TrimSpace(scene.ID)
		scene.Visual = strings.TrimSpace(scene.Visual)
		scene.DurationSeconds = max(scene.DurationSeconds, 0)
		if scene.ID == "" && len(out) < len(fallback) {
			scene.ID = fallback[len(out)].ID
		}
		if scene.ID == "" || used[scene.ID] {
			scene.ID = ""
		}
		out = append(out, scene)
		if scene.ID != "" {
			used[scene.ID] = true
		}
	}
	next := 1
	for i := range out {
		if out[i].ID != "" {
			continue
		}
		for used[fmt.Sprintf("s%d", next)] {
			next++
		}
		out[i].ID = fmt.Sprintf("s%d", next)
		used[out[i].ID] = true
	}
	return out
}

// keepUntargeted restores every previous scene whose index is not targeted.
// The result keeps the previous scene count.
func keepUntargeted(previous, draft []queue.Scene, targets []int) []queue.Scene {
	targeted := make(map[int]bool, len(targets))
	for _, idx := range targets {
		targeted[idx] = true
	}
	out := queue.CloneScenes(previous)
	for i := range out {
		if targeted[i] && i < len(draft) {
			out[i].Text = draft[i].Text
			out[i].Visual = draft[i].Visual
			if draft[i].DurationSeconds > 0 {
				out[i].DurationSeconds = draft[i].DurationSeconds
			}
		}
	}
	return out
}

func topRules(rules []queue.WritingRule, n int) []queue.WritingRule {
	out := slices.Clone(rules)
	slices.SortStableFunc(out, func(a, b queue.WritingRule) int {
		return cmp.Compare(b.Weight, a.Weight)
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}
