package learning

import (
	"errors"
	"math"
	"testing"

	"conveyor/internal/queue"
	"conveyor/internal/services"
)

func TestMergeDeduplicatesRules(t *testing.T) {
	profile := &queue.WritingProfile{
		Avoid: []string{"Clickbait"},
		Rules: []queue.WritingRule{
			{Type: queue.RuleAvoid, Rule: "Avoid clickbait style openings in the hook", Weight: 2, OccurrenceCount: 1, Examples: []string{"You won't believe"}},
			{Type: queue.RuleTone, Rule: "Keep a warm tone", Weight: 1, OccurrenceCount: 1},
		},
	}
	incoming := queue.ExtractedPatterns{
		Avoid:  []string{"clickbait.", "jargon"},
		Prefer: []string{"numbers", "Numbers"},
		Rules: []queue.WritingRule{
			{Type: queue.RuleTone, Rule: "keep a WARM tone!", Weight: 1.5},
			{Type: queue.RuleAvoid, Rule: "avoid clickbait openings in the hook", Weight: 1, Examples: []string{"you won't believe", "Shocking"}},
			{Type: queue.RuleStyle, Rule: "avoid clickbait openings in the hook", Weight: 1},
		},
	}

	stats := Merge(profile, incoming, MergeOptions{SimilarityThreshold: 0.85, MaxExamples: 5})

	if stats.RulesMerged != 2 || stats.RulesAdded != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if len(profile.Rules) != 3 {
		t.Fatalf("expected 3 rules, got %+v", profile.Rules)
	}
	hook := profile.Rules[0]
	if hook.Weight != 3 || hook.OccurrenceCount != 2 {
		t.Fatalf("near-duplicate not merged: %+v", hook)
	}
	if len(hook.Examples) != 2 || hook.Examples[0] != "You won't believe" {
		t.Fatalf("examples not deduplicated: %v", hook.Examples)
	}
	if profile.Rules[1].Weight != 2.5 || profile.Rules[1].Rule != "Keep a warm tone" {
		t.Fatalf("exact match should keep first spelling: %+v", profile.Rules[1])
	}
	if profile.Rules[2].Type != queue.RuleStyle || profile.Rules[2].OccurrenceCount != 1 {
		t.Fatalf("different type should be appended: %+v", profile.Rules[2])
	}
	if len(profile.Avoid) != 2 || profile.Avoid[0] != "Clickbait" || profile.Avoid[1] != "jargon" {
		t.Fatalf("unexpected avoid set: %v", profile.Avoid)
	}
	if len(profile.Prefer) != 1 || profile.Prefer[0] != "numbers" {
		t.Fatalf("unexpected prefer set: %v", profile.Prefer)
	}
}

func TestMergeCapsExamples(t *testing.T) {
	profile := &queue.WritingProfile{}
	Merge(profile, queue.ExtractedPatterns{Rules: []queue.WritingRule{
		{Type: queue.RuleStyle, Rule: "short sentences", Weight: 1, Examples: []string{"a1", "a2", "a3"}},
	}}, MergeOptions{MaxExamples: 2})
	if got := profile.Rules[0].Examples; len(got) != 2 {
		t.Fatalf("expected 2 examples, got %v", got)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		input   queue.ExtractedPatterns
		wantErr bool
	}{
		{"valid", queue.ExtractedPatterns{Avoid: []string{"x"}, Rules: []queue.WritingRule{{Type: queue.RulePrefer, Rule: "use data", Weight: 10}}, Sentiment: -1}, false},
		{"empty extraction", queue.ExtractedPatterns{}, false},
		{"sentiment too high", queue.ExtractedPatterns{Sentiment: 1.2}, true},
		{"unknown type", queue.ExtractedPatterns{Rules: []queue.WritingRule{{Type: "voice", Rule: "x", Weight: 1}}}, true},
		{"zero weight", queue.ExtractedPatterns{Rules: []queue.WritingRule{{Type: queue.RuleTone, Rule: "x", Weight: 0}}}, true},
		{"weight above max", queue.ExtractedPatterns{Rules: []queue.WritingRule{{Type: queue.RuleTone, Rule: "x", Weight: 11}}}, true},
		{"blank rule", queue.ExtractedPatterns{Rules: []queue.WritingRule{{Type: queue.RuleTone, Rule: "  ", Weight: 1}}}, true},
		{"blank avoid", queue.ExtractedPatterns{Avoid: []string{""}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, services.ErrValidation) {
				t.Fatalf("expected validation marker, got %v", err)
			}
		})
	}
}

func TestEMAPolicy(t *testing.T) {
	policy := EMAPolicy{Alpha: 0.5, Margin: 5, MaxStep: 4}
	learned := 80.0

	tests := []struct {
		name     string
		current  *float64
		min      float64
		approved []float64
		want     float64
		ok       bool
	}{
		{"no samples", nil, 70, nil, 0, false},
		{"moves up from minimum", nil, 70, []float64{80, 80}, 72.5, true},
		{"step bounded", nil, 50, []float64{95}, 54, true},
		{"moves down from learned", &learned, 70, []float64{79}, 77, true},
		{"clamped at zero", nil, 1, []float64{0}, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := policy.Next(tt.current, tt.min, tt.approved)
			if ok != tt.ok || math.Abs(got-tt.want) > 1e-9 {
				t.Fatalf("Next() = %v, %v; want %v, %v", got, ok, tt.want, tt.ok)
			}
		})
	}
}
