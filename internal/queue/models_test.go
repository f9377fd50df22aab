package queue

import (
	"reflect"
	"testing"
	"time"
)

func TestDiffScenesIsPositional(t *testing.T) {
	base := []Scene{{ID: "a", Text: "one"}, {ID: "b", Text: "two"}, {ID: "c", Text: "three"}}
	tests := []struct {
		name  string
		after []Scene
		want  []SceneChange
	}{
		{"identical", base, []SceneChange{}},
		{
			"middle changed",
			[]Scene{{ID: "a", Text: "one"}, {ID: "b", Text: "TWO"}, {ID: "c", Text: "three"}},
			[]SceneChange{{SceneID: "b", Index: 1, Before: "two", After: "TWO"}},
		},
		{
			"scene added",
			[]Scene{{ID: "a", Text: "one"}, {ID: "b", Text: "two"}, {ID: "c", Text: "three"}, {ID: "d", Text: "four"}},
			[]SceneChange{{SceneID: "d", Index: 3, Before: "", After: "four"}},
		},
		{
			"scene removed",
			[]Scene{{ID: "a", Text: "one"}},
			[]SceneChange{{SceneID: "b", Index: 1, Before: "two"}, {SceneID: "c", Index: 2, Before: "three"}},
		},
		{
			"missing ids fall back to position",
			[]Scene{{Text: "one"}, {Text: "two"}, {Text: "3"}},
			[]SceneChange{{SceneID: "2", Index: 2, Before: "three", After: "3"}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DiffScenes(base, tt.after)
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("DiffScenes = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestUpsertHistoryKeepsOneEntryPerStage(t *testing.T) {
	now := time.Now()
	history := []StageHistoryEntry{
		{Stage: StageScout, Success: true},
		{Stage: StageAnalyst, Success: false},
	}
	history = upsertHistory(history, StageHistoryEntry{Stage: StageScorer, Success: true, StartedAt: now})
	history = upsertHistory(history, StageHistoryEntry{Stage: StageAnalyst, Success: true})
	if len(history) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(history))
	}
	for i, entry := range history {
		if entry.Stage != Stage(i+1) || !entry.Success {
			t.Fatalf("unexpected entry %d: %+v", i, entry)
		}
	}
}

func TestPayloadsSetAndKeepThrough(t *testing.T) {
	var p Payloads
	if err := p.Set(StageScout, ScoutPayload{Title: "x"}); err != nil {
		t.Fatalf("Set scout: %v", err)
	}
	if err := p.Set(StageWriter, &WriterPayload{WordCount: 10}); err != nil {
		t.Fatalf("Set writer: %v", err)
	}
	if err := p.Set(StageGate, WriterPayload{}); err == nil {
		t.Fatal("expected mismatch error")
	}
	if err := p.Set(StageQC, (*QCPayload)(nil)); err == nil {
		t.Fatal("expected nil pointer to be rejected")
	}
	kept := p.KeepThrough(StageArchitect)
	if !kept.Has(StageScout) || kept.Has(StageWriter) {
		t.Fatalf("unexpected kept payloads %+v", kept)
	}
}

func TestParseStage(t *testing.T) {
	for _, tt := range []struct {
		in   string
		want Stage
		ok   bool
	}{
		{"writer", StageWriter, true},
		{" Gate ", StageGate, true},
		{"9", StageDelivery, true},
		{"0", 0, false},
		{"publish", 0, false},
	} {
		got, ok := ParseStage(tt.in)
		if got != tt.want || ok != tt.ok {
			t.Fatalf("ParseStage(%q) = %v,%v want %v,%v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

func TestEffectiveThreshold(t *testing.T) {
	learned := 80.0
	lower := 50.0
	tests := []struct {
		name    string
		learned *float64
		want    float64
	}{
		{"no learned threshold", nil, 70},
		{"learned above minimum", &learned, 80},
		{"learned below minimum", &lower, 70},
	}
	for _, tt := range tests {
		o := OwnerSettings{MinScoreThreshold: 70, LearnedThreshold: tt.learned}
		if got := o.EffectiveThreshold(); got != tt.want {
			t.Fatalf("%s: got %v want %v", tt.name, got, tt.want)
		}
	}
}
