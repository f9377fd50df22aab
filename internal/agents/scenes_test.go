package agents

import (
	"testing"

	"conveyor/internal/queue"
)

func TestNormalizeScenesIDs(t *testing.T) {
	got := normalizeScenes([]queue.Scene{
		{ID: "s2", Text: "b"},
		{ID: "s2", Text: "dup"},
		{Text: "c"},
		{Text: "   "},
	}, nil)
	want := []string{"s2", "s1", "s3"}
	if len(got) != len(want) {
		t.Fatalf("got %d scenes, want %d", len(got), len(want))
	}
	for i, id := range want {
		if got[i].ID != id {
			t.Fatalf("scene %d id = %q, want %q", i, got[i].ID, id)
		}
	}
}

func TestKeepUntargetedIgnoresExtraDraftScenes(t *testing.T) {
	previous := []queue.Scene{{ID: "s1", Text: "a"}, {ID: "s2", Text: "b"}}
	draft := []queue.Scene{{ID: "s1", Text: "A"}, {ID: "s2", Text: "B"}, {ID: "s3", Text: "C"}}
	got := keepUntargeted(previous, draft, []int{0, 5})
	if len(got) != 2 || got[0].Text != "A" || got[1].Text != "b" {
		t.Fatalf("unexpected scenes %+v", got)
	}
	if previous[0].Text != "a" {
		t.Fatal("previous scenes mutated")
	}
}

func TestPromptSkipsEmptySections(t *testing.T) {
	p := (&prompt{}).section("a", "").section("b", []string{}).section("c", map[string]int{}).section("d", "x")
	if p.String() != "D:\nx" {
		t.Fatalf("prompt = %q", p.String())
	}
}
