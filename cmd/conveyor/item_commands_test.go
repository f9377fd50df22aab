package main

import (
	"strings"
	"testing"
)

func TestItemAddListShow(t *testing.T) {
	env := setupCLITestEnv(t)
	env.mustRun(t, "owner", "set", "owner-a", "--daily-limit", "2", "--budget", "5")

	source := env.writeFile(t, "source.yaml", strings.Join([]string{
		"source_type: article",
		"source_item_id: art-1",
		"title: Rooftop farms open",
		"content: <p>The city opened twelve rooftop farms.</p>",
		"engagement_metrics:",
		"  views: 1200",
	}, "\n"))
	out := env.mustRun(t, "item", "add", "--owner", "owner-a", "--file", source)
	requireContains(t, out, "Queued item 1 for owner-a at stage Scout")

	out = env.mustRun(t, "item", "add", "--owner", "owner-a", "--title", "Second story", "--metric", "likes=40")
	requireContains(t, out, "Queued item 2")

	_, _, err := env.run(t, "item", "add", "--owner", "owner-a", "--title", "Third story")
	if err == nil || !strings.Contains(err.Error(), "daily_limit") {
		t.Fatalf("expected daily limit denial, got %v", err)
	}

	out = env.mustRun(t, "item", "list", "--owner", "owner-a")
	requireContains(t, out, "Rooftop farms open")
	requireContains(t, out, "Second story")

	out = env.mustRun(t, "item", "show", "1")
	requireContains(t, out, "Rooftop farms open")
	requireContains(t, out, "Processing")

	if _, _, err := env.run(t, "item", "show", "99"); err == nil {
		t.Fatal("expected missing item to fail")
	}
	if _, _, err := env.run(t, "item", "retry", "1"); err == nil {
		t.Fatal("expected retry of a processing item to fail")
	}
}

func TestItemAddValidation(t *testing.T) {
	env := setupCLITestEnv(t)

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"missing owner", []string{"item", "add", "--title", "x"}, "--owner is required"},
		{"empty source", []string{"item", "add", "--owner", "owner-a"}, "title or content"},
		{"unknown owner", []string{"item", "add", "--owner", "nobody", "--title", "x"}, "unknown_owner"},
		{"bad metric", []string{"item", "add", "--owner", "owner-a", "--title", "x", "--metric", "views=lots"}, "not a number"},
		{"bad status filter", []string{"item", "list", "--status", "sleeping"}, "unknown status"},
		{"bad id", []string{"item", "show", "abc"}, "invalid item id"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := env.run(t, tt.args...)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}
