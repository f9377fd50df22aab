package main

import (
	"context"
	"strings"
	"testing"

	"conveyor/internal/testsupport"
)

func TestOwnerSetShowReset(t *testing.T) {
	env := setupCLITestEnv(t)

	out := env.mustRun(t, "owner", "set", "owner-a", "--daily-limit", "5", "--budget", "10", "--tone", "warm")
	requireContains(t, out, "Created owner owner-a")

	out = env.mustRun(t, "owner", "set", "owner-a", "--min-score", "70")
	requireContains(t, out, "Updated owner owner-a")

	out = env.mustRun(t, "owner", "show", "owner-a", "--json")
	requireContains(t, out, `"DailyLimit": 5`)
	requireContains(t, out, `"MinScoreThreshold": 70`)
	requireContains(t, out, `"tone": "warm"`)

	out = env.mustRun(t, "owner", "show")
	requireContains(t, out, "owner-a")
	requireContains(t, out, "0/5")

	out = env.mustRun(t, "owner", "reset", "owner-a")
	requireContains(t, out, "Reset counters for owner owner-a")

	if _, _, err := env.run(t, "owner", "reset", "missing"); err == nil {
		t.Fatal("expected reset of unknown owner to fail")
	}
	if _, _, err := env.run(t, "owner", "set", "owner-b", "--min-score", "150"); err == nil {
		t.Fatal("expected out-of-range min score to fail")
	}
}

func TestOwnerImportAppliesDefaults(t *testing.T) {
	env := setupCLITestEnv(t)
	path := env.writeFile(t, "owners.yaml", strings.Join([]string{
		"owner_id: alpha",
		"daily_limit: 3",
		"style:",
		"  tone: playful",
		"---",
		"owner_id: beta",
		"filters:",
		"  blocked_keywords: [crypto]",
	}, "\n"))

	out := env.mustRun(t, "owner", "import", path)
	requireContains(t, out, "Imported 2 owner(s)")

	store := testsupport.MustOpenStore(t, env.cfg)
	alpha, err := store.GetOwner(context.Background(), "alpha")
	if err != nil || alpha == nil {
		t.Fatalf("GetOwner(alpha): %v", err)
	}
	if alpha.DailyLimit != 3 || alpha.Style.Tone != "playful" || !alpha.Enabled {
		t.Fatalf("unexpected alpha: %+v", alpha)
	}
	beta, err := store.GetOwner(context.Background(), "beta")
	if err != nil || beta == nil {
		t.Fatalf("GetOwner(beta): %v", err)
	}
	if beta.DailyLimit != env.cfg.OwnerDefaults.DailyLimit {
		t.Fatalf("expected default daily limit %d, got %d", env.cfg.OwnerDefaults.DailyLimit, beta.DailyLimit)
	}
	if len(beta.Filters.BlockedKeywords) != 1 || beta.Filters.BlockedKeywords[0] != "crypto" {
		t.Fatalf("unexpected beta filters: %+v", beta.Filters)
	}
}

func TestOwnerImportRejectsCounterFields(t *testing.T) {
	env := setupCLITestEnv(t)
	path := env.writeFile(t, "owners.yaml", "owner_id: alpha\nitems_processed_today: 4\n")
	if _, _, err := env.run(t, "owner", "import", path); err == nil {
		t.Fatal("expected unknown counter field to be rejected")
	}
}
