package main

import (
	"os"
	"strings"
	"testing"
)

func TestLogsCommandFiltersEntries(t *testing.T) {
	env := setupCLITestEnv(t)

	requireContains(t, env.mustRun(t, "logs"), "No log entries")

	content := "2026-03-01T10:00:01Z INFO [item 7 scout] stageexec: stage completed\n" +
		"    - owner_id: owner-a\n" +
		"2026-03-01T10:00:02Z ERROR [item 8 writer] stageexec: stage failed\n" +
		"    - owner_id: owner-b\n"
	if err := os.WriteFile(env.cfg.LogPath(), []byte(content), 0o644); err != nil {
		t.Fatalf("write log: %v", err)
	}

	out := env.mustRun(t, "logs", "--item", "8")
	requireContains(t, out, "stage failed")
	requireContains(t, out, "owner-b")
	if strings.Contains(out, "stage completed") {
		t.Fatalf("item filter leaked other entries: %q", out)
	}

	out = env.mustRun(t, "logs", "-n", "1")
	if strings.Contains(out, "item 7") || !strings.Contains(out, "item 8") {
		t.Fatalf("expected only the last entry, got %q", out)
	}

	if _, _, err := env.run(t, "logs", "--level", "loud"); err == nil {
		t.Fatal("expected unknown level error")
	}
}
