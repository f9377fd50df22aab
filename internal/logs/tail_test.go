package logs_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"conveyor/internal/logs"
)

const consoleLog = `2026-03-01T10:00:00Z INFO workflow: worker started
    - worker: w1
2026-03-01T10:00:01Z INFO [item 7 scout] stageexec: stage completed
    - owner_id: owner-a
    - cost: 0.01
2026-03-01T10:00:02Z WARN [item 8 writer] stageexec: stage attempt failed
    - owner_id: owner-b
2026-03-01T10:00:03Z ERROR [item 7 gate] stageexec: stage failed
    - owner_id: owner-a
`

func writeLog(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "conveyor.log")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write log: %v", err)
	}
	return path
}

func TestTailGroupsFieldsIntoEntries(t *testing.T) {
	path := writeLog(t, consoleLog)

	result, err := logs.Tail(context.Background(), path, logs.TailOptions{Offset: -1, Limit: 2})
	if err != nil {
		t.Fatalf("tail returned error: %v", err)
	}
	if len(result.Entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(result.Entries))
	}
	if !strings.Contains(result.Entries[0].String(), "owner-b") || len(result.Entries[1].Lines) != 2 {
		t.Fatalf("unexpected entries: %#v", result.Entries)
	}
	if result.Offset != int64(len(consoleLog)) {
		t.Fatalf("expected offset at end of file, got %d", result.Offset)
	}
}

func TestTailFilters(t *testing.T) {
	path := writeLog(t, consoleLog)
	tests := []struct {
		name   string
		filter logs.Filter
		want   []string
	}{
		{"item", logs.Filter{ItemID: 7}, []string{"stage completed", "stage failed"}},
		{"owner", logs.Filter{OwnerID: "owner-b"}, []string{"attempt failed"}},
		{"level", logs.Filter{MinLevel: "warn"}, []string{"attempt failed", "stage failed"}},
		{"combined", logs.Filter{ItemID: 7, MinLevel: "error"}, []string{"stage failed"}},
		{"no match", logs.Filter{ItemID: 99}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := logs.Tail(context.Background(), path, logs.TailOptions{Offset: -1, Limit: 10, Filter: tt.filter})
			if err != nil {
				t.Fatalf("tail: %v", err)
			}
			if len(result.Entries) != len(tt.want) {
				t.Fatalf("expected %d entries, got %#v", len(tt.want), result.Entries)
			}
			for i, want := range tt.want {
				if !strings.Contains(result.Entries[i].Lines[0], want) {
					t.Fatalf("entry %d = %q, want %q", i, result.Entries[i].Lines[0], want)
				}
			}
		})
	}
}

func TestTailFiltersJSONRecords(t *testing.T) {
	path := writeLog(t, `{"ts":"2026-03-01T10:00:00Z","level":"info","msg":"claimed","item_id":3,"owner_id":"owner-a"}
{"ts":"2026-03-01T10:00:01Z","level":"error","msg":"failed","item_id":4,"owner_id":"owner-a"}
`)
	result, err := logs.Tail(context.Background(), path, logs.TailOptions{
		Offset: -1,
		Limit:  10,
		Filter: logs.Filter{OwnerID: "owner-a", MinLevel: "error"},
	})
	if err != nil {
		t.Fatalf("tail: %v", err)
	}
	if len(result.Entries) != 1 || !strings.Contains(result.Entries[0].String(), `"item_id":4`) {
		t.Fatalf("unexpected entries: %#v", result.Entries)
	}
}

func TestTailMissingFile(t *testing.T) {
	result, err := logs.Tail(context.Background(), filepath.Join(t.TempDir(), "absent.log"), logs.TailOptions{Offset: -1, Limit: 5})
	if err != nil || len(result.Entries) != 0 || result.Offset != 0 {
		t.Fatalf("expected empty result, got %#v %v", result, err)
	}
}

func TestTailFollowWaits(t *testing.T) {
	path := writeLog(t, "2026-03-01T10:00:00Z INFO start\n")

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	result, err := logs.Tail(ctx, path, logs.TailOptions{Offset: -1, Limit: 1})
	if err != nil {
		t.Fatalf("initial tail: %v", err)
	}
	if len(result.Entries) != 1 {
		t.Fatalf("expected initial entry, got %#v", result.Entries)
	}

	done := make(chan struct{})
	go func(offset int64) {
		defer close(done)
		res, err := logs.Tail(ctx, path, logs.TailOptions{Offset: offset, Follow: true, Wait: 5 * time.Second})
		if err != nil {
			t.Errorf("follow tail error: %v", err)
		}
		if len(res.Entries) != 1 || !strings.HasSuffix(res.Entries[0].Lines[0], "later") {
			t.Errorf("unexpected follow entries: %#v", res.Entries)
		}
	}(result.Offset)

	time.Sleep(200 * time.Millisecond)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("open append: %v", err)
	}
	if _, err := f.WriteString("2026-03-01T10:00:05Z INFO later\n"); err != nil {
		t.Fatalf("append log: %v", err)
	}
	_ = f.Close()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("tail follow did not return")
	}
}
