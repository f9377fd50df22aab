package logging_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"conveyor/internal/logging"
	"conveyor/internal/services"
)

func TestConsoleLoggerFoldsItemAndStageIntoHeader(t *testing.T) {
	var buf bytes.Buffer
	logger, err := logging.New(logging.Options{Format: "console", Level: "info", Writer: &buf})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	ctx := services.WithStage(services.WithItemID(context.Background(), 7), "writer")
	logging.WithContext(ctx, logging.NewComponentLogger(logger, "workflow")).Info("stage completed", logging.Float64("cost", 0.25))

	out := buf.String()
	if !strings.Contains(out, "[item 7 writer] workflow: stage completed") {
		t.Fatalf("unexpected header: %q", out)
	}
	if !strings.Contains(out, "- cost: 0.25") {
		t.Fatalf("expected cost field, got %q", out)
	}
	if strings.Contains(out, ".go:") {
		t.Fatalf("expected no caller information in info logs, got %q", out)
	}
}

func TestJSONLoggerWritesFileTee(t *testing.T) {
	var buf bytes.Buffer
	logPath := filepath.Join(t.TempDir(), "logs", "conveyor.log")
	logger, err := logging.New(logging.Options{Format: "console", Level: "info", Writer: &buf, FilePath: logPath})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	logger.Info("admitted", logging.String(logging.FieldOwnerID, "owner-1"))

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	var entry map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(content), &entry); err != nil {
		t.Fatalf("decode json line %q: %v", content, err)
	}
	if entry["msg"] != "admitted" || entry["owner_id"] != "owner-1" || entry["level"] != "info" {
		t.Fatalf("unexpected entry: %v", entry)
	}
	if !strings.Contains(buf.String(), "admitted") {
		t.Fatalf("expected console output too, got %q", buf.String())
	}
}

func TestWarnWithContextInjectsDefaults(t *testing.T) {
	var buf bytes.Buffer
	logger, err := logging.New(logging.Options{Format: "json", Level: "info", Writer: &buf})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	logging.WarnWithContext(logger, "extraction discarded", "feedback_discarded", logging.Error(errors.New("bad weight")))

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode: %v", err)
	}
	for _, key := range []string{logging.FieldEventType, logging.FieldErrorHint, logging.FieldImpact} {
		if _, ok := entry[key]; !ok {
			t.Fatalf("expected %s in %v", key, entry)
		}
	}
	if entry[logging.FieldEventType] != "feedback_discarded" {
		t.Fatalf("unexpected event type %v", entry[logging.FieldEventType])
	}
}

func TestForStageOverridesLevel(t *testing.T) {
	var buf bytes.Buffer
	logger, err := logging.New(logging.Options{Format: "console", Level: "debug", Writer: &buf})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	quiet := logging.ForStage(logger, "Writer", map[string]string{"writer": "warn"})
	quiet.Info("hidden")
	if buf.Len() != 0 {
		t.Fatalf("expected info to be suppressed, got %q", buf.String())
	}
	quiet.Warn("shown")
	if !strings.Contains(buf.String(), "shown") {
		t.Fatalf("expected warn output, got %q", buf.String())
	}
	if got := logging.ForStage(logger, "scout", map[string]string{"writer": "warn"}); got != logger {
		t.Fatal("expected logger without override to be returned unchanged")
	}
}

func TestForStageReplacesEarlierOverride(t *testing.T) {
	var buf bytes.Buffer
	logger, err := logging.New(logging.Options{Format: "console", Level: "debug", Writer: &buf})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	overrides := map[string]string{"writer": "error", "qc": "info"}
	quiet := logging.ForStage(logger, "writer", overrides)
	relaxed := logging.ForStage(quiet, "qc", overrides)
	relaxed.Info("qc info", logging.Owner("owner-a"))
	if !strings.Contains(buf.String(), "qc info") || !strings.Contains(buf.String(), "owner_id: owner-a") {
		t.Fatalf("expected info after replacing override, got %q", buf.String())
	}
	buf.Reset()
	quiet.Warn("writer warn")
	if buf.Len() != 0 {
		t.Fatalf("expected warn to be suppressed, got %q", buf.String())
	}
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	if _, err := logging.New(logging.Options{Format: "xml"}); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}

func TestConsoleLoggerPrintsGuidanceLast(t *testing.T) {
	var buf bytes.Buffer
	logger, err := logging.New(logging.Options{Format: "console", Level: "info", Writer: &buf})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	logging.WarnWithContext(logger, "charge failed", "charge_failed",
		logging.String(logging.FieldImpact, "cost under-reported"),
		logging.Float64("cost", 0.5),
		logging.String("cost", "0.75"),
	)
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	want := []string{
		"    - cost: 0.75",
		"    - event_type: charge_failed",
		"    - impact: cost under-reported",
		"    - error_hint: check logs for details",
	}
	if len(lines) != len(want)+1 {
		t.Fatalf("unexpected output:\n%s", buf.String())
	}
	for i, line := range want {
		if lines[i+1] != line {
			t.Fatalf("line %d = %q, want %q", i+1, lines[i+1], line)
		}
	}
}
