package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"

	"conveyor/internal/config"
	"conveyor/internal/queue"
)

var titleCaser = cases.Title(language.English)

// stageLabel renders a stage name for tables and detail views.
func stageLabel(stage queue.Stage) string {
	if !stage.Valid() {
		return "-"
	}
	if stage == queue.StageQC {
		return "QC"
	}
	return titleCaser.String(stage.String())
}

func statusLabel(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return "-"
	}
	return titleCaser.String(strings.ReplaceAll(value, "_", " "))
}

func parseItemID(arg string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(arg), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid item id %q", arg)
	}
	return id, nil
}

func parseVersionNumber(arg string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(arg))
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid version number %q", arg)
	}
	return n, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04")
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return formatTime(*t)
}

func formatCost(v float64) string {
	return fmt.Sprintf("$%.4f", v)
}

func formatScore(v float64) string {
	return strconv.FormatFloat(v, 'f', 1, 64)
}

func formatScorePtr(v *float64) string {
	if v == nil {
		return "-"
	}
	return formatScore(*v)
}

// sortRows orders table rows by their first column.
func sortRows(rows [][]string) {
	slices.SortFunc(rows, func(a, b []string) int {
		return strings.Compare(a[0], b[0])
	})
}

func truncate(value string, limit int) string {
	value = strings.Join(strings.Fields(value), " ")
	runes := []rune(value)
	if limit <= 0 || len(runes) <= limit {
		return value
	}
	if limit <= 3 {
		return string(runes[:limit])
	}
	return string(runes[:limit-3]) + "..."
}

// readDocument decodes a JSON or YAML file into v. JSON is chosen by file
// extension so camelCase JSON keys map through the json struct tags; every
// other extension goes through yaml.v3. "-" reads stdin.
func readDocument(path string, stdin io.Reader, v any) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return errors.New("input file is required")
	}
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		var expanded string
		expanded, err = config.ExpandPath(path)
		if err == nil {
			data, err = os.ReadFile(expanded)
		}
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if strings.EqualFold(filepath.Ext(path), ".json") {
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(v); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
		return nil
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

// defaultActor names the operator for review and version commands.
func defaultActor() string {
	if user := strings.TrimSpace(os.Getenv("USER")); user != "" {
		return user
	}
	return "cli"
}

// writeJSON encodes v as indented JSON for --json output.
func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
