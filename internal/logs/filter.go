package logs

import (
	"encoding/json"
	"log/slog"
	"strconv"
	"strings"

	"conveyor/internal/logging"
)

// Filter narrows entries. Zero values match everything.
type Filter struct {
	ItemID   int64
	OwnerID  string
	MinLevel string
}

func (f Filter) empty() bool {
	return f.ItemID == 0 && f.OwnerID == "" && f.MinLevel == ""
}

// Matches reports whether entry passes every set criterion.
func (f Filter) Matches(entry Entry) bool {
	if f.empty() {
		return true
	}
	if len(entry.Lines) == 0 {
		return false
	}
	rec := parseRecord(entry)
	if f.MinLevel != "" && rec.level < logging.ParseLevel(f.MinLevel) {
		return false
	}
	if f.ItemID != 0 && rec.itemID != f.ItemID {
		return false
	}
	if f.OwnerID != "" && rec.ownerID != f.OwnerID {
		return false
	}
	return true
}

type record struct {
	level   slog.Level
	itemID  int64
	ownerID string
}

func parseRecord(entry Entry) record {
	head := entry.Lines[0]
	if strings.HasPrefix(head, "{") {
		var fields struct {
			Level   string `json:"level"`
			ItemID  int64  `json:"item_id"`
			OwnerID string `json:"owner_id"`
		}
		if json.Unmarshal([]byte(head), &fields) == nil {
			return record{level: logging.ParseLevel(fields.Level), itemID: fields.ItemID, ownerID: fields.OwnerID}
		}
		return record{level: slog.LevelInfo}
	}

	var rec record
	parts := strings.Fields(head)
	if len(parts) > 1 {
		rec.level = logging.ParseLevel(parts[1])
	}
	if i := strings.Index(head, "[item "); i >= 0 {
		rest := head[i+len("[item "):]
		if end := strings.IndexAny(rest, " ]"); end > 0 {
			rec.itemID, _ = strconv.ParseInt(rest[:end], 10, 64)
		}
	}
	for _, line := range entry.Lines[1:] {
		key, value, ok := strings.Cut(strings.TrimPrefix(line, fieldPrefix), ": ")
		if !ok {
			continue
		}
		switch key {
		case logging.FieldOwnerID:
			rec.ownerID = value
		case logging.FieldItemID:
			if rec.itemID == 0 {
				rec.itemID, _ = strconv.ParseInt(value, 10, 64)
			}
		}
	}
	return rec
}
