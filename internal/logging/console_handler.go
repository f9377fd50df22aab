package logging

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
)

// trailingFields print after every other field so the operator guidance on
// a warning is the last thing read.
var trailingFields = map[string]int{FieldEventType: 1, FieldImpact: 2, FieldErrorHint: 3}

// prettyHandler writes a header line per record,
//
//	2026-01-02T15:04:05Z INFO [item 7 writer] workflow: stage completed
//
// followed by one "    - key: value" line per remaining field.
type prettyHandler struct {
	mu        *sync.Mutex
	writer    io.Writer
	level     *slog.LevelVar
	attrs     []slog.Attr
	groups    []string
	addSource bool
}

func newPrettyHandler(w io.Writer, lvl *slog.LevelVar, addSource bool) slog.Handler {
	return &prettyHandler{mu: &sync.Mutex{}, writer: w, level: lvl, addSource: addSource}
}

func (h *prettyHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *prettyHandler) Handle(_ context.Context, record slog.Record) error {
	if record.Level < h.level.Level() {
		return nil
	}
	var fields fieldList
	for _, attr := range h.attrs {
		fields.add(h.groups, attr)
	}
	record.Attrs(func(attr slog.Attr) bool {
		fields.add(h.groups, attr)
		return true
	})
	component := fields.take(FieldComponent)
	itemID := fields.take(FieldItemID)
	stage := fields.take(FieldStage)

	ts := record.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	message := strings.TrimSpace(record.Message)
	if message == "" {
		message = "(no message)"
	}

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%s %s ", ts.UTC().Format(time.RFC3339), levelLabel(record.Level))
	if prefix := subject(itemID, stage); prefix != "" {
		buf.WriteString(prefix + " ")
	}
	if component != "" {
		buf.WriteString(component + ": ")
	}
	buf.WriteString(message)
	if src := record.Source(); h.addSource && src != nil && src.File != "" {
		fmt.Fprintf(&buf, " [%s:%d]", filepath.Base(src.File), src.Line)
	}
	buf.WriteByte('\n')
	for _, f := range fields.ordered() {
		fmt.Fprintf(&buf, "    - %s: %s\n", f.key, formatValue(f.value))
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := h.writer.Write(buf.Bytes())
	return err
}

// subject renders the bracketed item and stage prefix that `conveyor logs
// --item` matches on.
func subject(itemID, stage string) string {
	parts := make([]string, 0, 3)
	if itemID != "" {
		parts = append(parts, "item", itemID)
	}
	if stage != "" {
		parts = append(parts, stage)
	}
	if len(parts) == 0 {
		return ""
	}
	return "[" + strings.Join(parts, " ") + "]"
}

func (h *prettyHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	clone.attrs = append(append([]slog.Attr(nil), h.attrs...), attrs...)
	return &clone
}

func (h *prettyHandler) WithGroup(name string) slog.Handler {
	clone := *h
	clone.groups = append(append([]string(nil), h.groups...), name)
	return &clone
}

type field struct {
	key   string
	value slog.Value
}

// fieldList keeps one value per dotted key. A repeated key overwrites the
// earlier value in place.
type fieldList struct {
	items []field
	index map[string]int
}

func (l *fieldList) add(prefix []string, attr slog.Attr) {
	if attr.Equal(slog.Attr{}) {
		return
	}
	value := attr.Value.Resolve()
	if value.Kind() == slog.KindGroup {
		next := prefix
		if attr.Key != "" {
			next = append(append([]string(nil), prefix...), attr.Key)
		}
		for _, member := range value.Group() {
			l.add(next, member)
		}
		return
	}
	key := attr.Key
	if len(prefix) > 0 {
		key = strings.Join(prefix, ".") + "." + key
	}
	if key == "" {
		return
	}
	if l.index == nil {
		l.index = make(map[string]int)
	}
	if pos, ok := l.index[key]; ok {
		l.items[pos].value = value
		return
	}
	l.index[key] = len(l.items)
	l.items = append(l.items, field{key: key, value: value})
}

// take removes key and returns its rendered value, or "" when absent.
func (l *fieldList) take(key string) string {
	pos, ok := l.index[key]
	if !ok {
		return ""
	}
	value := l.items[pos].value
	l.items[pos].key = ""
	if value.Kind() == slog.KindString {
		return value.String()
	}
	return formatValue(value)
}

func (l *fieldList) ordered() []field {
	out := make([]field, 0, len(l.items))
	var tail [4]*field
	for i := range l.items {
		f := &l.items[i]
		switch rank := trailingFields[f.key]; {
		case f.key == "":
		case rank > 0:
			tail[rank] = f
		default:
			out = append(out, *f)
		}
	}
	for _, f := range tail {
		if f != nil {
			out = append(out, *f)
		}
	}
	return out
}

func formatValue(v slog.Value) string {
	var s string
	switch v = v.Resolve(); v.Kind() {
	case slog.KindBool:
		return strconv.FormatBool(v.Bool())
	case slog.KindInt64:
		return strconv.FormatInt(v.Int64(), 10)
	case slog.KindUint64:
		return strconv.FormatUint(v.Uint64(), 10)
	case slog.KindFloat64:
		return strconv.FormatFloat(v.Float64(), 'f', -1, 64)
	case slog.KindDuration:
		return v.Duration().Round(time.Millisecond).String()
	case slog.KindTime:
		return v.Time().UTC().Format(time.RFC3339)
	case slog.KindAny:
		if err, ok := v.Any().(error); ok {
			s = err.Error()
		} else {
			s = fmt.Sprint(v.Any())
		}
	default:
		s = v.String()
	}
	if s == "" || strings.ContainsFunc(s, func(r rune) bool { return r < ' ' || r == '"' }) {
		return strconv.Quote(s)
	}
	return s
}

func levelLabel(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return "ERROR"
	case level >= slog.LevelWarn:
		return "WARN"
	case level >= slog.LevelInfo:
		return "INFO"
	default:
		return "DEBUG"
	}
}
