package logging

import (
	"context"
	"log/slog"
)

// NoopHandler discards all log output.
type NoopHandler struct{}

func (NoopHandler) Enabled(context.Context, slog.Level) bool { return false }

func (NoopHandler) Handle(context.Context, slog.Record) error { return nil }

func (NoopHandler) WithAttrs([]slog.Attr) slog.Handler { return NoopHandler{} }

func (NoopHandler) WithGroup(string) slog.Handler { return NoopHandler{} }

// teeHandler writes each record to the operator's console and to the
// daemon log file that `conveyor logs` reads.
type teeHandler struct {
	console slog.Handler
	file    slog.Handler
}

func (h teeHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.console.Enabled(ctx, level) || h.file.Enabled(ctx, level)
}

func (h teeHandler) Handle(ctx context.Context, record slog.Record) error {
	var consoleErr error
	if h.console.Enabled(ctx, record.Level) {
		consoleErr = h.console.Handle(ctx, record.Clone())
	}
	if h.file.Enabled(ctx, record.Level) {
		if err := h.file.Handle(ctx, record); err != nil {
			return err
		}
	}
	return consoleErr
}

func (h teeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return teeHandler{console: h.console.WithAttrs(attrs), file: h.file.WithAttrs(attrs)}
}

func (h teeHandler) WithGroup(name string) slog.Handler {
	return teeHandler{console: h.console.WithGroup(name), file: h.file.WithGroup(name)}
}

// stageLevelHandler raises the minimum level for one stage's logger. It can
// only quiet a stage; the wrapped handler's own level still applies.
type stageLevelHandler struct {
	next slog.Handler
	min  slog.Level
}

func (h stageLevelHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= h.min && h.next.Enabled(ctx, level)
}

func (h stageLevelHandler) Handle(ctx context.Context, record slog.Record) error {
	if record.Level < h.min {
		return nil
	}
	return h.next.Handle(ctx, record)
}

func (h stageLevelHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return stageLevelHandler{next: h.next.WithAttrs(attrs), min: h.min}
}

func (h stageLevelHandler) WithGroup(name string) slog.Handler {
	return stageLevelHandler{next: h.next.WithGroup(name), min: h.min}
}

// withMinLevel wraps logger so records below min are dropped. Re-wrapping
// replaces the previous minimum instead of stacking.
func withMinLevel(logger *slog.Logger, min slog.Level) *slog.Logger {
	next := logger.Handler()
	if existing, ok := next.(stageLevelHandler); ok {
		next = existing.next
	}
	return slog.New(stageLevelHandler{next: next, min: min})
}
