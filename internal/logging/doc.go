// Package logging assembles structured slog loggers and formatting helpers used
// across Conveyor.
//
// It owns the configurable console/JSON handlers, the optional JSON log file
// tee used by the daemon, per-stage level overrides, and context-aware helpers
// so stage code automatically tags log lines with item IDs, owners, stages, and
// correlation IDs. The package also provides a no-op logger for tests and
// wiring code that cannot fail.
package logging
