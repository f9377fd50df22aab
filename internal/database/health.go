package database

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
)

// Health is the diagnostic view of the database file and schema.
type Health struct {
	Path           string
	Exists         bool
	Readable       bool
	SchemaVersion  string
	MissingTables  []string
	IntegrityCheck bool
	Error          string
}

var expectedTables = []string{
	"owners",
	"items",
	"scripts",
	"script_snapshots",
	"writing_profiles",
	"feedback_entries",
	"projects",
	"project_versions",
	"scene_recommendations",
}

// CheckHealth returns diagnostic information about the database.
func (d *DB) CheckHealth(ctx context.Context) (Health, error) {
	health := Health{Path: d.path}
	info, err := os.Stat(d.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return health, nil
		}
		return health, fmt.Errorf("stat database: %w", err)
	}
	if info.IsDir() {
		return health, fmt.Errorf("database path %q is a directory", d.path)
	}
	health.Exists = true

	connCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := d.db.PingContext(connCtx); err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("ping database: %w", err)
	}
	health.Readable = true

	if health.SchemaVersion, err = d.SchemaVersion(connCtx); err != nil {
		health.Error = err.Error()
		return health, err
	}

	present := make(map[string]struct{}, len(expectedTables))
	rows, err := d.db.QueryContext(connCtx, "SELECT name FROM sqlite_master WHERE type = 'table'")
	if err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("list tables: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return health, fmt.Errorf("scan table name: %w", err)
		}
		present[name] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return health, fmt.Errorf("iterate tables: %w", err)
	}
	for _, table := range expectedTables {
		if _, ok := present[table]; !ok {
			health.MissingTables = append(health.MissingTables, table)
		}
	}

	var integrity string
	if err := d.db.QueryRowContext(connCtx, "PRAGMA integrity_check").Scan(&integrity); err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("integrity check: %w", err)
	}
	health.IntegrityCheck = strings.EqualFold(integrity, "ok")
	return health, nil
}
