package preflight

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"conveyor/internal/config"
	"conveyor/internal/database"
	"conveyor/internal/services/llm"
)

const (
	llmProbeTimeout = 30 * time.Second
	dbProbeTimeout  = 10 * time.Second
)

// CheckLLM makes one uncached model call with the configured key and model.
// Retries are disabled so a bad key fails fast.
func CheckLLM(ctx context.Context, name string, cfg config.LLMConfig) Result {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return fail(name, "API key missing")
	}
	probeCtx, cancel := context.WithTimeout(ctx, llmProbeTimeout)
	defer cancel()

	client := llm.NewClient(llm.Config{
		APIKey:  cfg.APIKey,
		BaseURL: cfg.BaseURL,
		Model:   cfg.Model,
		Referer: cfg.Referer,
		Title:   cfg.Title,
	}, llm.WithRetryMaxAttempts(1))
	if err := client.HealthCheck(probeCtx); err != nil {
		if isTimeout(err) {
			return fail(name, "model API did not answer within "+llmProbeTimeout.String())
		}
		return fail(name, err.Error())
	}
	return pass(name, fmt.Sprintf("API reachable (%s)", client.Model()))
}

// CheckDirectoryAccess requires path to be a directory the process can
// list and write.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return fail(name, path+" (error: does not exist)")
	case err != nil:
		return fail(name, fmt.Sprintf("%s (error: stat: %v)", path, err))
	case !info.IsDir():
		return fail(name, path+" (error: is not a directory)")
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return fail(name, fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err))
	}
	return pass(name, path+" (read/write ok)")
}

// CheckDatabase opens the queue database, applying pending migrations, and
// verifies the expected tables and SQLite's integrity check. A database that
// does not exist yet passes; the daemon creates it on start.
func CheckDatabase(ctx context.Context, name, path string) Result {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return pass(name, path+" (created on first start)")
	}
	probeCtx, cancel := context.WithTimeout(ctx, dbProbeTimeout)
	defer cancel()

	db, err := database.Open(probeCtx, path)
	if err != nil {
		return fail(name, err.Error())
	}
	defer db.Close()
	health, err := db.CheckHealth(probeCtx)
	switch {
	case err != nil:
		return fail(name, err.Error())
	case len(health.MissingTables) > 0:
		return fail(name, "missing tables: "+strings.Join(health.MissingTables, ", "))
	case !health.IntegrityCheck:
		return fail(name, "integrity check failed")
	}
	return pass(name, fmt.Sprintf("schema %s", health.SchemaVersion))
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func pass(name, detail string) Result { return Result{Name: name, Passed: true, Detail: detail} }

func fail(name, detail string) Result { return Result{Name: name, Detail: detail} }
