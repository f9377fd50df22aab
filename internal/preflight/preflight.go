package preflight

import (
	"context"
	"errors"
	"fmt"

	"conveyor/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// Options toggles the checks that reach outside the host.
type Options struct {
	// SkipLLM omits the LLM round trip, for commands that never call a model.
	SkipLLM bool
}

// RunAll executes every applicable preflight check for cfg.
func RunAll(ctx context.Context, cfg *config.Config, opts Options) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		CheckDirectoryAccess("Data directory", cfg.Paths.DataDir),
		CheckDirectoryAccess("Log directory", cfg.Paths.LogDir),
		CheckDatabase(ctx, "Database schema", cfg.DatabasePath()),
	}
	if !opts.SkipLLM {
		results = append(results, CheckLLM(ctx, "LLM", cfg.GetLLM()))
	}
	return results
}

// Err joins the failed results into one error, or returns nil when every
// check passed.
func Err(results []Result) error {
	var errs []error
	for _, r := range results {
		if !r.Passed {
			errs = append(errs, fmt.Errorf("%s: %s", r.Name, r.Detail))
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("preflight failed: %w", errors.Join(errs...))
}
