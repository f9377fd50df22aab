package testsupport

import (
	"path/filepath"
	"testing"

	"conveyor/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.DataDir = filepath.Join(base, "data")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.LLM.APIKey = "test"
	cfgVal.LLM.BaseURL = "http://127.0.0.1:0/unused"
	cfgVal.Workflow.QueuePollInterval = 1
	cfgVal.Workflow.ErrorRetryInterval = 1
	cfgVal.Workflow.HeartbeatInterval = 1
	cfgVal.Workflow.HeartbeatTimeout = 5

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

// WithWorkers overrides the worker pool size.
func WithWorkers(n int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Workflow.Workers = n
	}
}

// WithMaxRetries overrides the manual retry bound.
func WithMaxRetries(n int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Workflow.MaxRetries = n
	}
}

// WithSnapshotCap overrides the per-script snapshot cap.
func WithSnapshotCap(n int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Review.SnapshotCap = n
	}
}

// WithMaxRevisions overrides the revision bound.
func WithMaxRevisions(n int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Review.MaxRevisions = n
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.DataDir)
}
