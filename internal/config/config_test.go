package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"conveyor/internal/config"
)

func clearConveyorEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{"CONVEYOR_LLM_API_KEY", "CONVEYOR_LLM_MODEL", "CONVEYOR_LOG_LEVEL", "CONVEYOR_DATA_DIR", "CONVEYOR_NTFY_TOPIC", "OPENROUTER_API_KEY"} {
		t.Setenv(key, "")
	}
}

func TestLoadDefaultConfigExpandsPaths(t *testing.T) {
	clearConveyorEnv(t)
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if resolved == "" {
		t.Fatal("expected resolved path")
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}

	wantData := filepath.Join(tempHome, ".local", "share", "conveyor")
	if cfg.Paths.DataDir != wantData {
		t.Fatalf("unexpected data dir: got %q want %q", cfg.Paths.DataDir, wantData)
	}
	if cfg.DatabasePath() != filepath.Join(wantData, "conveyor.db") {
		t.Fatalf("unexpected database path: %q", cfg.DatabasePath())
	}
	if cfg.Workflow.Workers != config.Default().Workflow.Workers {
		t.Fatalf("unexpected worker count: %d", cfg.Workflow.Workers)
	}
	if cfg.LLM.APIKey != "" {
		t.Fatalf("expected empty API key, got %q", cfg.LLM.APIKey)
	}
	if err := cfg.RequireLLM(); err == nil {
		t.Fatal("expected RequireLLM to fail without an API key")
	}
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories failed: %v", err)
	}
	for _, dir := range []string{cfg.Paths.DataDir, cfg.Paths.LogDir} {
		info, err := os.Stat(dir)
		if err != nil {
			t.Fatalf("expected directory %q to exist: %v", dir, err)
		}
		if !info.IsDir() {
			t.Fatalf("expected %q to be directory", dir)
		}
	}
}

func TestLoadCustomPath(t *testing.T) {
	clearConveyorEnv(t)
	configPath := filepath.Join(t.TempDir(), "conveyor.toml")

	type payload struct {
		Workflow struct {
			Workers           int `toml:"workers"`
			HeartbeatInterval int `toml:"heartbeat_interval"`
			HeartbeatTimeout  int `toml:"heartbeat_timeout"`
		} `toml:"workflow"`
		Gate struct {
			MinConfidence float64 `toml:"min_confidence"`
		} `toml:"gate"`
	}
	custom := payload{}
	custom.Workflow.Workers = 6
	custom.Workflow.HeartbeatInterval = 20
	custom.Workflow.HeartbeatTimeout = 200
	custom.Gate.MinConfidence = 0.75
	data, err := toml.Marshal(custom)
	if err != nil {
		t.Fatalf("marshal custom config: %v", err)
	}
	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		t.Fatalf("write custom config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists {
		t.Fatal("expected exists to be true")
	}
	if resolved != configPath {
		t.Fatalf("unexpected resolved path: got %q want %q", resolved, configPath)
	}
	if cfg.Workflow.Workers != 6 {
		t.Fatalf("expected 6 workers, got %d", cfg.Workflow.Workers)
	}
	if cfg.Workflow.HeartbeatTimeout != 200 {
		t.Fatalf("expected heartbeat timeout 200, got %d", cfg.Workflow.HeartbeatTimeout)
	}
	if cfg.Gate.MinConfidence != 0.75 {
		t.Fatalf("expected min confidence 0.75, got %v", cfg.Gate.MinConfidence)
	}
	if cfg.Learning.EMAAlpha != config.Default().Learning.EMAAlpha {
		t.Fatalf("expected default ema alpha, got %v", cfg.Learning.EMAAlpha)
	}
}

func TestEnvOverridesConfigFile(t *testing.T) {
	clearConveyorEnv(t)
	dataDir := t.TempDir()
	configPath := filepath.Join(t.TempDir(), "conveyor.toml")
	contents := "[llm]\napi_key = \"file-key\"\nmodel = \"file-model\"\n\n[logging]\nlevel = \"warn\"\n"
	if err := os.WriteFile(configPath, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("CONVEYOR_LLM_API_KEY", "env-key")
	t.Setenv("CONVEYOR_LLM_MODEL", "env-model")
	t.Setenv("CONVEYOR_LOG_LEVEL", "DEBUG")
	t.Setenv("CONVEYOR_DATA_DIR", dataDir)
	t.Setenv("CONVEYOR_NTFY_TOPIC", " https://ntfy.example/conveyor ")

	cfg, _, _, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.LLM.APIKey != "env-key" {
		t.Errorf("expected API key from env, got %q", cfg.LLM.APIKey)
	}
	if cfg.LLM.Model != "env-model" {
		t.Errorf("expected model from env, got %q", cfg.LLM.Model)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("expected normalized level debug, got %q", cfg.Logging.Level)
	}
	if cfg.Paths.DataDir != dataDir {
		t.Errorf("expected data dir %q, got %q", dataDir, cfg.Paths.DataDir)
	}
	if cfg.Notifications.NtfyTopic != "https://ntfy.example/conveyor" {
		t.Errorf("expected ntfy topic from env, got %q", cfg.Notifications.NtfyTopic)
	}
}

func TestCreateSample(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sample.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample failed: %v", err)
	}

	contents, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read sample: %v", err)
	}
	if !strings.Contains(string(contents), "[owner_defaults]") {
		t.Fatalf("sample config missing owner defaults: %s", contents)
	}

	cfg := config.Default()
	if err := toml.Unmarshal(contents, &cfg); err != nil {
		t.Fatalf("unmarshal sample: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("sample config does not validate: %v", err)
	}
	if !strings.Contains(cfg.Paths.DataDir, "conveyor") {
		t.Fatalf("expected data dir to contain conveyor, got %q", cfg.Paths.DataDir)
	}
}

func TestValidateDetectsInvalidValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"zero workers", func(c *config.Config) { c.Workflow.Workers = 0 }},
		{"zero heartbeat interval", func(c *config.Config) { c.Workflow.HeartbeatInterval = 0 }},
		{"timeout not above interval", func(c *config.Config) { c.Workflow.HeartbeatTimeout = c.Workflow.HeartbeatInterval }},
		{"confidence above one", func(c *config.Config) { c.Gate.MinConfidence = 1.5 }},
		{"zero ema alpha", func(c *config.Config) { c.Learning.EMAAlpha = 0 }},
		{"similarity above one", func(c *config.Config) { c.Learning.NearDuplicateThreshold = 1.2 }},
		{"negative max revisions", func(c *config.Config) { c.Review.MaxRevisions = -1 }},
		{"zero snapshot cap", func(c *config.Config) { c.Review.SnapshotCap = 0 }},
		{"threshold above hundred", func(c *config.Config) { c.OwnerDefaults.MinScoreThreshold = 101 }},
		{"negative notify timeout", func(c *config.Config) { c.Notifications.RequestTimeout = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			tt.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}

	cfg := config.Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}
