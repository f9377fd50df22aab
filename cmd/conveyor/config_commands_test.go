package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestConfigInitAndShow(t *testing.T) {
	env := setupCLITestEnv(t)

	target := filepath.Join(t.TempDir(), "config.toml")
	out := env.mustRun(t, "config", "init", "--path", target)
	requireContains(t, out, "Wrote sample configuration")
	if _, err := os.Stat(target); err != nil {
		t.Fatalf("expected config file at %s: %v", target, err)
	}

	if _, _, err := env.run(t, "config", "init", "--path", target); err == nil {
		t.Fatal("expected init without --overwrite to refuse an existing file")
	}
	env.mustRun(t, "config", "init", "--path", target, "--overwrite")

	out = env.mustRun(t, "config", "show")
	requireContains(t, out, "[workflow]")
	requireContains(t, out, env.cfg.Paths.DataDir)
	if strings.Contains(out, "api_key = 'test'") || strings.Contains(out, `api_key = "test"`) {
		t.Fatalf("expected api key to be masked:\n%s", out)
	}
	requireContains(t, out, "********")
}

func TestMaskSecret(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"short", "********"},
		{"sk-or-v1-abcdef", "sk-o********"},
	}
	for _, tt := range tests {
		if got := maskSecret(tt.in); got != tt.want {
			t.Errorf("maskSecret(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestConfigValidate(t *testing.T) {
	env := setupCLITestEnv(t)
	out := env.mustRun(t, "config", "validate")
	requireContains(t, out, "Configuration valid: "+env.configPath)

	bad := env.writeFile(t, "bad.toml", "[gate]\nmin_confidence = 2.0\n")
	if _, _, err := runCLI(t, []string{"config", "validate"}, bad); err == nil || !strings.Contains(err.Error(), "invalid configuration") {
		t.Fatalf("expected invalid configuration error, got %v", err)
	}
}

func TestRedactConfigMasksNtfyTopic(t *testing.T) {
	env := setupCLITestEnv(t)
	cfg := *env.cfg
	cfg.Notifications.NtfyTopic = "https://ntfy.example/conveyor-private-topic"
	redacted := redactConfig(cfg)
	if redacted.Notifications.NtfyTopic != "https://ntfy.example/conv********" {
		t.Fatalf("unexpected topic %q", redacted.Notifications.NtfyTopic)
	}
	if env.cfg.Notifications.NtfyTopic != "" {
		t.Fatal("redaction must not modify the loaded config")
	}
}
