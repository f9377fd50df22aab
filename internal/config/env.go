package config

import (
	"fmt"
	"strings"

	"github.com/caarlos0/env/v11"
)

// envOverrides lists the environment variables that take precedence over the
// config file.
type envOverrides struct {
	LLMAPIKey string `env:"CONVEYOR_LLM_API_KEY"`
	LLMModel  string `env:"CONVEYOR_LLM_MODEL"`
	LogLevel  string `env:"CONVEYOR_LOG_LEVEL"`
	DataDir   string `env:"CONVEYOR_DATA_DIR"`
	NtfyTopic string `env:"CONVEYOR_NTFY_TOPIC"`
}

func (c *Config) applyEnv() error {
	var overrides envOverrides
	if err := env.Parse(&overrides); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	if v := strings.TrimSpace(overrides.LLMAPIKey); v != "" {
		c.LLM.APIKey = v
	}
	if v := strings.TrimSpace(overrides.LLMModel); v != "" {
		c.LLM.Model = v
	}
	if v := strings.TrimSpace(overrides.LogLevel); v != "" {
		c.Logging.Level = v
	}
	if v := strings.TrimSpace(overrides.DataDir); v != "" {
		c.Paths.DataDir = v
	}
	if v := strings.TrimSpace(overrides.NtfyTopic); v != "" {
		c.Notifications.NtfyTopic = v
	}
	return nil
}
