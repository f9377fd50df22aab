package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeLLM()
	c.normalizeWorkflow()
	c.normalizeLearning()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		c.Paths.DataDir = defaultDataDir
	}
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeLLM() {
	c.LLM.BaseURL = strings.TrimSpace(c.LLM.BaseURL)
	if c.LLM.BaseURL == "" {
		c.LLM.BaseURL = defaultLLMBaseURL
	}
	c.LLM.Model = strings.TrimSpace(c.LLM.Model)
	if c.LLM.Model == "" {
		c.LLM.Model = defaultLLMModel
	}
	c.LLM.Referer = strings.TrimSpace(c.LLM.Referer)
	if c.LLM.Referer == "" {
		c.LLM.Referer = defaultLLMReferer
	}
	c.LLM.Title = strings.TrimSpace(c.LLM.Title)
	if c.LLM.Title == "" {
		c.LLM.Title = defaultLLMTitle
	}
	if c.LLM.TimeoutSeconds <= 0 {
		c.LLM.TimeoutSeconds = defaultLLMTimeoutSeconds
	}
	c.LLM.APIKey = strings.TrimSpace(c.LLM.APIKey)
	if c.LLM.APIKey == "" {
		if value, ok := os.LookupEnv("OPENROUTER_API_KEY"); ok {
			c.LLM.APIKey = strings.TrimSpace(value)
		}
	}
}

func (c *Config) normalizeWorkflow() {
	if c.Workflow.Workers <= 0 {
		c.Workflow.Workers = defaultWorkers
	}
	if c.Workflow.StageAttempts <= 0 {
		c.Workflow.StageAttempts = 1
	}
	if c.Workflow.MaxRetries < 0 {
		c.Workflow.MaxRetries = 0
	}
}

func (c *Config) normalizeLearning() {
	if c.Learning.MaxExamples <= 0 {
		c.Learning.MaxExamples = defaultMaxExamples
	}
	if c.Learning.SummaryEvery <= 0 {
		c.Learning.SummaryEvery = defaultSummaryEvery
	}
	if c.Learning.ApprovedWindow <= 0 {
		c.Learning.ApprovedWindow = defaultApprovedWindow
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if len(c.Logging.StageOverrides) > 0 {
		normalized := make(map[string]string, len(c.Logging.StageOverrides))
		for stage, level := range c.Logging.StageOverrides {
			key := strings.ToLower(strings.TrimSpace(stage))
			if key == "" {
				continue
			}
			normalized[key] = strings.ToLower(strings.TrimSpace(level))
		}
		c.Logging.StageOverrides = normalized
	}
}
