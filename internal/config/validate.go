package config

import (
	"errors"
	"fmt"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateWorkflow(); err != nil {
		return err
	}
	if err := c.validateGate(); err != nil {
		return err
	}
	if err := c.validateLearning(); err != nil {
		return err
	}
	if err := c.validateReview(); err != nil {
		return err
	}
	if err := c.validateOwnerDefaults(); err != nil {
		return err
	}
	if c.Notifications.RequestTimeout < 0 {
		return errors.New("notifications.request_timeout must be >= 0")
	}
	return nil
}

// RequireLLM reports a configuration error when no API key is available.
// Only the commands that run stage agents call it.
func (c *Config) RequireLLM() error {
	if c.LLM.APIKey != "" {
		return nil
	}
	defaultPath, err := DefaultConfigPath()
	if err != nil {
		defaultPath = defaultConfigPath
	}
	return fmt.Errorf("llm.api_key is required. Set CONVEYOR_LLM_API_KEY or edit %s (create with 'conveyor config init')", defaultPath)
}

func (c *Config) validateWorkflow() error {
	if err := ensurePositiveMap(map[string]int{
		"workflow.workers":              c.Workflow.Workers,
		"workflow.queue_poll_interval":  c.Workflow.QueuePollInterval,
		"workflow.error_retry_interval": c.Workflow.ErrorRetryInterval,
		"workflow.stage_timeout":        c.Workflow.StageTimeout,
	}); err != nil {
		return err
	}
	if c.Workflow.HeartbeatInterval <= 0 {
		return errors.New("workflow.heartbeat_interval must be positive")
	}
	if c.Workflow.HeartbeatTimeout <= 0 {
		return errors.New("workflow.heartbeat_timeout must be positive")
	}
	if c.Workflow.HeartbeatTimeout <= c.Workflow.HeartbeatInterval {
		return errors.New("workflow.heartbeat_timeout must be greater than workflow.heartbeat_interval")
	}
	return nil
}

func (c *Config) validateGate() error {
	if c.Gate.MinConfidence < 0 || c.Gate.MinConfidence > 1 {
		return errors.New("gate.min_confidence must be between 0 and 1")
	}
	if c.Gate.ReviewMargin < 0 || c.Gate.ReviewMargin > 100 {
		return errors.New("gate.review_margin must be between 0 and 100")
	}
	return nil
}

func (c *Config) validateLearning() error {
	cfg := c.Learning
	if cfg.EMAAlpha <= 0 || cfg.EMAAlpha > 1 {
		return errors.New("learning.ema_alpha must be in (0, 1]")
	}
	if cfg.Margin < 0 || cfg.Margin > 100 {
		return errors.New("learning.margin must be between 0 and 100")
	}
	if cfg.MaxStep <= 0 {
		return errors.New("learning.max_step must be positive")
	}
	if cfg.NearDuplicateThreshold <= 0 || cfg.NearDuplicateThreshold > 1 {
		return errors.New("learning.near_duplicate_threshold must be in (0, 1]")
	}
	return nil
}

func (c *Config) validateReview() error {
	if c.Review.MaxRevisions < 0 {
		return errors.New("review.max_revisions must be >= 0")
	}
	if c.Review.SnapshotCap < 1 {
		return errors.New("review.snapshot_cap must be >= 1")
	}
	return nil
}

func (c *Config) validateOwnerDefaults() error {
	if c.OwnerDefaults.DailyLimit < 0 {
		return errors.New("owner_defaults.daily_limit must be >= 0")
	}
	if c.OwnerDefaults.MonthlyBudgetLimit < 0 {
		return errors.New("owner_defaults.monthly_budget_limit must be >= 0")
	}
	if c.OwnerDefaults.MinScoreThreshold < 0 || c.OwnerDefaults.MinScoreThreshold > 100 {
		return errors.New("owner_defaults.min_score_threshold must be between 0 and 100")
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
