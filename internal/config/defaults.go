package config

const (
	defaultConfigPath             = "~/.config/conveyor/config.toml"
	defaultDataDir                = "~/.local/share/conveyor"
	defaultLogDir                 = "~/.local/share/conveyor/logs"
	defaultLLMBaseURL             = "https://openrouter.ai/api/v1/chat/completions"
	defaultLLMModel               = "google/gemini-3-flash-preview"
	defaultLLMReferer             = "https://github.com/conveyor/conveyor"
	defaultLLMTitle               = "Conveyor"
	defaultLLMTimeoutSeconds      = 90
	defaultWorkers                = 2
	defaultQueuePollInterval      = 5
	defaultErrorRetryInterval     = 10
	defaultHeartbeatInterval      = 15
	defaultHeartbeatTimeout       = 120
	defaultStageTimeout           = 300
	defaultStageAttempts          = 3
	defaultMaxRetries             = 3
	defaultGateMinConfidence      = 0.6
	defaultGateReviewMargin       = 5
	defaultEMAAlpha               = 0.3
	defaultLearningMargin         = 5
	defaultLearningMaxStep        = 5
	defaultApprovedWindow         = 20
	defaultSummaryEvery           = 5
	defaultNearDuplicateThreshold = 0.85
	defaultMaxExamples            = 5
	defaultMaxRevisions           = 3
	defaultSnapshotCap            = 20
	defaultDailyLimit             = 10
	defaultMonthlyBudgetLimit     = 50
	defaultMinScoreThreshold      = 70
	defaultNotifyTimeout          = 10
	defaultLogFormat              = "console"
	defaultLogLevel               = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
			LogDir:  defaultLogDir,
		},
		LLM: LLM{
			BaseURL:        defaultLLMBaseURL,
			Model:          defaultLLMModel,
			Referer:        defaultLLMReferer,
			Title:          defaultLLMTitle,
			TimeoutSeconds: defaultLLMTimeoutSeconds,
		},
		Workflow: Workflow{
			Workers:            defaultWorkers,
			QueuePollInterval:  defaultQueuePollInterval,
			ErrorRetryInterval: defaultErrorRetryInterval,
			HeartbeatInterval:  defaultHeartbeatInterval,
			HeartbeatTimeout:   defaultHeartbeatTimeout,
			StageTimeout:       defaultStageTimeout,
			StageAttempts:      defaultStageAttempts,
			MaxRetries:         defaultMaxRetries,
		},
		Gate: Gate{
			MinConfidence: defaultGateMinConfidence,
			ReviewMargin:  defaultGateReviewMargin,
		},
		Learning: Learning{
			EMAAlpha:               defaultEMAAlpha,
			Margin:                 defaultLearningMargin,
			MaxStep:                defaultLearningMaxStep,
			ApprovedWindow:         defaultApprovedWindow,
			SummaryEvery:           defaultSummaryEvery,
			NearDuplicateThreshold: defaultNearDuplicateThreshold,
			MaxExamples:            defaultMaxExamples,
		},
		Review: Review{
			MaxRevisions: defaultMaxRevisions,
			SnapshotCap:  defaultSnapshotCap,
		},
		OwnerDefaults: OwnerDefaults{
			DailyLimit:         defaultDailyLimit,
			MonthlyBudgetLimit: defaultMonthlyBudgetLimit,
			MinScoreThreshold:  defaultMinScoreThreshold,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyTimeout,
			ScriptReady:    true,
			ItemFailed:     true,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
