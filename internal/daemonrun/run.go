package daemonrun

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"conveyor/internal/agents"
	"conveyor/internal/config"
	"conveyor/internal/daemon"
	"conveyor/internal/database"
	"conveyor/internal/governor"
	"conveyor/internal/learning"
	"conveyor/internal/logging"
	"conveyor/internal/notifications"
	"conveyor/internal/preflight"
	"conveyor/internal/queue"
	"conveyor/internal/review"
	"conveyor/internal/services/llm"
	"conveyor/internal/versions"
	"conveyor/internal/workflow"
)

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel      string
	SkipPreflight bool
}

// Runtime is the set of services one Conveyor process works with. The CLI
// opens one per command; the daemon keeps one for its lifetime.
type Runtime struct {
	Config      *config.Config
	Logger      *slog.Logger
	Store       *queue.Store
	Versions    *versions.Store
	LLM         *llm.Client
	Governor    *governor.Governor
	Learning    *learning.Engine
	Workflow    *workflow.Manager
	Review      *review.Service
	Recommender *review.Recommender
	Notifier    notifications.Service
}

// Open opens the database and wires every service over it.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Runtime, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	db, err := database.Open(ctx, cfg.DatabasePath())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	store := queue.NewStore(db, queue.Options{
		SnapshotCap: cfg.Review.SnapshotCap,
		MaxRetries:  cfg.Workflow.MaxRetries,
	})
	llmCfg := cfg.GetLLM()
	client := llm.NewClient(llm.Config{
		APIKey:         llmCfg.APIKey,
		BaseURL:        llmCfg.BaseURL,
		Model:          llmCfg.Model,
		Referer:        llmCfg.Referer,
		Title:          llmCfg.Title,
		TimeoutSeconds: llmCfg.TimeoutSeconds,
	})
	versionStore := versions.NewStore(db, logger)
	gov := governor.New(store, logger)
	engine := learning.New(store, agents.Extractor{LLM: client}, cfg.Learning, logger,
		learning.WithSummarizer(agents.Summarizer{LLM: client}),
	)
	notifier := notifications.NewService(cfg)
	manager := workflow.NewManager(cfg, store, agents.Stages(client, store, cfg.Gate), logger,
		workflow.WithNotifier(notifier),
	)

	return &Runtime{
		Config:      cfg,
		Logger:      logger,
		Store:       store,
		Versions:    versionStore,
		LLM:         client,
		Governor:    gov,
		Learning:    engine,
		Workflow:    manager,
		Review:      review.New(store, gov, engine, review.VersionHandoff{Versions: versionStore}, cfg.Review, logger),
		Recommender: review.NewRecommender(store, versionStore, agents.Reviewer{LLM: client}, logger),
		Notifier:    notifier,
	}, nil
}

// Close waits for background summary work and closes the database.
func (r *Runtime) Close() error {
	r.Learning.Wait()
	return r.Store.Close()
}

// Run starts the conveyor daemon runtime loop and blocks until SIGINT or
// SIGTERM.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	if err := cfg.RequireLLM(); err != nil {
		return err
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	level := cfg.Logging.Level
	if strings.TrimSpace(opts.LogLevel) != "" {
		level = opts.LogLevel
	}
	logger, err := logging.New(logging.Options{
		Level:    level,
		Format:   cfg.Logging.Format,
		FilePath: cfg.LogPath(),
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	if !opts.SkipPreflight {
		results := preflight.RunAll(signalCtx, cfg, preflight.Options{})
		for _, r := range results {
			logger.Info("preflight check",
				logging.String(logging.FieldEventType, "preflight"),
				logging.String("check", r.Name),
				logging.Bool("passed", r.Passed),
				logging.String("detail", r.Detail),
			)
		}
		if err := preflight.Err(results); err != nil {
			logging.ErrorWithContext(logger, "preflight failed", "preflight_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "fix the failing checks or rerun with --skip-preflight"),
				logging.String(logging.FieldImpact, "daemon not started"),
			)
			return err
		}
	}

	pidPath := filepath.Join(cfg.Paths.LogDir, "conveyor.pid")
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	rt, err := Open(signalCtx, cfg, logger)
	if err != nil {
		logger.Error("open runtime", logging.Error(err))
		return err
	}

	d, err := daemon.New(cfg, rt.Store, rt.Workflow, rt.Learning, logger,
		daemon.WithFeedbackInterval(feedbackInterval(cfg)),
		daemon.WithNotifier(rt.Notifier),
	)
	if err != nil {
		_ = rt.Close()
		return fmt.Errorf("create daemon: %w", err)
	}
	defer d.Close()

	logger.Info("conveyor daemon starting",
		logging.String(logging.FieldEventType, "daemon_boot"),
		logging.String("database", cfg.DatabasePath()),
		logging.String("model", rt.LLM.Model()),
		logging.Int("workers", cfg.Workflow.Workers),
	)
	if err := d.Run(signalCtx); err != nil {
		return err
	}
	logger.Info("conveyor daemon shutting down")
	return nil
}

// feedbackInterval is six poll cycles, and at least ten seconds.
func feedbackInterval(cfg *config.Config) time.Duration {
	return max(time.Duration(cfg.Workflow.QueuePollInterval)*time.Second*6, 10*time.Second)
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}
