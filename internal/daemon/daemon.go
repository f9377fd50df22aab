package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"conveyor/internal/config"
	"conveyor/internal/learning"
	"conveyor/internal/logging"
	"conveyor/internal/notifications"
	"conveyor/internal/queue"
	"conveyor/internal/workflow"
)

const feedbackBatch = 50

// Daemon coordinates the background processing services and enforces
// single-instance execution.
type Daemon struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    *queue.Store
	workflow *workflow.Manager
	learning *learning.Engine
	notifier notifications.Service

	feedbackInterval time.Duration

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool
	Workflow     workflow.StatusSummary
	DatabasePath string
	LockFilePath string
}

// Option configures a Daemon.
type Option func(*Daemon)

// WithFeedbackInterval sets how often pending feedback is processed. Zero
// disables the feedback loop.
func WithFeedbackInterval(d time.Duration) Option {
	return func(dm *Daemon) {
		if d >= 0 {
			dm.feedbackInterval = d
		}
	}
}

// WithNotifier announces daemon start through n.
func WithNotifier(n notifications.Service) Option {
	return func(dm *Daemon) {
		if n != nil {
			dm.notifier = n
		}
	}
}

// New constructs a daemon with initialized dependencies. engine may be nil
// when feedback is processed elsewhere.
func New(cfg *config.Config, store *queue.Store, wf *workflow.Manager, engine *learning.Engine, logger *slog.Logger, opts ...Option) (*Daemon, error) {
	if cfg == nil || store == nil || wf == nil {
		return nil, errors.New("daemon requires config, store, and workflow manager")
	}
	lockPath := cfg.LockPath()
	d := &Daemon{
		cfg:              cfg,
		logger:           logging.NewComponentLogger(logger, "daemon"),
		store:            store,
		workflow:         wf,
		learning:         engine,
		notifier:         notifications.NewService(nil),
		feedbackInterval: time.Minute,
		lockPath:         lockPath,
		lock:             flock.New(lockPath),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Start acquires the daemon lock and launches the workflow manager and the
// feedback loop.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another conveyor daemon instance is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	if err := d.workflow.Start(runCtx); err != nil {
		cancel()
		_ = d.lock.Unlock()
		return fmt.Errorf("start workflow: %w", err)
	}
	d.cancel = cancel
	if d.learning != nil && d.feedbackInterval > 0 {
		d.wg.Add(1)
		go d.feedbackLoop(runCtx)
	}

	d.running.Store(true)
	d.logger.Info("conveyor daemon started",
		logging.String("lock", d.lockPath),
		logging.String(logging.FieldEventType, "daemon_start"),
	)
	if err := d.notifier.Publish(runCtx, notifications.EventDaemonStarted, notifications.Payload{
		"workers": max(d.cfg.Workflow.Workers, 1),
	}); err != nil {
		logging.WarnWithContext(d.logger, "daemon start notification failed", "notification_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "no push sent for daemon start"),
		)
	}
	return nil
}

// Stop stops background processing and releases the daemon lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.workflow.Stop()
	d.wg.Wait()
	if d.learning != nil {
		d.learning.Wait()
	}
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock",
			logging.Error(err),
			logging.String(logging.FieldEventType, "daemon_unlock_failed"),
			logging.String(logging.FieldErrorHint, "remove the lock file if no daemon is running"),
		)
	}
	d.running.Store(false)
	d.logger.Info("conveyor daemon stopped", logging.String(logging.FieldEventType, "daemon_stop"))
}

// Run starts the daemon and blocks until ctx is cancelled, then stops it.
func (d *Daemon) Run(ctx context.Context) error {
	if err := d.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	d.Stop()
	return nil
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	return d.store.Close()
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) Status {
	return Status{
		Running:      d.running.Load(),
		Workflow:     d.workflow.Status(ctx),
		DatabasePath: d.cfg.DatabasePath(),
		LockFilePath: d.lockPath,
	}
}

func (d *Daemon) feedbackLoop(ctx context.Context) {
	defer d.wg.Done()
	ticker := time.NewTicker(d.feedbackInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		summary, err := d.learning.ProcessPending(ctx, "", feedbackBatch)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logging.WarnWithContext(d.logger, "feedback processing run failed", "feedback_run_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "pending entries are retried on the next run"),
			)
			continue
		}
		if summary.Processed+summary.Discarded+summary.Failed > 0 {
			d.logger.Info("feedback processed",
				logging.String(logging.FieldEventType, "feedback_run"),
				logging.Int("processed", summary.Processed),
				logging.Int("discarded", summary.Discarded),
				logging.Int("failed", summary.Failed),
			)
		}
	}
}
