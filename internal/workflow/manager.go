package workflow

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"conveyor/internal/config"
	"conveyor/internal/logging"
	"conveyor/internal/notifications"
	"conveyor/internal/queue"
	"conveyor/internal/stage"
)

const defaultStageBackoff = 2 * time.Second

// Manager coordinates queue processing using registered stage handlers.
type Manager struct {
	cfg          *config.Config
	store        *queue.Store
	stages       stage.Set
	logger       *slog.Logger
	tracer       trace.Tracer
	pollInterval time.Duration
	retryDelay   time.Duration
	stageBackoff time.Duration
	now          func() time.Time
	notifier     notifications.Service

	leases    *LeaseKeeper

	mu       sync.RWMutex
	running  bool
	cancel   context.CancelFunc
	group    *errgroup.Group
	lastErr  error
	lastItem *queue.Item
	active   map[int64]string
}

// ManagerOption configures optional Manager behavior.
type ManagerOption func(*Manager)

// WithStageBackoff overrides the base delay between in-process stage retries.
func WithStageBackoff(d time.Duration) ManagerOption {
	return func(m *Manager) {
		if d >= 0 {
			m.stageBackoff = d
		}
	}
}

// WithPollInterval overrides the idle wait between claim attempts.
func WithPollInterval(d time.Duration) ManagerOption {
	return func(m *Manager) {
		if d > 0 {
			m.pollInterval = d
		}
	}
}

// WithClock overrides the time source used for stage timestamps.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithNotifier publishes script-ready and item-failed events.
func WithNotifier(n notifications.Service) ManagerOption {
	return func(m *Manager) {
		if n != nil {
			m.notifier = n
		}
	}
}

// NewManager constructs a workflow manager over the given stage handlers.
func NewManager(cfg *config.Config, store *queue.Store, stages stage.Set, logger *slog.Logger, opts ...ManagerOption) *Manager {
	if logger == nil {
		logger = logging.NewNop()
	}
	logger = logging.NewComponentLogger(logger, "workflow")
	m := &Manager{
		cfg:          cfg,
		store:        store,
		stages:       stages,
		logger:       logger,
		tracer:       otel.Tracer("conveyor/workflow"),
		pollInterval: seconds(cfg.Workflow.QueuePollInterval, time.Second),
		retryDelay:   seconds(cfg.Workflow.ErrorRetryInterval, time.Second),
		stageBackoff: defaultStageBackoff,
		now:          time.Now,
		notifier:     notifications.NewService(nil),
		leases: NewLeaseKeeper(
			store,
			logger,
			seconds(cfg.Workflow.HeartbeatInterval, 0),
			seconds(cfg.Workflow.HeartbeatTimeout, 0),
		),
		active: make(map[int64]string),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func seconds(n int, fallback time.Duration) time.Duration {
	if n <= 0 {
		return fallback
	}
	return time.Duration(n) * time.Second
}

func (m *Manager) workers() int {
	return max(m.cfg.Workflow.Workers, 1)
}
