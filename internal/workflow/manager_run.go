package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"conveyor/internal/logging"
	"conveyor/internal/queue"
	"conveyor/internal/services"
)

// ErrNotRunnable reports an item that is terminal or leased elsewhere.
var ErrNotRunnable = fmt.Errorf("%w: item is not runnable", services.ErrConflict)

// Start releases leases left by a previous process and launches the worker
// pool and the stale lease reclaimer.
func (m *Manager) Start(ctx context.Context) error {
	if err := m.stages.Validate(); err != nil {
		return fmt.Errorf("workflow stages not configured: %w", err)
	}
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return errors.New("workflow already running")
	}
	released, err := m.store.ReleaseAll(ctx)
	if err != nil {
		m.mu.Unlock()
		return fmt.Errorf("release previous leases: %w", err)
	}
	if released > 0 {
		m.logger.Info("released leases from previous run",
			logging.Int64("count", released),
			logging.String(logging.FieldEventType, "lease_released"),
		)
	}

	runCtx, cancel := context.WithCancel(ctx)
	group, groupCtx := errgroup.WithContext(runCtx)
	m.cancel = cancel
	m.group = group
	m.running = true
	workers := m.workers()
	m.mu.Unlock()

	group.Go(func() error {
		m.leases.RunReclaimer(groupCtx)
		return nil
	})
	for i := range workers {
		worker := fmt.Sprintf("worker-%d", i+1)
		group.Go(func() error {
			m.runWorker(groupCtx, worker)
			return nil
		})
	}
	m.logger.Info("workflow started",
		logging.Int("workers", workers),
		logging.String(logging.FieldEventType, "workflow_start"),
	)
	return nil
}

// Stop cancels in-flight stages, which release their leases, and waits for
// every worker to exit.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	cancel := m.cancel
	group := m.group
	m.running = false
	m.cancel = nil
	m.group = nil
	m.mu.Unlock()

	cancel()
	_ = group.Wait()
	m.logger.Info("workflow stopped", logging.String(logging.FieldEventType, "workflow_stop"))
}

func (m *Manager) runWorker(ctx context.Context, worker string) {
	logger := m.logger.With(logging.String(logging.FieldWorker, worker))
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		item, err := m.store.ClaimNext(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			m.handleClaimError(ctx, logger, err)
			continue
		}
		if item == nil {
			m.waitForItemOrShutdown(ctx)
			continue
		}

		if _, err := m.processItem(ctx, worker, item); errors.Is(err, context.Canceled) {
			return
		}
	}
}

// Drain runs stages on the calling goroutine until no item is runnable and
// returns how many stages were executed. Failed stages count.
func (m *Manager) Drain(ctx context.Context) (int, error) {
	if err := m.stages.Validate(); err != nil {
		return 0, fmt.Errorf("workflow stages not configured: %w", err)
	}
	executed := 0
	for {
		if err := ctx.Err(); err != nil {
			return executed, err
		}
		item, err := m.store.ClaimNext(ctx)
		if err != nil {
			return executed, err
		}
		if item == nil {
			return executed, nil
		}
		executed++
		if _, err := m.processItem(ctx, "drain", item); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return executed, err
			}
		}
	}
}

// RunItem executes the current stage of one item on the calling goroutine.
func (m *Manager) RunItem(ctx context.Context, id int64) (*queue.Item, error) {
	if err := m.stages.Validate(); err != nil {
		return nil, fmt.Errorf("workflow stages not configured: %w", err)
	}
	item, err := m.store.ClaimItem(ctx, id)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, fmt.Errorf("item %d: %w", id, ErrNotRunnable)
	}
	updated, err := m.processItem(ctx, "manual", item)
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (m *Manager) handleClaimError(ctx context.Context, logger *slog.Logger, err error) {
	m.setLastError(err)
	logger.Error("failed to claim next queue item",
		logging.Error(err),
		logging.String(logging.FieldEventType, "queue_claim_failed"),
		logging.String(logging.FieldErrorHint, "check queue database access"),
	)
	select {
	case <-ctx.Done():
	case <-time.After(m.retryDelay):
	}
}

func (m *Manager) waitForItemOrShutdown(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(m.pollInterval):
	}
}
