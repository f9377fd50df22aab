package workflow

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"conveyor/internal/logging"
	"conveyor/internal/queue"
)

// LeaseKeeper renews the lease of items a worker is running and returns
// leases abandoned by dead workers to the queue.
type LeaseKeeper struct {
	store    *queue.Store
	logger   *slog.Logger
	interval time.Duration
	timeout  time.Duration
	now      func() time.Time
}

// NewLeaseKeeper renews every interval and treats a lease as abandoned once
// its heartbeat is older than timeout. A zero value disables that half.
func NewLeaseKeeper(store *queue.Store, logger *slog.Logger, interval, timeout time.Duration) *LeaseKeeper {
	return &LeaseKeeper{
		store:    store,
		logger:   logging.NewComponentLogger(logger, "lease"),
		interval: interval,
		timeout:  timeout,
		now:      time.Now,
	}
}

// Reclaim releases every lease whose heartbeat is older than the timeout.
func (k *LeaseKeeper) Reclaim(ctx context.Context) (int64, error) {
	if k.timeout <= 0 {
		return 0, nil
	}
	n, err := k.store.ReclaimStale(ctx, k.now().Add(-k.timeout))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		k.logger.Info("reclaimed abandoned leases",
			logging.Int64("count", n),
			logging.String(logging.FieldEventType, "lease_reclaimed"),
			logging.String(logging.FieldImpact, "the current stage re-runs on another worker"),
		)
	}
	return n, nil
}

// RunReclaimer calls Reclaim every interval until ctx ends.
func (k *LeaseKeeper) RunReclaimer(ctx context.Context) {
	k.every(ctx, func() {
		if _, err := k.Reclaim(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logging.WarnWithContext(k.logger, "lease reclaim failed", "lease_reclaim_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check queue database access"),
				logging.String(logging.FieldImpact, "items of a dead worker stay stuck until the next run"),
			)
		}
	})
}

// Hold renews the lease on itemID in the background. The returned release
// stops renewal and waits for the last renewal to finish.
func (k *LeaseKeeper) Hold(ctx context.Context, itemID int64) (release func()) {
	holdCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	logger := logging.WithContext(ctx, k.logger)
	go func() {
		defer close(done)
		k.every(holdCtx, func() {
			err := k.store.UpdateHeartbeat(holdCtx, itemID)
			switch {
			case err == nil:
			case errors.Is(err, context.Canceled):
				logger.Debug("lease renewal cancelled")
			default:
				logger.Warn("lease renewal failed", logging.Error(err))
			}
		})
	}()
	return func() {
		cancel()
		<-done
	}
}

func (k *LeaseKeeper) every(ctx context.Context, fn func()) {
	if k.interval <= 0 {
		return
	}
	ticker := time.NewTicker(k.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn()
		}
	}
}
