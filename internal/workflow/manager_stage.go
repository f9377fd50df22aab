package workflow

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"conveyor/internal/logging"
	"conveyor/internal/notifications"
	"conveyor/internal/queue"
	"conveyor/internal/services"
	"conveyor/internal/stageexec"
)

const (
	releaseTimeout = 5 * time.Second
	notifyTimeout  = 15 * time.Second
)

// processItem runs the current stage of a leased item with its heartbeat
// kept alive. Whatever happens, the lease is gone afterwards: a commit or
// failure clears it, anything else releases it.
func (m *Manager) processItem(ctx context.Context, worker string, item *queue.Item) (*queue.Item, error) {
	current := item.CurrentStage
	handler := m.stages[current]

	ctx = services.WithWorker(ctx, worker)
	ctx = services.WithRequestID(ctx, uuid.NewString())
	ctx, span := m.tracer.Start(ctx, "workflow.process", trace.WithAttributes(
		attribute.String("worker", worker),
		attribute.Int64("item.id", item.ID),
		attribute.String("stage", current.String()),
	))
	defer span.End()
	m.trackActive(item.ID, current.String())
	defer m.untrackActive(item.ID)

	releaseLease := m.leases.Hold(ctx, item.ID)

	updated, err := stageexec.Run(ctx, stageexec.Options{
		Logger:   logging.ForStage(m.logger, current.String(), m.cfg.Logging.StageOverrides),
		Store:    m.store,
		Handler:  handler,
		Item:     item,
		Attempts: m.cfg.Workflow.StageAttempts,
		Timeout:  seconds(m.cfg.Workflow.StageTimeout, 0),
		Backoff:  m.stageBackoff,
		Now:      m.now,
	})
	releaseLease()

	if err != nil {
		m.release(ctx, item)
		if !queue.IsStale(err) && !errors.Is(err, context.Canceled) {
			m.setLastError(err)
		}
		if failed, getErr := m.store.GetItem(context.WithoutCancel(ctx), item.ID); getErr == nil && failed != nil {
			m.setLastItem(failed)
			if failed.Status == queue.StatusFailed {
				m.notify(ctx, notifications.EventItemFailed, notifications.Payload{
					"itemId": failed.ID,
					"owner":  failed.OwnerID,
					"stage":  failed.ErrorStage.String(),
					"error":  failed.ErrorMessage,
				})
			}
		}
		return nil, err
	}
	m.setLastItem(updated)
	if updated.Status == queue.StatusCompleted && updated.Payloads.Delivery != nil {
		m.notify(ctx, notifications.EventScriptReady, scriptReadyPayload(updated))
	}
	return updated, nil
}

func scriptReadyPayload(item *queue.Item) notifications.Payload {
	delivery := item.Payloads.Delivery
	payload := notifications.Payload{
		"itemId":   item.ID,
		"owner":    item.OwnerID,
		"title":    delivery.Title,
		"scriptId": delivery.ScriptID,
	}
	if gate := item.Payloads.Gate; gate != nil {
		payload["decision"] = string(gate.Decision)
		payload["score"] = gate.Score
	}
	return payload
}

// notify publishes on a detached context; a failed push never fails the item.
func (m *Manager) notify(ctx context.Context, event notifications.Event, payload notifications.Payload) {
	notifyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
	defer cancel()
	if err := m.notifier.Publish(notifyCtx, event, payload); err != nil {
		logging.WarnWithContext(logging.WithContext(ctx, m.logger), "notification failed", "notification_failed",
			logging.Error(err),
			logging.String("event", string(event)),
			logging.String(logging.FieldImpact, "no push sent for this event"),
		)
	}
}

// release drops the lease unless the item already moved on. It runs on a
// detached context so shutdown still frees the item for the next process.
func (m *Manager) release(ctx context.Context, item *queue.Item) {
	releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()
	if err := m.store.Release(releaseCtx, item); err != nil {
		logging.WithContext(ctx, m.logger).Warn("failed to release item lease",
			logging.Error(err),
			logging.String(logging.FieldEventType, "lease_release_failed"),
			logging.String(logging.FieldImpact, "item waits for the stale lease reclaimer"),
		)
	}
}

func (m *Manager) trackActive(id int64, stageName string) {
	m.mu.Lock()
	m.active[id] = stageName
	m.mu.Unlock()
}

func (m *Manager) untrackActive(id int64) {
	m.mu.Lock()
	delete(m.active, id)
	m.mu.Unlock()
}
