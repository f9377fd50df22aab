package workflow

import (
	"context"
	"maps"

	"conveyor/internal/logging"
	"conveyor/internal/queue"
	"conveyor/internal/stage"
)

// StatusSummary represents lightweight workflow diagnostics.
type StatusSummary struct {
	Running     bool
	Workers     int
	Active      map[int64]string
	LastError   string
	LastItem    *queue.Item
	QueueStats  map[queue.Status]int
	StageCounts map[queue.Stage]int
	StageHealth []stage.Health
}

// Status returns the latest workflow information.
func (m *Manager) Status(ctx context.Context) StatusSummary {
	m.mu.RLock()
	summary := StatusSummary{
		Running: m.running,
		Workers: m.workers(),
		Active:  maps.Clone(m.active),
	}
	if m.lastErr != nil {
		summary.LastError = m.lastErr.Error()
	}
	if m.lastItem != nil {
		copy := *m.lastItem
		summary.LastItem = &copy
	}
	m.mu.RUnlock()

	stats, err := m.store.Stats(ctx)
	if err != nil {
		m.logger.Warn("failed to read queue stats", logging.Error(err))
	}
	summary.QueueStats = stats
	counts, err := m.store.StageCounts(ctx)
	if err != nil {
		m.logger.Warn("failed to read stage counts", logging.Error(err))
	}
	summary.StageCounts = counts
	summary.StageHealth = m.stages.Health(ctx)
	return summary
}

func (m *Manager) setLastError(err error) {
	m.mu.Lock()
	m.lastErr = err
	m.mu.Unlock()
}

func (m *Manager) setLastItem(item *queue.Item) {
	m.mu.Lock()
	if item != nil {
		copy := *item
		m.lastItem = &copy
	} else {
		m.lastItem = nil
	}
	m.mu.Unlock()
}
