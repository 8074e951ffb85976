package task

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
)

// FetchInfo reads title, page count and cover for a task without queueing it.
// Tasks a worker is running are left to that worker.
func (m *Manager) FetchInfo(ctx context.Context, taskID string) (Snapshot, error) {
	t, err := m.task(taskID)
	if err != nil {
		return Snapshot{}, err
	}

	select {
	case m.semaphore <- struct{}{}:
	case <-ctx.Done():
		return Snapshot{}, ctx.Err() //nolint:wrapcheck
	}
	defer func() { <-m.semaphore }()

	snap := t.Snapshot()
	if snap.Status.active() || snap.Status == StatusRemoved {
		return snap, nil
	}

	logger := log.With().Str("task_id", snap.ID).Str("url", snap.URL).Logger()
	site := m.resolve(snap.URL, logger)
	info, err := m.metadata.Extract(context.WithoutCancel(ctx), snap.URL, site)
	if err != nil {
		logger.Warn().Err(err).Msg("fetch info failed")
		return snap, fmt.Errorf("fetch info: %w", err)
	}
	m.applyInfo(t, info, site, m.fetchCover(context.WithoutCancel(ctx), info.CoverURL, logger))
	return t.Snapshot(), nil
}

// FetchInfoAsync runs FetchInfo in the background under the manager's base context.
func (m *Manager) FetchInfoAsync(taskID string) error {
	if _, err := m.task(taskID); err != nil {
		return err
	}
	m.workersWG.Add(1)
	go func() {
		defer m.workersWG.Done()
		_, _ = m.FetchInfo(m.baseContext(), taskID)
	}()
	return nil
}
