package task

import (
	"context"
	"fmt"
	"sort"

	"github.com/rs/zerolog/log"
)

// LoadFromDisk restores persisted tasks. Tasks caught mid-run by the previous
// shutdown come back Paused; tasks that were waiting in the queue are queued again.
func (m *Manager) LoadFromDisk() error {
	snaps, err := m.store.LoadTasks(context.Background())
	if err != nil {
		return fmt.Errorf("load tasks: %w", err)
	}
	sort.SliceStable(snaps, func(i, j int) bool { return snaps[i].CreatedAt.Before(snaps[j].CreatedAt) })

	restored := 0
	for _, snap := range snaps {
		if snap.Status == StatusRemoved {
			continue
		}
		changed := false
		if snap.Status.active() {
			snap.Status = StatusPaused
			changed = true
		}
		if snap.Enqueued && snap.Status != StatusQueued {
			snap.Enqueued = false
			changed = true
		}

		m.mu.Lock()
		if _, dup := m.byURL[snap.URL]; dup {
			m.mu.Unlock()
			continue
		}
		loaded := &Task{seq: m.nextSeq, state: snap}
		m.nextSeq++
		m.tasks[snap.ID] = loaded
		m.byURL[snap.URL] = snap.ID
		m.mu.Unlock()

		if changed {
			if err := m.persistTask(snap); err != nil {
				log.Warn().Str("task_id", snap.ID).Err(err).Msg("persist restored task failed")
			}
		}
		if snap.Enqueued {
			m.queue.push(loaded)
		}
		restored++
	}
	log.Info().Int("tasks", restored).Msg("tasks restored")
	return nil
}
