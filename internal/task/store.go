package task

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"

	fileutil "galleryfetch/internal/file"
)

// TaskStore persists task snapshots across restarts and locates export archives.
type TaskStore interface {
	SaveTask(ctx context.Context, s Snapshot) error
	DeleteTask(ctx context.Context, taskID string) error
	LoadTasks(ctx context.Context) ([]Snapshot, error)
	ArchivePath(taskID string) string
}

// fileStore keeps one status.json per task under dataDir/tasks/<id>.
type fileStore struct {
	dataDir string
}

func NewFileStore(dataDir string) TaskStore { //nolint:ireturn
	if dataDir == "" {
		dataDir = "data"
	}
	return &fileStore{dataDir: dataDir}
}

func (s *fileStore) taskDir(taskID string) string {
	return filepath.Join(s.dataDir, "tasks", taskID)
}

func (s *fileStore) statusPath(taskID string) string {
	return filepath.Join(s.taskDir(taskID), "status.json")
}

func (s *fileStore) ArchivePath(taskID string) string {
	return filepath.Join(s.taskDir(taskID), "gallery.cbz")
}

func (s *fileStore) SaveTask(_ context.Context, snap Snapshot) error {
	if err := fileutil.EnsureDir(s.taskDir(snap.ID)); err != nil {
		return fmt.Errorf("ensure task dir: %w", err)
	}
	return fileutil.WriteJSONAtomic(s.statusPath(snap.ID), snap) //nolint:wrapcheck
}

func (s *fileStore) DeleteTask(_ context.Context, taskID string) error {
	if err := os.RemoveAll(s.taskDir(taskID)); err != nil {
		return fmt.Errorf("remove task dir: %w", err)
	}
	return nil
}

func (s *fileStore) LoadTasks(_ context.Context) ([]Snapshot, error) {
	root := filepath.Join(s.dataDir, "tasks")
	entries, err := os.ReadDir(root)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read dir: %w", err)
	}
	snaps := make([]Snapshot, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		b, err := os.ReadFile(s.statusPath(e.Name())) //nolint:gosec // path is controlled by application
		if err != nil {
			continue
		}
		var snap Snapshot
		if err := json.Unmarshal(b, &snap); err != nil {
			log.Warn().Str("task_id", e.Name()).Err(err).Msg("skip unreadable task state")
			continue
		}
		if snap.ID == "" || snap.URL == "" {
			continue
		}
		snaps = append(snaps, snap)
	}
	return snaps, nil
}
