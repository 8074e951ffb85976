package task

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"galleryfetch/internal/adapter"
	"galleryfetch/internal/archive"
	"galleryfetch/internal/model"
)

// Manager owns every submitted task and runs enqueued ones on a fixed worker pool.
type Manager struct {
	mu      sync.RWMutex
	tasks   map[string]*Task
	byURL   map[string]string
	nextSeq uint64

	queue     *queue
	workers   int
	semaphore chan struct{}

	settingsMu sync.RWMutex
	settings   Settings

	runMu     sync.Mutex
	cancelRun context.CancelFunc
	baseCtx   context.Context
	active    atomic.Int32
	workersWG sync.WaitGroup

	resolver  Resolver
	metadata  MetadataExtractor
	discovery Discoverer
	assets    AssetFetcher
	store     TaskStore
	onChange  func(Snapshot)
	events    *broadcaster
	now       func() time.Time
}

// SchedulerState summarizes the worker pool.
type SchedulerState struct {
	Running bool `json:"running"`
	Workers int  `json:"workers"`
	Queued  int  `json:"queued"`
	Active  int  `json:"active"`
}

// NewManagerWithOptions creates a manager with provided configuration.
func NewManagerWithOptions(opts Options) *Manager {
	if opts.MaxConcurrentDownloads <= 0 {
		opts.MaxConcurrentDownloads = 1
	}
	store := opts.Store
	if store == nil {
		store = NewFileStore(opts.DataDir)
	}
	var resolver Resolver = opts.Resolver
	if resolver == nil {
		resolver = adapter.New()
	}
	return &Manager{
		tasks:     make(map[string]*Task),
		byURL:     make(map[string]string),
		queue:     newQueue(),
		workers:   opts.MaxConcurrentDownloads,
		semaphore: make(chan struct{}, opts.MaxConcurrentDownloads),
		settings:  clampSettings(opts.Settings),
		baseCtx:   context.Background(),
		resolver:  resolver,
		metadata:  opts.Metadata,
		discovery: opts.Discovery,
		assets:    opts.Assets,
		store:     store,
		onChange:  opts.OnTaskChanged,
		events:    newBroadcaster(),
		now:       time.Now,
	}
}

func clampSettings(s Settings) Settings {
	if strings.TrimSpace(s.DownloadRoot) == "" {
		s.DownloadRoot = defaultDownloadRoot
	}
	if s.RetryLimit < 0 {
		s.RetryLimit = 0
	}
	if s.PageDelay < 0 {
		s.PageDelay = 0
	}
	return s
}

// Settings returns the values workers read at task start.
func (m *Manager) Settings() Settings {
	m.settingsMu.RLock()
	defer m.settingsMu.RUnlock()
	return m.settings
}

// UpdateSettings takes effect for tasks started afterwards.
func (m *Manager) UpdateSettings(s Settings) {
	m.settingsMu.Lock()
	m.settings = clampSettings(s)
	m.settingsMu.Unlock()
}

// Submit creates a task for rawURL without queueing it.
// A known URL returns the existing task together with ErrDuplicateURL.
func (m *Manager) Submit(rawURL string) (Snapshot, error) {
	rawURL = strings.TrimSpace(rawURL)
	parsed, err := url.Parse(rawURL)
	if err != nil || !model.IsHTTP(parsed) || parsed.Host == "" {
		return Snapshot{}, fmt.Errorf("%w: %q", ErrInvalidURL, rawURL)
	}

	now := m.now()
	m.mu.Lock()
	if id, known := m.byURL[rawURL]; known {
		existing := m.tasks[id]
		m.mu.Unlock()
		return existing.Snapshot(), ErrDuplicateURL
	}
	newTask := &Task{
		seq: m.nextSeq,
		state: Snapshot{
			ID:         uuid.NewString(),
			URL:        rawURL,
			Status:     StatusQueued,
			MaxRetries: m.Settings().RetryLimit,
			CreatedAt:  now,
			UpdatedAt:  now,
		},
	}
	m.nextSeq++
	m.tasks[newTask.ID()] = newTask
	m.byURL[rawURL] = newTask.ID()
	m.mu.Unlock()

	newTask.mu.Lock()
	m.publishLocked(newTask)
	snap := newTask.state
	newTask.mu.Unlock()
	return snap, nil
}

// Get returns a snapshot of one task.
func (m *Manager) Get(taskID string) (Snapshot, error) {
	t, err := m.task(taskID)
	if err != nil {
		return Snapshot{}, err
	}
	return t.Snapshot(), nil
}

// List returns snapshots of all tasks in submission order.
func (m *Manager) List() []Snapshot {
	m.mu.RLock()
	all := make([]*Task, 0, len(m.tasks))
	for _, t := range m.tasks {
		all = append(all, t)
	}
	m.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool { return all[i].seq < all[j].seq })
	out := make([]Snapshot, len(all))
	for i, t := range all {
		out[i] = t.Snapshot()
	}
	return out
}

// Enqueue hands a queued task to the worker pool.
func (m *Manager) Enqueue(taskID string) error {
	t, err := m.task(taskID)
	if err != nil {
		return err
	}
	var push bool
	err = m.mutate(t, func(t *Task) error {
		if t.state.Status != StatusQueued {
			return fmt.Errorf("%w: cannot enqueue %s task", ErrInvalidTransition, t.state.Status)
		}
		push = scheduleLocked(t)
		return nil
	})
	if err != nil {
		return err
	}
	if push {
		m.queue.push(t)
	}
	return nil
}

// Pause takes a task out of the active run. A worker holding it surrenders at
// its next boundary.
func (m *Manager) Pause(taskID string) error {
	t, err := m.task(taskID)
	if err != nil {
		return err
	}
	return m.mutate(t, func(t *Task) error {
		if t.state.Status == StatusPaused {
			return nil
		}
		if !CanTransition(t.state.Status, StatusPaused) {
			return transitionError(t.state.Status, StatusPaused)
		}
		t.state.Status = StatusPaused
		return nil
	})
}

// Resume puts a paused task back on the queue.
func (m *Manager) Resume(taskID string) error {
	t, err := m.task(taskID)
	if err != nil {
		return err
	}
	var push bool
	err = m.mutate(t, func(t *Task) error {
		if t.state.Status != StatusPaused {
			return transitionError(t.state.Status, StatusQueued)
		}
		t.state.Status = StatusQueued
		push = scheduleLocked(t)
		return nil
	})
	if err != nil {
		return err
	}
	if push {
		m.queue.push(t)
	}
	return nil
}

// Retry restarts a failed task from scratch while retries remain.
func (m *Manager) Retry(taskID string) error {
	t, err := m.task(taskID)
	if err != nil {
		return err
	}
	var push bool
	err = m.mutate(t, func(t *Task) error {
		if t.state.Status != StatusError {
			return transitionError(t.state.Status, StatusQueued)
		}
		if t.state.RetryCount >= t.state.MaxRetries {
			return fmt.Errorf("%w: %d of %d", ErrRetryLimit, t.state.RetryCount, t.state.MaxRetries)
		}
		t.state.RetryCount++
		t.state.Status = StatusQueued
		t.state.Error = ""
		t.state.Progress = 0
		t.state.CurrentPage = 0
		t.state.DownloadedBytes = 0
		push = scheduleLocked(t)
		return nil
	})
	if err != nil {
		return err
	}
	if push {
		m.queue.push(t)
	}
	return nil
}

// Remove forgets a task in any state. Files already downloaded stay on disk.
func (m *Manager) Remove(taskID string) error {
	m.mu.Lock()
	t, found := m.tasks[taskID]
	if !found {
		m.mu.Unlock()
		return ErrTaskNotFound
	}
	delete(m.tasks, taskID)
	delete(m.byURL, t.state.URL)
	m.mu.Unlock()

	t.mu.Lock()
	t.state.Status = StatusRemoved
	t.state.UpdatedAt = m.now()
	t.requeue = false
	m.publishLocked(t)
	t.mu.Unlock()

	if err := m.store.DeleteTask(context.Background(), taskID); err != nil {
		log.Warn().Str("task_id", taskID).Err(err).Msg("delete task state failed")
	}
	return nil
}

// Archive packs a completed task's folder into a .cbz and returns its path.
func (m *Manager) Archive(ctx context.Context, taskID string) (string, error) {
	snap, err := m.Get(taskID)
	if err != nil {
		return "", err
	}
	if snap.Status != StatusCompleted || snap.Dir == "" {
		return "", ErrNotCompleted
	}
	dest := m.store.ArchivePath(taskID)
	if _, err := archive.PackDir(ctx, snap.Dir, dest, snap.TotalPages); err != nil {
		return "", fmt.Errorf("pack %s: %w", snap.Dir, err)
	}
	return dest, nil
}

// Start launches the worker pool. Calling it while running does nothing.
func (m *Manager) Start() {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	if m.cancelRun != nil {
		return
	}
	runCtx, cancel := context.WithCancel(m.baseCtx)
	group, groupCtx := errgroup.WithContext(runCtx)
	for range m.workers {
		group.Go(func() error { return m.worker(groupCtx) })
	}
	m.cancelRun = cancel

	m.workersWG.Add(1)
	go func() {
		defer m.workersWG.Done()
		if err := group.Wait(); err != nil {
			log.Error().Err(err).Msg("worker pool stopped with error")
		}
	}()
	log.Info().Int("workers", m.workers).Msg("scheduler started")
}

// Stop asks workers to exit at their next boundary and returns immediately.
// In-flight requests complete first. Use WaitAll to wait for the workers.
func (m *Manager) Stop() {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	if m.cancelRun == nil {
		return
	}
	m.cancelRun()
	m.cancelRun = nil
	log.Info().Msg("scheduler stopping")
}

// Running reports whether Start was called without a later Stop.
func (m *Manager) Running() bool {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	return m.cancelRun != nil
}

// State reports the pool size, queue length and busy workers.
func (m *Manager) State() SchedulerState {
	return SchedulerState{
		Running: m.Running(),
		Workers: m.workers,
		Queued:  m.queue.len(),
		Active:  int(m.active.Load()),
	}
}

// SetBaseContext sets the parent of every run. Cancelling it stops the pool.
func (m *Manager) SetBaseContext(ctx context.Context) {
	m.runMu.Lock()
	m.baseCtx = ctx
	m.runMu.Unlock()
}

func (m *Manager) baseContext() context.Context {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	return m.baseCtx
}

// WaitAll blocks until all workers and background jobs finish or the context is done.
// Returns true if all finished, false if timed out.
func (m *Manager) WaitAll(ctx context.Context) bool {
	done := make(chan struct{})
	go func() {
		m.workersWG.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}

func (m *Manager) task(taskID string) (*Task, error) {
	m.mu.RLock()
	t, found := m.tasks[taskID]
	m.mu.RUnlock()
	if !found {
		return nil, ErrTaskNotFound
	}
	return t, nil
}

// mutate applies fn under the task lock and publishes the result.
func (m *Manager) mutate(t *Task, fn func(t *Task) error) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state.Status == StatusRemoved {
		return ErrTaskNotFound
	}
	if err := fn(t); err != nil {
		return err
	}
	t.state.UpdatedAt = m.now()
	m.publishLocked(t)
	return nil
}

// scheduleLocked marks t enqueued and reports whether the caller must push it.
// A task still owned by a worker is pushed by that worker on release.
func scheduleLocked(t *Task) bool {
	if t.state.Enqueued {
		return false
	}
	t.state.Enqueued = true
	if t.owned {
		t.requeue = true
		return false
	}
	return true
}

// publishLocked persists the task and notifies listeners. Callers hold t.mu.
func (m *Manager) publishLocked(t *Task) {
	snap := t.state
	if snap.Status != StatusRemoved {
		if err := m.persistTask(snap); err != nil { // best-effort
			log.Warn().Str("task_id", snap.ID).Err(err).Msg("persist task failed")
		}
	}
	if m.onChange != nil {
		m.onChange(snap)
	}
	m.events.publish(snap)
}

func (m *Manager) persistTask(snap Snapshot) error {
	return m.store.SaveTask(context.Background(), snap) //nolint:wrapcheck
}
