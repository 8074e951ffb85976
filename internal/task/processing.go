package task

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"galleryfetch/internal/adapter"
	"galleryfetch/internal/archive"
	"galleryfetch/internal/asset"
	"galleryfetch/internal/discovery"
	fileutil "galleryfetch/internal/file"
	"galleryfetch/internal/metadata"
	"galleryfetch/internal/model"
)

// worker takes tasks off the queue until ctx is done.
func (m *Manager) worker(ctx context.Context) error {
	for {
		next, ok := m.queue.pop(ctx)
		if !ok {
			return nil
		}
		if ctx.Err() != nil {
			// still marked enqueued; leave it for the next Start
			m.queue.push(next)
			return nil
		}
		m.run(ctx, next)
	}
}

// run processes one task end to end. Requests are never cancelled mid-call:
// ctx is only consulted between steps.
func (m *Manager) run(ctx context.Context, t *Task) {
	settings := m.Settings()
	if !m.claim(t, settings) {
		return
	}
	m.active.Add(1)
	defer func() {
		m.active.Add(-1)
		m.release(t)
	}()

	snap := t.Snapshot()
	logger := log.With().Str("task_id", snap.ID).Str("url", snap.URL).Logger()
	site := m.resolve(snap.URL, logger)
	callCtx := context.WithoutCancel(ctx)

	if !snap.InfoFetched {
		if !m.proceed(ctx, t) || !m.step(t, StatusGettingInfo, progressGettingInfo) {
			return
		}
		info, err := m.metadata.Extract(callCtx, snap.URL, site)
		if err != nil {
			m.fail(t, logger, err)
			return
		}
		m.applyInfo(t, info, site, m.fetchCover(callCtx, info.CoverURL, logger))
	}

	if !m.proceed(ctx, t) || !m.step(t, StatusDownloading, progressDownloading) {
		return
	}
	assets, err := m.discovery.Discover(callCtx, snap.URL, site)
	if err != nil {
		m.fail(t, logger, err)
		return
	}
	if len(assets) == 0 {
		m.fail(t, logger, discovery.ErrNoAssets)
		return
	}
	m.download(ctx, t, assets, settings, logger)
}

// download fetches assets one by one. Sequence numbers are only consumed by
// persisted assets, so the files on disk are always 1..N.
func (m *Manager) download(ctx context.Context, t *Task, assets []model.Asset, settings Settings, logger zerolog.Logger) {
	snap := t.Snapshot()
	dir := filepath.Join(settings.DownloadRoot, fileutil.SanitizeTitle(snap.Title))
	m.update(t, func(s *Snapshot) {
		s.TotalPages = len(assets)
		s.CurrentPage = 0
		s.Dir = dir
	})
	m.saveCover(context.WithoutCancel(ctx), t, dir, logger)

	var (
		saved       int
		persistErrs int
		written     int64
	)
	for i, a := range assets {
		if !m.proceed(ctx, t) {
			return
		}
		if i > 0 && settings.PageDelay > 0 {
			sleepCtx(ctx, settings.PageDelay)
			if !m.proceed(ctx, t) {
				return
			}
		}

		res := m.assets.Fetch(context.WithoutCancel(ctx), a, dir, saved+1)
		switch {
		case res.Persisted():
			saved++
			written += res.Bytes
		case errors.Is(res.Err, asset.ErrPersist):
			persistErrs++
			logger.Warn().Str("asset", a.URL).Err(res.Err).Msg("asset not saved")
			if persistErrs >= maxPersistErrors {
				m.fail(t, logger, fmt.Errorf("%w: %w", ErrTooManyPersist, res.Err))
				return
			}
		default:
			logger.Warn().Str("asset", a.URL).Err(res.Err).Msg("asset skipped")
		}

		progress := progressAssetsBase + (progressDone-progressAssetsBase)*(i+1)/len(assets)
		m.update(t, func(s *Snapshot) {
			s.CurrentPage = saved
			s.DownloadedBytes = written
			s.Progress = max(s.Progress, progress)
		})
	}

	if saved == 0 {
		m.fail(t, logger, ErrNoneSaved)
		return
	}
	if removed, err := archive.PrunePages(dir, saved); err != nil {
		logger.Warn().Str("dir", dir).Err(err).Msg("stale pages not removed")
	} else if removed > 0 {
		logger.Debug().Int("removed", removed).Msg("stale pages from an earlier run removed")
	}
	m.complete(t, saved, logger)
}

func (m *Manager) resolve(rawURL string, logger zerolog.Logger) *adapter.SiteAdapter {
	site, err := m.resolver.Resolve(rawURL)
	if err != nil {
		logger.Warn().Err(err).Msg("no adapter for url; using generic discovery")
		return nil
	}
	return site
}

func (m *Manager) fetchCover(ctx context.Context, coverURL string, logger zerolog.Logger) []byte {
	if coverURL == "" {
		return nil
	}
	data, err := m.assets.FetchCover(ctx, coverURL)
	if err != nil {
		logger.Warn().Str("cover", coverURL).Err(err).Msg("cover fetch failed")
		return nil
	}
	return data
}

// saveCover writes the cover next to the pages, fetching it first when only
// its URL survived a restart.
func (m *Manager) saveCover(ctx context.Context, t *Task, dir string, logger zerolog.Logger) {
	t.mu.Lock()
	cover, coverURL := t.cover, t.state.CoverURL
	t.mu.Unlock()

	if cover == nil {
		cover = m.fetchCover(ctx, coverURL, logger)
		if cover == nil {
			return
		}
		m.update(t, func(s *Snapshot) { s.CoverBytes = len(cover) })
		t.mu.Lock()
		t.cover = cover
		t.mu.Unlock()
	}
	if _, err := m.assets.SaveCover(cover, dir); err != nil {
		logger.Warn().Err(err).Msg("cover not saved")
	}
}

// claim moves a dequeued task to Processing. Tasks paused or removed while
// waiting in the queue are dropped here.
func (m *Manager) claim(t *Task, settings Settings) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state.Enqueued = false
	if t.state.Status != StatusQueued || t.owned {
		return false
	}
	t.owned = true
	t.requeue = false
	t.state.Status = StatusProcessing
	t.state.Progress = max(t.state.Progress, progressProcessing)
	t.state.MaxRetries = settings.RetryLimit
	t.state.UpdatedAt = m.now()
	m.publishLocked(t)
	return true
}

// release gives the task back. A resume or retry that happened while the
// worker still held it is honoured here.
func (m *Manager) release(t *Task) {
	t.mu.Lock()
	t.owned = false
	push := t.requeue && t.state.Status == StatusQueued
	if t.requeue && !push {
		t.state.Enqueued = false
	}
	t.requeue = false
	t.mu.Unlock()
	if push {
		m.queue.push(t)
	}
}

// proceed reports whether the worker may start its next unit of work. A
// stopping scheduler parks the task as Paused.
func (m *Manager) proceed(ctx context.Context, t *Task) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.state.Status.active() {
		return false
	}
	if ctx.Err() != nil {
		t.state.Status = StatusPaused
		t.state.UpdatedAt = m.now()
		m.publishLocked(t)
		log.Info().Str("task_id", t.state.ID).Msg("scheduler stopped; task paused")
		return false
	}
	return true
}

// step advances an active task along the lifecycle graph.
func (m *Manager) step(t *Task, to Status, progress int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.state.Status.active() || !CanTransition(t.state.Status, to) {
		return false
	}
	t.state.Status = to
	t.state.Progress = max(t.state.Progress, progress)
	t.state.UpdatedAt = m.now()
	m.publishLocked(t)
	return true
}

// update changes counters without touching the status.
func (m *Manager) update(t *Task, fn func(s *Snapshot)) {
	_ = m.mutate(t, func(t *Task) error {
		fn(&t.state)
		return nil
	})
}

func (m *Manager) applyInfo(t *Task, info metadata.Info, site *adapter.SiteAdapter, cover []byte) {
	_ = m.mutate(t, func(t *Task) error {
		if info.Title != "" {
			t.state.Title = info.Title
		}
		if site != nil {
			t.state.Adapter = site.Name
		}
		t.state.PageCount = info.PageCount
		t.state.ChapterCount = 1
		t.state.CoverURL = info.CoverURL
		if cover != nil {
			t.cover = cover
			t.state.CoverBytes = len(cover)
		}
		t.state.InfoFetched = true
		return nil
	})
}

// fail ends an active run in Error. A task paused or removed meanwhile keeps its status.
func (m *Manager) fail(t *Task, logger zerolog.Logger, cause error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.state.Status.active() {
		return
	}
	t.state.Status = StatusError
	t.state.Error = reason(cause)
	t.state.UpdatedAt = m.now()
	m.publishLocked(t)
	logger.Error().Err(cause).Msg("task failed")
}

func (m *Manager) complete(t *Task, saved int, logger zerolog.Logger) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state.Status != StatusDownloading {
		return
	}
	t.state.Status = StatusCompleted
	t.state.TotalPages = saved
	t.state.CurrentPage = saved
	t.state.Progress = progressDone
	t.state.UpdatedAt = m.now()
	m.publishLocked(t)
	logger.Info().Int("pages", saved).Str("dir", t.state.Dir).Msg("task completed")
}

func sleepCtx(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
