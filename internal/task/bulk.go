package task

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog/log"
)

const bulkBatchSize = 1000

// BulkResult counts the outcome of a bulk submission.
type BulkResult struct {
	Added   int `json:"added"`
	Skipped int `json:"skipped"`
}

// SubmitMany submits urls in order, enqueueing each new task when asked.
// Invalid and already known urls are counted as skipped.
func (m *Manager) SubmitMany(urls []string, enqueue bool) ([]Snapshot, int) {
	added := make([]Snapshot, 0, len(urls))
	skipped := 0
	for _, rawURL := range urls {
		snap, err := m.Submit(rawURL)
		if err != nil {
			if !errors.Is(err, ErrDuplicateURL) {
				log.Debug().Str("url", rawURL).Err(err).Msg("url skipped")
			}
			skipped++
			continue
		}
		if enqueue {
			if err := m.Enqueue(snap.ID); err != nil {
				log.Warn().Str("task_id", snap.ID).Err(err).Msg("enqueue failed")
			}
			snap, _ = m.Get(snap.ID)
		}
		added = append(added, snap)
	}
	return added, skipped
}

// SubmitReader reads a URL list with ScanURLs. URLs are submitted in batches
// so a large list does not hold up other callers.
func (m *Manager) SubmitReader(ctx context.Context, r io.Reader, enqueue bool) (BulkResult, error) {
	var res BulkResult
	batch := make([]string, 0, bulkBatchSize)
	flush := func() {
		added, skipped := m.SubmitMany(batch, enqueue)
		res.Added += len(added)
		res.Skipped += skipped
		batch = batch[:0]
	}

	invalid, err := ScanURLs(ctx, r, func(rawURL string) {
		batch = append(batch, rawURL)
		if len(batch) == bulkBatchSize {
			flush()
		}
	})
	flush()
	res.Skipped += invalid
	return res, err
}

// ScanURLs reads one URL per line and calls fn for each http(s) URL in order.
// Blank lines and # comments are ignored; other lines are counted and returned.
func ScanURLs(ctx context.Context, r io.Reader, fn func(rawURL string)) (int, error) {
	invalid := 0
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return invalid, err //nolint:wrapcheck
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		lower := strings.ToLower(line)
		if !strings.HasPrefix(lower, "http://") && !strings.HasPrefix(lower, "https://") {
			invalid++
			continue
		}
		fn(line)
	}
	if err := scanner.Err(); err != nil {
		return invalid, fmt.Errorf("read url list: %w", err)
	}
	return invalid, nil
}

// ImportAsync runs SubmitReader over data in the background.
func (m *Manager) ImportAsync(data []byte, enqueue bool) {
	m.workersWG.Add(1)
	go func() {
		defer m.workersWG.Done()
		res, err := m.SubmitReader(m.baseContext(), bytes.NewReader(data), enqueue)
		evt := log.Info()
		if err != nil {
			evt = log.Warn().Err(err)
		}
		evt.Int("added", res.Added).Int("skipped", res.Skipped).Msg("url list imported")
	}()
}
