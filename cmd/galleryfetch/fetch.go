package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"galleryfetch/internal/task"
)

const pollInterval = 250 * time.Millisecond

func newFetchCmd(a *app) *cobra.Command {
	var listFile string
	cmd := &cobra.Command{
		Use:   "fetch [url...]",
		Short: "Download galleries in the foreground and print a summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 && listFile == "" {
				return task.ErrNoURLs
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.fetch(ctx, cmd.OutOrStdout(), args, listFile, cmd.InOrStdin())
		},
	}
	cmd.Flags().StringVarP(&listFile, "file", "f", "", "read URLs from a file, one per line (- for stdin)")
	return cmd
}

func (a *app) fetch(ctx context.Context, out io.Writer, urls []string, listFile string, stdin io.Reader) error {
	tm, _, err := a.buildManager()
	if err != nil {
		return err
	}

	ids := make([]string, 0, len(urls))
	add := func(rawURL string) {
		if id, ok := queueURL(tm, rawURL); ok && !slices.Contains(ids, id) {
			ids = append(ids, id)
		}
	}
	for _, rawURL := range urls {
		add(rawURL)
	}
	if listFile != "" {
		if err := queueList(ctx, listFile, stdin, add); err != nil {
			return err
		}
	}
	if len(ids) == 0 {
		return errors.New("nothing to download")
	}

	events, unsubscribe := tm.Subscribe(0)
	go logTransitions(events)

	tm.Start()
	waitDone(ctx, tm, ids)
	tm.Stop()
	unsubscribe()

	waitCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if !tm.WaitAll(waitCtx) {
		log.Warn().Msg("workers did not finish before timeout")
	}

	snaps := make([]task.Snapshot, 0, len(ids))
	for _, id := range ids {
		if snap, err := tm.Get(id); err == nil {
			snaps = append(snaps, snap)
		}
	}
	renderTasks(out, snaps)
	if n := countUnfinished(snaps); n > 0 {
		return fmt.Errorf("%d of %d galleries did not complete", n, len(snaps))
	}
	return nil
}

// queueURL submits rawURL, or puts a task restored from disk back in line.
func queueURL(tm *task.Manager, rawURL string) (string, bool) {
	snap, err := tm.Submit(rawURL)
	switch {
	case errors.Is(err, task.ErrDuplicateURL):
		switch snap.Status {
		case task.StatusPaused:
			err = tm.Resume(snap.ID)
		case task.StatusError:
			err = tm.Retry(snap.ID)
		case task.StatusQueued:
			err = tm.Enqueue(snap.ID)
		default:
			err = nil
		}
	case err == nil:
		err = tm.Enqueue(snap.ID)
	default:
		log.Warn().Str("url", rawURL).Err(err).Msg("url skipped")
		return "", false
	}
	if err != nil {
		log.Warn().Str("task_id", snap.ID).Err(err).Msg("cannot queue task")
	}
	return snap.ID, true
}

// queueList feeds every URL of the list file to add, so restored tasks are
// resumed or retried the same way as URLs given as arguments.
func queueList(ctx context.Context, path string, stdin io.Reader, add func(string)) error {
	r := stdin
	if path != "-" {
		f, err := os.Open(path) //nolint:gosec // path comes from the command line
		if err != nil {
			return fmt.Errorf("open url list: %w", err)
		}
		defer f.Close()
		r = f
	}
	invalid, err := task.ScanURLs(ctx, r, add)
	if err != nil {
		return err //nolint:wrapcheck
	}
	log.Info().Int("invalid", invalid).Str("file", path).Msg("url list read")
	return nil
}

// waitDone returns once every id is terminal or paused, or ctx is cancelled.
func waitDone(ctx context.Context, tm *task.Manager, ids []string) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		if allSettled(tm, ids) {
			return
		}
		select {
		case <-ctx.Done():
			log.Info().Msg("interrupted; pausing running downloads")
			return
		case <-ticker.C:
		}
	}
}

func allSettled(tm *task.Manager, ids []string) bool {
	for _, id := range ids {
		snap, err := tm.Get(id)
		if err != nil {
			continue
		}
		if !snap.Status.IsTerminal() && snap.Status != task.StatusPaused {
			return false
		}
	}
	return true
}

func logTransitions(events <-chan task.Snapshot) {
	last := make(map[string]task.Status)
	for snap := range events {
		if last[snap.ID] == snap.Status {
			continue
		}
		last[snap.ID] = snap.Status
		evt := log.Info()
		if snap.Status == task.StatusError {
			evt = log.Warn().Str("error", snap.Error)
		}
		evt.Str("task_id", snap.ID).Str("title", snap.Title).Str("status", string(snap.Status)).Msg("task status changed")
	}
}

func countUnfinished(snaps []task.Snapshot) int {
	n := 0
	for _, snap := range snaps {
		if snap.Status != task.StatusCompleted {
			n++
		}
	}
	return n
}

func renderTasks(out io.Writer, snaps []task.Snapshot) {
	tw := table.NewWriter()
	tw.SetOutputMirror(out)
	tw.SetStyle(table.StyleLight)
	tw.AppendHeader(table.Row{"Title", "Status", "Pages", "Size", "Folder / Error"})
	var total int64
	for _, snap := range snaps {
		title := snap.Title
		if title == "" {
			title = snap.URL
		}
		detail := snap.Dir
		if snap.Status != task.StatusCompleted {
			detail = snap.Error
		}
		total += snap.DownloadedBytes
		tw.AppendRow(table.Row{
			title,
			snap.Status,
			fmt.Sprintf("%d/%d", snap.CurrentPage, snap.TotalPages),
			humanize.IBytes(uint64(max(snap.DownloadedBytes, 0))),
			detail,
		})
	}
	tw.AppendFooter(table.Row{"", "", len(snaps), humanize.IBytes(uint64(max(total, 0))), ""})
	tw.Render()
}
