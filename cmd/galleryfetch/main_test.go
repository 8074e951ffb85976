package main

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"galleryfetch/internal/adapter"
	"galleryfetch/internal/task"
)

const adaptersYAML = `name: ExampleGallery
language: en
domains: [example-gallery.com, example-gallery.net]
mirrors: [i.example-gallery.com]
---
name: Plain
domains: plain.org
`

func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	adaptersDir := filepath.Join(dir, "adapters")
	require.NoError(t, os.MkdirAll(adaptersDir, 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(adaptersDir, "sites.yaml"), []byte(adaptersYAML), 0o600))

	cfg := fmt.Sprintf("data_dir: %q\ndownload_root: %q\nadapters_dir: %q\nmax_concurrent_downloads: 2\nhttp:\n  retry_count: 0\nlog:\n  level: error\n",
		filepath.Join(dir, "data"), filepath.Join(dir, "Downloads"), adaptersDir)
	path := filepath.Join(dir, "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o600))
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestAdaptersCommand(t *testing.T) {
	cfg := writeConfig(t)

	out, err := run(t, "--config", cfg, "adapters")
	require.NoError(t, err)
	assert.Contains(t, out, "ExampleGallery")
	assert.Contains(t, out, "example-gallery.com, example-gallery.net")
	assert.Contains(t, out, "Plain")

	out, err = run(t, "--config", cfg, "adapters", "--match", "https://www.plain.org/g/1")
	require.NoError(t, err)
	assert.Equal(t, "https://www.plain.org/g/1 -> Plain\n", out)

	_, err = run(t, "--config", cfg, "adapters", "--match", "https://unknown.net/x")
	assert.ErrorIs(t, err, adapter.ErrNotFound)
}

func TestFetchRequiresURLs(t *testing.T) {
	_, err := run(t, "--config", writeConfig(t), "fetch")
	assert.ErrorIs(t, err, task.ErrNoURLs)
}

func TestFetchCommand(t *testing.T) {
	var img bytes.Buffer
	require.NoError(t, jpeg.Encode(&img, image.NewRGBA(image.Rect(0, 0, 320, 480)), nil))
	mux := http.NewServeMux()
	mux.HandleFunc("/g/7", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `<html><head><title>Field Notes</title></head><body><h1>Field Notes</h1><div id="reader">`+
			`<img src="/7/1.jpg"><img src="/7/2.jpg"></div></body></html>`)
	})
	mux.HandleFunc("/7/", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		_, _ = w.Write(img.Bytes())
	})
	mux.HandleFunc("/missing", http.NotFound)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	cfg := writeConfig(t)
	out, err := run(t, "--config", cfg, "fetch", srv.URL+"/g/7")
	require.NoError(t, err)
	assert.Contains(t, out, "Field Notes")
	assert.Contains(t, out, "completed")
	assert.Contains(t, out, "2/2")

	// a second run finds the completed task on disk and leaves it alone
	listPath := filepath.Join(t.TempDir(), "urls.txt")
	require.NoError(t, os.WriteFile(listPath, []byte("# batch\n"+srv.URL+"/missing\n"), 0o600))
	out, err = run(t, "--config", cfg, "fetch", srv.URL+"/g/7", "--file", listPath)
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "1 of 2"), err.Error())
	assert.Contains(t, out, "completed")
	assert.Contains(t, out, "error")
}

func TestFetchListResumesRestoredTask(t *testing.T) {
	var img bytes.Buffer
	require.NoError(t, jpeg.Encode(&img, image.NewRGBA(image.Rect(0, 0, 320, 480)), nil))
	var ready atomic.Bool
	mux := http.NewServeMux()
	mux.HandleFunc("/g/8", func(w http.ResponseWriter, r *http.Request) {
		if !ready.Load() {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, `<html><body><h1>Second Try</h1><div id="reader"><img src="/8/1.jpg"></div></body></html>`)
	})
	mux.HandleFunc("/8/", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(img.Bytes())
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	cfg := writeConfig(t)
	_, err := run(t, "--config", cfg, "fetch", srv.URL+"/g/8")
	require.Error(t, err)

	// the failed task is restored from disk and retried when listed in a file
	ready.Store(true)
	listPath := filepath.Join(t.TempDir(), "urls.txt")
	require.NoError(t, os.WriteFile(listPath, []byte("# again\n"+srv.URL+"/g/8\n"), 0o600))
	out, err := run(t, "--config", cfg, "fetch", "--file", listPath)
	require.NoError(t, err)
	assert.Contains(t, out, "Second Try")
	assert.Contains(t, out, "completed")
	assert.Contains(t, out, "1/1")
}

func TestRenderTasks(t *testing.T) {
	var out bytes.Buffer
	renderTasks(&out, []task.Snapshot{
		{URL: "https://a.example/1", Title: "One", Status: task.StatusCompleted, CurrentPage: 3, TotalPages: 3, DownloadedBytes: 3 << 20, Dir: "/tmp/One"},
		{URL: "https://a.example/2", Status: task.StatusError, Error: "no assets found"},
	})
	text := out.String()
	assert.Contains(t, text, "One")
	assert.Contains(t, text, "3.0 MiB")
	assert.Contains(t, text, "https://a.example/2")
	assert.Contains(t, text, "no assets found")
}
