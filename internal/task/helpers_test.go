package task

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/jpeg"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"galleryfetch/internal/adapter"
	"galleryfetch/internal/asset"
	"galleryfetch/internal/discovery"
	"galleryfetch/internal/httpx"
	"galleryfetch/internal/metadata"
	"galleryfetch/internal/model"
)

// fakeWeb serves canned pages and images keyed by URL and 404s the rest.
type fakeWeb struct {
	mu     sync.Mutex
	pages  map[string]string
	images map[string][]byte
	hits   map[string]int
}

func newFakeWeb() *fakeWeb {
	return &fakeWeb{pages: map[string]string{}, images: map[string][]byte{}, hits: map[string]int{}}
}

func (w *fakeWeb) GetPage(ctx context.Context, rawURL string) (*httpx.Body, error) {
	return w.Get(ctx, rawURL, httpx.PageLimit)
}

func (w *fakeWeb) Get(_ context.Context, rawURL string, _ int64) (*httpx.Body, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.hits[rawURL]++
	if markup, ok := w.pages[rawURL]; ok {
		return &httpx.Body{URL: rawURL, Data: []byte(markup)}, nil
	}
	if data, ok := w.images[rawURL]; ok {
		return &httpx.Body{URL: rawURL, Data: data}, nil
	}
	return nil, &httpx.FetchError{URL: rawURL, Status: 404}
}

func jpegImage(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, image.NewRGBA(image.Rect(0, 0, w, h)), &jpeg.Options{Quality: 80}); err != nil {
		t.Fatalf("encode jpeg: %v", err)
	}
	return buf.Bytes()
}

func exampleRegistry() *adapter.Registry {
	return adapter.New(&adapter.SiteAdapter{Name: "Example", Language: "en", Domains: []string{"example.com"}})
}

// newWebManager wires the real extractor, pipeline and fetcher over a fake web.
func newWebManager(t *testing.T, web *fakeWeb) (*Manager, string) {
	t.Helper()
	root := t.TempDir()
	m := NewManagerWithOptions(Options{
		DataDir:                t.TempDir(),
		MaxConcurrentDownloads: 2,
		Settings:               Settings{DownloadRoot: root, RetryLimit: 2},
		Resolver:               exampleRegistry(),
		Metadata:               metadata.NewExtractor(web),
		Discovery:              discovery.New(web),
		Assets:                 asset.NewFetcher(web),
	})
	return m, root
}

// stubMetadata returns a fixed Info and counts calls.
type stubMetadata struct {
	mu    sync.Mutex
	info  metadata.Info
	err   error
	calls int
}

func (s *stubMetadata) Extract(context.Context, string, *adapter.SiteAdapter) (metadata.Info, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.info, s.err
}

func (s *stubMetadata) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// stubDiscovery returns n assets; errs are returned first, one per call.
type stubDiscovery struct {
	mu   sync.Mutex
	n    int
	errs []error
}

func (s *stubDiscovery) Discover(context.Context, string, *adapter.SiteAdapter) ([]model.Asset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		return nil, err
	}
	out := make([]model.Asset, s.n)
	for i := range out {
		out[i] = model.Asset{URL: "https://cdn.site.test/" + string(rune('a'+i)) + ".jpg"}
	}
	return out, nil
}

// gateAssets blocks its first Fetch until gate is closed when gate is set.
type gateAssets struct {
	mu      sync.Mutex
	calls   int
	gate    chan struct{}
	entered chan struct{}
	result  func(seq int) asset.Result
}

func newGateAssets() *gateAssets {
	return &gateAssets{gate: make(chan struct{}), entered: make(chan struct{})}
}

func (g *gateAssets) Fetch(_ context.Context, _ model.Asset, _ string, seq int) asset.Result {
	g.mu.Lock()
	g.calls++
	n := g.calls
	g.mu.Unlock()
	if n == 1 && g.gate != nil {
		close(g.entered)
		<-g.gate
	}
	if g.result != nil {
		return g.result(seq)
	}
	return asset.Result{Sequence: seq, Bytes: 10}
}

func (g *gateAssets) FetchCover(context.Context, string) ([]byte, error) {
	return nil, errors.New("no cover")
}

func (g *gateAssets) SaveCover([]byte, string) (string, error) { return "", nil }

func (g *gateAssets) count() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

// newStubManager builds a manager over stubs without starting it.
func newStubManager(t *testing.T, meta *stubMetadata, disc *stubDiscovery, assets *gateAssets, retryLimit int) *Manager {
	t.Helper()
	return NewManagerWithOptions(Options{
		DataDir:                t.TempDir(),
		MaxConcurrentDownloads: 1,
		Settings:               Settings{DownloadRoot: t.TempDir(), RetryLimit: retryLimit},
		Resolver:               exampleRegistry(),
		Metadata:               meta,
		Discovery:              disc,
		Assets:                 assets,
	})
}

func waitForStatus(t *testing.T, m *Manager, taskID string, want ...Status) Snapshot {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		snap, err := m.Get(taskID)
		if err == nil && slices.Contains(want, snap.Status) {
			return snap
		}
		time.Sleep(10 * time.Millisecond)
	}
	snap, _ := m.Get(taskID)
	t.Fatalf("task did not reach %v in time, last status %s (%s)", want, snap.Status, snap.Error)
	return snap
}

func waitIdle(t *testing.T, m *Manager) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if m.State().Active == 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("workers still busy: %+v", m.State())
}

func stopAndWait(t *testing.T, m *Manager) {
	t.Helper()
	m.Stop()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if !m.WaitAll(ctx) {
		t.Fatalf("workers did not stop in time")
	}
}

func nopLogger() zerolog.Logger { return zerolog.Nop() }
