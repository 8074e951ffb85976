package discovery

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"galleryfetch/internal/adapter"
	"galleryfetch/internal/httpx"
	"galleryfetch/internal/model"
)

// fakePages serves canned markup keyed by URL and 404s everything else.
type fakePages struct {
	docs    map[string]string
	fetched []string
}

func (f *fakePages) GetPage(_ context.Context, rawURL string) (*httpx.Body, error) {
	f.fetched = append(f.fetched, rawURL)
	markup, ok := f.docs[rawURL]
	if !ok {
		return nil, &httpx.FetchError{URL: rawURL, Status: 404}
	}
	return &httpx.Body{URL: rawURL, Data: []byte(markup)}, nil
}

type fixedStrategy struct {
	name  string
	urls  []string
	err   error
	calls int
}

func (f *fixedStrategy) Name() string { return f.name }

func (f *fixedStrategy) Discover(context.Context, *Page, *adapter.SiteAdapter) ([]model.Asset, error) {
	f.calls++
	out := make([]model.Asset, 0, len(f.urls))
	for _, u := range f.urls {
		out = append(out, model.Asset{URL: u})
	}
	return out, f.err
}

func urlsOf(assets []model.Asset) []string {
	out := make([]string, 0, len(assets))
	for _, a := range assets {
		out = append(out, a.URL)
	}
	return out
}

const entry = "https://www.example.com/g/42"

func TestFirstNonEmptyStrategyWins(t *testing.T) {
	pages := &fakePages{docs: map[string]string{entry: "<html></html>"}}
	structured := &fixedStrategy{name: "structured", urls: []string{"https://i.example.com/1/1.jpg"}}
	dom := &fixedStrategy{name: "dom", urls: []string{"https://www.example.com/other/1.jpg"}}

	got, err := New(pages, WithStrategies(structured, dom)).Discover(context.Background(), entry, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"https://i.example.com/1/1.jpg"}, urlsOf(got))
	assert.Equal(t, 0, dom.calls)
}

func TestEmptyAndFailingStrategiesFallThrough(t *testing.T) {
	pages := &fakePages{docs: map[string]string{entry: "<html></html>"}}
	empty := &fixedStrategy{name: "empty"}
	failing := &fixedStrategy{name: "failing", urls: []string{"https://x.com/1.jpg"}, err: errors.New("boom")}
	onlyRelative := &fixedStrategy{name: "relative", urls: []string{"/1.jpg", "ftp://x.com/2.jpg"}}
	last := &fixedStrategy{name: "last", urls: []string{"https://x.com/3.jpg"}}

	got, err := New(pages, WithStrategies(empty, failing, onlyRelative, last)).Discover(context.Background(), entry, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"https://x.com/3.jpg"}, urlsOf(got))
	assert.Equal(t, 1, empty.calls)
	assert.Equal(t, 1, onlyRelative.calls)
}

func TestDedupKeepsFirstSeenOrder(t *testing.T) {
	a, b, c := "https://x.com/a.jpg", "https://x.com/b.png", "https://x.com/c.jpg"
	got := finalize([]model.Asset{{URL: a}, {URL: b}, {URL: a}, {URL: c}}, nil)

	if diff := cmp.Diff([]string{a, b, c}, urlsOf(got)); diff != "" {
		t.Fatalf("unexpected order (-want +got):\n%s", diff)
	}
	assert.Equal(t, model.FormatPNG, got[1].Format)
}

func TestFinalizeAttachesMirrors(t *testing.T) {
	site := &adapter.SiteAdapter{Name: "G", Mirrors: []string{"i.g.com", "i2.g.com"}}
	got := finalize([]model.Asset{{URL: "https://i2.g.com/d/1/1.jpg"}, {URL: "https://other.com/1.jpg"}}, site)
	require.Len(t, got, 2)
	assert.Equal(t, site.Mirrors, got[0].Mirrors)
	assert.Empty(t, got[1].Mirrors)
}

func TestDiscoverNothingFound(t *testing.T) {
	pages := &fakePages{docs: map[string]string{entry: "<html><body><p>no images here</p></body></html>"}}
	got, err := New(pages).Discover(context.Background(), entry, nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestDiscoverEntryFetchError(t *testing.T) {
	_, err := New(&fakePages{}).Discover(context.Background(), entry, nil)
	assert.True(t, errors.Is(err, httpx.ErrFetch))
}

func TestDiscoverReaderContainerOnEntryPage(t *testing.T) {
	pages := &fakePages{docs: map[string]string{entry: `<html><body>
		<img src="/static/logo.png">
		<div id="reader">
			<img src="/img/42/1.jpg" width="400" height="600">
			<img src="/img/42/2.jpg" width="400" height="600">
			<img src="/img/42/3.jpg" width="400" height="600">
		</div></body></html>`}}
	site := &adapter.SiteAdapter{Name: "Example", Domains: []string{"example.com"}}

	got, err := New(pages).Discover(context.Background(), entry, site)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"https://www.example.com/img/42/1.jpg",
		"https://www.example.com/img/42/2.jpg",
		"https://www.example.com/img/42/3.jpg",
	}, urlsOf(got))
}
