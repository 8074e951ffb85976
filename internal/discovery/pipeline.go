// Package discovery resolves a gallery entry URL into the ordered list of page
// images to download, trying a fixed cascade of extraction strategies.
package discovery

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/url"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog/log"

	"galleryfetch/internal/adapter"
	"galleryfetch/internal/httpx"
	"galleryfetch/internal/model"
)

// ErrNoAssets is the task failure reason when every strategy came back empty.
var ErrNoAssets = errors.New("no assets found")

// PageFetcher fetches HTML documents.
type PageFetcher interface {
	GetPage(ctx context.Context, rawURL string) (*httpx.Body, error)
}

// Page is a fetched and parsed HTML document.
type Page struct {
	URL *url.URL
	Raw []byte
	Doc *goquery.Document
}

// Strategy extracts candidate assets from the entry page. An empty result
// passes control to the next strategy; so does an error, which is only logged.
type Strategy interface {
	Name() string
	Discover(ctx context.Context, page *Page, site *adapter.SiteAdapter) ([]model.Asset, error)
}

// Pipeline runs strategies in priority order and returns the first non-empty result.
type Pipeline struct {
	pages      PageFetcher
	strategies []Strategy
	pickHost   func(n int) int
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithStrategies replaces the default strategy cascade.
func WithStrategies(strategies ...Strategy) Option {
	return func(p *Pipeline) { p.strategies = strategies }
}

// WithHostPicker sets how the gallery strategy picks among an adapter's image hosts.
// pick receives the number of hosts and returns an index. The default is uniform random.
func WithHostPicker(pick func(n int) int) Option {
	return func(p *Pipeline) { p.pickHost = pick }
}

// New builds the default cascade: adapter gallery reader, generic reader link,
// embedded script array, then DOM heuristics on the entry page.
func New(pages PageFetcher, opts ...Option) *Pipeline {
	p := &Pipeline{pages: pages, pickHost: rand.IntN}
	for _, opt := range opts {
		opt(p)
	}
	if p.strategies == nil {
		p.strategies = []Strategy{
			&galleryStrategy{pages: pages, pickHost: p.pickHost},
			&readerLinkStrategy{pages: pages},
			scriptStrategy{},
			heuristicStrategy{},
		}
	}
	return p
}

// Discover fetches the entry page and returns deduplicated absolute assets.
// An empty slice with a nil error means discovery found nothing.
func (p *Pipeline) Discover(ctx context.Context, rawURL string, site *adapter.SiteAdapter) ([]model.Asset, error) {
	page, err := fetchPage(ctx, p.pages, rawURL)
	if err != nil {
		return nil, err
	}

	for _, strategy := range p.strategies {
		if err := ctx.Err(); err != nil {
			return nil, err //nolint:wrapcheck
		}
		found, err := strategy.Discover(ctx, page, site)
		if err != nil {
			log.Warn().Str("url", rawURL).Str("strategy", strategy.Name()).Err(err).Msg("discovery strategy failed")
			continue
		}
		assets := finalize(found, site)
		if len(assets) == 0 {
			log.Debug().Str("url", rawURL).Str("strategy", strategy.Name()).Msg("discovery strategy found nothing")
			continue
		}
		log.Info().Str("url", rawURL).Str("strategy", strategy.Name()).Int("assets", len(assets)).Msg("assets discovered")
		return assets, nil
	}
	return []model.Asset{}, nil
}

func fetchPage(ctx context.Context, pages PageFetcher, rawURL string) (*Page, error) {
	body, err := pages.GetPage(ctx, rawURL)
	if err != nil {
		return nil, err //nolint:wrapcheck // FetchError already names the url
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body.Data))
	if err != nil {
		return nil, fmt.Errorf("parse html %s: %w", rawURL, err)
	}
	pageURL, err := url.Parse(body.URL)
	if err != nil {
		return nil, fmt.Errorf("parse url %s: %w", body.URL, err)
	}
	return &Page{URL: pageURL, Raw: body.Data, Doc: doc}, nil
}

// finalize drops non-http(s) URLs and duplicates, keeping first-seen order,
// and attaches the adapter's mirror hosts where the asset is served from one.
func finalize(found []model.Asset, site *adapter.SiteAdapter) []model.Asset {
	seen := make(map[string]struct{}, len(found))
	out := make([]model.Asset, 0, len(found))
	for _, a := range found {
		u, err := url.Parse(a.URL)
		if err != nil || !model.IsHTTP(u) {
			continue
		}
		if _, dup := seen[a.URL]; dup {
			continue
		}
		seen[a.URL] = struct{}{}
		if a.Format == "" {
			a.Format, _ = model.FormatFromURL(a.URL)
		}
		if site.HasMirror(u.Hostname()) {
			a.Mirrors = site.Mirrors
		}
		a.Sequence = 0
		out = append(out, a)
	}
	return out
}
