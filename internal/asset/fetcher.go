// Package asset downloads, validates and persists single page images.
package asset

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog/log"

	fileutil "galleryfetch/internal/file"
	"galleryfetch/internal/httpx"
	"galleryfetch/internal/model"
)

const (
	// PageLimit caps a page image; longer bodies are truncated.
	PageLimit int64 = 10 << 20
	// CoverLimit caps the cover image.
	CoverLimit int64 = 2 << 20

	coverName = "cover"
)

var (
	// ErrRejected marks an asset that failed validation; it does not consume a sequence number.
	ErrRejected = errors.New("asset rejected")
	// ErrPersist marks a disk failure while writing an asset.
	ErrPersist = errors.New("persist asset")
)

// Getter performs a capped GET.
type Getter interface {
	Get(ctx context.Context, rawURL string, limit int64) (*httpx.Body, error)
}

// Fetcher fetches one asset at a time through its URL fallback cascade.
type Fetcher struct {
	http Getter
}

func NewFetcher(http Getter) *Fetcher {
	return &Fetcher{http: http}
}

// Result describes one fetch. Err is nil when the asset was persisted and
// otherwise wraps ErrRejected, ErrPersist or a fetch error.
type Result struct {
	Sequence  int
	Path      string
	SourceURL string
	Bytes     int64
	Err       error
}

// Persisted reports whether the asset was written to disk.
func (r Result) Persisted() bool { return r.Err == nil }

// Fetch downloads a, validates it and writes it as {destDir}/{seq}.jpg.
// A single asset failure is reported in Result.Err, never as a panic or a task abort.
func (f *Fetcher) Fetch(ctx context.Context, a model.Asset, destDir string, seq int) Result {
	body, source, err := f.firstOK(ctx, Candidates(a))
	if err != nil {
		return Result{Sequence: seq, Err: err}
	}
	if len(body.Data) == 0 {
		return Result{Sequence: seq, SourceURL: source, Err: fmt.Errorf("%w: empty body from %s", ErrRejected, source)}
	}
	if body.Truncated {
		log.Warn().Str("url", source).Str("limit", humanize.IBytes(uint64(PageLimit))).Msg("asset truncated at size cap")
	}

	data, err := Canonicalize(body.Data, true)
	if err != nil {
		return Result{Sequence: seq, SourceURL: source, Err: err}
	}

	target := filepath.Join(destDir, strconv.Itoa(seq)+model.CanonicalFormat.Ext())
	if err := fileutil.WriteBytesAtomic(target, data); err != nil {
		return Result{Sequence: seq, SourceURL: source, Err: fmt.Errorf("%w: %w", ErrPersist, err)}
	}
	return Result{Sequence: seq, Path: target, SourceURL: source, Bytes: int64(len(data))}
}

// firstOK tries each candidate in order and returns the first 200 response.
func (f *Fetcher) firstOK(ctx context.Context, candidates []string) (*httpx.Body, string, error) {
	var lastErr error
	for _, candidate := range candidates {
		body, err := f.http.Get(ctx, candidate, PageLimit)
		if err != nil {
			log.Debug().Str("url", candidate).Err(err).Msg("asset candidate failed")
			lastErr = err
			continue
		}
		return body, candidate, nil
	}
	if lastErr == nil {
		lastErr = errors.New("no candidate urls")
	}
	return nil, "", lastErr
}

// Candidates lists the URLs to try for a: the URL as discovered, the same URL
// with a .jpg extension when it was not already one, then the original path on
// each other mirror host.
func Candidates(a model.Asset) []string {
	out := []string{a.URL}
	format := a.Format
	if format == "" {
		format, _ = model.FormatFromURL(a.URL)
	}
	if format != "" && format != model.CanonicalFormat {
		if swapped := swapExt(a.URL, model.CanonicalFormat.Ext()); swapped != "" && swapped != a.URL {
			out = append(out, swapped)
		}
	}

	u, err := url.Parse(a.URL)
	if err != nil {
		return out
	}
	current := strings.ToLower(u.Hostname())
	for _, mirror := range a.Mirrors {
		if mirror == current {
			continue
		}
		alt := *u
		alt.Host = mirror
		if port := u.Port(); port != "" {
			alt.Host = mirror + ":" + port
		}
		out = append(out, alt.String())
	}
	return out
}

func swapExt(rawURL, ext string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	old := path.Ext(u.Path)
	if old == "" {
		return ""
	}
	u.Path = strings.TrimSuffix(u.Path, old) + ext
	u.RawPath = ""
	return u.String()
}

// FetchCover downloads the cover image, capped at CoverLimit.
func (f *Fetcher) FetchCover(ctx context.Context, rawURL string) ([]byte, error) {
	body, err := f.http.Get(ctx, rawURL, CoverLimit)
	if err != nil {
		return nil, err
	}
	if len(body.Data) == 0 {
		return nil, fmt.Errorf("%w: empty cover", ErrRejected)
	}
	return body.Data, nil
}

// SaveCover writes the cover as {destDir}/cover.jpg. Covers are not size checked.
func (f *Fetcher) SaveCover(data []byte, destDir string) (string, error) {
	canonical, err := Canonicalize(data, false)
	if err != nil {
		return "", err
	}
	target := filepath.Join(destDir, coverName+model.CanonicalFormat.Ext())
	if err := fileutil.WriteBytesAtomic(target, canonical); err != nil {
		return "", fmt.Errorf("%w: %w", ErrPersist, err)
	}
	return target, nil
}
