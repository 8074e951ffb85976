// Package metadata derives a display title, an expected page count and a cover
// image from a gallery entry page.
package metadata

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/html"
	"golang.org/x/text/unicode/norm"

	"galleryfetch/internal/adapter"
	fileutil "galleryfetch/internal/file"
	"galleryfetch/internal/httpx"
	"galleryfetch/internal/model"
)

const (
	defaultPageCount     = 1
	maxShortBlockRunes   = 100
	maxShortBlockChecked = 10
	defaultPageMarker    = `span[class*="pages"]`
)

var (
	labelledPagesRe = regexp.MustCompile(`(?i)pages?\s*:\s*(\d+)`)
	countedPagesRe  = regexp.MustCompile(`(?i)(\d+)\s*pages?`)
	firstNumberRe   = regexp.MustCompile(`\d+`)

	coverSelectors = []string{
		`img.cover`,
		`img[class*="cover"]`,
		`img[class*="thumbnail"]`,
		`img[class*="thumb"]`,
		`.cover img`,
		`.thumbnail img`,
		`.thumb img`,
		`meta[property="og:image"]`,
		`meta[name="twitter:image"]`,
	}
)

// Info is the metadata derived from an entry page.
type Info struct {
	Title     string
	PageCount int
	CoverURL  string
}

// PageFetcher fetches HTML documents.
type PageFetcher interface {
	GetPage(ctx context.Context, rawURL string) (*httpx.Body, error)
}

// Extractor fetches an entry page and runs the title, page count and cover heuristics on it.
type Extractor struct {
	pages PageFetcher
}

func NewExtractor(pages PageFetcher) *Extractor {
	return &Extractor{pages: pages}
}

// Extract fetches rawURL once. Network and HTTP failures are returned as *httpx.FetchError.
// The adapter may be nil.
func (e *Extractor) Extract(ctx context.Context, rawURL string, site *adapter.SiteAdapter) (Info, error) {
	body, err := e.pages.GetPage(ctx, rawURL)
	if err != nil {
		return Info{}, err //nolint:wrapcheck // FetchError already names the url
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body.Data))
	if err != nil {
		return Info{}, fmt.Errorf("parse html: %w", err)
	}
	info := FromDocument(doc, body.URL, site)
	log.Debug().Str("url", rawURL).Str("title", info.Title).Int("pages", info.PageCount).
		Str("cover", info.CoverURL).Msg("metadata extracted")
	return info, nil
}

// FromDocument applies the heuristics to an already parsed page.
func FromDocument(doc *goquery.Document, pageURL string, site *adapter.SiteAdapter) Info {
	base, _ := url.Parse(pageURL)
	return Info{
		Title:     Title(doc, base),
		PageCount: PageCount(doc, site),
		CoverURL:  CoverURL(doc, base),
	}
}

// Title tries the first h1, then the document title without its site suffix,
// then the last URL path segment.
func Title(doc *goquery.Document, pageURL *url.URL) string {
	if t := NormalizeTitle(doc.Find("h1").First().Text()); t != "" {
		return t
	}
	raw := doc.Find("title").First().Text()
	for _, sep := range []string{" - ", " | "} {
		if before, _, found := strings.Cut(raw, sep); found {
			raw = before
		}
	}
	if t := NormalizeTitle(raw); t != "" {
		return t
	}
	if pageURL == nil {
		return ""
	}
	segments := strings.Split(strings.Trim(pageURL.Path, "/"), "/")
	last := segments[len(segments)-1]
	if unescaped, err := url.PathUnescape(last); err == nil {
		last = unescaped
	}
	if t := NormalizeTitle(last); t != "" {
		return t
	}
	return NormalizeTitle(pageURL.Hostname())
}

// NormalizeTitle composes the text to NFC, then cleans it like a folder name
// (control characters, illegal characters, whitespace runs, length cap).
func NormalizeTitle(s string) string {
	return fileutil.CleanTitle(norm.NFC.String(s))
}

// PageCount returns the first positive count found by the adapter marker, a
// "pages: N" text node or a short "N pages" block. It never returns less than 1.
func PageCount(doc *goquery.Document, site *adapter.SiteAdapter) int {
	if site != nil {
		if n := markerPageCount(doc, site); n > 0 {
			return n
		}
	}
	if n := labelledPageCount(doc); n > 0 {
		return n
	}
	if n := shortBlockPageCount(doc); n > 0 {
		return n
	}
	return defaultPageCount
}

func markerPageCount(doc *goquery.Document, site *adapter.SiteAdapter) int {
	selector := site.PageCountSelector
	if selector == "" {
		selector = defaultPageMarker
	}
	count := 0
	doc.Find(selector).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		text := s.Text()
		idx := strings.LastIndex(text, ":")
		if idx < 0 {
			return true
		}
		count = atoiPositive(firstNumberRe.FindString(text[idx+1:]))
		return count == 0
	})
	return count
}

func labelledPageCount(doc *goquery.Document) int {
	count := 0
	for _, root := range doc.Nodes {
		walkText(root, func(text string) bool {
			if m := labelledPagesRe.FindStringSubmatch(text); m != nil {
				count = atoiPositive(m[1])
			}
			return count == 0
		})
		if count > 0 {
			break
		}
	}
	return count
}

func shortBlockPageCount(doc *goquery.Document) int {
	count, checked := 0, 0
	doc.Find("span, div, p").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		text := strings.TrimSpace(s.Text())
		if !strings.Contains(strings.ToLower(text), "page") || len([]rune(text)) > maxShortBlockRunes {
			return true
		}
		checked++
		if m := countedPagesRe.FindStringSubmatch(text); m != nil {
			count = atoiPositive(m[1])
		}
		return count == 0 && checked < maxShortBlockChecked
	})
	return count
}

// walkText visits text nodes in document order, skipping script and style
// content, until visit returns false.
func walkText(n *html.Node, visit func(string) bool) bool {
	if n.Type == html.ElementNode && (n.Data == "script" || n.Data == "style") {
		return true
	}
	if n.Type == html.TextNode {
		return visit(n.Data)
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if !walkText(c, visit) {
			return false
		}
	}
	return true
}

func atoiPositive(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return 0
	}
	return n
}

// CoverURL finds a cover or thumbnail image for the gallery, or "".
func CoverURL(doc *goquery.Document, pageURL *url.URL) string {
	for _, selector := range coverSelectors {
		found := ""
		doc.Find(selector).EachWithBreak(func(_ int, s *goquery.Selection) bool {
			ref := s.AttrOr("content", "")
			if goquery.NodeName(s) == "img" {
				ref = imageSource(s)
			}
			found = model.ResolveURL(pageURL, ref)
			return found == ""
		})
		if found != "" {
			return found
		}
	}

	found := ""
	doc.Find("img").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		src := imageSource(s)
		name := strings.ToLower(src)
		if strings.Contains(name, "cover") || strings.Contains(name, "thumb") || strings.Contains(name, "poster") {
			found = model.ResolveURL(pageURL, src)
		}
		return found == ""
	})
	return found
}

func imageSource(s *goquery.Selection) string {
	for _, attr := range []string{"src", "data-src", "data-lazy-src", "data-original"} {
		if v := strings.TrimSpace(s.AttrOr(attr, "")); v != "" {
			return v
		}
	}
	return ""
}
