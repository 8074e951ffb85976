package discovery

import (
	"context"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"galleryfetch/internal/adapter"
	"galleryfetch/internal/model"
)

// readerLinkStrategy follows a generic "read"/"view" link and collects images
// from the reader container of the linked page.
type readerLinkStrategy struct {
	pages PageFetcher
}

func (*readerLinkStrategy) Name() string { return "reader-link" }

func (r *readerLinkStrategy) Discover(ctx context.Context, page *Page, _ *adapter.SiteAdapter) ([]model.Asset, error) {
	readerURL := findReaderLink(page)
	if readerURL == "" {
		return nil, nil
	}
	reader, err := fetchPage(ctx, r.pages, readerURL)
	if err != nil {
		return nil, err
	}
	return collectImages(reader, true), nil
}

// findReaderLink prefers anchors labelled read/view, then anchors or buttons
// whose class mentions read/view.
func findReaderLink(page *Page) string {
	byText := page.Doc.Find("a[href]").FilterFunction(func(_ int, s *goquery.Selection) bool {
		return mentionsReader(s.Text())
	})
	if href := resolvedHref(page, byText); href != "" {
		return href
	}
	byClass := page.Doc.Find("a, button").FilterFunction(func(_ int, s *goquery.Selection) bool {
		return mentionsReader(s.AttrOr("class", ""))
	})
	return resolvedHref(page, byClass)
}

func mentionsReader(s string) bool {
	s = strings.ToLower(s)
	return strings.Contains(s, "read") || strings.Contains(s, "view")
}
