package discovery

import (
	"context"
	"regexp"

	"github.com/titanous/json5"

	"galleryfetch/internal/adapter"
	"galleryfetch/internal/model"
)

var imageArrayPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)"images"\s*:\s*(\[[^\]]+\])`),
	regexp.MustCompile(`(?i)images\s*=\s*(\[[^\]]+\])`),
	regexp.MustCompile(`(?i)var\s+images\s*=\s*(\[[^\]]+\])`),
}

// scriptStrategy reads an "images" array literal embedded in the page's scripts.
type scriptStrategy struct{}

func (scriptStrategy) Name() string { return "script" }

func (scriptStrategy) Discover(_ context.Context, page *Page, _ *adapter.SiteAdapter) ([]model.Asset, error) {
	for _, re := range imageArrayPatterns {
		m := re.FindSubmatch(page.Raw)
		if m == nil {
			continue
		}
		// JS literals often use single quotes or trailing commas
		var entries []any
		if err := json5.Unmarshal(m[1], &entries); err != nil {
			continue
		}
		var assets []model.Asset
		for _, entry := range entries {
			ref, ok := entry.(string)
			if !ok {
				continue
			}
			resolved := model.ResolveURL(page.URL, ref)
			format, isImage := model.FormatFromURL(resolved)
			if resolved == "" || !isImage {
				continue
			}
			assets = append(assets, model.Asset{URL: resolved, Format: format})
		}
		if len(assets) > 0 {
			return assets, nil
		}
	}
	return nil, nil
}
