package discovery

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/titanous/json5"

	"galleryfetch/internal/adapter"
	"galleryfetch/internal/model"
)

var (
	galleryMarkers = []string{"/g/", "/gallery/"}
	thumbUnescaper = strings.NewReplacer(`\"`, `"`, `\'`, `'`, `\/`, `/`)
)

// galleryStrategy handles sites whose reader page carries image_dir, gallery_id
// and unique_id inputs plus a JSON map of page number to "ext,width,height".
// Image URLs are synthesized from those values instead of scraped.
type galleryStrategy struct {
	pages    PageFetcher
	pickHost func(n int) int
}

func (*galleryStrategy) Name() string { return "gallery" }

func (g *galleryStrategy) Discover(ctx context.Context, page *Page, site *adapter.SiteAdapter) ([]model.Asset, error) {
	if site == nil || site.Gallery == nil {
		return nil, nil
	}
	readerURL := findGalleryReader(page, site.Gallery)
	if readerURL == "" {
		return nil, nil
	}
	reader, err := fetchPage(ctx, g.pages, readerURL)
	if err != nil {
		return nil, err
	}

	imageDir := strings.Trim(inputValue(reader.Doc, "image_dir"), "/ ")
	galleryID := strings.Trim(inputValue(reader.Doc, "gallery_id"), "/ ")
	if imageDir == "" || galleryID == "" {
		return nil, nil
	}
	uniqueID, _ := strconv.ParseInt(inputValue(reader.Doc, "unique_id"), 10, 64)

	thumbs, err := parseThumbs(string(reader.Raw), site.Gallery.ThumbsVar)
	if err != nil {
		return nil, err
	}
	if len(thumbs) == 0 {
		return nil, nil
	}

	host := g.chooseHost(site.Gallery, uniqueID)
	assets := make([]model.Asset, 0, len(thumbs))
	for _, th := range thumbs {
		assets = append(assets, model.Asset{
			URL:    fmt.Sprintf("https://%s/%s/%s/%d%s", host, imageDir, galleryID, th.page, th.format.Ext()),
			Format: th.format,
		})
	}
	return assets, nil
}

func (g *galleryStrategy) chooseHost(cfg *adapter.Gallery, uniqueID int64) string {
	if cfg.FallbackHost != "" && uniqueID > cfg.UniqueIDThreshold {
		return cfg.FallbackHost
	}
	if len(cfg.Hosts) == 1 || g.pickHost == nil {
		return cfg.Hosts[0]
	}
	idx := g.pickHost(len(cfg.Hosts))
	if idx < 0 || idx >= len(cfg.Hosts) {
		idx = 0
	}
	return cfg.Hosts[idx]
}

// findGalleryReader looks for the reader link, in order: the adapter's button
// selector, a "read online" anchor, a read/online anchor into a gallery path,
// and finally any /g/ link that is not a gallery index.
func findGalleryReader(page *Page, cfg *adapter.Gallery) string {
	if href := resolvedHref(page, page.Doc.Find(cfg.ReaderButton)); href != "" {
		return href
	}

	anchors := page.Doc.Find("a[href]")
	tiers := []func(text, href string) bool{
		func(text, _ string) bool {
			return strings.Contains(text, "read") && strings.Contains(text, "online")
		},
		func(text, href string) bool {
			return (strings.Contains(text, "read") || strings.Contains(text, "online")) && containsAny(href, galleryMarkers)
		},
		func(_, href string) bool {
			return strings.Contains(href, "/g/") && !strings.Contains(href, "/gallery/")
		},
	}
	for _, match := range tiers {
		matched := anchors.FilterFunction(func(_ int, s *goquery.Selection) bool {
			return match(strings.ToLower(strings.TrimSpace(s.Text())), s.AttrOr("href", ""))
		})
		if href := resolvedHref(page, matched); href != "" {
			return href
		}
	}
	return ""
}

// resolvedHref returns the first href in sel that resolves to a page other than the current one.
func resolvedHref(page *Page, sel *goquery.Selection) string {
	current := page.URL.String()
	found := ""
	sel.EachWithBreak(func(_ int, s *goquery.Selection) bool {
		href := s.AttrOr("href", "")
		if href == "" {
			href = s.AttrOr("data-href", "")
		}
		if resolved := model.ResolveURL(page.URL, href); resolved != "" && resolved != current {
			found = resolved
		}
		return found == ""
	})
	return found
}

func inputValue(doc *goquery.Document, name string) string {
	sel := doc.Find(fmt.Sprintf(`input[name=%q], input#%s`, name, name)).First()
	return strings.TrimSpace(sel.AttrOr("value", ""))
}

type thumb struct {
	page   int
	format model.Format
}

// thumbPatterns are tried in order against the raw reader markup.
func thumbPatterns(varName string) []*regexp.Regexp {
	v := regexp.QuoteMeta(varName)
	return []*regexp.Regexp{
		regexp.MustCompile(`var\s+` + v + `\s*=\s*\$\.parseJSON\('(.+?)'\);`),
		regexp.MustCompile(`var\s+` + v + `\s*=\s*JSON\.parse\('(.+?)'\);`),
		regexp.MustCompile(v + `\s*=\s*\$\.parseJSON\('(.+?)'\);`),
		regexp.MustCompile(v + `\s*=\s*JSON\.parse\('(.+?)'\);`),
	}
}

// parseThumbs extracts the page map and returns pages sorted numerically.
// Keys that are not page numbers are ignored.
func parseThumbs(markup, varName string) ([]thumb, error) {
	var literal string
	for _, re := range thumbPatterns(varName) {
		if m := re.FindStringSubmatch(markup); m != nil {
			literal = m[1]
			break
		}
	}
	if literal == "" {
		return nil, nil
	}

	var entries map[string]any
	if err := json5.Unmarshal([]byte(thumbUnescaper.Replace(literal)), &entries); err != nil {
		return nil, fmt.Errorf("parse %s: %w", varName, err)
	}

	out := make([]thumb, 0, len(entries))
	for key, value := range entries {
		n, err := strconv.Atoi(strings.TrimSpace(key))
		if err != nil || n < 1 {
			continue
		}
		code := "j"
		if s, ok := value.(string); ok {
			code, _, _ = strings.Cut(s, ",")
		}
		out = append(out, thumb{page: n, format: formatFromCode(strings.TrimSpace(code))})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].page < out[j].page })
	return out, nil
}

func formatFromCode(code string) model.Format {
	switch strings.ToLower(code) {
	case "p":
		return model.FormatPNG
	case "g":
		return model.FormatGIF
	case "w":
		return model.FormatWEBP
	default:
		return model.FormatJPG
	}
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
