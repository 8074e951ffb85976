package discovery

import (
	"context"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"

	"galleryfetch/internal/adapter"
	"galleryfetch/internal/model"
)

const (
	minDeclaredSize = 300
	ancestorDepth   = 3
	minPathSegments = 5
)

// containerSelectors are tried in order; the first one with matches wins.
var containerSelectors = compileAll(
	`#readerarea img`,
	`#reader img`,
	`.reader img`,
	`.viewer img`,
	`#viewer img`,
	`#image-container img`,
	`.image-container img`,
	`#chapter-images img`,
	`.chapter-images img`,
	`#pages img`,
	`.pages img`,
	`[id*="reader"] img`,
	`[class*="reader"] img`,
	`[id*="viewer"] img`,
	`[class*="viewer"] img`,
)

var sourceAttrs = []string{"src", "data-src", "data-lazy-src", "data-original"}

// blockedWords are matched against whole words of the URL and of class/id values.
var blockedWords = toSet(
	"icon", "logo", "avatar", "button", "banner", "ad", "ads", "advert",
	"thumbnail", "thumb", "thumbs", "cover", "poster", "preview", "sample",
	"related", "similar", "recommend", "header", "footer", "sidebar",
	"nav", "navbar", "menu", "sprite", "emoji",
)

var (
	blockedPathParts = []string{"/thumb", "/cover", "/preview"}
	pageNumberRe     = regexp.MustCompile(`(?i)/\d+\.(jpe?g|png|gif|webp)$|page[-_]?\d+|/p\d+|_\d+\.(jpe?g|png|gif|webp)$`)
	imagePathRe      = regexp.MustCompile(`(?i)/(i\d*|cdn|img|images|static)/`)
	imageHostRe      = regexp.MustCompile(`(?i)^(i\d*|cdn\d*|img\d*|images?\d*|static\d*)\.`)
)

// heuristicStrategy scores <img> elements of the entry page itself.
type heuristicStrategy struct{}

func (heuristicStrategy) Name() string { return "dom" }

func (heuristicStrategy) Discover(_ context.Context, page *Page, _ *adapter.SiteAdapter) ([]model.Asset, error) {
	return collectImages(page, false), nil
}

// collectImages returns page images that look like gallery pages. With
// restricted set, only images inside a known reader container are considered.
func collectImages(page *Page, restricted bool) []model.Asset {
	images := containerImages(page.Doc)
	if images.Length() == 0 {
		if restricted {
			return nil
		}
		images = page.Doc.Find("img")
	}

	var assets []model.Asset
	images.Each(func(_ int, img *goquery.Selection) {
		if a, ok := pageImage(page.URL, img); ok {
			assets = append(assets, a)
		}
	})
	return assets
}

func containerImages(doc *goquery.Document) *goquery.Selection {
	for _, sel := range containerSelectors {
		if found := doc.FindMatcher(sel); found.Length() > 0 {
			return found
		}
	}
	return doc.Selection.Slice(0, 0)
}

func pageImage(base *url.URL, img *goquery.Selection) (model.Asset, bool) {
	resolved := imageURL(base, img)
	if resolved == "" {
		return model.Asset{}, false
	}
	format, isImage := model.FormatFromURL(resolved)
	if !isImage {
		return model.Asset{}, false
	}
	u, err := url.Parse(resolved)
	if err != nil {
		return model.Asset{}, false
	}

	if hasBlockedWord(u.Host+" "+u.Path) || blockedByMarkup(img) || tooSmall(img) {
		return model.Asset{}, false
	}
	lowerPath := strings.ToLower(u.Path)
	if containsAny(lowerPath, blockedPathParts) {
		return model.Asset{}, false
	}
	if !pageNumberRe.MatchString(u.Path) && !imagePathRe.MatchString(u.Path) &&
		!imageHostRe.MatchString(u.Hostname()) && pathSegments(u.Path) < minPathSegments {
		return model.Asset{}, false
	}
	return model.Asset{URL: resolved, Format: format}, true
}

// imageURL returns the first source attribute that resolves to an http(s) URL,
// so inline placeholders in src do not hide a lazy-load attribute.
func imageURL(base *url.URL, img *goquery.Selection) string {
	for _, attr := range sourceAttrs {
		if resolved := model.ResolveURL(base, img.AttrOr(attr, "")); resolved != "" {
			return resolved
		}
	}
	return ""
}

// blockedByMarkup checks the image's own class/id and those of its three closest ancestors.
func blockedByMarkup(img *goquery.Selection) bool {
	node := img
	for depth := 0; depth <= ancestorDepth && node.Length() > 0; depth++ {
		if hasBlockedWord(node.AttrOr("class", "") + " " + node.AttrOr("id", "")) {
			return true
		}
		node = node.Parent()
	}
	return false
}

func tooSmall(img *goquery.Selection) bool {
	width, okW := declaredSize(img, "width")
	height, okH := declaredSize(img, "height")
	return okW && okH && (width < minDeclaredSize || height < minDeclaredSize)
}

func declaredSize(img *goquery.Selection, attr string) (int, bool) {
	raw, ok := img.Attr(attr)
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimSuffix(strings.TrimSpace(raw), "px"))
	if err != nil {
		return 0, false
	}
	return n, true
}

func hasBlockedWord(s string) bool {
	words := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, w := range words {
		if _, blocked := blockedWords[w]; blocked {
			return true
		}
	}
	return false
}

func pathSegments(p string) int {
	n := 0
	for _, seg := range strings.Split(p, "/") {
		if seg != "" {
			n++
		}
	}
	return n
}

func compileAll(selectors ...string) []cascadia.Selector {
	out := make([]cascadia.Selector, 0, len(selectors))
	for _, s := range selectors {
		out = append(out, cascadia.MustCompile(s))
	}
	return out
}

func toSet(words ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	return set
}
