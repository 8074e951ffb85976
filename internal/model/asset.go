package model

import (
	"net/url"
	"path"
	"strings"
)

// Format is the image format hint attached to a discovered asset.
type Format string

const (
	FormatJPG  Format = "jpg"
	FormatPNG  Format = "png"
	FormatGIF  Format = "gif"
	FormatWEBP Format = "webp"
)

// CanonicalFormat is the format every persisted asset ends up in.
const CanonicalFormat = FormatJPG

// Ext returns the file extension for the format, including the dot.
func (f Format) Ext() string {
	if f == "" {
		return "." + string(CanonicalFormat)
	}
	return "." + string(f)
}

// FormatFromExt maps a file extension (with or without dot) to a Format.
// The second result is false for extensions that are not images.
func FormatFromExt(ext string) (Format, bool) {
	switch strings.TrimPrefix(strings.ToLower(ext), ".") {
	case "jpg", "jpeg":
		return FormatJPG, true
	case "png":
		return FormatPNG, true
	case "gif":
		return FormatGIF, true
	case "webp":
		return FormatWEBP, true
	}
	return "", false
}

// FormatFromURL inspects the path extension of rawURL.
func FormatFromURL(rawURL string) (Format, bool) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", false
	}
	return FormatFromExt(path.Ext(u.Path))
}

// Asset describes one page image to fetch. Sequence is assigned only once the
// asset has been validated and persisted.
type Asset struct {
	URL      string
	Format   Format
	Mirrors  []string
	Sequence int
}
