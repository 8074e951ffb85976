package file

import (
	"strings"
	"unicode"
)

const (
	// MaxTitleRunes caps titles and the folder names built from them.
	MaxTitleRunes = 200
	unknownTitle  = "Unknown"
)

// CleanTitle replaces control characters with spaces, drops characters that
// are illegal on common filesystems, collapses whitespace runs and caps the
// result at MaxTitleRunes. It may return an empty string.
func CleanTitle(title string) string {
	cleaned := strings.Map(func(r rune) rune {
		switch {
		case strings.ContainsRune(`<>:"/\|?*`, r):
			return -1
		case unicode.IsControl(r):
			return ' '
		}
		return r
	}, title)
	cleaned = strings.Join(strings.Fields(cleaned), " ")

	if runes := []rune(cleaned); len(runes) > MaxTitleRunes {
		cleaned = strings.TrimSpace(string(runes[:MaxTitleRunes]))
	}
	return cleaned
}

// SanitizeTitle turns a display title into a single safe path segment. It is
// CleanTitle plus an "Unknown" fallback for empty results.
func SanitizeTitle(title string) string {
	// "." and ".." would escape or alias the download root
	cleaned := strings.Trim(CleanTitle(title), ". ")
	if cleaned == "" {
		return unknownTitle
	}
	return cleaned
}
