package model

import (
	"net/url"
	"strings"
)

// ResolveURL resolves href against base and returns an absolute http(s) URL
// without fragment. Non-navigable references (mailto, javascript, data, bare
// fragments) and anything that does not end up http(s) yield "".
func ResolveURL(base *url.URL, href string) string {
	href = strings.TrimSpace(href)
	lower := strings.ToLower(href)
	if href == "" || strings.HasPrefix(href, "#") ||
		strings.HasPrefix(lower, "mailto:") || strings.HasPrefix(lower, "javascript:") ||
		strings.HasPrefix(lower, "tel:") || strings.HasPrefix(lower, "data:") {
		return ""
	}

	parsed, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if base != nil {
		parsed = base.ResolveReference(parsed)
	}
	if !IsHTTP(parsed) {
		return ""
	}
	parsed.Fragment = ""
	return parsed.String()
}

// IsHTTP reports whether u is an absolute http or https URL with a host.
func IsHTTP(u *url.URL) bool {
	return u != nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
