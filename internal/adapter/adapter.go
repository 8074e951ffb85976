// Package adapter loads declarative site adapter records and resolves entry URLs to them.
package adapter

import (
	"errors"
	"fmt"
	"strings"

	"github.com/andybalholm/cascadia"
	"gopkg.in/yaml.v3"
)

// ErrNotFound is returned by Registry.Resolve when no adapter lists the URL's host.
// Callers treat it as a soft failure.
var ErrNotFound = errors.New("adapter not found")

const (
	defaultReaderButton = `a[class*="g_button"]`
	defaultThumbsVar    = "g_th"
)

// SiteAdapter binds a set of domains to site specific behavior. Values are
// built once by the registry and shared read-only between tasks.
type SiteAdapter struct {
	Name              string
	Language          string
	Domains           []string
	Mirrors           []string
	PageCountSelector string
	Gallery           *Gallery
}

// Gallery configures the structured reader strategy for sites that publish an
// image directory, gallery id and a thumbnail extension map on their reader page.
type Gallery struct {
	ReaderButton      string
	ThumbsVar         string
	Hosts             []string
	FallbackHost      string
	UniqueIDThreshold int64
}

// HasMirror reports whether host is one of the adapter's mirror hosts.
func (a *SiteAdapter) HasMirror(host string) bool {
	if a == nil {
		return false
	}
	host = strings.ToLower(host)
	for _, m := range a.Mirrors {
		if m == host {
			return true
		}
	}
	return false
}

// domainList accepts either a YAML sequence or a single comma separated scalar.
type domainList []string

func (d *domainList) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		*d = strings.Split(value.Value, ",")
		return nil
	case yaml.SequenceNode:
		var arr []string
		if err := value.Decode(&arr); err != nil {
			return err
		}
		*d = arr
		return nil
	default:
		return fmt.Errorf("cannot unmarshal %v into domain list", value.Kind)
	}
}

type record struct {
	Name              string         `yaml:"name"`
	Language          string         `yaml:"language"`
	Domains           domainList     `yaml:"domains"`
	Mirrors           domainList     `yaml:"mirrors"`
	PageCountSelector string         `yaml:"page_count_selector"`
	Gallery           *galleryRecord `yaml:"gallery"`
}

type galleryRecord struct {
	ReaderButton      string     `yaml:"reader_button"`
	ThumbsVar         string     `yaml:"thumbs_var"`
	Hosts             domainList `yaml:"hosts"`
	FallbackHost      string     `yaml:"fallback_host"`
	UniqueIDThreshold int64      `yaml:"unique_id_threshold"`
}

// build validates the record and converts it to an immutable SiteAdapter.
func (r record) build() (*SiteAdapter, error) {
	name := strings.TrimSpace(r.Name)
	if name == "" {
		return nil, errors.New("missing name")
	}
	domains, err := normalizeDomains(r.Domains)
	if err != nil {
		return nil, fmt.Errorf("%s: domains: %w", name, err)
	}
	if len(domains) == 0 {
		return nil, fmt.Errorf("%s: no domains", name)
	}
	mirrors, err := normalizeDomains(r.Mirrors)
	if err != nil {
		return nil, fmt.Errorf("%s: mirrors: %w", name, err)
	}
	if r.PageCountSelector != "" {
		if _, err := cascadia.Compile(r.PageCountSelector); err != nil {
			return nil, fmt.Errorf("%s: page_count_selector: %w", name, err)
		}
	}

	out := &SiteAdapter{
		Name:              name,
		Language:          strings.TrimSpace(r.Language),
		Domains:           domains,
		Mirrors:           mirrors,
		PageCountSelector: r.PageCountSelector,
	}
	if r.Gallery != nil {
		g, err := r.Gallery.build()
		if err != nil {
			return nil, fmt.Errorf("%s: gallery: %w", name, err)
		}
		out.Gallery = g
	}
	return out, nil
}

func (g galleryRecord) build() (*Gallery, error) {
	hosts, err := normalizeDomains(g.Hosts)
	if err != nil {
		return nil, fmt.Errorf("hosts: %w", err)
	}
	if len(hosts) == 0 {
		return nil, errors.New("no hosts")
	}
	out := &Gallery{
		ReaderButton:      g.ReaderButton,
		ThumbsVar:         g.ThumbsVar,
		Hosts:             hosts,
		UniqueIDThreshold: g.UniqueIDThreshold,
	}
	if out.ReaderButton == "" {
		out.ReaderButton = defaultReaderButton
	}
	if _, err := cascadia.Compile(out.ReaderButton); err != nil {
		return nil, fmt.Errorf("reader_button: %w", err)
	}
	if out.ThumbsVar == "" {
		out.ThumbsVar = defaultThumbsVar
	}
	if strings.TrimSpace(g.FallbackHost) == "" {
		return nil, errors.New("no fallback_host")
	}
	fb, err := normalizeDomain(g.FallbackHost)
	if err != nil {
		return nil, fmt.Errorf("fallback_host: %w", err)
	}
	out.FallbackHost = fb
	return out, nil
}

func normalizeDomains(in []string) ([]string, error) {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, raw := range in {
		if strings.TrimSpace(raw) == "" {
			continue
		}
		d, err := normalizeDomain(raw)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[d]; dup {
			continue
		}
		seen[d] = struct{}{}
		out = append(out, d)
	}
	return out, nil
}

func normalizeDomain(raw string) (string, error) {
	d := strings.ToLower(strings.TrimSpace(raw))
	if strings.ContainsAny(d, "/: \t") || strings.Contains(d, "..") {
		return "", fmt.Errorf("malformed domain %q", raw)
	}
	d = strings.TrimSuffix(strings.TrimPrefix(d, "www."), ".")
	if d == "" || strings.HasPrefix(d, ".") {
		return "", fmt.Errorf("malformed domain %q", raw)
	}
	return d, nil
}
