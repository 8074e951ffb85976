package adapter

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// Registry resolves URLs to adapters. Adapters keep their load order, which
// breaks ties when more than one adapter matches at the same tier.
type Registry struct {
	adapters []*SiteAdapter
}

// New builds a registry from already validated adapters, in the given order.
func New(adapters ...*SiteAdapter) *Registry {
	return &Registry{adapters: append([]*SiteAdapter(nil), adapters...)}
}

// Load reads every *.yaml / *.yml file in dir, sorted by file name. Records that
// fail validation are logged and skipped. A missing directory yields an empty registry.
func Load(dir string) (*Registry, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			log.Warn().Str("dir", dir).Msg("adapters dir not found; no site adapters loaded")
			return New(), nil
		}
		return nil, fmt.Errorf("read adapters dir: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if e.IsDir() || (ext != ".yaml" && ext != ".yml") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	reg := New()
	for _, name := range names {
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path) //nolint:gosec // adapters dir is controlled by deployment
		if err != nil {
			log.Warn().Str("file", path).Err(err).Msg("read adapter file failed")
			continue
		}
		loaded, err := Parse(name, data)
		if err != nil {
			log.Warn().Str("file", path).Err(err).Msg("some adapter records were rejected")
		}
		reg.adapters = append(reg.adapters, loaded...)
	}
	log.Info().Int("count", len(reg.adapters)).Str("dir", dir).Msg("site adapters loaded")
	return reg, nil
}

// Parse decodes one or more YAML documents. Valid records are returned in
// document order; rejected records are reported through the joined error.
func Parse(source string, data []byte) ([]*SiteAdapter, error) {
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	var (
		out  []*SiteAdapter
		errs []error
	)
	for index := 0; ; index++ {
		var doc yaml.Node
		if err := decoder.Decode(&doc); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			// a syntax error leaves the decoder unusable for the rest of the stream
			errs = append(errs, fmt.Errorf("%s#%d: %w", source, index, err))
			break
		}
		var rec record
		if err := doc.Decode(&rec); err != nil {
			errs = append(errs, fmt.Errorf("%s#%d: %w", source, index, err))
			continue
		}
		built, err := rec.build()
		if err != nil {
			errs = append(errs, fmt.Errorf("%s#%d: %w", source, index, err))
			continue
		}
		out = append(out, built)
	}
	return out, errors.Join(errs...)
}

// All returns the adapters in load order.
func (r *Registry) All() []*SiteAdapter {
	return append([]*SiteAdapter(nil), r.adapters...)
}

// Resolve matches the URL host against every adapter's domains, exact matches
// first, then subdomain matches. The earliest loaded adapter wins within a tier.
func (r *Registry) Resolve(rawURL string) (*SiteAdapter, error) {
	host := hostOf(rawURL)
	if host == "" {
		return nil, fmt.Errorf("%w: no host in %q", ErrNotFound, rawURL)
	}
	for _, a := range r.adapters {
		for _, d := range a.Domains {
			if host == d {
				return a, nil
			}
		}
	}
	for _, a := range r.adapters {
		for _, d := range a.Domains {
			if strings.HasSuffix(host, "."+d) {
				return a, nil
			}
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, host)
}

// NormalizeHost lower-cases the host, drops any port and a leading "www.".
func NormalizeHost(host string) string {
	host = strings.ToLower(strings.TrimSpace(host))
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.TrimSuffix(host, ".")
	return strings.TrimPrefix(host, "www.")
}

func hostOf(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return ""
	}
	return NormalizeHost(u.Host)
}
