package adapter

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const twoSites = `
name: Alpha
language: en
domains: [example.com, alpha.net]
---
name: Beta
language: ja
domains: [cdn.example.com, example.com]
`

func mustParse(t *testing.T, data string) []*SiteAdapter {
	t.Helper()
	adapters, err := Parse("test.yaml", []byte(data))
	require.NoError(t, err)
	return adapters
}

func TestResolveExactThenSuffix(t *testing.T) {
	reg := New(mustParse(t, twoSites)...)

	cases := []struct {
		url  string
		want string
	}{
		{"https://www.example.com/g/42", "Alpha"},
		{"https://EXAMPLE.com:8443/x", "Alpha"},
		// exact match on Beta beats Alpha's suffix match
		{"https://cdn.example.com/1.jpg", "Beta"},
		{"https://img.cdn.example.com/1.jpg", "Beta"},
		{"https://sub.example.com/", "Alpha"},
		{"http://alpha.net", "Alpha"},
	}
	for _, c := range cases {
		got, err := reg.Resolve(c.url)
		require.NoError(t, err, c.url)
		assert.Equal(t, c.want, got.Name, c.url)
	}
}

func TestResolveNoMatchIsSoft(t *testing.T) {
	reg := New(mustParse(t, twoSites)...)

	_, err := reg.Resolve("https://notexample.com/x")
	assert.True(t, errors.Is(err, ErrNotFound))

	_, err = reg.Resolve("not a url")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestResolveTieBrokenByLoadOrder(t *testing.T) {
	first := mustParse(t, "name: First\ndomains: [shared.org]\n")
	second := mustParse(t, "name: Second\ndomains: [shared.org]\n")

	got, err := New(append(first, second...)...).Resolve("https://shared.org/")
	require.NoError(t, err)
	assert.Equal(t, "First", got.Name)

	got, err = New(append(second, first...)...).Resolve("https://a.shared.org/")
	require.NoError(t, err)
	assert.Equal(t, "Second", got.Name)
}

func TestParseRejectsMalformedRecordsIndividually(t *testing.T) {
	data := `
name: Good
domains: good.com, www.also-good.com
---
domains: [nameless.com]
---
name: NoDomains
---
name: BadDomain
domains: ["https://bad.com/path"]
---
name: BadGallery
domains: [gallery.com]
gallery:
  hosts: []
---
name: NoFallback
domains: [nofallback.com]
gallery:
  hosts: [i.nofallback.com]
---
name: Tail
domains: [tail.com]
`
	adapters, err := Parse("mixed.yaml", []byte(data))
	require.Error(t, err)
	assert.ErrorContains(t, err, "NoFallback: gallery: no fallback_host")
	require.Len(t, adapters, 2)
	assert.Equal(t, "Good", adapters[0].Name)
	assert.Equal(t, []string{"good.com", "also-good.com"}, adapters[0].Domains)
	assert.Equal(t, "Tail", adapters[1].Name)
}

func TestParseGalleryDefaults(t *testing.T) {
	adapters := mustParse(t, `
name: G
domains: [g.com]
mirrors: [i.g.com, I2.G.COM]
gallery:
  hosts: [i.g.com, i2.g.com]
  fallback_host: i3.g.com
  unique_id_threshold: 100
`)
	require.Len(t, adapters, 1)
	g := adapters[0].Gallery
	require.NotNil(t, g)
	assert.Equal(t, defaultReaderButton, g.ReaderButton)
	assert.Equal(t, defaultThumbsVar, g.ThumbsVar)
	assert.Equal(t, "i3.g.com", g.FallbackHost)
	assert.EqualValues(t, 100, g.UniqueIDThreshold)
	assert.True(t, adapters[0].HasMirror("i2.g.com"))
	assert.False(t, adapters[0].HasMirror("x.g.com"))
}

func TestLoadDirSortedAndTolerant(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.yaml"), []byte("name: B\ndomains: [same.com]\n"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.yml"), []byte("name: A\ndomains: [same.com]\n"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "c.yaml"), []byte("name: [broken\n"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o600))

	reg, err := Load(dir)
	require.NoError(t, err)
	require.Len(t, reg.All(), 2)

	got, err := reg.Resolve("https://same.com")
	require.NoError(t, err)
	assert.Equal(t, "A", got.Name)
}

func TestLoadMissingDir(t *testing.T) {
	reg, err := Load(filepath.Join(t.TempDir(), "missing"))
	require.NoError(t, err)
	assert.Empty(t, reg.All())
}

func TestNormalizeHost(t *testing.T) {
	assert.Equal(t, "example.com", NormalizeHost("WWW.Example.com:80"))
	assert.Equal(t, "example.com", NormalizeHost("example.com."))
	assert.Equal(t, "wwwexample.com", NormalizeHost("wwwexample.com"))
}
