package file

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSanitizeTitle(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"Demo Vol. 1", "Demo Vol. 1"},
		{"  a:b*c?  d\t\te ", "abc d e"},
		{`<>:"/\|?*`, "Unknown"},
		{"", "Unknown"},
		{"..", "Unknown"},
	}
	for _, c := range cases {
		if got := SanitizeTitle(c.in); got != c.want {
			t.Fatalf("SanitizeTitle(%q)=%q want %q", c.in, got, c.want)
		}
	}

	long := strings.Repeat("x", 250)
	if got := SanitizeTitle(long); len([]rune(got)) != MaxTitleRunes {
		t.Fatalf("expected %d runes, got %d", MaxTitleRunes, len([]rune(got)))
	}
}

func TestCleanTitleKeepsEmpty(t *testing.T) {
	if got := CleanTitle(" \t?* "); got != "" {
		t.Fatalf("CleanTitle should not invent a title, got %q", got)
	}
	if got := CleanTitle("a\x00b  ..c"); got != "a b ..c" {
		t.Fatalf("CleanTitle(%q)=%q", "a\x00b  ..c", got)
	}
}

func TestWriteBytesAtomicReplacesFile(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "nested", "1.jpg")
	if err := WriteBytesAtomic(dest, []byte("first")); err != nil {
		t.Fatalf("first write: %v", err)
	}
	if err := WriteBytesAtomic(dest, []byte("second")); err != nil {
		t.Fatalf("second write: %v", err)
	}
	got, err := os.ReadFile(dest)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(got) != "second" {
		t.Fatalf("unexpected content %q", got)
	}

	entries, _ := os.ReadDir(filepath.Dir(dest))
	if len(entries) != 1 {
		t.Fatalf("expected no temp files left behind, got %d entries", len(entries))
	}
}

func TestWriteJSONAtomic(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "status.json")
	if err := WriteJSONAtomic(dest, map[string]int{"n": 1}); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, _ := os.ReadFile(dest)
	if !strings.Contains(string(got), `"n": 1`) {
		t.Fatalf("unexpected json %q", got)
	}
}

func TestEnsureDirEmptyPath(t *testing.T) {
	if err := EnsureDir(""); err == nil {
		t.Fatalf("expected error for empty path")
	}
}
