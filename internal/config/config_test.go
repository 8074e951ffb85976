package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.Port == 0 || cfg.DataDir == "" || cfg.MaxConcurrentDownloads < 1 || cfg.RetryLimit != 3 {
		t.Fatalf("default config invalid: %+v", cfg)
	}
	if cfg.Addr() != ":8080" {
		t.Fatalf("unexpected addr %q", cfg.Addr())
	}
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "not_exists.yml"))
	if err != nil {
		t.Fatalf("expected no error for missing file, got %v", err)
	}
	if cfg.MaxConcurrentDownloads != defaultMaxConcurrentDownloads || cfg.HTTP.Timeout != 30*time.Second {
		t.Fatalf("expected defaults, got %+v", cfg)
	}
}

func TestLoadReadsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.yml")
	content := []byte(`port: 9090
data_dir: testdata
download_root: /srv/galleries
max_concurrent_downloads: 4
retry_limit: 5
page_delay: 250ms
http:
  timeout: 10s
  retry_count: 1
log:
  level: DEBUG
  path: logs/app.log
`)
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != 9090 || cfg.DataDir != "testdata" || cfg.DownloadRoot != "/srv/galleries" {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}
	if cfg.MaxConcurrentDownloads != 4 || cfg.RetryLimit != 5 || cfg.PageDelay != 250*time.Millisecond {
		t.Fatalf("unexpected scheduler cfg: %+v", cfg)
	}
	if cfg.HTTP.Timeout != 10*time.Second || cfg.HTTP.RetryCount != 1 || cfg.HTTP.RetryWait != 300*time.Millisecond {
		t.Fatalf("unexpected http cfg: %+v", cfg.HTTP)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Path != "logs/app.log" || cfg.Log.Format != "console" {
		t.Fatalf("unexpected log cfg: %+v", cfg.Log)
	}
}

func TestLoadClampsInvalidValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.yml")
	content := []byte("max_concurrent_downloads: 0\nretry_limit: -2\nport: -1\n")
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.MaxConcurrentDownloads != 1 || cfg.RetryLimit != 0 || cfg.Port != defaultPort {
		t.Fatalf("values not clamped: %+v", cfg)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("GALLERYFETCH_MAX_CONCURRENT_DOWNLOADS", "7")
	t.Setenv("GALLERYFETCH_HTTP_USER_AGENT", "galleryfetch-test")

	cfg, err := Load(filepath.Join(t.TempDir(), "none.yml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.MaxConcurrentDownloads != 7 || cfg.HTTP.UserAgent != "galleryfetch-test" {
		t.Fatalf("env not applied: %+v", cfg)
	}
}

func TestLoadRejectsBrokenYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.yml")
	if err := os.WriteFile(path, []byte("port: [1, 2\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for malformed yaml")
	}
}
