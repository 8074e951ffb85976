package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	defaultPort                   = 8080
	defaultDataDir                = "data"
	defaultDownloadRoot           = "Downloads"
	defaultAdaptersDir            = "adapters"
	defaultMaxConcurrentDownloads = 10
	defaultRetryLimit             = 3
	defaultUserAgent              = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"

	envPrefix = "GALLERYFETCH"
)

// Config describes runtime configuration for the service.
type Config struct {
	Port                   int           `mapstructure:"port"`
	DataDir                string        `mapstructure:"data_dir"`
	DownloadRoot           string        `mapstructure:"download_root"`
	AdaptersDir            string        `mapstructure:"adapters_dir"`
	MaxConcurrentDownloads int           `mapstructure:"max_concurrent_downloads"`
	RetryLimit             int           `mapstructure:"retry_limit"`
	PageDelay              time.Duration `mapstructure:"page_delay"`
	HTTP                   HTTPConfig    `mapstructure:"http"`
	Log                    LogConfig     `mapstructure:"log"`
}

// HTTPConfig tunes the shared client.
type HTTPConfig struct {
	Timeout    time.Duration `mapstructure:"timeout"`
	UserAgent  string        `mapstructure:"user_agent"`
	RetryCount int           `mapstructure:"retry_count"`
	RetryWait  time.Duration `mapstructure:"retry_wait"`
}

// LogConfig selects level, format and an optional rotating file.
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Path       string `mapstructure:"path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// Default returns the configuration used when no file or env overrides exist.
func Default() Config {
	return Config{
		Port:                   defaultPort,
		DataDir:                defaultDataDir,
		DownloadRoot:           defaultDownloadRoot,
		AdaptersDir:            defaultAdaptersDir,
		MaxConcurrentDownloads: defaultMaxConcurrentDownloads,
		RetryLimit:             defaultRetryLimit,
		HTTP: HTTPConfig{
			Timeout:    30 * time.Second,
			UserAgent:  defaultUserAgent,
			RetryCount: 3,
			RetryWait:  300 * time.Millisecond,
		},
		Log: LogConfig{
			Level:      "info",
			Format:     "console",
			MaxSizeMB:  50,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
	}
}

// Load reads YAML config from path, then applies GALLERYFETCH_* environment
// overrides. A missing file yields defaults with no error. With an empty path
// config.yml is looked up in the working directory and ./configs.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := readFile(v, path); err != nil {
		return Default(), err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Default(), fmt.Errorf("parse config: %w", err)
	}
	normalize(&cfg)
	return cfg, nil
}

func readFile(v *viper.Viper, path string) error {
	if path != "" {
		if _, err := os.Stat(path); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil
			}
			return fmt.Errorf("read config: %w", err)
		}
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("port", d.Port)
	v.SetDefault("data_dir", d.DataDir)
	v.SetDefault("download_root", d.DownloadRoot)
	v.SetDefault("adapters_dir", d.AdaptersDir)
	v.SetDefault("max_concurrent_downloads", d.MaxConcurrentDownloads)
	v.SetDefault("retry_limit", d.RetryLimit)
	v.SetDefault("page_delay", d.PageDelay)

	v.SetDefault("http.timeout", d.HTTP.Timeout)
	v.SetDefault("http.user_agent", d.HTTP.UserAgent)
	v.SetDefault("http.retry_count", d.HTTP.RetryCount)
	v.SetDefault("http.retry_wait", d.HTTP.RetryWait)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("log.path", d.Log.Path)
	v.SetDefault("log.max_size_mb", d.Log.MaxSizeMB)
	v.SetDefault("log.max_backups", d.Log.MaxBackups)
	v.SetDefault("log.max_age_days", d.Log.MaxAgeDays)
}

// normalize clamps values to a safe floor instead of rejecting them.
func normalize(cfg *Config) {
	d := Default()
	if cfg.Port <= 0 {
		cfg.Port = d.Port
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = d.DataDir
	}
	if strings.TrimSpace(cfg.DownloadRoot) == "" {
		cfg.DownloadRoot = d.DownloadRoot
	}
	if strings.TrimSpace(cfg.AdaptersDir) == "" {
		cfg.AdaptersDir = d.AdaptersDir
	}
	if cfg.MaxConcurrentDownloads < 1 {
		cfg.MaxConcurrentDownloads = 1
	}
	if cfg.RetryLimit < 0 {
		cfg.RetryLimit = 0
	}
	if cfg.PageDelay < 0 {
		cfg.PageDelay = 0
	}
	if cfg.HTTP.Timeout <= 0 {
		cfg.HTTP.Timeout = d.HTTP.Timeout
	}
	if cfg.HTTP.RetryCount < 0 {
		cfg.HTTP.RetryCount = 0
	}
	if cfg.HTTP.RetryWait <= 0 {
		cfg.HTTP.RetryWait = d.HTTP.RetryWait
	}
	if strings.TrimSpace(cfg.HTTP.UserAgent) == "" {
		cfg.HTTP.UserAgent = d.HTTP.UserAgent
	}
	cfg.Log.Level = strings.ToLower(strings.TrimSpace(cfg.Log.Level))
	cfg.Log.Format = strings.ToLower(strings.TrimSpace(cfg.Log.Format))
}

// Addr is the listen address for the HTTP server.
func (c Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}
