// Package logger builds the process-wide zerolog logger.
package logger

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

const logDirPerm os.FileMode = 0o750

// Config holds logger configuration.
type Config struct {
	Level      string
	Format     string // "console" or "json"
	Path       string // log file; empty disables file output
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// Logger is a configured zerolog logger plus the rotating file behind it, if any.
type Logger struct {
	zerolog.Logger
	rotator *lumberjack.Logger
}

// New builds a logger writing to out (stderr when nil) and, when cfg.Path is
// set, to a size-rotated file.
func New(cfg Config, out io.Writer) *Logger {
	if out == nil {
		out = os.Stderr
	}
	var console io.Writer = out
	if cfg.Format != "json" {
		console = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	output := console
	var rotator *lumberjack.Logger
	if cfg.Path != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Path), logDirPerm); err == nil {
			rotator = &lumberjack.Logger{
				Filename:   cfg.Path,
				MaxSize:    positiveOr(cfg.MaxSizeMB, 50),
				MaxBackups: positiveOr(cfg.MaxBackups, 3),
				MaxAge:     positiveOr(cfg.MaxAgeDays, 28),
				LocalTime:  true,
			}
			// files always get JSON lines
			output = io.MultiWriter(console, rotator)
		}
	}

	zl := zerolog.New(output).Level(parseLevel(cfg.Level)).With().Timestamp().Logger()
	return &Logger{Logger: zl, rotator: rotator}
}

// Install makes l the global logger used through github.com/rs/zerolog/log.
func (l *Logger) Install() {
	log.Logger = l.Logger
	zerolog.SetGlobalLevel(l.GetLevel())
}

// Close closes the log file if one is open.
func (l *Logger) Close() error {
	if l.rotator != nil {
		return l.rotator.Close() //nolint:wrapcheck
	}
	return nil
}

func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

func positiveOr(v, fallback int) int {
	if v > 0 {
		return v
	}
	return fallback
}
