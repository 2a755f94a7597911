// Package logging builds the process logger from configuration.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config controls level, format and the optional rotated log file.
type Config struct {
	Level  string     `mapstructure:"level"`
	Format string     `mapstructure:"format"` // console or json
	File   FileConfig `mapstructure:"file"`
}

// FileConfig configures lumberjack rotation. Sizes are in megabytes, ages in days.
type FileConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Path       string `mapstructure:"path"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// Setup returns a logger writing to out (stderr when nil) and, when enabled,
// to a rotated file. The returned closer flushes and closes the file.
func Setup(cfg Config, out io.Writer) (zerolog.Logger, io.Closer, error) {
	if out == nil {
		out = os.Stderr
	}

	level := zerolog.InfoLevel
	if cfg.Level != "" {
		parsed, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
		if err != nil {
			return zerolog.Nop(), nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
		}
		level = parsed
	}

	var console io.Writer
	switch strings.ToLower(cfg.Format) {
	case "", "console":
		console = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	case "json":
		console = out
	default:
		return zerolog.Nop(), nil, fmt.Errorf("invalid log format %q: must be console or json", cfg.Format)
	}

	writer := console
	var closer io.Closer = nopCloser{}
	if cfg.File.Enabled {
		if cfg.File.Path == "" {
			return zerolog.Nop(), nil, fmt.Errorf("logging.file.path is required when file logging is enabled")
		}
		// Create logs directory with secure permissions (0700 - owner only)
		if err := os.MkdirAll(filepath.Dir(cfg.File.Path), 0700); err != nil {
			return zerolog.Nop(), nil, fmt.Errorf("failed to create logs directory: %w", err)
		}
		file := &lumberjack.Logger{
			Filename:   cfg.File.Path,
			MaxSize:    cfg.File.MaxSize,
			MaxBackups: cfg.File.MaxBackups,
			MaxAge:     cfg.File.MaxAge,
			Compress:   cfg.File.Compress,
		}
		// The file always gets JSON so it stays machine-readable.
		writer = zerolog.MultiLevelWriter(console, file)
		closer = file
	}

	logger := zerolog.New(writer).Level(level).With().Timestamp().Logger()
	return logger, closer, nil
}
