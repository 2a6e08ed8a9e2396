// Package logger configures the process-wide slog logger.
package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/fxf-vault/internal/config"
)

// New builds a logger writing to w. JSON output carries bunyan numeric
// levels; text output keeps slog's level names.
func New(cfg config.LoggingConfig, w io.Writer) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}

	asJSON := cfg.Format == "json"
	opts := &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if asJSON && a.Key == slog.LevelKey && len(groups) == 0 {
				return slog.Int(a.Key, bunyanLevel(a.Value.Any().(slog.Level)))
			}
			return a
		},
	}

	var handler slog.Handler
	if asJSON {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(handler).With(
		"name", "fxf-vault",
		"pid", os.Getpid(),
		"hostname", hostname,
	), nil
}

// Init installs a logger on stdout as the slog default
func Init(cfg config.LoggingConfig) error {
	logger, err := New(cfg, os.Stdout)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)
	return nil
}

func bunyanLevel(level slog.Level) int {
	switch {
	case level >= slog.LevelError:
		return 50
	case level >= slog.LevelWarn:
		return 40
	case level >= slog.LevelInfo:
		return 30
	case level >= slog.LevelDebug:
		return 20
	default:
		return 10
	}
}
