package logger

import (
	"io"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"

	"tn3270kit/internal/config"
)

// Setup builds the process logger from the configured sinks and makes it the
// slog default. debug lowers every sink to the debug level.
func Setup(configs []config.LoggerConfig, debug, quiet bool) *slog.Logger {
	if quiet {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	var handlers []slog.Handler
	for _, cfg := range configs {
		level := parseLogLevel(cfg.Level)
		if debug {
			level = slog.LevelDebug
		}

		if cfg.Stdout {
			handlers = append(handlers, sink(os.Stdout, cfg, level, isatty.IsTerminal(os.Stdout.Fd())))
		}
		if cfg.File != "" {
			file, err := openLogFile(cfg.File)
			if err != nil {
				log.Printf("Failed to open log file %s: %v", cfg.File, err)
				continue
			}
			handlers = append(handlers, sink(file, cfg, level, false))
		}
	}

	var logger *slog.Logger
	switch len(handlers) {
	case 0:
		level := slog.LevelInfo
		if debug {
			level = slog.LevelDebug
		}
		fallback := config.LoggerConfig{Stdout: true}
		logger = slog.New(sink(os.Stdout, fallback, level, isatty.IsTerminal(os.Stdout.Fd())))
	case 1:
		logger = slog.New(handlers[0])
	default:
		logger = slog.New(NewFanout(handlers...))
	}

	slog.SetDefault(logger)
	return logger
}

// sink is one tint handler writing to w. Colour is only used on terminals.
func sink(w io.Writer, cfg config.LoggerConfig, level slog.Level, color bool) slog.Handler {
	timeFormat := time.TimeOnly
	if cfg.TimeFormat != "" {
		timeFormat = cfg.TimeFormat
	}

	var replaceAttr func([]string, slog.Attr) slog.Attr
	if cfg.HideTime {
		replaceAttr = func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey && len(groups) == 0 {
				return slog.Attr{}
			}
			return a
		}
	}

	return tint.NewHandler(w, &tint.Options{
		NoColor:     !color,
		Level:       level,
		AddSource:   cfg.Source,
		ReplaceAttr: replaceAttr,
		TimeFormat:  timeFormat,
	})
}

func openLogFile(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	return os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
