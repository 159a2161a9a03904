// Package logging configures the process-wide slog logger for the yeet
// binaries.
package logging

import (
	"io"
	"log/slog"
	"strings"
)

const (
	LevelError   = "ERROR"
	LevelWarning = "WARNING"
	LevelInfo    = "INFO"
	LevelDebug   = "DEBUG"
)

type Config struct {
	Level string `mapstructure:"level"`
}

func (c Config) Debug() bool {
	return strings.EqualFold(c.Level, LevelDebug)
}

// ParseLevel maps a configured level name to a slog level. Unknown names fall
// back to info.
func ParseLevel(name string) slog.Level {
	switch strings.ToUpper(name) {
	case LevelError:
		return slog.LevelError
	case LevelWarning, "WARN":
		return slog.LevelWarn
	case LevelDebug:
		return slog.LevelDebug
	default:
		return slog.LevelInfo
	}
}

// Init installs a text handler writing to w as the default logger.
func Init(cfg Config, w io.Writer) {
	handler := slog.NewTextHandler(w, &slog.HandlerOptions{Level: ParseLevel(cfg.Level)})
	slog.SetDefault(slog.New(handler))
}
