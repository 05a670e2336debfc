// Package logger configures the process-wide structured logger and hands out
// component-scoped children of it.
package logger

import (
	"log/slog"
	"os"
	"strings"
)

// Setup installs a text handler to stderr at the given level as the default
// logger. Unrecognized levels fall back to info.
func Setup(level string) {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: ParseLevel(level),
	})
	slog.SetDefault(slog.New(handler))
}

// ParseLevel maps a config string to a slog.Level, defaulting to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ForComponent returns a child of the default logger tagged with a
// "component" attribute, so log lines from the dispatcher, the DTLS adapter,
// and the embedder's socket loop can be told apart at a glance.
func ForComponent(name string) *slog.Logger {
	return slog.Default().With("component", name)
}
