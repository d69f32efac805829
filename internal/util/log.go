// Package util provides shared utility functions for logging and bounded
// retries.
package util

import (
	"io"
	"log/slog"
	"strings"
)

// NewLogger creates a structured logger using log/slog at the specified
// level, writing JSON lines to w. Supported levels: "debug", "info", "warn",
// "error". Defaults to "info" if the level string is not recognised.
func NewLogger(w io.Writer, level string) *slog.Logger {
	var slevel slog.Level
	switch strings.ToLower(level) {
	case "debug":
		slevel = slog.LevelDebug
	case "info":
		slevel = slog.LevelInfo
	case "warn":
		slevel = slog.LevelWarn
	case "error":
		slevel = slog.LevelError
	default:
		slevel = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: slevel,
	})

	return slog.New(handler)
}

// SetDefault configures the provided logger as the default slog logger.
func SetDefault(logger *slog.Logger) {
	slog.SetDefault(logger)
}
