package main

import (
	"io"
	"log/slog"
)

// newLogger returns a text logger that tags every record with module.
func newLogger(w io.Writer, logLevel, module string) *slog.Logger {
	var level slog.Level

	switch logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	handler := slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: level,
	})

	return slog.New(handler).With("module", module)
}
