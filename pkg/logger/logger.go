package logger

import (
	"io"
	"log/slog"
	"os"
)

// New returns the process logger. Production emits JSON for log shipping;
// every other environment gets the human-readable text handler.
func New(appEnv string) *slog.Logger {
	return newWithWriter(appEnv, os.Stdout)
}

func newWithWriter(appEnv string, w io.Writer) *slog.Logger {
	if appEnv == "prod" {
		return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// Discard is for tests and tools that must not write logs.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
