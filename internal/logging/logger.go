// Package logging constructs the shared slog.Logger used by every binary
// in this module (cmd/filterctl, cmd/libadfilter) and, by extension, the
// engine they wrap.
//
// Grounded on the NewLogger JSON-handler-to-stdout shape, unchanged except
// for living in its own package so more than one cmd/ can import it.
package logging

import (
	"log/slog"
	"os"
)

// New builds a JSON-handler logger writing to stdout.
func New(level slog.Level, addSource bool) *slog.Logger {
	opts := &slog.HandlerOptions{
		AddSource:   addSource,
		Level:       level,
		ReplaceAttr: nil,
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

// FromEnv follows the DEBUG_LOGS environment variable convention: set
// DEBUG_LOGS (to any non-empty value) to enable debug-level logging with
// source locations.
func FromEnv() *slog.Logger {
	level := slog.LevelInfo
	addSource := false
	if os.Getenv("DEBUG_LOGS") != "" {
		level = slog.LevelDebug
		addSource = true
	}
	return New(level, addSource)
}
