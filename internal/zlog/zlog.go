// Package zlog configures the process-wide structured logger from the
// ZOWEX_LOG_LEVEL environment variable.
package zlog

import (
	"log/slog"
	"os"
	"strings"
)

// levelFromEnv maps ZOWEX_LOG_LEVEL's vocabulary onto slog levels.
// OFF disables logging entirely by mapping to a level above any record
// this program ever emits.
func levelFromEnv(raw string) (slog.Level, bool) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "TRACE", "DEBUG":
		return slog.LevelDebug, true
	case "INFO":
		return slog.LevelInfo, true
	case "WARN":
		return slog.LevelWarn, true
	case "ERROR", "FATAL":
		return slog.LevelError, true
	case "OFF":
		return slog.Level(127), true
	default:
		return slog.LevelInfo, false
	}
}

// New builds a logger writing to stderr (stdout is reserved for JSON-RPC
// framing). verbose selects DEBUG when ZOWEX_LOG_LEVEL is unset or not a
// recognized level; a recognized ZOWEX_LOG_LEVEL takes precedence over it.
func New(verbose bool) *slog.Logger {
	level, explicit := levelFromEnv(os.Getenv("ZOWEX_LOG_LEVEL"))
	if verbose && !explicit {
		level = slog.LevelDebug
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	return slog.New(handler)
}
