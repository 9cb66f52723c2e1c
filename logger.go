// Copyright (c) 2025, Lux Industries Inc
// SPDX-License-Identifier: BSD-3-Clause

package biofhe

import (
	"context"
	"io"
	"log/slog"
	"os"
	"time"
)

// Logger wraps slog.Logger with consistent field names for match operations.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a Logger with the given handler. A nil handler logs text
// to stderr at info level.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})
	}
	return &Logger{Logger: slog.New(handler)}
}

// NewJSONLogger creates a Logger that writes JSON to stderr.
func NewJSONLogger(level slog.Level) *Logger {
	return &Logger{Logger: slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))}
}

// NewTextLogger creates a Logger that writes text to stderr.
func NewTextLogger(level slog.Level) *Logger {
	return &Logger{Logger: slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))}
}

// NoopLogger discards everything.
func NoopLogger() *Logger {
	return &Logger{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

// WithStrategy tags the logger with a strategy name.
func (l *Logger) WithStrategy(s Strategy) *Logger {
	return &Logger{Logger: l.Logger.With("strategy", s.String())}
}

// LogCompile logs a compiler build.
func (l *Logger) LogCompile(cfg Config, features int, totalOffset int64, earlyStop bool) {
	l.Info("score tables compiled",
		"dataset", cfg.Dataset(),
		"features", features,
		"total_offset", totalOffset,
		"early_stop", earlyStop,
	)
}

// LogAuthenticate logs one authentication.
func (l *Logger) LogAuthenticate(ctx context.Context, lookups int, elapsed time.Duration, err error) {
	if err != nil {
		l.ErrorContext(ctx, "authentication failed",
			"lookups", lookups,
			"elapsed", elapsed,
			"error", err,
		)
		return
	}
	l.DebugContext(ctx, "authentication completed",
		"lookups", lookups,
		"elapsed", elapsed,
	)
}
