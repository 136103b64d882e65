package invgo

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

// Logger wraps slog.Logger with index specific helpers.
// This provides structured logging with consistent field names.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a new Logger with the given handler.
// If handler is nil, uses default text handler to stderr.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewJSONLogger creates a Logger that outputs JSON-formatted logs.
// level sets the minimum log level (e.g., slog.LevelDebug, slog.LevelInfo).
func NewJSONLogger(level slog.Level) *Logger {
	return newLogger(os.Stderr, "json", level)
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	return newLogger(os.Stderr, "text", level)
}

// NoopLogger creates a Logger that discards all log output.
func NoopLogger() *Logger {
	return &Logger{
		Logger: slog.New(slog.DiscardHandler),
	}
}

func newLogger(w io.Writer, format string, level slog.Level) *Logger {
	opts := &slog.HandlerOptions{Level: level}
	if format == "json" {
		return &Logger{Logger: slog.New(slog.NewJSONHandler(w, opts))}
	}
	return &Logger{Logger: slog.New(slog.NewTextHandler(w, opts))}
}

// ParseLevel maps debug, info, warn and error to a level. Unknown names
// give info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
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

// WithDirectory adds the index directory to the logger.
func (l *Logger) WithDirectory(dir string) *Logger {
	return &Logger{
		Logger: l.Logger.With("dir", dir),
	}
}

// LogCommit logs a commit.
func (l *Logger) LogCommit(ctx context.Context, generation int64, segments int, took time.Duration, err error) {
	if err != nil {
		l.ErrorContext(ctx, "commit failed",
			"error", err,
		)
		return
	}
	l.InfoContext(ctx, "commit completed",
		"generation", generation,
		"segments", segments,
		"took", took,
	)
}

// LogFlush logs the flush of buffered documents.
func (l *Logger) LogFlush(ctx context.Context, docs int, took time.Duration, err error) {
	if err != nil {
		l.ErrorContext(ctx, "flush failed",
			"docs", docs,
			"error", err,
		)
		return
	}
	l.DebugContext(ctx, "flush completed",
		"docs", docs,
		"took", took,
	)
}

// LogMerge logs a merge or forced merge.
func (l *Logger) LogMerge(ctx context.Context, segmentsBefore, segmentsAfter int, took time.Duration, err error) {
	if err != nil {
		l.ErrorContext(ctx, "merge failed",
			"segments", segmentsBefore,
			"error", err,
		)
		return
	}
	l.InfoContext(ctx, "merge completed",
		"segmentsBefore", segmentsBefore,
		"segmentsAfter", segmentsAfter,
		"took", took,
	)
}

// LogBackup logs a backup.
func (l *Logger) LogBackup(ctx context.Context, id string, generation int64, files, uploaded int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "backup failed",
			"error", err,
		)
		return
	}
	l.InfoContext(ctx, "backup saved",
		"id", id,
		"generation", generation,
		"files", files,
		"uploaded", uploaded,
	)
}
