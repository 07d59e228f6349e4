package maggma

import (
	"context"
	"log/slog"
	"os"
	"time"
)

// Logger wraps slog.Logger with maggma-specific context.
// This provides structured logging with consistent field names across the
// Builder contract, the Executor, and the Distributed Coordinator.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a new Logger with the given handler.
// If handler is nil, uses a default text handler to stderr at info level.
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
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NoopLogger creates a Logger that discards all log output.
func NoopLogger() *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.Level(1000), // unreachable level
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// WithBuilder adds the builder name field to the logger.
func (l *Logger) WithBuilder(name string) *Logger {
	return &Logger{Logger: l.Logger.With("builder", name)}
}

// WithBuildID adds the build_id field to the logger.
func (l *Logger) WithBuildID(id string) *Logger {
	return &Logger{Logger: l.Logger.With("build_id", id)}
}

// WithChunk adds chunk index/total fields to the logger.
func (l *Logger) WithChunk(index, total int) *Logger {
	return &Logger{Logger: l.Logger.With("chunk", index, "num_chunks", total)}
}

// LogItemError logs a single process_item failure. It never aborts the run;
// the caller is responsible for counting and continuing.
func (l *Logger) LogItemError(ctx context.Context, kind string, err error) {
	l.ErrorContext(ctx, "item failed", "kind", kind, "error", err)
}

// LogBatchWrite logs a completed update_targets batch.
func (l *Logger) LogBatchWrite(ctx context.Context, n int, dur time.Duration, err error) {
	if err != nil {
		l.ErrorContext(ctx, "batch write failed", "count", n, "duration", dur, "error", err)
		return
	}
	l.DebugContext(ctx, "batch written", "count", n, "duration", dur)
}

// LogChunkDispatch logs the Manager dispatching a chunk to a Worker.
func (l *Logger) LogChunkDispatch(ctx context.Context, workerID string, chunkIndex, numChunks int) {
	l.InfoContext(ctx, "chunk dispatched", "worker", workerID, "chunk", chunkIndex, "num_chunks", numChunks)
}

// LogChunkRequeue logs the Manager re-queueing a chunk after a dead Worker.
func (l *Logger) LogChunkRequeue(ctx context.Context, workerID string, chunkIndex int) {
	l.WarnContext(ctx, "chunk requeued after worker timeout", "worker", workerID, "chunk", chunkIndex)
}

// LogRunStart logs the start of a single Builder run.
func (l *Logger) LogRunStart(ctx context.Context, numWorkers int) {
	l.InfoContext(ctx, "run started", "num_workers", numWorkers)
}

// LogRunEnd logs the end of a single Builder run.
func (l *Logger) LogRunEnd(ctx context.Context, errors, warnings int, dur time.Duration) {
	l.InfoContext(ctx, "run ended", "errors", errors, "warnings", warnings, "duration", dur)
}
