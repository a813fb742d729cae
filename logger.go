package actoridx

import (
	"context"
	"log/slog"
	"os"

	"github.com/hupe1980/actoridx/model"
)

// Logger is the structured logger of a System. Field names are shared by
// every component: entity, index, queue, node, records and error.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a Logger on handler. A nil handler logs text at Info
// level to stderr.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		return NewTextLogger(slog.LevelInfo)
	}
	return &Logger{Logger: slog.New(handler)}
}

// NewJSONLogger creates a Logger that writes JSON lines to stderr.
func NewJSONLogger(level slog.Level) *Logger {
	return NewLogger(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// NewTextLogger creates a Logger that writes human-readable text to stderr.
func NewTextLogger(level slog.Level) *Logger {
	return NewLogger(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// NoopLogger creates a Logger that discards all log output.
func NoopLogger() *Logger {
	return NewLogger(slog.DiscardHandler)
}

// WithEntity adds an entity field to the logger.
func (l *Logger) WithEntity(ref model.EntityRef) *Logger {
	return &Logger{
		Logger: l.Logger.With("entity", ref.String()),
	}
}

// WithIndex adds an index field to the logger.
func (l *Logger) WithIndex(index string) *Logger {
	return &Logger{
		Logger: l.Logger.With("index", index),
	}
}

// WithQueue adds a queue field to the logger.
func (l *Logger) WithQueue(id string) *Logger {
	return &Logger{
		Logger: l.Logger.With("queue", id),
	}
}

// WithNode adds a node field to the logger.
func (l *Logger) WithNode(node string) *Logger {
	return &Logger{
		Logger: l.Logger.With("node", node),
	}
}

// LogWrite logs an entity write.
func (l *Logger) LogWrite(ctx context.Context, ref model.EntityRef, updates int, err error) {
	if err != nil {
		l.WarnContext(ctx, "entity write failed",
			"entity", ref.String(),
			"updates", updates,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "entity write completed",
			"entity", ref.String(),
			"updates", updates,
		)
	}
}

// LogLookup logs an index lookup.
func (l *Logger) LogLookup(ctx context.Context, index string, results int, err error) {
	if err != nil {
		l.DebugContext(ctx, "lookup failed",
			"index", index,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "lookup completed",
			"index", index,
			"results", results,
		)
	}
}

// LogActivation logs an entity activation.
func (l *Logger) LogActivation(ctx context.Context, ref model.EntityRef, node string, pending int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "entity activation failed",
			"entity", ref.String(),
			"node", node,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "entity activated",
			"entity", ref.String(),
			"node", node,
			"records", pending,
		)
	}
}

// LogNodeCrash logs a simulated node failure.
func (l *Logger) LogNodeCrash(ctx context.Context, node string, dropped int) {
	l.WarnContext(ctx, "node failed",
		"node", node,
		"activations", dropped,
	)
}

// LogNodeRecovery logs the takeover of a failed node's queues.
func (l *Logger) LogNodeRecovery(ctx context.Context, node string, queues, orphans int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "node recovery failed",
			"node", node,
			"queues", queues,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "node recovery completed",
			"node", node,
			"queues", queues,
			"records", orphans,
		)
	}
}
