// Package requestctx carries the request scoped logger, trace metadata and log notes.
package requestctx

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"
)

type ctxKey int

const (
	loggerContextKey ctxKey = iota
	traceContextKey
	notesContextKey
)

var noopLogger = zap.NewNop()

// TraceInfo captures trace metadata propagated through request context.
type TraceInfo struct {
	TraceID   string
	SpanID    string
	Sampled   bool
	ProjectID string
}

// WithLogger stores the logger in context for downstream consumers.
func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if logger == nil {
		logger = noopLogger
	}
	return context.WithValue(ctx, loggerContextKey, logger)
}

// Logger retrieves the zap logger from context or returns a no-op logger.
func Logger(ctx context.Context) *zap.Logger {
	if ctx == nil {
		return noopLogger
	}
	if logger, ok := ctx.Value(loggerContextKey).(*zap.Logger); ok && logger != nil {
		return logger
	}
	return noopLogger
}

// NoopLogger exposes the shared noop logger instance used across the package.
func NoopLogger() *zap.Logger { return noopLogger }

// WithTrace stores the trace metadata on the context for downstream usage.
func WithTrace(ctx context.Context, info TraceInfo) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, traceContextKey, info)
}

// Trace retrieves the trace metadata from context when available.
func Trace(ctx context.Context) (TraceInfo, bool) {
	if ctx == nil {
		return TraceInfo{}, false
	}
	info, ok := ctx.Value(traceContextKey).(TraceInfo)
	if !ok {
		return TraceInfo{}, false
	}
	return info, true
}

// TraceID extracts the trace identifier from context when present.
func TraceID(ctx context.Context) string {
	info, ok := Trace(ctx)
	if !ok {
		return ""
	}
	return info.TraceID
}

// Notes collects request-scoped annotations written by inner handlers (verified principal,
// webhook outcome) so that outer middleware can log them once the request completes.
type Notes struct {
	mu     sync.Mutex
	values map[string]string
}

// WithNotes attaches an empty Notes holder to the context.
func WithNotes(ctx context.Context) (context.Context, *Notes) {
	if ctx == nil {
		ctx = context.Background()
	}
	notes := &Notes{values: make(map[string]string)}
	return context.WithValue(ctx, notesContextKey, notes), notes
}

// NotesFrom returns the holder installed by WithNotes.
func NotesFrom(ctx context.Context) (*Notes, bool) {
	if ctx == nil {
		return nil, false
	}
	notes, ok := ctx.Value(notesContextKey).(*Notes)
	return notes, ok && notes != nil
}

// Annotate records key=value on the request notes. It is a no-op when no holder is present.
func Annotate(ctx context.Context, key, value string) {
	if ctx == nil || key == "" {
		return
	}
	notes, ok := NotesFrom(ctx)
	if !ok {
		return
	}
	notes.mu.Lock()
	notes.values[key] = value
	notes.mu.Unlock()
}

// Fields renders the notes as zap fields in key order.
func (n *Notes) Fields() []zap.Field {
	if n == nil {
		return nil
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	keys := make([]string, 0, len(n.values))
	for k := range n.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	fields := make([]zap.Field, 0, len(keys))
	for _, k := range keys {
		fields = append(fields, zap.String(k, n.values[k]))
	}
	return fields
}

// Get returns a single annotation.
func (n *Notes) Get(key string) (string, bool) {
	if n == nil {
		return "", false
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	v, ok := n.values[key]
	return v, ok
}
