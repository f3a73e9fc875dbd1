// Package requestctx carries the request-scoped logger and trace metadata.
package requestctx

import (
	"context"

	"go.uber.org/zap"
)

type contextKey struct{}

var noopLogger = zap.NewNop()

// TraceInfo is the Cloud Trace context of the current request.
type TraceInfo struct {
	TraceID   string
	SpanID    string
	Sampled   bool
	ProjectID string
}

// state is stored by value; every setter stores a modified copy so parents are unaffected.
type state struct {
	logger   *zap.Logger
	trace    TraceInfo
	hasTrace bool
}

func load(ctx context.Context) state {
	if ctx == nil {
		return state{}
	}
	s, _ := ctx.Value(contextKey{}).(state)
	return s
}

// WithLogger attaches logger to ctx. A nil logger attaches the no-op logger.
func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	s := load(ctx)
	s.logger = logger
	if s.logger == nil {
		s.logger = noopLogger
	}
	return context.WithValue(ctx, contextKey{}, s)
}

// WithFields attaches the current logger extended with fields, such as the acting user.
func WithFields(ctx context.Context, fields ...zap.Field) context.Context {
	if len(fields) == 0 {
		return ctx
	}
	return WithLogger(ctx, Logger(ctx).With(fields...))
}

// Logger returns the request logger, or a no-op logger when none is attached.
func Logger(ctx context.Context) *zap.Logger {
	if logger := load(ctx).logger; logger != nil {
		return logger
	}
	return noopLogger
}

// IsNoop reports whether logger is the no-op fallback.
func IsNoop(logger *zap.Logger) bool { return logger == nil || logger == noopLogger }

// WithTrace attaches trace metadata to ctx.
func WithTrace(ctx context.Context, info TraceInfo) context.Context {
	s := load(ctx)
	s.trace, s.hasTrace = info, true
	return context.WithValue(ctx, contextKey{}, s)
}

// Trace returns the trace metadata attached to ctx.
func Trace(ctx context.Context) (TraceInfo, bool) {
	s := load(ctx)
	return s.trace, s.hasTrace
}

// TraceID returns the trace id, or "" when the request is not traced.
func TraceID(ctx context.Context) string {
	return load(ctx).trace.TraceID
}
