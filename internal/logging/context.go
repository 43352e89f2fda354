package logging

import (
	"context"
	"regexp"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type requestCtxKey struct{}
type namespaceCtxKey struct{}
type jobCtxKey struct{}
type loggerCtxKey struct{}

const maxIDLen = 128

var idPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

func validID(id string) bool {
	return id != "" && len(id) <= maxIDLen && idPattern.MatchString(id)
}

// ContextFields extracts correlation data from ctx.
func ContextFields(ctx context.Context) []zap.Field {
	fields := make([]zap.Field, 0, 6)

	if sc := trace.SpanFromContext(ctx).SpanContext(); sc.IsValid() {
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
		if sc.IsSampled() {
			fields = append(fields, zap.Bool("trace_sampled", true))
		}
	}
	if id := RequestIDFromContext(ctx); id != "" {
		fields = append(fields, zap.String("request.id", id))
	}
	if ns := NamespaceFromContext(ctx); ns != "" {
		fields = append(fields, zap.String("filing.namespace", ns))
	}
	if id := JobIDFromContext(ctx); id != "" {
		fields = append(fields, zap.String("ingest.job_id", id))
	}
	return fields
}

// WithRequestID adds a request id to ctx. Ids that are empty, longer than
// 128 bytes or outside [a-zA-Z0-9_-] are not stored.
func WithRequestID(ctx context.Context, id string) context.Context {
	if !validID(id) {
		return ctx
	}
	return context.WithValue(ctx, requestCtxKey{}, id)
}

// RequestIDFromContext returns the request id, or "".
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestCtxKey{}).(string)
	return id
}

// WithNamespace adds a filing namespace to ctx, under the same rules as
// WithRequestID.
func WithNamespace(ctx context.Context, ns string) context.Context {
	if !validID(ns) {
		return ctx
	}
	return context.WithValue(ctx, namespaceCtxKey{}, ns)
}

// NamespaceFromContext returns the filing namespace, or "".
func NamespaceFromContext(ctx context.Context) string {
	ns, _ := ctx.Value(namespaceCtxKey{}).(string)
	return ns
}

// WithJobID adds an ingestion job id to ctx.
func WithJobID(ctx context.Context, id string) context.Context {
	if !validID(id) {
		return ctx
	}
	return context.WithValue(ctx, jobCtxKey{}, id)
}

// JobIDFromContext returns the ingestion job id, or "".
func JobIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(jobCtxKey{}).(string)
	return id
}

// WithLogger stores logger in ctx.
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerCtxKey{}, logger)
}

// FromContext returns the logger stored in ctx, or a nop logger.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerCtxKey{}).(*Logger); ok {
		return l
	}
	return Nop()
}
