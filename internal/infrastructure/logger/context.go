package logger

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type loggerKey struct{}

// correlation holds the ids every entry logged under a context carries
type correlation struct {
	requestID string
	batchID   string
}

type correlationKey struct{}

func correlationOf(ctx context.Context) correlation {
	c, _ := ctx.Value(correlationKey{}).(correlation)
	return c
}

// WithContext attaches l to ctx
func WithContext(ctx context.Context, l *zap.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, l)
}

// FromContext returns the logger attached to ctx, or a no-op logger
func FromContext(ctx context.Context) *zap.Logger {
	if l, ok := ctx.Value(loggerKey{}).(*zap.Logger); ok && l != nil {
		return l
	}
	return zap.NewNop()
}

// WithRequestID records the HTTP request id on ctx
func WithRequestID(ctx context.Context, id string) context.Context {
	c := correlationOf(ctx)
	c.requestID = id
	return context.WithValue(ctx, correlationKey{}, c)
}

// GetRequestID returns the request id or ""
func GetRequestID(ctx context.Context) string {
	return correlationOf(ctx).requestID
}

// WithBatchID records the id of the ingestion batch being applied
func WithBatchID(ctx context.Context, id string) context.Context {
	c := correlationOf(ctx)
	c.batchID = id
	return context.WithValue(ctx, correlationKey{}, c)
}

// GetBatchID returns the batch id or ""
func GetBatchID(ctx context.Context) string {
	return correlationOf(ctx).batchID
}

// For returns l with the trace, span, request and batch ids found in ctx
// attached. A nil l falls back to the logger attached to ctx.
//
//	logger.For(ctx, s.logger).Info("Batch applied", zap.Int("rows", n))
func For(ctx context.Context, l *zap.Logger) *zap.Logger {
	if l == nil {
		l = FromContext(ctx)
	}
	fields := make([]zap.Field, 0, 4)
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
	}
	c := correlationOf(ctx)
	if c.requestID != "" {
		fields = append(fields, zap.String("request_id", c.requestID))
	}
	if c.batchID != "" {
		fields = append(fields, zap.String("batch_id", c.batchID))
	}
	if len(fields) == 0 {
		return l
	}
	return l.With(fields...)
}
