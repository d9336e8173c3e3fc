package tracing

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Span couples an otel span with the operation's logger.
type Span struct {
	name   string
	span   trace.Span
	logger *zap.Logger
}

func StartSpan(ctx context.Context, tracer trace.Tracer, logger *zap.Logger, name string, attrs ...attribute.KeyValue) (context.Context, *Span) {
	ctx, span := tracer.Start(ctx, name, trace.WithAttributes(attrs...))

	if sc := span.SpanContext(); sc.IsValid() {
		logger = logger.With(zap.String("trace_id", sc.TraceID().String()))
	}

	return ctx, &Span{
		name:   name,
		span:   span,
		logger: logger,
	}
}

// Logger returns the operation logger, carrying the trace id when one is recorded.
func (s *Span) Logger() *zap.Logger {
	return s.logger
}

func (s *Span) End(err error) {
	if err != nil {
		s.span.SetStatus(codes.Error, err.Error())
		s.span.RecordError(err)
		s.logger.Debug("Span failed", zap.String("span", s.name), zap.Error(err))
	} else {
		s.span.SetStatus(codes.Ok, "")
	}

	s.span.End()
}

func (s *Span) AddEvent(name string, attrs ...attribute.KeyValue) {
	s.span.AddEvent(name, trace.WithAttributes(attrs...))
}

func (s *Span) SetAttributes(attrs ...attribute.KeyValue) {
	s.span.SetAttributes(attrs...)
}

// Count records an integer result attribute, e.g. the number of elements found.
func (s *Span) Count(key string, n int) {
	s.span.SetAttributes(attribute.Int(key, n))
}
