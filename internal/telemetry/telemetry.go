// Package telemetry provides span-based tracing for chat requests, provider
// calls, and tool executions. Grounded on tracer.go's Tracer/Span interface
// pair (span creation optional, nil-safe when tracing is disabled) and
// observer/tracer.go's OTEL-backed implementation. Unlike the teacher, this
// package wires only the trace pipeline: DESIGN.md records that no
// SPEC_FULL.md component needs metric or log export, so otlpmetrichttp,
// otlploghttp, and their SDK providers are dropped rather than carried
// unused.
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

const scopeName = "github.com/torbolabs/torbobase/internal/telemetry"

// Tracer creates spans for traced operations. Start is safe to call on a
// nil *Tracer: it returns the input context and a no-op Span, so callers
// never need to branch on whether telemetry is enabled.
type Tracer struct {
	inner trace.Tracer
}

// SpanAttr is a key-value attribute attached to a span or event.
type SpanAttr struct {
	Key   string
	Value any
}

func StringAttr(k, v string) SpanAttr   { return SpanAttr{Key: k, Value: v} }
func IntAttr(k string, v int) SpanAttr  { return SpanAttr{Key: k, Value: v} }
func BoolAttr(k string, v bool) SpanAttr { return SpanAttr{Key: k, Value: v} }

// Init configures the global OTEL trace provider with an OTLP/HTTP exporter.
// Configuration comes from standard OTEL_EXPORTER_OTLP_* env vars. Returns a
// shutdown function to call on process exit.
func Init(ctx context.Context, serviceName, serviceVersion string) (*Tracer, func(context.Context) error, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(serviceVersion),
		),
		resource.WithFromEnv(),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("telemetry: resource: %w", err)
	}

	exp, err := otlptracehttp.New(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("telemetry: exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	return &Tracer{inner: otel.Tracer(scopeName)}, tp.Shutdown, nil
}

// Noop returns a Tracer that produces no spans, for when telemetry is
// disabled in config.
func Noop() *Tracer { return &Tracer{} }

// Span represents one traced operation.
type Span struct {
	inner trace.Span
}

// Start begins a span. Safe on a nil Tracer.
func (t *Tracer) Start(ctx context.Context, name string, attrs ...SpanAttr) (context.Context, *Span) {
	if t == nil || t.inner == nil {
		return ctx, &Span{}
	}
	ctx, span := t.inner.Start(ctx, name, trace.WithAttributes(toOTELAttrs(attrs)...))
	return ctx, &Span{inner: span}
}

func (s *Span) SetAttr(attrs ...SpanAttr) {
	if s == nil || s.inner == nil {
		return
	}
	s.inner.SetAttributes(toOTELAttrs(attrs)...)
}

func (s *Span) Event(name string, attrs ...SpanAttr) {
	if s == nil || s.inner == nil {
		return
	}
	s.inner.AddEvent(name, trace.WithAttributes(toOTELAttrs(attrs)...))
}

func (s *Span) Error(err error) {
	if s == nil || s.inner == nil || err == nil {
		return
	}
	s.inner.RecordError(err)
	s.inner.SetStatus(codes.Error, err.Error())
}

func (s *Span) End() {
	if s == nil || s.inner == nil {
		return
	}
	s.inner.End()
}

func toOTELAttrs(attrs []SpanAttr) []attribute.KeyValue {
	out := make([]attribute.KeyValue, len(attrs))
	for i, a := range attrs {
		switch v := a.Value.(type) {
		case string:
			out[i] = attribute.String(a.Key, v)
		case int:
			out[i] = attribute.Int(a.Key, v)
		case int64:
			out[i] = attribute.Int64(a.Key, v)
		case float64:
			out[i] = attribute.Float64(a.Key, v)
		case bool:
			out[i] = attribute.Bool(a.Key, v)
		default:
			out[i] = attribute.String(a.Key, fmt.Sprintf("%v", v))
		}
	}
	return out
}
