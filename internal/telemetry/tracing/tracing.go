// Package tracing wires the gateway's OpenTelemetry instrumentation.
// Grounded on the teacher's pkg/telemetry/tracing: a Tracer wrapping
// an OTel trace.Tracer, a no-op provider when disabled, and
// gateway.*-namespaced span attribute helpers. Trimmed to the single
// exporter SPEC_FULL.md names (OTLP/gRPC) — the teacher's
// Jaeger/Zipkin branches are both stubs that return "not yet
// implemented" in the teacher itself, so there is nothing real to
// adapt there.
package tracing

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Span name and attribute key constants, namespaced under "gateway."
// per SPEC_FULL.md §11.
const (
	SpanDispatch         = "gateway.dispatch"
	SpanDiscussionRound  = "gateway.discussion.round"

	AttrProvider    = "gateway.provider"
	AttrRequestID   = "gateway.request_id"
	AttrBackendKind = "gateway.backend_kind"
	AttrSessionID   = "gateway.session_id"
	AttrRound       = "gateway.round"
)

// Config tunes the tracer.
type Config struct {
	Enabled     bool
	Endpoint    string
	ServiceName string
	SampleRatio float64
}

// Tracer wraps an OTel tracer and its provider's lifecycle.
type Tracer struct {
	tracer   trace.Tracer
	provider *sdktrace.TracerProvider
	enabled  bool
}

// New builds a Tracer per cfg. When cfg.Enabled is false, a no-op
// tracer is returned — every Start call still works, but produces
// spans that are dropped rather than exported, mirroring the
// teacher's disable branch exactly.
func New(cfg Config) (*Tracer, error) {
	if !cfg.Enabled {
		return &Tracer{tracer: otel.Tracer("mercator-hq/gateway")}, nil
	}

	exporter, err := createOTLPExporter(cfg.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("tracing: %w", err)
	}

	res, err := resource.New(context.Background(), resource.WithAttributes(
		attribute.String("service.name", cfg.ServiceName),
	))
	if err != nil {
		return nil, fmt.Errorf("tracing: failed to build resource: %w", err)
	}

	ratio := cfg.SampleRatio
	if ratio <= 0 {
		ratio = 1.0
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.TraceIDRatioBased(ratio)),
	)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{},
	))

	return &Tracer{tracer: provider.Tracer("mercator-hq/gateway"), provider: provider, enabled: true}, nil
}

func createOTLPExporter(endpoint string) (sdktrace.SpanExporter, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client := otlptracegrpc.NewClient(otlptracegrpc.WithEndpoint(endpoint), otlptracegrpc.WithInsecure())
	exporter, err := otlptrace.New(ctx, client)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
	}
	return exporter, nil
}

// Start begins a span, delegating straight to the underlying tracer
// (a no-op one when tracing is disabled).
func (t *Tracer) Start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// Enabled reports whether spans from this tracer are actually exported.
func (t *Tracer) Enabled() bool {
	return t.enabled
}

// Shutdown flushes pending spans. A no-op tracer has nothing to flush.
func (t *Tracer) Shutdown(ctx context.Context) error {
	if !t.enabled || t.provider == nil {
		return nil
	}
	return t.provider.Shutdown(ctx)
}

// SetError marks span as failed and records err, matching the
// teacher's tracing.SetError helper.
func SetError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// SetOK marks span as having completed successfully.
func SetOK(span trace.Span) {
	span.SetStatus(codes.Ok, "")
}
