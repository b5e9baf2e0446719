package core

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// OTelTracer implements Telemetry with OpenTelemetry, grounded directly on
// itsneelabh-gomind's pkg/telemetry.OTELImpl: an OTLP/gRPC exporter when an
// endpoint is configured, a pretty-printed stdout exporter otherwise (the
// same fallback test/simple_tracing_test.go uses for local runs).
type OTelTracer struct {
	tracer trace.Tracer
	meter  metric.Meter
	tp     *sdktrace.TracerProvider

	mu         sync.Mutex
	histograms map[string]metric.Float64Histogram
}

// NewOTelTracer constructs an OTelTracer for serviceName. cfg.Endpoint
// selects the exporter: empty means "no collector available", which still
// produces real spans (useful for `hcc run` invoked by hand) via the stdout
// exporter rather than silently discarding them.
func NewOTelTracer(cfg TelemetryConfig, serviceName string) (*OTelTracer, error) {
	ctx := context.Background()

	res := resource.NewSchemaless(
		attribute.String("service.name", serviceName),
		attribute.String("service.version", "1.0.0"),
	)

	var exporter sdktrace.SpanExporter
	var err error
	if cfg.Endpoint != "" {
		exporter, err = otlptracegrpc.New(ctx,
			otlptracegrpc.WithEndpoint(cfg.Endpoint),
			otlptracegrpc.WithInsecure(),
		)
	} else {
		exporter, err = stdouttrace.New(stdouttrace.WithPrettyPrint())
	}
	if err != nil {
		return nil, fmt.Errorf("telemetry: failed to create span exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	return &OTelTracer{
		tracer:     tp.Tracer(serviceName),
		meter:      otel.Meter(serviceName),
		tp:         tp,
		histograms: make(map[string]metric.Float64Histogram),
	}, nil
}

// StartSpan implements Telemetry.
func (t *OTelTracer) StartSpan(ctx context.Context, name string) (context.Context, Span) {
	ctx, span := t.tracer.Start(ctx, name)
	return ctx, &otelSpan{span: span}
}

// RecordMetric implements Telemetry by recording value against a cached
// histogram instrument for name — a histogram covers every metric shape
// (durations, counts, scores) this module emits without needing per-caller
// instrument-kind declarations.
func (t *OTelTracer) RecordMetric(name string, value float64, labels map[string]string) {
	hist, err := t.histogramFor(name)
	if err != nil {
		return
	}
	attrs := make([]attribute.KeyValue, 0, len(labels))
	for k, v := range labels {
		attrs = append(attrs, attribute.String(k, v))
	}
	hist.Record(context.Background(), value, metric.WithAttributes(attrs...))
}

func (t *OTelTracer) histogramFor(name string) (metric.Float64Histogram, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if h, ok := t.histograms[name]; ok {
		return h, nil
	}
	h, err := t.meter.Float64Histogram(name)
	if err != nil {
		return nil, err
	}
	t.histograms[name] = h
	return h, nil
}

// Shutdown flushes and closes the trace provider. Callers that construct a
// tracer directly (rather than through Config.Tracer) are responsible for
// calling this before exit.
func (t *OTelTracer) Shutdown(ctx context.Context) error {
	if t.tp == nil {
		return nil
	}
	return t.tp.Shutdown(ctx)
}

type otelSpan struct {
	span trace.Span
}

func (s *otelSpan) End() { s.span.End() }

func (s *otelSpan) SetAttribute(key string, value interface{}) {
	switch v := value.(type) {
	case string:
		s.span.SetAttributes(attribute.String(key, v))
	case int:
		s.span.SetAttributes(attribute.Int(key, v))
	case int64:
		s.span.SetAttributes(attribute.Int64(key, v))
	case float64:
		s.span.SetAttributes(attribute.Float64(key, v))
	case bool:
		s.span.SetAttributes(attribute.Bool(key, v))
	default:
		s.span.SetAttributes(attribute.String(key, fmt.Sprintf("%v", v)))
	}
}

func (s *otelSpan) RecordError(err error) {
	s.span.RecordError(err)
}

// Tracer returns the configured Telemetry, constructing an OTelTracer
// lazily on first use when cfg.Telemetry.Enabled, and NoOpTelemetry
// otherwise (or if the tracer failed to construct — telemetry is diagnostic,
// never load-bearing, per the same "advisory, not a dependency" rule Memory
// follows).
func (c *Config) Tracer() Telemetry {
	if c.tracer != nil {
		return c.tracer
	}
	if !c.Telemetry.Enabled {
		c.tracer = &NoOpTelemetry{}
		return c.tracer
	}
	tracer, err := NewOTelTracer(c.Telemetry, c.Name)
	if err != nil {
		c.Logger().Warn("telemetry enabled but tracer construction failed, falling back to no-op", map[string]interface{}{
			"error": err.Error(),
		})
		c.tracer = &NoOpTelemetry{}
		return c.tracer
	}
	c.tracer = tracer
	return c.tracer
}
