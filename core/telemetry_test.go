package core

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigTracerDefaultsToNoOpWhenTelemetryDisabled(t *testing.T) {
	cfg := DefaultConfig()
	assert.False(t, cfg.Telemetry.Enabled)

	tracer := cfg.Tracer()

	_, ok := tracer.(*NoOpTelemetry)
	assert.True(t, ok)
}

func TestConfigTracerIsCachedAcrossCalls(t *testing.T) {
	cfg := DefaultConfig()

	first := cfg.Tracer()
	second := cfg.Tracer()

	assert.Same(t, first, second)
}

func TestConfigTracerBuildsOTelTracerWhenEnabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Telemetry.Enabled = true
	cfg.Telemetry.Endpoint = ""

	tracer := cfg.Tracer()

	otelTracer, ok := tracer.(*OTelTracer)
	require.True(t, ok)
	require.NoError(t, otelTracer.Shutdown(context.Background()))
}

func TestOTelTracerStartSpanReturnsUsableSpan(t *testing.T) {
	tracer, err := NewOTelTracer(TelemetryConfig{Enabled: true}, "test-service")
	require.NoError(t, err)
	defer tracer.Shutdown(context.Background())

	ctx, span := tracer.StartSpan(context.Background(), "test-span")
	require.NotNil(t, ctx)
	span.SetAttribute("key", "value")
	span.SetAttribute("count", 3)
	span.End()
}

func TestOTelTracerRecordMetricDoesNotPanic(t *testing.T) {
	tracer, err := NewOTelTracer(TelemetryConfig{Enabled: true}, "test-service")
	require.NoError(t, err)
	defer tracer.Shutdown(context.Background())

	assert.NotPanics(t, func() {
		tracer.RecordMetric("hcc.test.metric", 1.0, map[string]string{"label": "value"})
		tracer.RecordMetric("hcc.test.metric", 2.0, map[string]string{"label": "other"})
	})
}
