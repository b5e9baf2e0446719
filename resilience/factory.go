package resilience

import (
	"github.com/mrlecko/hcc/core"
)

// Dependencies holds optional dependencies for constructing resilience
// primitives, following the same injection pattern as core.Config's options.
type Dependencies struct {
	Logger core.Logger
}

// globalMetricsCollector adapts core's weak-coupled MetricsRegistry to the
// MetricsCollector interface this package's CircuitBreaker expects, so
// circuit breaker state changes surface as OpenTelemetry metrics without a
// direct import of the telemetry SDK from this package.
type globalMetricsCollector struct{}

func (globalMetricsCollector) RecordSuccess(name string) {
	if r := core.GetGlobalMetricsRegistry(); r != nil {
		r.Counter("resilience.circuit_breaker.calls", "name", name, "state", "success")
	}
}

func (globalMetricsCollector) RecordFailure(name string, errorType string) {
	if r := core.GetGlobalMetricsRegistry(); r != nil {
		r.Counter("resilience.circuit_breaker.calls", "name", name, "state", "failure")
		r.Counter("resilience.circuit_breaker.failures", "name", name, "error_type", errorType)
	}
}

func (globalMetricsCollector) RecordStateChange(name string, from, to string) {
	if r := core.GetGlobalMetricsRegistry(); r != nil {
		r.Counter("resilience.circuit_breaker.state_changes", "name", name, "from", from, "to", to)
	}
}

func (globalMetricsCollector) RecordRejection(name string) {
	if r := core.GetGlobalMetricsRegistry(); r != nil {
		r.Counter("resilience.circuit_breaker.rejected", "name", name)
	}
}

// CreateCircuitBreaker builds a CircuitBreaker with defaults appropriate for
// a suspension point named name (store or planner), wiring in deps.Logger
// and the global metrics registry when one has been set via
// core.SetMetricsRegistry.
func CreateCircuitBreaker(name string, deps Dependencies) (*CircuitBreaker, error) {
	config := DefaultConfig()
	config.Name = name

	if deps.Logger != nil {
		if cal, ok := deps.Logger.(core.ComponentAwareLogger); ok {
			config.Logger = cal.WithComponent("framework/resilience")
		} else {
			config.Logger = deps.Logger
		}
	}

	if core.GetGlobalMetricsRegistry() != nil {
		config.Metrics = globalMetricsCollector{}
	}

	config.Logger.Info("Creating circuit breaker", map[string]interface{}{
		"name":             name,
		"error_threshold":  config.ErrorThreshold,
		"volume_threshold": config.VolumeThreshold,
	})

	return NewCircuitBreaker(config)
}

// WithLogger is a Dependencies constructor option.
func WithLogger(logger core.Logger) func(*Dependencies) {
	return func(d *Dependencies) { d.Logger = logger }
}
