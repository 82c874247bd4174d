// Package observability wires OpenTelemetry tracing and metrics into the
// generation pipeline. Without an SDK registered on the global providers
// every instrument is a no-op.
package observability

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Instrumentation names.
const (
	TracerName = "github.com/maauso/genstudio-api"
	MeterName  = "github.com/maauso/genstudio-api"
)

// Telemetry bundles the tracer and metric instruments.
type Telemetry struct {
	tracer  *Tracer
	metrics *Metrics
}

// Option configures Telemetry.
type Option func(*options)

type options struct {
	tp trace.TracerProvider
	mp metric.MeterProvider
}

// WithTracerProvider sets the tracer provider. Defaults to the global provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) {
		o.tp = tp
	}
}

// WithMeterProvider sets the meter provider. Defaults to the global provider.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(o *options) {
		o.mp = mp
	}
}

// New creates Telemetry from the given providers.
func New(opts ...Option) *Telemetry {
	o := &options{
		tp: otel.GetTracerProvider(),
		mp: otel.GetMeterProvider(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return &Telemetry{
		tracer:  NewTracer(o.tp),
		metrics: NewMetrics(o.mp),
	}
}

// Noop returns Telemetry that records nothing.
func Noop() *Telemetry {
	return &Telemetry{tracer: NewNoopTracer(), metrics: NewNoopMetrics()}
}

// Tracer returns the tracer, or a no-op tracer on a nil receiver.
func (t *Telemetry) Tracer() *Tracer {
	if t == nil || t.tracer == nil {
		return NewNoopTracer()
	}
	return t.tracer
}

// Metrics returns the metrics, or no-op metrics on a nil receiver.
func (t *Telemetry) Metrics() *Metrics {
	if t == nil || t.metrics == nil {
		return NewNoopMetrics()
	}
	return t.metrics
}
