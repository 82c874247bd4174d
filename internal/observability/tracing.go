package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Tracer wraps an OpenTelemetry tracer with generation-specific spans.
type Tracer struct {
	tracer trace.Tracer
}

// NewTracer creates a new Tracer using the given TracerProvider.
func NewTracer(tp trace.TracerProvider) *Tracer {
	return &Tracer{tracer: tp.Tracer(TracerName)}
}

// StartSpan starts a new span with the given name and attributes.
func (t *Tracer) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// StartSubmit starts a span for a provider submission.
func (t *Tracer) StartSubmit(ctx context.Context, jobID, provider, kind string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "generation.submit", trace.WithAttributes(
		JobIDAttr(jobID),
		ProviderAttr(provider),
		KindAttr(kind),
	))
}

// StartPoll starts a span for one provider status poll.
func (t *Tracer) StartPoll(ctx context.Context, jobID, provider string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "reconciler.poll", trace.WithAttributes(
		JobIDAttr(jobID),
		ProviderAttr(provider),
	))
}

// StartSweep starts a span for a reconciler sweep.
func (t *Tracer) StartSweep(ctx context.Context) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "reconciler.sweep")
}

// StartMaterialize starts a span for artifact materialization.
func (t *Tracer) StartMaterialize(ctx context.Context, jobID string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "materializer.materialize", trace.WithAttributes(JobIDAttr(jobID)))
}

// StartStage starts a span for one pipeline unit.
func (t *Tracer) StartStage(ctx context.Context, runID string, order int, name string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "pipeline."+name, trace.WithAttributes(
		RunIDAttr(runID),
		StageOrderAttr(order),
	))
}

// RecordError records an error on the span.
func (t *Tracer) RecordError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}
