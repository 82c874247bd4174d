package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the generation metric instruments.
type Metrics struct {
	submissions   metric.Int64Counter
	transitions   metric.Int64Counter
	notices       metric.Int64Counter
	pollFailures  metric.Int64Counter
	rateLimited   metric.Int64Counter
	sweepDuration metric.Float64Histogram
	sweepTracked  metric.Int64Histogram
}

// NewMetrics creates a new Metrics instance with the given MeterProvider.
func NewMetrics(mp metric.MeterProvider) *Metrics {
	return newMetrics(mp.Meter(MeterName))
}

func newMetrics(meter metric.Meter) *Metrics {
	m := &Metrics{}

	// Instrument creation only fails on invalid names; fall back to a bare
	// instrument so a metric never turns into a nil dereference.
	var err error

	m.submissions, err = meter.Int64Counter(
		"genstudio.submissions",
		metric.WithDescription("Provider submissions by provider, kind and outcome"),
		metric.WithUnit("{submission}"),
	)
	if err != nil {
		m.submissions, _ = meter.Int64Counter("genstudio.submissions")
	}

	m.transitions, err = meter.Int64Counter(
		"genstudio.job.transitions",
		metric.WithDescription("Applied terminal transitions by status, code and source"),
		metric.WithUnit("{transition}"),
	)
	if err != nil {
		m.transitions, _ = meter.Int64Counter("genstudio.job.transitions")
	}

	m.notices, err = meter.Int64Counter(
		"genstudio.webhook.notices",
		metric.WithDescription("Webhook notices by provider and result"),
		metric.WithUnit("{notice}"),
	)
	if err != nil {
		m.notices, _ = meter.Int64Counter("genstudio.webhook.notices")
	}

	m.pollFailures, err = meter.Int64Counter(
		"genstudio.poll.failures",
		metric.WithDescription("Failed provider status queries"),
		metric.WithUnit("{failure}"),
	)
	if err != nil {
		m.pollFailures, _ = meter.Int64Counter("genstudio.poll.failures")
	}

	m.rateLimited, err = meter.Int64Counter(
		"genstudio.submissions.rate_limited",
		metric.WithDescription("Submissions retried after a provider rate limit"),
		metric.WithUnit("{retry}"),
	)
	if err != nil {
		m.rateLimited, _ = meter.Int64Counter("genstudio.submissions.rate_limited")
	}

	m.sweepDuration, err = meter.Float64Histogram(
		"genstudio.reconciler.sweep.duration",
		metric.WithDescription("Duration of reconciler sweeps in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		m.sweepDuration, _ = meter.Float64Histogram("genstudio.reconciler.sweep.duration")
	}

	m.sweepTracked, err = meter.Int64Histogram(
		"genstudio.reconciler.sweep.tracked",
		metric.WithDescription("Jobs examined per reconciler sweep"),
		metric.WithUnit("{job}"),
	)
	if err != nil {
		m.sweepTracked, _ = meter.Int64Histogram("genstudio.reconciler.sweep.tracked")
	}

	return m
}

// RecordSubmission records one provider submission attempt.
func (m *Metrics) RecordSubmission(ctx context.Context, provider, kind string, err error) {
	outcome := "accepted"
	if err != nil {
		outcome = "rejected"
	}
	m.submissions.Add(ctx, 1, metric.WithAttributes(
		ProviderAttr(provider),
		KindAttr(kind),
		attribute.String("outcome", outcome),
	))
}

// RecordTransition records an applied terminal transition.
func (m *Metrics) RecordTransition(ctx context.Context, status, code, source string) {
	m.transitions.Add(ctx, 1, metric.WithAttributes(
		StatusAttr(status),
		ErrorCodeAttr(code),
		SourceAttr(source),
	))
}

// RecordNotice records a webhook notice and how it was handled.
func (m *Metrics) RecordNotice(ctx context.Context, provider, result string) {
	m.notices.Add(ctx, 1, metric.WithAttributes(
		ProviderAttr(provider),
		attribute.String("result", result),
	))
}

// RecordPollFailure records a failed status query.
func (m *Metrics) RecordPollFailure(ctx context.Context, provider string) {
	m.pollFailures.Add(ctx, 1, metric.WithAttributes(ProviderAttr(provider)))
}

// RecordRateLimited records a rate-limit retry.
func (m *Metrics) RecordRateLimited(ctx context.Context, provider string) {
	m.rateLimited.Add(ctx, 1, metric.WithAttributes(ProviderAttr(provider)))
}

// RecordSweep records the duration and size of a reconciler sweep.
func (m *Metrics) RecordSweep(ctx context.Context, duration time.Duration, tracked int) {
	m.sweepDuration.Record(ctx, float64(duration.Milliseconds()))
	m.sweepTracked.Record(ctx, int64(tracked))
}
