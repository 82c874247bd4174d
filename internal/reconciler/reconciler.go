// Package reconciler drives in-progress jobs to a terminal state. Polling
// sweeps, webhook notices, manual checks and pipeline waits all go through
// the same Reconciler, so every writer applies the same first-writer-wins
// transition rule.
package reconciler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"github.com/maauso/genstudio-api/internal/job"
	"github.com/maauso/genstudio-api/internal/materializer"
	"github.com/maauso/genstudio-api/internal/observability"
	"github.com/maauso/genstudio-api/internal/provider"
	"github.com/maauso/genstudio-api/internal/task"
)

// Sources label which path applied a transition.
const (
	SourceReconciler = "reconciler"
	SourceWebhook    = "webhook"
	SourceManual     = "manual"
	SourcePipeline   = "pipeline"
)

// Defaults.
const (
	DefaultBatchSize        = 20
	DefaultMaxAge           = 30 * time.Minute
	DefaultFailureThreshold = 3
	DefaultFastInterval     = 5 * time.Second
	DefaultSlowInterval     = 10 * time.Second
	DefaultFastWindow       = 30 * time.Second
	DefaultMaxAttempts      = 120
	DefaultPollConcurrency  = 4
)

// AdapterSource looks up the adapter that owns a job.
type AdapterSource interface {
	Adapter(name string) (provider.Adapter, error)
}

// Materializer stores finished artifacts durably.
type Materializer interface {
	Materialize(ctx context.Context, jobID string, kind provider.Kind, a provider.Artifacts) (materializer.Result, error)
}

// Reconciler polls providers and applies terminal transitions.
type Reconciler struct {
	repo         job.Repository
	adapters     AdapterSource
	materializer Materializer
	tasks        *task.Supervisor
	clock        clockwork.Clock
	logger       *slog.Logger
	tracer       *observability.Tracer
	metrics      *observability.Metrics

	batchSize        int
	maxAge           time.Duration
	failureThreshold int
	fastInterval     time.Duration
	slowInterval     time.Duration
	fastWindow       time.Duration
	maxAttempts      int
	pollConcurrency  int
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithClock sets the clock used for ages and poll intervals.
func WithClock(c clockwork.Clock) Option {
	return func(r *Reconciler) {
		r.clock = c
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Reconciler) {
		r.logger = l
	}
}

// WithTelemetry sets the tracer and metric recorders.
func WithTelemetry(t *observability.Telemetry) Option {
	return func(r *Reconciler) {
		r.tracer = t.Tracer()
		r.metrics = t.Metrics()
	}
}

// WithSupervisor runs webhook materialization as supervised background tasks.
// Without one it runs before HandleNotice returns.
func WithSupervisor(s *task.Supervisor) Option {
	return func(r *Reconciler) {
		r.tasks = s
	}
}

// WithBatchSize caps how many jobs one sweep polls.
func WithBatchSize(n int) Option {
	return func(r *Reconciler) {
		if n > 0 {
			r.batchSize = n
		}
	}
}

// WithMaxAge sets the age after which in-progress jobs fail with TIMEOUT.
func WithMaxAge(d time.Duration) Option {
	return func(r *Reconciler) {
		if d > 0 {
			r.maxAge = d
		}
	}
}

// WithPollConcurrency caps how many jobs one sweep polls at once.
func WithPollConcurrency(n int) Option {
	return func(r *Reconciler) {
		if n > 0 {
			r.pollConcurrency = n
		}
	}
}

// WithFailureThreshold sets how many consecutive poll errors fail a job.
func WithFailureThreshold(n int) Option {
	return func(r *Reconciler) {
		if n > 0 {
			r.failureThreshold = n
		}
	}
}

// WithWaitSchedule configures WaitForCompletion: poll every fast while the
// job is younger than window, then every slow, giving up after maxAttempts.
func WithWaitSchedule(fast, slow, window time.Duration, maxAttempts int) Option {
	return func(r *Reconciler) {
		r.fastInterval = fast
		r.slowInterval = slow
		r.fastWindow = window
		if maxAttempts > 0 {
			r.maxAttempts = maxAttempts
		}
	}
}

// New creates a Reconciler.
func New(repo job.Repository, adapters AdapterSource, m Materializer, opts ...Option) *Reconciler {
	r := &Reconciler{
		repo:             repo,
		adapters:         adapters,
		materializer:     m,
		clock:            clockwork.NewRealClock(),
		logger:           slog.Default(),
		tracer:           observability.NewNoopTracer(),
		metrics:          observability.NewNoopMetrics(),
		batchSize:        DefaultBatchSize,
		maxAge:           DefaultMaxAge,
		failureThreshold: DefaultFailureThreshold,
		fastInterval:     DefaultFastInterval,
		slowInterval:     DefaultSlowInterval,
		fastWindow:       DefaultFastWindow,
		maxAttempts:      DefaultMaxAttempts,
		pollConcurrency:  DefaultPollConcurrency,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Sweep abandons jobs past the age ceiling and polls the oldest in-progress
// jobs holding a handle, up to pollConcurrency at a time. It returns how many
// jobs are still in progress afterwards, handle-less ones included, so the
// scheduler keeps sweeping until each of them finishes or times out.
func (r *Reconciler) Sweep(ctx context.Context) (int, error) {
	ctx, span := r.tracer.StartSweep(ctx)
	defer span.End()
	start := r.clock.Now()

	stale, err := r.repo.ListStale(ctx, start.Add(-r.maxAge))
	if err != nil {
		r.tracer.RecordError(span, err)
		return 0, fmt.Errorf("list stale jobs: %w", err)
	}
	for _, j := range stale {
		if err := r.abandon(ctx, j, fmt.Sprintf("job exceeded maximum age of %s", r.maxAge), SourceReconciler); err != nil {
			r.logger.Error("abandon job failed", slog.String("job_id", j.ID), slog.String("error", err.Error()))
		}
	}

	pollable, err := r.repo.ListPollable(ctx, r.batchSize)
	if err != nil {
		r.tracer.RecordError(span, err)
		return 0, fmt.Errorf("list pollable jobs: %w", err)
	}

	var g errgroup.Group
	g.SetLimit(r.pollConcurrency)
	for _, j := range pollable {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if _, err := r.poll(ctx, j, SourceReconciler); err != nil {
				r.logger.Error("poll job failed", slog.String("job_id", j.ID), slog.String("error", err.Error()))
			}
			return nil
		})
	}
	_ = g.Wait()

	remaining, err := r.repo.CountInProgress(ctx)
	if err != nil {
		r.tracer.RecordError(span, err)
		return 0, fmt.Errorf("count in-progress jobs: %w", err)
	}

	r.metrics.RecordSweep(ctx, r.clock.Since(start), len(pollable))
	r.logger.Debug("reconcile sweep finished",
		slog.Int("abandoned", len(stale)),
		slog.Int("polled", len(pollable)),
		slog.Int("in_progress", remaining),
	)
	return remaining, ctx.Err()
}

// PollJob polls one job once and applies the result. It returns the job as
// stored afterwards. Provider errors are counted against the job rather than
// returned; an error means the job could not be read or written.
func (r *Reconciler) PollJob(ctx context.Context, id, source string) (*job.Job, error) {
	j, err := r.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return r.poll(ctx, j, source)
}

func (r *Reconciler) poll(ctx context.Context, j *job.Job, source string) (*job.Job, error) {
	if j.IsTerminal() {
		return j, nil
	}
	if j.Age(r.clock.Now()) > r.maxAge {
		if err := r.abandon(ctx, j, fmt.Sprintf("job exceeded maximum age of %s", r.maxAge), source); err != nil {
			return nil, err
		}
		return r.repo.FindByID(ctx, j.ID)
	}
	handle := j.Handle()
	if handle == "" {
		return j, nil
	}

	ctx, span := r.tracer.StartPoll(ctx, j.ID, j.Provider)
	defer span.End()

	adapter, err := r.adapters.Adapter(j.Provider)
	if err == nil {
		var res provider.PollResult
		res, err = adapter.Poll(ctx, handle)
		if err == nil {
			if j.PollFailures > 0 {
				if err := r.repo.ResetPollFailures(ctx, j.ID); err != nil {
					return nil, err
				}
			}
			if err := r.apply(ctx, j, res.State, res.Artifacts, res.Reason, res.Code, source, false); err != nil {
				r.tracer.RecordError(span, err)
				return nil, err
			}
			return r.repo.FindByID(ctx, j.ID)
		}
	}

	r.tracer.RecordError(span, err)
	if err := r.pollFailed(ctx, j, err, source); err != nil {
		return nil, err
	}
	return r.repo.FindByID(ctx, j.ID)
}

// WaitForCompletion polls a job until it is terminal. Young jobs are polled
// on the fast interval and older ones on the slow interval; after the attempt
// cap the job fails with TIMEOUT.
func (r *Reconciler) WaitForCompletion(ctx context.Context, id string) (*job.Job, error) {
	for attempt := 1; ; attempt++ {
		j, err := r.PollJob(ctx, id, SourcePipeline)
		if err != nil {
			return nil, err
		}
		if j.IsTerminal() {
			return j, nil
		}
		if attempt >= r.maxAttempts {
			msg := fmt.Sprintf("no result after %d status checks", attempt)
			if err := r.abandon(ctx, j, msg, SourcePipeline); err != nil {
				return nil, err
			}
			return r.repo.FindByID(ctx, id)
		}

		interval := r.slowInterval
		if j.Age(r.clock.Now()) < r.fastWindow {
			interval = r.fastInterval
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-r.clock.After(interval):
		}
	}
}

// apply moves a job according to a provider state. When background is set,
// materialization after a won completion runs on the supervisor.
func (r *Reconciler) apply(ctx context.Context, j *job.Job, state provider.State, a provider.Artifacts, reason string, code provider.ErrorCode, source string, background bool) error {
	switch state {
	case provider.StateSucceeded:
		return r.complete(ctx, j, a, source, background)
	case provider.StateFailed:
		if code == "" {
			code = provider.Classify(0, reason)
		}
		if code == provider.CodeUnknown {
			code = provider.CodeGenerationFailed
		}
		if reason == "" {
			reason = "provider reported the generation as failed"
		}
		return r.fail(ctx, j, code, reason, source)
	default:
		return nil
	}
}

// complete claims the completion with the transient references first. Only
// the writer that wins the claim materializes, then swaps in durable
// references if the stored outputs are still the transient ones.
func (r *Reconciler) complete(ctx context.Context, j *job.Job, a provider.Artifacts, source string, background bool) error {
	if a.IsEmpty() {
		return r.fail(ctx, j, provider.CodeGenerationFailed, provider.ErrNoArtifact.Error(), source)
	}

	if a.HasInline() {
		res, err := r.materializer.Materialize(ctx, j.ID, j.Kind, a)
		if err != nil {
			return r.fail(ctx, j, provider.CodeUnknown, fmt.Sprintf("store artifact: %v", err), source)
		}
		_, err = r.transition(ctx, j, job.StatusCompleted, job.Update{Outputs: res.Outputs}, source)
		return err
	}

	transient := materializer.Transient(j.Kind, a)
	applied, err := r.transition(ctx, j, job.StatusCompleted, job.Update{Outputs: transient}, source)
	if err != nil || !applied {
		return err
	}

	if background && r.tasks != nil {
		detached := j.Clone()
		err := r.tasks.Go("materialize", j.ID, func(ctx context.Context) error {
			return r.materialize(ctx, detached, a, transient)
		})
		if err == nil {
			return nil
		}
		r.logger.Warn("background materialization unavailable, running inline",
			slog.String("job_id", j.ID),
			slog.String("error", err.Error()),
		)
	}
	if err := r.materialize(ctx, j, a, transient); err != nil {
		r.logger.Warn("keeping transient outputs",
			slog.String("job_id", j.ID),
			slog.String("error", err.Error()),
		)
	}
	return nil
}

func (r *Reconciler) materialize(ctx context.Context, j *job.Job, a provider.Artifacts, transient job.Outputs) error {
	res, err := r.materializer.Materialize(ctx, j.ID, j.Kind, a)
	if !res.Durable {
		if err == nil {
			err = materializer.ErrDegraded
		}
		return err
	}

	applied, err := r.repo.ReplaceOutputs(ctx, j.ID, transient, res.Outputs, r.clock.Now())
	if err != nil {
		return fmt.Errorf("record durable outputs: %w", err)
	}
	if !applied {
		r.logger.Warn("durable outputs not recorded, job changed meanwhile", slog.String("job_id", j.ID))
		return nil
	}
	r.logger.Info("artifacts materialized",
		slog.String("job_id", j.ID),
		slog.String("video_url", res.Outputs.VideoURL),
		slog.String("image_url", res.Outputs.ImageURL),
	)
	return nil
}

func (r *Reconciler) pollFailed(ctx context.Context, j *job.Job, pollErr error, source string) error {
	r.metrics.RecordPollFailure(ctx, j.Provider)
	n, err := r.repo.RecordPollFailure(ctx, j.ID)
	if errors.Is(err, job.ErrAlreadyTerminal) {
		return nil
	}
	if err != nil {
		return err
	}

	r.logger.Warn("status poll failed",
		slog.String("job_id", j.ID),
		slog.String("provider", j.Provider),
		slog.Int("consecutive_failures", n),
		slog.String("error", pollErr.Error()),
	)
	if n < r.failureThreshold {
		return nil
	}
	msg := fmt.Sprintf("status polling failed %d times in a row: %v", n, pollErr)
	return r.fail(ctx, j, provider.CodePollingError, msg, source)
}

func (r *Reconciler) abandon(ctx context.Context, j *job.Job, msg, source string) error {
	return r.fail(ctx, j, provider.CodeTimeout, msg, source)
}

// Fail marks a job failed unless another writer finished it first.
func (r *Reconciler) Fail(ctx context.Context, id string, code provider.ErrorCode, msg, source string) (bool, error) {
	j, err := r.repo.FindByID(ctx, id)
	if err != nil {
		return false, err
	}
	return r.transition(ctx, j, job.StatusFailed, job.Update{ErrorCode: code, ErrorMessage: msg}, source)
}

// Complete records finished artifacts for a job through the same claim and
// materialize path used for polled results.
func (r *Reconciler) Complete(ctx context.Context, id string, a provider.Artifacts, source string) (*job.Job, error) {
	j, err := r.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := r.complete(ctx, j, a, source, false); err != nil {
		return nil, err
	}
	return r.repo.FindByID(ctx, id)
}

func (r *Reconciler) fail(ctx context.Context, j *job.Job, code provider.ErrorCode, msg, source string) error {
	_, err := r.transition(ctx, j, job.StatusFailed, job.Update{ErrorCode: code, ErrorMessage: msg}, source)
	return err
}

func (r *Reconciler) transition(ctx context.Context, j *job.Job, to job.Status, u job.Update, source string) (bool, error) {
	applied, err := r.repo.Transition(ctx, j.ID, to, u, r.clock.Now())
	if err != nil {
		return false, fmt.Errorf("transition job %s: %w", j.ID, err)
	}
	if !applied {
		r.logger.Debug("transition skipped, job already terminal",
			slog.String("job_id", j.ID),
			slog.String("source", source),
		)
		return false, nil
	}

	r.metrics.RecordTransition(ctx, string(to), string(u.ErrorCode), source)
	attrs := []any{
		slog.String("job_id", j.ID),
		slog.String("provider", j.Provider),
		slog.String("status", string(to)),
		slog.String("source", source),
	}
	if to == job.StatusFailed {
		attrs = append(attrs, slog.String("error_code", string(u.ErrorCode)), slog.String("error", u.ErrorMessage))
		r.logger.Warn("job failed", attrs...)
	} else {
		r.logger.Info("job completed", attrs...)
	}
	return true, nil
}
