// Package generation accepts generation requests, creates jobs and submits
// them to the provider that serves the requested model.
package generation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jonboulle/clockwork"

	"github.com/maauso/genstudio-api/internal/job"
	"github.com/maauso/genstudio-api/internal/observability"
	"github.com/maauso/genstudio-api/internal/provider"
	"github.com/maauso/genstudio-api/internal/task"
)

// Validation errors. They are returned before any job is created.
var (
	ErrInvalidKind        = errors.New("generation: unknown generation kind")
	ErrPromptRequired     = errors.New("generation: prompt is required for this kind")
	ErrInputRequired      = errors.New("generation: input media is required for this kind")
	ErrUnsupportedKind    = errors.New("generation: model does not support this kind")
	ErrEndFrameNotAllowed = errors.New("generation: model does not accept an end frame")
)

// Transition sources recorded by this package.
const (
	sourceSubmission = "submission"
	sourceManual     = "manual"
)

// Resolver maps model names to adapters.
type Resolver interface {
	Resolve(model string) (provider.Entry, error)
	DefaultFor(kind provider.Kind, preferred string) (provider.Entry, error)
}

// Tracker applies terminal transitions and polls jobs.
type Tracker interface {
	PollJob(ctx context.Context, id, source string) (*job.Job, error)
	WaitForCompletion(ctx context.Context, id string) (*job.Job, error)
	Complete(ctx context.Context, id string, a provider.Artifacts, source string) (*job.Job, error)
	Fail(ctx context.Context, id string, code provider.ErrorCode, msg, source string) (bool, error)
}

// Pacer gates provider submissions.
type Pacer interface {
	Submit(ctx context.Context, a provider.Adapter, req provider.Request) (provider.SubmitResult, error)
	Release(handle string)
}

// Armer re-arms the reconcile sweep.
type Armer interface {
	Arm()
}

// Discarder deletes durable artifacts.
type Discarder interface {
	Discard(ctx context.Context, out job.Outputs) error
}

// Input is a generation request.
type Input struct {
	Kind              provider.Kind
	Model             string
	Provider          string // preferred provider when Model is empty
	Prompt            string
	NegativePrompt    string
	ImageURL          string
	EndFrameURL       string
	VideoURL          string
	CharacterImageURL string
	ReferenceImages   []string
	Params            provider.Params

	RunID            string
	StageOrder       int
	StageName        string
	AutoPostTargetID string
}

// Service creates and manages generation jobs.
type Service struct {
	repo      job.Repository
	models    Resolver
	tracker   Tracker
	artifacts Discarder
	sweeps    Armer
	pacer     Pacer
	tasks     *task.Supervisor
	clock     clockwork.Clock
	logger    *slog.Logger
	tracer    *observability.Tracer
	metrics   *observability.Metrics
}

// Option configures a Service.
type Option func(*Service)

// WithPacer routes video submissions made by Generate through p.
func WithPacer(p Pacer) Option {
	return func(s *Service) {
		s.pacer = p
	}
}

// WithSweeps sets the sweep scheduler armed on every new job.
func WithSweeps(a Armer) Option {
	return func(s *Service) {
		s.sweeps = a
	}
}

// WithSupervisor runs Create's provider submission in the background.
func WithSupervisor(t *task.Supervisor) Option {
	return func(s *Service) {
		s.tasks = t
	}
}

// WithClock sets the clock.
func WithClock(c clockwork.Clock) Option {
	return func(s *Service) {
		s.clock = c
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		s.logger = l
	}
}

// WithTelemetry sets the tracer and metric recorders.
func WithTelemetry(t *observability.Telemetry) Option {
	return func(s *Service) {
		s.tracer = t.Tracer()
		s.metrics = t.Metrics()
	}
}

// NewService creates a Service.
func NewService(repo job.Repository, models Resolver, tracker Tracker, artifacts Discarder, opts ...Option) *Service {
	s := &Service{
		repo:      repo,
		models:    models,
		tracker:   tracker,
		artifacts: artifacts,
		clock:     clockwork.NewRealClock(),
		logger:    slog.Default(),
		tracer:    observability.NewNoopTracer(),
		metrics:   observability.NewNoopMetrics(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create validates the input, records an in-progress job and submits it.
// The submission runs in the background when a supervisor is configured, so
// the returned job is always in_progress.
func (s *Service) Create(ctx context.Context, in Input) (*job.Job, error) {
	j, entry, err := s.prepare(ctx, in)
	if err != nil {
		return nil, err
	}
	snapshot := j.Clone()

	submit := func(ctx context.Context) error {
		return s.submit(ctx, j, entry.Adapter, false)
	}
	if s.tasks != nil {
		if err := s.tasks.Go("submit", j.ID, submit); err == nil {
			return snapshot, nil
		}
	}
	if err := submit(ctx); err != nil {
		s.logger.Warn("submission failed", slog.String("job_id", j.ID), slog.String("error", err.Error()))
	}
	return snapshot, nil
}

// Generate creates a job, submits it and waits until it is terminal. Video
// submissions go through the pacer when one is configured.
func (s *Service) Generate(ctx context.Context, in Input) (*job.Job, error) {
	j, entry, err := s.prepare(ctx, in)
	if err != nil {
		return nil, err
	}
	if err := s.submit(ctx, j, entry.Adapter, true); err != nil {
		return s.repo.FindByID(ctx, j.ID)
	}

	done, err := s.tracker.WaitForCompletion(ctx, j.ID)
	if s.pacer != nil && j.Kind.IsVideo() {
		if stored, ferr := s.repo.FindByID(context.WithoutCancel(ctx), j.ID); ferr == nil && stored.Handle() != "" {
			s.pacer.Release(stored.Handle())
		}
	}
	return done, err
}

// Validate checks an input without creating a job.
func (s *Service) Validate(in Input) error {
	_, err := s.resolve(in)
	return err
}

func (s *Service) prepare(ctx context.Context, in Input) (*job.Job, provider.Entry, error) {
	entry, err := s.resolve(in)
	if err != nil {
		return nil, provider.Entry{}, err
	}

	req := provider.Request{
		Kind:              in.Kind,
		Model:             entry.Spec.ID,
		Prompt:            strings.TrimSpace(in.Prompt),
		NegativePrompt:    in.NegativePrompt,
		ImageURL:          in.ImageURL,
		EndFrameURL:       in.EndFrameURL,
		VideoURL:          in.VideoURL,
		CharacterImageURL: in.CharacterImageURL,
		ReferenceImages:   in.ReferenceImages,
		Params:            entry.Spec.Normalize(in.Params),
	}

	j := job.New(entry.Adapter.Name(), req, s.clock.Now())
	if in.RunID != "" {
		runID := in.RunID
		j.RunID = &runID
		j.StageOrder = in.StageOrder
		j.StageName = in.StageName
	}
	if in.AutoPostTargetID != "" {
		target := in.AutoPostTargetID
		j.AutoPostTargetID = &target
		j.AutoPostStatus = "pending"
	}

	if err := s.repo.Create(ctx, j); err != nil {
		return nil, provider.Entry{}, fmt.Errorf("create job: %w", err)
	}
	if s.sweeps != nil {
		s.sweeps.Arm()
	}

	s.logger.Info("job created",
		slog.String("job_id", j.ID),
		slog.String("kind", string(j.Kind)),
		slog.String("provider", j.Provider),
		slog.String("model", j.Model),
	)
	return j, entry, nil
}

func (s *Service) resolve(in Input) (provider.Entry, error) {
	if !in.Kind.IsValid() {
		return provider.Entry{}, fmt.Errorf("%w: %q", ErrInvalidKind, in.Kind)
	}
	if in.Kind.RequiresPrompt() && strings.TrimSpace(in.Prompt) == "" {
		return provider.Entry{}, fmt.Errorf("%w: %s", ErrPromptRequired, in.Kind)
	}
	if err := requireInputs(in); err != nil {
		return provider.Entry{}, err
	}

	var (
		entry provider.Entry
		err   error
	)
	if strings.TrimSpace(in.Model) == "" {
		entry, err = s.models.DefaultFor(in.Kind, in.Provider)
	} else {
		entry, err = s.models.Resolve(in.Model)
	}
	if err != nil {
		return provider.Entry{}, err
	}

	if !entry.Spec.Supports(in.Kind) {
		return provider.Entry{}, fmt.Errorf("%w: %s cannot do %s", ErrUnsupportedKind, entry.Spec.DisplayName, in.Kind)
	}
	if in.EndFrameURL != "" && !entry.Spec.EndFrame {
		return provider.Entry{}, fmt.Errorf("%w: %s", ErrEndFrameNotAllowed, entry.Spec.DisplayName)
	}
	return entry, nil
}

func requireInputs(in Input) error {
	var missing string
	switch in.Kind {
	case provider.KindImageToVideo:
		if in.ImageURL == "" {
			missing = "image_url"
		}
	case provider.KindVideoToVideo:
		if in.VideoURL == "" {
			missing = "video_url"
		}
	case provider.KindMotionControl:
		if in.VideoURL == "" {
			missing = "video_url"
		} else if in.CharacterImageURL == "" {
			missing = "character_image_url"
		}
	case provider.KindImageToImage:
		if in.ImageURL == "" && len(in.ReferenceImages) == 0 {
			missing = "image_url"
		}
	}
	if missing != "" {
		return fmt.Errorf("%w: %s needs %s", ErrInputRequired, in.Kind, missing)
	}
	return nil
}

// submit hands a job to its adapter. Submission errors fail the job with a
// classified code; an immediate result completes it; a handle is recorded
// for polling.
func (s *Service) submit(ctx context.Context, j *job.Job, a provider.Adapter, paced bool) error {
	ctx, span := s.tracer.StartSubmit(ctx, j.ID, j.Provider, string(j.Kind))
	defer span.End()

	req := j.Request()
	var (
		res provider.SubmitResult
		err error
	)
	if paced && s.pacer != nil && j.Kind.IsVideo() {
		res, err = s.pacer.Submit(ctx, a, req)
	} else {
		res, err = a.Submit(ctx, req)
		s.metrics.RecordSubmission(ctx, a.Name(), string(j.Kind), err)
	}

	if err != nil {
		s.tracer.RecordError(span, err)
		code := provider.ClassifyError(err)
		if _, ferr := s.tracker.Fail(context.WithoutCancel(ctx), j.ID, code, err.Error(), sourceSubmission); ferr != nil {
			return errors.Join(err, ferr)
		}
		return err
	}

	if res.Immediate != nil {
		_, err := s.tracker.Complete(ctx, j.ID, *res.Immediate, sourceSubmission)
		return err
	}
	if res.Handle == "" {
		_, err := s.tracker.Fail(ctx, j.ID, provider.CodeUnknown, "provider returned neither a handle nor a result", sourceSubmission)
		return errors.Join(provider.ErrInvalidHandle, err)
	}

	if err := s.repo.SetHandle(ctx, j.ID, res.Handle, s.clock.Now()); err != nil {
		return fmt.Errorf("record handle: %w", err)
	}
	if s.sweeps != nil {
		s.sweeps.Arm()
	}
	s.logger.Info("job submitted",
		slog.String("job_id", j.ID),
		slog.String("provider", j.Provider),
		slog.String("handle", res.Handle),
	)
	return nil
}

// Get returns a job.
func (s *Service) Get(ctx context.Context, id string) (*job.Job, error) {
	return s.repo.FindByID(ctx, id)
}

// List returns jobs matching f, newest first.
func (s *Service) List(ctx context.Context, f job.Filter) ([]*job.Job, error) {
	return s.repo.List(ctx, f)
}

// CheckStatus polls a job once outside the sweep.
func (s *Service) CheckStatus(ctx context.Context, id string) (*job.Job, error) {
	return s.tracker.PollJob(ctx, id, sourceManual)
}

// Delete removes a job and best-effort deletes its durable artifacts.
func (s *Service) Delete(ctx context.Context, id string) error {
	j, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if err := s.artifacts.Discard(ctx, j.Outputs); err != nil {
		s.logger.Warn("artifact cleanup failed",
			slog.String("job_id", id),
			slog.String("error", err.Error()),
		)
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.logger.Info("job deleted", slog.String("job_id", id))
	return nil
}

// BulkDeleteResult reports a bulk delete.
type BulkDeleteResult struct {
	Deleted  []string
	NotFound []string
}

// BulkDelete deletes every listed job. Missing jobs are reported, not fatal.
func (s *Service) BulkDelete(ctx context.Context, ids []string) (BulkDeleteResult, error) {
	var res BulkDeleteResult
	for _, id := range ids {
		err := s.Delete(ctx, id)
		switch {
		case err == nil:
			res.Deleted = append(res.Deleted, id)
		case errors.Is(err, job.ErrJobNotFound):
			res.NotFound = append(res.NotFound, id)
		default:
			return res, fmt.Errorf("delete job %s: %w", id, err)
		}
	}
	return res, nil
}
