// Package pipeline runs the construction-stages pipeline: a chain of
// image-to-image stages, optional intermediate images, transition videos
// between adjacent images and a final stitched video.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/maauso/genstudio-api/internal/generation"
	"github.com/maauso/genstudio-api/internal/job"
	"github.com/maauso/genstudio-api/internal/materializer"
	"github.com/maauso/genstudio-api/internal/observability"
	"github.com/maauso/genstudio-api/internal/provider"
	"github.com/maauso/genstudio-api/internal/storage"
)

var (
	// ErrReferenceRequired is returned when a run has no reference image.
	ErrReferenceRequired = errors.New("pipeline: reference image is required")
	// ErrRunNotFound is returned when no job carries the run ID.
	ErrRunNotFound = errors.New("pipeline: run not found")
)

// Defaults.
const (
	DefaultTransitionDuration = "5s"
	DefaultMaxParallel        = 4
)

// Job names recorded for steps that are not construction stages.
const (
	stepIntermediate = "intermediate"
	stepTransition   = "transition"
)

// Generator creates a generation job and waits until it is terminal.
type Generator interface {
	Generate(ctx context.Context, in generation.Input) (*job.Job, error)
	Validate(in generation.Input) error
}

// JobStore reads stored jobs and clears outputs whose files were deleted.
type JobStore interface {
	FindByID(ctx context.Context, id string) (*job.Job, error)
	List(ctx context.Context, f job.Filter) ([]*job.Job, error)
	ReplaceOutputs(ctx context.Context, id string, from, to job.Outputs, at time.Time) (bool, error)
}

// VideoStore persists stitched videos and deletes artifacts.
type VideoStore interface {
	StoreVideoFile(ctx context.Context, id, path string) (job.Outputs, error)
	Discard(ctx context.Context, out job.Outputs) error
}

// Stitcher joins videos and measures them.
type Stitcher interface {
	JoinVideos(ctx context.Context, videoPaths []string, output string) error
	GetMediaDuration(ctx context.Context, path string) (float64, error)
}

// Request starts a pipeline run.
type Request struct {
	ReferenceImageURL  string
	ImageModel         string
	VideoModel         string
	AspectRatio        string
	BasePromptOverride string
	Intermediates      bool
}

// Orchestrator runs construction pipelines and merges finished videos.
type Orchestrator struct {
	gen      Generator
	jobs     JobStore
	videos   VideoStore
	files    storage.Storage
	stitcher Stitcher
	fetcher  materializer.Downloader

	stages             []Stage
	preamble           string
	transitionDuration string
	maxParallel        int

	logger *slog.Logger
	tracer *observability.Tracer
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithStages replaces the stage catalogue.
func WithStages(stages []Stage) Option {
	return func(o *Orchestrator) {
		o.stages = stages
	}
}

// WithPreamble replaces the default consistency preamble.
func WithPreamble(p string) Option {
	return func(o *Orchestrator) {
		o.preamble = p
	}
}

// WithTransitionDuration sets the requested length of each transition video.
func WithTransitionDuration(d string) Option {
	return func(o *Orchestrator) {
		o.transitionDuration = d
	}
}

// WithMaxParallel caps concurrent intermediate and transition generations.
func WithMaxParallel(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.maxParallel = n
		}
	}
}

// WithFetcher sets the downloader used to fetch videos for stitching.
func WithFetcher(d materializer.Downloader) Option {
	return func(o *Orchestrator) {
		o.fetcher = d
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = l
	}
}

// WithTracer sets the tracer.
func WithTracer(t *observability.Tracer) Option {
	return func(o *Orchestrator) {
		o.tracer = t
	}
}

// New creates an Orchestrator.
func New(gen Generator, jobs JobStore, videos VideoStore, files storage.Storage, stitcher Stitcher, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		gen:                gen,
		jobs:               jobs,
		videos:             videos,
		files:              files,
		stitcher:           stitcher,
		fetcher:            materializer.NewHTTPDownloader(nil),
		stages:             Stages(),
		preamble:           Preamble,
		transitionDuration: DefaultTransitionDuration,
		maxParallel:        DefaultMaxParallel,
		logger:             slog.Default(),
		tracer:             observability.NewNoopTracer(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// StageCatalogue returns the configured stages.
func (o *Orchestrator) StageCatalogue() []Stage {
	out := make([]Stage, len(o.stages))
	copy(out, o.stages)
	return out
}

// Run executes a full pipeline. Validation problems are returned as errors;
// a failure inside the run is reported on the result, which then holds every
// unit that completed before it.
func (o *Orchestrator) Run(ctx context.Context, req Request) (*Result, error) {
	if err := o.validate(req); err != nil {
		return nil, err
	}

	res := &Result{RunID: uuid.NewString()}
	logger := o.logger.With(slog.String("run_id", res.RunID))
	logger.Info("pipeline started",
		slog.Int("stages", len(o.stages)),
		slog.Bool("intermediates", req.Intermediates),
	)

	preamble := o.preamble
	if strings.TrimSpace(req.BasePromptOverride) != "" {
		preamble = req.BasePromptOverride
	}

	if !o.runStages(ctx, req, preamble, res) {
		logger.Warn("pipeline stopped", slog.String("unit", string(res.Failure.Unit)), slog.Int("order", res.Failure.Order))
		return res, nil
	}

	sequence := res.stageOutputs()
	if req.Intermediates {
		var ok bool
		sequence, ok = o.runIntermediates(ctx, req, preamble, res)
		if !ok {
			logger.Warn("pipeline stopped", slog.String("unit", string(res.Failure.Unit)), slog.Int("order", res.Failure.Order))
			return res, nil
		}
	}

	if !o.runTransitions(ctx, req, sequence, res) {
		logger.Warn("pipeline stopped", slog.String("unit", string(res.Failure.Unit)), slog.Int("order", res.Failure.Order))
		return res, nil
	}

	o.finish(ctx, res)
	if res.Failure != nil {
		logger.Warn("pipeline stitch failed", slog.String("error", res.Failure.Reason))
		return res, nil
	}
	logger.Info("pipeline completed",
		slog.String("video_url", res.VideoURL),
		slog.Float64("duration_seconds", res.DurationSeconds),
	)
	return res, nil
}

func (o *Orchestrator) validate(req Request) error {
	if strings.TrimSpace(req.ReferenceImageURL) == "" {
		return ErrReferenceRequired
	}
	if err := o.gen.Validate(generation.Input{
		Kind:     provider.KindImageToImage,
		Model:    req.ImageModel,
		Prompt:   o.preamble,
		ImageURL: req.ReferenceImageURL,
	}); err != nil {
		return fmt.Errorf("image model: %w", err)
	}
	if err := o.gen.Validate(generation.Input{
		Kind:        provider.KindImageToVideo,
		Model:       req.VideoModel,
		Prompt:      TransitionPrompt,
		ImageURL:    req.ReferenceImageURL,
		EndFrameURL: req.ReferenceImageURL,
	}); err != nil {
		return fmt.Errorf("video model: %w", err)
	}
	return nil
}

// runStages generates the stages serially. Each stage's input is the
// previous stage's output.
func (o *Orchestrator) runStages(ctx context.Context, req Request, preamble string, res *Result) bool {
	prev := req.ReferenceImageURL
	for _, st := range o.stages {
		sr := StageResult{Order: st.Order, Name: st.Name, DisplayName: st.DisplayName, InputURL: prev}
		if st.Passthrough() {
			sr.OutputURL = prev
			sr.Status = StepSucceeded
			res.Stages = append(res.Stages, sr)
			continue
		}

		sctx, span := o.tracer.StartStage(ctx, res.RunID, st.Order, st.Name)
		strength := st.Strength
		j, err := o.gen.Generate(sctx, generation.Input{
			Kind:       provider.KindImageToImage,
			Model:      req.ImageModel,
			Prompt:     StagePrompt(preamble, st),
			ImageURL:   prev,
			Params:     provider.Params{AspectRatio: req.AspectRatio, Strength: &strength},
			RunID:      res.RunID,
			StageOrder: st.Order,
			StageName:  st.Name,
		})
		out := outcomeOf(j, err, false)
		if err != nil {
			o.tracer.RecordError(span, err)
		}
		span.End()

		sr.JobID = out.jobID
		if out.failed() {
			sr.Status = StepFailed
			sr.Error = out.reason
			sr.ErrorCode = out.code
			res.Stages = append(res.Stages, sr)
			res.Failure = &Failure{Unit: UnitStage, Order: st.Order, Name: st.Name, Reason: out.reason, Code: out.code}
			return false
		}
		sr.Status = StepSucceeded
		sr.OutputURL = out.url
		res.Stages = append(res.Stages, sr)
		prev = out.url
	}
	return true
}

// runIntermediates synthesizes one image between every adjacent pair of
// stages and returns the interleaved image sequence.
func (o *Orchestrator) runIntermediates(ctx context.Context, req Request, preamble string, res *Result) ([]string, bool) {
	pairs := len(res.Stages) - 1
	if pairs < 1 {
		return res.stageOutputs(), true
	}
	results := make([]IntermediateResult, pairs)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.maxParallel)
	for i := 0; i < pairs; i++ {
		from, to := res.Stages[i], res.Stages[i+1]
		g.Go(func() error {
			ir := IntermediateResult{After: from.Order, FromURL: from.OutputURL, ToURL: to.OutputURL}
			j, err := o.gen.Generate(gctx, generation.Input{
				Kind:            provider.KindImageToImage,
				Model:           req.ImageModel,
				Prompt:          IntermediatePrompt(preamble, o.stageByOrder(from.Order), o.stageByOrder(to.Order)),
				ImageURL:        from.OutputURL,
				ReferenceImages: []string{from.OutputURL, to.OutputURL},
				Params:          provider.Params{AspectRatio: req.AspectRatio},
				RunID:           res.RunID,
				StageOrder:      from.Order,
				StageName:       stepIntermediate,
			})
			out := outcomeOf(j, err, false)
			ir.JobID = out.jobID
			if out.failed() {
				ir.Status, ir.Error, ir.ErrorCode = StepFailed, out.reason, out.code
			} else {
				ir.Status, ir.OutputURL = StepSucceeded, out.url
			}
			results[i] = ir
			return nil
		})
	}
	_ = g.Wait()

	res.Intermediates = results
	for _, ir := range results {
		if ir.Status == StepFailed {
			res.Failure = &Failure{Unit: UnitIntermediate, Order: ir.After, Name: stepIntermediate, Reason: ir.Error, Code: ir.ErrorCode}
			return nil, false
		}
	}

	sequence := make([]string, 0, len(res.Stages)+pairs)
	for i, sr := range res.Stages {
		sequence = append(sequence, sr.OutputURL)
		if i < pairs {
			sequence = append(sequence, results[i].OutputURL)
		}
	}
	return sequence, true
}

// runTransitions generates one video per adjacent image pair. Submissions
// run concurrently; the generator paces them against provider slots.
func (o *Orchestrator) runTransitions(ctx context.Context, req Request, sequence []string, res *Result) bool {
	count := len(sequence) - 1
	if count < 1 {
		res.Failure = &Failure{Unit: UnitTransition, Reason: "at least two images are needed for a transition"}
		return false
	}
	results := make([]TransitionResult, count)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.maxParallel)
	for i := 0; i < count; i++ {
		g.Go(func() error {
			tr := TransitionResult{Index: i + 1, FromURL: sequence[i], ToURL: sequence[i+1]}
			j, err := o.gen.Generate(gctx, generation.Input{
				Kind:        provider.KindImageToVideo,
				Model:       req.VideoModel,
				Prompt:      TransitionPrompt,
				ImageURL:    sequence[i],
				EndFrameURL: sequence[i+1],
				Params:      provider.Params{Duration: o.transitionDuration, AspectRatio: req.AspectRatio},
				RunID:       res.RunID,
				StageOrder:  i + 1,
				StageName:   stepTransition,
			})
			out := outcomeOf(j, err, true)
			tr.JobID = out.jobID
			if out.failed() {
				tr.Status, tr.Error, tr.ErrorCode = StepFailed, out.reason, out.code
			} else {
				tr.Status, tr.VideoURL, tr.ThumbnailURL = StepSucceeded, out.url, out.thumbnail
			}
			results[i] = tr
			return nil
		})
	}
	_ = g.Wait()

	res.Transitions = results
	for _, tr := range results {
		if tr.Status == StepFailed {
			res.Failure = &Failure{Unit: UnitTransition, Order: tr.Index, Name: stepTransition, Reason: tr.Error, Code: tr.ErrorCode}
			return false
		}
	}
	return true
}

// finish stitches the transition videos and discards the per-transition files.
func (o *Orchestrator) finish(ctx context.Context, res *Result) {
	refs := make([]string, len(res.Transitions))
	for i, tr := range res.Transitions {
		refs[i] = tr.VideoURL
	}

	ctx, span := o.tracer.StartSpan(ctx, "pipeline.stitch", observability.RunIDAttr(res.RunID))
	defer span.End()

	joined, err := o.join(ctx, res.RunID, refs)
	if err != nil {
		o.tracer.RecordError(span, err)
		res.Failure = &Failure{Unit: UnitStitch, Name: "stitch", Reason: err.Error(), Code: provider.CodeUnknown}
		return
	}
	res.VideoURL = joined.VideoURL
	res.ThumbnailURL = joined.ThumbnailURL
	res.DurationSeconds = joined.DurationSeconds

	for i, tr := range res.Transitions {
		err := o.videos.Discard(ctx, job.Outputs{VideoURL: tr.VideoURL, ThumbnailURL: tr.ThumbnailURL})
		if err != nil {
			o.logger.Warn("transition cleanup failed",
				slog.String("run_id", res.RunID),
				slog.String("job_id", tr.JobID),
				slog.String("error", err.Error()),
			)
			continue
		}
		res.Transitions[i].Discarded = true
		o.clearOutputs(ctx, tr.JobID)
	}
}

// clearOutputs drops the references of a job whose files were deleted, so
// the job no longer points at missing artifacts.
func (o *Orchestrator) clearOutputs(ctx context.Context, jobID string) {
	j, err := o.jobs.FindByID(ctx, jobID)
	if err == nil {
		_, err = o.jobs.ReplaceOutputs(ctx, jobID, j.Outputs, job.Outputs{}, time.Now())
	}
	if err != nil {
		o.logger.Warn("clear transition outputs failed",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
	}
}

func (o *Orchestrator) stageByOrder(order int) Stage {
	for _, st := range o.stages {
		if st.Order == order {
			return st
		}
	}
	return Stage{Order: order}
}

// outcome is the result of one generated step.
type outcome struct {
	jobID     string
	url       string
	thumbnail string
	code      provider.ErrorCode
	reason    string
}

func (o outcome) failed() bool {
	return o.reason != ""
}

func outcomeOf(j *job.Job, err error, video bool) outcome {
	var out outcome
	if j != nil {
		out.jobID = j.ID
	}
	if err != nil {
		out.code = provider.ClassifyError(err)
		out.reason = err.Error()
		return out
	}
	if j == nil {
		out.code, out.reason = provider.CodeUnknown, "no job was created"
		return out
	}

	switch j.Status {
	case job.StatusCompleted:
		out.url, out.thumbnail = j.ImageURL, j.ThumbnailURL
		if video {
			out.url = j.VideoURL
		}
		if out.url == "" {
			out.code, out.reason = provider.CodeGenerationFailed, "job completed without an output"
		}
	case job.StatusFailed:
		out.code, out.reason = j.ErrorCode, j.ErrorMessage
		if out.reason == "" {
			out.reason = "generation failed"
		}
	default:
		out.code, out.reason = provider.CodeTimeout, "job did not finish"
	}
	return out
}
