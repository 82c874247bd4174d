// Package materializer copies provider-hosted transient artifacts into
// durable storage and derives thumbnails.
package materializer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/maauso/genstudio-api/internal/job"
	"github.com/maauso/genstudio-api/internal/observability"
	"github.com/maauso/genstudio-api/internal/provider"
	"github.com/maauso/genstudio-api/internal/storage"
)

// Static errors for materialization.
var (
	// ErrNoArtifact is returned when the provider reported nothing to store.
	ErrNoArtifact = errors.New("materializer: no artifact to materialize")
	// ErrDegraded is returned alongside transient outputs when durable
	// storage could not be used.
	ErrDegraded = errors.New("materializer: durable storage unavailable, keeping transient references")
)

// DefaultThumbnailOffset is where derived thumbnails are taken from.
const DefaultThumbnailOffset = 500 * time.Millisecond

// Artifact roles used in storage keys.
const (
	RoleVideo     = "video"
	RoleImage     = "image"
	RoleThumbnail = "thumbnail"
)

// FrameExtractor grabs a still frame from a video file.
type FrameExtractor interface {
	ExtractFrame(ctx context.Context, videoPath string, offset time.Duration) ([]byte, error)
}

// Result is the outcome of a materialization.
type Result struct {
	Outputs job.Outputs
	// Durable is false when Outputs still point at provider-hosted URLs.
	Durable bool
}

// Materializer copies artifacts into durable storage.
type Materializer struct {
	store           storage.Storage
	fallback        storage.Storage
	frames          FrameExtractor
	downloader      Downloader
	thumbnailOffset time.Duration
	logger          *slog.Logger
	tracer          *observability.Tracer
}

// Option configures a Materializer.
type Option func(*Materializer)

// WithDownloader sets the transient artifact downloader.
func WithDownloader(d Downloader) Option {
	return func(m *Materializer) {
		m.downloader = d
	}
}

// WithFallback sets a store used when the primary store rejects an upload.
func WithFallback(s storage.Storage) Option {
	return func(m *Materializer) {
		m.fallback = s
	}
}

// WithThumbnailOffset sets where derived thumbnails are taken from.
func WithThumbnailOffset(d time.Duration) Option {
	return func(m *Materializer) {
		m.thumbnailOffset = d
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Materializer) {
		m.logger = l
	}
}

// WithTracer sets the tracer.
func WithTracer(t *observability.Tracer) Option {
	return func(m *Materializer) {
		m.tracer = t
	}
}

// New creates a Materializer.
func New(store storage.Storage, frames FrameExtractor, opts ...Option) *Materializer {
	m := &Materializer{
		store:           store,
		frames:          frames,
		downloader:      NewHTTPDownloader(nil),
		thumbnailOffset: DefaultThumbnailOffset,
		logger:          slog.Default(),
		tracer:          observability.NewNoopTracer(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Transient returns the outputs a job can serve straight from the provider.
// A missing thumbnail falls back to the primary artifact.
func Transient(kind provider.Kind, a provider.Artifacts) job.Outputs {
	var out job.Outputs
	primary := primaryRef(kind, a)
	if kind.IsVideo() {
		out.VideoURL = primary
	} else {
		out.ImageURL = primary
	}
	out.ThumbnailURL = a.ThumbnailURL
	if out.ThumbnailURL == "" {
		out.ThumbnailURL = primary
	}
	return out
}

func primaryRef(kind provider.Kind, a provider.Artifacts) string {
	if kind.IsVideo() {
		if a.VideoURL != "" {
			return a.VideoURL
		}
		return a.ImageURL
	}
	if a.ImageURL != "" {
		return a.ImageURL
	}
	return a.VideoURL
}

// Materialize stores the artifacts of a finished job durably.
//
// It always returns a usable Result when the provider reported a URL: on any
// storage failure the transient references are returned with Durable=false
// and a non-nil error describing the degradation. Inline artifacts have no
// transient form, so failing to store them returns an error and no outputs.
func (m *Materializer) Materialize(ctx context.Context, jobID string, kind provider.Kind, a provider.Artifacts) (Result, error) {
	ctx, span := m.tracer.StartMaterialize(ctx, jobID)
	defer span.End()

	var (
		res Result
		err error
	)
	switch {
	case a.HasInline():
		res, err = m.materializeInline(ctx, jobID, kind, a)
	case primaryRef(kind, a) != "":
		res, err = m.materializeRemote(ctx, jobID, kind, a)
	default:
		err = ErrNoArtifact
	}
	m.tracer.RecordError(span, err)
	return res, err
}

func (m *Materializer) materializeInline(ctx context.Context, jobID string, kind provider.Kind, a provider.Artifacts) (Result, error) {
	if kind.IsVideo() {
		return m.storeVideo(ctx, jobID, a.Data, a.MIMEType, nil, "")
	}

	url, err := m.upload(ctx, jobID, RoleImage, a.Data, a.MIMEType)
	if err != nil {
		return Result{}, fmt.Errorf("store inline image: %w", err)
	}
	return Result{Outputs: job.Outputs{ImageURL: url, ThumbnailURL: url}, Durable: true}, nil
}

func (m *Materializer) materializeRemote(ctx context.Context, jobID string, kind provider.Kind, a provider.Artifacts) (Result, error) {
	transient := Transient(kind, a)
	primary := primaryRef(kind, a)

	var (
		data, thumb     []byte
		mime, thumbMIME string
	)

	// Provider thumbnails are optional; losing one only means deriving a frame.
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		data, mime, err = m.downloader.Download(gctx, primary, a.Headers)
		return err
	})
	if a.ThumbnailURL != "" && a.ThumbnailURL != primary {
		g.Go(func() error {
			var err error
			thumb, thumbMIME, err = m.downloader.Download(gctx, a.ThumbnailURL, a.Headers)
			if err != nil {
				m.logger.Warn("provider thumbnail download failed",
					slog.String("job_id", jobID),
					slog.String("error", err.Error()),
				)
				thumb = nil
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Result{Outputs: transient}, fmt.Errorf("%w: %w", ErrDegraded, err)
	}

	if kind.IsVideo() {
		res, err := m.storeVideo(ctx, jobID, data, mime, thumb, thumbMIME)
		if err != nil {
			return Result{Outputs: transient}, fmt.Errorf("%w: %w", ErrDegraded, err)
		}
		return res, nil
	}

	url, err := m.upload(ctx, jobID, RoleImage, data, mime)
	if err != nil {
		return Result{Outputs: transient}, fmt.Errorf("%w: %w", ErrDegraded, err)
	}
	out := job.Outputs{ImageURL: url, ThumbnailURL: url}
	if len(thumb) > 0 {
		if thumbURL, err := m.upload(ctx, jobID, RoleThumbnail, thumb, thumbMIME); err == nil {
			out.ThumbnailURL = thumbURL
		}
	}
	return Result{Outputs: out, Durable: true}, nil
}

// storeVideo uploads a video and its thumbnail concurrently. A missing
// thumbnail is derived from a frame; a failed thumbnail upload falls back to
// the video URL.
func (m *Materializer) storeVideo(ctx context.Context, jobID string, data []byte, mime string, thumb []byte, thumbMIME string) (Result, error) {
	if len(thumb) == 0 {
		thumb = m.deriveThumbnail(ctx, jobID, data)
		thumbMIME = "image/jpeg"
	}

	var videoURL, thumbURL string
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		videoURL, err = m.upload(gctx, jobID, RoleVideo, data, mime)
		return err
	})
	if len(thumb) > 0 {
		g.Go(func() error {
			var err error
			thumbURL, err = m.upload(gctx, jobID, RoleThumbnail, thumb, thumbMIME)
			if err != nil {
				m.logger.Warn("thumbnail upload failed, using video reference",
					slog.String("job_id", jobID),
					slog.String("error", err.Error()),
				)
				thumbURL = ""
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Result{}, err
	}

	if thumbURL == "" {
		thumbURL = videoURL
	}
	return Result{Outputs: job.Outputs{VideoURL: videoURL, ThumbnailURL: thumbURL}, Durable: true}, nil
}

// StoreVideoFile uploads a local video file (a stitched pipeline output) with
// a derived thumbnail.
func (m *Materializer) StoreVideoFile(ctx context.Context, jobID, path string) (job.Outputs, error) {
	data, err := os.ReadFile(path) // #nosec G304 - path is produced by the pipeline
	if err != nil {
		return job.Outputs{}, fmt.Errorf("read video: %w", err)
	}
	res, err := m.storeVideo(ctx, jobID, data, "video/mp4", nil, "")
	if err != nil {
		return job.Outputs{}, err
	}
	return res.Outputs, nil
}

func (m *Materializer) deriveThumbnail(ctx context.Context, jobID string, video []byte) []byte {
	if m.frames == nil || len(video) == 0 {
		return nil
	}
	path, err := m.store.SaveTemp(ctx, "thumb_src_"+jobID, bytes.NewReader(video))
	if err != nil {
		m.logger.Warn("thumbnail source write failed",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		return nil
	}
	defer func() { _ = m.store.CleanupTemp(context.Background(), []string{path}) }()

	frame, err := m.frames.ExtractFrame(ctx, path, m.thumbnailOffset)
	if err != nil {
		m.logger.Warn("thumbnail extraction failed",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		return nil
	}
	return frame
}

// upload stores data under a stable key, retrying once on the fallback store.
func (m *Materializer) upload(ctx context.Context, jobID, role string, data []byte, mime string) (string, error) {
	key := storage.ArtifactKey(jobID, role, storage.ExtensionFor(mime))
	url, err := m.store.Upload(ctx, key, bytes.NewReader(data), mime)
	if err == nil {
		return url, nil
	}
	if m.fallback == nil {
		return "", err
	}

	m.logger.Warn("durable upload failed, using fallback store",
		slog.String("job_id", jobID),
		slog.String("role", role),
		slog.String("error", err.Error()),
	)
	url, ferr := m.fallback.Upload(ctx, key, bytes.NewReader(data), mime)
	if ferr != nil {
		return "", errors.Join(err, ferr)
	}
	return url, nil
}

// Discard deletes the durable artifacts behind outputs. References this
// system does not own are skipped; the first other error is returned after
// every reference was attempted.
func (m *Materializer) Discard(ctx context.Context, out job.Outputs) error {
	seen := make(map[string]bool, 3)
	var firstErr error
	for _, ref := range []string{out.VideoURL, out.ImageURL, out.ThumbnailURL} {
		if ref == "" || seen[ref] {
			continue
		}
		seen[ref] = true

		err := m.deleteRef(ctx, ref)
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (m *Materializer) deleteRef(ctx context.Context, ref string) error {
	err := m.store.Delete(ctx, ref)
	if errors.Is(err, storage.ErrForeignReference) && m.fallback != nil {
		err = m.fallback.Delete(ctx, ref)
	}
	if errors.Is(err, storage.ErrForeignReference) {
		return nil
	}
	return err
}
