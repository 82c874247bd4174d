package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/maauso/genstudio-api/internal/job"
	"github.com/maauso/genstudio-api/internal/storage"
)

var (
	// ErrTooFewVideos is returned when a merge names fewer than two jobs.
	ErrTooFewVideos = errors.New("pipeline: at least two videos are needed to merge")
	// ErrNotMergeable is returned when a merge names a job without a finished video.
	ErrNotMergeable = errors.New("pipeline: job has no completed video")
)

// MergeResult is a stitched video built from finished jobs.
type MergeResult struct {
	ID              string   `json:"id"`
	JobIDs          []string `json:"job_ids"`
	VideoURL        string   `json:"video_url"`
	ThumbnailURL    string   `json:"thumbnail_url"`
	DurationSeconds float64  `json:"duration_seconds"`
}

// Merge stitches the videos of the given jobs in order into one durable
// video. Source videos are kept.
func (o *Orchestrator) Merge(ctx context.Context, jobIDs []string) (*MergeResult, error) {
	if len(jobIDs) < 2 {
		return nil, ErrTooFewVideos
	}

	refs := make([]string, len(jobIDs))
	for i, id := range jobIDs {
		j, err := o.jobs.FindByID(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("job %s: %w", id, err)
		}
		if j.Status != job.StatusCompleted || j.VideoURL == "" {
			return nil, fmt.Errorf("%w: %s", ErrNotMergeable, id)
		}
		refs[i] = j.VideoURL
	}

	mergeID := "merge-" + uuid.NewString()
	joined, err := o.join(ctx, mergeID, refs)
	if err != nil {
		return nil, err
	}
	joined.ID = mergeID
	joined.JobIDs = append([]string(nil), jobIDs...)

	o.logger.Info("videos merged",
		slog.String("merge_id", mergeID),
		slog.Int("videos", len(jobIDs)),
		slog.Float64("duration_seconds", joined.DurationSeconds),
	)
	return joined, nil
}

// UploadReference stores an uploaded reference image and returns its URL.
func (o *Orchestrator) UploadReference(ctx context.Context, data []byte, contentType string) (string, error) {
	key := storage.ArtifactKey("upload-"+uuid.NewString(), "reference", storage.ExtensionFor(contentType))
	url, err := o.files.Upload(ctx, key, bytes.NewReader(data), contentType)
	if err != nil {
		return "", fmt.Errorf("upload reference image: %w", err)
	}
	return url, nil
}

// join downloads the videos concurrently, concatenates them in order and
// stores the result under id.
func (o *Orchestrator) join(ctx context.Context, id string, refs []string) (*MergeResult, error) {
	paths := make([]string, len(refs))
	var cleanup []string
	defer func() {
		if err := o.files.CleanupTemp(context.WithoutCancel(ctx), cleanup); err != nil {
			o.logger.Warn("temp cleanup failed", slog.String("id", id), slog.String("error", err.Error()))
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.maxParallel)
	for i, ref := range refs {
		g.Go(func() error {
			data, _, err := o.fetcher.Download(gctx, ref, nil)
			if err != nil {
				return fmt.Errorf("download video %d: %w", i+1, err)
			}
			path, err := o.files.SaveTemp(gctx, fmt.Sprintf("%s_part%02d", id, i+1), bytes.NewReader(data))
			if err != nil {
				return fmt.Errorf("save video %d: %w", i+1, err)
			}
			paths[i] = path
			return nil
		})
	}
	err := g.Wait()
	for _, p := range paths {
		if p != "" {
			cleanup = append(cleanup, p)
		}
	}
	if err != nil {
		return nil, err
	}

	output := filepath.Join(filepath.Dir(paths[0]), id+"_joined.mp4")
	cleanup = append(cleanup, output)
	if err := o.stitcher.JoinVideos(ctx, paths, output); err != nil {
		return nil, fmt.Errorf("join videos: %w", err)
	}

	out, err := o.videos.StoreVideoFile(ctx, id, output)
	if err != nil {
		return nil, fmt.Errorf("store joined video: %w", err)
	}

	duration, err := o.stitcher.GetMediaDuration(ctx, output)
	if err != nil {
		o.logger.Warn("duration probe failed", slog.String("id", id), slog.String("error", err.Error()))
	}
	return &MergeResult{VideoURL: out.VideoURL, ThumbnailURL: out.ThumbnailURL, DurationSeconds: duration}, nil
}
