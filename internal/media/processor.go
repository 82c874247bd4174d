// Package media provides video processing capabilities backed by ffmpeg.
package media

import (
	"context"
	"time"
)

// Processor defines the interface for video processing operations.
// Implementations should use ffmpeg or similar tools for media manipulation.
type Processor interface {
	// JoinVideos concatenates clips in order into one output file, normalizing
	// clips whose frame size, frame rate or audio differ from the first.
	JoinVideos(ctx context.Context, videoPaths []string, output string) error

	// ExtractFrame extracts one JPEG frame at offset from the start of a video.
	ExtractFrame(ctx context.Context, videoPath string, offset time.Duration) ([]byte, error)

	// GetMediaDuration returns the duration of a media file in seconds.
	GetMediaDuration(ctx context.Context, path string) (float64, error)
}
