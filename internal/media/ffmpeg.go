package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Static errors for media operations.
var (
	// ErrNoVideoPaths is returned when no video paths are provided for joining.
	ErrNoVideoPaths = errors.New("no video paths provided")
	// ErrFFprobeExecution is returned when ffprobe command fails.
	ErrFFprobeExecution = errors.New("ffprobe execution failed")
	// ErrEmptyFrame is returned when ffmpeg produced no frame data.
	ErrEmptyFrame = errors.New("ffmpeg produced an empty frame")
	// ErrNoVideoStream is returned when a clip to join has no video stream.
	ErrNoVideoStream = errors.New("media has no video stream")
)

// Output frame rate used when clips with different rates are joined.
const normalizedFPS = 30

// Compile-time check that FFmpegProcessor implements Processor.
var _ Processor = (*FFmpegProcessor)(nil)

// FFmpegProcessor implements Processor using the ffmpeg CLI.
type FFmpegProcessor struct {
	// ffmpegPath is the path to the ffmpeg binary. Defaults to "ffmpeg".
	ffmpegPath string
	// ffprobePath is the ffprobe binary next to ffmpegPath.
	ffprobePath string
}

// NewFFmpegProcessor creates a new FFmpegProcessor.
// If ffmpegPath is empty, it defaults to "ffmpeg" (found via PATH).
func NewFFmpegProcessor(ffmpegPath string) *FFmpegProcessor {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	ffprobePath := "ffprobe"
	if dir := filepath.Dir(ffmpegPath); dir != "." {
		ffprobePath = filepath.Join(dir, "ffprobe")
	}
	return &FFmpegProcessor{ffmpegPath: ffmpegPath, ffprobePath: ffprobePath}
}

// JoinVideos concatenates clips in order into output. Clips produced by
// different providers often differ in size, frame rate or audio, so every clip
// is probed first: matching clips are joined by stream copy, anything else is
// scaled and padded to the first clip's frame and re-encoded. Audio is kept
// only when every clip carries it.
func (p *FFmpegProcessor) JoinVideos(ctx context.Context, videoPaths []string, output string) error {
	if len(videoPaths) == 0 {
		return ErrNoVideoPaths
	}

	clips := make([]ClipInfo, len(videoPaths))
	for i, path := range videoPaths {
		info, err := p.Probe(ctx, path)
		if err != nil {
			return fmt.Errorf("probe clip %d: %w", i+1, err)
		}
		if info.Width == 0 || info.Height == 0 {
			return fmt.Errorf("clip %d: %w", i+1, ErrNoVideoStream)
		}
		clips[i] = info
	}

	if uniform(clips) {
		if err := p.concatCopy(ctx, videoPaths, output); err == nil {
			return nil
		}
		// Same shape but incompatible codecs; the filter graph handles that.
	}
	return p.concatFilter(ctx, videoPaths, clips, output)
}

func uniform(clips []ClipInfo) bool {
	for _, c := range clips[1:] {
		if !c.sameShape(clips[0]) {
			return false
		}
	}
	return true
}

// concatCopy joins clips through the concat demuxer without re-encoding.
func (p *FFmpegProcessor) concatCopy(ctx context.Context, videoPaths []string, output string) error {
	listFile, err := writeConcatList(videoPaths)
	if err != nil {
		return fmt.Errorf("create concat list: %w", err)
	}
	defer func() { _ = os.Remove(listFile) }()

	return p.runFFmpeg(ctx, []string{
		"-y",
		"-f", "concat",
		"-safe", "0", // absolute paths
		"-i", listFile,
		"-c", "copy",
		"-movflags", "+faststart",
		output,
	})
}

// concatFilter re-encodes every clip to the first clip's frame size and a
// common frame rate, then joins them with the concat filter.
func (p *FFmpegProcessor) concatFilter(ctx context.Context, videoPaths []string, clips []ClipInfo, output string) error {
	w, h := even(clips[0].Width), even(clips[0].Height)
	withAudio := true
	for _, c := range clips {
		withAudio = withAudio && c.HasAudio
	}

	args := []string{"-y"}
	for _, path := range videoPaths {
		args = append(args, "-i", path)
	}

	var graph, inputs strings.Builder
	for i := range videoPaths {
		fmt.Fprintf(&graph,
			"[%d:v]scale=%d:%d:force_original_aspect_ratio=decrease,pad=%d:%d:(ow-iw)/2:(oh-ih)/2,setsar=1,fps=%d,format=yuv420p[v%d];",
			i, w, h, w, h, normalizedFPS, i)
		fmt.Fprintf(&inputs, "[v%d]", i)
		if withAudio {
			fmt.Fprintf(&graph, "[%d:a]aresample=44100[a%d];", i, i)
			fmt.Fprintf(&inputs, "[a%d]", i)
		}
	}
	audioStreams := 0
	if withAudio {
		audioStreams = 1
	}
	fmt.Fprintf(&graph, "%sconcat=n=%d:v=1:a=%d[outv]", inputs.String(), len(videoPaths), audioStreams)
	if withAudio {
		graph.WriteString("[outa]")
	}

	args = append(args,
		"-filter_complex", graph.String(),
		"-map", "[outv]",
		"-c:v", "libx264",
		"-preset", "fast",
		"-crf", "23",
	)
	if withAudio {
		args = append(args, "-map", "[outa]", "-c:a", "aac", "-b:a", "128k")
	}
	args = append(args, "-movflags", "+faststart", output)
	return p.runFFmpeg(ctx, args)
}

// even rounds down to an even dimension, which libx264 with yuv420p requires.
func even(n int) int {
	return n &^ 1
}

// writeConcatList writes the file list read by ffmpeg's concat demuxer.
func writeConcatList(videoPaths []string) (string, error) {
	f, err := os.CreateTemp("", "ffmpeg-concat-*.txt")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	defer func() { _ = f.Close() }()

	for _, path := range videoPaths {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return "", fmt.Errorf("get absolute path for %s: %w", path, err)
		}
		escaped := strings.ReplaceAll(absPath, "'", "'\\''")
		if _, err := fmt.Fprintf(f, "file '%s'\n", escaped); err != nil {
			return "", fmt.Errorf("write to concat list: %w", err)
		}
	}
	return f.Name(), nil
}

// runFFmpeg executes ffmpeg and reports stderr on failure.
func (p *FFmpegProcessor) runFFmpeg(ctx context.Context, args []string) error {
	// #nosec G204 - ffmpegPath is set by the application, not user input
	cmd := exec.CommandContext(ctx, p.ffmpegPath, args...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("ffmpeg cancelled: %w", ctx.Err())
		}
		return &FFmpegError{Args: args, Stderr: stderr.String(), Err: err}
	}
	return nil
}

// FFmpegError represents an error from running ffmpeg, including the stderr output.
type FFmpegError struct {
	Args   []string
	Stderr string
	Err    error
}

func (e *FFmpegError) Error() string {
	return fmt.Sprintf("ffmpeg error: %v\nargs: %v\nstderr: %s", e.Err, e.Args, e.Stderr)
}

func (e *FFmpegError) Unwrap() error {
	return e.Err
}

// ExtractFrame grabs a single JPEG frame at offset from the start of a video.
// If the video is shorter than offset, the first frame is used instead.
func (p *FFmpegProcessor) ExtractFrame(ctx context.Context, videoPath string, offset time.Duration) ([]byte, error) {
	out, err := os.CreateTemp("", "ffmpeg-frame-*.jpg")
	if err != nil {
		return nil, fmt.Errorf("create frame file: %w", err)
	}
	framePath := out.Name()
	_ = out.Close()
	defer func() { _ = os.Remove(framePath) }()

	data, err := p.extractFrameAt(ctx, videoPath, framePath, offset)
	if errors.Is(err, ErrEmptyFrame) && offset > 0 {
		data, err = p.extractFrameAt(ctx, videoPath, framePath, 0)
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}

func (p *FFmpegProcessor) extractFrameAt(ctx context.Context, videoPath, framePath string, offset time.Duration) ([]byte, error) {
	args := []string{
		"-y",
		"-ss", strconv.FormatFloat(offset.Seconds(), 'f', 3, 64), // seek before decoding
		"-i", videoPath,
		"-frames:v", "1",
		"-q:v", "2",
		framePath,
	}
	if err := p.runFFmpeg(ctx, args); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(framePath) // #nosec G304 - framePath is created above
	if err != nil {
		return nil, fmt.Errorf("read frame: %w", err)
	}
	if len(data) == 0 {
		return nil, ErrEmptyFrame
	}
	return data, nil
}
