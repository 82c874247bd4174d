package media

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// ClipInfo describes the streams of a media file.
type ClipInfo struct {
	Width    int
	Height   int
	FPS      float64
	HasAudio bool
	Duration float64 // seconds
}

// sameShape reports whether two clips can be concatenated without re-encoding.
func (c ClipInfo) sameShape(o ClipInfo) bool {
	return c.Width == o.Width && c.Height == o.Height && c.HasAudio == o.HasAudio && c.FPS == o.FPS
}

type probeOutput struct {
	Streams []struct {
		CodecType    string `json:"codec_type"`
		Width        int    `json:"width"`
		Height       int    `json:"height"`
		AvgFrameRate string `json:"avg_frame_rate"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

// Probe reads stream dimensions, frame rate, audio presence and duration.
func (p *FFmpegProcessor) Probe(ctx context.Context, path string) (ClipInfo, error) {
	// #nosec G204 - ffprobePath is set by the application, not user input
	cmd := exec.CommandContext(ctx, p.ffprobePath,
		"-v", "error",
		"-show_entries", "stream=codec_type,width,height,avg_frame_rate:format=duration",
		"-of", "json",
		path,
	)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ClipInfo{}, fmt.Errorf("ffprobe cancelled: %w", ctx.Err())
		}
		return ClipInfo{}, fmt.Errorf("%w: %w, stderr: %s", ErrFFprobeExecution, err, stderr.String())
	}

	var out probeOutput
	if err := json.Unmarshal(stdout.Bytes(), &out); err != nil {
		return ClipInfo{}, fmt.Errorf("parse ffprobe output: %w", err)
	}

	var info ClipInfo
	for _, s := range out.Streams {
		switch s.CodecType {
		case "video":
			if info.Width == 0 {
				info.Width, info.Height = s.Width, s.Height
				info.FPS = parseRate(s.AvgFrameRate)
			}
		case "audio":
			info.HasAudio = true
		}
	}
	if d := strings.TrimSpace(out.Format.Duration); d != "" {
		dur, err := strconv.ParseFloat(d, 64)
		if err != nil {
			return ClipInfo{}, fmt.Errorf("parse duration: %w", err)
		}
		info.Duration = dur
	}
	return info, nil
}

// GetMediaDuration returns the duration in seconds of a media file.
func (p *FFmpegProcessor) GetMediaDuration(ctx context.Context, path string) (float64, error) {
	info, err := p.Probe(ctx, path)
	if err != nil {
		return 0, err
	}
	return info.Duration, nil
}

// parseRate turns ffprobe's "30000/1001" into frames per second.
func parseRate(r string) float64 {
	num, den, ok := strings.Cut(r, "/")
	n, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0
	}
	if !ok {
		return n
	}
	d, err := strconv.ParseFloat(den, 64)
	if err != nil || d == 0 {
		return 0
	}
	return n / d
}
