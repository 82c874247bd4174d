// Package provider defines the common contract for generative-AI providers.
// Kling, Veo, Imagen and Gemini adapters implement Adapter so that job
// tracking stays provider-agnostic.
package provider

import (
	"context"
	"net/http"
	"net/url"
)

// Kind classifies what a generation produces and from which inputs.
type Kind string

// Supported generation kinds.
const (
	KindTextToVideo   Kind = "text-to-video"
	KindImageToVideo  Kind = "image-to-video"
	KindVideoToVideo  Kind = "video-to-video"
	KindMotionControl Kind = "motion-control"
	KindTextToImage   Kind = "text-to-image"
	KindImageToImage  Kind = "image-to-image"
)

// IsValid returns true if the kind is one of the supported kinds.
func (k Kind) IsValid() bool {
	switch k {
	case KindTextToVideo, KindImageToVideo, KindVideoToVideo, KindMotionControl, KindTextToImage, KindImageToImage:
		return true
	default:
		return false
	}
}

// IsVideo returns true if the kind produces a video.
func (k Kind) IsVideo() bool {
	switch k {
	case KindTextToVideo, KindImageToVideo, KindVideoToVideo, KindMotionControl:
		return true
	default:
		return false
	}
}

// RequiresPrompt returns true if a prompt is mandatory for the kind.
func (k Kind) RequiresPrompt() bool {
	return k == KindTextToVideo || k == KindTextToImage || k == KindImageToImage
}

// Params are the pass-through generation parameters. Values are snapped to
// the model's capability table before they reach an adapter.
type Params struct {
	Duration     string   // e.g. "5s"
	AspectRatio  string   // e.g. "16:9"
	Resolution   string   // e.g. "1080p"
	AudioEnabled bool     // generate a soundtrack when the model supports it
	Strength     *float64 // image-to-image transformation strength (0..1)
	FrameCount   int      // optional frame count for frame-based models
}

// Request is an abstract generation request.
type Request struct {
	Kind              Kind
	Model             string
	Prompt            string
	NegativePrompt    string
	ImageURL          string   // start frame or source image
	EndFrameURL       string   // optional end frame for paired-frame video
	VideoURL          string   // source/reference video
	CharacterImageURL string   // motion-control character
	ReferenceImages   []string // additional conditioning images
	Params            Params
}

// Artifacts are the outputs reported by a provider. Either URLs (transient,
// provider-hosted) or inline bytes are set.
type Artifacts struct {
	VideoURL     string
	ImageURL     string
	ThumbnailURL string
	// Data holds inline bytes for providers that answer synchronously without URLs.
	Data     []byte
	MIMEType string
	// Headers are attached when downloading the transient URLs.
	Headers http.Header
}

// HasInline returns true if the artifacts carry inline bytes.
func (a Artifacts) HasInline() bool {
	return len(a.Data) > 0
}

// IsEmpty returns true if nothing usable was reported.
func (a Artifacts) IsEmpty() bool {
	return a.VideoURL == "" && a.ImageURL == "" && len(a.Data) == 0
}

// SubmitResult is returned by Submit. Exactly one of Handle or Immediate is set.
type SubmitResult struct {
	// Handle is the opaque provider job handle for long-running jobs.
	Handle string
	// Immediate holds the finished artifacts for synchronous providers.
	Immediate *Artifacts
}

// State is the provider-side state of a job.
type State string

// Poll states.
const (
	StatePending   State = "pending"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
)

// PollResult contains the result of polling a job handle.
type PollResult struct {
	State     State
	Artifacts Artifacts // set when State is StateSucceeded
	Reason    string    // set when State is StateFailed
	Code      ErrorCode // optional classification of Reason
}

// Adapter translates abstract requests into provider calls.
type Adapter interface {
	// Name returns the provider name recorded on jobs ("kling", "veo", ...).
	Name() string

	// Submit starts a generation and returns a handle or an immediate result.
	Submit(ctx context.Context, req Request) (SubmitResult, error)

	// Poll checks the status of a previously returned handle.
	Poll(ctx context.Context, handle string) (PollResult, error)

	// ExtractArtifactRef pulls the artifact URL out of a provider-native
	// response or callback body. It returns false when none is present.
	ExtractArtifactRef(payload []byte) (string, bool)
}

// Notice is a provider-pushed completion signal normalized to a handle.
type Notice struct {
	Handle    string
	State     State
	Artifacts Artifacts
	Reason    string
}

// CallbackDecoder is implemented by adapters that accept provider-native
// callback bodies. The query carries values the adapter appended to its
// callback URL at submit time.
type CallbackDecoder interface {
	DecodeCallback(payload []byte, query url.Values) (Notice, error)
}
