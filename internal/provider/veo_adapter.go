package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/maauso/genstudio-api/internal/googleai"
)

// VeoAdapter adapts the Veo long-running video API to the Adapter interface.
// Handles are operation names.
type VeoAdapter struct {
	client  googleai.Client
	encoder *MediaEncoder
}

// NewVeoAdapter creates a new Veo adapter. Veo only accepts inline frames,
// so the encoder should be created with alwaysInline set.
func NewVeoAdapter(client googleai.Client, encoder *MediaEncoder) *VeoAdapter {
	return &VeoAdapter{client: client, encoder: encoder}
}

// Name implements Adapter.
func (a *VeoAdapter) Name() string {
	return NameVeo
}

// Submit starts a Veo operation.
func (a *VeoAdapter) Submit(ctx context.Context, req Request) (SubmitResult, error) {
	spec := SpecFor(NameVeo, req.Model)
	if !spec.Supports(req.Kind) {
		return SubmitResult{}, fmt.Errorf("%w: %s cannot serve %s", ErrUnsupportedKind, spec.ID, req.Kind)
	}
	p := spec.Normalize(req.Params)

	inst := googleai.VideoInstance{Prompt: req.Prompt}

	switch req.Kind {
	case KindTextToVideo:
	case KindImageToVideo:
		end := req.EndFrameURL
		if !spec.EndFrame {
			end = ""
		}
		start, last, err := a.encoder.EncodePair(ctx, req.ImageURL, end)
		if err != nil {
			return SubmitResult{}, fmt.Errorf("veo adapter encode frames: %w", err)
		}
		inst.Image = inlineData(start)
		if end != "" {
			inst.LastFrame = inlineData(last)
		}
	case KindVideoToVideo:
		if req.VideoURL == "" {
			return SubmitResult{}, fmt.Errorf("%w: video-to-video needs a source video", ErrMissingInput)
		}
		inst.Video = &googleai.VideoRef{URI: req.VideoURL}
	default:
		return SubmitResult{}, fmt.Errorf("%w: veo cannot serve %s", ErrUnsupportedKind, req.Kind)
	}

	body := googleai.VideoRequest{
		Instances: []googleai.VideoInstance{inst},
		Parameters: googleai.VideoParameters{
			AspectRatio:     p.AspectRatio,
			Resolution:      p.Resolution,
			DurationSeconds: DurationSeconds(p.Duration),
			NegativePrompt:  req.NegativePrompt,
		},
	}

	name, err := a.client.GenerateVideo(ctx, spec.ID, body)
	if err != nil {
		return SubmitResult{}, wrapGoogleError(NameVeo, err)
	}

	return SubmitResult{Handle: name}, nil
}

// Poll checks the status of a Veo operation.
func (a *VeoAdapter) Poll(ctx context.Context, handle string) (PollResult, error) {
	if handle == "" {
		return PollResult{}, ErrInvalidHandle
	}

	op, err := a.client.GetOperation(ctx, handle)
	if err != nil {
		return PollResult{}, wrapGoogleError(NameVeo, err)
	}

	return a.pollResult(op), nil
}

// ExtractArtifactRef returns the video URI of a finished operation body.
func (a *VeoAdapter) ExtractArtifactRef(payload []byte) (string, bool) {
	var op googleai.Operation
	if err := json.Unmarshal(payload, &op); err != nil {
		return "", false
	}
	u := op.VideoURI()
	return u, u != ""
}

func (a *VeoAdapter) pollResult(op googleai.Operation) PollResult {
	if !op.Done {
		return PollResult{State: StatePending}
	}
	if op.Error != nil {
		return PollResult{
			State:  StateFailed,
			Reason: op.Error.Message,
			Code:   failureCode(op.Error.Code, op.Error.Message),
		}
	}
	uri := op.VideoURI()
	if uri == "" {
		reason := op.FilteredReason()
		if reason == "" {
			return PollResult{State: StateFailed, Reason: ErrNoArtifact.Error(), Code: CodeGenerationFailed}
		}
		return PollResult{State: StateFailed, Reason: reason, Code: failureCode(0, reason)}
	}
	return PollResult{
		State:     StateSucceeded,
		Artifacts: Artifacts{VideoURL: uri, Headers: a.client.AuthHeaders()},
	}
}

func inlineData(m Media) *googleai.InlineData {
	if !m.Inline() {
		return nil
	}
	return &googleai.InlineData{BytesBase64Encoded: m.Base64(), MimeType: m.MIMEType}
}

// failureCode classifies an explicit provider failure, defaulting to
// GENERATION_FAILED rather than UNKNOWN_ERROR.
func failureCode(status int, reason string) ErrorCode {
	code := Classify(status, reason)
	if code == CodeUnknown {
		return CodeGenerationFailed
	}
	return code
}

func wrapGoogleError(name string, err error) error {
	var apiErr *googleai.APIError
	if errors.As(err, &apiErr) {
		pe := NewError(name, apiErr.StatusCode, apiErr.Message)
		// RESOURCE_EXHAUSTED covers both per-minute throttling and spent
		// billing quota; only throttling is RateLimited.
		if apiErr.Status == "RESOURCE_EXHAUSTED" || apiErr.StatusCode == http.StatusTooManyRequests {
			pe.Code = CodeQuotaExceeded
			pe.RateLimited = isRateLimit(http.StatusTooManyRequests, apiErr.Message)
		}
		pe.Err = err
		return pe
	}
	return fmt.Errorf("%s adapter: %w", name, err)
}

// Compile-time check that VeoAdapter implements Adapter.
var _ Adapter = (*VeoAdapter)(nil)
