package provider

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/maauso/genstudio-api/internal/kling"
)

// KlingAdapter adapts the Kling client to the Adapter interface.
// Handles have the form "<endpoint>:<task_id>".
type KlingAdapter struct {
	client      kling.Client
	encoder     *MediaEncoder
	callbackURL string
}

// NewKlingAdapter creates a new Kling adapter. callbackURL is optional; when
// set, Kling posts task updates to it.
func NewKlingAdapter(client kling.Client, encoder *MediaEncoder, callbackURL string) *KlingAdapter {
	return &KlingAdapter{
		client:      client,
		encoder:     encoder,
		callbackURL: callbackURL,
	}
}

// Name implements Adapter.
func (a *KlingAdapter) Name() string {
	return NameKling
}

// Submit sends a video task to Kling.
func (a *KlingAdapter) Submit(ctx context.Context, req Request) (SubmitResult, error) {
	spec := SpecFor(NameKling, req.Model)
	p := spec.Normalize(req.Params)
	duration := strings.TrimSuffix(p.Duration, "s")
	mode := "std"
	if p.Resolution == "1080p" {
		mode = "pro"
	}
	sound := ""
	if spec.Audio {
		sound = "off"
		if p.AudioEnabled {
			sound = "on"
		}
	}

	var (
		endpoint kling.Endpoint
		body     any
	)

	switch req.Kind {
	case KindTextToVideo:
		endpoint = kling.EndpointText2Video
		body = kling.TextToVideoRequest{
			ModelName:      spec.ID,
			Prompt:         req.Prompt,
			NegativePrompt: req.NegativePrompt,
			Mode:           mode,
			AspectRatio:    p.AspectRatio,
			Duration:       duration,
			Sound:          sound,
			CallbackURL:    a.callback(kling.EndpointText2Video),
		}

	case KindImageToVideo:
		end := req.EndFrameURL
		if !spec.EndFrame {
			end = ""
		}
		start, tail, err := a.encoder.EncodePair(ctx, req.ImageURL, end)
		if err != nil {
			return SubmitResult{}, fmt.Errorf("kling adapter encode frames: %w", err)
		}
		endpoint = kling.EndpointImage2Video
		body = kling.ImageToVideoRequest{
			ModelName:      spec.ID,
			Image:          mediaValue(start),
			ImageTail:      mediaValue(tail),
			Prompt:         req.Prompt,
			NegativePrompt: req.NegativePrompt,
			Mode:           mode,
			Duration:       duration,
			Sound:          sound,
			CallbackURL:    a.callback(kling.EndpointImage2Video),
		}

	case KindMotionControl:
		character := req.CharacterImageURL
		if character == "" {
			character = req.ImageURL
		}
		if character == "" || req.VideoURL == "" {
			return SubmitResult{}, fmt.Errorf("%w: motion control needs a character image and a reference video", ErrMissingInput)
		}
		img, err := a.encoder.Encode(ctx, character)
		if err != nil {
			return SubmitResult{}, fmt.Errorf("kling adapter encode character: %w", err)
		}
		endpoint = kling.EndpointMotionControl
		body = kling.MotionControlRequest{
			ModelName:   spec.ID,
			ImageURL:    mediaValue(img),
			VideoURL:    req.VideoURL,
			Prompt:      req.Prompt,
			Mode:        mode,
			CallbackURL: a.callback(kling.EndpointMotionControl),
		}

	default:
		return SubmitResult{}, fmt.Errorf("%w: kling cannot serve %s", ErrUnsupportedKind, req.Kind)
	}

	taskID, err := a.client.CreateTask(ctx, endpoint, body)
	if err != nil {
		return SubmitResult{}, a.wrap(err)
	}

	return SubmitResult{Handle: string(endpoint) + ":" + taskID}, nil
}

// Poll checks the status of a Kling task.
func (a *KlingAdapter) Poll(ctx context.Context, handle string) (PollResult, error) {
	endpoint, taskID, err := splitKlingHandle(handle)
	if err != nil {
		return PollResult{}, err
	}

	task, err := a.client.GetTask(ctx, endpoint, taskID)
	if err != nil {
		return PollResult{}, a.wrap(err)
	}

	return klingPollResult(task), nil
}

// ExtractArtifactRef returns the first video URL in a Kling task or callback body.
func (a *KlingAdapter) ExtractArtifactRef(payload []byte) (string, bool) {
	task, err := kling.ParseCallback(payload)
	if err != nil {
		return "", false
	}
	u := task.FirstVideoURL()
	return u, u != ""
}

// DecodeCallback turns a native Kling callback into a Notice. The endpoint
// comes from the query appended to the callback URL.
func (a *KlingAdapter) DecodeCallback(payload []byte, query url.Values) (Notice, error) {
	endpoint := kling.Endpoint(query.Get("endpoint"))
	if !endpoint.IsValid() {
		return Notice{}, fmt.Errorf("%w: callback without endpoint", ErrInvalidHandle)
	}
	task, err := kling.ParseCallback(payload)
	if err != nil {
		return Notice{}, fmt.Errorf("%w: %w", ErrInvalidHandle, err)
	}

	res := klingPollResult(task)
	if ref, ok := a.ExtractArtifactRef(payload); ok {
		res.Artifacts.VideoURL = ref
	}
	return Notice{
		Handle:    string(endpoint) + ":" + task.TaskID,
		State:     res.State,
		Artifacts: res.Artifacts,
		Reason:    res.Reason,
	}, nil
}

func (a *KlingAdapter) callback(endpoint kling.Endpoint) string {
	if a.callbackURL == "" {
		return ""
	}
	return a.callbackURL + "?endpoint=" + url.QueryEscape(string(endpoint))
}

func (a *KlingAdapter) wrap(err error) error {
	var apiErr *kling.APIError
	if errors.As(err, &apiErr) {
		pe := NewError(NameKling, apiErr.StatusCode, apiErr.Message)
		if apiErr.RateLimited() {
			pe.RateLimited = true
			pe.Code = CodeQuotaExceeded
		}
		pe.Err = err
		return pe
	}
	return fmt.Errorf("kling adapter: %w", err)
}

func klingPollResult(task kling.Task) PollResult {
	switch task.TaskStatus {
	case kling.TaskSucceed:
		u := task.FirstVideoURL()
		if u == "" {
			return PollResult{State: StateFailed, Reason: ErrNoArtifact.Error(), Code: CodeGenerationFailed}
		}
		return PollResult{State: StateSucceeded, Artifacts: Artifacts{VideoURL: u}}
	case kling.TaskFailed:
		reason := task.TaskStatusMsg
		if reason == "" {
			reason = "task failed"
		}
		code := Classify(0, reason)
		if code == CodeUnknown {
			code = CodeGenerationFailed
		}
		return PollResult{State: StateFailed, Reason: reason, Code: code}
	default:
		return PollResult{State: StatePending}
	}
}

func splitKlingHandle(handle string) (kling.Endpoint, string, error) {
	ep, id, ok := strings.Cut(handle, ":")
	endpoint := kling.Endpoint(ep)
	if !ok || id == "" || !endpoint.IsValid() {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidHandle, handle)
	}
	return endpoint, id, nil
}

// mediaValue renders media the way Kling accepts it: a URL or raw base64.
func mediaValue(m Media) string {
	if m.Inline() {
		return m.Base64()
	}
	return m.URL
}

// Compile-time checks that KlingAdapter implements Adapter and CallbackDecoder.
var (
	_ Adapter         = (*KlingAdapter)(nil)
	_ CallbackDecoder = (*KlingAdapter)(nil)
)
