package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/maauso/genstudio-api/internal/gemini"
)

// GeminiAdapter adapts Gemini native image generation ("Nano Banana").
// Results are returned immediately as inline bytes.
type GeminiAdapter struct {
	client  gemini.Client
	encoder *MediaEncoder
}

// NewGeminiAdapter creates a new Gemini adapter. Input images are always
// sent inline, so the encoder should be created with alwaysInline set.
func NewGeminiAdapter(client gemini.Client, encoder *MediaEncoder) *GeminiAdapter {
	return &GeminiAdapter{client: client, encoder: encoder}
}

// Name implements Adapter.
func (a *GeminiAdapter) Name() string {
	return NameGemini
}

// Submit generates or edits an image.
func (a *GeminiAdapter) Submit(ctx context.Context, req Request) (SubmitResult, error) {
	spec := SpecFor(NameGemini, req.Model)
	p := spec.Normalize(req.Params)

	var refs []string
	switch req.Kind {
	case KindTextToImage:
		refs = req.ReferenceImages
	case KindImageToImage:
		if req.ImageURL == "" {
			return SubmitResult{}, fmt.Errorf("%w: image-to-image needs a source image", ErrMissingInput)
		}
		refs = append([]string{req.ImageURL}, req.ReferenceImages...)
	default:
		return SubmitResult{}, fmt.Errorf("%w: gemini cannot serve %s", ErrUnsupportedKind, req.Kind)
	}
	if !spec.MultiImage && len(refs) > 1 {
		refs = refs[:1]
	}

	inputs := make([]gemini.Image, 0, len(refs))
	for _, ref := range refs {
		m, err := a.encoder.Encode(ctx, ref)
		if err != nil {
			return SubmitResult{}, fmt.Errorf("gemini adapter encode input: %w", err)
		}
		inputs = append(inputs, gemini.Image{Data: m.Data, MIMEType: m.MIMEType})
	}

	prompt := req.Prompt
	if p.AspectRatio != "" {
		prompt = fmt.Sprintf("%s\n\nOutput aspect ratio: %s.", prompt, p.AspectRatio)
	}

	img, err := a.client.GenerateImage(ctx, spec.ID, prompt, inputs)
	if err != nil {
		return SubmitResult{}, wrapGeminiError(err)
	}

	return SubmitResult{Immediate: &Artifacts{Data: img.Data, MIMEType: img.MIMEType}}, nil
}

// Poll is not supported; Gemini jobs finish inside Submit.
func (a *GeminiAdapter) Poll(_ context.Context, handle string) (PollResult, error) {
	return PollResult{}, fmt.Errorf("%w: gemini has no long-running jobs (%q)", ErrInvalidHandle, handle)
}

// ExtractArtifactRef always returns false; Gemini results carry no URL.
func (a *GeminiAdapter) ExtractArtifactRef(_ []byte) (string, bool) {
	return "", false
}

func wrapGeminiError(err error) error {
	var apiErr *gemini.APIError
	switch {
	case errors.As(err, &apiErr):
		pe := NewError(NameGemini, apiErr.StatusCode, apiErr.Message)
		pe.Err = err
		return pe
	case errors.Is(err, gemini.ErrBlocked):
		pe := NewError(NameGemini, http.StatusBadRequest, err.Error())
		pe.Err = err
		return pe
	case errors.Is(err, gemini.ErrNoImage):
		return &Error{Provider: NameGemini, Code: CodeGenerationFailed, Message: err.Error(), Err: err}
	default:
		return fmt.Errorf("gemini adapter: %w", err)
	}
}

// Compile-time check that GeminiAdapter implements Adapter.
var _ Adapter = (*GeminiAdapter)(nil)
