package provider

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/maauso/genstudio-api/internal/googleai"
)

// ImagenAdapter adapts Imagen text-to-image prediction. Imagen answers
// synchronously, so Submit returns the image bytes immediately.
type ImagenAdapter struct {
	client googleai.Client
}

// NewImagenAdapter creates a new Imagen adapter.
func NewImagenAdapter(client googleai.Client) *ImagenAdapter {
	return &ImagenAdapter{client: client}
}

// Name implements Adapter.
func (a *ImagenAdapter) Name() string {
	return NameImagen
}

// Submit generates a single image.
func (a *ImagenAdapter) Submit(ctx context.Context, req Request) (SubmitResult, error) {
	if req.Kind != KindTextToImage {
		return SubmitResult{}, fmt.Errorf("%w: imagen cannot serve %s", ErrUnsupportedKind, req.Kind)
	}
	spec := SpecFor(NameImagen, req.Model)
	p := spec.Normalize(req.Params)

	preds, err := a.client.GenerateImages(ctx, spec.ID, googleai.ImageRequest{
		Instances: []googleai.ImageInstance{{Prompt: req.Prompt}},
		Parameters: googleai.ImageParameters{
			SampleCount: 1,
			AspectRatio: p.AspectRatio,
			ImageSize:   strings.ToUpper(p.Resolution),
		},
	})
	if err != nil {
		return SubmitResult{}, wrapGoogleError(NameImagen, err)
	}

	for _, pr := range preds {
		if pr.BytesBase64Encoded == "" {
			continue
		}
		data, err := base64.StdEncoding.DecodeString(pr.BytesBase64Encoded)
		if err != nil {
			return SubmitResult{}, fmt.Errorf("imagen adapter decode image: %w", err)
		}
		mime := pr.MimeType
		if mime == "" {
			mime = "image/png"
		}
		return SubmitResult{Immediate: &Artifacts{Data: data, MIMEType: mime}}, nil
	}

	reason := ErrNoArtifact.Error()
	if len(preds) > 0 && preds[0].RAIFilteredReason != "" {
		reason = preds[0].RAIFilteredReason
	}
	return SubmitResult{}, &Error{Provider: NameImagen, Code: failureCode(0, reason), Message: reason, Err: ErrNoArtifact}
}

// Poll is not supported; Imagen jobs finish inside Submit.
func (a *ImagenAdapter) Poll(_ context.Context, handle string) (PollResult, error) {
	return PollResult{}, fmt.Errorf("%w: imagen has no long-running jobs (%q)", ErrInvalidHandle, handle)
}

// ExtractArtifactRef always returns false; Imagen results carry no URL.
func (a *ImagenAdapter) ExtractArtifactRef(_ []byte) (string, bool) {
	return "", false
}

// Compile-time check that ImagenAdapter implements Adapter.
var _ Adapter = (*ImagenAdapter)(nil)
