// Package gemini wraps the Gemini SDK for native image generation and editing.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// Static errors for Gemini client operations.
var (
	// ErrAPIKeyRequired is returned when no API key is configured.
	ErrAPIKeyRequired = errors.New("gemini: API key is required")
	// ErrNoImage is returned when the response contains no image part.
	ErrNoImage = errors.New("gemini: no image in response")
	// ErrBlocked is returned when the prompt or output was blocked by safety filters.
	ErrBlocked = errors.New("gemini: content blocked")
)

// Image is raw image bytes with their MIME type.
type Image struct {
	Data     []byte
	MIMEType string
}

// APIError carries the HTTP status of a failed SDK call.
type APIError struct {
	StatusCode int
	Message    string
	Err        error
}

func (e *APIError) Error() string {
	return fmt.Sprintf("gemini: request failed with status %d: %s", e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// Client generates images from a prompt and optional conditioning images.
type Client interface {
	GenerateImage(ctx context.Context, model, prompt string, inputs []Image) (Image, error)
}

// SDKClient implements Client on top of the official SDK.
type SDKClient struct {
	client *genai.Client
}

// NewClient creates a client authenticated with an API key. A non-empty
// endpoint overrides the default API host.
func NewClient(ctx context.Context, apiKey, endpoint string) (*SDKClient, error) {
	if apiKey == "" {
		return nil, ErrAPIKeyRequired
	}

	opts := []option.ClientOption{option.WithAPIKey(apiKey)}
	if endpoint != "" {
		opts = append(opts, option.WithEndpoint(endpoint))
	}

	c, err := genai.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}
	return &SDKClient{client: c}, nil
}

// Close releases the underlying connection.
func (c *SDKClient) Close() error {
	return c.client.Close()
}

// GenerateImage sends the prompt followed by the input images and returns the
// first image part of the answer.
func (c *SDKClient) GenerateImage(ctx context.Context, model, prompt string, inputs []Image) (Image, error) {
	m := c.client.GenerativeModel(model)
	m.SetCandidateCount(1)

	parts := make([]genai.Part, 0, len(inputs)+1)
	parts = append(parts, genai.Text(prompt))
	for _, in := range inputs {
		parts = append(parts, genai.Blob{MIMEType: in.MIMEType, Data: in.Data})
	}

	resp, err := m.GenerateContent(ctx, parts...)
	if err != nil {
		return Image{}, wrapError(err)
	}

	return extractImage(resp)
}

// extractImage returns the first inline image of a response.
func extractImage(resp *genai.GenerateContentResponse) (Image, error) {
	if resp == nil {
		return Image{}, ErrNoImage
	}
	if fb := resp.PromptFeedback; fb != nil && fb.BlockReason != genai.BlockReasonUnspecified {
		return Image{}, fmt.Errorf("%w: prompt %s", ErrBlocked, fb.BlockReason)
	}

	var text []string
	for _, cand := range resp.Candidates {
		if cand == nil {
			continue
		}
		if cand.FinishReason == genai.FinishReasonSafety {
			return Image{}, fmt.Errorf("%w: safety", ErrBlocked)
		}
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			switch p := part.(type) {
			case genai.Blob:
				if strings.HasPrefix(p.MIMEType, "image/") && len(p.Data) > 0 {
					return Image{Data: p.Data, MIMEType: p.MIMEType}, nil
				}
			case genai.Text:
				text = append(text, string(p))
			}
		}
	}

	if len(text) > 0 {
		return Image{}, fmt.Errorf("%w: model answered with text: %s", ErrNoImage, strings.Join(text, " "))
	}
	return Image{}, ErrNoImage
}

func wrapError(err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return &APIError{StatusCode: gerr.Code, Message: gerr.Message, Err: err}
	}
	if strings.Contains(err.Error(), "RESOURCE_EXHAUSTED") {
		return &APIError{StatusCode: http.StatusTooManyRequests, Message: err.Error(), Err: err}
	}
	return fmt.Errorf("gemini: generate content: %w", err)
}
