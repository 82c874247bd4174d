package googleai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Static errors for Google AI client operations.
var (
	// ErrAPIKeyRequired is returned when no API key is configured.
	ErrAPIKeyRequired = errors.New("googleai: API key is required")
	// ErrModelRequired is returned when the model is not provided.
	ErrModelRequired = errors.New("googleai: model is required")
	// ErrOperationRequired is returned when the operation name is not provided.
	ErrOperationRequired = errors.New("googleai: operation name is required")
	// ErrNoOperationReturned is returned when the submit response has no operation name.
	ErrNoOperationReturned = errors.New("googleai: submit failed: no operation returned")
	// ErrServerError is returned when the server returns a 5xx status code.
	ErrServerError = errors.New("googleai: server error")
)

// APIError is a non-success answer from the API.
type APIError struct {
	StatusCode int
	Status     string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("googleai: request failed with status %d (%s): %s", e.StatusCode, e.Status, e.Message)
}

// Client defines the interface for the Veo and Imagen endpoints.
type Client interface {
	// GenerateVideo starts a long-running video generation and returns the operation name.
	GenerateVideo(ctx context.Context, model string, req VideoRequest) (string, error)

	// GetOperation fetches a long-running operation.
	GetOperation(ctx context.Context, name string) (Operation, error)

	// GenerateImages runs a synchronous image prediction.
	GenerateImages(ctx context.Context, model string, req ImageRequest) ([]Prediction, error)

	// AuthHeaders returns the headers required to download generated files.
	AuthHeaders() http.Header
}

// HTTPClient is the HTTP implementation of Client.
type HTTPClient struct {
	apiKey      string
	baseURL     string
	httpClient  *http.Client
	maxRetries  int
	baseBackoff time.Duration
}

// ClientOption is a function that configures an HTTPClient.
type ClientOption func(*HTTPClient)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(hc *HTTPClient) {
		hc.httpClient = c
	}
}

// WithBaseURL sets a custom base URL.
func WithBaseURL(url string) ClientOption {
	return func(hc *HTTPClient) {
		hc.baseURL = strings.TrimSuffix(url, "/")
	}
}

// WithMaxRetries sets the maximum number of retries for transient failures.
func WithMaxRetries(n int) ClientOption {
	return func(hc *HTTPClient) {
		hc.maxRetries = n
	}
}

// WithBaseBackoff sets the initial backoff duration for retries.
func WithBaseBackoff(d time.Duration) ClientOption {
	return func(hc *HTTPClient) {
		hc.baseBackoff = d
	}
}

// NewClient creates a new client for the Gemini API.
func NewClient(apiKey string, opts ...ClientOption) (*HTTPClient, error) {
	if apiKey == "" {
		return nil, ErrAPIKeyRequired
	}

	c := &HTTPClient{
		apiKey:      apiKey,
		baseURL:     "https://generativelanguage.googleapis.com",
		httpClient:  &http.Client{Timeout: 2 * time.Minute},
		maxRetries:  3,
		baseBackoff: 1 * time.Second,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// GenerateVideo starts a long-running video generation and returns the operation name.
func (c *HTTPClient) GenerateVideo(ctx context.Context, model string, req VideoRequest) (string, error) {
	if model == "" {
		return "", ErrModelRequired
	}

	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("googleai: marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:predictLongRunning", c.baseURL, model)

	var op Operation
	if err := c.doRequestWithRetry(ctx, http.MethodPost, url, body, &op); err != nil {
		return "", err
	}

	if op.Name == "" {
		return "", ErrNoOperationReturned
	}

	return op.Name, nil
}

// GetOperation fetches a long-running operation.
func (c *HTTPClient) GetOperation(ctx context.Context, name string) (Operation, error) {
	if name == "" {
		return Operation{}, ErrOperationRequired
	}

	url := fmt.Sprintf("%s/v1beta/%s", c.baseURL, strings.TrimPrefix(name, "/"))

	var op Operation
	if err := c.doRequestWithRetry(ctx, http.MethodGet, url, nil, &op); err != nil {
		return Operation{}, err
	}

	return op, nil
}

// GenerateImages runs a synchronous image prediction.
func (c *HTTPClient) GenerateImages(ctx context.Context, model string, req ImageRequest) ([]Prediction, error) {
	if model == "" {
		return nil, ErrModelRequired
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("googleai: marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:predict", c.baseURL, model)

	var resp predictResponse
	if err := c.doRequestWithRetry(ctx, http.MethodPost, url, body, &resp); err != nil {
		return nil, err
	}

	return resp.Predictions, nil
}

// AuthHeaders returns the headers required to download generated files.
func (c *HTTPClient) AuthHeaders() http.Header {
	h := http.Header{}
	h.Set("x-goog-api-key", c.apiKey)
	return h
}

// doRequestWithRetry performs an HTTP request with exponential backoff retry.
func (c *HTTPClient) doRequestWithRetry(ctx context.Context, method, url string, body []byte, result any) error {
	var lastErr error
	backoff := c.baseBackoff

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("googleai: context cancelled: %w", ctx.Err())
			case <-time.After(backoff):
				backoff *= 2
			}
		}

		err := c.doRequest(ctx, method, url, body, result)
		if err == nil {
			return nil
		}

		if !isRetryable(err) {
			return err
		}

		lastErr = err
	}

	return fmt.Errorf("googleai: max retries exceeded: %w", lastErr)
}

// doRequest performs a single HTTP request.
func (c *HTTPClient) doRequest(ctx context.Context, method, url string, body []byte, result any) error {
	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return fmt.Errorf("googleai: create request: %w", err)
	}

	req.Header.Set("x-goog-api-key", c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &retryableError{err: fmt.Errorf("googleai: request failed: %w", err)}
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &retryableError{err: fmt.Errorf("googleai: read response: %w", err)}
	}

	if resp.StatusCode >= 500 {
		return &retryableError{err: fmt.Errorf("%w %d: %s", ErrServerError, resp.StatusCode, string(respBody))}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: string(respBody)}
		var env errorEnvelope
		if json.Unmarshal(respBody, &env) == nil && env.Error.Message != "" {
			apiErr.Status = env.Error.Status
			apiErr.Message = env.Error.Message
		}
		return apiErr
	}

	if result != nil {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("googleai: unmarshal response: %w", err)
		}
	}

	return nil
}

// retryableError wraps errors that should be retried.
type retryableError struct {
	err error
}

func (e *retryableError) Error() string {
	return e.err.Error()
}

func (e *retryableError) Unwrap() error {
	return e.err
}

// isRetryable returns true if the error should be retried.
func isRetryable(err error) bool {
	var re *retryableError
	return errors.As(err, &re)
}
