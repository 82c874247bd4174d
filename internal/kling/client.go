package kling

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Static errors for Kling client operations.
var (
	// ErrCredentialsRequired is returned when the access or secret key is missing.
	ErrCredentialsRequired = errors.New("kling: access key and secret key are required")
	// ErrTaskIDRequired is returned when the task ID is not provided.
	ErrTaskIDRequired = errors.New("kling: task ID is required")
	// ErrInvalidEndpoint is returned for an unknown task endpoint.
	ErrInvalidEndpoint = errors.New("kling: invalid endpoint")
	// ErrNoTaskIDReturned is returned when the create response contains no task ID.
	ErrNoTaskIDReturned = errors.New("kling: create failed: no task ID returned")
	// ErrServerError is returned when the server returns a 5xx status code.
	ErrServerError = errors.New("kling: server error")
)

// Kling business codes that signal throttling rather than a bad request.
const (
	codeRateLimited    = 1302
	codeConcurrencyCap = 1303
)

// APIError is a non-success answer from the Kling API.
type APIError struct {
	StatusCode int
	Code       int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("kling: request failed with status %d (code %d): %s", e.StatusCode, e.Code, e.Message)
}

// RateLimited returns true if the error is a throttling rejection.
func (e *APIError) RateLimited() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.Code == codeRateLimited || e.Code == codeConcurrencyCap
}

// Client defines the interface for interacting with the Kling API.
type Client interface {
	// CreateTask submits a generation request and returns the task ID.
	CreateTask(ctx context.Context, endpoint Endpoint, body any) (taskID string, err error)

	// GetTask fetches the current state of a task.
	GetTask(ctx context.Context, endpoint Endpoint, taskID string) (Task, error)
}

// HTTPClient is the HTTP implementation of the Kling Client interface.
type HTTPClient struct {
	accessKey   string
	secretKey   string
	baseURL     string
	httpClient  *http.Client
	maxRetries  int
	baseBackoff time.Duration
	tokenTTL    time.Duration
	now         func() time.Time
}

// ClientOption is a function that configures an HTTPClient.
type ClientOption func(*HTTPClient)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(hc *HTTPClient) {
		hc.httpClient = c
	}
}

// WithBaseURL sets a custom base URL for the Kling API.
func WithBaseURL(url string) ClientOption {
	return func(hc *HTTPClient) {
		hc.baseURL = url
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

// WithTokenTTL sets the lifetime of the signed auth tokens.
func WithTokenTTL(d time.Duration) ClientOption {
	return func(hc *HTTPClient) {
		hc.tokenTTL = d
	}
}

// NewClient creates a new Kling HTTP client authenticated with an access/secret key pair.
func NewClient(accessKey, secretKey string, opts ...ClientOption) (*HTTPClient, error) {
	if accessKey == "" || secretKey == "" {
		return nil, ErrCredentialsRequired
	}

	c := &HTTPClient{
		accessKey:   accessKey,
		secretKey:   secretKey,
		baseURL:     "https://api-singapore.klingai.com",
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		maxRetries:  3,
		baseBackoff: 1 * time.Second,
		tokenTTL:    30 * time.Minute,
		now:         time.Now,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// CreateTask submits a generation request and returns the task ID.
func (c *HTTPClient) CreateTask(ctx context.Context, endpoint Endpoint, body any) (string, error) {
	if !endpoint.IsValid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidEndpoint, endpoint)
	}

	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("kling: marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/v1/videos/%s", c.baseURL, endpoint)

	var resp envelope
	if err := c.doRequestWithRetry(ctx, http.MethodPost, url, bodyBytes, &resp); err != nil {
		return "", err
	}

	if resp.Data.TaskID == "" {
		return "", ErrNoTaskIDReturned
	}

	return resp.Data.TaskID, nil
}

// GetTask fetches the current state of a task.
func (c *HTTPClient) GetTask(ctx context.Context, endpoint Endpoint, taskID string) (Task, error) {
	if taskID == "" {
		return Task{}, ErrTaskIDRequired
	}
	if !endpoint.IsValid() {
		return Task{}, fmt.Errorf("%w: %q", ErrInvalidEndpoint, endpoint)
	}

	url := fmt.Sprintf("%s/v1/videos/%s/%s", c.baseURL, endpoint, taskID)

	var resp envelope
	if err := c.doRequestWithRetry(ctx, http.MethodGet, url, nil, &resp); err != nil {
		return Task{}, err
	}

	return resp.Data, nil
}

// token signs a short-lived HS256 token from the key pair.
func (c *HTTPClient) token() (string, error) {
	now := c.now()
	claims := jwt.RegisteredClaims{
		Issuer:    c.accessKey,
		ExpiresAt: jwt.NewNumericDate(now.Add(c.tokenTTL)),
		NotBefore: jwt.NewNumericDate(now.Add(-5 * time.Second)),
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString([]byte(c.secretKey))
	if err != nil {
		return "", fmt.Errorf("kling: sign token: %w", err)
	}
	return signed, nil
}

// doRequestWithRetry performs an HTTP request with exponential backoff retry.
// Throttling is not retried here; the submission controller owns that policy.
func (c *HTTPClient) doRequestWithRetry(ctx context.Context, method, url string, body []byte, result *envelope) error {
	var lastErr error
	backoff := c.baseBackoff

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("kling: context cancelled: %w", ctx.Err())
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

	return fmt.Errorf("kling: max retries exceeded: %w", lastErr)
}

// doRequest performs a single HTTP request.
func (c *HTTPClient) doRequest(ctx context.Context, method, url string, body []byte, result *envelope) error {
	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return fmt.Errorf("kling: create request: %w", err)
	}

	token, err := c.token()
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &retryableError{err: fmt.Errorf("kling: request failed: %w", err)}
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &retryableError{err: fmt.Errorf("kling: read response: %w", err)}
	}

	if resp.StatusCode >= 500 {
		return &retryableError{err: fmt.Errorf("%w %d: %s", ErrServerError, resp.StatusCode, string(respBody))}
	}

	var env envelope
	if err := json.Unmarshal(respBody, &env); err != nil {
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return &APIError{StatusCode: resp.StatusCode, Message: string(respBody)}
		}
		return fmt.Errorf("kling: unmarshal response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 || env.Code != 0 {
		msg := env.Message
		if msg == "" {
			msg = string(respBody)
		}
		return &APIError{StatusCode: resp.StatusCode, Code: env.Code, Message: msg}
	}

	*result = env
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

// ParseCallback decodes a Kling callback body. Kling posts the task object
// directly; the enveloped form is accepted too.
func ParseCallback(payload []byte) (Task, error) {
	var task Task
	if err := json.Unmarshal(payload, &task); err != nil {
		return Task{}, fmt.Errorf("kling: decode callback: %w", err)
	}
	if task.TaskID != "" {
		return task, nil
	}
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return Task{}, fmt.Errorf("kling: decode callback: %w", err)
	}
	if env.Data.TaskID == "" {
		return Task{}, ErrTaskIDRequired
	}
	return env.Data, nil
}
