package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrorCode is the machine-readable failure category stored on jobs.
type ErrorCode string

// Error taxonomy.
const (
	CodeQuotaExceeded    ErrorCode = "QUOTA_EXCEEDED"
	CodeAuthError        ErrorCode = "AUTH_ERROR"
	CodeTimeout          ErrorCode = "TIMEOUT"
	CodeInvalidRequest   ErrorCode = "INVALID_REQUEST"
	CodeGenerationFailed ErrorCode = "GENERATION_FAILED"
	CodePollingError     ErrorCode = "POLLING_ERROR"
	CodeUnknown          ErrorCode = "UNKNOWN_ERROR"
)

// Static errors shared by adapters.
var (
	// ErrUnsupportedKind is returned when an adapter cannot serve a kind.
	ErrUnsupportedKind = errors.New("provider: unsupported generation kind")
	// ErrMissingInput is returned when a required input reference is absent.
	ErrMissingInput = errors.New("provider: missing required input")
	// ErrNoArtifact is returned when a provider reports success without output.
	ErrNoArtifact = errors.New("provider: no artifact in response")
	// ErrInvalidHandle is returned when a handle cannot be decoded.
	ErrInvalidHandle = errors.New("provider: invalid job handle")
)

// Error is a classified provider failure.
type Error struct {
	Provider    string
	Code        ErrorCode
	Message     string
	StatusCode  int
	RateLimited bool
	Err         error
}

func (e *Error) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: %s (status %d): %s", e.Provider, e.Code, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: %s: %s", e.Provider, e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError builds a classified error from an HTTP status and provider text.
func NewError(providerName string, status int, message string) *Error {
	return &Error{
		Provider:    providerName,
		Code:        Classify(status, message),
		Message:     message,
		StatusCode:  status,
		RateLimited: isRateLimit(status, message),
	}
}

var (
	rateLimitPatterns = []string{"rate limit", "ratelimit", "too many requests", "concurrency limit", "parallel task"}
	quotaPatterns     = []string{"quota", "resource_exhausted", "resource exhausted", "insufficient balance", "balance not enough", "billing"}
	// Exhausted budgets that retrying within minutes will not restore.
	hardQuotaPatterns = []string{"billing", "insufficient balance", "balance not enough", "check your plan", "per day", "daily limit", "free tier"}
	authPatterns      = []string{"unauthorized", "unauthenticated", "permission_denied", "permission denied", "api key", "invalid token", "forbidden", "authentication"}
	timeoutPatterns   = []string{"timeout", "timed out", "deadline exceeded", "deadline_exceeded"}
	invalidPatterns   = []string{"invalid", "bad request", "not supported", "unsupported", "malformed", "invalid_argument", "safety", "blocked"}
	failedPatterns    = []string{"generation failed", "failed to generate", "task failed", "content policy"}
)

// Classify maps an HTTP status and provider error text onto the taxonomy.
func Classify(status int, message string) ErrorCode {
	msg := strings.ToLower(message)
	switch {
	case status == http.StatusTooManyRequests || containsAny(msg, rateLimitPatterns) || containsAny(msg, quotaPatterns):
		return CodeQuotaExceeded
	case status == http.StatusUnauthorized || status == http.StatusForbidden || containsAny(msg, authPatterns):
		return CodeAuthError
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout || containsAny(msg, timeoutPatterns):
		return CodeTimeout
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity || containsAny(msg, invalidPatterns):
		return CodeInvalidRequest
	case containsAny(msg, failedPatterns):
		return CodeGenerationFailed
	default:
		return CodeUnknown
	}
}

// ClassifyError returns the taxonomy code for any error.
func ClassifyError(err error) ErrorCode {
	if err == nil {
		return ""
	}
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Code
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return CodeTimeout
	}
	if errors.Is(err, ErrUnsupportedKind) || errors.Is(err, ErrMissingInput) {
		return CodeInvalidRequest
	}
	return Classify(0, err.Error())
}

// IsRateLimited returns true if err is a provider rate-limit rejection.
func IsRateLimited(err error) bool {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.RateLimited
	}
	return false
}

func isRateLimit(status int, message string) bool {
	msg := strings.ToLower(message)
	if containsAny(msg, hardQuotaPatterns) {
		return false
	}
	return status == http.StatusTooManyRequests || containsAny(msg, rateLimitPatterns)
}

func containsAny(s string, patterns []string) bool {
	for _, p := range patterns {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}
