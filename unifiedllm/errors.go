package unifiedllm

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// SDKError is the base error type for all unified LLM errors.
type SDKError struct {
	Message string
	Cause   error
}

func (e *SDKError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *SDKError) Unwrap() error {
	return e.Cause
}

// ProviderError represents an error returned by an LLM provider.
type ProviderError struct {
	SDKError
	Provider   string
	StatusCode int
	ErrorCode  string
	Retryable  bool
	RetryAfter *float64
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("[%s] %s (status=%d, retryable=%v)", e.Provider, e.Message, e.StatusCode, e.Retryable)
}

// Concrete provider error types.

type AuthenticationError struct{ ProviderError }
type AccessDeniedError struct{ ProviderError }
type NotFoundError struct{ ProviderError }
type InvalidRequestError struct{ ProviderError }
type RateLimitError struct{ ProviderError }
type ServerError struct{ ProviderError }
type ContentFilterError struct{ ProviderError }
type ContextLengthError struct{ ProviderError }
type QuotaExceededError struct{ ProviderError }

// Non-provider errors.

type RequestTimeoutError struct{ SDKError }
type AbortError struct{ SDKError }
type NetworkError struct{ SDKError }
type InvalidToolCallError struct{ SDKError }
type NoObjectGeneratedError struct{ SDKError }
type ConfigurationError struct{ SDKError }

// ErrorFromStatusCode builds the typed error for an HTTP failure. Gemini
// reports a bad key as 400, so a 400 whose message names the API key is an
// AuthenticationError.
func ErrorFromStatusCode(statusCode int, message, provider, errorCode string, retryAfter *float64) error {
	pe := ProviderError{
		SDKError:   SDKError{Message: message},
		Provider:   provider,
		StatusCode: statusCode,
		ErrorCode:  errorCode,
		RetryAfter: retryAfter,
	}
	lower := strings.ToLower(message)

	switch {
	case statusCode == 401, statusCode == 400 && strings.Contains(lower, "api key"):
		return &AuthenticationError{ProviderError: pe}
	case statusCode == 400 || statusCode == 422:
		return &InvalidRequestError{ProviderError: pe}
	case statusCode == 403:
		return &AccessDeniedError{ProviderError: pe}
	case statusCode == 404:
		return &NotFoundError{ProviderError: pe}
	case statusCode == 408:
		return &RequestTimeoutError{SDKError: pe.SDKError}
	case statusCode == 413:
		return &ContextLengthError{ProviderError: pe}
	case statusCode == 429 && strings.Contains(lower, "quota"):
		return &QuotaExceededError{ProviderError: pe}
	case statusCode == 429:
		pe.Retryable = true
		return &RateLimitError{ProviderError: pe}
	case statusCode >= 500:
		pe.Retryable = true
		return &ServerError{ProviderError: pe}
	}
	pe.Retryable = true
	return &pe
}

// ClassifyProviderError converts an opaque SDK error into the typed hierarchy
// by inspecting its message. Provider SDKs differ in how (and whether) they
// expose status codes, so every adapter funnels through this one classifier.
func ClassifyProviderError(provider string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return &AbortError{SDKError: SDKError{Message: "request cancelled", Cause: err}}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &RequestTimeoutError{SDKError: SDKError{Message: "request timed out", Cause: err}}
	}

	msg := err.Error()
	lower := strings.ToLower(msg)
	pe := ProviderError{
		SDKError: SDKError{Message: msg, Cause: err},
		Provider: provider,
	}

	switch {
	case containsAny(lower, "401", "unauthorized", "invalid api key", "api key not valid", "unauthenticated"):
		pe.StatusCode = 401
		return &AuthenticationError{ProviderError: pe}
	case containsAny(lower, "403", "forbidden", "permission_denied", "permission denied"):
		pe.StatusCode = 403
		return &AccessDeniedError{ProviderError: pe}
	case containsAny(lower, "404", "not found", "not_found"):
		pe.StatusCode = 404
		return &NotFoundError{ProviderError: pe}
	case containsAny(lower, "context length", "context_length", "too many tokens", "token limit"):
		pe.StatusCode = 413
		return &ContextLengthError{ProviderError: pe}
	case containsAny(lower, "quota"):
		pe.StatusCode = 429
		return &QuotaExceededError{ProviderError: pe}
	case containsAny(lower, "429", "rate limit", "rate_limit", "resource_exhausted", "too many requests"):
		pe.StatusCode = 429
		pe.Retryable = true
		return &RateLimitError{ProviderError: pe}
	case containsAny(lower, "safety", "content filter", "content_filter", "blocked"):
		return &ContentFilterError{ProviderError: pe}
	case containsAny(lower, "400", "invalid_argument", "bad request", "invalid request"):
		pe.StatusCode = 400
		return &InvalidRequestError{ProviderError: pe}
	case containsAny(lower, "500", "502", "503", "504", "internal", "unavailable", "server error", "overloaded"):
		pe.StatusCode = 500
		pe.Retryable = true
		return &ServerError{ProviderError: pe}
	case containsAny(lower, "timeout", "timed out", "deadline"):
		return &RequestTimeoutError{SDKError: SDKError{Message: msg, Cause: err}}
	case containsAny(lower, "connection", "network", "dial tcp", "no such host", "eof"):
		return &NetworkError{SDKError: SDKError{Message: msg, Cause: err}}
	}

	pe.Retryable = true
	return &pe
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// retryable is implemented through embedding by every error in this
// package. The shallowest method wins, so provider errors report their
// Retryable field and the transport errors below override the SDKError
// default.
type retryable interface{ retryable() bool }

func (e *SDKError) retryable() bool            { return false }
func (e *ProviderError) retryable() bool       { return e.Retryable }
func (e *RateLimitError) retryable() bool      { return true }
func (e *ServerError) retryable() bool         { return true }
func (e *RequestTimeoutError) retryable() bool { return true }
func (e *NetworkError) retryable() bool        { return true }

// IsRetryable reports whether err, or an error it wraps, is worth another
// attempt. Errors from outside this package are assumed transient.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var r retryable
	if errors.As(err, &r) {
		return r.retryable()
	}
	return true
}
