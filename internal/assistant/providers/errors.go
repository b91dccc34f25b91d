package providers

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// FailureKind categorizes why a provider request failed, driving the
// retry decision in the streaming loop.
type FailureKind string

const (
	FailureRateLimit      FailureKind = "rate_limit"
	FailureAuth           FailureKind = "auth"
	FailureBilling        FailureKind = "billing"
	FailureTimeout        FailureKind = "timeout"
	FailureServerError    FailureKind = "server_error"
	FailureInvalidRequest FailureKind = "invalid_request"
	FailureModelMissing   FailureKind = "model_unavailable"
	FailureContentFilter  FailureKind = "content_filter"
	FailureUnknown        FailureKind = "unknown"
)

// Retryable reports whether the failure is transient enough that the
// same request may succeed on a later attempt.
func (k FailureKind) Retryable() bool {
	switch k {
	case FailureRateLimit, FailureTimeout, FailureServerError:
		return true
	default:
		return false
	}
}

// ProviderError is a structured error from an LLM provider carrying the
// context needed for retry decisions and debugging.
type ProviderError struct {
	Kind      FailureKind
	Provider  string
	Model     string
	Status    int
	Code      string
	Message   string
	RequestID string
	Cause     error
}

func (e *ProviderError) Error() string {
	parts := []string{fmt.Sprintf("[%s]", e.Kind)}
	if e.Provider != "" {
		parts = append(parts, e.Provider)
	}
	if e.Model != "" {
		parts = append(parts, "model="+e.Model)
	}
	if e.Status != 0 {
		parts = append(parts, fmt.Sprintf("status=%d", e.Status))
	}
	if e.Code != "" {
		parts = append(parts, "code="+e.Code)
	}
	if e.Message != "" {
		parts = append(parts, e.Message)
	} else if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}
	return strings.Join(parts, " ")
}

func (e *ProviderError) Unwrap() error { return e.Cause }

// NewProviderError wraps cause in a ProviderError, classifying it from
// the error text when no better signal is available.
func NewProviderError(provider, model string, cause error) *ProviderError {
	perr := &ProviderError{
		Provider: provider,
		Model:    model,
		Cause:    cause,
		Kind:     FailureUnknown,
	}
	if cause != nil {
		perr.Message = cause.Error()
		perr.Kind = ClassifyError(cause)
	}
	return perr
}

// WithStatus records the HTTP status and reclassifies from it.
func (e *ProviderError) WithStatus(status int) *ProviderError {
	e.Status = status
	e.Kind = classifyStatus(status)
	return e
}

// WithCode records a provider-specific error code, preferring its
// classification over the status-based one when it is recognized.
func (e *ProviderError) WithCode(code string) *ProviderError {
	e.Code = code
	if kind := classifyCode(code); kind != FailureUnknown {
		e.Kind = kind
	}
	return e
}

func (e *ProviderError) WithRequestID(id string) *ProviderError {
	e.RequestID = id
	return e
}

func (e *ProviderError) WithMessage(msg string) *ProviderError {
	e.Message = msg
	return e
}

// ClassifyError inspects the error text and maps it to a FailureKind.
// APIs disagree on error surfaces, so the fallthrough is string matching.
func ClassifyError(err error) FailureKind {
	if err == nil {
		return FailureUnknown
	}
	msg := strings.ToLower(err.Error())

	switch {
	case strings.Contains(msg, "timeout"),
		strings.Contains(msg, "deadline exceeded"),
		strings.Contains(msg, "context deadline"):
		return FailureTimeout
	case strings.Contains(msg, "rate limit"),
		strings.Contains(msg, "rate_limit"),
		strings.Contains(msg, "too many requests"),
		strings.Contains(msg, "429"):
		return FailureRateLimit
	case strings.Contains(msg, "unauthorized"),
		strings.Contains(msg, "invalid api key"),
		strings.Contains(msg, "invalid_api_key"),
		strings.Contains(msg, "authentication"),
		strings.Contains(msg, "401"),
		strings.Contains(msg, "403"):
		return FailureAuth
	case strings.Contains(msg, "billing"),
		strings.Contains(msg, "payment"),
		strings.Contains(msg, "quota"),
		strings.Contains(msg, "402"):
		return FailureBilling
	case strings.Contains(msg, "content_filter"),
		strings.Contains(msg, "content policy"),
		strings.Contains(msg, "safety"):
		return FailureContentFilter
	case strings.Contains(msg, "model not found"),
		strings.Contains(msg, "model_not_found"),
		strings.Contains(msg, "does not exist"),
		strings.Contains(msg, "unavailable"):
		return FailureModelMissing
	case strings.Contains(msg, "internal server"),
		strings.Contains(msg, "server error"),
		strings.Contains(msg, "500"),
		strings.Contains(msg, "502"),
		strings.Contains(msg, "503"),
		strings.Contains(msg, "504"):
		return FailureServerError
	}
	return FailureUnknown
}

func classifyStatus(status int) FailureKind {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return FailureAuth
	case status == http.StatusPaymentRequired:
		return FailureBilling
	case status == http.StatusTooManyRequests:
		return FailureRateLimit
	case status == http.StatusBadRequest:
		return FailureInvalidRequest
	case status == http.StatusNotFound:
		return FailureModelMissing
	case status >= 500:
		return FailureServerError
	default:
		return FailureUnknown
	}
}

func classifyCode(code string) FailureKind {
	switch strings.ToLower(code) {
	case "rate_limit_error", "rate_limit_exceeded":
		return FailureRateLimit
	case "authentication_error", "invalid_api_key":
		return FailureAuth
	case "billing_error", "insufficient_quota":
		return FailureBilling
	case "model_not_found", "model_not_available":
		return FailureModelMissing
	case "content_policy_violation", "content_filter":
		return FailureContentFilter
	case "server_error", "internal_error", "overloaded_error":
		return FailureServerError
	case "invalid_request_error":
		return FailureInvalidRequest
	default:
		return FailureUnknown
	}
}

// IsProviderError reports whether err carries a ProviderError anywhere
// in its chain.
func IsProviderError(err error) bool {
	var perr *ProviderError
	return errors.As(err, &perr)
}

// AsProviderError extracts a ProviderError from an error chain.
func AsProviderError(err error) (*ProviderError, bool) {
	var perr *ProviderError
	if errors.As(err, &perr) {
		return perr, true
	}
	return nil, false
}

// IsRetryable reports whether the request that produced err is worth
// retrying with backoff.
func IsRetryable(err error) bool {
	if perr, ok := AsProviderError(err); ok {
		return perr.Kind.Retryable()
	}
	return ClassifyError(err).Retryable()
}
