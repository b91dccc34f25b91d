package providers

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestClassifyError(t *testing.T) {
	cases := []struct {
		msg  string
		want FailureKind
	}{
		{"context deadline exceeded", FailureTimeout},
		{"429 Too Many Requests", FailureRateLimit},
		{"invalid api key provided", FailureAuth},
		{"insufficient quota for this request", FailureBilling},
		{"blocked by content policy", FailureContentFilter},
		{"model not found", FailureModelMissing},
		{"internal server error", FailureServerError},
		{"something went sideways", FailureUnknown},
	}
	for _, tc := range cases {
		if got := ClassifyError(errors.New(tc.msg)); got != tc.want {
			t.Errorf("ClassifyError(%q) = %s, want %s", tc.msg, got, tc.want)
		}
	}
	if got := ClassifyError(nil); got != FailureUnknown {
		t.Errorf("ClassifyError(nil) = %s", got)
	}
}

func TestRetryable(t *testing.T) {
	retryable := []FailureKind{FailureRateLimit, FailureTimeout, FailureServerError}
	for _, k := range retryable {
		if !k.Retryable() {
			t.Errorf("%s should be retryable", k)
		}
	}
	terminal := []FailureKind{FailureAuth, FailureBilling, FailureInvalidRequest, FailureModelMissing, FailureContentFilter, FailureUnknown}
	for _, k := range terminal {
		if k.Retryable() {
			t.Errorf("%s should not be retryable", k)
		}
	}
}

func TestWithStatusReclassifies(t *testing.T) {
	perr := NewProviderError("anthropic", "claude-sonnet-4", errors.New("boom")).WithStatus(429)
	if perr.Kind != FailureRateLimit {
		t.Errorf("kind = %s, want rate_limit", perr.Kind)
	}
	if perr.WithStatus(503).Kind != FailureServerError {
		t.Errorf("kind after 503 = %s", perr.Kind)
	}
	if perr.WithStatus(401).Kind != FailureAuth {
		t.Errorf("kind after 401 = %s", perr.Kind)
	}
}

func TestWithCodePreferredOverStatus(t *testing.T) {
	perr := NewProviderError("anthropic", "", errors.New("boom")).
		WithStatus(500).
		WithCode("overloaded_error")
	if perr.Kind != FailureServerError {
		t.Errorf("kind = %s", perr.Kind)
	}

	// Unrecognized codes keep the prior classification.
	perr = NewProviderError("openai", "", errors.New("boom")).
		WithStatus(429).
		WithCode("mystery_code")
	if perr.Kind != FailureRateLimit {
		t.Errorf("kind = %s, want rate_limit preserved", perr.Kind)
	}
}

func TestProviderErrorMessage(t *testing.T) {
	perr := NewProviderError("anthropic", "claude-sonnet-4", errors.New("server melted")).
		WithStatus(500).
		WithCode("internal_error")
	msg := perr.Error()
	for _, want := range []string{"[server_error]", "anthropic", "model=claude-sonnet-4", "status=500", "code=internal_error", "server melted"} {
		if !strings.Contains(msg, want) {
			t.Errorf("Error() = %q, missing %q", msg, want)
		}
	}
}

func TestIsRetryableUnwrapsChain(t *testing.T) {
	perr := NewProviderError("openai", "gpt-4o", errors.New("boom")).WithStatus(503)
	wrapped := fmt.Errorf("stream create: %w", perr)

	if !IsRetryable(wrapped) {
		t.Error("wrapped 503 should be retryable")
	}
	got, ok := AsProviderError(wrapped)
	if !ok || got.Status != 503 {
		t.Errorf("AsProviderError = %+v, %v", got, ok)
	}
	if !IsProviderError(wrapped) {
		t.Error("IsProviderError should see through wrapping")
	}

	// Plain errors fall back to text classification.
	if !IsRetryable(errors.New("request timeout")) {
		t.Error("timeout text should be retryable")
	}
	if IsRetryable(errors.New("invalid api key")) {
		t.Error("auth failure should not be retryable")
	}
}
