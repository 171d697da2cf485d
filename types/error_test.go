package types

import (
	"errors"
	"testing"
)

func TestError_ChainingAndHelpers(t *testing.T) {
	t.Parallel()

	root := errors.New("root")
	err := NewError(ErrUpstreamError, "upstream failed").
		WithCause(root).
		WithHTTPStatus(502).
		WithRetryable(true).
		WithProvider("openai")

	if GetErrorCode(err) != ErrUpstreamError {
		t.Fatalf("expected code %s, got %s", ErrUpstreamError, GetErrorCode(err))
	}
	if !IsRetryable(err) {
		t.Fatalf("expected retryable")
	}
	if !errors.Is(err, root) {
		t.Fatalf("expected errors.Is unwrap to root")
	}
	if got := err.Error(); got == "" {
		t.Fatalf("expected non-empty error string")
	}
}

func TestError_JobLifecycleCodes(t *testing.T) {
	t.Parallel()

	full := NewError(ErrQueueFull, "generation queue is full").
		WithHTTPStatus(503).
		WithRetryable(true)
	if full.HTTPStatus != 503 || !IsRetryable(full) {
		t.Fatalf("queue-full error should be a retryable 503, got %+v", full)
	}

	failed := NewError(ErrJobFailed, "generation failed for all items").WithHTTPStatus(410)
	if IsRetryable(failed) {
		t.Fatalf("failed job must not be retryable")
	}
	if GetErrorCode(failed) != ErrJobFailed {
		t.Fatalf("expected code %s, got %s", ErrJobFailed, GetErrorCode(failed))
	}

	if GetErrorCode(errors.New("plain")) != "" {
		t.Fatalf("plain errors carry no code")
	}
}
