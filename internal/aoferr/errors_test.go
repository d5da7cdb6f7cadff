package aoferr

import (
	"errors"
	"testing"
)

func TestKindRetryable(t *testing.T) {
	if !KindTransport.Retryable() || !KindTimeout.Retryable() {
		t.Fatalf("transport/timeout should be retryable")
	}
	if KindValidation.Retryable() {
		t.Fatalf("validation should not be retryable")
	}
}

func TestErrorStringIncludesKindLayerAndMessage(t *testing.T) {
	err := New(KindPolicy, "safety", "tool not allowlisted")
	got := err.Error()
	want := "[policy:safety] tool not allowlisted"
	if got != want {
		t.Fatalf("Error() = %q, want %q", got, want)
	}
}

func TestErrorStringFallsBackToCause(t *testing.T) {
	err := Wrap("mcp", errors.New("connection refused"))
	if err.Kind != KindTransport {
		t.Fatalf("classified kind = %v", err.Kind)
	}
	if err.Error() != "[transport:mcp] connection refused" {
		t.Fatalf("Error() = %q", err.Error())
	}
}

func TestWrapPassesThroughExistingError(t *testing.T) {
	inner := New(KindAuth, "webhook", "bad signature")
	wrapped := Wrap("webhook", inner)
	if wrapped != inner {
		t.Fatalf("Wrap should return the same *Error instance unchanged")
	}
}

func TestWrapNilReturnsNil(t *testing.T) {
	if Wrap("x", nil) != nil {
		t.Fatalf("Wrap(nil) should be nil")
	}
}

func TestWrapToolSetsToolFields(t *testing.T) {
	err := WrapTool("grep", "call-1", errors.New("timeout exceeded"))
	if err.Kind != KindTool {
		t.Fatalf("kind = %v, want KindTool", err.Kind)
	}
	if err.ToolName != "grep" || err.ToolCallID != "call-1" {
		t.Fatalf("tool fields = %q/%q", err.ToolName, err.ToolCallID)
	}
}

func TestClassifyHeuristics(t *testing.T) {
	cases := map[string]Kind{
		"deadline exceeded":     KindTimeout,
		"connection refused":    KindTransport,
		"unauthorized request":  KindAuth,
		"invalid schema":        KindValidation,
		"no such resource":      KindNotFound,
		"operation was cancel":  KindCancelled,
		"something went wrong":  KindTool,
	}
	for msg, want := range cases {
		got := classify(errors.New(msg))
		if got != want {
			t.Errorf("classify(%q) = %v, want %v", msg, got, want)
		}
	}
}

func TestIsMatchesWrappedKind(t *testing.T) {
	err := New(KindQueueFull, "orchestrator", "too many tasks")
	var wrapped error = err
	if !Is(wrapped, KindQueueFull) {
		t.Fatalf("Is should match wrapped *Error by kind")
	}
	if Is(wrapped, KindAuth) {
		t.Fatalf("Is should not match a different kind")
	}
	if Is(errors.New("plain"), KindAuth) {
		t.Fatalf("Is should not match a non-*Error")
	}
}

func TestUnwrapReturnsCause(t *testing.T) {
	cause := errors.New("boom")
	err := &Error{Kind: KindTool, Cause: cause}
	if !errors.Is(err, cause) {
		t.Fatalf("errors.Is should see through Unwrap to cause")
	}
}

func TestWithAttemptsAppendsToMessage(t *testing.T) {
	err := New(KindTool, "toolregistry", "exec failed").WithAttempts(3)
	if err.Attempts != 3 {
		t.Fatalf("Attempts = %d", err.Attempts)
	}
	if got := err.Error(); got != "[tool:toolregistry] exec failed (attempts=3)" {
		t.Fatalf("Error() = %q", got)
	}
}
