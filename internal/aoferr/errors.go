// Package aoferr defines the single tagged error type used across the
// runtime in place of the sum-type error hierarchies a Rust port would
// otherwise carry one variant per crate.
package aoferr

import (
	"errors"
	"fmt"
	"strings"
)

// Kind is the closed error taxonomy every layer of the runtime reports
// through. See spec.md §7.
type Kind string

const (
	KindConfig     Kind = "config"
	KindAuth       Kind = "auth"
	KindTransport  Kind = "transport"
	KindProtocol   Kind = "protocol"
	KindTimeout    Kind = "timeout"
	KindTool       Kind = "tool"
	KindValidation Kind = "validation"
	KindPolicy     Kind = "policy"
	KindQueueFull  Kind = "queue_full"
	KindNotFound   Kind = "not_found"
	KindCancelled  Kind = "cancelled"
)

// Retryable reports whether errors of this kind are worth retrying by the
// layer that owns the relevant retry policy (flow retry config, MCP
// reconnect, LLM provider-internal backoff).
func (k Kind) Retryable() bool {
	switch k {
	case KindTransport, KindTimeout:
		return true
	default:
		return false
	}
}

// Error is the single structured error type carried across layer
// boundaries. Layer identifies which component raised it (e.g. "mcp",
// "flowengine", "toolregistry") so logs and activity events can attribute
// failures without a type switch per package.
type Error struct {
	Kind    Kind
	Layer   string
	Message string
	Cause   error

	// Tool-specific context, set only when Kind == KindTool.
	ToolName   string
	ToolCallID string
	Attempts   int
}

func (e *Error) Error() string {
	var parts []string
	parts = append(parts, fmt.Sprintf("[%s", e.Kind))
	if e.Layer != "" {
		parts[0] += ":" + e.Layer
	}
	parts[0] += "]"
	if e.ToolName != "" {
		parts = append(parts, e.ToolName)
	}
	if e.Message != "" {
		parts = append(parts, e.Message)
	} else if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}
	if e.Attempts > 1 {
		parts = append(parts, fmt.Sprintf("(attempts=%d)", e.Attempts))
	}
	return strings.Join(parts, " ")
}

func (e *Error) Unwrap() error { return e.Cause }

// Retryable reports whether this error's kind should be retried.
func (e *Error) Retryable() bool { return e.Kind.Retryable() }

// New builds an Error directly.
func New(kind Kind, layer, message string) *Error {
	return &Error{Kind: kind, Layer: layer, Message: message}
}

// Wrap classifies cause heuristically when no kind is already known and
// attaches it as the error's cause. Mirrors the teacher's
// classifyToolError pattern, generalized across layers.
func Wrap(layer string, cause error) *Error {
	if cause == nil {
		return nil
	}
	var existing *Error
	if errors.As(cause, &existing) {
		return existing
	}
	return &Error{
		Kind:    classify(cause),
		Layer:   layer,
		Message: cause.Error(),
		Cause:   cause,
	}
}

// WrapTool builds a Tool-kind Error for a failed tool invocation.
func WrapTool(toolName, toolCallID string, cause error) *Error {
	e := Wrap("toolregistry", cause)
	if e == nil {
		return nil
	}
	e.Kind = KindTool
	e.ToolName = toolName
	e.ToolCallID = toolCallID
	e.Attempts = 1
	return e
}

// WithAttempts records the number of execution attempts made.
func (e *Error) WithAttempts(n int) *Error {
	e.Attempts = n
	return e
}

func classify(err error) Kind {
	s := strings.ToLower(err.Error())
	switch {
	case strings.Contains(s, "timeout") || strings.Contains(s, "deadline exceeded") || strings.Contains(s, "context deadline"):
		return KindTimeout
	case strings.Contains(s, "connection") || strings.Contains(s, "network") || strings.Contains(s, "dns") ||
		strings.Contains(s, "refused") || strings.Contains(s, "unreachable"):
		return KindTransport
	case strings.Contains(s, "unauthorized") || strings.Contains(s, "forbidden") || strings.Contains(s, "credential"):
		return KindAuth
	case strings.Contains(s, "invalid") || strings.Contains(s, "validation") || strings.Contains(s, "schema"):
		return KindValidation
	case strings.Contains(s, "not found") || strings.Contains(s, "no such"):
		return KindNotFound
	case strings.Contains(s, "cancel"):
		return KindCancelled
	default:
		return KindTool
	}
}

// Is reports whether err is an *Error of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// Common sentinel causes, wrapped into *Error by the layer that detects them.
var (
	ErrCancelled     = errors.New("cancelled")
	ErrQueueFull     = errors.New("backpressure: admission queue full")
	ErrNotFound      = errors.New("resource not found")
	ErrMaxIterations = errors.New("max iterations exceeded")
)
