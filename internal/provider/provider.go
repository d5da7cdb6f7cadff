// Package provider defines the LLM backend contract the Agent Executor
// drives, plus adapters for concrete providers (Anthropic, OpenAI).
// Grounded on the teacher's internal/agent.LLMProvider and
// internal/agent/providers/{anthropic,openai}.go, generalized onto
// aoftypes instead of the teacher's pkg/models.
package provider

import (
	"context"
	"encoding/json"

	"github.com/agenticdevops/aof/internal/aoftypes"
)

// Provider is implemented by each concrete LLM backend. Implementations
// must be safe for concurrent use: the Agent Executor may call Complete
// from multiple in-flight runs at once.
type Provider interface {
	// Complete sends a request and streams the response back chunk by
	// chunk. The channel is closed when the stream ends or errors.
	Complete(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error)

	// Name identifies the provider ("anthropic", "openai").
	Name() string

	// Models lists the models this provider exposes.
	Models() []Model

	// SupportsTools reports whether this provider can be given tool
	// definitions and return tool calls.
	SupportsTools() bool
}

// CompletionRequest is one call to a Provider.
type CompletionRequest struct {
	Model                string                      `json:"model"`
	System               string                      `json:"system,omitempty"`
	Messages             []CompletionMessage         `json:"messages"`
	Tools                []aoftypes.ToolDefinition   `json:"tools,omitempty"`
	MaxTokens            int                         `json:"max_tokens,omitempty"`
	Temperature          float64                     `json:"temperature,omitempty"`
	EnableThinking       bool                        `json:"enable_thinking,omitempty"`
	ThinkingBudgetTokens int                         `json:"thinking_budget_tokens,omitempty"`
}

// CompletionMessage is one turn of conversation handed to a Provider.
type CompletionMessage struct {
	Role        aoftypes.Role        `json:"role"`
	Content     string               `json:"content,omitempty"`
	ToolCalls   []aoftypes.ToolCall  `json:"tool_calls,omitempty"`
	ToolResults []aoftypes.ToolResult `json:"tool_results,omitempty"`
}

// CompletionChunk is one piece of a Provider's streamed response.
type CompletionChunk struct {
	Text          string             `json:"text,omitempty"`
	ToolCall      *aoftypes.ToolCall `json:"tool_call,omitempty"`
	Thinking      string             `json:"thinking,omitempty"`
	ThinkingStart bool               `json:"thinking_start,omitempty"`
	ThinkingEnd   bool               `json:"thinking_end,omitempty"`
	Done          bool               `json:"done,omitempty"`
	Usage         *aoftypes.TokenUsage `json:"usage,omitempty"`
	Error         error              `json:"-"`
}

// Model describes one model a Provider exposes.
type Model struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	ContextSize    int    `json:"context_size"`
	SupportsVision bool   `json:"supports_vision"`
}

// Collect drains chunks into a single assembled response: full text,
// any tool calls the model requested, and final token usage. It is the
// non-streaming view the Agent Executor's ReAct loop operates on; callers
// that want incremental deltas read from the channel directly instead.
func Collect(ctx context.Context, chunks <-chan *CompletionChunk) (text string, toolCalls []aoftypes.ToolCall, usage aoftypes.TokenUsage, err error) {
	for {
		select {
		case <-ctx.Done():
			return text, toolCalls, usage, ctx.Err()
		case chunk, ok := <-chunks:
			if !ok {
				return text, toolCalls, usage, nil
			}
			if chunk.Error != nil {
				return text, toolCalls, usage, chunk.Error
			}
			if chunk.Text != "" {
				text += chunk.Text
			}
			if chunk.ToolCall != nil {
				toolCalls = append(toolCalls, *chunk.ToolCall)
			}
			if chunk.Usage != nil {
				usage = *chunk.Usage
			}
			if chunk.Done {
				return text, toolCalls, usage, nil
			}
		}
	}
}

// ToolArgumentsJSON coerces a decoded tool-call argument value back to
// raw JSON, avoiding a redundant marshal round trip when it already is one.
func ToolArgumentsJSON(v any) json.RawMessage {
	switch x := v.(type) {
	case json.RawMessage:
		return x
	case []byte:
		return json.RawMessage(x)
	case string:
		return json.RawMessage(x)
	default:
		data, err := json.Marshal(x)
		if err != nil {
			return json.RawMessage("null")
		}
		return data
	}
}
