package provider

import (
	"encoding/json"
	"testing"

	"github.com/agenticdevops/aof/internal/aoftypes"
)

func TestNewAnthropicProviderRequiresAPIKey(t *testing.T) {
	if _, err := NewAnthropicProvider(AnthropicConfig{}); err == nil {
		t.Fatal("expected error for missing API key")
	}
}

func TestNewAnthropicProviderDefaults(t *testing.T) {
	p, err := NewAnthropicProvider(AnthropicConfig{APIKey: "test-key"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.maxRetries != 3 {
		t.Fatalf("expected default maxRetries 3, got %d", p.maxRetries)
	}
	if p.defaultModel == "" {
		t.Fatal("expected a default model")
	}
}

func TestAnthropicProviderIdentity(t *testing.T) {
	p := &AnthropicProvider{}
	if p.Name() != "anthropic" {
		t.Fatalf("expected name anthropic, got %s", p.Name())
	}
	if !p.SupportsTools() {
		t.Fatal("expected anthropic provider to support tools")
	}
	if len(p.Models()) == 0 {
		t.Fatal("expected at least one model")
	}
}

func TestAnthropicConvertMessagesSkipsSystemRole(t *testing.T) {
	p := &AnthropicProvider{}
	msgs := []CompletionMessage{
		{Role: aoftypes.RoleSystem, Content: "ignored"},
		{Role: aoftypes.RoleUser, Content: "hi"},
		{Role: aoftypes.RoleAssistant, Content: "hello"},
	}

	out, err := p.convertMessages(msgs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected system message dropped, got %d messages", len(out))
	}
}

func TestAnthropicConvertMessagesRejectsInvalidToolArguments(t *testing.T) {
	p := &AnthropicProvider{}
	msgs := []CompletionMessage{
		{
			Role: aoftypes.RoleAssistant,
			ToolCalls: []aoftypes.ToolCall{
				{ID: "1", Name: "exec", Arguments: json.RawMessage(`not-json`)},
			},
		},
	}

	if _, err := p.convertMessages(msgs); err == nil {
		t.Fatal("expected error for malformed tool call arguments")
	}
}

func TestAnthropicConvertToolsRejectsInvalidSchema(t *testing.T) {
	p := &AnthropicProvider{}
	tools := []aoftypes.ToolDefinition{
		{Name: "broken", Parameters: json.RawMessage(`not-json`)},
	}

	if _, err := p.convertTools(tools); err == nil {
		t.Fatal("expected error for malformed tool schema")
	}
}

func TestIsRetryableAnthropicError(t *testing.T) {
	if isRetryableAnthropicError(nil) {
		t.Fatal("nil error should not be retryable")
	}
}
