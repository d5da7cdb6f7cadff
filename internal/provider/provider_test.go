package provider

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/agenticdevops/aof/internal/aoftypes"
)

func TestCollectAssemblesTextAndToolCalls(t *testing.T) {
	chunks := make(chan *CompletionChunk, 4)
	chunks <- &CompletionChunk{Text: "hello "}
	chunks <- &CompletionChunk{Text: "world"}
	chunks <- &CompletionChunk{ToolCall: &aoftypes.ToolCall{ID: "1", Name: "exec"}}
	chunks <- &CompletionChunk{Done: true, Usage: &aoftypes.TokenUsage{InputTokens: 10, OutputTokens: 5}}
	close(chunks)

	text, calls, usage, err := Collect(context.Background(), chunks)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "hello world" {
		t.Fatalf("expected assembled text, got %q", text)
	}
	if len(calls) != 1 || calls[0].Name != "exec" {
		t.Fatalf("expected one exec tool call, got %+v", calls)
	}
	if usage.InputTokens != 10 || usage.OutputTokens != 5 {
		t.Fatalf("expected usage to carry through, got %+v", usage)
	}
}

func TestCollectPropagatesChunkError(t *testing.T) {
	chunks := make(chan *CompletionChunk, 1)
	wantErr := errors.New("boom")
	chunks <- &CompletionChunk{Error: wantErr}
	close(chunks)

	_, _, _, err := Collect(context.Background(), chunks)
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected wrapped error, got %v", err)
	}
}

func TestCollectRespectsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	chunks := make(chan *CompletionChunk)
	_, _, _, err := Collect(ctx, chunks)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestToolArgumentsJSON(t *testing.T) {
	if got := ToolArgumentsJSON(json.RawMessage(`{"a":1}`)); string(got) != `{"a":1}` {
		t.Fatalf("expected raw message passthrough, got %s", got)
	}
	if got := ToolArgumentsJSON(map[string]any{"a": 1}); string(got) != `{"a":1}` {
		t.Fatalf("expected marshaled map, got %s", got)
	}
	if got := ToolArgumentsJSON(`{"a":1}`); string(got) != `{"a":1}` {
		t.Fatalf("expected string passthrough, got %s", got)
	}
}
