package toolregistry

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/agenticdevops/aof/internal/aoferr"
	"github.com/agenticdevops/aof/internal/aoftypes"
)

type flakyTool struct {
	name       string
	failTimes  int
	calls      int
	retryable  bool
	sleep      time.Duration
}

func (t *flakyTool) Definition() aoftypes.ToolDefinition {
	return aoftypes.ToolDefinition{Name: t.name, ToolType: aoftypes.ToolTypeBuiltin}
}

func (t *flakyTool) Execute(ctx context.Context, params json.RawMessage) (*aoftypes.ToolResult, error) {
	t.calls++
	if t.sleep > 0 {
		select {
		case <-time.After(t.sleep):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if t.calls <= t.failTimes {
		if t.retryable {
			return nil, aoferr.New(aoferr.KindTransport, "test", "transient failure")
		}
		return nil, errors.New("permanent failure")
	}
	return &aoftypes.ToolResult{Success: true}, nil
}

func TestExecuteRetriesRetryableErrors(t *testing.T) {
	reg := New()
	tool := &flakyTool{name: "flaky", failTimes: 2, retryable: true}
	reg.Register(tool)

	exec := NewExecutor(reg, &ExecutorConfig{
		MaxConcurrency: 1, DefaultTimeout: time.Second, DefaultRetries: 3, RetryBackoff: time.Millisecond, MaxRetryBackoff: 10 * time.Millisecond,
	})

	result := exec.Execute(context.Background(), aoftypes.ToolCall{ID: "1", Name: "flaky"})
	if result.Error != nil {
		t.Fatalf("expected eventual success, got %v", result.Error)
	}
	if result.Attempts != 3 {
		t.Fatalf("attempts = %d, want 3", result.Attempts)
	}
}

func TestExecuteDoesNotRetryNonRetryableErrors(t *testing.T) {
	reg := New()
	tool := &flakyTool{name: "flaky", failTimes: 5, retryable: false}
	reg.Register(tool)

	exec := NewExecutor(reg, &ExecutorConfig{
		MaxConcurrency: 1, DefaultTimeout: time.Second, DefaultRetries: 3, RetryBackoff: time.Millisecond, MaxRetryBackoff: 10 * time.Millisecond,
	})

	result := exec.Execute(context.Background(), aoftypes.ToolCall{ID: "1", Name: "flaky"})
	if result.Error == nil {
		t.Fatal("expected failure")
	}
	if result.Attempts != 1 {
		t.Fatalf("attempts = %d, want 1 (non-retryable should not retry)", result.Attempts)
	}
}

func TestExecuteTimesOutSlowTool(t *testing.T) {
	reg := New()
	tool := &flakyTool{name: "slow", sleep: 50 * time.Millisecond}
	reg.Register(tool)

	exec := NewExecutor(reg, &ExecutorConfig{
		MaxConcurrency: 1, DefaultTimeout: 5 * time.Millisecond, DefaultRetries: 0, RetryBackoff: time.Millisecond, MaxRetryBackoff: time.Millisecond,
	})

	result := exec.Execute(context.Background(), aoftypes.ToolCall{ID: "1", Name: "slow"})
	if result.Error == nil || !aoferr.Is(result.Error, aoferr.KindTimeout) {
		t.Fatalf("err = %v, want KindTimeout", result.Error)
	}
}

func TestExecuteAllPreservesOrder(t *testing.T) {
	reg := New()
	reg.Register(&echoTool{name: "a"})
	reg.Register(&echoTool{name: "b"})
	exec := NewExecutor(reg, DefaultExecutorConfig())

	results := exec.ExecuteAll(context.Background(), []aoftypes.ToolCall{
		{ID: "1", Name: "a"},
		{ID: "2", Name: "b"},
	})
	if len(results) != 2 || results[0].ToolName != "a" || results[1].ToolName != "b" {
		t.Fatalf("results = %#v", results)
	}
}

func TestResultsToMessagesAndAnyErrors(t *testing.T) {
	results := []*ExecutionResult{
		{Result: &aoftypes.ToolResult{Success: true}},
		{Error: errors.New("boom")},
	}
	if !AnyErrors(results) {
		t.Fatal("expected AnyErrors to be true")
	}
	msgs := ResultsToMessages(results)
	if len(msgs) != 2 || msgs[0].Success != true || msgs[1].Error != "boom" {
		t.Fatalf("msgs = %#v", msgs)
	}
}

func TestAsJSONHandlesEveryInputShape(t *testing.T) {
	if string(AsJSON(json.RawMessage(`{"a":1}`))) != `{"a":1}` {
		t.Fatal("RawMessage passthrough failed")
	}
	if string(AsJSON([]byte(`{"a":1}`))) != `{"a":1}` {
		t.Fatal("[]byte passthrough failed")
	}
	if string(AsJSON(`{"a":1}`)) != `{"a":1}` {
		t.Fatal("string passthrough failed")
	}
	if string(AsJSON(map[string]int{"a": 1})) != `{"a":1}` {
		t.Fatal("struct marshal failed")
	}
}
