package toolregistry

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/agenticdevops/aof/internal/aoferr"
	"github.com/agenticdevops/aof/internal/aoftypes"
)

// ExecutorConfig configures the parallel tool executor: concurrency limit,
// default timeout, and default retry/backoff policy.
type ExecutorConfig struct {
	MaxConcurrency  int
	DefaultTimeout  time.Duration
	DefaultRetries  int
	RetryBackoff    time.Duration
	MaxRetryBackoff time.Duration
}

// DefaultExecutorConfig returns the baseline executor configuration.
func DefaultExecutorConfig() *ExecutorConfig {
	return &ExecutorConfig{
		MaxConcurrency:  5,
		DefaultTimeout:  30 * time.Second,
		DefaultRetries:  2,
		RetryBackoff:    100 * time.Millisecond,
		MaxRetryBackoff: 5 * time.Second,
	}
}

// ToolConfig holds per-tool overrides for timeout, retry, and priority.
type ToolConfig struct {
	Timeout      time.Duration
	Retries      int
	RetryBackoff time.Duration
	Priority     int
}

// Executor runs tool calls with concurrency limiting, retry, and timeout
// handling. Grounded on haasonsaas-nexus internal/agent/executor.go.
type Executor struct {
	registry   *Registry
	config     *ExecutorConfig
	toolConfig map[string]*ToolConfig
	mu         sync.RWMutex

	sem chan struct{}

	metrics *ExecutorMetrics
}

// ExecutorMetrics tracks cumulative executor activity.
type ExecutorMetrics struct {
	mu              sync.Mutex
	TotalExecutions int64
	TotalRetries    int64
	TotalFailures   int64
	TotalTimeouts   int64
	TotalPanics     int64
}

// NewExecutor returns an Executor over registry. A nil config uses
// DefaultExecutorConfig.
func NewExecutor(registry *Registry, config *ExecutorConfig) *Executor {
	if config == nil {
		config = DefaultExecutorConfig()
	}
	return &Executor{
		registry:   registry,
		config:     config,
		toolConfig: make(map[string]*ToolConfig),
		sem:        make(chan struct{}, config.MaxConcurrency),
		metrics:    &ExecutorMetrics{},
	}
}

// ConfigureTool sets a per-tool override, keyed by tool name.
func (e *Executor) ConfigureTool(name string, config *ToolConfig) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.toolConfig[name] = config
}

func (e *Executor) getToolConfig(name string) *ToolConfig {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.toolConfig[name]
}

// ExecutionResult is the outcome of one tool call, with timing and retry count.
type ExecutionResult struct {
	ToolCallID string
	ToolName   string
	Result     *aoftypes.ToolResult
	Error      error
	Duration   time.Duration
	Attempts   int
}

// ExecuteAll runs calls concurrently, bounded by the executor's semaphore,
// and returns results in the same order as calls.
func (e *Executor) ExecuteAll(ctx context.Context, calls []aoftypes.ToolCall) []*ExecutionResult {
	if len(calls) == 0 {
		return nil
	}

	results := make([]*ExecutionResult, len(calls))
	var wg sync.WaitGroup

	for i, call := range calls {
		wg.Add(1)
		go func(idx int, tc aoftypes.ToolCall) {
			defer wg.Done()
			results[idx] = e.Execute(ctx, tc)
		}(i, call)
	}

	wg.Wait()
	return results
}

// Execute runs a single tool call with retry and timeout handling,
// acquiring a semaphore slot for backpressure first.
func (e *Executor) Execute(ctx context.Context, call aoftypes.ToolCall) *ExecutionResult {
	start := time.Now()
	result := &ExecutionResult{ToolCallID: call.ID, ToolName: call.Name}

	select {
	case e.sem <- struct{}{}:
		defer func() { <-e.sem }()
	case <-ctx.Done():
		timeoutErr := aoferr.WrapTool(call.Name, call.ID, ctx.Err())
		timeoutErr.Kind = aoferr.KindTimeout
		result.Error = timeoutErr
		result.Duration = time.Since(start)
		return result
	}

	tc := e.getToolConfig(call.Name)
	timeout := e.config.DefaultTimeout
	maxRetries := e.config.DefaultRetries
	backoff := e.config.RetryBackoff

	if tc != nil {
		if tc.Timeout > 0 {
			timeout = tc.Timeout
		}
		if tc.Retries >= 0 {
			maxRetries = tc.Retries
		}
		if tc.RetryBackoff > 0 {
			backoff = tc.RetryBackoff
		}
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		result.Attempts = attempt + 1

		execResult, execErr := e.executeWithTimeout(ctx, call, timeout)
		if execErr == nil {
			result.Result = execResult
			result.Duration = time.Since(start)

			e.metrics.mu.Lock()
			e.metrics.TotalExecutions++
			if attempt > 0 {
				e.metrics.TotalRetries += int64(attempt)
			}
			e.metrics.mu.Unlock()
			return result
		}

		lastErr = execErr

		var aerr *aoferr.Error
		retryable := false
		if asErr, ok := execErr.(*aoferr.Error); ok {
			aerr = asErr
			retryable = aerr.Retryable()
		}
		if !retryable || ctx.Err() != nil || attempt >= maxRetries {
			break
		}

		sleepDuration := backoff * time.Duration(1<<uint(attempt))
		if sleepDuration > e.config.MaxRetryBackoff {
			sleepDuration = e.config.MaxRetryBackoff
		}

		select {
		case <-time.After(sleepDuration):
		case <-ctx.Done():
			cancelled := aoferr.WrapTool(call.Name, call.ID, ctx.Err())
			cancelled.Kind = aoferr.KindTimeout
			lastErr = cancelled
		}
	}

	result.Error = lastErr
	result.Duration = time.Since(start)

	e.metrics.mu.Lock()
	e.metrics.TotalExecutions++
	e.metrics.TotalFailures++
	if aerr, ok := lastErr.(*aoferr.Error); ok {
		switch aerr.Kind {
		case aoferr.KindTimeout:
			e.metrics.TotalTimeouts++
		}
	}
	e.metrics.mu.Unlock()

	return result
}

func (e *Executor) executeWithTimeout(ctx context.Context, call aoftypes.ToolCall, timeout time.Duration) (*aoftypes.ToolResult, error) {
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type execResult struct {
		result *aoftypes.ToolResult
		err    error
	}
	resultCh := make(chan execResult, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				stack := debug.Stack()
				err := aoferr.WrapTool(call.Name, call.ID, fmt.Errorf("panic: %v\n%s", r, stack))
				resultCh <- execResult{err: err}
			}
		}()

		result, err := e.registry.Execute(execCtx, call.Name, call.Arguments)
		if err != nil {
			kind := aoferr.Wrap("toolregistry", err).Kind
			wrapped := aoferr.WrapTool(call.Name, call.ID, err)
			if kind.Retryable() {
				wrapped.Kind = kind
			}
			resultCh <- execResult{err: wrapped}
			return
		}
		resultCh <- execResult{result: result}
	}()

	select {
	case res := <-resultCh:
		return res.result, res.err
	case <-execCtx.Done():
		if ctx.Err() != nil {
			e := aoferr.WrapTool(call.Name, call.ID, ctx.Err())
			e.Kind = aoferr.KindTimeout
			e.Message = "context cancelled"
			return nil, e
		}
		e := aoferr.New(aoferr.KindTimeout, "toolregistry", fmt.Sprintf("execution timed out after %s", timeout))
		e.ToolName = call.Name
		e.ToolCallID = call.ID
		return nil, e
	}
}

// Metrics returns a copy-safe snapshot of accumulated executor metrics.
func (e *Executor) Metrics() *ExecutorMetricsSnapshot {
	e.metrics.mu.Lock()
	defer e.metrics.mu.Unlock()
	return &ExecutorMetricsSnapshot{
		TotalExecutions: e.metrics.TotalExecutions,
		TotalRetries:    e.metrics.TotalRetries,
		TotalFailures:   e.metrics.TotalFailures,
		TotalTimeouts:   e.metrics.TotalTimeouts,
		TotalPanics:     e.metrics.TotalPanics,
	}
}

// ExecutorMetricsSnapshot is an immutable point-in-time copy of ExecutorMetrics.
type ExecutorMetricsSnapshot struct {
	TotalExecutions int64
	TotalRetries    int64
	TotalFailures   int64
	TotalTimeouts   int64
	TotalPanics     int64
}

// ResultsToMessages converts execution results into tool-result messages
// suitable for appending to conversation history.
func ResultsToMessages(results []*ExecutionResult) []aoftypes.ToolResult {
	out := make([]aoftypes.ToolResult, len(results))
	for i, r := range results {
		switch {
		case r.Error != nil:
			out[i] = aoftypes.ToolResult{Success: false, Error: r.Error.Error()}
		case r.Result != nil:
			out[i] = *r.Result
		}
	}
	return out
}

// AnyErrors reports whether any execution result carries an error.
func AnyErrors(results []*ExecutionResult) bool {
	for _, r := range results {
		if r.Error != nil {
			return true
		}
	}
	return false
}

// AsJSON coerces a tool call's decoded input back into JSON, handling the
// already-JSON cases without a round trip.
func AsJSON(input any) json.RawMessage {
	switch v := input.(type) {
	case json.RawMessage:
		return v
	case []byte:
		return json.RawMessage(v)
	case string:
		return json.RawMessage(v)
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return json.RawMessage("null")
		}
		return data
	}
}
