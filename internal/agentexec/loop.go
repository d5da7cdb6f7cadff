// Package agentexec runs one agent conversation to termination: a
// ReAct-style loop that calls an LLM provider, dispatches any tool calls
// the model requests, feeds results back, and repeats until the model
// stops calling tools, the iteration budget runs out, or the caller
// cancels. Grounded on the teacher's internal/agent AgenticLoop, stripped
// of its session/branch/job-store machinery in favor of operating
// directly over aoftypes.Agent/aoftypes.Message.
package agentexec

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/agenticdevops/aof/internal/activitybus"
	"github.com/agenticdevops/aof/internal/aoftypes"
	"github.com/agenticdevops/aof/internal/provider"
	"github.com/agenticdevops/aof/internal/safety"
	"github.com/agenticdevops/aof/internal/toolregistry"
)

const (
	defaultMaxParallelTools = 10
	maxStreamArgsLen        = 500
)

// RunConfig configures one Executor's behavior across every run it drives.
type RunConfig struct {
	MaxParallelTools int
	MaxTokens        int
	Temperature      float64

	// Resolver/Policy gate which tools the agent may call at all. Both
	// must be set for tool-access enforcement to run.
	Resolver *safety.Resolver
	Policy   *safety.Policy

	// ApprovalChecker gates individual tool calls behind human sign-off.
	ApprovalChecker *safety.ApprovalChecker

	// Audit records agent lifecycle and tool-call events. A nil Audit
	// discards everything.
	Audit safety.Sink
}

func (c RunConfig) sanitized() RunConfig {
	if c.MaxParallelTools <= 0 {
		c.MaxParallelTools = defaultMaxParallelTools
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = 4096
	}
	if c.Audit == nil {
		c.Audit = safety.NopSink{}
	}
	return c
}

// StreamEvent is one incremental delta forwarded to a caller-supplied
// channel while a run is in flight.
type StreamEvent struct {
	Content       string
	ToolCallDelta *aoftypes.ToolCall
	Stop          bool
}

// RunInput is one conversation turn handed to Executor.Run.
type RunInput struct {
	Agent   *aoftypes.Agent
	Input   string
	History []aoftypes.Message

	// Stream, if non-nil, receives a StreamEvent per LLM delta. Sends are
	// best-effort: a full channel drops the event rather than blocking
	// the loop.
	Stream chan<- StreamEvent
}

// RunResult is the terminal outcome of one Executor.Run call.
type RunResult struct {
	Message       aoftypes.Message
	History       []aoftypes.Message
	StopReason    aoftypes.StopReason
	Usage         aoftypes.TokenUsage
	ToolCallCount int
	Iterations    int
	Duration      time.Duration
}

// Executor runs agent conversations against a single LLM provider and
// tool registry.
type Executor struct {
	provider provider.Provider
	registry *toolregistry.Registry
	toolExec *toolregistry.Executor
	config   RunConfig
	bus      activitybus.Publisher
}

// New returns an Executor. A nil registry starts empty; a nil bus
// disables activity publishing.
func New(p provider.Provider, registry *toolregistry.Registry, config RunConfig, bus activitybus.Publisher) *Executor {
	config = config.sanitized()
	if registry == nil {
		registry = toolregistry.New()
	}
	if bus == nil {
		bus = activitybus.NopBus{}
	}

	execConfig := toolregistry.DefaultExecutorConfig()
	execConfig.MaxConcurrency = config.MaxParallelTools

	return &Executor{
		provider: p,
		registry: registry,
		toolExec: toolregistry.NewExecutor(registry, execConfig),
		config:   config,
		bus:      bus,
	}
}

// Registry exposes the tool registry backing this Executor's tool calls,
// so callers can register tools before driving a run.
func (e *Executor) Registry() *toolregistry.Registry { return e.registry }

// Run drives in.Agent's ReAct loop over in.History plus in.Input until
// termination. It never returns a non-nil error for a run that reached a
// normal stop reason (end, max_iterations, schema_violation, cancelled) —
// the error return is reserved for setup failures and unrecoverable
// provider errors.
func (e *Executor) Run(ctx context.Context, in RunInput) (*RunResult, error) {
	if e.provider == nil {
		return nil, errors.New("agentexec: no provider configured")
	}
	if in.Agent == nil {
		return nil, errors.New("agentexec: agent is required")
	}

	runID := uuid.NewString()
	agentID := in.Agent.MetadataField.Name
	emitter := activitybus.NewEmitter(runID, e.bus)
	emitter.Started(ctx)
	e.config.Audit.Write(safety.Record{Event: aoftypes.AuditAgentStart, AgentID: agentID, Action: "agent.start"})

	var schema *jsonschema.Schema
	if len(in.Agent.Spec.OutputSchema) > 0 {
		compiled, err := compileOutputSchema(in.Agent.Spec.OutputSchema)
		if err != nil {
			return nil, fmt.Errorf("agentexec: invalid output schema: %w", err)
		}
		schema = compiled
	}

	start := time.Now()
	maxIterations := in.Agent.MaxIterationsOrDefault()
	history := append([]aoftypes.Message(nil), in.History...)
	history = append(history, aoftypes.Message{Role: aoftypes.RoleUser, Content: in.Input})

	result := &RunResult{}
	schemaRetried := false

	for iteration := 0; ; iteration++ {
		if ctx.Err() != nil {
			return e.finishCancelled(emitter, agentID, result, history, start), nil
		}
		if iteration >= maxIterations {
			result.StopReason = aoftypes.StopMaxIterations
			result.Duration = time.Since(start)
			result.History = history
			return result, nil
		}

		req := &provider.CompletionRequest{
			Model:       in.Agent.Spec.Model,
			System:      in.Agent.Spec.SystemPrompt,
			Messages:    toCompletionMessages(history),
			Tools:       e.registry.Definitions(),
			MaxTokens:   e.config.MaxTokens,
			Temperature: e.config.Temperature,
		}

		emitter.LLMCall(ctx)
		chunks, err := e.provider.Complete(ctx, req)
		if err != nil {
			emitter.Error(ctx, err)
			e.config.Audit.Write(safety.Record{Event: aoftypes.AuditErrorEvent, AgentID: agentID, Action: "llm.call", Error: err.Error()})
			result.StopReason = aoftypes.StopError
			result.Duration = time.Since(start)
			result.History = history
			return result, err
		}
		emitter.LLMWaiting(ctx)

		text, toolCalls, usage, err := collectCompletion(ctx, chunks, in.Stream)
		if err != nil {
			emitter.Error(ctx, err)
			e.config.Audit.Write(safety.Record{Event: aoftypes.AuditErrorEvent, AgentID: agentID, Action: "llm.response", Error: err.Error()})
			result.StopReason = aoftypes.StopError
			result.Duration = time.Since(start)
			result.History = history
			return result, err
		}
		emitter.LLMResponse(ctx, &usage)
		result.Usage.InputTokens += usage.InputTokens
		result.Usage.OutputTokens += usage.OutputTokens
		result.Iterations = iteration + 1

		if len(toolCalls) == 0 {
			assistant := aoftypes.Message{Role: aoftypes.RoleAssistant, Content: text}

			if schema != nil {
				if verr := validateAgainstSchema(schema, text); verr != nil {
					if !schemaRetried {
						schemaRetried = true
						history = append(history, assistant)
						history = append(history, aoftypes.Message{
							Role: aoftypes.RoleUser,
							Content: "Your previous response did not satisfy the required output schema (" +
								verr.Error() + "). Respond again with output matching the schema exactly.",
						})
						continue
					}
					result.StopReason = aoftypes.StopSchemaViolation
					result.Message = assistant
					history = append(history, assistant)
					result.Duration = time.Since(start)
					result.History = history
					return result, nil
				}
			}

			history = append(history, assistant)
			result.Message = assistant
			result.StopReason = aoftypes.StopEnd
			result.Duration = time.Since(start)
			result.History = history
			emitter.Completed(ctx, &result.Usage)
			e.config.Audit.Write(safety.Record{Event: aoftypes.AuditAgentComplete, AgentID: agentID, Action: "agent.complete"})
			return result, nil
		}

		history = append(history, aoftypes.Message{Role: aoftypes.RoleAssistant, Content: text, ToolCalls: toolCalls})
		result.ToolCallCount += len(toolCalls)

		toolMessages := e.executeTools(ctx, emitter, agentID, runID, toolCalls)
		history = append(history, toolMessages...)

		if ctx.Err() != nil {
			return e.finishCancelled(emitter, agentID, result, history, start), nil
		}
	}
}

func (e *Executor) finishCancelled(emitter *activitybus.Emitter, agentID string, result *RunResult, history []aoftypes.Message, start time.Time) *RunResult {
	emitter.Cancelled(context.Background())
	e.config.Audit.Write(safety.Record{Event: aoftypes.AuditErrorEvent, AgentID: agentID, Action: "agent.cancelled"})
	result.StopReason = aoftypes.StopCancelled
	result.Duration = time.Since(start)
	result.History = history
	return result
}

// executeTools dispatches calls, bounded by the configured parallel-tool
// limit, resolving access control and approval before handing each call
// to the tool executor. A call whose tool cannot be found in the
// registry never reaches the executor: it synthesizes a failed result so
// the model can recover instead of aborting the run.
func (e *Executor) executeTools(ctx context.Context, emitter *activitybus.Emitter, agentID, runID string, calls []aoftypes.ToolCall) []aoftypes.Message {
	messages := make([]aoftypes.Message, len(calls))
	runnable := make([]aoftypes.ToolCall, 0, len(calls))
	runnableIdx := make([]int, 0, len(calls))

	for i, call := range calls {
		emitter.ToolExecuting(ctx, call.Name, truncateArgs(string(call.Arguments)))
		e.config.Audit.Write(safety.Record{Event: aoftypes.AuditToolCall, AgentID: agentID, ToolName: call.Name, Action: "tool.call", Payload: call.Arguments})

		if e.config.Resolver != nil && e.config.Policy != nil && !e.config.Resolver.IsAllowed(e.config.Policy, call.Name) {
			messages[i] = e.denyTool(ctx, emitter, call, "tool not allowed: "+call.Name)
			continue
		}

		if e.config.ApprovalChecker != nil {
			if msg, handled := e.checkApproval(ctx, emitter, agentID, runID, call); handled {
				messages[i] = msg
				continue
			}
		}

		if _, ok := e.registry.Get(call.Name); !ok {
			messages[i] = e.denyTool(ctx, emitter, call, "tool not found")
			continue
		}

		runnable = append(runnable, call)
		runnableIdx = append(runnableIdx, i)
	}

	for _, r := range e.toolExec.ExecuteAll(ctx, runnable) {
		idx := runnableIdx[0]
		runnableIdx = runnableIdx[1:]
		call := calls[idx]

		switch {
		case r == nil:
			messages[idx] = e.denyTool(ctx, emitter, call, "tool execution failed")
		case r.Error != nil:
			emitter.ToolFailed(ctx, call.Name, r.Error, r.Duration.Milliseconds())
			messages[idx] = toolResultMessage(call.ID, aoftypes.ToolResult{
				Success: false, Error: r.Error.Error(), ExecutionTimeMS: r.Duration.Milliseconds(),
			})
		case r.Result != nil:
			res := *r.Result
			res.ExecutionTimeMS = r.Duration.Milliseconds()
			if res.Success {
				emitter.ToolComplete(ctx, call.Name, r.Duration.Milliseconds())
			} else {
				emitter.ToolFailed(ctx, call.Name, errors.New(res.Error), r.Duration.Milliseconds())
			}
			messages[idx] = toolResultMessage(call.ID, res)
		default:
			messages[idx] = e.denyTool(ctx, emitter, call, "tool returned no result")
		}
	}

	return messages
}

func (e *Executor) denyTool(ctx context.Context, emitter *activitybus.Emitter, call aoftypes.ToolCall, reason string) aoftypes.Message {
	emitter.ToolFailed(ctx, call.Name, errors.New(reason), 0)
	return toolResultMessage(call.ID, aoftypes.ToolResult{Success: false, Error: reason})
}

// checkApproval evaluates call against the configured ApprovalChecker.
// handled reports whether the call was fully resolved here (denied or
// pending) rather than left to continue on to execution.
func (e *Executor) checkApproval(ctx context.Context, emitter *activitybus.Emitter, agentID, runID string, call aoftypes.ToolCall) (aoftypes.Message, bool) {
	decision, reason := e.config.ApprovalChecker.Check(ctx, agentID, call)

	switch decision {
	case safety.ApprovalDenied:
		e.config.Audit.Write(safety.Record{Event: aoftypes.AuditApprovalDenied, AgentID: agentID, ToolName: call.Name, Action: "approval.denied", Reason: reason})
		return e.denyTool(ctx, emitter, call, "tool denied by approval policy: "+reason), true

	case safety.ApprovalPending:
		var approvalID string
		if req, err := e.config.ApprovalChecker.CreateApprovalRequest(ctx, agentID, runID, call, reason); err == nil && req != nil {
			approvalID = req.ID
		}
		e.config.Audit.Write(safety.Record{Event: aoftypes.AuditApprovalRequested, AgentID: agentID, ToolName: call.Name, Action: "approval.requested", Reason: reason})
		content := "approval required for tool: " + call.Name
		if approvalID != "" {
			content = fmt.Sprintf("%s (id: %s)", content, approvalID)
		}
		return e.denyTool(ctx, emitter, call, content), true

	default: // safety.ApprovalAllowed
		return aoftypes.Message{}, false
	}
}

func truncateArgs(s string) string {
	if len(s) <= maxStreamArgsLen {
		return s
	}
	return s[:maxStreamArgsLen] + "...(truncated)"
}

func toolResultMessage(callID string, result aoftypes.ToolResult) aoftypes.Message {
	data, err := json.Marshal(result)
	if err != nil {
		data = []byte(`{"success":false,"error":"failed to encode tool result"}`)
	}
	return aoftypes.Message{Role: aoftypes.RoleTool, Content: string(data), ToolCallID: callID}
}

// toCompletionMessages converts stored conversation history into the
// batched view a Provider expects: consecutive tool-role messages
// (one per call, as stored) are grouped back into a single
// CompletionMessage carrying all of that round's ToolResults together.
func toCompletionMessages(history []aoftypes.Message) []provider.CompletionMessage {
	out := make([]provider.CompletionMessage, 0, len(history))

	for i := 0; i < len(history); {
		m := history[i]
		if m.Role != aoftypes.RoleTool {
			out = append(out, provider.CompletionMessage{Role: m.Role, Content: m.Content, ToolCalls: m.ToolCalls})
			i++
			continue
		}

		var calls []aoftypes.ToolCall
		var results []aoftypes.ToolResult
		for i < len(history) && history[i].Role == aoftypes.RoleTool {
			var res aoftypes.ToolResult
			_ = json.Unmarshal([]byte(history[i].Content), &res)
			results = append(results, res)
			calls = append(calls, aoftypes.ToolCall{ID: history[i].ToolCallID})
			i++
		}
		out = append(out, provider.CompletionMessage{Role: aoftypes.RoleTool, ToolCalls: calls, ToolResults: results})
	}

	return out
}

func collectCompletion(ctx context.Context, chunks <-chan *provider.CompletionChunk, stream chan<- StreamEvent) (string, []aoftypes.ToolCall, aoftypes.TokenUsage, error) {
	var text strings.Builder
	var toolCalls []aoftypes.ToolCall
	var usage aoftypes.TokenUsage

	for {
		select {
		case <-ctx.Done():
			return text.String(), toolCalls, usage, ctx.Err()
		case chunk, ok := <-chunks:
			if !ok {
				return text.String(), toolCalls, usage, nil
			}
			if chunk.Error != nil {
				return text.String(), toolCalls, usage, chunk.Error
			}
			if chunk.Text != "" {
				text.WriteString(chunk.Text)
				sendStream(stream, StreamEvent{Content: chunk.Text})
			}
			if chunk.ToolCall != nil {
				toolCalls = append(toolCalls, *chunk.ToolCall)
				sendStream(stream, StreamEvent{ToolCallDelta: chunk.ToolCall})
			}
			if chunk.Usage != nil {
				usage = *chunk.Usage
			}
			if chunk.Done {
				sendStream(stream, StreamEvent{Stop: true})
				return text.String(), toolCalls, usage, nil
			}
		}
	}
}

func sendStream(ch chan<- StreamEvent, ev StreamEvent) {
	if ch == nil {
		return
	}
	select {
	case ch <- ev:
	default:
	}
}

func compileOutputSchema(raw json.RawMessage) (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("output_schema.json", strings.NewReader(string(raw))); err != nil {
		return nil, err
	}
	return compiler.Compile("output_schema.json")
}

func validateAgainstSchema(schema *jsonschema.Schema, text string) error {
	var v any
	if err := json.Unmarshal([]byte(text), &v); err != nil {
		return fmt.Errorf("output is not valid JSON: %w", err)
	}
	return schema.Validate(v)
}
