package flowengine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agenticdevops/aof/internal/activitybus"
	"github.com/agenticdevops/aof/internal/agentexec"
	"github.com/agenticdevops/aof/internal/aoftypes"
	"github.com/agenticdevops/aof/internal/channels"
)

// AgentRunner drives one Agent node's underlying conversation. Satisfied
// directly by *agentexec.Executor.
type AgentRunner interface {
	Run(ctx context.Context, in agentexec.RunInput) (*agentexec.RunResult, error)
}

// AgentResolver looks up an Agent resource by name for an Agent node.
type AgentResolver interface {
	Get(name string) (*aoftypes.Agent, bool)
}

// HTTPDoer issues HTTP requests for HTTP nodes. *http.Client satisfies it.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Engine executes AgentFlow graphs.
type Engine struct {
	Agents      AgentRunner
	AgentLookup AgentResolver
	Channels    *channels.Registry
	HTTP        HTTPDoer
	Checkpoints CheckpointStore
	Bus         activitybus.Publisher
}

// New returns an Engine. A nil httpDoer defaults to http.DefaultClient; a
// nil bus discards activity events; a nil checkpoints disables
// checkpointing.
func New(agents AgentRunner, lookup AgentResolver, ch *channels.Registry, httpDoer HTTPDoer, checkpoints CheckpointStore, bus activitybus.Publisher) *Engine {
	if httpDoer == nil {
		httpDoer = http.DefaultClient
	}
	if bus == nil {
		bus = activitybus.NopBus{}
	}
	return &Engine{Agents: agents, AgentLookup: lookup, Channels: ch, HTTP: httpDoer, Checkpoints: checkpoints, Bus: bus}
}

// run carries the graph and bookkeeping shared by every node handler
// across one execution; state itself is passed separately so branch
// runners can each operate on their own clone.
type run struct {
	ctx      context.Context
	flow     *aoftypes.AgentFlow
	runID    string
	state    State
	nodes    map[string]*aoftypes.FlowNode
	outgoing map[string][]aoftypes.FlowConnection
	reducers map[string]aoftypes.StateReducer
	done     []string
	emitter  *activitybus.Emitter

	pendingErrorHandler string
}

// Execute runs flow to completion, suspension, or failure starting at its
// implicit entry node.
func (e *Engine) Execute(ctx context.Context, flow *aoftypes.AgentFlow, initial State) *FlowResult {
	r := e.newRun(ctx, flow, uuid.NewString(), initial, nil)
	start := entryNode(flow)
	if start == "" {
		return &FlowResult{RunID: r.runID, FlowName: flow.MetadataField.Name, Status: StatusFailed, State: r.state, Err: errors.New("flowengine: flow has no nodes")}
	}
	return e.runFrom(r, start)
}

// Resume continues a suspended run from its last checkpoint, supplying
// value for the pending interrupt.
func (e *Engine) Resume(ctx context.Context, flow *aoftypes.AgentFlow, runID string, value json.RawMessage) (*FlowResult, error) {
	if e.Checkpoints == nil {
		return nil, errors.New("flowengine: no checkpoint store configured")
	}
	cp, ok, err := e.Checkpoints.Load(flow.MetadataField.Name, runID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("flowengine: no checkpoint for run %s", runID)
	}

	if _, ok := findNode(flow, cp.NextNodeID); !ok {
		return nil, fmt.Errorf("flowengine: checkpoint references unknown node %q", cp.NextNodeID)
	}

	var decoded any
	if len(value) > 0 {
		if err := json.Unmarshal(value, &decoded); err != nil {
			return nil, fmt.Errorf("flowengine: decode resume value: %w", err)
		}
	}

	r := e.newRun(ctx, flow, runID, cp.State, cp.CompletedNodeIDs)
	r.state[cp.NextNodeID] = decoded

	next, result := e.advance(r, cp.NextNodeID)
	if result != nil {
		return result, nil
	}
	return e.runFrom(r, next), nil
}

func (e *Engine) newRun(ctx context.Context, flow *aoftypes.AgentFlow, runID string, initial State, done []string) *run {
	if initial == nil {
		initial = State{}
	}
	nodes := make(map[string]*aoftypes.FlowNode, len(flow.Spec.Nodes))
	outgoing := make(map[string][]aoftypes.FlowConnection)
	for i := range flow.Spec.Nodes {
		n := &flow.Spec.Nodes[i]
		nodes[n.ID] = n
	}
	for _, c := range flow.Spec.Connections {
		outgoing[c.From] = append(outgoing[c.From], c)
	}

	reducers := flow.Spec.Reducers
	if reducers == nil {
		reducers = map[string]aoftypes.StateReducer{}
	}

	return &run{
		ctx: ctx, flow: flow, runID: runID, state: initial,
		nodes: nodes, outgoing: outgoing, reducers: reducers,
		done: done, emitter: activitybus.NewEmitter(runID, e.Bus),
	}
}

// runFrom executes nodes starting at nodeID until the flow completes,
// suspends, or fails.
func (e *Engine) runFrom(r *run, nodeID string) *FlowResult {
	current := nodeID
	for {
		if r.ctx.Err() != nil {
			return e.finish(r, StatusCancelled, nil)
		}

		node, ok := r.nodes[current]
		if !ok {
			return e.finish(r, StatusFailed, fmt.Errorf("flowengine: unknown node %q", current))
		}

		if node.Type == aoftypes.NodeEnd {
			r.done = append(r.done, node.ID)
			return e.finish(r, StatusCompleted, nil)
		}
		if node.Type == aoftypes.NodeApproval {
			return e.suspend(r, node)
		}

		if node.Type == aoftypes.NodeParallel {
			joinID, result := e.runParallel(r, node)
			if result != nil {
				return result
			}
			r.done = append(r.done, node.ID, joinID)
			e.checkpoint(r, joinID, true)
			next, result := e.advance(r, joinID)
			if result != nil {
				return result
			}
			current = next
			continue
		}

		changed, execErr := e.execNode(r.ctx, r, r.state, node)
		if execErr != nil {
			if result := e.handleNodeError(r, execErr); result != nil {
				return result
			}
			current = r.pendingErrorHandler
			r.pendingErrorHandler = ""
			r.done = append(r.done, node.ID)
			continue
		}

		r.done = append(r.done, node.ID)
		e.checkpoint(r, node.ID, changed)

		next, result := e.advance(r, node.ID)
		if result != nil {
			return result
		}
		current = next
	}
}

func (e *Engine) handleNodeError(r *run, execErr error) *FlowResult {
	r.emitter.Error(r.ctx, execErr)
	handler := ""
	if r.flow.Spec.Config != nil {
		handler = r.flow.Spec.Config.ErrorHandler
	}
	if handler == "" {
		return e.finish(r, StatusFailed, execErr)
	}
	if _, ok := r.nodes[handler]; !ok {
		return e.finish(r, StatusFailed, fmt.Errorf("flowengine: error_handler %q not found: %w", handler, execErr))
	}
	r.pendingErrorHandler = handler
	return nil
}

// advance resolves the next node after nodeID per the connection
// selection rule: no outgoing edges ends the flow; a single unconditional
// edge is followed; otherwise the first edge whose `when` evaluates true
// (an edge with no `when` always matches) wins, and no match ends the
// flow with status no_matching_edge.
func (e *Engine) advance(r *run, nodeID string) (string, *FlowResult) {
	to, status, err := nextNode(r.outgoing, r.state, nodeID)
	if err != nil {
		return "", e.finish(r, StatusFailed, err)
	}
	if status != "" {
		return "", e.finish(r, status, nil)
	}
	return to, nil
}

// nextNode is the pure connection-selection rule, usable both for the
// main run and for a branch runner operating on its own local state.
func nextNode(outgoing map[string][]aoftypes.FlowConnection, state State, nodeID string) (to string, end Status, err error) {
	conns := outgoing[nodeID]
	if len(conns) == 0 {
		return "", StatusCompleted, nil
	}
	if len(conns) == 1 && conns[0].When == "" {
		return conns[0].To, "", nil
	}
	for _, c := range conns {
		if c.When == "" {
			return c.To, "", nil
		}
		ok, evalErr := evalBool(c.When, state)
		if evalErr != nil {
			return "", "", evalErr
		}
		if ok {
			return c.To, "", nil
		}
	}
	return "", StatusNoMatchingEdge, nil
}

func (e *Engine) finish(r *run, status Status, err error) *FlowResult {
	if status == StatusCompleted {
		r.emitter.Completed(r.ctx, nil)
	}
	return &FlowResult{
		RunID: r.runID, FlowName: r.flow.MetadataField.Name, Status: status,
		State: r.state, CompletedNodeIDs: r.done, Err: err,
	}
}

func (e *Engine) suspend(r *run, node *aoftypes.FlowNode) *FlowResult {
	prompt := node.Config.Message
	if prompt == "" {
		prompt = node.ID
	}
	interrupt := &Interrupt{ID: uuid.NewString(), NodeID: node.ID, Type: aoftypes.InterruptConfirm, Prompt: prompt}
	e.checkpointFor(r, node.ID)
	return &FlowResult{
		RunID: r.runID, FlowName: r.flow.MetadataField.Name, Status: StatusSuspended,
		State: r.state, CompletedNodeIDs: r.done, Interrupt: interrupt,
	}
}

func (e *Engine) checkpoint(r *run, nodeID string, changed bool) {
	if e.Checkpoints == nil || r.flow.Spec.Config == nil {
		return
	}
	if !shouldCheckpoint(r.flow.Spec.Config.Checkpointing, changed) {
		return
	}
	e.checkpointFor(r, nodeID)
}

func (e *Engine) checkpointFor(r *run, nextNodeID string) {
	if e.Checkpoints == nil {
		return
	}
	_ = e.Checkpoints.Save(Checkpoint{
		FlowName: r.flow.MetadataField.Name, RunID: r.runID, State: r.state,
		CompletedNodeIDs: r.done, NextNodeID: nextNodeID, UpdatedAt: time.Now(),
	})
}

// execNode runs one non-terminal, non-suspending, non-parallel node
// against state, retrying per the flow's retry config, and reports
// whether state changed.
func (e *Engine) execNode(ctx context.Context, r *run, state State, node *aoftypes.FlowNode) (changed bool, err error) {
	var retry *aoftypes.FlowRetryConfig
	if r.flow.Spec.Config != nil {
		retry = r.flow.Spec.Config.Retry
	}
	err = withRetry(ctx, retry, func() error {
		var runErr error
		changed, runErr = e.execNodeOnce(ctx, r, state, node)
		return runErr
	})
	return changed, err
}

func (e *Engine) execNodeOnce(ctx context.Context, r *run, state State, node *aoftypes.FlowNode) (bool, error) {
	switch node.Type {
	case aoftypes.NodeTransform:
		out, err := evalExpr(node.Config.Script, state)
		if err != nil {
			return false, err
		}
		applyReducer(state, node.ID, out, r.reducers)
		return true, nil
	case aoftypes.NodeAgent:
		return e.execAgent(ctx, r, state, node)
	case aoftypes.NodeConditional:
		out, err := evalBool(node.Config.Condition, state)
		if err != nil {
			return false, err
		}
		state[node.ID] = out
		return true, nil
	case aoftypes.NodeWait:
		return false, execWait(ctx, node)
	case aoftypes.NodeHTTP:
		return e.execHTTP(ctx, r, state, node)
	case aoftypes.NodeSlack, aoftypes.NodeDiscord:
		return false, e.execChatMessage(ctx, state, node)
	case aoftypes.NodeJoin:
		return false, nil
	default:
		return false, fmt.Errorf("flowengine: unsupported node type %q", node.Type)
	}
}

func (e *Engine) execAgent(ctx context.Context, r *run, state State, node *aoftypes.FlowNode) (bool, error) {
	if e.Agents == nil || e.AgentLookup == nil {
		return false, errors.New("flowengine: no agent runner configured")
	}
	agent, ok := e.AgentLookup.Get(node.Config.Agent)
	if !ok {
		return false, fmt.Errorf("flowengine: agent %q not found", node.Config.Agent)
	}

	input := Interpolate(node.Config.Input, state)
	result, err := e.Agents.Run(ctx, agentexec.RunInput{Agent: agent, Input: input})
	if err != nil {
		return false, err
	}

	applyReducer(state, node.ID, result.Message.Content, r.reducers)
	return true, nil
}

func execWait(ctx context.Context, node *aoftypes.FlowNode) error {
	d, err := parseWaitDuration(node.Config.Duration)
	if err != nil {
		return err
	}
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) execHTTP(ctx context.Context, r *run, state State, node *aoftypes.FlowNode) (bool, error) {
	url := Interpolate(node.Config.URL, state)
	method := node.Config.Method
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	if len(node.Config.Body) > 0 {
		body = bytes.NewReader(node.Config.Body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return false, err
	}
	for k, v := range node.Config.Headers {
		req.Header.Set(k, Interpolate(v, state))
	}

	resp, err := e.HTTP.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return false, err
	}

	var parsed any
	if len(data) > 0 {
		if err := json.Unmarshal(data, &parsed); err != nil {
			parsed = string(data)
		}
	}
	applyReducer(state, node.ID, parsed, r.reducers)
	return true, nil
}

func (e *Engine) execChatMessage(ctx context.Context, state State, node *aoftypes.FlowNode) error {
	if e.Channels == nil {
		return errors.New("flowengine: no channel registry configured")
	}
	platform := "slack"
	if node.Type == aoftypes.NodeDiscord {
		platform = "discord"
	}
	text := Interpolate(node.Config.Message, state)
	channel := Interpolate(node.Config.Channel, state)
	return e.Channels.Send(ctx, platform, channel, text)
}

// runParallel spawns one goroutine per branch name in node's config, each
// running nodes linearly (via runBranch) on its own state clone until it
// reaches the Join node that converges the branches, then evaluates that
// Join node's strategy against the collected outcomes and merges results
// into r.state under the node's id as {branch_name: result}.
func (e *Engine) runParallel(r *run, node *aoftypes.FlowNode) (joinNodeID string, result *FlowResult) {
	branches := node.Config.Branches
	if len(branches) == 0 {
		return "", e.finish(r, StatusFailed, fmt.Errorf("flowengine: parallel node %q has no branches", node.ID))
	}

	type outcome struct {
		name    string
		joinID  string
		state   State
		lastErr error
	}

	branchCtx, cancel := context.WithCancel(r.ctx)
	defer cancel()

	results := make(chan outcome, len(branches))
	var wg sync.WaitGroup
	for _, b := range branches {
		b := b
		wg.Add(1)
		go func() {
			defer wg.Done()
			branchState := r.state.Clone()
			joinID, err := e.runBranch(branchCtx, r, branchState, b)
			results <- outcome{name: b, joinID: joinID, state: branchState, lastErr: err}
		}()
	}
	go func() { wg.Wait(); close(results) }()

	var joinTimeout <-chan time.Time
	var joinNode *aoftypes.FlowNode
	collected := make([]outcome, 0, len(branches))

drain:
	for {
		select {
		case o, ok := <-results:
			if !ok {
				break drain
			}
			collected = append(collected, o)
			if joinNode == nil && o.joinID != "" {
				if n, found := r.nodes[o.joinID]; found {
					joinNode = n
					if d, err := parseWaitDuration(secondsToDuration(n.Config.TimeoutSeconds)); err == nil && d > 0 {
						joinTimeout = time.After(d)
					}
				}
			}
		case <-joinTimeout:
			break drain
		case <-r.ctx.Done():
			break drain
		}
		if len(collected) == len(branches) {
			break
		}
	}

	strategy := aoftypes.JoinAll
	if joinNode != nil && joinNode.Config.Strategy != "" {
		strategy = joinNode.Config.Strategy
	}

	succeeded := 0
	merged := map[string]any{}
	for _, o := range collected {
		if o.lastErr == nil {
			succeeded++
			merged[o.name] = o.state
		} else {
			merged[o.name] = map[string]any{"error": o.lastErr.Error()}
		}
	}
	r.state[node.ID] = merged

	ok := false
	switch strategy {
	case aoftypes.JoinAny:
		ok = succeeded > 0
	case aoftypes.JoinMajority:
		ok = succeeded*2 >= len(branches)
	default: // all
		ok = succeeded == len(branches)
	}

	if !ok {
		return "", e.finish(r, StatusFailed, fmt.Errorf("flowengine: join %q strategy %q not satisfied (%d/%d succeeded)", node.ID, strategy, succeeded, len(branches)))
	}
	if joinNode == nil {
		return "", e.finish(r, StatusFailed, fmt.Errorf("flowengine: parallel node %q has no reachable join", node.ID))
	}
	return joinNode.ID, nil
}

// runBranch executes nodes starting at startNodeID on a branch-local
// state clone until it reaches a Join node, returning that node's id
// without executing it — the caller performs the join itself once every
// branch has arrived.
func (e *Engine) runBranch(ctx context.Context, r *run, state State, startNodeID string) (string, error) {
	current := startNodeID
	for {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		node, ok := r.nodes[current]
		if !ok {
			return "", fmt.Errorf("flowengine: branch references unknown node %q", current)
		}
		if node.Type == aoftypes.NodeJoin {
			return node.ID, nil
		}

		if _, err := e.execNode(ctx, r, state, node); err != nil {
			return "", err
		}

		to, status, err := nextNode(r.outgoing, state, node.ID)
		if err != nil {
			return "", err
		}
		if status != "" {
			return "", fmt.Errorf("flowengine: branch %q ended before reaching a join (%s)", startNodeID, status)
		}
		current = to
	}
}

func entryNode(flow *aoftypes.AgentFlow) string {
	for _, n := range flow.Spec.Nodes {
		if n.ID == "start" {
			return n.ID
		}
	}
	if len(flow.Spec.Nodes) > 0 {
		return flow.Spec.Nodes[0].ID
	}
	return ""
}

func findNode(flow *aoftypes.AgentFlow, id string) (*aoftypes.FlowNode, bool) {
	for i := range flow.Spec.Nodes {
		if flow.Spec.Nodes[i].ID == id {
			return &flow.Spec.Nodes[i], true
		}
	}
	return nil, false
}

func parseWaitDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	return time.ParseDuration(s)
}

func secondsToDuration(seconds int) string {
	if seconds <= 0 {
		return ""
	}
	return fmt.Sprintf("%ds", seconds)
}
