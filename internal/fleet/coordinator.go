package fleet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agenticdevops/aof/internal/aoftypes"
)

// InstanceRunner executes one task's input against a single live agent
// instance. Coordinator treats it as opaque: agentexec.Executor is the
// production implementation, wrapped per fleet member.
type InstanceRunner interface {
	Execute(ctx context.Context, input string) (string, error)
}

// InstanceFactory builds the runner backing one replica of a fleet member.
type InstanceFactory func(member aoftypes.FleetAgentSpec, instanceID string) (InstanceRunner, error)

type instanceHandle struct {
	mu     sync.Mutex
	state  *aoftypes.AgentInstanceState
	runner InstanceRunner
}

type pendingTask struct {
	taskID string
	input  string
}

// Coordinator owns one AgentFleet's FleetState: instance lifecycle, task
// distribution, and result aggregation.
type Coordinator struct {
	fleet   *aoftypes.AgentFleet
	factory InstanceFactory

	mu        sync.Mutex
	state     *aoftypes.FleetState
	instances map[string]*instanceHandle
	byRole    map[aoftypes.AgentRole][]string
	pending   []pendingTask
	stopped   bool

	wg       sync.WaitGroup
	eventsMu sync.Mutex
	onEvent  func(Event)
}

// New returns a Coordinator for fleet. factory is called once per replica
// during Start to build that instance's InstanceRunner.
func New(fleet *aoftypes.AgentFleet, factory InstanceFactory) *Coordinator {
	return &Coordinator{
		fleet:     fleet,
		factory:   factory,
		state:     aoftypes.NewFleetState(fleet.MetadataField.Name),
		instances: make(map[string]*instanceHandle),
		byRole:    make(map[aoftypes.AgentRole][]string),
	}
}

// SetEventCallback registers fn to receive every Event this Coordinator
// publishes. fn must not call back into the Coordinator; events are
// informational only, per spec.md §4.9.
func (c *Coordinator) SetEventCallback(fn func(Event)) {
	c.eventsMu.Lock()
	defer c.eventsMu.Unlock()
	c.onEvent = fn
}

func (c *Coordinator) emit(ev Event) {
	ev.FleetName = c.fleet.MetadataField.Name
	ev.Timestamp = time.Now()

	c.eventsMu.Lock()
	fn := c.onEvent
	c.eventsMu.Unlock()
	if fn != nil {
		fn(ev)
	}
}

// Start spawns replicas instances per fleet member and marks the fleet
// live. It is not safe to call Start twice on one Coordinator.
func (c *Coordinator) Start(ctx context.Context) error {
	for _, member := range c.fleet.Spec.Agents {
		for i := 0; i < member.ReplicasOrDefault(); i++ {
			instanceID := fmt.Sprintf("%s-%d", member.Name, i)
			runner, err := c.factory(member, instanceID)
			if err != nil {
				return fmt.Errorf("fleet: failed to start instance %s: %w", instanceID, err)
			}

			state := &aoftypes.AgentInstanceState{
				InstanceID:   instanceID,
				AgentName:    member.Name,
				Role:         member.Role,
				Status:       aoftypes.InstanceIdle,
				LastActivity: time.Now(),
			}

			c.mu.Lock()
			c.state.Instances[instanceID] = state
			c.instances[instanceID] = &instanceHandle{state: state, runner: runner}
			c.byRole[member.Role] = append(c.byRole[member.Role], instanceID)
			c.mu.Unlock()

			c.emit(Event{Type: EventAgentStarted, InstanceID: instanceID})
		}
	}

	c.emit(Event{Type: EventStarted})
	return nil
}

// Stop signals every instance to drain and waits, bounded by grace, for
// in-flight dispatches to finish. Stop is idempotent.
func (c *Coordinator) Stop(grace time.Duration) {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	for _, h := range c.instances {
		h.mu.Lock()
		if h.state.Status == aoftypes.InstanceIdle {
			h.state.Status = aoftypes.InstanceDraining
		}
		h.mu.Unlock()
	}
	c.mu.Unlock()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(grace):
		c.mu.Lock()
		for _, h := range c.instances {
			h.mu.Lock()
			if h.state.Status == aoftypes.InstanceBusy || h.state.Status == aoftypes.InstanceDraining {
				h.state.Status = aoftypes.InstanceFailed
			}
			h.mu.Unlock()
		}
		c.mu.Unlock()
	}

	c.emit(Event{Type: EventStopped})
}

// State returns a snapshot of the fleet's live instance and task state.
func (c *Coordinator) State() aoftypes.FleetState {
	c.mu.Lock()
	defer c.mu.Unlock()

	snapshot := aoftypes.FleetState{FleetName: c.state.FleetName, Instances: make(map[string]*aoftypes.AgentInstanceState), Tasks: make(map[string]*aoftypes.FleetTask)}
	for id, inst := range c.state.Instances {
		copyInst := *inst
		snapshot.Instances[id] = &copyInst
	}
	for id, task := range c.state.Tasks {
		copyTask := *task
		snapshot.Tasks[id] = &copyTask
	}
	return snapshot
}

// SubmitTask admits one task for distribution according to the fleet's
// configured coordination mode and returns its assigned ID immediately;
// dispatch happens asynchronously.
func (c *Coordinator) SubmitTask(ctx context.Context, input string) string {
	taskID := uuid.NewString()

	c.mu.Lock()
	c.state.Tasks[taskID] = &aoftypes.FleetTask{TaskID: taskID, Status: aoftypes.FleetTaskPending}
	c.mu.Unlock()

	c.emit(Event{Type: EventTaskSubmitted, TaskID: taskID})

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.dispatch(ctx, taskID, input)
	}()

	return taskID
}

// ExecuteNext dispatches the oldest globally queued round-robin task (one
// left pending because no instance was idle at submit time) if any is
// waiting, assigning it to instanceID. It reports whether a task was
// found and dispatched.
func (c *Coordinator) ExecuteNext(ctx context.Context, instanceID string) (*aoftypes.FleetTask, bool) {
	c.mu.Lock()
	if len(c.pending) == 0 {
		c.mu.Unlock()
		return nil, false
	}
	next := c.pending[0]
	c.pending = c.pending[1:]
	h, ok := c.instances[instanceID]
	c.mu.Unlock()
	if !ok {
		c.mu.Lock()
		c.pending = append([]pendingTask{next}, c.pending...)
		c.mu.Unlock()
		return nil, false
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.runOnInstance(ctx, h, next.taskID, next.input)
		c.drainPending(ctx)
	}()

	task, _ := c.lookupTask(next.taskID)
	return task, true
}

func (c *Coordinator) lookupTask(taskID string) (*aoftypes.FleetTask, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	task, ok := c.state.Tasks[taskID]
	return task, ok
}

func (c *Coordinator) dispatch(ctx context.Context, taskID, input string) {
	switch c.fleet.Spec.Coordination.Mode {
	case aoftypes.CoordinationBroadcast:
		c.dispatchBroadcast(ctx, taskID, input)
	case aoftypes.CoordinationConsensus:
		c.dispatchConsensus(ctx, taskID, input)
	case aoftypes.CoordinationHierarchical:
		c.dispatchHierarchical(ctx, taskID, input)
	default:
		c.dispatchRoundRobin(ctx, taskID, input)
	}
}

func (c *Coordinator) dispatchRoundRobin(ctx context.Context, taskID, input string) {
	if h := c.pickIdle(""); h != nil {
		c.runOnInstance(ctx, h, taskID, input)
		c.drainPending(ctx)
		return
	}

	c.mu.Lock()
	c.pending = append(c.pending, pendingTask{taskID: taskID, input: input})
	c.mu.Unlock()
}

// drainPending opportunistically dispatches queued round-robin tasks onto
// any instance that is currently idle, implementing "dispatch on the
// next idle" without requiring an external poller.
func (c *Coordinator) drainPending(ctx context.Context) {
	for {
		h := c.pickIdle("")
		if h == nil {
			return
		}
		c.mu.Lock()
		if len(c.pending) == 0 {
			c.mu.Unlock()
			h.mu.Lock()
			h.state.Status = aoftypes.InstanceIdle
			h.mu.Unlock()
			return
		}
		next := c.pending[0]
		c.pending = c.pending[1:]
		c.mu.Unlock()
		c.runOnInstance(ctx, h, next.taskID, next.input)
	}
}

func (c *Coordinator) pickIdle(role aoftypes.AgentRole) *instanceHandle {
	c.mu.Lock()
	defer c.mu.Unlock()

	ids := c.instanceIDsForRole(role)
	for _, id := range ids {
		h := c.instances[id]
		h.mu.Lock()
		if h.state.Status == aoftypes.InstanceIdle {
			h.state.Status = aoftypes.InstanceBusy
			h.mu.Unlock()
			return h
		}
		h.mu.Unlock()
	}
	return nil
}

func (c *Coordinator) instanceIDsForRole(role aoftypes.AgentRole) []string {
	if role == "" {
		ids := make([]string, 0, len(c.instances))
		for id := range c.instances {
			ids = append(ids, id)
		}
		return ids
	}
	return c.byRole[role]
}

func (c *Coordinator) instancesForRole(role aoftypes.AgentRole) []*instanceHandle {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := c.byRole[role]
	out := make([]*instanceHandle, 0, len(ids))
	for _, id := range ids {
		out = append(out, c.instances[id])
	}
	return out
}

func (c *Coordinator) runOnInstance(ctx context.Context, h *instanceHandle, taskID, input string) (string, error) {
	c.mu.Lock()
	task := c.state.Tasks[taskID]
	task.Status = aoftypes.FleetTaskAssigned
	task.AssignedTo = append(task.AssignedTo, h.state.InstanceID)
	c.mu.Unlock()

	c.emit(Event{Type: EventTaskAssigned, TaskID: taskID, InstanceID: h.state.InstanceID})

	result, err := h.runner.Execute(ctx, input)

	h.mu.Lock()
	h.state.TasksProcessed++
	h.state.LastActivity = time.Now()
	if err != nil {
		h.state.Status = aoftypes.InstanceFailed
	} else if h.state.Status != aoftypes.InstanceDraining {
		h.state.Status = aoftypes.InstanceIdle
	}
	h.mu.Unlock()

	c.mu.Lock()
	if err != nil {
		task.Status = aoftypes.FleetTaskFailed
	} else {
		task.Status = aoftypes.FleetTaskCompleted
		task.Result = result
	}
	c.mu.Unlock()

	if err != nil {
		c.emit(Event{Type: EventTaskFailed, TaskID: taskID, InstanceID: h.state.InstanceID, Err: err})
	} else {
		c.emit(Event{Type: EventTaskCompleted, TaskID: taskID, InstanceID: h.state.InstanceID, Result: result})
	}

	return result, err
}

func (c *Coordinator) dispatchBroadcast(ctx context.Context, taskID, input string) {
	handles := c.allInstances()
	results := make(map[string]string, len(handles))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, h := range handles {
		h.mu.Lock()
		h.state.Status = aoftypes.InstanceBusy
		h.mu.Unlock()

		wg.Add(1)
		go func(h *instanceHandle) {
			defer wg.Done()
			result, err := c.runOnInstance(ctx, h, taskID, input)
			if err == nil {
				mu.Lock()
				results[h.state.InstanceID] = result
				mu.Unlock()
			}
		}(h)
	}
	wg.Wait()

	c.mu.Lock()
	task := c.state.Tasks[taskID]
	if len(results) == 0 {
		task.Status = aoftypes.FleetTaskFailed
	} else {
		task.Status = aoftypes.FleetTaskCompleted
		task.Result = joinResults(results)
	}
	c.mu.Unlock()
}

func (c *Coordinator) allInstances() []*instanceHandle {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*instanceHandle, 0, len(c.instances))
	for _, h := range c.instances {
		out = append(out, h)
	}
	return out
}

func joinResults(results map[string]string) string {
	parts := make([]string, 0, len(results))
	for id, r := range results {
		parts = append(parts, fmt.Sprintf("%s: %s", id, r))
	}
	return strings.Join(parts, "\n")
}

func (c *Coordinator) dispatchConsensus(ctx context.Context, taskID, input string) {
	consensus := c.fleet.Spec.Coordination.Consensus
	if consensus == nil {
		c.failTask(taskID, errors.New("fleet: consensus coordination requires coordination.consensus"))
		return
	}

	voterRole := aoftypes.RoleWorker
	voters := c.instancesForRole(voterRole)
	if len(voters) == 0 {
		voters = c.allNonJudgeInstances()
	}

	timeout := 30 * time.Second
	if consensus.Timeout != "" {
		if d, err := time.ParseDuration(consensus.Timeout); err == nil {
			timeout = d
		}
	}
	voteCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	votes := make(map[string]string, len(voters))
	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, h := range voters {
		h.mu.Lock()
		h.state.Status = aoftypes.InstanceBusy
		h.mu.Unlock()

		wg.Add(1)
		go func(h *instanceHandle) {
			defer wg.Done()
			result, err := c.runOnInstance(voteCtx, h, taskID, input)
			if err == nil {
				mu.Lock()
				votes[h.state.InstanceID] = result
				mu.Unlock()
			}
		}(h)
	}
	wg.Wait()

	c.mu.Lock()
	task := c.state.Tasks[taskID]
	task.Votes = votes
	c.mu.Unlock()

	final, reached, err := resolveConsensus(consensus, votes)
	if err != nil {
		c.failTask(taskID, err)
		return
	}
	if !reached {
		c.failTask(taskID, errors.New("consensus_not_reached"))
		return
	}

	if consensus.Algorithm == aoftypes.ConsensusJudge {
		judges := c.instancesForRole(aoftypes.RoleJudge)
		if len(judges) == 0 {
			c.failTask(taskID, errors.New("fleet: judge consensus requires a judge-role member"))
			return
		}
		prompt := buildJudgePrompt(input, votes)
		judged, err := c.runOnInstance(ctx, judges[0], taskID, prompt)
		if err != nil {
			c.failTask(taskID, err)
			return
		}
		final = judged
	}

	c.mu.Lock()
	task.Status = aoftypes.FleetTaskCompleted
	task.Result = final
	c.mu.Unlock()

	c.emit(Event{Type: EventConsensusReached, TaskID: taskID, Result: final, Votes: votes})
}

func (c *Coordinator) allNonJudgeInstances() []*instanceHandle {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*instanceHandle, 0, len(c.instances))
	for _, h := range c.instances {
		if h.state.Role != aoftypes.RoleJudge {
			out = append(out, h)
		}
	}
	return out
}

// resolveConsensus tallies votes per consensus.Algorithm. The judge
// algorithm reports reached for any non-empty vote set without requiring
// a majority; the caller hands every collected vote to the judge and uses
// its answer as the final result.
func resolveConsensus(consensus *aoftypes.ConsensusConfig, votes map[string]string) (winner string, reached bool, err error) {
	if len(votes) == 0 {
		return "", false, nil
	}

	counts := make(map[string]int, len(votes))
	for _, v := range votes {
		counts[v]++
	}

	best, bestCount := "", 0
	for v, n := range counts {
		if n > bestCount {
			best, bestCount = v, n
		}
	}

	switch consensus.Algorithm {
	case aoftypes.ConsensusAll:
		return best, bestCount == len(votes), nil
	case aoftypes.ConsensusJudge:
		return best, true, nil
	default: // majority
		minVotes := consensus.MinVotes
		if minVotes <= 0 {
			minVotes = len(votes)/2 + 1
		}
		return best, bestCount >= minVotes, nil
	}
}

func buildJudgePrompt(original string, votes map[string]string) string {
	var b strings.Builder
	b.WriteString("Original task: ")
	b.WriteString(original)
	b.WriteString("\n\nCandidate answers from agents:\n")
	for id, v := range votes {
		b.WriteString(fmt.Sprintf("- %s: %s\n", id, v))
	}
	b.WriteString("\nChoose or synthesize the single best final answer.")
	return b.String()
}

// hierarchicalSubtask is the shape a coordinator-role instance's raw
// output is parsed as when it wants to fan work out to subordinates.
// Unparseable output is treated as a direct final answer instead.
type hierarchicalSubtask struct {
	Role  aoftypes.AgentRole `json:"role"`
	Input string             `json:"input"`
}

func (c *Coordinator) dispatchHierarchical(ctx context.Context, taskID, input string) {
	coordinators := c.instancesForRole(aoftypes.RoleCoordinator)
	if len(coordinators) == 0 {
		c.failTask(taskID, errors.New("fleet: hierarchical coordination requires a coordinator-role member"))
		return
	}
	coordinator := coordinators[0]

	planRaw, err := c.runOnInstance(ctx, coordinator, taskID, input)
	if err != nil {
		c.failTask(taskID, err)
		return
	}

	var subtasks []hierarchicalSubtask
	if jsonErr := json.Unmarshal([]byte(planRaw), &subtasks); jsonErr != nil || len(subtasks) == 0 {
		c.mu.Lock()
		task := c.state.Tasks[taskID]
		task.Status = aoftypes.FleetTaskCompleted
		task.Result = planRaw
		c.mu.Unlock()
		return
	}

	results := make(map[string]string, len(subtasks))
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i, st := range subtasks {
		handles := c.instancesForRole(st.Role)
		if len(handles) == 0 {
			continue
		}
		h := handles[i%len(handles)]
		wg.Add(1)
		go func(h *instanceHandle, subInput string) {
			defer wg.Done()
			result, err := c.runOnInstance(ctx, h, taskID, subInput)
			if err == nil {
				mu.Lock()
				results[h.state.InstanceID] = result
				mu.Unlock()
			}
		}(h, st.Input)
	}
	wg.Wait()

	final, err := coordinator.runner.Execute(ctx, buildAssemblyPrompt(input, results))

	c.mu.Lock()
	task := c.state.Tasks[taskID]
	if err != nil {
		task.Status = aoftypes.FleetTaskFailed
	} else {
		task.Status = aoftypes.FleetTaskCompleted
		task.Result = final
		task.Votes = results
	}
	c.mu.Unlock()
}

func buildAssemblyPrompt(original string, subResults map[string]string) string {
	var b strings.Builder
	b.WriteString("Original task: ")
	b.WriteString(original)
	b.WriteString("\n\nSubtask results:\n")
	for id, r := range subResults {
		b.WriteString(fmt.Sprintf("- %s: %s\n", id, r))
	}
	b.WriteString("\nAssemble the final result.")
	return b.String()
}

func (c *Coordinator) failTask(taskID string, err error) {
	c.mu.Lock()
	task := c.state.Tasks[taskID]
	task.Status = aoftypes.FleetTaskFailed
	c.mu.Unlock()
	c.emit(Event{Type: EventTaskFailed, TaskID: taskID, Err: err})
}
