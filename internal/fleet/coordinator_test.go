package fleet

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/agenticdevops/aof/internal/aoftypes"
)

type funcRunner struct {
	fn func(ctx context.Context, input string) (string, error)
}

func (r funcRunner) Execute(ctx context.Context, input string) (string, error) {
	return r.fn(ctx, input)
}

func echoFactory(result string, err error) InstanceFactory {
	return func(member aoftypes.FleetAgentSpec, instanceID string) (InstanceRunner, error) {
		return funcRunner{fn: func(ctx context.Context, input string) (string, error) {
			if err != nil {
				return "", err
			}
			if result != "" {
				return result, nil
			}
			return instanceID + ":" + input, nil
		}}, nil
	}
}

func newRoundRobinFleet(replicas int) *aoftypes.AgentFleet {
	return &aoftypes.AgentFleet{
		MetadataField: aoftypes.Metadata{Name: "workers"},
		Spec: aoftypes.AgentFleetSpec{
			Agents: []aoftypes.FleetAgentSpec{
				{Name: "worker", Role: aoftypes.RoleWorker, Replicas: replicas, Spec: &aoftypes.AgentSpec{}},
			},
			Coordination: aoftypes.CoordinationConfig{Mode: aoftypes.CoordinationRoundRobin},
		},
	}
}

func waitForTaskStatus(t *testing.T, c *Coordinator, taskID string, status aoftypes.FleetTaskStatus) *aoftypes.FleetTask {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		task, ok := c.lookupTask(taskID)
		if ok && task.Status == status {
			return task
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("task %s did not reach status %s in time", taskID, status)
	return nil
}

func TestRoundRobinDispatchesToIdleInstance(t *testing.T) {
	c := New(newRoundRobinFleet(1), echoFactory("", nil))
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	id := c.SubmitTask(context.Background(), "hello")
	task := waitForTaskStatus(t, c, id, aoftypes.FleetTaskCompleted)
	if task.Result != "worker-0:hello" {
		t.Fatalf("unexpected result: %q", task.Result)
	}
}

func TestRoundRobinQueuesWhenNoInstanceIdle(t *testing.T) {
	release := make(chan struct{})
	factory := func(member aoftypes.FleetAgentSpec, instanceID string) (InstanceRunner, error) {
		return funcRunner{fn: func(ctx context.Context, input string) (string, error) {
			<-release
			return instanceID, nil
		}}, nil
	}

	c := New(newRoundRobinFleet(1), factory)
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	first := c.SubmitTask(context.Background(), "a")
	second := c.SubmitTask(context.Background(), "b")

	time.Sleep(20 * time.Millisecond)
	if task, _ := c.lookupTask(second); task.Status != aoftypes.FleetTaskPending {
		t.Fatalf("expected second task still pending, got %s", task.Status)
	}

	close(release)
	waitForTaskStatus(t, c, first, aoftypes.FleetTaskCompleted)
	waitForTaskStatus(t, c, second, aoftypes.FleetTaskCompleted)
}

func TestBroadcastAggregatesAllResults(t *testing.T) {
	fleet := &aoftypes.AgentFleet{
		MetadataField: aoftypes.Metadata{Name: "broadcasters"},
		Spec: aoftypes.AgentFleetSpec{
			Agents: []aoftypes.FleetAgentSpec{
				{Name: "worker", Role: aoftypes.RoleWorker, Replicas: 3, Spec: &aoftypes.AgentSpec{}},
			},
			Coordination: aoftypes.CoordinationConfig{Mode: aoftypes.CoordinationBroadcast},
		},
	}

	c := New(fleet, echoFactory("", nil))
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	id := c.SubmitTask(context.Background(), "ping")
	task := waitForTaskStatus(t, c, id, aoftypes.FleetTaskCompleted)
	if len(task.Votes) != 0 {
		t.Fatalf("broadcast does not record votes, got %v", task.Votes)
	}
	if task.Result == "" {
		t.Fatal("expected a non-empty aggregated result")
	}
}

func newConsensusFleet(algorithm aoftypes.ConsensusAlgorithm, minVotes int) *aoftypes.AgentFleet {
	return &aoftypes.AgentFleet{
		MetadataField: aoftypes.Metadata{Name: "voters"},
		Spec: aoftypes.AgentFleetSpec{
			Agents: []aoftypes.FleetAgentSpec{
				{Name: "worker", Role: aoftypes.RoleWorker, Replicas: 3, Spec: &aoftypes.AgentSpec{}},
			},
			Coordination: aoftypes.CoordinationConfig{
				Mode: aoftypes.CoordinationConsensus,
				Consensus: &aoftypes.ConsensusConfig{
					Algorithm: algorithm,
					MinVotes:  minVotes,
					Timeout:   "1s",
				},
			},
		},
	}
}

func TestConsensusMajorityReachesAgreement(t *testing.T) {
	c := New(newConsensusFleet(aoftypes.ConsensusMajority, 2), echoFactory("agreed", nil))
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	id := c.SubmitTask(context.Background(), "vote")
	task := waitForTaskStatus(t, c, id, aoftypes.FleetTaskCompleted)
	if task.Result != "agreed" {
		t.Fatalf("expected agreed result, got %q", task.Result)
	}
	if len(task.Votes) != 3 {
		t.Fatalf("expected 3 votes recorded, got %d", len(task.Votes))
	}
}

func TestConsensusFailsWhenQuorumNotReached(t *testing.T) {
	var mu sync.Mutex
	n := 0
	factory := func(member aoftypes.FleetAgentSpec, instanceID string) (InstanceRunner, error) {
		return funcRunner{fn: func(ctx context.Context, input string) (string, error) {
			mu.Lock()
			n++
			v := n
			mu.Unlock()
			return fmt.Sprintf("answer-%d", v), nil
		}}, nil
	}

	c := New(newConsensusFleet(aoftypes.ConsensusMajority, 2), factory)
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	id := c.SubmitTask(context.Background(), "vote")
	task := waitForTaskStatus(t, c, id, aoftypes.FleetTaskFailed)
	if task.Status != aoftypes.FleetTaskFailed {
		t.Fatalf("expected failed task, got %s", task.Status)
	}
}

func TestHierarchicalSingleShotCoordinatorAnswersDirectly(t *testing.T) {
	fleet := &aoftypes.AgentFleet{
		MetadataField: aoftypes.Metadata{Name: "hierarchy"},
		Spec: aoftypes.AgentFleetSpec{
			Agents: []aoftypes.FleetAgentSpec{
				{Name: "lead", Role: aoftypes.RoleCoordinator, Spec: &aoftypes.AgentSpec{}},
			},
			Coordination: aoftypes.CoordinationConfig{Mode: aoftypes.CoordinationHierarchical},
		},
	}

	c := New(fleet, echoFactory("direct answer", nil))
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	id := c.SubmitTask(context.Background(), "plan this")
	task := waitForTaskStatus(t, c, id, aoftypes.FleetTaskCompleted)
	if task.Result != "direct answer" {
		t.Fatalf("expected direct answer passthrough, got %q", task.Result)
	}
}

func TestHierarchicalFansOutSubtasksToWorkers(t *testing.T) {
	callCount := 0
	var mu sync.Mutex
	factory := func(member aoftypes.FleetAgentSpec, instanceID string) (InstanceRunner, error) {
		if member.Role == aoftypes.RoleCoordinator {
			return funcRunner{fn: func(ctx context.Context, input string) (string, error) {
				mu.Lock()
				callCount++
				call := callCount
				mu.Unlock()
				if call == 1 {
					return `[{"role":"worker","input":"sub-a"},{"role":"worker","input":"sub-b"}]`, nil
				}
				return "assembled", nil
			}}, nil
		}
		return funcRunner{fn: func(ctx context.Context, input string) (string, error) {
			return "result-for-" + input, nil
		}}, nil
	}

	fleet := &aoftypes.AgentFleet{
		MetadataField: aoftypes.Metadata{Name: "hierarchy"},
		Spec: aoftypes.AgentFleetSpec{
			Agents: []aoftypes.FleetAgentSpec{
				{Name: "lead", Role: aoftypes.RoleCoordinator, Spec: &aoftypes.AgentSpec{}},
				{Name: "worker", Role: aoftypes.RoleWorker, Replicas: 2, Spec: &aoftypes.AgentSpec{}},
			},
			Coordination: aoftypes.CoordinationConfig{Mode: aoftypes.CoordinationHierarchical},
		},
	}

	c := New(fleet, factory)
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	id := c.SubmitTask(context.Background(), "big plan")
	task := waitForTaskStatus(t, c, id, aoftypes.FleetTaskCompleted)
	if task.Result != "assembled" {
		t.Fatalf("expected assembled final result, got %q", task.Result)
	}
	if len(task.Votes) != 2 {
		t.Fatalf("expected 2 subtask results recorded, got %d", len(task.Votes))
	}
}

func TestStartEmitsLifecycleEvents(t *testing.T) {
	c := New(newRoundRobinFleet(2), echoFactory("", nil))

	var mu sync.Mutex
	var events []EventType
	c.SetEventCallback(func(ev Event) {
		mu.Lock()
		events = append(events, ev.Type)
		mu.Unlock()
	})

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	agentStarted := 0
	fleetStarted := 0
	for _, e := range events {
		switch e {
		case EventAgentStarted:
			agentStarted++
		case EventStarted:
			fleetStarted++
		}
	}
	if agentStarted != 2 {
		t.Fatalf("expected 2 AgentStarted events, got %d", agentStarted)
	}
	if fleetStarted != 1 {
		t.Fatalf("expected 1 Started event, got %d", fleetStarted)
	}
}

func TestStopIsIdempotentAndEmitsStopped(t *testing.T) {
	c := New(newRoundRobinFleet(1), echoFactory("", nil))
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	stoppedCount := 0
	var mu sync.Mutex
	c.SetEventCallback(func(ev Event) {
		if ev.Type == EventStopped {
			mu.Lock()
			stoppedCount++
			mu.Unlock()
		}
	})

	c.Stop(time.Second)
	c.Stop(time.Second)

	mu.Lock()
	defer mu.Unlock()
	if stoppedCount != 1 {
		t.Fatalf("expected exactly 1 Stopped event across two Stop calls, got %d", stoppedCount)
	}
}
