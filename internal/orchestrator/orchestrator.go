// Package orchestrator admits Tasks, enforces global and per-user
// concurrency quotas, and tracks task lifecycle through to completion.
// Grounded on the teacher's internal/agent.Runtime: the per-key mutex
// idiom behind its sessionLock/lockSession helper is reused here for
// per-user admission bookkeeping, generalized from "one lock per
// session" to "one in-flight counter per user".
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agenticdevops/aof/internal/activitybus"
	"github.com/agenticdevops/aof/internal/aoferr"
	"github.com/agenticdevops/aof/internal/aoftypes"
)

const (
	defaultMaxConcurrentTasks = 50
	defaultMaxTasksPerUser    = 5
	defaultTaskTimeoutSecs    = 300
)

// Executor runs one admitted Task to completion. Agent, Flow, and Fleet
// executors each implement this to let the Orchestrator dispatch by
// Task.ResourceKind without depending on any of their concrete types.
type Executor interface {
	Execute(ctx context.Context, task *aoftypes.Task) (result string, err error)
}

// Config tunes one Orchestrator's admission policy.
type Config struct {
	MaxConcurrentTasks int
	MaxTasksPerUser    int
	TaskTimeoutSecs    int
}

func (c Config) sanitized() Config {
	if c.MaxConcurrentTasks <= 0 {
		c.MaxConcurrentTasks = defaultMaxConcurrentTasks
	}
	if c.MaxTasksPerUser <= 0 {
		c.MaxTasksPerUser = defaultMaxTasksPerUser
	}
	if c.TaskTimeoutSecs <= 0 {
		c.TaskTimeoutSecs = defaultTaskTimeoutSecs
	}
	return c
}

type runningTask struct {
	cancel context.CancelFunc
}

// Orchestrator is the Runtime Orchestrator of spec §4.7.
type Orchestrator struct {
	config Config
	bus    activitybus.Publisher

	mu           sync.Mutex
	tasks        map[string]*aoftypes.Task
	running      map[string]*runningTask
	globalCount  int
	perUserCount map[string]int

	executorsMu sync.RWMutex
	executors   map[aoftypes.ResourceKind]Executor
}

// New returns an Orchestrator. A nil bus discards all activity events.
func New(config Config, bus activitybus.Publisher) *Orchestrator {
	if bus == nil {
		bus = activitybus.NopBus{}
	}
	return &Orchestrator{
		config:       config.sanitized(),
		bus:          bus,
		tasks:        make(map[string]*aoftypes.Task),
		running:      make(map[string]*runningTask),
		perUserCount: make(map[string]int),
		executors:    make(map[aoftypes.ResourceKind]Executor),
	}
}

// RegisterExecutor binds kind's dispatch target. Re-registering a kind
// replaces the prior executor.
func (o *Orchestrator) RegisterExecutor(kind aoftypes.ResourceKind, executor Executor) {
	o.executorsMu.Lock()
	defer o.executorsMu.Unlock()
	o.executors[kind] = executor
}

func (o *Orchestrator) executorFor(kind aoftypes.ResourceKind) (Executor, bool) {
	o.executorsMu.RLock()
	defer o.executorsMu.RUnlock()
	e, ok := o.executors[kind]
	return e, ok
}

// Submit admits task if quotas allow, assigning an ID when empty, and
// starts its execution in the background. It returns QueueFull without
// enqueueing anything when admission fails — callers decide whether to
// retry or shed the task.
func (o *Orchestrator) Submit(ctx context.Context, task *aoftypes.Task) (string, error) {
	if task == nil {
		return "", errors.New("orchestrator: task is required")
	}
	if task.ID == "" {
		task.ID = uuid.NewString()
	}

	o.mu.Lock()
	if o.globalCount >= o.config.MaxConcurrentTasks {
		o.mu.Unlock()
		return "", aoferr.New(aoferr.KindQueueFull, "orchestrator", "global concurrency limit reached")
	}
	if task.UserID != "" && o.perUserCount[task.UserID] >= o.config.MaxTasksPerUser {
		o.mu.Unlock()
		return "", aoferr.New(aoferr.KindQueueFull, "orchestrator", fmt.Sprintf("per-user concurrency limit reached for %s", task.UserID))
	}

	task.Status = aoftypes.TaskQueued
	task.SubmittedAt = time.Now()
	o.tasks[task.ID] = task
	o.globalCount++
	if task.UserID != "" {
		o.perUserCount[task.UserID]++
	}
	o.mu.Unlock()

	go o.execute(task)

	return task.ID, nil
}

func (o *Orchestrator) execute(task *aoftypes.Task) {
	timeout := time.Duration(o.config.TaskTimeoutSecs) * time.Second
	runCtx, cancel := context.WithTimeout(context.Background(), timeout)

	o.mu.Lock()
	if task.Status == aoftypes.TaskCancelled {
		o.mu.Unlock()
		cancel()
		o.finish(task, aoftypes.TaskCancelled, "", "", nil)
		return
	}
	now := time.Now()
	task.Status = aoftypes.TaskRunning
	task.StartedAt = &now
	o.running[task.ID] = &runningTask{cancel: cancel}
	o.mu.Unlock()

	emitter := activitybus.NewEmitter(task.ID, o.bus)
	emitter.Started(runCtx)

	executor, ok := o.executorFor(task.ResourceKind)
	if !ok {
		cancel()
		err := fmt.Errorf("no executor registered for resource kind %q", task.ResourceKind)
		emitter.Error(runCtx, err)
		o.finish(task, aoftypes.TaskFailed, "", "no_executor", err)
		return
	}

	result, err := executor.Execute(runCtx, task)
	ctxErr := runCtx.Err()
	cancel()

	switch {
	case errors.Is(ctxErr, context.DeadlineExceeded):
		emitter.Error(runCtx, errors.New("task timed out"))
		o.finish(task, aoftypes.TaskFailed, result, "timeout", nil)
	case errors.Is(ctxErr, context.Canceled):
		emitter.Cancelled(runCtx)
		o.finish(task, aoftypes.TaskCancelled, result, "", nil)
	case err != nil:
		emitter.Error(runCtx, err)
		o.finish(task, aoftypes.TaskFailed, result, "", err)
	default:
		emitter.Completed(runCtx, nil)
		o.finish(task, aoftypes.TaskCompleted, result, "", nil)
	}
}

func (o *Orchestrator) finish(task *aoftypes.Task, status aoftypes.TaskStatus, result, errKind string, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	now := time.Now()
	task.Status = status
	task.FinishedAt = &now
	if result != "" {
		task.Result = result
	}
	if errKind != "" {
		task.ErrorKind = errKind
	}
	if err != nil {
		task.Error = err.Error()
	}

	delete(o.running, task.ID)
	o.globalCount--
	if task.UserID != "" {
		o.perUserCount[task.UserID]--
		if o.perUserCount[task.UserID] <= 0 {
			delete(o.perUserCount, task.UserID)
		}
	}
}

// Cancel marks task for cancellation. A task that has not started
// transitions directly to cancelled; a running task's executor context
// is cancelled and the transition happens once Execute returns. Cancelling
// an already-terminal task is a no-op.
func (o *Orchestrator) Cancel(id string) error {
	o.mu.Lock()

	task, ok := o.tasks[id]
	if !ok {
		o.mu.Unlock()
		return aoferr.New(aoferr.KindNotFound, "orchestrator", "task not found: "+id)
	}

	switch task.Status {
	case aoftypes.TaskCompleted, aoftypes.TaskFailed, aoftypes.TaskCancelled:
		o.mu.Unlock()
		return nil

	case aoftypes.TaskQueued:
		task.Status = aoftypes.TaskCancelled
		o.mu.Unlock()
		return nil

	default: // TaskRunning
		running := o.running[id]
		o.mu.Unlock()
		if running != nil {
			running.cancel()
		}
		return nil
	}
}

// Get returns the current snapshot of one task.
func (o *Orchestrator) Get(id string) (*aoftypes.Task, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	task, ok := o.tasks[id]
	if !ok {
		return nil, false
	}
	clone := *task
	return &clone, true
}

// List returns tasks matching filter, newest-submitted first. A zero
// filter matches every task.
func (o *Orchestrator) List(filter aoftypes.TaskFilter) []*aoftypes.Task {
	o.mu.Lock()
	defer o.mu.Unlock()

	out := make([]*aoftypes.Task, 0, len(o.tasks))
	for _, task := range o.tasks {
		if filter.UserID != "" && task.UserID != filter.UserID {
			continue
		}
		if filter.Status != "" && task.Status != filter.Status {
			continue
		}
		clone := *task
		out = append(out, &clone)
	}

	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].SubmittedAt.After(out[j-1].SubmittedAt); j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}

	return out
}

// Stats reports the current admission counters, useful for health checks
// and tests.
type Stats struct {
	GlobalInFlight int
	PerUser        map[string]int
}

// Stats returns a snapshot of current admission counters.
func (o *Orchestrator) Stats() Stats {
	o.mu.Lock()
	defer o.mu.Unlock()

	perUser := make(map[string]int, len(o.perUserCount))
	for k, v := range o.perUserCount {
		perUser[k] = v
	}
	return Stats{GlobalInFlight: o.globalCount, PerUser: perUser}
}
