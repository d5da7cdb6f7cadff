package aoftypes

import "time"

// TaskStatus is the lifecycle state of a Task owned by the Orchestrator.
type TaskStatus string

const (
	TaskQueued    TaskStatus = "queued"
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
	TaskCancelled TaskStatus = "cancelled"
)

// ResourceKind selects which executor a Task is dispatched to.
type ResourceKind string

const (
	ResourceAgent ResourceKind = "agent"
	ResourceFlow  ResourceKind = "flow"
	ResourceFleet ResourceKind = "fleet"
)

// Task is the unit of work the Runtime Orchestrator admits and tracks.
type Task struct {
	ID           string       `json:"id"`
	Name         string       `json:"name"`
	ResourceKind ResourceKind `json:"resource_kind"`
	AgentRef     string       `json:"agent_ref"`
	Input        string       `json:"input"`
	UserID       string       `json:"user_id,omitempty"`
	SubmittedAt  time.Time    `json:"submitted_at"`
	StartedAt    *time.Time   `json:"started_at,omitempty"`
	FinishedAt   *time.Time   `json:"finished_at,omitempty"`
	Status       TaskStatus   `json:"status"`
	Result       string       `json:"result,omitempty"`
	ErrorKind    string       `json:"error_kind,omitempty"`
	Error        string       `json:"error,omitempty"`
	PartialResult string      `json:"partial_result,omitempty"`
}

// TaskFilter narrows List() queries over the Orchestrator's task set.
type TaskFilter struct {
	UserID string
	Status TaskStatus
}
