package flowengine

import "github.com/agenticdevops/aof/internal/aoftypes"

// Status is the terminal (or suspended) outcome of one flow run.
type Status string

const (
	StatusCompleted     Status = "completed"
	StatusFailed        Status = "failed"
	StatusCancelled     Status = "cancelled"
	StatusSuspended     Status = "suspended"
	StatusNoMatchingEdge Status = "no_matching_edge"
)

// Interrupt describes a suspended Approval node awaiting external input.
type Interrupt struct {
	ID     string
	NodeID string
	Type   aoftypes.InterruptType
	Prompt string
	Schema *aoftypes.StateSchema
}

// FlowResult is the terminal (or suspended) outcome of Engine.Execute.
type FlowResult struct {
	RunID            string
	FlowName         string
	Status           Status
	State            State
	CompletedNodeIDs []string
	Interrupt        *Interrupt
	Err              error
}
