// Package fleet implements the Fleet Coordinator: it spawns replica
// instances for each agent member of an AgentFleet, distributes
// submitted tasks across them per the fleet's coordination mode, and
// aggregates results. Grounded on the teacher's internal/multiagent
// Orchestrator — its AgentDefinition registry and
// OrchestratorEvent/emitEvent/SetEventCallback observer pattern — but
// retargeted from "route one conversation to one specialist agent" onto
// spec.md §4.9's broader distribution policies (round-robin, broadcast,
// consensus, hierarchical) over aoftypes.AgentFleet/FleetState.
package fleet

import "time"

// EventType is the fleet-level lifecycle vocabulary spec.md §4.9 requires
// coordinators to publish. Distinct from activitybus.ActivityType: these
// describe fleet/instance/task lifecycle, not LLM-call or tool-call
// activity.
type EventType string

const (
	EventStarted         EventType = "Started"
	EventAgentStarted    EventType = "AgentStarted"
	EventTaskSubmitted   EventType = "TaskSubmitted"
	EventTaskAssigned    EventType = "TaskAssigned"
	EventTaskCompleted   EventType = "TaskCompleted"
	EventTaskFailed      EventType = "TaskFailed"
	EventConsensusReached EventType = "ConsensusReached"
	EventStopped         EventType = "Stopped"
	EventError           EventType = "Error"
)

// Event is one observation published to a Coordinator's event callback.
// Consumers must not affect coordinator state from inside a callback.
type Event struct {
	Type       EventType
	FleetName  string
	TaskID     string
	InstanceID string
	Result     string
	Votes      map[string]string
	Err        error
	Timestamp  time.Time
}
