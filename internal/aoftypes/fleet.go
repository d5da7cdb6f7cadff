package aoftypes

import (
	"fmt"
	"time"
)

// AgentRole is the part an agent instance plays within a fleet.
// Grounded on spec.md §3 "Fleet" and internal/multiagent/types.go's
// AgentDefinition role vocabulary.
type AgentRole string

const (
	RoleWorker      AgentRole = "worker"
	RoleCoordinator AgentRole = "coordinator"
	RoleSpecialist  AgentRole = "specialist"
	RoleJudge       AgentRole = "judge"
)

// CoordinationMode is how a fleet distributes and aggregates task results.
type CoordinationMode string

const (
	CoordinationRoundRobin  CoordinationMode = "round-robin"
	CoordinationBroadcast   CoordinationMode = "broadcast"
	CoordinationConsensus   CoordinationMode = "consensus"
	CoordinationHierarchical CoordinationMode = "hierarchical"
)

// ConsensusAlgorithm is how a consensus-mode fleet resolves votes.
type ConsensusAlgorithm string

const (
	ConsensusMajority ConsensusAlgorithm = "majority"
	ConsensusAll      ConsensusAlgorithm = "all"
	ConsensusJudge    ConsensusAlgorithm = "judge"
)

// ConsensusConfig configures a consensus-mode fleet's voting round.
type ConsensusConfig struct {
	Algorithm ConsensusAlgorithm `yaml:"algorithm" json:"algorithm"`
	MinVotes  int                `yaml:"min_votes,omitempty" json:"min_votes,omitempty"`
	Timeout   string             `yaml:"timeout,omitempty" json:"timeout,omitempty"`
}

// CoordinationConfig is the fleet-wide distribution and aggregation policy.
type CoordinationConfig struct {
	Mode             CoordinationMode `yaml:"mode" json:"mode"`
	Distribution     string           `yaml:"distribution,omitempty" json:"distribution,omitempty"`
	Consensus        *ConsensusConfig `yaml:"consensus,omitempty" json:"consensus,omitempty"`
	FinalAggregation string           `yaml:"final_aggregation,omitempty" json:"final_aggregation,omitempty"`
}

// FleetAgentSpec declares one agent member of a fleet, either inline (Spec)
// or by reference to an existing Agent resource (ConfigRef).
type FleetAgentSpec struct {
	Name     string     `yaml:"name" json:"name"`
	Role     AgentRole  `yaml:"role" json:"role"`
	Replicas int        `yaml:"replicas,omitempty" json:"replicas,omitempty"`
	Spec     *AgentSpec `yaml:"spec,omitempty" json:"spec,omitempty"`
	ConfigRef string    `yaml:"config_ref,omitempty" json:"config_ref,omitempty"`
}

// ReplicasOrDefault returns the instance count for this member, defaulting to 1.
func (a FleetAgentSpec) ReplicasOrDefault() int {
	if a.Replicas <= 0 {
		return 1
	}
	return a.Replicas
}

// AgentFleetSpec is the spec block of an AgentFleet resource.
type AgentFleetSpec struct {
	Agents          []FleetAgentSpec    `yaml:"agents" json:"agents"`
	Coordination    CoordinationConfig  `yaml:"coordination" json:"coordination"`
	SharedResources map[string]string   `yaml:"shared_resources,omitempty" json:"shared_resources,omitempty"`
	Communication   map[string]string   `yaml:"communication,omitempty" json:"communication,omitempty"`
}

// AgentFleet is the declarative multi-agent coordination resource.
type AgentFleet struct {
	APIVersionField string         `yaml:"apiVersion" json:"apiVersion"`
	KindField       string         `yaml:"kind" json:"kind"`
	MetadataField   Metadata       `yaml:"metadata" json:"metadata"`
	Spec            AgentFleetSpec `yaml:"spec" json:"spec"`
}

func (f *AgentFleet) Kind() string         { return "AgentFleet" }
func (f *AgentFleet) GetMetadata() Metadata { return f.MetadataField }

// Validate checks the structural invariants of an AgentFleet resource.
func (f *AgentFleet) Validate() error {
	if f.MetadataField.Name == "" {
		return fmt.Errorf("agentfleet: metadata.name is required")
	}
	if len(f.Spec.Agents) == 0 {
		return fmt.Errorf("agentfleet %q: spec.agents must not be empty", f.MetadataField.Name)
	}
	for _, a := range f.Spec.Agents {
		if a.Name == "" {
			return fmt.Errorf("agentfleet %q: agent member name is required", f.MetadataField.Name)
		}
		if a.Spec == nil && a.ConfigRef == "" {
			return fmt.Errorf("agentfleet %q: member %q needs spec or config_ref", f.MetadataField.Name, a.Name)
		}
	}
	if f.Spec.Coordination.Mode == CoordinationConsensus && f.Spec.Coordination.Consensus == nil {
		return fmt.Errorf("agentfleet %q: coordination.consensus is required in consensus mode", f.MetadataField.Name)
	}
	return nil
}

// InstanceStatus is the lifecycle state of one agent instance in a FleetState.
type InstanceStatus string

const (
	InstanceIdle     InstanceStatus = "idle"
	InstanceBusy     InstanceStatus = "busy"
	InstanceFailed   InstanceStatus = "failed"
	InstanceDraining InstanceStatus = "draining"
)

// AgentInstanceState is the live state of one running fleet member.
type AgentInstanceState struct {
	InstanceID     string         `json:"instance_id"`
	AgentName      string         `json:"agent_name"`
	Role           AgentRole      `json:"role"`
	Status         InstanceStatus `json:"status"`
	TasksProcessed int            `json:"tasks_processed"`
	LastActivity   time.Time      `json:"last_activity"`
}

// FleetTaskStatus is the lifecycle state of one task dispatched by a fleet.
type FleetTaskStatus string

const (
	FleetTaskPending   FleetTaskStatus = "pending"
	FleetTaskAssigned  FleetTaskStatus = "assigned"
	FleetTaskCompleted FleetTaskStatus = "completed"
	FleetTaskFailed    FleetTaskStatus = "failed"
)

// FleetTask is one unit of work a fleet coordinator has distributed.
type FleetTask struct {
	TaskID     string          `json:"task_id"`
	Status     FleetTaskStatus `json:"status"`
	AssignedTo []string        `json:"assigned_to,omitempty"`
	Result     string          `json:"result,omitempty"`
	Votes      map[string]string `json:"votes,omitempty"`
}

// FleetState is the live state a Fleet Coordinator owns for one running fleet.
type FleetState struct {
	FleetName string                         `json:"fleet_name"`
	Instances map[string]*AgentInstanceState `json:"instances"`
	Tasks     map[string]*FleetTask          `json:"tasks"`
}

// NewFleetState returns an empty FleetState ready for instance registration.
func NewFleetState(fleetName string) *FleetState {
	return &FleetState{
		FleetName: fleetName,
		Instances: make(map[string]*AgentInstanceState),
		Tasks:     make(map[string]*FleetTask),
	}
}
