package registry

import "github.com/agenticdevops/aof/internal/aoftypes"

// Concrete per-kind registries, one constructor per declarative
// resource kind spec.md §4.11 names. Workflow (step-based) resources
// carry no registry of their own; internal/flowengine.Translate turns a
// Workflow into an AgentFlow, and no loader here calls it — spec.md's Non-goals
// note explicitly allows treating AgentFlow as the one Flow Engine
// surface.

type (
	AgentRegistry   = Registry[*aoftypes.Agent]
	FlowRegistry    = Registry[*aoftypes.AgentFlow]
	FleetRegistry   = Registry[*aoftypes.AgentFleet]
	TriggerRegistry = Registry[*aoftypes.Trigger]
	ContextRegistry = Registry[*aoftypes.Context]
	BindingRegistry = Registry[*aoftypes.FlowBinding]
)

func NewAgentRegistry() *AgentRegistry {
	return New(func() *aoftypes.Agent { return new(aoftypes.Agent) })
}

func NewFlowRegistry() *FlowRegistry {
	return New(func() *aoftypes.AgentFlow { return new(aoftypes.AgentFlow) })
}

func NewFleetRegistry() *FleetRegistry {
	return New(func() *aoftypes.AgentFleet { return new(aoftypes.AgentFleet) })
}

func NewTriggerRegistry() *TriggerRegistry {
	return New(func() *aoftypes.Trigger { return new(aoftypes.Trigger) })
}

func NewContextRegistry() *ContextRegistry {
	return New(func() *aoftypes.Context { return new(aoftypes.Context) })
}

func NewBindingRegistry() *BindingRegistry {
	return New(func() *aoftypes.FlowBinding { return new(aoftypes.FlowBinding) })
}

// TargetResolver adapts Agent/Flow/Fleet registries to
// triggerrouter.TargetResolver without that package importing this one.
type TargetResolver struct {
	Agents *AgentRegistry
	Flows  *FlowRegistry
	Fleets *FleetRegistry
}

func (t TargetResolver) ResolveTarget(kind aoftypes.TargetKind, name string) bool {
	switch kind {
	case aoftypes.TargetAgent:
		return t.Agents != nil && t.Agents.Exists(name)
	case aoftypes.TargetFlow:
		return t.Flows != nil && t.Flows.Exists(name)
	case aoftypes.TargetFleet:
		return t.Fleets != nil && t.Fleets.Exists(name)
	default:
		return false
	}
}
