package flowengine

import (
	"fmt"

	"github.com/agenticdevops/aof/internal/aoftypes"
)

// Translate converts a step-based Workflow into the node/connection graph
// Engine actually runs. Workflow carries no registry of its own and the
// registry loaders do not call Translate; a caller converts a Workflow here
// rather than keeping a second execution path alongside AgentFlow. The mapping is lossy in a few
// places, called out below and in the design ledger: OnError branches
// collapse to a single flow-level error handler, terminal step status
// (failed/cancelled) collapses to AgentFlow's single completed End
// semantics, and fixed/linear backoff strategies are approximated into
// AgentFlow's pure-exponential retry multiplier.
func Translate(w *aoftypes.Workflow) (*aoftypes.AgentFlow, error) {
	if w == nil {
		return nil, fmt.Errorf("flowengine: nil workflow")
	}

	flow := &aoftypes.AgentFlow{
		APIVersionField: w.APIVersionField,
		KindField:       "AgentFlow",
		MetadataField:   w.MetadataField,
		Spec: aoftypes.AgentFlowSpec{
			Trigger:  aoftypes.FlowTrigger{Type: aoftypes.TriggerManual},
			Reducers: w.Spec.Reducers,
			Config: &aoftypes.FlowConfig{
				ErrorHandler:  fallbackErrorHandler(w.Spec),
				Retry:         translateRetry(w.Spec.Retry),
				Checkpointing: w.Spec.Checkpointing,
				Recovery:      w.Spec.Recovery,
			},
		},
	}

	for _, step := range w.Spec.Steps {
		nodes, conns, err := translateStep(step)
		if err != nil {
			return nil, fmt.Errorf("flowengine: translate step %q: %w", step.Name, err)
		}
		flow.Spec.Nodes = append(flow.Spec.Nodes, nodes...)
		flow.Spec.Connections = append(flow.Spec.Connections, conns...)
	}

	moveToFront(flow, w.Spec.Entrypoint)
	return flow, nil
}

func fallbackErrorHandler(spec aoftypes.WorkflowSpec) string {
	if spec.ErrorHandler != "" {
		return spec.ErrorHandler
	}
	for _, s := range spec.Steps {
		if len(s.OnError) > 0 {
			return s.OnError[0].Target
		}
	}
	return ""
}

// translateRetry approximates a Workflow's named backoff strategy into
// AgentFlow's pure-exponential multiplier: fixed holds delay flat
// (multiplier 1), linear grows it by half each attempt, and exponential
// (or anything unset) keeps the usual doubling.
func translateRetry(r *aoftypes.WorkflowRetryConfig) *aoftypes.FlowRetryConfig {
	if r == nil {
		return nil
	}
	multiplier := 2.0
	switch r.Backoff {
	case aoftypes.BackoffFixed:
		multiplier = 1.0
	case aoftypes.BackoffLinear:
		multiplier = 1.5
	}
	return &aoftypes.FlowRetryConfig{
		MaxAttempts:       r.MaxAttempts,
		InitialDelay:      r.InitialDelay,
		BackoffMultiplier: multiplier,
	}
}

func translateStep(step aoftypes.WorkflowStep) ([]aoftypes.FlowNode, []aoftypes.FlowConnection, error) {
	switch step.Type {
	case aoftypes.StepParallel:
		return translateParallelStep(step)
	case aoftypes.StepJoin:
		node := aoftypes.FlowNode{ID: step.Name, Type: aoftypes.NodeJoin}
		if step.Join != nil {
			node.Config.Strategy = step.Join.Strategy
			node.Config.TimeoutSeconds = seconds(step.Join.Timeout)
		}
		return []aoftypes.FlowNode{node}, nextConnections(step), nil
	case aoftypes.StepApproval:
		node := aoftypes.FlowNode{ID: step.Name, Type: aoftypes.NodeApproval}
		if step.Interrupt != nil {
			node.Config.Message = step.Interrupt.Prompt
		}
		return []aoftypes.FlowNode{node}, nextConnections(step), nil
	case aoftypes.StepValidation:
		node := aoftypes.FlowNode{ID: step.Name, Type: aoftypes.NodeTransform, Config: aoftypes.NodeConfig{Script: validationScript(step)}}
		return []aoftypes.FlowNode{node}, nextConnections(step), nil
	case aoftypes.StepTerminal:
		node := aoftypes.FlowNode{ID: step.Name, Type: aoftypes.NodeEnd}
		return []aoftypes.FlowNode{node}, nil, nil
	case aoftypes.StepAgent:
		fallthrough
	default:
		node := aoftypes.FlowNode{ID: step.Name, Type: aoftypes.NodeAgent, Config: aoftypes.NodeConfig{Agent: step.Agent, Input: "${input}"}}
		return []aoftypes.FlowNode{node}, nextConnections(step), nil
	}
}

// translateParallelStep expands a parallel step's branches into one linear
// chain of Agent nodes per branch, all converging on a synthesized Join
// node carrying the step's join strategy.
func translateParallelStep(step aoftypes.WorkflowStep) ([]aoftypes.FlowNode, []aoftypes.FlowConnection, error) {
	if len(step.Branches) == 0 {
		return nil, nil, fmt.Errorf("parallel step has no branches")
	}

	joinID := step.Name + "__join"
	parallel := aoftypes.FlowNode{ID: step.Name, Type: aoftypes.NodeParallel}

	var nodes []aoftypes.FlowNode
	var conns []aoftypes.FlowConnection

	for _, branch := range step.Branches {
		if len(branch.Steps) == 0 {
			continue
		}
		var prevID string
		for i, bs := range branch.Steps {
			id := fmt.Sprintf("%s/%s/%d", step.Name, branch.Name, i)
			nodes = append(nodes, aoftypes.FlowNode{
				ID: id, Type: aoftypes.NodeAgent,
				Config: aoftypes.NodeConfig{Agent: bs.Agent, Input: "${input}"},
			})
			if prevID != "" {
				conns = append(conns, aoftypes.FlowConnection{From: prevID, To: id})
			}
			prevID = id
		}
		parallel.Config.Branches = append(parallel.Config.Branches, fmt.Sprintf("%s/%s/0", step.Name, branch.Name))
		conns = append(conns, aoftypes.FlowConnection{From: prevID, To: joinID})
	}

	join := aoftypes.FlowNode{ID: joinID, Type: aoftypes.NodeJoin}
	if step.Join != nil {
		join.Config.Strategy = step.Join.Strategy
		join.Config.TimeoutSeconds = seconds(step.Join.Timeout)
	}

	conns = append(conns, nextConnections(overrideName(step, joinID))...)
	nodes = append([]aoftypes.FlowNode{parallel}, append(nodes, join)...)
	return nodes, conns, nil
}

func overrideName(step aoftypes.WorkflowStep, name string) aoftypes.WorkflowStep {
	step.Name = name
	return step
}

func nextConnections(step aoftypes.WorkflowStep) []aoftypes.FlowConnection {
	if step.Next == nil {
		return nil
	}
	if step.Next.Simple != "" {
		return []aoftypes.FlowConnection{{From: step.Name, To: step.Next.Simple}}
	}
	conns := make([]aoftypes.FlowConnection, 0, len(step.Next.Conditional))
	for _, c := range step.Next.Conditional {
		conns = append(conns, aoftypes.FlowConnection{From: step.Name, To: c.Target, When: c.Condition})
	}
	return conns
}

func validationScript(step aoftypes.WorkflowStep) string {
	for _, rule := range step.Validation {
		if rule.Script != "" {
			return rule.Script
		}
	}
	return "true"
}

func seconds(duration string) int {
	d, err := parseWaitDuration(duration)
	if err != nil || d <= 0 {
		return 0
	}
	return int(d.Seconds())
}

func moveToFront(flow *aoftypes.AgentFlow, entrypoint string) {
	for i, n := range flow.Spec.Nodes {
		if n.ID == entrypoint {
			if i != 0 {
				flow.Spec.Nodes[0], flow.Spec.Nodes[i] = flow.Spec.Nodes[i], flow.Spec.Nodes[0]
			}
			return
		}
	}
}
