package aoftypes

import (
	"encoding/json"
	"fmt"
)

// AgentFlow is the event-driven graph resource: triggers feed a node/edge
// graph of Transform/Agent/Conditional/Parallel/Join/Wait/HTTP/Approval/End
// nodes. Grounded on original_source crates/aof-core/src/agentflow.rs.
type AgentFlow struct {
	APIVersionField string        `yaml:"apiVersion" json:"apiVersion"`
	KindField       string        `yaml:"kind" json:"kind"`
	MetadataField   Metadata      `yaml:"metadata" json:"metadata"`
	Spec            AgentFlowSpec `yaml:"spec" json:"spec"`
}

func (f *AgentFlow) Kind() string         { return "AgentFlow" }
func (f *AgentFlow) GetMetadata() Metadata { return f.MetadataField }

// Validate checks the structural invariants of an AgentFlow resource: every
// node id is unique and every connection references a declared node.
func (f *AgentFlow) Validate() error {
	if f.MetadataField.Name == "" {
		return fmt.Errorf("agentflow: metadata.name is required")
	}
	if len(f.Spec.Nodes) == 0 {
		return fmt.Errorf("agentflow %q: spec.nodes must not be empty", f.MetadataField.Name)
	}
	ids := make(map[string]bool, len(f.Spec.Nodes))
	for _, n := range f.Spec.Nodes {
		if n.ID == "" {
			return fmt.Errorf("agentflow %q: node id is required", f.MetadataField.Name)
		}
		if ids[n.ID] {
			return fmt.Errorf("agentflow %q: duplicate node id %q", f.MetadataField.Name, n.ID)
		}
		ids[n.ID] = true
	}
	ids["trigger"] = true
	for _, c := range f.Spec.Connections {
		if !ids[c.From] {
			return fmt.Errorf("agentflow %q: connection references unknown node %q", f.MetadataField.Name, c.From)
		}
		if !ids[c.To] {
			return fmt.Errorf("agentflow %q: connection references unknown node %q", f.MetadataField.Name, c.To)
		}
	}
	return nil
}

// AgentFlowSpec is the spec block of an AgentFlow resource.
type AgentFlowSpec struct {
	Trigger     FlowTrigger      `yaml:"trigger" json:"trigger"`
	Nodes       []FlowNode       `yaml:"nodes" json:"nodes"`
	Connections []FlowConnection `yaml:"connections,omitempty" json:"connections,omitempty"`
	Triggers    []FlowTrigger    `yaml:"triggers,omitempty" json:"triggers,omitempty"`
	Context     *FlowContext     `yaml:"context,omitempty" json:"context,omitempty"`
	Config      *FlowConfig      `yaml:"config,omitempty" json:"config,omitempty"`
	Reducers    map[string]StateReducer `yaml:"reducers,omitempty" json:"reducers,omitempty"`
}

// FlowContext carries environment and runtime configuration into node
// execution, distinct from the standalone Context resource: this one is
// inlined on the flow rather than referenced by name.
type FlowContext struct {
	Kubeconfig string            `yaml:"kubeconfig,omitempty" json:"kubeconfig,omitempty"`
	Namespace  string            `yaml:"namespace,omitempty" json:"namespace,omitempty"`
	Cluster    string            `yaml:"cluster,omitempty" json:"cluster,omitempty"`
	Env        map[string]string `yaml:"env,omitempty" json:"env,omitempty"`
	WorkingDir string            `yaml:"working_dir,omitempty" json:"working_dir,omitempty"`
}

// TriggerType is the event source that can start a flow.
type TriggerType string

const (
	TriggerSlack    TriggerType = "Slack"
	TriggerDiscord  TriggerType = "Discord"
	TriggerTelegram TriggerType = "Telegram"
	TriggerWhatsApp TriggerType = "WhatsApp"
	TriggerHTTP     TriggerType = "HTTP"
	TriggerSchedule TriggerType = "Schedule"
	TriggerManual   TriggerType = "Manual"
)

// FlowTrigger names what starts a flow and how.
type FlowTrigger struct {
	Type   TriggerType         `yaml:"type" json:"type"`
	Config FlowTriggerConfig `yaml:"config,omitempty" json:"config,omitempty"`
}

// FlowTriggerConfig is the union of per-trigger-type fields; unused fields
// stay zero for a given trigger type.
type FlowTriggerConfig struct {
	Events        []string `yaml:"events,omitempty" json:"events,omitempty"`
	Channels      []string `yaml:"channels,omitempty" json:"channels,omitempty"`
	Users         []string `yaml:"users,omitempty" json:"users,omitempty"`
	Patterns      []string `yaml:"patterns,omitempty" json:"patterns,omitempty"`
	BotToken      string   `yaml:"bot_token,omitempty" json:"bot_token,omitempty"`
	SigningSecret string   `yaml:"signing_secret,omitempty" json:"signing_secret,omitempty"`
	Cron          string   `yaml:"cron,omitempty" json:"cron,omitempty"`
	Timezone      string   `yaml:"timezone,omitempty" json:"timezone,omitempty"`
	Method        string   `yaml:"method,omitempty" json:"method,omitempty"`
	Path          string   `yaml:"path,omitempty" json:"path,omitempty"`
}

// NodeType is the kind of work a FlowNode performs.
type NodeType string

const (
	NodeTransform   NodeType = "Transform"
	NodeAgent       NodeType = "Agent"
	NodeConditional NodeType = "Conditional"
	NodeSlack       NodeType = "Slack"
	NodeDiscord     NodeType = "Discord"
	NodeHTTP        NodeType = "HTTP"
	NodeWait        NodeType = "Wait"
	NodeParallel    NodeType = "Parallel"
	NodeJoin        NodeType = "Join"
	NodeApproval    NodeType = "Approval"
	NodeEnd         NodeType = "End"
)

// FlowNode is one step in an AgentFlow graph.
type FlowNode struct {
	ID         string          `yaml:"id" json:"id"`
	Type       NodeType        `yaml:"type" json:"type"`
	Config     NodeConfig      `yaml:"config,omitempty" json:"config,omitempty"`
	Conditions []NodeCondition `yaml:"conditions,omitempty" json:"conditions,omitempty"`
}

// NodeConfig is the union of per-node-type fields.
type NodeConfig struct {
	// Transform
	Script string `yaml:"script,omitempty" json:"script,omitempty"`

	// Agent
	Agent       string            `yaml:"agent,omitempty" json:"agent,omitempty"`
	AgentConfig string            `yaml:"agent_config,omitempty" json:"agent_config,omitempty"`
	Input       string            `yaml:"input,omitempty" json:"input,omitempty"`
	Context     map[string]string `yaml:"context,omitempty" json:"context,omitempty"`

	// Conditional
	Condition string `yaml:"condition,omitempty" json:"condition,omitempty"`

	// Slack/Discord messaging
	Channel         string          `yaml:"channel,omitempty" json:"channel,omitempty"`
	Message         string          `yaml:"message,omitempty" json:"message,omitempty"`
	ThreadTS        string          `yaml:"thread_ts,omitempty" json:"thread_ts,omitempty"`
	WaitForReaction bool            `yaml:"wait_for_reaction" json:"wait_for_reaction"`
	TimeoutSeconds  int             `yaml:"timeout_seconds,omitempty" json:"timeout_seconds,omitempty"`
	Blocks          json.RawMessage `yaml:"blocks,omitempty" json:"blocks,omitempty"`

	// HTTP
	URL     string            `yaml:"url,omitempty" json:"url,omitempty"`
	Method  string            `yaml:"method,omitempty" json:"method,omitempty"`
	Headers map[string]string `yaml:"headers,omitempty" json:"headers,omitempty"`
	Body    json.RawMessage   `yaml:"body,omitempty" json:"body,omitempty"`

	// Wait
	Duration string `yaml:"duration,omitempty" json:"duration,omitempty"`

	// Parallel
	Branches []string `yaml:"branches,omitempty" json:"branches,omitempty"`

	// Join
	Strategy JoinStrategy `yaml:"strategy,omitempty" json:"strategy,omitempty"`
}

// NodeCondition gates a node's execution on the output of another node.
type NodeCondition struct {
	From     string          `yaml:"from" json:"from"`
	Value    json.RawMessage `yaml:"value,omitempty" json:"value,omitempty"`
	Reaction string          `yaml:"reaction,omitempty" json:"reaction,omitempty"`
}

// FlowConnection is one edge in an AgentFlow graph. When is an optional
// boolean expression; a connection with no When is unconditional.
type FlowConnection struct {
	From string `yaml:"from" json:"from"`
	To   string `yaml:"to" json:"to"`
	When string `yaml:"when,omitempty" json:"when,omitempty"`
}

// FlowConfig is global configuration applied across a flow's nodes.
type FlowConfig struct {
	DefaultTimeoutSeconds int               `yaml:"default_timeout_seconds,omitempty" json:"default_timeout_seconds,omitempty"`
	Retry                 *FlowRetryConfig  `yaml:"retry,omitempty" json:"retry,omitempty"`
	ErrorHandler          string            `yaml:"error_handler,omitempty" json:"error_handler,omitempty"`
	Verbose               bool              `yaml:"verbose" json:"verbose"`
	Checkpointing         *CheckpointConfig `yaml:"checkpointing,omitempty" json:"checkpointing,omitempty"`
	Recovery              *RecoveryConfig   `yaml:"recovery,omitempty" json:"recovery,omitempty"`
}

// FlowRetryConfig is the per-node retry policy for an AgentFlow.
type FlowRetryConfig struct {
	MaxAttempts      int     `yaml:"max_attempts,omitempty" json:"max_attempts,omitempty"`
	InitialDelay     string  `yaml:"initial_delay,omitempty" json:"initial_delay,omitempty"`
	BackoffMultiplier float64 `yaml:"backoff_multiplier,omitempty" json:"backoff_multiplier,omitempty"`
}

// MaxAttemptsOrDefault returns the retry ceiling, defaulting to 3.
func (r *FlowRetryConfig) MaxAttemptsOrDefault() int {
	if r == nil || r.MaxAttempts <= 0 {
		return 3
	}
	return r.MaxAttempts
}

// BackoffMultiplierOrDefault returns the exponential multiplier, defaulting to 2.0.
func (r *FlowRetryConfig) BackoffMultiplierOrDefault() float64 {
	if r == nil || r.BackoffMultiplier <= 0 {
		return 2.0
	}
	return r.BackoffMultiplier
}
