package aoftypes

import (
	"encoding/json"
	"fmt"
)

// Workflow is the step-based graph resource: a simpler surface over the
// same Flow Engine core that AgentFlow's node/connection graph drives.
// Grounded on original_source aof/crates/aof-core/src/workflow.rs.
type Workflow struct {
	APIVersionField string       `yaml:"apiVersion" json:"apiVersion"`
	KindField       string       `yaml:"kind" json:"kind"`
	MetadataField   Metadata     `yaml:"metadata" json:"metadata"`
	Spec            WorkflowSpec `yaml:"spec" json:"spec"`
}

func (w *Workflow) Kind() string         { return "Workflow" }
func (w *Workflow) GetMetadata() Metadata { return w.MetadataField }

// Validate checks the structural invariants of a Workflow resource.
func (w *Workflow) Validate() error {
	if w.MetadataField.Name == "" {
		return fmt.Errorf("workflow: metadata.name is required")
	}
	if w.Spec.Entrypoint == "" {
		return fmt.Errorf("workflow %q: spec.entrypoint is required", w.MetadataField.Name)
	}
	seen := make(map[string]bool, len(w.Spec.Steps))
	for _, s := range w.Spec.Steps {
		if s.Name == "" {
			return fmt.Errorf("workflow %q: step name is required", w.MetadataField.Name)
		}
		if seen[s.Name] {
			return fmt.Errorf("workflow %q: duplicate step %q", w.MetadataField.Name, s.Name)
		}
		seen[s.Name] = true
	}
	if !seen[w.Spec.Entrypoint] {
		return fmt.Errorf("workflow %q: entrypoint %q is not a declared step", w.MetadataField.Name, w.Spec.Entrypoint)
	}
	return nil
}

// WorkflowSpec is the spec block of a Workflow resource.
type WorkflowSpec struct {
	State         *StateSchema          `yaml:"state,omitempty" json:"state,omitempty"`
	Entrypoint    string                `yaml:"entrypoint" json:"entrypoint"`
	Steps         []WorkflowStep        `yaml:"steps" json:"steps"`
	Reducers      map[string]StateReducer `yaml:"reducers,omitempty" json:"reducers,omitempty"`
	ErrorHandler  string                `yaml:"error_handler,omitempty" json:"error_handler,omitempty"`
	Retry         *WorkflowRetryConfig      `yaml:"retry,omitempty" json:"retry,omitempty"`
	Checkpointing *CheckpointConfig     `yaml:"checkpointing,omitempty" json:"checkpointing,omitempty"`
	Recovery      *RecoveryConfig       `yaml:"recovery,omitempty" json:"recovery,omitempty"`
	Fleet         string                `yaml:"fleet,omitempty" json:"fleet,omitempty"`
}

// StateSchema is a JSON-Schema-shaped description of workflow state.
type StateSchema struct {
	Type       string                    `yaml:"type" json:"type"`
	Properties map[string]PropertySchema `yaml:"properties,omitempty" json:"properties,omitempty"`
	Required   []string                  `yaml:"required,omitempty" json:"required,omitempty"`
}

// PropertySchema describes one property within a StateSchema.
type PropertySchema struct {
	Type    string          `yaml:"type" json:"type"`
	Enum    []string        `yaml:"enum,omitempty" json:"enum,omitempty"`
	Items   *PropertySchema `yaml:"items,omitempty" json:"items,omitempty"`
	Default json.RawMessage `yaml:"default,omitempty" json:"default,omitempty"`
}

// ReducerType is how a named piece of state merges repeated writes.
type ReducerType string

const (
	ReducerAppend  ReducerType = "append"
	ReducerMerge   ReducerType = "merge"
	ReducerSum     ReducerType = "sum"
	ReducerReplace ReducerType = "replace"
)

// StateReducer names the merge strategy for one state key.
type StateReducer struct {
	Type ReducerType `yaml:"type" json:"type"`
}

// StepType is the kind of work a WorkflowStep performs.
type StepType string

const (
	StepAgent      StepType = "agent"
	StepApproval   StepType = "approval"
	StepValidation StepType = "validation"
	StepParallel   StepType = "parallel"
	StepJoin       StepType = "join"
	StepTerminal   StepType = "terminal"
)

// WorkflowStep is one node in a Workflow's step graph.
type WorkflowStep struct {
	Name       string             `yaml:"name" json:"name"`
	Type       StepType           `yaml:"type" json:"type"`
	Agent      string             `yaml:"agent,omitempty" json:"agent,omitempty"`
	Config     *StepConfig        `yaml:"config,omitempty" json:"config,omitempty"`
	Validation []ValidationRule   `yaml:"validation,omitempty" json:"validation,omitempty"`
	Next       *NextStep          `yaml:"next,omitempty" json:"next,omitempty"`
	Parallel   bool               `yaml:"parallel" json:"parallel"`
	Branches   []ParallelBranch   `yaml:"branches,omitempty" json:"branches,omitempty"`
	Join       *JoinConfig        `yaml:"join,omitempty" json:"join,omitempty"`
	OnError    []ConditionalNext  `yaml:"on_error,omitempty" json:"on_error,omitempty"`
	Interrupt  *InterruptConfig   `yaml:"interrupt,omitempty" json:"interrupt,omitempty"`
	Status     TerminalStatus     `yaml:"status,omitempty" json:"status,omitempty"`
	Timeout    string             `yaml:"timeout,omitempty" json:"timeout,omitempty"`
}

// StepConfig configures the behavior of approval/validation steps.
type StepConfig struct {
	Approvers        []Approver        `yaml:"approvers,omitempty" json:"approvers,omitempty"`
	Timeout          string            `yaml:"timeout,omitempty" json:"timeout,omitempty"`
	RequiredApprovals int              `yaml:"required_approvals,omitempty" json:"required_approvals,omitempty"`
	AutoApprove      *AutoApproveConfig `yaml:"auto_approve,omitempty" json:"auto_approve,omitempty"`
	Validators       []Validator       `yaml:"validators,omitempty" json:"validators,omitempty"`
	MaxRetries       int               `yaml:"max_retries,omitempty" json:"max_retries,omitempty"`
	OnFailure        string            `yaml:"on_failure,omitempty" json:"on_failure,omitempty"`
}

// Approver names one eligible approver, by role or by user.
type Approver struct {
	Role string `yaml:"role,omitempty" json:"role,omitempty"`
	User string `yaml:"user,omitempty" json:"user,omitempty"`
}

// AutoApproveConfig auto-grants an approval step when condition holds.
type AutoApproveConfig struct {
	Condition string `yaml:"condition" json:"condition"`
}

// ValidatorType selects how a Validator checks its input.
type ValidatorType string

const (
	ValidatorFunction ValidatorType = "function"
	ValidatorLLM      ValidatorType = "llm"
	ValidatorScript   ValidatorType = "script"
)

// Validator is one check run by a validation step.
type Validator struct {
	Type    ValidatorType   `yaml:"type" json:"type"`
	Name    string          `yaml:"name,omitempty" json:"name,omitempty"`
	Args    json.RawMessage `yaml:"args,omitempty" json:"args,omitempty"`
	Model   string          `yaml:"model,omitempty" json:"model,omitempty"`
	Prompt  string          `yaml:"prompt,omitempty" json:"prompt,omitempty"`
	Command string          `yaml:"command,omitempty" json:"command,omitempty"`
	Timeout string          `yaml:"timeout,omitempty" json:"timeout,omitempty"`
}

// ValidationRule is a lighter-weight validator attached directly to a step.
type ValidationRule struct {
	Type   ValidatorType `yaml:"type" json:"type"`
	Script string        `yaml:"script,omitempty" json:"script,omitempty"`
	Prompt string        `yaml:"prompt,omitempty" json:"prompt,omitempty"`
}

// NextStep is either a single target step name or a list of conditional
// targets evaluated in order; the first matching condition wins.
type NextStep struct {
	Simple      string
	Conditional []ConditionalNext
}

// UnmarshalYAML accepts either a bare string or a sequence of
// ConditionalNext entries, mirroring the untagged NextStep enum.
func (n *NextStep) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var simple string
	if err := unmarshal(&simple); err == nil {
		n.Simple = simple
		return nil
	}
	var conditional []ConditionalNext
	if err := unmarshal(&conditional); err != nil {
		return err
	}
	n.Conditional = conditional
	return nil
}

// ConditionalNext routes to Target when Condition evaluates true, or
// unconditionally when Condition is empty.
type ConditionalNext struct {
	Condition string `yaml:"condition,omitempty" json:"condition,omitempty"`
	Target    string `yaml:"target" json:"target"`
}

// ParallelBranch is one fork of a parallel step.
type ParallelBranch struct {
	Name  string      `yaml:"name" json:"name"`
	Steps []BranchStep `yaml:"steps" json:"steps"`
}

// BranchStep is one step within a ParallelBranch.
type BranchStep struct {
	Agent string `yaml:"agent,omitempty" json:"agent,omitempty"`
	Name  string `yaml:"name,omitempty" json:"name,omitempty"`
}

// JoinConfig configures how a join step waits on parallel branches.
type JoinConfig struct {
	Strategy JoinStrategy `yaml:"strategy" json:"strategy"`
	Timeout  string       `yaml:"timeout,omitempty" json:"timeout,omitempty"`
}

// JoinStrategy is how many completed branches a join step requires.
type JoinStrategy string

const (
	JoinAll      JoinStrategy = "all"
	JoinAny      JoinStrategy = "any"
	JoinMajority JoinStrategy = "majority"
)

// InterruptType distinguishes a free-form input request from a yes/no gate.
type InterruptType string

const (
	InterruptInput   InterruptType = "input"
	InterruptConfirm InterruptType = "confirm"
)

// InterruptConfig pauses a step for human input.
type InterruptConfig struct {
	Type   InterruptType `yaml:"type" json:"type"`
	Prompt string        `yaml:"prompt,omitempty" json:"prompt,omitempty"`
	Schema *StateSchema  `yaml:"schema,omitempty" json:"schema,omitempty"`
}

// TerminalStatus is the outcome recorded by a terminal step.
type TerminalStatus string

const (
	TerminalCompleted TerminalStatus = "completed"
	TerminalFailed    TerminalStatus = "failed"
	TerminalCancelled TerminalStatus = "cancelled"
)

// BackoffStrategy is the delay curve used between step retries.
type BackoffStrategy string

const (
	BackoffFixed       BackoffStrategy = "fixed"
	BackoffLinear      BackoffStrategy = "linear"
	BackoffExponential BackoffStrategy = "exponential"
)

// WorkflowRetryConfig is the retry policy attached to a Workflow.
type WorkflowRetryConfig struct {
	MaxAttempts  int             `yaml:"max_attempts,omitempty" json:"max_attempts,omitempty"`
	Backoff      BackoffStrategy `yaml:"backoff,omitempty" json:"backoff,omitempty"`
	InitialDelay string          `yaml:"initial_delay,omitempty" json:"initial_delay,omitempty"`
	MaxDelay     string          `yaml:"max_delay,omitempty" json:"max_delay,omitempty"`
}

// MaxAttemptsOrDefault returns the configured retry ceiling, defaulting to 3.
func (r *WorkflowRetryConfig) MaxAttemptsOrDefault() int {
	if r == nil || r.MaxAttempts <= 0 {
		return 3
	}
	return r.MaxAttempts
}

// CheckpointBackend is where run state snapshots are persisted.
type CheckpointBackend string

const (
	CheckpointFile     CheckpointBackend = "file"
	CheckpointRedis    CheckpointBackend = "redis"
	CheckpointPostgres CheckpointBackend = "postgres"
)

// CheckpointFrequency is when a run snapshot is taken.
type CheckpointFrequency string

const (
	CheckpointOnStep   CheckpointFrequency = "step"
	CheckpointOnChange CheckpointFrequency = "change"
	CheckpointInterval CheckpointFrequency = "interval"
)

// CheckpointConfig controls run-state persistence for resumable flows.
type CheckpointConfig struct {
	Enabled   bool                `yaml:"enabled" json:"enabled"`
	Backend   CheckpointBackend   `yaml:"backend,omitempty" json:"backend,omitempty"`
	Path      string              `yaml:"path,omitempty" json:"path,omitempty"`
	URL       string              `yaml:"url,omitempty" json:"url,omitempty"`
	Frequency CheckpointFrequency `yaml:"frequency,omitempty" json:"frequency,omitempty"`
	History   int                 `yaml:"history,omitempty" json:"history,omitempty"`
}

// HistoryOrDefault returns how many checkpoints to retain, defaulting to 10.
func (c *CheckpointConfig) HistoryOrDefault() int {
	if c == nil || c.History <= 0 {
		return 10
	}
	return c.History
}

// RecoveryConfig controls resume-after-failure behavior.
type RecoveryConfig struct {
	AutoResume    bool `yaml:"auto_resume" json:"auto_resume"`
	SkipCompleted bool `yaml:"skip_completed" json:"skip_completed"`
}
