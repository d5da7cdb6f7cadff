package aoftypes

import (
	"fmt"
	"regexp"
	"strings"
)

// ContextSpec is the spec block of a Context resource: an execution
// environment boundary injected via FlowBinding or --context.
// Grounded on original_source crates/aof-core/src/context.rs.
type ContextSpec struct {
	Kubeconfig string            `yaml:"kubeconfig,omitempty" json:"kubeconfig,omitempty"`
	Namespace  string            `yaml:"namespace,omitempty" json:"namespace,omitempty"`
	Cluster    string            `yaml:"cluster,omitempty" json:"cluster,omitempty"`
	Env        map[string]string `yaml:"env,omitempty" json:"env,omitempty"`
	WorkingDir string            `yaml:"working_dir,omitempty" json:"working_dir,omitempty"`
	Approval   *ApprovalConfig   `yaml:"approval,omitempty" json:"approval,omitempty"`
	Audit      *AuditConfig      `yaml:"audit,omitempty" json:"audit,omitempty"`
	Limits     *LimitsConfig     `yaml:"limits,omitempty" json:"limits,omitempty"`
	Secrets    []SecretRef       `yaml:"secrets,omitempty" json:"secrets,omitempty"`
}

// ApprovalConfig gates destructive operations behind human sign-off.
type ApprovalConfig struct {
	Required          bool     `yaml:"required" json:"required"`
	AllowedUsers       []string `yaml:"allowed_users,omitempty" json:"allowed_users,omitempty"`
	TimeoutSeconds     int      `yaml:"timeout_seconds,omitempty" json:"timeout_seconds,omitempty"`
	RequireFor         []string `yaml:"require_for,omitempty" json:"require_for,omitempty"`
	AllowSelfApproval  bool     `yaml:"allow_self_approval" json:"allow_self_approval"`
	MinApprovers       int      `yaml:"min_approvers,omitempty" json:"min_approvers,omitempty"`
}

// TimeoutOrDefault returns the approval wait window, defaulting to 5 minutes.
func (a *ApprovalConfig) TimeoutOrDefault() int {
	if a.TimeoutSeconds <= 0 {
		return 300
	}
	return a.TimeoutSeconds
}

// MinApproversOrDefault returns the quorum size, defaulting to 1.
func (a *ApprovalConfig) MinApproversOrDefault() int {
	if a.MinApprovers <= 0 {
		return 1
	}
	return a.MinApprovers
}

// AuditEvent is a category of event an AuditConfig may record.
type AuditEvent string

const (
	AuditAgentStart        AuditEvent = "agent_start"
	AuditAgentComplete     AuditEvent = "agent_complete"
	AuditToolCall          AuditEvent = "tool_call"
	AuditApprovalRequested AuditEvent = "approval_requested"
	AuditApprovalGranted   AuditEvent = "approval_granted"
	AuditApprovalDenied    AuditEvent = "approval_denied"
	AuditErrorEvent        AuditEvent = "error"
	AuditAll               AuditEvent = "all"
)

// AuditConfig controls where and what a Context writes to its audit sink.
type AuditConfig struct {
	Enabled        bool         `yaml:"enabled" json:"enabled"`
	Sink           string       `yaml:"sink,omitempty" json:"sink,omitempty"`
	Events         []AuditEvent `yaml:"events,omitempty" json:"events,omitempty"`
	IncludePayload bool         `yaml:"include_payload" json:"include_payload"`
	Retention      string       `yaml:"retention,omitempty" json:"retention,omitempty"`
}

// LimitsConfig bounds resource consumption within a Context.
type LimitsConfig struct {
	MaxRequestsPerMinute  int     `yaml:"max_requests_per_minute,omitempty" json:"max_requests_per_minute,omitempty"`
	MaxTokensPerDay       int64   `yaml:"max_tokens_per_day,omitempty" json:"max_tokens_per_day,omitempty"`
	MaxConcurrent         int     `yaml:"max_concurrent,omitempty" json:"max_concurrent,omitempty"`
	MaxExecutionTimeSecs  int     `yaml:"max_execution_time_seconds,omitempty" json:"max_execution_time_seconds,omitempty"`
	MaxCostPerDay         float64 `yaml:"max_cost_per_day,omitempty" json:"max_cost_per_day,omitempty"`
}

// SecretRef points at an externally-managed credential.
type SecretRef struct {
	Name   string `yaml:"name" json:"name"`
	Key    string `yaml:"key,omitempty" json:"key,omitempty"`
	EnvVar string `yaml:"env_var,omitempty" json:"env_var,omitempty"`
}

// Context is the declarative execution-environment-boundary resource.
type Context struct {
	APIVersionField string      `yaml:"apiVersion" json:"apiVersion"`
	KindField       string      `yaml:"kind" json:"kind"`
	MetadataField   Metadata    `yaml:"metadata" json:"metadata"`
	Spec            ContextSpec `yaml:"spec" json:"spec"`
}

func (c *Context) Kind() string         { return "Context" }
func (c *Context) GetMetadata() Metadata { return c.MetadataField }

// Validate checks the structural invariants of a Context resource.
func (c *Context) Validate() error {
	if c.MetadataField.Name == "" {
		return fmt.Errorf("context: metadata.name is required")
	}
	if c.Spec.Approval != nil && c.Spec.Approval.MinApproversOrDefault() < 1 {
		return fmt.Errorf("context %q: approval.min_approvers must be at least 1", c.MetadataField.Name)
	}
	if c.Spec.Limits != nil && c.Spec.Limits.MaxConcurrent < 0 {
		return fmt.Errorf("context %q: limits.max_concurrent must not be negative", c.MetadataField.Name)
	}
	return nil
}

// GetEnvVars returns the Context's environment, augmented with the
// AOF_CONTEXT/AOF_NAMESPACE/AOF_CLUSTER identity vars every run sees.
func (c *Context) GetEnvVars() map[string]string {
	env := make(map[string]string, len(c.Spec.Env)+3)
	for k, v := range c.Spec.Env {
		env[k] = v
	}
	env["AOF_CONTEXT"] = c.MetadataField.Name
	if c.Spec.Namespace != "" {
		env["AOF_NAMESPACE"] = c.Spec.Namespace
	}
	if c.Spec.Cluster != "" {
		env["AOF_CLUSTER"] = c.Spec.Cluster
	}
	return env
}

// RequiresApproval reports whether command matches the Context's approval
// gate: nothing gates it if approval isn't required, everything gates it
// if required_for is empty, otherwise each pattern is tried as a regex and
// falls back to substring containment.
func (c *Context) RequiresApproval(command string) bool {
	a := c.Spec.Approval
	if a == nil || !a.Required {
		return false
	}
	if len(a.RequireFor) == 0 {
		return true
	}
	for _, pattern := range a.RequireFor {
		if re, err := regexp.Compile(pattern); err == nil {
			if re.MatchString(command) {
				return true
			}
			continue
		}
		if strings.Contains(command, pattern) {
			return true
		}
	}
	return false
}

// IsApprover reports whether userID may approve requests in this Context.
// Platform-prefixed entries ("slack:U123") match either direction.
func (c *Context) IsApprover(userID string) bool {
	a := c.Spec.Approval
	if a == nil || len(a.AllowedUsers) == 0 {
		return true
	}
	prefixes := []string{"slack:", "telegram:", "discord:"}
	for _, allowed := range a.AllowedUsers {
		if allowed == userID {
			return true
		}
		for _, p := range prefixes {
			if allowed == p+userID {
				return true
			}
			if strings.HasPrefix(userID, p) && strings.TrimPrefix(userID, p) == allowed {
				return true
			}
		}
	}
	return false
}
