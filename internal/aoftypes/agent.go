package aoftypes

import (
	"encoding/json"
	"fmt"
)

// AgentSpec is the spec block of an Agent resource.
type AgentSpec struct {
	Model         string            `yaml:"model" json:"model" validate:"required"`
	Provider      string            `yaml:"provider,omitempty" json:"provider,omitempty"`
	SystemPrompt  string            `yaml:"system_prompt,omitempty" json:"system_prompt,omitempty"`
	Tools         []ToolSpec        `yaml:"tools,omitempty" json:"tools,omitempty"`
	MCPServers    []McpServerConfig `yaml:"mcp_servers,omitempty" json:"mcp_servers,omitempty"`
	Memory        *MemoryConfig     `yaml:"memory,omitempty" json:"memory,omitempty"`
	OutputSchema  json.RawMessage   `yaml:"output_schema,omitempty" json:"output_schema,omitempty"`
	MaxIterations int               `yaml:"max_iterations,omitempty" json:"max_iterations,omitempty"`
}

// MemoryConfig configures an Agent's Memory Store binding.
type MemoryConfig struct {
	Backend    string `yaml:"backend,omitempty" json:"backend,omitempty"` // memory|file
	Path       string `yaml:"path,omitempty" json:"path,omitempty"`
	MaxEntries int    `yaml:"max_entries,omitempty" json:"max_entries,omitempty"`
}

// Agent is the declarative Agent resource (spec.md §3 "Agent config").
type Agent struct {
	APIVersionField string    `yaml:"apiVersion" json:"apiVersion"`
	KindField       string    `yaml:"kind" json:"kind"`
	MetadataField   Metadata  `yaml:"metadata" json:"metadata"`
	Spec            AgentSpec `yaml:"spec" json:"spec"`
}

func (a *Agent) Kind() string          { return "Agent" }
func (a *Agent) GetMetadata() Metadata { return a.MetadataField }
func (a *Agent) MaxIterationsOrDefault() int {
	if a.Spec.MaxIterations <= 0 {
		return 25
	}
	return a.Spec.MaxIterations
}

// Validate checks the structural invariants of an Agent resource: a
// struct-tag pass over the required scalar fields of its metadata and
// spec. It runs no cross-field checks.
func (a *Agent) Validate() error {
	if err := validateTags(a.MetadataField); err != nil {
		return fmt.Errorf("agent: %w", err)
	}
	if err := validateTags(a.Spec); err != nil {
		return fmt.Errorf("agent %q: %w", a.MetadataField.Name, err)
	}
	return nil
}
