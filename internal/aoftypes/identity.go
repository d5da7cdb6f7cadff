// Package aoftypes holds the wire types shared across the AOF runtime:
// the declarative resource kinds (Agent, AgentFlow, AgentFleet, Trigger,
// Context, FlowBinding, Workflow) and the runtime data model (Message,
// Tool, Task, ActivityEvent).
package aoftypes

// APIVersion is the only supported apiVersion for declarative resources.
const APIVersion = "aof.dev/v1"

// Metadata is the Kubernetes-style identity block every declarative
// resource carries. name is the primary key within its kind.
type Metadata struct {
	Name        string            `yaml:"name" json:"name" validate:"required"`
	Namespace   string            `yaml:"namespace,omitempty" json:"namespace,omitempty"`
	Labels      map[string]string `yaml:"labels,omitempty" json:"labels,omitempty"`
	Annotations map[string]string `yaml:"annotations,omitempty" json:"annotations,omitempty"`
}

// Resource is implemented by every declarative kind so registries can
// validate and key them uniformly.
type Resource interface {
	Kind() string
	GetMetadata() Metadata
	Validate() error
}
