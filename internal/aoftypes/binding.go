package aoftypes

import "fmt"

// MatchConfig narrows and scores which inbound events a FlowBinding accepts.
// Grounded on original_source crates/aof-triggers/src/flow/binding_router.rs.
type MatchConfig struct {
	Patterns         []string `yaml:"patterns,omitempty" json:"patterns,omitempty"`
	Channels         []string `yaml:"channels,omitempty" json:"channels,omitempty"`
	Users            []string `yaml:"users,omitempty" json:"users,omitempty"`
	Events           []string `yaml:"events,omitempty" json:"events,omitempty"`
	RequiredKeywords []string `yaml:"required_keywords,omitempty" json:"required_keywords,omitempty"`
	ExcludedKeywords []string `yaml:"excluded_keywords,omitempty" json:"excluded_keywords,omitempty"`
	Priority         int      `yaml:"priority,omitempty" json:"priority,omitempty"`
}

// FlowBindingSpec is the spec block of a FlowBinding resource: it composes
// a Trigger, an optional Context, and a Flow/Agent/Fleet target.
type FlowBindingSpec struct {
	Trigger string      `yaml:"trigger" json:"trigger"`
	Context string      `yaml:"context,omitempty" json:"context,omitempty"`
	Flow    string      `yaml:"flow,omitempty" json:"flow,omitempty"`
	Agent   string       `yaml:"agent,omitempty" json:"agent,omitempty"`
	Fleet   string       `yaml:"fleet,omitempty" json:"fleet,omitempty"`
	Enabled bool        `yaml:"enabled" json:"enabled"`
	Match   MatchConfig `yaml:"match,omitempty" json:"match,omitempty"`
}

// Target returns the single configured destination of this binding and its
// kind. Exactly one of Flow/Agent/Fleet is expected to be set.
func (s FlowBindingSpec) Target() (TargetKind, string, bool) {
	switch {
	case s.Flow != "":
		return TargetFlow, s.Flow, true
	case s.Agent != "":
		return TargetAgent, s.Agent, true
	case s.Fleet != "":
		return TargetFleet, s.Fleet, true
	default:
		return "", "", false
	}
}

// FlowBinding is the declarative Trigger→Context→target routing resource.
type FlowBinding struct {
	APIVersionField string          `yaml:"apiVersion" json:"apiVersion"`
	KindField       string          `yaml:"kind" json:"kind"`
	MetadataField   Metadata        `yaml:"metadata" json:"metadata"`
	Spec            FlowBindingSpec `yaml:"spec" json:"spec"`
}

func (b *FlowBinding) Kind() string         { return "FlowBinding" }
func (b *FlowBinding) GetMetadata() Metadata { return b.MetadataField }

// Validate checks the structural invariants of a FlowBinding resource.
func (b *FlowBinding) Validate() error {
	if b.MetadataField.Name == "" {
		return fmt.Errorf("flowbinding: metadata.name is required")
	}
	if b.Spec.Trigger == "" {
		return fmt.Errorf("flowbinding %q: spec.trigger is required", b.MetadataField.Name)
	}
	set := 0
	for _, t := range []string{b.Spec.Flow, b.Spec.Agent, b.Spec.Fleet} {
		if t != "" {
			set++
		}
	}
	if set != 1 {
		return fmt.Errorf("flowbinding %q: exactly one of spec.flow, spec.agent, spec.fleet is required", b.MetadataField.Name)
	}
	return nil
}
