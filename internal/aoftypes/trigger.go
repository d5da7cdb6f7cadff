package aoftypes

import "fmt"

// TargetKind names what a CommandBinding or FlowBinding ultimately routes to.
type TargetKind string

const (
	TargetAgent TargetKind = "agent"
	TargetFleet TargetKind = "fleet"
	TargetFlow  TargetKind = "flow"
)

// CommandTarget names the resource a CommandBinding resolves to.
type CommandTarget struct {
	Kind TargetKind `yaml:"kind" json:"kind"`
	Name string     `yaml:"name" json:"name"`
}

// CommandBinding maps a literal slash-command-style pattern straight to a
// target, bypassing match-score routing.
type CommandBinding struct {
	Pattern  string        `yaml:"pattern" json:"pattern"`
	Target   CommandTarget `yaml:"target" json:"target"`
	Priority int           `yaml:"priority,omitempty" json:"priority,omitempty"`
}

// TriggerFilters narrows which inbound events a Trigger considers.
type TriggerFilters struct {
	Channels         []string `yaml:"channels,omitempty" json:"channels,omitempty"`
	Users            []string `yaml:"users,omitempty" json:"users,omitempty"`
	Patterns         []string `yaml:"patterns,omitempty" json:"patterns,omitempty"`
	RequiredKeywords []string `yaml:"required_keywords,omitempty" json:"required_keywords,omitempty"`
	ExcludedKeywords []string `yaml:"excluded_keywords,omitempty" json:"excluded_keywords,omitempty"`
}

// TriggerScheduleSpec configures a "schedule"-platform Trigger: a cron
// expression (standard five-field, or six-field with optional leading
// seconds) evaluated in Timezone (when empty or unknown, in the location of
// the scheduler's clock, which is the local zone for time.Now).
type TriggerScheduleSpec struct {
	Cron     string `yaml:"cron" json:"cron" validate:"required"`
	Timezone string `yaml:"timezone,omitempty" json:"timezone,omitempty"`
}

// TriggerSpec is the spec block of a Trigger resource.
type TriggerSpec struct {
	Platform        string               `yaml:"platform" json:"platform" validate:"required"`
	Events          []string             `yaml:"events,omitempty" json:"events,omitempty"`
	Filters         TriggerFilters       `yaml:"filters,omitempty" json:"filters,omitempty"`
	Auth            map[string]string    `yaml:"auth,omitempty" json:"auth,omitempty"`
	CommandBindings []CommandBinding     `yaml:"command_bindings,omitempty" json:"command_bindings,omitempty"`
	Schedule        *TriggerScheduleSpec `yaml:"schedule,omitempty" json:"schedule,omitempty"`
}

// Trigger is the declarative inbound-event-source resource.
type Trigger struct {
	APIVersionField string      `yaml:"apiVersion" json:"apiVersion"`
	KindField       string      `yaml:"kind" json:"kind"`
	MetadataField   Metadata    `yaml:"metadata" json:"metadata"`
	Spec            TriggerSpec `yaml:"spec" json:"spec"`
}

func (t *Trigger) Kind() string          { return "Trigger" }
func (t *Trigger) GetMetadata() Metadata { return t.MetadataField }

// Validate checks the structural invariants of a Trigger resource: a
// struct-tag pass over the required scalar fields, then the
// platform-conditional check a tag can't express (schedule needs a cron
// expression, no other platform does).
func (t *Trigger) Validate() error {
	if err := validateTags(t.MetadataField); err != nil {
		return fmt.Errorf("trigger: %w", err)
	}
	if err := validateTags(t.Spec); err != nil {
		return fmt.Errorf("trigger %q: %w", t.MetadataField.Name, err)
	}
	if t.Spec.Platform == "schedule" && t.Spec.Schedule == nil {
		return fmt.Errorf("trigger %q: spec.schedule is required for platform \"schedule\"", t.MetadataField.Name)
	}
	return nil
}
