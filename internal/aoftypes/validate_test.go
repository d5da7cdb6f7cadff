package aoftypes

import "testing"

func TestAgentValidateRequiresNameAndModel(t *testing.T) {
	if err := (&Agent{}).Validate(); err == nil {
		t.Fatal("expected error for missing name")
	}
	if err := (&Agent{MetadataField: Metadata{Name: "a"}}).Validate(); err == nil {
		t.Fatal("expected error for missing model")
	}
	ok := &Agent{MetadataField: Metadata{Name: "a"}, Spec: AgentSpec{Model: "claude-3"}}
	if err := ok.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestAgentFlowValidateCatchesDuplicateAndUnknownNodes(t *testing.T) {
	flow := &AgentFlow{
		MetadataField: Metadata{Name: "f"},
		Spec: AgentFlowSpec{
			Nodes: []FlowNode{{ID: "a"}, {ID: "a"}},
		},
	}
	if err := flow.Validate(); err == nil {
		t.Fatal("expected error for duplicate node id")
	}

	flow.Spec.Nodes = []FlowNode{{ID: "a"}, {ID: "b"}}
	flow.Spec.Connections = []FlowConnection{{From: "a", To: "missing"}}
	if err := flow.Validate(); err == nil {
		t.Fatal("expected error for connection to unknown node")
	}

	flow.Spec.Connections = []FlowConnection{{From: "a", To: "b"}}
	if err := flow.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestAgentFlowValidateAllowsImplicitTriggerNode(t *testing.T) {
	flow := &AgentFlow{
		MetadataField: Metadata{Name: "f"},
		Spec: AgentFlowSpec{
			Nodes:       []FlowNode{{ID: "start"}},
			Connections: []FlowConnection{{From: "trigger", To: "start"}},
		},
	}
	if err := flow.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestAgentFleetValidateRequiresAtLeastOneAgent(t *testing.T) {
	f := &AgentFleet{MetadataField: Metadata{Name: "fl"}}
	if err := f.Validate(); err == nil {
		t.Fatal("expected error for empty agents list")
	}
	f.Spec.Agents = []FleetAgentSpec{{Name: "worker-1"}}
	if err := f.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestTriggerValidateRequiresPlatform(t *testing.T) {
	tr := &Trigger{MetadataField: Metadata{Name: "t"}}
	if err := tr.Validate(); err == nil {
		t.Fatal("expected error for missing platform")
	}
	tr.Spec.Platform = "slack"
	if err := tr.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestTriggerValidateRequiresScheduleForSchedulePlatform(t *testing.T) {
	tr := &Trigger{MetadataField: Metadata{Name: "t"}, Spec: TriggerSpec{Platform: "schedule"}}
	if err := tr.Validate(); err == nil {
		t.Fatal("expected error for schedule platform missing spec.schedule")
	}

	tr.Spec.Schedule = &TriggerScheduleSpec{}
	if err := tr.Validate(); err == nil {
		t.Fatal("expected error for schedule missing cron expression")
	}

	tr.Spec.Schedule.Cron = "*/5 * * * *"
	if err := tr.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestFlowBindingValidateRequiresExactlyOneTarget(t *testing.T) {
	b := &FlowBinding{MetadataField: Metadata{Name: "b"}, Spec: FlowBindingSpec{Trigger: "t"}}
	if err := b.Validate(); err == nil {
		t.Fatal("expected error for no target set")
	}

	b.Spec.Agent = "assistant"
	if err := b.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	kind, name, ok := b.Spec.Target()
	if !ok || kind != TargetAgent || name != "assistant" {
		t.Fatalf("Target() = %v, %v, %v", kind, name, ok)
	}
}

func TestContextValidateRejectsBadApprovalAndLimits(t *testing.T) {
	c := &Context{
		MetadataField: Metadata{Name: "c"},
		Spec:          ContextSpec{Limits: &LimitsConfig{MaxConcurrent: -1}},
	}
	if err := c.Validate(); err == nil {
		t.Fatal("expected error for negative max_concurrent")
	}
}

func TestWorkflowValidateRequiresEntrypointAsDeclaredStep(t *testing.T) {
	w := &Workflow{MetadataField: Metadata{Name: "w"}, Spec: WorkflowSpec{Entrypoint: "missing"}}
	if err := w.Validate(); err == nil {
		t.Fatal("expected error for entrypoint not declared")
	}

	w.Spec.Steps = []WorkflowStep{{Name: "missing"}}
	if err := w.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestWorkflowValidateRejectsDuplicateStepNames(t *testing.T) {
	w := &Workflow{
		MetadataField: Metadata{Name: "w"},
		Spec: WorkflowSpec{
			Entrypoint: "s1",
			Steps:      []WorkflowStep{{Name: "s1"}, {Name: "s1"}},
		},
	}
	if err := w.Validate(); err == nil {
		t.Fatal("expected error for duplicate step name")
	}
}
