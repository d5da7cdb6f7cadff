package triggerrouter

import (
	"testing"

	"github.com/agenticdevops/aof/internal/aoftypes"
)

type fakeBindings struct{ items []*aoftypes.FlowBinding }

func (f fakeBindings) GetAll() []*aoftypes.FlowBinding { return f.items }

type fakeTriggers struct{ items map[string]*aoftypes.Trigger }

func (f fakeTriggers) Get(name string) (*aoftypes.Trigger, bool) {
	t, ok := f.items[name]
	return t, ok
}

type fakeContexts struct{ items map[string]*aoftypes.Context }

func (f fakeContexts) Get(name string) (*aoftypes.Context, bool) {
	c, ok := f.items[name]
	return c, ok
}

type alwaysResolves struct{}

func (alwaysResolves) ResolveTarget(kind aoftypes.TargetKind, name string) bool { return true }

func slackTrigger(name string, filters aoftypes.TriggerFilters) *aoftypes.Trigger {
	return &aoftypes.Trigger{
		MetadataField: aoftypes.Metadata{Name: name},
		Spec:          aoftypes.TriggerSpec{Platform: "slack", Filters: filters},
	}
}

func enabledBinding(name, trigger string, match aoftypes.MatchConfig) *aoftypes.FlowBinding {
	return &aoftypes.FlowBinding{
		MetadataField: aoftypes.Metadata{Name: name},
		Spec: aoftypes.FlowBindingSpec{
			Trigger: trigger,
			Flow:    "some-flow",
			Enabled: true,
			Match:   match,
		},
	}
}

func TestRouteNoMatchWhenPlatformDiffers(t *testing.T) {
	triggers := fakeTriggers{items: map[string]*aoftypes.Trigger{
		"t1": {MetadataField: aoftypes.Metadata{Name: "t1"}, Spec: aoftypes.TriggerSpec{Platform: "telegram"}},
	}}
	bindings := fakeBindings{items: []*aoftypes.FlowBinding{enabledBinding("b1", "t1", aoftypes.MatchConfig{})}}

	r := New(bindings, triggers, nil, alwaysResolves{})
	matches := r.Route("slack", Message{Channel: "C1", User: "U1", Text: "hello"})
	if len(matches) != 0 {
		t.Fatalf("expected no matches, got %d", len(matches))
	}
}

func TestRouteMatchesEmptyFiltersWithBaseScore(t *testing.T) {
	triggers := fakeTriggers{items: map[string]*aoftypes.Trigger{"t1": slackTrigger("t1", aoftypes.TriggerFilters{})}}
	bindings := fakeBindings{items: []*aoftypes.FlowBinding{enabledBinding("b1", "t1", aoftypes.MatchConfig{})}}

	r := New(bindings, triggers, nil, alwaysResolves{})
	matches := r.Route("slack", Message{Channel: "C1", User: "U1", Text: "anything"})
	if len(matches) != 1 {
		t.Fatalf("expected 1 match, got %d", len(matches))
	}
	if matches[0].Score != 20 {
		t.Fatalf("expected base score 10+10=20, got %d", matches[0].Score)
	}
}

func TestRouteSkipsDisabledBindings(t *testing.T) {
	triggers := fakeTriggers{items: map[string]*aoftypes.Trigger{"t1": slackTrigger("t1", aoftypes.TriggerFilters{})}}
	binding := enabledBinding("b1", "t1", aoftypes.MatchConfig{})
	binding.Spec.Enabled = false
	bindings := fakeBindings{items: []*aoftypes.FlowBinding{binding}}

	r := New(bindings, triggers, nil, alwaysResolves{})
	matches := r.Route("slack", Message{Text: "hi"})
	if len(matches) != 0 {
		t.Fatalf("expected disabled binding to be skipped, got %d matches", len(matches))
	}
}

func TestRouteRequiredKeywordsMustAllMatch(t *testing.T) {
	triggers := fakeTriggers{items: map[string]*aoftypes.Trigger{"t1": slackTrigger("t1", aoftypes.TriggerFilters{})}}
	bindings := fakeBindings{items: []*aoftypes.FlowBinding{
		enabledBinding("b1", "t1", aoftypes.MatchConfig{RequiredKeywords: []string{"pod", "restart"}}),
	}}

	r := New(bindings, triggers, nil, alwaysResolves{})

	if matches := r.Route("slack", Message{Text: "restart the pod please"}); len(matches) != 1 {
		t.Fatalf("expected match when both keywords present, got %d", len(matches))
	}
	if matches := r.Route("slack", Message{Text: "restart please"}); len(matches) != 0 {
		t.Fatalf("expected no match when one keyword missing, got %d", len(matches))
	}
}

func TestRouteExcludedKeywordsBlockMatch(t *testing.T) {
	triggers := fakeTriggers{items: map[string]*aoftypes.Trigger{"t1": slackTrigger("t1", aoftypes.TriggerFilters{})}}
	bindings := fakeBindings{items: []*aoftypes.FlowBinding{
		enabledBinding("b1", "t1", aoftypes.MatchConfig{ExcludedKeywords: []string{"delete"}}),
	}}

	r := New(bindings, triggers, nil, alwaysResolves{})
	matches := r.Route("slack", Message{Text: "please delete the pod"})
	if len(matches) != 0 {
		t.Fatalf("expected excluded keyword to block match, got %d matches", len(matches))
	}
}

func TestRouteBindingTieBreakByPriority(t *testing.T) {
	triggers := fakeTriggers{items: map[string]*aoftypes.Trigger{"t1": slackTrigger("t1", aoftypes.TriggerFilters{})}}
	low := enabledBinding("low", "t1", aoftypes.MatchConfig{})
	high := enabledBinding("high", "t1", aoftypes.MatchConfig{Priority: 100})
	bindings := fakeBindings{items: []*aoftypes.FlowBinding{low, high}}

	r := New(bindings, triggers, nil, alwaysResolves{})
	matches := r.Route("slack", Message{Text: "hi"})
	if len(matches) != 2 {
		t.Fatalf("expected 2 matches, got %d", len(matches))
	}
	if matches[0].Binding.MetadataField.Name != "high" {
		t.Fatalf("expected high-priority binding first, got %s", matches[0].Binding.MetadataField.Name)
	}
	if matches[0].Score-matches[1].Score != 100 {
		t.Fatalf("expected scores to differ by exactly 100, got %d vs %d", matches[0].Score, matches[1].Score)
	}
}

func TestRouteStableOrderOnEqualScore(t *testing.T) {
	triggers := fakeTriggers{items: map[string]*aoftypes.Trigger{"t1": slackTrigger("t1", aoftypes.TriggerFilters{})}}
	a := enabledBinding("a", "t1", aoftypes.MatchConfig{})
	b := enabledBinding("b", "t1", aoftypes.MatchConfig{})
	bindings := fakeBindings{items: []*aoftypes.FlowBinding{a, b}}

	r := New(bindings, triggers, nil, alwaysResolves{})
	matches := r.Route("slack", Message{Text: "hi"})
	if len(matches) != 2 || matches[0].Binding.MetadataField.Name != "a" {
		t.Fatalf("expected declaration order preserved on tie, got %+v", matches)
	}
}

func TestRouteResolvesContextAndApproval(t *testing.T) {
	triggers := fakeTriggers{items: map[string]*aoftypes.Trigger{"t1": slackTrigger("t1", aoftypes.TriggerFilters{})}}
	binding := enabledBinding("b1", "t1", aoftypes.MatchConfig{})
	binding.Spec.Context = "prod"
	bindings := fakeBindings{items: []*aoftypes.FlowBinding{binding}}
	contexts := fakeContexts{items: map[string]*aoftypes.Context{
		"prod": {
			MetadataField: aoftypes.Metadata{Name: "prod"},
			Spec: aoftypes.ContextSpec{
				Approval: &aoftypes.ApprovalConfig{Required: true, AllowedUsers: []string{"U1"}},
			},
		},
	}}

	r := New(bindings, triggers, contexts, alwaysResolves{})
	matches := r.Route("slack", Message{Text: "kubectl delete pod"})
	if len(matches) != 1 {
		t.Fatalf("expected 1 match, got %d", len(matches))
	}

	rec := matches[0].Resolve(Message{Text: "kubectl delete pod"})
	if !rec.RequiresApproval {
		t.Fatal("expected requires_approval true")
	}
	if rec.ContextName != "prod" {
		t.Fatalf("expected context name prod, got %q", rec.ContextName)
	}
	if !matches[0].CanApprove("U1") {
		t.Fatal("expected U1 to be an approver")
	}
	if matches[0].CanApprove("U2") {
		t.Fatal("expected U2 to not be an approver")
	}
}

func TestRouteSkipsBindingWithUnresolvedTarget(t *testing.T) {
	triggers := fakeTriggers{items: map[string]*aoftypes.Trigger{"t1": slackTrigger("t1", aoftypes.TriggerFilters{})}}
	bindings := fakeBindings{items: []*aoftypes.FlowBinding{enabledBinding("b1", "t1", aoftypes.MatchConfig{})}}

	r := New(bindings, triggers, nil, neverResolves{})
	matches := r.Route("slack", Message{Text: "hi"})
	if len(matches) != 0 {
		t.Fatalf("expected binding with unresolved target to be skipped, got %d", len(matches))
	}
}

type neverResolves struct{}

func (neverResolves) ResolveTarget(kind aoftypes.TargetKind, name string) bool { return false }

func TestMatchCommandReturnsHighestPriority(t *testing.T) {
	trigger := &aoftypes.Trigger{
		MetadataField: aoftypes.Metadata{Name: "t1"},
		Spec: aoftypes.TriggerSpec{
			Platform: "slack",
			CommandBindings: []aoftypes.CommandBinding{
				{Pattern: "^ping$", Target: aoftypes.CommandTarget{Kind: aoftypes.TargetAgent, Name: "low"}, Priority: 1},
				{Pattern: "^ping$", Target: aoftypes.CommandTarget{Kind: aoftypes.TargetAgent, Name: "high"}, Priority: 10},
			},
		},
	}
	triggers := fakeTriggers{items: map[string]*aoftypes.Trigger{"t1": trigger}}
	bindings := fakeBindings{items: []*aoftypes.FlowBinding{enabledBinding("b1", "t1", aoftypes.MatchConfig{})}}

	r := New(bindings, triggers, nil, alwaysResolves{})
	cb, _, ok := r.MatchCommand("slack", Message{Text: "ping"})
	if !ok {
		t.Fatal("expected a command match")
	}
	if cb.Target.Name != "high" {
		t.Fatalf("expected highest priority command binding, got %s", cb.Target.Name)
	}
}
