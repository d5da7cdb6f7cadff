package safety

import (
	"context"
	"testing"

	"github.com/agenticdevops/aof/internal/aoftypes"
)

func TestApprovalCheckerDenylistBeatsAllowlist(t *testing.T) {
	c := NewApprovalChecker(&ApprovalPolicy{
		Denylist:  []string{"exec"},
		Allowlist: []string{"exec"},
	})
	decision, _ := c.Check(context.Background(), "agent-1", aoftypes.ToolCall{Name: "exec"})
	if decision != ApprovalDenied {
		t.Fatalf("decision = %v, want denied", decision)
	}
}

func TestApprovalCheckerAllowlistShortCircuitsApproval(t *testing.T) {
	c := NewApprovalChecker(&ApprovalPolicy{
		Allowlist:       []string{"read"},
		RequireApproval: []string{"read"},
	})
	decision, reason := c.Check(context.Background(), "agent-1", aoftypes.ToolCall{Name: "read"})
	if decision != ApprovalAllowed || reason != "tool in allowlist" {
		t.Fatalf("decision = %v (%s), want allowed", decision, reason)
	}
}

func TestApprovalCheckerRequireApprovalWithoutUIOrFallbackDenies(t *testing.T) {
	c := NewApprovalChecker(&ApprovalPolicy{
		RequireApproval: []string{"deploy"},
		AskFallback:     false,
	})
	decision, _ := c.Check(context.Background(), "agent-1", aoftypes.ToolCall{Name: "deploy"})
	if decision != ApprovalDenied {
		t.Fatalf("decision = %v, want denied when no UI and no fallback", decision)
	}
}

func TestApprovalCheckerRequireApprovalWithFallbackPends(t *testing.T) {
	c := NewApprovalChecker(&ApprovalPolicy{
		RequireApproval: []string{"deploy"},
		AskFallback:     true,
	})
	decision, _ := c.Check(context.Background(), "agent-1", aoftypes.ToolCall{Name: "deploy"})
	if decision != ApprovalPending {
		t.Fatalf("decision = %v, want pending", decision)
	}
}

func TestApprovalCheckerPerAgentPolicyOverridesDefault(t *testing.T) {
	c := NewApprovalChecker(&ApprovalPolicy{Denylist: []string{"exec"}})
	c.SetAgentPolicy("trusted", &ApprovalPolicy{Allowlist: []string{"exec"}, DefaultDecision: ApprovalAllowed})

	decision, _ := c.Check(context.Background(), "trusted", aoftypes.ToolCall{Name: "exec"})
	if decision != ApprovalAllowed {
		t.Fatalf("trusted agent decision = %v, want allowed", decision)
	}

	decision, _ = c.Check(context.Background(), "other", aoftypes.ToolCall{Name: "exec"})
	if decision != ApprovalDenied {
		t.Fatalf("default-policy agent decision = %v, want denied", decision)
	}
}

func TestApprovalCheckerSkillToolsAllowedWhenEnabled(t *testing.T) {
	c := NewApprovalChecker(&ApprovalPolicy{SkillAllowlist: true})
	c.RegisterSkillTools([]string{"custom_skill_tool"})

	decision, reason := c.Check(context.Background(), "agent-1", aoftypes.ToolCall{Name: "custom_skill_tool"})
	if decision != ApprovalAllowed || reason != "tool provided by skill" {
		t.Fatalf("decision = %v (%s), want allowed via skill", decision, reason)
	}
}

func TestApprovalRequestLifecycleApproveAndDeny(t *testing.T) {
	c := NewApprovalChecker(DefaultApprovalPolicy())
	store := NewMemoryApprovalStore()
	c.SetStore(store)

	req, err := c.CreateApprovalRequest(context.Background(), "agent-1", "session-1", aoftypes.ToolCall{ID: "call-1", Name: "deploy"}, "risky op")
	if err != nil {
		t.Fatalf("CreateApprovalRequest: %v", err)
	}
	if req.Decision != ApprovalPending {
		t.Fatalf("new request decision = %v, want pending", req.Decision)
	}

	if err := c.Approve(context.Background(), req.ID, "alice"); err != nil {
		t.Fatalf("Approve: %v", err)
	}

	got, err := store.Get(context.Background(), req.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Decision != ApprovalAllowed || got.DecidedBy != "alice" {
		t.Fatalf("stored request = %#v, want approved by alice", got)
	}
}

func TestApprovalRequestDeny(t *testing.T) {
	c := NewApprovalChecker(DefaultApprovalPolicy())
	store := NewMemoryApprovalStore()
	c.SetStore(store)

	req, err := c.CreateApprovalRequest(context.Background(), "agent-1", "session-1", aoftypes.ToolCall{ID: "call-2", Name: "deploy"}, "risky op")
	if err != nil {
		t.Fatalf("CreateApprovalRequest: %v", err)
	}

	if err := c.Deny(context.Background(), req.ID, "bob"); err != nil {
		t.Fatalf("Deny: %v", err)
	}

	got, err := store.Get(context.Background(), req.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Decision != ApprovalDenied || got.DecidedBy != "bob" {
		t.Fatalf("stored request = %#v, want denied by bob", got)
	}
}

func TestMatchesPatternWildcardsAndExact(t *testing.T) {
	if !matchesPattern([]string{"*"}, "anything") {
		t.Fatal("* should match everything")
	}
	if !matchesPattern([]string{"mcp:*"}, "mcp:github.create_issue") {
		t.Fatal("mcp:* should match mcp tools")
	}
	if !matchesPattern([]string{"read"}, "read") {
		t.Fatal("exact match should succeed")
	}
	if matchesPattern([]string{"write"}, "read") {
		t.Fatal("unrelated pattern should not match")
	}
}
