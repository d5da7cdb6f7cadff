package safety

import "testing"

func TestResolverExpandGroups(t *testing.T) {
	r := NewResolver()
	got := r.ExpandGroups([]string{"group:fs"})
	want := map[string]bool{"read": true, "write": true, "edit": true, "exec": true}
	if len(got) != len(want) {
		t.Fatalf("ExpandGroups = %v, want %v", got, want)
	}
	for _, tool := range got {
		if !want[tool] {
			t.Fatalf("unexpected tool %q in expansion", tool)
		}
	}
}

func TestResolverDenyOverridesAllow(t *testing.T) {
	r := NewResolver()
	policy := NewPolicy(ProfileCoding).WithDeny("exec")
	if r.IsAllowed(policy, "exec") {
		t.Fatal("exec should be denied despite being in the coding profile's fs group")
	}
	if !r.IsAllowed(policy, "read") {
		t.Fatal("read should remain allowed under the coding profile")
	}
}

func TestResolverProfileFullAllowsUnlistedTools(t *testing.T) {
	r := NewResolver()
	policy := NewPolicy(ProfileFull)
	if !r.IsAllowed(policy, "anything_goes") {
		t.Fatal("full profile should allow tools with no explicit rule")
	}
	policy.WithDeny("anything_goes")
	if r.IsAllowed(policy, "anything_goes") {
		t.Fatal("explicit deny should still override full profile")
	}
}

func TestResolverMCPWildcardGroupExpansion(t *testing.T) {
	r := NewResolver()
	r.RegisterMCPServer("github", []string{"create_issue", "list_prs"})

	policy := NewPolicy("").WithAllow("mcp:github.*")
	if !r.IsAllowed(policy, "mcp:github.create_issue") {
		t.Fatal("expected mcp:github.* to allow mcp:github.create_issue")
	}
	if r.IsAllowed(policy, "mcp:other.create_issue") {
		t.Fatal("mcp:github.* should not allow a different server's tools")
	}
}

func TestResolverAliasResolvesToCanonicalName(t *testing.T) {
	r := NewResolver()
	policy := NewPolicy("").WithAllow("exec")
	if !r.IsAllowed(policy, "bash") {
		t.Fatal("bash should resolve to the canonical exec tool and be allowed")
	}
}

func TestResolverByProviderOverridesBasePolicy(t *testing.T) {
	r := NewResolver()
	policy := NewPolicy("").WithAllow("group:fs")
	policy.ByProvider = map[string]*Policy{
		"mcp:github": {Deny: []string{"mcp:github.*"}},
	}

	if !r.IsAllowed(policy, "read") {
		t.Fatal("base allow rules should still apply to non-mcp tools")
	}
	if r.IsAllowed(policy, "mcp:github.create_issue") {
		t.Fatal("provider-scoped deny should block mcp:github tools")
	}
}

func TestResolverNoPolicyDeniesEverything(t *testing.T) {
	r := NewResolver()
	if r.IsAllowed(nil, "read") {
		t.Fatal("nil policy should deny by default")
	}
}

func TestMergeAccumulatesAllowDenyAndLastProfileWins(t *testing.T) {
	a := NewPolicy(ProfileMinimal).WithAllow("x")
	b := NewPolicy(ProfileCoding).WithAllow("y").WithDeny("z")

	merged := Merge(a, b)
	if merged.Profile != ProfileCoding {
		t.Fatalf("merged profile = %v, want %v", merged.Profile, ProfileCoding)
	}
	if len(merged.Allow) != 2 || len(merged.Deny) != 1 {
		t.Fatalf("merged = %#v", merged)
	}
}
