package registry

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/agenticdevops/aof/internal/aoftypes"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func TestRegisterAndGet(t *testing.T) {
	r := NewAgentRegistry()
	agent := &aoftypes.Agent{MetadataField: aoftypes.Metadata{Name: "a1"}, Spec: aoftypes.AgentSpec{Model: "claude"}}
	if err := r.Register(agent); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, ok := r.Get("a1")
	if !ok || got.MetadataField.Name != "a1" {
		t.Fatalf("expected to find a1, got %+v ok=%v", got, ok)
	}
	if !r.Exists("a1") {
		t.Fatal("expected Exists true")
	}
	if r.Exists("missing") {
		t.Fatal("expected Exists false for unregistered name")
	}
}

func TestRegisterRejectsInvalidResource(t *testing.T) {
	r := NewAgentRegistry()
	err := r.Register(&aoftypes.Agent{})
	if err == nil {
		t.Fatal("expected validation error for empty agent")
	}
	if r.Count() != 0 {
		t.Fatalf("expected invalid resource not to be registered, count=%d", r.Count())
	}
}

func TestLoadDirectorySkipsInvalidFilesWithoutFailing(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "good.yaml", "apiVersion: aof.dev/v1\nkind: Agent\nmetadata:\n  name: good-agent\nspec:\n  model: claude-3\n")
	writeFile(t, dir, "bad.yaml", "apiVersion: aof.dev/v1\nkind: Agent\nmetadata:\n  name: \"\"\nspec:\n  model: claude-3\n")
	writeFile(t, dir, "ignored.txt", "not yaml")

	r := NewAgentRegistry()
	count, err := r.LoadDirectory(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 loaded resource, got %d", count)
	}
	if !r.Exists("good-agent") {
		t.Fatal("expected good-agent to be registered")
	}
}

func TestLoadDirectoryExpandsEnvVars(t *testing.T) {
	t.Setenv("AOF_TEST_MODEL", "claude-3-opus")
	dir := t.TempDir()
	writeFile(t, dir, "agent.yaml", "apiVersion: aof.dev/v1\nkind: Agent\nmetadata:\n  name: envy\nspec:\n  model: ${AOF_TEST_MODEL}\n")

	r := NewAgentRegistry()
	if _, err := r.LoadDirectory(dir); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, ok := r.Get("envy")
	if !ok {
		t.Fatal("expected envy to be registered")
	}
	if got.Spec.Model != "claude-3-opus" {
		t.Fatalf("expected expanded env var, got %q", got.Spec.Model)
	}
}

func TestLoadDirectoryResolvesIncludes(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "base.yaml", "spec:\n  model: shared-model\n")
	writeFile(t, dir, "agent.yaml", "$include: base.yaml\napiVersion: aof.dev/v1\nkind: Agent\nmetadata:\n  name: composed\n")

	r := NewAgentRegistry()
	if _, err := r.LoadDirectory(dir); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, ok := r.Get("composed")
	if !ok {
		t.Fatal("expected composed to be registered")
	}
	if got.Spec.Model != "shared-model" {
		t.Fatalf("expected model from included file, got %q", got.Spec.Model)
	}
}

func TestReloadClearsPreviousContents(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "agent.yaml", "apiVersion: aof.dev/v1\nkind: Agent\nmetadata:\n  name: one\nspec:\n  model: m\n")

	r := NewAgentRegistry()
	if _, err := r.LoadDirectory(dir); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !r.Exists("one") {
		t.Fatal("expected one to be registered")
	}

	if err := os.Remove(filepath.Join(dir, "agent.yaml")); err != nil {
		t.Fatalf("remove: %v", err)
	}
	writeFile(t, dir, "other.yaml", "apiVersion: aof.dev/v1\nkind: Agent\nmetadata:\n  name: two\nspec:\n  model: m\n")

	if _, err := r.Reload(dir); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Exists("one") {
		t.Fatal("expected one to be gone after reload")
	}
	if !r.Exists("two") {
		t.Fatal("expected two to be registered after reload")
	}
}

func TestTargetResolverChecksCorrectRegistry(t *testing.T) {
	agents := NewAgentRegistry()
	_ = agents.Register(&aoftypes.Agent{MetadataField: aoftypes.Metadata{Name: "a1"}, Spec: aoftypes.AgentSpec{Model: "m"}})

	resolver := TargetResolver{Agents: agents, Flows: NewFlowRegistry(), Fleets: NewFleetRegistry()}
	if !resolver.ResolveTarget(aoftypes.TargetAgent, "a1") {
		t.Fatal("expected a1 to resolve")
	}
	if resolver.ResolveTarget(aoftypes.TargetAgent, "missing") {
		t.Fatal("expected missing agent not to resolve")
	}
	if resolver.ResolveTarget(aoftypes.TargetFlow, "a1") {
		t.Fatal("expected wrong-kind lookup to fail")
	}
}
