package toolregistry

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/agenticdevops/aof/internal/aoferr"
	"github.com/agenticdevops/aof/internal/aoftypes"
)

type echoTool struct {
	name string
	err  error
}

func (t *echoTool) Definition() aoftypes.ToolDefinition {
	return aoftypes.ToolDefinition{Name: t.name, Description: "echoes its params", ToolType: aoftypes.ToolTypeBuiltin}
}

func (t *echoTool) Execute(ctx context.Context, params json.RawMessage) (*aoftypes.ToolResult, error) {
	if t.err != nil {
		return nil, t.err
	}
	return &aoftypes.ToolResult{Success: true, Data: params}, nil
}

func TestRegisterAndGet(t *testing.T) {
	r := New()
	r.Register(&echoTool{name: "echo"})

	tool, ok := r.Get("echo")
	if !ok || tool.Definition().Name != "echo" {
		t.Fatalf("Get(echo) = %v, %v", tool, ok)
	}

	r.Unregister("echo")
	if _, ok := r.Get("echo"); ok {
		t.Fatal("expected echo to be unregistered")
	}
}

func TestExecuteNotFoundIsAoferr(t *testing.T) {
	r := New()
	_, err := r.Execute(context.Background(), "missing", nil)
	if !aoferr.Is(err, aoferr.KindNotFound) {
		t.Fatalf("err = %v, want KindNotFound", err)
	}
}

func TestExecuteRejectsOversizedNameAndParams(t *testing.T) {
	r := New()
	r.Register(&echoTool{name: "echo"})

	longName := strings.Repeat("a", MaxToolNameLength+1)
	result, err := r.Execute(context.Background(), longName, nil)
	if err != nil || result.Success {
		t.Fatalf("expected a failed ToolResult, got result=%v err=%v", result, err)
	}

	bigParams := json.RawMessage(strings.Repeat("a", MaxToolParamsSize+1))
	result, err = r.Execute(context.Background(), "echo", bigParams)
	if err != nil || result.Success {
		t.Fatalf("expected oversized-params failure, got result=%v err=%v", result, err)
	}
}

func TestDefinitionsListsEveryRegisteredTool(t *testing.T) {
	r := New()
	r.Register(&echoTool{name: "a"})
	r.Register(&echoTool{name: "b"})

	defs := r.Definitions()
	if len(defs) != 2 {
		t.Fatalf("len(defs) = %d", len(defs))
	}
}

func TestNormalizeNameMapsShellAliases(t *testing.T) {
	for _, alias := range []string{"bash", "shell", "sh"} {
		if got := NormalizeName(alias); got != "exec" {
			t.Errorf("NormalizeName(%q) = %q, want exec", alias, got)
		}
	}
	if got := NormalizeName("read_file"); got != "read_file" {
		t.Errorf("NormalizeName(read_file) = %q", got)
	}
}

func TestMatchPatternWildcards(t *testing.T) {
	if !MatchPattern("mcp:*", "mcp:github.search") {
		t.Error("mcp:* should match any mcp:-prefixed tool")
	}
	if !MatchPattern("github.*", "github.search") {
		t.Error("server.* should match its own tools")
	}
	if MatchPattern("github.*", "gitlab.search") {
		t.Error("server.* should not match a different server")
	}
	if !MatchPattern("exec", "exec") {
		t.Error("exact pattern should match itself")
	}
	if MatchPattern("", "exec") || MatchPattern("exec", "") {
		t.Error("empty pattern or tool name should never match")
	}
}

func TestMatchesAnyNormalizesBeforeComparing(t *testing.T) {
	if !MatchesAny([]string{"bash"}, "shell") {
		t.Error("bash and shell both normalize to exec and should match")
	}
}

type schemaTool struct {
	echoTool
}

func (t *schemaTool) Definition() aoftypes.ToolDefinition {
	def := t.echoTool.Definition()
	def.Parameters = json.RawMessage(`{
		"type": "object",
		"properties": {"path": {"type": "string"}, "count": {"type": "integer"}},
		"required": ["path"]
	}`)
	return def
}

func TestExecuteRejectsMissingRequiredParamWithoutInvokingTool(t *testing.T) {
	r := New()
	tool := &schemaTool{echoTool{name: "readfile"}}
	r.Register(tool)

	result, err := r.Execute(context.Background(), "readfile", json.RawMessage(`{"count": 1}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Success || !strings.Contains(result.Error, "path") {
		t.Fatalf("result = %#v, want failure mentioning missing path", result)
	}
}

func TestExecuteRejectsWrongParamTypeWithoutInvokingTool(t *testing.T) {
	r := New()
	tool := &schemaTool{echoTool{name: "readfile"}}
	r.Register(tool)

	result, err := r.Execute(context.Background(), "readfile", json.RawMessage(`{"path": "x", "count": "not-a-number"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Success || !strings.Contains(result.Error, "count") {
		t.Fatalf("result = %#v, want failure mentioning count type", result)
	}
}

func TestExecuteAllowsValidParams(t *testing.T) {
	r := New()
	tool := &schemaTool{echoTool{name: "readfile"}}
	r.Register(tool)

	result, err := r.Execute(context.Background(), "readfile", json.RawMessage(`{"path": "x", "count": 3}`))
	if err != nil || !result.Success {
		t.Fatalf("result = %#v, err = %v, want success", result, err)
	}
}

func TestExecuteSkipsValidationWhenNoSchemaDeclared(t *testing.T) {
	r := New()
	r.Register(&echoTool{name: "echo"})

	result, err := r.Execute(context.Background(), "echo", json.RawMessage(`{"anything": true}`))
	if err != nil || !result.Success {
		t.Fatalf("result = %#v, err = %v, want success with no schema to enforce", result, err)
	}
}
