// Package toolregistry holds the process-wide set of invocable tools:
// builtin Go implementations, MCP-backed tools namespaced by server, and
// the executor that drives concurrent and sequential tool-call batches.
package toolregistry

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/agenticdevops/aof/internal/aoferr"
	"github.com/agenticdevops/aof/internal/aoftypes"
)

// Tool is implemented by every invocable tool, whether builtin or an
// MCP-backed adapter registered by internal/mcpclient.
type Tool interface {
	Definition() aoftypes.ToolDefinition
	Execute(ctx context.Context, params json.RawMessage) (*aoftypes.ToolResult, error)
}

// Tool parameter limits, preventing a malformed or adversarial tool call
// from exhausting memory before it reaches a tool implementation.
const (
	MaxToolNameLength = 256
	MaxToolParamsSize = 10 << 20 // 10MB
)

// Registry manages available tools with thread-safe registration and lookup.
// Grounded on haasonsaas-nexus internal/agent/tool_registry.go ToolRegistry.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// New returns an empty Registry ready for tool registration.
func New() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool by its definition name, replacing any prior entry.
func (r *Registry) Register(tool Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.Definition().Name] = tool
}

// Unregister removes a tool from the registry by name.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Execute runs a tool by name with the given JSON parameters, guarding
// against oversized names/payloads before the lookup.
func (r *Registry) Execute(ctx context.Context, name string, params json.RawMessage) (*aoftypes.ToolResult, error) {
	if len(name) > MaxToolNameLength {
		return &aoftypes.ToolResult{Success: false, Error: fmt.Sprintf("tool name exceeds maximum length of %d characters", MaxToolNameLength)}, nil
	}
	if len(params) > MaxToolParamsSize {
		return &aoftypes.ToolResult{Success: false, Error: fmt.Sprintf("tool parameters exceed maximum size of %d bytes", MaxToolParamsSize)}, nil
	}

	r.mu.RLock()
	tool, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return nil, aoferr.New(aoferr.KindNotFound, "toolregistry", "tool not found: "+name)
	}

	if mismatch := validateParams(tool.Definition(), params); mismatch != "" {
		return &aoftypes.ToolResult{Success: false, Error: mismatch}, nil
	}

	return tool.Execute(ctx, params)
}

// paramSchema is the shallow subset of JSON Schema a ToolDefinition's
// Parameters is expected to follow: an object with typed properties and a
// required list.
type paramSchema struct {
	Type       string                 `json:"type"`
	Properties map[string]schemaField `json:"properties"`
	Required   []string               `json:"required"`
}

type schemaField struct {
	Type string `json:"type"`
}

// validateParams checks params against def.Parameters shallowly: required
// fields must be present, and any property with a declared scalar type in
// the schema must match that type in params. It never descends into nested
// objects/arrays. Returns "" if params satisfy the schema (including when
// the schema is empty or absent), or a human-readable mismatch reason.
func validateParams(def aoftypes.ToolDefinition, params json.RawMessage) string {
	if len(def.Parameters) == 0 {
		return ""
	}

	var schema paramSchema
	if err := json.Unmarshal(def.Parameters, &schema); err != nil {
		return ""
	}
	if schema.Type == "" && len(schema.Properties) == 0 && len(schema.Required) == 0 {
		return ""
	}

	var args map[string]any
	if len(params) > 0 {
		if err := json.Unmarshal(params, &args); err != nil {
			return fmt.Sprintf("invalid tool parameters: %v", err)
		}
	}

	for _, field := range schema.Required {
		if _, ok := args[field]; !ok {
			return fmt.Sprintf("missing required parameter %q", field)
		}
	}

	for name, value := range args {
		field, ok := schema.Properties[name]
		if !ok || field.Type == "" {
			continue
		}
		if !jsonTypeMatches(field.Type, value) {
			return fmt.Sprintf("parameter %q must be of type %q", name, field.Type)
		}
	}

	return ""
}

// jsonTypeMatches reports whether value, as decoded by encoding/json, is
// consistent with the JSON Schema primitive type name.
func jsonTypeMatches(schemaType string, value any) bool {
	switch schemaType {
	case "string":
		_, ok := value.(string)
		return ok
	case "boolean":
		_, ok := value.(bool)
		return ok
	case "integer":
		n, ok := value.(float64)
		return ok && n == float64(int64(n))
	case "number":
		_, ok := value.(float64)
		return ok
	case "array":
		_, ok := value.([]any)
		return ok
	case "object":
		_, ok := value.(map[string]any)
		return ok
	default:
		return true
	}
}

// Definitions returns every registered tool's definition, for advertising
// to an LLM provider as its available tool set.
func (r *Registry) Definitions() []aoftypes.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]aoftypes.ToolDefinition, 0, len(r.tools))
	for _, t := range r.tools {
		defs = append(defs, t.Definition())
	}
	return defs
}

// NormalizeName maps common aliases (bash, shell) onto their canonical
// tool name, following the teacher's tool-alias table.
func NormalizeName(name string) string {
	if canonical, ok := toolAliases[name]; ok {
		return canonical
	}
	return name
}

var toolAliases = map[string]string{
	"bash":  "exec",
	"shell": "exec",
	"sh":    "exec",
}

// MatchPattern reports whether toolName satisfies pattern: exact match,
// "mcp:*" for any MCP-backed tool, or a "server.*" prefix wildcard.
func MatchPattern(pattern, toolName string) bool {
	if pattern == "" || toolName == "" {
		return false
	}
	if pattern == "mcp:*" {
		return strings.HasPrefix(toolName, "mcp:")
	}
	if strings.HasSuffix(pattern, ".*") {
		return strings.HasPrefix(toolName, strings.TrimSuffix(pattern, "*"))
	}
	return pattern == toolName
}

// MatchesAny reports whether toolName matches any of patterns.
func MatchesAny(patterns []string, toolName string) bool {
	for _, p := range patterns {
		if MatchPattern(NormalizeName(p), NormalizeName(toolName)) {
			return true
		}
	}
	return false
}
