package aoftypes

import (
	"encoding/json"
	"time"
)

// ToolType distinguishes where a tool's implementation lives.
type ToolType string

const (
	ToolTypeBuiltin ToolType = "builtin"
	ToolTypeMCP     ToolType = "mcp"
	ToolTypeCustom  ToolType = "custom"
)

// ToolDefinition is the schema-level description of a Tool, as advertised
// to the LLM and to the Tool Registry's listing API.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
	ToolType    ToolType        `json:"tool_type"`
	Timeout     time.Duration   `json:"timeout"`
}

// ToolSpec appears inside an Agent's config. A bare name is resolved
// against the Tool Registry; Source/Server disambiguate when multiple
// MCP servers expose a tool with the same name.
type ToolSpec struct {
	Name   string `yaml:"name" json:"name"`
	Source string `yaml:"source,omitempty" json:"source,omitempty"` // builtin|mcp
	Server string `yaml:"server,omitempty" json:"server,omitempty"`
}

// Qualified returns the disambiguated reference used for registry lookups:
// "name" for builtin/bare specs, "server.name" for qualified MCP specs.
func (s ToolSpec) Qualified() string {
	if s.Source == "mcp" && s.Server != "" {
		return s.Server + "." + s.Name
	}
	return s.Name
}

// McpServerConfig configures one MCP server an Agent may use.
type McpServerConfig struct {
	ID            string            `yaml:"id" json:"id"`
	Name          string            `yaml:"name" json:"name"`
	Transport     string            `yaml:"transport" json:"transport"` // stdio|sse|http|websocket
	Command       string            `yaml:"command,omitempty" json:"command,omitempty"`
	Args          []string          `yaml:"args,omitempty" json:"args,omitempty"`
	Env           map[string]string `yaml:"env,omitempty" json:"env,omitempty"`
	WorkDir       string            `yaml:"work_dir,omitempty" json:"work_dir,omitempty"`
	URL           string            `yaml:"url,omitempty" json:"url,omitempty"`
	TimeoutSecs   int               `yaml:"timeout_secs,omitempty" json:"timeout_secs,omitempty"`
	AutoStart     bool              `yaml:"auto_start" json:"auto_start"`
	AutoReconnect bool              `yaml:"auto_reconnect" json:"auto_reconnect"`
}

// Timeout returns the configured per-request timeout, defaulting to 30s.
func (c McpServerConfig) Timeout() time.Duration {
	if c.TimeoutSecs <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.TimeoutSecs) * time.Second
}
