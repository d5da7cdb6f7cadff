package mcpclient

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/agenticdevops/aof/internal/aoferr"
	"github.com/agenticdevops/aof/internal/aoftypes"
	"github.com/agenticdevops/aof/internal/toolregistry"
)

// toolAdapter exposes one MCP server's tool as a toolregistry.Tool, so the
// ReAct loop can call it through the same Registry/Executor path as a
// builtin tool. Registered under "mcp:<serverID>.<toolName>" to match
// internal/safety's ParseMCPToolName convention.
type toolAdapter struct {
	manager  *Manager
	serverID string
	tool     *MCPTool
}

func (t *toolAdapter) Definition() aoftypes.ToolDefinition {
	return aoftypes.ToolDefinition{
		Name:        "mcp:" + t.serverID + "." + t.tool.Name,
		Description: t.tool.Description,
		Parameters:  t.tool.InputSchema,
		ToolType:    aoftypes.ToolTypeMCP,
	}
}

func (t *toolAdapter) Execute(ctx context.Context, params json.RawMessage) (*aoftypes.ToolResult, error) {
	var args map[string]any
	if len(params) > 0 {
		if err := json.Unmarshal(params, &args); err != nil {
			return nil, aoferr.New(aoferr.KindValidation, "mcpclient", "invalid tool parameters: "+err.Error())
		}
	}

	result, err := t.manager.CallTool(ctx, t.serverID, t.tool.Name, args)
	if err != nil {
		return nil, err
	}
	return toolResultFromCall(result), nil
}

// toolResultFromCall flattens an MCP ToolCallResult's content blocks into a
// single ToolResult, concatenating text segments and carrying through the
// server's own isError flag.
func toolResultFromCall(result *ToolCallResult) *aoftypes.ToolResult {
	var text []string
	for _, c := range result.Content {
		if c.Text != "" {
			text = append(text, c.Text)
		}
	}
	joined := strings.Join(text, "\n")

	if result.IsError {
		return &aoftypes.ToolResult{Success: false, Error: joined}
	}
	return &aoftypes.ToolResult{Success: true, Data: json.RawMessage(mustMarshalString(joined))}
}

func mustMarshalString(s string) []byte {
	out, err := json.Marshal(s)
	if err != nil {
		return []byte(`""`)
	}
	return out
}

// RegisterTools adapts every tool currently advertised by m's connected MCP
// servers into reg, so agent.Spec.Tools/Spec.MCPServers configuration is
// reachable through the normal Tool Registry lookup path instead of always
// reporting "tool not found".
func (m *Manager) RegisterTools(reg *toolregistry.Registry) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for serverID, client := range m.clients {
		for _, tool := range client.Tools() {
			reg.Register(&toolAdapter{manager: m, serverID: serverID, tool: tool})
		}
	}
}
