package mcpclient

import (
	"testing"

	"github.com/agenticdevops/aof/internal/aoftypes"
)

func TestServerConfigFromSpecMapsTransportAliases(t *testing.T) {
	cases := map[string]TransportType{
		"stdio":     TransportStdio,
		"":          TransportStdio,
		"ws":        TransportWebSocket,
		"websocket": TransportWebSocket,
		"http":      TransportHTTP,
		"sse":       TransportHTTP,
	}
	for in, want := range cases {
		cfg := ServerConfigFromSpec(aoftypes.McpServerConfig{ID: "x", Transport: in})
		if cfg.Transport != want {
			t.Errorf("transport(%q) = %v, want %v", in, cfg.Transport, want)
		}
	}
}

func TestValidateRequiresID(t *testing.T) {
	cfg := &ServerConfig{Transport: TransportStdio, Command: "ls"}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for missing ID")
	}
}

func TestValidateStdioRejectsPathTraversal(t *testing.T) {
	cfg := &ServerConfig{ID: "srv", Transport: TransportStdio, Command: "../../etc/passwd"}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected path traversal to be rejected")
	}
}

func TestValidateStdioRejectsShellMetacharsInArgs(t *testing.T) {
	cfg := &ServerConfig{ID: "srv", Transport: TransportStdio, Command: "echo", Args: []string{"hi; rm -rf /"}}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected shell metacharacters in args to be rejected")
	}
}

func TestValidateStdioAllowsOrdinaryArgs(t *testing.T) {
	cfg := &ServerConfig{ID: "srv", Transport: TransportStdio, Command: "mcp-server", Args: []string{"--port", "8080", "hello world"}}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateHTTPRequiresURLWithScheme(t *testing.T) {
	cfg := &ServerConfig{ID: "srv", Transport: TransportHTTP}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for missing URL")
	}
	cfg.URL = "ftp://example.com"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for non-http(s) scheme")
	}
	cfg.URL = "https://example.com/mcp"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateWebSocketRequiresWSScheme(t *testing.T) {
	cfg := &ServerConfig{ID: "srv", Transport: TransportWebSocket, URL: "https://example.com"}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for non-ws(s) scheme")
	}
	cfg.URL = "wss://example.com/mcp"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
