package mcpclient

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
)

const (
	wsClientWriteWait  = 10 * time.Second
	wsClientPongWait   = 45 * time.Second
	wsClientPingPeriod = 30 * time.Second
	wsClientMaxPayload = 1 << 20
)

// WebSocketTransport implements the MCP transport over a persistent
// WebSocket connection, for servers that prefer a single bidirectional
// socket over separate POST/SSE legs. Request/response correlation and
// reconnect-with-backoff follow the same shape as StdioTransport and
// HTTPTransport respectively.
type WebSocketTransport struct {
	config *ServerConfig
	logger *slog.Logger
	dialer websocket.Dialer

	mu   sync.Mutex
	conn *websocket.Conn

	pending   map[string]chan *JSONRPCResponse
	pendingMu sync.Mutex

	events   chan *JSONRPCNotification
	requests chan *JSONRPCRequest

	connected atomic.Bool
	stopChan  chan struct{}
	wg        sync.WaitGroup
}

// NewWebSocketTransport creates a new WebSocket transport.
func NewWebSocketTransport(cfg *ServerConfig) *WebSocketTransport {
	return &WebSocketTransport{
		config:   cfg,
		logger:   slog.Default().With("mcp_server", cfg.ID, "transport", "websocket"),
		dialer:   websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		pending:  make(map[string]chan *JSONRPCResponse),
		events:   make(chan *JSONRPCNotification, 100),
		requests: make(chan *JSONRPCRequest, 100),
		stopChan: make(chan struct{}),
	}
}

// Connect dials the server and starts the read/reconnect loop. The initial
// dial must succeed before Connect returns; subsequent drops are retried in
// the background with exponential backoff.
func (t *WebSocketTransport) Connect(ctx context.Context) error {
	if t.config.URL == "" {
		return fmt.Errorf("URL is required for websocket transport")
	}

	if err := t.dial(ctx); err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	t.wg.Add(1)
	go t.reconnectLoop(ctx)

	return nil
}

func (t *WebSocketTransport) dial(ctx context.Context) error {
	header := http.Header{}
	for k, v := range t.config.Headers {
		header.Set(k, v)
	}

	conn, resp, err := t.dialer.DialContext(ctx, t.config.URL, header)
	if err != nil {
		return err
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}

	conn.SetReadLimit(wsClientMaxPayload)
	_ = conn.SetReadDeadline(time.Now().Add(wsClientPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsClientPongWait))
	})

	t.mu.Lock()
	t.conn = conn
	t.mu.Unlock()

	t.connected.Store(true)
	t.logger.Info("websocket connected", "url", t.config.URL)

	t.wg.Add(2)
	go t.readLoop()
	go t.pingLoop()

	return nil
}

// reconnectLoop watches for the connection dropping and redials with
// exponential backoff until the transport is closed.
func (t *WebSocketTransport) reconnectLoop(ctx context.Context) {
	defer t.wg.Done()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxInterval = 30 * time.Second
	bo.MaxElapsedTime = 0 // retry indefinitely until stopped

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.stopChan:
			return
		default:
		}

		if t.connected.Load() {
			select {
			case <-ctx.Done():
				return
			case <-t.stopChan:
				return
			case <-time.After(time.Second):
				continue
			}
		}

		wait := bo.NextBackOff()
		if wait == backoff.Stop {
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-t.stopChan:
			return
		case <-time.After(wait):
		}

		if err := t.dial(ctx); err != nil {
			t.logger.Debug("websocket reconnect failed", "error", err)
			continue
		}
		bo.Reset()
	}
}

// Close closes the connection and stops background loops.
func (t *WebSocketTransport) Close() error {
	t.connected.Store(false)
	close(t.stopChan)

	t.mu.Lock()
	if t.conn != nil {
		t.conn.Close()
	}
	t.mu.Unlock()

	t.wg.Wait()
	return nil
}

// Call sends a request over the socket and waits for its correlated response.
func (t *WebSocketTransport) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if !t.connected.Load() {
		return nil, fmt.Errorf("not connected")
	}

	id := fmt.Sprintf("%d", time.Now().UnixNano())
	req := JSONRPCRequest{JSONRPC: "2.0", ID: id, Method: method}

	if params != nil {
		paramsJSON, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("marshal params: %w", err)
		}
		req.Params = paramsJSON
	}

	respChan := make(chan *JSONRPCResponse, 1)
	t.pendingMu.Lock()
	t.pending[id] = respChan
	t.pendingMu.Unlock()
	defer func() {
		t.pendingMu.Lock()
		delete(t.pending, id)
		t.pendingMu.Unlock()
	}()

	if err := t.writeJSON(req); err != nil {
		return nil, fmt.Errorf("write request: %w", err)
	}

	timeout := t.config.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	select {
	case resp := <-respChan:
		if resp.Error != nil {
			return nil, fmt.Errorf("MCP error %d: %s", resp.Error.Code, resp.Error.Message)
		}
		return resp.Result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(timeout):
		return nil, fmt.Errorf("request timeout after %v", timeout)
	case <-t.stopChan:
		return nil, fmt.Errorf("transport closed")
	}
}

// Notify sends a notification (no response expected).
func (t *WebSocketTransport) Notify(ctx context.Context, method string, params any) error {
	if !t.connected.Load() {
		return fmt.Errorf("not connected")
	}

	notif := JSONRPCNotification{JSONRPC: "2.0", Method: method}
	if params != nil {
		paramsJSON, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("marshal params: %w", err)
		}
		notif.Params = paramsJSON
	}

	return t.writeJSON(notif)
}

// Respond sends a response to a server-initiated request.
func (t *WebSocketTransport) Respond(ctx context.Context, id any, result any, rpcErr *JSONRPCError) error {
	if !t.connected.Load() {
		return fmt.Errorf("not connected")
	}

	resp := JSONRPCResponse{JSONRPC: "2.0", ID: id, Error: rpcErr}
	if rpcErr == nil && result != nil {
		data, err := json.Marshal(result)
		if err != nil {
			return fmt.Errorf("marshal result: %w", err)
		}
		resp.Result = data
	}

	return t.writeJSON(resp)
}

func (t *WebSocketTransport) writeJSON(v any) error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("not connected")
	}
	_ = conn.SetWriteDeadline(time.Now().Add(wsClientWriteWait))
	return conn.WriteJSON(v)
}

// Events returns the notification channel.
func (t *WebSocketTransport) Events() <-chan *JSONRPCNotification { return t.events }

// Requests returns the server-initiated request channel.
func (t *WebSocketTransport) Requests() <-chan *JSONRPCRequest { return t.requests }

// Connected returns whether the transport currently has a live socket.
func (t *WebSocketTransport) Connected() bool { return t.connected.Load() }

func (t *WebSocketTransport) readLoop() {
	defer t.wg.Done()
	defer t.connected.Store(false)

	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.logger.Debug("websocket read error", "error", err)
			return
		}
		t.processMessage(data)
	}
}

func (t *WebSocketTransport) processMessage(data []byte) {
	var resp JSONRPCResponse
	if err := json.Unmarshal(data, &resp); err == nil && resp.ID != nil {
		id := fmt.Sprintf("%v", resp.ID)
		t.pendingMu.Lock()
		ch, ok := t.pending[id]
		if ok {
			delete(t.pending, id)
		}
		t.pendingMu.Unlock()
		if ok {
			select {
			case ch <- &resp:
			default:
			}
			return
		}
	}

	var req JSONRPCRequest
	if err := json.Unmarshal(data, &req); err == nil && req.Method != "" && req.ID != nil {
		select {
		case t.requests <- &req:
		default:
			t.logger.Warn("request channel full, dropping")
		}
		return
	}

	var notif JSONRPCNotification
	if err := json.Unmarshal(data, &notif); err == nil && notif.Method != "" {
		select {
		case t.events <- &notif:
		default:
			t.logger.Warn("notification channel full, dropping")
		}
	}
}

func (t *WebSocketTransport) pingLoop() {
	defer t.wg.Done()

	ticker := time.NewTicker(wsClientPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-t.stopChan:
			return
		case <-ticker.C:
			t.mu.Lock()
			conn := t.conn
			t.mu.Unlock()
			if conn == nil {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsClientWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
