package safety

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agenticdevops/aof/internal/aoftypes"
)

// Record is a single audit log entry, written whenever a Context's
// AuditConfig opts an AuditEvent in.
type Record struct {
	ID        string              `json:"id"`
	Event     aoftypes.AuditEvent `json:"event"`
	Timestamp time.Time           `json:"timestamp"`
	AgentID   string              `json:"agent_id,omitempty"`
	ToolName  string              `json:"tool_name,omitempty"`
	Action    string              `json:"action"`
	Reason    string              `json:"reason,omitempty"`
	Payload   json.RawMessage     `json:"payload,omitempty"`
	Error     string              `json:"error,omitempty"`
}

// Sink persists audit Records. Grounded on the teacher's internal/audit
// Logger, scoped down to the AuditEvent/AuditConfig vocabulary
// aoftypes.ContextSpec already declares rather than the teacher's own
// richer Config type.
type Sink interface {
	Write(r Record)
	Close() error
}

// NopSink discards every record. Used when a Context's AuditConfig is nil
// or Enabled is false.
type NopSink struct{}

func (NopSink) Write(Record) {}
func (NopSink) Close() error { return nil }

// FileSink appends newline-delimited JSON records to a file, serialized
// through a single writer goroutine so concurrent tool calls never
// interleave partial writes.
type FileSink struct {
	file    *os.File
	logger  *slog.Logger
	events  map[aoftypes.AuditEvent]bool
	payload bool

	records chan Record
	done    chan struct{}
	wg      sync.WaitGroup
}

// NewSink builds the Sink a Context's AuditConfig describes: NopSink when
// disabled, a FileSink writing to cfg.Sink otherwise. An empty Sink path
// defaults to "audit.log" in the working directory.
func NewSink(cfg *aoftypes.AuditConfig) (Sink, error) {
	if cfg == nil || !cfg.Enabled {
		return NopSink{}, nil
	}

	path := cfg.Sink
	if path == "" {
		path = "audit.log"
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open audit sink %q: %w", path, err)
	}

	events := make(map[aoftypes.AuditEvent]bool, len(cfg.Events))
	for _, e := range cfg.Events {
		events[e] = true
	}

	s := &FileSink{
		file:    f,
		logger:  slog.New(slog.NewJSONHandler(f, nil)).With("component", "audit"),
		events:  events,
		payload: cfg.IncludePayload,
		records: make(chan Record, 256),
		done:    make(chan struct{}),
	}

	s.wg.Add(1)
	go s.writeLoop()

	return s, nil
}

// allows reports whether the sink's event filter lets e through. An empty
// filter, or the AuditAll marker, lets everything through.
func (s *FileSink) allows(e aoftypes.AuditEvent) bool {
	if len(s.events) == 0 || s.events[aoftypes.AuditAll] {
		return true
	}
	return s.events[e]
}

// Write enqueues r for the background writer. Non-blocking: a full buffer
// writes inline rather than dropping an audit record.
func (s *FileSink) Write(r Record) {
	if !s.allows(r.Event) {
		return
	}
	if !s.payload {
		r.Payload = nil
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.Timestamp.IsZero() {
		r.Timestamp = time.Now()
	}

	select {
	case s.records <- r:
	default:
		s.writeRecord(r)
	}
}

func (s *FileSink) writeLoop() {
	defer s.wg.Done()
	for {
		select {
		case r := <-s.records:
			s.writeRecord(r)
		case <-s.done:
			for {
				select {
				case r := <-s.records:
					s.writeRecord(r)
				default:
					return
				}
			}
		}
	}
}

func (s *FileSink) writeRecord(r Record) {
	attrs := []any{
		"audit_id", r.ID,
		"event", r.Event,
		"action", r.Action,
		"timestamp", r.Timestamp.Format(time.RFC3339Nano),
	}
	if r.AgentID != "" {
		attrs = append(attrs, "agent_id", r.AgentID)
	}
	if r.ToolName != "" {
		attrs = append(attrs, "tool_name", r.ToolName)
	}
	if r.Reason != "" {
		attrs = append(attrs, "reason", r.Reason)
	}
	if len(r.Payload) > 0 {
		attrs = append(attrs, "payload", string(r.Payload))
	}
	if r.Error != "" {
		attrs = append(attrs, "error", r.Error)
		s.logger.Error("audit", attrs...)
		return
	}
	s.logger.Info("audit", attrs...)
}

// Close flushes pending records and closes the underlying file.
func (s *FileSink) Close() error {
	close(s.done)
	s.wg.Wait()
	return s.file.Close()
}

// retentionCutoff parses AuditConfig.Retention (e.g. "720h", "30d") into a
// cutoff time for callers that prune their own record stores. Unparseable
// or empty retention means "keep forever".
func retentionCutoff(retention string) (time.Time, bool) {
	if retention == "" {
		return time.Time{}, false
	}
	if strings.HasSuffix(retention, "d") {
		var days int
		if _, err := fmt.Sscanf(retention, "%dd", &days); err == nil {
			return time.Now().Add(-time.Duration(days) * 24 * time.Hour), true
		}
	}
	if d, err := time.ParseDuration(retention); err == nil {
		return time.Now().Add(-d), true
	}
	return time.Time{}, false
}

// RetentionCutoff exposes retentionCutoff for callers pruning audit stores
// against a Context's AuditConfig.Retention.
func RetentionCutoff(cfg *aoftypes.AuditConfig) (time.Time, bool) {
	if cfg == nil {
		return time.Time{}, false
	}
	return retentionCutoff(cfg.Retention)
}
