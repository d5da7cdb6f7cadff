// Package activitybus implements the typed publish-subscribe channel that
// carries ActivityEvents from executors (Agent Executor, Flow Engine, Fleet
// Coordinator, Tool Registry, MCP Client) out to observers. Publishers never
// block: a subscriber that fails to keep up has events dropped for it, never
// the other way around.
package activitybus

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/agenticdevops/aof/internal/aoftypes"
)

// subscriberBuffer bounds how many unconsumed events a subscriber channel
// holds before Publish starts dropping for it.
const subscriberBuffer = 256

// Bus is a lossy, typed publish-subscribe channel. Grounded on the
// teacher's internal/agent/event_emitter.go EventEmitter, generalized from
// "one sink per run" into genuine multi-subscriber fan-out since spec.md
// §4.3 requires it.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[uint64]chan *aoftypes.ActivityEvent
	nextID      uint64

	dropped atomic.Uint64
}

// New returns an empty Bus.
func New() *Bus {
	return &Bus{subscribers: make(map[uint64]chan *aoftypes.ActivityEvent)}
}

// Subscription is a live subscriber handle; call Unsubscribe when done.
type Subscription struct {
	id     uint64
	bus    *Bus
	events chan *aoftypes.ActivityEvent
}

// Events returns the channel events arrive on.
func (s *Subscription) Events() <-chan *aoftypes.ActivityEvent { return s.events }

// Unsubscribe detaches the subscription and closes its channel.
func (s *Subscription) Unsubscribe() { s.bus.unsubscribe(s.id) }

// Subscribe attaches a new subscriber, receiving every event published
// after this call in publish order.
func (b *Bus) Subscribe() *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	ch := make(chan *aoftypes.ActivityEvent, subscriberBuffer)
	b.subscribers[id] = ch

	return &Subscription{id: id, bus: b, events: ch}
}

func (b *Bus) unsubscribe(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.subscribers[id]; ok {
		delete(b.subscribers, id)
		close(ch)
	}
}

// Publish fans event out to every current subscriber without blocking. A
// subscriber whose buffer is full has the event dropped for it.
func (b *Bus) Publish(event *aoftypes.ActivityEvent) {
	if event == nil {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subscribers {
		select {
		case ch <- event:
		default:
			b.dropped.Add(1)
		}
	}
}

// Dropped returns the cumulative count of events dropped for slow subscribers.
func (b *Bus) Dropped() uint64 { return b.dropped.Load() }

// NopBus is the null observer: every Publish is a silent no-op. Used when
// an executor run has no attached observer (spec.md §4.3's "a null
// observer discards all events").
type NopBus struct{}

// Publish discards event.
func (NopBus) Publish(*aoftypes.ActivityEvent) {}

// Publisher is implemented by Bus and NopBus, letting executors depend on
// the interface rather than a concrete sink.
type Publisher interface {
	Publish(*aoftypes.ActivityEvent)
}

// Emitter is a convenience wrapper over a Publisher that builds
// ActivityEvents for the well-known moments an executor run passes
// through, mirroring the teacher's EventEmitter helper methods one-for-one
// but targeting aoftypes.ActivityEvent instead of the teacher's
// models.AgentEvent.
type Emitter struct {
	runID string
	pub   Publisher
}

// NewEmitter returns an Emitter publishing to pub. A nil pub uses NopBus.
func NewEmitter(runID string, pub Publisher) *Emitter {
	if pub == nil {
		pub = NopBus{}
	}
	return &Emitter{runID: runID, pub: pub}
}

func (e *Emitter) emit(t aoftypes.ActivityType, message string, details *aoftypes.ActivityDetails) *aoftypes.ActivityEvent {
	event := aoftypes.NewActivityEvent(t, message, details)
	e.pub.Publish(event)
	return event
}

// Started emits the run.started-equivalent event.
func (e *Emitter) Started(_ context.Context) *aoftypes.ActivityEvent {
	return e.emit(aoftypes.ActivityStarted, "agent run started", nil)
}

// Completed emits the run.finished-equivalent event with final token usage.
func (e *Emitter) Completed(_ context.Context, tokens *aoftypes.TokenUsage) *aoftypes.ActivityEvent {
	return e.emit(aoftypes.ActivityCompleted, "agent run completed", &aoftypes.ActivityDetails{Tokens: tokens})
}

// Cancelled emits the run.cancelled-equivalent event.
func (e *Emitter) Cancelled(_ context.Context) *aoftypes.ActivityEvent {
	return e.emit(aoftypes.ActivityCancelled, "agent run cancelled", nil)
}

// Error emits an error event.
func (e *Emitter) Error(_ context.Context, err error) *aoftypes.ActivityEvent {
	return e.emit(aoftypes.ActivityError, err.Error(), &aoftypes.ActivityDetails{Error: err.Error()})
}

// ToolExecuting emits a tool-starting event.
func (e *Emitter) ToolExecuting(_ context.Context, tool, args string) *aoftypes.ActivityEvent {
	return e.emit(aoftypes.ActivityToolExecuting, "executing "+tool, &aoftypes.ActivityDetails{Tool: tool, Args: args})
}

// ToolComplete emits a tool-finished event.
func (e *Emitter) ToolComplete(_ context.Context, tool string, durationMS int64) *aoftypes.ActivityEvent {
	return e.emit(aoftypes.ActivityToolComplete, tool+" completed", &aoftypes.ActivityDetails{Tool: tool, DurationMS: durationMS})
}

// ToolFailed emits a tool-failure event.
func (e *Emitter) ToolFailed(_ context.Context, tool string, err error, durationMS int64) *aoftypes.ActivityEvent {
	return e.emit(aoftypes.ActivityToolFailed, tool+" failed", &aoftypes.ActivityDetails{
		Tool: tool, Error: err.Error(), DurationMS: durationMS,
	})
}

// LLMCall emits a model-call-starting event.
func (e *Emitter) LLMCall(_ context.Context) *aoftypes.ActivityEvent {
	return e.emit(aoftypes.ActivityLlmCall, "calling model", nil)
}

// LLMWaiting emits an event marking that the request was sent and the
// caller is now waiting on the model's response stream.
func (e *Emitter) LLMWaiting(_ context.Context) *aoftypes.ActivityEvent {
	return e.emit(aoftypes.ActivityLlmWaiting, "waiting on model", nil)
}

// LLMResponse emits a model-response event carrying token usage.
func (e *Emitter) LLMResponse(_ context.Context, tokens *aoftypes.TokenUsage) *aoftypes.ActivityEvent {
	return e.emit(aoftypes.ActivityLlmResponse, "model responded", &aoftypes.ActivityDetails{Tokens: tokens})
}

// RunStats accumulates run-level statistics by observing ActivityEvents,
// mirroring the teacher's StatsCollector.
type RunStats struct {
	RunID        string
	Iterations   int
	ToolCalls    int
	ToolFailures int
	InputTokens  int
	OutputTokens int
	Errors       int
	Cancelled    bool
}

// StatsCollector consumes events from a Subscription and accumulates RunStats.
type StatsCollector struct {
	mu    sync.Mutex
	stats RunStats
}

// NewStatsCollector returns a StatsCollector for runID.
func NewStatsCollector(runID string) *StatsCollector {
	return &StatsCollector{stats: RunStats{RunID: runID}}
}

// Observe processes one event, updating accumulated stats.
func (c *StatsCollector) Observe(event *aoftypes.ActivityEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch event.Type {
	case aoftypes.ActivityLlmCall:
		c.stats.Iterations++
	case aoftypes.ActivityToolExecuting:
		c.stats.ToolCalls++
	case aoftypes.ActivityToolFailed:
		c.stats.ToolFailures++
		c.stats.Errors++
	case aoftypes.ActivityLlmResponse:
		if event.Details != nil && event.Details.Tokens != nil {
			c.stats.InputTokens += event.Details.Tokens.InputTokens
			c.stats.OutputTokens += event.Details.Tokens.OutputTokens
		}
	case aoftypes.ActivityError:
		c.stats.Errors++
	case aoftypes.ActivityCancelled:
		c.stats.Cancelled = true
	}
}

// Run subscribes sub's events into the collector until the channel closes
// or ctx is cancelled.
func (c *StatsCollector) Run(ctx context.Context, sub *Subscription) {
	for {
		select {
		case event, ok := <-sub.Events():
			if !ok {
				return
			}
			c.Observe(event)
		case <-ctx.Done():
			return
		}
	}
}

// Stats returns a copy of the accumulated statistics.
func (c *StatsCollector) Stats() RunStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}
