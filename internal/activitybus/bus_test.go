package activitybus

import (
	"context"
	"testing"
	"time"

	"github.com/agenticdevops/aof/internal/aoftypes"
)

func TestPublishFansOutToAllSubscribers(t *testing.T) {
	b := New()
	sub1 := b.Subscribe()
	sub2 := b.Subscribe()

	b.Publish(aoftypes.NewActivityEvent(aoftypes.ActivityStarted, "started", nil))

	for _, sub := range []*Subscription{sub1, sub2} {
		select {
		case ev := <-sub.Events():
			if ev.Type != aoftypes.ActivityStarted {
				t.Fatalf("type = %v", ev.Type)
			}
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for event")
		}
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := New()
	sub := b.Subscribe()
	sub.Unsubscribe()

	_, ok := <-sub.Events()
	if ok {
		t.Fatal("expected closed channel after Unsubscribe")
	}
}

func TestPublishDropsForFullSubscriberBuffer(t *testing.T) {
	b := New()
	sub := b.Subscribe()

	for i := 0; i < subscriberBuffer+5; i++ {
		b.Publish(aoftypes.NewActivityEvent(aoftypes.ActivityLlmCall, "call", nil))
	}

	if b.Dropped() == 0 {
		t.Fatal("expected some events to be dropped once the buffer filled")
	}
	_ = sub
}

func TestPublishNilIsNoop(t *testing.T) {
	b := New()
	b.Subscribe()
	b.Publish(nil)
}

func TestNopBusDiscardsEvents(t *testing.T) {
	var pub Publisher = NopBus{}
	pub.Publish(aoftypes.NewActivityEvent(aoftypes.ActivityStarted, "started", nil))
}

func TestEmitterNilPublisherDefaultsToNop(t *testing.T) {
	e := NewEmitter("run-1", nil)
	ev := e.Started(context.Background())
	if ev == nil || ev.Type != aoftypes.ActivityStarted {
		t.Fatalf("Started() = %#v", ev)
	}
}

func TestEmitterErrorDetailsCarryMessage(t *testing.T) {
	var captured *aoftypes.ActivityEvent
	pub := publisherFunc(func(ev *aoftypes.ActivityEvent) { captured = ev })
	e := NewEmitter("run-2", pub)

	e.Error(context.Background(), errBoom{})
	if captured == nil || captured.Details == nil || captured.Details.Error != "boom" {
		t.Fatalf("captured = %#v", captured)
	}
}

func TestStatsCollectorAccumulatesFromSubscription(t *testing.T) {
	b := New()
	sub := b.Subscribe()
	collector := NewStatsCollector("run-3")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		collector.Run(ctx, sub)
		close(done)
	}()

	b.Publish(aoftypes.NewActivityEvent(aoftypes.ActivityToolExecuting, "tool", nil))
	b.Publish(aoftypes.NewActivityEvent(aoftypes.ActivityToolFailed, "tool failed", nil))
	b.Publish(aoftypes.NewActivityEvent(aoftypes.ActivityCancelled, "cancelled", nil))

	time.Sleep(50 * time.Millisecond)
	cancel()
	<-done

	stats := collector.Stats()
	if stats.ToolCalls != 1 || stats.ToolFailures != 1 || stats.Errors != 1 || !stats.Cancelled {
		t.Fatalf("stats = %#v", stats)
	}
}

type publisherFunc func(*aoftypes.ActivityEvent)

func (f publisherFunc) Publish(ev *aoftypes.ActivityEvent) { f(ev) }

type errBoom struct{}

func (errBoom) Error() string { return "boom" }
