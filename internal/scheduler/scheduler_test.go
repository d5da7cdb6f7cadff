package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/agenticdevops/aof/internal/aoftypes"
	"github.com/agenticdevops/aof/internal/triggerrouter"
)

type fakeTriggers struct {
	triggers []*aoftypes.Trigger
}

func (f *fakeTriggers) GetAll() []*aoftypes.Trigger { return f.triggers }

type fakeRouter struct {
	match triggerrouter.Match
	ok    bool
	calls int
}

func (f *fakeRouter) RouteBest(platform string, msg triggerrouter.Message) (triggerrouter.Match, bool) {
	f.calls++
	return f.match, f.ok
}

type fakeSubmitter struct {
	tasks []*aoftypes.Task
}

func (f *fakeSubmitter) Submit(ctx context.Context, task *aoftypes.Task) (string, error) {
	f.tasks = append(f.tasks, task)
	return "task-1", nil
}

func scheduleTrigger(t *testing.T, name, cron string) *aoftypes.Trigger {
	t.Helper()
	return &aoftypes.Trigger{
		MetadataField: aoftypes.Metadata{Name: name},
		Spec: aoftypes.TriggerSpec{
			Platform: "schedule",
			Schedule: &aoftypes.TriggerScheduleSpec{Cron: cron},
		},
	}
}

func matchForAgent(triggerName, agentName string) triggerrouter.Match {
	return triggerrouter.Match{
		Trigger: &aoftypes.Trigger{MetadataField: aoftypes.Metadata{Name: triggerName}},
		Binding: &aoftypes.FlowBinding{
			MetadataField: aoftypes.Metadata{Name: triggerName + "-binding"},
			Spec:          aoftypes.FlowBindingSpec{Agent: agentName},
		},
	}
}

func TestFirstTickArmsWithoutFiring(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	trigger := scheduleTrigger(t, "daily", "* * * * *")
	router := &fakeRouter{match: matchForAgent("daily", "reporter"), ok: true}
	sub := &fakeSubmitter{}

	s := New(&fakeTriggers{triggers: []*aoftypes.Trigger{trigger}}, router, sub, WithNow(func() time.Time { return now }))

	if fired := s.RunOnce(context.Background()); fired != 0 {
		t.Fatalf("RunOnce() = %d on first tick, want 0 (schedule should only arm)", fired)
	}
	if len(sub.tasks) != 0 {
		t.Fatalf("expected no task submitted on first tick, got %d", len(sub.tasks))
	}
}

func TestFiresOnceCronBecomesDue(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	trigger := scheduleTrigger(t, "daily", "* * * * *")
	router := &fakeRouter{match: matchForAgent("daily", "reporter"), ok: true}
	sub := &fakeSubmitter{}

	clock := now
	s := New(&fakeTriggers{triggers: []*aoftypes.Trigger{trigger}}, router, sub, WithNow(func() time.Time { return clock }))

	s.RunOnce(context.Background())

	clock = clock.Add(time.Minute)
	if fired := s.RunOnce(context.Background()); fired != 1 {
		t.Fatalf("RunOnce() = %d after cron interval elapsed, want 1", fired)
	}
	if len(sub.tasks) != 1 {
		t.Fatalf("len(tasks) = %d, want 1", len(sub.tasks))
	}
	task := sub.tasks[0]
	if task.AgentRef != "reporter" || task.ResourceKind != aoftypes.ResourceAgent {
		t.Fatalf("task = %+v, want agent ref reporter", task)
	}

	clock = clock.Add(30 * time.Second)
	if fired := s.RunOnce(context.Background()); fired != 0 {
		t.Fatalf("RunOnce() = %d before the next minute, want 0 (should not refire)", fired)
	}
}

func TestSkipsNonScheduleTriggers(t *testing.T) {
	webhookTrigger := &aoftypes.Trigger{
		MetadataField: aoftypes.Metadata{Name: "slack-hook"},
		Spec:          aoftypes.TriggerSpec{Platform: "slack"},
	}
	router := &fakeRouter{}
	sub := &fakeSubmitter{}

	s := New(&fakeTriggers{triggers: []*aoftypes.Trigger{webhookTrigger}}, router, sub)
	if fired := s.RunOnce(context.Background()); fired != 0 {
		t.Fatalf("RunOnce() = %d, want 0 for a non-schedule trigger", fired)
	}
	if router.calls != 0 {
		t.Fatalf("router.calls = %d, want 0: scheduler should never route a non-schedule trigger", router.calls)
	}
}

func TestInvalidCronIsSkippedNotFatal(t *testing.T) {
	trigger := scheduleTrigger(t, "bad", "not a cron expression")
	router := &fakeRouter{}
	sub := &fakeSubmitter{}

	s := New(&fakeTriggers{triggers: []*aoftypes.Trigger{trigger}}, router, sub)
	if fired := s.RunOnce(context.Background()); fired != 0 {
		t.Fatalf("RunOnce() = %d, want 0 for an unparseable cron expression", fired)
	}
}

func TestUnmatchedFireDoesNotSubmit(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	trigger := scheduleTrigger(t, "daily", "* * * * *")
	router := &fakeRouter{ok: false}
	sub := &fakeSubmitter{}

	clock := now
	s := New(&fakeTriggers{triggers: []*aoftypes.Trigger{trigger}}, router, sub, WithNow(func() time.Time { return clock }))
	s.RunOnce(context.Background())
	clock = clock.Add(time.Minute)
	s.RunOnce(context.Background())

	if len(sub.tasks) != 0 {
		t.Fatalf("expected no task submitted when no binding matches, got %d", len(sub.tasks))
	}
}

func TestStartStopIsIdempotentOnNilScheduler(t *testing.T) {
	var s *Scheduler
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start on nil scheduler: %v", err)
	}
	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("Stop on nil scheduler: %v", err)
	}
}

func TestStartStopStopsTickLoop(t *testing.T) {
	s := New(&fakeTriggers{}, &fakeRouter{}, &fakeSubmitter{}, WithTickInterval(5*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	cancel()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), time.Second)
	defer stopCancel()
	if err := s.Stop(stopCtx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}
