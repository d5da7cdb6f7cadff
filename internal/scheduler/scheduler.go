package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/agenticdevops/aof/internal/aoftypes"
	"github.com/agenticdevops/aof/internal/triggerrouter"
)

const defaultTickInterval = time.Second

// TriggerLister returns every registered Trigger, so the Scheduler can
// discover "schedule"-platform Triggers without its own registration
// API — a Trigger YAML file is the only configuration surface.
type TriggerLister interface {
	GetAll() []*aoftypes.Trigger
}

// Router is the subset of *triggerrouter.Router the Scheduler needs:
// resolving a synthetic tick into the FlowBinding it should dispatch.
type Router interface {
	RouteBest(platform string, msg triggerrouter.Message) (triggerrouter.Match, bool)
}

// Submitter is the subset of *orchestrator.Orchestrator the Scheduler
// calls, matching internal/webhook's Submitter so both can share an
// Orchestrator without an import cycle.
type Submitter interface {
	Submit(ctx context.Context, task *aoftypes.Task) (string, error)
}

// Scheduler fires due "schedule"-platform Triggers on a ticker,
// resolving each through router and submitting the matched binding's
// target as a Task. Grounded on the teacher's internal/cron.Scheduler
// ticker-loop/Start/Stop shape, narrowed to Trigger resources instead
// of arbitrary job configs.
type Scheduler struct {
	triggers  TriggerLister
	router    Router
	submitter Submitter
	logger    *slog.Logger

	tickInterval time.Duration
	now          func() time.Time

	mu        sync.Mutex
	schedules map[string]scheduledTrigger
	started   bool
	wg        sync.WaitGroup
}

type scheduledTrigger struct {
	cronExpr string
	schedule Schedule
	nextRun  time.Time
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger overrides the default slog logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithTickInterval overrides how often the Scheduler checks for due
// triggers. Tests use this to avoid a real one-second wait.
func WithTickInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.tickInterval = d
		}
	}
}

// WithNow overrides the Scheduler's clock, for deterministic tests.
func WithNow(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// New returns a Scheduler over triggers, resolving due fires through
// router and dispatching them via submitter.
func New(triggers TriggerLister, router Router, submitter Submitter, opts ...Option) *Scheduler {
	s := &Scheduler{
		triggers:     triggers,
		router:       router,
		submitter:    submitter,
		logger:       slog.Default(),
		tickInterval: defaultTickInterval,
		now:          time.Now,
		schedules:    make(map[string]scheduledTrigger),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start runs the tick loop in a goroutine until ctx is canceled. Safe
// to call on a nil Scheduler (a deployment with no schedule Triggers
// need not construct one).
func (s *Scheduler) Start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.tickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.runDue(ctx)
			}
		}
	}()
	return nil
}

// Stop waits for the tick loop to exit, or ctx to expire first.
func (s *Scheduler) Stop(ctx context.Context) error {
	if s == nil {
		return nil
	}
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunOnce evaluates every schedule Trigger once and fires those due,
// returning how many fired. Exported for tests that don't want to wait
// on a real ticker.
func (s *Scheduler) RunOnce(ctx context.Context) int {
	if s == nil {
		return 0
	}
	return s.runDue(ctx)
}

func (s *Scheduler) runDue(ctx context.Context) int {
	now := s.now()
	fired := 0

	for _, trigger := range s.triggers.GetAll() {
		if trigger.Spec.Platform != "schedule" || trigger.Spec.Schedule == nil {
			continue
		}
		name := trigger.MetadataField.Name

		sched, due, err := s.dueSchedule(name, trigger.Spec.Schedule, now)
		if err != nil {
			s.logger.Warn("schedule trigger has invalid cron expression", "trigger", name, "error", err)
			continue
		}
		if !due {
			continue
		}

		s.fire(ctx, trigger, now)
		fired++

		s.mu.Lock()
		sched.nextRun = sched.schedule.Next(now)
		s.schedules[name] = sched
		s.mu.Unlock()
	}

	return fired
}

// dueSchedule returns the cached Schedule for a trigger (reparsing if
// its cron expression changed since last seen) and whether it is due to
// fire at now. The first time a trigger is seen, its next run is
// computed but it is not considered due yet, so a Scheduler that starts
// mid-minute doesn't immediately fire every configured trigger.
func (s *Scheduler) dueSchedule(name string, cfg *aoftypes.TriggerScheduleSpec, now time.Time) (scheduledTrigger, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sched, ok := s.schedules[name]
	if !ok || sched.cronExpr != cfg.Cron {
		parsed, err := NewSchedule(cfg.Cron, cfg.Timezone)
		if err != nil {
			return scheduledTrigger{}, false, err
		}
		sched = scheduledTrigger{cronExpr: cfg.Cron, schedule: parsed, nextRun: parsed.Next(now)}
		s.schedules[name] = sched
		return sched, false, nil
	}

	if sched.nextRun.IsZero() || now.Before(sched.nextRun) {
		return sched, false, nil
	}
	return sched, true, nil
}

// fire synthesizes a schedule-platform Message for trigger, routes it,
// and submits the matched binding's target as a Task. A trigger with no
// matching FlowBinding logs and is skipped, matching how an unrouted
// webhook event is silently dropped.
func (s *Scheduler) fire(ctx context.Context, trigger *aoftypes.Trigger, now time.Time) {
	msg := triggerrouter.Message{
		Event: "schedule.tick",
		Text:  trigger.MetadataField.Name,
		Metadata: map[string]any{
			"trigger":      trigger.MetadataField.Name,
			"scheduled_at": now.Format(time.RFC3339),
		},
	}

	match, ok := s.router.RouteBest("schedule", msg)
	if !ok {
		s.logger.Warn("schedule trigger fired with no matching binding", "trigger", trigger.MetadataField.Name)
		return
	}

	execCtx := match.Resolve(msg)
	task := &aoftypes.Task{
		Name:         execCtx.TriggerName,
		ResourceKind: aoftypes.ResourceKind(execCtx.TargetKind),
		AgentRef:     execCtx.TargetName,
		Input:        fmt.Sprintf("scheduled trigger %q fired at %s", trigger.MetadataField.Name, now.Format(time.RFC3339)),
	}

	if _, err := s.submitter.Submit(ctx, task); err != nil {
		s.logger.Warn("failed to submit scheduled task", "trigger", trigger.MetadataField.Name, "error", err)
	}
}
