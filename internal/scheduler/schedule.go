// Package scheduler fires "schedule"-platform Triggers on their
// configured cadence, feeding a synthetic Message through the same
// triggerrouter.Router/Submitter path a platform webhook uses. Grounded
// on the teacher's internal/cron/schedule.go (robfig/cron/v3-backed
// Schedule.Next) and internal/cron/scheduler.go (ticker-driven
// Start/Stop loop), narrowed from arbitrary job configs to Trigger
// resources.
package scheduler

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

var cronParser = cron.NewParser(
	cron.SecondOptional |
		cron.Minute |
		cron.Hour |
		cron.Dom |
		cron.Month |
		cron.Dow |
		cron.Descriptor,
)

// Schedule is a parsed cron expression bound to a timezone, able to
// report its own next firing time after a given instant.
type Schedule struct {
	expr     string
	timezone string
	schedule cron.Schedule
}

// NewSchedule parses expr (standard five-field, or six-field with a
// leading seconds field, or a "@every"/"@daily"-style descriptor) and
// binds it to timezone. An empty timezone means the location of the time
// passed to Next (the local zone with the Scheduler's default clock).
func NewSchedule(expr, timezone string) (Schedule, error) {
	if expr == "" {
		return Schedule{}, fmt.Errorf("cron expression is required")
	}
	parsed, err := cronParser.Parse(expr)
	if err != nil {
		return Schedule{}, fmt.Errorf("parse cron expression %q: %w", expr, err)
	}
	return Schedule{expr: expr, timezone: timezone, schedule: parsed}, nil
}

// Next returns the first firing time strictly after now.
func (s Schedule) Next(now time.Time) time.Time {
	loc := now.Location()
	if s.timezone != "" {
		if tz, err := time.LoadLocation(s.timezone); err == nil {
			loc = tz
		}
	}
	return s.schedule.Next(now.In(loc))
}
