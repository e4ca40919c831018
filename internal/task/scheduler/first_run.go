package scheduler

import (
	"time"

	"github.com/robfig/cron/v3"
)

// firstRunSchedule overrides the first activation of a base schedule. After
// the first run it delegates to the base schedule.
type firstRunSchedule struct {
	base  cron.Schedule
	first time.Time
}

func (s *firstRunSchedule) Next(t time.Time) time.Time {
	if !s.first.IsZero() && t.Before(s.first) {
		return s.first
	}
	return s.base.Next(t)
}

// intervalSchedule fires every `every`, first after firstDelay (or after
// `every` when firstDelay <= 0). Cron works at second granularity, so both are
// rounded up to a whole second.
func intervalSchedule(every, firstDelay time.Duration, now time.Time) cron.Schedule {
	base := cron.Every(every)
	if firstDelay <= 0 {
		return base
	}
	return &firstRunSchedule{base: base, first: now.Add(firstDelay).Truncate(time.Second).Add(time.Second)}
}
