package schedule

import (
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// cronSchedule adapts a Spec to cron.Schedule.
//
// cron calls Next once with the start instant and afterwards with the
// instant the entry last fired, which is exactly the lastRun NextRun wants.
type cronSchedule struct {
	spec Spec

	mu      sync.Mutex
	started bool
}

var _ cron.Schedule = (*cronSchedule)(nil)

// CronSchedule wraps spec for use with cron.Cron.Schedule. Each call
// returns a fresh adapter; do not share one between entries.
func CronSchedule(spec Spec) (cron.Schedule, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	return &cronSchedule{spec: spec}, nil
}

// Next returns the zero time when the rule cannot be satisfied, which makes
// cron stop running the entry.
func (c *cronSchedule) Next(t time.Time) time.Time {
	c.mu.Lock()
	var last time.Time
	if c.started {
		last = t
	}
	c.started = true
	c.mu.Unlock()

	next, err := NextRun(t, c.spec, last)
	if err != nil {
		return time.Time{}
	}
	return next
}
