package schedule

import (
	"time"

	"github.com/jonboulle/clockwork"

	logx "cadence/pkg/logx"
)

// Option configures a Scheduler.
type Option func(*Scheduler)

func WithLogger(log logx.Logger) Option {
	return func(s *Scheduler) { s.log = log }
}

// WithLocation sets the default location for rules without an explicit zone.
func WithLocation(loc *time.Location) Option {
	return func(s *Scheduler) { s.loc = loc }
}

// WithZoneResolver replaces DefaultZones for At zone tokens.
func WithZoneResolver(r ZoneResolver) Option {
	return func(s *Scheduler) {
		if r != nil {
			s.zones = r
		}
	}
}

// WithClock sets the clock used when no explicit instant is given
// (Do, RunPending, RunAll) and for measuring run durations.
func WithClock(c clockwork.Clock) Option {
	return func(s *Scheduler) {
		if c != nil {
			s.clock = c
		}
	}
}

func WithErrorPolicy(p ErrorPolicy) Option {
	return func(s *Scheduler) { s.policy = p }
}

// WithObserver installs a callback invoked synchronously for job lifecycle events.
func WithObserver(fn func(Event)) Option {
	return func(s *Scheduler) { s.observer = fn }
}
