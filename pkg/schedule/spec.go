package schedule

import (
	"strings"
	"time"
)

// Spec is a validated recurrence rule. Build one with a Builder; a Spec
// obtained that way is never mutated afterwards.
type Spec struct {
	Unit     Unit
	Interval int

	// At overrides the clock of every run (Day and Week units only).
	At *Clock
	// ZoneName is the zone token given to At, kept for display.
	ZoneName string
	// Location is where calendar arithmetic happens. Nil means the
	// location of the instant passed to NextRun.
	Location *time.Location

	// Weekdays holds OR-groups; a date qualifies when its weekday is in
	// every group (Week unit only).
	Weekdays [][]time.Weekday
	Window   *Window
	Starting *Date

	Tags []string
}

// Validate checks the joint invariants of the rule.
func (s Spec) Validate() error {
	if s.Unit == unitNone {
		return configErrorf("a unit is required (seconds, minutes, hours, days or weeks)")
	}
	if s.Interval < 1 {
		return configErrorf("interval must be >= 1, got %d", s.Interval)
	}
	if s.At != nil && s.Unit != Day && s.Unit != Week {
		return configErrorf("at() is only valid for daily or weekly jobs, unit is %s", s.Unit)
	}
	if len(s.Weekdays) > 0 {
		if s.Unit != Week {
			return configErrorf("weekday constraints are only valid for weekly jobs, unit is %s", s.Unit)
		}
		if _, ok := s.allowedDays(); !ok {
			return configErrorf("weekday slots %s can never match the same day", formatGroups(s.Weekdays))
		}
	}
	if s.Window != nil {
		if s.Window.End.seconds() <= s.Window.Start.seconds() {
			return configErrorf("window end %s must be after start %s", s.Window.End, s.Window.Start)
		}
		if s.At != nil && !s.Window.Contains(*s.At) {
			return configErrorf("time %s lies outside window %s", *s.At, *s.Window)
		}
	}
	return nil
}

// allowedDays intersects all OR-groups. ok is false when nothing survives.
func (s Spec) allowedDays() (allowed [7]bool, ok bool) {
	for i := range allowed {
		allowed[i] = true
	}
	for _, g := range s.Weekdays {
		var in [7]bool
		for _, wd := range g {
			in[wd] = true
		}
		for i := range allowed {
			allowed[i] = allowed[i] && in[i]
		}
	}
	for _, in := range allowed {
		if in {
			return allowed, true
		}
	}
	return allowed, false
}

func (s Spec) String() string {
	var b strings.Builder
	b.WriteString("every ")
	b.WriteString(s.Unit.plural(s.Interval))
	if s.At != nil {
		b.WriteString(" at ")
		b.WriteString(s.At.String())
		if s.ZoneName != "" {
			b.WriteString(" ")
			b.WriteString(s.ZoneName)
		}
	}
	if len(s.Weekdays) > 0 {
		b.WriteString(" on ")
		b.WriteString(formatGroups(s.Weekdays))
	}
	if s.Window != nil {
		b.WriteString(" between ")
		b.WriteString(s.Window.String())
	}
	if s.Starting != nil {
		b.WriteString(" starting ")
		b.WriteString(s.Starting.String())
	}
	return b.String()
}

func formatGroups(groups [][]time.Weekday) string {
	slots := make([]string, 0, len(groups))
	for _, g := range groups {
		names := make([]string, 0, len(g))
		for _, wd := range g {
			names = append(names, wd.String())
		}
		slots = append(slots, strings.Join(names, "|"))
	}
	return strings.Join(slots, ", ")
}
