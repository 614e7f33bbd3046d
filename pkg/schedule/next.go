package schedule

import "time"

// maxResolveRounds bounds the weekday/window/lower-bound fixed point.
const maxResolveRounds = 366

// NextRun computes the next eligible instant for spec. lastRun is the
// previous execution instant, or the zero time when the job never ran.
// The result is always strictly after now and is expressed in the spec's
// location (or now's location when the spec has none).
//
// NextRun is pure: the same arguments always give the same answer.
func NextRun(now time.Time, spec Spec, lastRun time.Time) (time.Time, error) {
	if err := spec.Validate(); err != nil {
		return time.Time{}, err
	}
	c := newCalc(now, spec)
	cand, err := c.base(lastRun)
	if err != nil {
		return time.Time{}, err
	}
	return c.resolve(cand)
}

type calc struct {
	spec    Spec
	loc     *time.Location
	now     time.Time
	allowed [7]bool
}

func newCalc(now time.Time, spec Spec) calc {
	loc := spec.Location
	if loc == nil {
		loc = now.Location()
	}
	c := calc{spec: spec, loc: loc, now: now.In(loc)}
	if len(spec.Weekdays) > 0 {
		c.allowed, _ = spec.allowedDays()
	}
	return c
}

func (c calc) hasWeekdays() bool { return len(c.spec.Weekdays) > 0 }

// base performs the interval advance and past-due correction.
func (c calc) base(lastRun time.Time) (time.Time, error) {
	var cand time.Time
	switch {
	case !lastRun.IsZero():
		cand = c.advance(lastRun.In(c.loc), 1)
	case c.hasWeekdays():
		// First run of a weekday job: nearest qualifying day, not a full
		// interval away.
		return c.firstWeekdayRun()
	case c.spec.At != nil:
		// First run of an At job may still happen today.
		cand = c.spec.At.on(c.now, c.loc)
	default:
		cand = c.advance(c.now, 1)
	}
	return c.catchUp(cand), nil
}

// advance moves t forward by n intervals. Day and week units use calendar
// arithmetic so the wall clock survives DST changes; At is re-applied.
func (c calc) advance(t time.Time, n int) time.Time {
	if d, ok := c.spec.Unit.fixed(); ok {
		return t.Add(time.Duration(n*c.spec.Interval) * d)
	}
	t = t.In(c.loc)
	y, m, d := t.Date()
	hh, mm, ss := t.Clock()
	out := time.Date(y, m, d+n*c.spec.Interval*c.spec.Unit.days(), hh, mm, ss, t.Nanosecond(), c.loc)
	if c.spec.At != nil {
		out = c.spec.At.on(out, c.loc)
	}
	return out
}

// catchUp skips whole intervals until cand is strictly after now.
func (c calc) catchUp(cand time.Time) time.Time {
	if cand.After(c.now) {
		return cand
	}
	if d, ok := c.spec.Unit.fixed(); ok {
		p := time.Duration(c.spec.Interval) * d
		k := c.now.Sub(cand)/p + 1
		return cand.Add(k * p)
	}
	step := c.spec.Interval * c.spec.Unit.days()
	if k := int(c.now.Sub(cand).Hours()/24) / step; k > 1 {
		cand = c.advance(cand, k-1)
	}
	for !cand.After(c.now) {
		cand = c.advance(cand, 1)
	}
	return cand
}

func (c calc) firstWeekdayRun() (time.Time, error) {
	t := c.now
	if c.spec.At != nil {
		t = c.spec.At.on(c.now, c.loc)
	} else if w := c.spec.Window; w != nil && clockOf(t).seconds() < w.Start.seconds() {
		t = w.Start.on(t, c.loc)
	}
	for i := 0; i <= 7; i++ {
		if c.allowed[t.Weekday()] && t.After(c.now) {
			return t, nil
		}
		t = c.nextDay(t)
	}
	return time.Time{}, unsatisfiablef("no day within a week matches %s", formatGroups(c.spec.Weekdays))
}

// nextDay moves t to the following calendar day. The clock becomes At when
// set; otherwise it is kept, or moved to the window start when it falls
// outside the window.
func (c calc) nextDay(t time.Time) time.Time {
	t = t.In(c.loc)
	y, m, d := t.Date()
	clock, ns := clockOf(t), t.Nanosecond()
	switch {
	case c.spec.At != nil:
		clock, ns = *c.spec.At, 0
	case c.spec.Window != nil && !c.spec.Window.Contains(clock):
		clock, ns = c.spec.Window.Start, 0
	}
	return time.Date(y, m, d+1, clock.Hour, clock.Minute, clock.Second, ns, c.loc)
}

// resolve applies weekday, window and lower-bound constraints until none
// of them moves the candidate any more. Every step only moves forward.
func (c calc) resolve(cand time.Time) (time.Time, error) {
	for round := 0; round < maxResolveRounds; round++ {
		before := cand
		var err error
		if cand, err = c.matchWeekday(cand); err != nil {
			return time.Time{}, err
		}
		cand = c.clampWindow(cand)
		cand = c.lowerBound(cand)
		if cand.Equal(before) {
			return cand, nil
		}
	}
	return time.Time{}, unsatisfiablef("no run satisfies %q within %d rounds", c.spec.String(), maxResolveRounds)
}

func (c calc) matchWeekday(t time.Time) (time.Time, error) {
	if !c.hasWeekdays() {
		return t, nil
	}
	limit := 7 * c.spec.Interval
	for i := 0; i <= limit; i++ {
		if c.allowed[t.In(c.loc).Weekday()] {
			return t, nil
		}
		t = c.nextDay(t)
	}
	return time.Time{}, unsatisfiablef("no day within %d days matches %s", limit, formatGroups(c.spec.Weekdays))
}

func (c calc) clampWindow(t time.Time) time.Time {
	w := c.spec.Window
	if w == nil {
		return t
	}
	t = t.In(c.loc)
	s := clockOf(t).seconds()
	switch {
	case s < w.Start.seconds():
		return w.Start.on(t, c.loc)
	case s >= w.End.seconds():
		y, m, d := t.Date()
		return time.Date(y, m, d+1, w.Start.Hour, w.Start.Minute, w.Start.Second, 0, c.loc)
	}
	return t
}

// lowerBound advances t by whole intervals until it is not before the
// starting date.
func (c calc) lowerBound(t time.Time) time.Time {
	if c.spec.Starting == nil {
		return t
	}
	floor := c.spec.Starting.Midnight(c.loc)
	if !t.Before(floor) {
		return t
	}
	if d, ok := c.spec.Unit.fixed(); ok {
		p := time.Duration(c.spec.Interval) * d
		k := (floor.Sub(t) + p - 1) / p
		return t.Add(k * p)
	}
	step := c.spec.Interval * c.spec.Unit.days()
	if k := int(floor.Sub(t).Hours()/24) / step; k > 1 {
		t = c.advance(t, k-1)
	}
	for t.Before(floor) {
		t = c.advance(t, 1)
	}
	return t
}
