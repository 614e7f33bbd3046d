package schedule

import (
	"slices"
	"strings"
	"time"
)

// Builder accumulates a recurrence rule. It is a value: every method
// returns a modified copy and never touches the receiver, so a partial
// rule can be reused as a template.
//
// The first failing call is remembered; later calls are ignored and Err,
// Build and Do report that error.
type Builder struct {
	sched *Scheduler
	zones ZoneResolver

	spec       Spec
	name       string
	unitChosen bool
	err        error
}

// Every starts an unbound rule with the given interval. Use Build to get
// the Spec, or Scheduler.Every to register jobs.
func Every(n int) Builder {
	b := Builder{zones: DefaultZones, spec: Spec{Interval: n}}
	if n < 1 {
		b.err = configErrorf("interval must be >= 1, got %d", n)
	}
	return b
}

// On is shorthand for Every(1).Weeks().On(tokens...).
func On(tokens ...string) Builder {
	return Every(1).Weeks().On(tokens...)
}

// Err returns the first error recorded by the chain, if any.
func (b Builder) Err() error { return b.err }

func (b Builder) clone() Builder {
	b.spec.Weekdays = slices.Clone(b.spec.Weekdays)
	b.spec.Tags = slices.Clone(b.spec.Tags)
	return b
}

func (b Builder) fail(err error) Builder {
	b.err = err
	return b
}

func (b Builder) unit(u Unit) Builder {
	if b.err != nil {
		return b
	}
	if b.unitChosen {
		return b.fail(configErrorf("unit already set to %s, cannot change it to %s", b.spec.Unit, u))
	}
	if b.spec.Unit != unitNone && b.spec.Unit != u {
		return b.fail(configErrorf("weekday shortcuts imply weekly jobs, cannot use unit %s", u))
	}
	b = b.clone()
	b.spec.Unit = u
	b.unitChosen = true
	return b
}

func (b Builder) Second() Builder  { return b.unit(Second) }
func (b Builder) Seconds() Builder { return b.unit(Second) }
func (b Builder) Minute() Builder  { return b.unit(Minute) }
func (b Builder) Minutes() Builder { return b.unit(Minute) }
func (b Builder) Hour() Builder    { return b.unit(Hour) }
func (b Builder) Hours() Builder   { return b.unit(Hour) }
func (b Builder) Day() Builder     { return b.unit(Day) }
func (b Builder) Days() Builder    { return b.unit(Day) }
func (b Builder) Week() Builder    { return b.unit(Week) }
func (b Builder) Weeks() Builder   { return b.unit(Week) }

// weekday adds a single-day group, selecting the week unit when none is set.
func (b Builder) weekday(wd time.Weekday) Builder {
	if b.err != nil {
		return b
	}
	if b.spec.Unit != unitNone && b.spec.Unit != Week {
		return b.fail(configErrorf("%s() needs a weekly job, unit is %s", wd, b.spec.Unit))
	}
	b = b.clone()
	b.spec.Unit = Week
	b.spec.Weekdays = append(b.spec.Weekdays, []time.Weekday{wd})
	return b
}

func (b Builder) Monday() Builder    { return b.weekday(time.Monday) }
func (b Builder) Tuesday() Builder   { return b.weekday(time.Tuesday) }
func (b Builder) Wednesday() Builder { return b.weekday(time.Wednesday) }
func (b Builder) Thursday() Builder  { return b.weekday(time.Thursday) }
func (b Builder) Friday() Builder    { return b.weekday(time.Friday) }
func (b Builder) Saturday() Builder  { return b.weekday(time.Saturday) }
func (b Builder) Sunday() Builder    { return b.weekday(time.Sunday) }

// At sets the clock of every run: "HH:MM" or "HH:MM:SS", optionally
// followed by a zone token ("09:00 PDT"). The zone may also be passed as
// the second argument, but not both ways.
func (b Builder) At(clock string, zone ...string) Builder {
	if b.err != nil {
		return b
	}
	if b.spec.Unit != Day && b.spec.Unit != Week {
		return b.fail(configErrorf("at() is only valid for daily or weekly jobs, unit is %s", b.spec.Unit))
	}
	c, name, err := ParseClock(clock)
	if err != nil {
		return b.fail(err)
	}
	switch {
	case len(zone) > 1:
		return b.fail(configErrorf("at() takes one zone, got %d", len(zone)))
	case len(zone) == 1 && name != "":
		return b.fail(configErrorf("zone given twice: %q and %q", name, zone[0]))
	case len(zone) == 1:
		name = zone[0]
	}

	b = b.clone()
	if name != "" {
		zones := b.zones
		if zones == nil {
			zones = DefaultZones
		}
		loc, err := zones.Resolve(name)
		if err != nil {
			return b.fail(err)
		}
		b.spec.Location = loc
		b.spec.ZoneName = name
	}
	b.spec.At = &c
	return b
}

// Starting sets the earliest date ("YYYY-MM-DD") a run may happen on.
func (b Builder) Starting(date string) Builder {
	if b.err != nil {
		return b
	}
	d, err := ParseDate(date)
	if err != nil {
		return b.fail(err)
	}
	b = b.clone()
	b.spec.Starting = &d
	return b
}

// On restricts a weekly job to weekdays. Each token is a weekday or an
// OR-group ("fri|sat"); separate tokens, like comma separated slots, must
// all match the same day.
func (b Builder) On(tokens ...string) Builder {
	if b.err != nil {
		return b
	}
	if b.spec.Unit != Week {
		return b.fail(configErrorf("on() is only valid for weekly jobs, unit is %s", b.spec.Unit))
	}
	groups, err := ParseWeekdayGroups(tokens...)
	if err != nil {
		return b.fail(err)
	}
	b = b.clone()
	b.spec.Weekdays = append(b.spec.Weekdays, groups...)
	return b
}

// Between restricts runs to a daily window "HH:MM-HH:MM" (end exclusive).
func (b Builder) Between(window string) Builder {
	if b.err != nil {
		return b
	}
	w, err := ParseWindow(window)
	if err != nil {
		return b.fail(err)
	}
	if w.End.seconds() <= w.Start.seconds() {
		return b.fail(configErrorf("window end %s must be after start %s", w.End, w.Start))
	}
	b = b.clone()
	b.spec.Window = &w
	return b
}

// Tag attaches labels used by Scheduler.Clear and Job.HasTag.
func (b Builder) Tag(tags ...string) Builder {
	if b.err != nil {
		return b
	}
	b = b.clone()
	for _, t := range tags {
		if !slices.Contains(b.spec.Tags, t) {
			b.spec.Tags = append(b.spec.Tags, t)
		}
	}
	return b
}

// Named overrides the job name shown in logs, outcomes and Job.String.
// By default the name is derived from the callable.
func (b Builder) Named(name string) Builder {
	if b.err != nil {
		return b
	}
	b.name = strings.TrimSpace(name)
	return b
}

// Build validates the rule and returns it.
func (b Builder) Build() (Spec, error) {
	if b.err != nil {
		return Spec{}, b.err
	}
	if err := b.spec.Validate(); err != nil {
		return Spec{}, err
	}
	return b.clone().spec, nil
}

// Do validates the rule, binds fn to args and registers the job.
// If fn's first parameter is a context.Context it receives the poll context.
func (b Builder) Do(fn any, args ...any) (*Job, error) {
	spec, err := b.Build()
	if err != nil {
		return nil, err
	}
	if b.sched == nil {
		return nil, configErrorf("rule %q is not bound to a scheduler, use Scheduler.Every", spec.String())
	}
	return b.sched.add(spec, b.name, fn, args)
}
