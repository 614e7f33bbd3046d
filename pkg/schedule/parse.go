package schedule

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Clock is a time of day with second precision.
type Clock struct {
	Hour   int
	Minute int
	Second int
}

func (c Clock) String() string { return fmt.Sprintf("%02d:%02d:%02d", c.Hour, c.Minute, c.Second) }

func (c Clock) seconds() int { return c.Hour*3600 + c.Minute*60 + c.Second }

func clockOf(t time.Time) Clock {
	h, m, s := t.Clock()
	return Clock{Hour: h, Minute: m, Second: s}
}

// on returns the instant at clock c on t's calendar date, in loc.
func (c Clock) on(t time.Time, loc *time.Location) time.Time {
	y, mo, d := t.In(loc).Date()
	return time.Date(y, mo, d, c.Hour, c.Minute, c.Second, 0, loc)
}

// Window is a daily time-of-day range [Start, End).
type Window struct {
	Start Clock
	End   Clock
}

func (w Window) String() string { return w.Start.String() + "-" + w.End.String() }

// Contains reports whether c lies within [Start, End).
func (w Window) Contains(c Clock) bool {
	s := c.seconds()
	return s >= w.Start.seconds() && s < w.End.seconds()
}

// Date is a calendar date without a location.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

func (d Date) String() string { return fmt.Sprintf("%04d-%02d-%02d", d.Year, d.Month, d.Day) }

// Midnight returns the first instant of d in loc.
func (d Date) Midnight(loc *time.Location) time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, loc)
}

var (
	reClock  = regexp.MustCompile(`^(\d{1,2}):(\d{2})(?::(\d{2}))?(?:\s+(\S+))?$`)
	reWindow = regexp.MustCompile(`^(\d{1,2}:\d{2}(?::\d{2})?)\s*-\s*(\d{1,2}:\d{2}(?::\d{2})?)$`)
)

// ParseClock parses "HH:MM[:SS] [ZONE]". The zone token is returned verbatim
// (empty when absent); resolving it is up to a ZoneResolver.
func ParseClock(raw string) (Clock, string, error) {
	m := reClock.FindStringSubmatch(strings.TrimSpace(raw))
	if m == nil {
		return Clock{}, "", parseErrorf("invalid time %q (use HH:MM or HH:MM:SS, optionally followed by a zone)", raw)
	}
	h, _ := strconv.Atoi(m[1])
	mi, _ := strconv.Atoi(m[2])
	sec := 0
	if m[3] != "" {
		sec, _ = strconv.Atoi(m[3])
	}
	if h > 23 {
		return Clock{}, "", parseErrorf("invalid hour in %q", raw)
	}
	if mi > 59 {
		return Clock{}, "", parseErrorf("invalid minutes in %q", raw)
	}
	if sec > 59 {
		return Clock{}, "", parseErrorf("invalid seconds in %q", raw)
	}
	return Clock{Hour: h, Minute: mi, Second: sec}, m[4], nil
}

// ParseDate parses "YYYY-MM-DD".
func ParseDate(raw string) (Date, error) {
	t, err := time.Parse("2006-01-02", strings.TrimSpace(raw))
	if err != nil {
		return Date{}, parseErrorf("invalid date %q (use YYYY-MM-DD)", raw)
	}
	return Date{Year: t.Year(), Month: t.Month(), Day: t.Day()}, nil
}

// ParseWindow parses "HH:MM-HH:MM". Ordering of the bounds is checked by
// the builder, not here.
func ParseWindow(raw string) (Window, error) {
	m := reWindow.FindStringSubmatch(strings.TrimSpace(raw))
	if m == nil {
		return Window{}, parseErrorf("invalid window %q (use HH:MM-HH:MM)", raw)
	}
	start, zs, err := ParseClock(m[1])
	if err != nil {
		return Window{}, err
	}
	end, ze, err := ParseClock(m[2])
	if err != nil {
		return Window{}, err
	}
	if zs != "" || ze != "" {
		return Window{}, parseErrorf("window %q must not carry a zone", raw)
	}
	return Window{Start: start, End: end}, nil
}

var weekdayNames = [7]string{"sunday", "monday", "tuesday", "wednesday", "thursday", "friday", "saturday"}

// ParseWeekday accepts a full weekday name or a prefix of at least three
// letters, case-insensitively ("mon", "Frid", "SATURDAY").
func ParseWeekday(raw string) (time.Weekday, error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	if len(s) >= 3 {
		for i, name := range weekdayNames {
			if strings.HasPrefix(name, s) {
				return time.Weekday(i), nil
			}
		}
	}
	return 0, parseErrorf("unknown weekday %q", raw)
}

// ParseWeekdayGroups turns On() tokens into OR-groups. Each token may hold
// several comma-separated slots; each slot is a "|"-separated OR-group.
func ParseWeekdayGroups(tokens ...string) ([][]time.Weekday, error) {
	var groups [][]time.Weekday
	for _, tok := range tokens {
		for _, slot := range strings.Split(tok, ",") {
			if strings.TrimSpace(slot) == "" {
				return nil, parseErrorf("empty weekday slot in %q", tok)
			}
			var g []time.Weekday
			for _, name := range strings.Split(slot, "|") {
				wd, err := ParseWeekday(name)
				if err != nil {
					return nil, err
				}
				if !containsWeekday(g, wd) {
					g = append(g, wd)
				}
			}
			groups = append(groups, g)
		}
	}
	if len(groups) == 0 {
		return nil, parseErrorf("at least one weekday is required")
	}
	return groups, nil
}

func containsWeekday(g []time.Weekday, wd time.Weekday) bool {
	for _, v := range g {
		if v == wd {
			return true
		}
	}
	return false
}
