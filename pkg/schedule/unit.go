package schedule

import (
	"fmt"
	"strings"
	"time"
)

// Unit is the granularity of a recurrence.
type Unit int

const (
	unitNone Unit = iota
	Second
	Minute
	Hour
	Day
	Week
)

func (u Unit) String() string {
	switch u {
	case Second:
		return "second"
	case Minute:
		return "minute"
	case Hour:
		return "hour"
	case Day:
		return "day"
	case Week:
		return "week"
	default:
		return "unset"
	}
}

// ParseUnit accepts singular or plural unit names, case-insensitively.
func ParseUnit(s string) (Unit, error) {
	switch strings.TrimSuffix(strings.ToLower(strings.TrimSpace(s)), "s") {
	case "second":
		return Second, nil
	case "minute":
		return Minute, nil
	case "hour":
		return Hour, nil
	case "day":
		return Day, nil
	case "week":
		return Week, nil
	}
	return unitNone, parseErrorf("unknown unit %q (use second, minute, hour, day or week)", s)
}

// fixed returns the duration of one unit for wall-clock independent units.
func (u Unit) fixed() (time.Duration, bool) {
	switch u {
	case Second:
		return time.Second, true
	case Minute:
		return time.Minute, true
	case Hour:
		return time.Hour, true
	}
	return 0, false
}

// days returns the number of calendar days in one unit (day and week only).
func (u Unit) days() int {
	if u == Week {
		return 7
	}
	return 1
}

func (u Unit) plural(n int) string {
	if n == 1 {
		return u.String()
	}
	return fmt.Sprintf("%d %ss", n, u.String())
}
