package schedule

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ZoneResolver maps a zone token (as written after an At time) to a location.
type ZoneResolver interface {
	Resolve(name string) (*time.Location, error)
}

// ZoneResolverFunc adapts a function to ZoneResolver.
type ZoneResolverFunc func(name string) (*time.Location, error)

func (f ZoneResolverFunc) Resolve(name string) (*time.Location, error) { return f(name) }

// abbreviations are fixed-offset zones for the common tokens that the IANA
// database does not know as location names.
var abbreviations = map[string]int{
	"UTC": 0, "GMT": 0, "Z": 0,
	"WET": 0, "WEST": 1 * 3600,
	"CET": 1 * 3600, "CEST": 2 * 3600,
	"BST": 1 * 3600,
	"EET": 2 * 3600, "EEST": 3 * 3600,
	"MSK": 3 * 3600,
	"IST": 5*3600 + 1800,
	"WIB": 7 * 3600,
	"SGT": 8 * 3600,
	"JST": 9 * 3600, "KST": 9 * 3600,
	"AEST": 10 * 3600, "AEDT": 11 * 3600,
	"NZST": 12 * 3600, "NZDT": 13 * 3600,
	"AST": -4 * 3600, "ADT": -3 * 3600,
	"EST": -5 * 3600, "EDT": -4 * 3600,
	"CST": -6 * 3600, "CDT": -5 * 3600,
	"MST": -7 * 3600, "MDT": -6 * 3600,
	"PST": -8 * 3600, "PDT": -7 * 3600,
	"AKST": -9 * 3600, "AKDT": -8 * 3600,
	"HST": -10 * 3600,
}

var reOffset = regexp.MustCompile(`^(?:UTC|GMT)?([+-])(\d{1,2})(?::?(\d{2}))?$`)

// DefaultZones resolves IANA names ("Europe/Berlin"), "Local", common
// abbreviations ("PDT", "CET") and numeric offsets ("+02:00", "UTC-5").
var DefaultZones ZoneResolver = ZoneResolverFunc(resolveZone)

func resolveZone(name string) (*time.Location, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, parseErrorf("empty zone")
	}
	if off, ok := abbreviations[strings.ToUpper(name)]; ok {
		return time.FixedZone(strings.ToUpper(name), off), nil
	}
	if m := reOffset.FindStringSubmatch(strings.ToUpper(name)); m != nil {
		h, _ := strconv.Atoi(m[2])
		mi := 0
		if m[3] != "" {
			mi, _ = strconv.Atoi(m[3])
		}
		if h > 14 || mi > 59 {
			return nil, parseErrorf("invalid zone offset %q", name)
		}
		off := h*3600 + mi*60
		if m[1] == "-" {
			off = -off
		}
		return time.FixedZone(name, off), nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, parseErrorf("unknown zone %q", name)
	}
	return loc, nil
}
