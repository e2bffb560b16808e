// Package calendar compiles cron-like when_* schedule fields into bitmasks
// and matches them against a wall-clock minute.
//
// Each when_* field has bounds (lo, hi); a compiled mask sets bit i iff
// value lo+i is scheduled. Matching a minute is then six cheap bitwise
// ANDs instead of six range scans, which is what makes per-minute matching
// against thousands of events affordable.
package calendar

import (
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Field identifies one of the six schedule dimensions.
type Field int

const (
	Year Field = iota
	Month
	Day
	Hour
	Minute
	DOW
	numFields
)

func (f Field) String() string {
	switch f {
	case Year:
		return "when_year"
	case Month:
		return "when_month"
	case Day:
		return "when_day"
	case Hour:
		return "when_hour"
	case Minute:
		return "when_minute"
	case DOW:
		return "when_dow"
	default:
		return "when_?"
	}
}

type bounds struct{ lo, hi int }

// Bounds holds the inclusive (lo, hi) range for each field, matching the
// original WHEN_MIN_MAX table.
var Bounds = [numFields]bounds{
	Year:   {2000, 2050},
	Month:  {1, 12},
	Day:    {1, 31},
	Hour:   {0, 23},
	Minute: {0, 59},
	DOW:    {0, 6},
}

// Mask is a bitmask over one field's rebased range. The year field needs
// 51 bits, so Mask is 64 bits wide.
type Mask uint64

// Full returns the universe bitmask for a field (all bits in range set).
func Full(f Field) Mask {
	b := Bounds[f]
	width := uint(b.hi - b.lo + 1)
	if width >= 64 {
		return ^Mask(0)
	}
	return Mask(1)<<width - 1
}

// BitFor returns the single-bit mask for value v in field f. Callers must
// ensure v is within (lo, hi); out-of-range values return 0.
func BitFor(f Field, v int) Mask {
	b := Bounds[f]
	if v < b.lo || v > b.hi {
		return 0
	}
	return Mask(1) << uint(v-b.lo)
}

var monthNames = map[string]int{
	"jan": 1, "feb": 2, "mar": 3, "apr": 4, "may": 5, "jun": 6,
	"jul": 7, "aug": 8, "sep": 9, "oct": 10, "nov": 11, "dec": 12,
}

var dowNames = map[string]int{
	"sun": 0, "mon": 1, "tue": 2, "wed": 3, "thu": 4, "fri": 5, "sat": 6,
}

// Compile parses a comma-separated when_* field spec (*, N, a-b, or
// range/step, with three-letter month/dow names) into a Mask.
func Compile(f Field, spec string) (Mask, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return 0, errors.Errorf("empty %s spec", f)
	}

	full := Full(f)
	var mask Mask
	for _, item := range strings.Split(spec, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		m, err := compileItem(f, item, full)
		if err != nil {
			return 0, err
		}
		mask |= m
		if mask == full {
			break
		}
	}
	if mask == 0 {
		return 0, errors.Errorf("bad %s setting %q", f, spec)
	}
	return mask, nil
}

func compileItem(f Field, item string, full Mask) (Mask, error) {
	if item == "*" {
		return full, nil
	}

	rng, step := item, 1
	if idx := strings.IndexByte(item, '/'); idx >= 0 {
		rng = item[:idx]
		s, err := strconv.Atoi(item[idx+1:])
		if err != nil || s <= 0 {
			return 0, errors.Errorf("bad step in %s item %q", f, item)
		}
		step = s
	}

	b := Bounds[f]
	var lo, hi int
	if rng == "*" {
		lo, hi = b.lo, b.hi
	} else if idx := strings.IndexByte(rng, '-'); idx > 0 {
		var err error
		lo, err = parseValue(f, rng[:idx])
		if err != nil {
			return 0, err
		}
		hi, err = parseValue(f, rng[idx+1:])
		if err != nil {
			return 0, err
		}
	} else {
		v, err := parseValue(f, rng)
		if err != nil {
			return 0, err
		}
		lo, hi = v, v
	}

	if lo < b.lo || hi > b.hi || lo > hi {
		return 0, errors.Errorf("%s value out of range [%d,%d]: %q", f, b.lo, b.hi, item)
	}

	var mask Mask
	for v := lo; v <= hi; v += step {
		mask |= BitFor(f, v)
	}
	return mask, nil
}

func parseValue(f Field, s string) (int, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch f {
	case Month:
		if v, ok := monthNames[s]; ok {
			return v, nil
		}
	case DOW:
		if v, ok := dowNames[s]; ok {
			return v, nil
		}
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, errors.Wrapf(err, "bad %s value %q", f, s)
	}
	return v, nil
}

// Compiled is the six-field compiled schedule for one event, excluding
// when_expire (which is a duration budget, not a bitmask; see
// internal/event).
type Compiled [int(numFields)]Mask

// CompileAll compiles all six when_* fields at once, in (year, month, day,
// hour, minute, dow) order.
func CompileAll(year, month, day, hour, minute, dow string) (Compiled, error) {
	var c Compiled
	specs := [numFields]string{Year: year, Month: month, Day: day, Hour: hour, Minute: minute, DOW: dow}
	for f := Field(0); f < numFields; f++ {
		m, err := Compile(f, specs[f])
		if err != nil {
			return Compiled{}, err
		}
		c[f] = m
	}
	return c, nil
}

// DateMasks encodes a wall-clock time's six fields into single-bit masks,
// remapping Go's Sunday=0 weekday (which already matches sun=0..sat=6, so
// no remap is actually required once derived from time.Weekday rather
// than an ISO weekday) for comparison against a Compiled schedule.
type DateMasks [int(numFields)]Mask

// DateMasksFor computes the six single-bit masks for t, one per field.
// Go's time.Weekday is already Sunday=0..Saturday=6, the same convention
// the original source derives via isoweekday()%7 from a Monday=1 scheme.
func DateMasksFor(t time.Time) DateMasks {
	return DateMasks{
		Year:   BitFor(Year, t.Year()),
		Month:  BitFor(Month, int(t.Month())),
		Day:    BitFor(Day, t.Day()),
		Hour:   BitFor(Hour, t.Hour()),
		Minute: BitFor(Minute, t.Minute()),
		DOW:    BitFor(DOW, int(t.Weekday())),
	}
}

// Match reports whether a compiled schedule fires for the given date
// masks: every field's AND must be non-zero.
func Match(c Compiled, d DateMasks) bool {
	for f := Field(0); f < numFields; f++ {
		if c[f]&d[f] == 0 {
			return false
		}
	}
	return true
}
