// Package cronexpr evaluates standard five-field cron expressions.
//
// Fields are minute, hour, day-of-month, month and day-of-week. Each field
// accepts "*", a literal, a comma list, ranges ("1-5") and steps ("*/15",
// "10-40/10"). Month and weekday fields also accept three-letter names.
//
// When both day-of-month and day-of-week are restricted, a day matches if
// either field matches (OR). When one of them is "*", both must match (AND).
package cronexpr

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidExpression is returned for malformed expressions.
var ErrInvalidExpression = errors.New("invalid cron expression")

// searchYears bounds the search so impossible dates (Feb 30) terminate.
const searchYears = 8

var descriptors = map[string]string{
	"@yearly":   "0 0 1 1 *",
	"@annually": "0 0 1 1 *",
	"@monthly":  "0 0 1 * *",
	"@weekly":   "0 0 * * 0",
	"@daily":    "0 0 * * *",
	"@midnight": "0 0 * * *",
	"@hourly":   "0 * * * *",
}

var monthNames = map[string]int{
	"jan": 1, "feb": 2, "mar": 3, "apr": 4, "may": 5, "jun": 6,
	"jul": 7, "aug": 8, "sep": 9, "oct": 10, "nov": 11, "dec": 12,
}

var dayNames = map[string]int{
	"sun": 0, "mon": 1, "tue": 2, "wed": 3, "thu": 4, "fri": 5, "sat": 6,
}

type field struct {
	name  string
	min   int
	max   int
	names map[string]int
}

var (
	minuteField = field{name: "minute", min: 0, max: 59}
	hourField   = field{name: "hour", min: 0, max: 23}
	domField    = field{name: "day-of-month", min: 1, max: 31}
	monthField  = field{name: "month", min: 1, max: 12, names: monthNames}
	dowField    = field{name: "day-of-week", min: 0, max: 7, names: dayNames}
)

// Expression is a parsed cron expression. It is immutable and safe for concurrent use.
type Expression struct {
	raw     string
	minutes uint64
	hours   uint64
	doms    uint64
	months  uint64
	dows    uint64
	domAny  bool
	dowAny  bool
}

// Parse parses a five-field expression or one of the @-descriptors.
func Parse(expr string) (*Expression, error) {
	raw := strings.TrimSpace(expr)
	spec := raw
	if strings.HasPrefix(spec, "@") {
		expanded, ok := descriptors[strings.ToLower(spec)]
		if !ok {
			return nil, fmt.Errorf("%w: unknown descriptor %q", ErrInvalidExpression, spec)
		}
		spec = expanded
	}

	parts := strings.Fields(spec)
	if len(parts) != 5 {
		return nil, fmt.Errorf("%w: expected 5 fields, got %d in %q", ErrInvalidExpression, len(parts), raw)
	}

	e := &Expression{raw: raw}
	var err error
	if e.minutes, err = parseField(parts[0], minuteField); err != nil {
		return nil, err
	}
	if e.hours, err = parseField(parts[1], hourField); err != nil {
		return nil, err
	}
	if e.doms, err = parseField(parts[2], domField); err != nil {
		return nil, err
	}
	if e.months, err = parseField(parts[3], monthField); err != nil {
		return nil, err
	}
	if e.dows, err = parseField(parts[4], dowField); err != nil {
		return nil, err
	}
	// 7 is an alias for Sunday.
	if e.dows&(1<<7) != 0 {
		e.dows |= 1
		e.dows &^= 1 << 7
	}
	e.domAny = strings.HasPrefix(parts[2], "*")
	e.dowAny = strings.HasPrefix(parts[4], "*")

	return e, nil
}

// String returns the expression as written.
func (e *Expression) String() string {
	return e.raw
}

// NextOccurrence parses expr and returns its first occurrence strictly after after.
func NextOccurrence(expr string, after time.Time, loc *time.Location) (time.Time, error) {
	e, err := Parse(expr)
	if err != nil {
		return time.Time{}, err
	}
	return e.Next(after, loc)
}

// Next returns the earliest instant strictly after after whose wall clock in loc
// matches the expression. The result is in UTC. Wall-clock times skipped by a
// DST transition never match.
func (e *Expression) Next(after time.Time, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	local := after.In(loc)
	year, month, day := local.Date()
	limit := year + searchYears

	for {
		// Noon avoids midnight DST gaps when normalizing the calendar date.
		d := time.Date(year, month, day, 12, 0, 0, 0, loc)
		y, m, dd := d.Date()
		if y > limit {
			return time.Time{}, fmt.Errorf("%w: %q has no occurrence within %d years", ErrInvalidExpression, e.raw, searchYears)
		}

		switch {
		case !has(e.months, int(m)):
			// Jump to the first day of the next month.
			year, month, day = y, m+1, 1
			continue
		case !e.dayMatches(dd, int(d.Weekday())):
			year, month, day = y, m, dd+1
			continue
		}

		if t, ok := e.firstInDay(y, m, dd, loc, after); ok {
			return t.UTC(), nil
		}
		year, month, day = y, m, dd+1
	}
}

func (e *Expression) dayMatches(dom, dow int) bool {
	domOK := has(e.doms, dom)
	dowOK := has(e.dows, dow)
	if !e.domAny && !e.dowAny {
		return domOK || dowOK
	}
	return domOK && dowOK
}

func (e *Expression) firstInDay(y int, m time.Month, d int, loc *time.Location, after time.Time) (time.Time, bool) {
	for h := 0; h < 24; h++ {
		if !has(e.hours, h) {
			continue
		}
		for min := 0; min < 60; min++ {
			if !has(e.minutes, min) {
				continue
			}
			t := time.Date(y, m, d, h, min, 0, 0, loc)
			if t.Hour() != h || t.Minute() != min || t.Day() != d {
				// Nonexistent local time, normalized by time.Date.
				continue
			}
			if t.After(after) {
				return t, true
			}
		}
	}
	return time.Time{}, false
}

func has(set uint64, v int) bool {
	return set&(1<<uint(v)) != 0
}

func parseField(s string, f field) (uint64, error) {
	if s == "" {
		return 0, fmt.Errorf("%w: empty %s field", ErrInvalidExpression, f.name)
	}

	var set uint64
	for _, item := range strings.Split(s, ",") {
		bits, err := parseItem(item, f)
		if err != nil {
			return 0, err
		}
		set |= bits
	}
	return set, nil
}

func parseItem(item string, f field) (uint64, error) {
	if item == "" {
		return 0, fmt.Errorf("%w: empty list element in %s field", ErrInvalidExpression, f.name)
	}

	rangePart, stepPart, hasStep := strings.Cut(item, "/")
	step := 1
	if hasStep {
		n, err := strconv.Atoi(stepPart)
		if err != nil || n <= 0 {
			return 0, fmt.Errorf("%w: bad step %q in %s field", ErrInvalidExpression, stepPart, f.name)
		}
		step = n
	}

	var lo, hi int
	switch {
	case rangePart == "*":
		lo, hi = f.min, f.max
		if f.name == dowField.name {
			hi = 6
		}
	case strings.Contains(rangePart, "-"):
		a, b, _ := strings.Cut(rangePart, "-")
		var err error
		if lo, err = parseValue(a, f); err != nil {
			return 0, err
		}
		if hi, err = parseValue(b, f); err != nil {
			return 0, err
		}
		if lo > hi {
			return 0, fmt.Errorf("%w: inverted range %q in %s field", ErrInvalidExpression, rangePart, f.name)
		}
	default:
		v, err := parseValue(rangePart, f)
		if err != nil {
			return 0, err
		}
		lo, hi = v, v
		if hasStep {
			hi = f.max
		}
	}

	var bits uint64
	for v := lo; v <= hi; v += step {
		bits |= 1 << uint(v)
	}
	return bits, nil
}

func parseValue(s string, f field) (int, error) {
	if f.names != nil {
		if v, ok := f.names[strings.ToLower(s)]; ok {
			return v, nil
		}
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not a valid %s value", ErrInvalidExpression, s, f.name)
	}
	if v < f.min || v > f.max {
		return 0, fmt.Errorf("%w: %s value %d out of range %d-%d", ErrInvalidExpression, f.name, v, f.min, f.max)
	}
	return v, nil
}
