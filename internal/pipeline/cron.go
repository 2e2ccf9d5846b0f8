package pipeline

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// cronField is the set of values a field accepts.
type cronField struct {
	any    bool
	values map[int]bool
}

func (f cronField) matches(v int) bool { return f.any || f.values[v] }

// parseCronField parses "*", "5", "1,15", "1-5", "*/10" and "0-30/5".
func parseCronField(field string, lo, hi int) (cronField, error) {
	if field == "*" {
		return cronField{any: true}, nil
	}
	f := cronField{values: make(map[int]bool)}
	for _, part := range strings.Split(field, ",") {
		rng, step := part, 1
		if i := strings.IndexByte(part, '/'); i >= 0 {
			s, err := strconv.Atoi(part[i+1:])
			if err != nil || s <= 0 {
				return cronField{}, fmt.Errorf("invalid step in %q", part)
			}
			rng, step = part[:i], s
		}
		start, end := lo, hi
		switch {
		case rng == "*":
		case strings.Contains(rng, "-"):
			a, b, _ := strings.Cut(rng, "-")
			var err1, err2 error
			start, err1 = strconv.Atoi(a)
			end, err2 = strconv.Atoi(b)
			if err1 != nil || err2 != nil {
				return cronField{}, fmt.Errorf("invalid range %q", rng)
			}
		default:
			v, err := strconv.Atoi(rng)
			if err != nil {
				return cronField{}, fmt.Errorf("invalid cron field value %q: %w", rng, err)
			}
			start = v
			if step == 1 {
				end = v
			}
		}
		if start < lo || end > hi || start > end {
			return cronField{}, fmt.Errorf("%q outside %d-%d", part, lo, hi)
		}
		for v := start; v <= end; v += step {
			f.values[v] = true
		}
	}
	return f, nil
}

// cronSchedule is a parsed 5-field expression:
// "minute hour day-of-month month day-of-week".
type cronSchedule struct {
	minute, hour, dom, month, dow cronField
}

func parseCron(expr string) (cronSchedule, error) {
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return cronSchedule{}, fmt.Errorf("cron expression must have 5 fields, got %d", len(fields))
	}
	bounds := [5][2]int{{0, 59}, {0, 23}, {1, 31}, {1, 12}, {0, 7}}
	names := [5]string{"minute", "hour", "day-of-month", "month", "day-of-week"}
	var parsed [5]cronField
	for i, f := range fields {
		p, err := parseCronField(f, bounds[i][0], bounds[i][1])
		if err != nil {
			return cronSchedule{}, fmt.Errorf("parsing %s field: %w", names[i], err)
		}
		parsed[i] = p
	}
	// Sunday may be written as 7.
	if parsed[4].values[7] {
		parsed[4].values[0] = true
	}
	return cronSchedule{parsed[0], parsed[1], parsed[2], parsed[3], parsed[4]}, nil
}

// matches follows Vixie cron: when both day fields are restricted a time
// matches if either does.
func (c cronSchedule) matches(t time.Time) bool {
	if !c.minute.matches(t.Minute()) || !c.hour.matches(t.Hour()) || !c.month.matches(int(t.Month())) {
		return false
	}
	dom, dow := c.dom.matches(t.Day()), c.dow.matches(int(t.Weekday()))
	if !c.dom.any && !c.dow.any {
		return dom || dow
	}
	return dom && dow
}

// next returns the first matching minute strictly after after, searching at
// most one year ahead.
func (c cronSchedule) next(after time.Time) (time.Time, error) {
	candidate := after.Truncate(time.Minute).Add(time.Minute)
	limit := after.Add(366 * 24 * time.Hour)
	for candidate.Before(limit) {
		if c.matches(candidate) {
			return candidate, nil
		}
		candidate = candidate.Add(time.Minute)
	}
	return time.Time{}, fmt.Errorf("no matching cron time within one year")
}
