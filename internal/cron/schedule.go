package cron

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/nextlevelbuilder/plugd/internal/store"
)

// Spec is a parsed 5-field cron expression (minute hour dom month dow).
// Day-of-week is Monday=0 through Sunday=6.
type Spec struct {
	minute uint64
	hour   uint64
	dom    uint64
	month  uint64
	dow    uint64
}

// Parse parses a cron expression. Fields accept *, integers, comma
// lists, ranges (a-b), and steps (*/n, a-b/n, a/n).
func Parse(expr string) (*Spec, error) {
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return nil, fmt.Errorf("cron expression %q: want 5 fields, got %d", expr, len(fields))
	}

	bounds := []struct {
		name     string
		min, max int
	}{
		{"minute", 0, 59},
		{"hour", 0, 23},
		{"day of month", 1, 31},
		{"month", 1, 12},
		{"day of week", 0, 6},
	}

	var sets [5]uint64
	for i, f := range fields {
		set, err := parseField(f, bounds[i].min, bounds[i].max)
		if err != nil {
			return nil, fmt.Errorf("cron expression %q: %s: %w", expr, bounds[i].name, err)
		}
		sets[i] = set
	}
	return &Spec{minute: sets[0], hour: sets[1], dom: sets[2], month: sets[3], dow: sets[4]}, nil
}

func parseField(field string, min, max int) (uint64, error) {
	var set uint64
	for _, part := range strings.Split(field, ",") {
		if part == "" {
			return 0, fmt.Errorf("empty list element")
		}

		step := 1
		if idx := strings.Index(part, "/"); idx >= 0 {
			s, err := strconv.Atoi(part[idx+1:])
			if err != nil || s < 1 {
				return 0, fmt.Errorf("bad step %q", part)
			}
			step = s
			part = part[:idx]
		}

		lo, hi := min, max
		switch {
		case part == "*":
			// full range
		case strings.Contains(part, "-"):
			a, b, ok := strings.Cut(part, "-")
			av, err1 := strconv.Atoi(a)
			bv, err2 := strconv.Atoi(b)
			if !ok || err1 != nil || err2 != nil {
				return 0, fmt.Errorf("bad range %q", part)
			}
			lo, hi = av, bv
		default:
			v, err := strconv.Atoi(part)
			if err != nil {
				return 0, fmt.Errorf("bad value %q", part)
			}
			lo = v
			if step == 1 {
				hi = v
			}
			// a/n means "starting at a, every n".
		}

		if lo < min || hi > max || lo > hi {
			return 0, fmt.Errorf("value out of range %d-%d in %q", min, max, part)
		}
		for v := lo; v <= hi; v += step {
			set |= 1 << uint(v)
		}
	}
	if set == 0 {
		return 0, fmt.Errorf("field matches nothing")
	}
	return set, nil
}

func bit(set uint64, v int) bool { return set&(1<<uint(v)) != 0 }

// Matches reports whether t (at minute resolution) satisfies every field.
func (s *Spec) Matches(t time.Time) bool {
	// Go counts Sunday=0; shift so Monday=0.
	dow := (int(t.Weekday()) + 6) % 7
	return bit(s.minute, t.Minute()) &&
		bit(s.hour, t.Hour()) &&
		bit(s.dom, t.Day()) &&
		bit(s.month, int(t.Month())) &&
		bit(s.dow, dow)
}

// Next returns the first matching time strictly after from, scanning
// up to 366 days forward.
func (s *Spec) Next(from time.Time) (time.Time, error) {
	t := from.Truncate(time.Minute).Add(time.Minute)
	limit := 366 * 24 * 60
	for i := 0; i < limit; i++ {
		if s.Matches(t) {
			return t, nil
		}
		t = t.Add(time.Minute)
	}
	return time.Time{}, fmt.Errorf("no matching time within 366 days")
}

// location resolves a job's timezone; invalid or empty names fall back
// to UTC rather than failing the job.
func location(tz string) *time.Location {
	if tz == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return time.UTC
	}
	return loc
}

// ComputeNextRun returns the job's next fire time as unix seconds, or
// nil when it will never fire again.
func ComputeNextRun(job *store.CronJob, now time.Time) (*float64, error) {
	switch job.ScheduleKind {
	case "at":
		if job.ScheduleAt > floatUnix(now) {
			v := job.ScheduleAt
			return &v, nil
		}
		return nil, nil

	case "every":
		if job.ScheduleEveryMS <= 0 {
			return nil, fmt.Errorf("job %s: every interval must be positive", job.ID)
		}
		base := floatUnix(now)
		if job.LastRun != nil {
			base = *job.LastRun
		}
		v := base + float64(job.ScheduleEveryMS)/1000
		return &v, nil

	case "cron":
		spec, err := Parse(job.ScheduleCronExpr)
		if err != nil {
			return nil, fmt.Errorf("job %s: %w", job.ID, err)
		}
		next, err := spec.Next(now.In(location(job.ScheduleTZ)))
		if err != nil {
			return nil, fmt.Errorf("job %s: %w", job.ID, err)
		}
		v := floatUnix(next)
		return &v, nil

	default:
		return nil, fmt.Errorf("job %s: unknown schedule kind %q", job.ID, job.ScheduleKind)
	}
}

func floatUnix(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}
