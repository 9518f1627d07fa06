package cron

import (
	"testing"
	"time"

	"github.com/nextlevelbuilder/plugd/internal/store"
)

func mustParse(t *testing.T, expr string) *Spec {
	t.Helper()
	spec, err := Parse(expr)
	if err != nil {
		t.Fatalf("Parse(%q): %v", expr, err)
	}
	return spec
}

func TestParseErrors(t *testing.T) {
	tests := []string{
		"* * * *",        // 4 fields
		"* * * * * *",    // 6 fields
		"60 * * * *",     // minute out of range
		"* 24 * * *",     // hour out of range
		"* * 0 * *",      // dom starts at 1
		"* * * 13 *",     // month out of range
		"* * * * 7",      // dow is 0-6
		"*/0 * * * *",    // zero step
		"a * * * *",      // not a number
		"5-2 * * * *",    // inverted range
		", * * * *",      // empty list element
	}
	for _, expr := range tests {
		t.Run(expr, func(t *testing.T) {
			if _, err := Parse(expr); err == nil {
				t.Errorf("Parse(%q) succeeded, want error", expr)
			}
		})
	}
}

func TestSpecMatches(t *testing.T) {
	// 2026-08-24 is a Monday.
	monday := time.Date(2026, 8, 24, 9, 30, 0, 0, time.UTC)

	tests := []struct {
		expr string
		t    time.Time
		want bool
	}{
		{"* * * * *", monday, true},
		{"30 9 * * *", monday, true},
		{"31 9 * * *", monday, false},
		{"30 9 24 8 *", monday, true},
		{"30 9 * * 0", monday, true},  // Monday is 0
		{"30 9 * * 6", monday, false}, // Sunday is 6
		{"30 9 * * 6", monday.AddDate(0, 0, 6), true},
		{"*/15 * * * *", monday, true},
		{"*/15 * * * *", monday.Add(time.Minute), false},
		{"0-40/10 9 * * *", monday, true},
		{"10,20,30 * * * *", monday, true},
		{"10,20,40 * * * *", monday, false},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			if got := mustParse(t, tt.expr).Matches(tt.t); got != tt.want {
				t.Errorf("Matches(%s, %s) = %v, want %v", tt.expr, tt.t, got, tt.want)
			}
		})
	}
}

func TestSpecNext(t *testing.T) {
	from := time.Date(2026, 8, 24, 9, 30, 45, 0, time.UTC)

	t.Run("every five minutes", func(t *testing.T) {
		next, err := mustParse(t, "*/5 * * * *").Next(from)
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		want := time.Date(2026, 8, 24, 9, 35, 0, 0, time.UTC)
		if !next.Equal(want) {
			t.Errorf("Next = %s, want %s", next, want)
		}
	})

	t.Run("strictly after from", func(t *testing.T) {
		// from is exactly 09:30; the next 09:30 is tomorrow.
		exact := time.Date(2026, 8, 24, 9, 30, 0, 0, time.UTC)
		next, err := mustParse(t, "30 9 * * *").Next(exact)
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		want := time.Date(2026, 8, 25, 9, 30, 0, 0, time.UTC)
		if !next.Equal(want) {
			t.Errorf("Next = %s, want %s", next, want)
		}
	})

	t.Run("wraps across months", func(t *testing.T) {
		next, err := mustParse(t, "0 0 1 * *").Next(from)
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		want := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
		if !next.Equal(want) {
			t.Errorf("Next = %s, want %s", next, want)
		}
	})

	t.Run("never matches", func(t *testing.T) {
		// February 30th does not exist.
		if _, err := mustParse(t, "0 0 30 2 *").Next(from); err == nil {
			t.Error("Next succeeded for an impossible date")
		}
	})
}

func TestComputeNextRun(t *testing.T) {
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	nowUnix := floatUnix(now)

	t.Run("at in future", func(t *testing.T) {
		job := &store.CronJob{ID: "j", ScheduleKind: "at", ScheduleAt: nowUnix + 3600}
		next, err := ComputeNextRun(job, now)
		if err != nil {
			t.Fatalf("ComputeNextRun: %v", err)
		}
		if next == nil || *next != nowUnix+3600 {
			t.Errorf("next = %v", next)
		}
	})

	t.Run("at in past", func(t *testing.T) {
		job := &store.CronJob{ID: "j", ScheduleKind: "at", ScheduleAt: nowUnix - 1}
		next, err := ComputeNextRun(job, now)
		if err != nil {
			t.Fatalf("ComputeNextRun: %v", err)
		}
		if next != nil {
			t.Errorf("next = %v, want nil", *next)
		}
	})

	t.Run("every from now", func(t *testing.T) {
		job := &store.CronJob{ID: "j", ScheduleKind: "every", ScheduleEveryMS: 90_000}
		next, err := ComputeNextRun(job, now)
		if err != nil {
			t.Fatalf("ComputeNextRun: %v", err)
		}
		if next == nil || *next != nowUnix+90 {
			t.Errorf("next = %v, want %v", next, nowUnix+90)
		}
	})

	t.Run("every from last run", func(t *testing.T) {
		last := nowUnix - 30
		job := &store.CronJob{ID: "j", ScheduleKind: "every", ScheduleEveryMS: 60_000, LastRun: &last}
		next, err := ComputeNextRun(job, now)
		if err != nil {
			t.Fatalf("ComputeNextRun: %v", err)
		}
		if next == nil || *next != last+60 {
			t.Errorf("next = %v, want %v", next, last+60)
		}
	})

	t.Run("cron with bad tz falls back to utc", func(t *testing.T) {
		job := &store.CronJob{ID: "j", ScheduleKind: "cron", ScheduleCronExpr: "0 13 * * *", ScheduleTZ: "Not/AZone"}
		next, err := ComputeNextRun(job, now)
		if err != nil {
			t.Fatalf("ComputeNextRun: %v", err)
		}
		want := floatUnix(time.Date(2026, 8, 24, 13, 0, 0, 0, time.UTC))
		if next == nil || *next != want {
			t.Errorf("next = %v, want %v", next, want)
		}
	})

	t.Run("unknown kind", func(t *testing.T) {
		job := &store.CronJob{ID: "j", ScheduleKind: "sometimes"}
		if _, err := ComputeNextRun(job, now); err == nil {
			t.Error("want error for unknown schedule kind")
		}
	})
}
