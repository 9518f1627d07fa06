package store

import (
	"path/filepath"
	"testing"
)

func newCronStore(t *testing.T) *CronStore {
	t.Helper()
	s, err := OpenCronStore(filepath.Join(t.TempDir(), "cron.db"))
	if err != nil {
		t.Fatalf("OpenCronStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func floatPtr(v float64) *float64 { return &v }

func TestCronPutGet(t *testing.T) {
	s := newCronStore(t)
	job := &CronJob{
		ID:               "job1",
		Name:             "nightly",
		Enabled:          true,
		ScheduleKind:     "cron",
		ScheduleCronExpr: "0 3 * * *",
		ScheduleTZ:       "UTC",
		PayloadKind:      "system_event",
		PayloadText:      "nightly check",
		PayloadTimeout:   120,
		ChannelID:        "chan1",
		NextRun:          floatPtr(1000),
	}
	if err := s.Put(job); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, err := s.Get("job1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got == nil {
		t.Fatal("Get returned nil")
	}
	if got.Name != "nightly" || got.ScheduleCronExpr != "0 3 * * *" || !got.Enabled {
		t.Errorf("job = %+v", got)
	}
	if got.NextRun == nil || *got.NextRun != 1000 {
		t.Errorf("NextRun = %v, want 1000", got.NextRun)
	}
	if got.CreatedAt == 0 {
		t.Error("CreatedAt not backfilled")
	}

	missing, err := s.Get("nope")
	if err != nil {
		t.Fatalf("Get missing: %v", err)
	}
	if missing != nil {
		t.Errorf("Get missing = %+v, want nil", missing)
	}
}

func TestCronDue(t *testing.T) {
	s := newCronStore(t)
	put := func(id string, enabled bool, nextRun *float64) {
		t.Helper()
		if err := s.Put(&CronJob{
			ID: id, Name: id, Enabled: enabled,
			ScheduleKind: "every", ScheduleEveryMS: 60000,
			PayloadKind: "system_event", NextRun: nextRun,
		}); err != nil {
			t.Fatalf("Put %s: %v", id, err)
		}
	}
	put("past", true, floatPtr(100))
	put("future", true, floatPtr(10_000))
	put("disabled", false, floatPtr(100))
	put("unscheduled", true, nil)

	due, err := s.Due(500)
	if err != nil {
		t.Fatalf("Due: %v", err)
	}
	if len(due) != 1 || due[0].ID != "past" {
		t.Errorf("Due = %v, want [past]", due)
	}
}

func TestCronMarkRun(t *testing.T) {
	s := newCronStore(t)

	t.Run("recurring keeps enabled", func(t *testing.T) {
		s.Put(&CronJob{ID: "r", Name: "r", Enabled: true, ScheduleKind: "every",
			ScheduleEveryMS: 60000, PayloadKind: "system_event", NextRun: floatPtr(100)})
		if err := s.MarkRun("r", 100, floatPtr(160), false); err != nil {
			t.Fatalf("MarkRun: %v", err)
		}
		got, _ := s.Get("r")
		if !got.Enabled || got.RunCount != 1 {
			t.Errorf("job = %+v", got)
		}
		if got.LastRun == nil || *got.LastRun != 100 {
			t.Errorf("LastRun = %v", got.LastRun)
		}
		if got.NextRun == nil || *got.NextRun != 160 {
			t.Errorf("NextRun = %v", got.NextRun)
		}
	})

	t.Run("one-shot disables", func(t *testing.T) {
		s.Put(&CronJob{ID: "o", Name: "o", Enabled: true, ScheduleKind: "at",
			ScheduleAt: 100, PayloadKind: "system_event", NextRun: floatPtr(100)})
		if err := s.MarkRun("o", 100, nil, true); err != nil {
			t.Fatalf("MarkRun: %v", err)
		}
		got, _ := s.Get("o")
		if got.Enabled {
			t.Error("one-shot job still enabled after run")
		}
		if got.NextRun != nil {
			t.Errorf("NextRun = %v, want nil", got.NextRun)
		}
	})
}

func TestCronRunsHistory(t *testing.T) {
	s := newCronStore(t)
	s.Put(&CronJob{ID: "j", Name: "j", Enabled: true, ScheduleKind: "every",
		ScheduleEveryMS: 1000, PayloadKind: "system_event"})

	for i, status := range []string{"ok", "error", "timeout"} {
		if err := s.RecordRun(&CronRun{
			JobID: "j", StartedAt: float64(i), FinishedAt: float64(i) + 0.5,
			Status: status,
		}); err != nil {
			t.Fatalf("RecordRun: %v", err)
		}
	}

	runs, err := s.Runs("j", 2)
	if err != nil {
		t.Fatalf("Runs: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("got %d runs, want 2", len(runs))
	}
	if runs[0].Status != "timeout" || runs[1].Status != "error" {
		t.Errorf("runs out of order: %v, %v", runs[0].Status, runs[1].Status)
	}

	// Removing the job cascades to runs.
	removed, err := s.Remove("j")
	if err != nil || !removed {
		t.Fatalf("Remove: %v %v", removed, err)
	}
	runs, _ = s.Runs("j", 10)
	if len(runs) != 0 {
		t.Errorf("runs remain after Remove: %d", len(runs))
	}
}
