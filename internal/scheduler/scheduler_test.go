package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	logx "sessionbot/pkg/logx"
)

func TestParseSchedule(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "cron:0 18 * * 5", want: "0 18 * * 5"},
		{in: "cron:  @daily ", want: "@daily"},
		{in: "0 18 * * 5", want: "0 18 * * 5"},
		{in: "@hourly", want: "@hourly"},
		{in: "interval:2h", want: "@every 2h0m0s"},
		{in: "every:30m", want: "@every 30m0s"},
		{in: "01:30", want: "@every 1h30m0s"},
		{in: "45m", want: "@every 45m0s"},
		{in: "", wantErr: true},
		{in: "cron:", wantErr: true},
		{in: "interval:", wantErr: true},
		{in: "interval:500ms", wantErr: true},
		{in: "00:00", wantErr: true},
		{in: "nonsense", wantErr: true},
	}
	for _, tc := range cases {
		got, err := ParseSchedule(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Errorf("ParseSchedule(%q) = %q, want error", tc.in, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseSchedule(%q): %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("ParseSchedule(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestParseHHMM(t *testing.T) {
	t.Parallel()

	if d, ok := parseHHMM("2:05"); !ok || d != 2*time.Hour+5*time.Minute {
		t.Fatalf("parseHHMM(2:05) = %v, %v", d, ok)
	}
	for _, bad := range []string{"2:5", ":30", "2:", "2:60", "-1:00", "abc"} {
		if _, ok := parseHHMM(bad); ok {
			t.Errorf("parseHHMM(%q) accepted", bad)
		}
	}
}

func newTestService(t *testing.T, enabled bool) *Service {
	t.Helper()
	s := New(Config{
		Enabled:        enabled,
		Workers:        2,
		DefaultTimeout: 2 * time.Second,
		Timezone:       "UTC",
		RetryMax:       0,
	}, logx.Nop())
	return s
}

func TestAddCronUpsertByName(t *testing.T) {
	t.Parallel()

	s := newTestService(t, true)
	if _, err := s.AddCron("weekly_poll", "0 18 * * 5", 0, TaskOptions{}, func(context.Context) error { return nil }); err != nil {
		t.Fatalf("AddCron: %v", err)
	}
	if _, err := s.AddCron("weekly_poll", "0 19 * * 6", 0, TaskOptions{}, func(context.Context) error { return nil }); err != nil {
		t.Fatalf("AddCron replace: %v", err)
	}

	snap := s.SnapshotState()
	if len(snap.Schedules) != 1 {
		t.Fatalf("got %d schedules, want 1 (same name replaces)", len(snap.Schedules))
	}
	if snap.Schedules[0].Spec != "0 19 * * 6" {
		t.Fatalf("spec = %q, want replacement", snap.Schedules[0].Spec)
	}
}

func TestAddCronRejectsBadSpec(t *testing.T) {
	t.Parallel()

	s := newTestService(t, true)
	if _, err := s.AddCron("bad", "61 * * * *", 0, TaskOptions{}, func(context.Context) error { return nil }); err == nil {
		t.Fatalf("invalid cron spec accepted")
	}
	if _, err := s.AddCron("", "@hourly", 0, TaskOptions{}, func(context.Context) error { return nil }); err == nil {
		t.Fatalf("empty name accepted")
	}
}

func TestAddWeeklySpec(t *testing.T) {
	t.Parallel()

	s := newTestService(t, true)
	if _, err := s.AddWeekly("poll", time.Friday, 18, 0, TaskOptions{}, func(context.Context) error { return nil }); err != nil {
		t.Fatalf("AddWeekly: %v", err)
	}
	snap := s.SnapshotState()
	if snap.Schedules[0].Spec != "0 18 * * 5" {
		t.Fatalf("spec = %q", snap.Schedules[0].Spec)
	}
	if _, err := s.AddWeekly("bad", time.Friday, 24, 0, TaskOptions{}, func(context.Context) error { return nil }); err == nil {
		t.Fatalf("hour 24 accepted")
	}
}

func TestReloadSwapsJobSet(t *testing.T) {
	t.Parallel()

	s := newTestService(t, true)
	noop := func(context.Context) error { return nil }
	if _, err := s.AddCron("old_a", "@hourly", 0, TaskOptions{}, noop); err != nil {
		t.Fatalf("AddCron: %v", err)
	}
	if _, err := s.AddCron("old_b", "@daily", 0, TaskOptions{}, noop); err != nil {
		t.Fatalf("AddCron: %v", err)
	}

	err := s.Reload("Europe/Amsterdam", []Job{
		{Name: "weekly_poll", Schedule: "cron:0 18 * * 5", Run: noop},
		{Name: "calendar_hygiene", Schedule: "30m", Run: noop},
	})
	if err != nil {
		t.Fatalf("Reload: %v", err)
	}

	snap := s.SnapshotState()
	if len(snap.Schedules) != 2 {
		t.Fatalf("got %d schedules, want 2", len(snap.Schedules))
	}
	if snap.Schedules[0].Name != "weekly_poll" || snap.Schedules[1].Name != "calendar_hygiene" {
		t.Fatalf("schedules = %+v", snap.Schedules)
	}
	if snap.Timezone != "Europe/Amsterdam" {
		t.Fatalf("timezone = %q", snap.Timezone)
	}
}

func TestReloadAtomicOnError(t *testing.T) {
	t.Parallel()

	s := newTestService(t, true)
	noop := func(context.Context) error { return nil }
	if _, err := s.AddCron("keep_me", "@hourly", 0, TaskOptions{}, noop); err != nil {
		t.Fatalf("AddCron: %v", err)
	}

	for _, jobs := range [][]Job{
		{{Name: "good", Schedule: "@hourly", Run: noop}, {Name: "bad", Schedule: "not a schedule at all!", Run: noop}},
		{{Name: "dup", Schedule: "@hourly", Run: noop}, {Name: "dup", Schedule: "@daily", Run: noop}},
		{{Name: "nohandler", Schedule: "@hourly"}},
		{{Name: "", Schedule: "@hourly", Run: noop}},
	} {
		if err := s.Reload("UTC", jobs); err == nil {
			t.Fatalf("Reload(%+v) succeeded, want error", jobs)
		}
	}

	snap := s.SnapshotState()
	if len(snap.Schedules) != 1 || snap.Schedules[0].Name != "keep_me" {
		t.Fatalf("failed reload mutated job set: %+v", snap.Schedules)
	}
}

func TestTriggerRunsAndRetries(t *testing.T) {
	t.Parallel()

	s := newTestService(t, true)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	var calls atomic.Int32
	done := make(chan struct{})
	opt := TaskOptions{RetryMax: 2, RetryBase: 5 * time.Millisecond, RetryMaxDelay: 10 * time.Millisecond}
	_, err := s.AddCron("flaky", "@every 1h", 0, opt, func(context.Context) error {
		if calls.Add(1) < 3 {
			return errors.New("transient")
		}
		close(done)
		return nil
	})
	if err != nil {
		t.Fatalf("AddCron: %v", err)
	}

	if err := s.Trigger("flaky"); err != nil {
		t.Fatalf("Trigger: %v", err)
	}
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("task never succeeded, calls=%d", calls.Load())
	}
	if err := s.Trigger("unknown"); err == nil {
		t.Fatalf("Trigger(unknown) succeeded")
	}
}

func TestDisabledSchedulerDoesNotStart(t *testing.T) {
	t.Parallel()

	s := newTestService(t, false)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := s.Trigger("anything"); err == nil {
		t.Fatalf("Trigger on disabled scheduler succeeded")
	}
	s.Stop()
}

func TestBackoffDelayBounds(t *testing.T) {
	t.Parallel()

	opt := TaskOptions{}.withDefaults(Config{RetryMax: 3})
	for attempt := 1; attempt <= 10; attempt++ {
		d := backoffDelay(attempt, opt)
		if d <= 0 {
			t.Fatalf("attempt %d: delay %v", attempt, d)
		}
		if d > time.Duration(float64(opt.RetryMaxDelay)*(1+opt.RetryJitter)) {
			t.Fatalf("attempt %d: delay %v above cap", attempt, d)
		}
	}
}

// Weekly cron fire times must track local wall-clock hour across DST
// transitions, not a fixed UTC offset.
func TestCronNextAcrossDST(t *testing.T) {
	t.Parallel()

	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	s := newTestService(t, true)
	sched, err := s.parser.Parse("0 18 * * 5")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	// 2026-02-27 is a Friday; US DST starts Sunday 2026-03-08.
	at := time.Date(2026, 2, 27, 12, 0, 0, 0, loc)
	for i := 0; i < 4; i++ {
		next := sched.Next(at)
		if next.In(loc).Hour() != 18 {
			t.Fatalf("fire %d at %v: local hour %d, want 18", i, next, next.In(loc).Hour())
		}
		if next.In(loc).Weekday() != time.Friday {
			t.Fatalf("fire %d at %v: weekday %v", i, next, next.In(loc).Weekday())
		}
		at = next.Add(time.Minute)
	}
}

// A weekly time that spring-forward erases (02:00 on 2026-03-08) must still
// fire that day, at the first instant that exists after the jump.
func TestCronSkippedHourFiresOnce(t *testing.T) {
	t.Parallel()

	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	s := newTestService(t, true)
	inner, err := s.parser.Parse("0 2 * * 0") // Sundays 02:00
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	sched := dstSchedule{inner: inner}

	at := time.Date(2026, 3, 7, 12, 0, 0, 0, loc) // Saturday before the jump
	next := sched.Next(at)
	want := time.Date(2026, 3, 8, 3, 0, 0, 0, loc)
	if !next.Equal(want) {
		t.Fatalf("Next = %v, want %v (first valid instant after the jump)", next.In(loc), want)
	}

	// The week after, the schedule is back on its configured wall clock.
	after := sched.Next(next)
	want = time.Date(2026, 3, 15, 2, 0, 0, 0, loc)
	if !after.Equal(want) {
		t.Fatalf("Next = %v, want %v", after.In(loc), want)
	}

	// Times the transition never touches pass through unchanged.
	evening, err := s.parser.Parse("0 18 * * 5")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	at = time.Date(2026, 3, 6, 12, 0, 0, 0, loc)
	if got, want := (dstSchedule{inner: evening}).Next(at), evening.Next(at); !got.Equal(want) {
		t.Fatalf("passthrough Next = %v, want %v", got, want)
	}
}

// Interval schedules measure absolute elapsed time; crossing the transition
// must not pull them forward to the jump instant.
func TestIntervalAcrossTransitionNotEarly(t *testing.T) {
	t.Parallel()

	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	s := newTestService(t, true)
	inner, err := s.parser.Parse("@every 2h")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	at := time.Date(2026, 3, 8, 0, 30, 0, 0, loc) // 00:30 EST
	next := dstSchedule{inner: inner}.Next(at)
	if got := next.Sub(at); got != 2*time.Hour {
		t.Fatalf("interval advanced %v, want 2h (next = %v)", got, next.In(loc))
	}
}
