package calendar

import (
	"testing"
	"time"
)

func TestAvailableDates(t *testing.T) {
	t.Parallel()

	loc := time.UTC
	from := time.Date(2026, 9, 7, 9, 30, 0, 0, loc) // Monday
	cls := testClassifier()

	events := []Event{
		// Session on the 8th blocks it.
		{Title: "game night", Start: date(2026, 9, 8, 18, loc), End: date(2026, 9, 8, 22, loc), Busy: true},
		// Personal appointment on the 9th does NOT block.
		{Title: "doctor visit", Start: date(2026, 9, 9, 10, loc), End: date(2026, 9, 9, 11, loc), Busy: true},
		// Vacation spanning 10th-11th blocks both (even though hygiene frees it).
		{Title: "trip to the coast", AllDay: true, Start: date(2026, 9, 10, 0, loc), End: date(2026, 9, 12, 0, loc)},
		// Plain busy event on the 12th blocks it.
		{Title: "standup marathon", Start: date(2026, 9, 12, 9, loc), End: date(2026, 9, 12, 17, loc), Busy: true},
		// Free event on the 13th does not block.
		{Title: "optional hangout", Start: date(2026, 9, 13, 9, loc), End: date(2026, 9, 13, 10, loc), Busy: false},
	}

	got := AvailableDates(events, cls, from, 7, loc)
	want := []string{"2026-09-07", "2026-09-09", "2026-09-13"}
	if len(got) != len(want) {
		t.Fatalf("AvailableDates = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("AvailableDates = %v, want %v", got, want)
		}
	}
}

func TestAvailableDatesEmptyWindow(t *testing.T) {
	t.Parallel()

	if got := AvailableDates(nil, testClassifier(), time.Now(), 0, time.UTC); got != nil {
		t.Fatalf("zero-day window should yield nil, got %v", got)
	}
}

func TestFilterWeekday(t *testing.T) {
	t.Parallel()

	dates := []string{"2026-09-07", "2026-09-08", "2026-09-14", "not-a-date"}
	got := FilterWeekday(dates, time.Monday, time.UTC)
	if len(got) != 2 || got[0] != "2026-09-07" || got[1] != "2026-09-14" {
		t.Fatalf("FilterWeekday = %v", got)
	}
}

func date(y int, m time.Month, d, h int, loc *time.Location) time.Time {
	return time.Date(y, m, d, h, 0, 0, 0, loc)
}
