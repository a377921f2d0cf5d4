package ics

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"sessionbot/internal/calendar"
	logx "sessionbot/pkg/logx"
)

func TestDirProviderCreateAndList(t *testing.T) {
	t.Parallel()

	p, err := NewDirProvider(t.TempDir(), logx.Nop())
	if err != nil {
		t.Fatalf("NewDirProvider: %v", err)
	}
	ctx := context.Background()

	start := time.Date(2026, 9, 4, 19, 0, 0, 0, time.UTC)
	id, err := p.CreateEvent(ctx, calendar.Event{
		Title: "Session: chapter 12",
		Start: start,
		End:   start.Add(3 * time.Hour),
		Busy:  true,
	})
	if err != nil {
		t.Fatalf("CreateEvent: %v", err)
	}
	if id == "" {
		t.Fatalf("empty event id")
	}

	events, err := p.Events(ctx, start.AddDate(0, 0, -1), start.AddDate(0, 0, 1))
	if err != nil {
		t.Fatalf("Events: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("got %d events", len(events))
	}
	e := events[0]
	if e.ID != id || e.Title != "Session: chapter 12" || !e.Busy || e.Source != "shared" {
		t.Fatalf("event = %+v", e)
	}
	if !e.Start.Equal(start) || e.End.Sub(e.Start) != 3*time.Hour {
		t.Fatalf("event times = %v .. %v", e.Start, e.End)
	}

	// Outside the window: nothing.
	events, err = p.Events(ctx, start.AddDate(0, 0, 7), start.AddDate(0, 0, 14))
	if err != nil {
		t.Fatalf("Events: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("window filter leaked: %+v", events)
	}
}

func TestDirProviderSetBusyIdempotent(t *testing.T) {
	t.Parallel()

	p, err := NewDirProvider(t.TempDir(), logx.Nop())
	if err != nil {
		t.Fatalf("NewDirProvider: %v", err)
	}
	ctx := context.Background()

	start := time.Date(2026, 9, 10, 9, 0, 0, 0, time.UTC)
	id, err := p.CreateEvent(ctx, calendar.Event{Title: "Dentist", Start: start, End: start.Add(time.Hour), Busy: true})
	if err != nil {
		t.Fatalf("CreateEvent: %v", err)
	}

	for i := 0; i < 2; i++ {
		if err := p.SetBusy(ctx, id, false); err != nil {
			t.Fatalf("SetBusy run %d: %v", i, err)
		}
	}
	events, err := p.Events(ctx, start.AddDate(0, 0, -1), start.AddDate(0, 0, 1))
	if err != nil {
		t.Fatalf("Events: %v", err)
	}
	if len(events) != 1 || events[0].Busy {
		t.Fatalf("events after free = %+v", events)
	}

	if err := p.SetBusy(ctx, "no-such-id", true); err == nil {
		t.Fatalf("SetBusy on unknown id succeeded")
	}
}

func TestDirProviderForeignFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	// A file whose name doesn't match its UID, as synced calendars produce.
	foreign := `BEGIN:VCALENDAR
VERSION:2.0
PRODID:-//external//EN
BEGIN:VEVENT
UID:ext-1
SUMMARY:Vacation trip
DTSTART:20260910T000000Z
DTEND:20260912T000000Z
TRANSP:OPAQUE
ORGANIZER;CN=Sam:mailto:sam@example.com
END:VEVENT
END:VCALENDAR
`
	if err := os.WriteFile(filepath.Join(dir, "synced-0001.ics"), []byte(foreign), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	p, err := NewDirProvider(dir, logx.Nop())
	if err != nil {
		t.Fatalf("NewDirProvider: %v", err)
	}
	ctx := context.Background()

	if err := p.SetBusy(ctx, "ext-1", false); err != nil {
		t.Fatalf("SetBusy via scan: %v", err)
	}
	from := time.Date(2026, 9, 9, 0, 0, 0, 0, time.UTC)
	events, err := p.Events(ctx, from, from.AddDate(0, 0, 7))
	if err != nil {
		t.Fatalf("Events: %v", err)
	}
	if len(events) != 1 || events[0].Busy || events[0].ID != "ext-1" {
		t.Fatalf("events = %+v", events)
	}
	// The organizer identifies whose away time needs confirming.
	if events[0].Creator != "Sam" {
		t.Fatalf("Creator = %q, want Sam", events[0].Creator)
	}
}

func TestDirProviderOrganizerRoundTrip(t *testing.T) {
	t.Parallel()

	p, err := NewDirProvider(t.TempDir(), logx.Nop())
	if err != nil {
		t.Fatalf("NewDirProvider: %v", err)
	}
	ctx := context.Background()

	start := time.Date(2026, 9, 21, 0, 0, 0, 0, time.UTC)
	if _, err := p.CreateEvent(ctx, calendar.Event{
		Title:   "PTO",
		Start:   start,
		End:     start.AddDate(0, 0, 2),
		AllDay:  true,
		Creator: "ana@example.com",
	}); err != nil {
		t.Fatalf("CreateEvent: %v", err)
	}

	events, err := p.Events(ctx, start.AddDate(0, 0, -1), start.AddDate(0, 0, 3))
	if err != nil {
		t.Fatalf("Events: %v", err)
	}
	if len(events) != 1 || events[0].Creator != "ana@example.com" {
		t.Fatalf("events = %+v, want creator ana@example.com", events)
	}
}
