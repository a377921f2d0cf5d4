package calendar

import "time"

// Category is the reconciler's classification of a calendar event.
type Category int

const (
	CategoryOther Category = iota
	CategorySession
	CategoryPersonal
	CategoryVacation
)

func (c Category) String() string {
	switch c {
	case CategorySession:
		return "session"
	case CategoryPersonal:
		return "personal"
	case CategoryVacation:
		return "vacation"
	default:
		return "other"
	}
}

// Event is a calendar event as seen by the reconciler. Events come from the
// shared calendar or from a participant's personal feed.
type Event struct {
	ID    string
	Title string
	Start time.Time
	End   time.Time

	AllDay bool
	// Busy is the event's transparency: busy events block availability.
	Busy bool
	// Creator is the participant who owns the event.
	Creator string
	// Source is "shared" or "feed".
	Source string
}

// DateKey is the canonical day format used for candidates and votes.
const DateKey = "2006-01-02"

// Days lists the local dates the event touches, inclusive of the start day.
// All-day events end at midnight of the following day; that boundary day is
// not counted.
func (e Event) Days(loc *time.Location) []string {
	start := e.Start.In(loc)
	end := e.End.In(loc)
	if !end.After(start) {
		return []string{start.Format(DateKey)}
	}
	// Pull the end back a nanosecond so exact-midnight ends don't spill over.
	end = end.Add(-time.Nanosecond)

	var days []string
	for d := startOfDay(start); !d.After(end); d = d.AddDate(0, 0, 1) {
		days = append(days, d.Format(DateKey))
	}
	return days
}

// SpansMultipleDays reports whether the event covers more than one local day.
func (e Event) SpansMultipleDays(loc *time.Location) bool {
	return len(e.Days(loc)) > 1
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
