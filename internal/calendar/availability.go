package calendar

import (
	"sort"
	"time"
)

// AvailableDates returns the local dates in [from, from+days) that no
// session, vacation, or busy event touches, in ascending order.
// Personal appointments and free events don't block.
func AvailableDates(events []Event, cls *Classifier, from time.Time, days int, loc *time.Location) []string {
	if days <= 0 {
		return nil
	}
	blocked := map[string]bool{}
	for _, e := range events {
		cat := cls.Classify(e)
		if !Blocks(cat, e.Busy) {
			continue
		}
		for _, d := range e.Days(loc) {
			blocked[d] = true
		}
	}

	out := make([]string, 0, days)
	start := startOfDay(from.In(loc))
	for i := 0; i < days; i++ {
		key := start.AddDate(0, 0, i).Format(DateKey)
		if !blocked[key] {
			out = append(out, key)
		}
	}
	sort.Strings(out)
	return out
}

// FilterWeekday keeps only the dates falling on the given weekday.
func FilterWeekday(dates []string, day time.Weekday, loc *time.Location) []string {
	out := make([]string, 0, len(dates))
	for _, d := range dates {
		t, err := time.ParseInLocation(DateKey, d, loc)
		if err != nil {
			continue
		}
		if t.Weekday() == day {
			out = append(out, d)
		}
	}
	return out
}
