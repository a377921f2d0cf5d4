package calendar

import (
	"strings"
	"time"

	"sessionbot/internal/config"
)

var defaultPersonalKeywords = []string{
	"doctor", "dentist", "appointment", "therapy", "checkup", "clinic", "physio",
}

var defaultVacationKeywords = []string{
	"vacation", "pto", "time off", "holiday", "away", "ooo", "trip", "travel",
}

const defaultSessionKeyword = "session"

// Classifier assigns a Category to events based on title keywords.
//
// Precedence: session > personal > vacation > other. A multi-day all-day
// event counts as vacation even without a keyword hit.
type Classifier struct {
	sessionKeyword string
	personal       []string
	vacation       []string
	loc            *time.Location
}

func NewClassifier(cfg config.CalendarConfig, loc *time.Location) *Classifier {
	c := &Classifier{
		sessionKeyword: strings.ToLower(strings.TrimSpace(cfg.SessionKeyword)),
		loc:            loc,
	}
	if c.sessionKeyword == "" {
		c.sessionKeyword = defaultSessionKeyword
	}
	if c.loc == nil {
		c.loc = time.UTC
	}
	c.personal = lowerAll(cfg.PersonalKeywords, defaultPersonalKeywords)
	c.vacation = lowerAll(cfg.VacationKeywords, defaultVacationKeywords)
	return c
}

func lowerAll(in, def []string) []string {
	if len(in) == 0 {
		in = def
	}
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.ToLower(strings.TrimSpace(s))
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

func (c *Classifier) Classify(e Event) Category {
	title := strings.ToLower(e.Title)

	if strings.Contains(title, c.sessionKeyword) {
		return CategorySession
	}
	for _, kw := range c.personal {
		if strings.Contains(title, kw) {
			return CategoryPersonal
		}
	}
	for _, kw := range c.vacation {
		if strings.Contains(title, kw) {
			return CategoryVacation
		}
	}
	if e.AllDay && e.SpansMultipleDays(c.loc) {
		return CategoryVacation
	}
	return CategoryOther
}

// WantsBusy returns the transparency the event should have on the shared
// calendar: only sessions block the group. Everything else is freed, so a
// stray busy flag on an unrelated event cannot eat candidate dates.
func WantsBusy(cat Category) bool {
	return cat == CategorySession
}

// Blocks reports whether an event with this category removes its dates from
// the candidate pool. Personal appointments don't block the group; vacations
// do even though hygiene marks them free.
func Blocks(cat Category, busy bool) bool {
	switch cat {
	case CategorySession, CategoryVacation:
		return true
	case CategoryPersonal:
		return false
	default:
		return busy
	}
}
