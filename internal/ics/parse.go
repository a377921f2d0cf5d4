package ics

import (
	"bytes"
	"errors"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"
)

// parsedEvent is a normalized VEVENT before recurrence expansion.
type parsedEvent struct {
	UID     string
	Summary string
	Start   time.Time
	End     time.Time
	AllDay  bool
	// Transparent mirrors TRANSP:TRANSPARENT (the event does not block time).
	Transparent bool
	// Organizer is the ORGANIZER's display name, or its cal-address without
	// the mailto: scheme when no CN is given.
	Organizer string

	RawRRule string
	ExDates  []time.Time
}

// parseICS parses an ICS payload. Broken VEVENTs are skipped; the rest of
// the feed still parses.
func parseICS(body []byte) ([]parsedEvent, error) {
	if len(body) == 0 {
		return nil, errors.New("empty ICS body")
	}
	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	events := make([]parsedEvent, 0, len(cal.Events()))
	for _, ve := range cal.Events() {
		ev, err := parseVEvent(ve)
		if err != nil {
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}

func parseVEvent(ve *ical.VEvent) (parsedEvent, error) {
	var out parsedEvent

	uid := ve.GetProperty(ical.ComponentPropertyUniqueId)
	if uid == nil || uid.Value == "" {
		return out, errors.New("missing UID")
	}
	out.UID = uid.Value

	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
		out.Summary = p.Value
	}

	start, err := ve.GetStartAt()
	if err != nil {
		return out, err
	}
	end, err := ve.GetEndAt()
	if err != nil {
		// DTEND is optional; default to a zero-length event.
		end = start
	}
	out.Start = start
	out.End = end

	// All-day: VALUE=DATE or a date-only DTSTART.
	if p := ve.GetProperty(ical.ComponentPropertyDtStart); p != nil {
		if params := p.ICalParameters; params != nil {
			if vs, ok := params["VALUE"]; ok && len(vs) > 0 && strings.EqualFold(vs[0], "DATE") {
				out.AllDay = true
			}
		}
		if !strings.Contains(p.Value, "T") {
			out.AllDay = true
		}
	}

	if p := ve.GetProperty(ical.ComponentProperty(ical.PropertyTransp)); p != nil {
		out.Transparent = strings.EqualFold(p.Value, "TRANSPARENT")
	}

	if p := ve.GetProperty(ical.ComponentProperty(ical.PropertyOrganizer)); p != nil {
		out.Organizer = organizerName(p)
	}

	if p := ve.GetProperty(ical.ComponentPropertyRrule); p != nil {
		out.RawRRule = p.Value
	}

	for _, p := range ve.GetProperties(ical.ComponentPropertyExdate) {
		for _, part := range strings.Split(p.Value, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			if t, err := parseICSTime(part); err == nil {
				out.ExDates = append(out.ExDates, t)
			}
		}
	}

	return out, nil
}

func organizerName(p *ical.IANAProperty) string {
	if params := p.ICalParameters; params != nil {
		if cns, ok := params["CN"]; ok && len(cns) > 0 && cns[0] != "" {
			return strings.Trim(cns[0], `"`)
		}
	}
	return strings.TrimPrefix(p.Value, "mailto:")
}

// parseICSTime handles the basic DATE / DATE-TIME / UTC forms used by EXDATE.
func parseICSTime(v string) (time.Time, error) {
	v = strings.TrimSpace(v)
	switch {
	case v == "":
		return time.Time{}, errors.New("empty time value")
	case strings.HasSuffix(v, "Z"):
		return time.Parse("20060102T150405Z", v)
	case strings.Contains(v, "T"):
		return time.ParseInLocation("20060102T150405", v, time.Local)
	default:
		return time.ParseInLocation("20060102", v, time.Local)
	}
}
