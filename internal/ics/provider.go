package ics

import (
	"context"
	"fmt"
	"time"

	"github.com/teambition/rrule-go"

	"sessionbot/internal/calendar"
	logx "sessionbot/pkg/logx"
)

// Occurrence cap per event; protects against pathological RRULEs.
const maxOccurrencesPerEvent = 1000

// FeedProvider adapts one participant's ICS feed to calendar.Provider.
// It is read-only: hygiene never writes to personal calendars.
type FeedProvider struct {
	owner   string
	url     string
	fetcher *Fetcher
	log     logx.Logger
}

func NewFeedProvider(owner, url string, fetcher *Fetcher, log logx.Logger) *FeedProvider {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &FeedProvider{
		owner:   owner,
		url:     url,
		fetcher: fetcher,
		log:     log.With(logx.String("comp", "ics"), logx.String("owner", owner)),
	}
}

func (p *FeedProvider) Owner() string { return p.owner }

// Events fetches, parses, and expands the feed into [from, to).
// Feed events are always Busy: a personal feed only carries the owner's
// commitments, and transparency information is unreliable across exporters.
func (p *FeedProvider) Events(ctx context.Context, from, to time.Time) ([]calendar.Event, error) {
	body, fromCache, err := p.fetcher.Fetch(ctx, p.url)
	if err != nil {
		return nil, calendar.Transient(fmt.Errorf("feed %s: %w", p.owner, err))
	}
	parsed, err := parseICS(body)
	if err != nil {
		return nil, fmt.Errorf("feed %s: %w", p.owner, err)
	}
	if fromCache {
		p.log.Debug("serving feed from cache")
	}

	var out []calendar.Event
	for _, ev := range parsed {
		for _, occ := range expand(ev, from, to) {
			out = append(out, calendar.Event{
				ID:      fmt.Sprintf("feed:%s:%s:%s", p.owner, ev.UID, occ.start.UTC().Format(time.RFC3339)),
				Title:   ev.Summary,
				Start:   occ.start,
				End:     occ.end,
				AllDay:  ev.AllDay,
				Busy:    true,
				Creator: p.owner,
				Source:  "feed",
			})
		}
	}
	return out, nil
}

func (p *FeedProvider) SetBusy(context.Context, string, bool) error {
	return calendar.ErrReadOnly
}

func (p *FeedProvider) CreateEvent(context.Context, calendar.Event) (string, error) {
	return "", calendar.ErrReadOnly
}

type occurrence struct {
	start time.Time
	end   time.Time
}

// expand yields the event's occurrences intersecting [from, to).
func expand(ev parsedEvent, from, to time.Time) []occurrence {
	if ev.RawRRule == "" {
		if ev.End.Before(from) || ev.Start.After(to) {
			return nil
		}
		return []occurrence{{start: ev.Start, end: ev.End}}
	}

	r, err := rrule.StrToRRule(ev.RawRRule)
	if err != nil {
		return nil
	}
	r.DTStart(ev.Start)

	var set rrule.Set
	set.RRule(r)
	for _, ex := range ev.ExDates {
		set.ExDate(ex.In(ev.Start.Location()))
	}

	starts := set.Between(from.In(ev.Start.Location()), to.In(ev.Start.Location()), true)
	if len(starts) > maxOccurrencesPerEvent {
		starts = starts[:maxOccurrencesPerEvent]
	}

	dur := ev.End.Sub(ev.Start)
	out := make([]occurrence, 0, len(starts))
	for _, s := range starts {
		if ev.AllDay {
			day := time.Date(s.Year(), s.Month(), s.Day(), 0, 0, 0, 0, s.Location())
			out = append(out, occurrence{start: day, end: day.Add(24 * time.Hour)})
			continue
		}
		out = append(out, occurrence{start: s, end: s.Add(dur)})
	}
	return out
}
