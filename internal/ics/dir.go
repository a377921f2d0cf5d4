package ics

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/google/uuid"

	"sessionbot/internal/calendar"
	logx "sessionbot/pkg/logx"
)

// DirProvider is the shared calendar as a directory of single-event .ics
// files (vdir layout, the on-disk format CalDAV servers and vdirsyncer use).
// Unlike feeds it is writable: hygiene flips TRANSP in place and session
// events are created as new files.
type DirProvider struct {
	dir string
	log logx.Logger

	// mu serializes writes; renames keep readers consistent.
	mu sync.Mutex
}

func NewDirProvider(dir string, log logx.Logger) (*DirProvider, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("calendar directory path is empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("calendar dir: %w", err)
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &DirProvider{
		dir: dir,
		log: log.With(logx.String("comp", "calendar.dir")),
	}, nil
}

func (p *DirProvider) Events(ctx context.Context, from, to time.Time) ([]calendar.Event, error) {
	files, err := filepath.Glob(filepath.Join(p.dir, "*.ics"))
	if err != nil {
		return nil, err
	}

	var out []calendar.Event
	for _, f := range files {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		body, err := os.ReadFile(f)
		if err != nil {
			return nil, calendar.Transient(fmt.Errorf("read %s: %w", filepath.Base(f), err))
		}
		parsed, err := parseICS(body)
		if err != nil {
			p.log.Warn("skipping unparseable calendar file",
				logx.String("file", filepath.Base(f)), logx.Err(err))
			continue
		}
		for _, ev := range parsed {
			for _, occ := range expand(ev, from, to) {
				out = append(out, calendar.Event{
					ID:      ev.UID,
					Title:   ev.Summary,
					Start:   occ.start,
					End:     occ.end,
					AllDay:  ev.AllDay,
					Busy:    !ev.Transparent,
					Creator: ev.Organizer,
					Source:  "shared",
				})
			}
		}
	}
	return out, nil
}

// SetBusy rewrites the event's TRANSP property. Writing the same value twice
// produces the same file, so repeated hygiene passes are idempotent.
func (p *DirProvider) SetBusy(ctx context.Context, eventID string, busy bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	path, cal, ve, err := p.findEvent(eventID)
	if err != nil {
		return err
	}
	transp := "TRANSPARENT"
	if busy {
		transp = "OPAQUE"
	}
	ve.SetProperty(ical.ComponentProperty(ical.PropertyTransp), transp)
	return p.writeFile(path, cal)
}

func (p *DirProvider) CreateEvent(ctx context.Context, e calendar.Event) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	uid := uuid.NewString()
	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)

	ve := cal.AddEvent(uid)
	ve.SetDtStampTime(time.Now().UTC())
	ve.SetSummary(e.Title)
	if e.AllDay {
		ve.SetAllDayStartAt(e.Start)
		ve.SetAllDayEndAt(e.End)
	} else {
		ve.SetStartAt(e.Start.UTC())
		ve.SetEndAt(e.End.UTC())
	}
	transp := "TRANSPARENT"
	if e.Busy {
		transp = "OPAQUE"
	}
	ve.SetProperty(ical.ComponentProperty(ical.PropertyTransp), transp)
	if e.Creator != "" {
		ve.SetOrganizer(e.Creator)
	}

	if err := p.writeFile(p.pathFor(uid), cal); err != nil {
		return "", err
	}
	p.log.Info("event created",
		logx.String("event", uid),
		logx.String("title", e.Title),
		logx.Time("start", e.Start))
	return uid, nil
}

func (p *DirProvider) pathFor(uid string) string {
	// UIDs we generate are UUIDs; foreign UIDs get sanitized for the filesystem.
	safe := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		default:
			return '_'
		}
	}, uid)
	return filepath.Join(p.dir, safe+".ics")
}

// findEvent locates the file holding eventID, trying the canonical filename
// first and falling back to a scan for externally created files.
func (p *DirProvider) findEvent(eventID string) (string, *ical.Calendar, *ical.VEvent, error) {
	candidate := p.pathFor(eventID)
	if cal, ve, err := loadEvent(candidate, eventID); err == nil {
		return candidate, cal, ve, nil
	}

	files, err := filepath.Glob(filepath.Join(p.dir, "*.ics"))
	if err != nil {
		return "", nil, nil, err
	}
	for _, f := range files {
		if cal, ve, err := loadEvent(f, eventID); err == nil {
			return f, cal, ve, nil
		}
	}
	return "", nil, nil, fmt.Errorf("event %s not found in calendar dir", eventID)
}

func loadEvent(path, eventID string) (*ical.Calendar, *ical.VEvent, error) {
	body, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}
	cal, err := ical.ParseCalendar(strings.NewReader(string(body)))
	if err != nil {
		return nil, nil, err
	}
	for _, ve := range cal.Events() {
		if p := ve.GetProperty(ical.ComponentPropertyUniqueId); p != nil && p.Value == eventID {
			return cal, ve, nil
		}
	}
	return nil, nil, fmt.Errorf("uid %s not in %s", eventID, filepath.Base(path))
}

func (p *DirProvider) writeFile(path string, cal *ical.Calendar) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(cal.Serialize()), 0o644); err != nil {
		return calendar.Transient(err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return calendar.Transient(err)
	}
	return nil
}
