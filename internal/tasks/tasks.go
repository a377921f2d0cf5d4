package tasks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"sessionbot/internal/calendar"
	"sessionbot/internal/chat"
	"sessionbot/internal/config"
	"sessionbot/internal/poll"
	"sessionbot/internal/settings"
	"sessionbot/internal/storage"
	logx "sessionbot/pkg/logx"
)

const (
	// Telegram native polls carry at most ten options.
	maxPollOptions = 10
	// noneOption is appended so a poll always has at least two options and a
	// voter can explicitly say no date works. Votes for it clear the voter's
	// selection.
	noneOption = "None of these work for me"

	reminderDedupTTL = 48 * time.Hour
	voteTimeout      = 10 * time.Second
)

// Deps are the collaborators the task layer binds together.
type Deps struct {
	Engine   *poll.Engine
	Recon    *calendar.Reconciler
	Provider calendar.Provider // shared calendar, used for session creation
	Cls      *calendar.Classifier
	Sink     chat.Sink
	Settings *settings.Service
	Store    storage.Store
	Calendar config.CalendarConfig
	Log      logx.Logger

	// Now overrides the clock in tests.
	Now func() time.Time
}

// Service implements the scheduled task bodies and the vote callback. The
// trigger wiring lives in jobs.go.
type Service struct {
	engine   *poll.Engine
	recon    *calendar.Reconciler
	provider calendar.Provider
	cls      *calendar.Classifier
	sink     chat.Sink
	settings *settings.Service
	store    storage.Store
	cal      config.CalendarConfig
	log      logx.Logger

	sessionDuration time.Duration
	now             func() time.Time
}

func New(d Deps) (*Service, error) {
	if d.Engine == nil || d.Sink == nil || d.Settings == nil {
		return nil, errors.New("tasks: engine, sink, and settings are required")
	}
	log := d.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	now := d.Now
	if now == nil {
		now = time.Now
	}
	dur, err := config.ParseDurationOrDefault("calendar.session_duration", d.Calendar.SessionDuration, 4*time.Hour)
	if err != nil {
		return nil, err
	}
	return &Service{
		engine:          d.Engine,
		recon:           d.Recon,
		provider:        d.Provider,
		cls:             d.Cls,
		sink:            d.Sink,
		settings:        d.Settings,
		store:           d.Store,
		cal:             d.Calendar,
		log:             log.With(logx.String("comp", "tasks")),
		sessionDuration: dur,
		now:             now,
	}, nil
}

// OpenWeeklyPoll derives candidate dates from calendar availability and opens
// the availability poll. A poll already open is logged and skipped; zero
// availability is announced instead of polled.
func (s *Service) OpenWeeklyPoll(ctx context.Context) error {
	sched := s.settings.Current()
	loc := sched.Location()
	now := s.now()

	var candidates []string
	if s.recon != nil && s.cls != nil {
		events, err := s.recon.WindowEvents(ctx, now)
		if err != nil {
			return fmt.Errorf("availability fetch: %w", err)
		}
		lookahead := s.cal.LookaheadDays
		if lookahead <= 0 {
			lookahead = 14
		}
		// Today is never a candidate; the poll closes before people could
		// plan. The window shrinks by one day to stay inside the fetch range.
		from := now.In(loc).AddDate(0, 0, 1)
		candidates = calendar.AvailableDates(events, s.cls, from, lookahead-1, loc)
	}
	if len(candidates) > maxPollOptions-1 {
		candidates = candidates[:maxPollOptions-1]
	}

	closesAt := now.Add(sched.PollDuration)
	p, err := s.engine.Open(ctx, candidates, closesAt, sched.TagEveryone)
	switch {
	case errors.Is(err, poll.ErrAlreadyOpen):
		s.log.Warn("poll already open, skipping weekly open")
		return nil
	case errors.Is(err, poll.ErrNoAvailability):
		s.log.Info("no available dates this cycle")
		return s.sink.Announce(ctx, chat.NoAvailabilityText(sched.TagEveryone))
	case err != nil:
		return err
	}

	options := make([]string, 0, len(p.Candidates)+1)
	for _, c := range p.Candidates {
		options = append(options, chat.FormatDateOption(c, loc))
	}
	options = append(options, noneOption)

	ref, err := s.sink.OpenPoll(ctx, chat.PollQuestion(closesAt, loc), options)
	if err != nil {
		// The engine poll stays open; completion will close it on schedule.
		return fmt.Errorf("post poll: %w", err)
	}
	if err := s.engine.AttachMessage(ctx, ref.Encode()); err != nil {
		s.log.Warn("attach poll message failed", logx.Err(err))
	}
	if sched.TagEveryone {
		if err := s.sink.Announce(ctx, chat.VoteCallText()); err != nil {
			s.log.Warn("vote call failed", logx.Err(err))
		}
	}
	s.log.Info("weekly poll opened",
		logx.String("poll", p.ID),
		logx.Int("candidates", len(p.Candidates)),
		logx.Time("closes_at", closesAt))
	return nil
}

// CompleteDuePoll closes the poll once its closing time passed, stops the
// chat poll, creates the session event for the winner, and announces the
// outcome. Runs frequently; it is a no-op while the poll is still open.
func (s *Service) CompleteDuePoll(ctx context.Context) error {
	if !s.engine.Due(s.now()) {
		return nil
	}
	out, err := s.engine.Close(ctx)
	if err != nil {
		return err
	}
	if out.Kind == poll.OutcomeAlreadyClosed {
		return nil
	}

	sched := s.settings.Current()
	loc := sched.Location()
	s.stopChatPoll(ctx, out.Poll.MessageRef)

	if out.Kind == poll.OutcomeNoVotes {
		s.log.Info("poll closed without votes", logx.String("poll", out.Poll.ID))
		return s.sink.Announce(ctx, chat.NoVotesText(out.Poll.TagEveryone))
	}

	if s.provider != nil {
		eventID, err := s.createSession(ctx, out.WinningDate, loc)
		if err != nil {
			s.log.Error("session event creation failed",
				logx.String("date", out.WinningDate), logx.Err(err))
		} else if err := s.engine.MarkEventCreated(ctx, out.Poll.ID, eventID); err != nil {
			s.log.Warn("recording session event failed", logx.Err(err))
		}
	}
	return s.sink.Announce(ctx, chat.ScheduledText(out.WinningDate, out.WinnerVotes, loc, out.Poll.TagEveryone))
}

// WarnLowTurnout fires the one-time low-participation warning.
func (s *Service) WarnLowTurnout(ctx context.Context) error {
	sched := s.settings.Current()
	fire, snap, err := s.engine.CheckWarn(ctx, s.now(), sched.WarnLead, sched.WarnMinVotes)
	if err != nil || !fire {
		return err
	}
	return s.sink.Announce(ctx, chat.WarningText(snap.Voters(), sched.WarnMinVotes, snap.ClosesAt, sched.Location()))
}

// SendSessionReminders announces upcoming session events, once per event.
func (s *Service) SendSessionReminders(ctx context.Context) error {
	if s.recon == nil || s.cls == nil {
		return nil
	}
	sched := s.settings.Current()
	loc := sched.Location()
	now := s.now()

	events, err := s.recon.WindowEvents(ctx, now)
	if err != nil {
		return err
	}
	for _, e := range events {
		if s.cls.Classify(e) != calendar.CategorySession {
			continue
		}
		if e.Start.Before(now) || e.Start.After(now.Add(sched.ReminderLead)) {
			continue
		}
		key := "reminder:" + e.ID
		if s.store != nil {
			if _, seen, err := s.store.GetDedup(ctx, key); err != nil {
				return err
			} else if seen {
				continue
			}
		}
		date := e.Start.In(loc).Format(calendar.DateKey)
		if err := s.sink.Announce(ctx, chat.ReminderText(date, e.Start, loc, sched.TagEveryone)); err != nil {
			return err
		}
		if s.store != nil {
			if err := s.store.PutDedup(ctx, key, now.Add(reminderDedupTTL)); err != nil {
				s.log.Warn("reminder dedup write failed", logx.String("key", key), logx.Err(err))
			}
		}
		s.log.Info("session reminder sent", logx.String("event", e.ID), logx.String("date", date))
	}
	return nil
}

// RunHygiene runs one calendar reconcile cycle.
func (s *Service) RunHygiene(ctx context.Context) error {
	if s.recon == nil {
		return nil
	}
	stats, err := s.recon.Reconcile(ctx, s.now())
	if err != nil {
		return err
	}
	s.log.Info("calendar reconciled",
		logx.Int("fetched", stats.Fetched),
		logx.Int("busy_fixes", stats.BusyFixes),
		logx.Int("free_fixes", stats.FreeFixes),
		logx.Int("alerts", stats.Alerts),
		logx.Int("skipped", stats.Skipped))
	return nil
}

// RunVacationConfirm asks participants with upcoming away time to confirm.
func (s *Service) RunVacationConfirm(ctx context.Context) error {
	if s.recon == nil {
		return nil
	}
	n, err := s.recon.ConfirmVacations(ctx, s.now())
	if err != nil {
		return err
	}
	if n > 0 {
		s.log.Info("vacation confirmations sent", logx.Int("count", n))
	}
	return nil
}

// HandleVote is the chat vote callback. Option indexes map to candidates in
// offer order; the trailing "none" option clears the voter's selection.
func (s *Service) HandleVote(pollID, voter string, optionIndexes []int) {
	active, ok := s.engine.Active()
	if !ok {
		return
	}
	if ref, err := chat.ParseRef(active.MessageRef); err == nil && ref.PollID != "" && pollID != "" && ref.PollID != pollID {
		// Stale update for an older chat poll.
		return
	}

	dates := make([]string, 0, len(optionIndexes))
	for _, i := range optionIndexes {
		if i >= 0 && i < len(active.Candidates) {
			dates = append(dates, active.Candidates[i])
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), voteTimeout)
	defer cancel()
	if err := s.engine.RecordVote(ctx, voter, dates); err != nil {
		if errors.Is(err, poll.ErrPollNotOpen) {
			return
		}
		s.log.Warn("vote not recorded", logx.String("voter", voter), logx.Err(err))
	}
}

func (s *Service) stopChatPoll(ctx context.Context, msgRef string) {
	if msgRef == "" {
		return
	}
	ref, err := chat.ParseRef(msgRef)
	if err != nil {
		s.log.Warn("bad poll message ref", logx.String("ref", msgRef), logx.Err(err))
		return
	}
	if err := s.sink.ClosePoll(ctx, ref); err != nil {
		s.log.Warn("stopping chat poll failed", logx.Err(err))
	}
}

// createSession writes the winning session to the shared calendar.
func (s *Service) createSession(ctx context.Context, date string, loc *time.Location) (string, error) {
	day, err := time.ParseInLocation(calendar.DateKey, date, loc)
	if err != nil {
		return "", fmt.Errorf("winning date %q: %w", date, err)
	}
	startHour := 19
	if s.cal.SessionStartHour != nil {
		startHour = *s.cal.SessionStartHour
	}
	title := s.cal.SessionKeyword
	if title == "" {
		title = "Session"
	}
	start := time.Date(day.Year(), day.Month(), day.Day(), startHour, 0, 0, 0, loc)
	return s.provider.CreateEvent(ctx, calendar.Event{
		Title:  title,
		Start:  start,
		End:    start.Add(s.sessionDuration),
		Busy:   true,
		Source: "shared",
	})
}
