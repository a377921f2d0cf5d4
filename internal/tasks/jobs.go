package tasks

import (
	"fmt"
	"time"

	"sessionbot/internal/scheduler"
	"sessionbot/internal/settings"
	logx "sessionbot/pkg/logx"
)

// Trigger names. Stable so runs of the same job correlate across reloads.
const (
	JobWeeklyPoll      = "weekly_poll"
	JobVacationConfirm = "vacation_confirmation"
	JobHygiene         = "calendar_hygiene"
	JobPollCompletion  = "poll_completion"
	JobPollWarning     = "poll_warning"
	JobReminders       = "session_reminders"
)

// sweepEvery is the cadence of the time-window sweeps (poll completion,
// warning, reminders). Each body is idempotent, so a tight cadence only
// bounds how late an action can fire.
const sweepEvery = 5 * time.Minute

// Jobs derives the full trigger set from the effective schedule. The weekly
// poll and the vacation confirmation are wall-clock crons in the schedule's
// timezone; the rest are interval sweeps.
func (s *Service) Jobs(sched settings.Schedule) []scheduler.Job {
	// Vacation confirmation goes out an hour before the poll opens, so away
	// time gets corrected before it blocks candidates.
	confirmHour := sched.Hour - 1
	if confirmHour < 0 {
		confirmHour = 23
	}
	return []scheduler.Job{
		{
			Name:     JobWeeklyPoll,
			Schedule: fmt.Sprintf("cron:0 %d * * %d", sched.Hour, int(sched.Day)),
			Run:      s.OpenWeeklyPoll,
		},
		{
			Name:     JobVacationConfirm,
			Schedule: fmt.Sprintf("cron:0 %d * * %d", confirmHour, int(sched.Day)),
			Run:      s.RunVacationConfirm,
		},
		{
			Name:     JobHygiene,
			Schedule: sched.SyncInterval.String(),
			Timeout:  5 * time.Minute,
			Run:      s.RunHygiene,
		},
		{
			Name:     JobPollCompletion,
			Schedule: sweepEvery.String(),
			Run:      s.CompleteDuePoll,
		},
		{
			Name:     JobPollWarning,
			Schedule: sweepEvery.String(),
			Run:      s.WarnLowTurnout,
		},
		{
			Name:     JobReminders,
			Schedule: sweepEvery.String(),
			Run:      s.SendSessionReminders,
		},
	}
}

// Bind installs the trigger set on the scheduler, re-derives it whenever the
// effective schedule changes, and routes chat votes into the poll engine.
func (s *Service) Bind(sched *scheduler.Service) error {
	s.sink.OnVote(s.HandleVote)

	cur := s.settings.Current()
	if err := sched.Reload(cur.Timezone, s.Jobs(cur)); err != nil {
		return fmt.Errorf("bind triggers: %w", err)
	}
	s.settings.OnChange(func(next settings.Schedule) {
		if err := sched.Reload(next.Timezone, s.Jobs(next)); err != nil {
			s.log.Error("trigger reload failed", logx.Err(err))
		}
	})
	return nil
}
