package config

import (
	"fmt"
	"strings"
	"time"
)

type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`

	// Scheduler controls execution settings for scheduled tasks
	// (workers, timeouts, retries). Trigger times live under Schedule.
	Scheduler SchedulerConfig `json:"scheduler"`

	// Schedule holds the default session schedule. Day/hour/timezone and the
	// poll knobs can be overridden at runtime through the settings store.
	Schedule ScheduleConfig `json:"schedule"`

	Calendar CalendarConfig `json:"calendar"`

	Storage *StorageConfig `json:"storage,omitempty"`

	// Feeds are optional personal calendar feeds (ICS URLs) folded into
	// availability and vacation confirmation.
	Feeds []FeedConfig `json:"feeds,omitempty"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// ChatID is the group chat where polls and announcements are posted.
	ChatID int64 `json:"chat_id"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m") for long polling.
	PollTimeout string `json:"poll_timeout"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// SchedulerConfig controls the trigger scheduler's execution engine.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
//
// Defaults (when fields are omitted/zero):
//   - workers: 2
//   - default_timeout: "2m"
//   - history_size: 200
//   - retry_max: 3
type SchedulerConfig struct {
	Enabled bool `json:"enabled"`
	Workers int  `json:"workers,omitempty"`
	// DefaultTimeout bounds each task run. Use "0s" to disable.
	DefaultTimeout string `json:"default_timeout,omitempty"`
	HistorySize    int    `json:"history_size,omitempty"`
	RetryMax       int    `json:"retry_max,omitempty"`
}

// ScheduleConfig is the default recurring schedule. The settings store may
// override individual fields at runtime; see internal/settings.
type ScheduleConfig struct {
	// Day is the weekday the session poll opens ("monday".."sunday").
	Day string `json:"day"`
	// Hour is the local wall-clock hour (0-23) the poll opens.
	Hour int `json:"hour"`
	// Timezone is an IANA zone name (e.g. "Europe/Amsterdam").
	Timezone string `json:"timezone"`

	// PollDuration is how long a poll stays open (Go duration string).
	PollDuration string `json:"poll_duration,omitempty"`
	// WarnLead is how long before close the low-participation warning fires.
	WarnLead string `json:"warn_lead,omitempty"`
	// WarnMinVotes: polls with fewer voters than this get the warning.
	WarnMinVotes int `json:"warn_min_votes,omitempty"`
	// ReminderLead is how long before session start the reminder is sent.
	ReminderLead string `json:"reminder_lead,omitempty"`
	// SyncInterval is how often the calendar reconciler runs.
	SyncInterval string `json:"sync_interval,omitempty"`
	// TagEveryone mentions the whole group when the poll opens.
	TagEveryone bool `json:"tag_everyone,omitempty"`
}

type CalendarConfig struct {
	// CalendarID identifies the shared calendar at the provider.
	CalendarID string `json:"calendar_id"`
	// SessionKeyword marks session events in the shared calendar.
	SessionKeyword string `json:"session_keyword,omitempty"`
	// PersonalKeywords flag personal appointments that don't belong on the
	// shared calendar. Matched case-insensitively against event titles.
	PersonalKeywords []string `json:"personal_keywords,omitempty"`
	// VacationKeywords flag away time.
	VacationKeywords []string `json:"vacation_keywords,omitempty"`
	// LookaheadDays bounds the reconciler's fetch window.
	LookaheadDays int `json:"lookahead_days,omitempty"`
	// SessionStartHour is the local hour new session events start at.
	// Nil means the built-in default; 0 is a valid midnight start.
	SessionStartHour *int `json:"session_start_hour,omitempty"`
	// SessionDuration is the length of a created session event.
	SessionDuration string `json:"session_duration,omitempty"`
	// RetryMax bounds retries of transient provider errors per cycle.
	RetryMax int `json:"retry_max,omitempty"`
}

// StorageConfig controls the persistence layer.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./sessionbot.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

type FeedConfig struct {
	// Owner is the participant the feed belongs to (display name or handle).
	Owner string `json:"owner"`
	URL   string `json:"url"`
}

var weekdays = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

// ParseWeekday maps a lowercase English day name to time.Weekday.
func ParseWeekday(s string) (time.Weekday, error) {
	d, ok := weekdays[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return 0, fmt.Errorf("invalid weekday %q", s)
	}
	return d, nil
}

// Validate checks the config for structural problems. It is installed as the
// manager's validation hook so a bad edit never replaces a working config.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Telegram.Token) == "" {
		return fmt.Errorf("telegram.token: required")
	}
	if c.Telegram.ChatID == 0 {
		return fmt.Errorf("telegram.chat_id: required")
	}
	if _, err := ParseDurationField("telegram.poll_timeout", c.Telegram.PollTimeout); err != nil {
		return err
	}
	if _, err := ParseDurationField("scheduler.default_timeout", c.Scheduler.DefaultTimeout); err != nil {
		return err
	}
	if err := c.Schedule.Validate(); err != nil {
		return err
	}
	if _, err := ParseDurationField("calendar.session_duration", c.Calendar.SessionDuration); err != nil {
		return err
	}
	if c.Calendar.LookaheadDays < 0 {
		return fmt.Errorf("calendar.lookahead_days: must be >= 0")
	}
	if h := c.Calendar.SessionStartHour; h != nil && (*h < 0 || *h > 23) {
		return fmt.Errorf("calendar.session_start_hour: must be in 0..23")
	}
	if c.Storage != nil {
		switch strings.TrimSpace(c.Storage.Driver) {
		case "", "sqlite", "memory":
		default:
			return fmt.Errorf("storage.driver: unknown driver %q", c.Storage.Driver)
		}
		if _, err := ParseDurationField("storage.busy_timeout", c.Storage.BusyTimeout); err != nil {
			return err
		}
	}
	for i, f := range c.Feeds {
		if strings.TrimSpace(f.Owner) == "" {
			return fmt.Errorf("feeds[%d].owner: required", i)
		}
		if strings.TrimSpace(f.URL) == "" {
			return fmt.Errorf("feeds[%d].url: required", i)
		}
	}
	return nil
}

// Validate checks the schedule block (also reused for runtime overrides).
func (s *ScheduleConfig) Validate() error {
	if _, err := ParseWeekday(s.Day); err != nil {
		return fmt.Errorf("schedule.day: %w", err)
	}
	if s.Hour < 0 || s.Hour > 23 {
		return fmt.Errorf("schedule.hour: must be in 0..23")
	}
	if _, err := time.LoadLocation(strings.TrimSpace(s.Timezone)); err != nil {
		return fmt.Errorf("schedule.timezone: %w", err)
	}
	for _, f := range []struct{ path, raw string }{
		{"schedule.poll_duration", s.PollDuration},
		{"schedule.warn_lead", s.WarnLead},
		{"schedule.reminder_lead", s.ReminderLead},
		{"schedule.sync_interval", s.SyncInterval},
	} {
		if _, err := ParseDurationField(f.path, f.raw); err != nil {
			return err
		}
	}
	if s.WarnMinVotes < 0 {
		return fmt.Errorf("schedule.warn_min_votes: must be >= 0")
	}
	return nil
}
