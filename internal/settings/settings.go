package settings

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"sessionbot/internal/config"
	"sessionbot/internal/storage"
	logx "sessionbot/pkg/logx"
)

// Keys accepted by Set. Values are stored as strings and parsed on read.
const (
	KeyDay          = "schedule_day"
	KeyHour         = "schedule_hour"
	KeyTimezone     = "schedule_timezone"
	KeyPollDuration = "poll_duration"
	KeyWarnLead     = "warn_lead"
	KeyWarnMinVotes = "warn_min_votes"
	KeyReminderLead = "reminder_lead"
	KeySyncInterval = "sync_interval"
	KeyTagEveryone  = "tag_everyone"
)

// Schedule is the effective schedule: file-config defaults overlaid with
// runtime overrides from the settings store. All durations are resolved.
type Schedule struct {
	Day      time.Weekday
	Hour     int
	Timezone string

	PollDuration time.Duration
	WarnLead     time.Duration
	WarnMinVotes int
	ReminderLead time.Duration
	SyncInterval time.Duration
	TagEveryone  bool
}

// Location resolves the schedule's timezone. It never fails for a Schedule
// produced by Service.Current because validation happens on write.
func (s Schedule) Location() *time.Location {
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Defaults applied when both file config and store are silent.
const (
	defaultPollDuration = 6 * time.Hour
	defaultWarnLead     = time.Hour
	defaultWarnMinVotes = 2
	defaultReminderLead = 30 * time.Minute
	defaultSyncInterval = 30 * time.Minute
)

// Service resolves the effective schedule and accepts validated overrides.
// Overrides survive restarts through the settings store; when the store is
// disabled, Set still works but overrides are process-local.
type Service struct {
	log logx.Logger

	mu        sync.RWMutex
	defaults  config.ScheduleConfig
	overrides map[string]string
	onChange  []func(Schedule)

	store storage.Store
}

func New(defaults config.ScheduleConfig, store storage.Store, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		log:       log.With(logx.String("comp", "settings")),
		defaults:  defaults,
		overrides: map[string]string{},
		store:     store,
	}
}

// Load pulls persisted overrides from the store. Unknown or invalid persisted
// values are logged and skipped so one bad row can't wedge startup.
func (s *Service) Load(ctx context.Context) error {
	if s.store == nil {
		return nil
	}
	all, err := s.store.AllSettings(ctx)
	if err != nil {
		return fmt.Errorf("settings load: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range all {
		if err := validate(k, v); err != nil {
			s.log.Warn("ignoring invalid persisted setting",
				logx.String("key", k), logx.String("value", v), logx.Err(err))
			continue
		}
		s.overrides[k] = v
	}
	return nil
}

// SetDefaults replaces the file-config defaults (config reload path).
func (s *Service) SetDefaults(defaults config.ScheduleConfig) {
	s.mu.Lock()
	s.defaults = defaults
	s.mu.Unlock()
	s.notify()
}

// OnChange registers a callback invoked after any effective-schedule change.
// Callbacks run on the caller's goroutine of Set/SetDefaults.
func (s *Service) OnChange(fn func(Schedule)) {
	if fn == nil {
		return
	}
	s.mu.Lock()
	s.onChange = append(s.onChange, fn)
	s.mu.Unlock()
}

// Current returns the effective schedule.
func (s *Service) Current() Schedule {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.resolveLocked()
}

// Set validates and persists one override, then notifies listeners.
func (s *Service) Set(ctx context.Context, key, value string) error {
	key = strings.TrimSpace(strings.ToLower(key))
	value = strings.TrimSpace(value)
	if err := validate(key, value); err != nil {
		return err
	}
	if s.store != nil {
		if err := s.store.SetSetting(ctx, key, value); err != nil {
			return fmt.Errorf("settings persist: %w", err)
		}
	}
	s.mu.Lock()
	s.overrides[key] = value
	s.mu.Unlock()

	s.log.Info("setting updated", logx.String("key", key), logx.String("value", value))
	s.notify()
	return nil
}

func (s *Service) notify() {
	s.mu.RLock()
	sched := s.resolveLocked()
	fns := append([]func(Schedule){}, s.onChange...)
	s.mu.RUnlock()
	for _, fn := range fns {
		fn(sched)
	}
}

func (s *Service) resolveLocked() Schedule {
	d := s.defaults
	ov := s.overrides

	sched := Schedule{
		Hour:         d.Hour,
		Timezone:     strings.TrimSpace(d.Timezone),
		WarnMinVotes: d.WarnMinVotes,
		TagEveryone:  d.TagEveryone,
	}
	if day, err := config.ParseWeekday(d.Day); err == nil {
		sched.Day = day
	}
	sched.PollDuration = durationOr(d.PollDuration, defaultPollDuration)
	sched.WarnLead = durationOr(d.WarnLead, defaultWarnLead)
	sched.ReminderLead = durationOr(d.ReminderLead, defaultReminderLead)
	sched.SyncInterval = durationOr(d.SyncInterval, defaultSyncInterval)
	if sched.WarnMinVotes <= 0 {
		sched.WarnMinVotes = defaultWarnMinVotes
	}
	if sched.Timezone == "" {
		sched.Timezone = "UTC"
	}

	// Overrides are pre-validated on write, so parsing here cannot fail.
	if v, ok := ov[KeyDay]; ok {
		if day, err := config.ParseWeekday(v); err == nil {
			sched.Day = day
		}
	}
	if v, ok := ov[KeyHour]; ok {
		if h, err := strconv.Atoi(v); err == nil {
			sched.Hour = h
		}
	}
	if v, ok := ov[KeyTimezone]; ok {
		sched.Timezone = v
	}
	if v, ok := ov[KeyPollDuration]; ok {
		sched.PollDuration = durationOr(v, sched.PollDuration)
	}
	if v, ok := ov[KeyWarnLead]; ok {
		sched.WarnLead = durationOr(v, sched.WarnLead)
	}
	if v, ok := ov[KeyWarnMinVotes]; ok {
		if n, err := strconv.Atoi(v); err == nil {
			sched.WarnMinVotes = n
		}
	}
	if v, ok := ov[KeyReminderLead]; ok {
		sched.ReminderLead = durationOr(v, sched.ReminderLead)
	}
	if v, ok := ov[KeySyncInterval]; ok {
		sched.SyncInterval = durationOr(v, sched.SyncInterval)
	}
	if v, ok := ov[KeyTagEveryone]; ok {
		if b, err := strconv.ParseBool(v); err == nil {
			sched.TagEveryone = b
		}
	}
	return sched
}

func durationOr(raw string, def time.Duration) time.Duration {
	d, err := config.ParseDurationOrDefault("", raw, def)
	if err != nil {
		return def
	}
	return d
}

func validate(key, value string) error {
	switch key {
	case KeyDay:
		_, err := config.ParseWeekday(value)
		return err
	case KeyHour:
		h, err := strconv.Atoi(value)
		if err != nil || h < 0 || h > 23 {
			return fmt.Errorf("hour must be an integer in 0..23, got %q", value)
		}
		return nil
	case KeyTimezone:
		if _, err := time.LoadLocation(value); err != nil {
			return fmt.Errorf("invalid timezone %q: %w", value, err)
		}
		return nil
	case KeyPollDuration, KeyWarnLead, KeyReminderLead, KeySyncInterval:
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", value, err)
		}
		if d <= 0 {
			return fmt.Errorf("duration must be > 0, got %q", value)
		}
		return nil
	case KeyWarnMinVotes:
		n, err := strconv.Atoi(value)
		if err != nil || n < 0 {
			return fmt.Errorf("warn_min_votes must be an integer >= 0, got %q", value)
		}
		return nil
	case KeyTagEveryone:
		if _, err := strconv.ParseBool(value); err != nil {
			return fmt.Errorf("tag_everyone must be a boolean, got %q", value)
		}
		return nil
	default:
		return fmt.Errorf("unknown setting %q", key)
	}
}
