package config

import (
	"reflect"
	"sort"
	"strings"

	logx "sessionbot/pkg/logx"
)

// SummarizeConfigChange returns a compact list of changed sections plus safe
// structured attrs for logging (never includes secrets like the bot token).
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 20)

	// Telegram (never log token)
	if oldCfg.Telegram.ChatID != newCfg.Telegram.ChatID ||
		strings.TrimSpace(oldCfg.Telegram.PollTimeout) != strings.TrimSpace(newCfg.Telegram.PollTimeout) {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.Int64("telegram.chat_id", newCfg.Telegram.ChatID),
			logx.String("telegram.poll_timeout", strings.TrimSpace(newCfg.Telegram.PollTimeout)),
		)
	}

	// Logging
	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logx.level", newCfg.Logging.Level),
			logx.Bool("logx.console", newCfg.Logging.Console),
			logx.Bool("logx.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	// Scheduler (executor)
	if oldCfg.Scheduler != newCfg.Scheduler {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.Bool("scheduler.enabled", newCfg.Scheduler.Enabled),
			logx.Int("scheduler.workers", newCfg.Scheduler.Workers),
			logx.String("scheduler.default_timeout", strings.TrimSpace(newCfg.Scheduler.DefaultTimeout)),
			logx.Int("scheduler.retry_max", newCfg.Scheduler.RetryMax),
		)
	}

	// Schedule (triggers)
	if oldCfg.Schedule != newCfg.Schedule {
		changed = append(changed, "schedule")
		attrs = append(attrs,
			logx.String("schedule.day", strings.TrimSpace(newCfg.Schedule.Day)),
			logx.Int("schedule.hour", newCfg.Schedule.Hour),
			logx.String("schedule.timezone", strings.TrimSpace(newCfg.Schedule.Timezone)),
			logx.String("schedule.poll_duration", strings.TrimSpace(newCfg.Schedule.PollDuration)),
		)
	}

	// Calendar
	if !reflect.DeepEqual(oldCfg.Calendar, newCfg.Calendar) {
		changed = append(changed, "calendar")
		attrs = append(attrs,
			logx.Bool("calendar.id_set", strings.TrimSpace(newCfg.Calendar.CalendarID) != ""),
			logx.Int("calendar.lookahead_days", newCfg.Calendar.LookaheadDays),
			logx.Int("calendar.personal_keywords", len(newCfg.Calendar.PersonalKeywords)),
			logx.Int("calendar.vacation_keywords", len(newCfg.Calendar.VacationKeywords)),
		)
	}

	// Storage (nil means disabled)
	var oS, nS StorageConfig
	if oldCfg.Storage != nil {
		oS = *oldCfg.Storage
	}
	if newCfg.Storage != nil {
		nS = *newCfg.Storage
	}
	if oS != nS {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(nS.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(nS.Path) != ""),
		)
	}

	// Feeds (summarize only; URLs may embed private tokens)
	if !reflect.DeepEqual(oldCfg.Feeds, newCfg.Feeds) {
		changed = append(changed, "feeds")
		attrs = append(attrs, logx.Int("feeds.count", len(newCfg.Feeds)))
	}

	sort.Strings(changed)
	return changed, attrs
}
