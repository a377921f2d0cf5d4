package scheduler

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ParseSchedule normalizes a free-form schedule string into a cron spec.
//
// Accepted forms:
//
//	"cron:0 18 * * 5"   explicit cron
//	"interval:2h"       explicit interval (Go duration or HH:MM)
//	"every:30m"         alias for interval
//	"0 18 * * 5"        bare cron (contains whitespace)
//	"@hourly"           cron descriptor
//	"01:30"             interval of 1h30m
//	"45m"               interval from a Go duration
func ParseSchedule(schedule string) (string, error) {
	sched := strings.TrimSpace(schedule)
	if sched == "" {
		return "", fmt.Errorf("empty schedule")
	}

	lower := strings.ToLower(sched)
	switch {
	case strings.HasPrefix(lower, "cron:"):
		spec := strings.TrimSpace(sched[len("cron:"):])
		if spec == "" {
			return "", fmt.Errorf("empty cron spec")
		}
		return spec, nil
	case strings.HasPrefix(lower, "interval:"):
		return intervalSpec(strings.TrimSpace(sched[len("interval:"):]))
	case strings.HasPrefix(lower, "every:"):
		return intervalSpec(strings.TrimSpace(sched[len("every:"):]))
	}

	if strings.HasPrefix(sched, "@") || strings.ContainsAny(sched, " \t") {
		return sched, nil
	}
	return intervalSpec(sched)
}

func intervalSpec(v string) (string, error) {
	if v == "" {
		return "", fmt.Errorf("empty interval")
	}
	if d, ok := parseHHMM(v); ok {
		return "@every " + d.String(), nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return "", fmt.Errorf("invalid interval %q: %w", v, err)
	}
	if d < time.Second {
		return "", fmt.Errorf("interval too short: %s", d)
	}
	return "@every " + d.String(), nil
}

// parseHHMM interprets "HH:MM" as a duration of HH hours and MM minutes.
func parseHHMM(v string) (time.Duration, bool) {
	parts := strings.SplitN(v, ":", 2)
	if len(parts) != 2 || len(parts[0]) == 0 || len(parts[1]) != 2 {
		return 0, false
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 {
		return 0, false
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, false
	}
	d := time.Duration(h)*time.Hour + time.Duration(m)*time.Minute
	if d == 0 {
		return 0, false
	}
	return d, true
}
