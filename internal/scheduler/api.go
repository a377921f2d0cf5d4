package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	logx "sessionbot/pkg/logx"
)

// AddCron registers (or replaces, by name) a cron-driven job.
func (s *Service) AddCron(name, spec string, timeout time.Duration, opt TaskOptions, run func(ctx context.Context) error) (string, error) {
	if name == "" {
		return "", fmt.Errorf("schedule name required")
	}
	if _, err := s.parser.Parse(spec); err != nil {
		return "", fmt.Errorf("invalid cron spec %q: %w", spec, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(name)
	return s.addLocked(scheduleDef{
		id:      uuid.NewString(),
		name:    name,
		spec:    spec,
		timeout: s.resolveTimeout(timeout),
		job:     run,
		opt:     opt.withDefaults(s.cfg),
		state:   &runState{},
	})
}

// AddInterval registers a job firing every d.
func (s *Service) AddInterval(name string, d time.Duration, timeout time.Duration, opt TaskOptions, run func(ctx context.Context) error) (string, error) {
	if d < time.Second {
		return "", fmt.Errorf("interval too short: %s", d)
	}
	return s.AddCron(name, "@every "+d.String(), timeout, opt, run)
}

// AddWeekly registers a job firing once a week at hour:00 local time on day.
func (s *Service) AddWeekly(name string, day time.Weekday, hour int, timeout time.Duration, opt TaskOptions, run func(ctx context.Context) error) (string, error) {
	if hour < 0 || hour > 23 {
		return "", fmt.Errorf("hour out of range: %d", hour)
	}
	spec := fmt.Sprintf("0 %d * * %d", hour, int(day))
	return s.AddCron(name, spec, timeout, opt, run)
}

// AddSchedule registers a job from a free-form schedule string (see
// ParseSchedule for accepted forms).
func (s *Service) AddSchedule(name, schedule string, timeout time.Duration, opt TaskOptions, run func(ctx context.Context) error) (string, error) {
	spec, err := ParseSchedule(schedule)
	if err != nil {
		return "", err
	}
	return s.AddCron(name, spec, timeout, opt, run)
}

// Remove drops the named schedule. Returns false if it was not registered.
func (s *Service) Remove(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeLocked(name)
}

// Reload replaces the entire job set and timezone in one step. Every job is
// validated before anything changes: on error the previous set keeps running
// untouched.
func (s *Service) Reload(tz string, jobs []Job) error {
	next := make([]scheduleDef, 0, len(jobs))
	seen := map[string]bool{}
	for _, j := range jobs {
		if j.Name == "" {
			return fmt.Errorf("reload: job with empty name")
		}
		if seen[j.Name] {
			return fmt.Errorf("reload: duplicate job %q", j.Name)
		}
		seen[j.Name] = true
		if j.Run == nil {
			return fmt.Errorf("reload: job %q has no handler", j.Name)
		}
		spec, err := ParseSchedule(j.Schedule)
		if err != nil {
			return fmt.Errorf("reload: job %q: %w", j.Name, err)
		}
		if _, err := s.parser.Parse(spec); err != nil {
			return fmt.Errorf("reload: job %q: invalid spec %q: %w", j.Name, spec, err)
		}
		next = append(next, scheduleDef{
			id:    uuid.NewString(),
			name:  j.Name,
			spec:  spec,
			job:   j.Run,
			state: &runState{},
		})
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range next {
		next[i].timeout = s.resolveTimeout(jobs[i].Timeout)
		next[i].opt = jobs[i].Opt.withDefaults(s.cfg)
	}
	if tz != "" && tz != s.cfg.Timezone {
		s.cfg.Timezone = tz
		s.loc = s.loadLocation(tz)
	}
	s.defs = next
	if s.stopCh != nil {
		s.restartLocked()
	}
	s.log.Info("schedules reloaded",
		logx.Int("jobs", len(next)),
		logx.String("timezone", s.loc.String()))
	return nil
}

// Schedules returns the registered job names in registration order.
func (s *Service) Schedules() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, len(s.defs))
	for i, d := range s.defs {
		names[i] = d.name
	}
	return names
}

// Trigger enqueues the named job immediately, outside its schedule.
func (s *Service) Trigger(name string) error {
	s.mu.Lock()
	if s.stopCh == nil {
		s.mu.Unlock()
		return fmt.Errorf("scheduler not running")
	}
	var t task
	found := false
	for i := range s.defs {
		if s.defs[i].name == name {
			d := &s.defs[i]
			t = task{
				id:      d.id,
				name:    d.name,
				timeout: d.timeout,
				run:     d.job,
				opt:     d.opt,
				state:   d.state,
			}
			found = true
			break
		}
	}
	s.mu.Unlock()

	if !found {
		return fmt.Errorf("unknown schedule %q", name)
	}
	s.enqueue(t)
	return nil
}

func (s *Service) addLocked(def scheduleDef) (string, error) {
	if err := s.registerLocked(&def); err != nil {
		return "", err
	}
	s.defs = append(s.defs, def)
	s.log.Debug("schedule added",
		logx.String("name", def.name),
		logx.String("spec", def.spec))
	return def.id, nil
}

func (s *Service) removeLocked(name string) bool {
	for i := range s.defs {
		if s.defs[i].name == name {
			if s.c != nil && s.defs[i].entryID != 0 {
				s.c.Remove(s.defs[i].entryID)
			}
			s.defs = append(s.defs[:i], s.defs[i+1:]...)
			return true
		}
	}
	return false
}
