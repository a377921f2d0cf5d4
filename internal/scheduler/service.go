package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	logx "sessionbot/pkg/logx"
)

// New builds a scheduler from cfg. Jobs are registered with AddCron /
// AddInterval / AddWeekly (or swapped wholesale with Reload) and start firing
// once Start is called.
func New(cfg Config, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = time.Minute
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 200
	}
	if cfg.RetryMax < 0 {
		cfg.RetryMax = 0
	}
	s := &Service{
		log: log.With(logx.String("comp", "scheduler")),
		cfg: cfg,
		parser: cron.NewParser(
			cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
		),
	}
	s.loc = s.loadLocation(cfg.Timezone)
	return s
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

func (s *Service) loadLocation(tz string) *time.Location {
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone, falling back to local",
			logx.String("timezone", tz), logx.Err(err))
		return time.Local
	}
	return loc
}

// Apply adopts a new config. A timezone change restarts the cron runner so
// every entry's next fire time is recomputed in the new location.
func (s *Service) Apply(cfg Config) {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = time.Minute
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 200
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tzChanged := cfg.Timezone != s.cfg.Timezone
	s.cfg = cfg
	if tzChanged {
		s.loc = s.loadLocation(cfg.Timezone)
		if s.stopCh != nil {
			s.log.Info("timezone changed, restarting cron", logx.String("timezone", cfg.Timezone))
			s.restartLocked()
		}
	}
}

// Start launches the workers and the cron runner. Safe to call after Stop.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()

	// A previous Stop may still be draining workers.
	for s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		<-done
		s.mu.Lock()
	}
	if s.stopCh != nil {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already started")
	}
	if !s.cfg.Enabled {
		s.mu.Unlock()
		s.log.Info("scheduler disabled")
		return nil
	}

	s.runCtx, s.runCancel = context.WithCancel(context.Background())
	s.queue = make(chan task, 64)
	s.stopCh = make(chan struct{})
	for i := 0; i < s.cfg.Workers; i++ {
		s.workerWG.Add(1)
		go s.worker(i, s.queue, s.stopCh)
	}

	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(s.loc))
	for i := range s.defs {
		if err := s.registerLocked(&s.defs[i]); err != nil {
			s.log.Error("register schedule failed",
				logx.String("name", s.defs[i].name), logx.Err(err))
		}
	}
	s.c.Start()
	workers := s.cfg.Workers
	n := len(s.defs)
	s.mu.Unlock()

	s.log.Info("scheduler started",
		logx.Int("workers", workers),
		logx.Int("schedules", n),
		logx.String("timezone", s.loc.String()))
	return nil
}

// Stop halts the cron runner and waits for in-flight tasks to drain.
func (s *Service) Stop() {
	s.mu.Lock()
	if s.stopCh == nil {
		s.mu.Unlock()
		return
	}
	stopCh := s.stopCh
	s.stopCh = nil
	done := make(chan struct{})
	s.stopDone = done

	c := s.c
	s.c = nil
	cancel := s.runCancel
	s.runCancel = nil
	s.mu.Unlock()

	if c != nil {
		cronCtx := c.Stop()
		<-cronCtx.Done()
	}
	close(stopCh)
	if cancel != nil {
		cancel()
	}

	go func() {
		s.workerWG.Wait()
		s.mu.Lock()
		s.queue = nil
		s.stopDone = nil
		s.mu.Unlock()
		close(done)
		s.log.Info("scheduler stopped")
	}()
	<-done
}

// restartLocked tears down and relaunches the cron runner, keeping the worker
// pool alive. Caller holds s.mu.
func (s *Service) restartLocked() {
	if s.c != nil {
		s.c.Stop()
	}
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(s.loc))
	for i := range s.defs {
		s.defs[i].entryID = 0
		if err := s.registerLocked(&s.defs[i]); err != nil {
			s.log.Error("re-register schedule failed",
				logx.String("name", s.defs[i].name), logx.Err(err))
		}
	}
	s.c.Start()
}

// registerLocked adds one definition to the running cron. Caller holds s.mu.
func (s *Service) registerLocked(def *scheduleDef) error {
	if s.c == nil {
		return nil
	}
	sched, err := s.parser.Parse(def.spec)
	if err != nil {
		return fmt.Errorf("add %q (%s): %w", def.name, def.spec, err)
	}
	d := def // captured by the closure below
	def.entryID = s.c.Schedule(dstSchedule{inner: sched}, cron.FuncJob(func() {
		s.enqueue(task{
			id:      d.id,
			name:    d.name,
			timeout: d.timeout,
			run:     d.job,
			opt:     d.opt,
			state:   d.state,
		})
	}))
	return nil
}

func (s *Service) resolveTimeout(timeout time.Duration) time.Duration {
	if timeout > 0 {
		return timeout
	}
	return s.cfg.DefaultTimeout
}
