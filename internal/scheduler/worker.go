package scheduler

import (
	"context"
	"fmt"
	"math/rand"
	"runtime/debug"
	"time"

	logx "sessionbot/pkg/logx"
)

func (s *Service) enqueue(t task) {
	s.mu.Lock()
	q := s.queue
	s.mu.Unlock()
	if q == nil {
		return
	}
	select {
	case q <- t:
	default:
		s.log.Warn("task queue full, dropping run", logx.String("name", t.name))
	}
}

func (s *Service) worker(n int, queue <-chan task, stopCh <-chan struct{}) {
	defer s.workerWG.Done()
	for {
		select {
		case <-stopCh:
			return
		case t := <-queue:
			s.execOne(n, t)
		}
	}
}

func (s *Service) execOne(n int, t task) {
	if t.opt.Overlap == OverlapSkipIfRunning {
		t.state.mu.Lock()
		if t.state.running {
			t.state.mu.Unlock()
			s.log.Debug("previous run still in progress, skipping",
				logx.String("name", t.name))
			return
		}
		t.state.running = true
		t.state.mu.Unlock()
		defer func() {
			t.state.mu.Lock()
			t.state.running = false
			t.state.mu.Unlock()
		}()
	}

	s.mu.Lock()
	base := s.runCtx
	s.mu.Unlock()
	if base == nil {
		return
	}

	started := time.Now()
	var lastErr error
	attempts := 1 + t.opt.RetryMax
	for attempt := 1; attempt <= attempts; attempt++ {
		lastErr = s.runAttempt(base, t)
		if lastErr == nil {
			break
		}
		if attempt == attempts {
			break
		}
		delay := backoffDelay(attempt, t.opt)
		s.log.Warn("task failed, retrying",
			logx.String("name", t.name),
			logx.Int("attempt", attempt),
			logx.Duration("delay", delay),
			logx.Err(lastErr))
		select {
		case <-base.Done():
			s.recordHistory(t, started, lastErr)
			return
		case <-time.After(delay):
		}
	}

	if lastErr != nil {
		s.log.Error("task failed",
			logx.String("name", t.name),
			logx.Int("worker", n),
			logx.Duration("took", time.Since(started)),
			logx.Err(lastErr))
	} else {
		s.log.Debug("task completed",
			logx.String("name", t.name),
			logx.Int("worker", n),
			logx.Duration("took", time.Since(started)))
	}
	s.recordHistory(t, started, lastErr)
}

// runAttempt runs one attempt under the per-attempt timeout, converting a
// panic into an error so one bad job never takes the worker down.
func (s *Service) runAttempt(base context.Context, t task) (err error) {
	ctx, cancel := context.WithTimeout(base, t.timeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			s.log.Error("task panicked",
				logx.String("name", t.name),
				logx.Any("panic", r),
				logx.String("stack", string(debug.Stack())))
		}
	}()
	return t.run(ctx)
}

func (s *Service) recordHistory(t task, started time.Time, err error) {
	item := HistoryItem{
		ID:       t.id,
		Name:     t.name,
		Started:  started,
		Duration: time.Since(started),
	}
	if err != nil {
		item.Error = err.Error()
	}
	s.mu.Lock()
	max := s.cfg.HistorySize
	s.mu.Unlock()

	s.hmu.Lock()
	s.history = append(s.history, item)
	if len(s.history) > max {
		s.history = s.history[len(s.history)-max:]
	}
	s.hmu.Unlock()
}

// backoffDelay is exponential in the attempt number with +/-jitter, capped.
func backoffDelay(attempt int, opt TaskOptions) time.Duration {
	d := opt.RetryBase << uint(attempt-1)
	if d > opt.RetryMaxDelay || d <= 0 {
		d = opt.RetryMaxDelay
	}
	jitter := 1 + opt.RetryJitter*(2*rand.Float64()-1)
	d = time.Duration(float64(d) * jitter)
	if d < 0 {
		d = opt.RetryBase
	}
	return d
}
