package calendar

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"time"

	"sessionbot/internal/storage"
	logx "sessionbot/pkg/logx"
)

// Notifier delivers reconciler messages to the group. Implemented by the
// chat layer; a nil Notifier disables alerts but not hygiene.
type Notifier interface {
	// PersonalAlert tells the group an event looks personal and was freed.
	PersonalAlert(ctx context.Context, e Event) error
	// ConfirmVacation asks one participant to confirm upcoming away time.
	ConfirmVacation(ctx context.Context, user string, events []Event) error
}

// Stats summarizes one reconcile cycle.
type Stats struct {
	Fetched   int
	BusyFixes int
	FreeFixes int
	Alerts    int
	Skipped   int
}

// Reconciler keeps the shared calendar tidy: session events stay busy,
// personal and away events are freed, and personal events trigger a one-time
// alert. All writes are idempotent, so overlapping runs converge.
type Reconciler struct {
	provider Provider
	extra    []Provider // read-only feeds folded into availability
	cls      *Classifier
	store    storage.Store
	notifier Notifier
	log      logx.Logger

	lookaheadDays int
	retryMax      int
	loc           *time.Location

	rng *rand.Rand
}

type ReconcilerOptions struct {
	LookaheadDays int
	RetryMax      int
	Location      *time.Location
	// Feeds are additional read-only providers (personal ICS calendars).
	Feeds []Provider
	// Notifier may be nil.
	Notifier Notifier
}

const (
	alertDedupTTL    = 60 * 24 * time.Hour
	vacationDedupTTL = 14 * 24 * time.Hour
)

func NewReconciler(p Provider, cls *Classifier, st storage.Store, opts ReconcilerOptions, log logx.Logger) *Reconciler {
	if log.IsZero() {
		log = logx.Nop()
	}
	r := &Reconciler{
		provider:      p,
		extra:         opts.Feeds,
		cls:           cls,
		store:         st,
		notifier:      opts.Notifier,
		log:           log.With(logx.String("comp", "calendar")),
		lookaheadDays: opts.LookaheadDays,
		retryMax:      opts.RetryMax,
		loc:           opts.Location,
		rng:           rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	if r.lookaheadDays <= 0 {
		r.lookaheadDays = 14
	}
	if r.retryMax <= 0 {
		r.retryMax = 3
	}
	if r.loc == nil {
		r.loc = time.UTC
	}
	return r
}

// WindowEvents fetches all events in the lookahead window, shared calendar
// plus feeds. Feed failures degrade to a warning; the shared calendar is
// authoritative and its failure fails the fetch.
func (r *Reconciler) WindowEvents(ctx context.Context, now time.Time) ([]Event, error) {
	from := startOfDay(now.In(r.loc))
	to := from.AddDate(0, 0, r.lookaheadDays)

	events, err := r.fetchWithRetry(ctx, r.provider, from, to)
	if err != nil {
		return nil, fmt.Errorf("shared calendar fetch: %w", err)
	}
	for _, p := range r.extra {
		fe, err := r.fetchWithRetry(ctx, p, from, to)
		if err != nil {
			r.log.Warn("feed fetch failed; continuing without it", logx.Err(err))
			continue
		}
		events = append(events, fe...)
	}
	return events, nil
}

// Reconcile runs one hygiene cycle over the lookahead window.
func (r *Reconciler) Reconcile(ctx context.Context, now time.Time) (Stats, error) {
	var st Stats
	events, err := r.WindowEvents(ctx, now)
	if err != nil {
		return st, err
	}
	st.Fetched = len(events)

	for _, e := range events {
		if ctx.Err() != nil {
			return st, ctx.Err()
		}
		if e.Source == "feed" {
			// Feeds are read-only input to availability; no hygiene.
			continue
		}
		cat := r.cls.Classify(e)
		want := WantsBusy(cat)
		if want != e.Busy {
			if err := r.setBusyWithRetry(ctx, e.ID, want); err != nil {
				r.log.Warn("transparency fix failed",
					logx.String("event", e.ID), logx.Bool("busy", want), logx.Err(err))
				st.Skipped++
				continue
			}
			if want {
				st.BusyFixes++
			} else {
				st.FreeFixes++
			}
			r.log.Info("fixed event transparency",
				logx.String("event", e.ID),
				logx.String("category", cat.String()),
				logx.Bool("busy", want))
		}

		if cat == CategoryPersonal {
			sent, err := r.alertOnce(ctx, e)
			if err != nil {
				r.log.Warn("personal alert failed", logx.String("event", e.ID), logx.Err(err))
			} else if sent {
				st.Alerts++
			}
		}
	}
	return st, nil
}

// alertOnce sends the personal-event alert at most once per event id.
func (r *Reconciler) alertOnce(ctx context.Context, e Event) (bool, error) {
	if r.notifier == nil {
		return false, nil
	}
	key := "alert:" + e.ID
	if r.store != nil {
		if _, seen, err := r.store.GetDedup(ctx, key); err != nil {
			return false, err
		} else if seen {
			return false, nil
		}
	}
	if err := r.notifier.PersonalAlert(ctx, e); err != nil {
		return false, err
	}
	// Mark after the send: a crash in between re-alerts, which beats
	// silently swallowing the notification.
	if r.store != nil {
		if err := r.store.PutDedup(ctx, key, time.Now().Add(alertDedupTTL)); err != nil {
			r.log.Warn("alert dedup write failed", logx.String("key", key), logx.Err(err))
		}
	}
	return true, nil
}

// ConfirmVacations asks each participant with upcoming away time to confirm
// it, at most once per participant per ISO week.
func (r *Reconciler) ConfirmVacations(ctx context.Context, now time.Time) (int, error) {
	if r.notifier == nil {
		return 0, nil
	}
	events, err := r.WindowEvents(ctx, now)
	if err != nil {
		return 0, err
	}

	byUser := map[string][]Event{}
	for _, e := range events {
		if r.cls.Classify(e) != CategoryVacation || e.Creator == "" {
			continue
		}
		byUser[e.Creator] = append(byUser[e.Creator], e)
	}

	users := make([]string, 0, len(byUser))
	for u := range byUser {
		users = append(users, u)
	}
	sort.Strings(users)

	week := ISOWeekKey(now.In(r.loc))
	sent := 0
	for _, user := range users {
		key := "vacation:" + user + ":" + week
		if r.store != nil {
			if _, seen, err := r.store.GetDedup(ctx, key); err != nil {
				return sent, err
			} else if seen {
				continue
			}
		}
		if err := r.notifier.ConfirmVacation(ctx, user, byUser[user]); err != nil {
			r.log.Warn("vacation confirmation failed", logx.String("user", user), logx.Err(err))
			continue
		}
		if r.store != nil {
			if err := r.store.PutDedup(ctx, key, time.Now().Add(vacationDedupTTL)); err != nil {
				r.log.Warn("vacation dedup write failed", logx.String("key", key), logx.Err(err))
			}
		}
		sent++
	}
	return sent, nil
}

// ISOWeekKey formats t's ISO week as e.g. "2026-W35".
func ISOWeekKey(t time.Time) string {
	year, week := t.ISOWeek()
	return fmt.Sprintf("%d-W%02d", year, week)
}

func (r *Reconciler) fetchWithRetry(ctx context.Context, p Provider, from, to time.Time) ([]Event, error) {
	var lastErr error
	for attempt := 0; attempt <= r.retryMax; attempt++ {
		if attempt > 0 {
			if !r.sleep(ctx, r.backoffDelay(attempt)) {
				return nil, ctx.Err()
			}
		}
		events, err := p.Events(ctx, from, to)
		if err == nil {
			return events, nil
		}
		lastErr = err
		if !IsTransient(err) {
			return nil, err
		}
	}
	return nil, lastErr
}

func (r *Reconciler) setBusyWithRetry(ctx context.Context, eventID string, busy bool) error {
	var lastErr error
	for attempt := 0; attempt <= r.retryMax; attempt++ {
		if attempt > 0 {
			if !r.sleep(ctx, r.backoffDelay(attempt)) {
				return ctx.Err()
			}
		}
		err := r.provider.SetBusy(ctx, eventID, busy)
		if err == nil {
			return nil
		}
		lastErr = err
		if !IsTransient(err) {
			return err
		}
	}
	return lastErr
}

// backoffDelay grows exponentially with jitter, capped at 30s.
func (r *Reconciler) backoffDelay(attempt int) time.Duration {
	base := 500 * time.Millisecond
	d := base << (attempt - 1)
	if d > 30*time.Second {
		d = 30 * time.Second
	}
	return d + time.Duration(r.rng.Int63n(int64(d/2)+1))
}

func (r *Reconciler) sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
