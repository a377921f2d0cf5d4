package poll

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"sessionbot/internal/calendar"
	"sessionbot/internal/storage"
	logx "sessionbot/pkg/logx"
)

// OutcomeKind classifies what Close produced.
type OutcomeKind int

const (
	// OutcomeScheduled: a winning date was picked.
	OutcomeScheduled OutcomeKind = iota
	// OutcomeNoVotes: the poll closed with zero voters.
	OutcomeNoVotes
	// OutcomeAlreadyClosed: there was nothing to close (double close).
	OutcomeAlreadyClosed
)

// Outcome is the result of closing a poll.
type Outcome struct {
	Kind        OutcomeKind
	Poll        Poll
	WinningDate string
	WinnerVotes int
}

// Engine owns poll state. All mutations go through its mutex, so chat vote
// callbacks and scheduler ticks can race freely; persistence happens inside
// the critical section to keep the store and memory in step.
type Engine struct {
	mu    sync.Mutex
	cur   *Poll // nil when idle
	store storage.Store
	log   logx.Logger
	now   func() time.Time
}

func NewEngine(store storage.Store, log logx.Logger) *Engine {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Engine{
		store: store,
		log:   log.With(logx.String("comp", "poll")),
		now:   time.Now,
	}
}

// Restore loads the active poll from the store (boot path). An expired open
// poll is restored as-is; the completion task will close it on its next tick.
func (e *Engine) Restore(ctx context.Context) error {
	if e.store == nil {
		return nil
	}
	rec, ok, err := e.store.ActivePoll(ctx)
	if err != nil {
		return fmt.Errorf("poll restore: %w", err)
	}
	if !ok {
		return nil
	}
	p := fromRecord(rec)
	e.mu.Lock()
	e.cur = &p
	e.mu.Unlock()
	e.log.Info("restored open poll",
		logx.String("poll", p.ID),
		logx.Int("candidates", len(p.Candidates)),
		logx.Time("closes_at", p.ClosesAt))
	return nil
}

// Active returns a snapshot of the open poll, if any.
func (e *Engine) Active() (Poll, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cur == nil || !e.cur.Status.IsOpen() {
		return Poll{}, false
	}
	return e.cur.clone(), true
}

// Open starts a new poll over the given candidate dates.
//
// Candidates must be "YYYY-MM-DD"; duplicates collapse, first position wins.
// Returns ErrAlreadyOpen if a poll is accepting votes, ErrNoAvailability if
// no valid candidates remain.
func (e *Engine) Open(ctx context.Context, candidates []string, closesAt time.Time, tagEveryone bool) (Poll, error) {
	seen := map[string]bool{}
	clean := make([]string, 0, len(candidates))
	for _, c := range candidates {
		if _, err := time.Parse(calendar.DateKey, c); err != nil {
			return Poll{}, fmt.Errorf("%w: %q", ErrInvalidDate, c)
		}
		if !seen[c] {
			seen[c] = true
			clean = append(clean, c)
		}
	}
	if len(clean) == 0 {
		return Poll{}, ErrNoAvailability
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.cur != nil && e.cur.Status.IsOpen() {
		return Poll{}, ErrAlreadyOpen
	}

	p := Poll{
		ID:          uuid.NewString(),
		Status:      StatusOpen,
		OpenedAt:    e.now(),
		ClosesAt:    closesAt,
		Candidates:  clean,
		Votes:       map[string][]string{},
		TagEveryone: tagEveryone,
	}
	if err := e.persistLocked(ctx, p); err != nil {
		return Poll{}, err
	}
	e.cur = &p
	e.log.Info("poll opened",
		logx.String("poll", p.ID),
		logx.Int("candidates", len(clean)),
		logx.Time("closes_at", closesAt))
	return p.clone(), nil
}

// AttachMessage records the chat message carrying the poll, so votes and the
// close announcement can reference it.
func (e *Engine) AttachMessage(ctx context.Context, ref string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cur == nil || !e.cur.Status.IsOpen() {
		return ErrPollNotOpen
	}
	e.cur.MessageRef = ref
	return e.persistLocked(ctx, *e.cur)
}

// RecordVote replaces the voter's previous selection (last write wins).
// The whole vote is rejected if any date is not a candidate.
func (e *Engine) RecordVote(ctx context.Context, voter string, dates []string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.cur == nil || !e.cur.Status.IsOpen() {
		return ErrPollNotOpen
	}
	valid := map[string]bool{}
	for _, c := range e.cur.Candidates {
		valid[c] = true
	}
	clean := make([]string, 0, len(dates))
	for _, d := range dates {
		if !valid[d] {
			return fmt.Errorf("%w: %q", ErrInvalidDate, d)
		}
		clean = append(clean, d)
	}

	prev, had := e.cur.Votes[voter]
	if len(clean) == 0 {
		// A retraction: the voter cleared their answer.
		delete(e.cur.Votes, voter)
	} else {
		e.cur.Votes[voter] = clean
	}
	if err := e.persistLocked(ctx, *e.cur); err != nil {
		// Roll back the in-memory change so memory and store stay in step.
		if had {
			e.cur.Votes[voter] = prev
		} else {
			delete(e.cur.Votes, voter)
		}
		return err
	}
	e.log.Debug("vote recorded",
		logx.String("poll", e.cur.ID),
		logx.String("voter", voter),
		logx.Int("dates", len(clean)),
		logx.Bool("replaced", had))
	return nil
}

// CheckWarn fires the one-time low-participation warning when the poll is
// inside the warn window and has fewer voters than minVotes. It returns the
// snapshot to announce; fire is false when there is nothing to do.
func (e *Engine) CheckWarn(ctx context.Context, now time.Time, lead time.Duration, minVotes int) (fire bool, snap Poll, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.cur == nil || !e.cur.Status.IsOpen() {
		return false, Poll{}, nil
	}
	if e.cur.Status == StatusWarned {
		return false, Poll{}, nil
	}
	if now.Before(e.cur.ClosesAt.Add(-lead)) {
		return false, Poll{}, nil
	}
	if e.cur.Voters() >= minVotes {
		return false, Poll{}, nil
	}

	e.cur.Status = StatusWarned
	if err := e.persistLocked(ctx, *e.cur); err != nil {
		e.cur.Status = StatusOpen
		return false, Poll{}, err
	}
	e.log.Info("poll warning fired",
		logx.String("poll", e.cur.ID),
		logx.Int("voters", e.cur.Voters()),
		logx.Int("min_votes", minVotes))
	return true, e.cur.clone(), nil
}

// Due reports whether the open poll has reached its closing time.
func (e *Engine) Due(now time.Time) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cur != nil && e.cur.Status.IsOpen() && !now.Before(e.cur.ClosesAt)
}

// Close tallies and closes the open poll. Closing when nothing is open is a
// no-op reported as OutcomeAlreadyClosed, so repeated ticks are harmless.
func (e *Engine) Close(ctx context.Context) (Outcome, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.cur == nil || !e.cur.Status.IsOpen() {
		return Outcome{Kind: OutcomeAlreadyClosed}, nil
	}

	prevStatus := e.cur.Status
	e.cur.Status = StatusClosed
	out := Outcome{Poll: e.cur.clone()}

	if date, votes, ok := e.cur.Winner(); ok {
		out.Kind = OutcomeScheduled
		out.WinningDate = date
		out.WinnerVotes = votes
		e.cur.WinningDate = date
	} else {
		out.Kind = OutcomeNoVotes
	}
	out.Poll.Status = StatusClosed
	out.Poll.WinningDate = e.cur.WinningDate

	if err := e.persistLocked(ctx, *e.cur); err != nil {
		e.cur.Status = prevStatus
		e.cur.WinningDate = ""
		return Outcome{}, err
	}
	e.log.Info("poll closed",
		logx.String("poll", e.cur.ID),
		logx.String("winner", out.WinningDate),
		logx.Int("voters", out.Poll.Voters()))
	e.cur = nil
	return out, nil
}

// MarkEventCreated records the session event created for a closed poll.
func (e *Engine) MarkEventCreated(ctx context.Context, pollID, eventID string) error {
	if e.store == nil {
		return nil
	}
	rec, ok, err := e.store.Poll(ctx, pollID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("poll %s not found", pollID)
	}
	rec.EventID = eventID
	return e.store.SavePoll(ctx, rec)
}

func (e *Engine) persistLocked(ctx context.Context, p Poll) error {
	if e.store == nil {
		return nil
	}
	if err := e.store.SavePoll(ctx, toRecord(p)); err != nil {
		return fmt.Errorf("poll persist: %w", err)
	}
	return nil
}

func toRecord(p Poll) storage.PollRecord {
	return storage.PollRecord{
		ID:          p.ID,
		Status:      p.Status.String(),
		OpenedAt:    p.OpenedAt,
		ClosesAt:    p.ClosesAt,
		Candidates:  p.Candidates,
		Votes:       p.Votes,
		WinningDate: p.WinningDate,
		EventID:     p.EventID,
		MessageRef:  p.MessageRef,
		TagEveryone: p.TagEveryone,
	}
}

func fromRecord(r storage.PollRecord) Poll {
	p := Poll{
		ID:          r.ID,
		OpenedAt:    r.OpenedAt,
		ClosesAt:    r.ClosesAt,
		Candidates:  r.Candidates,
		Votes:       r.Votes,
		WinningDate: r.WinningDate,
		EventID:     r.EventID,
		MessageRef:  r.MessageRef,
		TagEveryone: r.TagEveryone,
	}
	if p.Votes == nil {
		p.Votes = map[string][]string{}
	}
	switch r.Status {
	case storage.PollStatusOpen:
		p.Status = StatusOpen
	case storage.PollStatusWarned:
		p.Status = StatusWarned
	case storage.PollStatusClosed:
		p.Status = StatusClosed
	default:
		p.Status = StatusIdle
	}
	return p
}
