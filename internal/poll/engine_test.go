package poll

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"sessionbot/internal/storage"
	logx "sessionbot/pkg/logx"
)

func newTestEngine(t *testing.T) (*Engine, storage.Store) {
	t.Helper()
	st := storage.NewMemory()
	return NewEngine(st, logx.Nop()), st
}

var testCandidates = []string{"2026-09-08", "2026-09-09", "2026-09-11"}

func mustOpen(t *testing.T, e *Engine, closesAt time.Time) Poll {
	t.Helper()
	p, err := e.Open(context.Background(), testCandidates, closesAt, false)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return p
}

func TestOpenRejectsSecondPoll(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e, _ := newTestEngine(t)

	mustOpen(t, e, time.Now().Add(6*time.Hour))
	if _, err := e.Open(ctx, testCandidates, time.Now().Add(6*time.Hour), false); !errors.Is(err, ErrAlreadyOpen) {
		t.Fatalf("second Open = %v, want ErrAlreadyOpen", err)
	}
}

func TestOpenValidation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	e, _ := newTestEngine(t)
	if _, err := e.Open(ctx, nil, time.Now(), false); !errors.Is(err, ErrNoAvailability) {
		t.Fatalf("Open(nil) = %v, want ErrNoAvailability", err)
	}
	if _, err := e.Open(ctx, []string{"tomorrow"}, time.Now(), false); !errors.Is(err, ErrInvalidDate) {
		t.Fatalf("Open(bad date) = %v, want ErrInvalidDate", err)
	}

	// Duplicates collapse, first position wins.
	p, err := e.Open(ctx, []string{"2026-09-09", "2026-09-08", "2026-09-09"}, time.Now().Add(time.Hour), false)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if len(p.Candidates) != 2 || p.Candidates[0] != "2026-09-09" {
		t.Fatalf("candidates = %v", p.Candidates)
	}
}

func TestRecordVoteLastWriteWins(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e, _ := newTestEngine(t)
	mustOpen(t, e, time.Now().Add(6*time.Hour))

	if err := e.RecordVote(ctx, "alex", []string{"2026-09-08", "2026-09-09"}); err != nil {
		t.Fatalf("RecordVote: %v", err)
	}
	if err := e.RecordVote(ctx, "alex", []string{"2026-09-11"}); err != nil {
		t.Fatalf("RecordVote (revote): %v", err)
	}

	p, ok := e.Active()
	if !ok {
		t.Fatalf("no active poll")
	}
	if got := p.Votes["alex"]; len(got) != 1 || got[0] != "2026-09-11" {
		t.Fatalf("votes after revote = %v", got)
	}
	if p.Voters() != 1 {
		t.Fatalf("voters = %d, want 1", p.Voters())
	}
}

func TestRecordVoteErrors(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e, _ := newTestEngine(t)

	if err := e.RecordVote(ctx, "alex", []string{"2026-09-08"}); !errors.Is(err, ErrPollNotOpen) {
		t.Fatalf("vote with no poll = %v, want ErrPollNotOpen", err)
	}

	mustOpen(t, e, time.Now().Add(6*time.Hour))
	err := e.RecordVote(ctx, "alex", []string{"2026-09-08", "2026-12-25"})
	if !errors.Is(err, ErrInvalidDate) {
		t.Fatalf("vote with bad date = %v, want ErrInvalidDate", err)
	}
	// The whole vote was rejected, not partially applied.
	if p, _ := e.Active(); p.Voters() != 0 {
		t.Fatalf("partial vote applied: %v", p.Votes)
	}
}

func TestVoteRetraction(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e, _ := newTestEngine(t)
	mustOpen(t, e, time.Now().Add(6*time.Hour))

	if err := e.RecordVote(ctx, "alex", []string{"2026-09-08"}); err != nil {
		t.Fatalf("RecordVote: %v", err)
	}
	if err := e.RecordVote(ctx, "alex", nil); err != nil {
		t.Fatalf("RecordVote (retract): %v", err)
	}
	if p, _ := e.Active(); p.Voters() != 0 {
		t.Fatalf("retraction did not clear the vote: %v", p.Votes)
	}
}

func TestCloseTieBreaksByCandidateOrder(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e, _ := newTestEngine(t)
	mustOpen(t, e, time.Now().Add(6*time.Hour))

	// One vote each for the second and third candidates: tie. The earlier
	// offered candidate (2026-09-09) must win.
	if err := e.RecordVote(ctx, "alex", []string{"2026-09-11"}); err != nil {
		t.Fatalf("RecordVote: %v", err)
	}
	if err := e.RecordVote(ctx, "sam", []string{"2026-09-09"}); err != nil {
		t.Fatalf("RecordVote: %v", err)
	}

	out, err := e.Close(ctx)
	if err != nil {
		t.Fatalf("Close: %v", err)
	}
	if out.Kind != OutcomeScheduled || out.WinningDate != "2026-09-09" {
		t.Fatalf("outcome = %+v, want 2026-09-09 scheduled", out)
	}
	if out.WinnerVotes != 1 {
		t.Fatalf("winner votes = %d, want 1", out.WinnerVotes)
	}
}

func TestCloseMajorityWins(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e, _ := newTestEngine(t)
	mustOpen(t, e, time.Now().Add(6*time.Hour))

	for i, dates := range [][]string{
		{"2026-09-11"},
		{"2026-09-11", "2026-09-08"},
		{"2026-09-09"},
	} {
		if err := e.RecordVote(ctx, fmt.Sprintf("voter%d", i), dates); err != nil {
			t.Fatalf("RecordVote: %v", err)
		}
	}

	out, err := e.Close(ctx)
	if err != nil {
		t.Fatalf("Close: %v", err)
	}
	if out.WinningDate != "2026-09-11" || out.WinnerVotes != 2 {
		t.Fatalf("outcome = %+v, want 2026-09-11 with 2 votes", out)
	}
}

func TestCloseNoVotes(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e, _ := newTestEngine(t)
	mustOpen(t, e, time.Now().Add(6*time.Hour))

	out, err := e.Close(ctx)
	if err != nil {
		t.Fatalf("Close: %v", err)
	}
	if out.Kind != OutcomeNoVotes || out.WinningDate != "" {
		t.Fatalf("outcome = %+v, want NoVotes", out)
	}
}

func TestDoubleCloseIsNoOp(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e, _ := newTestEngine(t)
	mustOpen(t, e, time.Now().Add(6*time.Hour))

	if _, err := e.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	out, err := e.Close(ctx)
	if err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if out.Kind != OutcomeAlreadyClosed {
		t.Fatalf("second close = %+v, want AlreadyClosed", out)
	}
	// And a new poll can open again (cycle back to Idle).
	if _, err := e.Open(ctx, testCandidates, time.Now().Add(time.Hour), false); err != nil {
		t.Fatalf("Open after close: %v", err)
	}
}

func TestVotesRejectedAfterClose(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e, _ := newTestEngine(t)
	mustOpen(t, e, time.Now().Add(6*time.Hour))

	if _, err := e.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := e.RecordVote(ctx, "late", []string{"2026-09-08"}); !errors.Is(err, ErrPollNotOpen) {
		t.Fatalf("late vote = %v, want ErrPollNotOpen", err)
	}
}

func TestCheckWarn(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e, _ := newTestEngine(t)
	closesAt := time.Date(2026, 9, 4, 18, 0, 0, 0, time.UTC)
	mustOpen(t, e, closesAt)

	lead := time.Hour

	// Outside the warn window: nothing fires.
	if fire, _, err := e.CheckWarn(ctx, closesAt.Add(-2*time.Hour), lead, 2); err != nil || fire {
		t.Fatalf("early CheckWarn fired: %v, %v", fire, err)
	}

	// Inside the window with too few voters: fires once.
	fire, snap, err := e.CheckWarn(ctx, closesAt.Add(-30*time.Minute), lead, 2)
	if err != nil || !fire {
		t.Fatalf("CheckWarn = %v, %v; want fire", fire, err)
	}
	if snap.Status != StatusWarned {
		t.Fatalf("snapshot status = %v", snap.Status)
	}

	// Second check inside the window: already warned, no refire.
	if fire, _, err := e.CheckWarn(ctx, closesAt.Add(-10*time.Minute), lead, 2); err != nil || fire {
		t.Fatalf("warning refired: %v, %v", fire, err)
	}

	// Warned polls still accept votes.
	if err := e.RecordVote(ctx, "alex", []string{"2026-09-08"}); err != nil {
		t.Fatalf("vote on warned poll: %v", err)
	}
}

func TestCheckWarnSkippedWithEnoughVoters(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e, _ := newTestEngine(t)
	closesAt := time.Now().Add(30 * time.Minute)
	mustOpen(t, e, closesAt)

	if err := e.RecordVote(ctx, "alex", []string{"2026-09-08"}); err != nil {
		t.Fatalf("RecordVote: %v", err)
	}
	if err := e.RecordVote(ctx, "sam", []string{"2026-09-09"}); err != nil {
		t.Fatalf("RecordVote: %v", err)
	}
	if fire, _, err := e.CheckWarn(ctx, time.Now(), time.Hour, 2); err != nil || fire {
		t.Fatalf("warning fired despite enough voters: %v, %v", fire, err)
	}
}

func TestDue(t *testing.T) {
	t.Parallel()
	e, _ := newTestEngine(t)
	closesAt := time.Date(2026, 9, 4, 18, 0, 0, 0, time.UTC)
	mustOpen(t, e, closesAt)

	if e.Due(closesAt.Add(-time.Minute)) {
		t.Fatalf("poll due before closesAt")
	}
	if !e.Due(closesAt) {
		t.Fatalf("poll not due at closesAt")
	}
}

func TestRestore(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e, st := newTestEngine(t)
	opened := mustOpen(t, e, time.Now().Add(6*time.Hour))
	if err := e.RecordVote(ctx, "alex", []string{"2026-09-08"}); err != nil {
		t.Fatalf("RecordVote: %v", err)
	}

	// A fresh engine over the same store picks the poll up with votes intact.
	e2 := NewEngine(st, logx.Nop())
	if err := e2.Restore(ctx); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	p, ok := e2.Active()
	if !ok || p.ID != opened.ID {
		t.Fatalf("restored poll = %+v, ok=%v", p, ok)
	}
	if p.Voters() != 1 {
		t.Fatalf("restored votes lost: %v", p.Votes)
	}
	// And the restored engine refuses a second poll.
	if _, err := e2.Open(ctx, testCandidates, time.Now().Add(time.Hour), false); !errors.Is(err, ErrAlreadyOpen) {
		t.Fatalf("Open after restore = %v, want ErrAlreadyOpen", err)
	}
}

func TestMarkEventCreated(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e, st := newTestEngine(t)
	opened := mustOpen(t, e, time.Now().Add(6*time.Hour))
	if err := e.RecordVote(ctx, "alex", []string{"2026-09-08"}); err != nil {
		t.Fatalf("RecordVote: %v", err)
	}
	if _, err := e.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if err := e.MarkEventCreated(ctx, opened.ID, "ev-42"); err != nil {
		t.Fatalf("MarkEventCreated: %v", err)
	}
	rec, ok, err := st.Poll(ctx, opened.ID)
	if err != nil || !ok {
		t.Fatalf("Poll lookup: %v, %v", ok, err)
	}
	if rec.EventID != "ev-42" {
		t.Fatalf("event id = %q", rec.EventID)
	}
}

func TestConcurrentVotes(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e, _ := newTestEngine(t)
	mustOpen(t, e, time.Now().Add(6*time.Hour))

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			voter := fmt.Sprintf("voter%d", i%8)
			date := testCandidates[i%len(testCandidates)]
			_ = e.RecordVote(ctx, voter, []string{date})
		}(i)
	}
	wg.Wait()

	p, ok := e.Active()
	if !ok {
		t.Fatalf("no active poll")
	}
	if p.Voters() != 8 {
		t.Fatalf("voters = %d, want 8 (last write wins per voter)", p.Voters())
	}
	for voter, dates := range p.Votes {
		if len(dates) != 1 {
			t.Fatalf("voter %s has %d dates", voter, len(dates))
		}
	}
}
