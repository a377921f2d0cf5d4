package chat

import (
	"context"
	"strings"
	"testing"
	"time"

	tele "gopkg.in/telebot.v4"

	"sessionbot/internal/calendar"
	logx "sessionbot/pkg/logx"
)

func TestPollRefRoundTrip(t *testing.T) {
	t.Parallel()

	ref := PollRef{ChatID: -1001234567890, MessageID: 42, PollID: "58:abc"}
	got, err := ParseRef(ref.Encode())
	if err != nil {
		t.Fatalf("ParseRef: %v", err)
	}
	if got != ref {
		t.Fatalf("round trip = %+v, want %+v", got, ref)
	}

	for _, bad := range []string{"", "1:2", "x:2:p", "1:y:p"} {
		if _, err := ParseRef(bad); err == nil {
			t.Errorf("ParseRef(%q) accepted", bad)
		}
	}
}

func TestFormatDateOption(t *testing.T) {
	t.Parallel()

	got := FormatDateOption("2026-09-04", time.UTC)
	if !strings.Contains(got, "Friday") || !strings.Contains(got, "2026-09-04") {
		t.Fatalf("FormatDateOption = %q", got)
	}
	// Unparseable input passes through so a bad candidate never hides a poll.
	if got := FormatDateOption("garbage", time.UTC); got != "garbage" {
		t.Fatalf("FormatDateOption(garbage) = %q", got)
	}
}

func TestScheduledText(t *testing.T) {
	t.Parallel()

	got := ScheduledText("2026-09-04", 1, time.UTC, true)
	if !strings.HasPrefix(got, mentionAll) {
		t.Fatalf("tagged text missing mention: %q", got)
	}
	if !strings.Contains(got, "1 vote.") && !strings.Contains(got, "1 vote") {
		t.Fatalf("singular vote wording: %q", got)
	}
	if strings.Contains(ScheduledText("2026-09-04", 3, time.UTC, false), mentionAll) {
		t.Fatalf("untagged text carries mention")
	}
}

func TestVacationConfirmText(t *testing.T) {
	t.Parallel()

	events := []calendar.Event{
		{
			Start:  time.Date(2026, 9, 10, 0, 0, 0, 0, time.UTC),
			End:    time.Date(2026, 9, 13, 0, 0, 0, 0, time.UTC),
			AllDay: true,
		},
		{
			// Overlapping day: counted once.
			Start: time.Date(2026, 9, 12, 9, 0, 0, 0, time.UTC),
			End:   time.Date(2026, 9, 12, 17, 0, 0, 0, time.UTC),
		},
	}
	got := VacationConfirmText("@sam", events)
	if !strings.Contains(got, "@sam") || !strings.Contains(got, "3 days") {
		t.Fatalf("VacationConfirmText = %q", got)
	}
}

type recordingSink struct {
	msgs []string
}

func (r *recordingSink) Announce(_ context.Context, text string) error {
	r.msgs = append(r.msgs, text)
	return nil
}
func (r *recordingSink) OpenPoll(context.Context, string, []string) (PollRef, error) {
	return PollRef{}, nil
}
func (r *recordingSink) ClosePoll(context.Context, PollRef) error { return nil }
func (r *recordingSink) OnVote(VoteHandler)                       {}
func (r *recordingSink) Start(context.Context) error              { return nil }
func (r *recordingSink) Stop(context.Context) error               { return nil }

func TestNotifierDelivers(t *testing.T) {
	t.Parallel()

	sink := &recordingSink{}
	n := NewNotifier(sink)
	ctx := context.Background()

	e := calendar.Event{ID: "e1", Title: "Dentist", Start: time.Date(2026, 9, 4, 10, 0, 0, 0, time.UTC)}
	if err := n.PersonalAlert(ctx, e); err != nil {
		t.Fatalf("PersonalAlert: %v", err)
	}
	if err := n.ConfirmVacation(ctx, "@sam", []calendar.Event{e}); err != nil {
		t.Fatalf("ConfirmVacation: %v", err)
	}
	if len(sink.msgs) != 2 {
		t.Fatalf("got %d messages", len(sink.msgs))
	}
	if !strings.Contains(sink.msgs[0], "Dentist") {
		t.Fatalf("alert text = %q", sink.msgs[0])
	}
	if !strings.Contains(sink.msgs[1], "@sam") {
		t.Fatalf("confirm text = %q", sink.msgs[1])
	}
}

func TestTelegramRejectsBadConfig(t *testing.T) {
	t.Parallel()

	if _, err := NewTelegram(TelegramConfig{ChatID: 1}, logx.Nop()); err == nil {
		t.Fatalf("empty token accepted")
	}
	if _, err := NewTelegram(TelegramConfig{Token: "t", Offline: true}, logx.Nop()); err == nil {
		t.Fatalf("zero chat id accepted")
	}
}

func TestTelegramOfflineConstructs(t *testing.T) {
	t.Parallel()

	tg, err := NewTelegram(TelegramConfig{Token: "t", ChatID: -100, Offline: true}, logx.Nop())
	if err != nil {
		t.Fatalf("NewTelegram offline: %v", err)
	}
	tg.OnVote(func(string, string, []int) {})
}

func TestVoterKeyStableAcrossRename(t *testing.T) {
	t.Parallel()

	before := voterKey(&tele.User{ID: 42, Username: "alice"})
	after := voterKey(&tele.User{ID: 42, Username: "alice_new"})
	if before != after {
		t.Fatalf("same user yields two voter keys: %q then %q", before, after)
	}
	if before != "42" {
		t.Fatalf("voter key = %q, want the numeric id", before)
	}
}
