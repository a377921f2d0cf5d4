package chat

import (
	"fmt"
	"strings"
	"time"

	"sessionbot/internal/calendar"
)

const mentionAll = "@all"

// FormatDateOption renders a candidate date the way it appears as a poll
// option, e.g. "Friday, 04 Sep". The canonical date stays in the suffix so a
// reply can always be traced back.
func FormatDateOption(date string, loc *time.Location) string {
	t, err := time.ParseInLocation(calendar.DateKey, date, loc)
	if err != nil {
		return date
	}
	return fmt.Sprintf("%s, %02d %s (%s)", t.Weekday(), t.Day(), t.Month().String()[:3], date)
}

// PollQuestion is the text on the availability poll.
func PollQuestion(closesAt time.Time, loc *time.Location) string {
	return fmt.Sprintf("Next session: which days work for you? Voting closes %s.",
		closesAt.In(loc).Format("Mon 15:04"))
}

func ScheduledText(date string, votes int, loc *time.Location, tagEveryone bool) string {
	var b strings.Builder
	if tagEveryone {
		b.WriteString(mentionAll + " ")
	}
	fmt.Fprintf(&b, "Session scheduled for %s with %d %s. See you there!",
		FormatDateOption(date, loc), votes, plural(votes, "vote", "votes"))
	return b.String()
}

func NoVotesText(tagEveryone bool) string {
	var b strings.Builder
	if tagEveryone {
		b.WriteString(mentionAll + " ")
	}
	b.WriteString("The availability poll closed with no votes, so no session was scheduled. We'll try again next week.")
	return b.String()
}

func NoAvailabilityText(tagEveryone bool) string {
	var b strings.Builder
	if tagEveryone {
		b.WriteString(mentionAll + " ")
	}
	b.WriteString("No free dates in the upcoming weeks, so there's no poll this cycle. Clear some calendar space!")
	return b.String()
}

// VoteCallText nudges the group right after a poll opens.
func VoteCallText() string {
	return mentionAll + " the availability poll is open - cast your votes!"
}

func WarningText(voters, minVotes int, closesAt time.Time, loc *time.Location) string {
	return fmt.Sprintf("Only %d of the needed %d %s voted so far. The poll closes %s - get your votes in!",
		voters, minVotes, plural(voters, "person has", "people have"),
		closesAt.In(loc).Format("Mon 15:04"))
}

func ReminderText(date string, start time.Time, loc *time.Location, tagEveryone bool) string {
	var b strings.Builder
	if tagEveryone {
		b.WriteString(mentionAll + " ")
	}
	fmt.Fprintf(&b, "Reminder: session today, %s at %s.",
		FormatDateOption(date, loc), start.In(loc).Format("15:04"))
	return b.String()
}

func PersonalAlertText(e Event) string {
	when := e.Start.Format("Mon 02 Jan")
	if !e.AllDay {
		when = e.Start.Format("Mon 02 Jan 15:04")
	}
	return fmt.Sprintf("Heads up: %q (%s) on the shared calendar looks personal, so it was marked as free and won't block scheduling.",
		e.Title, when)
}

func VacationConfirmText(user string, events []Event) string {
	days := 0
	seen := map[string]bool{}
	for _, e := range events {
		for _, d := range e.Days(e.Start.Location()) {
			if !seen[d] {
				seen[d] = true
				days++
			}
		}
	}
	return fmt.Sprintf("%s: the calendar shows you away for %d %s soon. Reply here if that's changed, otherwise those days stay blocked for sessions.",
		user, days, plural(days, "day", "days"))
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}

// Event aliases the calendar event type so formatters stay import-light for
// callers that already hold chat.
type Event = calendar.Event
