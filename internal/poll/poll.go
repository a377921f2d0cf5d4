package poll

import (
	"errors"
	"time"
)

// Status is the poll lifecycle: Idle -> Open -> (Warned) -> Closed -> Idle.
// Warned is Open plus "the low-participation warning already fired".
type Status int

const (
	StatusIdle Status = iota
	StatusOpen
	StatusWarned
	StatusClosed
)

func (s Status) String() string {
	switch s {
	case StatusOpen:
		return "open"
	case StatusWarned:
		return "warned"
	case StatusClosed:
		return "closed"
	default:
		return "idle"
	}
}

// IsOpen reports whether votes are being accepted.
func (s Status) IsOpen() bool { return s == StatusOpen || s == StatusWarned }

var (
	// ErrAlreadyOpen: Open called while a poll is accepting votes.
	ErrAlreadyOpen = errors.New("a poll is already open")
	// ErrNoAvailability: Open called with no candidate dates.
	ErrNoAvailability = errors.New("no available dates to offer")
	// ErrPollNotOpen: a vote or warn arrived with no open poll.
	ErrPollNotOpen = errors.New("no poll is open")
	// ErrInvalidDate: a vote names a date that isn't a candidate.
	ErrInvalidDate = errors.New("date is not a candidate")
)

// Poll is a snapshot of one poll. Engine methods return copies; mutating a
// snapshot never touches engine state.
type Poll struct {
	ID       string
	Status   Status
	OpenedAt time.Time
	ClosesAt time.Time

	// Candidates in offer order ("YYYY-MM-DD"). Offer order breaks ties.
	Candidates []string
	// Votes maps voter id to chosen dates (last write wins per voter).
	Votes map[string][]string

	WinningDate string
	EventID     string
	MessageRef  string
	TagEveryone bool
}

// Voters returns the number of distinct voters.
func (p Poll) Voters() int { return len(p.Votes) }

// Tally counts votes per candidate, in candidate order.
func (p Poll) Tally() map[string]int {
	counts := make(map[string]int, len(p.Candidates))
	for _, c := range p.Candidates {
		counts[c] = 0
	}
	for _, dates := range p.Votes {
		for _, d := range dates {
			if _, ok := counts[d]; ok {
				counts[d]++
			}
		}
	}
	return counts
}

// Winner picks the candidate with the most votes; ties go to the earliest
// candidate in offer order. ok is false when nobody voted.
func (p Poll) Winner() (date string, votes int, ok bool) {
	if p.Voters() == 0 {
		return "", 0, false
	}
	counts := p.Tally()
	best := -1
	for _, c := range p.Candidates {
		if counts[c] > best {
			best = counts[c]
			date = c
		}
	}
	return date, best, true
}

func (p Poll) clone() Poll {
	cp := p
	cp.Candidates = append([]string(nil), p.Candidates...)
	if p.Votes != nil {
		cp.Votes = make(map[string][]string, len(p.Votes))
		for k, v := range p.Votes {
			cp.Votes[k] = append([]string(nil), v...)
		}
	}
	return cp
}
