package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "sqlite": SQLite database file
//   - "memory": in-process map store (tests, ephemeral runs)
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Poll statuses as persisted. Kept as plain strings so the schema stays
// readable with a sqlite shell.
const (
	PollStatusOpen   = "open"
	PollStatusWarned = "warned"
	PollStatusClosed = "closed"
)

// PollRecord is the persisted form of a poll.
// Dates are "YYYY-MM-DD" strings in the schedule's timezone.
type PollRecord struct {
	ID       string
	Status   string
	OpenedAt time.Time
	ClosesAt time.Time

	// Candidates in offer order; order breaks ties at close.
	Candidates []string
	// Votes maps voter id to the dates they picked (last write wins).
	Votes map[string][]string

	WinningDate string
	// EventID is the session event created at close, if any.
	EventID string
	// MessageRef identifies the chat message carrying the poll.
	MessageRef  string
	TagEveryone bool
}

// Clone returns a deep copy so callers can mutate without aliasing.
func (p PollRecord) Clone() PollRecord {
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
