package chat

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// PollRef identifies a chat message carrying a native poll.
type PollRef struct {
	ChatID    int64
	MessageID int
	PollID    string // platform poll id, used to match vote updates
}

// Encode packs the ref into the string form stored with the poll record.
func (r PollRef) Encode() string {
	return fmt.Sprintf("%d:%d:%s", r.ChatID, r.MessageID, r.PollID)
}

func ParseRef(s string) (PollRef, error) {
	parts := strings.SplitN(s, ":", 3)
	if len(parts) != 3 {
		return PollRef{}, fmt.Errorf("malformed poll ref %q", s)
	}
	chatID, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return PollRef{}, fmt.Errorf("malformed poll ref %q: %w", s, err)
	}
	msgID, err := strconv.Atoi(parts[1])
	if err != nil {
		return PollRef{}, fmt.Errorf("malformed poll ref %q: %w", s, err)
	}
	return PollRef{ChatID: chatID, MessageID: msgID, PollID: parts[2]}, nil
}

// VoteHandler receives vote updates from the platform. optionIndexes refer to
// the poll's options in send order; an empty slice is a retraction.
type VoteHandler func(pollID, voter string, optionIndexes []int)

// Sink is the outbound chat surface. Implementations deliver to one group
// chat; voter updates flow back through the registered VoteHandler.
type Sink interface {
	// Announce posts a plain message to the group chat.
	Announce(ctx context.Context, text string) error
	// OpenPoll posts a native multiple-choice poll and returns its ref.
	OpenPoll(ctx context.Context, question string, options []string) (PollRef, error)
	// ClosePoll stops the poll so no further votes arrive.
	ClosePoll(ctx context.Context, ref PollRef) error
	// OnVote registers the handler for incoming vote updates. Must be called
	// before Start.
	OnVote(h VoteHandler)

	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}
