package chat

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"

	logx "sessionbot/pkg/logx"
)

// TelegramConfig configures the Telegram sink.
type TelegramConfig struct {
	Token       string
	ChatID      int64
	PollTimeout time.Duration
	// Offline skips the getMe probe; used by tests.
	Offline bool
}

// Telegram delivers to one Telegram group chat using native polls. Poll
// answers require non-anonymous polls; Telegram then pushes PollAnswer
// updates including retractions (empty option list).
type Telegram struct {
	cfg TelegramConfig
	log logx.Logger
	bot *tele.Bot

	// limit smooths outbound calls under Telegram's per-chat flood limits.
	limit *rate.Limiter

	mu      sync.Mutex
	onVote  VoteHandler
	running bool
	done    chan struct{}
}

func NewTelegram(cfg TelegramConfig, log logx.Logger) (*Telegram, error) {
	if strings.TrimSpace(cfg.Token) == "" && !cfg.Offline {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.ChatID == 0 {
		return nil, errors.New("telegram chat id is empty")
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:   cfg.Token,
		Poller:  &tele.LongPoller{Timeout: timeout},
		Offline: cfg.Offline,
	})
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	t := &Telegram{
		cfg:   cfg,
		log:   log.With(logx.String("comp", "telegram")),
		bot:   b,
		limit: rate.NewLimiter(rate.Every(time.Second), 3),
	}
	t.registerHandlers()
	return t, nil
}

func (t *Telegram) registerHandlers() {
	t.bot.Handle(tele.OnPollAnswer, func(c tele.Context) error {
		pa := c.PollAnswer()
		if pa == nil || pa.Sender == nil {
			return nil
		}
		t.mu.Lock()
		h := t.onVote
		t.mu.Unlock()
		if h == nil {
			return nil
		}
		h(pa.PollID, voterKey(pa.Sender), append([]int(nil), pa.Options...))
		return nil
	})
}

// voterKey is the stable identity votes are keyed on. Usernames can change
// mid-poll, which would split one voter in two, so the key is always the
// numeric id.
func voterKey(u *tele.User) string {
	return strconv.FormatInt(u.ID, 10)
}

func (t *Telegram) OnVote(h VoteHandler) {
	t.mu.Lock()
	t.onVote = h
	t.mu.Unlock()
}

// Start launches the long-poll loop. Telebot's Start blocks, so it runs in
// its own goroutine; Stop unblocks it.
func (t *Telegram) Start(ctx context.Context) error {
	t.mu.Lock()
	if t.running {
		t.mu.Unlock()
		return nil
	}
	t.running = true
	t.done = make(chan struct{})
	done := t.done
	t.mu.Unlock()

	go func() {
		defer close(done)
		t.log.Info("polling started")
		t.bot.Start()
		t.log.Info("polling stopped")
	}()
	return nil
}

func (t *Telegram) Stop(ctx context.Context) error {
	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return nil
	}
	t.running = false
	done := t.done
	t.mu.Unlock()

	// Telebot's Stop can block behind a pending long-poll; keep shutdown snappy.
	go t.bot.Stop()
	select {
	case <-done:
	case <-ctx.Done():
		t.log.Warn("telegram stop timed out", logx.Err(ctx.Err()))
	case <-time.After(3 * time.Second):
		t.log.Warn("telegram stop timed out")
	}
	return nil
}

func (t *Telegram) Announce(ctx context.Context, text string) error {
	if err := t.limit.Wait(ctx); err != nil {
		return err
	}
	_, err := t.bot.Send(t.chat(), text)
	return err
}

func (t *Telegram) OpenPoll(ctx context.Context, question string, options []string) (PollRef, error) {
	if err := t.limit.Wait(ctx); err != nil {
		return PollRef{}, err
	}
	opts := make([]tele.PollOption, len(options))
	for i, o := range options {
		opts[i] = tele.PollOption{Text: o}
	}
	p := &tele.Poll{
		Type:            tele.PollRegular,
		Question:        question,
		MultipleAnswers: true,
		Anonymous:       false, // anonymous polls never deliver PollAnswer updates
		Options:         opts,
	}
	msg, err := t.bot.Send(t.chat(), p)
	if err != nil {
		return PollRef{}, err
	}
	ref := PollRef{ChatID: t.cfg.ChatID, MessageID: msg.ID}
	if msg.Poll != nil {
		ref.PollID = msg.Poll.ID
	}
	t.log.Info("poll posted",
		logx.Int("message_id", ref.MessageID),
		logx.Int("options", len(options)))
	return ref, nil
}

func (t *Telegram) ClosePoll(ctx context.Context, ref PollRef) error {
	if err := t.limit.Wait(ctx); err != nil {
		return err
	}
	stored := tele.StoredMessage{
		MessageID: strconv.Itoa(ref.MessageID),
		ChatID:    ref.ChatID,
	}
	_, err := t.bot.StopPoll(stored)
	return err
}

func (t *Telegram) chat() *tele.Chat {
	return &tele.Chat{ID: t.cfg.ChatID}
}
