package chat

import (
	"context"

	"sessionbot/internal/calendar"
)

// Notifier adapts a Sink to the calendar reconciler's notification surface.
type Notifier struct {
	sink Sink
}

func NewNotifier(sink Sink) *Notifier {
	return &Notifier{sink: sink}
}

func (n *Notifier) PersonalAlert(ctx context.Context, e calendar.Event) error {
	return n.sink.Announce(ctx, PersonalAlertText(e))
}

func (n *Notifier) ConfirmVacation(ctx context.Context, user string, events []calendar.Event) error {
	return n.sink.Announce(ctx, VacationConfirmText(user, events))
}
