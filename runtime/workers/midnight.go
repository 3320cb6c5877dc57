package workers

import (
	"chat-hub/contract"
	"chat-hub/domain/event"
	"context"
	"log/slog"
	"time"
)

// MidnightWorker broadcasts the new date to the room once per local day.
// It rides the same broadcast path as chat traffic, so connected clients
// see the notice interleaved in order with everything else.
type MidnightWorker struct {
	log         *slog.Logger
	broadcaster contract.IBroadcaster
	now         func() time.Time
}

func NewMidnightWorker(log *slog.Logger, broadcaster contract.IBroadcaster) *MidnightWorker {
	return &MidnightWorker{log: log, broadcaster: broadcaster, now: time.Now}
}

func (w *MidnightWorker) Run(ctx context.Context) error {
	for {
		current := w.now()
		wait := nextMidnight(current).Sub(current)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
			at := w.now()
			w.broadcaster.Broadcast(ctx, event.SystemNotice{
				Text: "Today is " + at.Format("Monday, January 2 2006"),
				At:   at,
			})
			w.log.Info("date notice broadcast", "date", at.Format(time.DateOnly))
		}
	}
}

// nextMidnight returns the first instant of the day after t, in t's location.
func nextMidnight(t time.Time) time.Time {
	year, month, day := t.Date()
	return time.Date(year, month, day+1, 0, 0, 0, 0, t.Location())
}
