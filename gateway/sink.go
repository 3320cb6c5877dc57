package gateway

import (
	"chat-hub/contract"
	"chat-hub/domain/event"
	"context"
)

// Sink is the per-connection delivery queue. The hub pushes events in,
// the connection's writer goroutine drains them in order.
type Sink struct {
	events chan event.ChatEvent
}

func NewSink(bufferSize int) *Sink {
	return &Sink{events: make(chan event.ChatEvent, bufferSize)}
}

var _ contract.EventSink = (*Sink)(nil)

// Consume hands an event to the connection. It never blocks: when the
// buffer is full the event is dropped, a slow client must not stall the hub.
func (s *Sink) Consume(ctx context.Context, e event.ChatEvent) error {
	select {
	case s.events <- e:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}

func (s *Sink) Events() <-chan event.ChatEvent {
	return s.events
}
