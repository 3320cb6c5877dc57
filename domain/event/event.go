package event

import (
	"chat-hub/domain"
	"time"

	"github.com/google/uuid"
)

// ChatEvent is an outbound message to one or more connections.
// Events are immutable once constructed. The hub does not persist them;
// user and bot messages are handed to the message recorder separately.
type ChatEvent interface {
	// EventName is the wire-level event name seen by clients.
	EventName() string
}

// SystemNotice is an informational message from the hub: joins, departures,
// displacement notices, scheduled announcements.
type SystemNotice struct {
	Text string
	At   time.Time
}

func (SystemNotice) EventName() string { return "message" }

// UserMessage is a chat message relayed from one authenticated user to the room.
type UserMessage struct {
	ID   uuid.UUID
	User domain.Principal
	Text string
	At   time.Time
}

func (UserMessage) EventName() string { return "message" }

// BotMessage is an assistant reply broadcast to the room.
type BotMessage struct {
	ID   uuid.UUID
	Text string
	At   time.Time
}

func (BotMessage) EventName() string { return "message" }

// PresenceCount carries the number of currently bound sessions.
type PresenceCount struct {
	Count int
}

func (PresenceCount) EventName() string { return "userCount" }

// Ack is the unicast reply to a client-initiated operation. It travels
// through the same per-connection queue as broadcasts, so a client always
// observes its own ack before any broadcast triggered by the same operation.
type Ack struct {
	Op   string
	OK   bool
	Err  string
	User *domain.Principal
}

func (Ack) EventName() string { return "ack" }
