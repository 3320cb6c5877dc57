//go:generate go run go.uber.org/mock/mockgen -source=contract.go -destination=../mocks/mock_contract.go -package=mocks
package contract

import (
	"chat-hub/domain"
	"chat-hub/domain/event"
	"context"
	"reflect"
)

// EventSink is the delivery end of one connection. Implementations must not
// block: a slow or full sink drops the event rather than stalling the hub.
type EventSink interface {
	Consume(ctx context.Context, e event.ChatEvent) error
}

// IRegistry maps connections to bound identities and back, enforcing the
// single-active-session-per-identity invariant.
type IRegistry interface {
	// Bind registers a session for conn. A prior session for the same
	// principal key is atomically removed and returned as displaced.
	// Fails with ErrAlreadyBound if conn already has a session.
	Bind(conn domain.ConnID, p domain.Principal) (domain.Session, *domain.Session, error)
	// Unbind removes and returns the session for conn. Idempotent.
	Unbind(conn domain.ConnID) *domain.Session
	Lookup(conn domain.ConnID) *domain.Session
	Count() int
}

// ICoordinator is the event surface consumed by the transport layer.
// Replies are delivered through the connection's sink as Ack events.
type ICoordinator interface {
	Connect(conn domain.ConnID, sink EventSink, close func())
	Login(ctx context.Context, conn domain.ConnID, userID, secret string) error
	Signup(ctx context.Context, conn domain.ConnID, userID, secret, nickname string) error
	SendMessage(ctx context.Context, conn domain.ConnID, text string) error
	Leave(ctx context.Context, conn domain.ConnID) error
	Disconnect(ctx context.Context, conn domain.ConnID)
}

// IBroadcaster delivers an event to every currently registered connection.
// The recipient set is recomputed at send time.
type IBroadcaster interface {
	Broadcast(ctx context.Context, e event.ChatEvent)
}

// IIdentityService is the external identity collaborator.
type IIdentityService interface {
	Verify(ctx context.Context, userID, secret string) (domain.Principal, error)
	Create(ctx context.Context, userID, secret, nickname string) (domain.Principal, error)
	// SetOnline records which connection currently carries the identity.
	// Best effort; failures are logged, never surfaced to clients.
	SetOnline(ctx context.Context, key string, conn domain.ConnID, online bool) error
}

// IAssistantClient is the external assistant collaborator. Complete may be
// slow or unavailable; callers bound it with a context timeout.
type IAssistantClient interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// IMessageRecorder is the persistence collaborator for user and bot
// messages. Appends are best effort.
type IMessageRecorder interface {
	SaveUserMessage(m event.UserMessage) error
	SaveBotMessage(m event.BotMessage) error
}

type WorkerName string

// Worker doesn't protect itself; the supervisor does.
type Worker interface {
	Run(ctx context.Context) error
}

type ISupervisor interface {
	Add(worker ...Worker) ISupervisor
	Run(ctx context.Context)
	Stop()
}

// GetWorkerName uses reflection to retrieve the type name of the worker,
// used for logging and supervision without forcing a naming method on
// every Worker.
func GetWorkerName(w Worker) string {
	if w == nil {
		return "NilWorker"
	}
	t := reflect.TypeOf(w)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}
