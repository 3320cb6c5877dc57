// Package runtime hosts the session coordinator, the session registry and
// the cooldown gate. It orchestrates connection events without containing
// identity, persistence, or transport logic.
package runtime

import (
	"chat-hub/contract"
	"chat-hub/domain"
	"chat-hub/domain/event"
	"chat-hub/errors"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	opLogin       = "login"
	opSignup      = "signup"
	opSendMessage = "sendMessage"
	opUserLeave   = "userLeave"
	opAssistant   = "assistant"
)

// Censor rewrites outbound message content before broadcast and persistence.
type Censor func(string) string

type CoordinatorConfig struct {
	// BotPrefix marks a message as an assistant invocation.
	BotPrefix string
	// AssistantTimeout bounds each assistant call on the caller side.
	AssistantTimeout time.Duration
	// MaxReplyRunes truncates assistant replies for display.
	MaxReplyRunes int
}

type connEntry struct {
	sink  contract.EventSink
	close func()
}

// Coordinator drives the per-connection state machine:
// Unauthenticated -> Authenticated -> removed. It serializes registry and
// gate mutations under its own lock and pushes every outcome through the
// per-connection sinks, so a caller always sees its ack before the
// broadcast the same operation produced.
//
// Identity verification, persistence and assistant calls happen outside the
// critical section; only the in-memory maps are touched under lock.
type Coordinator struct {
	mu    sync.Mutex
	conns map[domain.ConnID]connEntry

	log       *slog.Logger
	registry  contract.IRegistry
	gate      *CooldownGate
	identity  contract.IIdentityService
	assistant contract.IAssistantClient
	recorder  contract.IMessageRecorder
	censor    Censor
	cfg       CoordinatorConfig
	now       func() time.Time
}

func NewCoordinator(
	log *slog.Logger,
	registry contract.IRegistry,
	gate *CooldownGate,
	identity contract.IIdentityService,
	assistant contract.IAssistantClient,
	recorder contract.IMessageRecorder,
	censor Censor,
	cfg CoordinatorConfig,
) *Coordinator {
	if censor == nil {
		censor = func(s string) string { return s }
	}
	if cfg.BotPrefix == "" {
		cfg.BotPrefix = "!bot "
	}
	return &Coordinator{
		conns:     make(map[domain.ConnID]connEntry),
		log:       log,
		registry:  registry,
		gate:      gate,
		identity:  identity,
		assistant: assistant,
		recorder:  recorder,
		censor:    censor,
		cfg:       cfg,
		now:       time.Now,
	}
}

// Connect registers a freshly accepted connection. No session exists yet
// and nothing is broadcast.
func (c *Coordinator) Connect(conn domain.ConnID, sink contract.EventSink, close func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conns[conn] = connEntry{sink: sink, close: close}
}

// Login authenticates conn against the identity store and binds a session.
func (c *Coordinator) Login(ctx context.Context, conn domain.ConnID, userID, secret string) error {
	p, err := c.identity.Verify(ctx, userID, secret)
	if err != nil {
		c.log.Info("login rejected", "user_id", userID, "error", err)
		c.unicast(ctx, conn, event.Ack{Op: opLogin, Err: errors.ErrAuthFailed.Error()})
		return fmt.Errorf("%w: %v", errors.ErrAuthFailed, err)
	}
	return c.bindSession(ctx, conn, opLogin, p)
}

// Signup creates the identity in the store and immediately binds a session,
// mirroring Login on success.
func (c *Coordinator) Signup(ctx context.Context, conn domain.ConnID, userID, secret, nickname string) error {
	p, err := c.identity.Create(ctx, userID, secret, nickname)
	if err != nil {
		c.log.Info("signup rejected", "user_id", userID, "error", err)
		c.unicast(ctx, conn, event.Ack{Op: opSignup, Err: err.Error()})
		return fmt.Errorf("%w: %v", errors.ErrAuthFailed, err)
	}
	return c.bindSession(ctx, conn, opSignup, p)
}

// bindSession installs the session, displacing a stale one for the same
// identity, then acks the caller and announces the join.
func (c *Coordinator) bindSession(ctx context.Context, conn domain.ConnID, op string, p domain.Principal) error {
	// Re-authenticate on a bound connection rebinds: the old session is
	// dropped silently, without a departure broadcast.
	if prev := c.registry.Lookup(conn); prev != nil {
		c.registry.Unbind(conn)
	}

	sess, displaced, err := c.registry.Bind(conn, p)
	if err != nil {
		c.unicast(ctx, conn, event.Ack{Op: op, Err: err.Error()})
		return err
	}

	if displaced != nil {
		c.unicast(ctx, displaced.Conn, event.SystemNotice{
			Text: fmt.Sprintf("%s signed in from another connection, this session is closed", p.Name),
			At:   c.now().UTC(),
		})
		c.closeConn(displaced.Conn)
		c.log.Info("session displaced",
			"key", p.Key, "old_conn", displaced.Conn, "new_conn", conn)
	}

	c.unicast(ctx, conn, event.Ack{Op: op, OK: true, User: &sess.Principal})
	c.Broadcast(ctx, event.SystemNotice{Text: fmt.Sprintf("%s has joined", p.Name), At: sess.BoundAt})
	c.Broadcast(ctx, event.PresenceCount{Count: c.registry.Count()})

	if err := c.identity.SetOnline(ctx, p.Key, conn, true); err != nil {
		c.log.Warn("presence update failed", "key", p.Key, "error", err)
	}
	return nil
}

// SendMessage relays a chat message, or routes it to the assistant flow
// when it starts with the bot prefix.
func (c *Coordinator) SendMessage(ctx context.Context, conn domain.ConnID, text string) error {
	sess := c.registry.Lookup(conn)
	if sess == nil {
		c.unicast(ctx, conn, event.Ack{Op: opSendMessage, Err: errors.ErrUnauthorized.Error()})
		return errors.ErrUnauthorized
	}

	if strings.HasPrefix(text, c.cfg.BotPrefix) {
		return c.invokeAssistant(ctx, conn, *sess, text)
	}

	msg := event.UserMessage{
		ID:   uuid.New(),
		User: sess.Principal,
		Text: c.censor(text),
		At:   c.now().UTC(),
	}
	if err := c.recorder.SaveUserMessage(msg); err != nil {
		// Best effort append: the room still gets the message.
		c.log.Warn("message persistence failed", "error", err)
	}

	c.unicast(ctx, conn, event.Ack{Op: opSendMessage, OK: true})
	c.Broadcast(ctx, msg)
	return nil
}

// invokeAssistant implements the bot flow: consume the cooldown budget,
// show the room the question, then answer asynchronously so a slow backend
// never stalls event processing for other connections.
func (c *Coordinator) invokeAssistant(ctx context.Context, conn domain.ConnID, sess domain.Session, text string) error {
	prompt := strings.TrimSpace(strings.TrimPrefix(text, c.cfg.BotPrefix))
	if prompt == "" {
		c.unicast(ctx, conn, event.Ack{Op: opSendMessage, Err: "empty prompt"})
		return fmt.Errorf("empty assistant prompt")
	}

	if !c.gate.TryAcquire() {
		c.unicast(ctx, conn, event.Ack{
			Op:  opSendMessage,
			Err: fmt.Sprintf("%s, retry in %s", errors.ErrRateLimited, c.gate.Remaining().Round(time.Second)),
		})
		return errors.ErrRateLimited
	}

	question := event.UserMessage{
		ID:   uuid.New(),
		User: sess.Principal,
		Text: c.censor(text),
		At:   c.now().UTC(),
	}
	if err := c.recorder.SaveUserMessage(question); err != nil {
		c.log.Warn("message persistence failed", "error", err)
	}

	// The room sees the question before the answer.
	c.unicast(ctx, conn, event.Ack{Op: opSendMessage, OK: true})
	c.Broadcast(ctx, question)

	go c.completeAssistant(conn, prompt)
	return nil
}

// completeAssistant runs detached from the request context: a call that
// outlives its connection still completes, and its broadcast targets are
// recomputed at send time.
func (c *Coordinator) completeAssistant(conn domain.ConnID, prompt string) {
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.AssistantTimeout)
	defer cancel()

	reply, err := c.assistant.Complete(ctx, prompt)
	if err != nil {
		c.log.Error("assistant call failed", "error", err)
		// Error goes to the sender only; the cooldown stays consumed and
		// nothing is partially broadcast. Delivery must not ride the
		// timeout context: on expiry it is already done and the sink
		// would be free to drop the ack.
		c.unicast(context.Background(), conn, event.Ack{Op: opAssistant, Err: errors.ErrUpstream.Error()})
		return
	}

	bot := event.BotMessage{
		ID:   uuid.New(),
		Text: truncate(reply, c.cfg.MaxReplyRunes),
		At:   c.now().UTC(),
	}
	if err := c.recorder.SaveBotMessage(bot); err != nil {
		c.log.Warn("bot message persistence failed", "error", err)
	}
	c.Broadcast(context.Background(), bot)
}

// Leave removes the caller's session on explicit request. The ack is
// delivered before the departure broadcast.
func (c *Coordinator) Leave(ctx context.Context, conn domain.ConnID) error {
	c.unicast(ctx, conn, event.Ack{Op: opUserLeave, OK: true})
	c.removeSession(ctx, conn)
	return nil
}

// Disconnect is the transport-initiated variant of Leave: no reply
// callback, identical broadcast side effects, safe without a session.
func (c *Coordinator) Disconnect(ctx context.Context, conn domain.ConnID) {
	c.mu.Lock()
	delete(c.conns, conn)
	c.mu.Unlock()
	c.removeSession(ctx, conn)
}

func (c *Coordinator) removeSession(ctx context.Context, conn domain.ConnID) {
	sess := c.registry.Unbind(conn)
	if sess == nil {
		return
	}
	c.Broadcast(ctx, event.SystemNotice{
		Text: fmt.Sprintf("%s has left", sess.Principal.Name),
		At:   c.now().UTC(),
	})
	c.Broadcast(ctx, event.PresenceCount{Count: c.registry.Count()})

	if err := c.identity.SetOnline(ctx, sess.Principal.Key, conn, false); err != nil {
		c.log.Warn("presence update failed", "key", sess.Principal.Key, "error", err)
	}
}

// Broadcast fans out to every currently registered connection. The sink set
// is snapshotted under lock and delivery happens outside it.
func (c *Coordinator) Broadcast(ctx context.Context, e event.ChatEvent) {
	c.mu.Lock()
	sinks := make([]contract.EventSink, 0, len(c.conns))
	for _, entry := range c.conns {
		sinks = append(sinks, entry.sink)
	}
	c.mu.Unlock()

	for _, sink := range sinks {
		if err := sink.Consume(ctx, e); err != nil {
			c.log.Debug("broadcast delivery dropped", "error", err)
		}
	}
}

// unicast delivers to exactly one connection. Unknown connections are a
// no-op: the transport may already have reaped them.
func (c *Coordinator) unicast(ctx context.Context, conn domain.ConnID, e event.ChatEvent) {
	c.mu.Lock()
	entry, ok := c.conns[conn]
	c.mu.Unlock()
	if !ok {
		return
	}
	if err := entry.sink.Consume(ctx, e); err != nil {
		c.log.Debug("unicast delivery dropped", "conn", conn, "error", err)
	}
}

// closeConn drops the connection entry and forces the transport to close
// it. Removal happens first so the displaced socket does not receive the
// join broadcast of its replacement.
func (c *Coordinator) closeConn(conn domain.ConnID) {
	c.mu.Lock()
	entry, ok := c.conns[conn]
	delete(c.conns, conn)
	c.mu.Unlock()
	if ok && entry.close != nil {
		entry.close()
	}
}

func truncate(s string, max int) string {
	if max <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "…"
}
