package runtime

import (
	"chat-hub/domain"
	"chat-hub/domain/event"
	"chat-hub/errors"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// recordingSink captures every event delivered to one connection, in order.
type recordingSink struct {
	mu     sync.Mutex
	events []event.ChatEvent
}

func (s *recordingSink) Consume(_ context.Context, e event.ChatEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return nil
}

func (s *recordingSink) all() []event.ChatEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]event.ChatEvent, len(s.events))
	copy(out, s.events)
	return out
}

func (s *recordingSink) countOf(name string) int {
	n := 0
	for _, e := range s.all() {
		if e.EventName() == name {
			n++
		}
	}
	return n
}

type stubIdentity struct {
	verifyErr error
	createErr error
	online    sync.Map // key -> bool
}

func (s *stubIdentity) Verify(_ context.Context, userID, _ string) (domain.Principal, error) {
	if s.verifyErr != nil {
		return domain.Principal{}, s.verifyErr
	}
	return domain.Principal{Key: userID, Name: userID}, nil
}

func (s *stubIdentity) Create(_ context.Context, userID, _, nickname string) (domain.Principal, error) {
	if s.createErr != nil {
		return domain.Principal{}, s.createErr
	}
	return domain.Principal{Key: userID, Name: nickname}, nil
}

func (s *stubIdentity) SetOnline(_ context.Context, key string, _ domain.ConnID, online bool) error {
	s.online.Store(key, online)
	return nil
}

type stubAssistant struct {
	calls int32
	reply string
	err   error
	block chan struct{} // when non-nil, Complete waits for it or ctx
}

func (s *stubAssistant) Complete(ctx context.Context, _ string) (string, error) {
	atomic.AddInt32(&s.calls, 1)
	if s.block != nil {
		select {
		case <-s.block:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if s.err != nil {
		return "", s.err
	}
	return s.reply, nil
}

type stubRecorder struct {
	mu   sync.Mutex
	user []event.UserMessage
	bot  []event.BotMessage
}

func (s *stubRecorder) SaveUserMessage(m event.UserMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.user = append(s.user, m)
	return nil
}

func (s *stubRecorder) SaveBotMessage(m event.BotMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bot = append(s.bot, m)
	return nil
}

func (s *stubRecorder) userMessages() []event.UserMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]event.UserMessage, len(s.user))
	copy(out, s.user)
	return out
}

func (s *stubRecorder) botMessages() []event.BotMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]event.BotMessage, len(s.bot))
	copy(out, s.bot)
	return out
}

type fixture struct {
	coordinator *Coordinator
	registry    *Registry
	gate        *CooldownGate
	identity    *stubIdentity
	assistant   *stubAssistant
	recorder    *stubRecorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	registry := NewRegistry()
	gate := NewCooldownGate(20 * time.Second)
	identity := &stubIdentity{}
	assistant := &stubAssistant{reply: "a helpful answer"}
	recorder := &stubRecorder{}
	coordinator := NewCoordinator(
		slog.Default(), registry, gate, identity, assistant, recorder, nil,
		CoordinatorConfig{
			BotPrefix:        "!bot ",
			AssistantTimeout: time.Second,
			MaxReplyRunes:    800,
		},
	)
	return &fixture{
		coordinator: coordinator,
		registry:    registry,
		gate:        gate,
		identity:    identity,
		assistant:   assistant,
		recorder:    recorder,
	}
}

// connect wires a recording sink and reports whether close() was forced.
func (f *fixture) connect(conn domain.ConnID) (*recordingSink, *atomic.Bool) {
	sink := &recordingSink{}
	closed := &atomic.Bool{}
	f.coordinator.Connect(conn, sink, func() { closed.Store(true) })
	return sink, closed
}

func TestCoordinator_Login_Acks_Before_Join_Broadcast(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	ctx := context.Background()
	sink, _ := f.connect("conn-a")

	// When alice authenticates
	req.NoError(f.coordinator.Login(ctx, "conn-a", "alice", "secret"))

	// Then her sink saw the ack first, then the join notice and the count
	events := sink.all()
	req.Len(events, 3)

	ack, ok := events[0].(event.Ack)
	req.True(ok)
	req.True(ack.OK)
	req.Equal("login", ack.Op)
	req.Equal("alice", ack.User.Key)

	notice, ok := events[1].(event.SystemNotice)
	req.True(ok)
	req.Contains(notice.Text, "has joined")

	count, ok := events[2].(event.PresenceCount)
	req.True(ok)
	req.Equal(1, count.Count)
}

func TestCoordinator_Login_Failure_Is_Unicast_Only(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	ctx := context.Background()
	f.identity.verifyErr = errors.ErrInvalidCredentials

	caller, _ := f.connect("conn-a")
	other, _ := f.connect("conn-b")

	err := f.coordinator.Login(ctx, "conn-a", "alice", "wrong")
	req.ErrorIs(err, errors.ErrAuthFailed)

	// The caller got a failed ack, the room saw nothing
	events := caller.all()
	req.Len(events, 1)
	ack := events[0].(event.Ack)
	req.False(ack.OK)
	req.Empty(other.all())
	req.Zero(f.registry.Count())
}

func TestCoordinator_Same_Identity_Displaces_Previous_Connection(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	ctx := context.Background()

	sinkA, closedA := f.connect("conn-a")
	req.NoError(f.coordinator.Login(ctx, "conn-a", "alice", "secret"))
	seenByA := len(sinkA.all())

	sinkB, closedB := f.connect("conn-b")
	req.NoError(f.coordinator.Login(ctx, "conn-b", "alice", "secret"))

	// A received a displacement notice and was forcibly closed
	eventsA := sinkA.all()
	req.Len(eventsA, seenByA+1)
	notice, ok := eventsA[seenByA].(event.SystemNotice)
	req.True(ok)
	req.Contains(notice.Text, "another connection")
	req.True(closedA.Load())
	req.False(closedB.Load())

	// Presence stayed at one and the surviving session points at B
	req.Equal(1, f.registry.Count())
	req.Nil(f.registry.Lookup("conn-a"))
	req.Equal(domain.ConnID("conn-b"), f.registry.Lookup("conn-b").Conn)

	// B saw its own ack, the join notice and userCount=1
	lastCount := sinkB.all()[len(sinkB.all())-1].(event.PresenceCount)
	req.Equal(1, lastCount.Count)
}

func TestCoordinator_Reauthenticate_Rebinds_Without_Departure(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	ctx := context.Background()

	sink, closed := f.connect("conn-a")
	req.NoError(f.coordinator.Login(ctx, "conn-a", "alice", "secret"))
	req.NoError(f.coordinator.Login(ctx, "conn-a", "bob", "secret"))

	// Still exactly one session, now bob, and the connection stayed open
	req.Equal(1, f.registry.Count())
	req.Equal("bob", f.registry.Lookup("conn-a").Principal.Key)
	req.False(closed.Load())

	// No departure notice was broadcast for the silent rebind
	for _, e := range sink.all() {
		if n, ok := e.(event.SystemNotice); ok {
			req.NotContains(n.Text, "has left")
		}
	}
}

func TestCoordinator_SendMessage_Unauthenticated_Is_Rejected(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	ctx := context.Background()

	caller, _ := f.connect("conn-a")
	other, _ := f.connect("conn-b")
	req.NoError(f.coordinator.Login(ctx, "conn-b", "bob", "secret"))
	before := len(other.all())

	err := f.coordinator.SendMessage(ctx, "conn-a", "hello?")
	req.ErrorIs(err, errors.ErrUnauthorized)

	// Caller got the error, nothing was broadcast, count unchanged
	events := caller.all()
	ack := events[len(events)-1].(event.Ack)
	req.False(ack.OK)
	req.Contains(ack.Err, "not signed in")
	req.Len(other.all(), before)
	req.Equal(1, f.registry.Count())
}

func TestCoordinator_SendMessage_Broadcasts_To_All_Connections(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	ctx := context.Background()

	sinkA, _ := f.connect("conn-a")
	sinkB, _ := f.connect("conn-b")
	req.NoError(f.coordinator.Login(ctx, "conn-a", "alice", "secret"))
	req.NoError(f.coordinator.Login(ctx, "conn-b", "bob", "secret"))

	req.NoError(f.coordinator.SendMessage(ctx, "conn-a", "hello room"))

	// Sender: ack strictly before its own echo
	eventsA := sinkA.all()
	var ackIdx, msgIdx int
	for i, e := range eventsA {
		switch v := e.(type) {
		case event.Ack:
			if v.Op == "sendMessage" {
				ackIdx = i
			}
		case event.UserMessage:
			msgIdx = i
		}
	}
	req.Less(ackIdx, msgIdx)

	// Receiver got the message with the author attached
	var got *event.UserMessage
	for _, e := range sinkB.all() {
		if m, ok := e.(event.UserMessage); ok {
			got = &m
		}
	}
	req.NotNil(got)
	req.Equal("hello room", got.Text)
	req.Equal("alice", got.User.Key)

	// And the message was persisted
	req.Len(f.recorder.userMessages(), 1)
}

func TestCoordinator_SendMessage_Applies_Censor(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	f.coordinator.censor = func(s string) string { return strings.ReplaceAll(s, "rude", "****") }
	ctx := context.Background()

	sink, _ := f.connect("conn-a")
	req.NoError(f.coordinator.Login(ctx, "conn-a", "alice", "secret"))
	req.NoError(f.coordinator.SendMessage(ctx, "conn-a", "that was rude"))

	var got *event.UserMessage
	for _, e := range sink.all() {
		if m, ok := e.(event.UserMessage); ok {
			got = &m
		}
	}
	req.NotNil(got)
	req.Equal("that was ****", got.Text)
	req.Equal("that was ****", f.recorder.userMessages()[0].Text)
}

func TestCoordinator_Assistant_Question_Then_Answer(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	ctx := context.Background()

	sinkA, _ := f.connect("conn-a")
	sinkB, _ := f.connect("conn-b")
	req.NoError(f.coordinator.Login(ctx, "conn-a", "alice", "secret"))
	req.NoError(f.coordinator.Login(ctx, "conn-b", "bob", "secret"))

	req.NoError(f.coordinator.SendMessage(ctx, "conn-a", "!bot hello"))

	// The bot answer arrives asynchronously
	req.Eventually(func() bool {
		return sinkB.countOf("message") >= 4 // 2 joins + question + answer
	}, time.Second, 5*time.Millisecond)

	// Exactly two message broadcasts for the invocation, question first
	var question, answer = -1, -1
	for i, e := range sinkA.all() {
		switch e.(type) {
		case event.UserMessage:
			question = i
		case event.BotMessage:
			answer = i
		}
	}
	req.GreaterOrEqual(question, 0)
	req.GreaterOrEqual(answer, 0)
	req.Less(question, answer)

	req.Equal(int32(1), atomic.LoadInt32(&f.assistant.calls))
	req.Len(f.recorder.botMessages(), 1)
	req.Equal("a helpful answer", f.recorder.botMessages()[0].Text)
}

func TestCoordinator_Assistant_Second_Call_Within_Cooldown_Is_Rejected(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	ctx := context.Background()

	sink, _ := f.connect("conn-a")
	req.NoError(f.coordinator.Login(ctx, "conn-a", "alice", "secret"))

	req.NoError(f.coordinator.SendMessage(ctx, "conn-a", "!bot first"))
	err := f.coordinator.SendMessage(ctx, "conn-a", "!bot second")
	req.ErrorIs(err, errors.ErrRateLimited)

	// The second caller got a rate-limit ack and no second upstream call
	var rejected *event.Ack
	for _, e := range sink.all() {
		if a, ok := e.(event.Ack); ok && !a.OK {
			rejected = &a
		}
	}
	req.NotNil(rejected)
	req.Contains(rejected.Err, "cooldown")
	req.Equal(int32(1), atomic.LoadInt32(&f.assistant.calls))
}

func TestCoordinator_Assistant_Failure_Is_Unicast_And_Keeps_Cooldown(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	f.assistant.err = fmt.Errorf("backend down")
	ctx := context.Background()

	sinkA, _ := f.connect("conn-a")
	sinkB, _ := f.connect("conn-b")
	req.NoError(f.coordinator.Login(ctx, "conn-a", "alice", "secret"))
	req.NoError(f.coordinator.Login(ctx, "conn-b", "bob", "secret"))

	req.NoError(f.coordinator.SendMessage(ctx, "conn-a", "!bot hello"))

	// Sender eventually gets an assistant error ack
	req.Eventually(func() bool {
		for _, e := range sinkA.all() {
			if a, ok := e.(event.Ack); ok && a.Op == "assistant" && !a.OK {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)

	// No bot message reached anyone
	for _, e := range sinkB.all() {
		_, isBot := e.(event.BotMessage)
		req.False(isBot)
	}

	// The cooldown stays consumed despite the failure
	req.False(f.gate.TryAcquire())
}

// deadlineSink refuses delivery once the delivery context is done, the way
// the transport sink does.
type deadlineSink struct {
	recordingSink
}

func (s *deadlineSink) Consume(ctx context.Context, e event.ChatEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.recordingSink.Consume(ctx, e)
}

func TestCoordinator_Assistant_Timeout_Ack_Survives_Expired_Context(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	// The assistant never answers; Complete returns only on ctx expiry.
	f.assistant.block = make(chan struct{})
	f.coordinator.cfg.AssistantTimeout = 10 * time.Millisecond
	ctx := context.Background()

	sink := &deadlineSink{}
	f.coordinator.Connect("conn-a", sink, func() {})
	req.NoError(f.coordinator.Login(ctx, "conn-a", "alice", "secret"))

	req.NoError(f.coordinator.SendMessage(ctx, "conn-a", "!bot hello"))

	// The error ack must reach the sender even though the call's timeout
	// context has already expired by the time it is delivered.
	req.Eventually(func() bool {
		for _, e := range sink.all() {
			if a, ok := e.(event.Ack); ok && a.Op == "assistant" && !a.OK {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)
}

func TestCoordinator_Assistant_Reply_Is_Truncated(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	f.assistant.reply = strings.Repeat("x", 2000)
	ctx := context.Background()

	sink, _ := f.connect("conn-a")
	req.NoError(f.coordinator.Login(ctx, "conn-a", "alice", "secret"))
	req.NoError(f.coordinator.SendMessage(ctx, "conn-a", "!bot long one"))

	req.Eventually(func() bool {
		for _, e := range sink.all() {
			if _, ok := e.(event.BotMessage); ok {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)

	for _, e := range sink.all() {
		if bot, ok := e.(event.BotMessage); ok {
			req.Len([]rune(bot.Text), 801) // 800 + ellipsis
			req.True(strings.HasSuffix(bot.Text, "…"))
		}
	}
}

func TestCoordinator_Leave_Acks_Then_Broadcasts_Departure(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	ctx := context.Background()

	sinkA, _ := f.connect("conn-a")
	_, _ = f.connect("conn-b")
	req.NoError(f.coordinator.Login(ctx, "conn-a", "alice", "secret"))
	req.NoError(f.coordinator.Login(ctx, "conn-b", "bob", "secret"))

	req.NoError(f.coordinator.Leave(ctx, "conn-a"))

	events := sinkA.all()
	var ackIdx, leftIdx = -1, -1
	for i, e := range events {
		switch v := e.(type) {
		case event.Ack:
			if v.Op == "userLeave" {
				ackIdx = i
			}
		case event.SystemNotice:
			if strings.Contains(v.Text, "has left") {
				leftIdx = i
			}
		}
	}
	req.GreaterOrEqual(ackIdx, 0)
	req.GreaterOrEqual(leftIdx, 0)
	req.Less(ackIdx, leftIdx)
	req.Equal(1, f.registry.Count())
}

func TestCoordinator_Disconnect_Without_Session_Is_NoOp(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	ctx := context.Background()

	sinkB, _ := f.connect("conn-b")
	req.NoError(f.coordinator.Login(ctx, "conn-b", "bob", "secret"))
	before := len(sinkB.all())

	// Disconnecting an unauthenticated and an unknown connection broadcasts nothing
	f.connect("conn-a")
	f.coordinator.Disconnect(ctx, "conn-a")
	f.coordinator.Disconnect(ctx, "conn-ghost")

	req.Len(sinkB.all(), before)
	req.Equal(1, f.registry.Count())
}

func TestCoordinator_Disconnect_After_Leave_No_Duplicate_Departure(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	ctx := context.Background()

	_, _ = f.connect("conn-a")
	sinkB, _ := f.connect("conn-b")
	req.NoError(f.coordinator.Login(ctx, "conn-a", "alice", "secret"))
	req.NoError(f.coordinator.Login(ctx, "conn-b", "bob", "secret"))

	req.NoError(f.coordinator.Leave(ctx, "conn-a"))
	f.coordinator.Disconnect(ctx, "conn-a")

	departures := 0
	for _, e := range sinkB.all() {
		if n, ok := e.(event.SystemNotice); ok && strings.Contains(n.Text, "has left") {
			departures++
		}
	}
	req.Equal(1, departures)
}

func TestCoordinator_Presence_Count_Tracks_Joins_And_Leaves(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	ctx := context.Background()

	names := []string{"alice", "bob", "clara", "dan"}
	for i, n := range names {
		conn := domain.ConnID(fmt.Sprintf("conn-%d", i))
		f.connect(conn)
		req.NoError(f.coordinator.Login(ctx, conn, n, "secret"))
	}
	req.Equal(4, f.registry.Count())

	f.coordinator.Disconnect(ctx, "conn-0")
	req.NoError(f.coordinator.Leave(ctx, "conn-1"))
	req.Equal(2, f.registry.Count())
}
