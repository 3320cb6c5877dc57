package gateway

import (
	"chat-hub/domain/event"
	"encoding/json"
	"fmt"
)

// Client-initiated event names.
const (
	eventLogin       = "login"
	eventSignup      = "signup"
	eventSendMessage = "sendMessage"
	eventUserLeave   = "userLeave"
)

// clientFrame is one inbound websocket message.
type clientFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type loginPayload struct {
	UserID   string `json:"userId"`
	Password string `json:"password"`
}

type signupPayload struct {
	UserID   string `json:"userId"`
	Password string `json:"password"`
	Nickname string `json:"nickname"`
}

// serverFrame is one outbound websocket message.
type serverFrame struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

type wireUser struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type messagePayload struct {
	Chat      string    `json:"chat"`
	User      *wireUser `json:"user,omitempty"`
	Timestamp int64     `json:"timestamp"`
}

type ackPayload struct {
	Op    string    `json:"op"`
	OK    bool      `json:"ok"`
	Error string    `json:"error,omitempty"`
	User  *wireUser `json:"user,omitempty"`
	Token string    `json:"token,omitempty"`
}

// assistantUser labels bot replies on the wire.
var assistantUser = wireUser{ID: "assistant", Name: "Assistant"}

// encodeEvent maps a hub event onto its wire frame.
func encodeEvent(e event.ChatEvent) (serverFrame, error) {
	switch ev := e.(type) {
	case event.SystemNotice:
		return serverFrame{Event: ev.EventName(), Data: messagePayload{
			Chat:      ev.Text,
			Timestamp: ev.At.UnixMilli(),
		}}, nil
	case event.UserMessage:
		return serverFrame{Event: ev.EventName(), Data: messagePayload{
			Chat:      ev.Text,
			User:      &wireUser{ID: ev.User.Key, Name: ev.User.Name},
			Timestamp: ev.At.UnixMilli(),
		}}, nil
	case event.BotMessage:
		user := assistantUser
		return serverFrame{Event: ev.EventName(), Data: messagePayload{
			Chat:      ev.Text,
			User:      &user,
			Timestamp: ev.At.UnixMilli(),
		}}, nil
	case event.PresenceCount:
		return serverFrame{Event: ev.EventName(), Data: ev.Count}, nil
	case event.Ack:
		payload := ackPayload{Op: ev.Op, OK: ev.OK, Error: ev.Err}
		if ev.User != nil {
			payload.User = &wireUser{ID: ev.User.Key, Name: ev.User.Name}
			payload.Token = ev.User.Profile["token"]
		}
		return serverFrame{Event: ev.EventName(), Data: payload}, nil
	default:
		return serverFrame{}, fmt.Errorf("unknown event type %T", e)
	}
}
