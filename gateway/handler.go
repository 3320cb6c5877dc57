// Package gateway is the WebSocket transport of the hub. It owns the
// sockets and the wire format; all chat semantics live in the coordinator.
package gateway

import (
	"chat-hub/contract"
	"chat-hub/domain"
	"chat-hub/domain/event"
	"context"
	"encoding/json"
	stderrors "errors"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/net/websocket"
)

// maxDecodeErrorsPerConn bounds how many malformed frames a client may send
// before the connection is dropped.
const maxDecodeErrorsPerConn = 5

type Handler struct {
	log         *slog.Logger
	coordinator contract.ICoordinator
	bufferSize  int
}

func NewHandler(log *slog.Logger, coordinator contract.ICoordinator, bufferSize int) *Handler {
	if bufferSize <= 0 {
		bufferSize = 64
	}
	return &Handler{log: log, coordinator: coordinator, bufferSize: bufferSize}
}

// Routes exposes /ws for clients and /up for health probes.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/up", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	wsHandler := websocket.Handler(h.handleConn)
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		wsHandler.ServeHTTP(w, r)
	})

	return mux
}

func (h *Handler) handleConn(conn *websocket.Conn) {
	defer func() {
		_ = conn.Close()
	}()

	connID := domain.ConnID(uuid.NewString())
	log := h.log.With("conn_id", connID)
	log.Info("connection opened", "remote", conn.Request().RemoteAddr)

	sink := NewSink(h.bufferSize)
	done := make(chan struct{})
	defer close(done)

	// A forced close must not race the writer: events already queued at
	// that point (the displacement notice in particular) are flushed
	// before the socket goes down.
	closing := make(chan struct{})
	var closeOnce sync.Once
	forceClose := func() {
		closeOnce.Do(func() { close(closing) })
	}

	// Single writer per connection. Events already carry their order;
	// this goroutine just serializes them onto the socket.
	go func() {
		encoder := json.NewEncoder(conn)
		write := func(e event.ChatEvent) bool {
			frame, err := encodeEvent(e)
			if err != nil {
				log.Error("unencodable event", "error", err)
				return true
			}
			if err := encoder.Encode(frame); err != nil {
				log.Debug("write failed", "error", err)
				return false
			}
			return true
		}
		for {
			select {
			case e := <-sink.Events():
				if !write(e) {
					return
				}
			case <-closing:
				for {
					select {
					case e := <-sink.Events():
						if !write(e) {
							_ = conn.Close()
							return
						}
					default:
						_ = conn.Close()
						return
					}
				}
			case <-done:
				return
			}
		}
	}()

	h.coordinator.Connect(connID, sink, forceClose)
	defer h.coordinator.Disconnect(context.Background(), connID)

	h.readLoop(conn, connID, log)
	log.Info("connection closed")
}

func (h *Handler) readLoop(conn *websocket.Conn, connID domain.ConnID, log *slog.Logger) {
	decoder := json.NewDecoder(conn)
	decodeErrors := 0

	for {
		var frame clientFrame
		if err := decoder.Decode(&frame); err != nil {
			if stderrors.Is(err, io.EOF) {
				return
			}
			decodeErrors++
			log.Debug("invalid frame", "error", err)
			if decodeErrors >= maxDecodeErrorsPerConn {
				return
			}
			continue
		}
		decodeErrors = 0

		ctx := conn.Request().Context()
		switch frame.Event {
		case eventLogin:
			var payload loginPayload
			if err := json.Unmarshal(frame.Data, &payload); err != nil {
				log.Debug("invalid login payload", "error", err)
				continue
			}
			if err := h.coordinator.Login(ctx, connID, payload.UserID, payload.Password); err != nil {
				log.Info("login refused", "error", err)
			}
		case eventSignup:
			var payload signupPayload
			if err := json.Unmarshal(frame.Data, &payload); err != nil {
				log.Debug("invalid signup payload", "error", err)
				continue
			}
			if err := h.coordinator.Signup(ctx, connID, payload.UserID, payload.Password, payload.Nickname); err != nil {
				log.Info("signup refused", "error", err)
			}
		case eventSendMessage:
			var text string
			if err := json.Unmarshal(frame.Data, &text); err != nil {
				log.Debug("invalid message payload", "error", err)
				continue
			}
			if err := h.coordinator.SendMessage(ctx, connID, text); err != nil {
				log.Debug("message rejected", "error", err)
			}
		case eventUserLeave:
			if err := h.coordinator.Leave(ctx, connID); err != nil {
				log.Debug("leave failed", "error", err)
			}
		default:
			log.Debug("unknown event", "event", frame.Event)
		}
	}
}
