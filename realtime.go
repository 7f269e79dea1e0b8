package carexpert

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"nhooyr.io/websocket"
)

// ============================================================================
// Socket Connection Manager
// ============================================================================

// socketEnvelope is the wire format for every real-time event, both
// directions: a named event plus a JSON payload.
type socketEnvelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Socket event names. Join intents and outbound messages are client→server;
// eventMessage is the single server→client chat event fanned out to
// subscribers.
const (
	eventJoinRoom    = "joinRoom"
	eventJoinDmRoom  = "joinDmRoom"
	eventDmMessage   = "dmMessage"
	eventRoomMessage = "roomMessage"
	eventMessage     = "message"
)

// MessageHandler receives every inbound chat message.
type MessageHandler func(ChatMessage)

type subscriber struct {
	id uint64
	fn MessageHandler
}

// Socket is the single shared real-time connection. It connects lazily on
// first use, Connect and Disconnect are idempotent, and any number of
// subscribers share the one transport-level read loop. Subscription
// lifecycle is decoupled from connection lifecycle: removing the last
// subscriber leaves the transport open, and disconnection is an explicit
// action (typically tied to logout).
type Socket struct {
	url    string
	logger *slog.Logger

	mu     sync.Mutex
	conn   *websocket.Conn
	cancel context.CancelFunc

	subMu  sync.Mutex
	subs   []subscriber
	nextID uint64
}

type SocketOption func(*Socket)

func WithSocketLogger(l *slog.Logger) SocketOption {
	return func(s *Socket) { s.logger = l }
}

// NewSocket derives the websocket endpoint from the API base URL.
func NewSocket(baseURL string, opts ...SocketOption) *Socket {
	wsURL := strings.Replace(baseURL, "https://", "wss://", 1)
	wsURL = strings.Replace(wsURL, "http://", "ws://", 1)
	s := &Socket{
		url:    strings.TrimRight(wsURL, "/") + "/ws",
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Connect establishes the transport connection and starts the single read
// loop. It is a no-op when already connected.
func (s *Socket) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.conn != nil {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	conn, _, err := websocket.Dial(ctx, s.url, nil)
	if err != nil {
		return fmt.Errorf("socket dial: %w", err)
	}

	s.mu.Lock()
	if s.conn != nil {
		// lost the race to a concurrent Connect
		s.mu.Unlock()
		conn.Close(websocket.StatusNormalClosure, "duplicate connection")
		return nil
	}
	readCtx, cancel := context.WithCancel(context.Background())
	s.conn = conn
	s.cancel = cancel
	s.mu.Unlock()

	s.logger.Info("socket connected", "url", s.url)
	go s.readLoop(readCtx, conn)
	return nil
}

// Disconnect closes the transport. It is a no-op when already disconnected
// and never touches the subscriber registry.
func (s *Socket) Disconnect() error {
	s.mu.Lock()
	conn := s.conn
	cancel := s.cancel
	s.conn = nil
	s.cancel = nil
	s.mu.Unlock()

	if conn == nil {
		return nil
	}
	cancel()
	s.logger.Info("socket disconnected")
	return conn.Close(websocket.StatusNormalClosure, "client disconnect")
}

// Connected reports whether the transport is currently up.
func (s *Socket) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil
}

// Subscribe registers a handler for every inbound chat message and returns
// a function that removes exactly that handler. Registering and removing
// handlers never affects the transport connection.
func (s *Socket) Subscribe(fn MessageHandler) (unsubscribe func()) {
	s.subMu.Lock()
	s.nextID++
	id := s.nextID
	s.subs = append(s.subs, subscriber{id: id, fn: fn})
	s.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.subMu.Lock()
			for i, sub := range s.subs {
				if sub.id == id {
					s.subs = append(s.subs[:i], s.subs[i+1:]...)
					break
				}
			}
			s.subMu.Unlock()
		})
	}
}

// JoinRoom announces interest in a city or community room. Fire-and-forget:
// no acknowledgment is awaited.
func (s *Socket) JoinRoom(ctx context.Context, room, userID string) error {
	return s.send(ctx, eventJoinRoom, map[string]string{"room": room, "userId": userID})
}

// JoinDmRoom announces interest in the one-on-one surface with another user.
func (s *Socket) JoinDmRoom(ctx context.Context, userID, otherUserID string) error {
	return s.send(ctx, eventJoinDmRoom, map[string]string{"userId": userID, "otherUserId": otherUserID})
}

// SendMessage emits a direct chat message. Ordering relative to other sends
// is the transport's FIFO, nothing more.
func (s *Socket) SendMessage(ctx context.Context, msg DirectMessagePayload) error {
	return s.send(ctx, eventDmMessage, msg)
}

// SendMessageToRoom emits a city or community room message.
func (s *Socket) SendMessageToRoom(ctx context.Context, msg RoomMessagePayload) error {
	return s.send(ctx, eventRoomMessage, msg)
}

func (s *Socket) send(ctx context.Context, event string, data any) error {
	if err := s.Connect(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("socket: not connected")
	}

	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("socket: marshal %s: %w", event, err)
	}
	raw, err := json.Marshal(socketEnvelope{Event: event, Data: payload})
	if err != nil {
		return fmt.Errorf("socket: marshal envelope: %w", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, raw); err != nil {
		return fmt.Errorf("socket: write %s: %w", event, err)
	}
	return nil
}

// readLoop is the one transport-level listener. It exists once per
// connection regardless of subscriber count and forwards every inbound
// message event to the registry.
func (s *Socket) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			s.mu.Lock()
			open := s.conn == conn
			if open {
				s.conn = nil
				s.cancel = nil
			}
			s.mu.Unlock()
			if open {
				s.logger.Warn("socket read failed", "error", err)
			}
			return
		}

		var env socketEnvelope
		if json.Unmarshal(data, &env) != nil {
			continue
		}
		if env.Event != eventMessage {
			continue
		}

		var raw map[string]any
		if json.Unmarshal(env.Data, &raw) != nil {
			continue
		}
		s.dispatch(normalizeMessage(raw))
	}
}

// dispatch fans one message out to every subscriber in registration order.
// Unlike connection-state callbacks elsewhere, ordering here is part of the
// contract, so delivery is synchronous; a panicking handler is isolated and
// logged without affecting the rest.
func (s *Socket) dispatch(msg ChatMessage) {
	s.subMu.Lock()
	handlers := make([]MessageHandler, len(s.subs))
	for i, sub := range s.subs {
		handlers[i] = sub.fn
	}
	s.subMu.Unlock()

	for _, fn := range handlers {
		s.invoke(fn, msg)
	}
}

func (s *Socket) invoke(fn MessageHandler, msg ChatMessage) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("socket: subscriber panicked", "panic", r)
		}
	}()
	fn(msg)
}
