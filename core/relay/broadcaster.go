package relay

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/koscakluka/ema-chat/core/events"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	subscriberQueueCapacity = 64
	writeTimeout            = 5 * time.Second
)

var ErrBroadcasterClosed = errors.New("broadcaster closed")

// Broadcaster relays transcript events to websocket subscribers, e.g. a
// second terminal or a browser watching the conversation. Slow subscribers
// are disconnected instead of slowing down the transcript.
type Broadcaster struct {
	mu          sync.Mutex
	subscribers map[*subscriber]struct{}
	closed      bool

	upgrader websocket.Upgrader
}

type subscriber struct {
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		subscribers: map[*subscriber]struct{}{},
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// Handler serves the websocket endpoint on /ws and the frame schema on
// /schema.
func (b *Broadcaster) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", b.serveWebsocket)
	mux.HandleFunc("/schema", serveSchema)
	return mux
}

// Handle broadcasts a transcript event to every subscriber. It never blocks.
func (b *Broadcaster) Handle(event events.Event) {
	frame, ok := FrameFromEvent(event)
	if !ok {
		return
	}

	data, err := json.Marshal(frame)
	if err != nil {
		logger.Error("failed to marshal relay frame", "kind", frame.Kind, "error", err)
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for s := range b.subscribers {
		select {
		case s.send <- data:
		default:
			logger.Warn("dropping slow relay subscriber", "remote_addr", s.conn.RemoteAddr().String())
			b.removeLocked(s)
		}
	}
}

func (b *Broadcaster) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return len(b.subscribers)
}

// Close disconnects all subscribers and rejects new ones.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true
	for s := range b.subscribers {
		b.removeLocked(s)
	}
}

func (b *Broadcaster) serveWebsocket(w http.ResponseWriter, r *http.Request) {
	_, span := tracer.Start(r.Context(), "relay subscribe")
	defer span.End()

	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		span.RecordError(err)
		logger.Warn("failed to upgrade relay connection", "error", err)
		return
	}
	span.SetAttributes(attribute.String("relay.remote_addr", conn.RemoteAddr().String()))

	s := &subscriber{conn: conn, send: make(chan []byte, subscriberQueueCapacity)}
	if err := b.add(s); err != nil {
		span.RecordError(err)
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, err.Error()))
		_ = conn.Close()
		return
	}
	span.AddEvent("subscribed", trace.WithAttributes(attribute.Int("relay.subscribers", b.SubscriberCount())))

	go b.writeLoop(s)
	go b.readLoop(s)
}

func (b *Broadcaster) add(s *subscriber) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrBroadcasterClosed
	}
	b.subscribers[s] = struct{}{}
	return nil
}

func (b *Broadcaster) remove(s *subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.removeLocked(s)
}

func (b *Broadcaster) removeLocked(s *subscriber) {
	if _, ok := b.subscribers[s]; !ok {
		return
	}
	delete(b.subscribers, s)
	s.once.Do(func() { close(s.send) })
}

func (b *Broadcaster) writeLoop(s *subscriber) {
	defer func() { _ = s.conn.Close() }()

	for data := range s.send {
		_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			logger.Debug("failed to write relay frame", "error", err)
			b.remove(s)
			return
		}
	}

	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeTimeout))
}

// readLoop only watches for the subscriber going away, subscribers never send
// anything meaningful.
func (b *Broadcaster) readLoop(s *subscriber) {
	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			b.remove(s)
			return
		}
	}
}

func serveSchema(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/schema+json")
	if err := json.NewEncoder(w).Encode(Schema()); err != nil {
		logger.ErrorContext(context.WithoutCancel(r.Context()), "failed to encode relay schema", "error", err)
	}
}
