package dispatch

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/example/ride-matchmaking/internal/models"
	"github.com/example/ride-matchmaking/internal/observability"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
	sendBuffer     = 16
)

// subscriber is one connected real-time client.
type subscriber struct {
	id   string
	conn *websocket.Conn
	send chan []byte
}

// Hub holds the websocket subscribers of this process and pushes every
// ride event to all of them. Late joiners get no history.
type Hub struct {
	mu     sync.RWMutex
	subs   map[*subscriber]struct{}
	logger *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{subs: make(map[*subscriber]struct{}), logger: logger}
}

func (h *Hub) Name() string { return "websocket" }

// Serve registers conn and blocks until the client goes away.
func (h *Hub) Serve(conn *websocket.Conn) {
	s := &subscriber{id: uuid.NewString(), conn: conn, send: make(chan []byte, sendBuffer)}
	h.add(s)
	go h.writePump(s)
	h.readPump(s)
}

func (h *Hub) add(s *subscriber) {
	h.mu.Lock()
	h.subs[s] = struct{}{}
	n := len(h.subs)
	h.mu.Unlock()
	observability.WSSubscribers.Set(float64(n))
	h.logger.Debug("ws subscriber connected", "subscriber_id", s.id, "subscribers", n)
}

func (h *Hub) remove(s *subscriber) {
	h.mu.Lock()
	if _, ok := h.subs[s]; ok {
		delete(h.subs, s)
		close(s.send)
	}
	n := len(h.subs)
	h.mu.Unlock()
	observability.WSSubscribers.Set(float64(n))
}

// Publish encodes the event and hands it to Deliver.
func (h *Hub) Publish(_ context.Context, ev models.RideEvent) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	h.Deliver(b)
	return nil
}

// Deliver queues payload for every subscriber without blocking. A
// subscriber whose queue is full is disconnected.
func (h *Hub) Deliver(payload []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.subs {
		select {
		case s.send <- payload:
		default:
			delete(h.subs, s)
			close(s.send)
			observability.WSDropped.Inc()
			h.logger.Warn("dropping slow ws subscriber", "subscriber_id", s.id)
		}
	}
	observability.WSSubscribers.Set(float64(len(h.subs)))
}

func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Close disconnects every subscriber.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.subs {
		delete(h.subs, s)
		close(s.send)
	}
	observability.WSSubscribers.Set(0)
}

func (h *Hub) readPump(s *subscriber) {
	defer h.remove(s)
	s.conn.SetReadLimit(maxMessageSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		// clients only listen; anything they send is discarded
		if _, _, err := s.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(s *subscriber) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = s.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				h.logger.Debug("ws write failed", "subscriber_id", s.id, "error", err)
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
