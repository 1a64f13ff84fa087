package events

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"toko/internal/metrics"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	sendBufferSize = 64
)

// Hub keeps one websocket room per tenant.
type Hub struct {
	mu       sync.RWMutex
	rooms    map[string]map[*session]struct{}
	upgrader websocket.Upgrader
	metrics  *metrics.Metrics
	logger   *slog.Logger
	now      func() time.Time
}

type session struct {
	tenantID string
	conn     *websocket.Conn
	send     chan []byte
}

// NewHub creates an empty hub.
func NewHub(m *metrics.Metrics, logger *slog.Logger) *Hub {
	return &Hub{
		rooms: make(map[string]map[*session]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		metrics: m,
		logger:  logger.With("component", "ws_hub"),
		now:     time.Now,
	}
}

// ServeWS upgrades the request and joins the connection to the tenant room until it closes.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, tenantID string) error {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return fmt.Errorf("upgrade websocket: %w", err)
	}
	s := &session{tenantID: tenantID, conn: conn, send: make(chan []byte, sendBufferSize)}
	h.join(s)

	go h.writePump(s)
	go h.readPump(s)
	return nil
}

// Broadcast queues the event on every session of the tenant. Full buffers drop the event.
func (h *Hub) Broadcast(_ context.Context, tenantID, event string, payload any) error {
	msg, err := encode(tenantID, event, payload, h.now())
	if err != nil {
		return err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for s := range h.rooms[tenantID] {
		select {
		case s.send <- msg:
		default:
			h.logger.Warn("dropping event for slow websocket client", "tenant", tenantID, "event", event)
		}
	}
	h.metrics.Broadcasts.WithLabelValues(event).Inc()
	return nil
}

// RoomSize returns the number of sessions subscribed to a tenant.
func (h *Hub) RoomSize(tenantID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[tenantID])
}

// Close disconnects every session.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for tenantID, room := range h.rooms {
		for s := range room {
			close(s.send)
		}
		delete(h.rooms, tenantID)
	}
}

func (h *Hub) join(s *session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	room, ok := h.rooms[s.tenantID]
	if !ok {
		room = make(map[*session]struct{})
		h.rooms[s.tenantID] = room
	}
	room[s] = struct{}{}
	h.logger.Debug("websocket joined", "tenant", s.tenantID, "sessions", len(room))
}

func (h *Hub) leave(s *session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	room, ok := h.rooms[s.tenantID]
	if !ok {
		return
	}
	if _, ok := room[s]; !ok {
		return
	}
	delete(room, s)
	close(s.send)
	if len(room) == 0 {
		delete(h.rooms, s.tenantID)
	}
}

func (h *Hub) readPump(s *session) {
	defer func() {
		h.leave(s)
		s.conn.Close()
	}()
	s.conn.SetReadLimit(4096)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("websocket read failed", "tenant", s.tenantID, "error", err)
			}
			return
		}
	}
}

func (h *Hub) writePump(s *session) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
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
