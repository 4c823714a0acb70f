// Package broadcast is the per-table real-time channel. Subscribers connect
// over websocket and receive every event published for their table.
package broadcast

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/leapdao/acebusters-backend/internal/metrics"
	"github.com/leapdao/acebusters-backend/internal/models"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	sendBuffer = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type subscriber struct {
	table string
	conn  *websocket.Conn
	send  chan []byte
	once  sync.Once
}

func (s *subscriber) close() {
	s.once.Do(func() { close(s.send) })
}

// Hub fans events out to the subscribers of each table
type Hub struct {
	mu     sync.RWMutex
	tables map[string]map[*subscriber]struct{}
}

// NewHub creates an empty Hub
func NewHub() *Hub {
	return &Hub{tables: make(map[string]map[*subscriber]struct{})}
}

// Broadcast sends event to every subscriber of table. Subscribers whose
// buffer is full are disconnected.
func (h *Hub) Broadcast(table string, event models.BroadcastEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		slog.Error("Failed to marshal broadcast event", "table", table, "type", event.Type, "error", err)
		return
	}

	h.mu.RLock()
	var slow []*subscriber
	for sub := range h.tables[table] {
		select {
		case sub.send <- data:
		default:
			slow = append(slow, sub)
		}
	}
	h.mu.RUnlock()

	for _, sub := range slow {
		slog.Warn("Dropping slow subscriber", "table", table)
		h.unregister(sub)
	}
	slog.Debug("Event broadcast", "table", table, "type", event.Type)
}

// Subscribers returns the number of connections listening on table
func (h *Hub) Subscribers(table string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.tables[table])
}

// ServeWS upgrades the request and subscribes the connection to table
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, table string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("Websocket upgrade failed", "table", table, "error", err)
		return
	}

	sub := &subscriber{table: table, conn: conn, send: make(chan []byte, sendBuffer)}
	h.mu.Lock()
	if h.tables[table] == nil {
		h.tables[table] = make(map[*subscriber]struct{})
	}
	h.tables[table][sub] = struct{}{}
	h.mu.Unlock()
	metrics.BroadcastSubscribers.Inc()

	slog.Debug("Subscriber connected", "table", table, "remote", r.RemoteAddr)
	go h.writePump(sub)
	go h.readPump(sub)
}

func (h *Hub) unregister(sub *subscriber) {
	h.mu.Lock()
	if subs, ok := h.tables[sub.table]; ok {
		if _, ok := subs[sub]; ok {
			delete(subs, sub)
			metrics.BroadcastSubscribers.Dec()
			if len(subs) == 0 {
				delete(h.tables, sub.table)
			}
		}
	}
	h.mu.Unlock()
	sub.close()
}

// Close disconnects every subscriber
func (h *Hub) Close() {
	h.mu.Lock()
	var all []*subscriber
	for _, subs := range h.tables {
		for sub := range subs {
			all = append(all, sub)
		}
	}
	h.mu.Unlock()

	for _, sub := range all {
		h.unregister(sub)
	}
}

// readPump only watches for pongs and the connection closing
func (h *Hub) readPump(sub *subscriber) {
	defer h.unregister(sub)

	sub.conn.SetReadLimit(512)
	_ = sub.conn.SetReadDeadline(time.Now().Add(pongWait))
	sub.conn.SetPongHandler(func(string) error {
		return sub.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := sub.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Debug("Subscriber read error", "table", sub.table, "error", err)
			}
			return
		}
	}
}

func (h *Hub) writePump(sub *subscriber) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = sub.conn.Close()
	}()

	for {
		select {
		case data, ok := <-sub.send:
			_ = sub.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = sub.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := sub.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = sub.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := sub.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
