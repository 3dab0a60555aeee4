// Package realtime pushes order balance updates to diners at the table.
package realtime

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"splitpay-api/ledger"

	"github.com/gorilla/websocket"
)

const (
	EventOrderUpdated = "order.updated"

	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	sendBuffer = 16
)

type Message struct {
	Event   string `json:"event"`
	Payload any    `json:"payload"`
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub fans order updates out to the websocket clients watching each order.
// Publishing never blocks on a slow client; its update is dropped instead.
type Hub struct {
	mu       sync.Mutex
	orders   map[string]map[*client]struct{}
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

func NewHub(allowedOrigins []string, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Hub{orders: map[string]map[*client]struct{}{}, logger: logger}
	h.upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || slices.Contains(allowedOrigins, "*") || slices.Contains(allowedOrigins, origin)
		},
	}
	return h
}

// OrderChanged publishes a committed ledger change
func (h *Hub) OrderChanged(summary ledger.Summary) {
	h.Publish(summary.OrderID, Message{Event: EventOrderUpdated, Payload: summary})
}

func (h *Hub) Publish(orderID string, msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("failed to marshal realtime message", "order_id", orderID, "error", err)
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.orders[orderID] {
		select {
		case c.send <- data:
		default:
			h.logger.Warn("dropping update for slow websocket client", "order_id", orderID)
		}
	}
}

// Subscribers reports how many clients watch orderID
func (h *Hub) Subscribers(orderID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.orders[orderID])
}

// Serve upgrades the request, sends initial as the first message and then
// streams updates for orderID until the client goes away
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, orderID string, initial any) error {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	c := &client{conn: conn, send: make(chan []byte, sendBuffer)}
	if first, err := json.Marshal(Message{Event: EventOrderUpdated, Payload: initial}); err == nil {
		c.send <- first
	}
	h.register(orderID, c)
	defer h.unregister(orderID, c)

	done := make(chan struct{})
	go h.writePump(c, done)
	h.readPump(c)
	close(done)
	return nil
}

func (h *Hub) register(orderID string, c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.orders[orderID] == nil {
		h.orders[orderID] = map[*client]struct{}{}
	}
	h.orders[orderID][c] = struct{}{}
}

func (h *Hub) unregister(orderID string, c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.orders[orderID], c)
	if len(h.orders[orderID]) == 0 {
		delete(h.orders, orderID)
	}
}

// readPump only drains control frames; diners never send data
func (h *Hub) readPump(c *client) {
	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(c *client, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case data := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return
		}
	}
}
