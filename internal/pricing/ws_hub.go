// Package pricing — WebSocket hub broadcasting committed adjustment batches.
package pricing

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/solcat/price-engine/internal/model"
)

// WSMessage is a JSON message sent to WebSocket clients after each
// committed adjustment batch.
type WSMessage struct {
	Type             string              `json:"type"`
	BatchID          int64               `json:"batch_id"`
	BatchRef         string              `json:"batch_ref"`
	AdjustedAt       time.Time           `json:"adjusted_at"`
	ServicesAdjusted int                 `json:"services_adjusted"`
	Changes          []model.PriceChange `json:"changes"`
}

/// wsClient wraps one connection with a write mutex: the broadcast loop
// and the per-connection ping goroutine both write, and gorilla/websocket
// does not allow concurrent writers.
type wsClient struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsClient) write(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteMessage(messageType, data)
}

// Hub manages WebSocket connections and fans out adjustment batches to
// all connected clients.
type Hub struct {
	clients    map[*wsClient]bool
	broadcast  chan []byte
	register   chan *wsClient
	unregister chan *wsClient
	mu         sync.RWMutex
}

// NewHub creates a new WebSocket hub.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*wsClient]bool),
		broadcast:  make(chan []byte, 64),
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
	}
}

// Run starts the hub's main event loop. Must be called in a goroutine.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mu.Unlock()
			slog.Info("ws client connected", "total", total)

		case client := <-h.unregister:
			h.remove(client)

		case msg := <-h.broadcast:
			// Write outside the map lock; collect failures and remove
			// them under the full lock afterwards.
			h.mu.RLock()
			targets := make([]*wsClient, 0, len(h.clients))
			for c := range h.clients {
				targets = append(targets, c)
			}
			h.mu.RUnlock()

			for _, c := range targets {
				if err := c.write(websocket.TextMessage, msg); err != nil {
					h.remove(c)
				}
			}
		}
	}
}

// remove drops a client from the hub and closes its connection. Safe to
// call for clients already removed.
func (h *Hub) remove(client *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		client.conn.Close()
	}
}

// contains reports whether a client is still registered.
func (h *Hub) contains(client *wsClient) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.clients[client]
}

// BroadcastRecord sends a committed adjustment batch to all clients.
func (h *Hub) BroadcastRecord(record *model.AdjustmentRecord) {
	data, err := json.Marshal(WSMessage{
		Type:             "price_adjustment",
		BatchID:          record.ID,
		BatchRef:         record.BatchRef,
		AdjustedAt:       record.AdjustedAt,
		ServicesAdjusted: record.ServicesAdjusted,
		Changes:          record.Changes,
	})
	if err != nil {
		return
	}
	select {
	case h.broadcast <- data:
	default:
		// Drop if buffer full to avoid blocking the batch commit.
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true // Allow all origins during development.
	},
}

// HandleWS handles WebSocket upgrade requests at GET /api/v1/ws.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("ws upgrade failed", "err", err)
		return
	}

	client := &wsClient{conn: conn}
	h.register <- client

	// Read pump: keep connection alive and detect disconnects.
	go func() {
		defer func() { h.unregister <- client }()
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			return nil
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()

	// Ping ticker to keep connection alive through proxies.
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			if !h.contains(client) {
				return
			}
			if err := client.write(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}()
}
