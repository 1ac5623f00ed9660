// Package websocket pushes sync and import events to connected operator clients.
package websocket

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"github.com/villa-sync/backend/internal/logging"
	"github.com/villa-sync/backend/internal/metrics"
)

// ErrBroadcastFull is returned when the broadcast queue cannot take a message.
var ErrBroadcastFull = errors.New("websocket: broadcast channel full")

// Hub maintains the set of active WebSocket clients and broadcasts messages.
type Hub struct {
	// Registered clients
	clients map[*Client]bool

	// Outbound messages for every client
	broadcast chan []byte

	register   chan *Client
	unregister chan *Client

	mu     sync.RWMutex
	logger zerolog.Logger
}

// NewHub creates a new WebSocket hub.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		logger:     logging.Component("websocket"),
	}
}

// Run starts the hub's main event loop until ctx is done.
// This should be called in a goroutine.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			n := len(h.clients)
			h.mu.Unlock()
			metrics.WebSocketClients.Set(float64(n))
			h.logger.Debug().Int("clients", n).Msg("client connected")

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			metrics.WebSocketClients.Set(float64(n))
			h.logger.Debug().Int("clients", n).Msg("client disconnected")

		case message := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					// send buffer full, drop the client
					close(client.send)
					delete(h.clients, client)
				}
			}
			n := len(h.clients)
			h.mu.Unlock()
			metrics.WebSocketClients.Set(float64(n))
		}
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		close(client.send)
		delete(h.clients, client)
	}
	metrics.WebSocketClients.Set(0)
}

// Broadcast queues a message for all connected clients.
func (h *Hub) Broadcast(message []byte) error {
	select {
	case h.broadcast <- message:
		return nil
	default:
		h.logger.Warn().Msg("broadcast channel full, dropping message")
		return ErrBroadcastFull
	}
}

// Register adds a client to the hub.
func (h *Hub) Register(client *Client) {
	h.register <- client
}

// Unregister removes a client from the hub.
func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
