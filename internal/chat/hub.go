package chat

import (
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const outgoingBuffer = 16

// Client represents a connected subscriber of the live chat channel.
type Client struct {
	ID       uuid.UUID
	Conn     Conn
	Outgoing chan []byte
}

// NewClient wraps conn with a fresh ID and outgoing queue.
func NewClient(conn Conn) *Client {
	return &Client{
		ID:       uuid.New(),
		Conn:     conn,
		Outgoing: make(chan []byte, outgoingBuffer),
	}
}

// Hub manages all connected clients and handles broadcast.
type Hub struct {
	clients map[*Client]bool
	mu      sync.RWMutex
	logger  zerolog.Logger
}

// NewHub creates a new Hub.
func NewHub() *Hub {
	return &Hub{
		clients: make(map[*Client]bool),
		logger:  log.With().Str("component", "hub").Logger(),
	}
}

// Register adds a client to the hub.
func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[client] = true
	h.logger.Info().Str("client", client.ID.String()).Str("remote", client.Conn.RemoteAddr()).Msg("client registered")
}

// Unregister removes a client from the hub. After it returns no further
// broadcast reaches the client's Outgoing queue.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client]; !ok {
		return
	}
	delete(h.clients, client)
	h.logger.Info().Str("client", client.ID.String()).Msg("client unregistered")
}

// ClientCount returns number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast queues data for every client and returns how many accepted it.
// A client whose queue is full misses the frame rather than stalling others.
func (h *Hub) Broadcast(data []byte) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	for client := range h.clients {
		select {
		case client.Outgoing <- data:
			delivered++
		default:
			h.logger.Warn().Str("client", client.ID.String()).Msg("outgoing queue full, dropping frame")
		}
	}
	return delivered
}

// CloseAll closes every client connection with the given reason. Clients
// unregister themselves as their read loops fail.
func (h *Hub) CloseAll(reason string) {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	for _, client := range clients {
		if err := client.Conn.Close(reason); err != nil {
			h.logger.Debug().Err(err).Str("client", client.ID.String()).Msg("close client")
		}
	}
}
