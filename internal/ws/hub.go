package ws

import (
	"encoding/json"
	"log"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	cmap "github.com/orcaman/concurrent-map/v2"
)

// Envelope is the wire frame: a named event and its JSON payload.
type Envelope struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// outEnvelope is the outbound frame before marshaling.
type outEnvelope struct {
	Event   string `json:"event"`
	Payload any    `json:"payload,omitempty"`
}

// Client represents one WebSocket connection.
type Client struct {
	id         string
	remoteAddr string
	conn       *websocket.Conn
	send       chan []byte
	mu         sync.Mutex
	closed     bool
}

// NewClient wraps a connection with a fresh connection id and a buffered
// send channel.
func NewClient(conn *websocket.Conn, remoteAddr string) *Client {
	return &Client{
		id:         uuid.New().String(),
		remoteAddr: remoteAddr,
		conn:       conn,
		send:       make(chan []byte, 256),
	}
}

// ID returns the transport-assigned connection id.
func (c *Client) ID() string {
	return c.id
}

// RemoteAddr returns the peer address.
func (c *Client) RemoteAddr() string {
	return c.remoteAddr
}

// Conn returns the underlying WebSocket connection.
func (c *Client) Conn() *websocket.Conn {
	return c.conn
}

// SendChan returns the send channel for the client.
func (c *Client) SendChan() <-chan []byte {
	return c.send
}

// Send queues a frame for delivery. A full buffer closes the client;
// emissions are fire-and-forget and must never block the core.
func (c *Client) Send(data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}

	select {
	case c.send <- data:
	default:
		// Buffer full, close the client
		c.closeLocked()
	}
}

// Close closes the client's send side.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked()
}

func (c *Client) closeLocked() {
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// IsClosed returns true if the client is closed.
func (c *Client) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Hub is the live connection table, keyed by connection id. It implements
// presence.Gateway: the core addresses connections only by id.
type Hub struct {
	clients cmap.ConcurrentMap[string, *Client]
}

// NewHub creates an empty Hub.
func NewHub() *Hub {
	return &Hub{clients: cmap.New[*Client]()}
}

// Register adds a client to the table.
func (h *Hub) Register(c *Client) {
	h.clients.Set(c.id, c)
}

// Unregister removes and closes a client.
func (h *Hub) Unregister(connID string) {
	if c, ok := h.clients.Pop(connID); ok {
		c.Close()
	}
}

// Get returns the client for a connection id.
func (h *Hub) Get(connID string) (*Client, bool) {
	return h.clients.Get(connID)
}

// Count returns the number of live connections.
func (h *Hub) Count() int {
	return h.clients.Count()
}

// Emit sends a named event to one connection.
func (h *Hub) Emit(connID, event string, payload any) {
	data, err := json.Marshal(outEnvelope{Event: event, Payload: payload})
	if err != nil {
		log.Printf("failed to marshal %s event: %v", event, err)
		return
	}
	if c, ok := h.clients.Get(connID); ok {
		c.Send(data)
	}
}

// EmitTo sends a named event to each listed connection.
func (h *Hub) EmitTo(connIDs []string, event string, payload any) {
	if len(connIDs) == 0 {
		return
	}
	data, err := json.Marshal(outEnvelope{Event: event, Payload: payload})
	if err != nil {
		log.Printf("failed to marshal %s event: %v", event, err)
		return
	}
	for _, connID := range connIDs {
		if c, ok := h.clients.Get(connID); ok {
			c.Send(data)
		}
	}
}

// Broadcast sends a named event to every connection.
func (h *Hub) Broadcast(event string, payload any) {
	data, err := json.Marshal(outEnvelope{Event: event, Payload: payload})
	if err != nil {
		log.Printf("failed to marshal %s event: %v", event, err)
		return
	}
	for item := range h.clients.IterBuffered() {
		item.Val.Send(data)
	}
}

// CloseConn closes one connection.
func (h *Hub) CloseConn(connID string) {
	h.Unregister(connID)
}

// CloseAll closes every connection and empties the table.
func (h *Hub) CloseAll() {
	for item := range h.clients.IterBuffered() {
		item.Val.Close()
	}
	h.clients.Clear()
}
