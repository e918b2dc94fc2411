package websocket

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	channerics "github.com/niceyeti/channerics/channels"
	"github.com/wricardo/mcp-training/linetracer/sim/engine"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 512

	// Frames queued for the hub before new ones are dropped.
	broadcastBuffer = 64
)

// Event names carried in Message.Event
const (
	EventRedraw    = "redraw"
	EventTelemetry = "telemetry"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Allow all origins in development
		return true
	},
}

// Message represents a WebSocket message
type Message struct {
	Event     string            `json:"event"`
	Telemetry *engine.Telemetry `json:"telemetry,omitempty"`
	Data      interface{}       `json:"data,omitempty"`
}

// Client represents a WebSocket client
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// Hub maintains the set of active clients and broadcasts frames to all of
// them. The clients map is only touched by the Run goroutine.
type Hub struct {
	clients map[*Client]bool

	// Encoded frames for every client
	broadcast chan []byte

	// Register requests from clients
	register chan *Client

	// Unregister requests from clients
	unregister chan *Client

	// Closed when Run returns
	quit chan struct{}

	count   atomic.Int32
	dropped atomic.Uint64
}

// NewHub creates a new WebSocket hub
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, broadcastBuffer),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		quit:       make(chan struct{}),
	}
}

// Run starts the hub's event loop and blocks until ctx is done
func (h *Hub) Run(ctx context.Context) error {
	defer func() {
		for client := range h.clients {
			h.unregisterClient(client)
		}
		close(h.quit)
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)

		case data := <-h.broadcast:
			h.broadcastFrame(data)
		}
	}
}

// ServeWS handles WebSocket requests from clients
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	client := &Client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, 256),
	}

	select {
	case h.register <- client:
	case <-h.quit:
		conn.Close()
		return
	}

	// Start client goroutines
	go client.writePump()
	go client.readPump()
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	return int(h.count.Load())
}

// Dropped returns the number of frames dropped because the hub was
// saturated
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}

// BroadcastTelemetry queues a redraw frame. It never blocks, so it is
// safe to call from the engine's pacing path.
func (h *Hub) BroadcastTelemetry(tel engine.Telemetry) {
	h.enqueue(&Message{Event: EventRedraw, Telemetry: &tel})
}

// BroadcastEvent queues a custom event for all clients
func (h *Hub) BroadcastEvent(event string, data interface{}) {
	h.enqueue(&Message{Event: event, Data: data})
}

func (h *Hub) enqueue(message *Message) {
	data, err := json.Marshal(message)
	if err != nil {
		log.Printf("Failed to marshal WebSocket message: %v", err)
		return
	}

	select {
	case h.broadcast <- data:
	default:
		h.dropped.Add(1)
	}
}

// TelemetrySource provides snapshots for the periodic publisher
type TelemetrySource interface {
	Telemetry(ctx context.Context) (*engine.Telemetry, error)
}

// PublishTelemetry sends a telemetry frame every interval while clients
// are connected, so that views stay current while redraws are hidden.
// It blocks until ctx is done.
func (h *Hub) PublishTelemetry(ctx context.Context, source TelemetrySource, every time.Duration) error {
	for range channerics.NewTicker(ctx.Done(), every) {
		if h.ClientCount() == 0 {
			continue
		}
		tel, err := source.Telemetry(ctx)
		if err != nil {
			log.Printf("Telemetry publisher: %v", err)
			continue
		}
		h.enqueue(&Message{Event: EventTelemetry, Telemetry: tel})
	}
	return nil
}

// registerClient adds a client
func (h *Hub) registerClient(client *Client) {
	h.clients[client] = true
	h.count.Store(int32(len(h.clients)))

	log.Printf("Client registered (total clients: %d)", len(h.clients))
}

// unregisterClient removes a client
func (h *Hub) unregisterClient(client *Client) {
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
		h.count.Store(int32(len(h.clients)))

		log.Printf("Client unregistered (remaining clients: %d)", len(h.clients))
	}
}

// broadcastFrame sends an encoded frame to all clients
func (h *Hub) broadcastFrame(data []byte) {
	for client := range h.clients {
		select {
		case client.send <- data:
		default:
			// Client's send channel is full, close it
			h.unregisterClient(client)
		}
	}
}

// readPump pumps messages from the WebSocket connection to the hub
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.quit:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		// Control goes through the REST API; reads only keep the connection alive
		_, _, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			break
		}
	}
}

// writePump pumps messages from the hub to the WebSocket connection
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
