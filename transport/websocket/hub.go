package websocket

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/wricardo/surfrace/race/protocol"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 8192

	// Outbound frames buffered per client before it is considered too slow.
	sendBuffer = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Game clients are served from arbitrary origins.
		return true
	},
}

// Handler receives the lifecycle and inbound frames of every connection.
type Handler interface {
	Connect(sessionID string)
	Handle(sessionID string, frame []byte)
	Disconnect(sessionID string)
}

// Client is one websocket connection. Its session id is assigned by the hub
// and never changes; a reconnect gets a new one.
type Client struct {
	hub       *Hub
	conn      *websocket.Conn
	send      chan []byte
	sessionID string
}

// SessionID returns the id the hub assigned to this connection.
func (c *Client) SessionID() string {
	return c.sessionID
}

type delivery struct {
	ids   []string
	frame []byte
}

// Hub maintains the set of active clients and fans messages out to them.
type Hub struct {
	// Registered clients by session id. Only touched by Run.
	clients map[string]*Client

	// Outbound frames addressed to sessions.
	deliver chan delivery

	// Register requests from clients.
	register chan *Client

	// Unregister requests from clients.
	unregister chan *Client

	done    chan struct{}
	count   atomic.Int64
	dropped atomic.Int64
	logger  zerolog.Logger

	// Frames discarded because the deliver queue was full.
	overflow atomic.Int64
}

// NewHub creates a new WebSocket hub.
func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		clients:    make(map[string]*Client),
		deliver:    make(chan delivery, 1024),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		logger:     logger.With().Str("component", "hub").Logger(),
	}
}

// Run starts the hub's event loop. It returns after Stop.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)

		case d := <-h.deliver:
			h.deliverFrame(d)

		case <-h.done:
			for _, client := range h.clients {
				h.unregisterClient(client)
			}
			return
		}
	}
}

// Stop shuts the event loop down and closes every connection.
func (h *Hub) Stop() {
	select {
	case <-h.done:
	default:
		close(h.done)
	}
}

// Count returns the number of connected clients.
func (h *Hub) Count() int {
	return int(h.count.Load())
}

// ServeWS upgrades the request, assigns a fresh session id and starts the
// client pumps. Every inbound frame is passed to handler.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, handler Handler) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := &Client{
		hub:       h,
		conn:      conn,
		send:      make(chan []byte, sendBuffer),
		sessionID: uuid.NewString(),
	}

	select {
	case client.hub.register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	handler.Connect(client.sessionID)

	// Start client goroutines
	go client.writePump()
	go client.readPump(handler)
}

// Deliver encodes msg once and queues it for every listed session. Sessions
// that are not connected are skipped. Deliver never blocks: when the hub
// queue is full the frame is discarded and counted.
func (h *Hub) Deliver(sessionIDs []string, msg protocol.Message) {
	if len(sessionIDs) == 0 {
		return
	}
	frame, err := protocol.Encode(msg)
	if err != nil {
		h.logger.Error().Err(err).Str("type", string(msg.Type)).Msg("failed to encode message")
		return
	}

	select {
	case <-h.done:
		return
	default:
	}

	select {
	case h.deliver <- delivery{ids: sessionIDs, frame: frame}:
	default:
		h.overflow.Add(1)
		h.logger.Warn().Str("type", string(msg.Type)).Int("sessions", len(sessionIDs)).Msg("deliver queue full, frame discarded")
	}
}

// Overflow returns how many frames were discarded on a full deliver queue.
func (h *Hub) Overflow() int64 {
	return h.overflow.Load()
}

// registerClient adds a client to the hub.
func (h *Hub) registerClient(client *Client) {
	h.clients[client.sessionID] = client
	h.count.Store(int64(len(h.clients)))

	h.logger.Debug().Str("session_id", client.sessionID).Int("clients", len(h.clients)).Msg("client registered")
}

// unregisterClient removes a client and closes its send queue.
func (h *Hub) unregisterClient(client *Client) {
	if current, ok := h.clients[client.sessionID]; ok && current == client {
		delete(h.clients, client.sessionID)
		close(client.send)
		h.count.Store(int64(len(h.clients)))

		h.logger.Debug().Str("session_id", client.sessionID).Int("clients", len(h.clients)).Msg("client unregistered")
	}
}

// deliverFrame pushes one frame to each addressed client.
func (h *Hub) deliverFrame(d delivery) {
	for _, id := range d.ids {
		client, ok := h.clients[id]
		if !ok {
			continue
		}
		select {
		case client.send <- d.frame:
		default:
			// Client's send queue is full, drop the connection.
			h.dropped.Add(1)
			h.logger.Warn().Str("session_id", id).Msg("client too slow, disconnecting")
			h.unregisterClient(client)
		}
	}
}

// readPump pumps frames from the connection to the handler.
func (c *Client) readPump(handler Handler) {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
		handler.Disconnect(c.sessionID)
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, frame, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Debug().Err(err).Str("session_id", c.sessionID).Msg("websocket closed unexpectedly")
			}
			break
		}
		handler.Handle(c.sessionID, frame)
	}
}

// writePump pumps frames from the hub to the connection, one message per
// frame, and keeps the connection alive with pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
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
