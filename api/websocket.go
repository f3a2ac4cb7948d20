package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"sentinel/util/goroutine"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// pingPeriod must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	maxMessageSize  = 512
	sendChannelSize = 16

	// MessageStateChanged tells clients to re-fetch state
	MessageStateChanged = "state:changed"
)

// ChangeFeed delivers coalesced change notifications. notify.Bus satisfies it.
type ChangeFeed interface {
	SubscribeChan(buffer int) (<-chan struct{}, func())
}

// WebSocketMessage is the envelope pushed to clients
type WebSocketMessage struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
}

type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// Hub fans change notifications out to connected WebSocket clients.
// Clients never receive state over the socket, only a prompt to re-fetch.
type Hub struct {
	feed   ChangeFeed
	buffer int
	logger *zap.SugaredLogger

	clients    map[*client]bool
	mu         sync.RWMutex
	register   chan *client
	unregister chan *client

	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
	started sync.Once
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// corsMiddleware already restricts browser origins
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// NewHub creates a hub bound to feed. Call Start before serving clients.
func NewHub(ctx context.Context, feed ChangeFeed, buffer int, logger *zap.SugaredLogger) *Hub {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if buffer <= 0 {
		buffer = 1
	}
	hubCtx, cancel := context.WithCancel(ctx)
	return &Hub{
		feed:       feed,
		buffer:     buffer,
		logger:     logger,
		clients:    make(map[*client]bool),
		register:   make(chan *client),
		unregister: make(chan *client),
		ctx:        hubCtx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
}

// Start runs the hub loop in a new goroutine. Only the first call has effect.
func (h *Hub) Start() {
	h.started.Do(func() {
		changes, unsubscribe := h.feed.SubscribeChan(h.buffer)
		go func() {
			defer close(h.done)
			defer unsubscribe()
			defer goroutine.Recover("websocket-hub", h.logger)
			h.run(changes)
		}()
	})
}

func (h *Hub) run(changes <-chan struct{}) {
	h.logger.Info("WebSocket hub started")
	for {
		select {
		case <-h.ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
			}
			h.clients = make(map[*client]bool)
			h.mu.Unlock()
			h.logger.Info("WebSocket hub stopped")
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Debugw("WebSocket client registered", "total_clients", total)

		case c := <-h.unregister:
			h.remove(c)

		case _, ok := <-changes:
			if !ok {
				changes = nil
				continue
			}
			h.broadcast(MessageStateChanged)
		}
	}
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
		h.logger.Debugw("WebSocket client unregistered", "total_clients", len(h.clients))
	}
}

func (h *Hub) broadcast(msgType string) {
	payload, err := json.Marshal(WebSocketMessage{Type: msgType, Timestamp: time.Now().UTC()})
	if err != nil {
		h.logger.Errorw("Failed to marshal WebSocket message", "type", msgType, "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		select {
		case c.send <- payload:
		default:
			// A full queue already holds a pending re-fetch prompt
		}
	}
}

// ClientCount returns the number of connected WebSocket clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Stop shuts the hub down and waits for its loop to exit
func (h *Hub) Stop() {
	h.cancel()
	h.started.Do(func() { close(h.done) })
	<-h.done
}

func (h *Hub) add(c *client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.ctx.Done():
		return false
	}
}

func (h *Hub) drop(c *client) {
	select {
	case h.unregister <- c:
	case <-h.ctx.Done():
	}
}

// readPump detects disconnects; clients are not expected to send anything
func (c *client) readPump() {
	defer func() {
		c.hub.drop(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Debugw("WebSocket unexpected close", "error", err)
			}
			return
		}
	}
}

// writePump forwards queued messages and keeps the connection alive with pings
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// serveWs upgrades the request and attaches the connection to hub
func serveWs(hub *Hub, logger *zap.SugaredLogger, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warnw("WebSocket upgrade failed", "error", err)
		return
	}

	c := &client{
		hub:  hub,
		conn: conn,
		send: make(chan []byte, sendChannelSize),
	}
	if !hub.add(c) {
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}
