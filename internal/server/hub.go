package server

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Alias1177/Correlator/internal/agent"
	"github.com/Alias1177/Correlator/internal/metrics"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 512

	sendBuffer = 256
	busBuffer  = 1024
)

// TypeConnection is the first message every client receives
const TypeConnection = "connection"

// FeedMessage is one event pushed to websocket clients
type FeedMessage struct {
	Type      string    `json:"type"`
	From      string    `json:"from,omitempty"`
	Data      any       `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

// Client is a middleman between the websocket connection and the hub
type Client struct {
	hub         *Hub
	conn        *websocket.Conn
	send        chan []byte
	id          string
	subject     string
	connectedAt time.Time
	logger      zerolog.Logger
}

// Hub maintains the set of active clients and broadcasts bus events to them
type Hub struct {
	bus        *agent.Bus
	upgrader   websocket.Upgrader
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	broadcast  chan []byte
	quit       chan struct{}
	closeOnce  sync.Once
	metrics    *metrics.Registry

	mu    sync.RWMutex
	count int

	logger zerolog.Logger
}

// NewHub creates a hub fed from every topic of bus
func NewHub(bus *agent.Bus, origins []string, m *metrics.Registry) *Hub {
	h := &Hub{
		bus:        bus,
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan []byte, busBuffer),
		quit:       make(chan struct{}),
		metrics:    m,
		logger:     log.With().Str("component", "websocket.hub").Logger(),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || slices.Contains(origins, "*") || slices.Contains(origins, origin)
		},
	}
	return h
}

// Run dispatches bus messages and client registrations until ctx ends or Close is called
func (h *Hub) Run(ctx context.Context) {
	var feed <-chan agent.Message
	if h.bus != nil {
		ch, cancel := h.bus.Subscribe(agent.TopicAll, busBuffer)
		defer cancel()
		feed = ch
	}

	for {
		select {
		case <-ctx.Done():
			h.Close()
			h.closeAll()
			return
		case <-h.quit:
			h.closeAll()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.count = len(h.clients)
			h.mu.Unlock()
			h.metrics.FeedClientsDelta(1)
			client.logger.Info().Int("total_clients", h.Clients()).Msg("Client registered")

			msg, _ := json.Marshal(FeedMessage{
				Type: TypeConnection,
				Data: map[string]string{
					"status":    "connected",
					"message":   "Connected to correlation engine feed",
					"client_id": client.id,
				},
				Timestamp: time.Now().UTC(),
			})
			select {
			case client.send <- msg:
			default:
				client.logger.Warn().Msg("Failed to send connection message - client buffer full")
			}

		case client := <-h.unregister:
			h.remove(client)

		case msg := <-feed:
			b, err := json.Marshal(FeedMessage{Type: msg.Topic, From: msg.From, Data: msg.Payload, Timestamp: msg.Timestamp})
			if err != nil {
				h.logger.Warn().Err(err).Str("topic", msg.Topic).Msg("Event is not encodable")
				continue
			}
			h.fanout(b)

		case b := <-h.broadcast:
			h.fanout(b)
		}
	}
}

// fanout sends to every client; clients whose buffer is full are dropped
func (h *Hub) fanout(b []byte) {
	h.mu.RLock()
	var slow []*Client
	for c := range h.clients {
		select {
		case c.send <- b:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()
	for _, c := range slow {
		c.logger.Warn().Msg("Client buffer full, disconnecting")
		h.remove(c)
	}
}

func (h *Hub) remove(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	close(c.send)
	h.count = len(h.clients)
	h.mu.Unlock()
	h.metrics.FeedClientsDelta(-1)
	c.logger.Info().Dur("connection_duration", time.Since(c.connectedAt)).Msg("Client unregistered")
}

func (h *Hub) closeAll() {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()
	for _, c := range clients {
		h.remove(c)
	}
	h.logger.Info().Msg("Hub shutting down")
}

// Broadcast queues a message for every client
func (h *Hub) Broadcast(msgType string, data any) error {
	b, err := json.Marshal(FeedMessage{Type: msgType, Data: data, Timestamp: time.Now().UTC()})
	if err != nil {
		return err
	}
	select {
	case h.broadcast <- b:
	case <-h.quit:
	}
	return nil
}

// Clients returns the number of connected clients
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.count
}

// Close disconnects all clients and stops Run
func (h *Hub) Close() {
	h.closeOnce.Do(func() { close(h.quit) })
}

// ServeWS upgrades the request and attaches the connection to the hub
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, subject string) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	id := uuid.New().String()
	c := &Client{
		hub:         h,
		conn:        conn,
		send:        make(chan []byte, sendBuffer),
		id:          id,
		subject:     subject,
		connectedAt: time.Now(),
		logger: h.logger.With().
			Str("component", "websocket.client").
			Str("client_id", id).
			Str("subject", subject).
			Logger(),
	}
	select {
	case h.register <- c:
	case <-h.quit:
		conn.Close()
		return
	}
	go c.WritePump()
	go c.ReadPump()
}

// ReadPump discards client messages and keeps the read deadline fresh
func (c *Client) ReadPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.quit:
		}
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { return c.conn.SetReadDeadline(time.Now().Add(pongWait)) })
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Warn().Err(err).Msg("Unexpected WebSocket close")
			}
			return
		}
	}
}

// WritePump sends queued messages and pings to the connection
func (c *Client) WritePump() {
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
				// the hub closed the channel
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.logger.Debug().Err(err).Msg("Error writing message to WebSocket")
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
