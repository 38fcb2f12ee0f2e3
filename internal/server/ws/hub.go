// Package ws streams committed ledger events to WebSocket clients.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"maps"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/easybet/internal/domain"
	"github.com/alanyoungcy/easybet/internal/events"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBufferSize = 256
	replayLimit    = 500
)

// client is one WebSocket connection. names is its event-name filter; an
// empty filter receives everything.
type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	mu    sync.RWMutex
	names map[domain.EventName]bool
}

// subscribeMsg changes a client's filter:
//
//	{"action":"subscribe","events":["bet_placed"]}
type subscribeMsg struct {
	Action string             `json:"action"`
	Events []domain.EventName `json:"events"`
}

type envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Hub bridges the ledger event channels on the SignalBus to connected
// clients.
type Hub struct {
	bus      domain.SignalBus
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*client]struct{}
	closed  bool
}

// Config controls the hub.
type Config struct {
	// AllowedOrigins restricts browser origins; empty allows any.
	AllowedOrigins []string
}

// NewHub creates a Hub reading from bus.
func NewHub(bus domain.SignalBus, cfg Config, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Hub{
		bus:     bus,
		logger:  logger.With(slog.String("component", "ws")),
		clients: make(map[*client]struct{}),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" || len(cfg.AllowedOrigins) == 0 {
				return true
			}
			for _, o := range cfg.AllowedOrigins {
				if o == "*" || strings.EqualFold(o, origin) {
					return true
				}
			}
			return false
		},
	}
	return h
}

// Run subscribes to every ledger channel and fans messages out until ctx is
// done.
func (h *Hub) Run(ctx context.Context) error {
	msgs, err := h.bus.Subscribe(ctx, events.ChannelPattern)
	if err != nil {
		return err
	}
	h.logger.InfoContext(ctx, "ws: subscribed", slog.String("pattern", events.ChannelPattern))

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return nil
		case data, ok := <-msgs:
			if !ok {
				h.closeAll()
				if ctx.Err() != nil {
					return nil
				}
				h.logger.WarnContext(ctx, "ws: subscription closed")
				return nil
			}
			h.fanout(data)
		}
	}
}

func (h *Hub) fanout(data []byte) {
	var head struct {
		Name domain.EventName `json:"name"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		h.logger.Warn("ws: dropping malformed event", slog.String("error", err.Error()))
		return
	}
	msg, err := json.Marshal(envelope{Type: "event", Payload: data})
	if err != nil {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if !c.wants(head.Name) {
			continue
		}
		select {
		case c.send <- msg:
		default:
			h.logger.Warn("ws: dropping message for slow client")
		}
	}
}

func (h *Hub) register(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	h.logger.Info("ws: client connected", slog.Int("total_clients", len(h.clients)))
	return true
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
		h.logger.Info("ws: client disconnected", slog.Int("total_clients", len(h.clients)))
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// HandleWS upgrades the request and registers the client. Query parameters:
// events=a,b sets the initial filter; from=<stream id> replays the durable
// stream after that id ("0" replays everything retained) before live events.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("ws: upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{
		hub:   h,
		conn:  conn,
		send:  make(chan []byte, sendBufferSize),
		names: make(map[domain.EventName]bool),
	}
	for n := range strings.SplitSeq(r.URL.Query().Get("events"), ",") {
		if n = strings.TrimSpace(n); n != "" {
			c.names[domain.EventName(n)] = true
		}
	}

	if !h.register(c) {
		_ = conn.Close()
		return
	}
	if from := r.URL.Query().Get("from"); from != "" {
		h.replay(r.Context(), c, from)
	}

	go c.writePump()
	go c.readPump()
}

// replay queues retained stream entries after from. Entries that do not fit
// the send buffer are skipped; the client can page through GET /api/events.
func (h *Hub) replay(ctx context.Context, c *client, from string) {
	msgs, err := h.bus.StreamRead(ctx, events.Stream, from, replayLimit)
	if err != nil {
		h.logger.Warn("ws: replay failed", slog.String("from", from), slog.String("error", err.Error()))
		return
	}
	for _, m := range msgs {
		var head struct {
			Name domain.EventName `json:"name"`
		}
		if json.Unmarshal(m.Payload, &head) != nil || !c.wants(head.Name) {
			continue
		}
		data, err := json.Marshal(envelope{Type: "replay", Payload: m.Payload})
		if err != nil {
			continue
		}
		if !h.deliver(c, data) {
			return
		}
	}
}

// deliver queues data for c unless c is gone or its buffer is full.
func (h *Hub) deliver(c *client, data []byte) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, ok := h.clients[c]; !ok {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *client) wants(name domain.EventName) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.names) == 0 || c.names[name]
}

func (c *client) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("ws: unexpected close", slog.String("error", err.Error()))
			}
			return
		}
		var sub subscribeMsg
		if json.Unmarshal(message, &sub) != nil {
			continue
		}
		ack, err := json.Marshal(envelope{Type: "subscribed", Payload: c.apply(sub)})
		if err == nil {
			c.hub.deliver(c, ack)
		}
	}
}

// apply updates the filter and returns it as {"events":[...]}.
func (c *client) apply(msg subscribeMsg) json.RawMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch msg.Action {
	case "subscribe":
		for _, n := range msg.Events {
			c.names[n] = true
		}
	case "unsubscribe":
		for _, n := range msg.Events {
			delete(c.names, n)
		}
	}
	names := slices.Sorted(maps.Keys(c.names))
	if names == nil {
		names = []domain.EventName{}
	}
	data, _ := json.Marshal(map[string][]domain.EventName{"events": names})
	return data
}

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
