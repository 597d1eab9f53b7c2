package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/auralis/prometheus-core/internal/metrics"
	"github.com/auralis/prometheus-core/internal/telemetry"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 64 * 1024

	// Outbound frames buffered per client before frames are dropped
	sendBufferSize = 256
)

// WebSocket message types
const (
	MessageTypeSubscribe    = "subscribe"
	MessageTypeUnsubscribe  = "unsubscribe"
	MessageTypeSubscribed   = "subscribed"
	MessageTypeUnsubscribed = "unsubscribed"
	MessageTypeSystemState  = "system_state"
	MessageTypeGetState     = "get_state"
	MessageTypePing         = "ping"
	MessageTypePong         = "pong"
	MessageTypeError        = "error"
)

// defaultOrigins are allowed when no origins are configured.
var defaultOrigins = []string{"http://localhost:3000", "http://localhost:5173"}

// WSRequest is a message sent by a client.
type WSRequest struct {
	Type   string   `json:"type"`
	Topics []string `json:"topics,omitempty"`
}

// WSMessage is a frame sent to a client. Topic frames carry Topic and Data;
// control frames carry Type.
type WSMessage struct {
	Type      string      `json:"type,omitempty"`
	Topic     string      `json:"topic,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Topics    []string    `json:"topics,omitempty"`
	Error     string      `json:"error,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// newUpgrader builds an upgrader that accepts the given origins. "*" allows
// any origin; requests without an Origin header come from non-browser
// clients and are allowed.
func newUpgrader(origins []string) *websocket.Upgrader {
	if len(origins) == 0 {
		origins = defaultOrigins
	}
	allowAll := false
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		if o == "*" {
			allowAll = true
		}
		allowed[strings.ToLower(strings.TrimRight(o, "/"))] = true
	}

	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" || allowAll {
				return true
			}
			u, err := url.Parse(origin)
			if err != nil || u.Host == "" {
				return false
			}
			return allowed[strings.ToLower(u.Scheme+"://"+u.Host)]
		},
	}
}

// ─── Hub ──────────────────────────────────────────────────────────────────────

// wsHub fans telemetry events out to subscribed clients.
type wsHub struct {
	core     *telemetry.Core
	upgrader *websocket.Upgrader
	logger   *zap.Logger

	mu      sync.RWMutex
	clients map[string]*wsClient
	closed  bool
}

func newHub(core *telemetry.Core, origins []string, logger *zap.Logger) *wsHub {
	return &wsHub{
		core:     core,
		upgrader: newUpgrader(origins),
		logger:   logger,
		clients:  make(map[string]*wsClient),
	}
}

// serveWS upgrades the request, sends the system state and pumps messages
// until the client goes away.
func (h *wsHub) serveWS(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	closed := h.closed
	h.mu.RUnlock()
	if closed {
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "server is shutting down"})
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("WebSocket upgrade failed", zap.Error(err))
		return
	}

	c := &wsClient{
		id:     uuid.NewString(),
		conn:   conn,
		hub:    h,
		send:   make(chan []byte, sendBufferSize),
		topics: make(map[string]bool),
		done:   make(chan struct{}),
	}
	c.sendMessage(WSMessage{Type: MessageTypeSystemState, Data: h.core.SystemState()})

	if !h.register(c) {
		conn.Close()
		return
	}
	h.logger.Info("WebSocket client connected", zap.String("client_id", c.id), zap.String("remote", r.RemoteAddr))

	go c.writePump()
	c.readPump()
}

func (h *wsHub) register(c *wsClient) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c.id] = c
	metrics.WebSocketClients.Inc()
	return true
}

func (h *wsHub) unregister(c *wsClient) {
	h.mu.Lock()
	if _, ok := h.clients[c.id]; ok {
		delete(h.clients, c.id)
		metrics.WebSocketClients.Dec()
	}
	h.mu.Unlock()
	c.close()
}

// publish is the telemetry observer. It runs on the publishing goroutine
// and never blocks: a client whose buffer is full loses the frame.
func (h *wsHub) publish(ev telemetry.Event) {
	h.mu.RLock()
	targets := make([]*wsClient, 0, len(h.clients))
	for _, c := range h.clients {
		if c.subscribed(ev.Topic) {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	if len(targets) == 0 {
		return
	}

	data, err := json.Marshal(WSMessage{Topic: ev.Topic, Data: ev.Payload, Timestamp: time.Now()})
	if err != nil {
		h.logger.Error("failed to encode WebSocket frame", zap.String("topic", ev.Topic), zap.Error(err))
		return
	}
	for _, c := range targets {
		c.enqueue(data)
	}
}

// close disconnects every client and refuses new ones.
func (h *wsHub) close() {
	h.mu.Lock()
	h.closed = true
	clients := make([]*wsClient, 0, len(h.clients))
	for id, c := range h.clients {
		clients = append(clients, c)
		delete(h.clients, id)
		metrics.WebSocketClients.Dec()
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.close()
	}
}

// clientCount returns the number of connected clients.
func (h *wsHub) clientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ─── Client ───────────────────────────────────────────────────────────────────

// wsClient is one WebSocket connection.
type wsClient struct {
	id   string
	conn *websocket.Conn
	hub  *wsHub

	// Buffered channel of outbound frames
	send chan []byte

	mu     sync.RWMutex
	topics map[string]bool

	done      chan struct{}
	closeOnce sync.Once
}

func (c *wsClient) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

func (c *wsClient) subscribed(topic string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.topics[topic]
}

// enqueue buffers a frame, dropping it when the client is too slow.
func (c *wsClient) enqueue(data []byte) {
	select {
	case <-c.done:
		return
	default:
	}
	select {
	case c.send <- data:
	default:
		metrics.WebSocketDroppedFrames.Inc()
		c.hub.logger.Debug("dropping frame for slow WebSocket client", zap.String("client_id", c.id))
	}
}

func (c *wsClient) sendMessage(msg WSMessage) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	data, err := json.Marshal(msg)
	if err != nil {
		c.hub.logger.Error("failed to encode WebSocket message", zap.String("type", msg.Type), zap.Error(err))
		return
	}
	c.enqueue(data)
}

func (c *wsClient) sendError(format string, args ...interface{}) {
	c.sendMessage(WSMessage{Type: MessageTypeError, Error: fmt.Sprintf(format, args...)})
}

// readPump reads client messages until the connection fails or the hub
// closes.
func (c *wsClient) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
		c.hub.logger.Info("WebSocket client disconnected", zap.String("client_id", c.id))
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.hub.logger.Warn("WebSocket read error", zap.String("client_id", c.id), zap.Error(err))
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		c.handleMessage(message)
	}
}

// writePump writes queued frames and pings until the client closes.
func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server closing"))
			return

		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.close()
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}
		}
	}
}

// handleMessage applies one client message.
func (c *wsClient) handleMessage(raw []byte) {
	var req WSRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		c.sendError("invalid message: %v", err)
		return
	}

	switch req.Type {
	case MessageTypeSubscribe:
		unknown := c.updateTopics(req.Topics, true)
		c.sendMessage(WSMessage{Type: MessageTypeSubscribed, Topics: c.topicList()})
		if len(unknown) > 0 {
			c.sendError("unknown topics: %s", strings.Join(unknown, ", "))
		}
	case MessageTypeUnsubscribe:
		c.updateTopics(req.Topics, false)
		c.sendMessage(WSMessage{Type: MessageTypeUnsubscribed, Topics: c.topicList()})
	case MessageTypeGetState:
		c.sendMessage(WSMessage{Type: MessageTypeSystemState, Data: c.hub.core.SystemState()})
	case MessageTypePing:
		c.sendMessage(WSMessage{Type: MessageTypePong})
	default:
		c.sendError("unknown message type: %q", req.Type)
	}
}

// updateTopics adds or removes topics and returns the names that are not
// telemetry topics.
func (c *wsClient) updateTopics(topics []string, subscribe bool) []string {
	var unknown []string
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range topics {
		if !isTopic(t) {
			unknown = append(unknown, t)
			continue
		}
		if subscribe {
			c.topics[t] = true
		} else {
			delete(c.topics, t)
		}
	}
	return unknown
}

func (c *wsClient) topicList() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	list := make([]string, 0, len(c.topics))
	for t := range c.topics {
		list = append(list, t)
	}
	sort.Strings(list)
	return list
}

func isTopic(name string) bool {
	for _, t := range telemetry.Topics {
		if t == name {
			return true
		}
	}
	return false
}
