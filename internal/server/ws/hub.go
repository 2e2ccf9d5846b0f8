// Package ws streams engine events to websocket clients.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/alanyoungcy/creatormarket/internal/domain"
)

const (
	// writeWait is the maximum time to wait for a write to complete.
	writeWait = 10 * time.Second

	// pongWait is the maximum time to wait for a pong from the client.
	pongWait = 60 * time.Second

	// pingPeriod sends pings at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// maxMessageSize is the maximum size of an incoming message.
	maxMessageSize = 4096

	// sendBufferSize is the channel buffer for outgoing messages per client.
	sendBufferSize = 256

	// busPattern matches every per-kind event channel on the signal bus.
	busPattern = "events:*"
)

// Frame encodings selected with ?format= on connect.
const (
	FormatJSON  = "json"
	FormatProto = "proto"
)

// Config configures a Hub.
type Config struct {
	// Bus, when set, is the event source: the hub subscribes to every
	// per-kind channel so all replicas see every event. When nil the hub
	// must be registered as an event sink instead.
	Bus domain.SignalBus
	// Status returns extra fields for the status frame sent on connect.
	Status func() map[string]any
	// AllowedOrigins restricts browser origins; empty allows all.
	AllowedOrigins []string
	// OnConnections is called with the client count whenever it changes.
	OnConnections func(n int)
	StartedAt     time.Time
}

// client represents a single WebSocket connection.
type client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	format string

	mu   sync.RWMutex
	subs map[string]bool // kind patterns
}

// subscribeMsg is the JSON message a client sends to change its filters,
// e.g. {"action":"subscribe","kinds":["prediction.*"]}.
type subscribeMsg struct {
	Action string   `json:"action"`
	Kinds  []string `json:"kinds"`
}

// frame is the envelope of every message sent to clients.
type frame struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// broadcastMsg carries one event with its encodings. The proto encoding is
// built at most once, on first use.
type broadcastMsg struct {
	kind  string
	json  []byte
	value map[string]any
	proto []byte
}

// Hub manages connected WebSocket clients and broadcasts engine events to
// those whose filters match the event kind.
type Hub struct {
	clients    map[*client]bool
	broadcast  chan *broadcastMsg
	register   chan *client
	unregister chan *client
	cfg        Config
	upgrader   websocket.Upgrader
	mu         sync.RWMutex
	logger     *slog.Logger
}

var _ domain.EventSink = (*Hub)(nil)

// NewHub creates a new WebSocket hub.
func NewHub(cfg Config, logger *slog.Logger) *Hub {
	if cfg.StartedAt.IsZero() {
		cfg.StartedAt = time.Now().UTC()
	}
	h := &Hub{
		clients:    make(map[*client]bool),
		broadcast:  make(chan *broadcastMsg, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		cfg:        cfg,
		logger:     logger.With(slog.String("component", "ws_hub")),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(h.cfg.AllowedOrigins) == 0 {
		return true
	}
	for _, o := range h.cfg.AllowedOrigins {
		if o == "*" || strings.EqualFold(o, origin) {
			return true
		}
	}
	return false
}

// Name implements domain.EventSink.
func (h *Hub) Name() string { return "ws_hub" }

// Handle implements domain.EventSink. It never blocks: when the broadcast
// queue is full the event is dropped for websocket clients only.
func (h *Hub) Handle(_ context.Context, ev domain.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	h.enqueue(data)
	return nil
}

func (h *Hub) enqueue(data []byte) {
	msg, err := newBroadcast(data)
	if err != nil {
		h.logger.Warn("ws: discarding malformed event", slog.String("error", err.Error()))
		return
	}
	select {
	case h.broadcast <- msg:
	default:
		h.logger.Warn("ws: broadcast queue full, dropping event", slog.String("kind", msg.kind))
	}
}

// newBroadcast wraps an encoded domain.Event into an event frame.
func newBroadcast(eventJSON []byte) (*broadcastMsg, error) {
	var value map[string]any
	if err := json.Unmarshal(eventJSON, &value); err != nil {
		return nil, err
	}
	kind, _ := value["kind"].(string)
	framed, err := json.Marshal(frame{Type: "event", Payload: json.RawMessage(eventJSON)})
	if err != nil {
		return nil, err
	}
	return &broadcastMsg{kind: kind, json: framed, value: value}, nil
}

// Run starts the hub's main event loop and blocks until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) error {
	if h.cfg.Bus != nil {
		go h.subscribeBus(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			h.connectionsChanged()
			return ctx.Err()

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()
			h.connectionsChanged()
			h.logger.Info("ws: client connected",
				slog.String("format", c.format),
				slog.Int("total_clients", h.clientCount()),
			)

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
			h.connectionsChanged()
			h.logger.Info("ws: client disconnected",
				slog.Int("total_clients", h.clientCount()),
			)

		case msg := <-h.broadcast:
			h.mu.RLock()
			for c := range h.clients {
				if !c.isSubscribed(msg.kind) {
					continue
				}
				data := h.encode(c.format, msg)
				if data == nil {
					continue
				}
				select {
				case c.send <- data:
				default:
					// Client's send buffer is full; drop the message.
					h.logger.Warn("ws: dropping message for slow client")
				}
			}
			h.mu.RUnlock()
		}
	}
}

// subscribeBus forwards every event published on the signal bus.
func (h *Hub) subscribeBus(ctx context.Context) {
	msgCh, err := h.cfg.Bus.Subscribe(ctx, busPattern)
	if err != nil {
		h.logger.Error("ws: failed to subscribe to event bus",
			slog.String("pattern", busPattern),
			slog.String("error", err.Error()),
		)
		return
	}
	h.logger.Info("ws: subscribed to event bus", slog.String("pattern", busPattern))

	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-msgCh:
			if !ok {
				h.logger.Warn("ws: event bus subscription closed")
				return
			}
			h.enqueue(data)
		}
	}
}

func (h *Hub) encode(format string, msg *broadcastMsg) []byte {
	if format != FormatProto {
		return msg.json
	}
	if msg.proto == nil {
		b, err := protoFrame("event", msg.value)
		if err != nil {
			h.logger.Warn("ws: proto encode failed", slog.String("error", err.Error()))
			return nil
		}
		msg.proto = b
	}
	return msg.proto
}

// protoFrame encodes a frame as a google.protobuf.Struct.
func protoFrame(typ string, payload map[string]any) ([]byte, error) {
	s, err := structpb.NewStruct(map[string]any{"type": typ, "payload": payload})
	if err != nil {
		return nil, err
	}
	return proto.Marshal(s)
}

// HandleWS upgrades an HTTP request to a WebSocket connection and registers
// the client with the hub.
// GET /ws?format=json|proto&kinds=prediction.*,exchange.*
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	format := FormatJSON
	if r.URL.Query().Get("format") == FormatProto {
		format = FormatProto
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("ws: upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, sendBufferSize),
		format: format,
		subs:   make(map[string]bool),
	}
	if kinds := r.URL.Query().Get("kinds"); kinds != "" {
		for _, k := range strings.Split(kinds, ",") {
			if k = strings.TrimSpace(k); k != "" {
				c.subs[k] = true
			}
		}
	} else {
		c.subs["*"] = true
	}

	h.register <- c
	c.sendInitialStatus()

	go c.writePump()
	go c.readPump()
}

// clientCount returns the number of currently connected clients.
func (h *Hub) clientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) connectionsChanged() {
	if h.cfg.OnConnections != nil {
		h.cfg.OnConnections(h.clientCount())
	}
}

// readPump reads subscription changes from the client.
func (c *client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("ws: unexpected close error",
					slog.String("error", err.Error()),
				)
			}
			return
		}

		var sub subscribeMsg
		if json.Unmarshal(message, &sub) == nil && sub.Action != "" {
			c.handleSubscription(sub)
		}
	}
}

// handleSubscription processes subscribe/unsubscribe requests from the client.
func (c *client) handleSubscription(msg subscribeMsg) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch msg.Action {
	case "subscribe":
		for _, k := range msg.Kinds {
			c.subs[k] = true
		}
	case "unsubscribe":
		for _, k := range msg.Kinds {
			delete(c.subs, k)
		}
	}
}

// sendInitialStatus lets clients mark the connection healthy before any
// event arrives.
func (c *client) sendInitialStatus() {
	payload := map[string]any{
		"uptime_seconds": max(0, int64(time.Since(c.hub.cfg.StartedAt).Seconds())),
	}
	if c.hub.cfg.Status != nil {
		for k, v := range c.hub.cfg.Status() {
			payload[k] = v
		}
	}

	var (
		msg []byte
		err error
	)
	if c.format == FormatProto {
		msg, err = protoFrame("status", payload)
	} else {
		msg, err = json.Marshal(frame{Type: "status", Payload: payload})
	}
	if err != nil {
		c.hub.logger.Warn("ws: status encode failed", slog.String("error", err.Error()))
		return
	}

	select {
	case c.send <- msg:
	default:
	}
}

// isSubscribed reports whether kind matches one of the client's patterns.
// "*" matches everything and a trailing "*" matches by prefix, so
// "prediction.*" matches "prediction.disputed".
func (c *client) isSubscribed(kind string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.subs[kind] {
		return true
	}
	for sub := range c.subs {
		if prefix, ok := strings.CutSuffix(sub, "*"); ok && strings.HasPrefix(kind, prefix) {
			return true
		}
	}
	return false
}

// writePump pumps messages from the hub to the WebSocket connection and
// sends periodic pings.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	msgType := websocket.TextMessage
	if c.format == FormatProto {
		msgType = websocket.BinaryMessage
	}

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(msgType, message); err != nil {
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
