package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/purelink-bridge/internal/auth"
	"github.com/nerrad567/purelink-bridge/internal/infrastructure/config"
	"github.com/nerrad567/purelink-bridge/internal/infrastructure/logging"
	"github.com/nerrad567/purelink-bridge/internal/purelink"
)

// Message types exchanged with WebSocket clients.
const (
	WSTypeSubscribe   = "subscribe"
	WSTypeUnsubscribe = "unsubscribe"
	WSTypePing        = "ping"
	WSTypePong        = "pong"
	WSTypeEvent       = "event"
	WSTypeResponse    = "response"
	WSTypeError       = "error"
)

// EventChannelUpdated carries a ChannelEvent each time a host channel changes.
const EventChannelUpdated = "channel.updated"

// wsSendBufferSize is the number of outbound frames queued per client before
// events are dropped for it.
const wsSendBufferSize = 64

// subscribable lists the event types a client may subscribe to, with the
// permission each needs.
var subscribable = map[string]auth.Permission{
	EventChannelUpdated: auth.PermChannelRead,
}

// WSMessage is the envelope for every frame in both directions.
type WSMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	EventType string `json:"event_type,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// WSSubscribePayload is the payload of subscribe and unsubscribe frames.
type WSSubscribePayload struct {
	Channels []string `json:"channels"`
}

// ChannelEvent is the payload of a channel.updated event.
type ChannelEvent struct {
	Unit   int    `json:"unit"`
	Name   string `json:"name"`
	NValue int    `json:"n_value"`
	SValue string `json:"s_value"`
}

// frame marshals an envelope stamped with the current time.
func frame(msgType, id, eventType string, payload any) ([]byte, error) {
	return json.Marshal(WSMessage{
		Type:      msgType,
		ID:        id,
		EventType: eventType,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	})
}

// ─── Hub ───────────────────────────────────────────────────────────

// Hub tracks WebSocket clients and fans channel updates out to them. It
// implements purelink.UpdateSink so the synchronizer can feed it directly.
type Hub struct {
	cfg     config.WebSocketConfig
	logger  *logging.Logger
	clients map[*WSClient]struct{}
	mu      sync.RWMutex
}

// NewHub creates an empty hub.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger) *Hub {
	return &Hub{
		cfg:     cfg,
		logger:  logger,
		clients: make(map[*WSClient]struct{}),
	}
}

// Run blocks until ctx is cancelled, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	h.closeAll()
}

// Register adds a client.
func (h *Hub) Register(client *WSClient) {
	h.mu.Lock()
	h.clients[client] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("websocket client connected", "subject", client.subject, "clients", n)
}

// Unregister removes a client. Calling it twice is harmless: the send
// channel is closed only by the call that removed the client.
func (h *Hub) Unregister(client *WSClient) {
	h.mu.Lock()
	_, present := h.clients[client]
	delete(h.clients, client)
	n := len(h.clients)
	h.mu.Unlock()

	if !present {
		return
	}
	close(client.send)
	h.logger.Debug("websocket client disconnected", "subject", client.subject, "clients", n)
}

// Broadcast sends an event to every client subscribed to eventType.
func (h *Hub) Broadcast(eventType string, payload any) {
	data, err := frame(WSTypeEvent, "", eventType, payload)
	if err != nil {
		h.logger.Error("failed to marshal websocket event", "event", eventType, "error", err)
		return
	}

	// Snapshot under the read lock; per-client sends happen without it.
	h.mu.RLock()
	targets := make([]*WSClient, 0, len(h.clients))
	for c := range h.clients {
		if c.isSubscribed(eventType) {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range targets {
		c.trySend(data)
	}
	if len(targets) > 0 {
		h.logger.Debug("websocket event sent", "event", eventType, "recipients", len(targets))
	}
}

// UpdateChannel publishes a channel.updated event. Slow clients miss events
// instead of blocking the synchronizer, so it always returns nil.
func (h *Hub) UpdateChannel(_ context.Context, ch purelink.Channel, nValue int, sValue string) error {
	h.Broadcast(EventChannelUpdated, ChannelEvent{
		Unit:   int(ch),
		Name:   ch.String(),
		NValue: nValue,
		SValue: sValue,
	})
	return nil
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
		if c.conn != nil {
			c.conn.Close()
		}
	}
}

// ─── Client ────────────────────────────────────────────────────────

// WSClient is one upgraded connection. Its identity comes from the
// redeemed ticket.
type WSClient struct {
	hub           *Hub
	conn          *websocket.Conn
	send          chan []byte
	subscriptions map[string]struct{}
	mu            sync.RWMutex
	subject       string
	role          auth.Role
}

// wsTimings holds the keepalive durations derived from config.
type wsTimings struct {
	ping     time.Duration
	pongWait time.Duration
	maxSize  int64
}

func newWSTimings(cfg config.WebSocketConfig) wsTimings {
	return wsTimings{
		ping:     time.Duration(cfg.PingInterval) * time.Second,
		pongWait: time.Duration(cfg.PongTimeout) * time.Second,
		maxSize:  int64(cfg.MaxMessageSize),
	}
}

// readDeadline is the point by which the next frame or pong must arrive.
func (t wsTimings) readDeadline() time.Time {
	return time.Now().Add(t.ping + t.pongWait)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origins are enforced by the CORS middleware and the ticket.
	CheckOrigin: func(*http.Request) bool { return true },
}

// handleWebSocket redeems the ticket query parameter and upgrades the
// connection. Tickets come from POST /auth/ws-ticket.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ticket := r.URL.Query().Get("ticket")
	if ticket == "" {
		writeUnauthorized(w, "ticket query parameter is required")
		return
	}
	entry, ok := s.tickets.redeem(ticket)
	if !ok {
		writeUnauthorized(w, "invalid or expired ticket")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "subject", entry.subject, "error", err)
		return
	}

	client := &WSClient{
		hub:           s.hub,
		conn:          conn,
		send:          make(chan []byte, wsSendBufferSize),
		subscriptions: make(map[string]struct{}),
		subject:       entry.subject,
		role:          entry.role,
	}
	s.hub.Register(client)

	timings := newWSTimings(s.wsCfg)
	go client.writePump(timings)
	go client.readPump(timings)
}

func (c *WSClient) readPump(t wsTimings) {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(t.maxSize)
	//nolint:errcheck // a failed deadline surfaces as a read error
	c.conn.SetReadDeadline(t.readDeadline())
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(t.readDeadline())
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read error", "subject", c.subject, "error", err)
			}
			return
		}
		//nolint:errcheck // a failed deadline surfaces as a read error
		c.conn.SetReadDeadline(t.readDeadline())
		c.handleMessage(data)
	}
}

func (c *WSClient) writePump(t wsTimings) {
	ticker := time.NewTicker(t.ping)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	write := func(kind int, data []byte) error {
		//nolint:errcheck // a failed deadline surfaces as a write error
		c.conn.SetWriteDeadline(time.Now().Add(t.pongWait))
		return c.conn.WriteMessage(kind, data)
	}

	for {
		select {
		case data, ok := <-c.send:
			if !ok {
				//nolint:errcheck // peer may already be gone
				write(websocket.CloseMessage, nil)
				return
			}
			if err := write(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			if err := write(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *WSClient) handleMessage(data []byte) {
	var msg WSMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.reply(WSTypeError, "", errorBody("invalid JSON message"))
		return
	}

	switch msg.Type {
	case WSTypeSubscribe:
		c.subscribe(msg)
	case WSTypeUnsubscribe:
		c.unsubscribe(msg)
	case WSTypePing:
		c.reply(WSTypePong, msg.ID, nil)
	default:
		c.reply(WSTypeError, msg.ID, errorBody("unknown message type: "+msg.Type))
	}
}

// subscriptionList re-reads the loosely typed payload as a channel list.
func subscriptionList(msg WSMessage) ([]string, bool) {
	raw, err := json.Marshal(msg.Payload)
	if err != nil {
		return nil, false
	}
	var sub WSSubscribePayload
	if err := json.Unmarshal(raw, &sub); err != nil || len(sub.Channels) == 0 {
		return nil, false
	}
	return sub.Channels, true
}

func (c *WSClient) subscribe(msg WSMessage) {
	events, ok := subscriptionList(msg)
	if !ok {
		c.reply(WSTypeError, msg.ID, errorBody("invalid subscribe payload"))
		return
	}
	for _, ev := range events {
		perm, known := subscribable[ev]
		if !known {
			c.reply(WSTypeError, msg.ID, errorBody("unknown event type: "+ev))
			return
		}
		if !auth.HasPermission(c.role, perm) {
			c.reply(WSTypeError, msg.ID, errorBody(auth.ErrForbidden.Error()))
			return
		}
	}

	c.mu.Lock()
	for _, ev := range events {
		c.subscriptions[ev] = struct{}{}
	}
	c.mu.Unlock()

	c.hub.logger.Debug("websocket client subscribed", "subject", c.subject, "events", events)
	c.reply(WSTypeResponse, msg.ID, map[string]any{"subscribed": events})
}

func (c *WSClient) unsubscribe(msg WSMessage) {
	events, ok := subscriptionList(msg)
	if !ok {
		c.reply(WSTypeError, msg.ID, errorBody("invalid unsubscribe payload"))
		return
	}

	c.mu.Lock()
	for _, ev := range events {
		delete(c.subscriptions, ev)
	}
	c.mu.Unlock()

	c.reply(WSTypeResponse, msg.ID, map[string]any{"unsubscribed": events})
}

func (c *WSClient) isSubscribed(eventType string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.subscriptions[eventType]
	return ok
}

// trySend queues data without blocking. A full buffer drops the frame, and
// a send racing Unregister's close is absorbed.
func (c *WSClient) trySend(data []byte) {
	defer func() {
		recover() //nolint:errcheck // send on a channel closed by Unregister
	}()
	select {
	case c.send <- data:
	default:
	}
}

func (c *WSClient) reply(msgType, id string, payload any) {
	data, err := frame(msgType, id, "", payload)
	if err != nil {
		return
	}
	c.trySend(data)
}

func errorBody(message string) map[string]string {
	return map[string]string{"message": message}
}
