package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/freesleep-core/internal/device"
	"github.com/nerrad567/freesleep-core/internal/infrastructure/config"
	"github.com/nerrad567/freesleep-core/internal/infrastructure/logging"
)

// WebSocket constants.
const (
	WSTypeSubscribe   = "subscribe"
	WSTypeUnsubscribe = "unsubscribe"
	WSTypePing        = "ping"
	WSTypePong        = "pong"
	WSTypeEvent       = "event"
	WSTypeResponse    = "response"
	WSTypeError       = "error"

	// wsSendBufferSize is the per-client outbound message buffer size.
	wsSendBufferSize = 256
)

// WSMessage represents a message sent to/from a WebSocket client.
type WSMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	EventType string `json:"event_type,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// WSSubscribePayload is the payload for subscribe/unsubscribe messages.
// Channels are category names; an empty list means every category.
type WSSubscribePayload struct {
	Channels []string `json:"channels"`
}

// CategoryEvent is the payload of a category change event.
type CategoryEvent struct {
	PodID     string            `json:"pod_id"`
	Category  device.Category   `json:"category"`
	Value     any               `json:"value"`
	Freshness *device.Freshness `json:"freshness,omitempty"`
	Available bool              `json:"available"`
}

// Hub manages WebSocket connections and broadcasts events.
type Hub struct {
	cfg     config.WebSocketConfig
	logger  *logging.Logger
	clients map[*WSClient]struct{}
	mu      sync.RWMutex
}

// WSClient represents a connected WebSocket client.
type WSClient struct {
	hub           *Hub
	conn          *websocket.Conn
	send          chan []byte
	subscriptions map[string]struct{}
	mu            sync.RWMutex
	subject       string // token subject from the ticket, empty when auth is off
	onSubscribe   func(c *WSClient, channels []string)
}

// upgrader configures the WebSocket upgrader.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		// Origin checking is handled by CORS middleware
		return true
	},
}

// NewHub creates a new WebSocket hub.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger) *Hub {
	return &Hub{
		cfg:     cfg,
		logger:  logger,
		clients: make(map[*WSClient]struct{}),
	}
}

// Run blocks until the context is cancelled, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	h.closeAll()
}

// Register adds a client to the hub.
func (h *Hub) Register(client *WSClient) {
	h.mu.Lock()
	h.clients[client] = struct{}{}
	h.mu.Unlock()
	h.logger.Debug("websocket client connected", "clients", h.ClientCount())
}

// Unregister removes a client from the hub.
// Only the goroutine that removes the client from the map closes the send
// channel, so shutdown and disconnect never double-close.
func (h *Hub) Unregister(client *WSClient) {
	h.mu.Lock()
	_, existed := h.clients[client]
	delete(h.clients, client)
	h.mu.Unlock()

	if existed {
		close(client.send)
	}
	h.logger.Debug("websocket client disconnected", "clients", h.ClientCount())
}

// Broadcast sends an event to all clients subscribed to the given channel.
// The hub lock is released before per-client subscription checks so hub and
// client locks are never held together.
func (h *Hub) Broadcast(channel string, payload any) {
	msg := WSMessage{
		Type:      WSTypeEvent,
		EventType: channel,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	}

	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("failed to marshal broadcast message", "error", err)
		return
	}

	h.mu.RLock()
	clients := make([]*WSClient, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	sentCount := 0
	for _, client := range clients {
		if client.isSubscribed(channel) {
			client.trySend(data)
			sentCount++
		}
	}
	if sentCount > 0 {
		h.logger.Debug("broadcast sent", "channel", channel, "recipients", sentCount)
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// closeAll disconnects all clients and closes their send channels
// so writePump goroutines can exit cleanly.
func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		close(client.send)
		if client.conn != nil {
			client.conn.Close()
		}
		delete(h.clients, client)
	}
}

// relayChanges forwards cache change signals to WebSocket clients until ctx
// is cancelled. Each signal is turned into an event carrying the category's
// current value.
func (s *Server) relayChanges(ctx context.Context) {
	sub := s.state.Subscribe()
	defer sub.Close()

	s.logger.Debug("relaying state changes to websocket clients")
	for {
		select {
		case <-ctx.Done():
			return
		case sig, ok := <-sub.C():
			if !ok {
				return
			}
			event, err := s.categoryEvent(s.state.Snapshot(), sig.Category)
			if err != nil {
				s.logger.Warn("skipping change signal", "category", sig.Category, "error", err)
				continue
			}
			s.hub.Broadcast(string(sig.Category), event)
		}
	}
}

// categoryEvent builds the event payload for one category.
func (s *Server) categoryEvent(snap device.Snapshot, category device.Category) (CategoryEvent, error) {
	value, err := snap.Category(category)
	if err != nil {
		return CategoryEvent{}, err
	}
	event := CategoryEvent{
		PodID:     s.podID,
		Category:  category,
		Value:     value,
		Available: snap.Available,
	}
	if category != device.CategoryAvailability {
		event.Freshness = snap.Freshness(category)
	}
	return event, nil
}

// sendCurrent sends the current value of each channel to one client so a
// new subscriber does not wait for the next change.
func (s *Server) sendCurrent(c *WSClient, channels []string) {
	snap := s.state.Snapshot()
	for _, ch := range channels {
		event, err := s.categoryEvent(snap, device.Category(ch))
		if err != nil {
			continue
		}
		c.sendEvent(ch, event)
	}
}

// allChannels lists every category a client can subscribe to.
func allChannels() []string {
	out := make([]string, 0, len(device.Categories)+1)
	for _, c := range device.Categories {
		out = append(out, string(c))
	}
	return append(out, string(device.CategoryAvailability))
}

// parseChannels validates category names. An empty list selects every
// category.
func parseChannels(names []string) ([]string, error) {
	if len(names) == 0 {
		return allChannels(), nil
	}
	out := make([]string, 0, len(names))
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		c, err := device.ParseCategory(name)
		if err != nil {
			return nil, err
		}
		out = append(out, string(c))
	}
	if len(out) == 0 {
		return allChannels(), nil
	}
	return out, nil
}

// handleWebSocket upgrades the HTTP connection to a WebSocket connection.
//
// Query parameters:
//   - ticket: single-use ticket from POST /auth/ws-ticket (required when auth is on)
//   - categories: comma-separated initial subscription (default: all)
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	var subject string
	if s.authEnabled() {
		ticket := r.URL.Query().Get("ticket")
		if ticket == "" {
			writeUnauthorized(w, "ticket query parameter is required")
			return
		}
		entry, ok := s.tickets.consume(ticket)
		if !ok {
			writeUnauthorized(w, "invalid or expired ticket")
			return
		}
		subject = entry.subject
	}

	var names []string
	if raw := r.URL.Query().Get("categories"); raw != "" {
		names = strings.Split(raw, ",")
	}
	channels, err := parseChannels(names)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	client := &WSClient{
		hub:           s.hub,
		conn:          conn,
		send:          make(chan []byte, wsSendBufferSize),
		subscriptions: make(map[string]struct{}, len(channels)),
		subject:       subject,
		onSubscribe:   s.sendCurrent,
	}
	for _, ch := range channels {
		client.subscriptions[ch] = struct{}{}
	}

	s.hub.Register(client)
	s.sendCurrent(client, channels)

	go client.writePump(s.wsCfg)
	go client.readPump(s.wsCfg)
}

// readPump reads messages from the WebSocket connection.
func (c *WSClient) readPump(cfg config.WebSocketConfig) {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(int64(cfg.MaxMessageSize))
	pingInterval := time.Duration(cfg.PingInterval) * time.Second
	pongWait := time.Duration(cfg.PongTimeout) * time.Second
	//nolint:errcheck // Best-effort deadline on connection setup
	c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read error", "error", err)
			} else {
				c.hub.logger.Debug("websocket closed", "error", err)
			}
			return
		}
		// Any client message also keeps the connection alive.
		//nolint:errcheck // Best-effort deadline reset
		c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
		c.handleMessage(message)
	}
}

// writePump writes messages to the WebSocket connection.
func (c *WSClient) writePump(cfg config.WebSocketConfig) {
	pingInterval := time.Duration(cfg.PingInterval) * time.Second
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	pongWait := time.Duration(cfg.PongTimeout) * time.Second

	for {
		select {
		case message, ok := <-c.send:
			if !ok {
				// Hub closed the channel
				//nolint:errcheck // Best-effort close message
				c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			//nolint:errcheck // Best-effort deadline; write error caught below
			c.conn.SetWriteDeadline(time.Now().Add(pongWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			//nolint:errcheck // Best-effort deadline; ping error caught below
			c.conn.SetWriteDeadline(time.Now().Add(pongWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage processes an incoming WebSocket message.
func (c *WSClient) handleMessage(data []byte) {
	var msg WSMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.sendError("", "invalid JSON message")
		return
	}

	switch msg.Type {
	case WSTypeSubscribe:
		c.handleSubscribe(msg)
	case WSTypeUnsubscribe:
		c.handleUnsubscribe(msg)
	case WSTypePing:
		c.sendResponse(msg.ID, WSTypePong, nil)
	default:
		c.sendError(msg.ID, "unknown message type: "+msg.Type)
	}
}

// decodeChannels extracts and validates the channel list of a
// subscribe/unsubscribe message.
func decodeChannels(msg WSMessage) ([]string, error) {
	payloadBytes, err := json.Marshal(msg.Payload)
	if err != nil {
		return nil, fmt.Errorf("invalid payload")
	}
	var sub WSSubscribePayload
	if err := json.Unmarshal(payloadBytes, &sub); err != nil {
		return nil, fmt.Errorf("invalid %s payload", msg.Type)
	}
	return parseChannels(sub.Channels)
}

// handleSubscribe adds categories to the client's subscription list and
// sends their current values.
func (c *WSClient) handleSubscribe(msg WSMessage) {
	channels, err := decodeChannels(msg)
	if err != nil {
		c.sendError(msg.ID, err.Error())
		return
	}

	c.mu.Lock()
	for _, ch := range channels {
		c.subscriptions[ch] = struct{}{}
	}
	c.mu.Unlock()

	c.hub.logger.Debug("websocket client subscribed", "channels", channels, "subject", c.subject)

	c.sendResponse(msg.ID, WSTypeResponse, map[string]any{
		"subscribed": channels,
	})
	if c.onSubscribe != nil {
		c.onSubscribe(c, channels)
	}
}

// handleUnsubscribe removes categories from the client's subscription list.
func (c *WSClient) handleUnsubscribe(msg WSMessage) {
	channels, err := decodeChannels(msg)
	if err != nil {
		c.sendError(msg.ID, err.Error())
		return
	}

	c.mu.Lock()
	for _, ch := range channels {
		delete(c.subscriptions, ch)
	}
	c.mu.Unlock()

	c.sendResponse(msg.ID, WSTypeResponse, map[string]any{
		"unsubscribed": channels,
	})
}

// trySend queues data for the client. It absorbs sends on a closed channel
// (client disconnected during broadcast) and drops data for a slow client
// whose buffer is full.
func (c *WSClient) trySend(data []byte) {
	defer func() {
		recover() //nolint:errcheck // Absorb send-on-closed-channel panic
	}()

	select {
	case c.send <- data:
	default:
	}
}

// isSubscribed checks if the client is subscribed to a channel.
func (c *WSClient) isSubscribed(channel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.subscriptions[channel]
	return ok
}

// sendEvent sends one event to this client only.
func (c *WSClient) sendEvent(channel string, payload any) {
	data, err := json.Marshal(WSMessage{
		Type:      WSTypeEvent,
		EventType: channel,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	})
	if err != nil {
		return
	}
	c.trySend(data)
}

// sendResponse sends a response message to the client.
func (c *WSClient) sendResponse(id, msgType string, payload any) {
	msg := WSMessage{
		Type:      msgType,
		ID:        id,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	c.trySend(data)
}

// sendError sends an error message to the client.
func (c *WSClient) sendError(id, message string) {
	c.sendResponse(id, WSTypeError, map[string]string{"message": message})
}
