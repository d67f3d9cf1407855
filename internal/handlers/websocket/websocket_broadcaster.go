package websocket

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"tokenAggregator/internal/app/dto"
	"tokenAggregator/internal/domain/model"
	"tokenAggregator/internal/domain/useCases"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxMessageSize = 4096
	sendBuffer     = 64
)

type client struct {
	id     string
	conn   *websocket.Conn
	send   chan []byte
	filter model.SubscriberFilter
}

// WebSocketBroadcaster keeps the registry of live subscribers and delivers
// events to those whose filter matches.
type WebSocketBroadcaster struct {
	mu      sync.RWMutex
	clients map[string]*client
	active  []string

	upgrader websocket.Upgrader
	logger   *slog.Logger
}

func NewWebSocketBroadcaster(logger *slog.Logger) *WebSocketBroadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebSocketBroadcaster{
		clients:  make(map[string]*client),
		upgrader: websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
		logger:   logger.With("component", "broadcaster"),
	}
}

var _ useCases.Broadcaster = (*WebSocketBroadcaster)(nil)

// Matches reports whether an event for query should reach a subscriber
// holding filter.
func Matches(filter model.SubscriberFilter, query string) bool {
	return filter.Query == "" || query == "" || strings.EqualFold(filter.Query, query)
}

// Broadcast delivers payload verbatim to every matching subscriber. A
// subscriber whose send buffer is full is disconnected.
func (b *WebSocketBroadcaster) Broadcast(query string, payload []byte) {
	var slow []string

	b.mu.RLock()
	for id, c := range b.clients {
		if !Matches(c.filter, query) {
			continue
		}
		select {
		case c.send <- payload:
		default:
			slow = append(slow, id)
		}
	}
	b.mu.RUnlock()

	for _, id := range slow {
		b.logger.Warn("dropping slow subscriber", "id", id)
		b.remove(id)
	}
}

// HandleEvent routes a raw bus message by the query it is tagged with.
// Untagged or undecodable messages go to everyone.
func (b *WebSocketBroadcaster) HandleEvent(payload []byte) {
	var env dto.EventEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		env.Query = ""
	}
	b.Broadcast(env.Query, payload)
}

// ActiveQueries returns the distinct non-empty filter queries of connected
// subscribers, sorted.
func (b *WebSocketBroadcaster) ActiveQueries() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return slices.Clone(b.active)
}

// ClientCount returns the number of connected subscribers.
func (b *WebSocketBroadcaster) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// Handler returns an http.HandlerFunc to accept websocket connections. The
// initial filter comes from the q and period query parameters.
func (b *WebSocketBroadcaster) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := b.upgrader.Upgrade(w, r, nil)
		if err != nil {
			b.logger.Warn("websocket upgrade error", "error", err)
			return
		}

		c := &client{
			id:   uuid.NewString(),
			conn: conn,
			send: make(chan []byte, sendBuffer),
			filter: model.SubscriberFilter{
				Query:  normalize(r.URL.Query().Get("q")),
				Period: normalize(r.URL.Query().Get("period")),
			},
		}
		b.add(c)

		go b.writePump(c)
		go b.readPump(c)
	}
}

func (b *WebSocketBroadcaster) add(c *client) {
	b.mu.Lock()
	b.clients[c.id] = c
	b.recomputeActiveLocked()
	b.mu.Unlock()
	b.logger.Debug("subscriber connected", "id", c.id, "q", c.filter.Query)
}

func (b *WebSocketBroadcaster) remove(id string) {
	b.mu.Lock()
	c, ok := b.clients[id]
	if ok {
		delete(b.clients, id)
		close(c.send)
		b.recomputeActiveLocked()
	}
	b.mu.Unlock()
	if ok {
		b.logger.Debug("subscriber disconnected", "id", id)
	}
}

// applyFilter merges msg into the subscriber's filter. Fields absent from
// the message keep their current value.
func (b *WebSocketBroadcaster) applyFilter(id string, msg dto.FilterMessage) {
	b.mu.Lock()
	defer b.mu.Unlock()
	c, ok := b.clients[id]
	if !ok {
		return
	}
	if msg.Q != nil {
		c.filter.Query = normalize(*msg.Q)
	}
	if msg.Period != nil {
		c.filter.Period = normalize(*msg.Period)
	}
	b.recomputeActiveLocked()
}

func (b *WebSocketBroadcaster) recomputeActiveLocked() {
	seen := make(map[string]struct{}, len(b.clients))
	active := make([]string, 0, len(b.clients))
	for _, c := range b.clients {
		if c.filter.Query == "" {
			continue
		}
		if _, dup := seen[c.filter.Query]; dup {
			continue
		}
		seen[c.filter.Query] = struct{}{}
		active = append(active, c.filter.Query)
	}
	slices.Sort(active)
	b.active = active
}

func (b *WebSocketBroadcaster) readPump(c *client) {
	defer func() {
		b.remove(c.id)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var msg dto.FilterMessage
		if err := json.Unmarshal(data, &msg); err != nil || msg.Type != dto.FilterMessageType {
			// Malformed control messages are ignored.
			continue
		}
		b.applyFilter(c.id, msg)
	}
}

func (b *WebSocketBroadcaster) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				b.logger.Debug("websocket write error", "id", c.id, "error", err)
				b.remove(c.id)
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				b.remove(c.id)
				return
			}
		}
	}
}

// Close disconnects every subscriber.
func (b *WebSocketBroadcaster) Close() {
	b.mu.RLock()
	ids := make([]string, 0, len(b.clients))
	for id := range b.clients {
		ids = append(ids, id)
	}
	b.mu.RUnlock()
	for _, id := range ids {
		b.remove(id)
	}
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
