// Package live streams pipeline events to connected dashboards over
// WebSockets. Clients subscribe to event types; a client with no
// subscriptions receives everything.
package live

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/iyacare/iyacare/internal/platform/auth"
	"github.com/iyacare/iyacare/internal/platform/events"
)

const sendBuffer = 64

// Message is the JSON frame pushed to clients.
type Message struct {
	Type       string         `json:"type"`
	Key        string         `json:"key,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
	Data       map[string]any `json:"data,omitempty"`
}

// ClientMessage changes a client's subscriptions.
type ClientMessage struct {
	Action string   `json:"action"`
	Topics []string `json:"topics"`
}

type client struct {
	id     string
	topics map[string]bool
	send   chan []byte
}

func (c *client) wants(topic string) bool {
	return len(c.topics) == 0 || c.topics[topic]
}

// Hub fans events out to clients. A client whose buffer is full misses the
// event rather than blocking the publisher.
type Hub struct {
	mu      sync.RWMutex
	clients map[*client]struct{}
	closed  bool
	logger  zerolog.Logger
}

var _ events.Publisher = (*Hub)(nil)

func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		clients: make(map[*client]struct{}),
		logger:  logger.With().Str("component", "live").Logger(),
	}
}

func (h *Hub) register(topics []string) *client {
	c := &client{id: uuid.NewString(), topics: make(map[string]bool), send: make(chan []byte, sendBuffer)}
	for _, t := range topics {
		c.topics[t] = true
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(c.send)
		return c
	}
	h.clients[c] = struct{}{}
	return c
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
}

func (h *Hub) apply(c *client, msg ClientMessage) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, t := range msg.Topics {
		switch msg.Action {
		case "subscribe":
			c.topics[t] = true
		case "unsubscribe":
			delete(c.topics, t)
		}
	}
}

func (h *Hub) Publish(_ context.Context, evs ...events.Event) error {
	for _, ev := range evs {
		data, err := json.Marshal(Message{Type: ev.Type, Key: ev.Key, OccurredAt: ev.OccurredAt, Data: ev.Data})
		if err != nil {
			h.logger.Error().Err(err).Str("type", ev.Type).Msg("failed to marshal event")
			continue
		}
		h.mu.RLock()
		for c := range h.clients {
			if !c.wants(ev.Type) {
				continue
			}
			select {
			case c.send <- data:
			default:
				h.logger.Warn().Str("client_id", c.id).Str("type", ev.Type).Msg("client buffer full, event dropped")
			}
		}
		h.mu.RUnlock()
	}
	return nil
}

// Close disconnects every client.
func (h *Hub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
	return nil
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Handler upgrades requests on /live. The optional topics query parameter is
// a comma-separated list of event types.
type Handler struct {
	hub      *Hub
	upgrader gorillawebsocket.Upgrader
}

func NewHandler(hub *Hub, origins []string) *Handler {
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		allowed[o] = true
	}
	return &Handler{
		hub: hub,
		upgrader: gorillawebsocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || allowed[origin] || allowed["*"]
			},
		},
	}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/live", h.Connect, auth.RequireRole(auth.RoleOperator, auth.RoleClinician))
}

func (h *Handler) Connect(c echo.Context) error {
	var topics []string
	if q := c.QueryParam("topics"); q != "" {
		for _, t := range strings.Split(q, ",") {
			if t = strings.TrimSpace(t); t != "" {
				topics = append(topics, t)
			}
		}
	}
	ws, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	cl := h.hub.register(topics)
	go h.writePump(cl, ws)
	go h.readPump(cl, ws)
	return nil
}

func (h *Handler) readPump(cl *client, ws *gorillawebsocket.Conn) {
	defer func() {
		h.hub.unregister(cl)
		ws.Close()
	}()
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		h.hub.apply(cl, msg)
	}
}

func (h *Handler) writePump(cl *client, ws *gorillawebsocket.Conn) {
	defer ws.Close()
	for data := range cl.send {
		if err := ws.WriteMessage(gorillawebsocket.TextMessage, data); err != nil {
			return
		}
	}
	ws.WriteMessage(gorillawebsocket.CloseMessage, gorillawebsocket.FormatCloseMessage(gorillawebsocket.CloseNormalClosure, ""))
}
