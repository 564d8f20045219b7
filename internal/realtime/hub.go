// Package realtime pushes owner notifications to connected websocket clients.
package realtime

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"smartgarden/internal/utils"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const writeWait = 5 * time.Second

// Client is one websocket connection of a user
type Client struct {
	UserID string
	WS     *websocket.Conn
	Mux    sync.Mutex
}

func (c *Client) write(data []byte) error {
	c.Mux.Lock()
	defer c.Mux.Unlock()
	_ = c.WS.SetWriteDeadline(time.Now().Add(writeWait))
	return c.WS.WriteMessage(websocket.TextMessage, data)
}

// Hub tracks the open connections of every user
type Hub struct {
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[string]map[*Client]struct{}

	log zerolog.Logger
}

// NewHub creates an empty hub
func NewHub() *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: make(map[string]map[*Client]struct{}),
		log:     utils.Component("realtime"),
	}
}

// Serve upgrades the request and keeps the connection registered for
// userID until the client goes away. It blocks for the connection's lifetime.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, userID string) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	c := &Client{UserID: userID, WS: ws}
	h.add(c)
	defer func() {
		h.remove(c)
		ws.Close()
	}()

	// clients only listen; reading detects the close
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) add(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.clients[c.UserID]
	if !ok {
		set = make(map[*Client]struct{})
		h.clients[c.UserID] = set
	}
	set[c] = struct{}{}
	h.log.Debug().Str("user_id", c.UserID).Int("connections", len(set)).Msg("client registered")
}

func (h *Hub) remove(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if set, ok := h.clients[c.UserID]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(h.clients, c.UserID)
		}
	}
}

// Count returns the number of open connections of userID
func (h *Hub) Count(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID])
}

// SendToUser writes msg as JSON to every connection of userID and reports
// whether at least one received it
func (h *Hub) SendToUser(userID string, msg any) bool {
	data, err := json.Marshal(msg)
	if err != nil {
		h.log.Error().Err(err).Msg("unencodable realtime message")
		return false
	}

	h.mu.RLock()
	targets := make([]*Client, 0, len(h.clients[userID]))
	for c := range h.clients[userID] {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	delivered := false
	for _, c := range targets {
		if err := c.write(data); err != nil {
			h.log.Debug().Err(err).Str("user_id", userID).Msg("dropping dead connection")
			h.remove(c)
			c.WS.Close()
			continue
		}
		delivered = true
	}
	return delivered
}

// Close drops every connection
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for userID, set := range h.clients {
		for c := range set {
			c.WS.Close()
		}
		delete(h.clients, userID)
	}
}
