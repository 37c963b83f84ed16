package ws

import (
	"encoding/json"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"aranyani/internal/pipeline"
)

const writeWait = 10 * time.Second

// client is one dashboard connection. gorilla/websocket allows a single
// concurrent writer, so all writes go through mu.
type client struct {
	conn      *websocket.Conn
	label     string // empty means all labels
	withFrame bool
	mu        sync.Mutex
}

func (c *client) write(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(messageType, data)
}

func (c *client) wants(label string) bool {
	return c.label == "" || strings.EqualFold(c.label, label)
}

// AlertHub fans accepted alerts out to connected dashboards
type AlertHub struct {
	nodeID  string
	clients map[*client]bool
	mu      sync.RWMutex
}

// NewAlertHub creates a new alert hub
func NewAlertHub(nodeID string) *AlertHub {
	return &AlertHub{
		nodeID:  nodeID,
		clients: make(map[*client]bool),
	}
}

// Register adds a connection
func (h *AlertHub) Register(c *client) {
	h.mu.Lock()
	h.clients[c] = true
	total := len(h.clients)
	h.mu.Unlock()

	log.Printf("[WS] Client registered (label: %q, total: %d)", c.label, total)
}

// Unregister removes a connection
func (h *AlertHub) Unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		log.Printf("[WS] Client unregistered")
	}
}

// ClientCount returns the number of connected clients
func (h *AlertHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// OnAlert implements pipeline.AlertHandler
func (h *AlertHub) OnAlert(event *pipeline.AlertEvent) {
	h.mu.RLock()
	targets := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		if c.wants(event.Label) {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	if len(targets) == 0 {
		return
	}

	// Marshal at most twice: with and without the frame
	var plain, framed []byte
	for _, c := range targets {
		var data []byte
		var err error
		if c.withFrame {
			if framed == nil {
				framed, err = json.Marshal(NewAlertMessage(event, true))
			}
			data = framed
		} else {
			if plain == nil {
				plain, err = json.Marshal(NewAlertMessage(event, false))
			}
			data = plain
		}
		if err != nil {
			log.Printf("[WS] Error marshaling alert message: %v", err)
			return
		}

		if err := c.write(websocket.TextMessage, data); err != nil {
			log.Printf("[WS] Error sending to client: %v", err)
			h.Unregister(c)
			c.conn.Close()
		}
	}
}

// CloseAll disconnects every client
func (h *AlertHub) CloseAll() {
	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[*client]bool)
	h.mu.Unlock()

	for c := range clients {
		c.write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
		c.conn.Close()
	}
}

var _ pipeline.AlertHandler = (*AlertHub)(nil)
