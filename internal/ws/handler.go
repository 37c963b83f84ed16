package ws

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 64 * 1024, // base64 JPEG frames
	CheckOrigin: func(r *http.Request) bool {
		// Dashboards are served from other hosts on the field network
		return true
	},
}

// Handler upgrades dashboard connections to the alert feed.
// Query parameters: label filters to one animal type, frame=1 attaches the
// snapshot to each alert.
type Handler struct {
	hub *AlertHub
}

// NewHandler creates a new WebSocket handler
func NewHandler(hub *AlertHub) *Handler {
	return &Handler{hub: hub}
}

// ServeHTTP handles WebSocket upgrade requests
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[WS] Upgrade error: %v", err)
		return
	}

	c := &client{
		conn:      conn,
		label:     query.Get("label"),
		withFrame: query.Get("frame") == "1" || query.Get("frame") == "true",
	}

	hello, _ := json.Marshal(HelloMessage{
		Type:      "hello",
		NodeID:    h.hub.nodeID,
		Label:     c.label,
		Timestamp: time.Now(),
	})
	if err := c.write(websocket.TextMessage, hello); err != nil {
		conn.Close()
		return
	}

	log.Printf("[WS] New connection from %s", r.RemoteAddr)
	h.hub.Register(c)

	go h.readPump(c)
}

// readPump keeps the connection alive and detects disconnection
func (h *Handler) readPump(c *client) {
	done := make(chan struct{})
	defer func() {
		close(done)
		h.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := c.write(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("[WS] Read error: %v", err)
			}
			return
		}
	}
}
