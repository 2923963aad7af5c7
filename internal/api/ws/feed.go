// Package ws pushes filed anomaly reports to connected dashboard clients.
package ws

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/your-org/sentinel/internal/models"
	"github.com/your-org/sentinel/internal/observability"
	"github.com/your-org/sentinel/pkg/dto"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for development
	},
}

// Client is one connected WebSocket subscriber.
type Client struct {
	conn     *websocket.Conn
	send     chan []byte
	severity string // optional filter
}

// Feed maintains active subscribers and broadcasts filed reports.
type Feed struct {
	clients    map[*Client]bool
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	mu         sync.RWMutex
}

func NewFeed() *Feed {
	return &Feed{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
	}
}

// Run starts the feed loop. Call this in a goroutine.
func (f *Feed) Run() {
	for {
		select {
		case client := <-f.register:
			f.mu.Lock()
			f.clients[client] = true
			f.mu.Unlock()
			observability.WSConnections.Inc()
			slog.Debug("ws client connected", "severity_filter", client.severity)

		case client := <-f.unregister:
			f.mu.Lock()
			if _, ok := f.clients[client]; ok {
				delete(f.clients, client)
				close(client.send)
			}
			f.mu.Unlock()
			observability.WSConnections.Dec()
			slog.Debug("ws client disconnected")

		case message := <-f.broadcast:
			f.mu.RLock()
			for client := range f.clients {
				if client.severity != "" && !messageMatchesSeverity(message, client.severity) {
					continue
				}

				select {
				case client.send <- message:
				default:
					// Client buffer full, disconnect
					f.mu.RUnlock()
					f.mu.Lock()
					delete(f.clients, client)
					close(client.send)
					f.mu.Unlock()
					f.mu.RLock()
				}
			}
			f.mu.RUnlock()
		}
	}
}

func messageMatchesSeverity(message []byte, severity string) bool {
	var msg struct {
		Data models.AnomalyReport `json:"data"`
	}
	if err := json.Unmarshal(message, &msg); err != nil {
		return true
	}
	return string(msg.Data.Severity) == severity
}

// BroadcastReport sends a filed report to all connected clients.
func (f *Feed) BroadcastReport(report models.AnomalyReport) {
	data, err := json.Marshal(dto.WSMessage{Type: "anomaly_report", Data: report})
	if err != nil {
		slog.Error("marshal ws report", "error", err)
		return
	}
	f.broadcast <- data
}

// HandleWS handles WebSocket upgrade requests.
func (f *Feed) HandleWS(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.Error("ws upgrade failed", "error", err)
		return
	}

	client := &Client{
		conn:     conn,
		send:     make(chan []byte, 64),
		severity: c.Query("severity"),
	}

	f.register <- client

	go client.writePump()
	go client.readPump(f)
}

func (c *Client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}

func (c *Client) readPump(f *Feed) {
	defer func() {
		f.unregister <- c
		c.conn.Close()
	}()

	for {
		_, _, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		// Incoming messages are ignored; the loop detects disconnection.
	}
}
