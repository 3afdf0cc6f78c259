package websocket

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stationwx/wxboard/pkg/logger"
)

const (
	// MessageTypeWxUpdate notifies clients that a new payload is available.
	MessageTypeWxUpdate = "wx_update"
	// MessageTypeStationsChanged notifies clients that the station list changed.
	MessageTypeStationsChanged = "stations_changed"

	writeWait  = 10 * time.Second
	pingPeriod = 45 * time.Second
)

// Message is a WebSocket message envelope.
type Message struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}

// Client represents one connected dashboard client.
type Client struct {
	conn   *websocket.Conn
	send   chan *Message
	server *Server
	closed bool
	mu     sync.Mutex
}

// Server is the WebSocket hub: it tracks connected dashboard clients and
// fans broadcast messages out to them. The client count doubles as the
// "display visible" signal for the refresh scheduler.
type Server struct {
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	broadcast  chan *Message
	upgrader   websocket.Upgrader
	onConnect  func()
	logger     *logger.Logger
	mu         sync.RWMutex
}

// NewServer creates a new WebSocket hub.
func NewServer(log *logger.Logger) *Server {
	return &Server{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *Message, 16),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		logger: log.Named("web-socket"),
	}
}

// SetOnConnect registers a callback invoked whenever a client attaches.
func (s *Server) SetOnConnect(fn func()) {
	s.mu.Lock()
	s.onConnect = fn
	s.mu.Unlock()
}

// ClientCount returns the number of connected clients.
func (s *Server) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// Run starts the hub loop.
func (s *Server) Run() {
	s.logger.Info("Starting WebSocket hub")

	for {
		select {
		case client := <-s.register:
			s.mu.Lock()
			s.clients[client] = true
			count := len(s.clients)
			onConnect := s.onConnect
			s.mu.Unlock()
			s.logger.Debug("Client registered", logger.Int("client_count", count))
			if onConnect != nil {
				onConnect()
			}

		case client := <-s.unregister:
			s.mu.Lock()
			if _, ok := s.clients[client]; ok {
				delete(s.clients, client)
				client.mu.Lock()
				client.closed = true
				client.mu.Unlock()
				close(client.send)
			}
			count := len(s.clients)
			s.mu.Unlock()
			s.logger.Debug("Client unregistered", logger.Int("client_count", count))

		case message := <-s.broadcast:
			s.mu.RLock()
			var stale []*Client
			for client := range s.clients {
				client.mu.Lock()
				closed := client.closed
				client.mu.Unlock()
				if closed {
					stale = append(stale, client)
					continue
				}
				select {
				case client.send <- message:
				default:
					// Send queue full: drop the slow client.
					stale = append(stale, client)
				}
			}
			s.mu.RUnlock()

			if len(stale) > 0 {
				s.mu.Lock()
				for _, client := range stale {
					if _, ok := s.clients[client]; ok {
						delete(s.clients, client)
						client.mu.Lock()
						if !client.closed {
							client.closed = true
							close(client.send)
						}
						client.mu.Unlock()
					}
				}
				s.mu.Unlock()
			}
		}
	}
}

// Broadcast sends a typed message to all connected clients.
func (s *Server) Broadcast(msgType string, data map[string]any) {
	s.broadcast <- &Message{Type: msgType, Data: data}
}

// HandleConnection upgrades an HTTP request to a WebSocket client.
func (s *Server) HandleConnection(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("Failed to upgrade connection",
			logger.Error(err),
			logger.String("remote_addr", r.RemoteAddr))
		return
	}

	s.logger.Debug("WebSocket connection established",
		logger.String("remote_addr", r.RemoteAddr))

	client := &Client{
		conn:   conn,
		send:   make(chan *Message, 64),
		server: s,
	}
	s.register <- client

	go client.readPump()
	go client.writePump()
}

// readPump drains the connection until it closes. Dashboard clients are
// read-only consumers; incoming frames are parsed only to keep close
// handling correct.
func (c *Client) readPump() {
	defer func() {
		c.server.unregister <- c
		c.conn.Close()
	}()

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				c.server.logger.Warn("WebSocket read error", logger.Error(err))
			}
			return
		}
		var msg Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.server.logger.Debug("Ignoring malformed client message", logger.Error(err))
		}
	}
}

// writePump forwards queued messages to the connection and keeps it
// alive with periodic pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(message); err != nil {
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
