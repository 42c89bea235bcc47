// handlers/websocket.go
package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"slices"
	"sync"
	"time"

	"rps-match-service/models"
	"rps-match-service/services"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096

	// maxSubscriptions caps how many matches one socket may follow.
	maxSubscriptions = 64
)

// Client message types.
const (
	MsgSubscribe    = "match:subscribe"
	MsgUnsubscribe  = "match:unsubscribe"
	MsgSubscribed   = "match:subscribed"
	MsgUnsubscribed = "match:unsubscribed"
	MsgError        = "error"
)

// ClientMessage is sent by a socket client to manage its subscriptions.
type ClientMessage struct {
	Type    string `json:"type"`
	MatchID string `json:"matchId"`
}

// ServerFrame is everything the server writes to a socket.
type ServerFrame struct {
	Type    string        `json:"type"`
	MatchID string        `json:"matchId,omitempty"`
	Data    *models.Event `json:"data,omitempty"`
	Error   string        `json:"error,omitempty"`
}

// WSServer pushes match events to WebSocket clients. Fiber runs on
// fasthttp, so the socket endpoint is served from its own net/http listener.
type WSServer struct {
	hub      *services.Hub
	logger   *log.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*wsClient]struct{}
}

func NewWSServer(hub *services.Hub, logger *log.Logger, allowedOrigins []string) *WSServer {
	s := &WSServer{
		hub:     hub,
		logger:  logger.WithPrefix("ws"),
		clients: make(map[*wsClient]struct{}),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" || slices.Contains(allowedOrigins, "*") {
				return true
			}
			return slices.Contains(allowedOrigins, origin)
		},
	}
	return s
}

// Handler returns the mux serving /ws and /health.
func (s *WSServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)
	return mux
}

// ClientCount reports the number of open sockets.
func (s *WSServer) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// Close disconnects every client.
func (s *WSServer) Close() {
	s.mu.Lock()
	clients := make([]*wsClient, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	for _, c := range clients {
		c.close()
	}
}

func (s *WSServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("Failed to upgrade connection", "error", err)
		return
	}

	c := &wsClient{
		server: s,
		conn:   conn,
		send:   make(chan []byte, 256),
		done:   make(chan struct{}),
		subs:   make(map[string]*services.Subscription),
	}

	s.mu.Lock()
	s.clients[c] = struct{}{}
	total := len(s.clients)
	s.mu.Unlock()
	s.logger.Debug("Client connected", "remote", r.RemoteAddr, "total", total)

	go c.writePump()
	go c.readPump()
}

func (s *WSServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = fmt.Fprint(w, `{"ok":true}`)
}

func (s *WSServer) remove(c *wsClient) {
	s.mu.Lock()
	delete(s.clients, c)
	total := len(s.clients)
	s.mu.Unlock()
	s.logger.Debug("Client disconnected", "total", total)
}

type wsClient struct {
	server *WSServer
	conn   *websocket.Conn
	send   chan []byte
	done   chan struct{}

	mu   sync.Mutex
	subs map[string]*services.Subscription

	closeOnce sync.Once
}

func (c *wsClient) readPump() {
	defer c.close()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.server.logger.Warn("Unexpected WebSocket close", "error", err)
			}
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.writeFrame(ServerFrame{Type: MsgError, Error: "malformed message"})
			continue
		}
		c.handle(msg)
	}
}

func (c *wsClient) handle(msg ClientMessage) {
	if msg.Type != MsgSubscribe && msg.Type != MsgUnsubscribe {
		c.writeFrame(ServerFrame{Type: MsgError, MatchID: msg.MatchID, Error: "unknown message type"})
		return
	}
	if _, err := uuid.Parse(msg.MatchID); err != nil {
		c.writeFrame(ServerFrame{Type: MsgError, MatchID: msg.MatchID, Error: "invalid match id"})
		return
	}

	switch msg.Type {
	case MsgSubscribe:
		if err := c.subscribe(msg.MatchID); err != nil {
			c.writeFrame(ServerFrame{Type: MsgError, MatchID: msg.MatchID, Error: err.Error()})
			return
		}
		c.writeFrame(ServerFrame{Type: MsgSubscribed, MatchID: msg.MatchID})
	case MsgUnsubscribe:
		c.unsubscribe(msg.MatchID)
		c.writeFrame(ServerFrame{Type: MsgUnsubscribed, MatchID: msg.MatchID})
	}
}

func (c *wsClient) subscribe(matchID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	select {
	case <-c.done:
		return fmt.Errorf("connection closed")
	default:
	}
	if _, ok := c.subs[matchID]; ok {
		return nil
	}
	if len(c.subs) >= maxSubscriptions {
		return fmt.Errorf("subscription limit of %d reached", maxSubscriptions)
	}

	sub := c.server.hub.Subscribe(matchID)
	c.subs[matchID] = sub
	go c.forward(sub)
	return nil
}

func (c *wsClient) unsubscribe(matchID string) {
	c.mu.Lock()
	sub, ok := c.subs[matchID]
	delete(c.subs, matchID)
	c.mu.Unlock()
	if ok {
		c.server.hub.Unsubscribe(sub)
	}
}

// forward copies one subscription into the socket until it is closed.
func (c *wsClient) forward(sub *services.Subscription) {
	for ev := range sub.C {
		c.writeFrame(ServerFrame{Type: string(ev.Type), MatchID: ev.MatchID, Data: &ev})
	}
}

// writeFrame queues a frame; a client that stops reading loses frames.
func (c *wsClient) writeFrame(f ServerFrame) {
	data, err := json.Marshal(f)
	if err != nil {
		c.server.logger.Error("Failed to encode frame", "type", f.Type, "error", err)
		return
	}
	select {
	case c.send <- data:
	case <-c.done:
	default:
		c.server.logger.Warn("Client send buffer full, frame dropped", "type", f.Type, "match", f.MatchID)
	}
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case data := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

func (c *wsClient) close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		close(c.done)
		subs := c.subs
		c.subs = make(map[string]*services.Subscription)
		c.mu.Unlock()

		for _, sub := range subs {
			c.server.hub.Unsubscribe(sub)
		}
		_ = c.conn.Close()
		c.server.remove(c)
	})
}
