package widget

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"chatrelay/internal/domain"
	"chatrelay/internal/metrics"

	"github.com/gorilla/websocket"
)

// wsEvent is the JSON frame protocol of /chat/ws, both directions.
// Inbound frames carry type "message"; outbound frames carry "message",
// "status" or "error".
type wsEvent struct {
	Type    string `json:"type"`
	Content string `json:"content,omitempty"`
	HTML    string `json:"html,omitempty"`
	Error   string `json:"error,omitempty"`
}

// wsClient tracks one connected WebSocket.
type wsClient struct {
	conn      *websocket.Conn
	sessionID string
	mu        sync.Mutex
}

func (c *wsClient) send(ev wsEvent) {
	data, _ := json.Marshal(ev)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.WriteMessage(websocket.TextMessage, data)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// The widget page and the socket share an origin; embedding hosts
		// vary, so origin policy is left to the fronting proxy.
		return true
	},
}

func (s *Server) handleWS(rw http.ResponseWriter, r *http.Request) {
	sessionID := s.sessions.GetOrCreate(r, rw)

	conn, err := upgrader.Upgrade(rw, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "err", err)
		return
	}

	client := &wsClient{conn: conn, sessionID: sessionID}
	clientID := fmt.Sprintf("%s-%p", sessionID, conn)

	s.wsMu.Lock()
	s.wsClients[clientID] = client
	s.wsMu.Unlock()
	metrics.ActiveWSSessions.Inc()

	s.logger.Info("websocket client connected", "client_id", clientID, "session", sessionID)
	client.send(wsEvent{Type: "status", Content: "connected"})

	defer func() {
		s.wsMu.Lock()
		delete(s.wsClients, clientID)
		s.wsMu.Unlock()
		metrics.ActiveWSSessions.Dec()
		conn.Close()
		s.logger.Info("websocket client disconnected", "client_id", clientID)
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Error("websocket read error", "err", err)
			}
			return
		}

		var ev wsEvent
		if err := json.Unmarshal(message, &ev); err != nil {
			s.logger.Warn("invalid websocket frame", "err", err)
			continue
		}

		if ev.Type != "message" {
			continue
		}
		if ev.Content == "" {
			client.send(wsEvent{Type: "error", Error: "empty message"})
			continue
		}
		if !s.turns.Begin(sessionID) {
			client.send(wsEvent{Type: "error", Error: "a message is already being processed"})
			continue
		}

		s.bus.Publish(domain.InboundMessage{
			Channel:   "web",
			SessionID: sessionID,
			Content:   ev.Content,
			Timestamp: time.Now(),
		})
	}
}

// broadcastWS delivers a finished turn to the session's WebSocket clients.
func (s *Server) broadcastWS(msg domain.OutboundMessage) {
	s.wsMu.RLock()
	defer s.wsMu.RUnlock()

	for _, client := range s.wsClients {
		if client.sessionID != msg.SessionID {
			continue
		}
		if msg.Err != "" {
			client.send(wsEvent{Type: "error", Error: msg.Err})
			continue
		}
		client.send(wsEvent{Type: "message", Content: msg.Content, HTML: msg.HTML})
	}
}
