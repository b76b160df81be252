package api

import (
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// WebSocket event types.
const (
	EventJob   = "job"
	EventError = "error"
)

// wsMessage is one WebSocket frame.
type wsMessage struct {
	Event string `json:"event"`
	Data  gin.H  `json:"data"`
}

// wsClient is one connected WebSocket client. Frames flow through the
// send channel only; nothing writes to the connection directly.
type wsClient struct {
	conn *websocket.Conn
	send chan wsMessage
}

// hub tracks connected clients for broadcasts.
type hub struct {
	mu      sync.RWMutex
	clients map[*wsClient]bool
	log     zerolog.Logger
}

func newHub(log zerolog.Logger) *hub {
	return &hub{clients: make(map[*wsClient]bool), log: log}
}

func (h *hub) add(client *wsClient) {
	h.mu.Lock()
	h.clients[client] = true
	h.mu.Unlock()
}

func (h *hub) remove(client *wsClient) {
	h.mu.Lock()
	delete(h.clients, client)
	h.mu.Unlock()
}

// broadcast delivers a message to every client with room in its send
// buffer; slow clients are skipped rather than blocked on.
func (h *hub) broadcast(msg wsMessage) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients {
		select {
		case client.send <- msg:
		default:
		}
	}
}

// handleWebSocket upgrades the connection and streams job status
// events until the client goes away.
func (s *Server) handleWebSocket(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := &wsClient{
		conn: conn,
		send: make(chan wsMessage, 256),
	}
	s.log.Debug().Msg("websocket client connected")

	go s.readPump(client)
	go s.writePump(client)
}

func (s *Server) writePump(client *wsClient) {
	defer client.conn.Close()

	for msg := range client.send {
		if err := client.conn.WriteJSON(msg); err != nil {
			s.log.Debug().Err(err).Msg("websocket write failed")
			return
		}
	}
}

// readPump keeps the connection registered and discards inbound
// frames; the stream is one-way status reporting.
func (s *Server) readPump(client *wsClient) {
	defer func() {
		s.hub.remove(client)
		close(client.send)
		client.conn.Close()
		s.log.Debug().Msg("websocket client disconnected")
	}()

	s.hub.add(client)

	for {
		if _, _, err := client.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.log.Debug().Err(err).Msg("websocket read failed")
			}
			return
		}
	}
}
