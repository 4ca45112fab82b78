package server

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/zeusync/behaviortree/internal/core/events/bus"
	"github.com/zeusync/behaviortree/internal/core/observability/log"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// streamClient is one websocket subscriber. Empty filters match everything.
type streamClient struct {
	conn   *websocket.Conn
	send   chan []byte
	tree   string
	source string
	once   sync.Once
}

func (c *streamClient) matches(e bus.Event) bool {
	return (c.tree == "" || c.tree == e.Tree) && (c.source == "" || c.source == e.Source)
}

func (c *streamClient) shutdown() {
	c.once.Do(func() { close(c.send) })
}

// hub fans bus events out to stream clients. A client that cannot keep up
// is disconnected rather than slowing the publisher.
type hub struct {
	mu      sync.Mutex
	clients map[*streamClient]struct{}
	config  Config
	logger  log.Log
	closed  bool
}

func newHub(config Config, logger log.Log) *hub {
	return &hub{clients: make(map[*streamClient]struct{}), config: config, logger: logger}
}

func (h *hub) add(c *streamClient) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrServerClosed
	}
	if len(h.clients) >= h.config.MaxClients {
		return ErrMaxClientsReached
	}
	h.clients[c] = struct{}{}
	return nil
}

func (h *hub) remove(c *streamClient) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		c.shutdown()
	}
	h.mu.Unlock()
}

func (h *hub) len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *hub) broadcast(e bus.Event) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.clients) == 0 {
		return nil
	}
	payload, err := json.Marshal(e)
	if err != nil {
		return err
	}
	for c := range h.clients {
		if !c.matches(e) {
			continue
		}
		select {
		case c.send <- payload:
		default:
			h.logger.Warn("Stream client too slow, disconnecting",
				log.String("remote_addr", c.conn.RemoteAddr().String()))
			delete(h.clients, c)
			c.shutdown()
		}
	}
	return nil
}

func (h *hub) close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		c.shutdown()
	}
}

// handleWebSocket streams bus events as JSON text frames. The tree and
// source query parameters narrow the stream.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("Websocket upgrade failed", log.Error(err))
		return
	}

	c := &streamClient{
		conn:   conn,
		send:   make(chan []byte, s.config.ClientBuffer),
		tree:   r.URL.Query().Get("tree"),
		source: r.URL.Query().Get("source"),
	}
	if err := s.hub.add(c); err != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, err.Error()),
			time.Now().Add(time.Second))
		_ = conn.Close()
		return
	}

	clientLogger := s.logger.With(log.String("remote_addr", conn.RemoteAddr().String()))
	clientLogger.Info("Stream client connected", log.Int("clients", s.hub.len()))

	go s.readLoop(c)
	s.writeLoop(c)

	s.hub.remove(c)
	_ = conn.Close()
	clientLogger.Info("Stream client disconnected")
}

// readLoop discards client frames and detects the close.
func (s *Server) readLoop(c *streamClient) {
	defer s.hub.remove(c)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Server) writeLoop(c *streamClient) {
	for msg := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
}
