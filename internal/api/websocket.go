package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/entrance/internal/infrastructure/config"
	"github.com/nerrad567/entrance/internal/infrastructure/logging"
	"github.com/nerrad567/entrance/internal/session"
)

const (
	// wsSendBufferSize is the per-client outbound frame buffer size.
	wsSendBufferSize = 256

	// wsInboundBufferSize bounds frames read ahead of the session loop.
	wsInboundBufferSize = 16
)

// upgrader configures the WebSocket upgrader.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true
	},
}

// Hub tracks the open websocket transports so shutdown can close them.
type Hub struct {
	logger  *logging.Logger
	clients map[*Transport]struct{}
	mu      sync.RWMutex
}

// NewHub creates an empty hub.
func NewHub(logger *logging.Logger) *Hub {
	return &Hub{
		logger:  logger,
		clients: make(map[*Transport]struct{}),
	}
}

// Register adds a transport to the hub.
func (h *Hub) Register(t *Transport) {
	h.mu.Lock()
	h.clients[t] = struct{}{}
	h.mu.Unlock()
	h.logger.Debug("websocket client connected", "clients", h.ClientCount())
}

// Unregister removes a transport from the hub.
func (h *Hub) Unregister(t *Transport) {
	h.mu.Lock()
	_, existed := h.clients[t]
	delete(h.clients, t)
	h.mu.Unlock()
	if existed {
		h.logger.Debug("websocket client disconnected", "clients", h.ClientCount())
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// closeAll closes every transport. The client list is snapshotted first
// because Close unregisters.
func (h *Hub) closeAll() {
	h.mu.RLock()
	clients := make([]*Transport, 0, len(h.clients))
	for t := range h.clients {
		clients = append(clients, t)
	}
	h.mu.RUnlock()

	for _, t := range clients {
		//nolint:errcheck // Close never fails
		t.Close()
	}
}

// Transport is a session.Transport over one websocket connection. A read
// pump and a write pump own the connection; Recv and Send talk to them
// through channels.
type Transport struct {
	hub  *Hub
	conn *websocket.Conn
	cfg  config.WebSocketConfig

	inbound chan []byte
	send    chan []byte

	done       chan struct{}
	closeOnce  sync.Once
	writerDone chan struct{}
}

var _ session.Transport = (*Transport)(nil)

func newTransport(hub *Hub, conn *websocket.Conn, cfg config.WebSocketConfig) *Transport {
	return &Transport{
		hub:        hub,
		conn:       conn,
		cfg:        cfg,
		inbound:    make(chan []byte, wsInboundBufferSize),
		send:       make(chan []byte, wsSendBufferSize),
		done:       make(chan struct{}),
		writerDone: make(chan struct{}),
	}
}

// start registers the transport and launches its pumps.
func (t *Transport) start() {
	t.hub.Register(t)
	go t.writePump()
	go t.readPump()
}

// Recv returns the next text frame. It returns session.ErrClosed once the
// connection has gone.
func (t *Transport) Recv(ctx context.Context) ([]byte, error) {
	select {
	case frame, ok := <-t.inbound:
		if !ok {
			return nil, session.ErrClosed
		}
		return frame, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Send queues frame for the write pump. It blocks while the buffer is full
// rather than dropping session traffic.
func (t *Transport) Send(ctx context.Context, frame []byte) error {
	select {
	case t.send <- frame:
		return nil
	case <-t.writerDone:
		return session.ErrClosed
	case <-t.done:
		return session.ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops the write pump, which sends a close frame and closes the
// connection. It is safe to call more than once.
func (t *Transport) Close() error {
	t.closeOnce.Do(func() {
		close(t.done)
		t.hub.Unregister(t)
	})
	return nil
}

func (t *Transport) deadline() time.Time {
	pingInterval := time.Duration(t.cfg.PingInterval) * time.Second
	pongWait := time.Duration(t.cfg.PongTimeout) * time.Second
	return time.Now().Add(pingInterval + pongWait)
}

// readPump reads frames from the connection until it fails, then closes
// inbound so Recv reports the end of the session.
func (t *Transport) readPump() {
	defer func() {
		close(t.inbound)
		t.conn.Close()
	}()

	t.conn.SetReadLimit(int64(t.cfg.MaxMessageSize))
	//nolint:errcheck // Best-effort deadline on connection setup
	t.conn.SetReadDeadline(t.deadline())
	t.conn.SetPongHandler(func(string) error {
		return t.conn.SetReadDeadline(t.deadline())
	})

	for {
		msgType, message, err := t.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				t.hub.logger.Warn("websocket read error", "error", err)
			} else {
				t.hub.logger.Debug("websocket closed", "error", err)
			}
			return
		}
		// Any client message keeps the connection alive, even from
		// browsers that ignore protocol-level pings.
		//nolint:errcheck // Best-effort deadline reset
		t.conn.SetReadDeadline(t.deadline())
		if msgType != websocket.TextMessage {
			t.hub.logger.Debug("ignoring non-text websocket frame", "type", msgType)
			continue
		}

		select {
		case t.inbound <- message:
		case <-t.done:
			return
		}
	}
}

// writePump writes queued frames and keepalive pings.
func (t *Transport) writePump() {
	pingInterval := time.Duration(t.cfg.PingInterval) * time.Second
	writeWait := time.Duration(t.cfg.PongTimeout) * time.Second
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		close(t.writerDone)
		t.conn.Close()
	}()

	for {
		select {
		case message := <-t.send:
			//nolint:errcheck // Best-effort deadline; write error caught below
			t.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := t.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				t.hub.logger.Debug("websocket write failed", "error", err)
				return
			}
		case <-ticker.C:
			//nolint:errcheck // Best-effort deadline; ping error caught below
			t.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := t.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-t.done:
			//nolint:errcheck // Best-effort close message
			t.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		}
	}
}

// handleWebSocket upgrades the connection and runs a session on it until
// the client goes or the server closes.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	closing := s.closing
	if !closing {
		s.sessions.Add(1)
	}
	s.mu.Unlock()
	if closing {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "server shutting down")
		return
	}
	defer s.sessions.Done()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	t := newTransport(s.hub, conn, s.wsCfg)
	t.start()

	logger := s.logger.With("remote", r.RemoteAddr, "request_id", r.Context().Value(ctxKeyRequestID))
	sess, err := session.New(s.ctx, session.Options{
		Env:       s.env,
		Transport: t,
		Features:  s.features,
		Logger:    logger,
	})
	if err != nil {
		logger.Error("starting session failed", "error", err)
		//nolint:errcheck // Close never fails
		t.Close()
		return
	}

	if err := sess.Run(s.ctx); err != nil {
		logger.Warn("session ended with error", "session", sess.ID(), "error", err)
	}
}
