package wsnet

import (
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"go-matchmaking/transport"
)

type ServerConfig struct {
	Logger *slog.Logger
	// QueueLength bounds the per-connection send queue.
	QueueLength      int
	WriteTimeout     time.Duration
	HandshakeTimeout time.Duration
	// CheckOrigin is passed to the upgrader; nil accepts every origin.
	CheckOrigin func(r *http.Request) bool
}

// Server accepts matchmaking clients on an HTTP handler.
type Server struct {
	cfg      ServerConfig
	log      *slog.Logger
	handler  transport.ServerHandler
	upgrader websocket.Upgrader

	mu     sync.Mutex
	conns  map[transport.Endpoint]*conn
	closed bool
	wg     sync.WaitGroup
}

var _ transport.ServerPeer = (*Server)(nil)

func NewServer(h transport.ServerHandler, cfg ServerConfig) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if cfg.CheckOrigin == nil {
		cfg.CheckOrigin = func(*http.Request) bool { return true }
	}
	return &Server{
		cfg:     cfg,
		log:     cfg.Logger,
		handler: h,
		upgrader: websocket.Upgrader{
			HandshakeTimeout: cfg.HandshakeTimeout,
			CheckOrigin:      cfg.CheckOrigin,
		},
		conns: make(map[transport.Endpoint]*conn),
	}
}

// SetHandler replaces the handler. It must be called before serving.
func (s *Server) SetHandler(h transport.ServerHandler) { s.handler = h }

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ep, err := transport.ParseEndpoint(r.RemoteAddr)
	if err != nil {
		http.Error(w, "bad remote address", http.StatusBadRequest)
		return
	}
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", slog.String("peer", ep.String()), slog.String("error", err.Error()))
		return
	}

	_ = ws.SetReadDeadline(time.Now().Add(s.cfg.HandshakeTimeout))
	_, hail, err := ws.ReadMessage()
	if err != nil {
		s.log.Warn("handshake read failed", slog.String("peer", ep.String()), slog.String("error", err.Error()))
		ws.Close()
		return
	}
	_ = ws.SetReadDeadline(time.Time{})

	if err := s.handler.ApproveConnection(ep, hail); err != nil {
		s.log.Info("connection rejected", slog.String("peer", ep.String()), slog.String("reason", err.Error()))
		msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, truncateReason(err.Error()))
		_ = ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		ws.Close()
		return
	}

	c := newConn(ws, s.cfg.QueueLength, s.cfg.WriteTimeout)
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		c.shutdown("server closing")
		s.handler.Disconnected(ep)
		return
	}
	s.conns[ep] = c
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()

	if err := c.enqueue([]byte{frameAccept}, transport.ReliableOrdered); err != nil {
		s.drop(ep, c, err.Error())
		return
	}
	s.handler.Connected(ep)
	s.readLoop(ep, c)
}

func (s *Server) readLoop(ep transport.Endpoint, c *conn) {
	for {
		_, msg, err := c.ws.ReadMessage()
		if err != nil {
			s.drop(ep, c, readReason(err))
			return
		}
		kind, payload, err := decodeFrame(msg)
		if err == nil {
			err = s.handler.HandleMessage(ep, kind, payload)
		}
		if err != nil {
			s.log.Error("dropping connection after handler error",
				slog.String("peer", ep.String()),
				slog.String("error", err.Error()),
			)
			s.drop(ep, c, err.Error())
			return
		}
	}
}

// drop closes c and reports the disconnection once.
func (s *Server) drop(ep transport.Endpoint, c *conn, reason string) {
	c.shutdown(reason)
	s.mu.Lock()
	current, ok := s.conns[ep]
	if ok && current == c {
		delete(s.conns, ep)
	}
	s.mu.Unlock()
	if ok && current == c {
		s.log.Debug("peer disconnected", slog.String("peer", ep.String()), slog.String("reason", reason))
		s.handler.Disconnected(ep)
	}
}

func (s *Server) conn(ep transport.Endpoint) (*conn, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conns[ep]
	return c, ok
}

func (s *Server) Send(to transport.Endpoint, kind transport.Kind, payload []byte, method transport.DeliveryMethod) error {
	c, ok := s.conn(to)
	if !ok {
		return fmt.Errorf("%w: %s", transport.ErrUnknownPeer, to)
	}
	return c.enqueue(encodeFrame(kind, payload), method)
}

// Disconnect closes the connection to ep with reason. The handler sees
// Disconnected once the read loop ends.
func (s *Server) Disconnect(ep transport.Endpoint, reason string) error {
	c, ok := s.conn(ep)
	if !ok {
		return fmt.Errorf("%w: %s", transport.ErrUnknownPeer, ep)
	}
	c.shutdown(reason)
	return nil
}

// Close disconnects every client and waits for their read loops to end.
func (s *Server) Close() {
	s.mu.Lock()
	s.closed = true
	conns := make([]*conn, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()
	for _, c := range conns {
		c.shutdown("server closing")
	}
	s.wg.Wait()
}
