package wsnet

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"go-matchmaking/transport"
)

type ClientConfig struct {
	Logger           *slog.Logger
	QueueLength      int
	WriteTimeout     time.Duration
	HandshakeTimeout time.Duration
	// Path is the HTTP path the server is mounted on. Defaults to "/".
	Path string
	// Secure dials wss:// instead of ws://.
	Secure bool
}

// Client is a transport.ClientPeer over a single WebSocket.
type Client struct {
	cfg     ClientConfig
	log     *slog.Logger
	handler transport.ClientHandler

	mu   sync.Mutex
	conn *conn
}

var _ transport.ClientPeer = (*Client)(nil)

func NewClient(h transport.ClientHandler, cfg ClientConfig) *Client {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if cfg.Path == "" {
		cfg.Path = "/"
	}
	return &Client{cfg: cfg, log: cfg.Logger, handler: h}
}

// SetHandler replaces the handler. It must be called before Connect.
func (c *Client) SetHandler(h transport.ClientHandler) { c.handler = h }

func (c *Client) url(server transport.Endpoint) string {
	scheme := "ws"
	if c.cfg.Secure {
		scheme = "wss"
	}
	return fmt.Sprintf("%s://%s%s", scheme, server, c.cfg.Path)
}

// Connect dials server, sends hail and waits for the accept frame.
func (c *Client) Connect(ctx context.Context, server transport.Endpoint, hail []byte) error {
	c.mu.Lock()
	busy := c.conn != nil
	c.mu.Unlock()
	if busy {
		return fmt.Errorf("wsnet: already connected")
	}

	dialer := websocket.Dialer{HandshakeTimeout: c.cfg.HandshakeTimeout}
	ws, _, err := dialer.DialContext(ctx, c.url(server), nil)
	if err != nil {
		return fmt.Errorf("%w: %v", transport.ErrNotConnected, err)
	}

	deadline := time.Now().Add(c.cfg.HandshakeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = ws.SetWriteDeadline(deadline)
	if err := ws.WriteMessage(websocket.BinaryMessage, hail); err != nil {
		ws.Close()
		return fmt.Errorf("%w: send hail: %v", transport.ErrNotConnected, err)
	}
	_ = ws.SetReadDeadline(deadline)
	_, msg, err := ws.ReadMessage()
	if err != nil {
		ws.Close()
		if _, ok := err.(*websocket.CloseError); ok {
			return fmt.Errorf("%w: %s", transport.ErrRejected, readReason(err))
		}
		return fmt.Errorf("%w: %v", transport.ErrNotConnected, err)
	}
	if len(msg) != 1 || msg[0] != frameAccept {
		ws.Close()
		return fmt.Errorf("%w: unexpected handshake reply", transport.ErrNotConnected)
	}
	_ = ws.SetReadDeadline(time.Time{})
	_ = ws.SetWriteDeadline(time.Time{})

	cn := newConn(ws, c.cfg.QueueLength, c.cfg.WriteTimeout)
	c.mu.Lock()
	c.conn = cn
	c.mu.Unlock()

	c.handler.Connected(server)
	go c.readLoop(cn)
	return nil
}

func (c *Client) readLoop(cn *conn) {
	for {
		_, msg, err := cn.ws.ReadMessage()
		if err != nil {
			reason := cn.closeReason()
			if reason == "" {
				reason = readReason(err)
			}
			c.drop(cn, reason)
			return
		}
		kind, payload, err := decodeFrame(msg)
		if err == nil {
			err = c.handler.HandleMessage(kind, payload)
		}
		if err != nil {
			c.log.Error("disconnecting after handler error", slog.String("error", err.Error()))
			cn.shutdown(err.Error())
		}
	}
}

func (c *Client) drop(cn *conn, reason string) {
	cn.shutdown(reason)
	c.mu.Lock()
	current := c.conn == cn
	if current {
		c.conn = nil
	}
	c.mu.Unlock()
	c.handler.Disconnected(reason)
}

func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Disconnect closes the socket. The handler sees Disconnected once the
// read loop ends.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	cn := c.conn
	c.conn = nil
	c.mu.Unlock()
	if cn == nil {
		return transport.ErrNotConnected
	}
	cn.shutdown("client disconnected")
	return nil
}

func (c *Client) Send(kind transport.Kind, payload []byte, method transport.DeliveryMethod) error {
	c.mu.Lock()
	cn := c.conn
	c.mu.Unlock()
	if cn == nil {
		return transport.ErrNotConnected
	}
	return cn.enqueue(encodeFrame(kind, payload), method)
}
