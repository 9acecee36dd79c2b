package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"go-matchmaking/transport"
)

type Client struct {
	net     *Network
	ep      transport.Endpoint
	handler transport.ClientHandler
	in      *inbox

	pollMu sync.Mutex

	mu     sync.Mutex
	server *Server
}

var (
	_ transport.ClientPeer = (*Client)(nil)
	_ transport.Discoverer = (*Client)(nil)
)

func (c *Client) Endpoint() transport.Endpoint { return c.ep }

// SetHandler replaces the handler. It must be called before Connect.
func (c *Client) SetHandler(h transport.ClientHandler) { c.handler = h }

func (c *Client) Connect(ctx context.Context, server transport.Endpoint, hail []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	if c.server != nil {
		c.mu.Unlock()
		return fmt.Errorf("memory: %s already connected", c.ep)
	}
	c.mu.Unlock()

	s, ok := c.net.server(server)
	if !ok {
		return fmt.Errorf("%w: no server at %s", transport.ErrNotConnected, server)
	}
	if err := s.accept(c, hail); err != nil {
		return err
	}
	c.mu.Lock()
	c.server = s
	c.mu.Unlock()
	c.in.push(frame{typ: frameConnected, from: server})
	return nil
}

func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.server != nil
}

func (c *Client) Disconnect() error {
	c.mu.Lock()
	s := c.server
	c.server = nil
	c.mu.Unlock()
	if s == nil {
		return transport.ErrNotConnected
	}
	s.clientLeft(c.ep, "client disconnected")
	c.in.push(frame{typ: frameDisconnected, reason: "client disconnected"})
	return nil
}

// dropped is called by the server side when it closes the connection.
func (c *Client) dropped(reason string) {
	c.mu.Lock()
	c.server = nil
	c.mu.Unlock()
	c.in.push(frame{typ: frameDisconnected, reason: reason})
}

func (c *Client) Send(kind transport.Kind, payload []byte, method transport.DeliveryMethod) error {
	c.mu.Lock()
	s := c.server
	c.mu.Unlock()
	if s == nil {
		return transport.ErrNotConnected
	}
	if c.net.drop(method) {
		return nil
	}
	s.in.push(frame{typ: frameData, from: c.ep, kind: kind, payload: append([]byte(nil), payload...)})
	return nil
}

func (c *Client) Discover(ctx context.Context, port int) ([]transport.Endpoint, error) {
	return c.net.Discover(ctx, port)
}

func (c *Client) Poll() int {
	c.pollMu.Lock()
	defer c.pollMu.Unlock()
	frames := c.in.drain()
	for _, f := range frames {
		switch f.typ {
		case frameConnected:
			c.handler.Connected(f.from)
		case frameDisconnected:
			c.handler.Disconnected(f.reason)
		case frameData:
			if err := c.handler.HandleMessage(f.kind, f.payload); err != nil {
				c.net.logger.Error("disconnecting after handler error",
					slog.String("peer", c.ep.String()),
					slog.String("error", err.Error()),
				)
				_ = c.Disconnect()
			}
		}
	}
	return len(frames)
}

func (c *Client) Run(ctx context.Context) {
	runLoop(ctx, c.in, c.Poll)
}
