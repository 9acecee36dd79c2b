package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"go-matchmaking/transport"
)

type Server struct {
	net     *Network
	ep      transport.Endpoint
	handler transport.ServerHandler
	in      *inbox

	// pollMu serializes handler calls.
	pollMu sync.Mutex

	mu    sync.Mutex
	conns map[transport.Endpoint]*Client
}

var _ transport.ServerPeer = (*Server)(nil)

func (s *Server) Endpoint() transport.Endpoint { return s.ep }

func (s *Server) conn(ep transport.Endpoint) (*Client, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conns[ep]
	return c, ok
}

// accept runs the approval handshake for c.
func (s *Server) accept(c *Client, hail []byte) error {
	s.pollMu.Lock()
	err := s.handler.ApproveConnection(c.ep, hail)
	s.pollMu.Unlock()
	if err != nil {
		return fmt.Errorf("%w: %v", transport.ErrRejected, err)
	}
	s.mu.Lock()
	s.conns[c.ep] = c
	s.mu.Unlock()
	s.in.push(frame{typ: frameConnected, from: c.ep})
	return nil
}

func (s *Server) Send(to transport.Endpoint, kind transport.Kind, payload []byte, method transport.DeliveryMethod) error {
	c, ok := s.conn(to)
	if !ok {
		return fmt.Errorf("%w: %s", transport.ErrUnknownPeer, to)
	}
	if s.net.drop(method) {
		return nil
	}
	c.in.push(frame{typ: frameData, from: s.ep, kind: kind, payload: append([]byte(nil), payload...)})
	return nil
}

// Disconnect drops the connection to ep. Both sides observe the
// disconnection on their next poll.
func (s *Server) Disconnect(ep transport.Endpoint, reason string) error {
	s.mu.Lock()
	c, ok := s.conns[ep]
	delete(s.conns, ep)
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", transport.ErrUnknownPeer, ep)
	}
	c.dropped(reason)
	s.in.push(frame{typ: frameDisconnected, from: ep, reason: reason})
	return nil
}

// clientLeft is called when a connected client disconnects itself.
func (s *Server) clientLeft(ep transport.Endpoint, reason string) {
	s.mu.Lock()
	_, ok := s.conns[ep]
	delete(s.conns, ep)
	s.mu.Unlock()
	if ok {
		s.in.push(frame{typ: frameDisconnected, from: ep, reason: reason})
	}
}

// Poll hands queued frames to the handler and returns how many it handled.
func (s *Server) Poll() int {
	s.pollMu.Lock()
	defer s.pollMu.Unlock()
	frames := s.in.drain()
	for _, f := range frames {
		switch f.typ {
		case frameConnected:
			s.handler.Connected(f.from)
		case frameDisconnected:
			s.handler.Disconnected(f.from)
		case frameData:
			if _, ok := s.conn(f.from); !ok {
				continue
			}
			if err := s.handler.HandleMessage(f.from, f.kind, f.payload); err != nil {
				s.net.logger.Error("dropping connection after handler error",
					slog.String("peer", f.from.String()),
					slog.String("error", err.Error()),
				)
				_ = s.Disconnect(f.from, err.Error())
			}
		}
	}
	return len(frames)
}

// Run polls on every incoming frame until ctx is done.
func (s *Server) Run(ctx context.Context) {
	runLoop(ctx, s.in, s.Poll)
}

// Close disconnects every client and stops accepting new ones.
func (s *Server) Close() {
	s.net.mu.Lock()
	delete(s.net.servers, s.ep)
	s.net.mu.Unlock()

	s.mu.Lock()
	eps := make([]transport.Endpoint, 0, len(s.conns))
	for ep := range s.conns {
		eps = append(eps, ep)
	}
	s.mu.Unlock()
	for _, ep := range eps {
		_ = s.Disconnect(ep, "server closed")
	}
}
