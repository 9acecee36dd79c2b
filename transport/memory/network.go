// Package memory is an in-process transport. Frames are queued per peer
// and handed to the peer's handler by Poll, or by Run on a long-running
// reader goroutine.
package memory

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"

	"go-matchmaking/transport"
)

type frameType uint8

const (
	frameConnected frameType = iota
	frameDisconnected
	frameData
)

type frame struct {
	typ     frameType
	from    transport.Endpoint
	kind    transport.Kind
	payload []byte
	reason  string
}

// inbox is a frame queue with a wake-up signal for Run.
type inbox struct {
	mu     sync.Mutex
	frames []frame
	notify chan struct{}
}

func newInbox() *inbox {
	return &inbox{notify: make(chan struct{}, 1)}
}

func (in *inbox) push(f frame) {
	in.mu.Lock()
	in.frames = append(in.frames, f)
	in.mu.Unlock()
	select {
	case in.notify <- struct{}{}:
	default:
	}
}

func (in *inbox) drain() []frame {
	in.mu.Lock()
	defer in.mu.Unlock()
	frames := in.frames
	in.frames = nil
	return frames
}

// Network connects memory servers and clients.
type Network struct {
	mu       sync.Mutex
	servers  map[transport.Endpoint]*Server
	clients  []*Client
	nextPort int
	logger   *slog.Logger

	// LossRate is the probability in [0,1] that an unreliable frame is
	// dropped.
	LossRate float64
}

func NewNetwork(logger *slog.Logger) *Network {
	if logger == nil {
		logger = slog.Default()
	}
	return &Network{
		servers:  make(map[transport.Endpoint]*Server),
		nextPort: 40000,
		logger:   logger,
	}
}

func (n *Network) drop(method transport.DeliveryMethod) bool {
	return method == transport.Unreliable && n.LossRate > 0 && rand.Float64() < n.LossRate
}

// Listen starts a server at ep.
func (n *Network) Listen(ep transport.Endpoint, h transport.ServerHandler) (*Server, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.servers[ep]; ok {
		return nil, fmt.Errorf("memory: %s already in use", ep)
	}
	s := &Server{
		net:     n,
		ep:      ep,
		handler: h,
		conns:   make(map[transport.Endpoint]*Client),
		in:      newInbox(),
	}
	n.servers[ep] = s
	return s, nil
}

// NewClient creates an unconnected client bound to a fresh port on
// address.
func (n *Network) NewClient(address string, h transport.ClientHandler) *Client {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.nextPort++
	c := &Client{
		net:     n,
		ep:      transport.Endpoint{Address: address, Port: n.nextPort},
		handler: h,
		in:      newInbox(),
	}
	n.clients = append(n.clients, c)
	return c
}

func (n *Network) server(ep transport.Endpoint) (*Server, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	s, ok := n.servers[ep]
	return s, ok
}

// Flush polls every peer until no frames are left in flight.
func (n *Network) Flush() {
	for range 1000 {
		n.mu.Lock()
		servers := make([]*Server, 0, len(n.servers))
		for _, s := range n.servers {
			servers = append(servers, s)
		}
		clients := append([]*Client(nil), n.clients...)
		n.mu.Unlock()

		handled := 0
		for _, s := range servers {
			handled += s.Poll()
		}
		for _, c := range clients {
			handled += c.Poll()
		}
		if handled == 0 {
			return
		}
	}
	n.logger.Warn("memory network did not settle")
}

// Discover lists the servers listening on port.
func (n *Network) Discover(ctx context.Context, port int) ([]transport.Endpoint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	var eps []transport.Endpoint
	for ep := range n.servers {
		if ep.Port == port {
			eps = append(eps, ep)
		}
	}
	return eps, nil
}

func runLoop(ctx context.Context, in *inbox, poll func() int) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-in.notify:
			poll()
		}
	}
}
