// Package transport defines the peer contract the matchmaking services are
// driven by. Implementations own the sockets and the reader loop; services
// only see endpoints, payloads and delivery methods.
package transport

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"net"
	"strconv"
)

var (
	ErrNotConnected = errors.New("transport: not connected")
	ErrClosed       = errors.New("transport: peer closed")
	ErrUnknownPeer  = errors.New("transport: unknown peer")
	ErrRejected     = errors.New("transport: connection rejected")
)

// DeliveryMethod is the reliability and ordering guarantee requested for a
// single message.
type DeliveryMethod uint8

const (
	Unreliable DeliveryMethod = iota
	ReliableUnordered
	// ReliableSequenced delivers reliably but lets newer messages
	// supersede older undelivered ones.
	ReliableSequenced
	ReliableOrdered
)

func (m DeliveryMethod) String() string {
	switch m {
	case Unreliable:
		return "unreliable"
	case ReliableUnordered:
		return "reliable-unordered"
	case ReliableSequenced:
		return "reliable-sequenced"
	case ReliableOrdered:
		return "reliable-ordered"
	}
	return fmt.Sprintf("DeliveryMethod(%d)", uint8(m))
}

// Reliable reports whether the method may never drop a message.
func (m DeliveryMethod) Reliable() bool {
	return m == ReliableUnordered || m == ReliableOrdered
}

// Kind separates ordinary matchmaking data from entity synchronization
// traffic sharing the same connection.
type Kind uint8

const (
	KindData Kind = iota
	KindSync
)

// Endpoint identifies a connected peer by address and port.
type Endpoint struct {
	Address string
	Port    int
}

func ParseEndpoint(hostport string) (Endpoint, error) {
	host, port, err := net.SplitHostPort(hostport)
	if err != nil {
		return Endpoint{}, fmt.Errorf("parse endpoint %q: %w", hostport, err)
	}
	p, err := strconv.Atoi(port)
	if err != nil {
		return Endpoint{}, fmt.Errorf("parse endpoint %q: %w", hostport, err)
	}
	return Endpoint{Address: host, Port: p}, nil
}

func (e Endpoint) String() string {
	return net.JoinHostPort(e.Address, strconv.Itoa(e.Port))
}

// Key derives the stable, strictly positive integer identifying the
// endpoint.
func (e Endpoint) Key() int32 {
	h := fnv.New32a()
	h.Write([]byte(e.String()))
	k := int32(h.Sum32() & 0x7fffffff)
	if k == 0 {
		k = 1
	}
	return k
}

// ServerHandler receives the events of a ServerPeer. HandleMessage runs on
// the peer's reader loop; an error is fatal to that connection.
type ServerHandler interface {
	// ApproveConnection validates a connection attempt and its hail
	// payload. A non-nil error rejects the connection.
	ApproveConnection(ep Endpoint, hail []byte) error
	Connected(ep Endpoint)
	Disconnected(ep Endpoint)
	HandleMessage(ep Endpoint, kind Kind, payload []byte) error
}

type ServerPeer interface {
	Send(to Endpoint, kind Kind, payload []byte, method DeliveryMethod) error
	Disconnect(ep Endpoint, reason string) error
}

// ClientHandler receives the events of a ClientPeer.
type ClientHandler interface {
	Connected(server Endpoint)
	Disconnected(reason string)
	HandleMessage(kind Kind, payload []byte) error
}

type ClientPeer interface {
	// Connect dials the server and sends hail with the attempt. It
	// returns once the server accepted or rejected the connection.
	Connect(ctx context.Context, server Endpoint, hail []byte) error
	Disconnect() error
	Send(kind Kind, payload []byte, method DeliveryMethod) error
	Connected() bool
}

// Discoverer is implemented by client peers able to find hosts on the
// local network.
type Discoverer interface {
	Discover(ctx context.Context, port int) ([]Endpoint, error)
}
