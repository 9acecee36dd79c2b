// Package wsnet carries the matchmaking transport over WebSocket
// connections. The first client message is the hail; the server answers
// with an accept frame or closes the socket with the rejection reason.
// Every later binary message starts with a frame tag.
package wsnet

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"go-matchmaking/transport"
)

const (
	frameData byte = iota
	frameSync
	frameAccept
)

const (
	DefaultQueueLength      = 256
	DefaultWriteTimeout     = 5 * time.Second
	DefaultHandshakeTimeout = 10 * time.Second
)

var ErrQueueFull = errors.New("wsnet: send queue full")

func encodeFrame(kind transport.Kind, payload []byte) []byte {
	tag := frameData
	if kind == transport.KindSync {
		tag = frameSync
	}
	out := make([]byte, 0, len(payload)+1)
	out = append(out, tag)
	return append(out, payload...)
}

func decodeFrame(msg []byte) (transport.Kind, []byte, error) {
	if len(msg) == 0 {
		return 0, nil, errors.New("wsnet: empty frame")
	}
	switch msg[0] {
	case frameData:
		return transport.KindData, msg[1:], nil
	case frameSync:
		return transport.KindSync, msg[1:], nil
	}
	return 0, nil, fmt.Errorf("wsnet: unexpected frame tag %d", msg[0])
}

// droppable reports whether a frame sent with m may be discarded under
// backpressure.
func droppable(m transport.DeliveryMethod) bool {
	return m == transport.Unreliable || m == transport.ReliableSequenced
}

// conn owns one socket. A single writer goroutine drains the queue.
type conn struct {
	ws           *websocket.Conn
	out          chan []byte
	done         chan struct{}
	writeTimeout time.Duration

	once   sync.Once
	mu     sync.Mutex
	reason string
}

func newConn(ws *websocket.Conn, queue int, writeTimeout time.Duration) *conn {
	if queue <= 0 {
		queue = DefaultQueueLength
	}
	if writeTimeout <= 0 {
		writeTimeout = DefaultWriteTimeout
	}
	c := &conn{
		ws:           ws,
		out:          make(chan []byte, queue),
		done:         make(chan struct{}),
		writeTimeout: writeTimeout,
	}
	go c.writeLoop()
	return c
}

// enqueue never blocks. A droppable frame is discarded when the queue is
// full; a reliable frame that does not fit closes the connection, since the
// peer can no longer be kept consistent.
func (c *conn) enqueue(frame []byte, method transport.DeliveryMethod) error {
	select {
	case <-c.done:
		return transport.ErrClosed
	default:
	}
	select {
	case c.out <- frame:
		return nil
	case <-c.done:
		return transport.ErrClosed
	default:
	}
	if droppable(method) {
		return nil
	}
	c.shutdown(ErrQueueFull.Error())
	return ErrQueueFull
}

// shutdown stops the writer, which sends a close frame carrying reason.
func (c *conn) shutdown(reason string) {
	c.once.Do(func() {
		c.mu.Lock()
		c.reason = reason
		c.mu.Unlock()
		close(c.done)
	})
}

func (c *conn) closeReason() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reason
}

func (c *conn) writeLoop() {
	defer c.ws.Close()
	for {
		select {
		case frame := <-c.out:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			if err := c.ws.WriteMessage(websocket.BinaryMessage, frame); err != nil {
				c.shutdown(err.Error())
				return
			}
		case <-c.done:
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, truncateReason(c.closeReason()))
			_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.writeTimeout))
			return
		}
	}
}

// truncateReason fits reason into a close frame.
func truncateReason(reason string) string {
	const max = 123
	if len(reason) > max {
		return reason[:max]
	}
	return reason
}

// readReason extracts the peer's close reason from a read error.
func readReason(err error) string {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		if ce.Text != "" {
			return ce.Text
		}
		return fmt.Sprintf("closed (%d)", ce.Code)
	}
	return err.Error()
}
