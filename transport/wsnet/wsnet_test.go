package wsnet

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go-matchmaking/transport"
)

type message struct {
	ep      transport.Endpoint
	kind    transport.Kind
	payload string
}

type serverRecorder struct {
	reject       string
	connected    chan transport.Endpoint
	disconnected chan transport.Endpoint
	messages     chan message
}

func newServerRecorder() *serverRecorder {
	return &serverRecorder{
		connected:    make(chan transport.Endpoint, 4),
		disconnected: make(chan transport.Endpoint, 4),
		messages:     make(chan message, 16),
	}
}

func (r *serverRecorder) ApproveConnection(ep transport.Endpoint, hail []byte) error {
	if r.reject != "" {
		return errors.New(r.reject)
	}
	if string(hail) != "hello" {
		return errors.New("bad hail")
	}
	return nil
}

func (r *serverRecorder) Connected(ep transport.Endpoint)    { r.connected <- ep }
func (r *serverRecorder) Disconnected(ep transport.Endpoint) { r.disconnected <- ep }

func (r *serverRecorder) HandleMessage(ep transport.Endpoint, kind transport.Kind, payload []byte) error {
	r.messages <- message{ep: ep, kind: kind, payload: string(payload)}
	return nil
}

type clientRecorder struct {
	disconnected chan string
	messages     chan message
}

func newClientRecorder() *clientRecorder {
	return &clientRecorder{disconnected: make(chan string, 4), messages: make(chan message, 16)}
}

func (r *clientRecorder) Connected(transport.Endpoint) {}
func (r *clientRecorder) Disconnected(reason string)   { r.disconnected <- reason }
func (r *clientRecorder) HandleMessage(kind transport.Kind, payload []byte) error {
	r.messages <- message{kind: kind, payload: string(payload)}
	return nil
}

func recv[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timed out")
	}
	var zero T
	return zero
}

func startServer(t *testing.T, h transport.ServerHandler) (*Server, transport.Endpoint) {
	t.Helper()
	srv := NewServer(h, ServerConfig{})
	ts := httptest.NewServer(srv)
	t.Cleanup(func() {
		srv.Close()
		ts.Close()
	})
	ep, err := transport.ParseEndpoint(strings.TrimPrefix(ts.URL, "http://"))
	if err != nil {
		t.Fatal(err)
	}
	return srv, ep
}

func TestRoundTrip(t *testing.T) {
	sh := newServerRecorder()
	srv, ep := startServer(t, sh)

	ch := newClientRecorder()
	cl := NewClient(ch, ClientConfig{})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := cl.Connect(ctx, ep, []byte("hello")); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if !cl.Connected() {
		t.Fatal("client not connected")
	}
	peer := recv(t, sh.connected)

	if err := cl.Send(transport.KindSync, []byte("tick"), transport.ReliableOrdered); err != nil {
		t.Fatal(err)
	}
	if m := recv(t, sh.messages); m.kind != transport.KindSync || m.payload != "tick" || m.ep != peer {
		t.Errorf("server got %+v", m)
	}

	if err := srv.Send(peer, transport.KindData, []byte("tock"), transport.Unreliable); err != nil {
		t.Fatal(err)
	}
	if m := recv(t, ch.messages); m.kind != transport.KindData || m.payload != "tock" {
		t.Errorf("client got %+v", m)
	}

	if err := srv.Disconnect(peer, "kicked"); err != nil {
		t.Fatal(err)
	}
	if reason := recv(t, ch.disconnected); reason != "kicked" {
		t.Errorf("disconnect reason = %q", reason)
	}
	if got := recv(t, sh.disconnected); got != peer {
		t.Errorf("server disconnected %s", got)
	}
	if cl.Connected() {
		t.Error("client still connected")
	}
	if err := cl.Send(transport.KindData, nil, transport.ReliableOrdered); !errors.Is(err, transport.ErrNotConnected) {
		t.Errorf("Send after disconnect = %v", err)
	}
}

func TestRejectedHandshake(t *testing.T) {
	sh := newServerRecorder()
	sh.reject = "server full"
	_, ep := startServer(t, sh)

	cl := NewClient(newClientRecorder(), ClientConfig{})
	err := cl.Connect(context.Background(), ep, []byte("hello"))
	if !errors.Is(err, transport.ErrRejected) {
		t.Fatalf("Connect = %v, want ErrRejected", err)
	}
	if !strings.Contains(err.Error(), "server full") {
		t.Errorf("error %q lacks reason", err)
	}
	if cl.Connected() {
		t.Error("rejected client reports connected")
	}
}

func TestClientDisconnect(t *testing.T) {
	sh := newServerRecorder()
	_, ep := startServer(t, sh)
	cl := NewClient(newClientRecorder(), ClientConfig{})
	if err := cl.Connect(context.Background(), ep, []byte("hello")); err != nil {
		t.Fatal(err)
	}
	peer := recv(t, sh.connected)
	if err := cl.Disconnect(); err != nil {
		t.Fatal(err)
	}
	if got := recv(t, sh.disconnected); got != peer {
		t.Errorf("server disconnected %s, want %s", got, peer)
	}
}

func TestDecodeFrame(t *testing.T) {
	if _, _, err := decodeFrame(nil); err == nil {
		t.Error("empty frame accepted")
	}
	if _, _, err := decodeFrame([]byte{frameAccept}); err == nil {
		t.Error("accept frame decoded as payload")
	}
	kind, payload, err := decodeFrame(encodeFrame(transport.KindSync, []byte("x")))
	if err != nil || kind != transport.KindSync || string(payload) != "x" {
		t.Errorf("decode = %v %q %v", kind, payload, err)
	}
}

func TestEnqueueFullQueue(t *testing.T) {
	// No writer goroutine, so the queue never drains.
	cn := &conn{out: make(chan []byte, 1), done: make(chan struct{}), writeTimeout: time.Hour}
	if err := cn.enqueue([]byte{1}, transport.ReliableOrdered); err != nil {
		t.Fatal(err)
	}
	if err := cn.enqueue([]byte{2}, transport.Unreliable); err != nil {
		t.Errorf("droppable enqueue = %v, want nil", err)
	}

	start := time.Now()
	if err := cn.enqueue([]byte{3}, transport.ReliableOrdered); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("reliable enqueue = %v, want ErrQueueFull", err)
	}
	if time.Since(start) > time.Second {
		t.Error("reliable enqueue blocked on a full queue")
	}
	select {
	case <-cn.done:
	default:
		t.Fatal("connection not shut down")
	}
	if got := cn.closeReason(); got != ErrQueueFull.Error() {
		t.Errorf("close reason = %q", got)
	}
	if err := cn.enqueue([]byte{4}, transport.ReliableOrdered); !errors.Is(err, transport.ErrClosed) {
		t.Errorf("enqueue after shutdown = %v, want ErrClosed", err)
	}
}
