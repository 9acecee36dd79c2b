package client

import (
	"context"
	"sync"

	"go-matchmaking/domain/protocol"
)

// RoomFuture resolves once with the outcome of a create or join request.
type RoomFuture struct {
	once   sync.Once
	done   chan struct{}
	result protocol.ResultCode
}

func newRoomFuture() *RoomFuture {
	return &RoomFuture{done: make(chan struct{})}
}

func (f *RoomFuture) resolve(code protocol.ResultCode) {
	f.once.Do(func() {
		f.result = code
		close(f.done)
	})
}

func (f *RoomFuture) Done() <-chan struct{} { return f.done }

// Result reports the outcome and whether the request has resolved.
func (f *RoomFuture) Result() (protocol.ResultCode, bool) {
	select {
	case <-f.done:
		return f.result, true
	default:
		return 0, false
	}
}

// Wait blocks until the request resolves or ctx ends. Abandoning the wait
// leaves the request outstanding.
func (f *RoomFuture) Wait(ctx context.Context) (protocol.ResultCode, error) {
	select {
	case <-f.done:
		return f.result, nil
	case <-ctx.Done():
		return protocol.Aborted, ctx.Err()
	}
}
