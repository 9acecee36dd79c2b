// Package events provides the subscription lists used for lifecycle
// notifications.
package events

import (
	"slices"
	"sync"
)

// Feed fans a value out to its subscribers in subscription order. Emit
// runs function subscribers synchronously on the caller's goroutine;
// channel subscribers get a non-blocking send and miss values while full.
type Feed[T any] struct {
	mu    sync.Mutex
	subs  []sub[T]
	chans []chanSub[T]
	id    int
}

type sub[T any] struct {
	id int
	fn func(T)
}

type chanSub[T any] struct {
	id int
	ch chan T
}

// Subscribe registers fn and returns a function that removes it.
func (f *Feed[T]) Subscribe(fn func(T)) (cancel func()) {
	f.mu.Lock()
	f.id++
	id := f.id
	f.subs = append(f.subs, sub[T]{id: id, fn: fn})
	f.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			f.subs = slices.DeleteFunc(f.subs, func(s sub[T]) bool { return s.id == id })
			f.mu.Unlock()
		})
	}
}

// SubscribeChan returns a buffered channel receiving emitted values. The
// channel is closed by cancel.
func (f *Feed[T]) SubscribeChan(buffer int) (<-chan T, func()) {
	ch := make(chan T, buffer)
	f.mu.Lock()
	f.id++
	id := f.id
	f.chans = append(f.chans, chanSub[T]{id: id, ch: ch})
	f.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			f.mu.Lock()
			f.chans = slices.DeleteFunc(f.chans, func(s chanSub[T]) bool { return s.id == id })
			f.mu.Unlock()
			close(ch)
		})
	}
}

func (f *Feed[T]) Emit(v T) {
	f.mu.Lock()
	subs := slices.Clone(f.subs)
	for _, s := range f.chans {
		select {
		case s.ch <- v:
		default:
		}
	}
	f.mu.Unlock()

	for _, s := range subs {
		s.fn(v)
	}
}

func (f *Feed[T]) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs) + len(f.chans)
}
