package events

import "testing"

func TestFeedSubscribe(t *testing.T) {
	var f Feed[int]
	var got []int
	cancel := f.Subscribe(func(v int) { got = append(got, v) })

	f.Emit(1)
	f.Emit(2)
	cancel()
	cancel()
	f.Emit(3)

	if len(got) != 2 || got[0] != 1 || got[1] != 2 {
		t.Errorf("got %v, want [1 2]", got)
	}
	if f.Len() != 0 {
		t.Errorf("Len = %d after cancel", f.Len())
	}
}

func TestFeedSubscribeChanDropsWhenFull(t *testing.T) {
	var f Feed[string]
	ch, cancel := f.SubscribeChan(1)

	f.Emit("a")
	f.Emit("b")

	if v := <-ch; v != "a" {
		t.Errorf("received %q, want a", v)
	}
	select {
	case v := <-ch:
		t.Errorf("unexpected value %q", v)
	default:
	}

	cancel()
	if _, ok := <-ch; ok {
		t.Error("channel not closed after cancel")
	}
}

func TestFeedSubscriberMayUnsubscribeDuringEmit(t *testing.T) {
	var f Feed[int]
	calls := 0
	var cancel func()
	cancel = f.Subscribe(func(int) {
		calls++
		cancel()
	})
	f.Emit(1)
	f.Emit(2)
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestFeedEmitsInSubscriptionOrder(t *testing.T) {
	var f Feed[int]
	var order []int
	cancels := make([]func(), 0, 8)
	for i := range 8 {
		cancels = append(cancels, f.Subscribe(func(int) { order = append(order, i) }))
	}
	cancels[3]()

	for range 5 {
		order = order[:0]
		f.Emit(0)
		want := []int{0, 1, 2, 4, 5, 6, 7}
		if len(order) != len(want) {
			t.Fatalf("order = %v, want %v", order, want)
		}
		for i := range want {
			if order[i] != want[i] {
				t.Fatalf("order = %v, want %v", order, want)
			}
		}
	}
}
